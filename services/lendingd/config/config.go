package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendLevelDB = "leveldb"
	BackendMemory  = "memory"
)

// Config captures the runtime settings for the lending service daemon.
type Config struct {
	Environment string                     `yaml:"environment"`
	HTTP        HTTPConfig                 `yaml:"http"`
	GRPCHealth  string                     `yaml:"grpc_health_listen"`
	TLS         TLSConfig                  `yaml:"tls"`
	Auth        AuthConfig                 `yaml:"auth"`
	RateLimits  map[string]RateLimitConfig `yaml:"rate_limits"`
	Storage     StorageConfig              `yaml:"storage"`
	Journal     JournalConfig              `yaml:"journal"`
	MarketsFile string                     `yaml:"markets_file"`
	Engine      EngineConfig               `yaml:"engine"`
	Logging     LoggingConfig              `yaml:"logging"`
	Telemetry   TelemetryConfig            `yaml:"telemetry"`
}

// HTTPConfig describes the JSON API listener.
type HTTPConfig struct {
	Listen            string        `yaml:"listen"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// TLSConfig describes the TLS material shared by both listeners.
type TLSConfig struct {
	CertPath      string `yaml:"cert"`
	KeyPath       string `yaml:"key"`
	AllowInsecure bool   `yaml:"allow_insecure"`
}

// AuthConfig configures bearer-token verification of mutating routes.
type AuthConfig struct {
	Enabled       bool          `yaml:"enabled"`
	HMACSecret    string        `yaml:"hmac_secret"`
	HMACSecretEnv string        `yaml:"hmac_secret_env"`
	Issuer        string        `yaml:"issuer"`
	Audience      string        `yaml:"audience"`
	ScopeClaim    string        `yaml:"scope_claim"`
	ClockSkew     time.Duration `yaml:"clock_skew"`
}

// RateLimitConfig bounds one route group per client.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// StorageConfig selects where engine state is persisted.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// JournalConfig points at the operation journal. An empty DSN disables it.
type JournalConfig struct {
	DSN string `yaml:"dsn"`
}

// EngineConfig tunes matching and the simulated pool clock.
type EngineConfig struct {
	DefaultMaxMatches int           `yaml:"default_max_matches"`
	AccrueInterval    time.Duration `yaml:"accrue_interval"`
	// Halted lists market symbols rejected at startup. "*" halts every market.
	Halted []string `yaml:"halted"`
}

// LoggingConfig mirrors logging.Options.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// TelemetryConfig configures the OTLP exporters.
type TelemetryConfig struct {
	Endpoint    string            `yaml:"endpoint"`
	Insecure    bool              `yaml:"insecure"`
	Headers     map[string]string `yaml:"headers"`
	SampleRatio float64           `yaml:"sample_ratio"`
	Metrics     bool              `yaml:"metrics"`
	Traces      bool              `yaml:"traces"`
}

// Default returns the settings used for keys absent from the file.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Listen:            ":8081",
			ReadHeaderTimeout: 5 * time.Second,
			RequestTimeout:    10 * time.Second,
			ShutdownTimeout:   5 * time.Second,
		},
		Storage:     StorageConfig{Backend: BackendLevelDB, Path: "./lending-data"},
		MarketsFile: "services/lendingd/markets.toml",
		Engine:      EngineConfig{DefaultMaxMatches: 16, AccrueInterval: 5 * time.Second},
		Logging:     LoggingConfig{Level: "info"},
	}
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	defaults := Default()
	cfg.Environment = strings.TrimSpace(cfg.Environment)
	cfg.HTTP.Listen = strings.TrimSpace(cfg.HTTP.Listen)
	if cfg.HTTP.Listen == "" {
		cfg.HTTP.Listen = defaults.HTTP.Listen
	}
	if cfg.HTTP.ReadHeaderTimeout <= 0 {
		cfg.HTTP.ReadHeaderTimeout = defaults.HTTP.ReadHeaderTimeout
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = defaults.HTTP.RequestTimeout
	}
	if cfg.HTTP.ShutdownTimeout <= 0 {
		cfg.HTTP.ShutdownTimeout = defaults.HTTP.ShutdownTimeout
	}
	cfg.GRPCHealth = strings.TrimSpace(cfg.GRPCHealth)
	cfg.TLS.normalize()
	cfg.Auth.normalize()
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = defaults.Storage.Backend
	}
	cfg.Storage.Path = strings.TrimSpace(cfg.Storage.Path)
	cfg.Journal.DSN = strings.TrimSpace(cfg.Journal.DSN)
	cfg.MarketsFile = strings.TrimSpace(cfg.MarketsFile)
	if cfg.MarketsFile == "" {
		cfg.MarketsFile = defaults.MarketsFile
	}
	if cfg.Engine.AccrueInterval < 0 {
		cfg.Engine.AccrueInterval = 0
	}
	halted := cfg.Engine.Halted[:0]
	for _, market := range cfg.Engine.Halted {
		if market = strings.ToUpper(strings.TrimSpace(market)); market != "" {
			halted = append(halted, market)
		}
	}
	cfg.Engine.Halted = halted
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Telemetry.Endpoint = strings.TrimSpace(cfg.Telemetry.Endpoint)
	normalized := make(map[string]RateLimitConfig, len(cfg.RateLimits))
	for group, limit := range cfg.RateLimits {
		normalized[strings.ToLower(strings.TrimSpace(group))] = limit
	}
	cfg.RateLimits = normalized
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if err := cfg.TLS.validate(); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	if err := cfg.Auth.validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	switch cfg.Storage.Backend {
	case BackendMemory:
	case BackendLevelDB:
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage: path required for the leveldb backend")
		}
	default:
		return fmt.Errorf("storage: unknown backend %q", cfg.Storage.Backend)
	}
	for group, limit := range cfg.RateLimits {
		switch group {
		case "read", "write", "admin":
		default:
			return fmt.Errorf("rate_limits: unknown group %q", group)
		}
		if limit.RequestsPerMinute <= 0 {
			return fmt.Errorf("rate_limits.%s: requests_per_minute must be positive", group)
		}
	}
	if cfg.Engine.DefaultMaxMatches < 0 {
		return fmt.Errorf("engine: default_max_matches must not be negative")
	}
	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging: unknown level %q", cfg.Logging.Level)
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sample_ratio must be within [0, 1]")
	}
	return nil
}

func (cfg *TLSConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.CertPath = strings.TrimSpace(cfg.CertPath)
	cfg.KeyPath = strings.TrimSpace(cfg.KeyPath)
}

func (cfg TLSConfig) validate() error {
	hasCert := cfg.CertPath != ""
	hasKey := cfg.KeyPath != ""
	if hasCert != hasKey {
		return fmt.Errorf("cert and key must either both be provided or both be empty")
	}
	if !cfg.AllowInsecure && !hasCert {
		return fmt.Errorf("cert and key are required unless allow_insecure=true")
	}
	return nil
}

// Enabled reports whether TLS material is configured.
func (cfg TLSConfig) Enabled() bool {
	return cfg.CertPath != "" && cfg.KeyPath != ""
}

func (cfg *AuthConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.HMACSecret = strings.TrimSpace(cfg.HMACSecret)
	cfg.HMACSecretEnv = strings.TrimSpace(cfg.HMACSecretEnv)
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	cfg.Audience = strings.TrimSpace(cfg.Audience)
	cfg.ScopeClaim = strings.TrimSpace(cfg.ScopeClaim)
	if cfg.HMACSecret == "" && cfg.HMACSecretEnv != "" {
		cfg.HMACSecret = strings.TrimSpace(os.Getenv(cfg.HMACSecretEnv))
	}
}

func (cfg AuthConfig) validate() error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.HMACSecret == "" {
		if cfg.HMACSecretEnv != "" {
			return fmt.Errorf("environment variable %s is empty", cfg.HMACSecretEnv)
		}
		return fmt.Errorf("hmac_secret or hmac_secret_env required when auth is enabled")
	}
	if len(cfg.HMACSecret) < 32 {
		return fmt.Errorf("hmac secret must be at least 32 bytes")
	}
	return nil
}
