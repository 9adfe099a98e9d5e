// Package config loads the market and simulation settings of the lending
// daemon from TOML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"peerlend/native/lending"
)

// Config lists the markets to bootstrap and the simulated pool they run on.
type Config struct {
	// BlocksPerAccrual is how many blocks the simulated pool advances on
	// every accrual tick.
	BlocksPerAccrual uint64                 `toml:"BlocksPerAccrual"`
	Pool             Pool                   `toml:"pool"`
	Markets          []lending.MarketConfig `toml:"markets"`
	// Prices maps a market symbol to its decimal price, e.g. "2000.5".
	Prices map[string]string `toml:"prices"`
	// Seed maps a market symbol to external pool liquidity in base units.
	Seed map[string]string `toml:"seed"`
}

// Load reads the configuration at path, creating a default file when none
// exists. Environment overrides are applied before validation.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg, err = createDefault(path)
		if err != nil {
			return nil, err
		}
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, key := range undecoded {
				keys = append(keys, key.String())
			}
			return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
		}
	}
	cfg.normalize()
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg.BlocksPerAccrual == 0 {
		cfg.BlocksPerAccrual = 1
	}
	cfg.Pool.normalize()
	for i := range cfg.Markets {
		cfg.Markets[i].Symbol = lending.NormalizeMarket(cfg.Markets[i].Symbol)
	}
	cfg.Prices = upperKeys(cfg.Prices)
	cfg.Seed = upperKeys(cfg.Seed)
}

func upperKeys(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for key, value := range in {
		out[lending.NormalizeMarket(key)] = strings.TrimSpace(value)
	}
	return out
}

// Default returns a two market configuration suitable for local runs.
func Default() *Config {
	return &Config{
		BlocksPerAccrual: 1,
		Pool:             DefaultPool(),
		Markets: []lending.MarketConfig{
			{Symbol: "DAI", LTVBps: 7_500, LiquidationThresholdBps: 8_000, LiquidationBonusBps: 10_500, ReserveFactorBps: 1_000, P2PIndexCursorBps: 3_333},
			{Symbol: "ETH", LTVBps: 8_000, LiquidationThresholdBps: 8_250, LiquidationBonusBps: 10_500, ReserveFactorBps: 1_500, P2PIndexCursorBps: 3_333},
		},
		Prices: map[string]string{"DAI": "1", "ETH": "2000"},
		Seed:   map[string]string{"DAI": "1000000000000000000000000", "ETH": "500000000000000000000"},
	}
}

// createDefault writes and returns the default configuration.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
