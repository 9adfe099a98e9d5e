package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTOML(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "markets.toml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const sample = `BlocksPerAccrual = 12

[pool]
BaseRate = 0.01
Slope1 = 0.1
Slope2 = 0.5
Kink = 0.9
ReserveFactorBps = 500

[[markets]]
Symbol = " dai "
LTVBps = 7500
LiquidationThresholdBps = 8000
LiquidationBonusBps = 10500
ReserveFactorBps = 1000
P2PIndexCursorBps = 5000

[[markets]]
Symbol = "usdc"
Decimals = 6
LTVBps = 8000
LiquidationThresholdBps = 8500
LiquidationBonusBps = 10400
P2PDisabled = true

[prices]
dai = "1"
USDC = "0.9995"

[seed]
DAI = "1000000000000000000000"
`

func TestLoadParsesMarkets(t *testing.T) {
	cfg, err := Load(writeTOML(t, sample))
	require.NoError(t, err)
	require.Equal(t, uint64(12), cfg.BlocksPerAccrual)
	require.Equal(t, 0.9, cfg.Pool.Kink)
	require.Len(t, cfg.Markets, 2)
	require.Equal(t, "DAI", cfg.Markets[0].Symbol)
	require.Equal(t, "USDC", cfg.Markets[1].Symbol)
	require.True(t, cfg.Markets[1].P2PDisabled)
	require.NotNil(t, cfg.Markets[1].Decimals)
	require.Equal(t, uint8(6), *cfg.Markets[1].Decimals)
	require.Equal(t, "0.9995", cfg.Prices["USDC"])
	require.Equal(t, "1", cfg.Prices["DAI"])

	params, err := cfg.Markets[0].Params()
	require.NoError(t, err)
	require.Equal(t, uint64(5_000), params.P2PIndexCursorBps)

	model := cfg.Pool.RateModel()
	require.Equal(t, uint64(500), model.ReserveFactorBps)
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "markets.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Markets, 2)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected default config to be written: %v", err)
	}

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Prices, reloaded.Prices)
	require.Equal(t, cfg.Pool, reloaded.Pool)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeTOML(t, "ListenAddress = \":6001\"\n"+sample))
	if err == nil || !strings.Contains(err.Error(), "ListenAddress") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestValidateConfig(t *testing.T) {
	cases := map[string]func(*Config){
		"missing price":   func(c *Config) { delete(c.Prices, "ETH") },
		"zero price":      func(c *Config) { c.Prices["ETH"] = "0" },
		"bad price":       func(c *Config) { c.Prices["ETH"] = "abc" },
		"duplicate":       func(c *Config) { c.Markets = append(c.Markets, c.Markets[0]) },
		"no markets":      func(c *Config) { c.Markets = nil },
		"bad kink":        func(c *Config) { c.Pool.Kink = 1 },
		"negative rate":   func(c *Config) { c.Pool.Slope1 = -0.1 },
		"unknown seed":    func(c *Config) { c.Seed["BTC"] = "1" },
		"negative seed":   func(c *Config) { c.Seed["DAI"] = "-1" },
		"bad ltv":         func(c *Config) { c.Markets[0].LTVBps = 9_000 },
		"missing symbol":  func(c *Config) { c.Markets[0].Symbol = "" },
		"reserve too big": func(c *Config) { c.Pool.ReserveFactorBps = 10_001 },
	}
	require.NoError(t, ValidateConfig(Default()))
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			if err := ValidateConfig(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvP2PDisabled, "true")
	t.Setenv(EnvPricePrefix+"ETH", "1850.25")
	t.Setenv(EnvBlocksPerAccrual, "30")
	cfg := Default()
	require.NoError(t, ApplyEnv(cfg))
	for _, market := range cfg.Markets {
		require.True(t, market.P2PDisabled)
	}
	require.Equal(t, "1850.25", cfg.Prices["ETH"])
	require.Equal(t, uint64(30), cfg.BlocksPerAccrual)

	t.Setenv(EnvBlocksPerAccrual, "zero")
	require.Error(t, ApplyEnv(Default()))
}

func TestBoolFromEnvFallsBack(t *testing.T) {
	t.Setenv(EnvP2PDisabled, "maybe")
	require.False(t, boolFromEnv(EnvP2PDisabled, false))
	require.True(t, boolFromEnv("PEERLEND_UNSET_FLAG", true))
}
