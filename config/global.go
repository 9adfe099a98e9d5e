package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Environment overrides.
const (
	// EnvP2PDisabled forces every market to route straight to the pool.
	EnvP2PDisabled = "PEERLEND_P2P_DISABLED"
	// EnvPricePrefix followed by a symbol overrides that market's price,
	// e.g. PEERLEND_PRICE_ETH=1850.
	EnvPricePrefix = "PEERLEND_PRICE_"
	// EnvBlocksPerAccrual overrides BlocksPerAccrual.
	EnvBlocksPerAccrual = "PEERLEND_BLOCKS_PER_ACCRUAL"
)

// ApplyEnv overlays environment overrides onto cfg.
func ApplyEnv(cfg *Config) error {
	if boolFromEnv(EnvP2PDisabled, false) {
		for i := range cfg.Markets {
			cfg.Markets[i].P2PDisabled = true
		}
	}
	if cfg.Prices == nil {
		cfg.Prices = make(map[string]string)
	}
	for _, market := range cfg.Markets {
		if price := stringFromEnv(EnvPricePrefix+market.Symbol, ""); price != "" {
			cfg.Prices[market.Symbol] = price
		}
	}
	if raw := stringFromEnv(EnvBlocksPerAccrual, ""); raw != "" {
		blocks, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || blocks == 0 {
			return fmt.Errorf("invalid %s %q", EnvBlocksPerAccrual, raw)
		}
		cfg.BlocksPerAccrual = blocks
	}
	return nil
}

func stringFromEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func boolFromEnv(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}
