package config

import (
	"fmt"
	"math/big"

	"peerlend/native/lending/pool"
)

// ValidateConfig checks market parameters, prices and seed amounts.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	p := cfg.Pool
	if p.BaseRate < 0 || p.Slope1 < 0 || p.Slope2 < 0 {
		return fmt.Errorf("pool: rates must not be negative")
	}
	if p.Kink <= 0 || p.Kink >= 1 {
		return fmt.Errorf("pool: kink must be within (0, 1)")
	}
	if p.ReserveFactorBps > 10_000 {
		return fmt.Errorf("pool: reserve factor above 10000 bps")
	}
	if len(cfg.Markets) == 0 {
		return fmt.Errorf("markets: at least one market must be configured")
	}
	seen := make(map[string]struct{}, len(cfg.Markets))
	for _, market := range cfg.Markets {
		if market.Symbol == "" {
			return fmt.Errorf("markets: symbol required")
		}
		if _, dup := seen[market.Symbol]; dup {
			return fmt.Errorf("markets: duplicate symbol %s", market.Symbol)
		}
		seen[market.Symbol] = struct{}{}
		if _, err := market.Params(); err != nil {
			return fmt.Errorf("markets: %w", err)
		}
		raw, ok := cfg.Prices[market.Symbol]
		if !ok {
			return fmt.Errorf("prices: missing price for %s", market.Symbol)
		}
		price, err := pool.ParsePrice(raw)
		if err != nil {
			return fmt.Errorf("prices: %s: %w", market.Symbol, err)
		}
		if price.Sign() == 0 {
			return fmt.Errorf("prices: %s: price must be positive", market.Symbol)
		}
	}
	for symbol, raw := range cfg.Seed {
		if _, ok := seen[symbol]; !ok {
			return fmt.Errorf("seed: unknown market %s", symbol)
		}
		if _, err := SeedAmount(raw); err != nil {
			return fmt.Errorf("seed: %s: %w", symbol, err)
		}
	}
	return nil
}

// SeedAmount parses a base-unit seed amount.
func SeedAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}
