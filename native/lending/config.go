package lending

import (
	"fmt"
	"strings"
)

// MarketConfig captures the bootstrap configuration of one market.
type MarketConfig struct {
	Symbol                  string `toml:"Symbol"`
	Decimals                *uint8 `toml:"Decimals"`
	LTVBps                  uint64 `toml:"LTVBps"`
	LiquidationThresholdBps uint64 `toml:"LiquidationThresholdBps"`
	LiquidationBonusBps     uint64 `toml:"LiquidationBonusBps"`
	CloseFactorBps          uint64 `toml:"CloseFactorBps"`
	ReserveFactorBps        uint64 `toml:"ReserveFactorBps"`
	P2PIndexCursorBps       uint64 `toml:"P2PIndexCursorBps"`
	MaxRankedSize           uint64 `toml:"MaxRankedSize"`
	P2PDisabled             bool   `toml:"P2PDisabled"`
}

// Params resolves the configured parameters, falling back to
// DefaultMarketParams for the fields that must never be zero.
func (c MarketConfig) Params() (MarketParams, error) {
	defaults := DefaultMarketParams()
	params := MarketParams{
		Decimals:                defaults.Decimals,
		LTVBps:                  c.LTVBps,
		LiquidationThresholdBps: c.LiquidationThresholdBps,
		LiquidationBonusBps:     c.LiquidationBonusBps,
		CloseFactorBps:          c.CloseFactorBps,
		ReserveFactorBps:        c.ReserveFactorBps,
		P2PIndexCursorBps:       c.P2PIndexCursorBps,
		MaxRankedSize:           c.MaxRankedSize,
	}
	if c.Decimals != nil {
		params.Decimals = *c.Decimals
	}
	if params.CloseFactorBps == 0 {
		params.CloseFactorBps = defaults.CloseFactorBps
	}
	if params.MaxRankedSize == 0 {
		params.MaxRankedSize = defaults.MaxRankedSize
	}
	if err := params.Validate(); err != nil {
		return MarketParams{}, fmt.Errorf("market %s: %w", strings.TrimSpace(c.Symbol), err)
	}
	return params, nil
}

// Bootstrap creates every configured market that does not exist yet.
func (e *Engine) Bootstrap(markets []MarketConfig) error {
	for _, cfg := range markets {
		id := NormalizeMarket(cfg.Symbol)
		if _, ok := e.markets[id]; ok {
			continue
		}
		params, err := cfg.Params()
		if err != nil {
			return err
		}
		if _, err := e.CreateMarket(id, params); err != nil {
			return err
		}
		if cfg.P2PDisabled {
			if _, err := e.SetP2PDisabled(id, true); err != nil {
				return err
			}
		}
	}
	return nil
}
