package lending

import "fmt"

// MarketParams groups the governance controlled settings of a market. Ratios
// are expressed in basis points.
type MarketParams struct {
	// Decimals is the number of decimals of the underlying asset.
	Decimals uint8
	// LTVBps bounds how much may be borrowed against the market's supply.
	LTVBps uint64
	// LiquidationThresholdBps weights the supply when computing health.
	// Zero removes the market from collateral entirely.
	LiquidationThresholdBps uint64
	// LiquidationBonusBps is the seize multiplier; 10_800 pays liquidators an
	// 8% premium.
	LiquidationBonusBps uint64
	// CloseFactorBps caps the share of a debt repayable in one liquidation.
	CloseFactorBps uint64
	// ReserveFactorBps is the share of the P2P spread kept by the protocol.
	ReserveFactorBps uint64
	// P2PIndexCursorBps positions the P2P rate between the pool supply rate
	// (0) and the pool borrow rate (10_000).
	P2PIndexCursorBps uint64
	// MaxRankedSize bounds every ranking of the market.
	MaxRankedSize uint64
}

// DefaultMarketParams returns conservative defaults for an 18 decimal asset.
func DefaultMarketParams() MarketParams {
	return MarketParams{
		Decimals:                18,
		LTVBps:                  7_500,
		LiquidationThresholdBps: 8_000,
		LiquidationBonusBps:     10_500,
		CloseFactorBps:          5_000,
		ReserveFactorBps:        1_000,
		P2PIndexCursorBps:       3_333,
		MaxRankedSize:           64,
	}
}

// Validate checks the parameter ranges.
func (p MarketParams) Validate() error {
	switch {
	case p.LTVBps > 10_000:
		return fmt.Errorf("%w: ltv %d exceeds 10000", ErrInvalidParams, p.LTVBps)
	case p.LiquidationThresholdBps > 10_000:
		return fmt.Errorf("%w: liquidation threshold %d exceeds 10000", ErrInvalidParams, p.LiquidationThresholdBps)
	case p.LTVBps > p.LiquidationThresholdBps:
		return fmt.Errorf("%w: ltv above liquidation threshold", ErrInvalidParams)
	case p.LiquidationBonusBps != 0 && p.LiquidationBonusBps < 10_000:
		return fmt.Errorf("%w: liquidation bonus %d below 10000", ErrInvalidParams, p.LiquidationBonusBps)
	case p.CloseFactorBps == 0 || p.CloseFactorBps > 10_000:
		return fmt.Errorf("%w: close factor %d out of range", ErrInvalidParams, p.CloseFactorBps)
	case p.ReserveFactorBps > 10_000:
		return fmt.Errorf("%w: reserve factor %d exceeds 10000", ErrInvalidParams, p.ReserveFactorBps)
	case p.P2PIndexCursorBps > 10_000:
		return fmt.Errorf("%w: p2p index cursor %d exceeds 10000", ErrInvalidParams, p.P2PIndexCursorBps)
	case p.MaxRankedSize == 0:
		return fmt.Errorf("%w: max ranked size must be positive", ErrInvalidParams)
	case p.Decimals > 36:
		return fmt.Errorf("%w: decimals %d out of range", ErrInvalidParams, p.Decimals)
	}
	return nil
}

// bonusBps returns the liquidation bonus, treating zero as no premium.
func (p MarketParams) bonusBps() uint64 {
	if p.LiquidationBonusBps == 0 {
		return 10_000
	}
	return p.LiquidationBonusBps
}

// Action names a user facing flow of the engine.
type Action string

const (
	ActionSupply    Action = "supply"
	ActionBorrow    Action = "borrow"
	ActionWithdraw  Action = "withdraw"
	ActionRepay     Action = "repay"
	ActionLiquidate Action = "liquidate"
)

// ActionPauses exposes fine-grained switches for pausing individual lending flows.
type ActionPauses struct {
	Supply    bool
	Borrow    bool
	Withdraw  bool
	Repay     bool
	Liquidate bool
}

// Paused reports whether action is switched off.
func (p ActionPauses) Paused(action Action) bool {
	switch action {
	case ActionSupply:
		return p.Supply
	case ActionBorrow:
		return p.Borrow
	case ActionWithdraw:
		return p.Withdraw
	case ActionRepay:
		return p.Repay
	case ActionLiquidate:
		return p.Liquidate
	default:
		return false
	}
}

// All pauses every action.
func (p ActionPauses) All() ActionPauses {
	return ActionPauses{Supply: true, Borrow: true, Withdraw: true, Repay: true, Liquidate: true}
}
