package engine

import (
	"context"

	"peerlend/services/lending/journal"
)

// Engine describes the operations required by the lending HTTP surface.
// Amounts are base-unit decimal strings and accounts are hex addresses. A
// negative maxMatches selects the implementation's default.
type Engine interface {
	Supply(ctx context.Context, addr, market, amount string, maxMatches int) (Receipt, error)
	Borrow(ctx context.Context, addr, market, amount string, maxMatches int) (Receipt, error)
	Withdraw(ctx context.Context, addr, market, amount string, maxMatches int) (Receipt, error)
	Repay(ctx context.Context, addr, market, amount string, maxMatches int) (Receipt, error)
	Liquidate(ctx context.Context, req LiquidationRequest) (Liquidation, error)

	UpdateIndexes(ctx context.Context, market string) (Indexes, error)
	Rebalance(ctx context.Context, market string, maxMatches int) (Receipt, error)
	IncreaseP2PDeltas(ctx context.Context, market, amount string) (string, error)
	Govern(ctx context.Context, market string, update GovernanceUpdate) (Market, error)

	GetMarket(ctx context.Context, market string) (Market, error)
	ListMarkets(ctx context.Context) ([]Market, error)
	GetPositions(ctx context.Context, addr string) ([]Position, error)
	GetHealth(ctx context.Context, addr string) (Health, error)
	GetCapacity(ctx context.Context, addr, market string) (Capacity, error)
	GetRanking(ctx context.Context, market, kind string, limit int) ([]RankingEntry, error)
	History(ctx context.Context, filter journal.Filter) ([]journal.Entry, error)
}

// LiquidationRequest names both markets of a liquidation. Strict rejects an
// amount above the close factor instead of clamping it.
type LiquidationRequest struct {
	Liquidator       string `json:"liquidator"`
	Borrower         string `json:"borrower"`
	BorrowedMarket   string `json:"borrowedMarket"`
	CollateralMarket string `json:"collateralMarket"`
	Amount           string `json:"amount"`
	MaxMatches       int    `json:"maxMatches"`
	Strict           bool   `json:"strict,omitempty"`
}

// Receipt reports the effect of a mutating call.
type Receipt struct {
	ID            string `json:"id"`
	Action        string `json:"action"`
	Market        string `json:"market"`
	Account       string `json:"account,omitempty"`
	Amount        string `json:"amount"`
	Matched       string `json:"matched"`
	Pool          string `json:"pool"`
	DeltaAbsorbed string `json:"deltaAbsorbed"`
	DeltaCreated  string `json:"deltaCreated"`
	Visited       int    `json:"visited"`
}

// Liquidation reports the two legs of a liquidation.
type Liquidation struct {
	ID               string  `json:"id"`
	Liquidator       string  `json:"liquidator"`
	Borrower         string  `json:"borrower"`
	BorrowedMarket   string  `json:"borrowedMarket"`
	CollateralMarket string  `json:"collateralMarket"`
	Repaid           string  `json:"repaid"`
	Seized           string  `json:"seized"`
	Repay            Receipt `json:"repay"`
	Seize            Receipt `json:"seize"`
}

// Indexes mirrors the ray scaled growth indexes of a market.
type Indexes struct {
	PoolSupply      string `json:"poolSupply"`
	PoolBorrow      string `json:"poolBorrow"`
	P2PSupply       string `json:"p2pSupply"`
	P2PBorrow       string `json:"p2pBorrow"`
	LastUpdateBlock uint64 `json:"lastUpdateBlock"`
}

// Deltas mirrors the delta ledger of a market.
type Deltas struct {
	SupplyDelta     string `json:"supplyDelta"`
	BorrowDelta     string `json:"borrowDelta"`
	P2PSupplyAmount string `json:"p2pSupplyAmount"`
	P2PBorrowAmount string `json:"p2pBorrowAmount"`
}

// Pauses lists the per-action switches of a market.
type Pauses struct {
	Supply    bool `json:"supply"`
	Borrow    bool `json:"borrow"`
	Withdraw  bool `json:"withdraw"`
	Repay     bool `json:"repay"`
	Liquidate bool `json:"liquidate"`
}

// Market is the public view of a market.
type Market struct {
	ID                      string  `json:"id"`
	Decimals                uint8   `json:"decimals"`
	LTVBps                  uint64  `json:"ltvBps"`
	LiquidationThresholdBps uint64  `json:"liquidationThresholdBps"`
	LiquidationBonusBps     uint64  `json:"liquidationBonusBps"`
	CloseFactorBps          uint64  `json:"closeFactorBps"`
	ReserveFactorBps        uint64  `json:"reserveFactorBps"`
	P2PIndexCursorBps       uint64  `json:"p2pIndexCursorBps"`
	MaxRankedSize           uint64  `json:"maxRankedSize"`
	Indexes                 Indexes `json:"indexes"`
	Deltas                  Deltas  `json:"deltas"`
	Reserve                 string  `json:"reserve"`
	Pauses                  Pauses  `json:"pauses"`
	Deprecated              bool    `json:"deprecated"`
	P2PDisabled             bool    `json:"p2pDisabled"`
}

// Position is one side of an account in one market, in underlying terms.
type Position struct {
	Market string `json:"market"`
	Side   string `json:"side"`
	OnPool string `json:"onPool"`
	InP2P  string `json:"inP2P"`
	Total  string `json:"total"`
}

// Health summarises the solvency of an account.
type Health struct {
	Account        string     `json:"account"`
	Collateral     string     `json:"collateral"`
	BorrowCapacity string     `json:"borrowCapacity"`
	Debt           string     `json:"debt"`
	HealthFactor   string     `json:"healthFactor"`
	Liquidatable   bool       `json:"liquidatable"`
	Positions      []Position `json:"positions"`
}

// Capacity reports how much more an account may borrow or withdraw.
type Capacity struct {
	Account         string `json:"account"`
	Market          string `json:"market"`
	MaxBorrowable   string `json:"maxBorrowable"`
	MaxWithdrawable string `json:"maxWithdrawable"`
}

// RankingEntry is one ranked account.
type RankingEntry struct {
	Account string `json:"account"`
	Balance string `json:"balance"`
}

// GovernanceUpdate changes the listed settings of a market. Nil fields are
// left untouched.
type GovernanceUpdate struct {
	ReserveFactorBps  *uint64 `json:"reserveFactorBps,omitempty"`
	P2PIndexCursorBps *uint64 `json:"p2pIndexCursorBps,omitempty"`
	MaxRankedSize     *uint64 `json:"maxRankedSize,omitempty"`
	Pauses            *Pauses `json:"pauses,omitempty"`
	Deprecated        *bool   `json:"deprecated,omitempty"`
	P2PDisabled       *bool   `json:"p2pDisabled,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u GovernanceUpdate) Empty() bool {
	return u.ReserveFactorBps == nil && u.P2PIndexCursorBps == nil && u.MaxRankedSize == nil &&
		u.Pauses == nil && u.Deprecated == nil && u.P2PDisabled == nil
}
