package lending

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"peerlend/native/lending/ranking"
)

// Side distinguishes supply positions from borrow positions.
type Side uint8

const (
	SideSupply Side = iota
	SideBorrow
)

func (s Side) String() string {
	switch s {
	case SideSupply:
		return "supply"
	case SideBorrow:
		return "borrow"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

// ParseSide resolves "supply" or "borrow".
func ParseSide(value string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "supply":
		return SideSupply, nil
	case "borrow":
		return SideBorrow, nil
	default:
		return 0, fmt.Errorf("lending: unknown side %q", value)
	}
}

func (s Side) onPoolKind() ranking.Kind {
	if s == SideBorrow {
		return ranking.BorrowerOnPool
	}
	return ranking.SupplierOnPool
}

func (s Side) inP2PKind() ranking.Kind {
	if s == SideBorrow {
		return ranking.BorrowerInP2P
	}
	return ranking.SupplierInP2P
}

// Indexes holds the four growth indexes of a market in ray precision.
type Indexes struct {
	// PoolSupply is the last observed supply index of the underlying pool.
	PoolSupply *big.Int
	// PoolBorrow is the last observed borrow index of the underlying pool.
	PoolBorrow *big.Int
	// P2PSupply converts supplier P2P units to underlying.
	P2PSupply *big.Int
	// P2PBorrow converts borrower P2P units to underlying.
	P2PBorrow *big.Int
	// LastUpdateBlock records the block height of the last refresh.
	LastUpdateBlock uint64
}

// Clone returns a deep copy of the indexes.
func (i Indexes) Clone() Indexes {
	return Indexes{
		PoolSupply:      cloneBig(i.PoolSupply),
		PoolBorrow:      cloneBig(i.PoolBorrow),
		P2PSupply:       cloneBig(i.P2PSupply),
		P2PBorrow:       cloneBig(i.P2PBorrow),
		LastUpdateBlock: i.LastUpdateBlock,
	}
}

// Deltas tracks matched notional that is parked on the pool together with the
// P2P totals used to weight it during index updates.
type Deltas struct {
	// SupplyDelta is P2P supply without a borrower, in pool supply units.
	SupplyDelta *big.Int
	// BorrowDelta is P2P borrow without a supplier, in pool borrow units.
	BorrowDelta *big.Int
	// P2PSupplyAmount is the total supplier P2P balance in P2P supply units.
	P2PSupplyAmount *big.Int
	// P2PBorrowAmount is the total borrower P2P balance in P2P borrow units.
	P2PBorrowAmount *big.Int
}

// Clone returns a deep copy of the deltas.
func (d Deltas) Clone() Deltas {
	return Deltas{
		SupplyDelta:     cloneBig(d.SupplyDelta),
		BorrowDelta:     cloneBig(d.BorrowDelta),
		P2PSupplyAmount: cloneBig(d.P2PSupplyAmount),
		P2PBorrowAmount: cloneBig(d.P2PBorrowAmount),
	}
}

// Market is the full per-asset state of the matching engine.
type Market struct {
	// ID is the asset symbol the market is keyed by.
	ID         string
	Params     MarketParams
	Indexes    Indexes
	Deltas     Deltas
	Pauses     ActionPauses
	Deprecated bool
	// P2PDisabled routes every operation straight to the pool.
	P2PDisabled bool
}

// Clone returns a deep copy of the market.
func (m *Market) Clone() *Market {
	if m == nil {
		return nil
	}
	return &Market{
		ID:          m.ID,
		Params:      m.Params,
		Indexes:     m.Indexes.Clone(),
		Deltas:      m.Deltas.Clone(),
		Pauses:      m.Pauses,
		Deprecated:  m.Deprecated,
		P2PDisabled: m.P2PDisabled,
	}
}

// Position is one side of an account's exposure to a market.
type Position struct {
	// OnPool is denominated in pool units of the side.
	OnPool *big.Int
	// InP2P is denominated in P2P units of the side.
	InP2P *big.Int
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return &Position{OnPool: new(big.Int), InP2P: new(big.Int)}
	}
	return &Position{OnPool: cloneBig(p.OnPool), InP2P: cloneBig(p.InP2P)}
}

// IsZero reports whether both balances are empty.
func (p *Position) IsZero() bool {
	return p == nil || (bigOrZero(p.OnPool).Sign() == 0 && bigOrZero(p.InP2P).Sign() == 0)
}

// PositionRecord addresses a position for persistence and restore.
type PositionRecord struct {
	Market   string
	Account  common.Address
	Side     Side
	Position *Position
}

// Balances expresses a position in underlying terms.
type Balances struct {
	OnPool *big.Int `json:"onPool"`
	InP2P  *big.Int `json:"inP2P"`
	Total  *big.Int `json:"total"`
}

// Receipt summarises the effect of a mutating operation.
type Receipt struct {
	Action  string
	Market  string
	Account common.Address
	// Amount is the amount actually processed after clamping.
	Amount *big.Int
	// Matched is the underlying amount placed or kept peer-to-peer.
	Matched *big.Int
	// Pool is the underlying amount routed to or from the pool.
	Pool *big.Int
	// DeltaAbsorbed is the underlying amount taken out of a delta.
	DeltaAbsorbed *big.Int
	// DeltaCreated is the underlying amount added to a delta.
	DeltaCreated *big.Int
	// Visited counts counter-parties inspected by the matching loop.
	Visited int
}

func newReceipt(action, market string, account common.Address) *Receipt {
	return &Receipt{
		Action:        action,
		Market:        market,
		Account:       account,
		Amount:        new(big.Int),
		Matched:       new(big.Int),
		Pool:          new(big.Int),
		DeltaAbsorbed: new(big.Int),
		DeltaCreated:  new(big.Int),
	}
}

// LiquidationReceipt captures the result of a liquidation.
type LiquidationReceipt struct {
	Liquidator       common.Address
	Borrower         common.Address
	BorrowedMarket   string
	CollateralMarket string
	Repaid           *big.Int
	Seized           *big.Int
	Repay            *Receipt
	Seize            *Receipt
}
