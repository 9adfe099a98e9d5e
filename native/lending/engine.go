package lending

import (
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "peerlend/native/common"
	"peerlend/native/lending/ranking"
)

// ModuleName scopes the engine in a nativecommon.PauseView.
const ModuleName = "lending"

// Engine matches suppliers and borrowers of the same asset peer-to-peer and
// routes whatever cannot be matched to the underlying pool. It is not safe for
// concurrent use; every call must run to completion before the next starts.
type Engine struct {
	pool        Pool
	oracle      Oracle
	persister   Persister
	pauses      nativecommon.PauseView
	logger      *slog.Logger
	blockHeight uint64

	markets  map[string]*marketState
	rankings *ranking.Store
}

// NewEngine constructs an engine on top of the given pool and oracle.
func NewEngine(pool Pool, oracle Oracle) *Engine {
	return &Engine{
		pool:     pool,
		oracle:   oracle,
		markets:  make(map[string]*marketState),
		rankings: ranking.NewStore(int(DefaultMarketParams().MaxRankedSize)),
	}
}

// SetPersister wires the engine to the external persistence layer.
func (e *Engine) SetPersister(p Persister) { e.persister = p }

// SetPauses installs the view consulted for module and market pauses.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetLogger configures the logger used for delta and rollback events.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if e == nil {
		return
	}
	e.logger = logger
}

// SetBlockHeight records the block height stamped on index refreshes.
func (e *Engine) SetBlockHeight(height uint64) {
	if e == nil {
		return
	}
	e.blockHeight = height
}

func (e *Engine) log() *slog.Logger {
	if e != nil && e.logger != nil {
		return e.logger
	}
	return slog.Default()
}

// NormalizeMarket canonicalises a market symbol.
func NormalizeMarket(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

func (e *Engine) refreshIndexes(market *Market) (Indexes, error) {
	if e.pool == nil {
		return Indexes{}, ErrPoolNotConfigured
	}
	supply, err := e.pool.SupplyIndex(market.ID)
	if err != nil {
		return Indexes{}, fmt.Errorf("lending engine: pool supply index %s: %w", market.ID, err)
	}
	borrow, err := e.pool.BorrowIndex(market.ID)
	if err != nil {
		return Indexes{}, fmt.Errorf("lending engine: pool borrow index %s: %w", market.ID, err)
	}
	if supply == nil || supply.Sign() <= 0 || borrow == nil || borrow.Sign() <= 0 {
		return Indexes{}, fmt.Errorf("lending engine: pool reported empty index for %s", market.ID)
	}
	return computeIndexes(market.Indexes, market.Deltas, market.Params, supply, borrow, e.blockHeight), nil
}

// CreateMarket registers a market for asset id. Indexes start at the pool's
// current values on the pool side and at one ray on the P2P side.
func (e *Engine) CreateMarket(id string, params MarketParams) (*Market, error) {
	id = NormalizeMarket(id)
	if id == "" {
		return nil, fmt.Errorf("%w: empty market symbol", ErrInvalidParams)
	}
	if _, ok := e.markets[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketExists, id)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if e.pool == nil {
		return nil, ErrPoolNotConfigured
	}
	supply, err := e.pool.SupplyIndex(id)
	if err != nil {
		return nil, fmt.Errorf("lending engine: pool supply index %s: %w", id, err)
	}
	borrow, err := e.pool.BorrowIndex(id)
	if err != nil {
		return nil, fmt.Errorf("lending engine: pool borrow index %s: %w", id, err)
	}
	if supply == nil || supply.Sign() <= 0 || borrow == nil || borrow.Sign() <= 0 {
		return nil, fmt.Errorf("lending engine: pool reported empty index for %s", id)
	}
	market := &Market{
		ID:     id,
		Params: params,
		Indexes: Indexes{
			PoolSupply:      new(big.Int).Set(supply),
			PoolBorrow:      new(big.Int).Set(borrow),
			P2PSupply:       Ray(),
			P2PBorrow:       Ray(),
			LastUpdateBlock: e.blockHeight,
		},
		Deltas: Deltas{
			SupplyDelta:     new(big.Int),
			BorrowDelta:     new(big.Int),
			P2PSupplyAmount: new(big.Int),
			P2PBorrowAmount: new(big.Int),
		},
	}
	if e.persister != nil {
		if err := e.persister.Commit([]*Market{market}, nil); err != nil {
			return nil, fmt.Errorf("lending engine: persist: %w", err)
		}
	}
	e.markets[id] = newMarketState(market)
	e.rankings.SetCapacity(id, int(params.MaxRankedSize))
	return market.Clone(), nil
}

// Restore replaces the engine state with previously persisted records and
// rebuilds every ranking from the positions.
func (e *Engine) Restore(markets []*Market, positions []PositionRecord) error {
	states := make(map[string]*marketState, len(markets))
	for _, market := range markets {
		if market == nil {
			continue
		}
		states[market.ID] = newMarketState(market.Clone())
	}
	for _, record := range positions {
		state, ok := states[record.Market]
		if !ok {
			return fmt.Errorf("%w: %s", ErrMarketNotCreated, record.Market)
		}
		if record.Position.IsZero() || record.Side > SideBorrow {
			continue
		}
		state.positions[record.Side][record.Account] = record.Position.Clone()
	}

	rankings := ranking.NewStore(int(DefaultMarketParams().MaxRankedSize))
	ids := make([]string, 0, len(states))
	for id := range states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		state := states[id]
		rankings.SetCapacity(id, int(state.market.Params.MaxRankedSize))
		for _, side := range []Side{SideSupply, SideBorrow} {
			for _, account := range sortedAccounts(state.positions[side]) {
				pos := state.positions[side][account]
				rankings.Upsert(id, side.onPoolKind(), account, pos.OnPool)
				rankings.Upsert(id, side.inP2PKind(), account, pos.InP2P)
			}
		}
	}
	e.markets = states
	e.rankings = rankings
	return nil
}

func sortedAccounts(positions map[common.Address]*Position) []common.Address {
	out := make([]common.Address, 0, len(positions))
	for account := range positions {
		out = append(out, account)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.Compare(out[i].Hex(), out[j].Hex()) < 0
	})
	return out
}

// precheck validates the inputs shared by every user operation.
func (e *Engine) precheck(id string, account common.Address, amount *big.Int, action Action) (string, error) {
	id = NormalizeMarket(id)
	if amount == nil || amount.Sign() <= 0 {
		return id, ErrAmountZero
	}
	if account == (common.Address{}) {
		return id, ErrUnknownAccount
	}
	state, ok := e.markets[id]
	if !ok {
		return id, fmt.Errorf("%w: %s", ErrMarketNotCreated, id)
	}
	if err := nativecommon.Guard(e.pauses, ModuleName, id); err != nil {
		return id, fmt.Errorf("%w: %w", ErrMarketPaused, err)
	}
	if state.market.Pauses.Paused(action) {
		return id, fmt.Errorf("%w: %s %s", ErrMarketPaused, action, id)
	}
	if state.market.Deprecated && (action == ActionSupply || action == ActionBorrow) {
		return id, fmt.Errorf("%w: %s", ErrMarketDeprecated, id)
	}
	return id, nil
}

// Supply credits amount to the supply position of account, matching it with
// on-pool borrowers first and depositing the rest in the pool.
func (e *Engine) Supply(market string, account common.Address, amount *big.Int, maxMatches int) (*Receipt, error) {
	id, err := e.precheck(market, account, amount, ActionSupply)
	if err != nil {
		return nil, err
	}
	tx := e.begin()
	m, err := tx.market(id)
	if err != nil {
		return nil, err
	}
	receipt := newReceipt(string(ActionSupply), id, account)
	e.supplyLogic(tx, m, account, amount, maxMatches, receipt)
	if err := tx.commit(); err != nil {
		return nil, err
	}
	return receipt, nil
}

func (e *Engine) supplyLogic(tx *txn, m *marketTx, account common.Address, amount *big.Int, maxMatches int, r *Receipt) {
	remaining := new(big.Int).Set(amount)
	toP2P := new(big.Int)
	r.Amount.Set(amount)

	if matchingEnabled(m, maxMatches) {
		budget := newMatchBudget(maxMatches)
		absorbed := m.ledger().consume(SideBorrow, remaining)
		toP2P.Add(toP2P, absorbed)
		remaining.Sub(remaining, absorbed)
		r.DeltaAbsorbed.Add(r.DeltaAbsorbed, absorbed)

		matched := e.promote(m, SideBorrow, remaining, budget, r)
		toP2P.Add(toP2P, matched)
		remaining.Sub(remaining, matched)
	}

	pos := m.mutable(account, SideSupply)
	if toP2P.Sign() > 0 {
		units := rayDiv(toP2P, m.p2pIndex(SideSupply))
		pos.InP2P = new(big.Int).Add(pos.InP2P, units)
		m.addP2PAmount(SideSupply, units)
		tx.pool(poolRepay, m.id(), toP2P)
	}
	if remaining.Sign() > 0 {
		pos.OnPool = new(big.Int).Add(pos.OnPool, rayDiv(remaining, m.poolIndex(SideSupply)))
		tx.pool(poolDeposit, m.id(), remaining)
	}
	r.Matched.Set(toP2P)
	r.Pool.Set(remaining)
}

// Borrow opens debt for account, taking liquidity from on-pool suppliers
// first and borrowing the rest from the pool. The account must stay within
// its loan-to-value capacity.
func (e *Engine) Borrow(market string, account common.Address, amount *big.Int, maxMatches int) (*Receipt, error) {
	id, err := e.precheck(market, account, amount, ActionBorrow)
	if err != nil {
		return nil, err
	}
	tx := e.begin()
	m, err := tx.market(id)
	if err != nil {
		return nil, err
	}
	receipt := newReceipt(string(ActionBorrow), id, account)
	e.borrowLogic(tx, m, account, amount, maxMatches, receipt)
	if err := e.requireCapacity(tx, account); err != nil {
		return nil, err
	}
	if err := tx.commit(); err != nil {
		return nil, err
	}
	return receipt, nil
}

func (e *Engine) borrowLogic(tx *txn, m *marketTx, account common.Address, amount *big.Int, maxMatches int, r *Receipt) {
	remaining := new(big.Int).Set(amount)
	toP2P := new(big.Int)
	r.Amount.Set(amount)

	if matchingEnabled(m, maxMatches) {
		budget := newMatchBudget(maxMatches)
		absorbed := m.ledger().consume(SideSupply, remaining)
		toP2P.Add(toP2P, absorbed)
		remaining.Sub(remaining, absorbed)
		r.DeltaAbsorbed.Add(r.DeltaAbsorbed, absorbed)

		matched := e.promote(m, SideSupply, remaining, budget, r)
		toP2P.Add(toP2P, matched)
		remaining.Sub(remaining, matched)
	}

	pos := m.mutable(account, SideBorrow)
	if toP2P.Sign() > 0 {
		units := rayDiv(toP2P, m.p2pIndex(SideBorrow))
		pos.InP2P = new(big.Int).Add(pos.InP2P, units)
		m.addP2PAmount(SideBorrow, units)
		tx.pool(poolWithdraw, m.id(), toP2P)
	}
	if remaining.Sign() > 0 {
		pos.OnPool = new(big.Int).Add(pos.OnPool, rayDiv(remaining, m.poolIndex(SideBorrow)))
		tx.pool(poolBorrow, m.id(), remaining)
	}
	r.Matched.Set(toP2P)
	r.Pool.Set(remaining)
}

// Withdraw returns amount of supplied liquidity to account. On-pool supply is
// used first; P2P supply is replaced by on-pool suppliers, then unmatched
// from P2P borrowers, and any shortfall becomes borrow delta.
func (e *Engine) Withdraw(market string, account common.Address, amount *big.Int, maxMatches int) (*Receipt, error) {
	id, err := e.precheck(market, account, amount, ActionWithdraw)
	if err != nil {
		return nil, err
	}
	tx := e.begin()
	m, err := tx.market(id)
	if err != nil {
		return nil, err
	}
	receipt := newReceipt(string(ActionWithdraw), id, account)
	if err := e.withdrawLogic(tx, m, account, amount, maxMatches, receipt); err != nil {
		return nil, err
	}
	if err := e.requireCapacity(tx, account); err != nil {
		return nil, err
	}
	if err := tx.commit(); err != nil {
		return nil, err
	}
	return receipt, nil
}

func (e *Engine) withdrawLogic(tx *txn, m *marketTx, account common.Address, amount *big.Int, maxMatches int, r *Receipt) error {
	balance := m.value(account, SideSupply)
	if balance.Total.Sign() == 0 {
		return fmt.Errorf("%w: no supply in %s", ErrUnknownAccount, m.id())
	}
	if amount.Cmp(balance.Total) > 0 {
		return fmt.Errorf("%w: withdraw %s exceeds supplied %s", ErrInsufficientLiquidity, amount, balance.Total)
	}
	r.Amount.Set(amount)

	pos := m.mutable(account, SideSupply)
	remaining := new(big.Int).Set(amount)
	toWithdraw := new(big.Int)

	if pos.OnPool.Sign() > 0 {
		poolIndex := m.poolIndex(SideSupply)
		taken := minBig(remaining, rayMul(pos.OnPool, poolIndex))
		pos.OnPool = zeroFloorSub(pos.OnPool, toUnitsUp(taken, poolIndex, pos.OnPool))
		toWithdraw.Add(toWithdraw, taken)
		remaining.Sub(remaining, taken)
	}
	r.Pool.Set(toWithdraw)
	if remaining.Sign() == 0 {
		tx.pool(poolWithdraw, m.id(), toWithdraw)
		return nil
	}

	left := toUnitsUp(remaining, m.p2pIndex(SideSupply), pos.InP2P)
	pos.InP2P = zeroFloorSub(pos.InP2P, left)
	m.subP2PAmount(SideSupply, left)
	r.Matched.Set(remaining)

	enabled := matchingEnabled(m, maxMatches)
	budget := newMatchBudget(maxMatches)
	if enabled {
		absorbed := m.ledger().consume(SideSupply, remaining)
		toWithdraw.Add(toWithdraw, absorbed)
		remaining.Sub(remaining, absorbed)
		r.DeltaAbsorbed.Add(r.DeltaAbsorbed, absorbed)
		matched := e.promote(m, SideSupply, remaining, budget, r)
		toWithdraw.Add(toWithdraw, matched)
		remaining.Sub(remaining, matched)
	}
	tx.pool(poolWithdraw, m.id(), toWithdraw)

	if remaining.Sign() > 0 {
		unmatched := new(big.Int)
		if enabled {
			unmatched = e.demote(m, SideBorrow, remaining, budget, r)
		}
		if shortfall := new(big.Int).Sub(remaining, unmatched); shortfall.Sign() > 0 {
			m.ledger().increase(SideBorrow, shortfall)
			r.DeltaCreated.Add(r.DeltaCreated, shortfall)
			e.log().Debug("lending borrow delta increased", "market", m.id(), "amount", shortfall.String())
		}
		tx.pool(poolBorrow, m.id(), remaining)
	}
	return nil
}

// Repay reduces the debt of account by amount, clamped to the outstanding
// debt. On-pool debt is repaid first; P2P debt is replaced by on-pool
// borrowers, then unmatched from P2P suppliers, and any shortfall becomes
// supply delta.
func (e *Engine) Repay(market string, account common.Address, amount *big.Int, maxMatches int) (*Receipt, error) {
	id, err := e.precheck(market, account, amount, ActionRepay)
	if err != nil {
		return nil, err
	}
	tx := e.begin()
	m, err := tx.market(id)
	if err != nil {
		return nil, err
	}
	receipt := newReceipt(string(ActionRepay), id, account)
	if err := e.repayLogic(tx, m, account, amount, maxMatches, receipt); err != nil {
		return nil, err
	}
	if err := tx.commit(); err != nil {
		return nil, err
	}
	return receipt, nil
}

func (e *Engine) repayLogic(tx *txn, m *marketTx, account common.Address, amount *big.Int, maxMatches int, r *Receipt) error {
	debt := m.value(account, SideBorrow)
	if debt.Total.Sign() == 0 {
		return fmt.Errorf("%w: %s", ErrNoDebt, m.id())
	}
	repay := minBig(amount, debt.Total)
	r.Amount.Set(repay)

	pos := m.mutable(account, SideBorrow)
	remaining := new(big.Int).Set(repay)
	toRepay := new(big.Int)

	if pos.OnPool.Sign() > 0 {
		poolIndex := m.poolIndex(SideBorrow)
		taken := minBig(remaining, rayMul(pos.OnPool, poolIndex))
		pos.OnPool = zeroFloorSub(pos.OnPool, toUnits(taken, poolIndex, pos.OnPool))
		toRepay.Add(toRepay, taken)
		remaining.Sub(remaining, taken)
	}
	r.Pool.Set(toRepay)
	if remaining.Sign() == 0 {
		tx.pool(poolRepay, m.id(), toRepay)
		return nil
	}

	left := toUnits(remaining, m.p2pIndex(SideBorrow), pos.InP2P)
	pos.InP2P = zeroFloorSub(pos.InP2P, left)
	m.subP2PAmount(SideBorrow, left)
	r.Matched.Set(remaining)

	enabled := matchingEnabled(m, maxMatches)
	budget := newMatchBudget(maxMatches)
	if enabled {
		absorbed := m.ledger().consume(SideBorrow, remaining)
		toRepay.Add(toRepay, absorbed)
		remaining.Sub(remaining, absorbed)
		r.DeltaAbsorbed.Add(r.DeltaAbsorbed, absorbed)
		matched := e.promote(m, SideBorrow, remaining, budget, r)
		toRepay.Add(toRepay, matched)
		remaining.Sub(remaining, matched)
	}
	tx.pool(poolRepay, m.id(), toRepay)

	if remaining.Sign() > 0 {
		unmatched := new(big.Int)
		if enabled {
			unmatched = e.demote(m, SideSupply, remaining, budget, r)
		}
		if shortfall := new(big.Int).Sub(remaining, unmatched); shortfall.Sign() > 0 {
			m.ledger().increase(SideSupply, shortfall)
			r.DeltaCreated.Add(r.DeltaCreated, shortfall)
			e.log().Debug("lending supply delta increased", "market", m.id(), "amount", shortfall.String())
		}
		tx.pool(poolDeposit, m.id(), remaining)
	}
	return nil
}

// UpdateIndexes brings the P2P indexes of market up to date with the pool.
func (e *Engine) UpdateIndexes(market string) (Indexes, error) {
	id := NormalizeMarket(market)
	tx := e.begin()
	m, err := tx.market(id)
	if err != nil {
		return Indexes{}, err
	}
	if err := tx.commit(); err != nil {
		return Indexes{}, err
	}
	return m.market.Indexes.Clone(), nil
}

// IncreaseP2PDeltas moves up to amount of matched notional of both sides onto
// the pool, supplying and borrowing it there. It returns the amount moved.
func (e *Engine) IncreaseP2PDeltas(market string, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrAmountZero
	}
	tx := e.begin()
	m, err := tx.market(NormalizeMarket(market))
	if err != nil {
		return nil, err
	}
	ledger := m.ledger()
	supplyMatched := zeroFloorSub(rayMul(m.market.Deltas.P2PSupplyAmount, m.p2pIndex(SideSupply)), ledger.outstanding(SideSupply))
	borrowMatched := zeroFloorSub(rayMul(m.market.Deltas.P2PBorrowAmount, m.p2pIndex(SideBorrow)), ledger.outstanding(SideBorrow))
	moved := minBig(amount, minBig(supplyMatched, borrowMatched))
	if moved.Sign() == 0 {
		return moved, nil
	}
	ledger.increase(SideSupply, moved)
	ledger.increase(SideBorrow, moved)
	tx.pool(poolDeposit, m.id(), moved)
	tx.pool(poolBorrow, m.id(), moved)
	if err := tx.commit(); err != nil {
		return nil, err
	}
	return moved, nil
}

// Rebalance migrates outstanding deltas back into matches by promoting
// on-pool accounts of the opposite side, visiting at most maxMatches
// counter-parties.
func (e *Engine) Rebalance(market string, maxMatches int) (*Receipt, error) {
	id := NormalizeMarket(market)
	if err := nativecommon.Guard(e.pauses, ModuleName, id); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMarketPaused, err)
	}
	tx := e.begin()
	m, err := tx.market(id)
	if err != nil {
		return nil, err
	}
	receipt := newReceipt("rebalance", id, common.Address{})
	if matchingEnabled(m, maxMatches) {
		budget := newMatchBudget(maxMatches)
		ledger := m.ledger()

		// Supply delta: P2P supply waiting for borrowers.
		if outstanding := ledger.outstanding(SideSupply); outstanding.Sign() > 0 {
			matched := e.promote(m, SideBorrow, outstanding, budget, receipt)
			if matched.Sign() > 0 {
				ledger.consume(SideSupply, matched)
				tx.pool(poolWithdraw, id, matched)
				tx.pool(poolRepay, id, matched)
				receipt.DeltaAbsorbed.Add(receipt.DeltaAbsorbed, matched)
			}
		}
		// Borrow delta: P2P borrow waiting for suppliers.
		if outstanding := ledger.outstanding(SideBorrow); outstanding.Sign() > 0 {
			matched := e.promote(m, SideSupply, outstanding, budget, receipt)
			if matched.Sign() > 0 {
				ledger.consume(SideBorrow, matched)
				tx.pool(poolWithdraw, id, matched)
				tx.pool(poolRepay, id, matched)
				receipt.DeltaAbsorbed.Add(receipt.DeltaAbsorbed, matched)
			}
		}
		receipt.Matched.Set(receipt.DeltaAbsorbed)
		receipt.Amount.Set(receipt.DeltaAbsorbed)
	}
	if err := tx.commit(); err != nil {
		return nil, err
	}
	return receipt, nil
}

// mutateMarket refreshes the indexes of market under its current parameters
// and then applies fn before committing.
func (e *Engine) mutateMarket(market string, fn func(*Market) error) (*Market, error) {
	tx := e.begin()
	m, err := tx.market(NormalizeMarket(market))
	if err != nil {
		return nil, err
	}
	if err := fn(m.market); err != nil {
		return nil, err
	}
	if err := m.market.Params.Validate(); err != nil {
		return nil, err
	}
	if err := tx.commit(); err != nil {
		return nil, err
	}
	return m.market.Clone(), nil
}

// SetReserveFactor updates the reserve factor of market.
func (e *Engine) SetReserveFactor(market string, bps uint64) (*Market, error) {
	return e.mutateMarket(market, func(m *Market) error {
		m.Params.ReserveFactorBps = bps
		return nil
	})
}

// SetP2PIndexCursor updates the P2P index cursor of market.
func (e *Engine) SetP2PIndexCursor(market string, bps uint64) (*Market, error) {
	return e.mutateMarket(market, func(m *Market) error {
		m.Params.P2PIndexCursorBps = bps
		return nil
	})
}

// SetMaxRankedSize resizes every ranking of market.
func (e *Engine) SetMaxRankedSize(market string, size uint64) (*Market, error) {
	updated, err := e.mutateMarket(market, func(m *Market) error {
		m.Params.MaxRankedSize = size
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.rankings.SetCapacity(updated.ID, int(size))
	return updated, nil
}

// SetMarketPauses replaces the per-action pause switches of market.
func (e *Engine) SetMarketPauses(market string, pauses ActionPauses) (*Market, error) {
	return e.mutateMarket(market, func(m *Market) error {
		m.Pauses = pauses
		return nil
	})
}

// SetDeprecated flags market as deprecated. Deprecated markets reject supply
// and borrow, and their debt is liquidatable in full.
func (e *Engine) SetDeprecated(market string, deprecated bool) (*Market, error) {
	return e.mutateMarket(market, func(m *Market) error {
		if deprecated && !m.Pauses.Borrow {
			return ErrDeprecateUnpaused
		}
		m.Deprecated = deprecated
		return nil
	})
}

// SetP2PDisabled toggles peer-to-peer matching for market.
func (e *Engine) SetP2PDisabled(market string, disabled bool) (*Market, error) {
	return e.mutateMarket(market, func(m *Market) error {
		m.P2PDisabled = disabled
		return nil
	})
}
