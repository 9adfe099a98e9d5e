package lending

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// marketState is the committed state of one market.
type marketState struct {
	market    *Market
	positions [2]map[common.Address]*Position
}

func newMarketState(market *Market) *marketState {
	return &marketState{
		market: market,
		positions: [2]map[common.Address]*Position{
			make(map[common.Address]*Position),
			make(map[common.Address]*Position),
		},
	}
}

type positionKey struct {
	account common.Address
	side    Side
}

// marketTx is the working copy of a market inside a pending operation.
type marketTx struct {
	state     *marketState
	market    *Market
	positions map[positionKey]*Position
	touched   []positionKey
}

func (m *marketTx) id() string { return m.market.ID }

func (m *marketTx) ledger() deltaLedger {
	return deltaLedger{deltas: &m.market.Deltas, indexes: &m.market.Indexes}
}

func (m *marketTx) poolIndex(side Side) *big.Int {
	if side == SideBorrow {
		return m.market.Indexes.PoolBorrow
	}
	return m.market.Indexes.PoolSupply
}

func (m *marketTx) p2pIndex(side Side) *big.Int {
	if side == SideBorrow {
		return m.market.Indexes.P2PBorrow
	}
	return m.market.Indexes.P2PSupply
}

// p2pAmount returns a pointer to the P2P total of side.
func (m *marketTx) p2pAmount(side Side) **big.Int {
	if side == SideBorrow {
		return &m.market.Deltas.P2PBorrowAmount
	}
	return &m.market.Deltas.P2PSupplyAmount
}

func (m *marketTx) addP2PAmount(side Side, units *big.Int) {
	total := m.p2pAmount(side)
	*total = new(big.Int).Add(bigOrZero(*total), units)
}

func (m *marketTx) subP2PAmount(side Side, units *big.Int) {
	total := m.p2pAmount(side)
	*total = zeroFloorSub(*total, units)
}

// view returns the current balances of a position without marking it as
// modified. The result must not be mutated.
func (m *marketTx) view(account common.Address, side Side) *Position {
	if pos, ok := m.positions[positionKey{account, side}]; ok {
		return pos
	}
	if pos, ok := m.state.positions[side][account]; ok {
		return pos
	}
	return &Position{OnPool: new(big.Int), InP2P: new(big.Int)}
}

// mutable returns a working copy of the position that is written back on
// commit.
func (m *marketTx) mutable(account common.Address, side Side) *Position {
	key := positionKey{account, side}
	if pos, ok := m.positions[key]; ok {
		return pos
	}
	pos := m.state.positions[side][account].Clone()
	m.positions[key] = pos
	m.touched = append(m.touched, key)
	return pos
}

// value returns the underlying value of a position.
func (m *marketTx) value(account common.Address, side Side) Balances {
	pos := m.view(account, side)
	onPool := rayMul(pos.OnPool, m.poolIndex(side))
	inP2P := rayMul(pos.InP2P, m.p2pIndex(side))
	return Balances{OnPool: onPool, InP2P: inP2P, Total: new(big.Int).Add(onPool, inP2P)}
}

func (m *marketTx) hasPosition(account common.Address) bool {
	return !m.view(account, SideSupply).IsZero() || !m.view(account, SideBorrow).IsZero()
}

type poolOp uint8

const (
	poolDeposit poolOp = iota
	poolWithdraw
	poolBorrow
	poolRepay
)

func (op poolOp) String() string {
	switch op {
	case poolDeposit:
		return "deposit"
	case poolWithdraw:
		return "withdraw"
	case poolBorrow:
		return "borrow"
	default:
		return "repay"
	}
}

func (op poolOp) inverse() poolOp {
	switch op {
	case poolDeposit:
		return poolWithdraw
	case poolWithdraw:
		return poolDeposit
	case poolBorrow:
		return poolRepay
	default:
		return poolBorrow
	}
}

type poolCall struct {
	op     poolOp
	market string
	amount *big.Int
}

// txn collects the effects of one public operation. Nothing is visible
// outside the txn until commit succeeds.
type txn struct {
	e       *Engine
	markets map[string]*marketTx
	order   []string
	calls   []poolCall
}

func (e *Engine) begin() *txn {
	return &txn{e: e, markets: make(map[string]*marketTx)}
}

// market loads a market into the txn, bringing its indexes up to date with
// the pool on first access.
func (t *txn) market(id string) (*marketTx, error) {
	if m, ok := t.markets[id]; ok {
		return m, nil
	}
	state, ok := t.e.markets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotCreated, id)
	}
	indexes, err := t.e.refreshIndexes(state.market)
	if err != nil {
		return nil, err
	}
	working := state.market.Clone()
	working.Indexes = indexes
	m := &marketTx{state: state, market: working, positions: make(map[positionKey]*Position)}
	t.markets[id] = m
	t.order = append(t.order, id)
	return m, nil
}

// pool queues an adapter call executed during commit.
func (t *txn) pool(op poolOp, market string, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	t.calls = append(t.calls, poolCall{op: op, market: market, amount: new(big.Int).Set(amount)})
}

func (t *txn) invoke(call poolCall) error {
	pool := t.e.pool
	switch call.op {
	case poolDeposit:
		return pool.Deposit(call.market, call.amount)
	case poolWithdraw:
		return pool.Withdraw(call.market, call.amount)
	case poolBorrow:
		return pool.Borrow(call.market, call.amount)
	default:
		return pool.Repay(call.market, call.amount)
	}
}

// rollback reverses executed pool calls, newest first.
func (t *txn) rollback(executed []poolCall) error {
	var errs []error
	for i := len(executed) - 1; i >= 0; i-- {
		call := executed[i]
		call.op = call.op.inverse()
		if err := t.invoke(call); err != nil {
			errs = append(errs, fmt.Errorf("undo pool %s %s: %w", executed[i].op, call.market, err))
		}
	}
	return errors.Join(errs...)
}

func (t *txn) execute() ([]poolCall, error) {
	if len(t.calls) > 0 && t.e.pool == nil {
		return nil, ErrPoolNotConfigured
	}
	executed := make([]poolCall, 0, len(t.calls))
	for _, call := range t.calls {
		if err := t.invoke(call); err != nil {
			wrapped := fmt.Errorf("lending engine: pool %s %s: %w", call.op, call.market, err)
			if call.op == poolWithdraw || call.op == poolBorrow {
				wrapped = fmt.Errorf("%w: pool %s %s: %w", ErrInsufficientLiquidity, call.op, call.market, err)
			}
			if undoErr := t.rollback(executed); undoErr != nil {
				t.e.log().Error("lending pool rollback failed", "error", undoErr)
				return nil, errors.Join(wrapped, undoErr)
			}
			return nil, wrapped
		}
		executed = append(executed, call)
	}
	return executed, nil
}

// commit runs the queued pool calls, persists the working state and finally
// publishes it to the engine. Any failure leaves the engine untouched.
func (t *txn) commit() error {
	executed, err := t.execute()
	if err != nil {
		return err
	}

	markets := make([]*Market, 0, len(t.order))
	var records []PositionRecord
	for _, id := range t.order {
		m := t.markets[id]
		markets = append(markets, m.market)
		for _, key := range m.touched {
			records = append(records, PositionRecord{
				Market:   id,
				Account:  key.account,
				Side:     key.side,
				Position: m.positions[key],
			})
		}
	}
	if t.e.persister != nil {
		if err := t.e.persister.Commit(markets, records); err != nil {
			if undoErr := t.rollback(executed); undoErr != nil {
				t.e.log().Error("lending pool rollback failed", "error", undoErr)
				return errors.Join(fmt.Errorf("lending engine: persist: %w", err), undoErr)
			}
			return fmt.Errorf("lending engine: persist: %w", err)
		}
	}

	for _, id := range t.order {
		t.markets[id].publish(t.e)
	}
	return nil
}

// publish installs the working copy as the committed state and refreshes the
// rankings of every touched position.
func (m *marketTx) publish(e *Engine) {
	m.state.market = m.market
	for _, key := range m.touched {
		pos := m.positions[key]
		if pos.IsZero() {
			delete(m.state.positions[key.side], key.account)
		} else {
			m.state.positions[key.side][key.account] = pos
		}
		e.rankings.Upsert(m.id(), key.side.onPoolKind(), key.account, pos.OnPool)
		e.rankings.Upsert(m.id(), key.side.inP2PKind(), key.account, pos.InP2P)
	}
}
