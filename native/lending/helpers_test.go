package lending

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var errInjected = errors.New("injected failure")

type poolCallRecord struct {
	op     string
	market string
	amount *big.Int
}

// fakePool records every adapter call and serves indexes set by the test.
type fakePool struct {
	supply map[string]*big.Int
	borrow map[string]*big.Int
	calls  []poolCallRecord
	// failOn makes the n-th call (1 based) of the named op fail.
	failOn map[string]int
	seen   map[string]int
}

func newFakePool() *fakePool {
	return &fakePool{
		supply: make(map[string]*big.Int),
		borrow: make(map[string]*big.Int),
		failOn: make(map[string]int),
		seen:   make(map[string]int),
	}
}

func (p *fakePool) setIndexes(market string, supply, borrow *big.Int) {
	p.supply[market] = new(big.Int).Set(supply)
	p.borrow[market] = new(big.Int).Set(borrow)
}

func (p *fakePool) SupplyIndex(market string) (*big.Int, error) {
	idx, ok := p.supply[market]
	if !ok {
		return Ray(), nil
	}
	return new(big.Int).Set(idx), nil
}

func (p *fakePool) BorrowIndex(market string) (*big.Int, error) {
	idx, ok := p.borrow[market]
	if !ok {
		return Ray(), nil
	}
	return new(big.Int).Set(idx), nil
}

func (p *fakePool) record(op, market string, amount *big.Int) error {
	p.seen[op]++
	if n, ok := p.failOn[op]; ok && n == p.seen[op] {
		return errInjected
	}
	p.calls = append(p.calls, poolCallRecord{op: op, market: market, amount: new(big.Int).Set(amount)})
	return nil
}

func (p *fakePool) Deposit(market string, amount *big.Int) error {
	return p.record("deposit", market, amount)
}

func (p *fakePool) Withdraw(market string, amount *big.Int) error {
	return p.record("withdraw", market, amount)
}

func (p *fakePool) Borrow(market string, amount *big.Int) error {
	return p.record("borrow", market, amount)
}

func (p *fakePool) Repay(market string, amount *big.Int) error {
	return p.record("repay", market, amount)
}

func (p *fakePool) reset() {
	p.calls = nil
	p.seen = make(map[string]int)
	p.failOn = make(map[string]int)
}

// net sums the recorded calls of op in market.
func (p *fakePool) net(op, market string) *big.Int {
	total := new(big.Int)
	for _, call := range p.calls {
		if call.op == op && call.market == market {
			total.Add(total, call.amount)
		}
	}
	return total
}

type fakeOracle struct {
	prices map[string]*big.Int
	err    error
}

func (o *fakeOracle) Price(asset string) (*big.Int, error) {
	if o.err != nil {
		return nil, o.err
	}
	price, ok := o.prices[asset]
	if !ok {
		return nil, fmt.Errorf("no price for %s", asset)
	}
	return new(big.Int).Set(price), nil
}

type fakePersister struct {
	commits int
	markets map[string]*Market
	fail    bool
}

func (p *fakePersister) Commit(markets []*Market, positions []PositionRecord) error {
	if p.fail {
		return errInjected
	}
	p.commits++
	if p.markets == nil {
		p.markets = make(map[string]*Market)
	}
	for _, m := range markets {
		p.markets[m.ID] = m.Clone()
	}
	return nil
}

// units returns n whole tokens of an 18 decimal asset.
func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), wad)
}

// rayOf returns num/den in ray precision.
func rayOf(num, den int64) *big.Int {
	out := new(big.Int).Mul(big.NewInt(num), ray)
	return out.Quo(out, big.NewInt(den))
}

func addr(b byte) common.Address {
	var a common.Address
	a[19] = b
	a[0] = 0x10
	return a
}

func testParams() MarketParams {
	return MarketParams{
		Decimals:                18,
		LTVBps:                  7_500,
		LiquidationThresholdBps: 8_000,
		LiquidationBonusBps:     10_500,
		CloseFactorBps:          5_000,
		ReserveFactorBps:        0,
		P2PIndexCursorBps:       5_000,
		MaxRankedSize:           20,
	}
}

type harness struct {
	engine    *Engine
	pool      *fakePool
	oracle    *fakeOracle
	persister *fakePersister
}

// newHarness creates an engine with a DAI market priced at 1 and an ETH
// market priced at 2000, both at pool indexes of one ray.
func newHarness(t *testing.T) *harness {
	t.Helper()
	pool := newFakePool()
	oracle := &fakeOracle{prices: map[string]*big.Int{
		"DAI": units(1),
		"ETH": units(2000),
	}}
	persister := &fakePersister{}
	engine := NewEngine(pool, oracle)
	engine.SetPersister(persister)
	for _, id := range []string{"DAI", "ETH"} {
		if _, err := engine.CreateMarket(id, testParams()); err != nil {
			t.Fatalf("create market %s: %v", id, err)
		}
	}
	return &harness{engine: engine, pool: pool, oracle: oracle, persister: persister}
}

func (h *harness) supply(t *testing.T, market string, account common.Address, amount *big.Int, maxMatches int) *Receipt {
	t.Helper()
	r, err := h.engine.Supply(market, account, amount, maxMatches)
	if err != nil {
		t.Fatalf("supply %s %s: %v", market, amount, err)
	}
	return r
}

func (h *harness) borrow(t *testing.T, market string, account common.Address, amount *big.Int, maxMatches int) *Receipt {
	t.Helper()
	r, err := h.engine.Borrow(market, account, amount, maxMatches)
	if err != nil {
		t.Fatalf("borrow %s %s: %v", market, amount, err)
	}
	return r
}

// collateralize supplies eth whole ETH for account.
func (h *harness) collateralize(t *testing.T, account common.Address, eth int64) {
	t.Helper()
	h.supply(t, "ETH", account, units(eth), 10)
}

func (h *harness) balances(t *testing.T, market string, account common.Address, side Side) Balances {
	t.Helper()
	b, err := h.engine.PositionBalances(market, account, side)
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	return b
}

// identityGap returns the difference between the two sides of the matched
// notional identity of market.
func (h *harness) identityGap(t *testing.T, market string) *big.Int {
	t.Helper()
	m, err := h.engine.MarketSnapshot(market)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	state := h.engine.markets[market]
	supplied := new(big.Int)
	for _, pos := range state.positions[SideSupply] {
		supplied.Add(supplied, bigOrZero(pos.InP2P))
	}
	borrowed := new(big.Int)
	for _, pos := range state.positions[SideBorrow] {
		borrowed.Add(borrowed, bigOrZero(pos.InP2P))
	}
	if supplied.Cmp(m.Deltas.P2PSupplyAmount) != 0 {
		t.Fatalf("supplier P2P units %s do not sum to market total %s", supplied, m.Deltas.P2PSupplyAmount)
	}
	if borrowed.Cmp(m.Deltas.P2PBorrowAmount) != 0 {
		t.Fatalf("borrower P2P units %s do not sum to market total %s", borrowed, m.Deltas.P2PBorrowAmount)
	}
	left := new(big.Int).Sub(rayMul(supplied, m.Indexes.P2PSupply), rayMul(m.Deltas.SupplyDelta, m.Indexes.PoolSupply))
	right := new(big.Int).Sub(rayMul(borrowed, m.Indexes.P2PBorrow), rayMul(m.Deltas.BorrowDelta, m.Indexes.PoolBorrow))
	return left.Sub(left, right)
}

func requireBig(t *testing.T, want, got *big.Int) {
	t.Helper()
	if want == nil || got == nil || want.Cmp(got) != 0 {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func requireAmount(t *testing.T, label string, want, got *big.Int) {
	t.Helper()
	if got == nil || want.Cmp(got) != 0 {
		t.Fatalf("expected %s %s, got %v", label, want, got)
	}
}
