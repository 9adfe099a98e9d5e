// Package pool provides an in-memory pooled lending market and a static price
// oracle. The daemon runs against them in simulation mode and tests use them
// as the engine's external adapters.
package pool

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
)

// BlocksPerYear converts annual rates into per-block growth.
const BlocksPerYear = 2_628_000

var (
	ErrUnknownMarket     = errors.New("pool: unknown market")
	ErrInsufficientCash  = errors.New("pool: insufficient cash")
	ErrExceedsBalance    = errors.New("pool: amount exceeds balance")
	ErrInvalidAmount     = errors.New("pool: amount must be positive")
	ErrIndexDecrease     = errors.New("pool: index may not decrease")
	ErrMarketAlreadyOpen = errors.New("pool: market already open")
)

var ray = new(big.Int).Exp(big.NewInt(10), big.NewInt(27), nil)

// reserve is the book of one asset. Balances are scaled by the indexes so
// interest accrues without touching them.
type reserve struct {
	supplyIndex  *big.Int
	borrowIndex  *big.Int
	scaledSupply *big.Int
	scaledDebt   *big.Int
	model        *RateModel
}

func (r *reserve) supplied() *big.Int { return mulRay(r.scaledSupply, r.supplyIndex) }
func (r *reserve) borrowed() *big.Int { return mulRay(r.scaledDebt, r.borrowIndex) }

func (r *reserve) cash() *big.Int {
	cash := new(big.Int).Sub(r.supplied(), r.borrowed())
	if cash.Sign() < 0 {
		return cash.SetInt64(0)
	}
	return cash
}

// Memory is a thread-safe simulated pool. A single depositor (the matching
// engine) interacts with it; external liquidity is injected with Seed.
type Memory struct {
	mu       sync.Mutex
	reserves map[string]*reserve
	model    *RateModel
}

// NewMemory returns an empty pool whose markets use model unless overridden.
func NewMemory(model *RateModel) *Memory {
	if model == nil {
		model = DefaultRateModel()
	}
	return &Memory{reserves: make(map[string]*reserve), model: model}
}

func normalize(market string) string {
	return strings.ToUpper(strings.TrimSpace(market))
}

// Open lists market with both indexes at one ray.
func (m *Memory) Open(market string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := normalize(market)
	if _, ok := m.reserves[id]; ok {
		return fmt.Errorf("%w: %s", ErrMarketAlreadyOpen, id)
	}
	m.reserves[id] = &reserve{
		supplyIndex:  new(big.Int).Set(ray),
		borrowIndex:  new(big.Int).Set(ray),
		scaledSupply: new(big.Int),
		scaledDebt:   new(big.Int),
		model:        m.model,
	}
	return nil
}

func (m *Memory) lookup(market string) (*reserve, error) {
	r, ok := m.reserves[normalize(market)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMarket, market)
	}
	return r, nil
}

// SupplyIndex implements lending.Pool.
func (m *Memory) SupplyIndex(market string) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.lookup(market)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(r.supplyIndex), nil
}

// BorrowIndex implements lending.Pool.
func (m *Memory) BorrowIndex(market string) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.lookup(market)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(r.borrowIndex), nil
}

func positive(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Deposit implements lending.Pool.
func (m *Memory) Deposit(market string, amount *big.Int) error {
	if err := positive(amount); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.lookup(market)
	if err != nil {
		return err
	}
	r.scaledSupply.Add(r.scaledSupply, divRay(amount, r.supplyIndex))
	return nil
}

// Seed adds third-party liquidity to market.
func (m *Memory) Seed(market string, amount *big.Int) error {
	return m.Deposit(market, amount)
}

// Withdraw implements lending.Pool.
func (m *Memory) Withdraw(market string, amount *big.Int) error {
	if err := positive(amount); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.lookup(market)
	if err != nil {
		return err
	}
	if amount.Cmp(r.cash()) > 0 {
		return fmt.Errorf("%w: withdraw %s from %s", ErrInsufficientCash, amount, market)
	}
	r.scaledSupply = floorSub(r.scaledSupply, divRay(amount, r.supplyIndex))
	return nil
}

// Borrow implements lending.Pool.
func (m *Memory) Borrow(market string, amount *big.Int) error {
	if err := positive(amount); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.lookup(market)
	if err != nil {
		return err
	}
	if amount.Cmp(r.cash()) > 0 {
		return fmt.Errorf("%w: borrow %s from %s", ErrInsufficientCash, amount, market)
	}
	r.scaledDebt.Add(r.scaledDebt, divRay(amount, r.borrowIndex))
	return nil
}

// Repay implements lending.Pool.
func (m *Memory) Repay(market string, amount *big.Int) error {
	if err := positive(amount); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.lookup(market)
	if err != nil {
		return err
	}
	if amount.Cmp(new(big.Int).Add(r.borrowed(), big.NewInt(1))) > 0 {
		return fmt.Errorf("%w: repay %s to %s", ErrExceedsBalance, amount, market)
	}
	r.scaledDebt = floorSub(r.scaledDebt, divRay(amount, r.borrowIndex))
	return nil
}

// Accrue advances every market by blocks worth of interest at the current
// utilisation.
func (m *Memory) Accrue(blocks uint64) {
	if blocks == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reserves {
		borrowed, supplied := r.borrowed(), r.supplied()
		r.borrowIndex = grow(r.borrowIndex, r.model.BorrowAPR(borrowed, supplied), blocks)
		r.supplyIndex = grow(r.supplyIndex, r.model.SupplyAPR(borrowed, supplied), blocks)
	}
}

// SetIndexes overrides the indexes of market. Indexes only move forward.
func (m *Memory) SetIndexes(market string, supply, borrow *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.lookup(market)
	if err != nil {
		return err
	}
	if supply.Cmp(r.supplyIndex) < 0 || borrow.Cmp(r.borrowIndex) < 0 {
		return ErrIndexDecrease
	}
	r.supplyIndex = new(big.Int).Set(supply)
	r.borrowIndex = new(big.Int).Set(borrow)
	return nil
}

// Totals reports the underlying supplied and borrowed in market.
func (m *Memory) Totals(market string) (supplied, borrowed *big.Int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.lookup(market)
	if err != nil {
		return nil, nil, err
	}
	return r.supplied(), r.borrowed(), nil
}

// grow multiplies index by 1 + apr*blocks/BlocksPerYear.
func grow(index *big.Int, apr *big.Rat, blocks uint64) *big.Int {
	if apr.Sign() <= 0 {
		return index
	}
	factor := new(big.Rat).Mul(apr, new(big.Rat).SetFrac(new(big.Int).SetUint64(blocks), big.NewInt(BlocksPerYear)))
	factor.Add(factor, big.NewRat(1, 1))
	scaled := new(big.Rat).Mul(new(big.Rat).SetInt(index), factor)
	return new(big.Int).Quo(scaled.Num(), scaled.Denom())
}

func mulRay(a, b *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, ray)
}

func divRay(a, b *big.Int) *big.Int {
	out := new(big.Int).Mul(a, ray)
	return out.Quo(out, b)
}

func floorSub(a, b *big.Int) *big.Int {
	out := new(big.Int).Sub(a, b)
	if out.Sign() < 0 {
		return out.SetInt64(0)
	}
	return out
}
