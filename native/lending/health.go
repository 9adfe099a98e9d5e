package lending

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// MaxHealthFactor is reported for accounts without debt.
var MaxHealthFactor = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// AccountHealth aggregates the valuation of an account across every market
// it participates in. Values are expressed in the oracle's reference unit.
type AccountHealth struct {
	// Collateral is supply weighted by liquidation thresholds.
	Collateral *big.Int `json:"collateral"`
	// BorrowCapacity is supply weighted by loan-to-value ratios.
	BorrowCapacity *big.Int `json:"borrowCapacity"`
	Debt           *big.Int `json:"debt"`
	// HealthFactor is Collateral/Debt in wad precision.
	HealthFactor *big.Int `json:"healthFactor"`
}

// Liquidatable reports whether the account may be liquidated.
func (h *AccountHealth) Liquidatable() bool {
	return h != nil && h.Debt.Sign() > 0 && h.HealthFactor.Cmp(wad) < 0
}

// accountMarkets lists, in a stable order, the markets in which account holds
// a position either committed or pending in t.
func (t *txn) accountMarkets(account common.Address) []string {
	var ids []string
	for id, state := range t.e.markets {
		if m, ok := t.markets[id]; ok {
			if m.hasPosition(account) {
				ids = append(ids, id)
			}
			continue
		}
		_, supplied := state.positions[SideSupply][account]
		_, borrowed := state.positions[SideBorrow][account]
		if supplied || borrowed {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// price fetches the price of a market's asset.
func (e *Engine) price(market string) (*big.Int, error) {
	if e.oracle == nil {
		return nil, fmt.Errorf("%w: oracle not configured", ErrOraclePrice)
	}
	price, err := e.oracle.Price(market)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOraclePrice, market, err)
	}
	if price == nil || price.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s: invalid price", ErrOraclePrice, market)
	}
	return price, nil
}

// valueOf converts an underlying amount into the reference unit.
func valueOf(amount, price *big.Int, decimals uint8) *big.Int {
	return mulDiv(amount, price, pow10(decimals))
}

// health values the account using the working state of t. Markets are loaded
// into t, which refreshes their indexes. Unless force is set the oracle is
// only consulted when the account holds debt.
func (e *Engine) health(t *txn, account common.Address, force bool) (*AccountHealth, error) {
	out := &AccountHealth{
		Collateral:     new(big.Int),
		BorrowCapacity: new(big.Int),
		Debt:           new(big.Int),
		HealthFactor:   new(big.Int).Set(MaxHealthFactor),
	}
	type exposure struct {
		market         *Market
		supply, borrow *big.Int
	}
	var exposures []exposure
	indebted := false
	for _, id := range t.accountMarkets(account) {
		m, err := t.market(id)
		if err != nil {
			return nil, err
		}
		supply := m.value(account, SideSupply).Total
		borrow := m.value(account, SideBorrow).Total
		if borrow.Sign() > 0 {
			indebted = true
		}
		exposures = append(exposures, exposure{market: m.market, supply: supply, borrow: borrow})
	}
	if !indebted && !force {
		return out, nil
	}

	for _, x := range exposures {
		params := x.market.Params
		if x.borrow.Sign() > 0 {
			price, err := e.price(x.market.ID)
			if err != nil {
				return nil, err
			}
			if price.Sign() == 0 {
				return nil, fmt.Errorf("%w: %s: zero debt price", ErrOraclePrice, x.market.ID)
			}
			out.Debt.Add(out.Debt, valueOf(x.borrow, price, params.Decimals))
		}
		if x.supply.Sign() > 0 && params.LiquidationThresholdBps > 0 {
			price, err := e.price(x.market.ID)
			if err != nil {
				return nil, err
			}
			value := valueOf(x.supply, price, params.Decimals)
			out.Collateral.Add(out.Collateral, bpsMul(value, params.LiquidationThresholdBps))
			out.BorrowCapacity.Add(out.BorrowCapacity, bpsMul(value, params.LTVBps))
		}
	}
	if out.Debt.Sign() > 0 {
		out.HealthFactor = mulDiv(out.Collateral, wad, out.Debt)
	}
	return out, nil
}

// requireCapacity fails when the pending state of t leaves account borrowing
// more than its loan-to-value capacity.
func (e *Engine) requireCapacity(t *txn, account common.Address) error {
	h, err := e.health(t, account, false)
	if err != nil {
		return err
	}
	if h.Debt.Cmp(h.BorrowCapacity) > 0 {
		return fmt.Errorf("%w: debt %s exceeds capacity %s", ErrInsufficientCollateral, h.Debt, h.BorrowCapacity)
	}
	return nil
}

// Health values account across all markets with up to date indexes.
func (e *Engine) Health(account common.Address) (*AccountHealth, error) {
	return e.health(e.begin(), account, false)
}

// HealthFactor returns collateral over debt in wad precision, or
// MaxHealthFactor when the account holds no debt.
func (e *Engine) HealthFactor(account common.Address) (*big.Int, error) {
	h, err := e.Health(account)
	if err != nil {
		return nil, err
	}
	return h.HealthFactor, nil
}

// IsLiquidatable reports whether the account's health factor is below one.
func (e *Engine) IsLiquidatable(account common.Address) (bool, error) {
	h, err := e.Health(account)
	if err != nil {
		return false, err
	}
	return h.Liquidatable(), nil
}

// MaxBorrowable returns how much more of market the account may borrow
// before hitting its loan-to-value capacity.
func (e *Engine) MaxBorrowable(market string, account common.Address) (*big.Int, error) {
	t := e.begin()
	m, err := t.market(NormalizeMarket(market))
	if err != nil {
		return nil, err
	}
	h, err := e.health(t, account, true)
	if err != nil {
		return nil, err
	}
	spare := zeroFloorSub(h.BorrowCapacity, h.Debt)
	if spare.Sign() == 0 {
		return spare, nil
	}
	price, err := e.price(m.id())
	if err != nil {
		return nil, err
	}
	if price.Sign() == 0 {
		return nil, fmt.Errorf("%w: %s: zero price", ErrOraclePrice, m.id())
	}
	return mulDiv(spare, pow10(m.market.Params.Decimals), price), nil
}

// MaxWithdrawable returns how much of its supply in market the account may
// withdraw without breaching its loan-to-value capacity.
func (e *Engine) MaxWithdrawable(market string, account common.Address) (*big.Int, error) {
	t := e.begin()
	m, err := t.market(NormalizeMarket(market))
	if err != nil {
		return nil, err
	}
	supplied := m.value(account, SideSupply).Total
	if supplied.Sign() == 0 {
		return supplied, nil
	}
	h, err := e.health(t, account, false)
	if err != nil {
		return nil, err
	}
	if h.Debt.Sign() == 0 || m.market.Params.LTVBps == 0 {
		return supplied, nil
	}
	spare := zeroFloorSub(h.BorrowCapacity, h.Debt)
	price, err := e.price(m.id())
	if err != nil {
		return nil, err
	}
	if price.Sign() == 0 {
		return supplied, nil
	}
	// spare / (price * ltv) in underlying units.
	numerator := new(big.Int).Mul(spare, pow10(m.market.Params.Decimals))
	numerator.Mul(numerator, basisPoints)
	denominator := new(big.Int).Mul(price, new(big.Int).SetUint64(m.market.Params.LTVBps))
	return minBig(supplied, numerator.Quo(numerator, denominator)), nil
}
