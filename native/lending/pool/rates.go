package pool

import (
	"math/big"
	"strconv"
)

// RateModel is a kinked utilisation curve driving the simulated pool rates.
type RateModel struct {
	// BaseRate is the borrow APR at zero utilisation.
	BaseRate *big.Rat
	// Slope1 is the APR added per unit of utilisation up to Kink.
	Slope1 *big.Rat
	// Slope2 is the APR added per unit of utilisation beyond Kink.
	Slope2 *big.Rat
	Kink   *big.Rat
	// ReserveFactorBps is the share of borrow interest kept by the pool.
	ReserveFactorBps uint64
}

// NewRateModel builds a model from decimal inputs such as 0.02 for 2%.
func NewRateModel(baseRate, slope1, slope2, kink float64, reserveFactorBps uint64) *RateModel {
	return &RateModel{
		BaseRate:         decimalRat(baseRate),
		Slope1:           decimalRat(slope1),
		Slope2:           decimalRat(slope2),
		Kink:             decimalRat(kink),
		ReserveFactorBps: reserveFactorBps,
	}
}

// DefaultRateModel mirrors a typical stablecoin money market.
func DefaultRateModel() *RateModel {
	return NewRateModel(0.02, 0.15, 0.6, 0.8, 1_000)
}

// Utilisation returns borrowed/supplied, or zero for an empty pool.
func (m *RateModel) Utilisation(borrowed, supplied *big.Int) *big.Rat {
	if borrowed == nil || borrowed.Sign() <= 0 || supplied == nil || supplied.Sign() <= 0 {
		return new(big.Rat)
	}
	u := new(big.Rat).SetFrac(borrowed, supplied)
	if u.Cmp(big.NewRat(1, 1)) > 0 {
		return big.NewRat(1, 1)
	}
	return u
}

// BorrowAPR evaluates the curve at the current utilisation.
func (m *RateModel) BorrowAPR(borrowed, supplied *big.Int) *big.Rat {
	if m == nil {
		return new(big.Rat)
	}
	rate := ratOrZero(m.BaseRate)
	u := m.Utilisation(borrowed, supplied)
	if u.Sign() == 0 {
		return rate
	}
	kink := ratOrZero(m.Kink)
	if kink.Sign() == 0 || u.Cmp(kink) <= 0 {
		return rate.Add(rate, new(big.Rat).Mul(ratOrZero(m.Slope1), u))
	}
	rate.Add(rate, new(big.Rat).Mul(ratOrZero(m.Slope1), kink))
	excess := new(big.Rat).Sub(u, kink)
	return rate.Add(rate, new(big.Rat).Mul(ratOrZero(m.Slope2), excess))
}

// SupplyAPR pays suppliers the borrow interest net of the reserve factor,
// spread over the whole supply.
func (m *RateModel) SupplyAPR(borrowed, supplied *big.Int) *big.Rat {
	if m == nil {
		return new(big.Rat)
	}
	u := m.Utilisation(borrowed, supplied)
	if u.Sign() == 0 {
		return new(big.Rat)
	}
	keep := new(big.Rat).SetFrac64(int64(10_000-min(m.ReserveFactorBps, 10_000)), 10_000)
	out := m.BorrowAPR(borrowed, supplied)
	out.Mul(out, u)
	return out.Mul(out, keep)
}

// decimalRat keeps the decimal value the caller wrote rather than its binary
// approximation.
func decimalRat(v float64) *big.Rat {
	r, ok := new(big.Rat).SetString(strconv.FormatFloat(v, 'g', -1, 64))
	if !ok {
		return new(big.Rat)
	}
	return r
}

func ratOrZero(r *big.Rat) *big.Rat {
	if r == nil {
		return new(big.Rat)
	}
	return new(big.Rat).Set(r)
}
