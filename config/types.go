package config

import "peerlend/native/lending/pool"

// Pool configures the kinked rate curve of the simulated pool. Rates are
// decimal APRs, 0.02 meaning 2%.
type Pool struct {
	BaseRate         float64 `toml:"BaseRate"`
	Slope1           float64 `toml:"Slope1"`
	Slope2           float64 `toml:"Slope2"`
	Kink             float64 `toml:"Kink"`
	ReserveFactorBps uint64  `toml:"ReserveFactorBps"`
}

// DefaultPool mirrors pool.DefaultRateModel.
func DefaultPool() Pool {
	return Pool{BaseRate: 0.02, Slope1: 0.15, Slope2: 0.6, Kink: 0.8, ReserveFactorBps: 1_000}
}

func (p *Pool) normalize() {
	if *p == (Pool{}) {
		*p = DefaultPool()
	}
}

// RateModel builds the pool rate model.
func (p Pool) RateModel() *pool.RateModel {
	return pool.NewRateModel(p.BaseRate, p.Slope1, p.Slope2, p.Kink, p.ReserveFactorBps)
}
