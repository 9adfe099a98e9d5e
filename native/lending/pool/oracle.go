package pool

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
)

var ErrNoPrice = errors.New("oracle: no price for asset")

// StaticOracle serves operator-set prices. Prices are quoted per whole unit
// of the asset in 18 decimals of the reference currency.
type StaticOracle struct {
	mu     sync.RWMutex
	prices map[string]*big.Int
}

// NewStaticOracle returns an oracle with no prices.
func NewStaticOracle() *StaticOracle {
	return &StaticOracle{prices: make(map[string]*big.Int)}
}

// Set records the price of asset.
func (o *StaticOracle) Set(asset string, price *big.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[normalize(asset)] = new(big.Int).Set(price)
}

// Price implements lending.Oracle.
func (o *StaticOracle) Price(asset string) (*big.Int, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	price, ok := o.prices[normalize(asset)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoPrice, asset)
	}
	return new(big.Int).Set(price), nil
}

// ParsePrice converts a decimal string such as "2000.5" into 18 decimals.
func ParsePrice(value string) (*big.Int, error) {
	value = strings.TrimSpace(value)
	rat, ok := new(big.Rat).SetString(value)
	if !ok || rat.Sign() < 0 {
		return nil, fmt.Errorf("oracle: invalid price %q", value)
	}
	scaled := rat.Mul(rat, new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)))
	return new(big.Int).Quo(scaled.Num(), scaled.Denom()), nil
}
