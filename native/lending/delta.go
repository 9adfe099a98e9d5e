package lending

import "math/big"

// deltaLedger adjusts the deltas of a market inside a pending operation.
type deltaLedger struct {
	deltas  *Deltas
	indexes *Indexes
}

func (l deltaLedger) field(side Side) (**big.Int, *big.Int) {
	if side == SideBorrow {
		return &l.deltas.BorrowDelta, l.indexes.PoolBorrow
	}
	return &l.deltas.SupplyDelta, l.indexes.PoolSupply
}

// outstanding returns the delta of side in underlying terms.
func (l deltaLedger) outstanding(side Side) *big.Int {
	delta, index := l.field(side)
	return rayMul(bigOrZero(*delta), index)
}

// increase parks an underlying shortfall on the pool and returns the delta
// units added.
func (l deltaLedger) increase(side Side, amount *big.Int) *big.Int {
	if amount == nil || amount.Sign() <= 0 {
		return new(big.Int)
	}
	delta, index := l.field(side)
	units := rayDiv(amount, index)
	*delta = new(big.Int).Add(bigOrZero(*delta), units)
	return units
}

// consume absorbs up to amount of the delta of side and returns the
// underlying amount absorbed.
func (l deltaLedger) consume(side Side, amount *big.Int) *big.Int {
	if amount == nil || amount.Sign() <= 0 {
		return new(big.Int)
	}
	delta, index := l.field(side)
	current := bigOrZero(*delta)
	if current.Sign() == 0 {
		return new(big.Int)
	}
	absorbed := minBig(amount, rayMul(current, index))
	if absorbed.Sign() == 0 {
		return absorbed
	}
	*delta = zeroFloorSub(current, toUnits(absorbed, index, current))
	return absorbed
}
