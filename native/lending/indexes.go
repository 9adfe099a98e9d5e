package lending

import "math/big"

// growthFactors are the ray scaled per-refresh multipliers of one market.
type growthFactors struct {
	poolSupply *big.Int
	poolBorrow *big.Int
	p2pSupply  *big.Int
	p2pBorrow  *big.Int
}

// growth returns next/prev in ray precision. Missing history and shrinking
// pool indexes are treated as no growth so P2P indexes never decrease.
func growth(prev, next *big.Int) *big.Int {
	if prev == nil || prev.Sign() <= 0 || next == nil || next.Cmp(prev) <= 0 {
		return new(big.Int).Set(ray)
	}
	return rayDiv(next, prev)
}

// computeGrowthFactors blends the pool growths into the P2P growths.
func computeGrowthFactors(poolSupplyGrowth, poolBorrowGrowth *big.Int, params MarketParams) growthFactors {
	out := growthFactors{poolSupply: poolSupplyGrowth, poolBorrow: poolBorrowGrowth}
	if poolSupplyGrowth.Cmp(poolBorrowGrowth) > 0 {
		// Inverted pool rates: both sides follow the borrow growth.
		out.p2pSupply = new(big.Int).Set(poolBorrowGrowth)
		out.p2pBorrow = new(big.Int).Set(poolBorrowGrowth)
		return out
	}

	cursor := params.P2PIndexCursorBps
	p2pGrowth := bpsMul(poolSupplyGrowth, 10_000-cursor)
	p2pGrowth.Add(p2pGrowth, bpsMul(poolBorrowGrowth, cursor))

	reserve := params.ReserveFactorBps
	out.p2pSupply = new(big.Int).Sub(p2pGrowth, bpsMul(new(big.Int).Sub(p2pGrowth, poolSupplyGrowth), reserve))
	out.p2pBorrow = new(big.Int).Add(p2pGrowth, bpsMul(new(big.Int).Sub(poolBorrowGrowth, p2pGrowth), reserve))
	return out
}

// deltaShare returns the ray scaled share of the P2P notional of a side that
// is parked on the pool, capped at one. An empty side has no share.
func deltaShare(delta, poolIndex, p2pAmount, p2pIndex *big.Int) *big.Int {
	if delta == nil || delta.Sign() == 0 || p2pAmount == nil || p2pAmount.Sign() == 0 {
		return new(big.Int)
	}
	parked := rayMul(delta, poolIndex)
	total := rayMul(p2pAmount, p2pIndex)
	if total.Sign() == 0 {
		return new(big.Int)
	}
	share := rayDiv(parked, total)
	if share.Cmp(ray) > 0 {
		return new(big.Int).Set(ray)
	}
	return share
}

// blendGrowth mixes the P2P growth of the matched portion with the pool
// growth of the delta portion.
func blendGrowth(p2pGrowth, poolGrowth, share *big.Int) *big.Int {
	if share.Sign() == 0 {
		return new(big.Int).Set(p2pGrowth)
	}
	matched := rayMul(new(big.Int).Sub(ray, share), p2pGrowth)
	return matched.Add(matched, rayMul(share, poolGrowth))
}

// computeIndexes derives the next indexes of a market from freshly observed
// pool indexes. It is pure; callers decide whether to keep the result.
func computeIndexes(prev Indexes, deltas Deltas, params MarketParams, poolSupply, poolBorrow *big.Int, block uint64) Indexes {
	next := Indexes{
		PoolSupply:      cloneBig(poolSupply),
		PoolBorrow:      cloneBig(poolBorrow),
		P2PSupply:       cloneBig(prev.P2PSupply),
		P2PBorrow:       cloneBig(prev.P2PBorrow),
		LastUpdateBlock: prev.LastUpdateBlock,
	}
	if block > next.LastUpdateBlock {
		next.LastUpdateBlock = block
	}
	if next.P2PSupply.Sign() == 0 {
		next.P2PSupply.Set(ray)
	}
	if next.P2PBorrow.Sign() == 0 {
		next.P2PBorrow.Set(ray)
	}
	if poolSupply.Cmp(bigOrZero(prev.PoolSupply)) < 0 {
		next.PoolSupply = cloneBig(prev.PoolSupply)
	}
	if poolBorrow.Cmp(bigOrZero(prev.PoolBorrow)) < 0 {
		next.PoolBorrow = cloneBig(prev.PoolBorrow)
	}

	factors := computeGrowthFactors(
		growth(prev.PoolSupply, next.PoolSupply),
		growth(prev.PoolBorrow, next.PoolBorrow),
		params,
	)

	supplyShare := deltaShare(deltas.SupplyDelta, prev.PoolSupply, deltas.P2PSupplyAmount, next.P2PSupply)
	borrowShare := deltaShare(deltas.BorrowDelta, prev.PoolBorrow, deltas.P2PBorrowAmount, next.P2PBorrow)

	next.P2PSupply = rayMul(next.P2PSupply, atLeastRay(blendGrowth(factors.p2pSupply, factors.poolSupply, supplyShare)))
	next.P2PBorrow = rayMul(next.P2PBorrow, atLeastRay(blendGrowth(factors.p2pBorrow, factors.poolBorrow, borrowShare)))
	return next
}

// atLeastRay absorbs the one-wei truncation of the bps blend.
func atLeastRay(g *big.Int) *big.Int {
	if g.Cmp(ray) < 0 {
		return new(big.Int).Set(ray)
	}
	return g
}
