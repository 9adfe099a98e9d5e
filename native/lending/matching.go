package lending

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// matchBudget bounds how many counter-parties an operation may visit across
// all of its matching loops.
type matchBudget struct {
	left int
}

func newMatchBudget(maxMatches int) *matchBudget {
	if maxMatches < 0 {
		maxMatches = 0
	}
	return &matchBudget{left: maxMatches}
}

func (b *matchBudget) take() bool {
	if b.left <= 0 {
		return false
	}
	b.left--
	return true
}

// matchingEnabled reports whether an operation may touch deltas and rankings.
func matchingEnabled(m *marketTx, maxMatches int) bool {
	return maxMatches > 0 && !m.market.P2PDisabled
}

// candidates walks a ranking from its head. The successor is resolved before
// the visitor runs so a visitor may freely change the current account's
// balances.
func (e *Engine) candidates(market string, side Side, onPool bool, visit func(common.Address) bool) {
	kind := side.inP2PKind()
	if onPool {
		kind = side.onPoolKind()
	}
	cur, ok := e.rankings.Head(market, kind)
	for ok {
		next, hasNext := e.rankings.Next(market, kind, cur)
		if !visit(cur) {
			return
		}
		cur, ok = next, hasNext
	}
}

// promote moves on-pool balances of side into P2P, largest first, until
// amount is covered or the budget runs out. It returns the underlying amount
// moved.
func (e *Engine) promote(m *marketTx, side Side, amount *big.Int, budget *matchBudget, receipt *Receipt) *big.Int {
	matched := new(big.Int)
	if amount.Sign() <= 0 {
		return matched
	}
	poolIndex, p2pIndex := m.poolIndex(side), m.p2pIndex(side)
	e.candidates(m.id(), side, true, func(account common.Address) bool {
		remaining := new(big.Int).Sub(amount, matched)
		if remaining.Sign() <= 0 || !budget.take() {
			return false
		}
		receipt.Visited++
		current := m.view(account, side)
		if current.OnPool.Sign() == 0 {
			return true
		}
		take := minBig(remaining, rayMul(current.OnPool, poolIndex))
		poolUnits := toUnits(take, poolIndex, current.OnPool)
		p2pUnits := rayDiv(take, p2pIndex)
		if poolUnits.Sign() == 0 || p2pUnits.Sign() == 0 {
			return true
		}
		pos := m.mutable(account, side)
		pos.OnPool = zeroFloorSub(pos.OnPool, poolUnits)
		pos.InP2P = new(big.Int).Add(pos.InP2P, p2pUnits)
		m.addP2PAmount(side, p2pUnits)
		matched.Add(matched, take)
		return true
	})
	return matched
}

// demote moves P2P balances of side back to the pool, largest first, until
// amount is covered or the budget runs out. It returns the underlying amount
// moved.
func (e *Engine) demote(m *marketTx, side Side, amount *big.Int, budget *matchBudget, receipt *Receipt) *big.Int {
	unmatched := new(big.Int)
	if amount.Sign() <= 0 {
		return unmatched
	}
	poolIndex, p2pIndex := m.poolIndex(side), m.p2pIndex(side)
	e.candidates(m.id(), side, false, func(account common.Address) bool {
		remaining := new(big.Int).Sub(amount, unmatched)
		if remaining.Sign() <= 0 || !budget.take() {
			return false
		}
		receipt.Visited++
		current := m.view(account, side)
		if current.InP2P.Sign() == 0 {
			return true
		}
		take := minBig(remaining, rayMul(current.InP2P, p2pIndex))
		p2pUnits := toUnits(take, p2pIndex, current.InP2P)
		poolUnits := rayDiv(take, poolIndex)
		if p2pUnits.Sign() == 0 || poolUnits.Sign() == 0 {
			return true
		}
		pos := m.mutable(account, side)
		pos.InP2P = zeroFloorSub(pos.InP2P, p2pUnits)
		pos.OnPool = new(big.Int).Add(pos.OnPool, poolUnits)
		m.subP2PAmount(side, p2pUnits)
		unmatched.Add(unmatched, take)
		return true
	})
	return unmatched
}
