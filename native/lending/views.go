package lending

import (
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"peerlend/native/lending/ranking"
)

// Markets lists the created markets in alphabetical order.
func (e *Engine) Markets() []string {
	ids := make([]string, 0, len(e.markets))
	for id := range e.markets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MarketSnapshot returns a copy of market with indexes brought up to date.
// The refreshed indexes are not stored.
func (e *Engine) MarketSnapshot(market string) (*Market, error) {
	m, err := e.begin().market(NormalizeMarket(market))
	if err != nil {
		return nil, err
	}
	return m.market.Clone(), nil
}

// Position returns the stored units of one side of an account.
func (e *Engine) Position(market string, account common.Address, side Side) (*Position, error) {
	id := NormalizeMarket(market)
	state, ok := e.markets[id]
	if !ok {
		return nil, ErrMarketNotCreated
	}
	return state.positions[side][account].Clone(), nil
}

// PositionBalances returns one side of an account in underlying terms.
func (e *Engine) PositionBalances(market string, account common.Address, side Side) (Balances, error) {
	m, err := e.begin().market(NormalizeMarket(market))
	if err != nil {
		return Balances{}, err
	}
	return m.value(account, side), nil
}

// Deltas returns the current deltas of market.
func (e *Engine) Deltas(market string) (Deltas, error) {
	state, ok := e.markets[NormalizeMarket(market)]
	if !ok {
		return Deltas{}, ErrMarketNotCreated
	}
	return state.market.Deltas.Clone(), nil
}

// Reserve returns the protocol's share of the P2P spread: the value owed by
// matched borrowers minus the value owed to matched suppliers, net of deltas.
func (e *Engine) Reserve(market string) (*big.Int, error) {
	m, err := e.begin().market(NormalizeMarket(market))
	if err != nil {
		return nil, err
	}
	ledger := m.ledger()
	owed := new(big.Int).Sub(rayMul(m.market.Deltas.P2PBorrowAmount, m.p2pIndex(SideBorrow)), ledger.outstanding(SideBorrow))
	due := new(big.Int).Sub(rayMul(m.market.Deltas.P2PSupplyAmount, m.p2pIndex(SideSupply)), ledger.outstanding(SideSupply))
	return owed.Sub(owed, due), nil
}

// AccountMarkets lists the markets in which account holds any position.
func (e *Engine) AccountMarkets(account common.Address) []string {
	return e.begin().accountMarkets(account)
}

// RankingHead returns the largest ranked account of a ranking.
func (e *Engine) RankingHead(market string, kind ranking.Kind) (common.Address, bool) {
	return e.rankings.Head(NormalizeMarket(market), kind)
}

// RankingNext returns the ranked account after account.
func (e *Engine) RankingNext(market string, kind ranking.Kind, account common.Address) (common.Address, bool) {
	return e.rankings.Next(NormalizeMarket(market), kind, account)
}

// RankingEntries returns up to limit ranked entries in order.
func (e *Engine) RankingEntries(market string, kind ranking.Kind, limit int) []ranking.Entry {
	list := e.rankings.List(NormalizeMarket(market), kind)
	if list == nil {
		return nil
	}
	return list.Ranked(limit)
}
