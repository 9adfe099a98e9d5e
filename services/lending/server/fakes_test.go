package server

import (
	"context"

	"peerlend/services/lending/engine"
	"peerlend/services/lending/journal"
)

type operationCall struct {
	action     string
	addr       string
	market     string
	amount     string
	maxMatches int
}

// fakeEngine records user operations and serves canned responses.
type fakeEngine struct {
	calls []operationCall

	opErr         error
	liquidateFn   func(ctx context.Context, req engine.LiquidationRequest) (engine.Liquidation, error)
	indexesFn     func(ctx context.Context, market string) (engine.Indexes, error)
	rebalanceFn   func(ctx context.Context, market string, maxMatches int) (engine.Receipt, error)
	deltasFn      func(ctx context.Context, market, amount string) (string, error)
	governFn      func(ctx context.Context, market string, update engine.GovernanceUpdate) (engine.Market, error)
	getMarketFn   func(ctx context.Context, market string) (engine.Market, error)
	listMarketsFn func(ctx context.Context) ([]engine.Market, error)
	positionsFn   func(ctx context.Context, addr string) ([]engine.Position, error)
	healthFn      func(ctx context.Context, addr string) (engine.Health, error)
	capacityFn    func(ctx context.Context, addr, market string) (engine.Capacity, error)
	rankingFn     func(ctx context.Context, market, kind string, limit int) ([]engine.RankingEntry, error)
	historyFn     func(ctx context.Context, filter journal.Filter) ([]journal.Entry, error)
}

func (f *fakeEngine) operation(action, addr, market, amount string, maxMatches int) (engine.Receipt, error) {
	f.calls = append(f.calls, operationCall{action: action, addr: addr, market: market, amount: amount, maxMatches: maxMatches})
	if f.opErr != nil {
		return engine.Receipt{}, f.opErr
	}
	return engine.Receipt{ID: "receipt-1", Action: action, Market: market, Account: addr, Amount: amount, Matched: "0", Pool: amount}, nil
}

func (f *fakeEngine) Supply(_ context.Context, addr, market, amount string, maxMatches int) (engine.Receipt, error) {
	return f.operation("supply", addr, market, amount, maxMatches)
}

func (f *fakeEngine) Borrow(_ context.Context, addr, market, amount string, maxMatches int) (engine.Receipt, error) {
	return f.operation("borrow", addr, market, amount, maxMatches)
}

func (f *fakeEngine) Withdraw(_ context.Context, addr, market, amount string, maxMatches int) (engine.Receipt, error) {
	return f.operation("withdraw", addr, market, amount, maxMatches)
}

func (f *fakeEngine) Repay(_ context.Context, addr, market, amount string, maxMatches int) (engine.Receipt, error) {
	return f.operation("repay", addr, market, amount, maxMatches)
}

func (f *fakeEngine) Liquidate(ctx context.Context, req engine.LiquidationRequest) (engine.Liquidation, error) {
	if f.liquidateFn != nil {
		return f.liquidateFn(ctx, req)
	}
	return engine.Liquidation{}, nil
}

func (f *fakeEngine) UpdateIndexes(ctx context.Context, market string) (engine.Indexes, error) {
	if f.indexesFn != nil {
		return f.indexesFn(ctx, market)
	}
	return engine.Indexes{}, nil
}

func (f *fakeEngine) Rebalance(ctx context.Context, market string, maxMatches int) (engine.Receipt, error) {
	if f.rebalanceFn != nil {
		return f.rebalanceFn(ctx, market, maxMatches)
	}
	return engine.Receipt{}, nil
}

func (f *fakeEngine) IncreaseP2PDeltas(ctx context.Context, market, amount string) (string, error) {
	if f.deltasFn != nil {
		return f.deltasFn(ctx, market, amount)
	}
	return "0", nil
}

func (f *fakeEngine) Govern(ctx context.Context, market string, update engine.GovernanceUpdate) (engine.Market, error) {
	if f.governFn != nil {
		return f.governFn(ctx, market, update)
	}
	return engine.Market{ID: market}, nil
}

func (f *fakeEngine) GetMarket(ctx context.Context, market string) (engine.Market, error) {
	if f.getMarketFn != nil {
		return f.getMarketFn(ctx, market)
	}
	return engine.Market{}, nil
}

func (f *fakeEngine) ListMarkets(ctx context.Context) ([]engine.Market, error) {
	if f.listMarketsFn != nil {
		return f.listMarketsFn(ctx)
	}
	return nil, nil
}

func (f *fakeEngine) GetPositions(ctx context.Context, addr string) ([]engine.Position, error) {
	if f.positionsFn != nil {
		return f.positionsFn(ctx, addr)
	}
	return []engine.Position{}, nil
}

func (f *fakeEngine) GetHealth(ctx context.Context, addr string) (engine.Health, error) {
	if f.healthFn != nil {
		return f.healthFn(ctx, addr)
	}
	return engine.Health{}, nil
}

func (f *fakeEngine) GetCapacity(ctx context.Context, addr, market string) (engine.Capacity, error) {
	if f.capacityFn != nil {
		return f.capacityFn(ctx, addr, market)
	}
	return engine.Capacity{}, nil
}

func (f *fakeEngine) GetRanking(ctx context.Context, market, kind string, limit int) ([]engine.RankingEntry, error) {
	if f.rankingFn != nil {
		return f.rankingFn(ctx, market, kind, limit)
	}
	return nil, nil
}

func (f *fakeEngine) History(ctx context.Context, filter journal.Filter) ([]journal.Entry, error) {
	if f.historyFn != nil {
		return f.historyFn(ctx, filter)
	}
	return nil, nil
}
