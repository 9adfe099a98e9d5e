package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"peerlend/native/lending"
	"peerlend/native/lending/ranking"
	"peerlend/observability"
	"peerlend/services/lending/journal"
)

const tracerName = "peerlend/services/lending/engine"

// Journal records executed operations. *journal.Journal satisfies it.
type Journal interface {
	Record(ctx context.Context, entry journal.Entry) (journal.Entry, error)
	List(ctx context.Context, filter journal.Filter) ([]journal.Entry, error)
}

// Options tunes a NodeAdapter. Every field is optional.
type Options struct {
	Journal Journal
	Metrics *observability.LendingMetrics
	Logger  *slog.Logger
	// DefaultMaxMatches applies when a caller passes a negative maxMatches.
	DefaultMaxMatches int
	// OnCommit runs after every successful mutating call while the adapter
	// still holds its lock.
	OnCommit func(market string)
}

// NodeAdapter serialises calls into the native matching engine. The engine
// itself is single threaded; the adapter's mutex makes it the sequencer.
type NodeAdapter struct {
	mu       sync.Mutex
	engine   *lending.Engine
	journal  Journal
	metrics  *observability.LendingMetrics
	logger   *slog.Logger
	tracer   trace.Tracer
	matches  int
	onCommit func(string)
}

// NewNodeAdapter wires a native engine into the Engine abstraction expected
// by the service.
func NewNodeAdapter(engine *lending.Engine, opts Options) *NodeAdapter {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	matches := opts.DefaultMaxMatches
	if matches < 0 {
		matches = 0
	}
	return &NodeAdapter{
		engine:   engine,
		journal:  opts.Journal,
		metrics:  opts.Metrics,
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
		matches:  matches,
		onCommit: opts.OnCommit,
	}
}

// Locked runs fn with exclusive access to the native engine. Background jobs
// such as index refreshes use it to share the sequencer.
func (a *NodeAdapter) Locked(fn func(*lending.Engine) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return fn(a.engine)
}

func (a *NodeAdapter) maxMatches(requested int) int {
	if requested < 0 {
		return a.matches
	}
	return requested
}

func (a *NodeAdapter) start(ctx context.Context, action string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return a.tracer.Start(ctx, "lending."+action, trace.WithAttributes(attrs...))
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

type userCall func(market string, account common.Address, amount *big.Int, maxMatches int) (*lending.Receipt, error)

func (a *NodeAdapter) userOperation(ctx context.Context, action, addr, market, amount string, maxMatches int, call userCall) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	account, err := parseAddress(addr)
	if err != nil {
		return Receipt{}, err
	}
	value, err := parseAmount(amount)
	if err != nil {
		return Receipt{}, err
	}
	market = lending.NormalizeMarket(market)
	matches := a.maxMatches(maxMatches)

	ctx, span := a.start(ctx, action,
		attribute.String("market", market),
		attribute.String("account", account.Hex()),
		attribute.Int("max_matches", matches),
	)
	started := time.Now()

	a.mu.Lock()
	receipt, opErr := call(market, account, value, matches)
	if opErr == nil {
		a.committed(market)
	}
	a.mu.Unlock()

	a.metrics.ObserveOperation(action, market, opErr, time.Since(started))
	id := uuid.New()
	entry := journal.Entry{ID: id, Action: action, Market: market, Account: account.Hex(), Amount: value.String()}
	if opErr != nil {
		a.record(ctx, failed(entry, opErr))
		finish(span, opErr)
		return Receipt{}, translate(opErr)
	}
	out := toReceipt(id.String(), receipt)
	a.observeReceipt(market, receipt)
	a.record(ctx, withReceipt(entry, out))
	span.SetAttributes(attribute.String("matched", out.Matched), attribute.Int("visited", out.Visited))
	finish(span, nil)
	return out, nil
}

// committed publishes gauges for market and notifies the commit hook. The
// caller holds a.mu.
func (a *NodeAdapter) committed(market string) {
	if snapshot, err := a.engine.MarketSnapshot(market); err == nil {
		a.metrics.SetDeltas(market, snapshot.Deltas.SupplyDelta, snapshot.Deltas.BorrowDelta, snapshot.Params.Decimals)
		a.metrics.SetP2PIndexes(market, snapshot.Indexes.P2PSupply, snapshot.Indexes.P2PBorrow)
	}
	if a.onCommit != nil {
		a.onCommit(market)
	}
}

func (a *NodeAdapter) observeReceipt(market string, receipt *lending.Receipt) {
	if receipt == nil || a.metrics == nil {
		return
	}
	decimals := uint8(18)
	a.mu.Lock()
	if snapshot, err := a.engine.MarketSnapshot(market); err == nil {
		decimals = snapshot.Params.Decimals
	}
	a.mu.Unlock()
	a.metrics.ObserveMatching(receipt.Action, market, receipt.Matched, decimals, receipt.Visited)
}

func (a *NodeAdapter) record(ctx context.Context, entry journal.Entry) {
	if a.journal == nil {
		return
	}
	if _, err := a.journal.Record(context.WithoutCancel(ctx), entry); err != nil {
		a.logger.Error("lending journal write failed", "action", entry.Action, "market", entry.Market, "error", err)
	}
}

func failed(entry journal.Entry, err error) journal.Entry {
	entry.Status = journal.StatusFailed
	entry.Error = err.Error()
	return entry
}

func withReceipt(entry journal.Entry, r Receipt) journal.Entry {
	entry.Status = journal.StatusOK
	entry.Amount = r.Amount
	entry.Matched = r.Matched
	entry.Pool = r.Pool
	entry.DeltaAbsorbed = r.DeltaAbsorbed
	entry.DeltaCreated = r.DeltaCreated
	entry.Visited = r.Visited
	return entry
}

func (a *NodeAdapter) Supply(ctx context.Context, addr, market, amount string, maxMatches int) (Receipt, error) {
	return a.userOperation(ctx, string(lending.ActionSupply), addr, market, amount, maxMatches, a.engine.Supply)
}

func (a *NodeAdapter) Borrow(ctx context.Context, addr, market, amount string, maxMatches int) (Receipt, error) {
	return a.userOperation(ctx, string(lending.ActionBorrow), addr, market, amount, maxMatches, a.engine.Borrow)
}

func (a *NodeAdapter) Withdraw(ctx context.Context, addr, market, amount string, maxMatches int) (Receipt, error) {
	return a.userOperation(ctx, string(lending.ActionWithdraw), addr, market, amount, maxMatches, a.engine.Withdraw)
}

func (a *NodeAdapter) Repay(ctx context.Context, addr, market, amount string, maxMatches int) (Receipt, error) {
	return a.userOperation(ctx, string(lending.ActionRepay), addr, market, amount, maxMatches, a.engine.Repay)
}

// Liquidate repays debt of req.Borrower and seizes collateral. In strict mode
// an amount above the close factor is rejected instead of clamped.
func (a *NodeAdapter) Liquidate(ctx context.Context, req LiquidationRequest) (Liquidation, error) {
	if err := ctx.Err(); err != nil {
		return Liquidation{}, err
	}
	liquidator, err := parseAddress(req.Liquidator)
	if err != nil {
		return Liquidation{}, err
	}
	borrower, err := parseAddress(req.Borrower)
	if err != nil {
		return Liquidation{}, err
	}
	value, err := parseAmount(req.Amount)
	if err != nil {
		return Liquidation{}, err
	}
	borrowedMarket := lending.NormalizeMarket(req.BorrowedMarket)
	collateralMarket := lending.NormalizeMarket(req.CollateralMarket)
	if borrowedMarket == "" || collateralMarket == "" {
		return Liquidation{}, fmt.Errorf("%w: both markets are required", ErrInvalidArgument)
	}
	matches := a.maxMatches(req.MaxMatches)
	action := string(lending.ActionLiquidate)

	ctx, span := a.start(ctx, action,
		attribute.String("borrowed_market", borrowedMarket),
		attribute.String("collateral_market", collateralMarket),
		attribute.String("borrower", borrower.Hex()),
	)
	started := time.Now()

	a.mu.Lock()
	var result *lending.LiquidationReceipt
	opErr := func() error {
		if req.Strict {
			if err := a.engine.CheckCloseFactor(borrowedMarket, borrower, value); err != nil {
				return err
			}
		}
		var err error
		result, err = a.engine.Liquidate(borrowedMarket, collateralMarket, liquidator, borrower, value, matches)
		return err
	}()
	if opErr == nil {
		a.committed(borrowedMarket)
		if collateralMarket != borrowedMarket {
			a.committed(collateralMarket)
		}
	}
	a.mu.Unlock()

	a.metrics.ObserveOperation(action, borrowedMarket, opErr, time.Since(started))
	id := uuid.New()
	entry := journal.Entry{
		ID:           id,
		Action:       action,
		Market:       borrowedMarket,
		Account:      liquidator.Hex(),
		Counterparty: borrower.Hex(),
		Amount:       value.String(),
	}
	if opErr != nil {
		a.record(ctx, failed(entry, opErr))
		finish(span, opErr)
		return Liquidation{}, translate(opErr)
	}

	out := Liquidation{
		ID:               id.String(),
		Liquidator:       liquidator.Hex(),
		Borrower:         borrower.Hex(),
		BorrowedMarket:   borrowedMarket,
		CollateralMarket: collateralMarket,
		Repaid:           bigString(result.Repaid),
		Seized:           bigString(result.Seized),
		Repay:            toReceipt(id.String(), result.Repay),
		Seize:            toReceipt(id.String(), result.Seize),
	}
	a.observeReceipt(borrowedMarket, result.Repay)
	entry = withReceipt(entry, out.Repay)
	entry.Amount = out.Repaid
	a.record(ctx, entry)
	a.logger.Info("lending liquidation executed",
		"market", borrowedMarket,
		"collateral", collateralMarket,
		"repaid", out.Repaid,
		"seized", out.Seized,
	)
	finish(span, nil)
	return out, nil
}

// UpdateIndexes refreshes and stores the indexes of market.
func (a *NodeAdapter) UpdateIndexes(ctx context.Context, market string) (Indexes, error) {
	if err := ctx.Err(); err != nil {
		return Indexes{}, err
	}
	market = lending.NormalizeMarket(market)
	_, span := a.start(ctx, "update_indexes", attribute.String("market", market))
	started := time.Now()
	a.mu.Lock()
	indexes, err := a.engine.UpdateIndexes(market)
	if err == nil {
		a.committed(market)
	}
	a.mu.Unlock()
	a.metrics.ObserveOperation("update_indexes", market, err, time.Since(started))
	finish(span, err)
	if err != nil {
		return Indexes{}, translate(err)
	}
	return toIndexes(indexes), nil
}

// Rebalance folds outstanding deltas back into P2P matches.
func (a *NodeAdapter) Rebalance(ctx context.Context, market string, maxMatches int) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	market = lending.NormalizeMarket(market)
	matches := a.maxMatches(maxMatches)
	ctx, span := a.start(ctx, "rebalance", attribute.String("market", market), attribute.Int("max_matches", matches))
	started := time.Now()
	a.mu.Lock()
	receipt, err := a.engine.Rebalance(market, matches)
	if err == nil {
		a.committed(market)
	}
	a.mu.Unlock()
	a.metrics.ObserveOperation("rebalance", market, err, time.Since(started))
	id := uuid.New()
	entry := journal.Entry{ID: id, Action: "rebalance", Market: market}
	if err != nil {
		a.record(ctx, failed(entry, err))
		finish(span, err)
		return Receipt{}, translate(err)
	}
	out := toReceipt(id.String(), receipt)
	a.observeReceipt(market, receipt)
	a.record(ctx, withReceipt(entry, out))
	finish(span, nil)
	return out, nil
}

// IncreaseP2PDeltas moves matched notional back to the pool and returns the
// amount moved.
func (a *NodeAdapter) IncreaseP2PDeltas(ctx context.Context, market, amount string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	value, err := parseAmount(amount)
	if err != nil {
		return "", err
	}
	market = lending.NormalizeMarket(market)
	ctx, span := a.start(ctx, "increase_p2p_deltas", attribute.String("market", market))
	started := time.Now()
	a.mu.Lock()
	moved, err := a.engine.IncreaseP2PDeltas(market, value)
	if err == nil {
		a.committed(market)
	}
	a.mu.Unlock()
	a.metrics.ObserveOperation("increase_p2p_deltas", market, err, time.Since(started))
	entry := journal.Entry{ID: uuid.New(), Action: "increase_p2p_deltas", Market: market, Amount: value.String()}
	if err != nil {
		a.record(ctx, failed(entry, err))
		finish(span, err)
		return "", translate(err)
	}
	entry.DeltaCreated = moved.String()
	a.record(ctx, entry)
	finish(span, nil)
	return moved.String(), nil
}

// Govern applies a governance update. Each field commits on its own, in the
// order pauses, deprecation, P2P switch, then the numeric parameters.
func (a *NodeAdapter) Govern(ctx context.Context, market string, update GovernanceUpdate) (Market, error) {
	if err := ctx.Err(); err != nil {
		return Market{}, err
	}
	if update.Empty() {
		return Market{}, fmt.Errorf("%w: empty governance update", ErrInvalidArgument)
	}
	market = lending.NormalizeMarket(market)
	ctx, span := a.start(ctx, "govern", attribute.String("market", market))

	a.mu.Lock()
	defer a.mu.Unlock()
	steps := make([]func() (*lending.Market, error), 0, 6)
	if update.Pauses != nil {
		pauses := lending.ActionPauses(*update.Pauses)
		steps = append(steps, func() (*lending.Market, error) { return a.engine.SetMarketPauses(market, pauses) })
	}
	if update.Deprecated != nil {
		deprecated := *update.Deprecated
		steps = append(steps, func() (*lending.Market, error) { return a.engine.SetDeprecated(market, deprecated) })
	}
	if update.P2PDisabled != nil {
		disabled := *update.P2PDisabled
		steps = append(steps, func() (*lending.Market, error) { return a.engine.SetP2PDisabled(market, disabled) })
	}
	if update.ReserveFactorBps != nil {
		bps := *update.ReserveFactorBps
		steps = append(steps, func() (*lending.Market, error) { return a.engine.SetReserveFactor(market, bps) })
	}
	if update.P2PIndexCursorBps != nil {
		bps := *update.P2PIndexCursorBps
		steps = append(steps, func() (*lending.Market, error) { return a.engine.SetP2PIndexCursor(market, bps) })
	}
	if update.MaxRankedSize != nil {
		size := *update.MaxRankedSize
		steps = append(steps, func() (*lending.Market, error) { return a.engine.SetMaxRankedSize(market, size) })
	}
	var updated *lending.Market
	for _, step := range steps {
		var err error
		if updated, err = step(); err != nil {
			finish(span, err)
			return Market{}, translate(err)
		}
	}
	a.committed(market)
	a.logger.Info("lending market governance applied", "market", market)
	a.record(ctx, journal.Entry{ID: uuid.New(), Action: "govern", Market: market})
	finish(span, nil)
	return a.marketView(updated)
}

// marketView renders m; the caller holds a.mu.
func (a *NodeAdapter) marketView(m *lending.Market) (Market, error) {
	reserve, err := a.engine.Reserve(m.ID)
	if err != nil {
		return Market{}, translate(err)
	}
	return toMarket(m, reserve), nil
}

func (a *NodeAdapter) GetMarket(ctx context.Context, market string) (Market, error) {
	if err := ctx.Err(); err != nil {
		return Market{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	snapshot, err := a.engine.MarketSnapshot(market)
	if err != nil {
		return Market{}, translate(err)
	}
	return a.marketView(snapshot)
}

func (a *NodeAdapter) ListMarkets(ctx context.Context) ([]Market, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := a.engine.Markets()
	results := make([]Market, 0, len(ids))
	for _, id := range ids {
		snapshot, err := a.engine.MarketSnapshot(id)
		if err != nil {
			return nil, translate(err)
		}
		view, err := a.marketView(snapshot)
		if err != nil {
			return nil, err
		}
		results = append(results, view)
	}
	return results, nil
}

func (a *NodeAdapter) GetPositions(ctx context.Context, addr string) ([]Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	account, err := parseAddress(addr)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.positions(account)
}

// positions lists every open position of account; the caller holds a.mu.
func (a *NodeAdapter) positions(account common.Address) ([]Position, error) {
	out := []Position{}
	for _, market := range a.engine.AccountMarkets(account) {
		for _, side := range []lending.Side{lending.SideSupply, lending.SideBorrow} {
			stored, err := a.engine.Position(market, account, side)
			if err != nil {
				return nil, translate(err)
			}
			if stored.IsZero() {
				continue
			}
			balances, err := a.engine.PositionBalances(market, account, side)
			if err != nil {
				return nil, translate(err)
			}
			out = append(out, Position{
				Market: market,
				Side:   side.String(),
				OnPool: bigString(balances.OnPool),
				InP2P:  bigString(balances.InP2P),
				Total:  bigString(balances.Total),
			})
		}
	}
	return out, nil
}

func (a *NodeAdapter) GetHealth(ctx context.Context, addr string) (Health, error) {
	if err := ctx.Err(); err != nil {
		return Health{}, err
	}
	account, err := parseAddress(addr)
	if err != nil {
		return Health{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	health, err := a.engine.Health(account)
	if err != nil {
		return Health{}, translate(err)
	}
	positions, err := a.positions(account)
	if err != nil {
		return Health{}, err
	}
	return Health{
		Account:        account.Hex(),
		Collateral:     bigString(health.Collateral),
		BorrowCapacity: bigString(health.BorrowCapacity),
		Debt:           bigString(health.Debt),
		HealthFactor:   bigString(health.HealthFactor),
		Liquidatable:   health.Liquidatable(),
		Positions:      positions,
	}, nil
}

func (a *NodeAdapter) GetCapacity(ctx context.Context, addr, market string) (Capacity, error) {
	if err := ctx.Err(); err != nil {
		return Capacity{}, err
	}
	account, err := parseAddress(addr)
	if err != nil {
		return Capacity{}, err
	}
	market = lending.NormalizeMarket(market)
	a.mu.Lock()
	defer a.mu.Unlock()
	borrowable, err := a.engine.MaxBorrowable(market, account)
	if err != nil {
		return Capacity{}, translate(err)
	}
	withdrawable, err := a.engine.MaxWithdrawable(market, account)
	if err != nil {
		return Capacity{}, translate(err)
	}
	return Capacity{
		Account:         account.Hex(),
		Market:          market,
		MaxBorrowable:   borrowable.String(),
		MaxWithdrawable: withdrawable.String(),
	}, nil
}

func (a *NodeAdapter) GetRanking(ctx context.Context, market, kind string, limit int) ([]RankingEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	parsed, err := ranking.ParseKind(kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	market = lending.NormalizeMarket(market)
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.engine.Deltas(market); err != nil {
		return nil, translate(err)
	}
	entries := a.engine.RankingEntries(market, parsed, limit)
	out := make([]RankingEntry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, RankingEntry{Account: entry.Account.Hex(), Balance: bigString(entry.Balance)})
	}
	return out, nil
}

func (a *NodeAdapter) History(ctx context.Context, filter journal.Filter) ([]journal.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if a.journal == nil {
		return nil, fmt.Errorf("%w: journal disabled", ErrUnavailable)
	}
	if filter.Account != "" {
		account, err := parseAddress(filter.Account)
		if err != nil {
			return nil, err
		}
		filter.Account = account.Hex()
	}
	entries, err := a.journal.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInternal, err)
	}
	return entries, nil
}

func parseAddress(addr string) (common.Address, error) {
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		return common.Address{}, fmt.Errorf("%w: address required", ErrInvalidArgument)
	}
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("%w: invalid address %q", ErrInvalidArgument, trimmed)
	}
	return common.HexToAddress(trimmed), nil
}

func parseAmount(amount string) (*big.Int, error) {
	trimmed := strings.TrimSpace(amount)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required: %w", ErrInvalidAmount)
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %w", ErrInvalidAmount)
	}
	if value.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive: %w", ErrInvalidAmount)
	}
	return value, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func toReceipt(id string, r *lending.Receipt) Receipt {
	if r == nil {
		return Receipt{ID: id}
	}
	out := Receipt{
		ID:            id,
		Action:        r.Action,
		Market:        r.Market,
		Amount:        bigString(r.Amount),
		Matched:       bigString(r.Matched),
		Pool:          bigString(r.Pool),
		DeltaAbsorbed: bigString(r.DeltaAbsorbed),
		DeltaCreated:  bigString(r.DeltaCreated),
		Visited:       r.Visited,
	}
	if r.Account != (common.Address{}) {
		out.Account = r.Account.Hex()
	}
	return out
}

func toIndexes(i lending.Indexes) Indexes {
	return Indexes{
		PoolSupply:      bigString(i.PoolSupply),
		PoolBorrow:      bigString(i.PoolBorrow),
		P2PSupply:       bigString(i.P2PSupply),
		P2PBorrow:       bigString(i.P2PBorrow),
		LastUpdateBlock: i.LastUpdateBlock,
	}
}

func toMarket(m *lending.Market, reserve *big.Int) Market {
	return Market{
		ID:                      m.ID,
		Decimals:                m.Params.Decimals,
		LTVBps:                  m.Params.LTVBps,
		LiquidationThresholdBps: m.Params.LiquidationThresholdBps,
		LiquidationBonusBps:     m.Params.LiquidationBonusBps,
		CloseFactorBps:          m.Params.CloseFactorBps,
		ReserveFactorBps:        m.Params.ReserveFactorBps,
		P2PIndexCursorBps:       m.Params.P2PIndexCursorBps,
		MaxRankedSize:           m.Params.MaxRankedSize,
		Indexes:                 toIndexes(m.Indexes),
		Deltas: Deltas{
			SupplyDelta:     bigString(m.Deltas.SupplyDelta),
			BorrowDelta:     bigString(m.Deltas.BorrowDelta),
			P2PSupplyAmount: bigString(m.Deltas.P2PSupplyAmount),
			P2PBorrowAmount: bigString(m.Deltas.P2PBorrowAmount),
		},
		Reserve:     bigString(reserve),
		Pauses:      Pauses(m.Pauses),
		Deprecated:  m.Deprecated,
		P2PDisabled: m.P2PDisabled,
	}
}
