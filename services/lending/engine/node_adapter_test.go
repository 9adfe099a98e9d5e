package engine

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"peerlend/native/lending"
	"peerlend/native/lending/pool"
	"peerlend/services/lending/journal"
)

const (
	supplierHex   = "0x00000000000000000000000000000000000000a1"
	borrowerHex   = "0x00000000000000000000000000000000000000b2"
	liquidatorHex = "0x00000000000000000000000000000000000000c3"
)

func units(n int64) string {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000)).String()
}

type memoryJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
	fail    error
}

func (j *memoryJournal) Record(_ context.Context, entry journal.Entry) (journal.Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.fail != nil {
		return journal.Entry{}, j.fail
	}
	j.entries = append(j.entries, entry)
	return entry, nil
}

func (j *memoryJournal) List(_ context.Context, filter journal.Filter) ([]journal.Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]journal.Entry, 0, len(j.entries))
	for _, entry := range j.entries {
		if filter.Account != "" && entry.Account != filter.Account && entry.Counterparty != filter.Account {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

type adapterHarness struct {
	adapter *NodeAdapter
	oracle  *pool.StaticOracle
	journal *memoryJournal
}

func newAdapterHarness(t *testing.T) *adapterHarness {
	t.Helper()
	p := pool.NewMemory(nil)
	o := pool.NewStaticOracle()
	for symbol, price := range map[string]int64{"DAI": 1, "ETH": 2000} {
		require.NoError(t, p.Open(symbol))
		value, _ := new(big.Int).SetString(units(price), 10)
		o.Set(symbol, value)
	}
	seed, _ := new(big.Int).SetString(units(10_000), 10)
	require.NoError(t, p.Seed("DAI", seed))

	native := lending.NewEngine(p, o)
	for _, symbol := range []string{"DAI", "ETH"} {
		_, err := native.CreateMarket(symbol, lending.DefaultMarketParams())
		require.NoError(t, err)
	}
	j := &memoryJournal{}
	return &adapterHarness{
		adapter: NewNodeAdapter(native, Options{Journal: j, DefaultMaxMatches: 16}),
		oracle:  o,
		journal: j,
	}
}

func TestAdapterBorrowMatchesOnPoolSupplier(t *testing.T) {
	h := newAdapterHarness(t)
	ctx := context.Background()

	supplied, err := h.adapter.Supply(ctx, supplierHex, "dai", units(600), -1)
	require.NoError(t, err)
	require.Equal(t, "DAI", supplied.Market)
	require.Equal(t, units(600), supplied.Pool)
	if _, err := uuid.Parse(supplied.ID); err != nil {
		t.Fatalf("expected uuid receipt id, got %q", supplied.ID)
	}

	_, err = h.adapter.Supply(ctx, borrowerHex, "ETH", units(1), -1)
	require.NoError(t, err)
	borrowed, err := h.adapter.Borrow(ctx, borrowerHex, "DAI", units(1000), -1)
	require.NoError(t, err)
	require.Equal(t, units(600), borrowed.Matched)
	require.Equal(t, units(400), borrowed.Pool)
	require.Equal(t, 1, borrowed.Visited)

	positions, err := h.adapter.GetPositions(ctx, supplierHex)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	require.Equal(t, "supply", positions[0].Side)
	require.Equal(t, units(600), positions[0].InP2P)
	require.Equal(t, "0", positions[0].OnPool)

	ranked, err := h.adapter.GetRanking(ctx, "DAI", "supplier-in-p2p", 10)
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	require.Equal(t, units(600), ranked[0].Balance)

	market, err := h.adapter.GetMarket(ctx, "DAI")
	require.NoError(t, err)
	require.Equal(t, units(600), market.Deltas.P2PSupplyAmount)

	require.Len(t, h.journal.entries, 3)
	last := h.journal.entries[2]
	require.Equal(t, "borrow", last.Action)
	require.Equal(t, journal.StatusOK, last.Status)
	require.Equal(t, borrowed.ID, last.ID.String())
	require.Equal(t, units(600), last.Matched)
}

func TestAdapterZeroMaxMatchesUsesPool(t *testing.T) {
	h := newAdapterHarness(t)
	ctx := context.Background()
	_, err := h.adapter.Supply(ctx, supplierHex, "DAI", units(600), 0)
	require.NoError(t, err)
	_, err = h.adapter.Supply(ctx, borrowerHex, "ETH", units(1), 0)
	require.NoError(t, err)

	borrowed, err := h.adapter.Borrow(ctx, borrowerHex, "DAI", units(100), 0)
	require.NoError(t, err)
	require.Equal(t, "0", borrowed.Matched)
	require.Equal(t, units(100), borrowed.Pool)
	require.Equal(t, 0, borrowed.Visited)
}

func TestAdapterRejectsBadInput(t *testing.T) {
	h := newAdapterHarness(t)
	ctx := context.Background()
	cases := []struct {
		name   string
		addr   string
		amount string
		want   error
	}{
		{"empty address", "", units(1), ErrInvalidArgument},
		{"malformed address", "0xzz", units(1), ErrInvalidArgument},
		{"empty amount", supplierHex, "", ErrInvalidAmount},
		{"zero amount", supplierHex, "0", ErrInvalidAmount},
		{"negative amount", supplierHex, "-5", ErrInvalidAmount},
		{"decimal amount", supplierHex, "1.5", ErrInvalidAmount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.adapter.Supply(ctx, tc.addr, "DAI", tc.amount, 1)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	require.Empty(t, h.journal.entries)

	_, err := h.adapter.Supply(ctx, supplierHex, "BTC", units(1), 1)
	require.ErrorIs(t, err, ErrNotFound)
	require.Len(t, h.journal.entries, 1)
	require.Equal(t, journal.StatusFailed, h.journal.entries[0].Status)
	require.NotEmpty(t, h.journal.entries[0].Error)
}

func TestAdapterTranslatesEngineErrors(t *testing.T) {
	h := newAdapterHarness(t)
	ctx := context.Background()

	_, err := h.adapter.Borrow(ctx, borrowerHex, "DAI", units(1), 1)
	require.ErrorIs(t, err, ErrInsufficientCollateral)

	_, err = h.adapter.Withdraw(ctx, supplierHex, "DAI", units(1), 1)
	require.ErrorIs(t, err, ErrInvalidArgument)

	paused := true
	_, err = h.adapter.Govern(ctx, "DAI", GovernanceUpdate{Pauses: &Pauses{Supply: paused}})
	require.NoError(t, err)
	_, err = h.adapter.Supply(ctx, supplierHex, "DAI", units(1), 1)
	require.ErrorIs(t, err, ErrPaused)
}

func TestAdapterLiquidate(t *testing.T) {
	h := newAdapterHarness(t)
	ctx := context.Background()
	_, err := h.adapter.Supply(ctx, borrowerHex, "ETH", units(1), 4)
	require.NoError(t, err)
	_, err = h.adapter.Borrow(ctx, borrowerHex, "DAI", units(1000), 4)
	require.NoError(t, err)

	req := LiquidationRequest{
		Liquidator:       liquidatorHex,
		Borrower:         borrowerHex,
		BorrowedMarket:   "DAI",
		CollateralMarket: "ETH",
		Amount:           units(100),
		MaxMatches:       4,
	}
	_, err = h.adapter.Liquidate(ctx, req)
	require.ErrorIs(t, err, ErrNotLiquidatable)

	health, err := h.adapter.GetHealth(ctx, borrowerHex)
	require.NoError(t, err)
	require.False(t, health.Liquidatable)
	require.Len(t, health.Positions, 2)

	crashed, _ := new(big.Int).SetString(units(1000), 10)
	h.oracle.Set("ETH", crashed)

	strict := req
	strict.Strict = true
	strict.Amount = units(600)
	_, err = h.adapter.Liquidate(ctx, strict)
	require.ErrorIs(t, err, ErrInvalidArgument)

	result, err := h.adapter.Liquidate(ctx, req)
	require.NoError(t, err)
	require.Equal(t, units(100), result.Repaid)
	seized, ok := new(big.Int).SetString(result.Seized, 10)
	if !ok || seized.Sign() <= 0 {
		t.Fatalf("expected positive seize, got %q", result.Seized)
	}
	require.Equal(t, result.ID, result.Repay.ID)

	last := h.journal.entries[len(h.journal.entries)-1]
	require.Equal(t, "liquidate", last.Action)
	require.Equal(t, common.HexToAddress(borrowerHex).Hex(), last.Counterparty)

	history, err := h.adapter.History(ctx, journal.Filter{Account: borrowerHex})
	require.NoError(t, err)
	require.NotEmpty(t, history)
}

func TestAdapterGovernAndMaintenance(t *testing.T) {
	h := newAdapterHarness(t)
	ctx := context.Background()

	_, err := h.adapter.Govern(ctx, "DAI", GovernanceUpdate{})
	require.ErrorIs(t, err, ErrInvalidArgument)

	deprecated := true
	_, err = h.adapter.Govern(ctx, "DAI", GovernanceUpdate{Deprecated: &deprecated})
	require.ErrorIs(t, err, ErrInvalidArgument)

	reserve := uint64(2_000)
	market, err := h.adapter.Govern(ctx, "DAI", GovernanceUpdate{
		ReserveFactorBps: &reserve,
		Pauses:           &Pauses{Borrow: true},
		Deprecated:       &deprecated,
	})
	require.NoError(t, err)
	require.Equal(t, uint64(2_000), market.ReserveFactorBps)
	require.True(t, market.Deprecated)
	require.True(t, market.Pauses.Borrow)

	tooHigh := uint64(10_001)
	_, err = h.adapter.Govern(ctx, "ETH", GovernanceUpdate{ReserveFactorBps: &tooHigh})
	require.ErrorIs(t, err, ErrInvalidArgument)

	indexes, err := h.adapter.UpdateIndexes(ctx, "ETH")
	require.NoError(t, err)
	require.NotEmpty(t, indexes.P2PSupply)

	_, err = h.adapter.UpdateIndexes(ctx, "BTC")
	require.ErrorIs(t, err, ErrNotFound)

	moved, err := h.adapter.IncreaseP2PDeltas(ctx, "ETH", units(1))
	require.NoError(t, err)
	require.Equal(t, "0", moved)

	markets, err := h.adapter.ListMarkets(ctx)
	require.NoError(t, err)
	require.Len(t, markets, 2)
	require.Equal(t, "DAI", markets[0].ID)
}

func TestAdapterRebalanceAndRepay(t *testing.T) {
	h := newAdapterHarness(t)
	ctx := context.Background()

	_, err := h.adapter.Supply(ctx, supplierHex, "DAI", units(1_000), -1)
	require.NoError(t, err)
	_, err = h.adapter.Supply(ctx, borrowerHex, "ETH", units(1), -1)
	require.NoError(t, err)
	_, err = h.adapter.Borrow(ctx, borrowerHex, "DAI", units(600), -1)
	require.NoError(t, err)

	moved, err := h.adapter.IncreaseP2PDeltas(ctx, "DAI", units(100))
	require.NoError(t, err)
	require.Equal(t, units(100), moved)

	receipt, err := h.adapter.Rebalance(ctx, "dai", -1)
	require.NoError(t, err)
	require.Equal(t, "rebalance", receipt.Action)
	require.Equal(t, "DAI", receipt.Market)
	require.NotEqual(t, "0", receipt.DeltaAbsorbed)

	_, err = h.adapter.Rebalance(ctx, "BTC", -1)
	require.ErrorIs(t, err, ErrNotFound)

	repaid, err := h.adapter.Repay(ctx, borrowerHex, "DAI", units(600), -1)
	require.NoError(t, err)
	require.Equal(t, units(600), repaid.Amount)

	actions := make(map[string]int)
	for _, entry := range h.journal.entries {
		actions[entry.Action]++
	}
	require.Equal(t, 2, actions["rebalance"])
	require.Equal(t, 1, actions["repay"])
}

func TestAdapterCapacity(t *testing.T) {
	h := newAdapterHarness(t)
	ctx := context.Background()
	_, err := h.adapter.Supply(ctx, borrowerHex, "ETH", units(1), 4)
	require.NoError(t, err)

	capacity, err := h.adapter.GetCapacity(ctx, borrowerHex, "dai")
	require.NoError(t, err)
	require.Equal(t, "DAI", capacity.Market)
	require.Equal(t, units(1500), capacity.MaxBorrowable)
	require.Equal(t, "0", capacity.MaxWithdrawable)

	_, err = h.adapter.GetRanking(ctx, "DAI", "lenders", 5)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestAdapterJournalFailureDoesNotFailOperation(t *testing.T) {
	h := newAdapterHarness(t)
	h.journal.fail = errors.New("disk full")
	_, err := h.adapter.Supply(context.Background(), supplierHex, "DAI", units(5), 1)
	require.NoError(t, err)
}

func TestAdapterHonoursCancelledContext(t *testing.T) {
	h := newAdapterHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.adapter.Supply(ctx, supplierHex, "DAI", units(5), 1)
	require.ErrorIs(t, err, context.Canceled)
}

func TestAdapterHistoryWithoutJournal(t *testing.T) {
	adapter := NewNodeAdapter(nil, Options{})
	_, err := adapter.History(context.Background(), journal.Filter{})
	require.ErrorIs(t, err, ErrUnavailable)
}
