package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"peerlend/native/lending"
	"peerlend/native/lending/pool"
	"peerlend/services/lending/engine"
	"peerlend/services/lending/journal"
	"peerlend/services/lending/server"
)

const (
	supplierHex = "0x00000000000000000000000000000000000000a1"
	borrowerHex = "0x00000000000000000000000000000000000000b2"
)

func units(n int64) string {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000)).String()
}

func newTestClient(t *testing.T) *Client {
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

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	adapter := engine.NewNodeAdapter(native, engine.Options{Logger: logger, DefaultMaxMatches: 8})
	handler, err := server.New(server.Config{Engine: adapter, Logger: logger})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL + "/", HTTPClient: srv.Client()})
	require.NoError(t, err)
	return c
}

func TestClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	markets, err := c.ListMarkets(ctx)
	require.NoError(t, err)
	require.Len(t, markets, 2)

	_, err = c.Supply(ctx, supplierHex, "DAI", units(1_000), -1)
	require.NoError(t, err)
	_, err = c.Supply(ctx, borrowerHex, "ETH", units(1), -1)
	require.NoError(t, err)
	receipt, err := c.Borrow(ctx, borrowerHex, "DAI", units(300), 4)
	require.NoError(t, err)
	require.Equal(t, units(300), receipt.Matched)
	require.Equal(t, 1, receipt.Visited)

	positions, err := c.GetPositions(ctx, borrowerHex)
	require.NoError(t, err)
	require.Len(t, positions, 2)

	health, err := c.GetHealth(ctx, borrowerHex)
	require.NoError(t, err)
	require.False(t, health.Liquidatable)

	entries, err := c.GetRanking(ctx, "DAI", "borrower-in-p2p", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	paused := true
	market, err := c.Govern(ctx, "ETH", engine.GovernanceUpdate{Pauses: &engine.Pauses{Borrow: paused}})
	require.NoError(t, err)
	require.True(t, market.Pauses.Borrow)
}

func TestClientMapsErrors(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	_, err := c.GetMarket(ctx, "BTC")
	require.ErrorIs(t, err, engine.ErrNotFound)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusNotFound, apiErr.Status)

	_, err = c.Borrow(ctx, borrowerHex, "DAI", units(1), -1)
	require.ErrorIs(t, err, engine.ErrInsufficientCollateral)

	_, err = c.Supply(ctx, "not-an-address", "DAI", units(1), -1)
	require.ErrorIs(t, err, engine.ErrInvalidArgument)

	_, err = c.History(ctx, journal.Filter{})
	require.ErrorIs(t, err, engine.ErrUnavailable)
}

func TestNewRequiresBaseURL(t *testing.T) {
	if _, err := New(Config{BaseURL: "  "}); err == nil {
		t.Fatalf("expected error for empty base url")
	}
}
