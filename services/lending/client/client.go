// Package client talks to a lendingd HTTP endpoint. *Client satisfies
// engine.Engine, so tooling can drive a remote daemon through the same
// interface the server is built on.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"peerlend/services/lending/engine"
	"peerlend/services/lending/journal"
)

// Config controls how the Client reaches lendingd.
type Config struct {
	BaseURL     string
	BearerToken string
	// CAFile adds a PEM bundle to the system roots.
	CAFile        string
	AllowInsecure bool
	Timeout       time.Duration
	// HTTPClient overrides the transport built from the fields above.
	HTTPClient *http.Client
}

// Client is a JSON client for the lendingd API.
type Client struct {
	baseURL string
	http    *http.Client
	bearer  string
}

var _ engine.Engine = (*Client)(nil)

// New constructs a Client from cfg.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
		if cfg.AllowInsecure {
			tlsConfig.InsecureSkipVerify = true
		} else {
			systemPool, err := x509.SystemCertPool()
			if err != nil {
				return nil, fmt.Errorf("load system cert pool: %w", err)
			}
			if systemPool == nil {
				systemPool = x509.NewCertPool()
			}
			if strings.TrimSpace(cfg.CAFile) != "" {
				pemBytes, err := os.ReadFile(cfg.CAFile)
				if err != nil {
					return nil, fmt.Errorf("read ca file: %w", err)
				}
				if ok := systemPool.AppendCertsFromPEM(pemBytes); !ok {
					return nil, fmt.Errorf("append ca certificates: invalid pem data")
				}
			}
			tlsConfig.RootCAs = systemPool
		}
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(&http.Transport{TLSClientConfig: tlsConfig}),
		}
	}
	return &Client{baseURL: baseURL, http: httpClient, bearer: strings.TrimSpace(cfg.BearerToken)}, nil
}

// APIError is a non-2xx response. It unwraps to the engine sentinel matching
// its status so callers can use errors.Is across the wire.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lendingd: %d %s: %s", e.Status, http.StatusText(e.Status), e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusNotFound:
		return engine.ErrNotFound
	case http.StatusBadRequest:
		return engine.ErrInvalidArgument
	case http.StatusUnauthorized, http.StatusForbidden:
		return engine.ErrUnauthorized
	case http.StatusConflict:
		if strings.Contains(e.Message, engine.ErrNotLiquidatable.Error()) {
			return engine.ErrNotLiquidatable
		}
		return engine.ErrConflict
	case http.StatusUnprocessableEntity:
		if strings.Contains(e.Message, engine.ErrInsufficientLiquidity.Error()) {
			return engine.ErrInsufficientLiquidity
		}
		return engine.ErrInsufficientCollateral
	case http.StatusServiceUnavailable:
		if strings.Contains(e.Message, engine.ErrPaused.Error()) {
			return engine.ErrPaused
		}
		return engine.ErrUnavailable
	default:
		return engine.ErrInternal
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	var reader io.Reader
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = &buf
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call lendingd: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&payload)
		return &APIError{Status: resp.StatusCode, Message: payload.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type operation struct {
	Account    string `json:"account"`
	Market     string `json:"market"`
	Amount     string `json:"amount"`
	MaxMatches *int   `json:"maxMatches,omitempty"`
}

// matchLimit omits negative limits so the daemon applies its default.
func matchLimit(maxMatches int) *int {
	if maxMatches < 0 {
		return nil
	}
	return &maxMatches
}

func (c *Client) operate(ctx context.Context, path, addr, market, amount string, maxMatches int) (engine.Receipt, error) {
	var receipt engine.Receipt
	err := c.do(ctx, http.MethodPost, path, operation{
		Account:    addr,
		Market:     market,
		Amount:     amount,
		MaxMatches: matchLimit(maxMatches),
	}, &receipt)
	return receipt, err
}

func (c *Client) Supply(ctx context.Context, addr, market, amount string, maxMatches int) (engine.Receipt, error) {
	return c.operate(ctx, "/supply", addr, market, amount, maxMatches)
}

func (c *Client) Borrow(ctx context.Context, addr, market, amount string, maxMatches int) (engine.Receipt, error) {
	return c.operate(ctx, "/borrow", addr, market, amount, maxMatches)
}

func (c *Client) Withdraw(ctx context.Context, addr, market, amount string, maxMatches int) (engine.Receipt, error) {
	return c.operate(ctx, "/withdraw", addr, market, amount, maxMatches)
}

func (c *Client) Repay(ctx context.Context, addr, market, amount string, maxMatches int) (engine.Receipt, error) {
	return c.operate(ctx, "/repay", addr, market, amount, maxMatches)
}

func (c *Client) Liquidate(ctx context.Context, req engine.LiquidationRequest) (engine.Liquidation, error) {
	body := struct {
		Liquidator       string `json:"liquidator"`
		Borrower         string `json:"borrower"`
		BorrowedMarket   string `json:"borrowedMarket"`
		CollateralMarket string `json:"collateralMarket"`
		Amount           string `json:"amount"`
		MaxMatches       *int   `json:"maxMatches,omitempty"`
		Strict           bool   `json:"strict,omitempty"`
	}{
		Liquidator:       req.Liquidator,
		Borrower:         req.Borrower,
		BorrowedMarket:   req.BorrowedMarket,
		CollateralMarket: req.CollateralMarket,
		Amount:           req.Amount,
		MaxMatches:       matchLimit(req.MaxMatches),
		Strict:           req.Strict,
	}
	var out engine.Liquidation
	err := c.do(ctx, http.MethodPost, "/liquidate", body, &out)
	return out, err
}

func (c *Client) UpdateIndexes(ctx context.Context, market string) (engine.Indexes, error) {
	var out engine.Indexes
	err := c.do(ctx, http.MethodPost, "/indexes/"+url.PathEscape(market), nil, &out)
	return out, err
}

func (c *Client) Rebalance(ctx context.Context, market string, maxMatches int) (engine.Receipt, error) {
	body := struct {
		MaxMatches *int `json:"maxMatches,omitempty"`
	}{MaxMatches: matchLimit(maxMatches)}
	var out engine.Receipt
	err := c.do(ctx, http.MethodPost, "/markets/"+url.PathEscape(market)+"/rebalance", body, &out)
	return out, err
}

func (c *Client) IncreaseP2PDeltas(ctx context.Context, market, amount string) (string, error) {
	var out struct {
		Moved string `json:"moved"`
	}
	err := c.do(ctx, http.MethodPost, "/markets/"+url.PathEscape(market)+"/deltas", map[string]string{"amount": amount}, &out)
	return out.Moved, err
}

func (c *Client) Govern(ctx context.Context, market string, update engine.GovernanceUpdate) (engine.Market, error) {
	var out engine.Market
	err := c.do(ctx, http.MethodPatch, "/admin/markets/"+url.PathEscape(market), update, &out)
	return out, err
}

func (c *Client) GetMarket(ctx context.Context, market string) (engine.Market, error) {
	var out engine.Market
	err := c.do(ctx, http.MethodGet, "/markets/"+url.PathEscape(market), nil, &out)
	return out, err
}

func (c *Client) ListMarkets(ctx context.Context) ([]engine.Market, error) {
	var out struct {
		Markets []engine.Market `json:"markets"`
	}
	err := c.do(ctx, http.MethodGet, "/markets", nil, &out)
	return out.Markets, err
}

func (c *Client) GetPositions(ctx context.Context, addr string) ([]engine.Position, error) {
	var out struct {
		Positions []engine.Position `json:"positions"`
	}
	err := c.do(ctx, http.MethodGet, "/positions/"+url.PathEscape(addr), nil, &out)
	return out.Positions, err
}

func (c *Client) GetHealth(ctx context.Context, addr string) (engine.Health, error) {
	var out engine.Health
	err := c.do(ctx, http.MethodGet, "/health/"+url.PathEscape(addr), nil, &out)
	return out, err
}

func (c *Client) GetCapacity(ctx context.Context, addr, market string) (engine.Capacity, error) {
	var out engine.Capacity
	err := c.do(ctx, http.MethodGet, "/capacity/"+url.PathEscape(addr)+"/"+url.PathEscape(market), nil, &out)
	return out, err
}

func (c *Client) GetRanking(ctx context.Context, market, kind string, limit int) ([]engine.RankingEntry, error) {
	path := "/rankings/" + url.PathEscape(market) + "/" + url.PathEscape(kind)
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Entries []engine.RankingEntry `json:"entries"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Entries, err
}

func (c *Client) History(ctx context.Context, filter journal.Filter) ([]journal.Entry, error) {
	query := url.Values{}
	if filter.Account != "" {
		query.Set("account", filter.Account)
	}
	if filter.Market != "" {
		query.Set("market", filter.Market)
	}
	if filter.Action != "" {
		query.Set("action", filter.Action)
	}
	if filter.Limit > 0 {
		query.Set("limit", strconv.Itoa(filter.Limit))
	}
	path := "/journal"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var out struct {
		Entries []journal.Entry `json:"entries"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Entries, err
}
