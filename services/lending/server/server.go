// Package server exposes the lending engine over a JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"peerlend/observability"
	"peerlend/services/lending/engine"
	"peerlend/services/lending/journal"
)

const (
	requestLimit   = 1 << 20 // 1 MiB
	defaultTimeout = 10 * time.Second
	moduleName     = "lending"
)

// Rate limit groups.
const (
	GroupRead  = "read"
	GroupWrite = "write"
	GroupAdmin = "admin"
)

// Config wires the HTTP surface.
type Config struct {
	Engine         engine.Engine
	Logger         *slog.Logger
	Auth           *Authenticator
	RateLimiter    *RateLimiter
	Timeout        time.Duration
	MetricsHandler http.Handler
}

// Server holds the handlers of the API.
type Server struct {
	engine  engine.Engine
	logger  *slog.Logger
	timeout time.Duration
}

// New returns the routed handler.
func New(cfg Config) (http.Handler, error) {
	if cfg.Engine == nil {
		return nil, errors.New("lending server: engine required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	metrics := cfg.MetricsHandler
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	s := &Server{engine: cfg.Engine, logger: logger, timeout: timeout}

	r := chi.NewRouter()
	r.Use(s.observe)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics)

	r.Group(func(gr chi.Router) {
		gr.Use(cfg.RateLimiter.Middleware(GroupRead))
		gr.Get("/markets", s.listMarkets)
		gr.Get("/markets/{market}", s.getMarket)
		gr.Get("/positions/{account}", s.getPositions)
		gr.Get("/health/{account}", s.getHealth)
		gr.Get("/capacity/{account}/{market}", s.getCapacity)
		gr.Get("/rankings/{market}/{kind}", s.getRanking)
		gr.Get("/journal", s.history)
	})
	r.Group(func(gr chi.Router) {
		gr.Use(cfg.RateLimiter.Middleware(GroupWrite))
		gr.Use(cfg.Auth.Middleware(ScopeWrite))
		gr.Post("/supply", s.userOperation(s.engine.Supply))
		gr.Post("/borrow", s.userOperation(s.engine.Borrow))
		gr.Post("/withdraw", s.userOperation(s.engine.Withdraw))
		gr.Post("/repay", s.userOperation(s.engine.Repay))
		gr.Post("/liquidate", s.liquidate)
		gr.Post("/indexes/{market}", s.updateIndexes)
		gr.Post("/markets/{market}/rebalance", s.rebalance)
	})
	r.Group(func(gr chi.Router) {
		gr.Use(cfg.RateLimiter.Middleware(GroupAdmin))
		gr.Use(cfg.Auth.Middleware(ScopeAdmin))
		gr.Post("/markets/{market}/deltas", s.increaseDeltas)
		gr.Patch("/admin/markets/{market}", s.govern)
	})
	return r, nil
}

func (s *Server) context(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.timeout)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// observe records request metrics under the matched route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		if route == "/metrics" {
			return
		}
		observability.ModuleMetrics().Observe(moduleName, r.Method+" "+route, recorder.status, time.Since(start))
	})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := writeError(w, err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("lending api request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
}

func decodeBody(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return errors.New("missing request body")
	}
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, requestLimit))
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if len(data) == 0 {
		return errors.New("request body is empty")
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

// maxMatches turns an omitted value into the engine default.
func maxMatches(value *int) int {
	if value == nil {
		return -1
	}
	return *value
}

type operationRequest struct {
	Account    string `json:"account"`
	Market     string `json:"market"`
	Amount     string `json:"amount"`
	MaxMatches *int   `json:"maxMatches,omitempty"`
}

type operationFunc func(ctx context.Context, addr, market, amount string, maxMatches int) (engine.Receipt, error)

func (s *Server) userOperation(op operationFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req operationRequest
		if err := decodeBody(r, &req); err != nil {
			writeBadRequest(w, err)
			return
		}
		if strings.TrimSpace(req.Market) == "" {
			writeBadRequest(w, errors.New("market required"))
			return
		}
		if !authorizeAccount(r.Context(), req.Account) {
			s.fail(w, r, fmt.Errorf("%w: token may not act for %s", engine.ErrUnauthorized, req.Account))
			return
		}
		ctx, cancel := s.context(r.Context())
		defer cancel()
		receipt, err := op(ctx, req.Account, req.Market, req.Amount, maxMatches(req.MaxMatches))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, receipt)
	}
}

type liquidationRequest struct {
	Liquidator       string `json:"liquidator"`
	Borrower         string `json:"borrower"`
	BorrowedMarket   string `json:"borrowedMarket"`
	CollateralMarket string `json:"collateralMarket"`
	Amount           string `json:"amount"`
	MaxMatches       *int   `json:"maxMatches,omitempty"`
	Strict           bool   `json:"strict,omitempty"`
}

func (s *Server) liquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidationRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if !authorizeAccount(r.Context(), req.Liquidator) {
		s.fail(w, r, fmt.Errorf("%w: token may not act for %s", engine.ErrUnauthorized, req.Liquidator))
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	result, err := s.engine.Liquidate(ctx, engine.LiquidationRequest{
		Liquidator:       req.Liquidator,
		Borrower:         req.Borrower,
		BorrowedMarket:   req.BorrowedMarket,
		CollateralMarket: req.CollateralMarket,
		Amount:           req.Amount,
		MaxMatches:       maxMatches(req.MaxMatches),
		Strict:           req.Strict,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) updateIndexes(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r.Context())
	defer cancel()
	indexes, err := s.engine.UpdateIndexes(ctx, chi.URLParam(r, "market"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, indexes)
}

type rebalanceRequest struct {
	MaxMatches *int `json:"maxMatches,omitempty"`
}

func (s *Server) rebalance(w http.ResponseWriter, r *http.Request) {
	var req rebalanceRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			writeBadRequest(w, err)
			return
		}
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	receipt, err := s.engine.Rebalance(ctx, chi.URLParam(r, "market"), maxMatches(req.MaxMatches))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

type deltasRequest struct {
	Amount string `json:"amount"`
}

func (s *Server) increaseDeltas(w http.ResponseWriter, r *http.Request) {
	var req deltasRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	market := chi.URLParam(r, "market")
	ctx, cancel := s.context(r.Context())
	defer cancel()
	moved, err := s.engine.IncreaseP2PDeltas(ctx, market, req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"market": strings.ToUpper(strings.TrimSpace(market)), "moved": moved})
}

func (s *Server) govern(w http.ResponseWriter, r *http.Request) {
	var update engine.GovernanceUpdate
	if err := decodeBody(r, &update); err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	market, err := s.engine.Govern(ctx, chi.URLParam(r, "market"), update)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if principal, ok := PrincipalFromContext(r.Context()); ok {
		s.logger.Info("lending governance update", "market", market.ID, "subject", principal.Subject)
	}
	writeJSON(w, http.StatusOK, market)
}

func (s *Server) listMarkets(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r.Context())
	defer cancel()
	markets, err := s.engine.ListMarkets(ctx)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"markets": markets})
}

func (s *Server) getMarket(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r.Context())
	defer cancel()
	market, err := s.engine.GetMarket(ctx, chi.URLParam(r, "market"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, market)
}

func (s *Server) getPositions(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	ctx, cancel := s.context(r.Context())
	defer cancel()
	positions, err := s.engine.GetPositions(ctx, account)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"account": account, "positions": positions})
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r.Context())
	defer cancel()
	health, err := s.engine.GetHealth(ctx, chi.URLParam(r, "account"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, health)
}

func (s *Server) getCapacity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r.Context())
	defer cancel()
	capacity, err := s.engine.GetCapacity(ctx, chi.URLParam(r, "account"), chi.URLParam(r, "market"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, capacity)
}

func (s *Server) getRanking(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	entries, err := s.engine.GetRanking(ctx, chi.URLParam(r, "market"), chi.URLParam(r, "kind"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	query := r.URL.Query()
	ctx, cancel := s.context(r.Context())
	defer cancel()
	entries, err := s.engine.History(ctx, journal.Filter{
		Account: query.Get("account"),
		Market:  query.Get("market"),
		Action:  query.Get("action"),
		Limit:   limit,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func queryLimit(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	return limit, nil
}
