package observability

import (
	"math"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LendingMetrics tracks the matching engine as seen through the service
// adapter.
type LendingMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	matched    *prometheus.CounterVec
	visited    *prometheus.HistogramVec
	deltas     *prometheus.GaugeVec
	p2pIndex   *prometheus.GaugeVec
}

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	lendingMetricsOnce sync.Once
	lendingRegistry    *LendingMetrics

	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics
)

// Lending returns the lazily registered lending metrics.
func Lending() *LendingMetrics {
	lendingMetricsOnce.Do(func() {
		lendingRegistry = &LendingMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "peerlend",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Engine operations segmented by action, market and outcome.",
			}, []string{"action", "market", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "peerlend",
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution of engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"action"}),
			matched: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "peerlend",
				Subsystem: "engine",
				Name:      "matched_amount_total",
				Help:      "Underlying amount placed peer-to-peer, in whole asset units.",
			}, []string{"action", "market"}),
			visited: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "peerlend",
				Subsystem: "engine",
				Name:      "counterparties_visited",
				Help:      "Counter-parties inspected by the matching loop per operation.",
				Buckets:   []float64{0, 1, 2, 4, 8, 16, 32, 64},
			}, []string{"action"}),
			deltas: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "peerlend",
				Subsystem: "market",
				Name:      "delta_units",
				Help:      "Outstanding supply and borrow deltas in pool units, scaled by the asset decimals.",
			}, []string{"market", "side"}),
			p2pIndex: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "peerlend",
				Subsystem: "market",
				Name:      "p2p_index",
				Help:      "Peer-to-peer growth indexes as a multiple of one.",
			}, []string{"market", "side"}),
		}
		prometheus.MustRegister(
			lendingRegistry.operations,
			lendingRegistry.latency,
			lendingRegistry.matched,
			lendingRegistry.visited,
			lendingRegistry.deltas,
			lendingRegistry.p2pIndex,
		)
	})
	return lendingRegistry
}

func normalizeLabel(value string) string {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	if normalized == "" {
		return "UNKNOWN"
	}
	return normalized
}

// ObserveOperation records the outcome and latency of one engine call.
func (m *LendingMetrics) ObserveOperation(action, market string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	action = strings.ToLower(strings.TrimSpace(action))
	m.operations.WithLabelValues(action, normalizeLabel(market), outcome).Inc()
	m.latency.WithLabelValues(action).Observe(duration.Seconds())
}

// ObserveMatching records how much was matched and how many counter-parties
// the matching loop visited.
func (m *LendingMetrics) ObserveMatching(action, market string, matched *big.Int, decimals uint8, visited int) {
	if m == nil {
		return
	}
	action = strings.ToLower(strings.TrimSpace(action))
	if matched != nil && matched.Sign() > 0 {
		m.matched.WithLabelValues(action, normalizeLabel(market)).Add(scaledFloat(matched, decimals))
	}
	m.visited.WithLabelValues(action).Observe(float64(visited))
}

// SetDeltas publishes the current deltas of market.
func (m *LendingMetrics) SetDeltas(market string, supply, borrow *big.Int, decimals uint8) {
	if m == nil {
		return
	}
	market = normalizeLabel(market)
	m.deltas.WithLabelValues(market, "supply").Set(scaledFloat(supply, decimals))
	m.deltas.WithLabelValues(market, "borrow").Set(scaledFloat(borrow, decimals))
}

// SetP2PIndexes publishes the ray scaled P2P indexes of market.
func (m *LendingMetrics) SetP2PIndexes(market string, supply, borrow *big.Int) {
	if m == nil {
		return
	}
	market = normalizeLabel(market)
	m.p2pIndex.WithLabelValues(market, "supply").Set(scaledFloat(supply, 27))
	m.p2pIndex.WithLabelValues(market, "borrow").Set(scaledFloat(borrow, 27))
}

// ModuleMetrics returns the lazily-initialised registry used to record HTTP
// API activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "peerlend",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by route and outcome.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "peerlend",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by route and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "peerlend",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "peerlend",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a request. The status code should be the
// HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
		m.errors.WithLabelValues(module, method, strconv.Itoa(status)).Inc()
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit".
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// scaledFloat renders value/10^decimals as a float for gauges. Precision loss
// is acceptable for dashboards.
func scaledFloat(value *big.Int, decimals uint8) float64 {
	if value == nil || value.Sign() == 0 {
		return 0
	}
	f, _ := new(big.Float).Quo(
		new(big.Float).SetInt(value),
		new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)),
	).Float64()
	if math.IsInf(f, 0) {
		return math.MaxFloat64
	}
	return f
}
