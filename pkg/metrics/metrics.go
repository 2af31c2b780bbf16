package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Payment confirmation metrics
	CheckoutsTotal       *prometheus.CounterVec
	PollAttempts         *prometheus.CounterVec
	PollOutcomes         *prometheus.CounterVec
	PollAttemptsPerRun   *prometheus.HistogramVec
	PollAttached         prometheus.Counter
	ConfirmationStates   *prometheus.CounterVec
	EntitlementsApplied  *prometheus.CounterVec
	ReconciliationsTotal *prometheus.CounterVec

	// Database metrics
	DBConnections prometheus.Gauge

	// Cache metrics
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec
}

// New creates a new Metrics instance registered on the default registry
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with all metrics registered on reg
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60},
			},
			[]string{"method", "path", "status"},
		),
		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 5000, 10000, 50000, 100000},
			},
			[]string{"method", "path"},
		),

		// Payment confirmation metrics
		CheckoutsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkouts_total",
				Help: "Checkout initiations by package and result",
			},
			[]string{"package", "result"}, // created, invalid_package, processor_error, store_error
		),
		PollAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_poll_attempts_total",
				Help: "Status queries made by the confirmation poller",
			},
			[]string{"result"}, // pending, paid, failed, expired, transport_error
		),
		PollOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_poll_outcomes_total",
				Help: "Terminal outcomes produced by the confirmation poller",
			},
			[]string{"outcome"},
		),
		PollAttemptsPerRun: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payment_poll_attempts_per_run",
				Help:    "Attempts used before a terminal outcome",
				Buckets: []float64{1, 2, 3, 5, 8, 10, 15},
			},
			[]string{"outcome"},
		),
		PollAttached: factory.NewCounter(prometheus.CounterOpts{
			Name: "payment_poll_attached_total",
			Help: "Polls served by an attempt sequence already in flight or a cached outcome",
		}),
		ConfirmationStates: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_confirmation_states_total",
				Help: "Terminal states reached by confirmation surfaces",
			},
			[]string{"surface", "state"},
		),
		EntitlementsApplied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitlements_applied_total",
				Help: "Entitlement applications by result",
			},
			[]string{"result"}, // activated, refreshed, failed
		),
		ReconciliationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_reconciliations_total",
				Help: "Checkout records examined by the reconciliation job",
			},
			[]string{"result"},
		),

		// Database metrics
		DBConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "db_connections_active",
			Help: "Number of active database connections",
		}),

		// Cache metrics
		CacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_type"},
		),
		CacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_type"},
		),
	}

	return m
}

// Middleware creates an Echo middleware for Prometheus metrics
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			if err != nil {
				// Let echo write the error response so the status is final
				c.Error(err)
			}

			method := c.Request().Method
			path := c.Path() // route pattern, e.g. /api/v1/payments/status/:session_id
			status := strconv.Itoa(c.Response().Status)

			m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
			m.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
			m.HTTPResponseSize.WithLabelValues(method, path).Observe(float64(c.Response().Size))

			return nil
		}
	}
}

// RecordCheckout counts a checkout initiation
func (m *Metrics) RecordCheckout(packageID, result string) {
	m.CheckoutsTotal.WithLabelValues(packageID, result).Inc()
}

// RecordPollAttempt counts one status query
func (m *Metrics) RecordPollAttempt(result string) {
	m.PollAttempts.WithLabelValues(result).Inc()
}

// RecordPollOutcome counts a terminal poll outcome
func (m *Metrics) RecordPollOutcome(outcome string, attempts int) {
	m.PollOutcomes.WithLabelValues(outcome).Inc()
	m.PollAttemptsPerRun.WithLabelValues(outcome).Observe(float64(attempts))
}

// RecordPollAttached counts a poll that did not start its own attempt sequence
func (m *Metrics) RecordPollAttached() {
	m.PollAttached.Inc()
}

// RecordConfirmationState counts a surface reaching state
func (m *Metrics) RecordConfirmationState(surface, state string) {
	m.ConfirmationStates.WithLabelValues(surface, state).Inc()
}

// RecordEntitlementApplied counts an entitlement application
func (m *Metrics) RecordEntitlementApplied(result string) {
	m.EntitlementsApplied.WithLabelValues(result).Inc()
}

// RecordReconciliation counts one reconciled checkout record
func (m *Metrics) RecordReconciliation(result string) {
	m.ReconciliationsTotal.WithLabelValues(result).Inc()
}

// UpdateDBConnections updates active database connections gauge
func (m *Metrics) UpdateDBConnections(count float64) {
	m.DBConnections.Set(count)
}

// RecordCacheHit increments cache hits counter
func (m *Metrics) RecordCacheHit(cacheType string) {
	m.CacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss increments cache misses counter
func (m *Metrics) RecordCacheMiss(cacheType string) {
	m.CacheMisses.WithLabelValues(cacheType).Inc()
}
