package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Inbound callback metrics
	CallbacksTotal   *prometheus.CounterVec
	CallbackDuration *prometheus.HistogramVec

	// Settlement metrics
	SettlementsTotal *prometheus.CounterVec
	SettledAmountSum *prometheus.CounterVec
	UnknownPayments  *prometheus.CounterVec
	ExpiredPayments  prometheus.Counter

	// Gateway metrics
	GatewayRequestsTotal   *prometheus.CounterVec
	GatewayRequestDuration *prometheus.HistogramVec
	GatewayRetriesTotal    *prometheus.CounterVec
	GatewayBreakerState    *prometheus.GaugeVec

	// Dispatch metrics
	DeliveriesTotal  *prometheus.CounterVec
	DeliveryDuration *prometheus.HistogramVec

	// Reconciliation metrics
	ReconciliationGaps *prometheus.GaugeVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec
}

// New creates a new Metrics instance registered on reg.
// A nil reg registers on the default Prometheus registry.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "paygate"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),

		CallbacksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "callback",
				Name:      "received_total",
				Help:      "Inbound processor callbacks by outcome",
			},
			[]string{"provider", "outcome"},
		),
		CallbackDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "callback",
				Name:      "duration_seconds",
				Help:      "Inbound callback handling time in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"provider"},
		),

		SettlementsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "settlement",
				Name:      "total",
				Help:      "Settlement attempts by outcome",
			},
			[]string{"provider", "outcome"},
		),
		SettledAmountSum: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "settlement",
				Name:      "amount_minor_units_total",
				Help:      "Credited amount in minor units",
			},
			[]string{"provider"},
		),
		UnknownPayments: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "settlement",
				Name:      "unknown_payments_total",
				Help:      "Callbacks referencing payments that do not exist",
			},
			[]string{"provider"},
		),
		ExpiredPayments: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "settlement",
				Name:      "expired_payments_total",
				Help:      "Payments expired by the sweep",
			},
		),

		GatewayRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "requests_total",
				Help:      "Upstream processor requests by final status",
			},
			[]string{"provider", "status"},
		),
		GatewayRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "request_duration_seconds",
				Help:      "Upstream request duration including retries",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"provider"},
		),
		GatewayRetriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "retries_total",
				Help:      "Upstream retry attempts",
			},
			[]string{"provider"},
		),
		GatewayBreakerState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"provider"},
		),

		DeliveriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "deliveries_total",
				Help:      "Outbound webhook deliveries by outcome",
			},
			[]string{"event_type", "outcome"},
		),
		DeliveryDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "delivery_duration_seconds",
				Help:      "Outbound webhook delivery duration in seconds",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"event_type"},
		),

		ReconciliationGaps: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "reconciliation",
				Name:      "gaps",
				Help:      "Entries missing a counterpart in the last reconciliation",
			},
			[]string{"kind"}, // kind: settled_without_receipt, receipt_without_settlement
		),

		CacheHitsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "hits_total",
				Help:      "Total number of cache hits",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "misses_total",
				Help:      "Total number of cache misses",
			},
			[]string{"cache"},
		),
	}
}

// --- Convenience methods ---

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusCodeToString(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordCallback records an inbound callback.
func (m *Metrics) RecordCallback(provider, outcome string, duration time.Duration) {
	m.CallbacksTotal.WithLabelValues(provider, outcome).Inc()
	m.CallbackDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordSettlement records a settlement attempt. Amount is only added for fresh credits.
func (m *Metrics) RecordSettlement(provider, outcome string, amountMinorUnits int64) {
	m.SettlementsTotal.WithLabelValues(provider, outcome).Inc()
	if outcome == "settled" && amountMinorUnits > 0 {
		m.SettledAmountSum.WithLabelValues(provider).Add(float64(amountMinorUnits))
	}
}

// RecordUnknownPayment counts a callback for a payment we never created.
func (m *Metrics) RecordUnknownPayment(provider string) {
	m.UnknownPayments.WithLabelValues(provider).Inc()
}

// RecordExpired counts payments moved to expired.
func (m *Metrics) RecordExpired(n int) {
	if n > 0 {
		m.ExpiredPayments.Add(float64(n))
	}
}

// RecordGatewayRequest records a finished upstream request.
func (m *Metrics) RecordGatewayRequest(provider string, status int, duration time.Duration) {
	m.GatewayRequestsTotal.WithLabelValues(provider, statusCodeToString(status)).Inc()
	m.GatewayRequestDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordGatewayRetry counts one retry.
func (m *Metrics) RecordGatewayRetry(provider string) {
	m.GatewayRetriesTotal.WithLabelValues(provider).Inc()
}

// SetBreakerState publishes a breaker state.
func (m *Metrics) SetBreakerState(provider string, state int) {
	m.GatewayBreakerState.WithLabelValues(provider).Set(float64(state))
}

// RecordDelivery records an outbound webhook delivery.
func (m *Metrics) RecordDelivery(eventType, outcome string, duration time.Duration) {
	m.DeliveriesTotal.WithLabelValues(eventType, outcome).Inc()
	m.DeliveryDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

// SetReconciliationGaps publishes the size of both differences.
func (m *Metrics) SetReconciliationGaps(settledWithoutReceipt, receiptsWithoutSettlement int) {
	m.ReconciliationGaps.WithLabelValues("settled_without_receipt").Set(float64(settledWithoutReceipt))
	m.ReconciliationGaps.WithLabelValues("receipt_without_settlement").Set(float64(receiptsWithoutSettlement))
}

// RecordCacheHit records a cache hit.
func (m *Metrics) RecordCacheHit(cache string) {
	m.CacheHitsTotal.WithLabelValues(cache).Inc()
}

// RecordCacheMiss records a cache miss.
func (m *Metrics) RecordCacheMiss(cache string) {
	m.CacheMissesTotal.WithLabelValues(cache).Inc()
}

// statusCodeToString converts an HTTP status code to a string category.
func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	case code == 0:
		return "error"
	default:
		return "unknown"
	}
}
