package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/polisai/polis-moderation/pkg/moderation"
)

// Metrics holds the Prometheus collectors exposed on /metrics.
type Metrics struct {
	verdictsTotal *prometheus.CounterVec
	reasonsTotal  *prometheus.CounterVec
	tableReloads  *prometheus.CounterVec
	tablePhrases  *prometheus.GaugeVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics instance backed by its own registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		verdictsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moderation_verdicts_total",
				Help: "Total number of moderation verdicts by content kind and outcome",
			},
			[]string{"kind", "outcome"},
		),

		reasonsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moderation_reasons_total",
				Help: "Total number of moderation reasons by category",
			},
			[]string{"kind", "category"},
		),

		tableReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moderation_table_reloads_total",
				Help: "Total number of keyword table reload attempts by status",
			},
			[]string{"status"},
		),

		tablePhrases: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "moderation_table_phrases",
				Help: "Number of phrases in the active keyword tables",
			},
			[]string{"category"},
		),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moderation_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "moderation_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.verdictsTotal,
		m.reasonsTotal,
		m.tableReloads,
		m.tablePhrases,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	)

	return m
}

// RecordVerdict counts a verdict and each of its reasons.
func (m *Metrics) RecordVerdict(kind string, v moderation.Verdict) {
	m.verdictsTotal.WithLabelValues(kind, Outcome(v)).Inc()
	for _, r := range v.Reasons {
		m.reasonsTotal.WithLabelValues(kind, string(r.Category)).Inc()
	}
}

// RecordTableReload records a table reload attempt.
func (m *Metrics) RecordTableReload(status string) {
	m.tableReloads.WithLabelValues(status).Inc()
}

// SetTables publishes the phrase count of each active table.
func (m *Metrics) SetTables(tables moderation.Tables) {
	for _, c := range moderation.Categories {
		kt, _ := tables.Table(c)
		m.tablePhrases.WithLabelValues(string(c)).Set(float64(kt.Len()))
	}
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// Handler returns the Prometheus metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware records request counts and latency per endpoint.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		m.RecordHTTPRequest(r.Method, endpointName(r.URL.Path), strconv.Itoa(wrapped.statusCode), time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// endpointName bounds label cardinality to known routes.
func endpointName(path string) string {
	switch path {
	case "/v1/moderate":
		return "moderate"
	case "/v1/moderate/batch":
		return "moderate_batch"
	case "/v1/tables":
		return "tables"
	case "/healthz":
		return "health"
	case "/metrics":
		return "metrics"
	default:
		return "unknown"
	}
}
