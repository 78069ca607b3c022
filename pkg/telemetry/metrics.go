package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the webhook. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Interaction metrics
	interactionsTotal *prometheus.CounterVec
	signatureFailures *prometheus.CounterVec
	attachmentBytes   *prometheus.HistogramVec

	// Upstream metrics
	upstreamFetches       *prometheus.CounterVec
	upstreamFetchDuration prometheus.Histogram

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics instance on its own registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proxydrop_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "proxydrop_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		interactionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proxydrop_interactions_total",
				Help: "Authenticated interactions by kind, command and routing outcome",
			},
			[]string{"kind", "command", "outcome"},
		),

		signatureFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proxydrop_signature_failures_total",
				Help: "Requests rejected by signature verification",
			},
			[]string{"reason"},
		),

		attachmentBytes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "proxydrop_attachment_bytes",
				Help:    "Size of generated proxy list attachments",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
			},
			[]string{"command"},
		),

		upstreamFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proxydrop_upstream_fetches_total",
				Help: "Proxy catalog lookups by result (hit, miss, error)",
			},
			[]string{"result"},
		),

		upstreamFetchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "proxydrop_upstream_fetch_duration_seconds",
				Help:    "Proxy catalog lookup latency in seconds, cache hits included",
				Buckets: prometheus.DefBuckets,
			},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.interactionsTotal,
		m.signatureFailures,
		m.attachmentBytes,
		m.upstreamFetches,
		m.upstreamFetchDuration,
	)

	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordInteraction records the routing outcome of one interaction.
func (m *Metrics) RecordInteraction(kind, command, outcome string) {
	if m == nil {
		return
	}
	m.interactionsTotal.WithLabelValues(kind, command, outcome).Inc()
}

// RecordSignatureFailure records a rejected request.
func (m *Metrics) RecordSignatureFailure(reason string) {
	if m == nil {
		return
	}
	m.signatureFailures.WithLabelValues(reason).Inc()
}

// RecordAttachment records the size of a generated attachment.
func (m *Metrics) RecordAttachment(command string, size int) {
	if m == nil {
		return
	}
	m.attachmentBytes.WithLabelValues(command).Observe(float64(size))
}

// RecordUpstreamFetch records one catalog lookup.
func (m *Metrics) RecordUpstreamFetch(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.upstreamFetches.WithLabelValues(result).Inc()
	m.upstreamFetchDuration.Observe(duration.Seconds())
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// MetricsMiddleware creates HTTP middleware that records request metrics
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		m.RecordHTTPRequest(r.Method, getEndpointName(r.URL.Path), strconv.Itoa(wrapped.statusCode), time.Since(start))
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// getEndpointName extracts a normalized endpoint name from the path
func getEndpointName(path string) string {
	switch path {
	case "/":
		return "root"
	case "/interactions":
		return "interactions"
	case "/metrics":
		return "metrics"
	default:
		return "unknown"
	}
}
