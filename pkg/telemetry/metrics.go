package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Discovery proxy outcomes.
const (
	OutcomeProxied       = "proxied"
	OutcomeNotFound      = "not_found"
	OutcomeDenied        = "denied"
	OutcomeUpstreamError = "upstream_error"
	OutcomeRateLimited   = "rate_limited"
)

// Metrics holds all Prometheus metrics for the edge.
type Metrics struct {
	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Discovery proxy metrics
	discoveryRequests *prometheus.CounterVec
	upstreamDuration  *prometheus.HistogramVec

	// Redirector metrics
	redirectDecisions *prometheus.CounterVec

	// Configuration reload metrics
	configReloads *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics instance on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nolto_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nolto_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		discoveryRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nolto_discovery_requests_total",
				Help: "Discovery proxy requests by outcome",
			},
			[]string{"outcome"},
		),

		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nolto_discovery_upstream_duration_seconds",
				Help:    "Latency of forwarded discovery requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),

		redirectDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nolto_redirect_decisions_total",
				Help: "Profile redirect decisions by target and signal",
			},
			[]string{"target", "signal"},
		),

		configReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nolto_config_reloads_total",
				Help: "Configuration reload attempts",
			},
			[]string{"status"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.discoveryRequests,
		m.upstreamDuration,
		m.redirectDecisions,
		m.configReloads,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
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

// RecordDiscovery records a discovery proxy outcome.
func (m *Metrics) RecordDiscovery(outcome string) {
	if m == nil {
		return
	}
	m.discoveryRequests.WithLabelValues(outcome).Inc()
}

// ObserveUpstream records the latency of a forwarded request by upstream status.
func (m *Metrics) ObserveUpstream(status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.upstreamDuration.WithLabelValues(strconv.Itoa(status)).Observe(duration.Seconds())
}

// RecordRedirect records a content negotiation decision.
func (m *Metrics) RecordRedirect(target, signal string) {
	if m == nil {
		return
	}
	m.redirectDecisions.WithLabelValues(target, signal).Inc()
}

// RecordConfigReload records a configuration reload attempt
func (m *Metrics) RecordConfigReload(status string) {
	if m == nil {
		return
	}
	m.configReloads.WithLabelValues(status).Inc()
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// MetricsMiddleware creates HTTP middleware that records request metrics.
// endpoint maps a request to a low-cardinality label.
func (m *Metrics) MetricsMiddleware(endpoint func(*http.Request) string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rec := NewStatusRecorder(w)

		next.ServeHTTP(rec, r)

		m.RecordHTTPRequest(r.Method, endpoint(r), strconv.Itoa(rec.Status()), time.Since(start))
	})
}
