package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// TokenRequests counts get-valid-token calls by outcome
	// (cache_hit, refreshed, reauth_required, refresh_failed, error)
	TokenRequests *prometheus.CounterVec
	// RefreshTotal counts provider refresh calls by outcome
	RefreshTotal *prometheus.CounterVec
	// ProviderLatency tracks identity provider call latency by operation
	ProviderLatency *prometheus.HistogramVec
	// AuthFlows counts authorization flow completions by outcome
	AuthFlows *prometheus.CounterVec
	// RequestLatency tracks HTTP request latency by endpoint and method
	RequestLatency *prometheus.HistogramVec
	// HTTPRequestsTotal total HTTP requests
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTPRequestsInFlight current HTTP requests being processed
	HTTPRequestsInFlight prometheus.Gauge
	// ErrorCounter counts errors by type
	ErrorCounter *prometheus.CounterVec
	// registry is the custom registry for this metrics instance
	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		TokenRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_requests_total",
				Help:      "Total number of access token requests by outcome",
			},
			[]string{"outcome"},
		),
		RefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refresh_total",
				Help:      "Total number of provider refresh calls by outcome",
			},
			[]string{"outcome"},
		),
		ProviderLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_latency_seconds",
				Help:      "Identity provider call latency in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"operation"},
		),
		AuthFlows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_flows_total",
				Help:      "Total number of authorization flow completions by outcome",
			},
			[]string{"outcome"},
		),
		RequestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_latency_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"endpoint", "method", "status"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"endpoint", "method", "status"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),
		ErrorCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors by type",
			},
			[]string{"type"},
		),
	}

	registry.MustRegister(
		m.TokenRequests,
		m.RefreshTotal,
		m.ProviderLatency,
		m.AuthFlows,
		m.RequestLatency,
		m.HTTPRequestsTotal,
		m.HTTPRequestsInFlight,
		m.ErrorCounter,
	)

	return m
}

// Handler returns an http.Handler serving this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for test inspection.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordTokenRequest increments the token request counter.
func (m *Metrics) RecordTokenRequest(outcome string) {
	m.TokenRequests.WithLabelValues(outcome).Inc()
}

// RecordRefresh increments the refresh counter.
func (m *Metrics) RecordRefresh(outcome string) {
	m.RefreshTotal.WithLabelValues(outcome).Inc()
}

// ObserveProviderCall records the latency of one provider call.
func (m *Metrics) ObserveProviderCall(operation string, d time.Duration) {
	m.ProviderLatency.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordAuthFlow increments the authorization flow counter.
func (m *Metrics) RecordAuthFlow(outcome string) {
	m.AuthFlows.WithLabelValues(outcome).Inc()
}

// RecordRequestLatency records HTTP request latency.
func (m *Metrics) RecordRequestLatency(endpoint, method, status string, seconds float64) {
	m.RequestLatency.WithLabelValues(endpoint, method, status).Observe(seconds)
}

// RecordHTTPRequest increments the HTTP request counter.
func (m *Metrics) RecordHTTPRequest(endpoint, method, status string) {
	m.HTTPRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}

// IncHTTPRequestsInFlight increments the in-flight gauge.
func (m *Metrics) IncHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Inc()
}

// DecHTTPRequestsInFlight decrements the in-flight gauge.
func (m *Metrics) DecHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Dec()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(errType string) {
	m.ErrorCounter.WithLabelValues(errType).Inc()
}
