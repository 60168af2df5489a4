package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"token-broker/internal/circuitbreaker"
)

const (
	namespace = "dicomweb"
	subsystem = "oauth"
)

// Prometheus records events on its own registry.
type Prometheus struct {
	Registry *prometheus.Registry

	TokenAcquisitionsTotal     *prometheus.CounterVec
	TokenAcquisitionDuration   *prometheus.HistogramVec
	CacheHitsTotal             *prometheus.CounterVec
	CacheMissesTotal           *prometheus.CounterVec
	CircuitBreakerState        *prometheus.GaugeVec
	CircuitBreakerRejections   *prometheus.CounterVec
	RetryAttemptsTotal         *prometheus.CounterVec
	ErrorsTotal                *prometheus.CounterVec
	HTTPRequestsTotal          *prometheus.CounterVec
	HTTPRequestDurationSeconds *prometheus.HistogramVec
}

// NewPrometheus creates and registers all collectors on a fresh registry,
// together with the Go runtime and process collectors.
func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()

	m := &Prometheus{
		Registry: reg,

		TokenAcquisitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "token_acquisitions_total",
			Help:      "Token acquisitions by destination and outcome.",
		}, []string{"server", "status"}),

		TokenAcquisitionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "token_acquisition_duration_seconds",
			Help:      "Duration of the full acquisition pipeline in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"server"}),

		CacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cache_hits_total",
			Help:      "Token requests served from the cache.",
		}, []string{"server"}),

		CacheMissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cache_misses_total",
			Help:      "Token requests that required an acquisition.",
		}, []string{"server"}),

		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open).",
		}, []string{"server"}),

		CircuitBreakerRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "circuit_breaker_rejections_total",
			Help:      "Calls rejected by an open circuit breaker.",
		}, []string{"server"}),

		RetryAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "retry_attempts_total",
			Help:      "Retries performed after a failed acquisition attempt.",
		}, []string{"server"}),

		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Errors by code and category.",
		}, []string{"server", "error_code", "category"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_requests_total",
			Help:      "Outbound requests sent with an injected bearer token.",
		}, []string{"server", "method", "status"}),

		HTTPRequestDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_request_duration_seconds",
			Help:      "Outbound request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"server", "method"}),
	}

	reg.MustRegister(
		m.TokenAcquisitionsTotal,
		m.TokenAcquisitionDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CircuitBreakerState,
		m.CircuitBreakerRejections,
		m.RetryAttemptsTotal,
		m.ErrorsTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDurationSeconds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Prometheus) TokenAcquisition(server string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.TokenAcquisitionsTotal.WithLabelValues(server, status).Inc()
	m.TokenAcquisitionDuration.WithLabelValues(server).Observe(duration.Seconds())
}

func (m *Prometheus) CacheHit(server string) {
	m.CacheHitsTotal.WithLabelValues(server).Inc()
}

func (m *Prometheus) CacheMiss(server string) {
	m.CacheMissesTotal.WithLabelValues(server).Inc()
}

func (m *Prometheus) BreakerState(server string, state circuitbreaker.State) {
	m.CircuitBreakerState.WithLabelValues(server).Set(float64(state))
}

func (m *Prometheus) BreakerRejection(server string) {
	m.CircuitBreakerRejections.WithLabelValues(server).Inc()
}

func (m *Prometheus) RetryAttempt(server string) {
	m.RetryAttemptsTotal.WithLabelValues(server).Inc()
}

func (m *Prometheus) Error(server, code, category string) {
	m.ErrorsTotal.WithLabelValues(server, code, category).Inc()
}

func (m *Prometheus) HTTPRequest(server, method string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(server, method, strconv.Itoa(status)).Inc()
	m.HTTPRequestDurationSeconds.WithLabelValues(server, method).Observe(duration.Seconds())
}

var _ Sink = (*Prometheus)(nil)
