package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "blogpress"

// Results for counters with result label
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultShared  = "shared"

	AuditSent    = "sent"
	AuditCached  = "cached"
	AuditFlushed = "flushed"
	AuditEvicted = "evicted"
)

// Metrics of the session client
// All methods are safe to call on nil receiver, so metrics are optional everywhere
type Metrics struct {
	requestsInFlight prometheus.Gauge
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec

	auditEntries   *prometheus.CounterVec
	auditCacheSize prometheus.Gauge
	tokenRefreshes *prometheus.CounterVec
	buildInfo      *prometheus.GaugeVec
}

// New creates collectors and registers them in reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "api_in_flight_requests",
			Help:      "In-flight requests to the blog API.",
		}),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of requests to the blog API.",
			},
			[]string{"method", "path", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "Blog API request latencies in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		auditEntries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_entries_total",
				Help:      "Audit log entries by outcome.",
			},
			[]string{"result"},
		),
		auditCacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "audit_cache_entries",
			Help:      "Audit log entries waiting in the local cache.",
		}),
		tokenRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_refresh_total",
				Help:      "Access token refresh attempts by result.",
			},
			[]string{"result"},
		),
		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "build_info",
				Help:      "blogctl build information.",
			},
			[]string{"version"},
		),
	}

	reg.MustRegister(
		m.requestsInFlight,
		m.requestsTotal,
		m.requestDuration,
		m.auditEntries,
		m.auditCacheSize,
		m.tokenRefreshes,
		m.buildInfo,
	)

	return m
}

// Handler exposing metrics gathered by g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Start request tracking, returned func records the result
func (m *Metrics) TrackRequest(method string, path string) func(status int) {
	if m == nil {
		return func(int) {}
	}

	m.requestsInFlight.Inc()
	start := time.Now()

	return func(status int) {
		code := strconv.Itoa(status)
		if status == 0 {
			code = "error"
		}

		m.requestDuration.WithLabelValues(method, path, code).Observe(time.Since(start).Seconds())
		m.requestsTotal.WithLabelValues(method, path, code).Inc()
		m.requestsInFlight.Dec()
	}
}

func (m *Metrics) AuditEntry(result string) {
	if m == nil {
		return
	}
	m.auditEntries.WithLabelValues(result).Inc()
}

func (m *Metrics) AuditCacheSize(size int) {
	if m == nil {
		return
	}
	m.auditCacheSize.Set(float64(size))
}

func (m *Metrics) TokenRefresh(result string) {
	if m == nil {
		return
	}
	m.tokenRefreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) SetBuildInfo(version string) {
	if m == nil {
		return
	}
	m.buildInfo.WithLabelValues(version).Set(1)
}
