package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the IdP
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Login flow metrics
	LoginsTotal        *prometheus.CounterVec // outcome: success|failure
	LoginPromptsTotal  prometheus.Counter
	ForcedAuthnsTotal  prometheus.Counter
	AssertionsTotal    *prometheus.CounterVec // binding

	// Logout flow metrics
	LogoutsTotal *prometheus.CounterVec // status: success|partial|responder|unknown_principal

	// Session store metrics
	SessionsCreatedTotal prometheus.Counter
	SessionsRemovedTotal prometheus.Counter
	SessionsActive       prometheus.Gauge

	// Cache metrics
	CacheEvictionsTotal *prometheus.CounterVec // cache name
	CachePurgeSkips     *prometheus.CounterVec // cache name

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatehouse_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_logins_total",
				Help: "Total number of credential verification attempts",
			},
			[]string{"outcome"},
		),
		LoginPromptsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_login_prompts_total",
				Help: "Total number of login pages rendered",
			},
		),
		ForcedAuthnsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_forced_authns_total",
				Help: "Total number of ForceAuthn re-authentications honored",
			},
		),
		AssertionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_assertions_total",
				Help: "Total number of SAML assertions issued",
			},
			[]string{"binding"},
		),
		LogoutsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_logouts_total",
				Help: "Total number of logout requests processed",
			},
			[]string{"status"},
		),
		SessionsCreatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_sessions_created_total",
				Help: "Total number of SSO sessions created",
			},
		),
		SessionsRemovedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_sessions_removed_total",
				Help: "Total number of SSO sessions removed",
			},
		),
		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatehouse_sessions_active",
				Help: "Number of SSO sessions currently held in the store",
			},
		),
		CacheEvictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_cache_evictions_total",
				Help: "Total number of entries evicted by TTL purge",
			},
			[]string{"cache"},
		),
		CachePurgeSkips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_cache_purge_skips_total",
				Help: "Total number of purge passes skipped due to lock contention",
			},
			[]string{"cache"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.LoginsTotal,
		m.LoginPromptsTotal,
		m.ForcedAuthnsTotal,
		m.AssertionsTotal,
		m.LogoutsTotal,
		m.SessionsCreatedTotal,
		m.SessionsRemovedTotal,
		m.SessionsActive,
		m.CacheEvictionsTotal,
		m.CachePurgeSkips,
	)

	return m
}

// Handler returns the Prometheus scrape handler for this metrics registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps an HTTP handler with request count and duration metrics
func (m *Metrics) InstrumentHandler(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// statusRecorder captures the response status code for metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
