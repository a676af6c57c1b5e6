package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics owns a private registry so tests can build as many as
// they like.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	authAttempts *prometheus.CounterVec
	usersCreated prometheus.Counter

	requestDuration *prometheus.HistogramVec
	requestCount    *prometheus.CounterVec
}

// NewPrometheusMetrics creates the collectors on a private registry.
func NewPrometheusMetrics() *PrometheusMetrics {
	pm := &PrometheusMetrics{registry: prometheus.NewRegistry()}

	pm.authAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tgauth_auth_attempts_total",
		Help: "Telegram init-data authentication attempts by outcome",
	}, []string{"outcome"})

	pm.usersCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tgauth_users_created_total",
		Help: "Users created on first login",
	})

	pm.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tgauth_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	pm.requestCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tgauth_http_requests_total",
		Help: "HTTP requests by route and status",
	}, []string{"method", "route", "status"})

	pm.registry.MustRegister(
		pm.authAttempts,
		pm.usersCreated,
		pm.requestDuration,
		pm.requestCount,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return pm
}

func (pm *PrometheusMetrics) Registry() *prometheus.Registry { return pm.registry }

// Handler serves the registry in the Prometheus text format.
func (pm *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{})
}

// AuthAttempt and UserCreated make PrometheusMetrics an auth.Observer.
func (pm *PrometheusMetrics) AuthAttempt(outcome string) {
	pm.authAttempts.WithLabelValues(outcome).Inc()
}

func (pm *PrometheusMetrics) UserCreated() {
	pm.usersCreated.Inc()
}

func (pm *PrometheusMetrics) RecordRequest(method, route, status string, duration time.Duration) {
	pm.requestDuration.WithLabelValues(method, route, status).Observe(duration.Seconds())
	pm.requestCount.WithLabelValues(method, route, status).Inc()
}

// MetricsMiddleware labels requests by chi route pattern, not raw path, to
// keep label cardinality bounded.
func (pm *PrometheusMetrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		pm.RecordRequest(r.Method, route, strconv.Itoa(wrapped.status), time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.status = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}
