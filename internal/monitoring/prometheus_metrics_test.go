package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserverCounters(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.AuthAttempt("ok")
	pm.AuthAttempt("ok")
	pm.AuthAttempt("expired")
	pm.UserCreated()

	assert.Equal(t, 2.0, testutil.ToFloat64(pm.authAttempts.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.authAttempts.WithLabelValues("expired")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.usersCreated))
}

func TestMetricsMiddleware_UsesRoutePattern(t *testing.T) {
	pm := NewPrometheusMetrics()

	r := chi.NewRouter()
	r.Use(pm.MetricsMiddleware)
	r.Get("/users/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, id := range []string{"1", "2"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users/"+id, nil))
		require.Equal(t, http.StatusTeapot, rec.Code)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(pm.requestCount.WithLabelValues("GET", "/users/{id}", "418")))
}

func TestHandler_ExposesMetrics(t *testing.T) {
	pm := NewPrometheusMetrics()
	pm.AuthAttempt("malformed")

	rec := httptest.NewRecorder()
	pm.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `tgauth_auth_attempts_total{outcome="malformed"} 1`)
}
