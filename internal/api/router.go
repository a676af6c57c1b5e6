package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"tgauth/internal/auth"
	"tgauth/internal/monitoring"
	"tgauth/internal/ratelimit"
)

const defaultMaxBody = 64 << 10

type Deps struct {
	Resolver     *auth.Resolver
	Log          *zap.Logger
	Metrics      *monitoring.PrometheusMetrics
	Limiter      ratelimit.Limiter
	CORSOrigins  []string
	MaxBodyBytes int64
	// Now defaults to time.Now.
	Now func() time.Time
}

// NewRouter builds the HTTP API.
func NewRouter(d Deps) chi.Router {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.MaxBodyBytes <= 0 {
		d.MaxBodyBytes = defaultMaxBody
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if len(d.CORSOrigins) == 0 {
		d.CORSOrigins = []string{"*"}
	}

	eh := NewErrorHandler(d.Log)
	h := &AuthHandler{resolver: d.Resolver, errors: eh, maxBody: d.MaxBodyBytes, now: d.Now}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(d.Log))
	r.Use(eh.RecoveryMiddleware)
	r.Use(SecurityHeaders)
	if d.Metrics != nil {
		r.Use(d.Metrics.MetricsMiddleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: !allowsAny(d.CORSOrigins),
		MaxAge:           300,
	}))

	r.Get("/", root)
	r.Get("/health", health)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	r.Route("/api/auth", func(r chi.Router) {
		if d.Limiter != nil {
			r.With(eh.RateLimit(d.Limiter)).Post("/telegram", h.TelegramAuth)
		} else {
			r.Post("/telegram", h.TelegramAuth)
		}
		r.Get("/me", h.Me)
		r.Get("/test", h.Test)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		eh.HandleError(w, r, NewNotFoundError("route not found"))
	})
	return r
}

func allowsAny(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
