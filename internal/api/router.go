package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hackgods/therapy-booking/internal/metrics"
)

type RouterConfig struct {
	Handler     *Handler
	Health      *HealthHandler
	Verifier    TokenVerifier
	Limiter     Limiter // nil disables rate limiting
	Metrics     *metrics.Collector
	CORSOrigins []string
	Logger      *zap.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(chimw.Recoverer)
	r.Use(LoggingMiddleware(log))
	if cfg.Metrics != nil {
		r.Use(MetricsMiddleware(cfg.Metrics))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health endpoints
	r.Get("/health/live", cfg.Health.Liveness)
	r.Get("/health/ready", cfg.Health.Readiness)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}

	h := cfg.Handler
	r.Route("/api/v1/appointments", func(r chi.Router) {
		r.Use(Authenticate(cfg.Verifier))
		if cfg.Limiter != nil {
			r.Use(RateLimitMiddleware(cfg.Limiter, log))
		}

		r.Post("/", h.BookAppointment)
		r.Post("/validate", h.ValidateSlot)
		r.Get("/", h.ListAppointments)
		r.Get("/{id}", h.GetAppointment)
		r.Post("/{id}/cancel", h.CancelAppointment)
		r.Post("/{id}/confirm", h.ConfirmAppointment)
	})

	return r
}
