package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	corslib "github.com/rs/cors"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/fallguard/fallguard/internal/api/handler"
	"github.com/fallguard/fallguard/internal/config"
	"github.com/fallguard/fallguard/internal/metrics"
)

// NewRouter creates and configures the Chi router with all middleware and routes.
func NewRouter(h *handler.Handler, m *metrics.Metrics, cfg *config.Config, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	// --- Middleware stack ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(TimingMiddleware(m, logger))
	r.Use(middleware.Compress(5)) // gzip

	// CORS
	c := corslib.New(corslib.Options{
		AllowedOrigins:   cfg.CORSAllowOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Encoding", "Content-Type", "If-None-Match", "Cache-Control", "Authorization"},
		ExposedHeaders:   []string{"X-Process-Time", "X-Cache", "ETag", "X-Request-Id"},
		AllowCredentials: false,
	})
	r.Use(c.Handler)

	// Rate limiting
	if cfg.RateLimitEnabled {
		r.Use(RateLimitMiddleware(cfg.RateLimitRequests, cfg.RateLimitWindow))
	}

	// --- Routes ---

	// Root
	r.Get("/", h.Root)

	// Health checks
	r.Route("/health", func(r chi.Router) {
		r.Get("/", h.HealthCheck)
		r.Get("/db", h.HealthCheckDB)
		r.Get("/cache", h.HealthCheckCache)
	})

	r.Handle("/metrics", m.Handler())

	r.Get("/docs/*", httpSwagger.Handler(
		httpSwagger.URL("/docs/doc.json"),
	))

	r.Route("/fall-events", func(r chi.Router) {
		r.Post("/", h.CreateFallEvent)
		r.Get("/", h.ListFallEvents)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetFallEvent)
			r.Patch("/", h.UpdateFallEvent)
			r.Delete("/", h.DeleteFallEvent)
			r.Patch("/false-alarm", h.MarkFalseAlarm)
			r.Get("/notifications", h.ListNotifications)
		})
	})

	r.Route("/alert-config", func(r chi.Router) {
		r.Get("/", h.ListConfigs)
		r.Post("/", h.CreateConfig)
		r.Get("/active", h.GetActiveConfig)
		r.Post("/{id}/activate", h.ActivateConfig)
	})

	return r
}
