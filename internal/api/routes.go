package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/deKupini/the-library/internal/observability"
	"github.com/deKupini/the-library/internal/resilience"
)

type RouterConfig struct {
	Handler       *Handler
	HealthHandler *observability.HealthHandler
	Metrics       *observability.Metrics
	Logger        *slog.Logger
	// RateLimiter guards /books. Nil disables limiting.
	RateLimiter resilience.RateLimiter
}

func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	if cfg.Logger != nil {
		r.Use(observability.LoggingMiddleware(cfg.Logger))
	}

	if cfg.Metrics != nil {
		r.Use(observability.MetricsMiddleware(cfg.Metrics))
	}

	if cfg.HealthHandler != nil {
		r.Get("/health", cfg.HealthHandler.Health)
		r.Get("/ready", cfg.HealthHandler.Ready)
	}
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/books", func(r chi.Router) {
		if cfg.RateLimiter != nil {
			var onReject func()
			if cfg.Metrics != nil {
				onReject = cfg.Metrics.RateLimiterRejections.Inc
			}
			r.Use(resilience.RateLimitMiddleware(cfg.RateLimiter, onReject, cfg.Logger))
		}

		r.Post("/", cfg.Handler.CreateBook)
		r.Get("/", cfg.Handler.ListBooks)
		r.Get("/{id}", cfg.Handler.GetBook)
		r.Delete("/{id}", cfg.Handler.DeleteBook)
		r.Patch("/{id}/borrow", cfg.Handler.BorrowBook)
		r.Patch("/{id}/return", cfg.Handler.ReturnBook)
		r.Get("/{id}/history", cfg.Handler.GetBookHistory)
	})

	return r
}
