package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/DabengBa/ccg-gateway/internal/config"
	"github.com/DabengBa/ccg-gateway/internal/handlers"
	"github.com/DabengBa/ccg-gateway/internal/handlers/admin"
	"github.com/DabengBa/ccg-gateway/internal/middleware"
)

// Dependencies carries the handlers and collaborators the gateway router
// mounts. Admin handlers are optional; the admin API is only mounted when
// Providers is set.
type Dependencies struct {
	Config   *config.Config
	Logger   *zap.Logger
	Health   *handlers.HealthHandler
	Proxy    *handlers.ProxyHandler
	Gatherer prometheus.Gatherer
	Metrics  *middleware.HTTPMetrics

	Providers *admin.ProviderHandler
	Settings  *admin.SettingsHandler
	Usage     *admin.UsageHandler
}

func NewRouter(deps Dependencies) http.Handler {
	cfg, logger := deps.Config, deps.Logger
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.Logger(logger))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware(logger))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   cfg.CORS.AllowedMethods,
		AllowedHeaders:   cfg.CORS.AllowedHeaders,
		ExposedHeaders:   cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           cfg.CORS.MaxAge,
	}))

	r.Get("/health", deps.Health.Health)
	r.Get("/ready", deps.Health.Ready)

	if cfg.Monitoring.EnableMetrics {
		r.Handle("/metrics", metricsHandler(deps.Gatherer))
	}

	tokenGate := middleware.GatewayToken(cfg.Auth, logger)

	if deps.Providers != nil {
		r.Route("/api/admin", func(r chi.Router) {
			r.Use(tokenGate)

			r.Route("/providers", func(r chi.Router) {
				r.Get("/", deps.Providers.List)
				r.Post("/", deps.Providers.Create)
				r.Post("/reorder", deps.Providers.Reorder)
				r.Get("/{id}", deps.Providers.Get)
				r.Put("/{id}", deps.Providers.Update)
				r.Delete("/{id}", deps.Providers.Delete)
				r.Post("/{id}/reset-failures", deps.Providers.ResetFailures)
				r.Post("/{id}/unblacklist", deps.Providers.Unblacklist)
			})

			if deps.Settings != nil {
				r.Get("/settings", deps.Settings.Get)
				r.Put("/settings", deps.Settings.Update)
			}

			if deps.Usage != nil {
				r.Get("/usage/daily", deps.Usage.Daily)
				r.Get("/usage/providers", deps.Usage.Providers)
			}
		})
		logger.Info("Admin routes mounted at /api/admin")
	}

	// Everything else is forwarded upstream.
	r.With(tokenGate).Handle("/*", deps.Proxy)

	return r
}

func metricsHandler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
