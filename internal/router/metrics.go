package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/DabengBa/ccg-gateway/internal/config"
)

// NewMetricsRouter is the standalone listener used by processes without the
// gateway router, such as the usage worker.
func NewMetricsRouter(cfg *config.Config, g prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status": "ok", "service": "` + cfg.Monitoring.ServiceName + `"}`))
	})

	if cfg.Monitoring.EnableMetrics {
		r.Handle("/metrics", metricsHandler(g))
	}

	return r
}
