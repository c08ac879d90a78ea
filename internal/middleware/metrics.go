package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/DabengBa/ccg-gateway/internal/services/routing"
)

// slowRequest is the threshold for the slow request warning. Streams
// routinely exceed it, so only buffered responses are considered.
const slowRequest = 10 * time.Second

// HTTPMetrics holds the ccg_http_* series.
type HTTPMetrics struct {
	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	responseSize *prometheus.HistogramVec
	inFlight     prometheus.Gauge
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	factory := promauto.With(reg)
	return &HTTPMetrics{
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ccg_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ccg_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint", "status"},
		),
		responseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ccg_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint"},
		),
		inFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ccg_http_in_flight_requests",
				Help: "Number of requests currently being served",
			},
		),
	}
}

// Middleware collects the series for every request.
func (m *HTTPMetrics) Middleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			m.inFlight.Inc()
			defer m.inFlight.Dec()

			wrapped := NewStreamingResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			elapsed := time.Since(start)
			endpoint := endpointLabel(r)
			status := strconv.Itoa(wrapped.StatusCode())
			m.requests.WithLabelValues(r.Method, endpoint, status).Inc()
			m.duration.WithLabelValues(r.Method, endpoint, status).Observe(elapsed.Seconds())
			m.responseSize.WithLabelValues(r.Method, endpoint).Observe(float64(wrapped.BytesWritten()))

			if elapsed > slowRequest && wrapped.Header().Get("Content-Type") != "text/event-stream" {
				logger.Warn("Slow request detected",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Duration("duration", elapsed),
					zap.Int("status", wrapped.StatusCode()),
				)
			}
		})
	}
}

// endpointLabel keeps label cardinality bounded: routed endpoints use the
// chi pattern, the proxy catch-all collapses to its category.
func endpointLabel(r *http.Request) string {
	pattern := ""
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		pattern = rctx.RoutePattern()
	}
	switch pattern {
	case "":
		return "unmatched"
	case "/*":
		return "proxy:" + string(routing.Classify(r.URL.Path, r.Header))
	default:
		return pattern
	}
}
