package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DabengBa/ccg-gateway/internal/config"
	"github.com/DabengBa/ccg-gateway/internal/handlers"
	"github.com/DabengBa/ccg-gateway/internal/handlers/admin"
	"github.com/DabengBa/ccg-gateway/internal/middleware"
	"github.com/DabengBa/ccg-gateway/internal/models"
	"github.com/DabengBa/ccg-gateway/internal/proxy"
	"github.com/DabengBa/ccg-gateway/internal/services/catalog"
	"github.com/DabengBa/ccg-gateway/internal/services/health"
	"github.com/DabengBa/ccg-gateway/internal/services/settings"
	"github.com/DabengBa/ccg-gateway/internal/testutil"
)

type noProvider struct{}

func (noProvider) Select(context.Context, models.Category) (*models.Provider, error) {
	return nil, proxy.ErrNoProviderAvailable
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	db := testutil.NewTestDB(t)
	logger := zap.NewNop()
	reg := prometheus.NewRegistry()

	cfg := &config.Config{
		Auth:       config.AuthConfig{Enabled: true, Token: "secret", HeaderName: "X-CCG-Token"},
		Monitoring: config.MonitoringConfig{EnableMetrics: true, ServiceName: "ccg-gateway"},
	}
	settingsStore := settings.NewStore(db, config.GatewayConfig{}, logger)

	return NewRouter(Dependencies{
		Config:    cfg,
		Logger:    logger,
		Health:    handlers.NewHealthHandler(db, nil),
		Proxy:     handlers.NewProxyHandler(logger, noProvider{}, nil, settingsStore),
		Gatherer:  reg,
		Metrics:   middleware.NewHTTPMetrics(reg),
		Providers: admin.NewProviderHandler(logger, catalog.NewStore(db, logger), health.NewTracker(db, logger)),
		Settings:  admin.NewSettingsHandler(logger, settingsStore),
	})
}

func serve(h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(`{}`))
	if token != "" {
		req.Header.Set("X-CCG-Token", token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestProbesArePublic(t *testing.T) {
	r := newTestRouter(t)

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/ready", "").Code)

	rec := serve(r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ccg_http_requests_total")
}

func TestAdminRequiresToken(t *testing.T) {
	r := newTestRouter(t)

	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/api/admin/settings", "").Code)
	assert.Equal(t, http.StatusForbidden, serve(r, http.MethodGet, "/api/admin/settings", "nope").Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/api/admin/settings", "secret").Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/api/admin/providers", "secret").Code)
}

func TestReorderRoute(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/providers/reorder", strings.NewReader(`{"ids":[999]}`))
	req.Header.Set("X-CCG-Token", "secret")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	// Reached the reorder handler, which reports the unknown id.
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotContains(t, rec.Body.String(), "no_provider_available")
}

func TestProxyCatchAll(t *testing.T) {
	r := newTestRouter(t)

	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodPost, "/v1/messages", "").Code)

	rec := serve(r, http.MethodPost, "/v1/messages", "secret")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "no_provider_available")

	rec = serve(r, http.MethodGet, "/v1beta/models", "secret")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsRouter(t *testing.T) {
	cfg := &config.Config{Monitoring: config.MonitoringConfig{EnableMetrics: true, ServiceName: "ccg-worker"}}
	r := NewMetricsRouter(cfg, prometheus.NewRegistry())

	rec := serve(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ccg-worker")
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/metrics", "").Code)
}
