package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DabengBa/ccg-gateway/internal/config"
	"github.com/DabengBa/ccg-gateway/internal/models"
	"github.com/DabengBa/ccg-gateway/internal/proxy"
	"github.com/DabengBa/ccg-gateway/internal/services/outcome"
	"github.com/DabengBa/ccg-gateway/internal/services/settings"
)

type stubSelector struct {
	provider *models.Provider
	err      error
	seen     []models.Category
}

func (s *stubSelector) Select(_ context.Context, category models.Category) (*models.Provider, error) {
	s.seen = append(s.seen, category)
	if s.err != nil {
		return nil, s.err
	}
	return s.provider, nil
}

type staticSettings settings.Snapshot

func (s staticSettings) Current(context.Context) (settings.Snapshot, error) {
	return settings.Snapshot(s), nil
}

func testSettings(nonStream time.Duration) staticSettings {
	return staticSettings{Timeouts: proxy.TimeoutPolicy{
		FirstByteTimeout: 2 * time.Second,
		IdleTimeout:      2 * time.Second,
		NonStreamTimeout: nonStream,
	}}
}

type eventLog struct {
	mu     sync.Mutex
	events []outcome.Event
}

func (l *eventLog) OnOutcome(_ context.Context, ev outcome.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) all() []outcome.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]outcome.Event(nil), l.events...)
}

func newGateway(t *testing.T, sel *stubSelector, sp settings.Provider) (*httptest.Server, *eventLog) {
	t.Helper()
	log := &eventLog{}
	engine := proxy.NewEngine(proxy.NewHTTPClient(config.TransportConfig{}), log, zap.NewNop())
	h := NewProxyHandler(zap.NewNop(), sel, engine, sp)
	gw := httptest.NewServer(h)
	t.Cleanup(gw.Close)
	return gw, log
}

func TestProxyNoProviderAvailable(t *testing.T) {
	sel := &stubSelector{err: proxy.ErrNoProviderAvailable}
	var rejected []string
	h := NewProxyHandler(zap.NewNop(), sel, nil, testSettings(time.Second))
	h.OnNoProvider = func(c string) { rejected = append(rejected, c) }

	req := httptest.NewRequest(http.MethodPost, "/v1beta/models/gemini-pro:generateContent", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body map[string]map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "no_provider_available", body["error"]["type"])
	assert.Equal(t, []string{"gemini"}, rejected)
}

func TestProxyClassifiesCodex(t *testing.T) {
	sel := &stubSelector{err: proxy.ErrNoProviderAvailable}
	h := NewProxyHandler(zap.NewNop(), sel, nil, testSettings(time.Second))

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{}`))
	req.Header.Set("User-Agent", "codex_cli_rs/0.1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.Len(t, sel.seen, 1)
	assert.Equal(t, models.CategoryCodex, sel.seen[0])
}

func TestProxyBufferedRoundTrip(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-live", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(upstream.Close)

	sel := &stubSelector{provider: &models.Provider{ID: 1, Name: "main", BaseURL: upstream.URL, APIKey: "sk-live"}}
	gw, events := newGateway(t, sel, testSettings(2*time.Second))

	resp, err := http.Post(gw.URL+"/v1/messages", "application/json", strings.NewReader(`{"model":"m"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, `{"ok":true}`, string(body))
	assert.Equal(t, "main", resp.Header.Get(proxy.ProviderHeader))

	got := events.all()
	require.Len(t, got, 1)
	assert.True(t, got[0].Success)
}

func TestProxyStreamRoundTrip(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for i := 0; i < 3; i++ {
			_, _ = fmt.Fprintf(w, "data: %d\n\n", i)
			w.(http.Flusher).Flush()
		}
	}))
	t.Cleanup(upstream.Close)

	sel := &stubSelector{provider: &models.Provider{ID: 2, Name: "streamer", BaseURL: upstream.URL, APIKey: "k"}}
	gw, events := newGateway(t, sel, testSettings(2*time.Second))

	resp, err := http.Post(gw.URL+"/v1/messages", "application/json", strings.NewReader(`{"stream":true}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "data: 0\n\ndata: 1\n\ndata: 2\n\n", string(body))

	require.Eventually(t, func() bool { return len(events.all()) == 1 }, time.Second, 10*time.Millisecond)
	got := events.all()
	assert.True(t, got[0].Success)
	assert.True(t, got[0].Streaming)
}

func TestProxyUpstreamTimeout(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(upstream.Close)
	t.Cleanup(func() { close(release) })

	sel := &stubSelector{provider: &models.Provider{ID: 3, Name: "slow", BaseURL: upstream.URL, APIKey: "k"}}
	gw, events := newGateway(t, sel, testSettings(100*time.Millisecond))

	resp, err := http.Post(gw.URL+"/v1/messages", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
	got := events.all()
	require.Len(t, got, 1)
	assert.False(t, got[0].Success)
}
