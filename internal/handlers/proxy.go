package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DabengBa/ccg-gateway/internal/models"
	"github.com/DabengBa/ccg-gateway/internal/proxy"
	"github.com/DabengBa/ccg-gateway/internal/services/routing"
	"github.com/DabengBa/ccg-gateway/internal/services/settings"
)

const defaultMaxBodyBytes = 32 << 20

type ProviderSelector interface {
	Select(ctx context.Context, category models.Category) (*models.Provider, error)
}

type Forwarder interface {
	Forward(ctx context.Context, req *proxy.Request) (*proxy.Response, error)
}

// ProxyHandler serves every path not claimed by the gateway itself:
// classify, select a provider, forward, relay.
type ProxyHandler struct {
	logger       *zap.Logger
	selector     ProviderSelector
	forwarder    Forwarder
	settings     settings.Provider
	maxBodyBytes int64

	// OnNoProvider is called with the category when a request is rejected
	// with 503.
	OnNoProvider func(category string)
}

func NewProxyHandler(logger *zap.Logger, selector ProviderSelector, forwarder Forwarder, sp settings.Provider) *ProxyHandler {
	return &ProxyHandler{
		logger:       logger,
		selector:     selector,
		forwarder:    forwarder,
		settings:     sp,
		maxBodyBytes: defaultMaxBodyBytes,
	}
}

type gatewayError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func writeGatewayError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]gatewayError{
		"error": {Type: errType, Message: message},
	})
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := chiMiddleware.GetReqID(ctx)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeGatewayError(w, http.StatusRequestEntityTooLarge, "invalid_request", "Request body too large")
			return
		}
		writeGatewayError(w, http.StatusBadRequest, "invalid_request", "Failed to read request body")
		return
	}

	classifyHeader := r.Header.Clone()
	classifyHeader.Set("Host", r.Host)
	category := routing.Classify(r.URL.Path, classifyHeader)

	snap, err := h.settings.Current(ctx)
	if err != nil {
		h.logger.Warn("Using default gateway settings", zap.Error(err))
	}

	provider, err := h.selector.Select(ctx, category)
	if err != nil {
		if errors.Is(err, proxy.ErrNoProviderAvailable) {
			if h.OnNoProvider != nil {
				h.OnNoProvider(string(category))
			}
			writeGatewayError(w, http.StatusServiceUnavailable, proxy.ErrorType(err), "No available provider")
			return
		}
		h.logger.Error("Provider selection failed", zap.String("category", string(category)), zap.Error(err))
		writeGatewayError(w, http.StatusBadGateway, "upstream_error", "Provider selection failed")
		return
	}

	resp, err := h.forwarder.Forward(ctx, &proxy.Request{
		Provider:  provider,
		Category:  category,
		Method:    r.Method,
		Path:      r.URL.Path,
		RawQuery:  r.URL.RawQuery,
		Header:    r.Header,
		Body:      body,
		Policy:    snap.Timeouts,
		Debug:     snap.DebugLog,
		RequestID: requestID,
	})
	if err != nil {
		status := proxy.StatusForError(err)
		message := "Upstream request failed"
		if status == http.StatusGatewayTimeout {
			message = "Upstream timeout"
		}
		writeGatewayError(w, status, proxy.ErrorType(err), message)
		return
	}

	copyHeader(w.Header(), resp.Header)

	if resp.Stream == nil {
		w.WriteHeader(resp.StatusCode)
		if _, err := w.Write(resp.Body); err != nil {
			h.logger.Debug("Client write failed", zap.String("request_id", requestID), zap.Error(err))
		}
		return
	}

	h.relayStream(w, r, resp, requestID)
}

func (h *ProxyHandler) relayStream(w http.ResponseWriter, r *http.Request, resp *proxy.Response, requestID string) {
	stream := resp.Stream
	defer stream.Close()

	rc := http.NewResponseController(w)
	w.WriteHeader(resp.StatusCode)
	_ = rc.Flush()

	for {
		chunk, err := stream.Next(r.Context())
		if err != nil {
			if !errors.Is(err, io.EOF) {
				h.logger.Debug("Stream relay stopped",
					zap.String("request_id", requestID),
					zap.Error(err))
			}
			return
		}

		if _, err := w.Write(chunk); err != nil {
			h.logger.Debug("Client went away mid-stream",
				zap.String("request_id", requestID),
				zap.Error(err))
			return
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return
		}
	}
}

func copyHeader(dst, src http.Header) {
	for name, values := range src {
		dst[name] = append([]string(nil), values...)
	}
}
