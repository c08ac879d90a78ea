package admin

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/DabengBa/ccg-gateway/internal/services/settings"
)

type SettingsStore interface {
	Current(ctx context.Context) (settings.Snapshot, error)
	Apply(ctx context.Context, upd settings.Update) (settings.Snapshot, error)
}

type SettingsHandler struct {
	baseHandler
	store SettingsStore
}

func NewSettingsHandler(logger *zap.Logger, store SettingsStore) *SettingsHandler {
	return &SettingsHandler{baseHandler: baseHandler{logger: logger}, store: store}
}

type settingsView struct {
	StreamFirstByteTimeout int  `json:"stream_first_byte_timeout"`
	StreamIdleTimeout      int  `json:"stream_idle_timeout"`
	NonStreamTimeout       int  `json:"non_stream_timeout"`
	DebugLog               bool `json:"debug_log"`
}

func toView(s settings.Snapshot) settingsView {
	return settingsView{
		StreamFirstByteTimeout: int(s.Timeouts.FirstByteTimeout / time.Second),
		StreamIdleTimeout:      int(s.Timeouts.IdleTimeout / time.Second),
		NonStreamTimeout:       int(s.Timeouts.NonStreamTimeout / time.Second),
		DebugLog:               s.DebugLog,
	}
}

func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	snap, err := h.store.Current(r.Context())
	if err != nil {
		h.logger.Error("Failed to read settings", zap.Error(err))
		h.sendError(w, http.StatusInternalServerError, "Failed to read settings")
		return
	}
	h.sendJSON(w, http.StatusOK, toView(snap))
}

func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req settings.Update
	if !h.decode(w, r, &req) {
		return
	}

	snap, err := h.store.Apply(r.Context(), req)
	if err != nil {
		h.logger.Error("Failed to update settings", zap.Error(err))
		h.sendError(w, http.StatusInternalServerError, "Failed to update settings")
		return
	}
	h.sendJSON(w, http.StatusOK, toView(snap))
}
