package admin

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/DabengBa/ccg-gateway/internal/models"
	"github.com/DabengBa/ccg-gateway/internal/services/catalog"
)

// ProviderStore is the catalog surface the admin API needs.
type ProviderStore interface {
	List(ctx context.Context, category models.Category) ([]models.Provider, error)
	Get(ctx context.Context, id uint) (*models.Provider, error)
	Create(ctx context.Context, p *models.Provider) error
	Update(ctx context.Context, id uint, upd catalog.ProviderUpdate) (*models.Provider, error)
	Delete(ctx context.Context, id uint) error
	Reorder(ctx context.Context, ids []uint) error
}

// HealthAdmin exposes the manual health overrides.
type HealthAdmin interface {
	ResetFailures(ctx context.Context, providerID uint) error
	Unblacklist(ctx context.Context, providerID uint) error
}

type ProviderHandler struct {
	baseHandler
	store  ProviderStore
	health HealthAdmin
	now    func() time.Time
}

func NewProviderHandler(logger *zap.Logger, store ProviderStore, health HealthAdmin) *ProviderHandler {
	return &ProviderHandler{
		baseHandler: baseHandler{logger: logger},
		store:       store,
		health:      health,
		now:         time.Now,
	}
}

// ProviderView is the admin representation of a provider. The credential
// is only ever shown masked.
type ProviderView struct {
	ID                  uint            `json:"id"`
	Category            models.Category `json:"category"`
	Name                string          `json:"name"`
	BaseURL             string          `json:"base_url"`
	APIKey              string          `json:"api_key"`
	Enabled             bool            `json:"enabled"`
	Priority            int             `json:"priority"`
	FailureThreshold    int             `json:"failure_threshold"`
	BlacklistMinutes    int             `json:"blacklist_minutes"`
	ConsecutiveFailures int             `json:"consecutive_failures"`
	BlacklistedUntil    *time.Time      `json:"blacklisted_until,omitempty"`
	IsBlacklisted       bool            `json:"is_blacklisted"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

func (h *ProviderHandler) view(p *models.Provider) ProviderView {
	return ProviderView{
		ID:                  p.ID,
		Category:            p.Category,
		Name:                p.Name,
		BaseURL:             p.BaseURL,
		APIKey:              p.MaskedAPIKey(),
		Enabled:             p.Enabled,
		Priority:            p.Priority,
		FailureThreshold:    p.FailureThreshold,
		BlacklistMinutes:    p.BlacklistMinutes,
		ConsecutiveFailures: p.ConsecutiveFailures,
		BlacklistedUntil:    p.BlacklistedUntil,
		IsBlacklisted:       p.IsBlacklisted(h.now()),
		CreatedAt:           p.CreatedAt,
		UpdatedAt:           p.UpdatedAt,
	}
}

type CreateProviderRequest struct {
	Category         string `json:"category" validate:"required,oneof=claude_code codex gemini"`
	Name             string `json:"name" validate:"required,max=100"`
	BaseURL          string `json:"base_url" validate:"required,url,max=500"`
	APIKey           string `json:"api_key" validate:"required,max=500"`
	Enabled          *bool  `json:"enabled"`
	Priority         int    `json:"priority" validate:"min=0"`
	FailureThreshold int    `json:"failure_threshold" validate:"omitempty,min=1,max=100"`
	BlacklistMinutes int    `json:"blacklist_minutes" validate:"omitempty,min=1,max=1440"`
}

type UpdateProviderRequest struct {
	Name             *string `json:"name" validate:"omitempty,min=1,max=100"`
	BaseURL          *string `json:"base_url" validate:"omitempty,url,max=500"`
	APIKey           *string `json:"api_key" validate:"omitempty,min=1,max=500"`
	Enabled          *bool   `json:"enabled"`
	Priority         *int    `json:"priority" validate:"omitempty,min=0"`
	FailureThreshold *int    `json:"failure_threshold" validate:"omitempty,min=1,max=100"`
	BlacklistMinutes *int    `json:"blacklist_minutes" validate:"omitempty,min=1,max=1440"`
}

type ReorderRequest struct {
	IDs []uint `json:"ids" validate:"required,min=1,dive,min=1"`
}

func (h *ProviderHandler) List(w http.ResponseWriter, r *http.Request) {
	var category models.Category
	if c := r.URL.Query().Get("category"); c != "" {
		parsed, err := models.ParseCategory(c)
		if err != nil {
			h.sendError(w, http.StatusBadRequest, err.Error())
			return
		}
		category = parsed
	}

	providers, err := h.store.List(r.Context(), category)
	if err != nil {
		h.logger.Error("Failed to list providers", zap.Error(err))
		h.sendError(w, http.StatusInternalServerError, "Failed to list providers")
		return
	}

	views := make([]ProviderView, 0, len(providers))
	for i := range providers {
		views = append(views, h.view(&providers[i]))
	}
	h.sendJSON(w, http.StatusOK, map[string]interface{}{
		"providers": views,
		"total":     len(views),
	})
}

func (h *ProviderHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.storeError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, h.view(p))
}

func (h *ProviderHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateProviderRequest
	if !h.decode(w, r, &req) {
		return
	}

	p := &models.Provider{
		Category:         models.Category(req.Category),
		Name:             req.Name,
		BaseURL:          req.BaseURL,
		APIKey:           req.APIKey,
		Enabled:          true,
		Priority:         req.Priority,
		FailureThreshold: req.FailureThreshold,
		BlacklistMinutes: req.BlacklistMinutes,
	}
	if req.Enabled != nil {
		p.Enabled = *req.Enabled
	}
	if p.FailureThreshold == 0 {
		p.FailureThreshold = models.DefaultFailureThreshold
	}
	if p.BlacklistMinutes == 0 {
		p.BlacklistMinutes = models.DefaultBlacklistMinutes
	}

	if err := h.store.Create(r.Context(), p); err != nil {
		h.storeError(w, err)
		return
	}
	h.sendJSON(w, http.StatusCreated, h.view(p))
}

func (h *ProviderHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req UpdateProviderRequest
	if !h.decode(w, r, &req) {
		return
	}

	p, err := h.store.Update(r.Context(), id, catalog.ProviderUpdate{
		Name:             req.Name,
		BaseURL:          req.BaseURL,
		APIKey:           req.APIKey,
		Enabled:          req.Enabled,
		Priority:         req.Priority,
		FailureThreshold: req.FailureThreshold,
		BlacklistMinutes: req.BlacklistMinutes,
	})
	if err != nil {
		h.storeError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, h.view(p))
}

func (h *ProviderHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		h.storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ProviderHandler) Reorder(w http.ResponseWriter, r *http.Request) {
	var req ReorderRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.store.Reorder(r.Context(), req.IDs); err != nil {
		h.storeError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *ProviderHandler) ResetFailures(w http.ResponseWriter, r *http.Request) {
	h.healthAction(w, r, h.health.ResetFailures)
}

func (h *ProviderHandler) Unblacklist(w http.ResponseWriter, r *http.Request) {
	h.healthAction(w, r, h.health.Unblacklist)
}

func (h *ProviderHandler) healthAction(w http.ResponseWriter, r *http.Request, action func(context.Context, uint) error) {
	id, err := idParam(r)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := action(r.Context(), id); err != nil {
		h.storeError(w, err)
		return
	}

	p, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.storeError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, h.view(p))
}

func (h *ProviderHandler) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, catalog.ErrProviderNotFound):
		h.sendError(w, http.StatusNotFound, "Provider not found")
	case errors.Is(err, catalog.ErrDuplicateName):
		h.sendError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("Provider store error", zap.Error(err))
		h.sendError(w, http.StatusInternalServerError, "Internal error")
	}
}
