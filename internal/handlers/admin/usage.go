package admin

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/DabengBa/ccg-gateway/internal/models"
	"github.com/DabengBa/ccg-gateway/internal/services/usage"
)

type UsageStore interface {
	Daily(ctx context.Context, f usage.StatsFilter) ([]models.UsageDaily, error)
	Totals(ctx context.Context, f usage.StatsFilter) ([]usage.ProviderTotals, error)
}

type UsageHandler struct {
	baseHandler
	store UsageStore
}

func NewUsageHandler(logger *zap.Logger, store UsageStore) *UsageHandler {
	return &UsageHandler{baseHandler: baseHandler{logger: logger}, store: store}
}

// filter parses ?from=&to=&provider_id=&category=. Without from, the last
// seven days are returned.
func (h *UsageHandler) filter(w http.ResponseWriter, r *http.Request) (usage.StatsFilter, bool) {
	q := r.URL.Query()
	f := usage.StatsFilter{From: q.Get("from"), To: q.Get("to")}

	for _, d := range []string{f.From, f.To} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(models.UsageDateLayout, d); err != nil {
			h.sendError(w, http.StatusBadRequest, "Dates must be formatted as YYYY-MM-DD")
			return f, false
		}
	}
	if f.From == "" {
		f.From = time.Now().AddDate(0, 0, -6).Format(models.UsageDateLayout)
	}

	if s := q.Get("provider_id"); s != "" {
		id, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			h.sendError(w, http.StatusBadRequest, "Invalid provider_id")
			return f, false
		}
		f.ProviderID = uint(id)
	}
	if c := q.Get("category"); c != "" {
		cat, err := models.ParseCategory(c)
		if err != nil {
			h.sendError(w, http.StatusBadRequest, err.Error())
			return f, false
		}
		f.Category = cat
	}
	return f, true
}

func (h *UsageHandler) Daily(w http.ResponseWriter, r *http.Request) {
	f, ok := h.filter(w, r)
	if !ok {
		return
	}

	rows, err := h.store.Daily(r.Context(), f)
	if err != nil {
		h.logger.Error("Failed to query daily usage", zap.Error(err))
		h.sendError(w, http.StatusInternalServerError, "Failed to query usage")
		return
	}
	h.sendJSON(w, http.StatusOK, map[string]interface{}{"from": f.From, "to": f.To, "days": rows})
}

func (h *UsageHandler) Providers(w http.ResponseWriter, r *http.Request) {
	f, ok := h.filter(w, r)
	if !ok {
		return
	}

	totals, err := h.store.Totals(r.Context(), f)
	if err != nil {
		h.logger.Error("Failed to query usage totals", zap.Error(err))
		h.sendError(w, http.StatusInternalServerError, "Failed to query usage")
		return
	}

	type providerStats struct {
		usage.ProviderTotals
		SuccessRate float64 `json:"success_rate"`
	}
	out := make([]providerStats, 0, len(totals))
	for _, t := range totals {
		out = append(out, providerStats{ProviderTotals: t, SuccessRate: t.SuccessRate()})
	}
	h.sendJSON(w, http.StatusOK, map[string]interface{}{"from": f.From, "to": f.To, "providers": out})
}
