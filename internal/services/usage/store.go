// Package usage tallies forwarding outcomes into daily per-provider counters.
// The gateway either enqueues records on Redis for the worker to aggregate
// or, without Redis, writes the counters directly.
package usage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/DabengBa/ccg-gateway/internal/models"
)

// Record is one forwarding outcome as seen by the usage pipeline.
type Record struct {
	ID         string          `json:"id"`
	RequestID  string          `json:"request_id,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	UsageDate  string          `json:"usage_date"`
	ProviderID uint            `json:"provider_id"`
	Category   models.Category `json:"category"`
	Success    bool            `json:"success"`
	StatusCode int             `json:"status_code,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	LatencyMS  int64           `json:"latency_ms"`
	Retries    int             `json:"retries,omitempty"`
}

type dailyKey struct {
	date       string
	providerID uint
	category   models.Category
}

type dailyDelta struct {
	requests, successes, failures int64
}

// Store persists the usage_daily counters.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// ApplyBatch folds records into the daily counters in one transaction.
func (s *Store) ApplyBatch(ctx context.Context, records []*Record) error {
	if len(records) == 0 {
		return nil
	}

	deltas := make(map[dailyKey]*dailyDelta)
	for _, r := range records {
		date := r.UsageDate
		if date == "" {
			date = r.Timestamp.Format(models.UsageDateLayout)
		}
		k := dailyKey{date: date, providerID: r.ProviderID, category: r.Category}
		d, ok := deltas[k]
		if !ok {
			d = &dailyDelta{}
			deltas[k] = d
		}
		d.requests++
		if r.Success {
			d.successes++
		} else {
			d.failures++
		}
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for k, d := range deltas {
			if err := upsertDaily(tx, k, d); err != nil {
				return err
			}
		}
		return nil
	})
}

func upsertDaily(tx *gorm.DB, k dailyKey, d *dailyDelta) error {
	row := models.UsageDaily{
		UsageDate:    k.date,
		ProviderID:   k.providerID,
		Category:     k.category,
		RequestCount: d.requests,
		SuccessCount: d.successes,
		FailureCount: d.failures,
	}
	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "usage_date"}, {Name: "provider_id"}, {Name: "category"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"request_count": gorm.Expr("usage_daily.request_count + excluded.request_count"),
			"success_count": gorm.Expr("usage_daily.success_count + excluded.success_count"),
			"failure_count": gorm.Expr("usage_daily.failure_count + excluded.failure_count"),
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert usage for provider %d on %s: %w", k.providerID, k.date, err)
	}
	return nil
}

// Prune deletes daily rows older than retentionDays days before now.
func (s *Store) Prune(ctx context.Context, now time.Time, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := now.AddDate(0, 0, -retentionDays).Format(models.UsageDateLayout)

	result := s.db.WithContext(ctx).Where("usage_date < ?", cutoff).Delete(&models.UsageDaily{})
	if result.Error != nil {
		return 0, fmt.Errorf("prune usage before %s: %w", cutoff, result.Error)
	}
	if result.RowsAffected > 0 {
		s.logger.Info("Pruned usage rows",
			zap.String("before", cutoff),
			zap.Int64("rows", result.RowsAffected))
	}
	return result.RowsAffected, nil
}

// StatsFilter restricts Daily and Totals. Empty fields match everything;
// dates are inclusive YYYY-MM-DD strings.
type StatsFilter struct {
	From       string
	To         string
	ProviderID uint
	Category   models.Category
}

func (f StatsFilter) apply(q *gorm.DB) *gorm.DB {
	if f.From != "" {
		q = q.Where("usage_date >= ?", f.From)
	}
	if f.To != "" {
		q = q.Where("usage_date <= ?", f.To)
	}
	if f.ProviderID != 0 {
		q = q.Where("provider_id = ?", f.ProviderID)
	}
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	return q
}

// Daily returns the matching rows, newest day first.
func (s *Store) Daily(ctx context.Context, f StatsFilter) ([]models.UsageDaily, error) {
	var rows []models.UsageDaily
	q := f.apply(s.db.WithContext(ctx).Model(&models.UsageDaily{}))
	if err := q.Order("usage_date DESC").Order("provider_id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query daily usage: %w", err)
	}
	return rows, nil
}

// ProviderTotals is the sum of the daily counters of one provider.
type ProviderTotals struct {
	ProviderID   uint            `json:"provider_id"`
	Category     models.Category `json:"category"`
	RequestCount int64           `json:"request_count"`
	SuccessCount int64           `json:"success_count"`
	FailureCount int64           `json:"failure_count"`
}

func (t ProviderTotals) SuccessRate() float64 {
	if t.RequestCount == 0 {
		return 0
	}
	return float64(t.SuccessCount) / float64(t.RequestCount)
}

func (s *Store) Totals(ctx context.Context, f StatsFilter) ([]ProviderTotals, error) {
	rows, err := s.Daily(ctx, f)
	if err != nil {
		return nil, err
	}

	byProvider := make(map[uint]*ProviderTotals)
	for _, r := range rows {
		t, ok := byProvider[r.ProviderID]
		if !ok {
			t = &ProviderTotals{ProviderID: r.ProviderID, Category: r.Category}
			byProvider[r.ProviderID] = t
		}
		t.RequestCount += r.RequestCount
		t.SuccessCount += r.SuccessCount
		t.FailureCount += r.FailureCount
	}

	totals := make([]ProviderTotals, 0, len(byProvider))
	for _, t := range byProvider {
		totals = append(totals, *t)
	}
	sort.Slice(totals, func(i, j int) bool { return totals[i].ProviderID < totals[j].ProviderID })
	return totals, nil
}
