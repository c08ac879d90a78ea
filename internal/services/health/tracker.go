// Package health keeps the per-provider failure counters and blacklist
// windows that the selector consults.
package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/DabengBa/ccg-gateway/internal/models"
	"github.com/DabengBa/ccg-gateway/internal/services/catalog"
	"github.com/DabengBa/ccg-gateway/internal/services/outcome"
)

// Tracker is the only writer of Provider.ConsecutiveFailures and
// Provider.BlacklistedUntil. Every update is a read-modify-write in one
// transaction; a per-provider mutex serialises updates inside this process
// and a row lock does the same across processes on PostgreSQL.
type Tracker struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time

	locks sync.Map // uint -> *sync.Mutex

	// OnBlacklist is called after a failure that opened a blacklist window
	// has been committed.
	OnBlacklist func(p *models.Provider, until time.Time)
}

func NewTracker(db *gorm.DB, logger *zap.Logger) *Tracker {
	return &Tracker{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock replaces the clock used to compute blacklist windows.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// RecordSuccess resets the failure counter. An active blacklist window is
// left in place and lapses on its own.
func (t *Tracker) RecordSuccess(ctx context.Context, providerID uint) error {
	return t.update(ctx, providerID, func(p *models.Provider) map[string]interface{} {
		if p.ConsecutiveFailures == 0 {
			return nil
		}
		t.logger.Debug("Recorded success for provider",
			zap.Uint("provider_id", p.ID),
			zap.Int("previous_failures", p.ConsecutiveFailures))
		return map[string]interface{}{"consecutive_failures": 0}
	})
}

// RecordFailure increments the failure counter and opens a blacklist window
// once the counter reaches the provider's threshold.
func (t *Tracker) RecordFailure(ctx context.Context, providerID uint) error {
	var (
		blacklisted *models.Provider
		until       time.Time
	)
	err := t.update(ctx, providerID, func(p *models.Provider) map[string]interface{} {
		failures := p.ConsecutiveFailures + 1
		changes := map[string]interface{}{"consecutive_failures": failures}

		if failures >= p.FailureThreshold {
			until = t.now().Add(p.BlacklistDuration())
			changes["blacklisted_until"] = until
			blacklisted = p
			t.logger.Warn("Provider blacklisted",
				zap.Uint("provider_id", p.ID),
				zap.String("provider", p.Name),
				zap.Int("failure_count", failures),
				zap.Time("blacklisted_until", until))
		} else {
			t.logger.Debug("Recorded failure for provider",
				zap.Uint("provider_id", p.ID),
				zap.Int("failure_count", failures))
		}
		return changes
	})
	if err == nil && blacklisted != nil && t.OnBlacklist != nil {
		blacklisted.ConsecutiveFailures++
		blacklisted.BlacklistedUntil = &until
		t.OnBlacklist(blacklisted, until)
	}
	return err
}

// ResetFailures zeroes the counter without touching the blacklist window.
func (t *Tracker) ResetFailures(ctx context.Context, providerID uint) error {
	return t.update(ctx, providerID, func(*models.Provider) map[string]interface{} {
		return map[string]interface{}{"consecutive_failures": 0}
	})
}

// Unblacklist closes the blacklist window and zeroes the counter.
func (t *Tracker) Unblacklist(ctx context.Context, providerID uint) error {
	err := t.update(ctx, providerID, func(*models.Provider) map[string]interface{} {
		return map[string]interface{}{
			"consecutive_failures": 0,
			"blacklisted_until":    gorm.Expr("NULL"),
		}
	})
	if err == nil {
		t.logger.Info("Provider unblacklisted", zap.Uint("provider_id", providerID))
	}
	return err
}

// OnOutcome implements outcome.Consumer.
func (t *Tracker) OnOutcome(ctx context.Context, ev outcome.Event) {
	var err error
	if ev.Success {
		err = t.RecordSuccess(ctx, ev.ProviderID)
	} else {
		err = t.RecordFailure(ctx, ev.ProviderID)
	}
	if err != nil {
		t.logger.Error("Failed to record provider health",
			zap.Uint("provider_id", ev.ProviderID),
			zap.Bool("success", ev.Success),
			zap.Error(err))
	}
}

func (t *Tracker) lockFor(id uint) *sync.Mutex {
	mu, _ := t.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (t *Tracker) update(ctx context.Context, providerID uint, mutate func(*models.Provider) map[string]interface{}) error {
	mu := t.lockFor(providerID)
	mu.Lock()
	defer mu.Unlock()

	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		var p models.Provider
		if err := q.First(&p, providerID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return catalog.ErrProviderNotFound
			}
			return fmt.Errorf("load provider %d: %w", providerID, err)
		}

		changes := mutate(&p)
		if len(changes) == 0 {
			return nil
		}
		if err := tx.Model(&models.Provider{}).Where("id = ?", providerID).UpdateColumns(changes).Error; err != nil {
			return fmt.Errorf("update provider %d health: %w", providerID, err)
		}
		return nil
	})
}
