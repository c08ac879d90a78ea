// Package settings serves the runtime-tunable gateway settings: forwarding
// timeouts and the debug log toggle.
package settings

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/DabengBa/ccg-gateway/internal/config"
	"github.com/DabengBa/ccg-gateway/internal/models"
	"github.com/DabengBa/ccg-gateway/internal/proxy"
)

// Snapshot is the settings in effect for one request.
type Snapshot struct {
	Timeouts proxy.TimeoutPolicy
	DebugLog bool
}

// Provider is consumed once per inbound request.
type Provider interface {
	Current(ctx context.Context) (Snapshot, error)
}

// Store reads the settings rows on every call so that admin changes apply
// to the next request. Defaults come from the process configuration and
// can be swapped when the config file is reloaded.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger

	mu       sync.RWMutex
	defaults Snapshot
}

func NewStore(db *gorm.DB, gw config.GatewayConfig, logger *zap.Logger) *Store {
	s := &Store{db: db, logger: logger}
	s.SetDefaults(gw)
	return s
}

// SetDefaults replaces the fallback values used when a row is missing or a
// stored timeout is not positive.
func (s *Store) SetDefaults(gw config.GatewayConfig) {
	d := Snapshot{
		Timeouts: proxy.TimeoutPolicy{
			FirstByteTimeout: gw.StreamFirstByteTimeout,
			IdleTimeout:      gw.StreamIdleTimeout,
			NonStreamTimeout: gw.NonStreamTimeout,
		}.WithDefaults(proxy.DefaultTimeoutPolicy()),
		DebugLog: gw.DebugLog,
	}

	s.mu.Lock()
	s.defaults = d
	s.mu.Unlock()
}

func (s *Store) Defaults() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaults
}

func (s *Store) Current(ctx context.Context) (Snapshot, error) {
	snap := s.Defaults()

	var timeouts models.TimeoutSettings
	err := s.db.WithContext(ctx).First(&timeouts, models.SettingsRowID).Error
	switch {
	case err == nil:
		snap.Timeouts = proxy.TimeoutPolicy{
			FirstByteTimeout: seconds(timeouts.StreamFirstByteTimeout),
			IdleTimeout:      seconds(timeouts.StreamIdleTimeout),
			NonStreamTimeout: seconds(timeouts.NonStreamTimeout),
		}.WithDefaults(snap.Timeouts)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return snap, fmt.Errorf("read timeout settings: %w", err)
	}

	var gw models.GatewaySettings
	err = s.db.WithContext(ctx).First(&gw, models.SettingsRowID).Error
	switch {
	case err == nil:
		snap.DebugLog = gw.DebugLog
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return snap, fmt.Errorf("read gateway settings: %w", err)
	}

	return snap, nil
}

// EnsureDefaults creates the singleton rows from the configured defaults
// when they do not exist yet. Existing rows are left alone.
func (s *Store) EnsureDefaults(ctx context.Context) error {
	d := s.Defaults()

	timeouts := models.TimeoutSettings{
		ID:                     models.SettingsRowID,
		StreamFirstByteTimeout: int(d.Timeouts.FirstByteTimeout / time.Second),
		StreamIdleTimeout:      int(d.Timeouts.IdleTimeout / time.Second),
		NonStreamTimeout:       int(d.Timeouts.NonStreamTimeout / time.Second),
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&timeouts).Error; err != nil {
		return fmt.Errorf("seed timeout settings: %w", err)
	}

	gw := models.GatewaySettings{ID: models.SettingsRowID, DebugLog: d.DebugLog}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&gw).Error; err != nil {
		return fmt.Errorf("seed gateway settings: %w", err)
	}
	return nil
}

// Update carries the fields an admin may change. Timeouts are in seconds;
// nil fields are left untouched.
type Update struct {
	StreamFirstByteTimeout *int  `json:"stream_first_byte_timeout" validate:"omitempty,min=1,max=3600"`
	StreamIdleTimeout      *int  `json:"stream_idle_timeout" validate:"omitempty,min=1,max=3600"`
	NonStreamTimeout       *int  `json:"non_stream_timeout" validate:"omitempty,min=1,max=3600"`
	DebugLog               *bool `json:"debug_log"`
}

func (s *Store) Apply(ctx context.Context, upd Update) (Snapshot, error) {
	if err := s.EnsureDefaults(ctx); err != nil {
		return Snapshot{}, err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		timeouts := map[string]interface{}{}
		if upd.StreamFirstByteTimeout != nil {
			timeouts["stream_first_byte_timeout"] = *upd.StreamFirstByteTimeout
		}
		if upd.StreamIdleTimeout != nil {
			timeouts["stream_idle_timeout"] = *upd.StreamIdleTimeout
		}
		if upd.NonStreamTimeout != nil {
			timeouts["non_stream_timeout"] = *upd.NonStreamTimeout
		}
		if len(timeouts) > 0 {
			if err := tx.Model(&models.TimeoutSettings{}).Where("id = ?", models.SettingsRowID).Updates(timeouts).Error; err != nil {
				return fmt.Errorf("update timeout settings: %w", err)
			}
		}

		if upd.DebugLog != nil {
			if err := tx.Model(&models.GatewaySettings{}).Where("id = ?", models.SettingsRowID).
				Update("debug_log", *upd.DebugLog).Error; err != nil {
				return fmt.Errorf("update gateway settings: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}

	snap, err := s.Current(ctx)
	if err == nil {
		s.logger.Info("Gateway settings updated",
			zap.Duration("first_byte_timeout", snap.Timeouts.FirstByteTimeout),
			zap.Duration("idle_timeout", snap.Timeouts.IdleTimeout),
			zap.Duration("non_stream_timeout", snap.Timeouts.NonStreamTimeout),
			zap.Bool("debug_log", snap.DebugLog))
	}
	return snap, err
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
