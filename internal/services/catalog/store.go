// Package catalog is the provider catalog: the ordered set of upstream
// providers per category, stored with gorm.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/DabengBa/ccg-gateway/internal/models"
)

var (
	ErrProviderNotFound = errors.New("provider not found")
	ErrDuplicateName    = errors.New("provider name already used in this category")
)

// Catalog is the read-only view the selector needs.
type Catalog interface {
	// ListEnabled returns the enabled providers of a category ordered by priority, then id.
	ListEnabled(ctx context.Context, category models.Category) ([]models.Provider, error)
	Get(ctx context.Context, id uint) (*models.Provider, error)
}

// Store implements Catalog and the admin-side mutations of provider
// configuration. Health columns are never written here.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

func (s *Store) ListEnabled(ctx context.Context, category models.Category) ([]models.Provider, error) {
	var providers []models.Provider
	err := s.db.WithContext(ctx).
		Where("category = ? AND enabled = ?", category, true).
		Order("priority ASC").
		Order("id ASC").
		Find(&providers).Error
	if err != nil {
		return nil, fmt.Errorf("list enabled providers: %w", err)
	}
	return providers, nil
}

func (s *Store) Get(ctx context.Context, id uint) (*models.Provider, error) {
	var provider models.Provider
	err := s.db.WithContext(ctx).First(&provider, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProviderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get provider %d: %w", id, err)
	}
	return &provider, nil
}

// List returns every provider, optionally restricted to one category.
func (s *Store) List(ctx context.Context, category models.Category) ([]models.Provider, error) {
	q := s.db.WithContext(ctx).Order("category ASC").Order("priority ASC").Order("id ASC")
	if category != "" {
		q = q.Where("category = ?", category)
	}

	var providers []models.Provider
	if err := q.Find(&providers).Error; err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	return providers, nil
}

// Create inserts a provider. When Priority is zero it is placed after the
// existing providers of its category.
func (s *Store) Create(ctx context.Context, p *models.Provider) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkUniqueName(tx, p.Category, p.Name, 0); err != nil {
			return err
		}

		if p.Priority == 0 {
			var maxPriority *int
			if err := tx.Model(&models.Provider{}).
				Where("category = ?", p.Category).
				Select("MAX(priority)").
				Scan(&maxPriority).Error; err != nil {
				return fmt.Errorf("read max priority: %w", err)
			}
			if maxPriority != nil {
				p.Priority = *maxPriority + 1
			}
		}

		p.ConsecutiveFailures = 0
		p.BlacklistedUntil = nil
		if err := tx.Create(p).Error; err != nil {
			return fmt.Errorf("create provider: %w", err)
		}

		s.logger.Info("Provider created",
			zap.Uint("id", p.ID),
			zap.String("name", p.Name),
			zap.String("category", string(p.Category)),
			zap.Int("priority", p.Priority))
		return nil
	})
}

// ProviderUpdate carries the configuration fields an update may change. Nil
// fields are left untouched.
type ProviderUpdate struct {
	Name             *string
	BaseURL          *string
	APIKey           *string
	Enabled          *bool
	Priority         *int
	FailureThreshold *int
	BlacklistMinutes *int
}

func (s *Store) Update(ctx context.Context, id uint, upd ProviderUpdate) (*models.Provider, error) {
	var provider models.Provider
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&provider, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrProviderNotFound
			}
			return err
		}

		changes := map[string]interface{}{}
		if upd.Name != nil && *upd.Name != provider.Name {
			if err := checkUniqueName(tx, provider.Category, *upd.Name, id); err != nil {
				return err
			}
			changes["name"] = *upd.Name
		}
		if upd.BaseURL != nil {
			changes["base_url"] = *upd.BaseURL
		}
		if upd.APIKey != nil {
			changes["api_key"] = *upd.APIKey
		}
		if upd.Enabled != nil {
			changes["enabled"] = *upd.Enabled
		}
		if upd.Priority != nil {
			changes["priority"] = *upd.Priority
		}
		if upd.FailureThreshold != nil {
			changes["failure_threshold"] = *upd.FailureThreshold
		}
		if upd.BlacklistMinutes != nil {
			changes["blacklist_minutes"] = *upd.BlacklistMinutes
		}
		if len(changes) == 0 {
			return nil
		}

		if err := tx.Model(&provider).Updates(changes).Error; err != nil {
			return fmt.Errorf("update provider %d: %w", id, err)
		}
		return tx.First(&provider, id).Error
	})
	if err != nil {
		return nil, err
	}
	return &provider, nil
}

func (s *Store) Delete(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Delete(&models.Provider{}, id)
	if result.Error != nil {
		return fmt.Errorf("delete provider %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrProviderNotFound
	}
	s.logger.Info("Provider deleted", zap.Uint("id", id))
	return nil
}

// Reorder assigns priorities 0..n-1 following the order of ids.
func (s *Store) Reorder(ctx context.Context, ids []uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, id := range ids {
			result := tx.Model(&models.Provider{}).Where("id = ?", id).Update("priority", i)
			if result.Error != nil {
				return fmt.Errorf("reorder provider %d: %w", id, result.Error)
			}
			if result.RowsAffected == 0 {
				return fmt.Errorf("%w: %d", ErrProviderNotFound, id)
			}
		}
		return nil
	})
}

func checkUniqueName(tx *gorm.DB, category models.Category, name string, exceptID uint) error {
	var count int64
	q := tx.Model(&models.Provider{}).Where("category = ? AND name = ?", category, name)
	if exceptID != 0 {
		q = q.Where("id <> ?", exceptID)
	}
	if err := q.Count(&count).Error; err != nil {
		return fmt.Errorf("check provider name: %w", err)
	}
	if count > 0 {
		return ErrDuplicateName
	}
	return nil
}
