package routing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/DabengBa/ccg-gateway/internal/models"
	"github.com/DabengBa/ccg-gateway/internal/proxy"
	"github.com/DabengBa/ccg-gateway/internal/services/catalog"
)

// Selector picks the provider that serves a request: the first enabled
// provider of the category, by (Priority, ID), whose blacklist window has
// lapsed. It keeps no state between calls.
type Selector struct {
	catalog catalog.Catalog
	logger  *zap.Logger
	now     func() time.Time
}

func NewSelector(c catalog.Catalog, logger *zap.Logger) *Selector {
	return &Selector{
		catalog: c,
		logger:  logger,
		now:     time.Now,
	}
}

// WithClock replaces the clock used for blacklist checks.
func (s *Selector) WithClock(now func() time.Time) *Selector {
	s.now = now
	return s
}

// Select returns proxy.ErrNoProviderAvailable when nothing is eligible.
func (s *Selector) Select(ctx context.Context, category models.Category) (*models.Provider, error) {
	providers, err := s.catalog.ListEnabled(ctx, category)
	if err != nil {
		return nil, fmt.Errorf("select provider: %w", err)
	}

	sort.SliceStable(providers, func(i, j int) bool {
		if providers[i].Priority != providers[j].Priority {
			return providers[i].Priority < providers[j].Priority
		}
		return providers[i].ID < providers[j].ID
	})

	now := s.now()
	for i := range providers {
		p := &providers[i]
		if !p.Enabled {
			continue
		}
		if p.IsBlacklisted(now) {
			s.logger.Debug("Skipping blacklisted provider",
				zap.Uint("provider_id", p.ID),
				zap.String("provider", p.Name),
				zap.Time("blacklisted_until", *p.BlacklistedUntil))
			continue
		}

		s.logger.Debug("Selected provider by priority",
			zap.Uint("provider_id", p.ID),
			zap.String("provider", p.Name),
			zap.String("category", string(category)),
			zap.Int("priority", p.Priority))
		return p, nil
	}

	s.logger.Warn("No provider available",
		zap.String("category", string(category)),
		zap.Int("enabled", len(providers)))
	return nil, proxy.ErrNoProviderAvailable
}
