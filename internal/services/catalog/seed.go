package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/DabengBa/ccg-gateway/internal/config"
	"github.com/DabengBa/ccg-gateway/internal/models"
)

// Seed creates the providers declared in the config file. Entries whose
// category and name already exist are skipped, so edits made through the
// admin API survive restarts.
func (s *Store) Seed(ctx context.Context, seeds []config.ProviderSeed) (int, error) {
	created := 0
	for i, seed := range seeds {
		category, err := models.ParseCategory(seed.Category)
		if err != nil {
			return created, fmt.Errorf("providers[%d]: %w", i, err)
		}
		if seed.Name == "" || seed.BaseURL == "" {
			return created, fmt.Errorf("providers[%d]: name and base_url are required", i)
		}

		p := &models.Provider{
			Category:         category,
			Name:             seed.Name,
			BaseURL:          seed.BaseURL,
			APIKey:           os.ExpandEnv(seed.APIKey),
			Enabled:          !seed.Disabled,
			Priority:         seed.Priority,
			FailureThreshold: seed.FailureThreshold,
			BlacklistMinutes: seed.BlacklistMinutes,
		}
		if p.FailureThreshold <= 0 {
			p.FailureThreshold = models.DefaultFailureThreshold
		}
		if p.BlacklistMinutes <= 0 {
			p.BlacklistMinutes = models.DefaultBlacklistMinutes
		}
		if p.APIKey == "" {
			s.logger.Warn("Seeded provider has no API key", zap.String("name", p.Name))
		}

		if err := s.Create(ctx, p); err != nil {
			if errors.Is(err, ErrDuplicateName) {
				continue
			}
			return created, fmt.Errorf("providers[%d]: %w", i, err)
		}
		created++
	}
	return created, nil
}
