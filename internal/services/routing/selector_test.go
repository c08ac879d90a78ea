package routing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DabengBa/ccg-gateway/internal/models"
	"github.com/DabengBa/ccg-gateway/internal/proxy"
	"github.com/DabengBa/ccg-gateway/internal/services/catalog"
	"github.com/DabengBa/ccg-gateway/internal/testutil"
)

type fakeCatalog struct {
	providers []models.Provider
	// includeDisabled makes ListEnabled return disabled rows as well.
	includeDisabled bool
}

func (f *fakeCatalog) ListEnabled(_ context.Context, category models.Category) ([]models.Provider, error) {
	var out []models.Provider
	for _, p := range f.providers {
		if p.Category == category && (p.Enabled || f.includeDisabled) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeCatalog) Get(_ context.Context, id uint) (*models.Provider, error) {
	for _, p := range f.providers {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, catalog.ErrProviderNotFound
}

func timePtr(t time.Time) *time.Time { return &t }

func TestSelectorSelect(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	ctx := context.Background()

	t.Run("lowest priority wins, ties by id", func(t *testing.T) {
		cat := &fakeCatalog{providers: []models.Provider{
			{ID: 3, Category: models.CategoryClaudeCode, Name: "c", Priority: 1, Enabled: true},
			{ID: 2, Category: models.CategoryClaudeCode, Name: "b", Priority: 1, Enabled: true},
			{ID: 1, Category: models.CategoryClaudeCode, Name: "a", Priority: 5, Enabled: true},
		}}
		p, err := NewSelector(cat, zap.NewNop()).WithClock(clock).Select(ctx, models.CategoryClaudeCode)
		require.NoError(t, err)
		assert.Equal(t, uint(2), p.ID)
	})

	t.Run("active blacklist is skipped", func(t *testing.T) {
		cat := &fakeCatalog{providers: []models.Provider{
			{ID: 1, Category: models.CategoryCodex, Name: "p1", Priority: 1, Enabled: true, BlacklistedUntil: timePtr(now.Add(time.Minute))},
			{ID: 2, Category: models.CategoryCodex, Name: "p2", Priority: 2, Enabled: true},
		}}
		p, err := NewSelector(cat, zap.NewNop()).WithClock(clock).Select(ctx, models.CategoryCodex)
		require.NoError(t, err)
		assert.Equal(t, "p2", p.Name)
	})

	t.Run("lapsed blacklist is eligible again", func(t *testing.T) {
		cat := &fakeCatalog{providers: []models.Provider{
			{ID: 1, Category: models.CategoryCodex, Name: "p1", Priority: 1, Enabled: true, BlacklistedUntil: timePtr(now)},
			{ID: 2, Category: models.CategoryCodex, Name: "p2", Priority: 2, Enabled: true},
		}}
		p, err := NewSelector(cat, zap.NewNop()).WithClock(clock).Select(ctx, models.CategoryCodex)
		require.NoError(t, err)
		assert.Equal(t, "p1", p.Name)
	})

	t.Run("all blacklisted", func(t *testing.T) {
		cat := &fakeCatalog{providers: []models.Provider{
			{ID: 1, Category: models.CategoryGemini, Name: "g", Priority: 1, Enabled: true, BlacklistedUntil: timePtr(now.Add(time.Hour))},
		}}
		_, err := NewSelector(cat, zap.NewNop()).WithClock(clock).Select(ctx, models.CategoryGemini)
		assert.ErrorIs(t, err, proxy.ErrNoProviderAvailable)
	})

	t.Run("disabled provider is skipped", func(t *testing.T) {
		cat := &fakeCatalog{includeDisabled: true, providers: []models.Provider{
			{ID: 1, Category: models.CategoryCodex, Name: "off", Priority: 1, Enabled: false},
			{ID: 2, Category: models.CategoryCodex, Name: "on", Priority: 2, Enabled: true},
		}}
		p, err := NewSelector(cat, zap.NewNop()).WithClock(clock).Select(ctx, models.CategoryCodex)
		require.NoError(t, err)
		assert.Equal(t, "on", p.Name)
	})

	t.Run("all disabled", func(t *testing.T) {
		cat := &fakeCatalog{includeDisabled: true, providers: []models.Provider{
			{ID: 1, Category: models.CategoryGemini, Name: "g1", Priority: 1, Enabled: false},
			{ID: 2, Category: models.CategoryGemini, Name: "g2", Priority: 2, Enabled: false},
		}}
		_, err := NewSelector(cat, zap.NewNop()).WithClock(clock).Select(ctx, models.CategoryGemini)
		assert.ErrorIs(t, err, proxy.ErrNoProviderAvailable)
	})

	t.Run("empty category", func(t *testing.T) {
		_, err := NewSelector(&fakeCatalog{}, zap.NewNop()).Select(ctx, models.CategoryGemini)
		assert.ErrorIs(t, err, proxy.ErrNoProviderAvailable)
	})

	t.Run("selection is stable across calls", func(t *testing.T) {
		cat := &fakeCatalog{providers: []models.Provider{
			{ID: 1, Category: models.CategoryClaudeCode, Name: "a", Priority: 1, Enabled: true},
			{ID: 2, Category: models.CategoryClaudeCode, Name: "b", Priority: 1, Enabled: true},
		}}
		s := NewSelector(cat, zap.NewNop()).WithClock(clock)
		for i := 0; i < 5; i++ {
			p, err := s.Select(ctx, models.CategoryClaudeCode)
			require.NoError(t, err)
			assert.Equal(t, uint(1), p.ID)
		}
	})
}

func TestSelectorWithStore(t *testing.T) {
	db := testutil.NewTestDB(t)
	store := catalog.NewStore(db, zap.NewNop())
	ctx := context.Background()

	primary := &models.Provider{Category: models.CategoryClaudeCode, Name: "primary", BaseURL: "https://a", APIKey: "k1", Enabled: true, Priority: 1, FailureThreshold: 3, BlacklistMinutes: 10}
	backup := &models.Provider{Category: models.CategoryClaudeCode, Name: "backup", BaseURL: "https://b", APIKey: "k2", Enabled: true, Priority: 2, FailureThreshold: 3, BlacklistMinutes: 10}
	require.NoError(t, store.Create(ctx, primary))
	require.NoError(t, store.Create(ctx, backup))

	selector := NewSelector(store, zap.NewNop())

	p, err := selector.Select(ctx, models.CategoryClaudeCode)
	require.NoError(t, err)
	assert.Equal(t, "primary", p.Name)

	require.NoError(t, db.Model(&models.Provider{}).Where("id = ?", primary.ID).
		Update("blacklisted_until", time.Now().Add(10*time.Minute)).Error)

	p, err = selector.Select(ctx, models.CategoryClaudeCode)
	require.NoError(t, err)
	assert.Equal(t, "backup", p.Name)
}
