package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DabengBa/ccg-gateway/internal/models"
	"github.com/DabengBa/ccg-gateway/internal/testutil"
)

func newProvider(category models.Category, name string, priority int) *models.Provider {
	return &models.Provider{
		Category:         category,
		Name:             name,
		BaseURL:          "https://" + name + ".example.com",
		APIKey:           "sk-" + name + "-secret",
		Enabled:          true,
		Priority:         priority,
		FailureThreshold: 3,
		BlacklistMinutes: 10,
	}
}

func TestStoreListEnabled(t *testing.T) {
	db := testutil.NewTestDB(t)
	store := NewStore(db, zap.NewNop())
	ctx := context.Background()

	b := newProvider(models.CategoryClaudeCode, "b", 2)
	a := newProvider(models.CategoryClaudeCode, "a", 1)
	disabled := newProvider(models.CategoryClaudeCode, "off", 1)
	disabled.Enabled = false
	other := newProvider(models.CategoryCodex, "codex", 1)

	for _, p := range []*models.Provider{b, a, disabled, other} {
		require.NoError(t, store.Create(ctx, p))
	}

	providers, err := store.ListEnabled(ctx, models.CategoryClaudeCode)
	require.NoError(t, err)
	require.Len(t, providers, 2)
	assert.Equal(t, "a", providers[0].Name)
	assert.Equal(t, "b", providers[1].Name)

	// disabled stays disabled after Create
	got, err := store.Get(ctx, disabled.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
}

func TestStoreCreateAppendsPriority(t *testing.T) {
	db := testutil.NewTestDB(t)
	store := NewStore(db, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newProvider(models.CategoryGemini, "first", 4)))

	second := newProvider(models.CategoryGemini, "second", 0)
	require.NoError(t, store.Create(ctx, second))
	assert.Equal(t, 5, second.Priority)

	err := store.Create(ctx, newProvider(models.CategoryGemini, "first", 0))
	assert.ErrorIs(t, err, ErrDuplicateName)
}

func TestStoreUpdateLeavesHealthAlone(t *testing.T) {
	db := testutil.NewTestDB(t)
	store := NewStore(db, zap.NewNop())
	ctx := context.Background()

	p := newProvider(models.CategoryClaudeCode, "primary", 1)
	require.NoError(t, store.Create(ctx, p))

	until := time.Now().Add(5 * time.Minute).UTC()
	require.NoError(t, db.Model(&models.Provider{}).Where("id = ?", p.ID).Updates(map[string]interface{}{
		"consecutive_failures": 3,
		"blacklisted_until":    until,
	}).Error)

	name := "renamed"
	enabled := false
	updated, err := store.Update(ctx, p.ID, ProviderUpdate{Name: &name, Enabled: &enabled})
	require.NoError(t, err)

	assert.Equal(t, "renamed", updated.Name)
	assert.False(t, updated.Enabled)
	assert.Equal(t, 3, updated.ConsecutiveFailures)
	require.NotNil(t, updated.BlacklistedUntil)
	assert.WithinDuration(t, until, *updated.BlacklistedUntil, time.Second)

	_, err = store.Update(ctx, 9999, ProviderUpdate{Name: &name})
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestStoreReorderAndDelete(t *testing.T) {
	db := testutil.NewTestDB(t)
	store := NewStore(db, zap.NewNop())
	ctx := context.Background()

	a := newProvider(models.CategoryCodex, "a", 1)
	b := newProvider(models.CategoryCodex, "b", 2)
	require.NoError(t, store.Create(ctx, a))
	require.NoError(t, store.Create(ctx, b))

	require.NoError(t, store.Reorder(ctx, []uint{b.ID, a.ID}))

	providers, err := store.ListEnabled(ctx, models.CategoryCodex)
	require.NoError(t, err)
	require.Len(t, providers, 2)
	assert.Equal(t, "b", providers[0].Name)

	assert.ErrorIs(t, store.Reorder(ctx, []uint{4242}), ErrProviderNotFound)

	require.NoError(t, store.Delete(ctx, a.ID))
	assert.ErrorIs(t, store.Delete(ctx, a.ID), ErrProviderNotFound)

	_, err = store.Get(ctx, a.ID)
	assert.ErrorIs(t, err, ErrProviderNotFound)
}
