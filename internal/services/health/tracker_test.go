package health

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/DabengBa/ccg-gateway/internal/models"
	"github.com/DabengBa/ccg-gateway/internal/services/catalog"
	"github.com/DabengBa/ccg-gateway/internal/services/metrics"
	"github.com/DabengBa/ccg-gateway/internal/services/outcome"
	"github.com/DabengBa/ccg-gateway/internal/testutil"
)

func seedProvider(t *testing.T, db *gorm.DB, threshold, minutes int) *models.Provider {
	t.Helper()
	p := &models.Provider{
		Category:         models.CategoryClaudeCode,
		Name:             "primary",
		BaseURL:          "https://upstream.example.com",
		APIKey:           "sk-test-0123456789",
		Enabled:          true,
		Priority:         1,
		FailureThreshold: threshold,
		BlacklistMinutes: minutes,
	}
	require.NoError(t, db.Create(p).Error)
	return p
}

func reload(t *testing.T, db *gorm.DB, id uint) models.Provider {
	t.Helper()
	var p models.Provider
	require.NoError(t, db.First(&p, id).Error)
	return p
}

func TestRecordFailureBlacklistsAtThreshold(t *testing.T) {
	db := testutil.NewTestDB(t)
	p := seedProvider(t, db, 3, 10)

	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	tracker := NewTracker(db, zap.NewNop()).WithClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, tracker.RecordFailure(ctx, p.ID))
	require.NoError(t, tracker.RecordFailure(ctx, p.ID))

	got := reload(t, db, p.ID)
	assert.Equal(t, 2, got.ConsecutiveFailures)
	assert.Nil(t, got.BlacklistedUntil)

	require.NoError(t, tracker.RecordFailure(ctx, p.ID))

	got = reload(t, db, p.ID)
	assert.Equal(t, 3, got.ConsecutiveFailures)
	require.NotNil(t, got.BlacklistedUntil)
	assert.WithinDuration(t, now.Add(10*time.Minute), *got.BlacklistedUntil, time.Second)
	assert.True(t, got.IsBlacklisted(now.Add(9*time.Minute)))
	assert.False(t, got.IsBlacklisted(now.Add(11*time.Minute)))
}

func TestFailureAfterExpiryReblacklists(t *testing.T) {
	db := testutil.NewTestDB(t)
	p := seedProvider(t, db, 2, 5)

	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	tracker := NewTracker(db, zap.NewNop()).WithClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, tracker.RecordFailure(ctx, p.ID))
	require.NoError(t, tracker.RecordFailure(ctx, p.ID))

	now = now.Add(6 * time.Minute)
	require.NoError(t, tracker.RecordFailure(ctx, p.ID))

	got := reload(t, db, p.ID)
	assert.Equal(t, 3, got.ConsecutiveFailures)
	require.NotNil(t, got.BlacklistedUntil)
	assert.WithinDuration(t, now.Add(5*time.Minute), *got.BlacklistedUntil, time.Second)
}

func TestRecordSuccessKeepsActiveBlacklist(t *testing.T) {
	db := testutil.NewTestDB(t)
	p := seedProvider(t, db, 1, 10)
	tracker := NewTracker(db, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, tracker.RecordFailure(ctx, p.ID))
	require.NoError(t, tracker.RecordSuccess(ctx, p.ID))

	got := reload(t, db, p.ID)
	assert.Equal(t, 0, got.ConsecutiveFailures)
	require.NotNil(t, got.BlacklistedUntil)
	assert.True(t, got.IsBlacklisted(time.Now()))
}

func TestResetAndUnblacklist(t *testing.T) {
	db := testutil.NewTestDB(t)
	p := seedProvider(t, db, 2, 10)
	tracker := NewTracker(db, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, tracker.RecordFailure(ctx, p.ID))
	require.NoError(t, tracker.ResetFailures(ctx, p.ID))
	assert.Equal(t, 0, reload(t, db, p.ID).ConsecutiveFailures)

	require.NoError(t, tracker.RecordFailure(ctx, p.ID))
	require.NoError(t, tracker.RecordFailure(ctx, p.ID))
	require.NotNil(t, reload(t, db, p.ID).BlacklistedUntil)

	require.NoError(t, tracker.Unblacklist(ctx, p.ID))
	got := reload(t, db, p.ID)
	assert.Nil(t, got.BlacklistedUntil)
	assert.Equal(t, 0, got.ConsecutiveFailures)

	assert.ErrorIs(t, tracker.RecordFailure(ctx, 9999), catalog.ErrProviderNotFound)
}

func TestConcurrentFailuresAreNotLost(t *testing.T) {
	db := testutil.NewTestDB(t)
	p := seedProvider(t, db, 100, 10)
	tracker := NewTracker(db, zap.NewNop())
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, tracker.RecordFailure(ctx, p.ID))
		}()
	}
	wg.Wait()

	assert.Equal(t, n, reload(t, db, p.ID).ConsecutiveFailures)
}

func TestOnOutcome(t *testing.T) {
	db := testutil.NewTestDB(t)
	p := seedProvider(t, db, 3, 10)
	tracker := NewTracker(db, zap.NewNop())
	ctx := context.Background()

	tracker.OnOutcome(ctx, outcome.Event{ProviderID: p.ID, Success: false, Reason: outcome.ReasonStatus})
	tracker.OnOutcome(ctx, outcome.Event{ProviderID: p.ID, Success: false, Reason: outcome.ReasonTimeout})
	assert.Equal(t, 2, reload(t, db, p.ID).ConsecutiveFailures)

	tracker.OnOutcome(ctx, outcome.Event{ProviderID: p.ID, Success: true})
	assert.Equal(t, 0, reload(t, db, p.ID).ConsecutiveFailures)
}

func TestOnBlacklistFiresOncePerWindow(t *testing.T) {
	db := testutil.NewTestDB(t)
	p := seedProvider(t, db, 2, 10)

	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	tracker := NewTracker(db, zap.NewNop()).WithClock(func() time.Time { return now })

	var calls []time.Time
	var seen models.Provider
	tracker.OnBlacklist = func(bp *models.Provider, until time.Time) {
		seen = *bp
		calls = append(calls, until)
	}
	ctx := context.Background()

	require.NoError(t, tracker.RecordFailure(ctx, p.ID))
	assert.Empty(t, calls)

	require.NoError(t, tracker.RecordFailure(ctx, p.ID))
	require.Len(t, calls, 1)
	assert.Equal(t, now.Add(10*time.Minute), calls[0])
	assert.Equal(t, "primary", seen.Name)
	assert.Equal(t, 2, seen.ConsecutiveFailures)
	require.NotNil(t, seen.BlacklistedUntil)

	require.NoError(t, tracker.RecordSuccess(ctx, p.ID))
	require.NoError(t, tracker.ResetFailures(ctx, p.ID))
	require.NoError(t, tracker.Unblacklist(ctx, p.ID))
	assert.Len(t, calls, 1)
}

func TestBlacklistTransitionsReachMetrics(t *testing.T) {
	db := testutil.NewTestDB(t)
	p := seedProvider(t, db, 2, 10)

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	tracker := NewTracker(db, zap.NewNop())
	tracker.OnBlacklist = collector.ProviderBlacklisted
	dispatcher := outcome.NewDispatcher(zap.NewNop(), tracker, collector)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		dispatcher.OnOutcome(ctx, outcome.Event{
			ProviderID:   p.ID,
			ProviderName: p.Name,
			Category:     p.Category,
			Reason:       outcome.ReasonStatus,
			StatusCode:   500,
		})
	}

	require.NotNil(t, reload(t, db, p.ID).BlacklistedUntil)
	assert.Equal(t, 1, promtestutil.CollectAndCount(reg, "ccg_provider_blacklisted_total"))
}
