package usage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DabengBa/ccg-gateway/internal/models"
	"github.com/DabengBa/ccg-gateway/internal/services/outcome"
	"github.com/DabengBa/ccg-gateway/internal/testutil"
)

func newTestQueue(t *testing.T, batchSize int) *Queue {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewQueue(&QueueConfig{
		Client:     client,
		Logger:     zap.NewNop(),
		BatchSize:  batchSize,
		MaxRetries: 2,
	})
}

func TestQueueFIFO(t *testing.T) {
	q := newTestQueue(t, 2)
	ctx := context.Background()

	for i := uint(1); i <= 3; i++ {
		require.NoError(t, q.Enqueue(ctx, &Record{ProviderID: i, Category: models.CategoryCodex}))
	}

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	batch, err := q.DequeueBatch(ctx)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, uint(1), batch[0].ProviderID)
	assert.Equal(t, uint(2), batch[1].ProviderID)
	assert.NotEmpty(t, batch[0].ID)
	assert.False(t, batch[0].Timestamp.IsZero())

	batch, err = q.DequeueBatch(ctx)
	require.NoError(t, err)
	require.Len(t, batch, 1)

	batch, err = q.DequeueBatch(ctx)
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestQueueRequeueDeadLetters(t *testing.T) {
	q := newTestQueue(t, 10)
	ctx := context.Background()

	rec := &Record{ProviderID: 1}
	require.NoError(t, q.Requeue(ctx, []*Record{rec}, errors.New("db down")))
	n, _ := q.Len(ctx)
	assert.Equal(t, int64(1), n)

	require.NoError(t, q.Requeue(ctx, []*Record{rec}, errors.New("db down")))
	dead, _ := q.DeadLetterLen(ctx)
	assert.Equal(t, int64(1), dead)

	require.NoError(t, q.Clear(ctx))
	n, _ = q.Len(ctx)
	assert.Zero(t, n)
}

func TestStoreApplyBatchAccumulates(t *testing.T) {
	db := testutil.NewTestDB(t)
	store := NewStore(db, zap.NewNop())
	ctx := context.Background()

	batch := []*Record{
		{UsageDate: "2026-04-01", ProviderID: 1, Category: models.CategoryClaudeCode, Success: true},
		{UsageDate: "2026-04-01", ProviderID: 1, Category: models.CategoryClaudeCode, Success: false},
		{UsageDate: "2026-04-01", ProviderID: 2, Category: models.CategoryClaudeCode, Success: true},
	}
	require.NoError(t, store.ApplyBatch(ctx, batch))
	require.NoError(t, store.ApplyBatch(ctx, batch[:1]))

	rows, err := store.Daily(ctx, StatsFilter{ProviderID: 1})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(3), rows[0].RequestCount)
	assert.Equal(t, int64(2), rows[0].SuccessCount)
	assert.Equal(t, int64(1), rows[0].FailureCount)

	totals, err := store.Totals(ctx, StatsFilter{From: "2026-04-01", To: "2026-04-01"})
	require.NoError(t, err)
	require.Len(t, totals, 2)
	assert.InDelta(t, 2.0/3.0, totals[0].SuccessRate(), 0.001)
}

func TestStorePrune(t *testing.T) {
	db := testutil.NewTestDB(t)
	store := NewStore(db, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, store.ApplyBatch(ctx, []*Record{
		{UsageDate: "2026-01-01", ProviderID: 1, Category: models.CategoryGemini, Success: true},
		{UsageDate: "2026-04-01", ProviderID: 1, Category: models.CategoryGemini, Success: true},
	}))

	now := time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)
	deleted, err := store.Prune(ctx, now, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	rows, err := store.Daily(ctx, StatsFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2026-04-01", rows[0].UsageDate)
}

func TestProcessorDrainsQueue(t *testing.T) {
	q := newTestQueue(t, 2)
	db := testutil.NewTestDB(t)
	store := NewStore(db, zap.NewNop())
	ctx := context.Background()

	recorder := NewQueueRecorder(q, zap.NewNop())
	ts := time.Date(2026, 4, 3, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		recorder.OnOutcome(ctx, outcome.Event{
			ProviderID: 4,
			Category:   models.CategoryCodex,
			Success:    i%2 == 0,
			Timestamp:  ts,
		})
	}

	applied, err := NewProcessor(q, store, zap.NewNop()).Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, applied)

	rows, err := store.Daily(ctx, StatsFilter{Category: models.CategoryCodex})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2026-04-03", rows[0].UsageDate)
	assert.Equal(t, int64(5), rows[0].RequestCount)
	assert.Equal(t, int64(3), rows[0].SuccessCount)
}

func TestDirectRecorder(t *testing.T) {
	db := testutil.NewTestDB(t)
	store := NewStore(db, zap.NewNop())
	recorder := NewDirectRecorder(store, zap.NewNop())
	ctx := context.Background()

	recorder.OnOutcome(ctx, outcome.Event{ProviderID: 9, Category: models.CategoryGemini, Timestamp: time.Now()})

	rows, err := store.Daily(ctx, StatsFilter{ProviderID: 9})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0].FailureCount)
}
