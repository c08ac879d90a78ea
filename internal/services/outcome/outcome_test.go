package outcome

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDispatcherFansOut(t *testing.T) {
	var first, second []Event
	d := NewDispatcher(zap.NewNop(),
		ConsumerFunc(func(_ context.Context, ev Event) { first = append(first, ev) }),
	)
	d.Add(ConsumerFunc(func(_ context.Context, ev Event) { second = append(second, ev) }))

	d.OnOutcome(context.Background(), Event{ProviderID: 7, Success: true})

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, uint(7), first[0].ProviderID)
	assert.False(t, first[0].Timestamp.IsZero())
}

func TestDispatcherDetachesFromCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var seenErr error
	d := NewDispatcher(zap.NewNop(), ConsumerFunc(func(ctx context.Context, _ Event) {
		seenErr = ctx.Err()
	}))
	d.OnOutcome(ctx, Event{ProviderID: 1, Reason: ReasonClientClosed})

	assert.NoError(t, seenErr)
}
