package usage

import (
	"context"

	"go.uber.org/zap"

	"github.com/DabengBa/ccg-gateway/internal/models"
	"github.com/DabengBa/ccg-gateway/internal/services/outcome"
)

func recordFromEvent(ev outcome.Event) *Record {
	return &Record{
		RequestID:  ev.RequestID,
		Timestamp:  ev.Timestamp,
		UsageDate:  ev.Timestamp.Format(models.UsageDateLayout),
		ProviderID: ev.ProviderID,
		Category:   ev.Category,
		Success:    ev.Success,
		StatusCode: ev.StatusCode,
		Reason:     ev.Reason,
		LatencyMS:  ev.Duration.Milliseconds(),
	}
}

// QueueRecorder pushes outcomes onto the Redis usage queue.
type QueueRecorder struct {
	queue  *Queue
	logger *zap.Logger
}

func NewQueueRecorder(queue *Queue, logger *zap.Logger) *QueueRecorder {
	return &QueueRecorder{queue: queue, logger: logger}
}

func (r *QueueRecorder) OnOutcome(ctx context.Context, ev outcome.Event) {
	if err := r.queue.Enqueue(ctx, recordFromEvent(ev)); err != nil {
		r.logger.Error("Failed to record usage",
			zap.Uint("provider_id", ev.ProviderID),
			zap.Error(err))
	}
}

// DirectRecorder writes outcomes straight into usage_daily. It is used when
// no Redis is configured.
type DirectRecorder struct {
	store  *Store
	logger *zap.Logger
}

func NewDirectRecorder(store *Store, logger *zap.Logger) *DirectRecorder {
	return &DirectRecorder{store: store, logger: logger}
}

func (r *DirectRecorder) OnOutcome(ctx context.Context, ev outcome.Event) {
	if err := r.store.ApplyBatch(ctx, []*Record{recordFromEvent(ev)}); err != nil {
		r.logger.Error("Failed to record usage",
			zap.Uint("provider_id", ev.ProviderID),
			zap.Error(err))
	}
}
