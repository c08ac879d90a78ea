package usage

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Processor drains the usage queue into the daily counters.
type Processor struct {
	queue  *Queue
	store  *Store
	logger *zap.Logger
}

func NewProcessor(queue *Queue, store *Store, logger *zap.Logger) *Processor {
	return &Processor{queue: queue, store: store, logger: logger}
}

// Drain applies batches until the queue is empty or ctx is done, and returns
// the number of records applied.
func (p *Processor) Drain(ctx context.Context) (int, error) {
	start := time.Now()
	applied := 0

	for ctx.Err() == nil {
		batch, err := p.queue.DequeueBatch(ctx)
		if err != nil {
			return applied, err
		}
		if len(batch) == 0 {
			break
		}

		if err := p.store.ApplyBatch(ctx, batch); err != nil {
			p.logger.Error("Failed to apply usage batch", zap.Int("count", len(batch)), zap.Error(err))
			if rqErr := p.queue.Requeue(context.WithoutCancel(ctx), batch, err); rqErr != nil {
				p.logger.Error("Failed to requeue usage batch", zap.Error(rqErr))
			}
			return applied, err
		}
		applied += len(batch)
	}

	if applied > 0 {
		p.logger.Info("Usage queue drained",
			zap.Int("records", applied),
			zap.Duration("duration", time.Since(start)))
	}
	return applied, nil
}
