package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Queue is a Redis list of usage records. Producers LPUSH and the worker
// RPOPs, so records are processed in arrival order.
type Queue struct {
	client     *redis.Client
	logger     *zap.Logger
	queueName  string
	batchSize  int
	maxRetries int
}

type QueueConfig struct {
	Client     *redis.Client
	Logger     *zap.Logger
	QueueName  string
	BatchSize  int
	MaxRetries int
}

func NewQueue(config *QueueConfig) *Queue {
	if config.QueueName == "" {
		config.QueueName = "ccg:usage:queue"
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return &Queue{
		client:     config.Client,
		logger:     config.Logger,
		queueName:  config.QueueName,
		batchSize:  config.BatchSize,
		maxRetries: config.MaxRetries,
	}
}

func (q *Queue) Enqueue(ctx context.Context, record *Record) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal usage record: %w", err)
	}

	if err := q.client.LPush(ctx, q.queueName, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue usage record: %w", err)
	}

	q.logger.Debug("Usage record enqueued",
		zap.String("record_id", record.ID),
		zap.Uint("provider_id", record.ProviderID),
		zap.Bool("success", record.Success))
	return nil
}

// DequeueBatch pops up to the configured batch size of records.
func (q *Queue) DequeueBatch(ctx context.Context) ([]*Record, error) {
	pipe := q.client.Pipeline()

	cmds := make([]*redis.StringCmd, 0, q.batchSize)
	for i := 0; i < q.batchSize; i++ {
		cmds = append(cmds, pipe.RPop(ctx, q.queueName))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to dequeue usage records: %w", err)
	}

	var records []*Record
	for _, cmd := range cmds {
		result, err := cmd.Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			q.logger.Error("Error getting queued record", zap.Error(err))
			continue
		}

		var record Record
		if err := json.Unmarshal([]byte(result), &record); err != nil {
			q.logger.Error("Failed to unmarshal usage record",
				zap.Error(err),
				zap.String("data", result))
			continue
		}
		records = append(records, &record)
	}

	if len(records) > 0 {
		q.logger.Debug("Dequeued usage records batch", zap.Int("count", len(records)))
	}
	return records, nil
}

// Requeue puts records that could not be applied back on the queue, or on
// the dead letter list once they have been retried too often.
func (q *Queue) Requeue(ctx context.Context, records []*Record, cause error) error {
	pipe := q.client.Pipeline()
	dead := 0
	for _, r := range records {
		r.Retries++
		target := q.queueName
		if r.Retries >= q.maxRetries {
			target = q.deadLetterName()
			dead++
		}
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal usage record: %w", err)
		}
		// RPUSH keeps retried records at the consumer end of the list.
		pipe.RPush(ctx, target, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to requeue usage records: %w", err)
	}

	q.logger.Warn("Usage records requeued",
		zap.Int("count", len(records)-dead),
		zap.Int("dead_lettered", dead),
		zap.Error(cause))
	return nil
}

func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.queueName).Result()
}

func (q *Queue) DeadLetterLen(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.deadLetterName()).Result()
}

func (q *Queue) Clear(ctx context.Context) error {
	return q.client.Del(ctx, q.queueName, q.deadLetterName()).Err()
}

func (q *Queue) deadLetterName() string {
	return q.queueName + ":dead_letter"
}
