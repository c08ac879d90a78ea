// Package outcome carries the result of one forwarding attempt to the parts
// of the gateway that react to it.
package outcome

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/DabengBa/ccg-gateway/internal/models"
)

// Event is emitted exactly once per forwarding attempt.
type Event struct {
	RequestID    string
	ProviderID   uint
	ProviderName string
	Category     models.Category
	Success      bool
	Streaming    bool
	StatusCode   int
	// Reason is set on failures: "status", "timeout", "first_byte_timeout",
	// "idle_timeout", "transport", "client_closed".
	Reason    string
	Duration  time.Duration
	Timestamp time.Time
}

const (
	ReasonStatus           = "status"
	ReasonTimeout          = "timeout"
	ReasonFirstByteTimeout = "first_byte_timeout"
	ReasonIdleTimeout      = "idle_timeout"
	ReasonTransport        = "transport"
	ReasonClientClosed     = "client_closed"
)

// Consumer reacts to outcome events.
type Consumer interface {
	OnOutcome(ctx context.Context, ev Event)
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc func(ctx context.Context, ev Event)

func (f ConsumerFunc) OnOutcome(ctx context.Context, ev Event) { f(ctx, ev) }

// Dispatcher fans an event out to every registered consumer. Consumers run
// on a context detached from the inbound request so that a client hanging
// up does not abort the bookkeeping.
type Dispatcher struct {
	consumers []Consumer
	timeout   time.Duration
	logger    *zap.Logger
}

func NewDispatcher(logger *zap.Logger, consumers ...Consumer) *Dispatcher {
	return &Dispatcher{
		consumers: consumers,
		timeout:   5 * time.Second,
		logger:    logger,
	}
}

func (d *Dispatcher) Add(c Consumer) {
	d.consumers = append(d.consumers, c)
}

func (d *Dispatcher) OnOutcome(ctx context.Context, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	for _, c := range d.consumers {
		c.OnOutcome(ctx, ev)
	}

	if !ev.Success {
		d.logger.Info("Forwarding attempt failed",
			zap.String("request_id", ev.RequestID),
			zap.Uint("provider_id", ev.ProviderID),
			zap.String("provider", ev.ProviderName),
			zap.String("reason", ev.Reason),
			zap.Int("status", ev.StatusCode),
			zap.Duration("duration", ev.Duration))
	}
}
