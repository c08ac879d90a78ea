package usage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// SchedulerConfig holds cron expressions for the background jobs. An empty
// expression disables its job.
type SchedulerConfig struct {
	DrainSchedule string
	PruneSchedule string
	RetentionDays int
}

// Scheduler runs the queue drain and the retention prune on cron schedules.
// The processor is optional: without Redis only pruning is scheduled.
type Scheduler struct {
	cfg       SchedulerConfig
	processor *Processor
	store     *Store
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

func NewScheduler(cfg SchedulerConfig, processor *Processor, store *Store, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		processor: processor,
		store:     store,
		logger:    logger,
		now:       time.Now,
		cron:      cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
}

// Start registers the jobs and starts the cron loop. It stops when ctx is
// cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.processor != nil && s.cfg.DrainSchedule != "" {
		if _, err := s.cron.AddFunc(s.cfg.DrainSchedule, func() { s.runDrain(ctx) }); err != nil {
			return fmt.Errorf("invalid drain schedule %q: %w", s.cfg.DrainSchedule, err)
		}
	}
	if s.cfg.PruneSchedule != "" && s.cfg.RetentionDays > 0 {
		if _, err := s.cron.AddFunc(s.cfg.PruneSchedule, func() { s.runPrune(ctx) }); err != nil {
			return fmt.Errorf("invalid prune schedule %q: %w", s.cfg.PruneSchedule, err)
		}
	}

	if len(s.cron.Entries()) == 0 {
		s.logger.Info("No usage jobs scheduled")
		return nil
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("Usage scheduler started",
		zap.String("drain_schedule", s.cfg.DrainSchedule),
		zap.String("prune_schedule", s.cfg.PruneSchedule),
		zap.Int("retention_days", s.cfg.RetentionDays))

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("Usage scheduler stopped")
}

func (s *Scheduler) runDrain(ctx context.Context) {
	if _, err := s.processor.Drain(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("Scheduled usage drain failed", zap.Error(err))
	}
}

func (s *Scheduler) runPrune(ctx context.Context) {
	if _, err := s.store.Prune(ctx, s.now(), s.cfg.RetentionDays); err != nil {
		s.logger.Error("Scheduled usage prune failed", zap.Error(err))
	}
}
