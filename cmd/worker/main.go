package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/DabengBa/ccg-gateway/internal/config"
	"github.com/DabengBa/ccg-gateway/internal/database"
	"github.com/DabengBa/ccg-gateway/internal/logger"
	"github.com/DabengBa/ccg-gateway/internal/router"
	"github.com/DabengBa/ccg-gateway/internal/services/usage"
)

func main() {
	var (
		configPath = flag.String("config", "", "Directory containing config.yaml")
		once       = flag.Bool("once", false, "Drain the queue once and exit")
	)
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.Initialize(cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if cfg.Redis.URL == "" {
		log.Fatal("The usage worker requires redis.url; without Redis the gateway records usage itself")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(&database.Config{
		DSN:             cfg.Database.URL,
		MaxConnections:  cfg.Database.MaxConnections,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	redisClient, err := database.OpenRedis(pingCtx, cfg.Redis)
	cancel()
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

	queue := usage.NewQueue(&usage.QueueConfig{
		Client:    redisClient,
		Logger:    log,
		QueueName: cfg.Usage.QueueName,
		BatchSize: cfg.Usage.BatchSize,
	})
	store := usage.NewStore(db, log)
	processor := usage.NewProcessor(queue, store, log)

	if *once {
		n, err := processor.Drain(ctx)
		if err != nil {
			log.Fatal("Usage drain failed", zap.Error(err))
		}
		log.Info("Usage drain complete", zap.Int("records", n))
		return
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registerQueueGauges(registry, queue)

	scheduler := usage.NewScheduler(usage.SchedulerConfig{
		DrainSchedule: cfg.Usage.DrainSchedule,
		PruneSchedule: cfg.Usage.PruneSchedule,
		RetentionDays: cfg.Usage.RetentionDays,
	}, processor, store, log)
	if err := scheduler.Start(ctx); err != nil {
		log.Fatal("Failed to start usage scheduler", zap.Error(err))
	}

	cfg.Monitoring.ServiceName = "ccg-worker"
	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.MetricsPort)),
		Handler:           router.NewMetricsRouter(cfg, registry),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("Worker metrics server starting", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Worker metrics server failed", zap.Error(err))
		}
	}()

	log.Info("Usage worker started",
		zap.String("queue", cfg.Usage.QueueName),
		zap.String("drain_schedule", cfg.Usage.DrainSchedule))

	<-ctx.Done()
	log.Info("Shutdown signal received, stopping worker...")

	scheduler.Stop()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Metrics server forced to shutdown", zap.Error(err))
	}

	// Pick up whatever was enqueued after the last scheduled run.
	if n, err := processor.Drain(shutdownCtx); err != nil {
		log.Error("Final usage drain failed", zap.Error(err))
	} else if n > 0 {
		log.Info("Final usage drain complete", zap.Int("records", n))
	}

	log.Info("Usage worker shutdown complete")
}

func registerQueueGauges(reg prometheus.Registerer, queue *usage.Queue) {
	factory := promauto.With(reg)
	lenOf := func(fn func(context.Context) (int64, error)) func() float64 {
		return func() float64 {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			n, err := fn(ctx)
			if err != nil {
				return -1
			}
			return float64(n)
		}
	}
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "ccg_usage_queue_length",
		Help: "Records waiting in the usage queue",
	}, lenOf(queue.Len))
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "ccg_usage_dead_letter_length",
		Help: "Records moved to the dead letter list",
	}, lenOf(queue.DeadLetterLen))
}
