package main

import (
	"context"
	"errors"
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
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/DabengBa/ccg-gateway/internal/config"
	"github.com/DabengBa/ccg-gateway/internal/database"
	"github.com/DabengBa/ccg-gateway/internal/handlers"
	"github.com/DabengBa/ccg-gateway/internal/handlers/admin"
	"github.com/DabengBa/ccg-gateway/internal/logger"
	"github.com/DabengBa/ccg-gateway/internal/middleware"
	"github.com/DabengBa/ccg-gateway/internal/proxy"
	"github.com/DabengBa/ccg-gateway/internal/router"
	"github.com/DabengBa/ccg-gateway/internal/services/catalog"
	"github.com/DabengBa/ccg-gateway/internal/services/health"
	"github.com/DabengBa/ccg-gateway/internal/services/metrics"
	"github.com/DabengBa/ccg-gateway/internal/services/outcome"
	"github.com/DabengBa/ccg-gateway/internal/services/routing"
	"github.com/DabengBa/ccg-gateway/internal/services/settings"
	"github.com/DabengBa/ccg-gateway/internal/services/usage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load("")
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Initialize(&database.Config{
		DSN:             cfg.Database.URL,
		MaxConnections:  cfg.Database.MaxConnections,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}); err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer database.Close()
	db := database.GetDB()

	settingsStore := settings.NewStore(db, cfg.Gateway, log)
	if err := settingsStore.EnsureDefaults(ctx); err != nil {
		log.Fatal("Failed to seed gateway settings", zap.Error(err))
	}

	catalogStore := catalog.NewStore(db, log)
	if len(cfg.Providers) > 0 {
		created, err := catalogStore.Seed(ctx, cfg.Providers)
		if err != nil {
			log.Fatal("Failed to seed providers from config", zap.Error(err))
		}
		log.Info("Seeded providers from config", zap.Int("created", created), zap.Int("declared", len(cfg.Providers)))
	}
	tracker := health.NewTracker(db, log)
	usageStore := usage.NewStore(db, log)

	// Without Redis the gateway runs in lite mode: usage is written
	// straight to the database and retention runs in-process.
	var (
		redisClient *redis.Client
		recorder    outcome.Consumer
	)
	if cfg.Redis.URL != "" {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		redisClient, err = database.OpenRedis(pingCtx, cfg.Redis)
		cancel()
		if err != nil {
			log.Warn("Redis unavailable, switching to LITE MODE", zap.Error(err))
			redisClient = nil
		}
	}
	if redisClient != nil {
		defer redisClient.Close()
		recorder = usage.NewQueueRecorder(usage.NewQueue(&usage.QueueConfig{
			Client:    redisClient,
			Logger:    log,
			QueueName: cfg.Usage.QueueName,
			BatchSize: cfg.Usage.BatchSize,
		}), log)
		log.Info("Running in FULL MODE - usage is queued for the worker")
	} else {
		recorder = usage.NewDirectRecorder(usageStore, log)
		scheduler := usage.NewScheduler(usage.SchedulerConfig{
			PruneSchedule: cfg.Usage.PruneSchedule,
			RetentionDays: cfg.Usage.RetentionDays,
		}, nil, usageStore, log)
		if err := scheduler.Start(ctx); err != nil {
			log.Error("Failed to start usage retention", zap.Error(err))
		}
		log.Warn("Running in LITE MODE - usage is written synchronously")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)
	tracker.OnBlacklist = collector.ProviderBlacklisted

	dispatcher := outcome.NewDispatcher(log, tracker, recorder, collector)

	httpClient := proxy.NewHTTPClient(cfg.Gateway.Transport)
	engine := proxy.NewEngine(httpClient, dispatcher, log,
		proxy.WithStrippedHeaders(cfg.Auth.HeaderName))

	proxyHandler := handlers.NewProxyHandler(log, routing.NewSelector(catalogStore, log), engine, settingsStore)
	proxyHandler.OnNoProvider = collector.NoProviderAvailable

	mainRouter := router.NewRouter(router.Dependencies{
		Config:    cfg,
		Logger:    log,
		Health:    handlers.NewHealthHandler(db, redisClient),
		Proxy:     proxyHandler,
		Gatherer:  registry,
		Metrics:   middleware.NewHTTPMetrics(registry),
		Providers: admin.NewProviderHandler(log, catalogStore, tracker),
		Settings:  admin.NewSettingsHandler(log, settingsStore),
		Usage:     admin.NewUsageHandler(log, usageStore),
	})

	if cfg.File != "" {
		go watchConfig(ctx, cfg.File, settingsStore, log)
	}

	srv := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:      mainRouter,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("Gateway server starting", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Gateway server failed to start", zap.Error(err))
		}
	}()

	log.Info("ccg-gateway started",
		zap.String("address", srv.Addr),
		zap.Bool("auth", cfg.Auth.Enabled),
		zap.Bool("redis", redisClient != nil))

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	httpClient.CloseIdleConnections()

	log.Info("Server shutdown complete")
}

// watchConfig applies the runtime-safe parts of a changed config file. The
// log level takes effect immediately; gateway timeouts only replace the
// fallbacks used when a stored timeout is missing or not positive. The
// effective timeouts are changed through PUT /api/admin/settings.
func watchConfig(ctx context.Context, path string, store *settings.Store, log *zap.Logger) {
	w := config.NewWatcher(path, log)
	err := w.Watch(ctx, func(next *config.Config) {
		logger.SetLevel(next.Logging.Level)
		store.SetDefaults(next.Gateway)
		log.Info("Applied reloaded configuration",
			zap.String("log_level", next.Logging.Level))
	})
	if err != nil && ctx.Err() == nil {
		log.Warn("Config watcher stopped", zap.Error(err))
	}
}
