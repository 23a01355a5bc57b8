package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"usagecache/internal/adapters/config"
	"usagecache/internal/adapters/cursor"
	"usagecache/internal/adapters/errors/noop"
	"usagecache/internal/adapters/errors/sentry"
	sqliteadapter "usagecache/internal/adapters/sqlite"
	"usagecache/internal/api/rest"
	"usagecache/internal/metrics"
	sqliterepo "usagecache/internal/repository/sqlite"
	"usagecache/internal/services/admin"
	"usagecache/internal/services/identity"
	"usagecache/internal/services/query"
	syncsvc "usagecache/internal/services/sync"
	"usagecache/internal/workers"
	"usagecache/pkg/errors"
	"usagecache/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	log := logger.Get()
	log.Infof("Starting %s in %s mode", cfg.App.Name, cfg.App.Env)

	errorTracker := initErrorTracker(cfg, log)
	logger.SetErrorTracker(errorTracker)

	metrics.Init()

	store, err := sqliteadapter.NewClient(cfg.Store)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()
	log.Infow("Store opened", "path", store.Path())

	repo := sqliterepo.NewEventRepository(store.DB())
	if err := repo.Init(context.Background()); err != nil {
		log.Fatalf("Failed to init store schema: %v", err)
	}

	client := cursor.NewClient(cfg.Cursor, log)
	identitySvc := identity.NewService(repo, client, log)
	engine := syncsvc.NewService(repo, client, cfg.Sync.Overlap, log)
	querySvc := query.NewService(repo, log)
	adminSvc := admin.NewService(repo, log)

	scheduler := workers.NewScheduler()
	scheduler.RegisterWorker(workers.NewSyncWorker(
		identitySvc, engine, cfg.Sync.WorkerInterval, cfg.Sync.WorkerEnabled,
	))

	handler := rest.NewHandler(identitySvc, engine, querySvc, adminSvc, log)
	server := &http.Server{
		Addr:    cfg.API.ListenAddr,
		Handler: handler.Routes(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := scheduler.Start(ctx); err != nil {
		log.Fatalf("Failed to start workers: %v", err)
	}

	go func() {
		log.Infow("API listening", "addr", cfg.API.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("API server error: %v", err)
			cancel()
		}
	}()

	waitForShutdown(ctx, cfg, server, scheduler, errorTracker, log)
}

// initErrorTracker initializes error tracking (Sentry or no-op)
func initErrorTracker(cfg *config.Config, log *logger.Logger) errors.Tracker {
	if !cfg.ErrorTracking.Enabled || cfg.ErrorTracking.SentryDSN == "" {
		log.Info("Error tracking disabled")
		return noop.New()
	}

	tracker, err := sentry.New(cfg.ErrorTracking.SentryDSN, cfg.ErrorTracking.Environment)
	if err != nil {
		log.Warnf("Failed to initialize Sentry: %v", err)
		return noop.New()
	}

	log.Info("Error tracking initialized (Sentry)")
	return tracker
}

// waitForShutdown blocks until a shutdown signal, then stops the API
// server and workers gracefully
func waitForShutdown(
	ctx context.Context,
	cfg *config.Config,
	server *http.Server,
	scheduler *workers.Scheduler,
	errorTracker errors.Tracker,
	log *logger.Logger,
) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case <-ctx.Done():
	}
	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warnf("API shutdown: %v", err)
	}
	if err := scheduler.Stop(); err != nil {
		log.Warnf("Worker shutdown: %v", err)
	}
	if err := errorTracker.Flush(shutdownCtx); err != nil {
		log.Warnf("Error tracker flush: %v", err)
	}

	log.Info("Shutdown complete")
}
