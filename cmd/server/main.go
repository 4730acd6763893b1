// Package main is the entrypoint for the genqueue API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/genqueue/internal/api"
	"github.com/kiranshivaraju/genqueue/internal/api/handler"
	mw "github.com/kiranshivaraju/genqueue/internal/api/middleware"
	"github.com/kiranshivaraju/genqueue/internal/api/response"
	"github.com/kiranshivaraju/genqueue/internal/cache"
	"github.com/kiranshivaraju/genqueue/internal/config"
	"github.com/kiranshivaraju/genqueue/internal/generation"
	"github.com/kiranshivaraju/genqueue/internal/provider"
	"github.com/kiranshivaraju/genqueue/internal/queue"
	"github.com/kiranshivaraju/genqueue/internal/retry"
	"github.com/kiranshivaraju/genqueue/internal/semaphore"
	"github.com/kiranshivaraju/genqueue/internal/store"
	"github.com/kiranshivaraju/genqueue/internal/worker"
	"github.com/kiranshivaraju/genqueue/pkg/models"
)

const (
	shutdownTimeout = 30 * time.Second
	statusMirrorTTL = 24 * time.Hour
	archiveTimeout  = 10 * time.Second
	healthTimeout   = 2 * time.Second
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "provider", cfg.Provider.Kind, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Optional archive of evicted jobs
	var archive store.Archive
	if cfg.Database.URL != "" {
		pool, err := store.Connect(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()
		slog.Info("database connected")

		if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		slog.Info("database migrations applied")
		archive = store.NewPostgresStore(pool)
	}

	// 3. Optional Redis for the status mirror and rate limiting
	var redisCache cache.Cache
	if cfg.Redis.URL != "" {
		rc, err := cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("create redis cache: %w", err)
		}
		defer rc.Close()

		if err := rc.Ping(ctx); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		slog.Info("redis connected")
		redisCache = rc
	}

	// 4. Provider and invocation strategy
	imageProvider, err := provider.NewProvider(cfg.Provider)
	if err != nil {
		return fmt.Errorf("create image provider: %w", err)
	}
	slog.Info("image provider initialized", "provider", imageProvider.Name())

	policy := retry.New(provider.IsRetryable, retry.WithMaxRetries(cfg.Provider.MaxRetries))
	strategy := generation.New(imageProvider, semaphore.New(cfg.Provider.MaxConcurrent), policy,
		generation.WithCallTimeout(cfg.Provider.CallTimeout),
		generation.WithUnconditionedAttempts(cfg.Provider.UnconditionedAttempts),
	)

	// 5. Scheduler, worker and collector
	schedOpts := []queue.Option{queue.WithMaxConcurrent(cfg.Scheduler.MaxConcurrent)}
	if redisCache != nil {
		mirror := cache.NewStatusMirror(redisCache, statusMirrorTTL)
		schedOpts = append(schedOpts, queue.WithStatusHook(mirror.Record))
	}
	scheduler := queue.New(schedOpts...)
	scheduler.RegisterWorker(worker.NewDefaultDispatcher(strategy))

	collectorOpts := []queue.CollectorOption{
		queue.WithInterval(cfg.Collector.Interval),
		queue.WithTTL(cfg.Collector.TTL),
	}
	if archive != nil {
		collectorOpts = append(collectorOpts, queue.WithEvictHook(archiveHook(archive)))
	}
	collector := queue.NewCollector(scheduler, collectorOpts...)
	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		collector.Run(ctx)
	}()

	// 6. Build router with dependencies
	jobOpts := []handler.JobsOption{}
	if archive != nil {
		jobOpts = append(jobOpts, handler.WithArchive(archive))
	}
	if redisCache != nil {
		jobOpts = append(jobOpts, handler.WithStatusReader(redisCache))
	}
	jobs := handler.NewJobs(scheduler, jobOpts...)

	deps := api.Dependencies{
		RateLimit: mw.NewRateLimit(redisCache, cfg.RateLimit.SubmitsPerMinute),

		HealthHandler:   healthHandler(scheduler.Stats, archive, redisCache),
		GenerateHandler: jobs.Generate,
		EditHandler:     jobs.Edit,
		BatchHandler:    jobs.Batch,
		GetJobHandler:   jobs.Get,
		ListJobsHandler: jobs.List,
	}
	router := api.NewRouter(deps)

	// 7. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	var serveErr error
	select {
	case err := <-errCh:
		serveErr = fmt.Errorf("server error: %w", err)
		stop()
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown: stop intake, then let in-flight jobs finish
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Join(serveErr, fmt.Errorf("server shutdown: %w", err))
	}
	if err := scheduler.Shutdown(shutdownCtx); err != nil {
		slog.Warn("in-flight jobs cancelled at shutdown", "error", err, "stats", scheduler.Stats())
	}
	<-collectorDone

	if serveErr != nil {
		return serveErr
	}
	slog.Info("server stopped gracefully")
	return nil
}

// archiveHook persists evicted jobs. Failures are logged; the jobs are
// already gone from memory.
func archiveHook(a store.Archive) queue.EvictHook {
	return func(ctx context.Context, jobs []models.Job) {
		ctx, cancel := context.WithTimeout(ctx, archiveTimeout)
		defer cancel()

		n, err := a.ArchiveJobs(ctx, jobs)
		if err != nil {
			slog.Error("archiving evicted jobs failed", "evicted", len(jobs), "archived", n, "error", err)
			return
		}
		slog.Debug("evicted jobs archived", "archived", n)
	}
}

type pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler reports scheduler load and the connectivity of the optional backends.
func healthHandler(stats func() queue.Stats, db, c pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		checks := map[string]string{
			"database": check(ctx, db),
			"cache":    check(ctx, c),
		}

		if checks["database"] == "degraded" || checks["cache"] == "degraded" {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":    "ok",
			"services":  checks,
			"scheduler": stats(),
		})
	}
}

func check(ctx context.Context, p pinger) string {
	if p == nil {
		return "disabled"
	}
	if err := p.Ping(ctx); err != nil {
		return "degraded"
	}
	return "ok"
}
