// Package main is the entrypoint for the valuecalc API server and job workers.
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

	"github.com/kiranshivaraju/valuecalc/internal/ai"
	"github.com/kiranshivaraju/valuecalc/internal/api"
	"github.com/kiranshivaraju/valuecalc/internal/api/handler"
	mw "github.com/kiranshivaraju/valuecalc/internal/api/middleware"
	"github.com/kiranshivaraju/valuecalc/internal/cache"
	"github.com/kiranshivaraju/valuecalc/internal/classify"
	"github.com/kiranshivaraju/valuecalc/internal/config"
	"github.com/kiranshivaraju/valuecalc/internal/datasource"
	"github.com/kiranshivaraju/valuecalc/internal/jobs"
	"github.com/kiranshivaraju/valuecalc/internal/logging"
	"github.com/kiranshivaraju/valuecalc/internal/scheduler"
	"github.com/kiranshivaraju/valuecalc/internal/store"
	"github.com/kiranshivaraju/valuecalc/internal/task"
	"github.com/kiranshivaraju/valuecalc/internal/tasks"
	"github.com/kiranshivaraju/valuecalc/internal/workflow"
	"github.com/kiranshivaraju/valuecalc/pkg/models"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(logging.NewCorrelationHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "ai_provider", cfg.AI.Provider, "env", cfg.Server.Env)
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, cfg.Server.MigrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create AI provider
	provider, err := ai.NewProvider(cfg.AI)
	if err != nil {
		return fmt.Errorf("create AI provider: %w", err)
	}
	classifier := ai.NewGuarded(provider, cfg.AI.InferenceTimeout, logger)
	slog.Info("AI provider initialized", "provider", classifier.Name())

	// 6. Create store, data sources and engines
	pgStore := store.NewPostgresStore(pool)
	tracker := task.NewTracker(pgStore, redisCache, cfg.Redis.StatusTTL, logger)

	sources := datasource.NewManager(pgStore, datasource.Options{
		MaxConns:        cfg.DataSource.MaxConns,
		ConnMaxLifetime: cfg.DataSource.ConnMaxLifetime,
	}, logger)
	defer sources.Close()

	executor := workflow.NewExecutor(pgStore, sources, tracker, workflow.WithLogger(logger))
	engine := classify.NewEngine(pgStore, classifier, tracker, classify.SettingsFrom(cfg.Classify), logger)

	// 7. Settle tasks a previous process left executing, then start workers
	scheduler.RecoverInterrupted(ctx, pgStore, tracker, logger)

	dispatcher := jobs.NewDispatcher(jobs.OptionsFrom(cfg.Jobs), tracker, logger)
	dispatcher.Register(models.TaskKindCalculation, jobs.CalculationHandler(pgStore, executor))
	dispatcher.Register(models.TaskKindClassification, jobs.ClassificationHandler(pgStore, engine))
	dispatcher.Start()

	var resumer *scheduler.Resumer
	if cfg.Resume.Enabled {
		resumer = scheduler.NewResumer(pgStore, engine, dispatcher, tracker, logger)
		if err := resumer.Start(cfg.Resume.Schedule); err != nil {
			return fmt.Errorf("start resume scheduler: %w", err)
		}
	}

	// 8. Build router with dependencies
	svc := tasks.NewService(pgStore, redisCache, dispatcher, engine, tracker, logger)

	deps := api.Dependencies{
		Auth:      mw.NewAuth(pgStore, logger),
		RateLimit: mw.NewRateLimit(redisCache, cfg.Server.RateLimitPerMin, logger),
		Logger:    logger,

		HealthHandler: handler.NewHealthHandler(pgStore, redisCache, dispatcher.Metrics),

		CreateCalculation:    handler.NewCreateCalculationHandler(svc),
		CreateClassification: handler.NewCreateClassificationHandler(svc),
		GetTask:              handler.NewGetTaskHandler(svc),
		TaskStatus:           handler.NewTaskStatusHandler(svc),
		StepLogs:             handler.NewStepLogsHandler(svc),
		WorkItems:            handler.NewWorkItemsHandler(svc),
		ContinueTask:         handler.NewContinueHandler(svc),

		CreateKeyHandler: handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:  handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 9. Start HTTP server
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
		if err != nil {
			serveErr = fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections and jobs...")
	}

	return errors.Join(serveErr, shutdown(srv, dispatcher, resumer))
}

// shutdown stops intake first, then lets running jobs finish within
// shutdownTimeout. Jobs still running at the deadline are cancelled and
// marked failed by the dispatcher.
func shutdown(srv *http.Server, d *jobs.Dispatcher, r *scheduler.Resumer) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}
	if r != nil {
		r.Stop(ctx)
	}
	if err := d.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("dispatcher shutdown: %w", err))
	}
	if len(errs) == 0 {
		slog.Info("server stopped gracefully")
	}
	return errors.Join(errs...)
}
