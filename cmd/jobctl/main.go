// Command jobctl is the operator CLI for valuecalc: schema migrations, API
// keys, and running or continuing tasks outside the server.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kiranshivaraju/valuecalc/internal/ai"
	"github.com/kiranshivaraju/valuecalc/internal/cache"
	"github.com/kiranshivaraju/valuecalc/internal/config"
	"github.com/kiranshivaraju/valuecalc/internal/datasource"
	"github.com/kiranshivaraju/valuecalc/internal/logging"
	"github.com/kiranshivaraju/valuecalc/internal/store"
	"github.com/kiranshivaraju/valuecalc/internal/task"
	"github.com/kiranshivaraju/valuecalc/internal/workflow"
	"github.com/kiranshivaraju/valuecalc/pkg/models"
	"github.com/spf13/cobra"
)

func main() {
	logger := slog.New(logging.NewCorrelationHandler(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(openBackend, os.Stdout).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// backend is what a command works against. The classifier, pools and cache
// are only set when the backend was opened for execution.
type backend struct {
	cfg        *config.Config
	store      store.Store
	classifier models.Classifier
	pools      workflow.Pools
	cache      task.StatusCache
	logger     *slog.Logger
	close      func()
}

// opener connects a backend. execute asks for everything a task run needs.
type opener func(ctx context.Context, execute bool) (*backend, error)

func newRootCommand(open opener, out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "jobctl",
		Short:         "Operate the valuecalc job engine",
		Long:          "jobctl applies migrations, manages API keys and runs calculation and classification tasks.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.SetOut(out)

	root.AddCommand(newMigrateCommand())
	root.AddCommand(newKeysCommand(open))
	root.AddCommand(newTaskCommand(open))
	return root
}

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadDatabase()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			dir, _ := cmd.Flags().GetString("dir")
			if dir == "" {
				dir = cfg.Server.MigrationsDir
			}
			if err := store.RunMigrations(cfg.Database.URL, dir); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Migrations in %s applied\n", dir)
			return nil
		},
	}
	cmd.Flags().String("dir", "", "Migrations directory (default: MIGRATIONS_DIR)")
	return cmd
}

func openBackend(ctx context.Context, execute bool) (*backend, error) {
	load := config.LoadDatabase
	if execute {
		load = config.Load
	}
	cfg, err := load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	pgStore := store.NewPostgresStore(pool)
	b := &backend{cfg: cfg, store: pgStore, logger: slog.Default(), close: pool.Close}
	if !execute {
		return b, nil
	}

	provider, err := ai.NewProvider(cfg.AI)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("create AI provider: %w", err)
	}
	b.classifier = ai.NewGuarded(provider, cfg.AI.InferenceTimeout, b.logger)

	sources := datasource.NewManager(pgStore, datasource.Options{
		MaxConns:        cfg.DataSource.MaxConns,
		ConnMaxLifetime: cfg.DataSource.ConnMaxLifetime,
	}, b.logger)
	b.pools = sources

	// Status snapshots are best effort from the CLI; the server falls back to
	// the database when Redis has nothing.
	closeCache := func() {}
	if rc, err := cache.NewRedisCache(cfg.Redis.URL); err != nil {
		b.logger.Warn("redis unavailable, task snapshots not published", "error", err)
	} else if err := rc.Ping(ctx); err != nil {
		b.logger.Warn("redis unavailable, task snapshots not published", "error", err)
		rc.Close()
	} else {
		b.cache = rc
		closeCache = func() { rc.Close() }
	}

	b.close = func() {
		closeCache()
		sources.Close()
		pool.Close()
	}
	return b, nil
}
