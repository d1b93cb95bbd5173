package datasource

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/valuecalc/pkg/models"
)

// PostgresSource runs statements on a pgx pool.
type PostgresSource struct {
	pool *pgxpool.Pool
}

// OpenPostgres creates a pool for ds. Connections are established lazily.
func OpenPostgres(ctx context.Context, ds *models.DataSource, opts Options) (Source, error) {
	cfg, err := pgxpool.ParseConfig(ds.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = int32(maxConns(ds, opts))
	if opts.ConnMaxLifetime > 0 {
		cfg.MaxConnLifetime = opts.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &PostgresSource{pool: pool}, nil
}

// NewPostgresSource wraps an existing pool.
func NewPostgresSource(pool *pgxpool.Pool) *PostgresSource {
	return &PostgresSource{pool: pool}
}

func (s *PostgresSource) Driver() string { return DriverPostgres }

func (s *PostgresSource) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresSource) Close() { s.pool.Close() }

func (s *PostgresSource) Begin(ctx context.Context) (Session, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &pgSession{tx: tx}, nil
}

type pgSession struct {
	tx pgx.Tx
}

// Exec runs stmt with the simple protocol so that DDL and arbitrary step
// text are sent as written.
func (s *pgSession) Exec(ctx context.Context, stmt string) (Result, error) {
	rows, err := s.tx.Query(ctx, stmt, pgx.QueryExecModeSimpleProtocol)
	if err != nil {
		return Result{}, err
	}
	fields := rows.FieldDescriptions()
	n := 0
	for rows.Next() {
		n++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Result{}, err
	}

	if len(fields) == 0 {
		return Result{Affected: rows.CommandTag().RowsAffected()}, nil
	}
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.Name
	}
	res := Result{Columns: cols, Rows: n}
	if !rows.CommandTag().Select() {
		res.Affected = rows.CommandTag().RowsAffected()
	}
	return res, nil
}

func (s *pgSession) Commit(ctx context.Context) error { return s.tx.Commit(ctx) }

func (s *pgSession) Rollback(ctx context.Context) error { return s.tx.Rollback(ctx) }
