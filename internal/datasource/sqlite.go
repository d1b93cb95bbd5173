package datasource

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kiranshivaraju/valuecalc/pkg/models"
	_ "modernc.org/sqlite"
)

// SQLiteSource runs statements on a database/sql handle backed by modernc.org/sqlite.
type SQLiteSource struct {
	db *sql.DB
}

// OpenSQLite opens ds.DSN as a sqlite database. An in-memory DSN is pinned to a
// single connection so every session sees the same database.
func OpenSQLite(ctx context.Context, ds *models.DataSource, opts Options) (Source, error) {
	db, err := sql.Open("sqlite", ds.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if isMemoryDSN(ds.DSN) {
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxOpenConns(maxConns(ds, opts))
		if opts.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(opts.ConnMaxLifetime)
		}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &SQLiteSource{db: db}, nil
}

func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || dsn == "" || len(dsn) >= 12 && dsn[:12] == "file::memory"
}

func (s *SQLiteSource) Driver() string { return DriverSQLite }

func (s *SQLiteSource) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteSource) Close() { s.db.Close() }

// DB exposes the handle for seeding fixtures.
func (s *SQLiteSource) DB() *sql.DB { return s.db }

func (s *SQLiteSource) Begin(ctx context.Context) (Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &sqliteSession{tx: tx}, nil
}

type sqliteSession struct {
	tx *sql.Tx
}

func (s *sqliteSession) Exec(ctx context.Context, stmt string) (Result, error) {
	if !returnsRows(stmt) {
		r, err := s.tx.ExecContext(ctx, stmt)
		if err != nil {
			return Result{}, err
		}
		n, _ := r.RowsAffected()
		return Result{Affected: n}, nil
	}

	rows, err := s.tx.QueryContext(ctx, stmt)
	if err != nil {
		return Result{}, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return Result{}, err
	}
	n := 0
	for rows.Next() {
		n++
	}
	if err := rows.Err(); err != nil {
		return Result{}, err
	}
	return Result{Columns: cols, Rows: n}, nil
}

func (s *sqliteSession) Commit(_ context.Context) error { return s.tx.Commit() }

func (s *sqliteSession) Rollback(_ context.Context) error { return s.tx.Rollback() }
