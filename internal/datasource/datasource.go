// Package datasource owns the connection pools that workflow steps execute against.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/valuecalc/pkg/models"
	"golang.org/x/sync/singleflight"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var (
	ErrUnknownDriver = errors.New("unknown data source driver")
	ErrManagerClosed = errors.New("data source manager is closed")
)

// Result summarizes one executed statement.
type Result struct {
	Columns  []string
	Rows     int
	Affected int64
}

// Session is one transaction on a pooled connection. Commit or Rollback
// releases the connection back to its pool.
type Session interface {
	Exec(ctx context.Context, stmt string) (Result, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Source is a pooled data source.
type Source interface {
	Begin(ctx context.Context) (Session, error)
	Driver() string
	Ping(ctx context.Context) error
	Close()
}

// Resolver looks up data source definitions.
type Resolver interface {
	GetDataSource(ctx context.Context, id uuid.UUID) (*models.DataSource, error)
}

// Options apply to every pool the manager opens. A data source's own
// MaxConns wins when set.
type Options struct {
	MaxConns        int
	ConnMaxLifetime time.Duration
}

// Opener creates a Source for a definition.
type Opener func(ctx context.Context, ds *models.DataSource, opts Options) (Source, error)

// Manager keeps one pool per data source id, created on first use.
// It is safe for concurrent use. Opening a pool never blocks Acquire calls
// for pools that are already open.
type Manager struct {
	resolver Resolver
	opts     Options
	logger   *slog.Logger
	opening  singleflight.Group

	mu      sync.Mutex
	sources map[uuid.UUID]Source
	openers map[string]Opener
	closed  bool
}

// NewManager returns a Manager that opens postgres and sqlite pools.
func NewManager(r Resolver, opts Options, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		resolver: r,
		opts:     opts,
		logger:   logger,
		sources:  make(map[uuid.UUID]Source),
		openers: map[string]Opener{
			DriverPostgres: OpenPostgres,
			DriverSQLite:   OpenSQLite,
		},
	}
}

// Register installs an opener for driver, replacing any existing one.
func (m *Manager) Register(driver string, open Opener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openers[driver] = open
}

// Acquire returns the pool for id, opening it if absent. Concurrent callers
// for the same id share a single open.
func (m *Manager) Acquire(ctx context.Context, id uuid.UUID) (Source, error) {
	if src, err := m.lookup(id); src != nil || err != nil {
		return src, err
	}

	v, err, _ := m.opening.Do(id.String(), func() (any, error) {
		if src, err := m.lookup(id); src != nil || err != nil {
			return src, err
		}
		return m.open(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(Source), nil
}

func (m *Manager) lookup(id uuid.UUID) (Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	return m.sources[id], nil
}

func (m *Manager) open(ctx context.Context, id uuid.UUID) (Source, error) {
	ds, err := m.resolver.GetDataSource(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("resolve data source %s: %w", id, err)
	}
	m.mu.Lock()
	open, ok := m.openers[ds.Driver]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, ds.Driver)
	}

	src, err := open(ctx, ds, m.opts)
	if err != nil {
		return nil, fmt.Errorf("open data source %s: %w", ds.Name, err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		src.Close()
		return nil, ErrManagerClosed
	}
	if existing, ok := m.sources[id]; ok {
		m.mu.Unlock()
		src.Close()
		return existing, nil
	}
	m.sources[id] = src
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "data source pool opened", "data_source_id", id, "name", ds.Name, "driver", ds.Driver)
	return src, nil
}

// Evict closes and forgets the pool for id. The next Acquire reopens it.
func (m *Manager) Evict(id uuid.UUID) {
	m.mu.Lock()
	src, ok := m.sources[id]
	delete(m.sources, id)
	m.mu.Unlock()
	if ok {
		src.Close()
	}
}

// Len returns the number of open pools.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sources)
}

// Close closes every pool. Acquire fails afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	sources := m.sources
	m.sources = make(map[uuid.UUID]Source)
	m.closed = true
	m.mu.Unlock()

	for _, src := range sources {
		src.Close()
	}
}

func maxConns(ds *models.DataSource, opts Options) int {
	if ds.MaxConns > 0 {
		return ds.MaxConns
	}
	if opts.MaxConns > 0 {
		return opts.MaxConns
	}
	return 4
}
