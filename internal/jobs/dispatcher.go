// Package jobs runs task jobs on a bounded pool of workers.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/valuecalc/internal/config"
	"github.com/kiranshivaraju/valuecalc/internal/logging"
	"github.com/kiranshivaraju/valuecalc/internal/task"
	"github.com/kiranshivaraju/valuecalc/pkg/models"
)

var (
	ErrShutdown       = errors.New("job dispatcher is shut down")
	ErrQueueFull      = errors.New("job queue is full")
	ErrAlreadyQueued  = errors.New("task already has a job in flight")
	ErrUnknownJobKind = errors.New("no handler registered for job kind")
)

// Job is one submitted unit of work.
type Job struct {
	Kind        models.TaskKind
	TaskID      uuid.UUID
	TenantID    uuid.UUID
	Params      map[string]string
	SubmittedAt time.Time
}

// Handler runs a job. It should return once ctx is done.
type Handler func(ctx context.Context, job Job) error

// Failer marks a task failed when its job cannot report for itself.
type Failer interface {
	Fail(ctx context.Context, id uuid.UUID, msg string) (*models.Task, error)
}

// Handle tracks a submitted job. Submitters are not required to wait on it.
type Handle struct {
	TaskID uuid.UUID
	Kind   models.TaskKind

	done chan struct{}
	err  error
}

// Done is closed when the job's worker lets go of it.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the job's result. It is only meaningful after Done is closed.
func (h *Handle) Err() error { return h.err }

// Metrics is a snapshot of dispatcher counters.
type Metrics struct {
	Queued    int64 `json:"queued"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
	TimedOut  int64 `json:"timed_out"`
	Dropped   int64 `json:"dropped"`
}

type Options struct {
	Workers     int
	QueueSize   int
	SoftTimeout time.Duration
	HardTimeout time.Duration
}

func OptionsFrom(cfg config.JobsConfig) Options {
	return Options{
		Workers:     cfg.Workers,
		QueueSize:   cfg.QueueSize,
		SoftTimeout: cfg.SoftTimeout,
		HardTimeout: cfg.HardTimeout,
	}
}

type queued struct {
	job    Job
	handle *Handle
}

// Dispatcher feeds submitted jobs from a buffered queue to a fixed number of
// workers. Each job runs under a soft deadline carried by its context and a
// hard ceiling after which the worker abandons it.
type Dispatcher struct {
	opts     Options
	handlers map[models.TaskKind]Handler
	failer   Failer
	logger   *slog.Logger

	queue  chan queued
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inflight map[uuid.UUID]struct{}
	started  bool
	closed   bool

	metrics Metrics
}

func NewDispatcher(opts Options, failer Failer, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = opts.Workers
	}
	if opts.HardTimeout < opts.SoftTimeout {
		opts.HardTimeout = opts.SoftTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		opts:     opts,
		handlers: make(map[models.TaskKind]Handler),
		failer:   failer,
		logger:   logger,
		queue:    make(chan queued, opts.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
		inflight: make(map[uuid.UUID]struct{}),
	}
}

// Register sets the handler for a job kind. Call it before Start.
func (d *Dispatcher) Register(kind models.TaskKind, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[kind] = h
}

// Start launches the workers. Calling it twice has no effect.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	for i := 0; i < d.opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	d.logger.Info("job dispatcher started", "workers", d.opts.Workers, "queue_size", d.opts.QueueSize)
}

// Submit enqueues a job without waiting for it to run. It never blocks: a
// full queue is reported as ErrQueueFull.
func (d *Dispatcher) Submit(kind models.TaskKind, taskID, tenantID uuid.UUID, params map[string]string) (*Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrShutdown
	}
	if _, ok := d.handlers[kind]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJobKind, kind)
	}
	if _, ok := d.inflight[taskID]; ok {
		return nil, ErrAlreadyQueued
	}

	h := &Handle{TaskID: taskID, Kind: kind, done: make(chan struct{})}
	q := queued{
		job: Job{
			Kind:        kind,
			TaskID:      taskID,
			TenantID:    tenantID,
			Params:      params,
			SubmittedAt: time.Now().UTC(),
		},
		handle: h,
	}
	select {
	case d.queue <- q:
	default:
		return nil, ErrQueueFull
	}
	d.inflight[taskID] = struct{}{}
	atomic.AddInt64(&d.metrics.Queued, 1)
	return h, nil
}

// Shutdown stops accepting jobs and waits for queued and running jobs to
// finish. When ctx expires first, running jobs are cancelled and ctx's error
// is returned. Jobs still queued at that point are dropped without running,
// so their tasks stay pending and their handles report ErrShutdown.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		d.cancel()
		return nil
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) Metrics() Metrics {
	return Metrics{
		Queued:    atomic.LoadInt64(&d.metrics.Queued),
		Active:    atomic.LoadInt64(&d.metrics.Active),
		Completed: atomic.LoadInt64(&d.metrics.Completed),
		Failed:    atomic.LoadInt64(&d.metrics.Failed),
		Panics:    atomic.LoadInt64(&d.metrics.Panics),
		TimedOut:  atomic.LoadInt64(&d.metrics.TimedOut),
		Dropped:   atomic.LoadInt64(&d.metrics.Dropped),
	}
}

func (d *Dispatcher) worker(n int) {
	defer d.wg.Done()
	for q := range d.queue {
		atomic.AddInt64(&d.metrics.Queued, -1)
		if d.ctx.Err() != nil {
			d.drop(q)
			continue
		}
		atomic.AddInt64(&d.metrics.Active, 1)

		err := d.run(q.job)
		q.handle.err = err

		atomic.AddInt64(&d.metrics.Active, -1)
		if err != nil {
			atomic.AddInt64(&d.metrics.Failed, 1)
		} else {
			atomic.AddInt64(&d.metrics.Completed, 1)
		}
		d.release(q)
	}
	d.logger.Debug("job worker stopped", "worker", n)
}

// drop releases a job that never started. Its task is left untouched.
func (d *Dispatcher) drop(q queued) {
	atomic.AddInt64(&d.metrics.Dropped, 1)
	q.handle.err = ErrShutdown
	d.logger.Warn("queued job dropped at shutdown; task left for a later run",
		"task_id", q.job.TaskID, "tenant_id", q.job.TenantID, "kind", q.job.Kind)
	d.release(q)
}

func (d *Dispatcher) release(q queued) {
	d.mu.Lock()
	delete(d.inflight, q.job.TaskID)
	d.mu.Unlock()
	close(q.handle.done)
}

// run executes one job and returns once it finishes or its hard ceiling
// passes. An abandoned handler keeps running until it observes its context.
func (d *Dispatcher) run(job Job) error {
	d.mu.Lock()
	h := d.handlers[job.Kind]
	d.mu.Unlock()

	ctx := logging.WithTenantID(d.ctx, job.TenantID.String())
	ctx = logging.WithTaskID(ctx, job.TaskID.String())
	var cancel context.CancelFunc
	if d.opts.SoftTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, d.opts.SoftTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	logger := d.logger.With("kind", job.Kind)
	logger.InfoContext(ctx, "job started", "waited_ms", time.Since(job.SubmittedAt).Milliseconds())
	start := time.Now()

	result := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				atomic.AddInt64(&d.metrics.Panics, 1)
				err := fmt.Errorf("panic: %v", r)
				logger.ErrorContext(ctx, "job panicked", "error", err)
				d.markFailed(ctx, job, err.Error())
				result <- err
			}
		}()
		result <- h(ctx, job)
	}()

	var hard <-chan time.Time
	if d.opts.HardTimeout > 0 {
		timer := time.NewTimer(d.opts.HardTimeout)
		defer timer.Stop()
		hard = timer.C
	}

	select {
	case err := <-result:
		if errors.Is(err, context.DeadlineExceeded) {
			atomic.AddInt64(&d.metrics.TimedOut, 1)
		}
		if err != nil {
			logger.WarnContext(ctx, "job finished with error", "error", err, "duration_ms", time.Since(start).Milliseconds())
		} else {
			logger.InfoContext(ctx, "job finished", "duration_ms", time.Since(start).Milliseconds())
		}
		return err
	case <-hard:
		atomic.AddInt64(&d.metrics.TimedOut, 1)
		logger.ErrorContext(ctx, "job exceeded hard timeout; abandoning", "hard_timeout", d.opts.HardTimeout)
		cancel()
		d.markFailed(ctx, job, task.TimedOutMessage)
		return context.DeadlineExceeded
	}
}

func (d *Dispatcher) markFailed(ctx context.Context, job Job, msg string) {
	if d.failer == nil {
		return
	}
	if _, err := d.failer.Fail(context.WithoutCancel(ctx), job.TaskID, msg); err != nil {
		d.logger.WarnContext(ctx, "could not mark task failed", "task_id", job.TaskID, "error", err)
	}
}
