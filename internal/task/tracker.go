// Package task owns the lifecycle record of a task. Engines report through a
// Tracker; nothing else writes a task's status.
package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/valuecalc/internal/store"
	"github.com/kiranshivaraju/valuecalc/pkg/models"
)

// Store is the slice of store.Store the tracker writes through.
type Store interface {
	UpdateTaskStatus(ctx context.Context, id uuid.UUID, status models.TaskStatus, opts ...store.TaskUpdateOption) (*models.Task, error)
	UpdateTaskProgress(ctx context.Context, id uuid.UUID, progress float64) error
}

// StatusCache receives a snapshot after every write.
type StatusCache interface {
	SetTaskSnapshot(ctx context.Context, snap models.TaskSnapshot, ttl time.Duration) error
}

// TimedOutMessage is recorded on tasks stopped by their deadline.
const TimedOutMessage = "execution timed out"

// FailureMessage returns the message to store for a run that ended with err.
// A run cut short by its deadline reports TimedOutMessage.
func FailureMessage(ctx context.Context, err error) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return TimedOutMessage
	}
	return err.Error()
}

type Tracker struct {
	store  Store
	cache  StatusCache
	ttl    time.Duration
	logger *slog.Logger
}

// NewTracker creates a Tracker. cache may be nil.
func NewTracker(st Store, cache StatusCache, ttl time.Duration, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{store: st, cache: cache, ttl: ttl, logger: logger}
}

// Start moves a pending task into its executing status: running for
// calculations, processing for classifications.
func (t *Tracker) Start(ctx context.Context, task *models.Task) (*models.Task, error) {
	status := models.TaskStatusRunning
	if task.Kind == models.TaskKindClassification {
		status = models.TaskStatusProcessing
	}
	return t.transition(ctx, task.ID, status)
}

// Resume re-enters processing from failed or paused and clears the previous
// error message.
func (t *Tracker) Resume(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	return t.transition(ctx, id, models.TaskStatusProcessing, store.WithClearedError())
}

// Progress persists a new progress value on task and republishes it.
func (t *Tracker) Progress(ctx context.Context, task *models.Task, progress float64) error {
	if err := t.store.UpdateTaskProgress(ctx, task.ID, progress); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	task.Progress = progress
	task.UpdatedAt = time.Now().UTC()
	t.Publish(ctx, task)
	return nil
}

// Complete marks the task completed. Progress becomes 100.
func (t *Tracker) Complete(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	return t.transition(context.WithoutCancel(ctx), id, models.TaskStatusCompleted)
}

// Fail marks the task failed with msg. The write survives ctx cancellation so
// a timed-out job still records why it stopped.
func (t *Tracker) Fail(ctx context.Context, id uuid.UUID, msg string) (*models.Task, error) {
	return t.transition(context.WithoutCancel(ctx), id, models.TaskStatusFailed, store.WithErrorMessage(msg))
}

// Pause parks a processing task until it is continued.
func (t *Tracker) Pause(ctx context.Context, id uuid.UUID, msg string) (*models.Task, error) {
	return t.transition(context.WithoutCancel(ctx), id, models.TaskStatusPaused, store.WithErrorMessage(msg))
}

// Publish caches the poll view of task. Cache failures are logged and ignored;
// the database row stays authoritative.
func (t *Tracker) Publish(ctx context.Context, task *models.Task) {
	if t.cache == nil || task == nil {
		return
	}
	if err := t.cache.SetTaskSnapshot(context.WithoutCancel(ctx), task.Snapshot(), t.ttl); err != nil {
		t.logger.WarnContext(ctx, "failed to cache task snapshot", "task_id", task.ID, "error", err)
	}
}

func (t *Tracker) transition(ctx context.Context, id uuid.UUID, status models.TaskStatus, opts ...store.TaskUpdateOption) (*models.Task, error) {
	updated, err := t.store.UpdateTaskStatus(ctx, id, status, opts...)
	if err != nil {
		return nil, fmt.Errorf("set task %s to %s: %w", id, status, err)
	}
	t.logger.InfoContext(ctx, "task status changed", "task_id", id, "status", status)
	t.Publish(ctx, updated)
	return updated, nil
}
