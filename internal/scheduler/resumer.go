// Package scheduler continues quota-paused classification tasks on a cron
// schedule and settles tasks orphaned by a restart.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/valuecalc/internal/jobs"
	"github.com/kiranshivaraju/valuecalc/pkg/models"
	"github.com/robfig/cron/v3"
)

const sweepLimit = 100

type TaskLister interface {
	ListTasksByStatus(ctx context.Context, kind models.TaskKind, status models.TaskStatus, limit int) ([]*models.Task, error)
}

type Continuer interface {
	Continue(ctx context.Context, tenantID, taskID uuid.UUID) (*models.Task, error)
}

type Submitter interface {
	Submit(kind models.TaskKind, taskID, tenantID uuid.UUID, params map[string]string) (*jobs.Handle, error)
}

// Pauser puts a continued task back to paused when its job cannot be queued.
type Pauser interface {
	Pause(ctx context.Context, id uuid.UUID, msg string) (*models.Task, error)
}

// Resumer periodically continues paused classification tasks and submits
// them to the dispatcher. A task whose quota is still spent pauses again on
// its first batch.
type Resumer struct {
	tasks     TaskLister
	continuer Continuer
	submitter Submitter
	pauser    Pauser
	logger    *slog.Logger

	parser cron.Parser
	mu     sync.Mutex
	cron   *cron.Cron
}

func NewResumer(tasks TaskLister, c Continuer, s Submitter, p Pauser, logger *slog.Logger) *Resumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resumer{
		tasks:     tasks,
		continuer: c,
		submitter: s,
		pauser:    p,
		logger:    logger,
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// ValidateSchedule reports whether spec is a cron expression the resumer accepts.
func (r *Resumer) ValidateSchedule(spec string) error {
	if _, err := r.parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid resume schedule %q: %w", spec, err)
	}
	return nil
}

// NextRun returns the first sweep time after now.
func (r *Resumer) NextRun(spec string, now time.Time) (time.Time, error) {
	sched, err := r.parser.Parse(spec)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid resume schedule %q: %w", spec, err)
	}
	return sched.Next(now), nil
}

// Start schedules Sweep on spec.
func (r *Resumer) Start(spec string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return fmt.Errorf("resumer already started")
	}
	if err := r.ValidateSchedule(spec); err != nil {
		return err
	}

	c := cron.New(cron.WithParser(r.parser), cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(spec, func() { r.Sweep(context.Background()) }); err != nil {
		return fmt.Errorf("schedule resume sweep: %w", err)
	}
	c.Start()
	r.cron = c
	r.logger.Info("resume scheduler started", "schedule", spec)
	return nil
}

// Stop halts the schedule and waits for a running sweep, or for ctx.
func (r *Resumer) Stop(ctx context.Context) {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// Sweep continues every paused classification task and queues it. It returns
// how many tasks were queued.
func (r *Resumer) Sweep(ctx context.Context) int {
	paused, err := r.tasks.ListTasksByStatus(ctx, models.TaskKindClassification, models.TaskStatusPaused, sweepLimit)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to list paused tasks", "error", err)
		return 0
	}

	queued := 0
	for _, t := range paused {
		if _, err := r.continuer.Continue(ctx, t.TenantID, t.ID); err != nil {
			r.logger.WarnContext(ctx, "could not continue paused task", "task_id", t.ID, "error", err)
			continue
		}
		if _, err := r.submitter.Submit(models.TaskKindClassification, t.ID, t.TenantID, map[string]string{"trigger": "schedule"}); err != nil {
			r.logger.WarnContext(ctx, "could not queue continued task", "task_id", t.ID, "error", err)
			if _, perr := r.pauser.Pause(ctx, t.ID, "scheduled continuation could not be queued: "+err.Error()); perr != nil {
				r.logger.ErrorContext(ctx, "failed to re-pause task", "task_id", t.ID, "error", perr)
			}
			continue
		}
		queued++
	}
	if len(paused) > 0 {
		r.logger.InfoContext(ctx, "resume sweep finished", "paused", len(paused), "queued", queued)
	}
	return queued
}
