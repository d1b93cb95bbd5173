// Package classify drains classification backlogs against the external
// classifier.
package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/valuecalc/internal/store"
	"github.com/kiranshivaraju/valuecalc/internal/task"
	"github.com/kiranshivaraju/valuecalc/pkg/models"
)

var (
	// ErrInvalidState rejects a continuation of a task that is not failed or paused.
	ErrInvalidState        = errors.New("task cannot be continued in its current state")
	ErrMissingModelVersion = errors.New("missing model version")
	ErrMissingPromptModule = errors.New("missing prompt module")
	ErrNoDimensions        = errors.New("model version has no dimensions")
)

// Store is the persistence the engine needs.
type Store interface {
	BacklogStore
	RunnerStore
	GetTask(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Task, error)
	GetPromptModule(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.PromptModule, error)
	ListDimensions(ctx context.Context, modelVersionID uuid.UUID) ([]models.Dimension, error)
	ResetProcessingWorkItems(ctx context.Context, taskID uuid.UUID) (int64, error)
}

// Lifecycle moves classification tasks between states.
type Lifecycle interface {
	Start(ctx context.Context, t *models.Task) (*models.Task, error)
	Resume(ctx context.Context, id uuid.UUID) (*models.Task, error)
	Complete(ctx context.Context, id uuid.UUID) (*models.Task, error)
	Fail(ctx context.Context, id uuid.UUID, msg string) (*models.Task, error)
	Pause(ctx context.Context, id uuid.UUID, msg string) (*models.Task, error)
	Publish(ctx context.Context, t *models.Task)
}

type Engine struct {
	store     Store
	lifecycle Lifecycle
	backlog   *BacklogBuilder
	runner    *Runner
	logger    *slog.Logger
}

func NewEngine(st Store, c models.Classifier, lc Lifecycle, s Settings, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	r := NewRunner(st, c, s, logger)
	r.publish = lc.Publish
	return &Engine{
		store:     st,
		lifecycle: lc,
		backlog:   NewBacklogBuilder(st, logger),
		runner:    r,
		logger:    logger,
	}
}

// Run executes a pending classification task from the start.
func (e *Engine) Run(ctx context.Context, t *models.Task) error {
	p, err := e.resolve(ctx, t)
	if err != nil {
		e.fail(ctx, t, err)
		return err
	}
	started, err := e.lifecycle.Start(ctx, t)
	if err != nil {
		return fmt.Errorf("start task: %w", err)
	}
	p.Task = started
	return e.drain(ctx, p)
}

// Continue validates that a task may be continued and moves it back to
// processing with its error cleared. The caller then schedules Resume.
func (e *Engine) Continue(ctx context.Context, tenantID, taskID uuid.UUID) (*models.Task, error) {
	t, err := e.store.GetTask(ctx, taskID, tenantID)
	if err != nil {
		return nil, err
	}
	if t.Kind != models.TaskKindClassification {
		return nil, fmt.Errorf("%w: %s task", ErrInvalidState, t.Kind)
	}
	if t.Status != models.TaskStatusFailed && t.Status != models.TaskStatusPaused {
		return nil, fmt.Errorf("%w: status is %s", ErrInvalidState, t.Status)
	}
	return e.lifecycle.Resume(ctx, t.ID)
}

// Resume drains the unfinished items of a task already in processing. Items
// left processing by an abandoned run are returned to pending first.
func (e *Engine) Resume(ctx context.Context, t *models.Task) error {
	if t.Status != models.TaskStatusProcessing {
		return fmt.Errorf("%w: status is %s", ErrInvalidState, t.Status)
	}
	n, err := e.store.ResetProcessingWorkItems(ctx, t.ID)
	if err != nil {
		e.fail(ctx, t, err)
		return err
	}
	if n > 0 {
		e.logger.InfoContext(ctx, "reset abandoned work items", "items", n)
	}

	p, err := e.resolve(ctx, t)
	if err != nil {
		e.fail(ctx, t, err)
		return err
	}
	p.Task = t
	return e.drain(ctx, p)
}

func (e *Engine) drain(ctx context.Context, p *Plan) error {
	items, err := e.backlog.BuildOrReuse(ctx, p.Task)
	if err != nil {
		e.fail(ctx, p.Task, err)
		return err
	}
	e.logger.InfoContext(ctx, "draining backlog", "remaining", len(items), "batch_size", e.runner.settings.BatchSize)

	outcome, msg, err := e.runner.Drain(ctx, p, items)
	if err != nil {
		e.fail(ctx, p.Task, err)
		return err
	}
	if outcome == OutcomePaused {
		e.logger.InfoContext(ctx, "classification paused", "reason", msg)
		if _, err := e.lifecycle.Pause(ctx, p.Task.ID, msg); err != nil {
			return fmt.Errorf("pause task: %w", err)
		}
		return nil
	}
	if _, err := e.lifecycle.Complete(ctx, p.Task.ID); err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	return nil
}

// resolve loads what every batch of the run shares. The dimension set is
// read once per run.
func (e *Engine) resolve(ctx context.Context, t *models.Task) (*Plan, error) {
	if t.ModelVersionID == nil {
		return nil, ErrMissingModelVersion
	}
	p := &Plan{Task: t}

	if t.PromptModuleID != nil {
		m, err := e.store.GetPromptModule(ctx, *t.PromptModuleID, t.TenantID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrMissingPromptModule
		}
		if err != nil {
			return nil, fmt.Errorf("load prompt module: %w", err)
		}
		p.Module = m
	}

	dims, err := e.store.ListDimensions(ctx, *t.ModelVersionID)
	if err != nil {
		return nil, fmt.Errorf("load dimensions: %w", err)
	}
	if len(dims) == 0 {
		return nil, ErrNoDimensions
	}
	p.Dimensions = dims
	return p, nil
}

func (e *Engine) fail(ctx context.Context, t *models.Task, cause error) {
	msg := task.FailureMessage(ctx, cause)
	e.logger.ErrorContext(ctx, "classification task failed", "error", cause)
	if _, err := e.lifecycle.Fail(ctx, t.ID, msg); err != nil {
		e.logger.ErrorContext(ctx, "failed to mark task failed", "error", err)
	}
}
