// Package workflow runs calculation tasks: every enabled step of a workflow
// against every unit in scope, stopping the whole task at the first failure.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/valuecalc/internal/datasource"
	"github.com/kiranshivaraju/valuecalc/internal/logging"
	"github.com/kiranshivaraju/valuecalc/internal/store"
	"github.com/kiranshivaraju/valuecalc/internal/task"
	"github.com/kiranshivaraju/valuecalc/internal/template"
	"github.com/kiranshivaraju/valuecalc/pkg/models"
)

// Store is what the executor reads from and logs to.
type Store interface {
	LogWriter
	GetWorkflow(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Workflow, error)
	ListEnabledSteps(ctx context.Context, workflowID uuid.UUID) ([]*models.WorkflowStep, error)
	ListUnits(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]*models.Unit, error)
}

// Pools hands out pooled data sources by id.
type Pools interface {
	Acquire(ctx context.Context, id uuid.UUID) (datasource.Source, error)
}

// Lifecycle records task state. *task.Tracker implements it.
type Lifecycle interface {
	Start(ctx context.Context, t *models.Task) (*models.Task, error)
	Progress(ctx context.Context, t *models.Task, progress float64) error
	Complete(ctx context.Context, id uuid.UUID) (*models.Task, error)
	Fail(ctx context.Context, id uuid.UUID, msg string) (*models.Task, error)
}

// Finalizer runs once after every unit succeeded, before the task completes.
type Finalizer interface {
	Finalize(ctx context.Context, t *models.Task, params template.Params) error
}

// FinalizerFunc adapts a function to Finalizer.
type FinalizerFunc func(ctx context.Context, t *models.Task, params template.Params) error

func (f FinalizerFunc) Finalize(ctx context.Context, t *models.Task, params template.Params) error {
	return f(ctx, t, params)
}

// Executor runs calculation tasks: every enabled step of the task's workflow
// against every selected unit, stopping at the first failure.
type Executor struct {
	store     Store
	pools     Pools
	lifecycle Lifecycle
	renderer  template.Renderer
	recorder  *Recorder
	finalizer Finalizer
	logger    *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithRenderer replaces the default placeholder renderer.
func WithRenderer(r template.Renderer) Option {
	return func(e *Executor) { e.renderer = r }
}

// WithFinalizer sets a hook that runs after the last unit succeeds.
func WithFinalizer(f Finalizer) Option {
	return func(e *Executor) { e.finalizer = f }
}

// WithLogger sets the executor's logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// NewExecutor creates an Executor.
func NewExecutor(st Store, pools Pools, lc Lifecycle, opts ...Option) *Executor {
	e := &Executor{
		store:     st,
		pools:     pools,
		lifecycle: lc,
		renderer:  template.NewRenderer(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.recorder = NewRecorder(st, e.logger)
	return e
}

// plan is everything resolved before the task starts running.
type plan struct {
	steps   []*models.WorkflowStep
	units   []*models.Unit
	params  template.Params
	sources map[uuid.UUID]datasource.Source
}

// Run executes a pending calculation task to a terminal status. The returned
// error is the cause of failure; the task row already records it.
func (e *Executor) Run(ctx context.Context, t *models.Task) error {
	ctx = logging.WithTaskID(ctx, t.ID.String())

	p, err := e.resolve(ctx, t)
	if err != nil {
		e.logger.WarnContext(ctx, "calculation task misconfigured", "error", err)
		e.fail(ctx, t, err)
		return err
	}

	started, err := e.lifecycle.Start(ctx, t)
	if err != nil {
		return fmt.Errorf("start task: %w", err)
	}
	*t = *started
	e.logger.InfoContext(ctx, "calculation started", "steps", len(p.steps), "units", len(p.units))

	for i, unit := range p.units {
		unitCtx := ctx
		if unit != nil {
			unitCtx = logging.WithUnitID(ctx, unit.ID.String())
		}
		params := template.ForUnit(p.params, unit)

		for _, step := range p.steps {
			if err := e.runStep(unitCtx, t, step, unit, params, p.sources[step.DataSourceID]); err != nil {
				e.logger.ErrorContext(unitCtx, "calculation step failed", "step", step.Name, "error", err)
				e.fail(ctx, t, err)
				return err
			}
		}

		if err := e.lifecycle.Progress(ctx, t, models.Progress(i+1, len(p.units))); err != nil {
			e.fail(ctx, t, err)
			return err
		}
	}

	if e.finalizer != nil {
		if err := e.finalizer.Finalize(ctx, t, p.params); err != nil {
			err = fmt.Errorf("finalize: %w", err)
			e.fail(ctx, t, err)
			return err
		}
	}

	if _, err := e.lifecycle.Complete(ctx, t.ID); err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	e.logger.InfoContext(ctx, "calculation completed")
	return nil
}

func (e *Executor) resolve(ctx context.Context, t *models.Task) (*plan, error) {
	if t.WorkflowID == nil {
		return nil, ErrMissingWorkflow
	}
	wf, err := e.store.GetWorkflow(ctx, *t.WorkflowID, t.TenantID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrMissingWorkflow
	}
	if err != nil {
		return nil, fmt.Errorf("load workflow: %w", err)
	}

	steps, err := e.store.ListEnabledSteps(ctx, wf.ID)
	if err != nil {
		return nil, fmt.Errorf("load steps: %w", err)
	}
	if len(steps) == 0 {
		return nil, ErrMissingWorkflow
	}

	params, err := template.BuildParams(t)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPeriod, err)
	}

	var units []*models.Unit
	if t.AllUnits {
		// One pass with blank unit parameters; each step aggregates across units itself.
		units = []*models.Unit{nil}
	} else {
		units, err = e.store.ListUnits(ctx, t.TenantID, t.UnitIDs)
		if err != nil {
			return nil, fmt.Errorf("load units: %w", err)
		}
		if len(units) == 0 {
			return nil, ErrNoEligibleUnits
		}
	}

	sources := make(map[uuid.UUID]datasource.Source)
	for _, step := range steps {
		if step.CodeKind != models.StepCodeQuery {
			continue
		}
		if _, ok := sources[step.DataSourceID]; ok {
			continue
		}
		src, err := e.pools.Acquire(ctx, step.DataSourceID)
		if err != nil {
			return nil, fmt.Errorf("%w: step %q: %v", ErrMissingDataSource, step.Name, err)
		}
		sources[step.DataSourceID] = src
	}

	return &plan{steps: steps, units: units, params: params, sources: sources}, nil
}

func (e *Executor) runStep(ctx context.Context, t *models.Task, step *models.WorkflowStep, unit *models.Unit, params template.Params, src datasource.Source) error {
	ctx = logging.WithStepID(ctx, step.ID.String())
	entry := e.recorder.Begin(t.ID, step, unit)

	res, err := e.execute(ctx, step, params, src)
	if err != nil {
		e.recorder.Failure(ctx, entry, res, err)
		if unit != nil {
			return fmt.Errorf("step %q on unit %s: %w", step.Name, unit.Code, err)
		}
		return fmt.Errorf("step %q: %w", step.Name, err)
	}
	e.recorder.Success(ctx, entry, res)
	e.logger.DebugContext(ctx, "step succeeded", "step", step.Name, "affected", res.Affected, "rows", res.Rows)
	return nil
}

// execute runs one step in its own transaction. The result carries the
// accumulated affected rows and the shape of the last row-returning statement.
func (e *Executor) execute(ctx context.Context, step *models.WorkflowStep, params template.Params, src datasource.Source) (datasource.Result, error) {
	var total datasource.Result

	switch step.CodeKind {
	case models.StepCodeQuery:
	case models.StepCodeProcedure:
		return total, ErrProcedureNotImplemented
	default:
		return total, fmt.Errorf("%w: %q", ErrUnsupportedStepKind, step.CodeKind)
	}
	if src == nil {
		return total, ErrMissingDataSource
	}

	stmts := datasource.SplitStatements(e.renderer.Render(step.Code, params))

	sess, err := src.Begin(ctx)
	if err != nil {
		return total, fmt.Errorf("begin: %w", err)
	}
	for i, stmt := range stmts {
		res, err := sess.Exec(ctx, stmt)
		if err != nil {
			_ = sess.Rollback(context.WithoutCancel(ctx))
			return total, fmt.Errorf("statement %d: %w", i+1, err)
		}
		total.Affected += res.Affected
		if len(res.Columns) > 0 {
			total.Columns = res.Columns
			total.Rows = res.Rows
		}
	}
	if err := sess.Commit(ctx); err != nil {
		return total, fmt.Errorf("commit: %w", err)
	}
	return total, nil
}

func (e *Executor) fail(ctx context.Context, t *models.Task, cause error) {
	if _, err := e.lifecycle.Fail(ctx, t.ID, task.FailureMessage(ctx, cause)); err != nil {
		e.logger.ErrorContext(ctx, "failed to mark task failed", "error", err)
	}
}
