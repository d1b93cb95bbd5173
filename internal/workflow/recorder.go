package workflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/valuecalc/internal/datasource"
	"github.com/kiranshivaraju/valuecalc/pkg/models"
)

// LogWriter persists step execution logs.
type LogWriter interface {
	InsertStepLog(ctx context.Context, log *models.StepExecutionLog) error
}

// Recorder appends one StepExecutionLog per step attempt. Logs are audit
// records only: a failed insert is reported and the run goes on.
type Recorder struct {
	w      LogWriter
	logger *slog.Logger
}

func NewRecorder(w LogWriter, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{w: w, logger: logger}
}

// Begin starts a log entry for step on unit. unit is nil in the all-units scope.
func (r *Recorder) Begin(taskID uuid.UUID, step *models.WorkflowStep, unit *models.Unit) *models.StepExecutionLog {
	l := &models.StepExecutionLog{
		ID:        uuid.New(),
		TaskID:    taskID,
		StepID:    step.ID,
		StepName:  step.Name,
		StartedAt: time.Now().UTC(),
	}
	if unit != nil {
		id := unit.ID
		l.UnitID = &id
		l.UnitName = unit.Name
	}
	return l
}

// Success finishes l with the result shape of the step.
func (r *Recorder) Success(ctx context.Context, l *models.StepExecutionLog, res datasource.Result) {
	l.Status = models.StepLogSuccess
	l.Columns = res.Columns
	l.RowCount = res.Rows
	l.AffectedRows = res.Affected
	r.finish(ctx, l)
}

// Failure finishes l with the causing error. Counts gathered before the
// failing statement are kept.
func (r *Recorder) Failure(ctx context.Context, l *models.StepExecutionLog, res datasource.Result, cause error) {
	msg := cause.Error()
	l.Status = models.StepLogFailed
	l.ErrorMessage = &msg
	l.Columns = res.Columns
	l.RowCount = res.Rows
	l.AffectedRows = res.Affected
	r.finish(ctx, l)
}

func (r *Recorder) finish(ctx context.Context, l *models.StepExecutionLog) {
	l.FinishedAt = time.Now().UTC()
	l.DurationMS = l.FinishedAt.Sub(l.StartedAt).Milliseconds()
	l.CreatedAt = l.FinishedAt

	if err := r.w.InsertStepLog(context.WithoutCancel(ctx), l); err != nil {
		r.logger.WarnContext(ctx, "failed to record step log",
			"step", l.StepName, "status", l.Status, "error", err)
	}
}
