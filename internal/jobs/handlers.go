package jobs

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/valuecalc/pkg/models"
)

// TaskLoader reads the task a job refers to.
type TaskLoader interface {
	GetTaskByID(ctx context.Context, id uuid.UUID) (*models.Task, error)
}

type CalculationRunner interface {
	Run(ctx context.Context, t *models.Task) error
}

type ClassificationRunner interface {
	Run(ctx context.Context, t *models.Task) error
	Resume(ctx context.Context, t *models.Task) error
}

// CalculationHandler runs pending calculation tasks. Tasks in any other state
// are skipped.
func CalculationHandler(st TaskLoader, r CalculationRunner) Handler {
	return func(ctx context.Context, job Job) error {
		t, err := st.GetTaskByID(ctx, job.TaskID)
		if err != nil {
			return fmt.Errorf("load task: %w", err)
		}
		if t.Status != models.TaskStatusPending {
			return fmt.Errorf("calculation task %s is %s, not pending", t.ID, t.Status)
		}
		return r.Run(ctx, t)
	}
}

// ClassificationHandler starts pending classification tasks and resumes
// those already moved back to processing by a continuation.
func ClassificationHandler(st TaskLoader, r ClassificationRunner) Handler {
	return func(ctx context.Context, job Job) error {
		t, err := st.GetTaskByID(ctx, job.TaskID)
		if err != nil {
			return fmt.Errorf("load task: %w", err)
		}
		switch t.Status {
		case models.TaskStatusPending:
			return r.Run(ctx, t)
		case models.TaskStatusProcessing:
			return r.Resume(ctx, t)
		default:
			return fmt.Errorf("classification task %s is %s; nothing to run", t.ID, t.Status)
		}
	}
}
