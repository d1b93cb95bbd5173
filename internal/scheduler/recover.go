package scheduler

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/valuecalc/pkg/models"
)

// InterruptedMessage is recorded on tasks that were executing when the
// process stopped.
const InterruptedMessage = "interrupted by server restart"

// Settler moves orphaned tasks out of their executing status.
type Settler interface {
	Fail(ctx context.Context, id uuid.UUID, msg string) (*models.Task, error)
	Pause(ctx context.Context, id uuid.UUID, msg string) (*models.Task, error)
}

// RecoverInterrupted settles tasks left executing by a previous process.
// Running calculations are failed; they are rerun as new tasks. Processing
// classifications are paused so a continuation picks up their remaining
// items. It returns how many tasks were settled.
func RecoverInterrupted(ctx context.Context, tasks TaskLister, s Settler, logger *slog.Logger) int {
	if logger == nil {
		logger = slog.Default()
	}
	settled := settle(ctx, tasks, models.TaskKindCalculation, models.TaskStatusRunning, logger, func(id uuid.UUID) error {
		_, err := s.Fail(ctx, id, InterruptedMessage)
		return err
	})
	settled += settle(ctx, tasks, models.TaskKindClassification, models.TaskStatusProcessing, logger, func(id uuid.UUID) error {
		_, err := s.Pause(ctx, id, InterruptedMessage+"; continue to resume")
		return err
	})
	if settled > 0 {
		logger.InfoContext(ctx, "recovered interrupted tasks", "count", settled)
	}
	return settled
}

func settle(ctx context.Context, tasks TaskLister, kind models.TaskKind, status models.TaskStatus, logger *slog.Logger, move func(uuid.UUID) error) int {
	total := 0
	for {
		page, err := tasks.ListTasksByStatus(ctx, kind, status, sweepLimit)
		if err != nil {
			logger.ErrorContext(ctx, "failed to list interrupted tasks", "kind", kind, "error", err)
			return total
		}
		moved := 0
		for _, t := range page {
			if err := move(t.ID); err != nil {
				logger.WarnContext(ctx, "could not settle interrupted task", "task_id", t.ID, "error", err)
				continue
			}
			moved++
		}
		total += moved
		if len(page) < sweepLimit || moved == 0 {
			return total
		}
	}
}
