package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kiranshivaraju/valuecalc/pkg/models"
)

// --- Tasks ---

const taskColumns = `id, tenant_id, kind, name, workflow_id, model_version_id, prompt_module_id, period,
	all_units, unit_ids, filter, status, progress, total_items, processed_items, failed_items,
	error_message, started_at, completed_at, created_at, updated_at`

func scanTask(row pgx.Row) (*models.Task, error) {
	var t models.Task
	err := row.Scan(&t.ID, &t.TenantID, &t.Kind, &t.Name, &t.WorkflowID, &t.ModelVersionID,
		&t.PromptModuleID, &t.Period, &t.AllUnits, &t.UnitIDs, &t.Filter, &t.Status, &t.Progress,
		&t.TotalItems, &t.ProcessedItems, &t.FailedItems, &t.ErrorMessage, &t.StartedAt,
		&t.CompletedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *PostgresStore) CreateTask(ctx context.Context, task *models.Task) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tasks (id, tenant_id, kind, name, workflow_id, model_version_id, prompt_module_id,
		   period, all_units, unit_ids, filter, status, progress, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		task.ID, task.TenantID, task.Kind, task.Name, task.WorkflowID, task.ModelVersionID,
		task.PromptModuleID, task.Period, task.AllUnits, task.UnitIDs, task.Filter, task.Status,
		task.Progress, task.CreatedAt, task.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Task, error) {
	t, err := scanTask(s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1 AND tenant_id = $2`, id, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// GetTaskByID loads a task without a tenant guard. Only background workers
// that received the id from a tenant-scoped submission use it.
func (s *PostgresStore) GetTaskByID(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	t, err := scanTask(s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) ListTasksByStatus(ctx context.Context, kind models.TaskKind, status models.TaskStatus, limit int) ([]*models.Task, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE kind = $1 AND status = $2
		 ORDER BY updated_at LIMIT $3`, kind, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list tasks by status: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UpdateTaskStatus moves a task to status if the transition is allowed and
// returns the updated row. The current status is read under a row lock so
// concurrent writers serialize.
func (s *PostgresStore) UpdateTaskStatus(ctx context.Context, id uuid.UUID, status models.TaskStatus, opts ...TaskUpdateOption) (*models.Task, error) {
	msg, setMsg := ApplyTaskUpdateOptions(opts...)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var current models.TaskStatus
	err = tx.QueryRow(ctx, `SELECT status FROM tasks WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task status: %w", err)
	}

	if !models.CanTransition(current, status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
	}

	now := time.Now().UTC()
	query := `UPDATE tasks SET status = $2, updated_at = $3`
	args := []any{id, status, now}
	argIdx := 4

	switch status {
	case models.TaskStatusRunning, models.TaskStatusProcessing:
		query += fmt.Sprintf(", started_at = COALESCE(started_at, $%d), completed_at = NULL", argIdx)
		args = append(args, now)
		argIdx++
	case models.TaskStatusCompleted:
		query += fmt.Sprintf(", completed_at = $%d, progress = 100", argIdx)
		args = append(args, now)
		argIdx++
	case models.TaskStatusFailed:
		query += fmt.Sprintf(", completed_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if setMsg {
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, msg)
	}
	query += " WHERE id = $1 RETURNING " + taskColumns

	t, err := scanTask(tx.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("update task status: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit task status: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) UpdateTaskProgress(ctx context.Context, id uuid.UUID, progress float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET progress = $2, updated_at = NOW() WHERE id = $1`, id, progress)
	if err != nil {
		return fmt.Errorf("update task progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Step Execution Logs ---

func (s *PostgresStore) InsertStepLog(ctx context.Context, l *models.StepExecutionLog) error {
	cols := l.Columns
	if cols == nil {
		cols = []string{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO step_execution_logs (id, task_id, step_id, step_name, unit_id, unit_name, status,
		   started_at, finished_at, duration_ms, columns, row_count, affected_rows, error_message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		l.ID, l.TaskID, l.StepID, l.StepName, l.UnitID, l.UnitName, l.Status, l.StartedAt,
		l.FinishedAt, l.DurationMS, cols, l.RowCount, l.AffectedRows, l.ErrorMessage, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert step log: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListStepLogs(ctx context.Context, taskID uuid.UUID) ([]*models.StepExecutionLog, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, task_id, step_id, step_name, unit_id, unit_name, status, started_at, finished_at,
		   duration_ms, columns, row_count, affected_rows, error_message, created_at
		 FROM step_execution_logs WHERE task_id = $1 ORDER BY started_at, created_at`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list step logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.StepExecutionLog
	for rows.Next() {
		var l models.StepExecutionLog
		if err := rows.Scan(&l.ID, &l.TaskID, &l.StepID, &l.StepName, &l.UnitID, &l.UnitName,
			&l.Status, &l.StartedAt, &l.FinishedAt, &l.DurationMS, &l.Columns, &l.RowCount,
			&l.AffectedRows, &l.ErrorMessage, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan step log: %w", err)
		}
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}
