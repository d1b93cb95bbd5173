package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kiranshivaraju/valuecalc/pkg/models"
)

// --- Prompt modules and dimensions ---

func (s *PostgresStore) GetPromptModule(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.PromptModule, error) {
	var p models.PromptModule
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, name, system_prompt, model_name, temperature, created_at, updated_at
		 FROM prompt_modules WHERE id = $1 AND tenant_id = $2`, id, tenantID,
	).Scan(&p.ID, &p.TenantID, &p.Name, &p.SystemPrompt, &p.ModelName, &p.Temperature, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get prompt module: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) ListDimensions(ctx context.Context, modelVersionID uuid.UUID) ([]models.Dimension, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, model_version_id, code, name, description FROM dimensions
		 WHERE model_version_id = $1 ORDER BY code`, modelVersionID)
	if err != nil {
		return nil, fmt.Errorf("list dimensions: %w", err)
	}
	defer rows.Close()

	var dims []models.Dimension
	for rows.Next() {
		var d models.Dimension
		if err := rows.Scan(&d.ID, &d.ModelVersionID, &d.Code, &d.Name, &d.Description); err != nil {
			return nil, fmt.Errorf("scan dimension: %w", err)
		}
		dims = append(dims, d)
	}
	return dims, rows.Err()
}

// ListCandidateItems resolves a backlog filter against the tenant's items.
func (s *PostgresStore) ListCandidateItems(ctx context.Context, tenantID uuid.UUID, filter models.ItemFilter) ([]*models.CandidateItem, error) {
	conditions := []string{"tenant_id = $1"}
	args := []any{tenantID}
	argIdx := 2

	if len(filter.Categories) > 0 {
		conditions = append(conditions, fmt.Sprintf("category = ANY($%d)", argIdx))
		args = append(args, filter.Categories)
		argIdx++
	}
	if filter.NameContains != "" {
		conditions = append(conditions, fmt.Sprintf("name ILIKE $%d", argIdx))
		args = append(args, "%"+filter.NameContains+"%")
		argIdx++
	}
	if len(filter.ItemIDs) > 0 {
		conditions = append(conditions, fmt.Sprintf("id = ANY($%d)", argIdx))
		args = append(args, filter.ItemIDs)
		argIdx++
	}
	if filter.UnclassifiedOnly {
		conditions = append(conditions, "dimension_id IS NULL")
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, code, name, category, dimension_id FROM candidate_items WHERE `+
			strings.Join(conditions, " AND ")+` ORDER BY code`, args...)
	if err != nil {
		return nil, fmt.Errorf("list candidate items: %w", err)
	}
	defer rows.Close()

	var items []*models.CandidateItem
	for rows.Next() {
		var c models.CandidateItem
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Code, &c.Name, &c.Category, &c.DimensionID); err != nil {
			return nil, fmt.Errorf("scan candidate item: %w", err)
		}
		items = append(items, &c)
	}
	return items, rows.Err()
}

// --- Backlogs and work items ---

func (s *PostgresStore) GetBacklogByTask(ctx context.Context, taskID uuid.UUID) (*models.Backlog, error) {
	var b models.Backlog
	err := s.pool.QueryRow(ctx,
		`SELECT id, task_id, tenant_id, created_at FROM backlogs WHERE task_id = $1`, taskID,
	).Scan(&b.ID, &b.TaskID, &b.TenantID, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get backlog: %w", err)
	}
	return &b, nil
}

// CreateBacklog creates the backlog row (or reuses the task's existing one) and
// one pending work item per candidate not yet represented. It sets the task's
// total to the resulting work item count and returns the number inserted.
func (s *PostgresStore) CreateBacklog(ctx context.Context, backlog *models.Backlog, items []*models.CandidateItem) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO backlogs (id, task_id, tenant_id, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (task_id) DO UPDATE SET task_id = EXCLUDED.task_id
		 RETURNING id, created_at`,
		backlog.ID, backlog.TaskID, backlog.TenantID, backlog.CreatedAt,
	).Scan(&backlog.ID, &backlog.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("create backlog: %w", err)
	}

	inserted := 0
	if len(items) > 0 {
		now := time.Now().UTC()
		batch := &pgx.Batch{}
		for _, it := range items {
			batch.Queue(
				`INSERT INTO work_items (id, backlog_id, task_id, item_id, item_code, item_name, status, created_at, updated_at)
				 VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7, $7)
				 ON CONFLICT (task_id, item_id) DO NOTHING`,
				uuid.New(), backlog.ID, backlog.TaskID, it.ID, it.Code, it.Name, now)
		}
		br := tx.SendBatch(ctx, batch)
		for range items {
			tag, err := br.Exec()
			if err != nil {
				br.Close()
				return 0, fmt.Errorf("create work item: %w", err)
			}
			inserted += int(tag.RowsAffected())
		}
		if err := br.Close(); err != nil {
			return 0, fmt.Errorf("create work items: %w", err)
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE tasks SET total_items = (SELECT COUNT(*) FROM work_items WHERE task_id = $1), updated_at = NOW()
		 WHERE id = $1`, backlog.TaskID); err != nil {
		return 0, fmt.Errorf("set task total: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit backlog: %w", err)
	}
	return inserted, nil
}

func (s *PostgresStore) ListWorkItems(ctx context.Context, taskID uuid.UUID, statuses ...models.WorkItemStatus) ([]*models.WorkItem, error) {
	query := `SELECT id, backlog_id, task_id, item_id, item_code, item_name, status, attempts, dimension_id,
		confidence, reason, last_error, created_at, updated_at
		FROM work_items WHERE task_id = $1`
	args := []any{taskID}
	if len(statuses) > 0 {
		ss := make([]string, len(statuses))
		for i, st := range statuses {
			ss[i] = string(st)
		}
		query += " AND status = ANY($2)"
		args = append(args, ss)
	}
	query += " ORDER BY item_code, id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list work items: %w", err)
	}
	defer rows.Close()

	var items []*models.WorkItem
	for rows.Next() {
		var w models.WorkItem
		if err := rows.Scan(&w.ID, &w.BacklogID, &w.TaskID, &w.ItemID, &w.ItemCode, &w.ItemName, &w.Status,
			&w.Attempts, &w.DimensionID, &w.Confidence, &w.Reason, &w.LastError, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan work item: %w", err)
		}
		items = append(items, &w)
	}
	return items, rows.Err()
}

// MarkWorkItemsProcessing claims pending or failed items for a batch.
func (s *PostgresStore) MarkWorkItemsProcessing(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE work_items SET status = 'processing', attempts = attempts + 1, updated_at = NOW()
		 WHERE id = ANY($1) AND status IN ('pending', 'failed')`, ids)
	if err != nil {
		return fmt.Errorf("mark work items processing: %w", err)
	}
	return nil
}

// ResetProcessingWorkItems returns items stranded in processing by an
// interrupted run to pending.
func (s *PostgresStore) ResetProcessingWorkItems(ctx context.Context, taskID uuid.UUID) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE work_items SET status = 'pending', updated_at = NOW()
		 WHERE task_id = $1 AND status = 'processing'`, taskID)
	if err != nil {
		return 0, fmt.Errorf("reset processing work items: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CommitBatch records item outcomes, the usage ledger row, and the task's
// recounted counters in one transaction. Completed items are never rewritten.
func (s *PostgresStore) CommitBatch(ctx context.Context, c BatchCommit) (models.WorkItemCounts, error) {
	var counts models.WorkItemCounts

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return counts, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if len(c.Outcomes) > 0 {
		batch := &pgx.Batch{}
		for _, o := range c.Outcomes {
			batch.Queue(
				`UPDATE work_items SET status = $3, dimension_id = $4, confidence = $5, reason = $6,
				   last_error = $7, updated_at = NOW()
				 WHERE task_id = $1 AND item_id = $2 AND status <> 'completed'`,
				c.TaskID, o.ItemID, o.Status, o.DimensionID, o.Confidence, o.Reason, o.Error)
			if o.Status == models.WorkItemCompleted && o.DimensionID != nil {
				batch.Queue(`UPDATE candidate_items SET dimension_id = $2 WHERE id = $1`, o.ItemID, *o.DimensionID)
			}
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return counts, fmt.Errorf("record outcomes: %w", err)
		}
	}

	if u := c.Usage; u != nil {
		if _, err := tx.Exec(ctx,
			`INSERT INTO usage_ledger (id, tenant_id, task_id, provider, model, item_count, success, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			u.ID, u.TenantID, u.TaskID, u.Provider, u.Model, u.ItemCount, u.Success, u.CreatedAt); err != nil {
			return counts, fmt.Errorf("insert usage: %w", err)
		}
	}

	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FILTER (WHERE status = 'pending'),
		        COUNT(*) FILTER (WHERE status = 'processing'),
		        COUNT(*) FILTER (WHERE status = 'completed'),
		        COUNT(*) FILTER (WHERE status = 'failed')
		 FROM work_items WHERE task_id = $1`, c.TaskID,
	).Scan(&counts.Pending, &counts.Processing, &counts.Completed, &counts.Failed)
	if err != nil {
		return counts, fmt.Errorf("count work items: %w", err)
	}

	progress := models.Progress(counts.Completed+counts.Failed, counts.Total())
	if _, err := tx.Exec(ctx,
		`UPDATE tasks SET total_items = $2, processed_items = $3, failed_items = $4, progress = $5, updated_at = NOW()
		 WHERE id = $1`, c.TaskID, counts.Total(), counts.Completed, counts.Failed, progress); err != nil {
		return counts, fmt.Errorf("update task counters: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return counts, fmt.Errorf("commit batch: %w", err)
	}
	return counts, nil
}

// --- Usage ledger ---

func (s *PostgresStore) CountUsageSince(ctx context.Context, tenantID uuid.UUID, since time.Time) (Usage, error) {
	var u Usage
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(item_count), 0) FROM usage_ledger
		 WHERE tenant_id = $1 AND created_at >= $2`, tenantID, since,
	).Scan(&u.Calls, &u.Items)
	if err != nil {
		return u, fmt.Errorf("count usage: %w", err)
	}
	return u, nil
}
