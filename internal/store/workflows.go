package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kiranshivaraju/valuecalc/pkg/models"
)

// --- Workflows ---

func (s *PostgresStore) GetWorkflow(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Workflow, error) {
	var w models.Workflow
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, name, description, created_at, updated_at
		 FROM workflows WHERE id = $1 AND tenant_id = $2`, id, tenantID,
	).Scan(&w.ID, &w.TenantID, &w.Name, &w.Description, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return &w, nil
}

// ListEnabledSteps returns the enabled steps of a workflow in execution order.
func (s *PostgresStore) ListEnabledSteps(ctx context.Context, workflowID uuid.UUID) ([]*models.WorkflowStep, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, workflow_id, name, sort_order, enabled, code_kind, code, data_source_id, created_at, updated_at
		 FROM workflow_steps WHERE workflow_id = $1 AND enabled
		 ORDER BY sort_order, created_at, id`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list workflow steps: %w", err)
	}
	defer rows.Close()

	var steps []*models.WorkflowStep
	for rows.Next() {
		var st models.WorkflowStep
		if err := rows.Scan(&st.ID, &st.WorkflowID, &st.Name, &st.SortOrder, &st.Enabled,
			&st.CodeKind, &st.Code, &st.DataSourceID, &st.CreatedAt, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan workflow step: %w", err)
		}
		steps = append(steps, &st)
	}
	return steps, rows.Err()
}

func (s *PostgresStore) GetDataSource(ctx context.Context, id uuid.UUID) (*models.DataSource, error) {
	var ds models.DataSource
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, name, driver, dsn, max_conns, created_at, updated_at
		 FROM data_sources WHERE id = $1`, id,
	).Scan(&ds.ID, &ds.TenantID, &ds.Name, &ds.Driver, &ds.DSN, &ds.MaxConns, &ds.CreatedAt, &ds.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get data source: %w", err)
	}
	return &ds, nil
}

// ListUnits returns the active units among ids, ordered by code.
func (s *PostgresStore) ListUnits(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]*models.Unit, error) {
	if len(ids) == 0 {
		return []*models.Unit{}, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, code, name, active FROM units
		 WHERE tenant_id = $1 AND id = ANY($2) AND active ORDER BY code`, tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	defer rows.Close()

	var units []*models.Unit
	for rows.Next() {
		var u models.Unit
		if err := rows.Scan(&u.ID, &u.TenantID, &u.Code, &u.Name, &u.Active); err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		units = append(units, &u)
	}
	return units, rows.Err()
}
