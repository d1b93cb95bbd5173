// Package tasks creates tasks on behalf of API callers, queues their jobs and
// serves their progress.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/valuecalc/internal/jobs"
	"github.com/kiranshivaraju/valuecalc/internal/template"
	"github.com/kiranshivaraju/valuecalc/pkg/models"
)

const maxNameLen = 200

var ErrQueueUnavailable = errors.New("task could not be queued")

// ValidationError lists the problems found in a request.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + e.Fields[k]
	}
	return "invalid task request: " + strings.Join(parts, "; ")
}

type Store interface {
	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Task, error)
	ListStepLogs(ctx context.Context, taskID uuid.UUID) ([]*models.StepExecutionLog, error)
	ListWorkItems(ctx context.Context, taskID uuid.UUID, statuses ...models.WorkItemStatus) ([]*models.WorkItem, error)
}

type SnapshotCache interface {
	GetTaskSnapshot(ctx context.Context, id uuid.UUID) (*models.TaskSnapshot, bool, error)
}

type Submitter interface {
	Submit(kind models.TaskKind, taskID, tenantID uuid.UUID, params map[string]string) (*jobs.Handle, error)
}

type Continuer interface {
	Continue(ctx context.Context, tenantID, taskID uuid.UUID) (*models.Task, error)
}

// Lifecycle records what happens to a task the dispatcher refused.
type Lifecycle interface {
	Fail(ctx context.Context, id uuid.UUID, msg string) (*models.Task, error)
	Pause(ctx context.Context, id uuid.UUID, msg string) (*models.Task, error)
	Publish(ctx context.Context, t *models.Task)
}

type CalculationRequest struct {
	Name       string      `json:"name"`
	WorkflowID uuid.UUID   `json:"workflow_id"`
	Period     string      `json:"period"`
	UnitIDs    []uuid.UUID `json:"unit_ids"`
	AllUnits   bool        `json:"all_units"`
}

type ClassificationRequest struct {
	Name           string            `json:"name"`
	ModelVersionID uuid.UUID         `json:"model_version_id"`
	PromptModuleID *uuid.UUID        `json:"prompt_module_id,omitempty"`
	Filter         models.ItemFilter `json:"filter"`
}

type Service struct {
	store     Store
	cache     SnapshotCache
	submitter Submitter
	continuer Continuer
	lifecycle Lifecycle
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a Service. cache may be nil.
func NewService(st Store, cache SnapshotCache, sub Submitter, cont Continuer, lc Lifecycle, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     st,
		cache:     cache,
		submitter: sub,
		continuer: cont,
		lifecycle: lc,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateCalculation stores a pending calculation task and queues it.
func (s *Service) CreateCalculation(ctx context.Context, tenantID uuid.UUID, req CalculationRequest) (*models.Task, error) {
	fields := map[string]string{}
	checkName(fields, req.Name)
	if req.WorkflowID == uuid.Nil {
		fields["workflow_id"] = "is required"
	}
	if req.Period == "" {
		fields["period"] = "is required"
	} else if _, err := template.ParsePeriod(req.Period); err != nil {
		fields["period"] = "must be YYYY-MM or YYYYMM"
	}
	if req.AllUnits && len(req.UnitIDs) > 0 {
		fields["unit_ids"] = "must be empty when all_units is set"
	}
	if !req.AllUnits && len(req.UnitIDs) == 0 {
		fields["unit_ids"] = "is required unless all_units is set"
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	wf := req.WorkflowID
	t := s.newTask(tenantID, models.TaskKindCalculation, req.Name)
	t.WorkflowID = &wf
	t.Period = req.Period
	t.AllUnits = req.AllUnits
	t.UnitIDs = req.UnitIDs
	return s.createAndQueue(ctx, t)
}

// CreateClassification stores a pending classification task and queues it.
func (s *Service) CreateClassification(ctx context.Context, tenantID uuid.UUID, req ClassificationRequest) (*models.Task, error) {
	fields := map[string]string{}
	checkName(fields, req.Name)
	if req.ModelVersionID == uuid.Nil {
		fields["model_version_id"] = "is required"
	}
	if req.PromptModuleID != nil && *req.PromptModuleID == uuid.Nil {
		fields["prompt_module_id"] = "must be a valid id when present"
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	mv := req.ModelVersionID
	t := s.newTask(tenantID, models.TaskKindClassification, req.Name)
	t.ModelVersionID = &mv
	t.PromptModuleID = req.PromptModuleID
	t.Filter = req.Filter
	return s.createAndQueue(ctx, t)
}

func checkName(fields map[string]string, name string) {
	switch n := strings.TrimSpace(name); {
	case n == "":
		fields["name"] = "is required"
	case len(n) > maxNameLen:
		fields["name"] = fmt.Sprintf("must be at most %d characters", maxNameLen)
	}
}

func (s *Service) newTask(tenantID uuid.UUID, kind models.TaskKind, name string) *models.Task {
	now := s.now()
	return &models.Task{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Kind:      kind,
		Name:      strings.TrimSpace(name),
		Status:    models.TaskStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *Service) createAndQueue(ctx context.Context, t *models.Task) (*models.Task, error) {
	if err := s.store.CreateTask(ctx, t); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	s.lifecycle.Publish(ctx, t)

	if _, err := s.submitter.Submit(t.Kind, t.ID, t.TenantID, map[string]string{"trigger": "api"}); err != nil {
		msg := "could not queue job: " + err.Error()
		s.logger.WarnContext(ctx, "task not queued", "task_id", t.ID, "error", err)
		if failed, ferr := s.lifecycle.Fail(ctx, t.ID, msg); ferr == nil {
			*t = *failed
		}
		return t, fmt.Errorf("%w: %w", ErrQueueUnavailable, err)
	}
	s.logger.InfoContext(ctx, "task queued", "task_id", t.ID, "kind", t.Kind)
	return t, nil
}

func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (*models.Task, error) {
	return s.store.GetTask(ctx, id, tenantID)
}

// Status returns the poll view of a task, preferring the cached snapshot.
func (s *Service) Status(ctx context.Context, tenantID, id uuid.UUID) (*models.TaskSnapshot, error) {
	if s.cache != nil {
		snap, ok, err := s.cache.GetTaskSnapshot(ctx, id)
		if err != nil {
			s.logger.WarnContext(ctx, "task snapshot cache read failed", "task_id", id, "error", err)
		}
		if ok && snap.TenantID == tenantID {
			return snap, nil
		}
	}
	t, err := s.store.GetTask(ctx, id, tenantID)
	if err != nil {
		return nil, err
	}
	snap := t.Snapshot()
	return &snap, nil
}

func (s *Service) StepLogs(ctx context.Context, tenantID, id uuid.UUID) ([]*models.StepExecutionLog, error) {
	if _, err := s.store.GetTask(ctx, id, tenantID); err != nil {
		return nil, err
	}
	return s.store.ListStepLogs(ctx, id)
}

func (s *Service) WorkItems(ctx context.Context, tenantID, id uuid.UUID, statuses ...models.WorkItemStatus) ([]*models.WorkItem, error) {
	if _, err := s.store.GetTask(ctx, id, tenantID); err != nil {
		return nil, err
	}
	return s.store.ListWorkItems(ctx, id, statuses...)
}

// Continue moves a failed or paused classification task back to processing
// and queues it. If the queue refuses, the task is paused again so it stays
// continuable.
func (s *Service) Continue(ctx context.Context, tenantID, id uuid.UUID) (*models.Task, error) {
	t, err := s.continuer.Continue(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.submitter.Submit(t.Kind, t.ID, t.TenantID, map[string]string{"trigger": "continue"}); err != nil {
		s.logger.WarnContext(ctx, "continued task not queued", "task_id", t.ID, "error", err)
		if paused, perr := s.lifecycle.Pause(ctx, t.ID, "could not queue job: "+err.Error()); perr == nil {
			*t = *paused
		}
		return t, fmt.Errorf("%w: %w", ErrQueueUnavailable, err)
	}
	s.logger.InfoContext(ctx, "task continued", "task_id", t.ID)
	return t, nil
}
