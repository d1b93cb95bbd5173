package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/valuecalc/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")
var ErrInvalidTransition = errors.New("invalid task status transition")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error
	GetDefaultTenant(ctx context.Context) (*models.Tenant, error)

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error

	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Task, error)
	GetTaskByID(ctx context.Context, id uuid.UUID) (*models.Task, error)
	ListTasksByStatus(ctx context.Context, kind models.TaskKind, status models.TaskStatus, limit int) ([]*models.Task, error)
	UpdateTaskStatus(ctx context.Context, id uuid.UUID, status models.TaskStatus, opts ...TaskUpdateOption) (*models.Task, error)
	UpdateTaskProgress(ctx context.Context, id uuid.UUID, progress float64) error

	GetWorkflow(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Workflow, error)
	ListEnabledSteps(ctx context.Context, workflowID uuid.UUID) ([]*models.WorkflowStep, error)
	GetDataSource(ctx context.Context, id uuid.UUID) (*models.DataSource, error)
	ListUnits(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]*models.Unit, error)

	InsertStepLog(ctx context.Context, log *models.StepExecutionLog) error
	ListStepLogs(ctx context.Context, taskID uuid.UUID) ([]*models.StepExecutionLog, error)

	GetPromptModule(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.PromptModule, error)
	ListDimensions(ctx context.Context, modelVersionID uuid.UUID) ([]models.Dimension, error)
	ListCandidateItems(ctx context.Context, tenantID uuid.UUID, filter models.ItemFilter) ([]*models.CandidateItem, error)

	GetBacklogByTask(ctx context.Context, taskID uuid.UUID) (*models.Backlog, error)
	CreateBacklog(ctx context.Context, backlog *models.Backlog, items []*models.CandidateItem) (int, error)
	ListWorkItems(ctx context.Context, taskID uuid.UUID, statuses ...models.WorkItemStatus) ([]*models.WorkItem, error)
	MarkWorkItemsProcessing(ctx context.Context, ids []uuid.UUID) error
	ResetProcessingWorkItems(ctx context.Context, taskID uuid.UUID) (int64, error)
	CommitBatch(ctx context.Context, commit BatchCommit) (models.WorkItemCounts, error)
	CountUsageSince(ctx context.Context, tenantID uuid.UUID, since time.Time) (Usage, error)
}

// BatchCommit is everything recorded at the end of one classification batch.
// It is applied atomically.
type BatchCommit struct {
	TaskID   uuid.UUID
	Outcomes []models.WorkItemOutcome
	Usage    *models.UsageLedgerEntry
}

// Usage aggregates ledger rows in a window.
type Usage struct {
	Calls int
	Items int
}

type taskUpdateParams struct {
	ErrorMessage *string
	ClearError   bool
}

type TaskUpdateOption func(*taskUpdateParams)

func WithErrorMessage(msg string) TaskUpdateOption {
	return func(p *taskUpdateParams) {
		p.ErrorMessage = &msg
	}
}

// WithClearedError removes any previous error message.
func WithClearedError() TaskUpdateOption {
	return func(p *taskUpdateParams) {
		p.ClearError = true
	}
}

// ApplyTaskUpdateOptions resolves opts into the message to store. The bool is
// false when the stored message should be left unchanged.
func ApplyTaskUpdateOptions(opts ...TaskUpdateOption) (*string, bool) {
	p := &taskUpdateParams{}
	for _, opt := range opts {
		opt(p)
	}
	if p.ErrorMessage != nil {
		return p.ErrorMessage, true
	}
	if p.ClearError {
		return nil, true
	}
	return nil, false
}
