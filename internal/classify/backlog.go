package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/valuecalc/internal/store"
	"github.com/kiranshivaraju/valuecalc/pkg/models"
)

// ErrEmptyBacklog means the task's filter matched no candidate items.
var ErrEmptyBacklog = errors.New("filter matched no items to classify")

// BacklogStore is what the builder reads and writes.
type BacklogStore interface {
	GetBacklogByTask(ctx context.Context, taskID uuid.UUID) (*models.Backlog, error)
	ListCandidateItems(ctx context.Context, tenantID uuid.UUID, filter models.ItemFilter) ([]*models.CandidateItem, error)
	CreateBacklog(ctx context.Context, backlog *models.Backlog, items []*models.CandidateItem) (int, error)
	ListWorkItems(ctx context.Context, taskID uuid.UUID, statuses ...models.WorkItemStatus) ([]*models.WorkItem, error)
}

// BacklogBuilder creates a task's work items once and hands out the
// unfinished ones on every later call.
type BacklogBuilder struct {
	store  BacklogStore
	logger *slog.Logger
}

func NewBacklogBuilder(st BacklogStore, logger *slog.Logger) *BacklogBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &BacklogBuilder{store: st, logger: logger}
}

// BuildOrReuse returns the pending and failed work items of t, creating the
// backlog from t's filter first if the task has none yet.
func (b *BacklogBuilder) BuildOrReuse(ctx context.Context, t *models.Task) ([]*models.WorkItem, error) {
	_, err := b.store.GetBacklogByTask(ctx, t.ID)
	switch {
	case err == nil:
		return b.remaining(ctx, t.ID)
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("load backlog: %w", err)
	}

	candidates, err := b.store.ListCandidateItems(ctx, t.TenantID, t.Filter)
	if err != nil {
		return nil, fmt.Errorf("resolve filter: %w", err)
	}
	if len(candidates) == 0 {
		return nil, ErrEmptyBacklog
	}

	backlog := &models.Backlog{
		ID:        uuid.New(),
		TaskID:    t.ID,
		TenantID:  t.TenantID,
		CreatedAt: time.Now().UTC(),
	}
	inserted, err := b.store.CreateBacklog(ctx, backlog, candidates)
	if err != nil {
		return nil, fmt.Errorf("create backlog: %w", err)
	}
	b.logger.InfoContext(ctx, "backlog created", "backlog_id", backlog.ID, "items", inserted)

	items, err := b.remaining(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	t.TotalItems = len(items)
	return items, nil
}

func (b *BacklogBuilder) remaining(ctx context.Context, taskID uuid.UUID) ([]*models.WorkItem, error) {
	items, err := b.store.ListWorkItems(ctx, taskID, models.WorkItemPending, models.WorkItemFailed)
	if err != nil {
		return nil, fmt.Errorf("list work items: %w", err)
	}
	return items, nil
}
