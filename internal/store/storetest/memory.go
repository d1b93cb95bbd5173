// Package storetest provides an in-memory store.Store for tests of the
// packages that sit on top of the store.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/valuecalc/internal/store"
	"github.com/kiranshivaraju/valuecalc/pkg/models"
)

// Memory is a goroutine-safe, map-backed store.Store. It follows the same
// transition, idempotence and counting rules as the Postgres store.
//
// The Err fields inject failures into the matching method.
type Memory struct {
	mu sync.Mutex

	tenants    map[uuid.UUID]*models.Tenant
	apiKeys    map[uuid.UUID]*models.APIKey
	tasks      map[uuid.UUID]*models.Task
	workflows  map[uuid.UUID]*models.Workflow
	steps      map[uuid.UUID]*models.WorkflowStep
	sources    map[uuid.UUID]*models.DataSource
	units      map[uuid.UUID]*models.Unit
	stepLogs   []*models.StepExecutionLog
	modules    map[uuid.UUID]*models.PromptModule
	dimensions []models.Dimension
	candidates map[uuid.UUID]*models.CandidateItem
	backlogs   map[uuid.UUID]*models.Backlog
	workItems  map[uuid.UUID]*models.WorkItem
	ledger     []*models.UsageLedgerEntry

	ErrInsertStepLog error
	ErrCommitBatch   error
	ErrCreateBacklog error
	ErrUpdateStatus  error
}

func New() *Memory {
	return &Memory{
		tenants:    make(map[uuid.UUID]*models.Tenant),
		apiKeys:    make(map[uuid.UUID]*models.APIKey),
		tasks:      make(map[uuid.UUID]*models.Task),
		workflows:  make(map[uuid.UUID]*models.Workflow),
		steps:      make(map[uuid.UUID]*models.WorkflowStep),
		sources:    make(map[uuid.UUID]*models.DataSource),
		units:      make(map[uuid.UUID]*models.Unit),
		modules:    make(map[uuid.UUID]*models.PromptModule),
		candidates: make(map[uuid.UUID]*models.CandidateItem),
		backlogs:   make(map[uuid.UUID]*models.Backlog),
		workItems:  make(map[uuid.UUID]*models.WorkItem),
	}
}

var _ store.Store = (*Memory)(nil)

// --- Seeding ---

func (m *Memory) AddTenant(t *models.Tenant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[t.ID] = t
}

func (m *Memory) AddWorkflow(w *models.Workflow, steps ...*models.WorkflowStep) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflows[w.ID] = w
	for _, s := range steps {
		s.WorkflowID = w.ID
		m.steps[s.ID] = s
	}
}

func (m *Memory) AddDataSource(ds *models.DataSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[ds.ID] = ds
}

func (m *Memory) AddUnits(units ...*models.Unit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range units {
		m.units[u.ID] = u
	}
}

func (m *Memory) AddPromptModule(p *models.PromptModule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modules[p.ID] = p
}

func (m *Memory) AddDimensions(ds ...models.Dimension) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dimensions = append(m.dimensions, ds...)
}

func (m *Memory) AddCandidates(items ...*models.CandidateItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range items {
		m.candidates[it.ID] = it
	}
}

// AddUsage appends ledger rows, e.g. to simulate calls made earlier today.
func (m *Memory) AddUsage(entries ...*models.UsageLedgerEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledger = append(m.ledger, entries...)
}

// --- Inspection ---

// Task returns a copy of the stored task.
func (m *Memory) Task(id uuid.UUID) *models.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil
	}
	cp := *t
	return &cp
}

func (m *Memory) StepLogs() []*models.StepExecutionLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.StepExecutionLog, len(m.stepLogs))
	copy(out, m.stepLogs)
	return out
}

func (m *Memory) Ledger() []*models.UsageLedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.UsageLedgerEntry, len(m.ledger))
	copy(out, m.ledger)
	return out
}

func (m *Memory) Candidate(id uuid.UUID) *models.CandidateItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.candidates[id]
	if !ok {
		return nil
	}
	cp := *c
	return &cp
}

// SetWorkItemStatus forces a work item's status, e.g. to simulate a crash mid-batch.
func (m *Memory) SetWorkItemStatus(taskID, itemID uuid.UUID, status models.WorkItemStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.workItems {
		if w.TaskID == taskID && w.ItemID == itemID {
			w.Status = status
		}
	}
}

// ForceTaskStatus sets a task's status without transition checks.
func (m *Memory) ForceTaskStatus(id uuid.UUID, status models.TaskStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[id]; ok {
		t.Status = status
	}
}

// --- store.Store ---

func (m *Memory) Ping(_ context.Context) error { return nil }

func (m *Memory) GetDefaultTenant(_ context.Context) (*models.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tenants {
		if t.Name == "default" {
			return t, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *Memory) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.APIKey
	for _, k := range m.apiKeys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if k, ok := m.apiKeys[id]; ok {
		now := time.Now().UTC()
		k.LastUsedAt = &now
	}
	return nil
}

func (m *Memory) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.apiKeys[key.ID]; ok {
		return store.ErrDuplicateKey
	}
	for _, k := range m.apiKeys {
		if k.TenantID == key.TenantID && k.Name == key.Name && k.DeletedAt == nil {
			return store.ErrDuplicateKey
		}
	}
	m.apiKeys[key.ID] = key
	return nil
}

func (m *Memory) ListAPIKeys(_ context.Context, tenantID uuid.UUID) ([]*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.APIKey
	for _, k := range m.apiKeys {
		if k.TenantID == tenantID && k.DeletedAt == nil {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) RevokeAPIKey(_ context.Context, id uuid.UUID, tenantID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.apiKeys[id]
	if !ok || k.TenantID != tenantID || k.DeletedAt != nil {
		return store.ErrNotFound
	}
	now := time.Now().UTC()
	k.DeletedAt = &now
	return nil
}

func (m *Memory) CreateTask(_ context.Context, task *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[task.ID]; ok {
		return store.ErrDuplicateKey
	}
	cp := *task
	m.tasks[task.ID] = &cp
	return nil
}

func (m *Memory) GetTask(_ context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) GetTaskByID(_ context.Context, id uuid.UUID) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) ListTasksByStatus(_ context.Context, kind models.TaskKind, status models.TaskStatus, limit int) ([]*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Task
	for _, t := range m.tasks {
		if t.Kind == kind && t.Status == status {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) UpdateTaskStatus(_ context.Context, id uuid.UUID, status models.TaskStatus, opts ...store.TaskUpdateOption) (*models.Task, error) {
	if m.ErrUpdateStatus != nil {
		return nil, m.ErrUpdateStatus
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !models.CanTransition(t.Status, status) {
		return nil, fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, t.Status, status)
	}

	now := time.Now().UTC()
	t.Status = status
	t.UpdatedAt = now
	switch status {
	case models.TaskStatusRunning, models.TaskStatusProcessing:
		if t.StartedAt == nil {
			t.StartedAt = &now
		}
		t.CompletedAt = nil
	case models.TaskStatusCompleted:
		t.CompletedAt = &now
		t.Progress = 100
	case models.TaskStatusFailed:
		t.CompletedAt = &now
	}
	if msg, set := store.ApplyTaskUpdateOptions(opts...); set {
		t.ErrorMessage = msg
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) UpdateTaskProgress(_ context.Context, id uuid.UUID, progress float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return store.ErrNotFound
	}
	t.Progress = progress
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) GetWorkflow(_ context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workflows[id]
	if !ok || w.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	return w, nil
}

func (m *Memory) ListEnabledSteps(_ context.Context, workflowID uuid.UUID) ([]*models.WorkflowStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.WorkflowStep
	for _, s := range m.steps {
		if s.WorkflowID == workflowID && s.Enabled {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (m *Memory) GetDataSource(_ context.Context, id uuid.UUID) (*models.DataSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ds, ok := m.sources[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return ds, nil
}

func (m *Memory) ListUnits(_ context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]*models.Unit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.Unit{}
	for _, id := range ids {
		if u, ok := m.units[id]; ok && u.TenantID == tenantID && u.Active {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *Memory) InsertStepLog(_ context.Context, l *models.StepExecutionLog) error {
	if m.ErrInsertStepLog != nil {
		return m.ErrInsertStepLog
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *l
	m.stepLogs = append(m.stepLogs, &cp)
	return nil
}

func (m *Memory) ListStepLogs(_ context.Context, taskID uuid.UUID) ([]*models.StepExecutionLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.StepExecutionLog
	for _, l := range m.stepLogs {
		if l.TaskID == taskID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *Memory) GetPromptModule(_ context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.PromptModule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.modules[id]
	if !ok || p.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	return p, nil
}

func (m *Memory) ListDimensions(_ context.Context, modelVersionID uuid.UUID) ([]models.Dimension, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Dimension
	for _, d := range m.dimensions {
		if d.ModelVersionID == modelVersionID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *Memory) ListCandidateItems(_ context.Context, tenantID uuid.UUID, f models.ItemFilter) ([]*models.CandidateItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.CandidateItem
	for _, c := range m.candidates {
		if c.TenantID != tenantID {
			continue
		}
		if len(f.Categories) > 0 && !containsString(f.Categories, c.Category) {
			continue
		}
		if f.NameContains != "" && !strings.Contains(strings.ToLower(c.Name), strings.ToLower(f.NameContains)) {
			continue
		}
		if len(f.ItemIDs) > 0 && !containsID(f.ItemIDs, c.ID) {
			continue
		}
		if f.UnclassifiedOnly && c.DimensionID != nil {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *Memory) GetBacklogByTask(_ context.Context, taskID uuid.UUID) (*models.Backlog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.backlogs {
		if b.TaskID == taskID {
			return b, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *Memory) CreateBacklog(_ context.Context, backlog *models.Backlog, items []*models.CandidateItem) (int, error) {
	if m.ErrCreateBacklog != nil {
		return 0, m.ErrCreateBacklog
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, b := range m.backlogs {
		if b.TaskID == backlog.TaskID {
			backlog.ID = b.ID
			backlog.CreatedAt = b.CreatedAt
		}
	}
	m.backlogs[backlog.ID] = backlog

	existing := make(map[uuid.UUID]bool)
	for _, w := range m.workItems {
		if w.TaskID == backlog.TaskID {
			existing[w.ItemID] = true
		}
	}

	now := time.Now().UTC()
	inserted := 0
	for _, it := range items {
		if existing[it.ID] {
			continue
		}
		existing[it.ID] = true
		w := &models.WorkItem{
			ID:        uuid.New(),
			BacklogID: backlog.ID,
			TaskID:    backlog.TaskID,
			ItemID:    it.ID,
			ItemCode:  it.Code,
			ItemName:  it.Name,
			Status:    models.WorkItemPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		m.workItems[w.ID] = w
		inserted++
	}

	if t, ok := m.tasks[backlog.TaskID]; ok {
		t.TotalItems = len(existing)
	}
	return inserted, nil
}

func (m *Memory) ListWorkItems(_ context.Context, taskID uuid.UUID, statuses ...models.WorkItemStatus) ([]*models.WorkItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.WorkItem
	for _, w := range m.workItems {
		if w.TaskID != taskID {
			continue
		}
		if len(statuses) > 0 && !containsStatus(statuses, w.Status) {
			continue
		}
		cp := *w
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ItemCode != out[j].ItemCode {
			return out[i].ItemCode < out[j].ItemCode
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (m *Memory) MarkWorkItemsProcessing(_ context.Context, ids []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		w, ok := m.workItems[id]
		if !ok || (w.Status != models.WorkItemPending && w.Status != models.WorkItemFailed) {
			continue
		}
		w.Status = models.WorkItemProcessing
		w.Attempts++
		w.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (m *Memory) ResetProcessingWorkItems(_ context.Context, taskID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, w := range m.workItems {
		if w.TaskID == taskID && w.Status == models.WorkItemProcessing {
			w.Status = models.WorkItemPending
			n++
		}
	}
	return n, nil
}

func (m *Memory) CommitBatch(_ context.Context, c store.BatchCommit) (models.WorkItemCounts, error) {
	var counts models.WorkItemCounts
	if m.ErrCommitBatch != nil {
		return counts, m.ErrCommitBatch
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	byItem := make(map[uuid.UUID]*models.WorkItem)
	for _, w := range m.workItems {
		if w.TaskID == c.TaskID {
			byItem[w.ItemID] = w
		}
	}
	for _, o := range c.Outcomes {
		w, ok := byItem[o.ItemID]
		if !ok || w.Status == models.WorkItemCompleted {
			continue
		}
		w.Status = o.Status
		w.DimensionID = o.DimensionID
		w.Confidence = o.Confidence
		w.Reason = o.Reason
		w.LastError = o.Error
		w.UpdatedAt = time.Now().UTC()
		if o.Status == models.WorkItemCompleted && o.DimensionID != nil {
			if cand, ok := m.candidates[o.ItemID]; ok {
				dim := *o.DimensionID
				cand.DimensionID = &dim
			}
		}
	}
	if c.Usage != nil {
		u := *c.Usage
		m.ledger = append(m.ledger, &u)
	}

	for _, w := range byItem {
		switch w.Status {
		case models.WorkItemPending:
			counts.Pending++
		case models.WorkItemProcessing:
			counts.Processing++
		case models.WorkItemCompleted:
			counts.Completed++
		case models.WorkItemFailed:
			counts.Failed++
		}
	}
	if t, ok := m.tasks[c.TaskID]; ok {
		t.TotalItems = counts.Total()
		t.ProcessedItems = counts.Completed
		t.FailedItems = counts.Failed
		t.Progress = models.Progress(counts.Completed+counts.Failed, counts.Total())
		t.UpdatedAt = time.Now().UTC()
	}
	return counts, nil
}

func (m *Memory) CountUsageSince(_ context.Context, tenantID uuid.UUID, since time.Time) (store.Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var u store.Usage
	for _, e := range m.ledger {
		if e.TenantID == tenantID && !e.CreatedAt.Before(since) {
			u.Calls++
			u.Items += e.ItemCount
		}
	}
	return u, nil
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func containsStatus(ss []models.WorkItemStatus, s models.WorkItemStatus) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
