package classify_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/valuecalc/internal/ai/llm"
	"github.com/kiranshivaraju/valuecalc/internal/ai/mock"
	"github.com/kiranshivaraju/valuecalc/internal/classify"
	"github.com/kiranshivaraju/valuecalc/internal/config"
	"github.com/kiranshivaraju/valuecalc/internal/store/storetest"
	"github.com/kiranshivaraju/valuecalc/internal/task"
	"github.com/kiranshivaraju/valuecalc/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	st             *storetest.Memory
	tracker        *task.Tracker
	tenantID       uuid.UUID
	modelVersionID uuid.UUID
	moduleID       uuid.UUID
	dims           []models.Dimension
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		st:             storetest.New(),
		tenantID:       uuid.New(),
		modelVersionID: uuid.New(),
		moduleID:       uuid.New(),
	}
	h.tracker = task.NewTracker(h.st, nil, time.Minute, nil)
	h.st.AddPromptModule(&models.PromptModule{
		ID: h.moduleID, TenantID: h.tenantID, Name: "default", SystemPrompt: "classify charges",
		ModelName: "llama3", Temperature: 0.1,
	})
	for i, name := range []string{"Nursing", "Imaging"} {
		h.dims = append(h.dims, models.Dimension{
			ID: uuid.New(), ModelVersionID: h.modelVersionID, Code: fmt.Sprintf("D%d", i+1), Name: name,
		})
	}
	h.st.AddDimensions(h.dims...)
	return h
}

func (h *harness) candidates(n int) []*models.CandidateItem {
	items := make([]*models.CandidateItem, n)
	for i := range items {
		items[i] = &models.CandidateItem{
			ID: uuid.New(), TenantID: h.tenantID, Code: fmt.Sprintf("C%03d", i+1),
			Name: fmt.Sprintf("Charge %d", i+1), Category: "lab",
		}
	}
	h.st.AddCandidates(items...)
	return items
}

func (h *harness) task(t *testing.T) *models.Task {
	t.Helper()
	now := time.Now().UTC()
	tk := &models.Task{
		ID: uuid.New(), TenantID: h.tenantID, Kind: models.TaskKindClassification, Name: "classify",
		ModelVersionID: &h.modelVersionID, PromptModuleID: &h.moduleID,
		Filter: models.ItemFilter{Categories: []string{"lab"}},
		Status: models.TaskStatusPending, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, h.st.CreateTask(context.Background(), tk))
	return tk
}

func (h *harness) engine(c models.Classifier, s classify.Settings) *classify.Engine {
	return classify.NewEngine(h.st, c, h.tracker, s, nil)
}

func settings(batch, quota int) classify.Settings {
	return classify.Settings{BatchSize: batch, MaxRetries: 2, DailyQuota: quota, QuotaMode: config.QuotaModeItems}
}

func (h *harness) items(t *testing.T, taskID uuid.UUID, statuses ...models.WorkItemStatus) []*models.WorkItem {
	t.Helper()
	items, err := h.st.ListWorkItems(context.Background(), taskID, statuses...)
	require.NoError(t, err)
	return items
}

func TestRun_ClassifiesWholeBacklog(t *testing.T) {
	h := newHarness(t)
	h.candidates(25)
	tk := h.task(t)
	provider := mock.NewMockProvider()

	require.NoError(t, h.engine(provider, settings(10, 0)).Run(context.Background(), tk))

	got := h.st.Task(tk.ID)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)
	assert.Equal(t, 25, got.TotalItems)
	assert.Equal(t, 25, got.ProcessedItems)
	assert.Equal(t, 0, got.FailedItems)
	assert.Equal(t, 100.0, got.Progress)
	assert.Equal(t, got.TotalItems, got.ProcessedItems+got.FailedItems)

	reqs := provider.Requests()
	require.Len(t, reqs, 3)
	assert.Len(t, reqs[0].Items, 10)
	assert.Len(t, reqs[2].Items, 5)
	assert.Equal(t, "llama3", reqs[0].Model)
	assert.Equal(t, "classify charges", reqs[0].SystemPrompt)
	assert.Len(t, reqs[0].Dimensions, 2)

	ledger := h.st.Ledger()
	require.Len(t, ledger, 3)
	for _, e := range ledger {
		assert.True(t, e.Success)
		assert.Equal(t, "mock", e.Provider)
	}
	for _, it := range h.items(t, tk.ID) {
		require.NotNil(t, it.DimensionID)
		assert.Equal(t, h.dims[0].ID, *it.DimensionID)
		assert.Equal(t, 1, it.Attempts)
	}
}

func TestRun_QuotaPausesBeforeDispatch(t *testing.T) {
	h := newHarness(t)
	h.candidates(25)
	tk := h.task(t)
	provider := mock.NewMockProvider()

	require.NoError(t, h.engine(provider, settings(10, 15)).Run(context.Background(), tk))

	got := h.st.Task(tk.ID)
	assert.Equal(t, models.TaskStatusPaused, got.Status)
	assert.Equal(t, 15, got.ProcessedItems)
	assert.Equal(t, 25, got.TotalItems)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "quota")

	reqs := provider.Requests()
	require.Len(t, reqs, 2)
	assert.Len(t, reqs[0].Items, 10)
	assert.Len(t, reqs[1].Items, 5)
	assert.Len(t, h.items(t, tk.ID, models.WorkItemPending), 10)
}

func TestRun_CallsQuotaMode(t *testing.T) {
	h := newHarness(t)
	h.candidates(25)
	tk := h.task(t)
	s := settings(10, 2)
	s.QuotaMode = config.QuotaModeCalls

	require.NoError(t, h.engine(mock.NewMockProvider(), s).Run(context.Background(), tk))

	got := h.st.Task(tk.ID)
	assert.Equal(t, models.TaskStatusPaused, got.Status)
	assert.Equal(t, 20, got.ProcessedItems)
	assert.Len(t, h.st.Ledger(), 2)
}

func TestRun_UsageOutsideWindowIgnored(t *testing.T) {
	h := newHarness(t)
	h.candidates(5)
	tk := h.task(t)
	h.st.AddUsage(&models.UsageLedgerEntry{
		ID: uuid.New(), TenantID: h.tenantID, ItemCount: 100, CreatedAt: time.Now().UTC().Add(-25 * time.Hour),
	})

	require.NoError(t, h.engine(mock.NewMockProvider(), settings(10, 10)).Run(context.Background(), tk))
	assert.Equal(t, models.TaskStatusCompleted, h.st.Task(tk.ID).Status)
}

func TestRun_EmptyBacklogFailsTask(t *testing.T) {
	h := newHarness(t)
	tk := h.task(t)

	err := h.engine(mock.NewMockProvider(), settings(10, 0)).Run(context.Background(), tk)
	require.ErrorIs(t, err, classify.ErrEmptyBacklog)

	got := h.st.Task(tk.ID)
	assert.Equal(t, models.TaskStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, classify.ErrEmptyBacklog.Error(), *got.ErrorMessage)
}

func TestRun_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(h *harness, tk *models.Task)
		want   error
	}{
		{"no model version", func(_ *harness, tk *models.Task) { tk.ModelVersionID = nil }, classify.ErrMissingModelVersion},
		{"unknown prompt module", func(_ *harness, tk *models.Task) { id := uuid.New(); tk.PromptModuleID = &id }, classify.ErrMissingPromptModule},
		{"no dimensions", func(_ *harness, tk *models.Task) { id := uuid.New(); tk.ModelVersionID = &id }, classify.ErrNoDimensions},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.candidates(3)
			tk := h.task(t)
			tt.mutate(h, tk)
			provider := mock.NewMockProvider()

			err := h.engine(provider, settings(10, 0)).Run(context.Background(), tk)
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, models.TaskStatusFailed, h.st.Task(tk.ID).Status)
			assert.Zero(t, provider.Calls())
		})
	}
}

func TestRun_WithoutPromptModuleUsesDefaults(t *testing.T) {
	h := newHarness(t)
	h.candidates(2)
	tk := h.task(t)
	tk.PromptModuleID = nil
	provider := mock.NewMockProvider()

	require.NoError(t, h.engine(provider, settings(10, 0)).Run(context.Background(), tk))
	require.Len(t, provider.Requests(), 1)
	assert.Empty(t, provider.Requests()[0].SystemPrompt)
}

func TestRun_BatchFailureIsIsolated(t *testing.T) {
	h := newHarness(t)
	h.candidates(25)
	tk := h.task(t)

	calls := 0
	provider := &mock.MockProvider{Name_: "mock"}
	provider.ClassifyFunc = func(_ context.Context, req models.ClassificationRequest) ([]models.ClassificationResult, error) {
		calls++
		if calls == 2 {
			return nil, llm.Validation("mock", errors.New("bad request"))
		}
		return mock.AssignFirst(req), nil
	}

	require.NoError(t, h.engine(provider, settings(10, 0)).Run(context.Background(), tk))

	got := h.st.Task(tk.ID)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)
	assert.Equal(t, 15, got.ProcessedItems)
	assert.Equal(t, 10, got.FailedItems)
	assert.Equal(t, got.TotalItems, got.ProcessedItems+got.FailedItems)
	assert.Equal(t, 3, provider.Calls(), "validation errors are not retried")

	failed := h.items(t, tk.ID, models.WorkItemFailed)
	require.Len(t, failed, 10)
	require.NotNil(t, failed[0].LastError)
	assert.Contains(t, *failed[0].LastError, "bad request")

	ledger := h.st.Ledger()
	require.Len(t, ledger, 3)
	assert.False(t, ledger[1].Success)
}

func TestRun_TransientErrorsRetried(t *testing.T) {
	h := newHarness(t)
	h.candidates(5)
	tk := h.task(t)
	provider := mock.NewFlakyProvider(2)

	require.NoError(t, h.engine(provider, settings(10, 0)).Run(context.Background(), tk))

	assert.Equal(t, 3, provider.Calls())
	got := h.st.Task(tk.ID)
	assert.Equal(t, 5, got.ProcessedItems)
	assert.Len(t, h.st.Ledger(), 1)
}

func TestRun_TransientRetriesExhausted(t *testing.T) {
	h := newHarness(t)
	h.candidates(5)
	tk := h.task(t)
	provider := mock.NewFlakyProvider(10)

	require.NoError(t, h.engine(provider, settings(10, 0)).Run(context.Background(), tk))

	assert.Equal(t, 3, provider.Calls())
	got := h.st.Task(tk.ID)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)
	assert.Equal(t, 5, got.FailedItems)
}

func TestRun_UnmatchedItemsFail(t *testing.T) {
	h := newHarness(t)
	cands := h.candidates(3)
	tk := h.task(t)

	provider := &mock.MockProvider{Name_: "mock"}
	provider.ClassifyFunc = func(_ context.Context, req models.ClassificationRequest) ([]models.ClassificationResult, error) {
		return []models.ClassificationResult{
			{ItemName: "  charge 1 ", DimensionID: h.dims[1].ID.String(), Confidence: 0.8},
			{ItemID: cands[1].ID.String(), ItemName: "renamed", DimensionID: "D1", Confidence: 0.7},
		}, nil
	}

	require.NoError(t, h.engine(provider, settings(10, 0)).Run(context.Background(), tk))

	items := h.items(t, tk.ID)
	require.Len(t, items, 3)
	assert.Equal(t, models.WorkItemCompleted, items[0].Status)
	assert.Equal(t, h.dims[1].ID, *items[0].DimensionID)
	assert.Equal(t, models.WorkItemCompleted, items[1].Status)
	assert.Equal(t, h.dims[0].ID, *items[1].DimensionID)
	assert.Equal(t, models.WorkItemFailed, items[2].Status)
	assert.Equal(t, "no result returned", *items[2].LastError)

	assert.Equal(t, h.dims[1].ID, *h.st.Candidate(cands[0].ID).DimensionID)
}

func TestRun_UnknownDimensionFails(t *testing.T) {
	h := newHarness(t)
	h.candidates(1)
	tk := h.task(t)

	provider := &mock.MockProvider{Name_: "mock"}
	provider.ClassifyFunc = func(_ context.Context, req models.ClassificationRequest) ([]models.ClassificationResult, error) {
		return []models.ClassificationResult{{ItemName: req.Items[0].Name, DimensionID: "surgery", Confidence: 1}}, nil
	}

	require.NoError(t, h.engine(provider, settings(10, 0)).Run(context.Background(), tk))

	items := h.items(t, tk.ID)
	require.Len(t, items, 1)
	assert.Equal(t, models.WorkItemFailed, items[0].Status)
	assert.Contains(t, *items[0].LastError, "unknown dimension")
}

func TestRun_StoreFailureFailsTask(t *testing.T) {
	h := newHarness(t)
	h.candidates(3)
	tk := h.task(t)
	h.st.ErrCommitBatch = errors.New("disk full")

	err := h.engine(mock.NewMockProvider(), settings(10, 0)).Run(context.Background(), tk)
	require.Error(t, err)

	got := h.st.Task(tk.ID)
	assert.Equal(t, models.TaskStatusFailed, got.Status)
	assert.Contains(t, *got.ErrorMessage, "disk full")
}

func TestRun_DeadlineMarksTimedOut(t *testing.T) {
	h := newHarness(t)
	h.candidates(3)
	tk := h.task(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := h.engine(mock.NewTimeoutProvider(), settings(10, 0)).Run(ctx, tk)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	got := h.st.Task(tk.ID)
	assert.Equal(t, models.TaskStatusFailed, got.Status)
	assert.Equal(t, task.TimedOutMessage, *got.ErrorMessage)
	assert.Len(t, h.items(t, tk.ID, models.WorkItemProcessing), 3)
	assert.Empty(t, h.st.Ledger())
}

func TestContinue_RejectsInvalidStates(t *testing.T) {
	h := newHarness(t)
	e := h.engine(mock.NewMockProvider(), settings(10, 0))

	for _, status := range []models.TaskStatus{models.TaskStatusPending, models.TaskStatusProcessing, models.TaskStatusCompleted} {
		t.Run(string(status), func(t *testing.T) {
			tk := h.task(t)
			h.st.ForceTaskStatus(tk.ID, status)
			_, err := e.Continue(context.Background(), h.tenantID, tk.ID)
			require.ErrorIs(t, err, classify.ErrInvalidState)
		})
	}

	t.Run("calculation task", func(t *testing.T) {
		tk := h.task(t)
		h.st.ForceTaskStatus(tk.ID, models.TaskStatusFailed)
		calc := h.st.Task(tk.ID)
		calc.Kind = models.TaskKindCalculation
		calc.ID = uuid.New()
		require.NoError(t, h.st.CreateTask(context.Background(), calc))
		_, err := e.Continue(context.Background(), h.tenantID, calc.ID)
		require.ErrorIs(t, err, classify.ErrInvalidState)
	})

	t.Run("other tenant", func(t *testing.T) {
		tk := h.task(t)
		h.st.ForceTaskStatus(tk.ID, models.TaskStatusFailed)
		_, err := e.Continue(context.Background(), uuid.New(), tk.ID)
		require.Error(t, err)
	})
}

func TestContinue_NothingLeftCompletes(t *testing.T) {
	h := newHarness(t)
	h.candidates(5)
	tk := h.task(t)
	provider := mock.NewMockProvider()
	e := h.engine(provider, settings(10, 0))
	require.NoError(t, e.Run(context.Background(), tk))
	h.st.ForceTaskStatus(tk.ID, models.TaskStatusFailed)

	resumed, err := e.Continue(context.Background(), h.tenantID, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusProcessing, resumed.Status)
	assert.Nil(t, resumed.ErrorMessage)

	require.NoError(t, e.Resume(context.Background(), resumed))

	got := h.st.Task(tk.ID)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)
	assert.Len(t, h.items(t, tk.ID), 5)
	assert.Equal(t, 1, provider.Calls())
	assert.Len(t, h.st.Ledger(), 1)
}

func TestContinue_ResumesAfterInterruption(t *testing.T) {
	h := newHarness(t)
	h.candidates(25)
	tk := h.task(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var mu sync.Mutex
	calls := 0
	provider := &mock.MockProvider{Name_: "mock"}
	provider.ClassifyFunc = func(ctx context.Context, req models.ClassificationRequest) ([]models.ClassificationResult, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 2 {
			cancel()
			return nil, llm.Fatal("mock", ctx.Err())
		}
		return mock.AssignFirst(req), nil
	}
	e := h.engine(provider, settings(10, 0))

	require.ErrorIs(t, e.Run(ctx, tk), context.Canceled)
	assert.Equal(t, models.TaskStatusFailed, h.st.Task(tk.ID).Status)

	first := h.items(t, tk.ID, models.WorkItemCompleted)
	require.Len(t, first, 10)
	assert.Len(t, h.items(t, tk.ID, models.WorkItemProcessing), 10)

	resumed, err := e.Continue(context.Background(), h.tenantID, tk.ID)
	require.NoError(t, err)
	require.NoError(t, e.Resume(context.Background(), resumed))

	got := h.st.Task(tk.ID)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)
	assert.Equal(t, 25, got.ProcessedItems)
	assert.Equal(t, 25, got.TotalItems)

	byID := make(map[uuid.UUID]*models.WorkItem)
	for _, it := range h.items(t, tk.ID) {
		byID[it.ID] = it
	}
	for _, it := range first {
		after := byID[it.ID]
		assert.Equal(t, 1, after.Attempts, "completed items are not dispatched again")
		assert.Equal(t, it.UpdatedAt, after.UpdatedAt)
	}

	classified := 0
	for _, entry := range h.st.Ledger() {
		classified += entry.ItemCount
	}
	assert.Equal(t, 25, classified)
}

func TestContinue_AfterQuotaPauseStaysPaused(t *testing.T) {
	h := newHarness(t)
	h.candidates(25)
	tk := h.task(t)
	e := h.engine(mock.NewMockProvider(), settings(10, 15))
	require.NoError(t, e.Run(context.Background(), tk))

	resumed, err := e.Continue(context.Background(), h.tenantID, tk.ID)
	require.NoError(t, err)
	require.NoError(t, e.Resume(context.Background(), resumed))

	got := h.st.Task(tk.ID)
	assert.Equal(t, models.TaskStatusPaused, got.Status)
	assert.Equal(t, 15, got.ProcessedItems)
	assert.Len(t, h.st.Ledger(), 2)
}

func TestResume_RequiresProcessing(t *testing.T) {
	h := newHarness(t)
	tk := h.task(t)
	err := h.engine(mock.NewMockProvider(), settings(10, 0)).Resume(context.Background(), tk)
	require.ErrorIs(t, err, classify.ErrInvalidState)
}

func TestSettingsFrom(t *testing.T) {
	s := classify.SettingsFrom(config.ClassifyConfig{
		BatchSize: 50, BatchDelay: time.Second, MaxRetries: 3, RetryDelay: 2 * time.Second,
		DailyQuota: 1000, QuotaMode: config.QuotaModeCalls,
	})
	assert.Equal(t, 50, s.BatchSize)
	assert.Equal(t, time.Second, s.BatchDelay)
	assert.Equal(t, 3, s.MaxRetries)
	assert.Equal(t, 2*time.Second, s.RetryDelay)
	assert.Equal(t, 1000, s.DailyQuota)
	assert.Equal(t, config.QuotaModeCalls, s.QuotaMode)
}
