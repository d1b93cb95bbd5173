package task_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/valuecalc/internal/store"
	"github.com/kiranshivaraju/valuecalc/internal/store/storetest"
	"github.com/kiranshivaraju/valuecalc/internal/task"
	"github.com/kiranshivaraju/valuecalc/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCache struct {
	mu    sync.Mutex
	snaps map[uuid.UUID]models.TaskSnapshot
	err   error
}

func newMockCache() *mockCache {
	return &mockCache{snaps: make(map[uuid.UUID]models.TaskSnapshot)}
}

func (c *mockCache) SetTaskSnapshot(_ context.Context, snap models.TaskSnapshot, _ time.Duration) error {
	if c.err != nil {
		return c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps[snap.ID] = snap
	return nil
}

func (c *mockCache) get(id uuid.UUID) (models.TaskSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.snaps[id]
	return s, ok
}

func seedTask(t *testing.T, st *storetest.Memory, kind models.TaskKind) *models.Task {
	t.Helper()
	now := time.Now().UTC()
	tk := &models.Task{
		ID:        uuid.New(),
		TenantID:  uuid.New(),
		Kind:      kind,
		Name:      "test",
		Status:    models.TaskStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, st.CreateTask(context.Background(), tk))
	return tk
}

func TestStart_CalculationRuns(t *testing.T) {
	st := storetest.New()
	c := newMockCache()
	tr := task.NewTracker(st, c, time.Minute, nil)
	tk := seedTask(t, st, models.TaskKindCalculation)

	got, err := tr.Start(context.Background(), tk)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusRunning, got.Status)
	assert.NotNil(t, got.StartedAt)

	snap, ok := c.get(tk.ID)
	require.True(t, ok)
	assert.Equal(t, models.TaskStatusRunning, snap.Status)
}

func TestStart_ClassificationProcesses(t *testing.T) {
	st := storetest.New()
	tr := task.NewTracker(st, nil, time.Minute, nil)
	tk := seedTask(t, st, models.TaskKindClassification)

	got, err := tr.Start(context.Background(), tk)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusProcessing, got.Status)
}

func TestProgress(t *testing.T) {
	st := storetest.New()
	c := newMockCache()
	tr := task.NewTracker(st, c, time.Minute, nil)
	tk := seedTask(t, st, models.TaskKindCalculation)

	require.NoError(t, tr.Progress(context.Background(), tk, 33.33))
	assert.Equal(t, 33.33, tk.Progress)
	assert.Equal(t, 33.33, st.Task(tk.ID).Progress)

	snap, _ := c.get(tk.ID)
	assert.Equal(t, 33.33, snap.Progress)
}

func TestProgress_UnknownTask(t *testing.T) {
	tr := task.NewTracker(storetest.New(), nil, time.Minute, nil)
	err := tr.Progress(context.Background(), &models.Task{ID: uuid.New()}, 10)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestComplete(t *testing.T) {
	st := storetest.New()
	tr := task.NewTracker(st, nil, time.Minute, nil)
	tk := seedTask(t, st, models.TaskKindCalculation)
	_, err := tr.Start(context.Background(), tk)
	require.NoError(t, err)

	got, err := tr.Complete(context.Background(), tk.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)
	assert.Equal(t, 100.0, got.Progress)
	assert.NotNil(t, got.CompletedAt)
}

func TestFail_FromPendingWithMessage(t *testing.T) {
	st := storetest.New()
	tr := task.NewTracker(st, nil, time.Minute, nil)
	tk := seedTask(t, st, models.TaskKindCalculation)

	got, err := tr.Fail(context.Background(), tk.ID, "missing workflow selection")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "missing workflow selection", *got.ErrorMessage)
}

func TestFail_SurvivesCanceledContext(t *testing.T) {
	st := storetest.New()
	tr := task.NewTracker(st, nil, time.Minute, nil)
	tk := seedTask(t, st, models.TaskKindCalculation)
	_, err := tr.Start(context.Background(), tk)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got, err := tr.Fail(ctx, tk.ID, "execution timed out")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, got.Status)
}

func TestPauseAndResume(t *testing.T) {
	st := storetest.New()
	tr := task.NewTracker(st, nil, time.Minute, nil)
	tk := seedTask(t, st, models.TaskKindClassification)
	ctx := context.Background()

	_, err := tr.Start(ctx, tk)
	require.NoError(t, err)

	paused, err := tr.Pause(ctx, tk.ID, "daily quota reached")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPaused, paused.Status)
	require.NotNil(t, paused.ErrorMessage)

	resumed, err := tr.Resume(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusProcessing, resumed.Status)
	assert.Nil(t, resumed.ErrorMessage)
}

func TestInvalidTransition(t *testing.T) {
	st := storetest.New()
	tr := task.NewTracker(st, nil, time.Minute, nil)
	tk := seedTask(t, st, models.TaskKindCalculation)
	ctx := context.Background()

	_, err := tr.Complete(ctx, tk.ID)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	_, err = tr.Resume(ctx, tk.ID)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
}

func TestCacheErrorIgnored(t *testing.T) {
	st := storetest.New()
	c := newMockCache()
	c.err = errors.New("redis down")
	tr := task.NewTracker(st, c, time.Minute, nil)
	tk := seedTask(t, st, models.TaskKindCalculation)

	got, err := tr.Start(context.Background(), tk)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusRunning, got.Status)
}

func TestFailureMessage(t *testing.T) {
	assert.Equal(t, "boom", task.FailureMessage(context.Background(), errors.New("boom")))
	assert.Equal(t, task.TimedOutMessage, task.FailureMessage(context.Background(), context.DeadlineExceeded))

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()
	assert.Equal(t, task.TimedOutMessage, task.FailureMessage(ctx, errors.New("statement 1: canceled")))
}
