package models_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/valuecalc/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to models.TaskStatus
		want     bool
	}{
		{models.TaskStatusPending, models.TaskStatusRunning, true},
		{models.TaskStatusPending, models.TaskStatusProcessing, true},
		{models.TaskStatusPending, models.TaskStatusFailed, true},
		{models.TaskStatusPending, models.TaskStatusCompleted, false},
		{models.TaskStatusRunning, models.TaskStatusCompleted, true},
		{models.TaskStatusRunning, models.TaskStatusFailed, true},
		{models.TaskStatusRunning, models.TaskStatusPaused, false},
		{models.TaskStatusProcessing, models.TaskStatusPaused, true},
		{models.TaskStatusProcessing, models.TaskStatusCompleted, true},
		{models.TaskStatusFailed, models.TaskStatusProcessing, true},
		{models.TaskStatusPaused, models.TaskStatusProcessing, true},
		{models.TaskStatusFailed, models.TaskStatusRunning, false},
		{models.TaskStatusCompleted, models.TaskStatusProcessing, false},
		{models.TaskStatusCompleted, models.TaskStatusFailed, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, models.CanTransition(tt.from, tt.to))
		})
	}
}

func TestTaskStatus_IsTerminal(t *testing.T) {
	assert.False(t, models.TaskStatusPending.IsTerminal())
	assert.False(t, models.TaskStatusRunning.IsTerminal())
	assert.False(t, models.TaskStatusProcessing.IsTerminal())
	assert.True(t, models.TaskStatusCompleted.IsTerminal())
	assert.True(t, models.TaskStatusFailed.IsTerminal())
	assert.True(t, models.TaskStatusPaused.IsTerminal())
}

func TestTask_Snapshot(t *testing.T) {
	msg := "boom"
	task := &models.Task{
		ID:             uuid.New(),
		Status:         models.TaskStatusFailed,
		Progress:       40,
		TotalItems:     10,
		ProcessedItems: 3,
		FailedItems:    1,
		ErrorMessage:   &msg,
	}

	snap := task.Snapshot()
	assert.Equal(t, task.ID, snap.ID)
	assert.Equal(t, models.TaskStatusFailed, snap.Status)
	assert.Equal(t, 40.0, snap.Progress)
	assert.Equal(t, 3, snap.ProcessedItems)
	assert.Equal(t, "boom", *snap.ErrorMessage)
}

func TestWorkItemCounts_Total(t *testing.T) {
	c := models.WorkItemCounts{Pending: 1, Processing: 2, Completed: 3, Failed: 4}
	assert.Equal(t, 10, c.Total())
}

func TestProgress(t *testing.T) {
	assert.Equal(t, 0.0, models.Progress(0, 0))
	assert.Equal(t, 33.33, models.Progress(1, 3))
	assert.Equal(t, 66.67, models.Progress(2, 3))
	assert.Equal(t, 60.0, models.Progress(15, 25))
	assert.Equal(t, 100.0, models.Progress(5, 5))
}
