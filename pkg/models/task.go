// Package models contains shared data models used across the valuecalc codebase.
package models

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// TaskKind selects which engine drives a task.
type TaskKind string

const (
	TaskKindCalculation    TaskKind = "calculation"
	TaskKindClassification TaskKind = "classification"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusRunning    TaskStatus = "running"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusPaused     TaskStatus = "paused"
)

// taskTransitions lists the states reachable from each state. Calculation tasks
// use running; classification tasks use processing and may pause. Failed and
// paused classification tasks re-enter processing through continuation.
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending:    {TaskStatusRunning, TaskStatusProcessing, TaskStatusFailed},
	TaskStatusRunning:    {TaskStatusCompleted, TaskStatusFailed},
	TaskStatusProcessing: {TaskStatusCompleted, TaskStatusFailed, TaskStatusPaused},
	TaskStatusFailed:     {TaskStatusProcessing},
	TaskStatusPaused:     {TaskStatusProcessing},
}

// CanTransition reports whether a task may move from one status to another.
func CanTransition(from, to TaskStatus) bool {
	for _, s := range taskTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no engine will touch the task again without an
// explicit continuation.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusPaused
}

// Progress returns done/total as a percentage rounded to two decimals.
func Progress(done, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(done)*10000/float64(total)) / 100
}

// ItemFilter selects candidate items for a classification backlog.
type ItemFilter struct {
	Categories       []string    `json:"categories,omitempty"`
	NameContains     string      `json:"name_contains,omitempty"`
	ItemIDs          []uuid.UUID `json:"item_ids,omitempty"`
	UnclassifiedOnly bool        `json:"unclassified_only,omitempty"`
}

// Task is one unit of requested work: a calculation run over a period and a set
// of units, or a classification run over a filtered item backlog.
type Task struct {
	ID             uuid.UUID   `db:"id"               json:"id"`
	TenantID       uuid.UUID   `db:"tenant_id"        json:"tenant_id"`
	Kind           TaskKind    `db:"kind"             json:"kind"`
	Name           string      `db:"name"             json:"name"`
	WorkflowID     *uuid.UUID  `db:"workflow_id"      json:"workflow_id,omitempty"`
	ModelVersionID *uuid.UUID  `db:"model_version_id" json:"model_version_id,omitempty"`
	PromptModuleID *uuid.UUID  `db:"prompt_module_id" json:"prompt_module_id,omitempty"`
	Period         string      `db:"period"           json:"period,omitempty"`
	AllUnits       bool        `db:"all_units"        json:"all_units"`
	UnitIDs        []uuid.UUID `db:"unit_ids"         json:"unit_ids,omitempty"`
	Filter         ItemFilter  `db:"filter"           json:"filter"`
	Status         TaskStatus  `db:"status"           json:"status"`
	Progress       float64     `db:"progress"         json:"progress"`
	TotalItems     int         `db:"total_items"      json:"total_items"`
	ProcessedItems int         `db:"processed_items"  json:"processed_items"`
	FailedItems    int         `db:"failed_items"     json:"failed_items"`
	ErrorMessage   *string     `db:"error_message"    json:"error_message,omitempty"`
	StartedAt      *time.Time  `db:"started_at"       json:"started_at,omitempty"`
	CompletedAt    *time.Time  `db:"completed_at"     json:"completed_at,omitempty"`
	CreatedAt      time.Time   `db:"created_at"       json:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at"       json:"updated_at"`
}

// TaskSnapshot is the cached, poll-friendly view of a task.
type TaskSnapshot struct {
	ID             uuid.UUID  `json:"id"`
	TenantID       uuid.UUID  `json:"tenant_id"`
	Kind           TaskKind   `json:"kind"`
	Status         TaskStatus `json:"status"`
	Progress       float64    `json:"progress"`
	TotalItems     int        `json:"total_items"`
	ProcessedItems int        `json:"processed_items"`
	FailedItems    int        `json:"failed_items"`
	ErrorMessage   *string    `json:"error_message,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Snapshot returns the poll view of t.
func (t *Task) Snapshot() TaskSnapshot {
	return TaskSnapshot{
		ID:             t.ID,
		TenantID:       t.TenantID,
		Kind:           t.Kind,
		Status:         t.Status,
		Progress:       t.Progress,
		TotalItems:     t.TotalItems,
		ProcessedItems: t.ProcessedItems,
		FailedItems:    t.FailedItems,
		ErrorMessage:   t.ErrorMessage,
		UpdatedAt:      t.UpdatedAt,
	}
}
