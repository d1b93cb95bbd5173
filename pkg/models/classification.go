package models

import (
	"time"

	"github.com/google/uuid"
)

// PromptModule holds the instructions sent to the classifier.
type PromptModule struct {
	ID           uuid.UUID `db:"id"            json:"id"`
	TenantID     uuid.UUID `db:"tenant_id"     json:"tenant_id"`
	Name         string    `db:"name"          json:"name"`
	SystemPrompt string    `db:"system_prompt" json:"system_prompt"`
	ModelName    string    `db:"model_name"    json:"model_name"`
	Temperature  float64   `db:"temperature"   json:"temperature"`
	CreatedAt    time.Time `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"    json:"updated_at"`
}

// Dimension is one candidate category of a model version.
type Dimension struct {
	ID             uuid.UUID `db:"id"               json:"id"`
	ModelVersionID uuid.UUID `db:"model_version_id" json:"model_version_id"`
	Code           string    `db:"code"             json:"code"`
	Name           string    `db:"name"             json:"name"`
	Description    string    `db:"description"      json:"description"`
}

// CandidateItem is a chargeable item that can be classified into a dimension.
type CandidateItem struct {
	ID          uuid.UUID  `db:"id"           json:"id"`
	TenantID    uuid.UUID  `db:"tenant_id"    json:"tenant_id"`
	Code        string     `db:"code"         json:"code"`
	Name        string     `db:"name"         json:"name"`
	Category    string     `db:"category"     json:"category"`
	DimensionID *uuid.UUID `db:"dimension_id" json:"dimension_id,omitempty"`
}

// Backlog groups the work items of one classification task.
type Backlog struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	TaskID    uuid.UUID `db:"task_id"    json:"task_id"`
	TenantID  uuid.UUID `db:"tenant_id"  json:"tenant_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// WorkItemStatus is the lifecycle state of a work item.
type WorkItemStatus string

const (
	WorkItemPending    WorkItemStatus = "pending"
	WorkItemProcessing WorkItemStatus = "processing"
	WorkItemCompleted  WorkItemStatus = "completed"
	WorkItemFailed     WorkItemStatus = "failed"
)

// WorkItem tracks the classification of one candidate item within a task.
type WorkItem struct {
	ID          uuid.UUID      `db:"id"           json:"id"`
	BacklogID   uuid.UUID      `db:"backlog_id"   json:"backlog_id"`
	TaskID      uuid.UUID      `db:"task_id"      json:"task_id"`
	ItemID      uuid.UUID      `db:"item_id"      json:"item_id"`
	ItemCode    string         `db:"item_code"    json:"item_code"`
	ItemName    string         `db:"item_name"    json:"item_name"`
	Status      WorkItemStatus `db:"status"       json:"status"`
	Attempts    int            `db:"attempts"     json:"attempts"`
	DimensionID *uuid.UUID     `db:"dimension_id" json:"dimension_id,omitempty"`
	Confidence  *float64       `db:"confidence"   json:"confidence,omitempty"`
	Reason      *string        `db:"reason"       json:"reason,omitempty"`
	LastError   *string        `db:"last_error"   json:"last_error,omitempty"`
	CreatedAt   time.Time      `db:"created_at"   json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"   json:"updated_at"`
}

// WorkItemOutcome is the recorded result of one classified item.
type WorkItemOutcome struct {
	ItemID      uuid.UUID
	Status      WorkItemStatus
	DimensionID *uuid.UUID
	Confidence  *float64
	Reason      *string
	Error       *string
}

// WorkItemCounts is the status histogram of a task's backlog.
type WorkItemCounts struct {
	Pending    int
	Processing int
	Completed  int
	Failed     int
}

// Total returns the number of work items counted.
func (c WorkItemCounts) Total() int {
	return c.Pending + c.Processing + c.Completed + c.Failed
}

// UsageLedgerEntry records one dispatched classifier call.
type UsageLedgerEntry struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	TenantID  uuid.UUID `db:"tenant_id"  json:"tenant_id"`
	TaskID    uuid.UUID `db:"task_id"    json:"task_id"`
	Provider  string    `db:"provider"   json:"provider"`
	Model     string    `db:"model"      json:"model"`
	ItemCount int       `db:"item_count" json:"item_count"`
	Success   bool      `db:"success"    json:"success"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
