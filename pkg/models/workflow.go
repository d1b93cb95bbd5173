package models

import (
	"time"

	"github.com/google/uuid"
)

// StepCodeKind tells the executor how a step's code is run.
type StepCodeKind string

const (
	// StepCodeQuery is templated query text executed against the step's data source.
	StepCodeQuery StepCodeKind = "sql"
	// StepCodeProcedure is reserved; the executor rejects it.
	StepCodeProcedure StepCodeKind = "procedure"
)

// Workflow is an ordered pipeline of calculation steps.
type Workflow struct {
	ID          uuid.UUID `db:"id"          json:"id"`
	TenantID    uuid.UUID `db:"tenant_id"   json:"tenant_id"`
	Name        string    `db:"name"        json:"name"`
	Description string    `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at"  json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"  json:"updated_at"`
}

// WorkflowStep is one templated transformation in a workflow.
type WorkflowStep struct {
	ID           uuid.UUID    `db:"id"             json:"id"`
	WorkflowID   uuid.UUID    `db:"workflow_id"    json:"workflow_id"`
	Name         string       `db:"name"           json:"name"`
	SortOrder    int          `db:"sort_order"     json:"sort_order"`
	Enabled      bool         `db:"enabled"        json:"enabled"`
	CodeKind     StepCodeKind `db:"code_kind"      json:"code_kind"`
	Code         string       `db:"code"           json:"code"`
	DataSourceID uuid.UUID    `db:"data_source_id" json:"data_source_id"`
	CreatedAt    time.Time    `db:"created_at"     json:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at"     json:"updated_at"`
}

// DataSource describes a database the steps run against.
type DataSource struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	TenantID  uuid.UUID `db:"tenant_id"  json:"tenant_id"`
	Name      string    `db:"name"       json:"name"`
	Driver    string    `db:"driver"     json:"driver"`
	DSN       string    `db:"dsn"        json:"-"`
	MaxConns  int       `db:"max_conns"  json:"max_conns"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Unit is an organizational unit (department) a calculation runs for.
type Unit struct {
	ID       uuid.UUID `db:"id"        json:"id"`
	TenantID uuid.UUID `db:"tenant_id" json:"tenant_id"`
	Code     string    `db:"code"      json:"code"`
	Name     string    `db:"name"      json:"name"`
	Active   bool      `db:"active"    json:"active"`
}

const (
	StepLogSuccess = "success"
	StepLogFailed  = "failed"
)

// StepExecutionLog is the append-only audit record of one step run for one unit.
// UnitID is nil when the task covers all units in a single pass.
type StepExecutionLog struct {
	ID           uuid.UUID  `db:"id"            json:"id"`
	TaskID       uuid.UUID  `db:"task_id"       json:"task_id"`
	StepID       uuid.UUID  `db:"step_id"       json:"step_id"`
	StepName     string     `db:"step_name"     json:"step_name"`
	UnitID       *uuid.UUID `db:"unit_id"       json:"unit_id,omitempty"`
	UnitName     string     `db:"unit_name"     json:"unit_name"`
	Status       string     `db:"status"        json:"status"`
	StartedAt    time.Time  `db:"started_at"    json:"started_at"`
	FinishedAt   time.Time  `db:"finished_at"   json:"finished_at"`
	DurationMS   int64      `db:"duration_ms"   json:"duration_ms"`
	Columns      []string   `db:"columns"       json:"columns"`
	RowCount     int        `db:"row_count"     json:"row_count"`
	AffectedRows int64      `db:"affected_rows" json:"affected_rows"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`
}
