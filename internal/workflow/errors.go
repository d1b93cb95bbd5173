package workflow

import "errors"

// Configuration errors. The task fails before any unit runs.
var (
	ErrMissingWorkflow   = errors.New("missing workflow selection")
	ErrNoEligibleUnits   = errors.New("no eligible units")
	ErrMissingDataSource = errors.New("missing data source")
	ErrInvalidPeriod     = errors.New("invalid period")
)

// Step kinds that are accepted but cannot run.
var (
	ErrProcedureNotImplemented = errors.New("procedure steps are not implemented")
	ErrUnsupportedStepKind     = errors.New("unsupported step kind")
)
