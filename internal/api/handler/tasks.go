// Package handler holds the HTTP handlers behind the API router.
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/valuecalc/internal/api/middleware"
	"github.com/kiranshivaraju/valuecalc/internal/api/response"
	"github.com/kiranshivaraju/valuecalc/internal/classify"
	"github.com/kiranshivaraju/valuecalc/internal/store"
	"github.com/kiranshivaraju/valuecalc/internal/tasks"
	"github.com/kiranshivaraju/valuecalc/pkg/models"
)

const (
	defaultItemLimit = 50
	maxItemLimit     = 500
)

// TaskService defines what the task handlers depend on.
type TaskService interface {
	CreateCalculation(ctx context.Context, tenantID uuid.UUID, req tasks.CalculationRequest) (*models.Task, error)
	CreateClassification(ctx context.Context, tenantID uuid.UUID, req tasks.ClassificationRequest) (*models.Task, error)
	Get(ctx context.Context, tenantID, id uuid.UUID) (*models.Task, error)
	Status(ctx context.Context, tenantID, id uuid.UUID) (*models.TaskSnapshot, error)
	StepLogs(ctx context.Context, tenantID, id uuid.UUID) ([]*models.StepExecutionLog, error)
	WorkItems(ctx context.Context, tenantID, id uuid.UUID, statuses ...models.WorkItemStatus) ([]*models.WorkItem, error)
	Continue(ctx context.Context, tenantID, id uuid.UUID) (*models.Task, error)
}

// NewCreateCalculationHandler returns the handler for POST /api/v1/tasks/calculation.
func NewCreateCalculationHandler(svc TaskService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}
		var req tasks.CalculationRequest
		if err := response.Decode(w, r, &req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			return
		}
		t, err := svc.CreateCalculation(r.Context(), tenantID, req)
		if err != nil {
			writeTaskError(w, err)
			return
		}
		response.Accepted(w, t)
	}
}

// NewCreateClassificationHandler returns the handler for POST /api/v1/tasks/classification.
func NewCreateClassificationHandler(svc TaskService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}
		var req tasks.ClassificationRequest
		if err := response.Decode(w, r, &req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			return
		}
		t, err := svc.CreateClassification(r.Context(), tenantID, req)
		if err != nil {
			writeTaskError(w, err)
			return
		}
		response.Accepted(w, t)
	}
}

// NewGetTaskHandler returns the handler for GET /api/v1/tasks/{taskID}.
func NewGetTaskHandler(svc TaskService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, id, ok := taskRequest(w, r)
		if !ok {
			return
		}
		t, err := svc.Get(r.Context(), tenantID, id)
		if err != nil {
			writeTaskError(w, err)
			return
		}
		response.JSON(w, t)
	}
}

// NewTaskStatusHandler returns the handler for GET /api/v1/tasks/{taskID}/status.
func NewTaskStatusHandler(svc TaskService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, id, ok := taskRequest(w, r)
		if !ok {
			return
		}
		snap, err := svc.Status(r.Context(), tenantID, id)
		if err != nil {
			writeTaskError(w, err)
			return
		}
		response.JSON(w, snap)
	}
}

// NewStepLogsHandler returns the handler for GET /api/v1/tasks/{taskID}/logs.
func NewStepLogsHandler(svc TaskService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, id, ok := taskRequest(w, r)
		if !ok {
			return
		}
		logs, err := svc.StepLogs(r.Context(), tenantID, id)
		if err != nil {
			writeTaskError(w, err)
			return
		}
		if logs == nil {
			logs = []*models.StepExecutionLog{}
		}
		response.JSON(w, logs)
	}
}

// NewWorkItemsHandler returns the handler for GET /api/v1/tasks/{taskID}/items.
// The optional status parameter may repeat.
func NewWorkItemsHandler(svc TaskService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, id, ok := taskRequest(w, r)
		if !ok {
			return
		}
		page, err := response.ParsePage(r, defaultItemLimit, maxItemLimit)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			return
		}

		var statuses []models.WorkItemStatus
		for _, s := range r.URL.Query()["status"] {
			st := models.WorkItemStatus(s)
			switch st {
			case models.WorkItemPending, models.WorkItemProcessing, models.WorkItemCompleted, models.WorkItemFailed:
				statuses = append(statuses, st)
			default:
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "unknown work item status", map[string]string{"status": s})
				return
			}
		}

		items, err := svc.WorkItems(r.Context(), tenantID, id, statuses...)
		if err != nil {
			writeTaskError(w, err)
			return
		}
		lo, hi := page.Slice(len(items))
		response.Collection(w, items[lo:hi], page.Meta(len(items)))
	}
}

// NewContinueHandler returns the handler for POST /api/v1/tasks/{taskID}/continue.
func NewContinueHandler(svc TaskService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, id, ok := taskRequest(w, r)
		if !ok {
			return
		}
		t, err := svc.Continue(r.Context(), tenantID, id)
		if err != nil {
			writeTaskError(w, err)
			return
		}
		response.Accepted(w, t)
	}
}

func taskRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	tenantID, ok := mw.GetTenantID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
		return uuid.Nil, uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "taskID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_TASK_ID", "Invalid task ID format", nil)
		return uuid.Nil, uuid.Nil, false
	}
	return tenantID, id, true
}

func writeTaskError(w http.ResponseWriter, err error) {
	var verr *tasks.ValidationError
	switch {
	case errors.As(err, &verr):
		response.Error(w, http.StatusBadRequest, "VALIDATION_FAILED", "Request validation failed", verr.Fields)
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "TASK_NOT_FOUND", "Task not found", nil)
	case errors.Is(err, classify.ErrInvalidState), errors.Is(err, store.ErrInvalidTransition):
		response.Error(w, http.StatusConflict, "INVALID_TASK_STATE", err.Error(), nil)
	case errors.Is(err, tasks.ErrQueueUnavailable):
		response.Error(w, http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE",
			"The job queue could not accept the task", nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}
