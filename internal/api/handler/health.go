package handler

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/valuecalc/internal/api/response"
	"github.com/kiranshivaraju/valuecalc/internal/jobs"
)

// Pinger checks connectivity to a backing service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHealthHandler reports database and cache connectivity along with the job
// dispatcher's counters. metrics may be nil.
func NewHealthHandler(db, cache Pinger, metrics func() jobs.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}
		if err := db.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := cache.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		if checks["database"] != "ok" || checks["cache"] != "ok" {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		body := map[string]any{
			"status":   "ok",
			"services": checks,
		}
		if metrics != nil {
			body["jobs"] = metrics()
		}
		response.JSON(w, body)
	}
}
