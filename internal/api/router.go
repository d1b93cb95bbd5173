package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/valuecalc/internal/api/middleware"
	"github.com/kiranshivaraju/valuecalc/internal/api/response"
	"github.com/kiranshivaraju/valuecalc/internal/apikey"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit
	Logger    *slog.Logger

	HealthHandler http.HandlerFunc

	CreateCalculation    http.HandlerFunc
	CreateClassification http.HandlerFunc
	GetTask              http.HandlerFunc
	TaskStatus           http.HandlerFunc
	StepLogs             http.HandlerFunc
	WorkItems            http.HandlerFunc
	ContinueTask         http.HandlerFunc

	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(mw.Logger(logger))
	r.Use(mw.Recovery(logger))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Route("/api/v1/tasks", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(deps.Auth.RequireScope(apikey.ScopeWrite))

				r.Post("/calculation", orNotImplemented(deps.CreateCalculation))
				r.Post("/classification", orNotImplemented(deps.CreateClassification))
				r.Post("/{taskID}/continue", orNotImplemented(deps.ContinueTask))
			})

			r.Group(func(r chi.Router) {
				r.Use(deps.Auth.RequireScope(apikey.ScopeRead))

				r.Get("/{taskID}", orNotImplemented(deps.GetTask))
				r.Get("/{taskID}/status", orNotImplemented(deps.TaskStatus))
				r.Get("/{taskID}/logs", orNotImplemented(deps.StepLogs))
				r.Get("/{taskID}/items", orNotImplemented(deps.WorkItems))
			})
		})

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(apikey.ScopeAdmin))

			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
