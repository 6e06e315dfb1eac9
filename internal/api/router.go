package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/akhbar/internal/api/middleware"
	"github.com/kiranshivaraju/akhbar/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Session   *mw.Session
	RateLimit *mw.RateLimit

	HealthHandler   http.HandlerFunc
	SubmitHandler   http.HandlerFunc
	ProgressHandler http.HandlerFunc
	StateHandler    http.HandlerFunc
	DismissHandler  http.HandlerFunc
	SnapshotHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Local view of the current job; no backend call involved.
	r.Get("/api/v1/ocr/progress", orNotImplemented(deps.ProgressHandler))
	r.Get("/api/v1/ocr/state", orNotImplemented(deps.StateHandler))
	r.Post("/api/v1/ocr/progress/dismiss", orNotImplemented(deps.DismissHandler))

	// Routes that talk to the backend with the stored token
	r.Group(func(r chi.Router) {
		if deps.Session != nil {
			r.Use(deps.Session.RequireLogin)
		}

		r.Get("/api/v1/ocr/jobs/{jobID}/snapshot", orNotImplemented(deps.SnapshotHandler))

		r.Group(func(r chi.Router) {
			if deps.RateLimit != nil {
				r.Use(deps.RateLimit.Limit)
			}
			r.Post("/api/v1/ocr/jobs", orNotImplemented(deps.SubmitHandler))
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
