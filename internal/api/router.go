package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/vista/internal/api/middleware"
	"github.com/kiranshivaraju/vista/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	RateLimit *mw.RateLimit

	HealthHandler    http.HandlerFunc
	ListTemplates    http.HandlerFunc
	StartJobHandler  http.HandlerFunc
	ListJobsHandler  http.HandlerFunc
	GetJobHandler    http.HandlerFunc
	RefreshJob       http.HandlerFunc
	CancelJob        http.HandlerFunc
	DeleteJob        http.HandlerFunc
	WatchJobHandler  http.HandlerFunc
	WatchJobsHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	r.Group(func(r chi.Router) {
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}

		r.Get("/api/v1/templates", orNotImplemented(deps.ListTemplates))

		r.Post("/api/v1/jobs", orNotImplemented(deps.StartJobHandler))
		r.Get("/api/v1/jobs", orNotImplemented(deps.ListJobsHandler))
		r.Get("/api/v1/jobs/watch", orNotImplemented(deps.WatchJobsHandler))
		r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.GetJobHandler))
		r.Post("/api/v1/jobs/{jobID}/refresh", orNotImplemented(deps.RefreshJob))
		r.Post("/api/v1/jobs/{jobID}/cancel", orNotImplemented(deps.CancelJob))
		r.Delete("/api/v1/jobs/{jobID}", orNotImplemented(deps.DeleteJob))
		r.Get("/api/v1/jobs/{jobID}/watch", orNotImplemented(deps.WatchJobHandler))
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
