package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(projects Projects, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(projects)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Get("/projects", h.ListProjects)

	r.Route("/projects/{name}", func(r chi.Router) {
		r.Use(h.withProject)
		r.Get("/changes", h.ListChanges)
		r.Get("/changes/{id}", h.GetChange)
		r.Get("/summary", h.Summary)
		r.Get("/hotspots", h.Hotspots)
		r.Get("/debt", h.Debt)
		r.Get("/velocity", h.Velocity)
		r.Get("/timeline", h.Timeline)
	})

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
