package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/devpulse/internal/apperr"
	"github.com/starford/devpulse/internal/history"
	"github.com/starford/devpulse/internal/supervisor"
)

// Default periods for the analytics endpoints.
const (
	DefaultVelocityDays = 7
	DefaultTimelineDays = 30
)

// Projects resolves attached projects for the API.
type Projects interface {
	Snapshot() []supervisor.Status
	History(nameOrPath string) (*history.Service, error)
}

// Handler holds API route handlers.
type Handler struct {
	projects Projects
}

// NewHandler creates a new Handler.
func NewHandler(projects Projects) *Handler {
	return &Handler{projects: projects}
}

type ctxKey struct{}

// withProject resolves {name} and stores its history service in the request
// context.
func (h *Handler) withProject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		svc, err := h.projects.History(name)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				writeJSON(w, http.StatusNotFound, errorBody("project not found"))
				return
			}
			slog.Error("resolve project failed", slog.String("project", name), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, svc)))
	})
}

func historyFrom(r *http.Request) *history.Service {
	return r.Context().Value(ctxKey{}).(*history.Service)
}

func intQuery(r *http.Request, key string, def int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	slog.Error(op+" failed",
		slog.String("project", chi.URLParam(r, "name")),
		slog.String("error", err.Error()))
	writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
}

// analyticsError answers 409 for a project with analytics switched off.
func analyticsError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, apperr.ErrNotConfigured) {
		writeJSON(w, http.StatusConflict, errorBody("analytics disabled for this project"))
		return
	}
	internalError(w, r, op, err)
}

// ListProjects handles GET /api/projects.
//
//	@Summary		List monitored projects and their pipeline state
//	@Tags			projects
//	@Produce		json
//	@Success		200	{object}	ProjectListResponse
//	@Security		BearerAuth
//	@Router			/projects [get]
func (h *Handler) ListProjects(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, ProjectListResponse{Projects: h.projects.Snapshot()})
}

// ListChanges handles GET /api/projects/{name}/changes.
//
//	@Summary		List recorded changes, newest first
//	@Tags			changes
//	@Produce		json
//	@Param			name	path		string	true	"Project name"
//	@Param			since	query		string	false	"RFC 3339 lower bound"
//	@Param			limit	query		int		false	"Max changes"
//	@Success		200		{object}	ChangeListResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/projects/{name}/changes [get]
func (h *Handler) ListChanges(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("since must be an RFC 3339 timestamp"))
			return
		}
		since = t
	}
	limit, ok := intQuery(r, "limit", 0)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("limit must be a non-negative integer"))
		return
	}
	changes, err := historyFrom(r).ListChanges(r.Context(), since, limit)
	if err != nil {
		internalError(w, r, "list changes", err)
		return
	}
	writeJSON(w, http.StatusOK, ChangeListResponse{Changes: changes})
}

// GetChange handles GET /api/projects/{name}/changes/{id}.
//
//	@Summary		Get one change with its file details
//	@Tags			changes
//	@Produce		json
//	@Param			name	path		string	true	"Project name"
//	@Param			id		path		int		true	"Change ID"
//	@Success		200		{object}	models.Change
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/projects/{name}/changes/{id} [get]
func (h *Handler) GetChange(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("id must be an integer"))
		return
	}
	c, err := historyFrom(r).GetChange(r.Context(), id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
			return
		}
		internalError(w, r, "get change", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// Summary handles GET /api/projects/{name}/summary.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := historyFrom(r).Summary(r.Context())
	if err != nil {
		internalError(w, r, "summary", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// Hotspots handles GET /api/projects/{name}/hotspots.
func (h *Handler) Hotspots(w http.ResponseWriter, r *http.Request) {
	limit, ok := intQuery(r, "limit", history.DefaultHotspotLimit)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("limit must be a non-negative integer"))
		return
	}
	spots, err := historyFrom(r).Hotspots(r.Context(), limit)
	if err != nil {
		analyticsError(w, r, "hotspots", err)
		return
	}
	writeJSON(w, http.StatusOK, HotspotListResponse{Hotspots: spots})
}

// Debt handles GET /api/projects/{name}/debt.
func (h *Handler) Debt(w http.ResponseWriter, r *http.Request) {
	items, err := historyFrom(r).OpenDebt(r.Context())
	if err != nil {
		internalError(w, r, "technical debt", err)
		return
	}
	writeJSON(w, http.StatusOK, DebtListResponse{Items: items})
}

// Velocity handles GET /api/projects/{name}/velocity.
func (h *Handler) Velocity(w http.ResponseWriter, r *http.Request) {
	days, ok := intQuery(r, "days", DefaultVelocityDays)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("days must be a non-negative integer"))
		return
	}
	v, err := historyFrom(r).Velocity(r.Context(), days)
	if err != nil {
		analyticsError(w, r, "velocity", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// Timeline handles GET /api/projects/{name}/timeline.
func (h *Handler) Timeline(w http.ResponseWriter, r *http.Request) {
	days, ok := intQuery(r, "days", DefaultTimelineDays)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("days must be a non-negative integer"))
		return
	}
	counts, err := historyFrom(r).ActivityTimeline(r.Context(), days)
	if err != nil {
		analyticsError(w, r, "timeline", err)
		return
	}
	writeJSON(w, http.StatusOK, TimelineResponse{Days: days, Counts: counts})
}
