package api

import (
	"github.com/starford/devpulse/internal/history"
	"github.com/starford/devpulse/internal/models"
	"github.com/starford/devpulse/internal/supervisor"
)

// ProjectStatus is one attached project (aliased from the supervisor).
type ProjectStatus = supervisor.Status

// ProjectListResponse wraps the attached projects.
type ProjectListResponse struct {
	Projects []ProjectStatus `json:"projects" validate:"required"`
}

// ChangeListResponse wraps a change listing, newest first.
type ChangeListResponse struct {
	Changes []models.Change `json:"changes" validate:"required"`
}

// HotspotListResponse wraps ranked file hotspots.
type HotspotListResponse struct {
	Hotspots []models.FileHotspot `json:"hotspots" validate:"required"`
}

// DebtListResponse wraps the findings of the latest debt scan.
type DebtListResponse struct {
	Items []models.TechnicalDebtItem `json:"items" validate:"required"`
}

// VelocityResponse is the activity summary over a trailing period.
type VelocityResponse = history.Velocity

// TimelineResponse maps UTC dates (YYYY-MM-DD) to change counts.
type TimelineResponse struct {
	Days   int            `json:"days" example:"30"`
	Counts map[string]int `json:"counts" validate:"required"`
}
