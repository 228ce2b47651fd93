// Package models defines the domain types for devpulse.
package models

import "time"

// EventType is the kind of filesystem mutation observed by a change source.
type EventType string

const (
	EventAdd    EventType = "add"
	EventChange EventType = "change"
	EventUnlink EventType = "unlink"
)

// ChangeType maps the event onto the vocabulary persisted with file details.
func (e EventType) ChangeType() ChangeType {
	switch e {
	case EventAdd:
		return ChangeAdded
	case EventUnlink:
		return ChangeDeleted
	default:
		return ChangeModified
	}
}

// RawChangeEvent is one filesystem event relative to a project root. It only
// lives inside a project's pending buffer and is never persisted on its own.
type RawChangeEvent struct {
	Path      string    `json:"path"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// ChangeType is the per-file change kind stored with a FileChangeDetail.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
)

// Category classifies a change.
type Category string

const (
	CategoryFeature  Category = "feature"
	CategoryFix      Category = "fix"
	CategoryRefactor Category = "refactor"
	CategoryDocs     Category = "docs"
	CategoryStyle    Category = "style"
	CategoryTest     Category = "test"
)

// Categories lists every accepted category in display order.
var Categories = []Category{
	CategoryFeature, CategoryFix, CategoryRefactor, CategoryDocs, CategoryStyle, CategoryTest,
}

// Valid reports whether c is one of the enumerated categories.
func (c Category) Valid() bool {
	for _, v := range Categories {
		if c == v {
			return true
		}
	}
	return false
}

// Impact is the assessed impact of a change on the codebase.
type Impact string

const (
	ImpactLow    Impact = "low"
	ImpactMedium Impact = "medium"
	ImpactHigh   Impact = "high"
)

// Valid reports whether i is low, medium or high.
func (i Impact) Valid() bool {
	return i == ImpactLow || i == ImpactMedium || i == ImpactHigh
}

// Project is one monitored root.
type Project struct {
	ID           int64     `json:"id"`
	Path         string    `json:"path"`
	Name         string    `json:"name"`
	TechStack    []string  `json:"tech_stack"`
	Architecture string    `json:"architecture"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Change is one classified batch. Rows are append-only.
type Change struct {
	ID            int64              `json:"id"`
	ProjectID     int64              `json:"project_id"`
	BatchID       string             `json:"batch_id"`
	Timestamp     time.Time          `json:"timestamp"`
	Category      Category           `json:"category"`
	Summary       string             `json:"summary"`
	Description   string             `json:"description,omitempty"`
	Impact        Impact             `json:"impact"`
	AffectedAreas []string           `json:"affected_areas"`
	LinesAdded    int                `json:"lines_added"`
	LinesRemoved  int                `json:"lines_removed"`
	FilesChanged  int                `json:"files_changed"`
	Files         []FileChangeDetail `json:"files,omitempty"`
}

// FileChangeDetail records one file touched by a Change.
type FileChangeDetail struct {
	ID           int64      `json:"id"`
	ChangeID     int64      `json:"change_id"`
	FilePath     string     `json:"file_path"`
	ChangeType   ChangeType `json:"change_type"`
	LinesAdded   int        `json:"lines_added"`
	LinesRemoved int        `json:"lines_removed"`
}

// Debt statuses.
const (
	DebtOpen     = "open"
	DebtResolved = "resolved"
)

// TechnicalDebtItem is one finding from the most recent debt scan.
type TechnicalDebtItem struct {
	ID          int64     `json:"id"`
	ProjectID   int64     `json:"project_id"`
	Type        string    `json:"type"`
	Severity    string    `json:"severity"`
	FilePath    string    `json:"file_path"`
	Description string    `json:"description"`
	DetectedAt  time.Time `json:"detected_at"`
	Status      string    `json:"status"`
}

// ChangeSummary aggregates all changes of a project.
type ChangeSummary struct {
	TotalChanges      int              `json:"total_changes"`
	TotalLinesAdded   int              `json:"total_lines_added"`
	TotalLinesRemoved int              `json:"total_lines_removed"`
	ByCategory        map[Category]int `json:"by_category"`
}

// FileHotspot is a file path ranked by how many changes touched it.
type FileHotspot struct {
	FilePath    string `json:"file_path"`
	ChangeCount int    `json:"change_count"`
}
