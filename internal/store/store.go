package store

import "github.com/starford/devpulse/internal/models"

// ChangeStore defines the persistence operations of a project's history.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with fakes.
type ChangeStore interface {
	UpsertProject(p models.Project) (int64, error)
	GetProject(path string) (*models.Project, error)
	ListProjects() ([]models.Project, error)
	RecordChange(c models.Change) (int64, error)
	GetChange(id int64) (*models.Change, error)
	ListChanges(projectID int64, opts ListOptions) ([]models.Change, error)
	Summary(projectID int64) (*models.ChangeSummary, error)
	FileHotspots(projectID int64, limit int) ([]models.FileHotspot, error)
	ReplaceTechnicalDebt(projectID int64, items []models.TechnicalDebtItem) error
	OpenTechnicalDebt(projectID int64) ([]models.TechnicalDebtItem, error)
	Close() error
}

// Verify *DB satisfies ChangeStore at compile time.
var _ ChangeStore = (*DB)(nil)
