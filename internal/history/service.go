// Package history is the read side of a project's change store: listings,
// aggregates and the analytics derived from them.
package history

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/starford/devpulse/internal/apperr"
	"github.com/starford/devpulse/internal/models"
	"github.com/starford/devpulse/internal/store"
)

// DefaultHotspotLimit is used when no positive limit is given.
const DefaultHotspotLimit = 10

// Velocity summarises activity over a trailing period.
type Velocity struct {
	PeriodDays        int                     `json:"period_days"`
	TotalChanges      int                     `json:"total_changes"`
	ChangesPerDay     float64                 `json:"changes_per_day"`
	LinesAdded        int                     `json:"lines_added"`
	LinesRemoved      int                     `json:"lines_removed"`
	NetLines          int                     `json:"net_lines"`
	CategoryBreakdown map[models.Category]int `json:"category_breakdown"`
	ImpactBreakdown   map[models.Impact]int   `json:"impact_breakdown"`
}

// ErrAnalyticsDisabled is returned by the analytics queries of a project
// whose analytics feature is switched off.
var ErrAnalyticsDisabled = fmt.Errorf("analytics: %w", apperr.ErrNotConfigured)

// Service answers history queries for one project.
type Service struct {
	db        store.ChangeStore
	projectID int64
	analytics bool
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithAnalytics switches hotspots, velocity and the activity timeline on or
// off. They are on by default.
func WithAnalytics(enabled bool) Option {
	return func(s *Service) {
		s.analytics = enabled
	}
}

// NewService creates a history service for the project with projectID.
func NewService(db store.ChangeStore, projectID int64, opts ...Option) *Service {
	s := &Service{db: db, projectID: projectID, analytics: true, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ForPath resolves the project stored under path and returns its service.
func ForPath(db store.ChangeStore, path string, opts ...Option) (*Service, error) {
	p, err := db.GetProject(path)
	if err != nil {
		return nil, err
	}
	return NewService(db, p.ID, opts...), nil
}

// ProjectID returns the identity the service is scoped to.
func (s *Service) ProjectID() int64 {
	return s.projectID
}

// ListChanges returns changes newest first.
func (s *Service) ListChanges(_ context.Context, since time.Time, limit int) ([]models.Change, error) {
	changes, err := s.db.ListChanges(s.projectID, store.ListOptions{Since: since, Limit: limit})
	if err != nil {
		return nil, err
	}
	if changes == nil {
		changes = []models.Change{}
	}
	return changes, nil
}

// GetChange returns one change of this project with its file details.
func (s *Service) GetChange(_ context.Context, id int64) (*models.Change, error) {
	c, err := s.db.GetChange(id)
	if err != nil {
		return nil, err
	}
	if c.ProjectID != s.projectID {
		return nil, apperr.ErrNotFound
	}
	return c, nil
}

// Summary returns totals over the whole history.
func (s *Service) Summary(_ context.Context) (*models.ChangeSummary, error) {
	return s.db.Summary(s.projectID)
}

// Hotspots ranks files by the number of changes that touched them.
func (s *Service) Hotspots(_ context.Context, limit int) ([]models.FileHotspot, error) {
	if !s.analytics {
		return nil, ErrAnalyticsDisabled
	}
	if limit <= 0 {
		limit = DefaultHotspotLimit
	}
	spots, err := s.db.FileHotspots(s.projectID, limit)
	if err != nil {
		return nil, err
	}
	if spots == nil {
		spots = []models.FileHotspot{}
	}
	return spots, nil
}

// OpenDebt returns the findings of the latest debt scan.
func (s *Service) OpenDebt(_ context.Context) ([]models.TechnicalDebtItem, error) {
	items, err := s.db.OpenTechnicalDebt(s.projectID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []models.TechnicalDebtItem{}
	}
	return items, nil
}

// RecentSummaries returns the summaries of the latest n changes.
func (s *Service) RecentSummaries(ctx context.Context, n int) ([]string, error) {
	changes, err := s.ListChanges(ctx, time.Time{}, n)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(changes))
	for _, c := range changes {
		out = append(out, fmt.Sprintf("- [%s] %s", c.Category, c.Summary))
	}
	return out, nil
}

// Velocity counts changes since the start of the day periodDays ago. Line
// totals come from the whole history.
func (s *Service) Velocity(ctx context.Context, periodDays int) (*Velocity, error) {
	if !s.analytics {
		return nil, ErrAnalyticsDisabled
	}
	if periodDays < 0 {
		return nil, errors.New("history: period must not be negative")
	}
	changes, err := s.ListChanges(ctx, s.periodStart(periodDays), 0)
	if err != nil {
		return nil, err
	}
	summary, err := s.db.Summary(s.projectID)
	if err != nil {
		return nil, err
	}

	v := &Velocity{
		PeriodDays:        periodDays,
		TotalChanges:      len(changes),
		LinesAdded:        summary.TotalLinesAdded,
		LinesRemoved:      summary.TotalLinesRemoved,
		NetLines:          summary.TotalLinesAdded - summary.TotalLinesRemoved,
		CategoryBreakdown: map[models.Category]int{},
		ImpactBreakdown:   map[models.Impact]int{},
	}
	if periodDays > 0 {
		v.ChangesPerDay = math.Round(float64(len(changes))/float64(periodDays)*10) / 10
	} else {
		v.ChangesPerDay = float64(len(changes))
	}
	for _, c := range changes {
		v.CategoryBreakdown[c.Category]++
		v.ImpactBreakdown[c.Impact]++
	}
	return v, nil
}

// ActivityTimeline counts changes per UTC calendar day (YYYY-MM-DD).
func (s *Service) ActivityTimeline(ctx context.Context, periodDays int) (map[string]int, error) {
	if !s.analytics {
		return nil, ErrAnalyticsDisabled
	}
	if periodDays < 0 {
		return nil, errors.New("history: period must not be negative")
	}
	changes, err := s.ListChanges(ctx, s.periodStart(periodDays), 0)
	if err != nil {
		return nil, err
	}
	timeline := map[string]int{}
	for _, c := range changes {
		timeline[c.Timestamp.UTC().Format(time.DateOnly)]++
	}
	return timeline, nil
}

func (s *Service) periodStart(days int) time.Time {
	return s.now().UTC().Truncate(24*time.Hour).AddDate(0, 0, -days)
}
