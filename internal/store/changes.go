package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/starford/devpulse/internal/apperr"
	"github.com/starford/devpulse/internal/models"
)

// ListOptions filters ListChanges.
type ListOptions struct {
	Since time.Time // zero means no lower bound
	Limit int       // <= 0 means no limit
}

// RecordChange inserts a change together with its file details in a single
// transaction. FilesChanged and the line totals are derived from c.Files.
// Either the change and every detail row are committed or nothing is.
func (db *DB) RecordChange(c models.Change) (int64, error) {
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now()
	}
	if c.AffectedAreas == nil {
		c.AffectedAreas = []string{}
	}
	c.FilesChanged = len(c.Files)
	c.LinesAdded, c.LinesRemoved = 0, 0
	for _, f := range c.Files {
		c.LinesAdded += f.LinesAdded
		c.LinesRemoved += f.LinesRemoved
	}
	areasJSON, err := json.Marshal(c.AffectedAreas)
	if err != nil {
		return 0, fmt.Errorf("store: encode affected areas: %w", err)
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	res, err := tx.Exec(`
		INSERT INTO changes (project_id, batch_id, timestamp, category, summary, description,
			impact, affected_areas, lines_added, lines_removed, files_changed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ProjectID, c.BatchID, c.Timestamp.UTC(), string(c.Category), c.Summary, c.Description,
		string(c.Impact), string(areasJSON), c.LinesAdded, c.LinesRemoved, c.FilesChanged)
	if err != nil {
		return 0, fmt.Errorf("store: insert change: %w", err)
	}
	changeID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: change id: %w", err)
	}

	if len(c.Files) > 0 {
		stmt, err := tx.Prepare(`
			INSERT INTO file_changes (change_id, file_path, change_type, lines_added, lines_removed)
			VALUES (?, ?, ?, ?, ?)
		`)
		if err != nil {
			return 0, fmt.Errorf("store: prepare file change insert: %w", err)
		}
		defer stmt.Close()
		for _, f := range c.Files {
			if _, err := stmt.Exec(changeID, f.FilePath, string(f.ChangeType), f.LinesAdded, f.LinesRemoved); err != nil {
				return 0, fmt.Errorf("store: insert file change %s: %w", f.FilePath, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit change: %w", err)
	}
	return changeID, nil
}

// GetChange returns one change with its file details.
func (db *DB) GetChange(id int64) (*models.Change, error) {
	row := db.conn.QueryRow(`
		SELECT id, project_id, batch_id, timestamp, category, summary, description, impact,
			affected_areas, lines_added, lines_removed, files_changed
		FROM changes WHERE id = ?
	`, id)
	c, err := scanChange(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get change: %w", err)
	}

	rows, err := db.conn.Query(`
		SELECT id, change_id, file_path, change_type, lines_added, lines_removed
		FROM file_changes WHERE change_id = ? ORDER BY id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("store: file changes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var f models.FileChangeDetail
		var ct string
		if err := rows.Scan(&f.ID, &f.ChangeID, &f.FilePath, &ct, &f.LinesAdded, &f.LinesRemoved); err != nil {
			return nil, err
		}
		f.ChangeType = models.ChangeType(ct)
		c.Files = append(c.Files, f)
	}
	return c, rows.Err()
}

// ListChanges returns a project's changes, newest first.
func (db *DB) ListChanges(projectID int64, opts ListOptions) ([]models.Change, error) {
	query := `
		SELECT id, project_id, batch_id, timestamp, category, summary, description, impact,
			affected_areas, lines_added, lines_removed, files_changed
		FROM changes WHERE project_id = ?`
	args := []any{projectID}
	if !opts.Since.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, opts.Since.UTC())
	}
	query += ` ORDER BY timestamp DESC, id DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list changes: %w", err)
	}
	defer rows.Close()

	var out []models.Change
	for rows.Next() {
		c, err := scanChange(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// Summary aggregates counts and line totals over all of a project's changes.
func (db *DB) Summary(projectID int64) (*models.ChangeSummary, error) {
	s := &models.ChangeSummary{ByCategory: make(map[models.Category]int)}
	err := db.conn.QueryRow(`
		SELECT count(*), coalesce(sum(lines_added), 0), coalesce(sum(lines_removed), 0)
		FROM changes WHERE project_id = ?
	`, projectID).Scan(&s.TotalChanges, &s.TotalLinesAdded, &s.TotalLinesRemoved)
	if err != nil {
		return nil, fmt.Errorf("store: summary totals: %w", err)
	}

	rows, err := db.conn.Query(`
		SELECT category, count(*) FROM changes WHERE project_id = ? GROUP BY category
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: summary categories: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var cat string
		var n int
		if err := rows.Scan(&cat, &n); err != nil {
			return nil, err
		}
		s.ByCategory[models.Category(cat)] = n
	}
	return s, rows.Err()
}

// FileHotspots ranks file paths by the number of changes that touched them.
func (db *DB) FileHotspots(projectID int64, limit int) ([]models.FileHotspot, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := db.conn.Query(`
		SELECT fc.file_path, count(DISTINCT fc.change_id) AS n
		FROM file_changes fc
		JOIN changes c ON c.id = fc.change_id
		WHERE c.project_id = ?
		GROUP BY fc.file_path
		ORDER BY n DESC, fc.file_path
		LIMIT ?
	`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: hotspots: %w", err)
	}
	defer rows.Close()

	var out []models.FileHotspot
	for rows.Next() {
		var h models.FileHotspot
		if err := rows.Scan(&h.FilePath, &h.ChangeCount); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func scanChange(r rowScanner) (*models.Change, error) {
	var c models.Change
	var category, impact, areas string
	err := r.Scan(&c.ID, &c.ProjectID, &c.BatchID, &c.Timestamp, &category, &c.Summary, &c.Description,
		&impact, &areas, &c.LinesAdded, &c.LinesRemoved, &c.FilesChanged)
	if err != nil {
		return nil, err
	}
	c.Category = models.Category(category)
	c.Impact = models.Impact(impact)
	if err := json.Unmarshal([]byte(areas), &c.AffectedAreas); err != nil || c.AffectedAreas == nil {
		c.AffectedAreas = []string{}
	}
	return &c, nil
}
