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

// UpsertProject inserts the project or updates the row with the same path,
// and returns its identity.
func (db *DB) UpsertProject(p models.Project) (int64, error) {
	if p.TechStack == nil {
		p.TechStack = []string{}
	}
	stackJSON, err := json.Marshal(p.TechStack)
	if err != nil {
		return 0, fmt.Errorf("store: encode tech stack: %w", err)
	}
	now := time.Now().UTC()

	var id int64
	err = db.conn.QueryRow(`
		INSERT INTO projects (name, path, tech_stack, architecture, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			name         = excluded.name,
			tech_stack   = excluded.tech_stack,
			architecture = excluded.architecture,
			updated_at   = excluded.updated_at
		RETURNING id
	`, p.Name, p.Path, string(stackJSON), p.Architecture, now, now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: upsert project: %w", err)
	}
	return id, nil
}

// GetProject returns the project registered at path.
func (db *DB) GetProject(path string) (*models.Project, error) {
	row := db.conn.QueryRow(`
		SELECT id, name, path, tech_stack, architecture, created_at, updated_at
		FROM projects WHERE path = ?
	`, path)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get project: %w", err)
	}
	return p, nil
}

// ListProjects returns every project ordered by name.
func (db *DB) ListProjects() ([]models.Project, error) {
	rows, err := db.conn.Query(`
		SELECT id, name, path, tech_stack, architecture, created_at, updated_at
		FROM projects ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list projects: %w", err)
	}
	defer rows.Close()

	var out []models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(r rowScanner) (*models.Project, error) {
	var p models.Project
	var stack string
	if err := r.Scan(&p.ID, &p.Name, &p.Path, &stack, &p.Architecture, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(stack), &p.TechStack); err != nil || p.TechStack == nil {
		p.TechStack = []string{}
	}
	return &p, nil
}
