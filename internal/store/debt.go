package store

import (
	"fmt"
	"time"

	"github.com/starford/devpulse/internal/models"
)

// ReplaceTechnicalDebt clears every debt item of the project and inserts
// items in the same transaction, so the stored set always reflects exactly
// one scan.
func (db *DB) ReplaceTechnicalDebt(projectID int64, items []models.TechnicalDebtItem) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(`DELETE FROM technical_debt WHERE project_id = ?`, projectID); err != nil {
		return fmt.Errorf("store: clear technical debt: %w", err)
	}

	if len(items) > 0 {
		stmt, err := tx.Prepare(`
			INSERT INTO technical_debt (project_id, type, severity, file_path, description, detected_at, status)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("store: prepare debt insert: %w", err)
		}
		defer stmt.Close()

		now := time.Now().UTC()
		for _, it := range items {
			detected := it.DetectedAt
			if detected.IsZero() {
				detected = now
			}
			status := it.Status
			if status == "" {
				status = models.DebtOpen
			}
			if _, err := stmt.Exec(projectID, it.Type, it.Severity, it.FilePath, it.Description, detected.UTC(), status); err != nil {
				return fmt.Errorf("store: insert debt item: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit technical debt: %w", err)
	}
	return nil
}

// OpenTechnicalDebt returns the project's open debt items, newest first.
func (db *DB) OpenTechnicalDebt(projectID int64) ([]models.TechnicalDebtItem, error) {
	rows, err := db.conn.Query(`
		SELECT id, project_id, type, severity, file_path, description, detected_at, status
		FROM technical_debt
		WHERE project_id = ? AND status = ?
		ORDER BY detected_at DESC, id DESC
	`, projectID, models.DebtOpen)
	if err != nil {
		return nil, fmt.Errorf("store: open technical debt: %w", err)
	}
	defer rows.Close()

	var out []models.TechnicalDebtItem
	for rows.Next() {
		var it models.TechnicalDebtItem
		if err := rows.Scan(&it.ID, &it.ProjectID, &it.Type, &it.Severity, &it.FilePath,
			&it.Description, &it.DetectedAt, &it.Status); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}
