// Package store provides the SQLite-backed change history for one project.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS projects (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	name         TEXT NOT NULL,
	path         TEXT NOT NULL UNIQUE,
	tech_stack   TEXT NOT NULL DEFAULT '[]',
	architecture TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS changes (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id     INTEGER NOT NULL REFERENCES projects(id),
	batch_id       TEXT NOT NULL DEFAULT '',
	timestamp      DATETIME NOT NULL,
	category       TEXT NOT NULL CHECK (category IN ('feature','fix','refactor','docs','style','test')),
	summary        TEXT NOT NULL,
	description    TEXT NOT NULL DEFAULT '',
	impact         TEXT NOT NULL CHECK (impact IN ('low','medium','high')),
	affected_areas TEXT NOT NULL DEFAULT '[]',
	lines_added    INTEGER NOT NULL DEFAULT 0,
	lines_removed  INTEGER NOT NULL DEFAULT 0,
	files_changed  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS file_changes (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	change_id     INTEGER NOT NULL REFERENCES changes(id),
	file_path     TEXT NOT NULL,
	change_type   TEXT NOT NULL CHECK (change_type IN ('added','modified','deleted')),
	lines_added   INTEGER NOT NULL DEFAULT 0,
	lines_removed INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS technical_debt (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id  INTEGER NOT NULL REFERENCES projects(id),
	type        TEXT NOT NULL,
	severity    TEXT NOT NULL,
	file_path   TEXT NOT NULL,
	description TEXT NOT NULL,
	detected_at DATETIME NOT NULL,
	status      TEXT NOT NULL DEFAULT 'open'
);

CREATE INDEX IF NOT EXISTS idx_changes_project_timestamp ON changes(project_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_file_changes_change ON file_changes(change_id);
CREATE INDEX IF NOT EXISTS idx_technical_debt_project ON technical_debt(project_id, status);
`

// DB wraps a sql.DB with change-history operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
// synchronous=FULL makes every committed transaction durable before the
// call that issued it returns.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
