// Package testutil provides shared test helpers for setting up projects and
// change stores.
package testutil

import (
	"os"
	"testing"

	"github.com/starford/devpulse/internal/models"
	"github.com/starford/devpulse/internal/projectconfig"
	"github.com/starford/devpulse/internal/store"
)

// TestDB creates a temporary change store that is automatically cleaned up.
func TestDB(t *testing.T) *store.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "devpulse-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := store.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestProjectRow upserts a project row for root and returns its identity.
func TestProjectRow(t *testing.T, db *store.DB, root string) int64 {
	t.Helper()
	id, err := db.UpsertProject(models.Project{Path: root, Name: "test", TechStack: []string{"go"}})
	if err != nil {
		t.Fatal(err)
	}
	return id
}

// TestProject creates an initialised project directory. mutate may adjust
// the default configuration before it is written.
func TestProject(t *testing.T, mutate func(*projectconfig.Config)) (string, *projectconfig.Config) {
	t.Helper()
	root := t.TempDir()
	cfg := projectconfig.Default("test")
	if mutate != nil {
		mutate(cfg)
	}
	if err := projectconfig.Save(root, cfg); err != nil {
		t.Fatal(err)
	}
	return root, cfg
}
