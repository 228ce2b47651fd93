package store

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/starford/devpulse/internal/apperr"
	"github.com/starford/devpulse/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "devpulse-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testProject(t *testing.T, db *DB) int64 {
	t.Helper()
	id, err := db.UpsertProject(models.Project{
		Path:         "/work/app",
		Name:         "app",
		TechStack:    []string{"go", "sqlite"},
		Architecture: "daemon",
	})
	if err != nil {
		t.Fatalf("UpsertProject: %v", err)
	}
	return id
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	for _, table := range []string{"projects", "changes", "file_changes", "technical_debt"} {
		var count int
		if err := db.conn.QueryRow(`SELECT count(*) FROM ` + table).Scan(&count); err != nil {
			t.Fatalf("%s table missing: %v", table, err)
		}
	}
}

func TestUpsertProject_SamePathKeepsIdentity(t *testing.T) {
	db := testDB(t)
	first := testProject(t, db)

	second, err := db.UpsertProject(models.Project{Path: "/work/app", Name: "renamed", Architecture: "cli"})
	if err != nil {
		t.Fatalf("UpsertProject: %v", err)
	}
	if first != second {
		t.Errorf("id changed on upsert: %d -> %d", first, second)
	}

	p, err := db.GetProject("/work/app")
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if p.Name != "renamed" || p.Architecture != "cli" {
		t.Errorf("project not updated: %+v", p)
	}
	projects, _ := db.ListProjects()
	if len(projects) != 1 {
		t.Errorf("expected 1 project row, got %d", len(projects))
	}
}

func TestGetProject_NotFound(t *testing.T) {
	db := testDB(t)
	_, err := db.GetProject("/nowhere")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRecordChange_WithDetails(t *testing.T) {
	db := testDB(t)
	pid := testProject(t, db)

	id, err := db.RecordChange(models.Change{
		ProjectID:     pid,
		BatchID:       "batch-1",
		Category:      models.CategoryFeature,
		Summary:       "Added login",
		Impact:        models.ImpactHigh,
		AffectedAreas: []string{"auth"},
		Files: []models.FileChangeDetail{
			{FilePath: "auth/login.go", ChangeType: models.ChangeAdded, LinesAdded: 40},
			{FilePath: "auth/session.go", ChangeType: models.ChangeModified, LinesAdded: 3, LinesRemoved: 1},
			{FilePath: "old.go", ChangeType: models.ChangeDeleted, LinesRemoved: 12},
		},
	})
	if err != nil {
		t.Fatalf("RecordChange: %v", err)
	}

	got, err := db.GetChange(id)
	if err != nil {
		t.Fatalf("GetChange: %v", err)
	}
	if got.FilesChanged != 3 {
		t.Errorf("FilesChanged = %d, want 3", got.FilesChanged)
	}
	if len(got.Files) != 3 {
		t.Fatalf("detail rows = %d, want 3", len(got.Files))
	}
	for _, f := range got.Files {
		if f.ChangeID != id {
			t.Errorf("detail %s references change %d, want %d", f.FilePath, f.ChangeID, id)
		}
	}
	if got.LinesAdded != 43 || got.LinesRemoved != 13 {
		t.Errorf("line totals = +%d -%d, want +43 -13", got.LinesAdded, got.LinesRemoved)
	}
	if len(got.AffectedAreas) != 1 || got.AffectedAreas[0] != "auth" {
		t.Errorf("affected areas = %v", got.AffectedAreas)
	}
}

func TestRecordChange_FailedDetailLeavesNoOrphan(t *testing.T) {
	db := testDB(t)
	pid := testProject(t, db)

	_, err := db.RecordChange(models.Change{
		ProjectID: pid,
		Category:  models.CategoryFix,
		Summary:   "broken",
		Impact:    models.ImpactLow,
		Files: []models.FileChangeDetail{
			{FilePath: "a.go", ChangeType: models.ChangeModified},
			{FilePath: "b.go", ChangeType: "renamed"}, // violates CHECK constraint
		},
	})
	if err == nil {
		t.Fatal("expected error for invalid detail")
	}

	var changes, details int
	_ = db.conn.QueryRow(`SELECT count(*) FROM changes`).Scan(&changes)
	_ = db.conn.QueryRow(`SELECT count(*) FROM file_changes`).Scan(&details)
	if changes != 0 || details != 0 {
		t.Errorf("partial write left %d changes and %d details", changes, details)
	}
}

func TestListChanges_NewestFirstSinceAndLimit(t *testing.T) {
	db := testDB(t)
	pid := testProject(t, db)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, summary := range []string{"first", "second", "third"} {
		_, err := db.RecordChange(models.Change{
			ProjectID: pid,
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Category:  models.CategoryRefactor,
			Summary:   summary,
			Impact:    models.ImpactMedium,
		})
		if err != nil {
			t.Fatalf("RecordChange: %v", err)
		}
	}

	all, err := db.ListChanges(pid, ListOptions{})
	if err != nil {
		t.Fatalf("ListChanges: %v", err)
	}
	if len(all) != 3 || all[0].Summary != "third" || all[2].Summary != "first" {
		t.Fatalf("unexpected order: %+v", all)
	}

	since, _ := db.ListChanges(pid, ListOptions{Since: base.Add(30 * time.Minute)})
	if len(since) != 2 {
		t.Errorf("since filter returned %d, want 2", len(since))
	}

	limited, _ := db.ListChanges(pid, ListOptions{Limit: 1})
	if len(limited) != 1 || limited[0].Summary != "third" {
		t.Errorf("limit returned %+v", limited)
	}
}

func TestSummaryAndHotspots(t *testing.T) {
	db := testDB(t)
	pid := testProject(t, db)

	record := func(cat models.Category, files ...string) {
		t.Helper()
		var details []models.FileChangeDetail
		for _, f := range files {
			details = append(details, models.FileChangeDetail{FilePath: f, ChangeType: models.ChangeModified, LinesAdded: 2, LinesRemoved: 1})
		}
		if _, err := db.RecordChange(models.Change{
			ProjectID: pid, Category: cat, Summary: "s", Impact: models.ImpactLow, Files: details,
		}); err != nil {
			t.Fatalf("RecordChange: %v", err)
		}
	}
	record(models.CategoryFeature, "main.go", "api.go")
	record(models.CategoryFix, "main.go")
	record(models.CategoryFix, "main.go", "db.go")

	s, err := db.Summary(pid)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if s.TotalChanges != 3 || s.TotalLinesAdded != 10 || s.TotalLinesRemoved != 5 {
		t.Errorf("summary = %+v", s)
	}
	if s.ByCategory[models.CategoryFix] != 2 || s.ByCategory[models.CategoryFeature] != 1 {
		t.Errorf("by category = %v", s.ByCategory)
	}

	hot, err := db.FileHotspots(pid, 2)
	if err != nil {
		t.Fatalf("FileHotspots: %v", err)
	}
	if len(hot) != 2 {
		t.Fatalf("hotspots = %+v, want 2 entries", hot)
	}
	if hot[0].FilePath != "main.go" || hot[0].ChangeCount != 3 {
		t.Errorf("top hotspot = %+v, want main.go x3", hot[0])
	}
}

func TestReplaceTechnicalDebt_NoAccumulation(t *testing.T) {
	db := testDB(t)
	pid := testProject(t, db)

	first := []models.TechnicalDebtItem{
		{Type: "large_file", Severity: "medium", FilePath: "a.go", Description: "big"},
		{Type: "todo_comment", Severity: "low", FilePath: "b.go", Description: "Line 1: // TODO"},
		{Type: "todo_comment", Severity: "low", FilePath: "c.go", Description: "Line 9: // FIXME"},
	}
	if err := db.ReplaceTechnicalDebt(pid, first); err != nil {
		t.Fatalf("first scan: %v", err)
	}
	second := []models.TechnicalDebtItem{
		{Type: "todo_comment", Severity: "low", FilePath: "c.go", Description: "Line 9: // FIXME"},
	}
	if err := db.ReplaceTechnicalDebt(pid, second); err != nil {
		t.Fatalf("second scan: %v", err)
	}

	items, err := db.OpenTechnicalDebt(pid)
	if err != nil {
		t.Fatalf("OpenTechnicalDebt: %v", err)
	}
	if len(items) != 1 || items[0].FilePath != "c.go" {
		t.Errorf("items = %+v, want only the second scan", items)
	}
	if items[0].Status != models.DebtOpen {
		t.Errorf("status = %q, want open", items[0].Status)
	}
}
