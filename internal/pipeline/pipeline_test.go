package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/devpulse/internal/annotator"
	"github.com/starford/devpulse/internal/llm"
	"github.com/starford/devpulse/internal/models"
	"github.com/starford/devpulse/internal/projectconfig"
	"github.com/starford/devpulse/internal/store"
	"github.com/starford/devpulse/internal/testutil"
)

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

type fakeAnnotator struct {
	mu    sync.Mutex
	calls int
	fail  map[int]error
	seen  [][]annotator.FileChange
}

func (f *fakeAnnotator) Annotate(_ context.Context, files []annotator.FileChange, _ string, _ annotator.ProjectContext) (*annotator.Classification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.seen = append(f.seen, files)
	if err := f.fail[f.calls]; err != nil {
		return nil, err
	}
	return &annotator.Classification{
		Summary:                "Added login",
		Category:               models.CategoryFeature,
		Impact:                 models.ImpactHigh,
		AffectedAreas:          []string{"auth"},
		TechnicalDetails:       "New login handler",
		SuggestedDocumentation: "Document the login flow",
	}, nil
}

func (f *fakeAnnotator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeDiff struct{ diff string }

func (f fakeDiff) IsRepository(context.Context) bool            { return f.diff != "" }
func (f fakeDiff) UnstagedDiff(context.Context, string) string { return f.diff }

type fakePublisher struct {
	mu       sync.Mutex
	recorded []models.Change
	dropped  []string
}

func (f *fakePublisher) PublishChangeRecorded(_ string, c models.Change) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, c)
}

func (f *fakePublisher) PublishBatchDropped(_ string, reason string, _ int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropped = append(f.dropped, reason)
}

const loginDiff = `diff --git a/auth/login.go b/auth/login.go
index 1111111..2222222 100644
--- a/auth/login.go
+++ b/auth/login.go
@@ -1,2 +1,3 @@
 package auth
-func Login() {}
+func Login() error { return nil }
+func Logout() {}
`

func newPipeline(t *testing.T, ann Annotator, pub *fakePublisher) (*Pipeline, *store.DB, int64, string) {
	t.Helper()
	db := testutil.TestDB(t)
	root := t.TempDir()
	pid := testutil.TestProjectRow(t, db, root)
	cfg := Config{
		Name:        "shop",
		Root:        root,
		ProjectID:   pid,
		Context:     annotator.ProjectContext{Name: "shop"},
		QuietWindow: 100 * time.Millisecond,
		Stability:   50 * time.Millisecond,
		Store:       db,
		Diff:        fakeDiff{diff: loginDiff},
		Events:      pub,
		Logger:      slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
	if ann != nil {
		cfg.Annotator = ann
	}
	p, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return p, db, pid, root
}

func batch(paths ...string) []models.RawChangeEvent {
	out := make([]models.RawChangeEvent, 0, len(paths))
	for _, p := range paths {
		out = append(out, models.RawChangeEvent{Path: p, Type: models.EventChange, Timestamp: time.Now()})
	}
	return out
}

func TestProcess_RecordsChange(t *testing.T) {
	pub := &fakePublisher{}
	p, db, pid, _ := newPipeline(t, &fakeAnnotator{}, pub)

	p.process(batch("auth/login.go", "auth/session.go", "auth/login.go"))

	changes, err := db.ListChanges(pid, store.ListOptions{})
	if err != nil || len(changes) != 1 {
		t.Fatalf("changes = %d, %v", len(changes), err)
	}
	c, err := db.GetChange(changes[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if c.FilesChanged != 2 || len(c.Files) != 2 {
		t.Errorf("files changed = %d, details = %d", c.FilesChanged, len(c.Files))
	}
	if c.LinesAdded != 2 || c.LinesRemoved != 1 {
		t.Errorf("lines = +%d -%d, want +2 -1", c.LinesAdded, c.LinesRemoved)
	}
	if c.Category != models.CategoryFeature || c.BatchID == "" {
		t.Errorf("change = %+v", c)
	}
	if len(pub.recorded) != 1 || pub.recorded[0].ID != c.ID {
		t.Errorf("published = %+v", pub.recorded)
	}
}

func TestProcess_DocSuggestions(t *testing.T) {
	for _, enabled := range []bool{false, true} {
		p, db, pid, _ := newPipeline(t, &fakeAnnotator{}, &fakePublisher{})
		p.cfg.DocSuggestions = enabled

		p.process(batch("auth/login.go"))

		changes, err := db.ListChanges(pid, store.ListOptions{})
		if err != nil || len(changes) != 1 {
			t.Fatalf("changes = %d, %v", len(changes), err)
		}
		got := changes[0].Description
		if enabled && !strings.Contains(got, "Document the login flow") {
			t.Errorf("enabled: description = %q, want suggestion", got)
		}
		if !enabled && got != "New login handler" {
			t.Errorf("disabled: description = %q, want technical details only", got)
		}
	}
}

func TestProcess_GatewayFailureLeavesNoRow(t *testing.T) {
	pub := &fakePublisher{}
	ann := &fakeAnnotator{fail: map[int]error{
		1: &llm.APIError{Provider: llm.Groq, StatusCode: 503, Body: "unavailable"},
	}}
	p, db, pid, _ := newPipeline(t, ann, pub)

	p.process(batch("a.go", "b.go"))
	changes, _ := db.ListChanges(pid, store.ListOptions{})
	if len(changes) != 0 {
		t.Fatalf("failed batch created %d change rows", len(changes))
	}
	spots, _ := db.FileHotspots(pid, 10)
	if len(spots) != 0 {
		t.Errorf("failed batch left file details: %+v", spots)
	}
	if len(pub.dropped) != 1 {
		t.Errorf("dropped events = %d, want 1", len(pub.dropped))
	}

	// The next batch still goes through.
	p.process(batch("c.go"))
	changes, _ = db.ListChanges(pid, store.ListOptions{})
	if len(changes) != 1 {
		t.Errorf("changes after recovery = %d, want 1", len(changes))
	}
}

type failingStore struct {
	*store.DB
}

func (failingStore) RecordChange(models.Change) (int64, error) {
	return 0, errors.New("disk full")
}

func TestProcess_StoreFailureDropsBatch(t *testing.T) {
	pub := &fakePublisher{}
	p, db, _, _ := newPipeline(t, &fakeAnnotator{}, pub)
	p.cfg.Store = failingStore{DB: db}

	p.process(batch("a.go"))
	if len(pub.dropped) != 1 || len(pub.recorded) != 0 {
		t.Errorf("dropped=%v recorded=%v", pub.dropped, pub.recorded)
	}
}

func TestProcess_WatchOnlySkipsAnalysis(t *testing.T) {
	pub := &fakePublisher{}
	p, db, pid, _ := newPipeline(t, nil, pub)
	if p.Analyzing() {
		t.Fatal("pipeline without annotator should be watch-only")
	}
	p.process(batch("a.go"))
	changes, _ := db.ListChanges(pid, store.ListOptions{})
	if len(changes) != 0 || len(pub.dropped) != 0 {
		t.Errorf("watch-only pipeline recorded %d changes", len(changes))
	}
}

func TestPipeline_EndToEnd(t *testing.T) {
	pub := &fakePublisher{}
	ann := &fakeAnnotator{}
	p, db, pid, root := newPipeline(t, ann, pub)
	p.cfg.ScanDebt = true
	if err := os.WriteFile(filepath.Join(root, "existing.go"), []byte("// TODO tidy\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if p.State() != StateWatching {
		t.Errorf("state = %s, want watching", p.State())
	}
	if err := p.Start(ctx); err == nil {
		t.Error("second Start should fail")
	}

	eventually(t, 3*time.Second, 20*time.Millisecond, func() bool {
		items, _ := db.OpenTechnicalDebt(pid)
		return len(items) == 1
	}, "startup debt scan not persisted")

	time.Sleep(50 * time.Millisecond)
	_ = os.WriteFile(filepath.Join(root, "one.go"), []byte("package a"), 0o644)
	_ = os.WriteFile(filepath.Join(root, "two.go"), []byte("package a"), 0o644)

	eventually(t, 5*time.Second, 20*time.Millisecond, func() bool {
		changes, _ := db.ListChanges(pid, store.ListOptions{})
		return len(changes) == 1
	}, "burst was not recorded as one change")

	ann.mu.Lock()
	if len(ann.seen) != 1 || len(ann.seen[0]) != 2 {
		t.Errorf("annotator saw %v", ann.seen)
	}
	ann.mu.Unlock()

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := p.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if p.State() != StateStopped {
		t.Errorf("state = %s, want stopped", p.State())
	}

	// No analysis after stop.
	_ = os.WriteFile(filepath.Join(root, "three.go"), []byte("package a"), 0o644)
	time.Sleep(300 * time.Millisecond)
	if ann.callCount() != 1 {
		t.Errorf("annotator calls = %d after stop", ann.callCount())
	}
}

func TestPipeline_StateDirIgnoredWithCustomPatterns(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(projectconfig.Dir(root), 0o755); err != nil {
		t.Fatal(err)
	}
	db, err := store.Open(projectconfig.DBPath(root))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	pid := testutil.TestProjectRow(t, db, root)

	ann := &fakeAnnotator{}
	p, err := New(Config{
		Name:           "shop",
		Root:           root,
		ProjectID:      pid,
		QuietWindow:    100 * time.Millisecond,
		Stability:      50 * time.Millisecond,
		IgnorePatterns: []string{"*.log"},
		Store:          db,
		Annotator:      ann,
		Diff:           fakeDiff{},
		Logger:         slog.New(slog.NewJSONHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		_ = p.Stop(stopCtx)
	}()

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(root, "one.go"), []byte("package a"), 0o644); err != nil {
		t.Fatal(err)
	}

	eventually(t, 3*time.Second, 20*time.Millisecond, func() bool {
		return ann.callCount() == 1
	}, "edit was not analysed")

	// Store writes land in the state directory and must not come back as batches.
	time.Sleep(1500 * time.Millisecond)
	ann.mu.Lock()
	defer ann.mu.Unlock()
	if ann.calls != 1 {
		t.Errorf("annotator calls = %d, want 1; batches: %v", ann.calls, ann.seen)
	}
}
