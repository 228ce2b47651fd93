package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteAtomic_CreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "state.yaml")
	if err := WriteAtomic(path, []byte("deep"), 0o644); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "deep" {
		t.Errorf("content = %q", got)
	}
}

func TestWriteAtomic_OverwriteLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "projects.yaml")

	_ = WriteAtomic(path, []byte("original content"), 0o644)
	if err := WriteAtomic(path, []byte("updated content"), 0o644); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}
	got, _ := os.ReadFile(path)
	if string(got) != "updated content" {
		t.Errorf("expected updated content, got %q", got)
	}

	matches, _ := filepath.Glob(filepath.Join(dir, ".devpulse-tmp-*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestWriteAtomic_Permissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.env")
	if err := WriteAtomic(path, []byte("KEY=x"), 0o600); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("perm = %v, want 0600", info.Mode().Perm())
	}
}

func TestWriteAtomic_ParentIsFile(t *testing.T) {
	f, _ := os.CreateTemp("", "devpulse-test-*")
	_ = f.Close()
	defer os.Remove(f.Name())
	if err := WriteAtomic(filepath.Join(f.Name(), "child"), []byte("x"), 0o644); err == nil {
		t.Error("expected error when parent is a file")
	}
}
