// Package registry manages the process-wide list of monitored projects.
package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/starford/devpulse/internal/storage"
)

// FileName is the registry file inside the global devpulse directory.
const FileName = "projects.yaml"

// Entry is one registered project.
type Entry struct {
	Path    string    `yaml:"path" json:"path"`
	Name    string    `yaml:"name" json:"name"`
	AddedAt time.Time `yaml:"added_at" json:"added_at"`
}

type document struct {
	Projects []Entry `yaml:"projects"`
}

// Registry is a handle over the registry file. Every mutation is a single
// read-modify-write under an exclusive file lock shared by all processes,
// committed with an atomic rename.
type Registry struct {
	path string
	mu   sync.Mutex
}

// New returns a registry stored at path.
func New(path string) *Registry {
	return &Registry{path: path}
}

// Path returns the registry file location.
func (r *Registry) Path() string {
	return r.path
}

// Load returns the registered projects in insertion order. A missing or
// unreadable file yields an empty list.
func (r *Registry) Load() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.read()
	if err != nil {
		return []Entry{}
	}
	return entries
}

// Update applies fn to the current entries and persists the result. A
// registry file that exists but cannot be parsed is reported instead of
// being overwritten.
func (r *Registry) Update(fn func([]Entry) ([]Entry, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock, err := acquireLock(r.path + LockSuffix)
	if err != nil {
		return err
	}
	defer lock.release()

	entries, err := r.read()
	if err != nil {
		return err
	}
	next, err := fn(entries)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(document{Projects: next})
	if err != nil {
		return fmt.Errorf("registry: encode: %w", err)
	}
	if err := storage.WriteAtomic(r.path, data, 0o644); err != nil {
		return fmt.Errorf("registry: write: %w", err)
	}
	return nil
}

// Add registers path under name. Registering an already known path is a no-op.
func (r *Registry) Add(path, name string) (Entry, error) {
	abs, err := Normalize(path)
	if err != nil {
		return Entry{}, err
	}
	added := Entry{Path: abs, Name: name, AddedAt: time.Now().UTC()}
	err = r.Update(func(entries []Entry) ([]Entry, error) {
		for _, e := range entries {
			if e.Path == abs {
				added = e
				return entries, nil
			}
		}
		return append(entries, added), nil
	})
	return added, err
}

// Remove unregisters path. It reports whether an entry was removed.
func (r *Registry) Remove(path string) (bool, error) {
	abs, err := Normalize(path)
	if err != nil {
		return false, err
	}
	removed := false
	err = r.Update(func(entries []Entry) ([]Entry, error) {
		out := entries[:0]
		for _, e := range entries {
			if e.Path == abs {
				removed = true
				continue
			}
			out = append(out, e)
		}
		return out, nil
	})
	return removed, err
}

// IsRegistered reports whether path is in the registry.
func (r *Registry) IsRegistered(path string) bool {
	abs, err := Normalize(path)
	if err != nil {
		return false
	}
	for _, e := range r.Load() {
		if e.Path == abs {
			return true
		}
	}
	return false
}

// Normalize returns the cleaned absolute form of path used as registry key.
func Normalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("registry: resolve %s: %w", path, err)
	}
	return filepath.Clean(abs), nil
}

func (r *Registry) read() ([]Entry, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("registry: read: %w", err)
	}
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("registry: parse %s: %w", r.path, err)
	}
	for i := range doc.Projects {
		doc.Projects[i].Path = filepath.Clean(doc.Projects[i].Path)
	}
	if doc.Projects == nil {
		doc.Projects = []Entry{}
	}
	return doc.Projects, nil
}
