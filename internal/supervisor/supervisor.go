// Package supervisor attaches a pipeline to every registered project and
// owns their lifecycle.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/devpulse/internal/annotator"
	"github.com/starford/devpulse/internal/apperr"
	"github.com/starford/devpulse/internal/credentials"
	"github.com/starford/devpulse/internal/history"
	"github.com/starford/devpulse/internal/llm"
	"github.com/starford/devpulse/internal/models"
	"github.com/starford/devpulse/internal/pipeline"
	"github.com/starford/devpulse/internal/projectconfig"
	"github.com/starford/devpulse/internal/registry"
	"github.com/starford/devpulse/internal/store"
)

// Defaults applied when Options leave a field zero.
const (
	DefaultReloadInterval  = 60 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

// BackendFactory builds a model backend for a project.
type BackendFactory func(llm.Config) (llm.Backend, error)

// Options configures a Supervisor.
type Options struct {
	Registry        *registry.Registry
	Events          pipeline.Publisher
	ReloadInterval  time.Duration
	ShutdownTimeout time.Duration
	// NewBackend defaults to llm.New.
	NewBackend BackendFactory
	Logger     *slog.Logger
}

// Status describes one attached project.
type Status struct {
	Name      string         `json:"name"`
	Path      string         `json:"path"`
	State     pipeline.State `json:"state"`
	Analyzing bool           `json:"analyzing"`
}

type attached struct {
	entry registry.Entry
	pipe  *pipeline.Pipeline
	db    *store.DB
	svc   *history.Service
}

// Supervisor runs one pipeline per registered project.
type Supervisor struct {
	opts   Options
	logger *slog.Logger

	mu       sync.RWMutex
	projects []*attached
	seen     map[string]bool
	started  bool
}

// New creates a supervisor. Nothing is attached until Start.
func New(opts Options) *Supervisor {
	if opts.ReloadInterval <= 0 {
		opts.ReloadInterval = DefaultReloadInterval
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	if opts.NewBackend == nil {
		opts.NewBackend = llm.New
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		opts:   opts,
		logger: logger,
		seen:   map[string]bool{},
	}
}

// Run attaches every registered project, re-reads the registry on every
// reload tick and shuts everything down once ctx is done.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(s.opts.ReloadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
			defer cancel()
			return s.Shutdown(shutdownCtx)
		case <-ticker.C:
			s.Reload()
		}
	}
}

// Start attaches a pipeline to every project in the registry. Projects that
// cannot be attached are logged and skipped.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("supervisor: already started")
	}
	s.started = true
	s.mu.Unlock()

	entries := s.opts.Registry.Load()
	s.logger.Info("supervisor: starting", slog.Int("registered", len(entries)))

	for _, e := range entries {
		s.mu.Lock()
		s.seen[e.Path] = true
		s.mu.Unlock()

		a, err := s.attach(ctx, e)
		if err != nil {
			s.logger.Warn("supervisor: project skipped",
				slog.String("project", e.Name),
				slog.String("path", e.Path),
				slog.String("error", err.Error()))
			continue
		}
		s.mu.Lock()
		s.projects = append(s.projects, a)
		s.mu.Unlock()
	}

	s.logger.Info("supervisor: started", slog.Int("attached", len(s.Snapshot())))
	return nil
}

// Reload re-reads the registry and logs projects registered since start.
// They are attached on the next daemon start.
func (s *Supervisor) Reload() []registry.Entry {
	var added []registry.Entry
	for _, e := range s.opts.Registry.Load() {
		s.mu.Lock()
		isNew := !s.seen[e.Path]
		s.seen[e.Path] = true
		s.mu.Unlock()
		if isNew {
			added = append(added, e)
			s.logger.Info("supervisor: new project registered, restart the daemon to monitor it",
				slog.String("project", e.Name),
				slog.String("path", e.Path))
		}
	}
	return added
}

// Shutdown stops every pipeline and closes its store. In-flight analyses may
// finish until ctx is done.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	projects := s.projects
	s.projects = nil
	s.mu.Unlock()

	var mu sync.Mutex
	var errs []error
	var g errgroup.Group
	for _, a := range projects {
		g.Go(func() error {
			err := a.pipe.Stop(ctx)
			if cerr := a.db.Close(); cerr != nil {
				err = errors.Join(err, cerr)
			}
			if err != nil {
				s.logger.Error("supervisor: project shutdown", slog.String("project", a.entry.Name), slog.String("error", err.Error()))
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", a.entry.Name, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("supervisor: stopped", slog.Int("projects", len(projects)))
	return errors.Join(errs...)
}

// Snapshot lists the attached projects in registry order.
func (s *Supervisor) Snapshot() []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Status, 0, len(s.projects))
	for _, a := range s.projects {
		out = append(out, Status{
			Name:      a.entry.Name,
			Path:      a.entry.Path,
			State:     a.pipe.State(),
			Analyzing: a.pipe.Analyzing(),
		})
	}
	return out
}

// History returns the read-side service of the attached project with the
// given name or path.
func (s *Supervisor) History(nameOrPath string) (*history.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.projects {
		if a.entry.Name == nameOrPath || a.entry.Path == nameOrPath {
			return a.svc, nil
		}
	}
	return nil, fmt.Errorf("project %q: %w", nameOrPath, apperr.ErrNotFound)
}

func (s *Supervisor) attach(ctx context.Context, e registry.Entry) (*attached, error) {
	info, err := os.Stat(e.Path)
	if err != nil || !info.IsDir() {
		return nil, errors.New("project directory no longer exists")
	}
	if !projectconfig.Exists(e.Path) {
		return nil, errors.New("project is not initialised")
	}
	cfg, err := projectconfig.Load(e.Path)
	if err != nil {
		return nil, err
	}

	name := e.Name
	if name == "" {
		name = cfg.Project.Name
	}
	logger := s.logger.With(slog.String("project", name))

	db, projectID, err := OpenStore(e.Path, name, cfg)
	if err != nil {
		return nil, err
	}

	pc := pipeline.Config{
		Name:      name,
		Root:      e.Path,
		ProjectID: projectID,
		Context: annotator.ProjectContext{
			Name:         name,
			TechStack:    cfg.Project.TechStack,
			Architecture: cfg.Project.Architecture,
		},
		QuietWindow:    cfg.QuietWindow,
		IgnorePatterns: cfg.IgnorePatterns,
		ScanDebt:       cfg.Features.TechnicalDebt,
		DocSuggestions: cfg.Features.AutoDocumentation,
		Store:          db,
		Events:         s.opts.Events,
		Logger:         s.logger,
	}
	if ann := s.annotatorFor(e.Path, cfg, logger); ann != nil {
		pc.Annotator = ann
	}

	p, err := pipeline.New(pc)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := p.Start(ctx); err != nil {
		db.Close()
		return nil, err
	}
	e.Name = name
	return &attached{entry: e, pipe: p, db: db, svc: history.NewService(db, projectID, history.WithAnalytics(cfg.Features.Analytics))}, nil
}

// OpenStore opens the change store of the project rooted at root and
// records the project row. The caller closes the store.
func OpenStore(root, name string, cfg *projectconfig.Config) (*store.DB, int64, error) {
	db, err := store.Open(projectconfig.DBPath(root))
	if err != nil {
		return nil, 0, err
	}
	projectID, err := db.UpsertProject(models.Project{
		Path:         root,
		Name:         name,
		TechStack:    cfg.Project.TechStack,
		Architecture: cfg.Project.Architecture,
	})
	if err != nil {
		db.Close()
		return nil, 0, err
	}
	return db, projectID, nil
}

// annotatorFor returns nil when the project has no usable credential; its
// pipeline then watches without analysing.
func (s *Supervisor) annotatorFor(root string, cfg *projectconfig.Config, logger *slog.Logger) *annotator.Annotator {
	key, ok := credentials.Lookup(root, cfg.Provider)
	if !ok {
		logger.Warn("supervisor: no credential configured, watching without analysis",
			slog.String("provider", string(cfg.Provider)),
			slog.String("key", credentials.EnvKey(cfg.Provider)))
		return nil
	}
	backend, err := s.opts.NewBackend(llm.Config{
		Provider: cfg.Provider,
		APIKey:   key,
		Model:    cfg.Model,
		BaseURL:  cfg.BaseURL,
		Region:   cfg.Region,
	})
	if err != nil {
		logger.Warn("supervisor: model backend unavailable, watching without analysis",
			slog.String("error", err.Error()))
		return nil
	}
	return annotator.New(backend, logger)
}
