// Package source turns filesystem notifications under a project root into
// typed add/change/unlink events with root-relative paths.
package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/devpulse/internal/models"
)

// Defaults for write stabilisation.
const (
	DefaultStabilityThreshold = 500 * time.Millisecond
	DefaultPollInterval       = 100 * time.Millisecond
)

// Options configures a Source.
type Options struct {
	IgnorePatterns []string
	// StabilityThreshold is how long a file's size and mtime must stay
	// unchanged before its add/change event is emitted.
	StabilityThreshold time.Duration
	PollInterval       time.Duration
	Logger             *slog.Logger
}

// Source watches a directory tree. Events and errors are delivered on
// separate channels; an error never stops the source.
type Source struct {
	root    string
	matcher *Matcher
	opts    Options
	logger  *slog.Logger

	events chan models.RawChangeEvent
	errs   chan error

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}

	// Owned by the run loop.
	dirs    map[string]bool
	known   map[string]bool
	pending map[string]*pendingWrite
}

type pendingWrite struct {
	kind       models.EventType
	size       int64
	modTime    time.Time
	lastChange time.Time
}

// New returns a source for root. Nothing is watched until Start.
func New(root string, opts Options) (*Source, error) {
	matcher, err := NewMatcher(opts.IgnorePatterns)
	if err != nil {
		return nil, err
	}
	if opts.StabilityThreshold <= 0 {
		opts.StabilityThreshold = DefaultStabilityThreshold
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("source: resolve root: %w", err)
	}
	return &Source{
		root:    abs,
		matcher: matcher,
		opts:    opts,
		logger:  logger,
		events:  make(chan models.RawChangeEvent, 256),
		errs:    make(chan error, 16),
	}, nil
}

// Events returns the event stream. It is closed after Stop.
func (s *Source) Events() <-chan models.RawChangeEvent {
	return s.events
}

// Errors returns notification-layer errors. Errors are dropped when nobody
// drains the channel.
func (s *Source) Errors() <-chan error {
	return s.errs
}

// Start watches the tree below the root. Files already present are
// recorded but not reported.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher != nil {
		return errors.New("source: already started")
	}
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("source: stat root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source: %s is not a directory", s.root)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("source: new watcher: %w", err)
	}
	s.watcher = w
	s.dirs = map[string]bool{}
	s.known = map[string]bool{}
	s.pending = map[string]*pendingWrite{}

	if err := s.addTree(s.root, nil); err != nil {
		_ = w.Close()
		s.watcher = nil
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(loopCtx)

	s.logger.Info("source: started",
		slog.String("root", s.root),
		slog.Int("dirs", len(s.dirs)),
		slog.Int("files", len(s.known)))
	return nil
}

// Stop releases the notification handle and closes the event stream.
// Pending, not yet stable writes are discarded.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher == nil {
		return nil
	}
	s.cancel()
	<-s.done
	err := s.watcher.Close()
	s.watcher = nil
	close(s.events)
	s.logger.Info("source: stopped", slog.String("root", s.root))
	return err
}

func (s *Source) run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case now := <-ticker.C:
			s.flushStable(ctx, now)

		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handle(ctx, ev)

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("source: notification error", slog.String("error", err.Error()))
			select {
			case s.errs <- err:
			default:
			}
		}
	}
}

func (s *Source) handle(ctx context.Context, ev fsnotify.Event) {
	rel, ok := s.rel(ev.Name)
	if !ok {
		return
	}

	switch {
	case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
		info, err := os.Stat(ev.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			if ev.Op&fsnotify.Create == 0 || s.matcher.MatchDir(rel) {
				return
			}
			// Files written into the directory before the watch was
			// placed are reported as additions.
			if err := s.addTree(ev.Name, func(fileRel string, fi fs.FileInfo) {
				s.touch(fileRel, models.EventAdd, fi)
			}); err != nil {
				s.logger.Warn("source: watch new dir failed",
					slog.String("path", rel),
					slog.String("error", err.Error()))
			}
			return
		}
		if s.matcher.Match(rel) {
			return
		}
		kind := models.EventChange
		if !s.known[rel] {
			kind = models.EventAdd
		}
		s.touch(rel, kind, info)

	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		if s.dirs[rel] {
			s.removeTree(ctx, ev.Name, rel)
			return
		}
		s.removeFile(ctx, rel)
	}
}

// touch records a write and restarts its stabilisation clock.
func (s *Source) touch(rel string, kind models.EventType, info fs.FileInfo) {
	now := time.Now()
	if p, ok := s.pending[rel]; ok {
		p.size = info.Size()
		p.modTime = info.ModTime()
		p.lastChange = now
		return
	}
	s.pending[rel] = &pendingWrite{
		kind:       kind,
		size:       info.Size(),
		modTime:    info.ModTime(),
		lastChange: now,
	}
}

func (s *Source) removeFile(ctx context.Context, rel string) {
	if p, ok := s.pending[rel]; ok {
		delete(s.pending, rel)
		if p.kind == models.EventAdd {
			// Created and removed before it settled: nothing happened.
			return
		}
	}
	if !s.known[rel] {
		return
	}
	delete(s.known, rel)
	s.emit(ctx, rel, models.EventUnlink)
}

func (s *Source) removeTree(ctx context.Context, abs, rel string) {
	_ = s.watcher.Remove(abs)
	prefix := rel + "/"
	for d := range s.dirs {
		if d == rel || strings.HasPrefix(d, prefix) {
			delete(s.dirs, d)
		}
	}
	for p := range s.pending {
		if strings.HasPrefix(p, prefix) {
			s.removeFile(ctx, p)
		}
	}
	for f := range s.known {
		if strings.HasPrefix(f, prefix) {
			s.removeFile(ctx, f)
		}
	}
}

// flushStable emits every pending write whose size and mtime have not
// moved for the stability threshold.
func (s *Source) flushStable(ctx context.Context, now time.Time) {
	for rel, p := range s.pending {
		info, err := os.Stat(filepath.Join(s.root, filepath.FromSlash(rel)))
		if err != nil {
			// The removal event settles it.
			continue
		}
		if info.Size() != p.size || !info.ModTime().Equal(p.modTime) {
			p.size = info.Size()
			p.modTime = info.ModTime()
			p.lastChange = now
			continue
		}
		if now.Sub(p.lastChange) < s.opts.StabilityThreshold {
			continue
		}
		delete(s.pending, rel)
		s.known[rel] = true
		s.emit(ctx, rel, p.kind)
	}
}

func (s *Source) emit(ctx context.Context, rel string, kind models.EventType) {
	ev := models.RawChangeEvent{Path: rel, Type: kind, Timestamp: time.Now()}
	s.logger.Debug("source: event", slog.String("path", rel), slog.String("type", string(kind)))
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

// addTree watches dir and every non-ignored directory below it. onFile is
// called for each non-ignored regular file found.
func (s *Source) addTree(dir string, onFile func(rel string, info fs.FileInfo)) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			// Unreadable entries are skipped.
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, ok := s.rel(path)
		if d.IsDir() {
			if ok && s.matcher.MatchDir(rel) {
				return filepath.SkipDir
			}
			if err := s.watcher.Add(path); err != nil {
				if path == dir {
					return fmt.Errorf("source: watch %s: %w", path, err)
				}
				return filepath.SkipDir
			}
			if ok {
				s.dirs[rel] = true
			}
			return nil
		}
		if !ok || !d.Type().IsRegular() || s.matcher.Match(rel) {
			return nil
		}
		if onFile == nil {
			s.known[rel] = true
			return nil
		}
		if info, err := d.Info(); err == nil {
			onFile(rel, info)
		}
		return nil
	})
}

// rel converts an absolute path to the slash-separated root-relative form.
// The root itself is reported as not ok.
func (s *Source) rel(path string) (string, bool) {
	r, err := filepath.Rel(s.root, path)
	if err != nil || r == "." || strings.HasPrefix(r, "..") {
		return "", false
	}
	return filepath.ToSlash(r), true
}
