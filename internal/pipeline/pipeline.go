// Package pipeline binds a change source, an aggregator, the annotator and
// the change store for one project.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/devpulse/internal/aggregator"
	"github.com/starford/devpulse/internal/annotator"
	"github.com/starford/devpulse/internal/debt"
	"github.com/starford/devpulse/internal/gitdiff"
	"github.com/starford/devpulse/internal/models"
	"github.com/starford/devpulse/internal/projectconfig"
	"github.com/starford/devpulse/internal/source"
	"github.com/starford/devpulse/internal/store"
)

// State is the lifecycle position of a pipeline.
type State string

const (
	StateIdle      State = "idle"
	StateWatching  State = "watching"
	StateAnalyzing State = "analyzing"
	StateStopped   State = "stopped"
)

// Annotator classifies a collapsed batch.
type Annotator interface {
	Annotate(ctx context.Context, files []annotator.FileChange, diff string, pc annotator.ProjectContext) (*annotator.Classification, error)
}

// DiffExtractor supplies the working-tree diff sent with a batch.
type DiffExtractor interface {
	IsRepository(ctx context.Context) bool
	UnstagedDiff(ctx context.Context, path string) string
}

// Publisher receives the outcome of every processed batch.
type Publisher interface {
	PublishChangeRecorded(project string, c models.Change)
	PublishBatchDropped(project, reason string, files int)
}

// Config assembles a pipeline.
type Config struct {
	Name      string
	Root      string
	ProjectID int64
	Context   annotator.ProjectContext

	QuietWindow    time.Duration
	IgnorePatterns []string
	// Stability overrides the source's write stabilisation window.
	Stability time.Duration
	// ScanDebt runs a technical-debt scan when the pipeline starts.
	ScanDebt bool
	// DocSuggestions keeps the model's documentation suggestions in the
	// change description.
	DocSuggestions bool

	Store store.ChangeStore
	// Annotator may be nil: the pipeline then watches but never analyses.
	Annotator Annotator
	Diff      DiffExtractor
	Events    Publisher
	Logger    *slog.Logger
}

// Pipeline is the per-project chain source → aggregator → annotator → store.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger

	src *source.Source
	agg *aggregator.Aggregator

	mu    sync.Mutex
	state State
	ctx   context.Context

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New validates cfg and builds the source and aggregator.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Store == nil {
		return nil, errors.New("pipeline: store is required")
	}
	if cfg.QuietWindow <= 0 {
		return nil, errors.New("pipeline: quiet window must be positive")
	}
	if cfg.Diff == nil {
		cfg.Diff = gitdiff.New(cfg.Root)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("project", cfg.Name))

	// The project's own state directory is never watched, whatever the
	// configured patterns say; store writes would otherwise feed back as
	// changes.
	ignore := append([]string{projectconfig.DirName + "/**"}, cfg.IgnorePatterns...)
	src, err := source.New(cfg.Root, source.Options{
		IgnorePatterns:     ignore,
		StabilityThreshold: cfg.Stability,
		Logger:             logger,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	p := &Pipeline{
		cfg:    cfg,
		logger: logger,
		src:    src,
		state:  StateIdle,
		stopCh: make(chan struct{}),
	}
	p.agg = aggregator.New(cfg.QuietWindow, p.process)
	return p, nil
}

// Name returns the project name.
func (p *Pipeline) Name() string {
	return p.cfg.Name
}

// Root returns the project root.
func (p *Pipeline) Root() string {
	return p.cfg.Root
}

// Store returns the project's change store.
func (p *Pipeline) Store() store.ChangeStore {
	return p.cfg.Store
}

// ProjectID returns the project's store identity.
func (p *Pipeline) ProjectID() int64 {
	return p.cfg.ProjectID
}

// Analyzing reports whether the pipeline classifies batches.
func (p *Pipeline) Analyzing() bool {
	return p.cfg.Annotator != nil
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateStopped || p.state == s {
		return
	}
	p.logger.Debug("pipeline: state", slog.String("from", string(p.state)), slog.String("to", string(s)))
	p.state = s
}

// Start begins watching. Analyses run on a context detached from ctx so a
// shutdown does not abort a model call already in flight.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateIdle {
		p.mu.Unlock()
		return fmt.Errorf("pipeline: cannot start from state %s", p.state)
	}
	p.ctx = context.WithoutCancel(ctx)
	p.mu.Unlock()

	if err := p.src.Start(ctx); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	p.agg.Start(ctx)
	p.setState(StateWatching)

	p.wg.Add(2)
	go p.forwardEvents()
	go p.forwardErrors(ctx)

	if p.cfg.ScanDebt {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.scanDebt()
		}()
	}

	mode := "analyze"
	if p.cfg.Annotator == nil {
		mode = "watch-only"
	}
	p.logger.Info("pipeline: started", slog.String("root", p.cfg.Root), slog.String("mode", mode))
	return nil
}

// Stop halts the source and cancels the pending quiet window. An analysis
// already running may finish until ctx is done.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.state == StateStopped {
		p.mu.Unlock()
		return nil
	}
	started := p.state != StateIdle
	p.state = StateStopped
	p.mu.Unlock()

	if !started {
		return nil
	}
	close(p.stopCh)
	p.agg.Stop()
	err := p.src.Stop()
	p.wg.Wait()
	if waitErr := p.agg.Wait(ctx); waitErr != nil {
		p.logger.Warn("pipeline: in-flight analysis still running at shutdown")
		err = errors.Join(err, waitErr)
	}
	p.logger.Info("pipeline: stopped")
	return err
}

func (p *Pipeline) forwardEvents() {
	defer p.wg.Done()
	for ev := range p.src.Events() {
		p.logger.Info("pipeline: change", slog.String("type", string(ev.Type)), slog.String("path", ev.Path))
		if err := p.agg.Add(ev); err != nil {
			return
		}
	}
}

func (p *Pipeline) forwardErrors(ctx context.Context) {
	defer p.wg.Done()
	errs := p.src.Errors()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case err := <-errs:
			p.logger.Error("pipeline: monitor error", slog.String("error", err.Error()))
		}
	}
}

func (p *Pipeline) scanDebt() {
	items, err := debt.Run(p.cfg.Store, p.cfg.ProjectID, p.cfg.Root)
	if err != nil {
		p.logger.Error("pipeline: debt scan failed", slog.String("error", err.Error()))
		return
	}
	p.logger.Info("pipeline: debt scan complete", slog.Int("items", len(items)))
}

// process handles one released batch. It never returns an error: failures
// are logged and the batch is discarded.
func (p *Pipeline) process(batch []models.RawChangeEvent) {
	files := annotator.Collapse(batch)
	p.logger.Info("pipeline: processing batch",
		slog.Int("events", len(batch)),
		slog.Int("files", len(files)))

	if p.cfg.Annotator == nil {
		p.logger.Info("pipeline: no analyzer configured, skipping analysis")
		return
	}

	p.setState(StateAnalyzing)
	defer p.setState(StateWatching)

	ctx := p.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	diff := ""
	if p.cfg.Diff.IsRepository(ctx) {
		diff = p.cfg.Diff.UnstagedDiff(ctx, "")
	}

	cls, err := p.cfg.Annotator.Annotate(ctx, files, diff, p.cfg.Context)
	if err != nil {
		p.drop(len(files), "analysis failed", err)
		return
	}

	stats, err := gitdiff.Stats(diff)
	if err != nil {
		p.logger.Warn("pipeline: diff stats unavailable", slog.String("error", err.Error()))
		stats = nil
	}

	change := models.Change{
		ProjectID:     p.cfg.ProjectID,
		BatchID:       uuid.NewString(),
		Timestamp:     time.Now().UTC(),
		Category:      cls.Category,
		Summary:       cls.Summary,
		Description:   p.description(cls),
		Impact:        cls.Impact,
		AffectedAreas: cls.AffectedAreas,
		Files:         make([]models.FileChangeDetail, 0, len(files)),
	}
	for _, f := range files {
		st := stats[f.Path]
		change.Files = append(change.Files, models.FileChangeDetail{
			FilePath:     f.Path,
			ChangeType:   f.ChangeType,
			LinesAdded:   st.Added,
			LinesRemoved: st.Removed,
		})
		change.LinesAdded += st.Added
		change.LinesRemoved += st.Removed
	}
	change.FilesChanged = len(change.Files)

	id, err := p.cfg.Store.RecordChange(change)
	if err != nil {
		p.drop(len(files), "store write failed", err)
		return
	}
	change.ID = id

	p.logger.Info("pipeline: analysis complete",
		slog.Int64("change_id", id),
		slog.String("batch_id", change.BatchID),
		slog.String("category", string(change.Category)),
		slog.String("summary", change.Summary))
	if p.cfg.Events != nil {
		p.cfg.Events.PublishChangeRecorded(p.cfg.Name, change)
	}
}

func (p *Pipeline) description(cls *annotator.Classification) string {
	if !p.cfg.DocSuggestions || cls.SuggestedDocumentation == "" {
		return cls.TechnicalDetails
	}
	return strings.TrimSpace(cls.TechnicalDetails + "\n\nSuggested documentation:\n" + cls.SuggestedDocumentation)
}

func (p *Pipeline) drop(files int, reason string, err error) {
	p.logger.Error("pipeline: batch dropped",
		slog.String("reason", reason),
		slog.Int("files", files),
		slog.String("error", err.Error()))
	if p.cfg.Events != nil {
		p.cfg.Events.PublishBatchDropped(p.cfg.Name, reason+": "+err.Error(), files)
	}
}
