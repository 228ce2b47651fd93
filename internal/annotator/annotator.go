// Package annotator asks a language model to classify a batch of changes.
package annotator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/starford/devpulse/internal/llm"
	"github.com/starford/devpulse/internal/models"
)

// MaxDiffChars bounds the diff excerpt sent with each batch.
const MaxDiffChars = 3000

// ProjectContext describes the project to the model.
type ProjectContext struct {
	Name         string
	TechStack    []string
	Architecture string
}

// FileChange is one file of a batch with its net change type.
type FileChange struct {
	Path       string
	ChangeType models.ChangeType
}

// Classification is the fixed-shape result of annotating a batch.
type Classification struct {
	Summary                string          `json:"summary"`
	Category               models.Category `json:"category"`
	Impact                 models.Impact   `json:"impact"`
	AffectedAreas          []string        `json:"affectedAreas"`
	TechnicalDetails       string          `json:"technicalDetails"`
	SuggestedDocumentation string          `json:"suggestedDocumentation,omitempty"`
}

// Annotator builds prompts, calls the backend and parses its answer.
type Annotator struct {
	backend llm.Backend
	logger  *slog.Logger
}

// New returns an annotator over backend.
func New(backend llm.Backend, logger *slog.Logger) *Annotator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Annotator{backend: backend, logger: logger}
}

// Annotate classifies files. Backend failures are returned unchanged in
// meaning; malformed answers are recovered through the fallback rules.
func (a *Annotator) Annotate(ctx context.Context, files []FileChange, diff string, pc ProjectContext) (*Classification, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("annotator: empty batch")
	}
	resp, err := a.backend.Complete(ctx, UserPrompt(files, diff, pc), SystemPrompt)
	if err != nil {
		return nil, fmt.Errorf("annotator: semantic analysis failed: %w", err)
	}
	result := Parse(resp.Content)
	if result.Fallback() {
		a.logger.Warn("annotator: model answer is not JSON, using fallback",
			slog.String("project", pc.Name))
	}
	c := result.Classification()
	return &c, nil
}

// SummarizeProject asks the model for a short prose overview of the
// project given its recent change summaries.
func (a *Annotator) SummarizeProject(ctx context.Context, pc ProjectContext, recent []string) (string, error) {
	changes := "No recent changes"
	if len(recent) > 0 {
		changes = strings.Join(recent, "\n")
	}
	var b strings.Builder
	b.WriteString("Create a project summary for:\n\n")
	fmt.Fprintf(&b, "Project: %s\n", pc.Name)
	fmt.Fprintf(&b, "Tech Stack: %s\n", strings.Join(pc.TechStack, ", "))
	fmt.Fprintf(&b, "Architecture: %s\n\n", pc.Architecture)
	fmt.Fprintf(&b, "Recent changes:\n%s\n\n", changes)
	b.WriteString("Provide a 2-3 paragraph summary of the project's current state and progress.")

	resp, err := a.backend.Complete(ctx, b.String(), summarySystemPrompt)
	if err != nil {
		return "", fmt.Errorf("annotator: project summary failed: %w", err)
	}
	return resp.Content, nil
}

// Collapse reduces a batch to one entry per path in first-seen order. A file
// added inside the batch stays "added" through later edits; the last
// removal or edit otherwise wins.
func Collapse(batch []models.RawChangeEvent) []FileChange {
	index := make(map[string]int, len(batch))
	out := make([]FileChange, 0, len(batch))
	for _, ev := range batch {
		ct := ev.Type.ChangeType()
		i, seen := index[ev.Path]
		if !seen {
			index[ev.Path] = len(out)
			out = append(out, FileChange{Path: ev.Path, ChangeType: ct})
			continue
		}
		if out[i].ChangeType == models.ChangeAdded && ct == models.ChangeModified {
			continue
		}
		out[i].ChangeType = ct
	}
	return out
}
