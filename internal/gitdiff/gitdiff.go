// Package gitdiff extracts unstaged diffs from a project's working tree and
// turns them into per-file line statistics.
package gitdiff

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	godiff "github.com/sourcegraph/go-diff/diff"
)

// LineStats counts lines touched in one file.
type LineStats struct {
	Added   int
	Removed int
}

// Extractor runs git inside a project root.
type Extractor struct {
	root string
}

// New returns an extractor for the working tree at root.
func New(root string) *Extractor {
	return &Extractor{root: root}
}

// IsRepository reports whether root is inside a git work tree.
func (e *Extractor) IsRepository(ctx context.Context) bool {
	out, err := e.git(ctx, "rev-parse", "--is-inside-work-tree")
	return err == nil && strings.TrimSpace(out) == "true"
}

// UnstagedDiff returns `git diff` for the tree below root, or for path when
// it is non-empty. Paths in the output are relative to root even when root
// is a subdirectory of the repository. Any failure (no git, not a
// repository) yields "".
func (e *Extractor) UnstagedDiff(ctx context.Context, path string) string {
	args := []string{"diff", "--no-color", "--no-ext-diff", "--relative"}
	if path != "" {
		args = append(args, "--", path)
	}
	out, err := e.git(ctx, args...)
	if err != nil {
		return ""
	}
	return out
}

func (e *Extractor) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = e.root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("gitdiff: git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// Stats parses a unified diff and returns line counts keyed by the file path
// as it appears in the diff. A modified line counts as one removal
// plus one addition.
func Stats(diffText string) (map[string]LineStats, error) {
	out := map[string]LineStats{}
	if strings.TrimSpace(diffText) == "" {
		return out, nil
	}
	fileDiffs, err := godiff.ParseMultiFileDiff([]byte(diffText))
	if err != nil {
		return nil, fmt.Errorf("gitdiff: parse: %w", err)
	}
	for _, fd := range fileDiffs {
		name := cleanPath(fd.NewName)
		if name == "" || name == "/dev/null" {
			name = cleanPath(fd.OrigName)
		}
		if name == "" || name == "/dev/null" {
			continue
		}
		st := fd.Stat()
		prev := out[name]
		out[name] = LineStats{
			Added:   prev.Added + int(st.Added+st.Changed),
			Removed: prev.Removed + int(st.Deleted+st.Changed),
		}
	}
	return out, nil
}

// cleanPath removes the a/ or b/ prefix from git diff paths.
func cleanPath(path string) string {
	if strings.HasPrefix(path, "a/") || strings.HasPrefix(path, "b/") {
		return path[2:]
	}
	return path
}
