// Package debt scans a project tree for technical-debt markers.
package debt

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/starford/devpulse/internal/models"
)

// Finding types.
const (
	TypeLargeFile   = "large_file"
	TypeTodoComment = "todo_comment"
)

// Severities.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

const (
	largeFileLines    = 500
	hugeFileLines     = 1000
	maxCommentExcerpt = 120
)

var (
	skipDirs = map[string]bool{
		"node_modules": true,
		".git":         true,
		"dist":         true,
		"build":        true,
		"coverage":     true,
		".devpulse":    true,
	}
	sourceExts = map[string]bool{
		".ts": true, ".js": true, ".tsx": true, ".jsx": true, ".py": true,
		".java": true, ".go": true, ".rs": true, ".cpp": true, ".c": true,
	}
	markers = []*regexp.Regexp{
		regexp.MustCompile(`(?i)//\s*TODO`),
		regexp.MustCompile(`(?i)//\s*FIXME`),
		regexp.MustCompile(`(?i)//\s*HACK`),
		regexp.MustCompile(`(?i)#\s*TODO`),
		regexp.MustCompile(`(?i)#\s*FIXME`),
	}
)

// Writer persists the result of a scan.
type Writer interface {
	ReplaceTechnicalDebt(projectID int64, items []models.TechnicalDebtItem) error
}

// Scan walks root and returns every finding. Unreadable files and
// directories are skipped.
func Scan(root string) []models.TechnicalDebtItem {
	now := time.Now().UTC()
	var items []models.TechnicalDebtItem

	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !sourceExts[filepath.Ext(path)] {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		items = append(items, scanFile(filepath.ToSlash(rel), string(data), now)...)
		return nil
	})
	return items
}

func scanFile(rel, content string, now time.Time) []models.TechnicalDebtItem {
	var out []models.TechnicalDebtItem
	lines := strings.Split(content, "\n")

	if n := len(lines); n > largeFileLines {
		severity := SeverityMedium
		if n > hugeFileLines {
			severity = SeverityHigh
		}
		out = append(out, newItem(TypeLargeFile, severity, rel,
			fmt.Sprintf("File has %d lines. Consider splitting into smaller modules.", n), now))
	}

	for i, line := range lines {
		for _, m := range markers {
			if !m.MatchString(line) {
				continue
			}
			excerpt := strings.TrimSpace(line)
			if r := []rune(excerpt); len(r) > maxCommentExcerpt {
				excerpt = string(r[:maxCommentExcerpt])
			}
			out = append(out, newItem(TypeTodoComment, SeverityLow, rel,
				fmt.Sprintf("Line %d: %s", i+1, excerpt), now))
			break
		}
	}
	return out
}

func newItem(typ, severity, rel, description string, now time.Time) models.TechnicalDebtItem {
	return models.TechnicalDebtItem{
		Type:        typ,
		Severity:    severity,
		FilePath:    rel,
		Description: description,
		DetectedAt:  now,
		Status:      models.DebtOpen,
	}
}

// Run scans root and replaces the project's stored findings with the result.
func Run(w Writer, projectID int64, root string) ([]models.TechnicalDebtItem, error) {
	items := Scan(root)
	if err := w.ReplaceTechnicalDebt(projectID, items); err != nil {
		return nil, fmt.Errorf("debt: %w", err)
	}
	return items, nil
}
