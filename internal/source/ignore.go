package source

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher decides which slash-separated relative paths are ignored.
// A pattern matches at any depth: "node_modules/**" also ignores
// "web/node_modules/x.js" and "*.log" ignores "logs/app.log".
type Matcher struct {
	patterns []string
}

// NewMatcher validates patterns and returns a matcher for them.
func NewMatcher(patterns []string) (*Matcher, error) {
	m := &Matcher{}
	for _, p := range patterns {
		p = strings.TrimPrefix(strings.TrimSpace(p), "./")
		if p == "" {
			continue
		}
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("source: invalid ignore pattern %q", p)
		}
		m.patterns = append(m.patterns, p)
	}
	return m, nil
}

// Match reports whether the file at rel is ignored.
func (m *Matcher) Match(rel string) bool {
	for _, p := range m.patterns {
		if matchAnyDepth(p, rel) {
			return true
		}
	}
	return false
}

// MatchDir reports whether the directory at rel and everything below it is
// ignored, so the directory need not be watched at all.
func (m *Matcher) MatchDir(rel string) bool {
	child := rel + "/_"
	for _, p := range m.patterns {
		if matchAnyDepth(p, rel) || matchAnyDepth(p, child) {
			return true
		}
	}
	return false
}

// A leading "/" anchors the pattern to the root.
func matchAnyDepth(pattern, rel string) bool {
	if anchored, ok := strings.CutPrefix(pattern, "/"); ok {
		matched, _ := doublestar.Match(anchored, rel)
		return matched
	}
	if ok, _ := doublestar.Match(pattern, rel); ok {
		return true
	}
	if strings.HasPrefix(pattern, "**/") {
		return false
	}
	ok, _ := doublestar.Match("**/"+pattern, rel)
	return ok
}
