package annotator

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/starford/devpulse/internal/models"
)

const (
	defaultSummary     = "Code changes detected"
	fallbackSummaryLen = 200
)

var fencedJSON = regexp.MustCompile("```(?:json)?\\s*(\\{[\\s\\S]*\\})\\s*```")

// ParseResult is either a decoded JSON object or the raw text the model
// returned when no object could be decoded.
type ParseResult struct {
	fields map[string]any
	raw    string
}

// Parse extracts the classification object from a model answer. A fenced
// ```json (or unlabeled) block is preferred; otherwise the whole text is
// decoded.
func Parse(text string) ParseResult {
	candidate := text
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		candidate = m[1]
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(candidate)), &fields); err != nil || fields == nil {
		return ParseResult{raw: text}
	}
	return ParseResult{fields: fields, raw: text}
}

// Fallback reports whether the answer could not be decoded.
func (p ParseResult) Fallback() bool {
	return p.fields == nil
}

// Classification applies the defaulting rules and always yields a usable
// classification.
func (p ParseResult) Classification() Classification {
	if p.Fallback() {
		return Classification{
			Summary:          truncate(p.raw, fallbackSummaryLen),
			Category:         models.CategoryRefactor,
			Impact:           models.ImpactMedium,
			AffectedAreas:    []string{},
			TechnicalDetails: p.raw,
		}
	}

	c := Classification{
		Summary:                stringField(p.fields, "summary"),
		Category:               models.Category(stringField(p.fields, "category")),
		Impact:                 models.Impact(stringField(p.fields, "impact")),
		AffectedAreas:          []string{},
		TechnicalDetails:       stringField(p.fields, "technicalDetails"),
		SuggestedDocumentation: stringField(p.fields, "suggestedDocumentation"),
	}
	if c.Summary == "" {
		c.Summary = defaultSummary
	}
	if !c.Category.Valid() {
		c.Category = models.CategoryRefactor
	}
	if !c.Impact.Valid() {
		c.Impact = models.ImpactMedium
	}
	if areas, ok := p.fields["affectedAreas"].([]any); ok {
		for _, a := range areas {
			if s, ok := a.(string); ok {
				c.AffectedAreas = append(c.AffectedAreas, s)
			}
		}
	}
	return c
}

func stringField(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}
