package annotator

import (
	"fmt"
	"strings"
)

// SystemPrompt instructs the model to answer with a classification object.
const SystemPrompt = `You are an expert software development observer and technical writer. Your role is to analyze code changes and provide semantic understanding of what developers are building.

Your analysis should:
1. Go beyond syntax to understand the intent and purpose
2. Recognize architectural patterns and design decisions
3. Categorize changes accurately (feature, fix, refactor, docs, style, test)
4. Assess the impact on the codebase
5. Identify affected areas and components
6. Provide clear, human-readable summaries

Always respond in JSON format with the following structure:
{
  "summary": "Brief human-readable summary of the changes",
  "category": "feature|fix|refactor|docs|style|test",
  "impact": "low|medium|high",
  "affectedAreas": ["area1", "area2"],
  "technicalDetails": "Detailed technical explanation",
  "suggestedDocumentation": "Optional documentation suggestions"
}`

const summarySystemPrompt = "You are a technical writer creating project summaries. Provide a clear, concise overview of the project's current state."

// UserPrompt renders the project context, the changed files and the head
// of the diff.
func UserPrompt(files []FileChange, diff string, pc ProjectContext) string {
	var b strings.Builder
	b.WriteString("Analyze the following code changes:\n\n")

	b.WriteString("## Project Context\n")
	fmt.Fprintf(&b, "- Name: %s\n", pc.Name)
	fmt.Fprintf(&b, "- Tech Stack: %s\n", strings.Join(pc.TechStack, ", "))
	architecture := pc.Architecture
	if architecture == "" {
		architecture = "Unknown"
	}
	fmt.Fprintf(&b, "- Architecture: %s\n\n", architecture)

	b.WriteString("## Files Changed\n")
	for _, f := range files {
		fmt.Fprintf(&b, "- %s (%s)\n", f.Path, f.ChangeType)
	}
	b.WriteString("\n")

	if diff != "" {
		b.WriteString("## Changes (Git Diff)\n")
		fmt.Fprintf(&b, "```diff\n%s\n```\n\n", truncate(diff, MaxDiffChars))
	}

	b.WriteString("Provide a semantic analysis of these changes in JSON format.")
	return b.String()
}

// truncate keeps the first n characters of s.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
