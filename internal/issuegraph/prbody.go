package issuegraph

import (
	"fmt"
	"strings"

	"github.com/joescharf/prguard/internal/models"
)

// Delimiters of the managed section in a PR description. Everything between
// them is rewritten on every run.
const (
	SectionStart = "<!-- prguard:review-issues:start -->"
	SectionEnd   = "<!-- prguard:review-issues:end -->"
)

// Section is a PR description split around its managed region. Region
// includes both markers; Found is false when no well-formed region exists.
type Section struct {
	Prefix string
	Region string
	Suffix string
	Found  bool
}

// SplitSection locates the managed region. The last start marker wins, so a
// stray start earlier in the text never swallows content.
func SplitSection(body string) Section {
	start := strings.LastIndex(body, SectionStart)
	if start < 0 {
		return Section{Prefix: body}
	}
	rel := strings.Index(body[start+len(SectionStart):], SectionEnd)
	if rel < 0 {
		return Section{Prefix: body}
	}
	end := start + len(SectionStart) + rel + len(SectionEnd)
	return Section{
		Prefix: body[:start],
		Region: body[start:end],
		Suffix: body[end:],
		Found:  true,
	}
}

// RenderSection renders the managed region for children, markers included.
func RenderSection(children []models.ChildIssue) string {
	var b strings.Builder
	b.WriteString(SectionStart)
	b.WriteString("\n### Review issues\n\n")
	if len(children) == 0 {
		b.WriteString("_No open review issues._\n")
	}
	for _, c := range children {
		fmt.Fprintf(&b, "- Fixes #%d (%s)\n", c.Number, c.Severity)
	}
	b.WriteString(SectionEnd)
	return b.String()
}

// RewritePRSection returns body with its managed region replaced by a fresh
// rendering of children. Content outside the markers is preserved verbatim.
// Without a region, one is appended after a blank line; with no children and
// no region, body is returned unchanged.
func RewritePRSection(body string, children []models.ChildIssue) string {
	s := SplitSection(body)
	if !s.Found {
		if len(children) == 0 {
			return body
		}
		region := RenderSection(children)
		trimmed := strings.TrimRight(body, " \t\r\n")
		if trimmed == "" {
			return region
		}
		return trimmed + "\n\n" + region
	}
	return s.Prefix + RenderSection(children) + s.Suffix
}
