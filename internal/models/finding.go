package models

import "strconv"

// Severity classifies how strongly a finding demands a fix.
type Severity string

const (
	SeverityBlocking   Severity = "blocking"
	SeverityShouldFix  Severity = "should-fix"
	SeveritySuggestion Severity = "suggestion"
)

// Severities lists every severity in priority order, highest first.
var Severities = []Severity{SeverityBlocking, SeverityShouldFix, SeveritySuggestion}

// Blocks reports whether findings of this severity block the parent issue.
func (s Severity) Blocks() bool {
	return s == SeverityBlocking
}

// Finding is a classified, actionable review comment.
type Finding struct {
	Severity    Severity `json:"severity"`
	Path        string   `json:"path"`
	Line        int      `json:"line"`
	FileScoped  bool     `json:"file_scoped"`
	Summary     string   `json:"summary"`
	Body        string   `json:"body"`
	Author      string   `json:"author"`
	Fingerprint string   `json:"fingerprint"`
}

// Location renders "path:line", or just the path for file-scoped findings.
func (f Finding) Location() string {
	if f.FileScoped {
		return f.Path
	}
	return f.Path + ":" + strconv.Itoa(f.Line)
}
