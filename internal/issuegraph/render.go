package issuegraph

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/joescharf/prguard/internal/models"
)

// Label is a severity label ensured before filing.
type Label struct {
	Name        string
	Color       string
	Description string
}

// SeverityLabels are created on demand in the target repository.
var SeverityLabels = []Label{
	{Name: string(models.SeverityBlocking), Color: "B60205", Description: "Must be fixed before merge"},
	{Name: string(models.SeverityShouldFix), Color: "D93F0B", Description: "Should be fixed, may be deferred"},
	{Name: string(models.SeveritySuggestion), Color: "0E8A16", Description: "Optional improvement"},
}

var fingerprintRe = regexp.MustCompile(`<!-- prguard:fingerprint ([0-9a-f]+) -->`)

func fingerprintMarker(fp string) string {
	return "<!-- prguard:fingerprint " + fp + " -->"
}

// FingerprintOf extracts the finding fingerprint embedded in an issue body.
func FingerprintOf(body string) string {
	m := fingerprintRe.FindStringSubmatch(body)
	if m == nil {
		return ""
	}
	return m[1]
}

// IssueTitle renders "[severity] location: summary".
func IssueTitle(f models.Finding) string {
	summary := f.Summary
	if summary == "" {
		summary = "review finding"
	}
	return fmt.Sprintf("[%s] %s: %s", f.Severity, f.Location(), summary)
}

// IssueBody renders the child issue description for a finding on pr.
func IssueBody(f models.Finding, prNumber int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Severity:** %s\n", f.Severity)
	if f.FileScoped {
		fmt.Fprintf(&b, "**File:** `%s` (file-level comment)\n", f.Path)
	} else {
		fmt.Fprintf(&b, "**File:** `%s` line %d\n", f.Path, f.Line)
	}
	fmt.Fprintf(&b, "**PR:** #%d\n", prNumber)
	if f.Author != "" {
		fmt.Fprintf(&b, "**Reviewer:** @%s\n", f.Author)
	}
	b.WriteString("\n## Comment\n\n")
	b.WriteString(strings.TrimSpace(f.Body))
	b.WriteString("\n\n")
	b.WriteString(fingerprintMarker(f.Fingerprint))
	b.WriteString("\n")
	return b.String()
}
