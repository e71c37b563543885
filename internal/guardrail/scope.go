package guardrail

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/joescharf/prguard/internal/config"
	"github.com/joescharf/prguard/internal/models"
)

// minorScopeDrift is the most out-of-scope files reported as neutral rather
// than with the configured conclusion.
const minorScopeDrift = 2

var scopePathPatterns = []*regexp.Regexp{
	regexp.MustCompile("`([a-zA-Z0-9_./*-]+\\.[a-zA-Z0-9]+)`"),
	regexp.MustCompile("`([a-zA-Z0-9_./*-]+/\\*+[a-zA-Z0-9_./*-]*)`"),
	regexp.MustCompile(`(?m)(?:^|\s)((?:[a-zA-Z0-9_.*-]+/)+[a-zA-Z0-9_.*-]+\.[a-zA-Z0-9]+)(?:\s|$|[,;)])`),
	regexp.MustCompile(`(?m)(?:^|\s)(\.?(?:src|lib|app|test|tests|spec|pkg|cmd|internal|\.github)/[a-zA-Z0-9_./*-]+)(?:\s|$|[,;)])`),
}

// ExtractScopePaths returns the file paths, directories and glob patterns an
// issue body names, in order of first appearance.
func ExtractScopePaths(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, re := range scopePathPatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			p := strings.TrimPrefix(m[1], "/")
			if p == "" || seen[p] {
				continue
			}
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// GlobToRegexp compiles a path glob. "*" stays within one path segment,
// "**/" matches zero or more directories and a trailing "/**" matches
// everything below the prefix.
func GlobToRegexp(glob string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(glob); {
		rest := glob[i:]
		switch {
		case strings.HasPrefix(rest, "**/"):
			b.WriteString("(?:[^/]+/)*")
			i += 3
		case rest == "/**":
			b.WriteString("(?:/.*)?")
			i += 3
		case strings.HasPrefix(rest, "**"):
			b.WriteString(".*")
			i += 2
		case rest[0] == '*':
			b.WriteString("[^/]*")
			i++
		default:
			b.WriteString(regexp.QuoteMeta(rest[:1]))
			i++
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}

// InScope reports whether path matches any scope entry: a glob, an exact
// path or a directory prefix.
func InScope(path string, scope []string) bool {
	for _, s := range scope {
		if strings.Contains(s, "*") {
			if GlobToRegexp(s).MatchString(path) {
				return true
			}
			continue
		}
		if path == s || strings.HasPrefix(path, strings.TrimSuffix(s, "/")+"/") {
			return true
		}
	}
	return false
}

// ScopeInput is what the scope guardrail judges. Parent is 0 when the PR
// links no issue; Scope is empty when the issues list no paths.
type ScopeInput struct {
	Parent   int
	Scope    []string
	Files    []models.DiffEntry
	Approved bool
}

// EvaluateScope builds the scope check. Files outside the paths named by the
// parent issue and its sub-issues need a non-stale approval; two or fewer
// stray files are reported as neutral.
func EvaluateScope(in ScopeInput, g config.Guardrail, headSHA string) models.Check {
	c := models.Check{Name: CheckScope, HeadSHA: headSHA, Conclusion: models.ConclusionSuccess}

	switch {
	case !g.Enabled:
		c.Title = "Scope enforcement: guardrail disabled"
		c.Summary = "The scope guardrail is disabled in the workflow configuration."
		return c
	case in.Parent == 0:
		c.Title = "Scope enforcement: no linked issue"
		c.Summary = "No `fixes #N` reference found in the PR description. Scope enforcement skipped."
		return c
	case len(in.Scope) == 0:
		c.Title = "Scope enforcement: no files listed in issues"
		c.Summary = fmt.Sprintf("Issue #%d and its sub-issues do not list any file paths. Scope enforcement skipped.", in.Parent)
		return c
	}

	var outside []string
	for _, f := range in.Files {
		if !InScope(f.Path, in.Scope) {
			outside = append(outside, f.Path)
		}
	}

	if len(outside) == 0 {
		c.Title = "Scope enforcement: all files in scope"
		c.Summary = fmt.Sprintf("All %d changed files are within the scope of issue #%d and its sub-issues.", len(in.Files), in.Parent)
		return c
	}

	list := bulletList(outside)
	if in.Approved {
		c.Conclusion = models.ConclusionNeutral
		c.Title = fmt.Sprintf("Scope enforcement: approved by reviewer (%d files outside scope)", len(outside))
		c.Summary = fmt.Sprintf("PR modifies %d file(s) not listed in issue #%d or its sub-issues, but a non-stale approval exists.\n\n**Out-of-scope files:**\n%s",
			len(outside), in.Parent, list)
		return c
	}

	for _, p := range outside {
		c.Annotations = append(c.Annotations, models.Annotation{
			Path:    p,
			Message: fmt.Sprintf("This file is not listed in the task scope for issue #%d or its sub-issues. If this change is intentional, approve the PR to override.", in.Parent),
		})
	}
	c.Annotations = capAnnotations(c.Annotations)

	c.Conclusion = g.Conclusion
	if len(outside) <= minorScopeDrift {
		c.Conclusion = models.ConclusionNeutral
	}
	c.Title = fmt.Sprintf("Scope enforcement: %d file(s) outside task scope", len(outside))
	c.Summary = fmt.Sprintf("PR modifies %d file(s) not listed in issue #%d or its sub-issues.\n\n**Out-of-scope files:**\n%s\n**In-scope files (from issues):**\n%s\nTo resolve: update the issue to include these files, or approve the PR to override this check.",
		len(outside), in.Parent, list, bulletList(in.Scope))
	return c
}

// ScopeIssueMissing is reported when the linked issue does not exist.
func ScopeIssueMissing(parent int, headSHA string) models.Check {
	return models.Check{
		Name:       CheckScope,
		HeadSHA:    headSHA,
		Conclusion: models.ConclusionSuccess,
		Title:      "Scope enforcement: issue not found",
		Summary:    fmt.Sprintf("Could not read issue #%d. Scope enforcement skipped.", parent),
	}
}

func bulletList(items []string) string {
	var b strings.Builder
	for _, s := range items {
		fmt.Fprintf(&b, "- `%s`\n", s)
	}
	return b.String()
}
