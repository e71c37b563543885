package guardrail

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/joescharf/prguard/internal/config"
	"github.com/joescharf/prguard/internal/models"
)

// Declaration patterns per file extension, written without the leading diff
// sign. Unknown extensions use the js set.
var apiDeclarations = map[string][]string{
	"js": {
		`\s*export\s+(function|const|let|var|class|interface|type|enum)\s+(\w+)`,
		`\s*export\s+default`,
		`\s*export\s*\{`,
	},
	"ts": {
		`\s*export\s+(function|const|let|var|class|interface|type|enum)\s+(\w+)`,
		`\s*export\s+default`,
		`\s*export\s*\{`,
	},
	"py": {
		`\s*class\s+(\w+)`,
		`\s*def\s+(\w+)`,
		`\s*async\s+def\s+(\w+)`,
	},
	"go": {
		`\s*func\s+(\w+)`,
		`\s*type\s+(\w+)\s+(?:struct|interface)`,
	},
	"rs": {
		`\s*pub\s+fn\s+(\w+)`,
		`\s*pub\s+struct\s+(\w+)`,
		`\s*pub\s+enum\s+(\w+)`,
		`\s*pub\s+trait\s+(\w+)`,
	},
}

type declPatterns struct {
	added, removed []*regexp.Regexp
}

var compiledDeclarations = func() map[string]declPatterns {
	out := make(map[string]declPatterns, len(apiDeclarations))
	for ext, exprs := range apiDeclarations {
		var p declPatterns
		for _, e := range exprs {
			p.added = append(p.added, regexp.MustCompile(`^\+`+e))
			p.removed = append(p.removed, regexp.MustCompile(`^-`+e))
		}
		out[ext] = p
	}
	return out
}()

var (
	hunkHeaderRe = regexp.MustCompile(`^@@\s+-\d+(?:,\d+)?\s+\+(\d+)(?:,\d+)?\s+@@`)

	apiSpecFiles = []*regexp.Regexp{
		regexp.MustCompile(`(?i)openapi\.(ya?ml|json)$`),
		regexp.MustCompile(`(?i)swagger\.(ya?ml|json)$`),
		regexp.MustCompile(`(?i)api-spec\.(ya?ml|json)$`),
	}
)

// APIChange is one declaration added or removed by a patch. Line is the line
// in the new file, or the position the removal happened at.
type APIChange struct {
	Line        int
	Description string
}

// IsAPISpecFile reports whether path is an OpenAPI or Swagger document.
func IsAPISpecFile(p string) bool {
	for _, re := range apiSpecFiles {
		if re.MatchString(p) {
			return true
		}
	}
	return false
}

// DetectAPIChanges scans a unified diff patch for added or removed
// declarations in the language implied by filename.
func DetectAPIChanges(patch, filename string) []APIChange {
	if patch == "" {
		return nil
	}
	pats, ok := compiledDeclarations[strings.TrimPrefix(path.Ext(filename), ".")]
	if !ok {
		pats = compiledDeclarations["js"]
	}

	var out []APIChange
	line := 0
	for _, l := range strings.Split(patch, "\n") {
		if m := hunkHeaderRe.FindStringSubmatch(l); m != nil {
			line, _ = strconv.Atoi(m[1])
			continue
		}
		switch {
		case strings.HasPrefix(l, "+"):
			if name, ok := matchDeclaration(pats.added, l); ok {
				out = append(out, APIChange{Line: line, Description: "Added/modified export: " + name})
			}
			line++
		case strings.HasPrefix(l, "-"):
			if name, ok := matchDeclaration(pats.removed, l); ok {
				out = append(out, APIChange{Line: max(line, 1), Description: "Removed export: " + name})
			}
		case strings.HasPrefix(l, `\`):
		default:
			line++
		}
	}
	return out
}

func matchDeclaration(pats []*regexp.Regexp, l string) (string, bool) {
	for _, re := range pats {
		m := re.FindStringSubmatch(l)
		if m == nil {
			continue
		}
		for i := len(m) - 1; i >= 1; i-- {
			if m[i] != "" {
				return m[i], true
			}
		}
		return "exported item", true
	}
	return "", false
}

// EvaluateAPISurface builds the API-surface check. Any added or removed
// declaration, or a touched OpenAPI document, needs a non-stale approval.
func EvaluateAPISurface(entries []models.DiffEntry, g config.Guardrail, approved bool, headSHA string) models.Check {
	c := models.Check{Name: CheckAPISurface, HeadSHA: headSHA}

	if !g.Enabled {
		c.Conclusion = models.ConclusionSuccess
		c.Title = "API surface check: guardrail disabled"
		c.Summary = "The API-surface guardrail is disabled in the workflow configuration."
		return c
	}
	if approved {
		c.Conclusion = models.ConclusionNeutral
		c.Title = "API surface check: approved by reviewer"
		c.Summary = "A non-stale PR approval overrides this guardrail check."
		return c
	}

	total := 0
	for _, e := range entries {
		if e.Status == models.FileStatusRemoved {
			continue
		}
		if IsAPISpecFile(e.Path) {
			total++
			c.Annotations = append(c.Annotations, models.Annotation{
				Path:    e.Path,
				Message: fmt.Sprintf("OpenAPI/Swagger spec file modified: %s. API contract changes require careful review.", e.Path),
			})
			continue
		}
		for _, ch := range DetectAPIChanges(e.Patch, e.Path) {
			total++
			c.Annotations = append(c.Annotations, models.Annotation{
				Path:    e.Path,
				Line:    ch.Line,
				Message: "API surface change: " + ch.Description,
			})
		}
	}

	if total == 0 {
		c.Conclusion = models.ConclusionSuccess
		c.Title = "API surface check: no changes detected"
		c.Summary = "No API surface changes found in this PR."
		c.Annotations = nil
		return c
	}

	c.Annotations = capAnnotations(c.Annotations)
	c.Conclusion = g.Conclusion
	c.Title = fmt.Sprintf("API surface check: %d change(s) detected", total)
	c.Summary = fmt.Sprintf("Found %d API surface change(s) across the PR.\n\nAPI surface changes have outsized downstream impact. Review these changes carefully.\n\nTo override: approve the PR to signal these changes are intentional.",
		total)
	return c
}
