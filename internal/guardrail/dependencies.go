package guardrail

import (
	"fmt"
	"strings"

	"github.com/joescharf/prguard/internal/config"
	"github.com/joescharf/prguard/internal/models"
	"github.com/joescharf/prguard/internal/patterns"
)

// EvaluateDependencies builds the dependency-change check. Any touched
// manifest or lock file needs a non-stale approval.
func EvaluateDependencies(entries []models.DiffEntry, g config.Guardrail, m *patterns.Matcher, approved bool, headSHA string) models.Check {
	c := models.Check{Name: CheckDependencies, HeadSHA: headSHA}

	if !g.Enabled {
		c.Conclusion = models.ConclusionSuccess
		c.Title = "Dependency changes: guardrail disabled"
		c.Summary = "The dependency-change guardrail is disabled in the workflow configuration."
		return c
	}
	if approved {
		c.Conclusion = models.ConclusionNeutral
		c.Title = "Dependency changes: approved by reviewer"
		c.Summary = "A non-stale PR approval overrides this guardrail check."
		return c
	}

	var changed []string
	for _, e := range entries {
		if m.IsDependency(e.Path) {
			changed = append(changed, e.Path)
		}
	}

	if len(changed) == 0 {
		c.Conclusion = models.ConclusionSuccess
		c.Title = "Dependency changes: no dependency files modified"
		c.Summary = "No dependency manifest or lock files were changed in this PR."
		return c
	}

	var list strings.Builder
	for _, p := range changed {
		fmt.Fprintf(&list, "- `%s`\n", p)
		c.Annotations = append(c.Annotations, models.Annotation{
			Path:    p,
			Message: "Dependency file modified. Human review required before merge.",
		})
	}
	c.Annotations = capAnnotations(c.Annotations)

	c.Conclusion = g.Conclusion
	c.Title = fmt.Sprintf("Dependency changes: %d file(s) modified", len(changed))
	c.Summary = fmt.Sprintf("Dependency files were modified and require human review before merge.\n\n**Changed dependency files:**\n%s\n**To resolve:** a maintainer must submit an approving review on the current head commit.",
		list.String())
	return c
}
