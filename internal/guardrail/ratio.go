package guardrail

import (
	"fmt"

	"github.com/joescharf/prguard/internal/config"
	"github.com/joescharf/prguard/internal/models"
	"github.com/joescharf/prguard/internal/patterns"
)

// Check run names.
const (
	CheckTestRatio    = "guardrail/test-ratio"
	CheckCommits      = "guardrail/commit-messages"
	CheckDependencies = "guardrail/dependency-changes"
	CheckScope        = "guardrail/scope"
	CheckAPISurface   = "guardrail/api-surface"
)

// MaxAnnotations is the most annotations GitHub accepts per check run request.
const MaxAnnotations = 50

// EvaluateTestRatio computes the test-to-implementation ratio over all diff
// entries. entries must already contain every page of the diff.
func EvaluateTestRatio(entries []models.DiffEntry, g config.Guardrail, m *patterns.Matcher) models.GuardrailVerdict {
	v := models.GuardrailVerdict{Threshold: g.Threshold}
	if !g.Enabled {
		v.Passed = true
		v.Disabled = true
		return v
	}

	type implFile struct {
		path      string
		additions int
	}
	var implFiles []implFile

	for _, e := range entries {
		if e.Status == models.FileStatusRemoved {
			continue
		}
		if !m.IsCode(e.Path) {
			continue
		}
		if m.IsTest(e.Path) {
			v.TestLines += e.Additions
			continue
		}
		v.ImplLines += e.Additions
		implFiles = append(implFiles, implFile{path: e.Path, additions: e.Additions})
	}

	// No implementation change: nothing to judge.
	if v.ImplLines == 0 {
		v.Passed = true
		return v
	}

	ratio := float64(v.TestLines) / float64(v.ImplLines)
	v.Ratio = &ratio
	v.Passed = ratio >= g.Threshold

	if !v.Passed {
		for _, f := range implFiles {
			if f.additions == 0 {
				continue
			}
			v.Annotations = append(v.Annotations, models.Annotation{
				Path: f.path,
				Message: fmt.Sprintf("This implementation file has %d added lines. The overall test-to-code ratio (%.2f) is below the threshold (%s). Consider adding corresponding tests.",
					f.additions, ratio, formatThreshold(g.Threshold)),
			})
		}
	}
	return v
}

// FinalConclusion combines the ratio verdict with the approval override.
func FinalConclusion(v models.GuardrailVerdict, failure models.Conclusion) models.Conclusion {
	if v.Passed || v.Overridden {
		return models.ConclusionSuccess
	}
	return failure
}

// TestRatioCheck renders a verdict as a check run.
func TestRatioCheck(v models.GuardrailVerdict, headSHA string, failure models.Conclusion) models.Check {
	c := models.Check{
		Name:       CheckTestRatio,
		HeadSHA:    headSHA,
		Conclusion: FinalConclusion(v, failure),
	}
	threshold := formatThreshold(v.Threshold)

	switch {
	case v.Disabled:
		c.Title = "Test-to-code ratio: guardrail disabled"
		c.Summary = "The test-ratio guardrail is disabled in the workflow configuration. No ratio was computed."
	case v.Ratio == nil:
		c.Title = "Test-to-code ratio: no implementation changes"
		c.Summary = fmt.Sprintf("This PR contains no implementation line additions (%d test lines added). Test ratio check is not applicable.", v.TestLines)
	case v.Passed:
		c.Title = fmt.Sprintf("Test-to-code ratio: %.2f (threshold: %s)", *v.Ratio, threshold)
		c.Summary = fmt.Sprintf("PR has %d test lines and %d implementation lines added. Ratio %.2f meets the threshold of %s.",
			v.TestLines, v.ImplLines, *v.Ratio, threshold)
	case v.Overridden:
		c.Title = fmt.Sprintf("Test-to-code ratio: %.2f (approved by reviewer)", *v.Ratio)
		c.Summary = fmt.Sprintf("PR has %d test lines and %d implementation lines added. Ratio %.2f is below the threshold of %s, but a non-stale approval exists on the current head commit.",
			v.TestLines, v.ImplLines, *v.Ratio, threshold)
	default:
		c.Title = fmt.Sprintf("Test-to-code ratio: %.2f (threshold: %s)", *v.Ratio, threshold)
		c.Summary = fmt.Sprintf("PR has %d test lines and %d implementation lines added. Ratio %.2f is below the threshold of %s. Add more tests or approve the PR to override.",
			v.TestLines, v.ImplLines, *v.Ratio, threshold)
		c.Annotations = capAnnotations(v.Annotations)
	}
	return c
}

// ErrorCheck is posted when a guardrail could not be evaluated at all.
func ErrorCheck(name, headSHA string, err error) models.Check {
	return models.Check{
		Name:       name,
		HeadSHA:    headSHA,
		Conclusion: models.ConclusionFailure,
		Title:      fmt.Sprintf("%s: evaluation failed", name),
		Summary: fmt.Sprintf("The guardrail could not be evaluated after retrying the GitHub API.\n\n```\n%v\n```\n\nRe-run the workflow once the API is reachable.",
			err),
	}
}

func capAnnotations(a []models.Annotation) []models.Annotation {
	if len(a) > MaxAnnotations {
		return a[:MaxAnnotations]
	}
	return a
}

func formatThreshold(t float64) string {
	return fmt.Sprintf("%g", t)
}
