package guardrail

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/joescharf/prguard/internal/config"
	"github.com/joescharf/prguard/internal/models"
)

var conventionalCommitRe = regexp.MustCompile(`^(feat|fix|chore|docs|test|refactor|ci|style|perf|build|revert)(\([a-z0-9-]+\))?!?: .+`)

// CommitViolation lists the problems found with one commit.
type CommitViolation struct {
	Commit   models.Commit
	Subject  string
	Problems []string
}

// ValidateCommitMessage returns the problems with a commit message's subject
// line, or nil if it conforms.
func ValidateCommitMessage(message string, maxLength int) []string {
	subject, _, _ := strings.Cut(message, "\n")
	subject = strings.TrimRight(subject, "\r")

	var problems []string
	if maxLength > 0 && len([]rune(subject)) > maxLength {
		problems = append(problems, fmt.Sprintf("First line exceeds %d characters (%d chars)", maxLength, len([]rune(subject))))
	}
	if !conventionalCommitRe.MatchString(subject) {
		problems = append(problems, "Does not follow conventional commit format (expected: type(scope)?: description)")
	}
	return problems
}

// EvaluateCommits builds the commit-message check. A non-stale approval
// short-circuits to neutral.
func EvaluateCommits(commits []models.Commit, g config.Guardrail, approved bool, headSHA string) models.Check {
	c := models.Check{Name: CheckCommits, HeadSHA: headSHA}

	if !g.Enabled {
		c.Conclusion = models.ConclusionSuccess
		c.Title = "Commit message check: guardrail disabled"
		c.Summary = "The commit-message guardrail is disabled in the workflow configuration."
		return c
	}
	if approved {
		c.Conclusion = models.ConclusionNeutral
		c.Title = "Commit message check: approved by reviewer"
		c.Summary = "A non-stale PR approval overrides this guardrail check."
		return c
	}

	maxLength := g.MaxSubjectLength
	if maxLength <= 0 {
		maxLength = config.DefaultMaxSubjectLength
	}

	var violations []CommitViolation
	for _, commit := range commits {
		problems := ValidateCommitMessage(commit.Message, maxLength)
		if len(problems) == 0 {
			continue
		}
		subject, _, _ := strings.Cut(commit.Message, "\n")
		violations = append(violations, CommitViolation{Commit: commit, Subject: subject, Problems: problems})
	}

	if len(violations) == 0 {
		c.Conclusion = models.ConclusionSuccess
		c.Title = fmt.Sprintf("Commit message check: all %d commits conform", len(commits))
		c.Summary = fmt.Sprintf("All %d commit(s) follow conventional commit format with first line <= %d characters.", len(commits), maxLength)
		return c
	}

	var b strings.Builder
	b.WriteString("## Non-conforming commits\n\n")
	fmt.Fprintf(&b, "Found **%d** of %d commit(s) with violations:\n\n", len(violations), len(commits))
	for _, v := range violations {
		fmt.Fprintf(&b, "### `%s` %s\n", v.Commit.ShortSHA(), v.Subject)
		for _, p := range v.Problems {
			fmt.Fprintf(&b, "- %s\n", p)
		}
		b.WriteString("\n")
	}
	b.WriteString("## Expected format\n\n```\n")
	fmt.Fprintf(&b, "type(optional-scope): description (max %d chars)\n", maxLength)
	b.WriteString("```\n\n")
	b.WriteString("Valid types: `feat`, `fix`, `chore`, `docs`, `test`, `refactor`, `ci`, `style`, `perf`, `build`, `revert`\n\n")
	b.WriteString("To override: submit an approving PR review on the current head commit.\n")

	c.Conclusion = g.Conclusion
	c.Title = fmt.Sprintf("Commit message check: %d non-conforming commit(s)", len(violations))
	c.Summary = b.String()
	return c
}
