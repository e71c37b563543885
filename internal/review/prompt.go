package review

import (
	"fmt"
	"strings"

	"github.com/joescharf/prguard/internal/dispatch"
	"github.com/joescharf/prguard/internal/models"
)

// skillFocus describes what each built-in reviewer skill looks for. Unknown
// skills get a generic instruction naming the skill.
var skillFocus = map[string]string{
	"correctness": "Logic errors, unhandled errors, nil or out-of-range access, races, resource leaks, broken edge cases, and security problems such as injection or leaked secrets.",
	"tests":       "Missing or weak tests for new behavior, untested edge cases and error paths, flaky patterns (sleeps, shared state, order dependence), and assertions that do not check what the test name claims.",
	"architecture": "Layering violations, leaky abstractions, duplicated logic, inconsistent naming or error handling with the surrounding code, and changes that make future work harder.",
}

// BuildSystemPrompt generates the system prompt for one reviewer skill.
func BuildSystemPrompt(skill string) string {
	focus, ok := skillFocus[skill]
	if !ok {
		focus = fmt.Sprintf("Problems relevant to the %q review skill.", skill)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are the %s reviewer for a pull request. Review only the changed lines in the diff you are given.\n\n", skill)
	b.WriteString("## Focus\n")
	b.WriteString(focus)
	b.WriteString("\n\n")

	b.WriteString("## Output\n")
	b.WriteString("Return ONLY a JSON array. Each element is one finding with these fields:\n")
	b.WriteString(`- "path": file path exactly as shown in the diff` + "\n")
	b.WriteString(`- "line": line number in the new version of the file, or 0 for a file-level finding` + "\n")
	b.WriteString(`- "severity": one of "blocking", "should-fix", "suggestion"` + "\n")
	b.WriteString(`- "body": the finding, first line a one-sentence summary, then details and a suggested fix` + "\n\n")

	b.WriteString("## Severity\n")
	b.WriteString("- blocking: must be fixed before merge (bugs, data loss, security)\n")
	b.WriteString("- should-fix: real problems that may be deferred\n")
	b.WriteString("- suggestion: optional improvements\n\n")

	b.WriteString("## Rules\n")
	b.WriteString("- Return [] when there is nothing worth reporting\n")
	b.WriteString("- One finding per problem; do not repeat a finding for every occurrence\n")
	b.WriteString("- Do not comment on formatting a linter would catch\n")
	b.WriteString("- Return valid JSON only, no markdown fencing or explanation\n")
	return b.String()
}

// BuildDiffPrompt renders the task context and the diff. Patches beyond
// maxBytes are omitted and listed by name only.
func BuildDiffPrompt(task dispatch.Task, files []models.DiffEntry, maxBytes int) string {
	bd := task.Bundle

	var b strings.Builder
	b.WriteString("## Pull Request\n")
	fmt.Fprintf(&b, "- Repository: %s\n", bd.Repo)
	fmt.Fprintf(&b, "- PR: #%d", bd.PRNumber)
	if bd.Title != "" {
		fmt.Fprintf(&b, " %s", bd.Title)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "- Base branch: %s\n", bd.BaseBranch)
	fmt.Fprintf(&b, "- Head commit: %s\n", bd.HeadSHA)
	fmt.Fprintf(&b, "- Tracking issue: #%d\n\n", bd.Parent)

	b.WriteString("## Diff\n\n")
	used := 0
	var omitted []string
	for _, f := range files {
		if f.Status == models.FileStatusRemoved || f.Patch == "" {
			continue
		}
		if maxBytes > 0 && used+len(f.Patch) > maxBytes {
			omitted = append(omitted, f.Path)
			continue
		}
		used += len(f.Patch)
		fmt.Fprintf(&b, "### %s (%s, +%d -%d)\n```diff\n%s\n```\n\n", f.Path, f.Status, f.Additions, f.Deletions, f.Patch)
	}
	if len(omitted) > 0 {
		b.WriteString("## Omitted (diff too large)\n")
		for _, p := range omitted {
			fmt.Fprintf(&b, "- %s\n", p)
		}
	}
	return b.String()
}
