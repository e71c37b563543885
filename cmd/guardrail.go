package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/prguard/internal/guardrail"
	"github.com/joescharf/prguard/internal/models"
	"github.com/joescharf/prguard/internal/output"
)

var guardrailPR int

var guardrailCmd = &cobra.Command{
	Use:   "guardrail",
	Short: "Evaluate merge guardrails and report them as check runs",
	Long: `Evaluate merge guardrails for a pull request and publish one check run
per guardrail. Disabled guardrails report a skipped check.

Inside GitHub Actions the PR comes from the event payload; elsewhere pass --pr.`,
}

// guardrailSubcommands maps subcommand names to check names.
var guardrailSubcommands = []struct {
	use, check, short string
}{
	{"test-ratio", guardrail.CheckTestRatio, "Test-to-code line ratio guardrail"},
	{"commits", guardrail.CheckCommits, "Conventional commit message guardrail"},
	{"dependencies", guardrail.CheckDependencies, "Dependency change approval guardrail"},
	{"scope", guardrail.CheckScope, "Changed files stay within the linked issue's scope"},
	{"api-surface", guardrail.CheckAPISurface, "Exported API surface change guardrail"},
	{"all", "all", "Every guardrail"},
}

func init() {
	for _, sc := range guardrailSubcommands {
		check := sc.check
		guardrailCmd.AddCommand(&cobra.Command{
			Use:   sc.use,
			Short: sc.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return guardrailRun(cmd, check)
			},
		})
	}
	guardrailCmd.PersistentFlags().IntVar(&guardrailPR, "pr", 0, "Pull request number")
	rootCmd.AddCommand(guardrailCmd)
}

func guardrailRun(cmd *cobra.Command, name string) error {
	ev, repo, err := resolveEvent(guardrailPR)
	if err != nil {
		return err
	}
	p, _, err := newPipeline(pipelineOpts{})
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Checks are logged, not published")
	}
	checks, err := p.Guardrails(cmd.Context(), repo, ev, name)
	printChecks(checks)
	return err
}

func printChecks(checks []*models.Check) {
	if len(checks) == 0 {
		return
	}
	table := ui.Table([]string{"Check", "Conclusion", "Title"})
	for _, c := range checks {
		_ = table.Append([]string{c.Name, output.ConclusionColor(string(c.Conclusion)), c.Title})
	}
	_ = table.Render()
	for _, c := range checks {
		for _, a := range c.Annotations {
			ui.VerboseLog("%s %s", c.Name, formatAnnotation(a))
		}
	}
}

func formatAnnotation(a models.Annotation) string {
	if a.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", a.Path, a.Line, a.Message)
	}
	return fmt.Sprintf("%s: %s", a.Path, a.Message)
}
