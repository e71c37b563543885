package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joescharf/prguard/internal/prcontext"
)

var contextPR int

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Resolve a pull request's parent issue and review state",
	Long: `Resolve the PR context from the Actions event (or --pr for a manual
re-trigger): PR number, parent issue from "Fixes #N", base branch, title,
head SHA and the number of review cycles already run.

When $GITHUB_OUTPUT is set the values are also written as step outputs.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ev, repo, err := resolveEvent(contextPR)
		if err != nil {
			return err
		}
		p, _, err := newPipeline(pipelineOpts{})
		if err != nil {
			return err
		}
		c, err := p.Resolve(cmd.Context(), repo, ev)
		if err != nil {
			return err
		}

		outputs := c.Outputs()
		for _, o := range outputs {
			fmt.Fprintf(ui.Out, "%s=%s\n", o.Name, o.Value)
		}
		if !c.HasParent() {
			ui.Warning("PR #%d references no parent issue", c.PRNumber)
		}
		return writeStepOutputs(os.Getenv("GITHUB_OUTPUT"), outputs)
	},
}

func init() {
	contextCmd.Flags().IntVar(&contextPR, "pr", 0, "Pull request number (manual re-trigger)")
	rootCmd.AddCommand(contextCmd)
}

// writeStepOutputs appends outputs to the step output file at path. An empty
// path is a no-op.
func writeStepOutputs(path string, outputs []prcontext.Output) error {
	if path == "" {
		return nil
	}
	if dryRun {
		ui.DryRunMsg("Would write %d step outputs to %s", len(outputs), path)
		return nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open step output file: %w", err)
	}
	if err := prcontext.WriteOutputs(f, outputs); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
