package cmd

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/prguard/internal/dispatch"
)

var dispatchPR int

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Run the configured reviewers against a pull request",
	Long: `Resolve the PR context, then fan out one reviewer task per configured
skill and file their findings under the parent issue. Each pass records one
review cycle; once the cycle cap is reached further dispatches are skipped.

PRs without a "Fixes #N" parent issue are skipped.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ev, repo, err := resolveEvent(dispatchPR)
		if err != nil {
			return err
		}
		p, _, err := newPipeline(pipelineOpts{withReviewer: true})
		if err != nil {
			return err
		}

		res, err := p.Dispatch(cmd.Context(), repo, ev)
		if res != nil && res.Dispatch != nil {
			if skipped := res.Dispatch.Skipped; skipped != nil {
				if errors.Is(skipped, dispatch.ErrCycleCapReached) {
					ui.Warning("Skipped: %v", skipped)
				} else {
					ui.Info("Skipped: %v", skipped)
				}
				return nil
			}
			for _, tr := range res.Dispatch.Results {
				if tr.Err != nil {
					ui.Error("%s reviewer failed: %v", tr.Skill, tr.Err)
					continue
				}
				ui.VerboseLog("%s reviewer: %d comments in %s", tr.Skill, len(tr.Comments), tr.Duration.Round(time.Millisecond))
			}
			if res.Cycle > 0 {
				ui.Info("Recorded review cycle %d", res.Cycle)
			}
			printSummary(res.Findings, res.Summary)
		}
		return err
	},
}

func init() {
	dispatchCmd.Flags().IntVar(&dispatchPR, "pr", 0, "Pull request number")
	rootCmd.AddCommand(dispatchCmd)
}
