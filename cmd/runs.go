package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/prguard/internal/models"
	"github.com/joescharf/prguard/internal/output"
	"github.com/joescharf/prguard/internal/store"
)

var (
	runsPR    int
	runsKind  string
	runsLimit int
	runsAll   bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show recorded guardrail, ingest and dispatch runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runsRun(cmd)
	},
}

func init() {
	runsCmd.Flags().IntVar(&runsPR, "pr", 0, "Only runs for this pull request")
	runsCmd.Flags().StringVar(&runsKind, "kind", "", "Only runs of this kind (guardrail, ingest, dispatch)")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum number of runs")
	runsCmd.Flags().BoolVar(&runsAll, "all-repos", false, "Include every repository")
	rootCmd.AddCommand(runsCmd)
}

func runsRun(cmd *cobra.Command) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	filter := store.RunListFilter{PRNumber: runsPR, Limit: runsLimit}
	switch k := models.RunKind(runsKind); k {
	case "", models.RunKindGuardrail, models.RunKindIngest, models.RunKindDispatch:
		filter.Kind = k
	default:
		return fmt.Errorf("unknown run kind %q", runsKind)
	}
	if !runsAll {
		repo, err := resolveRepo()
		if err != nil {
			return err
		}
		filter.Repo = repo.String()
	}

	runs, err := s.ListRuns(cmd.Context(), filter)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		ui.Info("No runs recorded")
		return nil
	}

	table := ui.Table([]string{"ID", "Kind", "Name", "Repo", "PR", "Conclusion", "Summary", "When"})
	for _, r := range runs {
		_ = table.Append([]string{
			r.ID,
			string(r.Kind),
			r.Name,
			r.Repo,
			fmt.Sprintf("#%d", r.PRNumber),
			output.ConclusionColor(r.Conclusion),
			r.Summary,
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	_ = table.Render()
	return nil
}
