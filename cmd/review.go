package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/prguard/internal/findings"
	"github.com/joescharf/prguard/internal/issuegraph"
	"github.com/joescharf/prguard/internal/models"
	"github.com/joescharf/prguard/internal/output"
	"github.com/joescharf/prguard/internal/pipeline"
)

var (
	reviewPR       int
	reviewID       int64
	classifyPath   string
	classifyLine   int
	classifyAuthor string
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Turn review comments into tracked child issues",
}

var reviewIngestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Classify a review's comments and file them under the parent issue",
	Long: `Classify every inline comment of a submitted review by severity and
materialize one child issue per finding under the PR's parent issue.
Blocking findings also block the parent. Re-running is idempotent: findings
already filed reuse their open child issue.

Without --review-id every review comment on the PR is ingested.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ev, repo, err := resolveEvent(reviewPR)
		if err != nil {
			return err
		}
		p, _, err := newPipeline(pipelineOpts{})
		if err != nil {
			return err
		}
		res, err := p.Ingest(cmd.Context(), repo, ev, reviewID)
		if res != nil && res.Skipped != nil {
			if errors.Is(res.Skipped, pipeline.ErrNoReviewComments) {
				ui.Info("Skipped: %v", res.Skipped)
			} else {
				ui.Warning("Skipped: %v", res.Skipped)
			}
			return nil
		}
		if res != nil {
			printSummary(res.Findings, res.Summary)
		}
		return err
	},
}

var reviewClassifyCmd = &cobra.Command{
	Use:   "classify <comment>",
	Short: "Classify one comment locally",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewClassifyRun(strings.Join(args, " "))
	},
}

func init() {
	reviewIngestCmd.Flags().IntVar(&reviewPR, "pr", 0, "Pull request number")
	reviewIngestCmd.Flags().Int64Var(&reviewID, "review-id", 0, "Review ID (default: all review comments)")
	reviewClassifyCmd.Flags().StringVar(&classifyPath, "path", "", "File the comment is on")
	reviewClassifyCmd.Flags().IntVar(&classifyLine, "line", 0, "Line the comment is on (0 for file level)")
	reviewClassifyCmd.Flags().StringVar(&classifyAuthor, "author", "", "Comment author")

	reviewCmd.AddCommand(reviewIngestCmd)
	reviewCmd.AddCommand(reviewClassifyCmd)
	rootCmd.AddCommand(reviewCmd)
}

func reviewClassifyRun(body string) error {
	if strings.TrimSpace(body) == "" {
		return errors.New("comment body is empty")
	}
	cfg, err := loadWorkflowConfig()
	if err != nil {
		return err
	}
	c, err := findings.NewClassifier(cfg.SeverityMarkers)
	if err != nil {
		return fmt.Errorf("severity markers: %w", err)
	}

	f := c.Classify(models.ReviewComment{Author: classifyAuthor, Path: classifyPath, Line: classifyLine, Body: body})
	fmt.Fprintf(ui.Out, "Severity:    %s\n", output.SeverityColor(string(f.Severity)))
	fmt.Fprintf(ui.Out, "Blocking:    %t\n", f.Severity.Blocks())
	fmt.Fprintf(ui.Out, "Summary:     %s\n", f.Summary)
	fmt.Fprintf(ui.Out, "Fingerprint: %s\n", f.Fingerprint)
	if f.Path != "" {
		fmt.Fprintf(ui.Out, "Title:       %s\n", issuegraph.IssueTitle(f))
	}
	return nil
}

// printSummary renders the findings and the materialization outcome.
func printSummary(fs []models.Finding, sum *issuegraph.Summary) {
	if len(fs) == 0 {
		ui.Info("No findings")
		return
	}
	if sum == nil {
		return
	}

	table := ui.Table([]string{"Issue", "Severity", "Blocking", "Title"})
	for _, c := range sum.Children {
		_ = table.Append([]string{
			fmt.Sprintf("#%d", c.Number),
			output.SeverityColor(string(c.Severity)),
			fmt.Sprintf("%t", c.Blocking),
			c.Title,
		})
	}
	_ = table.Render()

	ui.Success("%d findings: %d created, %d reused, %d blocking", len(fs), sum.Created, sum.Reused, sum.Blocking)
	for _, f := range sum.Failures {
		ui.Error("%v", f)
	}
}
