package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/joescharf/prguard/internal/mcp"
	"github.com/joescharf/prguard/internal/prcontext"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server",
	Long: `Start an MCP (Model Context Protocol) server on stdio so coding agents
can classify comments, evaluate the test-ratio guardrail and resolve PR
context with the same rules the workflow uses. Configure with:

  {
    "mcpServers": {
      "prguard": { "command": "prguard", "args": ["mcp"] }
    }
  }

Available tools: prguard_classify_comment, prguard_rewrite_pr_section,
prguard_evaluate_test_ratio, prguard_resolve_context, prguard_list_runs`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// stdout carries the protocol.
		ui.Out = os.Stderr

		cfg, err := loadWorkflowConfig()
		if err != nil {
			return err
		}

		var resolver mcp.ContextResolver
		if gh, err := newGitHubClient(); err != nil {
			ui.Warning("prguard_resolve_context disabled: %v", err)
		} else {
			resolver = prcontext.NewResolver(gh, gh, ui.Logger())
		}

		var runs mcp.RunLister
		if s, err := getStore(); err != nil {
			ui.Warning("prguard_list_runs disabled: %v", err)
		} else {
			runs = s
		}

		// Tools fall back to an explicit repo argument without a default.
		repo, err := resolveRepo()
		if err != nil {
			ui.VerboseLog("No default repository: %v", err)
		}

		srv, err := mcp.NewServer(cfg, resolver, runs, repo, buildVersion)
		if err != nil {
			return err
		}
		return srv.ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
