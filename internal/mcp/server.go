package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/prguard/internal/config"
	"github.com/joescharf/prguard/internal/findings"
	"github.com/joescharf/prguard/internal/guardrail"
	"github.com/joescharf/prguard/internal/issuegraph"
	"github.com/joescharf/prguard/internal/models"
	"github.com/joescharf/prguard/internal/patterns"
	"github.com/joescharf/prguard/internal/prcontext"
	"github.com/joescharf/prguard/internal/store"
)

// ContextResolver resolves a PR's context against GitHub.
type ContextResolver interface {
	Resolve(ctx context.Context, repo models.Repo, ev prcontext.Event) (*prcontext.Context, error)
}

// RunLister lists recorded runs.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunListFilter) ([]*models.Run, error)
}

// Server exposes prguard's engine as MCP tools. resolver and runs may be
// nil; the tools that need them then report an error result.
type Server struct {
	cfg        *config.Config
	classifier *findings.Classifier
	matcher    *patterns.Matcher
	resolver   ContextResolver
	runs       RunLister
	repo       models.Repo
	version    string
}

// NewServer creates the MCP server wrapper. repo is the default repository
// for tools that take an optional repo argument.
func NewServer(cfg *config.Config, resolver ContextResolver, runs RunLister, repo models.Repo, version string) (*Server, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	classifier, err := findings.NewClassifier(cfg.SeverityMarkers)
	if err != nil {
		return nil, fmt.Errorf("severity markers: %w", err)
	}
	matcher, err := patterns.New(cfg.TestPatterns, cfg.CodeExtensions)
	if err != nil {
		return nil, fmt.Errorf("file patterns: %w", err)
	}
	if version == "" {
		version = "dev"
	}
	return &Server{
		cfg:        cfg,
		classifier: classifier,
		matcher:    matcher,
		resolver:   resolver,
		runs:       runs,
		repo:       repo,
		version:    version,
	}, nil
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("prguard", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.classifyCommentTool())
	srv.AddTool(s.rewritePRSectionTool())
	srv.AddTool(s.evaluateTestRatioTool())
	srv.AddTool(s.resolveContextTool())
	srv.AddTool(s.listRunsTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	stdioServer := server.NewStdioServer(s.MCPServer())
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// decodeArg re-decodes a structured argument into target.
func decodeArg(request mcp.CallToolRequest, key string, target any) (bool, error) {
	raw, ok := request.GetArguments()[key]
	if !ok || raw == nil {
		return false, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return true, err
	}
	return true, json.Unmarshal(data, target)
}

func (s *Server) repoArg(request mcp.CallToolRequest) (models.Repo, error) {
	if r := request.GetString("repo", ""); r != "" {
		return models.ParseRepo(r)
	}
	if s.repo.IsZero() {
		return models.Repo{}, fmt.Errorf("no repository: pass repo as owner/name")
	}
	return s.repo, nil
}

// prguard_classify_comment
func (s *Server) classifyCommentTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("prguard_classify_comment",
		mcp.WithDescription("Classify a review comment into a finding. Returns severity (blocking, should-fix or suggestion), location, summary and fingerprint."),
		mcp.WithString("body", mcp.Required(), mcp.Description("Comment body")),
		mcp.WithString("path", mcp.Description("File path the comment is attached to")),
		mcp.WithNumber("line", mcp.Description("Line number; omit or 0 for a file-level comment")),
		mcp.WithString("author", mcp.Description("Comment author login")),
	)
	return tool, s.handleClassifyComment
}

func (s *Server) handleClassifyComment(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	body, err := request.RequireString("body")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: body"), nil
	}
	f := s.classifier.Classify(models.ReviewComment{
		Author: request.GetString("author", ""),
		Path:   request.GetString("path", ""),
		Line:   request.GetInt("line", 0),
		Body:   body,
	})
	return jsonResult(f)
}

// prguard_rewrite_pr_section
func (s *Server) rewritePRSectionTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("prguard_rewrite_pr_section",
		mcp.WithDescription("Rewrite the managed review-issues section of a PR description. Content outside the markers is preserved; the section is appended when absent."),
		mcp.WithString("body", mcp.Required(), mcp.Description("Current PR description")),
		mcp.WithArray("children",
			mcp.Description("Child issues to list, each {number, severity}"),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"number":   map[string]any{"type": "number"},
					"severity": map[string]any{"type": "string"},
				},
				"required": []string{"number"},
			}),
		),
	)
	return tool, s.handleRewritePRSection
}

func (s *Server) handleRewritePRSection(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	body, err := request.RequireString("body")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: body"), nil
	}

	var in []struct {
		Number   int    `json:"number"`
		Severity string `json:"severity"`
	}
	if _, err := decodeArg(request, "children", &in); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid children: %v", err)), nil
	}

	children := make([]models.ChildIssue, 0, len(in))
	for _, c := range in {
		if c.Number <= 0 {
			return mcp.NewToolResultError(fmt.Sprintf("invalid child issue number %d", c.Number)), nil
		}
		sev := models.Severity(c.Severity)
		if sev == "" {
			sev = models.SeveritySuggestion
		}
		children = append(children, models.ChildIssue{IssueRef: models.IssueRef{Number: c.Number}, Severity: sev})
	}
	return mcp.NewToolResultText(issuegraph.RewritePRSection(body, children)), nil
}

// prguard_evaluate_test_ratio
func (s *Server) evaluateTestRatioTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("prguard_evaluate_test_ratio",
		mcp.WithDescription("Evaluate the test-to-code ratio guardrail over a diff without reporting a check. Optionally applies the approval override."),
		mcp.WithArray("files",
			mcp.Required(),
			mcp.Description("Changed files, each {path, additions, status}"),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":      map[string]any{"type": "string"},
					"additions": map[string]any{"type": "number"},
					"deletions": map[string]any{"type": "number"},
					"status":    map[string]any{"type": "string"},
				},
				"required": []string{"path", "additions"},
			}),
		),
		mcp.WithNumber("threshold", mcp.Description("Minimum ratio; defaults to the configured threshold")),
		mcp.WithString("head_sha", mcp.Description("Current head commit, for the approval override")),
		mcp.WithArray("reviews",
			mcp.Description("Reviews, each {state, commit_id}"),
			mcp.Items(map[string]any{"type": "object"}),
		),
	)
	return tool, s.handleEvaluateTestRatio
}

func (s *Server) handleEvaluateTestRatio(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var files []models.DiffEntry
	ok, err := decodeArg(request, "files", &files)
	if !ok {
		return mcp.NewToolResultError("missing required parameter: files"), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid files: %v", err)), nil
	}
	for i := range files {
		if files[i].Status == "" {
			files[i].Status = models.FileStatusModified
		}
	}

	g := s.cfg.TestRatio
	g.Enabled = true
	g.Threshold = request.GetFloat("threshold", g.Threshold)
	if g.Threshold < 0 || g.Threshold > 1 {
		return mcp.NewToolResultError("threshold must be between 0 and 1"), nil
	}
	if g.Conclusion == "" {
		g.Conclusion = models.ConclusionActionRequired
	}

	v := guardrail.EvaluateTestRatio(files, g, s.matcher)

	var reviews []models.Review
	if _, err := decodeArg(request, "reviews", &reviews); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid reviews: %v", err)), nil
	}
	if head := request.GetString("head_sha", ""); head != "" && !v.Passed {
		v.Overridden = guardrail.HasNonStaleApproval(reviews, head)
	}

	return jsonResult(map[string]any{
		"verdict":    v,
		"conclusion": guardrail.FinalConclusion(v, g.Conclusion),
	})
}

// prguard_resolve_context
func (s *Server) resolveContextTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("prguard_resolve_context",
		mcp.WithDescription("Resolve a pull request's review context: parent issue from its 'Fixes #N' reference, base branch, head commit and re-review cycle count."),
		mcp.WithNumber("pr", mcp.Required(), mcp.Description("Pull request number")),
		mcp.WithString("repo", mcp.Description("Repository as owner/name; defaults to the current repository")),
	)
	return tool, s.handleResolveContext
}

func (s *Server) handleResolveContext(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.resolver == nil {
		return mcp.NewToolResultError("GitHub access not configured: set github.token"), nil
	}
	pr, err := request.RequireInt("pr")
	if err != nil || pr <= 0 {
		return mcp.NewToolResultError("missing required parameter: pr"), nil
	}
	repo, err := s.repoArg(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	c, err := s.resolver.Resolve(ctx, repo, prcontext.ManualDispatch{PRNumber: pr})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to resolve context: %v", err)), nil
	}

	out := make(map[string]string)
	for _, o := range c.Outputs() {
		out[o.Name] = o.Value
	}
	out["repo"] = repo.String()
	return jsonResult(out)
}

// prguard_list_runs
func (s *Server) listRunsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("prguard_list_runs",
		mcp.WithDescription("List recorded guardrail, ingest and dispatch runs, newest first."),
		mcp.WithString("repo", mcp.Description("Filter by repository owner/name")),
		mcp.WithNumber("pr", mcp.Description("Filter by pull request number")),
		mcp.WithString("kind", mcp.Description("Filter by kind"), mcp.Enum("guardrail", "ingest", "dispatch")),
		mcp.WithNumber("limit", mcp.Description("Maximum runs to return (default 20)")),
	)
	return tool, s.handleListRuns
}

func (s *Server) handleListRuns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.runs == nil {
		return mcp.NewToolResultError("run store not available"), nil
	}
	filter := store.RunListFilter{
		Repo:     request.GetString("repo", ""),
		PRNumber: request.GetInt("pr", 0),
		Kind:     models.RunKind(request.GetString("kind", "")),
		Limit:    request.GetInt("limit", 20),
	}
	runs, err := s.runs.ListRuns(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list runs: %v", err)), nil
	}
	if runs == nil {
		runs = []*models.Run{}
	}
	return jsonResult(runs)
}
