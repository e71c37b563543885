package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/prguard/internal/config"
	"github.com/joescharf/prguard/internal/github/githubtest"
	"github.com/joescharf/prguard/internal/issuegraph"
	"github.com/joescharf/prguard/internal/models"
	"github.com/joescharf/prguard/internal/prcontext"
	"github.com/joescharf/prguard/internal/store"
)

// ---------------------------------------------------------------------------
// Mock implementations
// ---------------------------------------------------------------------------

type mockRuns struct {
	runs   []*models.Run
	filter store.RunListFilter
	err    error
}

func (m *mockRuns) ListRuns(_ context.Context, f store.RunListFilter) ([]*models.Run, error) {
	m.filter = f
	return m.runs, m.err
}

var testRepo = models.Repo{Owner: "acme", Name: "widgets"}

func newTestServer(t *testing.T) (*Server, *githubtest.Fake, *mockRuns) {
	t.Helper()
	gh := githubtest.New()
	runs := &mockRuns{}
	srv, err := NewServer(config.Default(), prcontext.NewResolver(gh, gh, nil), runs, testRepo, "test")
	require.NoError(t, err)
	return srv, gh, runs
}

func callToolReq(name string, args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// resultText extracts the concatenated text from a CallToolResult.
func resultText(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	var b strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(mcpgo.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

func resultJSON(t *testing.T, result *mcpgo.CallToolResult, target any) {
	t.Helper()
	text := resultText(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), target), "failed to parse result JSON: %s", text)
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestNewServer(t *testing.T) {
	srv, _, _ := newTestServer(t)
	assert.NotNil(t, srv.MCPServer())

	cfg := config.Default()
	cfg.TestPatterns = []string{"("}
	_, err := NewServer(cfg, nil, nil, testRepo, "")
	assert.Error(t, err)
}

func TestHandleClassifyComment(t *testing.T) {
	srv, _, _ := newTestServer(t)

	tests := []struct {
		name string
		args map[string]any
		want models.Severity
		file bool
	}{
		{"blocking wins", map[string]any{"body": "blocking: leak. Also a suggestion.", "path": "a.go", "line": float64(3)}, models.SeverityBlocking, false},
		{"should-fix", map[string]any{"body": "should-fix: wrap err", "path": "a.go", "line": float64(1)}, models.SeverityShouldFix, false},
		{"unmarked", map[string]any{"body": "maybe rename", "path": "a.go"}, models.SeveritySuggestion, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := srv.handleClassifyComment(context.Background(), callToolReq("prguard_classify_comment", tt.args))
			require.NoError(t, err)
			require.False(t, result.IsError, resultText(t, result))

			var f models.Finding
			resultJSON(t, result, &f)
			assert.Equal(t, tt.want, f.Severity)
			assert.Equal(t, tt.file, f.FileScoped)
			assert.Len(t, f.Fingerprint, 16)
		})
	}
}

func TestHandleClassifyComment_MissingBody(t *testing.T) {
	srv, _, _ := newTestServer(t)
	result, err := srv.handleClassifyComment(context.Background(), callToolReq("prguard_classify_comment", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleRewritePRSection(t *testing.T) {
	srv, _, _ := newTestServer(t)

	args := map[string]any{
		"body": "Intro\n\nFixes #42",
		"children": []any{
			map[string]any{"number": float64(101), "severity": "blocking"},
			map[string]any{"number": float64(102)},
		},
	}
	result, err := srv.handleRewritePRSection(context.Background(), callToolReq("prguard_rewrite_pr_section", args))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	body := resultText(t, result)
	assert.True(t, strings.HasPrefix(body, "Intro\n\nFixes #42"))
	assert.Contains(t, body, issuegraph.SectionStart)
	assert.Contains(t, body, "Fixes #101")
	assert.Contains(t, body, "Fixes #102")

	// Rewriting the result again is stable.
	args["body"] = body
	again, err := srv.handleRewritePRSection(context.Background(), callToolReq("prguard_rewrite_pr_section", args))
	require.NoError(t, err)
	assert.Equal(t, body, resultText(t, again))
}

func TestHandleRewritePRSection_InvalidChild(t *testing.T) {
	srv, _, _ := newTestServer(t)
	args := map[string]any{"body": "x", "children": []any{map[string]any{"number": float64(0)}}}
	result, err := srv.handleRewritePRSection(context.Background(), callToolReq("prguard_rewrite_pr_section", args))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleEvaluateTestRatio(t *testing.T) {
	srv, _, _ := newTestServer(t)
	files := []any{
		map[string]any{"path": "lib.go", "additions": float64(100)},
		map[string]any{"path": "lib_test.go", "additions": float64(40)},
	}

	tests := []struct {
		name    string
		args    map[string]any
		want    models.Conclusion
		passed  bool
		noRatio bool
	}{
		{"below threshold", map[string]any{"files": files}, models.ConclusionActionRequired, false, false},
		{"custom threshold", map[string]any{"files": files, "threshold": 0.4}, models.ConclusionSuccess, true, false},
		{
			"non-stale approval",
			map[string]any{"files": files, "head_sha": "head", "reviews": []any{map[string]any{"state": "APPROVED", "commit_id": "head"}}},
			models.ConclusionSuccess, false, false,
		},
		{
			"stale approval",
			map[string]any{"files": files, "head_sha": "head", "reviews": []any{map[string]any{"state": "APPROVED", "commit_id": "old"}}},
			models.ConclusionActionRequired, false, false,
		},
		{
			"tests only",
			map[string]any{"files": []any{map[string]any{"path": "x_test.go", "additions": float64(9)}}},
			models.ConclusionSuccess, true, true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := srv.handleEvaluateTestRatio(context.Background(), callToolReq("prguard_evaluate_test_ratio", tt.args))
			require.NoError(t, err)
			require.False(t, result.IsError, resultText(t, result))

			var out struct {
				Verdict    models.GuardrailVerdict `json:"verdict"`
				Conclusion models.Conclusion       `json:"conclusion"`
			}
			resultJSON(t, result, &out)
			assert.Equal(t, tt.want, out.Conclusion)
			assert.Equal(t, tt.passed, out.Verdict.Passed)
			assert.Equal(t, tt.noRatio, out.Verdict.Ratio == nil)
		})
	}
}

func TestHandleEvaluateTestRatio_Errors(t *testing.T) {
	srv, _, _ := newTestServer(t)
	for name, args := range map[string]map[string]any{
		"missing files": nil,
		"bad threshold": {"files": []any{}, "threshold": 2.0},
		"bad files":     {"files": "lib.go"},
	} {
		t.Run(name, func(t *testing.T) {
			result, err := srv.handleEvaluateTestRatio(context.Background(), callToolReq("prguard_evaluate_test_ratio", args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
		})
	}
}

func TestHandleResolveContext(t *testing.T) {
	srv, gh, _ := newTestServer(t)
	gh.AddPR(models.PullRequest{Number: 7, Title: "Add retries", BaseRef: "main", HeadSHA: "abc", Body: "fixes #42"})

	result, err := srv.handleResolveContext(context.Background(), callToolReq("prguard_resolve_context", map[string]any{"pr": float64(7)}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var out map[string]string
	resultJSON(t, result, &out)
	assert.Equal(t, "42", out["parent-issue"])
	assert.Equal(t, "main", out["base-branch"])
	assert.Equal(t, "0", out["review-cycles"])
	assert.Equal(t, "acme/widgets", out["repo"])
}

func TestHandleResolveContext_Errors(t *testing.T) {
	srv, _, _ := newTestServer(t)

	result, err := srv.handleResolveContext(context.Background(), callToolReq("prguard_resolve_context", map[string]any{"pr": float64(99)}))
	require.NoError(t, err)
	assert.True(t, result.IsError, "unknown PR")

	result, err = srv.handleResolveContext(context.Background(), callToolReq("prguard_resolve_context", map[string]any{"pr": float64(1), "repo": "bad"}))
	require.NoError(t, err)
	assert.True(t, result.IsError, "invalid repo")

	noGH, err := NewServer(nil, nil, nil, testRepo, "")
	require.NoError(t, err)
	result, err = noGH.handleResolveContext(context.Background(), callToolReq("prguard_resolve_context", map[string]any{"pr": float64(1)}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "github.token")
}

func TestHandleListRuns(t *testing.T) {
	srv, _, runs := newTestServer(t)
	runs.runs = []*models.Run{{ID: "01A", Kind: models.RunKindIngest, PRNumber: 7}}

	result, err := srv.handleListRuns(context.Background(), callToolReq("prguard_list_runs", map[string]any{"pr": float64(7), "kind": "ingest"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var got []*models.Run
	resultJSON(t, result, &got)
	require.Len(t, got, 1)
	assert.Equal(t, 7, runs.filter.PRNumber)
	assert.Equal(t, models.RunKindIngest, runs.filter.Kind)
	assert.Equal(t, 20, runs.filter.Limit)

	runs.err = errors.New("db closed")
	result, err = srv.handleListRuns(context.Background(), callToolReq("prguard_list_runs", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
