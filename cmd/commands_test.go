package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/prguard/internal/issuegraph"
	"github.com/joescharf/prguard/internal/models"
	"github.com/joescharf/prguard/internal/store"
)

// fakeGitHubAPI serves the REST calls the guardrail and context commands
// make for PR #7 of acme/widgets and records check-run posts.
type fakeGitHubAPI struct {
	mu     sync.Mutex
	checks []map[string]any
}

func (f *fakeGitHubAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/repos/acme/widgets/pulls/7":
		fmt.Fprint(w, `{"number":7,"title":"Add widgets","body":"Fixes #3","head":{"sha":"abc123","ref":"feat"},"base":{"ref":"main"}}`)
	case r.Method == http.MethodPost && r.URL.Path == "/repos/acme/widgets/check-runs":
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.checks = append(f.checks, body)
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":1}`)
	case r.Method == http.MethodGet:
		fmt.Fprint(w, `[]`)
	default:
		http.NotFound(w, r)
	}
}

func withFakeGitHub(t *testing.T) *fakeGitHubAPI {
	t.Helper()
	clearActionsEnv(t)
	api := &fakeGitHubAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	viper.Set("github.token", "t")
	viper.Set("github.api_url", srv.URL)
	viper.Set("github.max_retries", 0)
	repoFlag = "acme/widgets"
	return api
}

func commandWithContext(t *testing.T) *cobra.Command {
	c := &cobra.Command{}
	c.SetContext(t.Context())
	return c
}

func TestGuardrailRun_ReportsCheck(t *testing.T) {
	_, out := testEnv(t)
	api := withFakeGitHub(t)
	guardrailPR = 7
	t.Cleanup(func() { guardrailPR = 0 })

	require.NoError(t, guardrailRun(commandWithContext(t), "all"))

	assert.Contains(t, out.String(), "guardrail/test-ratio")
	require.Len(t, api.checks, 1)
	assert.Equal(t, "guardrail/test-ratio", api.checks[0]["name"])
	assert.Equal(t, "abc123", api.checks[0]["head_sha"])

	// The run is recorded in the ledger.
	runs, err := dataStore.ListRuns(t.Context(), store.RunListFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunKindGuardrail, runs[0].Kind)
	assert.Equal(t, 7, runs[0].PRNumber)
}

func TestGuardrailRun_DryRunPostsNothing(t *testing.T) {
	testEnv(t)
	api := withFakeGitHub(t)
	dryRun = true
	ui.DryRun = true
	guardrailPR = 7
	t.Cleanup(func() { guardrailPR = 0 })

	require.NoError(t, guardrailRun(commandWithContext(t), "all"))
	assert.Empty(t, api.checks)
}

func TestContextCommand(t *testing.T) {
	dir, out := testEnv(t)
	withFakeGitHub(t)
	outputPath := filepath.Join(dir, "github_output")
	t.Setenv("GITHUB_OUTPUT", outputPath)
	contextPR = 7
	t.Cleanup(func() { contextPR = 0 })

	contextCmd.SetContext(t.Context())
	require.NoError(t, contextCmd.RunE(contextCmd, nil))

	assert.Contains(t, out.String(), "parent-issue=3")
	data, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "pr-number=7\n")
	assert.Contains(t, string(data), "base-branch=main\n")
	assert.Contains(t, string(data), "review-cycles=0\n")
}

func TestReviewClassifyRun(t *testing.T) {
	_, out := testEnv(t)
	classifyPath, classifyLine = "internal/api/api.go", 12
	t.Cleanup(func() { classifyPath, classifyLine = "", 0 })

	require.NoError(t, reviewClassifyRun("blocking: nil map write on first request"))

	text := out.String()
	assert.Contains(t, text, "blocking")
	assert.Contains(t, text, "Blocking:    true")
	assert.Regexp(t, `Fingerprint: [0-9a-f]{16}`, text)
	assert.Contains(t, text, "internal/api/api.go:12")

	assert.ErrorContains(t, reviewClassifyRun("  "), "empty")
}

func TestRunsRun(t *testing.T) {
	_, out := testEnv(t)
	clearActionsEnv(t)
	repoFlag = "acme/widgets"

	s, err := getStore()
	require.NoError(t, err)
	ctx := t.Context()
	require.NoError(t, s.CreateRun(ctx, &models.Run{Kind: models.RunKindGuardrail, Name: "guardrail/test-ratio", Repo: "acme/widgets", PRNumber: 7, Conclusion: "success", Summary: "ratio 0.50"}))
	require.NoError(t, s.CreateRun(ctx, &models.Run{Kind: models.RunKindIngest, Repo: "acme/widgets", PRNumber: 8, Conclusion: "partial", Summary: "2 findings"}))
	require.NoError(t, s.CreateRun(ctx, &models.Run{Kind: models.RunKindIngest, Repo: "other/repo", PRNumber: 9, Conclusion: "success"}))

	require.NoError(t, runsRun(commandWithContext(t)))
	text := out.String()
	assert.Contains(t, text, "ratio 0.50")
	assert.Contains(t, text, "2 findings")
	assert.NotContains(t, text, "other/repo")

	out.Reset()
	runsKind = "ingest"
	runsPR = 8
	t.Cleanup(func() { runsKind, runsPR = "", 0 })
	require.NoError(t, runsRun(commandWithContext(t)))
	assert.NotContains(t, out.String(), "ratio 0.50")
	assert.Contains(t, out.String(), "2 findings")

	runsKind = "bogus"
	assert.ErrorContains(t, runsRun(commandWithContext(t)), "unknown run kind")
}

func TestRunsRun_Empty(t *testing.T) {
	_, out := testEnv(t)
	clearActionsEnv(t)
	runsAll = true
	t.Cleanup(func() { runsAll = false })

	require.NoError(t, runsRun(commandWithContext(t)))
	assert.Contains(t, out.String(), "No runs recorded")
}

func TestPrintSummary(t *testing.T) {
	_, out := testEnv(t)

	printSummary(nil, nil)
	assert.Contains(t, out.String(), "No findings")

	out.Reset()
	fs := []models.Finding{{Severity: models.SeverityBlocking}, {Severity: models.SeveritySuggestion}}
	sum := &issuegraph.Summary{
		Children: []models.ChildIssue{
			{IssueRef: models.IssueRef{Number: 101}, Title: "[blocking] a.go:3: nil deref", Severity: models.SeverityBlocking, Blocking: true},
			{IssueRef: models.IssueRef{Number: 102}, Title: "[suggestion] b.go: rename", Severity: models.SeveritySuggestion},
		},
		Created:  1,
		Reused:   1,
		Blocking: 1,
	}
	printSummary(fs, sum)
	text := out.String()
	assert.Contains(t, text, "#101")
	assert.Contains(t, text, "[suggestion] b.go: rename")
	assert.Contains(t, text, "2 findings: 1 created, 1 reused, 1 blocking")
}

func TestVersionCommand(t *testing.T) {
	_, out := testEnv(t)
	buildVersion = "1.2.3"
	t.Cleanup(func() { buildVersion = "dev" })

	versionCmd.Run(versionCmd, nil)
	assert.Contains(t, out.String(), "prguard 1.2.3")
}
