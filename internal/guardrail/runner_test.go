package guardrail

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/prguard/internal/config"
	"github.com/joescharf/prguard/internal/issuegraph"
	"github.com/joescharf/prguard/internal/models"
)

type fakeSource struct {
	files      []models.DiffEntry
	reviews    []models.Review
	commits    []models.Commit
	filesErr   error
	reviewCall int

	issues    map[int]*models.Issue
	subIssues map[models.NodeID][]models.Issue
	issueErr  error
	subErr    error
	issueCall int
}

func (f *fakeSource) GetIssue(_ context.Context, _ models.Repo, number int) (*models.Issue, error) {
	f.issueCall++
	if f.issueErr != nil {
		return nil, f.issueErr
	}
	is, ok := f.issues[number]
	if !ok {
		return nil, fmt.Errorf("issue #%d: %w", number, models.ErrNotFound)
	}
	return is, nil
}

func (f *fakeSource) ListSubIssues(_ context.Context, parent models.NodeID) ([]models.Issue, error) {
	return f.subIssues[parent], f.subErr
}

func (f *fakeSource) ListFiles(_ context.Context, _ models.Repo, _ int) ([]models.DiffEntry, error) {
	return f.files, f.filesErr
}

func (f *fakeSource) ListReviews(_ context.Context, _ models.Repo, _ int) ([]models.Review, error) {
	f.reviewCall++
	return f.reviews, nil
}

func (f *fakeSource) ListCommits(_ context.Context, _ models.Repo, _ int) ([]models.Commit, error) {
	return f.commits, nil
}

type fakeReporter struct {
	checks []models.Check
	err    error
}

func (f *fakeReporter) CreateCheck(_ context.Context, _ models.Repo, c models.Check) error {
	f.checks = append(f.checks, c)
	return f.err
}

var testRepo = models.Repo{Owner: "acme", Name: "widgets"}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.TestRatio = config.Guardrail{Enabled: true, Threshold: 0.5, Conclusion: models.ConclusionActionRequired}
	return cfg
}

func TestRunner_RunTestRatio(t *testing.T) {
	pr := &models.PullRequest{Number: 7, HeadSHA: "head"}
	src := &fakeSource{files: []models.DiffEntry{
		{Path: "lib.go", Additions: 100},
		{Path: "lib_test.go", Additions: 40},
	}}
	rep := &fakeReporter{}

	r := NewRunner(src, rep, testConfig(), nil, nil)
	c, err := r.Run(context.Background(), testRepo, pr, CheckTestRatio)
	require.NoError(t, err)
	assert.Equal(t, models.ConclusionActionRequired, c.Conclusion)
	require.Len(t, rep.checks, 1)
	assert.Equal(t, "head", rep.checks[0].HeadSHA)
	assert.Equal(t, 1, src.reviewCall)

	src.reviews = []models.Review{{State: models.ReviewStateApproved, CommitID: "head"}}
	c, err = r.Run(context.Background(), testRepo, pr, CheckTestRatio)
	require.NoError(t, err)
	assert.Equal(t, models.ConclusionSuccess, c.Conclusion)
}

func TestRunner_PassingRatioSkipsReviews(t *testing.T) {
	src := &fakeSource{files: []models.DiffEntry{{Path: "lib.go", Additions: 10}, {Path: "lib_test.go", Additions: 10}}}
	r := NewRunner(src, &fakeReporter{}, testConfig(), nil, nil)

	_, err := r.Run(context.Background(), testRepo, &models.PullRequest{Number: 1, HeadSHA: "h"}, CheckTestRatio)
	require.NoError(t, err)
	assert.Zero(t, src.reviewCall)
}

func TestRunner_FetchFailurePostsFailureCheck(t *testing.T) {
	src := &fakeSource{filesErr: errors.New("rate limited")}
	rep := &fakeReporter{}
	r := NewRunner(src, rep, testConfig(), nil, nil)

	c, err := r.Run(context.Background(), testRepo, &models.PullRequest{Number: 1, HeadSHA: "h"}, CheckTestRatio)
	require.NoError(t, err)
	assert.Equal(t, models.ConclusionFailure, c.Conclusion)
	require.Len(t, rep.checks, 1)
	assert.Contains(t, rep.checks[0].Summary, "rate limited")
}

func TestRunner_ReportFailureIsReturned(t *testing.T) {
	rep := &fakeReporter{err: errors.New("boom")}
	r := NewRunner(&fakeSource{}, rep, testConfig(), nil, nil)

	_, err := r.Run(context.Background(), testRepo, &models.PullRequest{Number: 1, HeadSHA: "h"}, CheckTestRatio)
	assert.ErrorContains(t, err, "boom")
}

func TestRunner_UnknownGuardrail(t *testing.T) {
	r := NewRunner(&fakeSource{}, &fakeReporter{}, testConfig(), nil, nil)
	_, err := r.Run(context.Background(), testRepo, &models.PullRequest{}, "guardrail/nope")
	assert.Error(t, err)
}

func TestRunner_RunAll(t *testing.T) {
	cfg := testConfig()
	cfg.Commits = config.Guardrail{Enabled: true, Conclusion: models.ConclusionNeutral, MaxSubjectLength: 72}
	src := &fakeSource{commits: []models.Commit{{SHA: "aaaaaaaa", Message: "feat: x"}}}
	rep := &fakeReporter{}

	checks, err := NewRunner(src, rep, cfg, nil, nil).RunAll(context.Background(), testRepo, &models.PullRequest{Number: 3, HeadSHA: "h"})
	require.NoError(t, err)
	require.Len(t, checks, 2)
	assert.Equal(t, CheckTestRatio, checks[0].Name)
	assert.Equal(t, CheckCommits, checks[1].Name)
	assert.Len(t, rep.checks, 2)
}

func scopeSource() *fakeSource {
	return &fakeSource{
		issues: map[int]*models.Issue{
			42: {IssueRef: models.IssueRef{Number: 42, NodeID: "I_42"}, Body: "Scope: `src/api/**`"},
		},
		subIssues: map[models.NodeID][]models.Issue{
			"I_42": {{IssueRef: models.IssueRef{Number: 43}, Body: "Also touch `docs/guide.md`"}},
		},
		files: []models.DiffEntry{
			{Path: "src/api/a.go"},
			{Path: "docs/guide.md"},
			{Path: "main.go"},
			{Path: "go.mod"},
			{Path: "Makefile"},
		},
	}
}

func TestRunner_Scope(t *testing.T) {
	cfg := testConfig()
	cfg.Scope = config.Guardrail{Enabled: true, Conclusion: models.ConclusionActionRequired}
	pr := &models.PullRequest{Number: 7, HeadSHA: "head", Body: "Fixes #42"}

	tests := []struct {
		name        string
		mutate      func(*fakeSource, *models.PullRequest)
		want        models.Conclusion
		annotations int
		title       string
	}{
		{
			name:        "sub-issue paths extend the scope",
			want:        models.ConclusionActionRequired,
			annotations: 3,
			title:       "3 file(s) outside task scope",
		},
		{
			name:        "sub-issues unavailable falls back to the parent",
			mutate:      func(s *fakeSource, _ *models.PullRequest) { s.subErr = errors.New("graphql down") },
			want:        models.ConclusionActionRequired,
			annotations: 4,
			title:       "4 file(s) outside task scope",
		},
		{
			name: "approved",
			mutate: func(s *fakeSource, _ *models.PullRequest) {
				s.reviews = []models.Review{{State: models.ReviewStateApproved, CommitID: "head"}}
			},
			want:  models.ConclusionNeutral,
			title: "approved by reviewer",
		},
		{
			name:   "no linked issue",
			mutate: func(_ *fakeSource, p *models.PullRequest) { p.Body = "just a refactor" },
			want:   models.ConclusionSuccess,
			title:  "no linked issue",
		},
		{
			name:   "linked issue missing",
			mutate: func(s *fakeSource, _ *models.PullRequest) { s.issues = nil },
			want:   models.ConclusionSuccess,
			title:  "issue not found",
		},
		{
			name:   "issue lookup fails",
			mutate: func(s *fakeSource, _ *models.PullRequest) { s.issueErr = errors.New("502 bad gateway") },
			want:   models.ConclusionFailure,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := scopeSource()
			p := *pr
			if tt.mutate != nil {
				tt.mutate(src, &p)
			}
			rep := &fakeReporter{}

			c, err := NewRunner(src, rep, cfg, nil, nil).Run(context.Background(), testRepo, &p, CheckScope)
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.Conclusion)
			assert.Len(t, c.Annotations, tt.annotations)
			assert.Contains(t, c.Title, tt.title)
			require.Len(t, rep.checks, 1)
			assert.Equal(t, CheckScope, rep.checks[0].Name)
		})
	}
}

func TestRunner_ScopeIgnoresManagedSectionReferences(t *testing.T) {
	cfg := testConfig()
	cfg.Scope = config.Guardrail{Enabled: true, Conclusion: models.ConclusionActionRequired}
	src := scopeSource()
	pr := &models.PullRequest{
		Number:  7,
		HeadSHA: "head",
		Body:    "Refactor\n\n" + issuegraph.SectionStart + "\nFixes #42\n" + issuegraph.SectionEnd + "\n",
	}

	c, err := NewRunner(src, &fakeReporter{}, cfg, nil, nil).Run(context.Background(), testRepo, pr, CheckScope)
	require.NoError(t, err)
	assert.Equal(t, models.ConclusionSuccess, c.Conclusion)
	assert.Zero(t, src.issueCall)
}

func TestRunner_APISurface(t *testing.T) {
	cfg := testConfig()
	cfg.APISurface = config.Guardrail{Enabled: true, Conclusion: models.ConclusionActionRequired}
	src := &fakeSource{files: []models.DiffEntry{
		{Path: "pkg/svc.go", Status: models.FileStatusModified, Patch: "@@ -1 +1,2 @@\n package pkg\n+func Serve() {}"},
	}}
	rep := &fakeReporter{}
	r := NewRunner(src, rep, cfg, nil, nil)
	pr := &models.PullRequest{Number: 7, HeadSHA: "head"}

	c, err := r.Run(context.Background(), testRepo, pr, CheckAPISurface)
	require.NoError(t, err)
	assert.Equal(t, models.ConclusionActionRequired, c.Conclusion)
	require.Len(t, c.Annotations, 1)
	assert.Equal(t, 2, c.Annotations[0].Line)

	src.reviews = []models.Review{{State: models.ReviewStateApproved, CommitID: "head"}}
	c, err = r.Run(context.Background(), testRepo, pr, CheckAPISurface)
	require.NoError(t, err)
	assert.Equal(t, models.ConclusionNeutral, c.Conclusion)
}

func TestRunner_RunAllIncludesEnabledScopeGuardrails(t *testing.T) {
	cfg := testConfig()
	cfg.Scope = config.Guardrail{Enabled: true, Conclusion: models.ConclusionActionRequired}
	cfg.APISurface = config.Guardrail{Enabled: true, Conclusion: models.ConclusionActionRequired}

	checks, err := NewRunner(&fakeSource{}, &fakeReporter{}, cfg, nil, nil).RunAll(context.Background(), testRepo, &models.PullRequest{Number: 3, HeadSHA: "h"})
	require.NoError(t, err)
	var names []string
	for _, c := range checks {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{CheckTestRatio, CheckScope, CheckAPISurface}, names)
}
