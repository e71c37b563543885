package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/prguard/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSQLiteStore(filepath.Join(dir, "subdir", "test.db"))
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dir, "subdir"))
	assert.NoError(t, err, "should create parent directory")
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Migrate(context.Background()))
}

func TestRunCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := &models.Run{
		Kind:       models.RunKindGuardrail,
		Name:       "guardrail/test-ratio",
		Repo:       "acme/widgets",
		PRNumber:   7,
		Conclusion: "failure",
		Summary:    "ratio 0.40 < 0.50",
	}
	require.NoError(t, s.CreateRun(ctx, run))
	assert.NotEmpty(t, run.ID)
	assert.False(t, run.CreatedAt.IsZero())

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.Kind, got.Kind)
	assert.Equal(t, run.Name, got.Name)
	assert.Equal(t, run.PRNumber, got.PRNumber)
	assert.Equal(t, run.Summary, got.Summary)

	_, err = s.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListRuns_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seed := []*models.Run{
		{Kind: models.RunKindGuardrail, Repo: "acme/widgets", PRNumber: 1},
		{Kind: models.RunKindIngest, Repo: "acme/widgets", PRNumber: 1},
		{Kind: models.RunKindDispatch, Repo: "acme/widgets", PRNumber: 2},
		{Kind: models.RunKindGuardrail, Repo: "acme/gadgets", PRNumber: 1},
	}
	for _, r := range seed {
		require.NoError(t, s.CreateRun(ctx, r))
	}

	tests := []struct {
		name   string
		filter RunListFilter
		want   int
	}{
		{"all", RunListFilter{}, 4},
		{"by repo", RunListFilter{Repo: "acme/widgets"}, 3},
		{"by repo and pr", RunListFilter{Repo: "acme/widgets", PRNumber: 1}, 2},
		{"by kind", RunListFilter{Kind: models.RunKindGuardrail}, 2},
		{"limit", RunListFilter{Limit: 1}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs, err := s.ListRuns(ctx, tt.filter)
			require.NoError(t, err)
			assert.Len(t, runs, tt.want)
		})
	}

	runs, err := s.ListRuns(ctx, RunListFilter{})
	require.NoError(t, err)
	assert.Equal(t, seed[3].ID, runs[0].ID, "newest first")
}

func TestChildIssues_Upsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &models.ChildIssueRecord{
		Fingerprint: "aaaa",
		Repo:        "acme/widgets",
		ParentIssue: 42,
		Number:      101,
		Severity:    models.SeverityShouldFix,
		PRNumber:    7,
	}
	require.NoError(t, s.UpsertChildIssue(ctx, rec))
	require.NoError(t, s.UpsertChildIssue(ctx, &models.ChildIssueRecord{
		Fingerprint: "bbbb", Repo: "acme/widgets", ParentIssue: 42, Number: 100,
		Severity: models.SeverityBlocking, Blocking: true, PRNumber: 7,
	}))
	require.NoError(t, s.UpsertChildIssue(ctx, &models.ChildIssueRecord{
		Fingerprint: "cccc", Repo: "acme/widgets", ParentIssue: 9, Number: 5,
	}))

	got, err := s.ListChildIssues(ctx, "acme/widgets", 42)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 100, got[0].Number)
	assert.True(t, got[0].Blocking)
	assert.Equal(t, models.SeverityBlocking, got[0].Severity)

	// Same fingerprint re-filed under a new number replaces the row.
	rec.Number = 150
	rec.Severity = models.SeverityBlocking
	rec.Blocking = true
	require.NoError(t, s.UpsertChildIssue(ctx, rec))

	got, err = s.ListChildIssues(ctx, "acme/widgets", 42)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 150, got[1].Number)
	assert.True(t, got[1].Blocking)
}
