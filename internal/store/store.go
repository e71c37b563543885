package store

import (
	"context"

	"github.com/joescharf/prguard/internal/models"
)

// RunListFilter specifies filters for listing runs.
type RunListFilter struct {
	Repo     string
	PRNumber int
	Kind     models.RunKind
	Limit    int
}

// Store defines the persistence interface for prguard's local ledger.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run *models.Run) error
	GetRun(ctx context.Context, id string) (*models.Run, error)
	ListRuns(ctx context.Context, filter RunListFilter) ([]*models.Run, error)

	// Child issues
	UpsertChildIssue(ctx context.Context, rec *models.ChildIssueRecord) error
	ListChildIssues(ctx context.Context, repo string, parent int) ([]*models.ChildIssueRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
