package guardrail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/joescharf/prguard/internal/config"
	"github.com/joescharf/prguard/internal/models"
	"github.com/joescharf/prguard/internal/observability"
	"github.com/joescharf/prguard/internal/patterns"
	"github.com/joescharf/prguard/internal/prcontext"
)

// PullRequestSource is the read side of the GitHub API the guardrails need.
type PullRequestSource interface {
	ListFiles(ctx context.Context, repo models.Repo, number int) ([]models.DiffEntry, error)
	ListReviews(ctx context.Context, repo models.Repo, number int) ([]models.Review, error)
	ListCommits(ctx context.Context, repo models.Repo, number int) ([]models.Commit, error)
	IssueSource
}

// IssueSource reads the linked issue and its sub-issues for the scope
// guardrail.
type IssueSource interface {
	GetIssue(ctx context.Context, repo models.Repo, number int) (*models.Issue, error)
	ListSubIssues(ctx context.Context, parent models.NodeID) ([]models.Issue, error)
}

// CheckReporter publishes a completed check run.
type CheckReporter interface {
	CreateCheck(ctx context.Context, repo models.Repo, check models.Check) error
}

// Runner evaluates guardrails for a pull request and reports exactly one
// check per guardrail run, including when evaluation fails.
type Runner struct {
	source  PullRequestSource
	checks  CheckReporter
	cfg     *config.Config
	matcher *patterns.Matcher
	logger  *slog.Logger
}

// NewRunner creates a guardrail runner. A nil logger discards output.
func NewRunner(src PullRequestSource, checks CheckReporter, cfg *config.Config, m *patterns.Matcher, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if m == nil {
		m = patterns.Default()
	}
	return &Runner{source: src, checks: checks, cfg: cfg, matcher: m, logger: logger}
}

// Names lists the guardrail check names in evaluation order.
func Names() []string {
	return []string{CheckTestRatio, CheckCommits, CheckDependencies, CheckScope, CheckAPISurface}
}

// Run evaluates one guardrail by check name and reports its check.
func (r *Runner) Run(ctx context.Context, repo models.Repo, pr *models.PullRequest, name string) (*models.Check, error) {
	var (
		check models.Check
		err   error
	)
	switch name {
	case CheckTestRatio:
		check, err = r.testRatio(ctx, repo, pr)
	case CheckCommits:
		check, err = r.commits(ctx, repo, pr)
	case CheckDependencies:
		check, err = r.dependencies(ctx, repo, pr)
	case CheckScope:
		check, err = r.scope(ctx, repo, pr)
	case CheckAPISurface:
		check, err = r.apiSurface(ctx, repo, pr)
	default:
		return nil, fmt.Errorf("unknown guardrail %q", name)
	}

	if err != nil {
		r.logger.Error("guardrail evaluation failed", "check", name, "pr", pr.Number, "err", err)
		check = ErrorCheck(name, pr.HeadSHA, err)
	}

	if err := r.checks.CreateCheck(ctx, repo, check); err != nil {
		return &check, fmt.Errorf("report %s: %w", name, err)
	}
	observability.GuardrailChecks.WithLabelValues(name, string(check.Conclusion)).Inc()
	r.logger.Info("check reported", "check", name, "pr", pr.Number, "conclusion", check.Conclusion)
	return &check, nil
}

// RunAll runs the test-ratio guardrail and every enabled supplementary
// guardrail. One guardrail failing does not stop the others.
func (r *Runner) RunAll(ctx context.Context, repo models.Repo, pr *models.PullRequest) ([]*models.Check, error) {
	names := []string{CheckTestRatio}
	if r.cfg.Commits.Enabled {
		names = append(names, CheckCommits)
	}
	if r.cfg.Dependencies.Enabled {
		names = append(names, CheckDependencies)
	}
	if r.cfg.Scope.Enabled {
		names = append(names, CheckScope)
	}
	if r.cfg.APISurface.Enabled {
		names = append(names, CheckAPISurface)
	}

	var (
		checks []*models.Check
		errs   []error
	)
	for _, name := range names {
		c, err := r.Run(ctx, repo, pr, name)
		if c != nil {
			checks = append(checks, c)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return checks, errors.Join(errs...)
}

// EvaluateTestRatioFor fetches the diff and reviews and returns the verdict
// without reporting it.
func (r *Runner) EvaluateTestRatioFor(ctx context.Context, repo models.Repo, pr *models.PullRequest) (models.GuardrailVerdict, error) {
	g := r.cfg.TestRatio
	if !g.Enabled {
		return EvaluateTestRatio(nil, g, r.matcher), nil
	}

	files, err := r.source.ListFiles(ctx, repo, pr.Number)
	if err != nil {
		return models.GuardrailVerdict{}, fmt.Errorf("list files: %w", err)
	}
	v := EvaluateTestRatio(files, g, r.matcher)
	r.logger.Debug("test ratio computed", "pr", pr.Number, "test_lines", v.TestLines, "impl_lines", v.ImplLines)

	// Reviews only matter when the ratio verdict fails.
	if !v.Passed {
		reviews, err := r.source.ListReviews(ctx, repo, pr.Number)
		if err != nil {
			return models.GuardrailVerdict{}, fmt.Errorf("list reviews: %w", err)
		}
		v.Overridden = HasNonStaleApproval(reviews, pr.HeadSHA)
	}
	return v, nil
}

func (r *Runner) testRatio(ctx context.Context, repo models.Repo, pr *models.PullRequest) (models.Check, error) {
	v, err := r.EvaluateTestRatioFor(ctx, repo, pr)
	if err != nil {
		return models.Check{}, err
	}
	return TestRatioCheck(v, pr.HeadSHA, r.cfg.TestRatio.Conclusion), nil
}

func (r *Runner) commits(ctx context.Context, repo models.Repo, pr *models.PullRequest) (models.Check, error) {
	g := r.cfg.Commits
	if !g.Enabled {
		return EvaluateCommits(nil, g, false, pr.HeadSHA), nil
	}
	approved, err := r.approved(ctx, repo, pr)
	if err != nil {
		return models.Check{}, err
	}
	var commits []models.Commit
	if !approved {
		commits, err = r.source.ListCommits(ctx, repo, pr.Number)
		if err != nil {
			return models.Check{}, fmt.Errorf("list commits: %w", err)
		}
	}
	return EvaluateCommits(commits, g, approved, pr.HeadSHA), nil
}

func (r *Runner) dependencies(ctx context.Context, repo models.Repo, pr *models.PullRequest) (models.Check, error) {
	g := r.cfg.Dependencies
	if !g.Enabled {
		return EvaluateDependencies(nil, g, r.matcher, false, pr.HeadSHA), nil
	}
	approved, err := r.approved(ctx, repo, pr)
	if err != nil {
		return models.Check{}, err
	}
	var files []models.DiffEntry
	if !approved {
		files, err = r.source.ListFiles(ctx, repo, pr.Number)
		if err != nil {
			return models.Check{}, fmt.Errorf("list files: %w", err)
		}
	}
	return EvaluateDependencies(files, g, r.matcher, approved, pr.HeadSHA), nil
}

func (r *Runner) scope(ctx context.Context, repo models.Repo, pr *models.PullRequest) (models.Check, error) {
	g := r.cfg.Scope
	if !g.Enabled {
		return EvaluateScope(ScopeInput{}, g, pr.HeadSHA), nil
	}
	parent, ok := prcontext.ParentFromBody(pr.Body)
	if !ok {
		return EvaluateScope(ScopeInput{}, g, pr.HeadSHA), nil
	}

	issue, err := r.source.GetIssue(ctx, repo, parent)
	if errors.Is(err, models.ErrNotFound) {
		return ScopeIssueMissing(parent, pr.HeadSHA), nil
	}
	if err != nil {
		return models.Check{}, fmt.Errorf("get issue #%d: %w", parent, err)
	}
	bodies := []string{issue.Body}
	children, err := r.source.ListSubIssues(ctx, issue.NodeID)
	if err != nil {
		r.logger.Warn("sub-issues unavailable, using parent scope only", "issue", parent, "err", err)
	}
	for _, child := range children {
		bodies = append(bodies, child.Body)
	}

	in := ScopeInput{Parent: parent}
	seen := make(map[string]bool)
	for _, b := range bodies {
		for _, p := range ExtractScopePaths(b) {
			if !seen[p] {
				seen[p] = true
				in.Scope = append(in.Scope, p)
			}
		}
	}
	if len(in.Scope) == 0 {
		return EvaluateScope(in, g, pr.HeadSHA), nil
	}

	in.Files, err = r.source.ListFiles(ctx, repo, pr.Number)
	if err != nil {
		return models.Check{}, fmt.Errorf("list files: %w", err)
	}
	if in.Approved, err = r.approved(ctx, repo, pr); err != nil {
		return models.Check{}, err
	}
	return EvaluateScope(in, g, pr.HeadSHA), nil
}

func (r *Runner) apiSurface(ctx context.Context, repo models.Repo, pr *models.PullRequest) (models.Check, error) {
	g := r.cfg.APISurface
	if !g.Enabled {
		return EvaluateAPISurface(nil, g, false, pr.HeadSHA), nil
	}
	approved, err := r.approved(ctx, repo, pr)
	if err != nil {
		return models.Check{}, err
	}
	var files []models.DiffEntry
	if !approved {
		files, err = r.source.ListFiles(ctx, repo, pr.Number)
		if err != nil {
			return models.Check{}, fmt.Errorf("list files: %w", err)
		}
	}
	return EvaluateAPISurface(files, g, approved, pr.HeadSHA), nil
}

func (r *Runner) approved(ctx context.Context, repo models.Repo, pr *models.PullRequest) (bool, error) {
	reviews, err := r.source.ListReviews(ctx, repo, pr.Number)
	if err != nil {
		return false, fmt.Errorf("list reviews: %w", err)
	}
	return HasNonStaleApproval(reviews, pr.HeadSHA), nil
}
