// Package issuegraph files review findings as child issues under a parent
// issue, wires their blocking relationships and keeps the PR description's
// list of fixes current. Every operation is safe to re-run.
package issuegraph

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joescharf/prguard/internal/lock"
	"github.com/joescharf/prguard/internal/models"
	"github.com/joescharf/prguard/internal/observability"
)

// Tracker is the issue tracker surface the materializer drives.
type Tracker interface {
	// GetIssue looks up an issue, including its opaque node id.
	GetIssue(ctx context.Context, repo models.Repo, number int) (*models.Issue, error)
	ListSubIssues(ctx context.Context, parent models.NodeID) ([]models.Issue, error)
	CreateIssue(ctx context.Context, repo models.Repo, title, body string, labels []string) (*models.Issue, error)
	AddSubIssue(ctx context.Context, parent, child models.NodeID) error
	// ListBlockedBy returns the node ids of issues blocking issue.
	ListBlockedBy(ctx context.Context, issue models.NodeID) ([]models.NodeID, error)
	AddBlockedBy(ctx context.Context, issue, blocker models.NodeID) error
	UpdatePRBody(ctx context.Context, repo models.Repo, number int, body string) error
	EnsureLabel(ctx context.Context, repo models.Repo, name, color, description string) error
}

// Failure records one finding that could not be materialized.
type Failure struct {
	Finding models.Finding
	Stage   string
	Err     error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s %s: %v", f.Stage, f.Finding.Location(), f.Err)
}

// Summary aggregates the outcome of one materialization.
type Summary struct {
	Parent     models.IssueRef
	Children   []models.ChildIssue
	Created    int
	Reused     int
	Blocking   int
	BySeverity map[models.Severity]int
	Failures   []Failure
	BodyUpdate bool
}

// Materializer turns findings into a consistent issue graph.
type Materializer struct {
	tracker Tracker
	locker  lock.Locker
	logger  *slog.Logger
	dryRun  bool
}

// Option configures a Materializer.
type Option func(*Materializer)

// WithLocker serializes child creation across processes.
func WithLocker(l lock.Locker) Option {
	return func(m *Materializer) { m.locker = l }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Materializer) { m.logger = l }
}

// WithDryRun makes the materializer read but never write.
func WithDryRun(dry bool) Option {
	return func(m *Materializer) { m.dryRun = dry }
}

// New creates a Materializer. Without WithLocker an in-process lock is used.
func New(t Tracker, opts ...Option) *Materializer {
	m := &Materializer{
		tracker: t,
		locker:  lock.NewLocal(),
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// ResolveParent fetches the parent issue and its node id. The node id is
// looked up once per run and reused for every mutation.
func (m *Materializer) ResolveParent(ctx context.Context, repo models.Repo, number int) (*models.ParentIssue, error) {
	iss, err := m.tracker.GetIssue(ctx, repo, number)
	if err != nil {
		return nil, fmt.Errorf("get parent issue #%d: %w", number, err)
	}
	if iss.NodeID == "" {
		return nil, fmt.Errorf("parent issue #%d has no node id", number)
	}
	return &models.ParentIssue{IssueRef: iss.IssueRef}, nil
}

// children lists the parent's sub-issues as ChildIssues.
func (m *Materializer) children(ctx context.Context, parent *models.ParentIssue) ([]models.ChildIssue, error) {
	subs, err := m.tracker.ListSubIssues(ctx, parent.NodeID)
	if err != nil {
		return nil, fmt.Errorf("list sub-issues of #%d: %w", parent.Number, err)
	}
	out := make([]models.ChildIssue, 0, len(subs))
	for _, s := range subs {
		out = append(out, childFromIssue(s))
	}
	parent.Children = out
	return out, nil
}

func childFromIssue(iss models.Issue) models.ChildIssue {
	c := models.ChildIssue{
		IssueRef:    iss.IssueRef,
		Title:       iss.Title,
		Fingerprint: FingerprintOf(iss.Body),
		Open:        iss.Open,
	}
	for _, l := range iss.Labels {
		for _, sev := range models.Severities {
			if l == string(sev) {
				c.Severity = sev
			}
		}
	}
	return c
}

// CreateOrReuse returns the open child filed for finding, creating it when
// none exists. The parent's children are re-listed right before creating.
func (m *Materializer) CreateOrReuse(ctx context.Context, repo models.Repo, parent *models.ParentIssue, prNumber int, f models.Finding) (models.ChildIssue, bool, error) {
	existing, err := m.children(ctx, parent)
	if err != nil {
		return models.ChildIssue{}, false, err
	}
	for _, c := range existing {
		if c.Open && c.Fingerprint != "" && c.Fingerprint == f.Fingerprint {
			c.Severity = f.Severity
			c.Blocking = f.Severity.Blocks()
			return c, true, nil
		}
	}

	title := IssueTitle(f)
	if m.dryRun {
		m.logger.Info("dry run: would create child issue", "title", title)
		return models.ChildIssue{Title: title, Severity: f.Severity, Fingerprint: f.Fingerprint, Open: true, Blocking: f.Severity.Blocks()}, false, nil
	}

	iss, err := m.tracker.CreateIssue(ctx, repo, title, IssueBody(f, prNumber), []string{string(f.Severity)})
	if err != nil {
		return models.ChildIssue{}, false, fmt.Errorf("create issue: %w", err)
	}
	return models.ChildIssue{
		IssueRef:    iss.IssueRef,
		Title:       title,
		Severity:    f.Severity,
		Fingerprint: f.Fingerprint,
		Open:        true,
		Blocking:    f.Severity.Blocks(),
	}, false, nil
}

// LinkAsChild attaches child to parent through the native sub-issue relation.
func (m *Materializer) LinkAsChild(ctx context.Context, parent *models.ParentIssue, child models.ChildIssue) error {
	if m.dryRun {
		return nil
	}
	if err := m.tracker.AddSubIssue(ctx, parent.NodeID, child.NodeID); err != nil {
		return fmt.Errorf("link #%d under #%d: %w", child.Number, parent.Number, err)
	}
	return nil
}

// SetBlocking marks parent as blocked by child. Only blocking findings ever
// block; for other severities it is a no-op. blockers holds the parent's
// current blockers and is updated in place.
func (m *Materializer) SetBlocking(ctx context.Context, parent *models.ParentIssue, child models.ChildIssue, blockers map[models.NodeID]bool) error {
	if !child.Severity.Blocks() {
		return nil
	}
	if blockers[child.NodeID] || m.dryRun {
		return nil
	}
	if err := m.tracker.AddBlockedBy(ctx, parent.NodeID, child.NodeID); err != nil {
		return fmt.Errorf("mark #%d blocked by #%d: %w", parent.Number, child.Number, err)
	}
	blockers[child.NodeID] = true
	return nil
}

// EnsureLabels creates the severity labels that do not exist yet.
func (m *Materializer) EnsureLabels(ctx context.Context, repo models.Repo) error {
	if m.dryRun {
		return nil
	}
	for _, l := range SeverityLabels {
		if err := m.tracker.EnsureLabel(ctx, repo, l.Name, l.Color, l.Description); err != nil {
			return fmt.Errorf("ensure label %s: %w", l.Name, err)
		}
	}
	return nil
}

// Materialize files findings under the parent issue and rewrites the PR's
// managed section. A finding that fails is recorded in the summary and
// skipped; only failures that affect the whole batch are returned as errors.
// With no findings, or when none could be filed, the PR description is left
// untouched.
func (m *Materializer) Materialize(ctx context.Context, repo models.Repo, pr *models.PullRequest, parentNumber int, findings []models.Finding) (*Summary, error) {
	sum := &Summary{BySeverity: make(map[models.Severity]int)}
	if len(findings) == 0 {
		m.logger.Debug("no findings to materialize", "pr", pr.Number)
		return sum, nil
	}

	if err := m.EnsureLabels(ctx, repo); err != nil {
		m.logger.Warn("severity labels unavailable", "repo", repo.String(), "err", err)
	}

	parent, err := m.ResolveParent(ctx, repo, parentNumber)
	if err != nil {
		return sum, err
	}
	sum.Parent = parent.IssueRef

	unlock, err := m.locker.Lock(ctx, fmt.Sprintf("issuegraph:%s#%d", repo, parentNumber))
	if err != nil {
		return sum, fmt.Errorf("lock parent #%d: %w", parentNumber, err)
	}
	defer unlock()

	blockers := make(map[models.NodeID]bool)
	ids, err := m.tracker.ListBlockedBy(ctx, parent.NodeID)
	if err != nil {
		m.logger.Warn("could not list blockers", "parent", parentNumber, "err", err)
	}
	for _, id := range ids {
		blockers[id] = true
	}

	seen := make(map[int]bool)
	for _, f := range findings {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		child, reused, err := m.CreateOrReuse(ctx, repo, parent, pr.Number, f)
		if err != nil {
			m.fail(sum, f, "create", err)
			continue
		}
		if !reused {
			if err := m.LinkAsChild(ctx, parent, child); err != nil {
				m.fail(sum, f, "link", err)
				continue
			}
		}
		if err := m.SetBlocking(ctx, parent, child, blockers); err != nil {
			m.fail(sum, f, "block", err)
		}

		outcome := "created"
		if reused {
			outcome = "reused"
			sum.Reused++
		} else {
			sum.Created++
		}
		observability.ChildIssues.WithLabelValues(outcome, string(f.Severity)).Inc()
		m.logger.Info("child issue "+outcome, "parent", parentNumber, "child", child.Number, "severity", f.Severity)

		// Two findings can share a fingerprint; list each child once.
		if child.Number != 0 && seen[child.Number] {
			continue
		}
		seen[child.Number] = true
		sum.Children = append(sum.Children, child)
		sum.BySeverity[child.Severity]++
		if child.Blocking {
			sum.Blocking++
		}
	}

	if len(sum.Children) == 0 {
		return sum, nil
	}
	body := RewritePRSection(pr.Body, sum.Children)
	if body == pr.Body {
		return sum, nil
	}
	if m.dryRun {
		m.logger.Info("dry run: would update PR description", "pr", pr.Number)
		return sum, nil
	}
	if err := m.tracker.UpdatePRBody(ctx, repo, pr.Number, body); err != nil {
		return sum, fmt.Errorf("update PR #%d description: %w", pr.Number, err)
	}
	pr.Body = body
	sum.BodyUpdate = true
	return sum, nil
}

func (m *Materializer) fail(sum *Summary, f models.Finding, stage string, err error) {
	sum.Failures = append(sum.Failures, Failure{Finding: f, Stage: stage, Err: err})
	observability.ChildIssues.WithLabelValues("failed", string(f.Severity)).Inc()
	m.logger.Error("finding not materialized", "stage", stage, "location", f.Location(), "err", err)
}
