// Package pipeline wires the guardrail, review-ingest and reviewer-dispatch
// flows that each trigger runs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/joescharf/prguard/internal/config"
	"github.com/joescharf/prguard/internal/dispatch"
	"github.com/joescharf/prguard/internal/findings"
	"github.com/joescharf/prguard/internal/guardrail"
	"github.com/joescharf/prguard/internal/issuegraph"
	"github.com/joescharf/prguard/internal/lock"
	"github.com/joescharf/prguard/internal/models"
	"github.com/joescharf/prguard/internal/patterns"
	"github.com/joescharf/prguard/internal/prcontext"
)

// ErrNoReviewComments is the terminal state of a pass with nothing to file.
var ErrNoReviewComments = errors.New("no review comments")

// GitHub is every call the pipelines make against the hosting service.
type GitHub interface {
	guardrail.PullRequestSource
	guardrail.CheckReporter
	issuegraph.Tracker
	prcontext.PRFetcher
	prcontext.CycleReader
	ListReviewComments(ctx context.Context, repo models.Repo, number int, reviewID int64) ([]models.ReviewComment, error)
	RecordReviewCycle(ctx context.Context, repo models.Repo, prNumber, n int, skills []string) error
}

// Recorder persists run history. Recording is best effort.
type Recorder interface {
	CreateRun(ctx context.Context, run *models.Run) error
	UpsertChildIssue(ctx context.Context, rec *models.ChildIssueRecord) error
}

// Pipeline runs the engine's flows against one repository host.
type Pipeline struct {
	gh           GitHub
	cfg          *config.Config
	guardrails   *guardrail.Runner
	classifier   *findings.Classifier
	materializer *issuegraph.Materializer
	resolver     *prcontext.Resolver
	dispatcher   *dispatch.Dispatcher

	reviewer    dispatch.Reviewer
	maxParallel int
	recorder    Recorder
	locker      lock.Locker
	dryRun      bool
	logger      *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithRecorder records runs and child issues to a local ledger.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// WithReviewer enables reviewer dispatch.
func WithReviewer(r dispatch.Reviewer, maxParallel int) Option {
	return func(p *Pipeline) {
		p.reviewer = r
		p.maxParallel = maxParallel
	}
}

// WithLocker sets the lock serializing child-issue creation per parent.
func WithLocker(l lock.Locker) Option {
	return func(p *Pipeline) { p.locker = l }
}

// WithDryRun logs writes instead of performing them.
func WithDryRun(dry bool) Option {
	return func(p *Pipeline) { p.dryRun = dry }
}

// New builds a Pipeline from the workflow config.
func New(gh GitHub, cfg *config.Config, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	p := &Pipeline{gh: gh, cfg: cfg, logger: slog.New(slog.DiscardHandler)}
	for _, o := range opts {
		o(p)
	}
	if p.logger == nil {
		p.logger = slog.New(slog.DiscardHandler)
	}

	matcher, err := patterns.New(cfg.TestPatterns, cfg.CodeExtensions)
	if err != nil {
		return nil, fmt.Errorf("file patterns: %w", err)
	}
	p.classifier, err = findings.NewClassifier(cfg.SeverityMarkers)
	if err != nil {
		return nil, fmt.Errorf("severity markers: %w", err)
	}

	var reporter guardrail.CheckReporter = gh
	if p.dryRun {
		reporter = &logReporter{logger: p.logger}
	}
	p.guardrails = guardrail.NewRunner(gh, reporter, cfg, matcher, p.logger)

	mopts := []issuegraph.Option{issuegraph.WithLogger(p.logger), issuegraph.WithDryRun(p.dryRun)}
	if p.locker != nil {
		mopts = append(mopts, issuegraph.WithLocker(p.locker))
	}
	p.materializer = issuegraph.New(gh, mopts...)
	p.resolver = prcontext.NewResolver(gh, gh, p.logger)

	if p.reviewer != nil {
		p.dispatcher = dispatch.New(p.reviewer, cfg.Reviewers, cfg.ReReviewCycleCap, p.maxParallel, p.logger)
	}
	return p, nil
}

// Classifier returns the configured finding classifier.
func (p *Pipeline) Classifier() *findings.Classifier {
	return p.classifier
}

// Resolve resolves the PR context for an event.
func (p *Pipeline) Resolve(ctx context.Context, repo models.Repo, ev prcontext.Event) (*prcontext.Context, error) {
	return p.resolver.Resolve(ctx, repo, ev)
}

// Guardrails runs one named guardrail, or every enabled one when name is
// empty or "all", and reports each as a check.
func (p *Pipeline) Guardrails(ctx context.Context, repo models.Repo, ev prcontext.Event, name string) ([]*models.Check, error) {
	pr, err := p.pullRequest(ctx, repo, ev)
	if err != nil {
		return nil, err
	}

	var checks []*models.Check
	if name == "" || name == "all" {
		checks, err = p.guardrails.RunAll(ctx, repo, pr)
	} else {
		var c *models.Check
		c, err = p.guardrails.Run(ctx, repo, pr, name)
		if c != nil {
			checks = append(checks, c)
		}
	}

	for _, c := range checks {
		p.record(ctx, &models.Run{
			Kind:       models.RunKindGuardrail,
			Name:       c.Name,
			Repo:       repo.String(),
			PRNumber:   pr.Number,
			Conclusion: string(c.Conclusion),
			Summary:    c.Title,
		})
	}
	return checks, err
}

// IngestResult is the outcome of filing a review's comments.
type IngestResult struct {
	Context  *prcontext.Context
	Findings []models.Finding
	Summary  *issuegraph.Summary
	// Skipped is set when the PR has no parent issue to file under or the
	// review carried no comments.
	Skipped error
}

// Ingest classifies a submitted review's comments and materializes them
// under the PR's parent issue. reviewID 0 ingests every review comment.
func (p *Pipeline) Ingest(ctx context.Context, repo models.Repo, ev prcontext.Event, reviewID int64) (*IngestResult, error) {
	c, err := p.resolver.Resolve(ctx, repo, ev)
	if err != nil {
		return nil, err
	}
	res := &IngestResult{Context: c}

	if !c.HasParent() {
		res.Skipped = dispatch.ErrNoParentIssue
		p.logger.Info("ingest skipped", "pr", c.PRNumber, "reason", res.Skipped)
		p.record(ctx, &models.Run{Kind: models.RunKindIngest, Repo: repo.String(), PRNumber: c.PRNumber, Conclusion: "skipped", Summary: res.Skipped.Error()})
		return res, nil
	}

	comments, err := p.gh.ListReviewComments(ctx, repo, c.PRNumber, reviewID)
	if err != nil {
		return res, fmt.Errorf("list review comments: %w", err)
	}
	res.Findings = p.classifier.ClassifyAll(comments)
	if len(res.Findings) == 0 {
		res.Skipped = ErrNoReviewComments
		p.logger.Info("ingest skipped", "pr", c.PRNumber, "review", reviewID, "reason", res.Skipped)
		p.record(ctx, &models.Run{Kind: models.RunKindIngest, Repo: repo.String(), PRNumber: c.PRNumber, Conclusion: "skipped", Summary: res.Skipped.Error()})
		return res, nil
	}

	res.Summary, err = p.materialize(ctx, c, res.Findings, models.RunKindIngest)
	return res, err
}

// DispatchResult is the outcome of one reviewer dispatch.
type DispatchResult struct {
	Context  *prcontext.Context
	Dispatch *dispatch.Result
	Findings []models.Finding
	Summary  *issuegraph.Summary
	// Cycle is the cycle number recorded for this pass, 0 if none was.
	Cycle int
}

// Dispatch resolves the PR context, gates on parent issue and cycle cap,
// fans out reviewers and files their findings. Each pass that runs tasks
// records one review cycle.
func (p *Pipeline) Dispatch(ctx context.Context, repo models.Repo, ev prcontext.Event) (*DispatchResult, error) {
	if p.dispatcher == nil {
		return nil, errors.New("no reviewer configured")
	}

	c, err := p.resolver.Resolve(ctx, repo, ev)
	if err != nil {
		return nil, err
	}
	res := &DispatchResult{Context: c}

	dr, err := p.dispatcher.Dispatch(ctx, c)
	res.Dispatch = dr
	if err != nil {
		return res, err
	}
	if dr.Skipped != nil {
		p.record(ctx, &models.Run{Kind: models.RunKindDispatch, Repo: repo.String(), PRNumber: c.PRNumber, Conclusion: "skipped", Summary: dr.Skipped.Error()})
		return res, nil
	}

	skills := make([]string, 0, len(dr.Tasks))
	for _, t := range dr.Tasks {
		skills = append(skills, t.Skill)
	}
	if p.dryRun {
		p.logger.Info("dry run: would record review cycle", "pr", c.PRNumber, "cycle", c.Cycles+1)
	} else if err := p.gh.RecordReviewCycle(ctx, repo, c.PRNumber, c.Cycles+1, skills); err != nil {
		return res, fmt.Errorf("record review cycle: %w", err)
	} else {
		res.Cycle = c.Cycles + 1
	}

	for _, f := range dr.Failed() {
		p.logger.Warn("reviewer produced no findings", "skill", f.Skill, "err", f.Err)
	}

	res.Findings = p.classifier.ClassifyAll(dr.Comments())
	if len(res.Findings) == 0 {
		p.logger.Info("reviewers reported nothing to file", "pr", c.PRNumber, "failed", len(dr.Failed()))
		p.record(ctx, &models.Run{Kind: models.RunKindDispatch, Repo: repo.String(), PRNumber: c.PRNumber, Conclusion: "success", Summary: ErrNoReviewComments.Error()})
		return res, nil
	}
	res.Summary, err = p.materialize(ctx, c, res.Findings, models.RunKindDispatch)
	return res, err
}

func (p *Pipeline) materialize(ctx context.Context, c *prcontext.Context, fs []models.Finding, kind models.RunKind) (*issuegraph.Summary, error) {
	sum, err := p.materializer.Materialize(ctx, c.Repo, c.PR, c.Parent, fs)

	conclusion := "success"
	switch {
	case err != nil:
		conclusion = "failure"
	case sum != nil && len(sum.Failures) > 0:
		conclusion = "partial"
	}
	run := &models.Run{
		Kind:       kind,
		Repo:       c.Repo.String(),
		PRNumber:   c.PRNumber,
		Conclusion: conclusion,
		Summary:    describe(len(fs), sum, err),
	}
	p.record(ctx, run)

	if sum != nil && p.recorder != nil && !p.dryRun {
		for _, child := range sum.Children {
			rec := &models.ChildIssueRecord{
				Fingerprint: child.Fingerprint,
				Repo:        c.Repo.String(),
				ParentIssue: c.Parent,
				Number:      child.Number,
				Severity:    child.Severity,
				Blocking:    child.Blocking,
				PRNumber:    c.PRNumber,
			}
			if err := p.recorder.UpsertChildIssue(ctx, rec); err != nil {
				p.logger.Warn("child issue not recorded", "child", child.Number, "err", err)
			}
		}
	}
	return sum, err
}

func describe(n int, sum *issuegraph.Summary, err error) string {
	if err != nil {
		return err.Error()
	}
	parts := []string{fmt.Sprintf("%d findings", n)}
	if sum != nil {
		parts = append(parts,
			fmt.Sprintf("%d created", sum.Created),
			fmt.Sprintf("%d reused", sum.Reused),
			fmt.Sprintf("%d blocking", sum.Blocking))
		if len(sum.Failures) > 0 {
			parts = append(parts, fmt.Sprintf("%d failed", len(sum.Failures)))
		}
	}
	return strings.Join(parts, ", ")
}

func (p *Pipeline) record(ctx context.Context, run *models.Run) {
	if p.recorder == nil || p.dryRun {
		return
	}
	if err := p.recorder.CreateRun(ctx, run); err != nil {
		p.logger.Warn("run not recorded", "kind", run.Kind, "pr", run.PRNumber, "err", err)
	}
}

func (p *Pipeline) pullRequest(ctx context.Context, repo models.Repo, ev prcontext.Event) (*models.PullRequest, error) {
	switch e := ev.(type) {
	case prcontext.DirectPREvent:
		if e.PR == nil {
			return nil, prcontext.ErrNoPullRequest
		}
		return e.PR, nil
	case prcontext.ManualDispatch:
		if e.PRNumber <= 0 {
			return nil, prcontext.ErrNoPullRequest
		}
		pr, err := p.gh.GetPullRequest(ctx, repo, e.PRNumber)
		if err != nil {
			return nil, fmt.Errorf("get PR #%d: %w", e.PRNumber, err)
		}
		return pr, nil
	default:
		return nil, fmt.Errorf("unsupported event %T", ev)
	}
}

// logReporter stands in for the check sink during dry runs.
type logReporter struct {
	logger *slog.Logger
}

func (r *logReporter) CreateCheck(_ context.Context, repo models.Repo, check models.Check) error {
	r.logger.Info("dry run: would report check", "repo", repo.String(), "name", check.Name, "conclusion", check.Conclusion, "title", check.Title)
	return nil
}
