// Package prcontext resolves which pull request and parent issue a trigger
// refers to.
package prcontext

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/joescharf/prguard/internal/issuegraph"
	"github.com/joescharf/prguard/internal/models"
)

// ErrNoPullRequest is returned when a trigger carries no PR number.
var ErrNoPullRequest = errors.New("no pull request number in event")

// Event is one of the resolver's entry states.
type Event interface {
	isEvent()
}

// DirectPREvent carries the pull request itself.
type DirectPREvent struct {
	PR *models.PullRequest
}

// ManualDispatch carries a PR number supplied by whoever re-triggered the run.
type ManualDispatch struct {
	PRNumber int
}

func (DirectPREvent) isEvent()  {}
func (ManualDispatch) isEvent() {}

// PRFetcher loads a pull request.
type PRFetcher interface {
	GetPullRequest(ctx context.Context, repo models.Repo, number int) (*models.PullRequest, error)
}

// CycleReader reads the externally tracked re-review cycle count.
type CycleReader interface {
	ReviewCycles(ctx context.Context, repo models.Repo, prNumber int) (int, error)
}

// Context is the resolved PR context. Parent is 0 when the PR references no
// parent issue, which is a valid outcome.
type Context struct {
	Repo       models.Repo
	PRNumber   int
	Parent     int
	BaseBranch string
	HeadSHA    string
	Title      string
	Cycles     int
	PR         *models.PullRequest
}

// HasParent reports whether a parent issue was found.
func (c *Context) HasParent() bool {
	return c.Parent > 0
}

// Output is one named step output.
type Output struct {
	Name  string
	Value string
}

// Outputs renders the context as workflow step outputs. An absent parent is
// an empty value.
func (c *Context) Outputs() []Output {
	parent := ""
	if c.HasParent() {
		parent = strconv.Itoa(c.Parent)
	}
	return []Output{
		{Name: "pr-number", Value: strconv.Itoa(c.PRNumber)},
		{Name: "parent-issue", Value: parent},
		{Name: "base-branch", Value: c.BaseBranch},
		{Name: "pr-title", Value: c.Title},
		{Name: "head-sha", Value: c.HeadSHA},
		{Name: "review-cycles", Value: strconv.Itoa(c.Cycles)},
	}
}

// Resolver converges both entry states on a single Context.
type Resolver struct {
	prs    PRFetcher
	cycles CycleReader
	logger *slog.Logger
}

// NewResolver creates a Resolver. cycles may be nil, in which case the count
// is reported as zero.
func NewResolver(prs PRFetcher, cycles CycleReader, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{prs: prs, cycles: cycles, logger: logger}
}

// Resolve turns ev into a Context.
func (r *Resolver) Resolve(ctx context.Context, repo models.Repo, ev Event) (*Context, error) {
	var pr *models.PullRequest
	switch e := ev.(type) {
	case DirectPREvent:
		if e.PR == nil || e.PR.Number <= 0 {
			return nil, ErrNoPullRequest
		}
		pr = e.PR
	case ManualDispatch:
		if e.PRNumber <= 0 {
			return nil, ErrNoPullRequest
		}
		got, err := r.prs.GetPullRequest(ctx, repo, e.PRNumber)
		if err != nil {
			return nil, fmt.Errorf("get PR #%d: %w", e.PRNumber, err)
		}
		pr = got
	default:
		return nil, fmt.Errorf("unsupported event %T", ev)
	}

	c := &Context{
		Repo:       repo,
		PRNumber:   pr.Number,
		BaseBranch: pr.BaseRef,
		HeadSHA:    pr.HeadSHA,
		Title:      pr.Title,
		PR:         pr,
	}
	if n, ok := ParentFromBody(pr.Body); ok {
		c.Parent = n
	}

	if r.cycles != nil {
		n, err := r.cycles.ReviewCycles(ctx, repo, pr.Number)
		if err != nil {
			return nil, fmt.Errorf("read review cycles for PR #%d: %w", pr.Number, err)
		}
		c.Cycles = n
	}

	r.logger.Info("context resolved", "pr", c.PRNumber, "parent", c.Parent, "cycles", c.Cycles)
	return c, nil
}

// ParentFromBody returns the parent issue a PR description references,
// ignoring the managed section.
func ParentFromBody(body string) (int, bool) {
	return ParentIssue(authoredText(body))
}

// authoredText drops the managed section, whose own "Fixes #N" lines point
// at child issues rather than the parent.
func authoredText(body string) string {
	s := issuegraph.SplitSection(body)
	return s.Prefix + s.Suffix
}
