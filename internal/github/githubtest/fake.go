// Package githubtest provides an in-memory stand-in for the GitHub client.
package githubtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/joescharf/prguard/internal/github"
	"github.com/joescharf/prguard/internal/models"
)

// Fake is an in-memory GitHub covering pull requests, reviews, check runs,
// issues with sub-issue and blocked-by relationships, and PR comments.
// It is safe for concurrent use.
type Fake struct {
	mu sync.Mutex

	PRs            map[int]*models.PullRequest
	Files          map[int][]models.DiffEntry
	Reviews        map[int][]models.Review
	Commits        map[int][]models.Commit
	ReviewComments map[int][]models.ReviewComment
	Comments       map[int][]models.Comment
	Issues         map[int]*models.Issue
	SubIssues      map[models.NodeID][]models.NodeID
	BlockedBy      map[models.NodeID][]models.NodeID
	Labels         map[string]bool
	Checks         []models.Check
	// BodyUpdates counts UpdatePRBody calls.
	BodyUpdates int

	// CreateIssueErr, when set, is consulted before every issue creation.
	CreateIssueErr func(title string) error

	next int
}

// New returns an empty Fake. Issue numbers are assigned from 100.
func New() *Fake {
	return &Fake{
		PRs:            make(map[int]*models.PullRequest),
		Files:          make(map[int][]models.DiffEntry),
		Reviews:        make(map[int][]models.Review),
		Commits:        make(map[int][]models.Commit),
		ReviewComments: make(map[int][]models.ReviewComment),
		Comments:       make(map[int][]models.Comment),
		Issues:         make(map[int]*models.Issue),
		SubIssues:      make(map[models.NodeID][]models.NodeID),
		BlockedBy:      make(map[models.NodeID][]models.NodeID),
		Labels:         make(map[string]bool),
		next:           100,
	}
}

// Identity is the login the fake posts its own comments under.
const Identity = "prguard[bot]"

// NodeID is the node id the fake assigns to issue n.
func NodeID(n int) models.NodeID {
	return models.NodeID(fmt.Sprintf("I_%d", n))
}

// AddPR registers a pull request.
func (f *Fake) AddPR(pr models.PullRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PRs[pr.Number] = &pr
}

// AddIssue registers an open issue, typically a parent.
func (f *Fake) AddIssue(number int, title string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Issues[number] = &models.Issue{IssueRef: models.IssueRef{Number: number, NodeID: NodeID(number)}, Title: title, Open: true}
}

// Children returns the issues linked under parent, in link order.
func (f *Fake) Children(parent int) []models.Issue {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Issue
	for _, id := range f.SubIssues[NodeID(parent)] {
		if iss := f.byNode(id); iss != nil {
			out = append(out, *iss)
		}
	}
	return out
}

// Body returns a PR's current description.
func (f *Fake) Body(number int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pr, ok := f.PRs[number]; ok {
		return pr.Body
	}
	return ""
}

func (f *Fake) byNode(id models.NodeID) *models.Issue {
	for _, iss := range f.Issues {
		if iss.NodeID == id {
			return iss
		}
	}
	return nil
}

func (f *Fake) GetPullRequest(_ context.Context, _ models.Repo, number int) (*models.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pr, ok := f.PRs[number]
	if !ok {
		return nil, fmt.Errorf("pull request #%d not found", number)
	}
	c := *pr
	return &c, nil
}

func (f *Fake) ListFiles(_ context.Context, _ models.Repo, number int) ([]models.DiffEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.DiffEntry(nil), f.Files[number]...), nil
}

func (f *Fake) ListReviews(_ context.Context, _ models.Repo, number int) ([]models.Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Review(nil), f.Reviews[number]...), nil
}

func (f *Fake) ListCommits(_ context.Context, _ models.Repo, number int) ([]models.Commit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Commit(nil), f.Commits[number]...), nil
}

// ListReviewComments ignores reviewID and returns every comment on the PR.
func (f *Fake) ListReviewComments(_ context.Context, _ models.Repo, number int, _ int64) ([]models.ReviewComment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ReviewComment(nil), f.ReviewComments[number]...), nil
}

func (f *Fake) UpdatePRBody(_ context.Context, _ models.Repo, number int, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	pr, ok := f.PRs[number]
	if !ok {
		return fmt.Errorf("pull request #%d not found", number)
	}
	pr.Body = body
	f.BodyUpdates++
	return nil
}

func (f *Fake) CreateCheck(_ context.Context, _ models.Repo, check models.Check) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Checks = append(f.Checks, check)
	return nil
}

func (f *Fake) GetIssue(_ context.Context, _ models.Repo, number int) (*models.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	iss, ok := f.Issues[number]
	if !ok {
		return nil, fmt.Errorf("issue #%d: %w", number, models.ErrNotFound)
	}
	c := *iss
	return &c, nil
}

func (f *Fake) CreateIssue(_ context.Context, _ models.Repo, title, body string, labels []string) (*models.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateIssueErr != nil {
		if err := f.CreateIssueErr(title); err != nil {
			return nil, err
		}
	}
	n := f.next
	f.next++
	iss := &models.Issue{IssueRef: models.IssueRef{Number: n, NodeID: NodeID(n)}, Title: title, Body: body, Open: true, Labels: labels}
	f.Issues[n] = iss
	c := *iss
	return &c, nil
}

func (f *Fake) EnsureLabel(_ context.Context, _ models.Repo, name, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Labels[name] = true
	return nil
}

func (f *Fake) ListSubIssues(_ context.Context, parent models.NodeID) ([]models.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Issue
	for _, id := range f.SubIssues[parent] {
		if iss := f.byNode(id); iss != nil {
			out = append(out, *iss)
		}
	}
	return out, nil
}

func (f *Fake) AddSubIssue(_ context.Context, parent, child models.NodeID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SubIssues[parent] = append(f.SubIssues[parent], child)
	return nil
}

func (f *Fake) ListBlockedBy(_ context.Context, issue models.NodeID) ([]models.NodeID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.NodeID(nil), f.BlockedBy[issue]...), nil
}

func (f *Fake) AddBlockedBy(_ context.Context, issue, blocker models.NodeID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.BlockedBy[issue] {
		if b == blocker {
			return fmt.Errorf("dependency already exists")
		}
	}
	f.BlockedBy[issue] = append(f.BlockedBy[issue], blocker)
	return nil
}

func (f *Fake) ReviewCycles(_ context.Context, _ models.Repo, prNumber int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return github.CountCycles(f.Comments[prNumber], Identity), nil
}

func (f *Fake) RecordReviewCycle(_ context.Context, _ models.Repo, prNumber, n int, skills []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Comments[prNumber] = append(f.Comments[prNumber], models.Comment{
		Author: Identity,
		Body:   fmt.Sprintf("%s\ncycle %d: %v", github.CycleMarker(n), n, skills),
	})
	return nil
}
