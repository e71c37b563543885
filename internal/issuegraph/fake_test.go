package issuegraph

import (
	"context"
	"fmt"
	"sync"

	"github.com/joescharf/prguard/internal/models"
)

// fakeTracker is an in-memory issue tracker.
type fakeTracker struct {
	mu        sync.Mutex
	next      int
	issues    map[int]*models.Issue
	subIssues map[models.NodeID][]models.NodeID
	blockedBy map[models.NodeID][]models.NodeID
	labels    map[string]bool
	prBodies  map[int]string

	createCalls int
	bodyUpdates int
	failCreate  func(title string) error
}

func newFakeTracker(parents ...int) *fakeTracker {
	f := &fakeTracker{
		next:      100,
		issues:    make(map[int]*models.Issue),
		subIssues: make(map[models.NodeID][]models.NodeID),
		blockedBy: make(map[models.NodeID][]models.NodeID),
		labels:    make(map[string]bool),
		prBodies:  make(map[int]string),
	}
	for _, n := range parents {
		f.issues[n] = &models.Issue{IssueRef: models.IssueRef{Number: n, NodeID: nodeID(n)}, Title: "parent", Open: true}
	}
	return f
}

func nodeID(n int) models.NodeID { return models.NodeID(fmt.Sprintf("I_%d", n)) }

func (f *fakeTracker) byNode(id models.NodeID) *models.Issue {
	for _, iss := range f.issues {
		if iss.NodeID == id {
			return iss
		}
	}
	return nil
}

func (f *fakeTracker) GetIssue(_ context.Context, _ models.Repo, number int) (*models.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	iss, ok := f.issues[number]
	if !ok {
		return nil, fmt.Errorf("issue #%d: %w", number, models.ErrNotFound)
	}
	c := *iss
	return &c, nil
}

func (f *fakeTracker) ListSubIssues(_ context.Context, parent models.NodeID) ([]models.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Issue
	for _, id := range f.subIssues[parent] {
		out = append(out, *f.byNode(id))
	}
	return out, nil
}

func (f *fakeTracker) CreateIssue(_ context.Context, _ models.Repo, title, body string, labels []string) (*models.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.failCreate != nil {
		if err := f.failCreate(title); err != nil {
			return nil, err
		}
	}
	n := f.next
	f.next++
	iss := &models.Issue{IssueRef: models.IssueRef{Number: n, NodeID: nodeID(n)}, Title: title, Body: body, Open: true, Labels: labels}
	f.issues[n] = iss
	c := *iss
	return &c, nil
}

func (f *fakeTracker) AddSubIssue(_ context.Context, parent, child models.NodeID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subIssues[parent] = append(f.subIssues[parent], child)
	return nil
}

func (f *fakeTracker) ListBlockedBy(_ context.Context, issue models.NodeID) ([]models.NodeID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.NodeID(nil), f.blockedBy[issue]...), nil
}

func (f *fakeTracker) AddBlockedBy(_ context.Context, issue, blocker models.NodeID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.blockedBy[issue] {
		if b == blocker {
			return fmt.Errorf("dependency already exists")
		}
	}
	f.blockedBy[issue] = append(f.blockedBy[issue], blocker)
	return nil
}

func (f *fakeTracker) UpdatePRBody(_ context.Context, _ models.Repo, number int, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodyUpdates++
	f.prBodies[number] = body
	return nil
}

func (f *fakeTracker) EnsureLabel(_ context.Context, _ models.Repo, name, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.labels[name] = true
	return nil
}
