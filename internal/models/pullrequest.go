package models

import (
	"fmt"
	"strings"
	"time"
)

// Repo identifies a GitHub repository by owner and name.
type Repo struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

// ParseRepo parses an "owner/name" string.
func ParseRepo(s string) (Repo, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Repo{}, fmt.Errorf("invalid repository %q: expected owner/name", s)
	}
	return Repo{Owner: parts[0], Name: parts[1]}, nil
}

func (r Repo) String() string {
	return r.Owner + "/" + r.Name
}

// IsZero reports whether the repository coordinates are unset.
func (r Repo) IsZero() bool {
	return r.Owner == "" && r.Name == ""
}

// PullRequest is the subset of pull request state the engine reads.
type PullRequest struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	Body    string `json:"body"`
	BaseRef string `json:"base_ref"`
	HeadRef string `json:"head_ref"`
	HeadSHA string `json:"head_sha"`
	Author  string `json:"author"`
}

// FileStatus is the change status of a file in a pull request diff.
type FileStatus string

const (
	FileStatusAdded    FileStatus = "added"
	FileStatusModified FileStatus = "modified"
	FileStatusRemoved  FileStatus = "removed"
	FileStatusRenamed  FileStatus = "renamed"
)

// DiffEntry is one changed file with its line counts.
type DiffEntry struct {
	Path      string     `json:"path"`
	Additions int        `json:"additions"`
	Deletions int        `json:"deletions"`
	Patch     string     `json:"patch,omitempty"`
	Status    FileStatus `json:"status"`
}

// ReviewState is the state of a submitted pull request review.
type ReviewState string

const (
	ReviewStateApproved         ReviewState = "APPROVED"
	ReviewStateChangesRequested ReviewState = "CHANGES_REQUESTED"
	ReviewStateCommented        ReviewState = "COMMENTED"
	ReviewStateDismissed        ReviewState = "DISMISSED"
)

// Review is a submitted pull request review.
type Review struct {
	ID          int64       `json:"id"`
	Reviewer    string      `json:"reviewer"`
	State       ReviewState `json:"state"`
	SubmittedAt time.Time   `json:"submitted_at"`
	CommitID    string      `json:"commit_id"`
}

// ReviewComment is a line-level (or file-level, Line == 0) review comment.
type ReviewComment struct {
	ID     int64  `json:"id,omitempty"`
	Author string `json:"author"`
	Path   string `json:"path"`
	Line   int    `json:"line"`
	Body   string `json:"body"`
}

// Commit is a commit on a pull request branch.
type Commit struct {
	SHA     string `json:"sha"`
	Message string `json:"message"`
}

// ShortSHA returns the seven-character abbreviation of the commit SHA.
func (c Commit) ShortSHA() string {
	if len(c.SHA) > 7 {
		return c.SHA[:7]
	}
	return c.SHA
}
