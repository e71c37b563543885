package models

import "errors"

// ErrNotFound is returned when a looked-up issue does not exist.
var ErrNotFound = errors.New("not found")

// NodeID is the opaque GraphQL identifier of an issue. It cannot be derived
// from the issue number and must be looked up.
type NodeID string

// IssueRef is a typed handle pairing an issue number with its node id.
type IssueRef struct {
	Number int    `json:"number"`
	NodeID NodeID `json:"node_id"`
}

// ParentIssue is the tracking issue review findings are filed under.
type ParentIssue struct {
	IssueRef
	Children []ChildIssue `json:"children,omitempty"`
}

// ChildIssue is a sub-issue filed for exactly one finding.
type ChildIssue struct {
	IssueRef
	Title       string   `json:"title"`
	Severity    Severity `json:"severity"`
	Fingerprint string   `json:"fingerprint"`
	Open        bool     `json:"open"`
	Blocking    bool     `json:"blocking"`
}

// Comment is a conversation comment on an issue or PR.
type Comment struct {
	Author string `json:"author"`
	Body   string `json:"body"`
}

// Issue is an issue as returned by the tracker.
type Issue struct {
	IssueRef
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Open   bool     `json:"open"`
	Labels []string `json:"labels,omitempty"`
}
