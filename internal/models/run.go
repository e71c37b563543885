package models

import "time"

// RunKind identifies which pipeline produced a run record.
type RunKind string

const (
	RunKindGuardrail RunKind = "guardrail"
	RunKindIngest    RunKind = "ingest"
	RunKindDispatch  RunKind = "dispatch"
)

// Run records one pipeline execution against a pull request.
type Run struct {
	ID         string    `json:"id"`
	Kind       RunKind   `json:"kind"`
	Name       string    `json:"name"`
	Repo       string    `json:"repo"`
	PRNumber   int       `json:"pr_number"`
	Conclusion string    `json:"conclusion"`
	Summary    string    `json:"summary"`
	CreatedAt  time.Time `json:"created_at"`
}

// ChildIssueRecord mirrors a materialized child issue in the local ledger.
type ChildIssueRecord struct {
	Fingerprint string    `json:"fingerprint"`
	Repo        string    `json:"repo"`
	ParentIssue int       `json:"parent_issue"`
	Number      int       `json:"number"`
	Severity    Severity  `json:"severity"`
	Blocking    bool      `json:"blocking"`
	PRNumber    int       `json:"pr_number"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
