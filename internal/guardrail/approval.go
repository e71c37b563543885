package guardrail

import "github.com/joescharf/prguard/internal/models"

// HasNonStaleApproval reports whether any review approved the PR at its
// current head commit. Approvals of older commits are stale and ignored.
func HasNonStaleApproval(reviews []models.Review, headSHA string) bool {
	if headSHA == "" {
		return false
	}
	for _, r := range reviews {
		if r.State == models.ReviewStateApproved && r.CommitID == headSHA {
			return true
		}
	}
	return false
}
