package guardrail

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joescharf/prguard/internal/models"
)

func TestHasNonStaleApproval(t *testing.T) {
	const head = "abc123"
	tests := []struct {
		name    string
		reviews []models.Review
		head    string
		want    bool
	}{
		{"no reviews", nil, head, false},
		{"approved at head", []models.Review{{State: models.ReviewStateApproved, CommitID: head}}, head, true},
		{"approved stale commit", []models.Review{{State: models.ReviewStateApproved, CommitID: "old"}}, head, false},
		{"changes requested at head", []models.Review{{State: models.ReviewStateChangesRequested, CommitID: head}}, head, false},
		{"commented at head", []models.Review{{State: models.ReviewStateCommented, CommitID: head}}, head, false},
		{"any one suffices", []models.Review{
			{State: models.ReviewStateChangesRequested, CommitID: head},
			{State: models.ReviewStateApproved, CommitID: "old"},
			{State: models.ReviewStateApproved, CommitID: head},
		}, head, true},
		{"empty head sha", []models.Review{{State: models.ReviewStateApproved, CommitID: ""}}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasNonStaleApproval(tt.reviews, tt.head))
		})
	}
}
