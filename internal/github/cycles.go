package github

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/joescharf/prguard/internal/models"
)

var cycleMarkerRe = regexp.MustCompile(`<!-- prguard:review-cycle (\d+) -->`)

// CycleMarker is the hidden marker embedded in a review-cycle comment.
func CycleMarker(n int) string {
	return fmt.Sprintf("<!-- prguard:review-cycle %d -->", n)
}

// CountCycles returns the number of review-cycle markers in comments written
// by author. A marker quoted by anyone else does not count.
func CountCycles(comments []models.Comment, author string) int {
	n := 0
	for _, c := range comments {
		if strings.EqualFold(c.Author, author) && cycleMarkerRe.MatchString(c.Body) {
			n++
		}
	}
	return n
}

// ReviewCycles reads the PR's re-review cycle count from its comment history.
// The client's identity is only resolved once a marker shows up.
func (c *Client) ReviewCycles(ctx context.Context, repo models.Repo, prNumber int) (int, error) {
	comments, err := c.ListIssueComments(ctx, repo, prNumber)
	if err != nil {
		return 0, err
	}
	if !hasMarker(comments) {
		return 0, nil
	}
	self, err := c.Identity(ctx)
	if err != nil {
		return 0, err
	}
	return CountCycles(comments, self), nil
}

func hasMarker(comments []models.Comment) bool {
	for _, c := range comments {
		if cycleMarkerRe.MatchString(c.Body) {
			return true
		}
	}
	return false
}

// RecordReviewCycle posts a comment marking review cycle n as started.
func (c *Client) RecordReviewCycle(ctx context.Context, repo models.Repo, prNumber, n int, skills []string) error {
	body := fmt.Sprintf("%s\nAutomated review cycle %s started (%d reviewer(s): %v).",
		CycleMarker(n), strconv.Itoa(n), len(skills), skills)
	return c.CreateComment(ctx, repo, prNumber, body)
}
