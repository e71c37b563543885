package github

import (
	"context"
	"time"

	"github.com/google/go-github/v66/github"

	"github.com/joescharf/prguard/internal/models"
)

// CreateCheck reports a completed check run on the check's head commit.
func (c *Client) CreateCheck(ctx context.Context, repo models.Repo, check models.Check) error {
	opts := github.CreateCheckRunOptions{
		Name:        check.Name,
		HeadSHA:     check.HeadSHA,
		Status:      github.String("completed"),
		Conclusion:  github.String(string(check.Conclusion)),
		CompletedAt: &github.Timestamp{Time: time.Now()},
		Output: &github.CheckRunOutput{
			Title:   github.String(check.Title),
			Summary: github.String(check.Summary),
		},
	}
	for _, a := range check.Annotations {
		line := a.Line
		if line <= 0 {
			line = 1
		}
		opts.Output.Annotations = append(opts.Output.Annotations, &github.CheckRunAnnotation{
			Path:            github.String(a.Path),
			StartLine:       github.Int(line),
			EndLine:         github.Int(line),
			AnnotationLevel: github.String("warning"),
			Message:         github.String(a.Message),
		})
	}

	return c.do(ctx, "create check run", func(ctx context.Context) error {
		_, _, err := c.gh.Checks.CreateCheckRun(ctx, repo.Owner, repo.Name, opts)
		return err
	})
}
