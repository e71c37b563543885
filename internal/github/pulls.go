package github

import (
	"context"

	"github.com/google/go-github/v66/github"

	"github.com/joescharf/prguard/internal/models"
)

// GetPullRequest fetches one pull request.
func (c *Client) GetPullRequest(ctx context.Context, repo models.Repo, number int) (*models.PullRequest, error) {
	var pr *github.PullRequest
	err := c.do(ctx, "get pull request", func(ctx context.Context) error {
		var err error
		pr, _, err = c.gh.PullRequests.Get(ctx, repo.Owner, repo.Name, number)
		return err
	})
	if err != nil {
		return nil, err
	}
	return toPullRequest(pr), nil
}

// ListFiles returns every changed file of a pull request, following
// pagination to the last page.
func (c *Client) ListFiles(ctx context.Context, repo models.Repo, number int) ([]models.DiffEntry, error) {
	var out []models.DiffEntry
	opts := &github.ListOptions{PerPage: PerPage}
	for {
		var (
			files []*github.CommitFile
			resp  *github.Response
		)
		err := c.do(ctx, "list pull request files", func(ctx context.Context) error {
			var err error
			files, resp, err = c.gh.PullRequests.ListFiles(ctx, repo.Owner, repo.Name, number, opts)
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			out = append(out, models.DiffEntry{
				Path:      f.GetFilename(),
				Additions: f.GetAdditions(),
				Deletions: f.GetDeletions(),
				Patch:     f.GetPatch(),
				Status:    models.FileStatus(f.GetStatus()),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	c.logger.Debug("pull request files fetched", "pr", number, "files", len(out))
	return out, nil
}

// ListReviews returns every review submitted on a pull request.
func (c *Client) ListReviews(ctx context.Context, repo models.Repo, number int) ([]models.Review, error) {
	var out []models.Review
	opts := &github.ListOptions{PerPage: PerPage}
	for {
		var (
			reviews []*github.PullRequestReview
			resp    *github.Response
		)
		err := c.do(ctx, "list reviews", func(ctx context.Context) error {
			var err error
			reviews, resp, err = c.gh.PullRequests.ListReviews(ctx, repo.Owner, repo.Name, number, opts)
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, r := range reviews {
			out = append(out, models.Review{
				ID:          r.GetID(),
				Reviewer:    r.GetUser().GetLogin(),
				State:       models.ReviewState(r.GetState()),
				SubmittedAt: r.GetSubmittedAt().Time,
				CommitID:    r.GetCommitID(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

// ListCommits returns the commits of a pull request.
func (c *Client) ListCommits(ctx context.Context, repo models.Repo, number int) ([]models.Commit, error) {
	var out []models.Commit
	opts := &github.ListOptions{PerPage: PerPage}
	for {
		var (
			commits []*github.RepositoryCommit
			resp    *github.Response
		)
		err := c.do(ctx, "list commits", func(ctx context.Context) error {
			var err error
			commits, resp, err = c.gh.PullRequests.ListCommits(ctx, repo.Owner, repo.Name, number, opts)
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, rc := range commits {
			out = append(out, models.Commit{SHA: rc.GetSHA(), Message: rc.GetCommit().GetMessage()})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

// ListReviewComments returns the line comments of one review, or of every
// review when reviewID is 0.
func (c *Client) ListReviewComments(ctx context.Context, repo models.Repo, number int, reviewID int64) ([]models.ReviewComment, error) {
	var out []models.ReviewComment
	page := 0
	for {
		var (
			comments []*github.PullRequestComment
			resp     *github.Response
		)
		err := c.do(ctx, "list review comments", func(ctx context.Context) error {
			var err error
			lo := github.ListOptions{PerPage: PerPage, Page: page}
			if reviewID != 0 {
				comments, resp, err = c.gh.PullRequests.ListReviewComments(ctx, repo.Owner, repo.Name, number, reviewID, &lo)
			} else {
				comments, resp, err = c.gh.PullRequests.ListComments(ctx, repo.Owner, repo.Name, number,
					&github.PullRequestListCommentsOptions{Sort: "created", Direction: "asc", ListOptions: lo})
			}
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, rc := range comments {
			// Replies belong to the thread's first comment.
			if rc.GetInReplyTo() != 0 {
				continue
			}
			line := rc.GetLine()
			if line == 0 {
				line = rc.GetOriginalLine()
			}
			out = append(out, models.ReviewComment{
				ID:     rc.GetID(),
				Author: rc.GetUser().GetLogin(),
				Path:   rc.GetPath(),
				Line:   line,
				Body:   rc.GetBody(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		page = resp.NextPage
	}
	return out, nil
}

// UpdatePRBody replaces a pull request's description.
func (c *Client) UpdatePRBody(ctx context.Context, repo models.Repo, number int, body string) error {
	return c.do(ctx, "update pull request body", func(ctx context.Context) error {
		_, _, err := c.gh.PullRequests.Edit(ctx, repo.Owner, repo.Name, number, &github.PullRequest{Body: github.String(body)})
		return err
	})
}
