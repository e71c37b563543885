package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/go-github/v66/github"

	"github.com/joescharf/prguard/internal/models"
)

// GetIssue fetches an issue, including its GraphQL node id.
func (c *Client) GetIssue(ctx context.Context, repo models.Repo, number int) (*models.Issue, error) {
	var iss *github.Issue
	err := c.do(ctx, "get issue", func(ctx context.Context) error {
		var err error
		iss, _, err = c.gh.Issues.Get(ctx, repo.Owner, repo.Name, number)
		return err
	})
	if isNotFound(err) {
		return nil, fmt.Errorf("issue #%d: %w", number, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return toIssue(iss), nil
}

// CreateIssue files a new issue.
func (c *Client) CreateIssue(ctx context.Context, repo models.Repo, title, body string, labels []string) (*models.Issue, error) {
	req := &github.IssueRequest{Title: github.String(title), Body: github.String(body)}
	if len(labels) > 0 {
		req.Labels = &labels
	}
	var iss *github.Issue
	err := c.do(ctx, "create issue", func(ctx context.Context) error {
		var err error
		iss, _, err = c.gh.Issues.Create(ctx, repo.Owner, repo.Name, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("issue created", "repo", repo.String(), "number", iss.GetNumber())
	return toIssue(iss), nil
}

// EnsureLabel creates a label unless it already exists.
func (c *Client) EnsureLabel(ctx context.Context, repo models.Repo, name, color, description string) error {
	err := c.do(ctx, "get label", func(ctx context.Context) error {
		_, _, err := c.gh.Issues.GetLabel(ctx, repo.Owner, repo.Name, name)
		return err
	})
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return err
	}
	return c.do(ctx, "create label", func(ctx context.Context) error {
		_, _, err := c.gh.Issues.CreateLabel(ctx, repo.Owner, repo.Name, &github.Label{
			Name:        github.String(name),
			Color:       github.String(color),
			Description: github.String(description),
		})
		return err
	})
}

// ListIssueComments returns the conversation comments of an issue or PR.
func (c *Client) ListIssueComments(ctx context.Context, repo models.Repo, number int) ([]models.Comment, error) {
	var out []models.Comment
	opts := &github.IssueListCommentsOptions{ListOptions: github.ListOptions{PerPage: PerPage}}
	for {
		var (
			comments []*github.IssueComment
			resp     *github.Response
		)
		err := c.do(ctx, "list issue comments", func(ctx context.Context) error {
			var err error
			comments, resp, err = c.gh.Issues.ListComments(ctx, repo.Owner, repo.Name, number, opts)
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, ic := range comments {
			out = append(out, models.Comment{Author: ic.GetUser().GetLogin(), Body: ic.GetBody()})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

// CreateComment posts a conversation comment on an issue or PR.
func (c *Client) CreateComment(ctx context.Context, repo models.Repo, number int, body string) error {
	return c.do(ctx, "create comment", func(ctx context.Context) error {
		_, _, err := c.gh.Issues.CreateComment(ctx, repo.Owner, repo.Name, number, &github.IssueComment{Body: github.String(body)})
		return err
	})
}

func isNotFound(err error) bool {
	var er *github.ErrorResponse
	return errors.As(err, &er) && er.Response != nil && er.Response.StatusCode == http.StatusNotFound
}
