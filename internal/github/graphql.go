package github

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/joescharf/prguard/internal/models"
)

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors"`
}

// GraphQLError carries the errors array of a GraphQL response.
type GraphQLError struct {
	Errors []graphqlError
}

func (e *GraphQLError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, ge := range e.Errors {
		msgs = append(msgs, ge.Message)
	}
	return "graphql: " + strings.Join(msgs, "; ")
}

// graphql posts a query through the go-github transport, so auth and error
// handling match the REST calls, and decodes data into out.
func (c *Client) graphql(ctx context.Context, op, query string, vars map[string]any, out any) error {
	return c.do(ctx, op, func(ctx context.Context) error {
		req, err := c.gh.NewRequest("POST", c.graphqlURL, graphqlRequest{Query: query, Variables: vars})
		if err != nil {
			return err
		}
		req.Header.Set("GraphQL-Features", "sub_issues,issue_dependencies")

		var resp graphqlResponse
		if _, err := c.gh.Do(ctx, req, &resp); err != nil {
			return err
		}
		if len(resp.Errors) > 0 {
			return &GraphQLError{Errors: resp.Errors}
		}
		if out == nil || len(resp.Data) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return fmt.Errorf("decode graphql data: %w", err)
		}
		return nil
	})
}

const addSubIssueMutation = `mutation($issueId: ID!, $subIssueId: ID!) {
  addSubIssue(input: {issueId: $issueId, subIssueId: $subIssueId}) {
    subIssue { number }
  }
}`

// AddSubIssue links child under parent.
func (c *Client) AddSubIssue(ctx context.Context, parent, child models.NodeID) error {
	return c.graphql(ctx, "add sub-issue", addSubIssueMutation, map[string]any{
		"issueId":    string(parent),
		"subIssueId": string(child),
	}, nil)
}

const subIssuesQuery = `query($id: ID!, $after: String) {
  node(id: $id) {
    ... on Issue {
      subIssues(first: 100, after: $after) {
        nodes { id number title body state labels(first: 20) { nodes { name } } }
        pageInfo { hasNextPage endCursor }
      }
    }
  }
}`

type pageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   string `json:"endCursor"`
}

// ListSubIssues returns every sub-issue of parent.
func (c *Client) ListSubIssues(ctx context.Context, parent models.NodeID) ([]models.Issue, error) {
	var out []models.Issue
	var after *string
	for {
		var data struct {
			Node struct {
				SubIssues struct {
					Nodes []struct {
						ID     string `json:"id"`
						Number int    `json:"number"`
						Title  string `json:"title"`
						Body   string `json:"body"`
						State  string `json:"state"`
						Labels struct {
							Nodes []struct {
								Name string `json:"name"`
							} `json:"nodes"`
						} `json:"labels"`
					} `json:"nodes"`
					PageInfo pageInfo `json:"pageInfo"`
				} `json:"subIssues"`
			} `json:"node"`
		}
		err := c.graphql(ctx, "list sub-issues", subIssuesQuery, map[string]any{"id": string(parent), "after": after}, &data)
		if err != nil {
			return nil, err
		}
		for _, n := range data.Node.SubIssues.Nodes {
			iss := models.Issue{
				IssueRef: models.IssueRef{Number: n.Number, NodeID: models.NodeID(n.ID)},
				Title:    n.Title,
				Body:     n.Body,
				Open:     n.State == "OPEN",
			}
			for _, l := range n.Labels.Nodes {
				iss.Labels = append(iss.Labels, l.Name)
			}
			out = append(out, iss)
		}
		pi := data.Node.SubIssues.PageInfo
		if !pi.HasNextPage {
			break
		}
		after = &pi.EndCursor
	}
	return out, nil
}

const blockedByQuery = `query($id: ID!, $after: String) {
  node(id: $id) {
    ... on Issue {
      blockedBy(first: 100, after: $after) {
        nodes { id }
        pageInfo { hasNextPage endCursor }
      }
    }
  }
}`

// ListBlockedBy returns the node ids of the issues blocking issue.
func (c *Client) ListBlockedBy(ctx context.Context, issue models.NodeID) ([]models.NodeID, error) {
	var out []models.NodeID
	var after *string
	for {
		var data struct {
			Node struct {
				BlockedBy struct {
					Nodes []struct {
						ID string `json:"id"`
					} `json:"nodes"`
					PageInfo pageInfo `json:"pageInfo"`
				} `json:"blockedBy"`
			} `json:"node"`
		}
		err := c.graphql(ctx, "list blocked-by", blockedByQuery, map[string]any{"id": string(issue), "after": after}, &data)
		if err != nil {
			return nil, err
		}
		for _, n := range data.Node.BlockedBy.Nodes {
			out = append(out, models.NodeID(n.ID))
		}
		pi := data.Node.BlockedBy.PageInfo
		if !pi.HasNextPage {
			break
		}
		after = &pi.EndCursor
	}
	return out, nil
}

const addBlockedByMutation = `mutation($issueId: ID!, $blockingIssueId: ID!) {
  addBlockedBy(input: {issueId: $issueId, blockingIssueId: $blockingIssueId}) {
    issue { number }
  }
}`

// AddBlockedBy marks issue as blocked by blocker.
func (c *Client) AddBlockedBy(ctx context.Context, issue, blocker models.NodeID) error {
	return c.graphql(ctx, "add blocked-by", addBlockedByMutation, map[string]any{
		"issueId":         string(issue),
		"blockingIssueId": string(blocker),
	}, nil)
}
