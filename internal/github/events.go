package github

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/go-github/v66/github"

	"github.com/joescharf/prguard/internal/models"
)

// Event is the part of a webhook or Actions payload prguard acts on.
type Event struct {
	Type   string
	Action string
	Repo   models.Repo
	// PR is set when the payload embeds the pull request.
	PR *models.PullRequest
	// PRNumber is set whenever the event refers to a PR, embedded or not.
	PRNumber int
	Review   *models.Review
}

// ParseEvent decodes a payload of the given event type. Unsupported event
// types return an Event with only Type set.
func ParseEvent(eventType string, payload []byte) (*Event, error) {
	ev := &Event{Type: eventType}

	if eventType == "workflow_dispatch" {
		var wd github.WorkflowDispatchEvent
		if err := json.Unmarshal(payload, &wd); err != nil {
			return nil, fmt.Errorf("parse %s payload: %w", eventType, err)
		}
		ev.Repo = repoOf(wd.GetRepo())
		ev.PRNumber = dispatchPRInput(wd.Inputs)
		return ev, nil
	}

	if !isKnownEvent(eventType) {
		return ev, nil
	}
	parsed, err := github.ParseWebHook(eventType, payload)
	if err != nil {
		return nil, fmt.Errorf("parse %s payload: %w", eventType, err)
	}

	switch e := parsed.(type) {
	case *github.PullRequestEvent:
		ev.Action = e.GetAction()
		ev.Repo = repoOf(e.GetRepo())
		ev.PR = toPullRequest(e.GetPullRequest())
		ev.PRNumber = ev.PR.Number
	case *github.PullRequestReviewEvent:
		ev.Action = e.GetAction()
		ev.Repo = repoOf(e.GetRepo())
		ev.PR = toPullRequest(e.GetPullRequest())
		ev.PRNumber = ev.PR.Number
		r := e.GetReview()
		ev.Review = &models.Review{
			ID:          r.GetID(),
			Reviewer:    r.GetUser().GetLogin(),
			State:       models.ReviewState(strings.ToUpper(r.GetState())),
			SubmittedAt: r.GetSubmittedAt().Time,
			CommitID:    r.GetCommitID(),
		}
	case *github.IssueCommentEvent:
		ev.Action = e.GetAction()
		ev.Repo = repoOf(e.GetRepo())
		if e.GetIssue().IsPullRequest() {
			ev.PRNumber = e.GetIssue().GetNumber()
		}
	}
	return ev, nil
}

func isKnownEvent(t string) bool {
	switch t {
	case "pull_request", "pull_request_review", "issue_comment":
		return true
	}
	return false
}

// WebHookType returns the event type header of a webhook delivery.
func WebHookType(r *http.Request) string {
	return github.WebHookType(r)
}

// ValidatePayload verifies the X-Hub-Signature-256 HMAC of a delivery and
// returns its body.
func ValidatePayload(r *http.Request, secret []byte) ([]byte, error) {
	return github.ValidatePayload(r, secret)
}

func repoOf(r *github.Repository) models.Repo {
	return models.Repo{Owner: r.GetOwner().GetLogin(), Name: r.GetName()}
}

// dispatchPRInput reads the PR number from workflow_dispatch inputs, which
// arrive as strings.
func dispatchPRInput(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var inputs map[string]any
	if err := json.Unmarshal(raw, &inputs); err != nil {
		return 0
	}
	for _, key := range []string{"pr-number", "pr_number", "pr"} {
		switch v := inputs[key].(type) {
		case string:
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		case float64:
			return int(v)
		}
	}
	return 0
}
