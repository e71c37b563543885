package prcontext

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/joescharf/prguard/internal/github"
	"github.com/joescharf/prguard/internal/models"
)

// EventFromActions builds the entry state from a GitHub Actions run. prInput
// is the explicit PR number of a manual re-trigger and wins when set.
func EventFromActions(eventName string, payload []byte, prInput string) (Event, models.Repo, error) {
	if s := strings.TrimSpace(prInput); s != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(s, "#"))
		if err != nil || n <= 0 {
			return nil, models.Repo{}, fmt.Errorf("invalid PR number %q", prInput)
		}
		var repo models.Repo
		if len(payload) > 0 {
			if ev, err := github.ParseEvent(eventName, payload); err == nil {
				repo = ev.Repo
			}
		}
		return ManualDispatch{PRNumber: n}, repo, nil
	}

	if len(payload) == 0 {
		return nil, models.Repo{}, ErrNoPullRequest
	}
	ev, err := github.ParseEvent(eventName, payload)
	if err != nil {
		return nil, models.Repo{}, err
	}
	switch {
	case ev.PR != nil:
		return DirectPREvent{PR: ev.PR}, ev.Repo, nil
	case ev.PRNumber > 0:
		return ManualDispatch{PRNumber: ev.PRNumber}, ev.Repo, nil
	}
	return nil, ev.Repo, fmt.Errorf("%w (event %q)", ErrNoPullRequest, eventName)
}

// WriteOutputs writes step outputs in the $GITHUB_OUTPUT format. Multi-line
// values use a heredoc delimiter.
func WriteOutputs(w io.Writer, outputs []Output) error {
	for _, o := range outputs {
		var err error
		if strings.ContainsAny(o.Value, "\r\n") {
			_, err = fmt.Fprintf(w, "%s<<PRGUARD_EOF\n%s\nPRGUARD_EOF\n", o.Name, o.Value)
		} else {
			_, err = fmt.Fprintf(w, "%s=%s\n", o.Name, o.Value)
		}
		if err != nil {
			return fmt.Errorf("write output %s: %w", o.Name, err)
		}
	}
	return nil
}
