package review

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/joescharf/prguard/internal/llm"
	"github.com/joescharf/prguard/internal/models"
)

type rawFinding struct {
	Path     string `json:"path"`
	Line     int    `json:"line"`
	Severity string `json:"severity"`
	Body     string `json:"body"`
}

// ParseComments decodes a reviewer's JSON reply into review comments
// authored by author. A declared severity becomes a leading marker on the
// body so classification treats reviewer output like human comments.
func ParseComments(text, author string) ([]models.ReviewComment, error) {
	text = llm.StripFences(text)
	if start := strings.Index(text, "["); start > 0 {
		text = text[start:]
	}

	var raw []rawFinding
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("parse reviewer response as JSON: %w\nraw response: %s", err, text)
	}

	out := make([]models.ReviewComment, 0, len(raw))
	for _, f := range raw {
		body := strings.TrimSpace(f.Body)
		if body == "" || f.Path == "" {
			continue
		}
		line := f.Line
		if line < 0 {
			line = 0
		}
		switch sev := models.Severity(strings.ToLower(strings.TrimSpace(f.Severity))); sev {
		case models.SeverityBlocking, models.SeverityShouldFix, models.SeveritySuggestion:
			if !strings.HasPrefix(strings.ToLower(body), string(sev)) {
				body = string(sev) + ": " + body
			}
		}
		out = append(out, models.ReviewComment{Author: author, Path: f.Path, Line: line, Body: body})
	}
	return out, nil
}
