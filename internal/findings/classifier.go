// Package findings turns raw review comments into severity-classified findings.
package findings

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/joescharf/prguard/internal/models"
)

// SummaryLength is the maximum length of a finding summary, in runes.
const SummaryLength = 80

// DefaultMarkers are the words that tag a comment with a severity.
var DefaultMarkers = map[models.Severity][]string{
	models.SeverityBlocking:   {"blocking", "critical", "must fix", "must be fixed", "must change"},
	models.SeverityShouldFix:  {"should-fix", "should fix"},
	models.SeveritySuggestion: {"suggestion", "nit", "optional", "consider", "minor"},
}

// Classifier maps comment bodies to severities. It is safe for concurrent use.
type Classifier struct {
	rules []rule
}

type rule struct {
	severity models.Severity
	res      []*regexp.Regexp
	prefix   *regexp.Regexp
}

// NewClassifier builds a classifier. Severities missing from markers use
// DefaultMarkers.
func NewClassifier(markers map[models.Severity][]string) (*Classifier, error) {
	c := &Classifier{}
	for _, sev := range models.Severities {
		words := markers[sev]
		if len(words) == 0 {
			words = DefaultMarkers[sev]
		}
		r := rule{severity: sev}
		var alts []string
		for _, w := range words {
			w = strings.TrimSpace(w)
			if w == "" {
				continue
			}
			re, err := markerRegexp(w)
			if err != nil {
				return nil, fmt.Errorf("compile %s marker %q: %w", sev, w, err)
			}
			r.res = append(r.res, re)
			alts = append(alts, wordPattern(w))
		}
		if len(alts) > 0 {
			r.prefix = regexp.MustCompile(`(?i)^\s*[\[(*_]*(?:` + strings.Join(alts, "|") + `)[\])*_]*\s*[:\-]\s*`)
		}
		c.rules = append(c.rules, r)
	}
	return c, nil
}

// Default returns a classifier with the default markers.
func Default() *Classifier {
	c, err := NewClassifier(nil)
	if err != nil {
		panic(err)
	}
	return c
}

// wordPattern quotes a marker and lets any run of whitespace stand in for
// its spaces.
func wordPattern(w string) string {
	parts := strings.Fields(w)
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return strings.Join(parts, `\s+`)
}

// markerRegexp matches w as a whole word. Neighbouring word characters and
// hyphens disqualify a match, so "non-blocking" is not "blocking".
func markerRegexp(w string) (*regexp.Regexp, error) {
	return regexp.Compile(`(?i)(?:^|[^\w-])` + wordPattern(w) + `(?:$|[^\w-])`)
}

// Severity returns the highest-priority severity marked in body, or
// suggestion when nothing matches.
func (c *Classifier) Severity(body string) models.Severity {
	for _, r := range c.rules {
		for _, re := range r.res {
			if re.MatchString(body) {
				return r.severity
			}
		}
	}
	return models.SeveritySuggestion
}

// Classify derives a finding from a review comment. It is pure: the same
// comment always yields the same finding.
func (c *Classifier) Classify(rc models.ReviewComment) models.Finding {
	sev := c.Severity(rc.Body)
	return models.Finding{
		Severity:    sev,
		Path:        rc.Path,
		Line:        rc.Line,
		FileScoped:  rc.Line <= 0,
		Summary:     c.summary(rc.Body),
		Body:        rc.Body,
		Author:      rc.Author,
		Fingerprint: Fingerprint(rc.Path, rc.Line, rc.Body),
	}
}

// ClassifyAll classifies comments in order, dropping ones with empty bodies.
func (c *Classifier) ClassifyAll(comments []models.ReviewComment) []models.Finding {
	out := make([]models.Finding, 0, len(comments))
	for _, rc := range comments {
		if strings.TrimSpace(rc.Body) == "" {
			continue
		}
		out = append(out, c.Classify(rc))
	}
	return out
}

func (c *Classifier) summary(body string) string {
	var line string
	for l := range strings.SplitSeq(body, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			line = l
			break
		}
	}
	for _, r := range c.rules {
		if r.prefix == nil {
			continue
		}
		if loc := r.prefix.FindStringIndex(line); loc != nil {
			line = line[loc[1]:]
			break
		}
	}
	return truncate(strings.TrimSpace(line), SummaryLength)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
