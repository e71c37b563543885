package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/joescharf/prguard/internal/models"
)

// DefaultPath is where the workflow config document lives inside a repository.
const DefaultPath = ".github/agent-workflow/config.yaml"

const (
	DefaultThreshold        = 0.5
	DefaultCycleCap         = 3
	DefaultMaxSubjectLength = 72
)

// Guardrail names as they appear under the guardrails key.
const (
	GuardrailTestRatio    = "test-ratio"
	GuardrailCommits      = "commit-messages"
	GuardrailDependencies = "dependency-changes"
	GuardrailScope        = "scope-enforcement"
	GuardrailAPISurface   = "api-surface"
)

// DefaultReviewers are the reviewer skills dispatched when none are configured.
var DefaultReviewers = []string{"correctness", "tests", "architecture"}

// Guardrail is the per-guardrail configuration.
type Guardrail struct {
	Enabled    bool
	Threshold  float64
	Conclusion models.Conclusion
	// MaxSubjectLength only applies to the commit-message guardrail.
	MaxSubjectLength int
}

// Config is the parsed workflow config document.
type Config struct {
	TestRatio        Guardrail
	Commits          Guardrail
	Dependencies     Guardrail
	Scope            Guardrail
	APISurface       Guardrail
	ReReviewCycleCap int
	Reviewers        []string
	TestPatterns     []string
	CodeExtensions   []string
	SeverityMarkers  map[models.Severity][]string

	// Warnings collects non-fatal problems found while loading.
	Warnings []string
}

type rawDocument struct {
	Guardrails       map[string]yaml.Node `yaml:"guardrails"`
	ReReviewCycleCap yaml.Node            `yaml:"re-review-cycle-cap"`
	Reviewers        yaml.Node            `yaml:"reviewers"`
	TestPatterns     yaml.Node            `yaml:"test-patterns"`
	CodeExtensions   yaml.Node            `yaml:"code-extensions"`
	SeverityMarkers  yaml.Node            `yaml:"severity-markers"`
}

type rawGuardrail struct {
	Enabled          *bool    `yaml:"enabled"`
	Threshold        *float64 `yaml:"threshold"`
	Conclusion       *string  `yaml:"conclusion"`
	MaxSubjectLength *int     `yaml:"max-subject-length"`
}

// Default returns the configuration used when no document exists. Every
// guardrail is disabled so that a missing document never blocks a PR.
func Default() *Config {
	return &Config{
		TestRatio:        Guardrail{Threshold: DefaultThreshold, Conclusion: models.ConclusionActionRequired},
		Commits:          Guardrail{Conclusion: models.ConclusionNeutral, MaxSubjectLength: DefaultMaxSubjectLength},
		Dependencies:     Guardrail{Conclusion: models.ConclusionActionRequired},
		Scope:            Guardrail{Conclusion: models.ConclusionActionRequired},
		APISurface:       Guardrail{Conclusion: models.ConclusionActionRequired},
		ReReviewCycleCap: DefaultCycleCap,
		Reviewers:        append([]string(nil), DefaultReviewers...),
	}
}

// Load reads and parses the document at path. A missing file yields Default
// with a warning; only an unreadable or unparseable document is an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg := Default()
		cfg.warn("config document %s not found, guardrails disabled", path)
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

func present(n *yaml.Node) bool {
	return n.Kind != 0
}

// Parse parses a workflow config document.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	var raw rawDocument
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.TestRatio = cfg.parseGuardrail(raw.Guardrails, GuardrailTestRatio, cfg.TestRatio)
	cfg.Commits = cfg.parseGuardrail(raw.Guardrails, GuardrailCommits, cfg.Commits)
	cfg.Dependencies = cfg.parseGuardrail(raw.Guardrails, GuardrailDependencies, cfg.Dependencies)
	cfg.Scope = cfg.parseGuardrail(raw.Guardrails, GuardrailScope, cfg.Scope)
	cfg.APISurface = cfg.parseGuardrail(raw.Guardrails, GuardrailAPISurface, cfg.APISurface)

	if present(&raw.ReReviewCycleCap) {
		var cap int
		if err := raw.ReReviewCycleCap.Decode(&cap); err != nil || cap < 0 {
			cfg.warn("invalid re-review-cycle-cap %q, using %d", raw.ReReviewCycleCap.Value, DefaultCycleCap)
		} else {
			cfg.ReReviewCycleCap = cap
		}
	}

	if list, ok := cfg.decodeList(&raw.Reviewers, "reviewers"); ok && len(list) > 0 {
		cfg.Reviewers = list
	}
	if list, ok := cfg.decodeList(&raw.TestPatterns, "test-patterns"); ok {
		cfg.TestPatterns = list
	}
	if list, ok := cfg.decodeList(&raw.CodeExtensions, "code-extensions"); ok {
		cfg.CodeExtensions = list
	}

	if present(&raw.SeverityMarkers) {
		var markers map[string][]string
		if err := raw.SeverityMarkers.Decode(&markers); err != nil {
			cfg.warn("invalid severity-markers: %v", err)
		} else {
			cfg.SeverityMarkers = make(map[models.Severity][]string)
			for key, words := range markers {
				sev := models.Severity(strings.ToLower(key))
				if !isSeverity(sev) {
					cfg.warn("unknown severity %q in severity-markers", key)
					continue
				}
				cfg.SeverityMarkers[sev] = words
			}
		}
	}

	return cfg, nil
}

// parseGuardrail decodes one guardrail section. A missing or malformed
// section leaves the guardrail disabled.
func (c *Config) parseGuardrail(sections map[string]yaml.Node, name string, base Guardrail) Guardrail {
	node, ok := sections[name]
	if !ok {
		return base
	}

	var raw rawGuardrail
	if err := node.Decode(&raw); err != nil {
		c.warn("malformed guardrails.%s section, guardrail disabled: %v", name, err)
		return base
	}

	g := base
	g.Enabled = true
	if raw.Enabled != nil {
		g.Enabled = *raw.Enabled
	}
	if raw.Threshold != nil {
		if *raw.Threshold < 0 || *raw.Threshold > 1 {
			c.warn("guardrails.%s.threshold %v outside [0,1], guardrail disabled", name, *raw.Threshold)
			return base
		}
		g.Threshold = *raw.Threshold
	}
	if raw.Conclusion != nil {
		concl := models.Conclusion(strings.TrimSpace(*raw.Conclusion))
		if !isFailureConclusion(concl) {
			c.warn("guardrails.%s.conclusion %q is not a valid failure conclusion, guardrail disabled", name, *raw.Conclusion)
			return base
		}
		g.Conclusion = concl
	}
	if raw.MaxSubjectLength != nil && *raw.MaxSubjectLength > 0 {
		g.MaxSubjectLength = *raw.MaxSubjectLength
	}
	return g
}

func (c *Config) decodeList(node *yaml.Node, key string) ([]string, bool) {
	if !present(node) {
		return nil, false
	}
	var list []string
	if err := node.Decode(&list); err != nil {
		c.warn("invalid %s: %v", key, err)
		return nil, false
	}
	return list, true
}

func (c *Config) warn(format string, a ...any) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, a...))
}

func isSeverity(s models.Severity) bool {
	for _, known := range models.Severities {
		if s == known {
			return true
		}
	}
	return false
}

func isFailureConclusion(c models.Conclusion) bool {
	switch c {
	case models.ConclusionActionRequired, models.ConclusionFailure, models.ConclusionNeutral:
		return true
	}
	return false
}
