package review

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/joescharf/prguard/internal/dispatch"
	"github.com/joescharf/prguard/internal/models"
)

// Config holds reviewer configuration.
type Config struct {
	Backend      string
	Command      []string
	AllowedTools []string
	Timeout      time.Duration
	// MaxPatchBytes bounds the diff text sent to a reviewer.
	MaxPatchBytes int
}

// DefaultConfig returns the default reviewer config, reading from viper when available.
func DefaultConfig() Config {
	backend := viper.GetString("reviewer.backend")
	if backend == "" {
		backend = "api"
	}

	command := viper.GetString("reviewer.command")
	if command == "" {
		command = "claude -p"
	}

	allowedTools := viper.GetString("reviewer.allowed_tools")
	if allowedTools == "" {
		allowedTools = "Read Glob Grep Bash(git:*)"
	}

	timeout := viper.GetDuration("reviewer.timeout")
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	maxPatch := viper.GetInt("reviewer.max_patch_bytes")
	if maxPatch <= 0 {
		maxPatch = 200_000
	}

	return Config{
		Backend:       backend,
		Command:       strings.Fields(command),
		AllowedTools:  strings.Fields(allowedTools),
		Timeout:       timeout,
		MaxPatchBytes: maxPatch,
	}
}

// Backend completes a system/user prompt pair.
type Backend interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// FileLister fetches the diff under review.
type FileLister interface {
	ListFiles(ctx context.Context, repo models.Repo, number int) ([]models.DiffEntry, error)
}

// Reviewer runs one skill against a PR diff and returns its findings as
// review comments.
type Reviewer struct {
	backend Backend
	files   FileLister
	cfg     Config
}

// NewReviewer creates a Reviewer.
func NewReviewer(b Backend, files FileLister, cfg Config) *Reviewer {
	return &Reviewer{backend: b, files: files, cfg: cfg}
}

// Review implements dispatch.Reviewer.
func (r *Reviewer) Review(ctx context.Context, task dispatch.Task) ([]models.ReviewComment, error) {
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	files, err := r.files.ListFiles(ctx, task.Bundle.Repo, task.Bundle.PRNumber)
	if err != nil {
		return nil, fmt.Errorf("fetch diff: %w", err)
	}

	system := BuildSystemPrompt(task.Skill)
	user := BuildDiffPrompt(task, files, r.cfg.MaxPatchBytes)

	text, err := r.backend.Complete(ctx, system, user)
	if err != nil {
		return nil, fmt.Errorf("%s reviewer: %w", task.Skill, err)
	}

	comments, err := ParseComments(text, "prguard-"+task.Skill)
	if err != nil {
		return nil, fmt.Errorf("%s reviewer: %w", task.Skill, err)
	}
	return comments, nil
}
