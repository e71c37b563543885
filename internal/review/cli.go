package review

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// CLIBackend runs a reviewer as an external command. The claude CLI gets
// the system prompt and allowed tools as flags; any other command reads
// the combined prompt on stdin.
type CLIBackend struct {
	Command      []string
	AllowedTools []string
	Dir          string
}

// NewCLIBackend creates a CLIBackend from reviewer config.
func NewCLIBackend(cfg Config, dir string) *CLIBackend {
	return &CLIBackend{Command: cfg.Command, AllowedTools: cfg.AllowedTools, Dir: dir}
}

// Args returns the argv for one invocation and the text, if any, to send on stdin.
func (c *CLIBackend) Args(system, user string) ([]string, string) {
	args := append([]string(nil), c.Command...)
	if len(args) == 0 || filepath.Base(args[0]) != "claude" {
		return args, system + "\n\n" + user
	}
	for _, tool := range c.AllowedTools {
		args = append(args, "--allowedTools", tool)
	}
	args = append(args, "--append-system-prompt", system)
	args = append(args, user)
	return args, ""
}

// Complete implements Backend.
func (c *CLIBackend) Complete(ctx context.Context, system, user string) (string, error) {
	args, stdin := c.Args(system, user)
	if len(args) == 0 {
		return "", fmt.Errorf("reviewer command not configured")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = c.Dir
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return "", fmt.Errorf("run %s: %w", args[0], err)
		}
		return "", fmt.Errorf("run %s: %w: %s", args[0], err, msg)
	}
	return stdout.String(), nil
}
