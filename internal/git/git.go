package git

import (
	"errors"
	"fmt"
	"net/url"
	"os/exec"
	"strings"

	"github.com/joescharf/prguard/internal/models"
)

// Client defines the local git operations prguard needs.
type Client interface {
	RepoRoot(path string) (string, error)
	CurrentBranch(path string) (string, error)
	HeadSHA(path string) (string, error)
	RemoteURL(path string) (string, error)
}

// RealClient implements Client using real git commands.
type RealClient struct{}

// NewClient returns a new RealClient.
func NewClient() *RealClient {
	return &RealClient{}
}

func gitCmd(path string, args ...string) (string, error) {
	fullArgs := append([]string{"-C", path}, args...)
	out, err := exec.Command("git", fullArgs...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (c *RealClient) RepoRoot(path string) (string, error) {
	return gitCmd(path, "rev-parse", "--show-toplevel")
}

func (c *RealClient) CurrentBranch(path string) (string, error) {
	return gitCmd(path, "rev-parse", "--abbrev-ref", "HEAD")
}

func (c *RealClient) HeadSHA(path string) (string, error) {
	return gitCmd(path, "rev-parse", "HEAD")
}

// RemoteURL returns the origin URL, or "" when there is no origin.
func (c *RealClient) RemoteURL(path string) (string, error) {
	out, err := gitCmd(path, "remote", "get-url", "origin")
	if err != nil {
		return "", nil
	}
	return out, nil
}

// DetectRepo derives the repository coordinates from the origin remote of
// the checkout at path.
func DetectRepo(c Client, path string) (models.Repo, error) {
	remote, err := c.RemoteURL(path)
	if err != nil {
		return models.Repo{}, err
	}
	if remote == "" {
		return models.Repo{}, fmt.Errorf("no origin remote in %s", path)
	}
	owner, name, err := ExtractOwnerRepo(remote)
	if err != nil {
		return models.Repo{}, err
	}
	return models.Repo{Owner: owner, Name: name}, nil
}

// ExtractOwnerRepo parses a remote URL on any host and returns owner/repo.
func ExtractOwnerRepo(remoteURL string) (owner, repo string, err error) {
	var path string
	switch {
	case strings.Contains(remoteURL, "://"):
		// https://host/owner/repo.git, ssh://git@host/owner/repo.git
		u, perr := url.Parse(remoteURL)
		if perr != nil {
			return "", "", fmt.Errorf("cannot parse remote %s: %w", remoteURL, perr)
		}
		path = u.Path
	case strings.Contains(remoteURL, "@") && strings.Contains(remoteURL, ":"):
		// git@host:owner/repo.git
		path = remoteURL[strings.Index(remoteURL, ":")+1:]
	default:
		return "", "", fmt.Errorf("cannot parse owner/repo from: %s", remoteURL)
	}

	path = strings.TrimSuffix(strings.Trim(path, "/"), ".git")
	segments := strings.Split(path, "/")
	if len(segments) != 2 || segments[0] == "" || segments[1] == "" {
		return "", "", fmt.Errorf("cannot parse owner/repo from: %s", remoteURL)
	}
	return segments[0], segments[1], nil
}
