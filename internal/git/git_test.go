package git

import (
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/prguard/internal/models"
)

// initTestRepo creates a git repo in dir with a user config so commits work on CI.
func initTestRepo(t *testing.T, dir string) {
	t.Helper()
	cmds := [][]string{
		{"git", "-C", dir, "init", "-b", "main"},
		{"git", "-C", dir, "config", "user.email", "test@test.com"},
		{"git", "-C", dir, "config", "user.name", "Test"},
	}
	for _, args := range cmds {
		require.NoError(t, exec.Command(args[0], args[1:]...).Run())
	}
}

func TestExtractOwnerRepo(t *testing.T) {
	tests := []struct {
		name, url   string
		owner, repo string
		wantErr     bool
	}{
		{"ssh", "git@github.com:acme/widgets.git", "acme", "widgets", false},
		{"https", "https://github.com/acme/widgets.git", "acme", "widgets", false},
		{"https no .git", "https://github.com/acme/widgets", "acme", "widgets", false},
		{"ssh scheme", "ssh://git@github.com/acme/widgets.git", "acme", "widgets", false},
		{"enterprise host", "https://ghe.example.com/acme/widgets", "acme", "widgets", false},
		{"trailing slash", "https://github.com/acme/widgets/", "acme", "widgets", false},
		{"invalid", "not-a-url", "", "", true},
		{"too deep", "https://github.com/acme/widgets/tree/main", "", "", true},
		{"owner only", "git@github.com:acme", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			owner, repo, err := ExtractOwnerRepo(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.owner, owner)
			assert.Equal(t, tt.repo, repo)
		})
	}
}

func TestDetectRepo(t *testing.T) {
	dir := t.TempDir()
	initTestRepo(t, dir)
	c := NewClient()

	_, err := DetectRepo(c, dir)
	assert.ErrorContains(t, err, "no origin remote")

	require.NoError(t, exec.Command("git", "-C", dir, "remote", "add", "origin", "git@github.com:acme/widgets.git").Run())
	repo, err := DetectRepo(c, dir)
	require.NoError(t, err)
	assert.Equal(t, models.Repo{Owner: "acme", Name: "widgets"}, repo)
}

func TestRealClient_HeadAndBranch(t *testing.T) {
	dir := t.TempDir()
	initTestRepo(t, dir)
	require.NoError(t, exec.Command("git", "-C", dir, "commit", "--allow-empty", "-m", "init").Run())

	c := NewClient()
	sha, err := c.HeadSHA(dir)
	require.NoError(t, err)
	assert.Len(t, sha, 40)

	branch, err := c.CurrentBranch(dir)
	require.NoError(t, err)
	assert.Equal(t, "main", branch)

	root, err := c.RepoRoot(dir)
	require.NoError(t, err)
	assert.NotEmpty(t, root)
}
