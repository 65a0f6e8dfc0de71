package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not found")
	}
}

func git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Test",
		"GIT_AUTHOR_EMAIL=test@test.local",
		"GIT_COMMITTER_NAME=Test",
		"GIT_COMMITTER_EMAIL=test@test.local",
	)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
	return strings.TrimSpace(string(out))
}

// newOrigin creates a repository with a commit on main and a second commit
// only reachable from a pull request ref. It returns the directory and
// both commit hashes.
func newOrigin(t *testing.T) (dir, mainCommit, prCommit string) {
	t.Helper()

	dir = t.TempDir()
	git(t, dir, "init", "-b", "main")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("one\n"), 0o644))
	git(t, dir, "add", "README")
	git(t, dir, "commit", "-m", "initial")
	mainCommit = git(t, dir, "rev-parse", "HEAD")

	git(t, dir, "checkout", "-b", "feature")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("two\n"), 0o644))
	git(t, dir, "commit", "-am", "feature")
	prCommit = git(t, dir, "rev-parse", "HEAD")
	git(t, dir, "update-ref", "refs/pull/7/head", prCommit)
	git(t, dir, "checkout", "main")
	git(t, dir, "branch", "-D", "feature")

	return dir, mainCommit, prCommit
}

func TestParseRef(t *testing.T) {
	tests := []struct {
		ref        string
		wantPR     int
		wantBranch string
		wantErr    bool
	}{
		{ref: "refs/heads/master"},
		{ref: "master"},
		{ref: "pull/12/head", wantPR: 12, wantBranch: "ci-pr-12"},
		{ref: "refs/pull/3/head", wantPR: 3, wantBranch: "ci-pr-3"},
		{ref: "refs/pull/3/merge"},
		{ref: "pull/0/head", wantErr: true},
		{ref: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, err := ParseRef(tt.ref)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPR, got.PullRequest)
			assert.Equal(t, tt.wantPR > 0, got.IsPullRequest())
			assert.Equal(t, tt.wantBranch, got.LocalBranch())
		})
	}
}

func TestRepository_Sync(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	origin, mainCommit, prCommit := newOrigin(t)

	var (
		mu    sync.Mutex
		lines []string
	)
	repo := NewRepository(filepath.Join(t.TempDir(), "checkout"), func(line string) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, line)
	})
	assert.False(t, repo.Exists())

	var order []string
	opts := SyncOptions{
		Origin:        origin,
		Ref:           "refs/heads/main",
		DefaultBranch: "main",
		Commit:        mainCommit,
		SkipLFS:       true,
		BeforeLFS: func(context.Context) error {
			order = append(order, "before-lfs")
			return nil
		},
		AfterClean: func(context.Context) error {
			order = append(order, "after-clean")
			return nil
		},
	}
	require.NoError(t, repo.Sync(ctx, opts))
	assert.True(t, repo.Exists())
	assert.Equal(t, []string{"before-lfs", "after-clean"}, order)
	assert.NotEmpty(t, lines)

	got, err := repo.CurrentCommit(ctx)
	require.NoError(t, err)
	assert.Equal(t, mainCommit, got)

	t.Run("untracked files are cleaned", func(t *testing.T) {
		stray := filepath.Join(repo.Dir(), "stray.txt")
		require.NoError(t, os.WriteFile(stray, nil, 0o644))

		require.NoError(t, repo.Sync(ctx, opts))
		assert.NoFileExists(t, stray)
	})

	t.Run("pull request ref", func(t *testing.T) {
		opts := opts
		opts.Ref = "pull/7/head"
		opts.Commit = prCommit
		require.NoError(t, repo.Sync(ctx, opts))

		got, err := repo.CurrentCommit(ctx)
		require.NoError(t, err)
		assert.Equal(t, prCommit, got)

		branch, err := repo.Run(ctx, "rev-parse", "ci-pr-7")
		require.NoError(t, err)
		assert.Equal(t, prCommit, strings.TrimSpace(branch))
	})

	t.Run("unknown commit", func(t *testing.T) {
		opts := opts
		opts.Commit = strings.Repeat("0", 40)
		err := repo.Sync(ctx, opts)
		assert.ErrorContains(t, err, "git -C")
	})
}
