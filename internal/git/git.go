// Package git drives the git CLI to bring a build checkout to a given
// commit. Every command targets the repository directory with -C.
package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/process"
)

// Repository is a git working tree at a specific directory.
type Repository struct {
	dir string
	// out receives the progress output of git commands, line by line.
	out func(line string)
}

// NewRepository returns a Repository targeting dir. Progress output of the
// commands it runs is passed to out, which may be nil.
func NewRepository(dir string, out func(line string)) *Repository {
	return &Repository{dir: dir, out: out}
}

func (r *Repository) Dir() string { return r.dir }

// Exists reports whether dir already holds a git working tree.
func (r *Repository) Exists() bool {
	_, err := os.Stat(filepath.Join(r.dir, ".git"))
	return err == nil
}

// Run executes a git command targeting this repository and returns its
// stdout.
func (r *Repository) Run(ctx context.Context, args ...string) (string, error) {
	return r.run(ctx, append([]string{"-C", r.dir}, args...)...)
}

func (r *Repository) run(ctx context.Context, args ...string) (string, error) {
	res, err := process.Run(ctx, process.Command{
		Name:     "git",
		Args:     args,
		Capture:  true,
		OnStdout: r.out,
		OnStderr: r.out,
		// never prompt for credentials
		Env: []string{"GIT_TERMINAL_PROMPT=0"},
	})
	if err != nil {
		var exitErr *process.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("git %s in %s: exit status %d (stderr: %s)",
				strings.Join(args, " "), r.dir, exitErr.Code, exitErr.Stderr)
		}
		return "", fmt.Errorf("git %s in %s: %w", strings.Join(args, " "), r.dir, err)
	}
	return string(res.Stdout), nil
}

// Clone clones origin into the repository directory.
func (r *Repository) Clone(ctx context.Context, origin string) error {
	if err := os.MkdirAll(filepath.Dir(r.dir), 0o755); err != nil {
		return err
	}
	_, err := r.run(ctx, "clone", origin, r.dir)
	return err
}

func (r *Repository) SetRemoteURL(ctx context.Context, origin string) error {
	_, err := r.Run(ctx, "remote", "set-url", "origin", origin)
	return err
}

// Fetch fetches ref from origin.
func (r *Repository) Fetch(ctx context.Context, ref string) error {
	_, err := r.Run(ctx, "fetch", "origin", ref)
	return err
}

// FetchInto fetches ref from origin and force-updates localBranch to it.
func (r *Repository) FetchInto(ctx context.Context, ref, localBranch string) error {
	_, err := r.Run(ctx, "fetch", "--update-head-ok", "origin", fmt.Sprintf("+%s:%s", ref, localBranch))
	return err
}

// Checkout checks out commit, discarding local changes when force is set.
func (r *Repository) Checkout(ctx context.Context, commit string, force bool) error {
	args := []string{"checkout"}
	if force {
		args = append(args, "-f")
	}
	_, err := r.Run(ctx, append(args, commit)...)
	return err
}

func (r *Repository) UpdateSubmodules(ctx context.Context) error {
	_, err := r.Run(ctx, "submodule", "update", "--init", "--recursive")
	return err
}

// UsesLFS reports whether the checkout has files tracked by git-lfs.
func (r *Repository) UsesLFS() bool {
	data, err := os.ReadFile(filepath.Join(r.dir, ".gitattributes"))
	if err != nil {
		return false
	}
	return strings.Contains(string(data), "filter=lfs")
}

// LFSPull downloads large file content for the current checkout.
func (r *Repository) LFSPull(ctx context.Context) error {
	_, err := r.Run(ctx, "lfs", "pull")
	return err
}

// Clean removes untracked and ignored files from the working tree.
func (r *Repository) Clean(ctx context.Context) error {
	_, err := r.Run(ctx, "clean", "-f", "-d", "-x")
	return err
}

// CurrentCommit returns the hash of HEAD.
func (r *Repository) CurrentCommit(ctx context.Context) (string, error) {
	out, err := r.Run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
