package git

import (
	"context"
	"fmt"
)

type SyncOptions struct {
	Origin        string
	Ref           string
	DefaultBranch string
	Commit        string

	// BeforeLFS runs after checkout, before large file content is pulled.
	BeforeLFS func(ctx context.Context) error
	// AfterClean runs once untracked files have been removed.
	AfterClean func(ctx context.Context) error

	// SkipLFS disables pulling large file content. It is never pulled for
	// repositories that do not use git-lfs.
	SkipLFS bool
}

// Sync brings the repository to opts.Commit: clone or update the remote,
// fetch the target ref and the default branch, force checkout, update
// submodules, pull large files and remove untracked files.
func (r *Repository) Sync(ctx context.Context, opts SyncOptions) error {
	ref, err := ParseRef(opts.Ref)
	if err != nil {
		return err
	}
	if opts.Commit == "" {
		return fmt.Errorf("missing commit to check out")
	}

	if r.Exists() {
		if err := r.SetRemoteURL(ctx, opts.Origin); err != nil {
			return err
		}
	} else {
		if err := r.Clone(ctx, opts.Origin); err != nil {
			return err
		}
	}

	if ref.IsPullRequest() {
		err = r.FetchInto(ctx, ref.fetchSpec(), ref.LocalBranch())
	} else {
		err = r.Fetch(ctx, ref.fetchSpec())
	}
	if err != nil {
		return err
	}
	if opts.DefaultBranch != "" && opts.DefaultBranch != opts.Ref {
		if err := r.Fetch(ctx, opts.DefaultBranch); err != nil {
			return err
		}
	}

	if err := r.Checkout(ctx, opts.Commit, true); err != nil {
		return err
	}
	if err := r.UpdateSubmodules(ctx); err != nil {
		return err
	}

	if opts.BeforeLFS != nil {
		if err := opts.BeforeLFS(ctx); err != nil {
			return err
		}
	}
	if !opts.SkipLFS && r.UsesLFS() {
		if err := r.LFSPull(ctx); err != nil {
			return err
		}
	}
	if err := r.Clean(ctx); err != nil {
		return err
	}
	if opts.AfterClean != nil {
		if err := opts.AfterClean(ctx); err != nil {
			return err
		}
	}
	return nil
}
