package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gobwas/glob"
	"github.com/gofrs/flock"
)

// gitRelated matches shared paths that belong to git's own storage. These
// are linked before large file content is pulled so that it lands in the
// shared area.
var gitRelated = []glob.Glob{
	glob.MustCompile(".git", '/'),
	glob.MustCompile(".git/**", '/'),
}

// SplitGitRelated partitions links into those inside the .git directory
// and the rest, preserving order.
func SplitGitRelated(links []SharedLink) (git, other []SharedLink) {
	for _, link := range links {
		if isGitRelated(filepath.ToSlash(filepath.Clean(link.Path))) {
			git = append(git, link)
		} else {
			other = append(other, link)
		}
	}
	return git, other
}

func isGitRelated(path string) bool {
	for _, g := range gitRelated {
		if g.Match(path) {
			return true
		}
	}
	return false
}

// LinkShared links each of links from the checkout into the shared area.
func LinkShared(checkout, sharedRoot string, links []SharedLink) error {
	for _, link := range links {
		path, err := cleanRelative(link.Path)
		if err != nil {
			return fmt.Errorf("invalid shared path %q: %w", link.Path, err)
		}
		key, err := cleanRelative(link.Key)
		if err != nil {
			return fmt.Errorf("invalid shared key %q: %w", link.Key, err)
		}
		if err := LinkSharedFolder(filepath.Join(checkout, path), filepath.Join(sharedRoot, key)); err != nil {
			return fmt.Errorf("linking shared folder %s: %w", link.Path, err)
		}
	}
	return nil
}

// LinkSharedFolder replaces the directory src with a symlink to dst so
// that every checkout sharing dst uses one physical directory. The first
// checkout to link a missing dst moves its own src there. Nothing is done
// when src is already a symlink.
//
// Linking is serialized per dst with a lock file alongside it, so
// concurrent builds on one host cannot both adopt their own copy.
func LinkSharedFolder(src, dst string) error {
	if isSymlink(src) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	lock := flock.New(filepath.Join(filepath.Dir(dst), "."+filepath.Base(dst)+".lock"))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("locking %s: %w", dst, err)
	}
	defer lock.Unlock()

	if !exists(dst) && isDir(src) {
		if err := move(src, dst); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	if exists(src) && !isSymlink(src) {
		if err := os.RemoveAll(src); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(src), 0o755); err != nil {
		return err
	}
	return os.Symlink(dst, src)
}

// move renames src to dst, copying across filesystems when necessary.
func move(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) {
		return err
	}
	if err := copyTree(src, dst); err != nil {
		return err
	}
	return os.RemoveAll(src)
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func isSymlink(path string) bool {
	info, err := os.Lstat(path)
	return err == nil && info.Mode()&fs.ModeSymlink != 0
}

func isDir(path string) bool {
	info, err := os.Lstat(path)
	return err == nil && info.IsDir()
}
