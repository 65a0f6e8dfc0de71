package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/logr"
)

const (
	trustedDir   = "trusted"
	untrustedDir = "untrusted"
)

// Paths is the layout of the cache area. Trusted and untrusted builds use
// separate trees so that untrusted builds cannot poison trusted caches.
type Paths struct {
	Base   string
	Named  string
	Shared string
	Images string
}

func NewPaths(root string, trusted bool) Paths {
	base := filepath.Join(root, untrustedDir)
	if trusted {
		base = filepath.Join(root, trustedDir)
	}
	return Paths{
		Base:   base,
		Named:  filepath.Join(base, "named"),
		Shared: filepath.Join(base, "shared"),
		Images: filepath.Join(root, "images"),
	}
}

// Setup creates the cache area and returns the directory the build writes
// to. A missing directory is seeded from the first existing LoadFrom
// cache, or else created empty.
func Setup(logger logr.Logger, paths Paths, cfg *Configuration, vars Variables) (string, error) {
	for _, dir := range []string{paths.Base, paths.Named, paths.Shared, paths.Images} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("creating cache directory: %w", err)
		}
	}

	name, err := Resolve(cfg.WriteTo, vars)
	if err != nil {
		return "", err
	}
	target := filepath.Join(paths.Named, name)
	if _, err := os.Stat(target); err == nil {
		logger.V(1).Info("using existing cache", "path", target)
		return target, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	for _, tmpl := range cfg.LoadFrom {
		name, err := Resolve(tmpl, vars)
		if err != nil {
			logger.Info("skipping cache source", "template", tmpl, "reason", err.Error())
			continue
		}
		source := filepath.Join(paths.Named, name)
		if info, err := os.Stat(source); err != nil || !info.IsDir() {
			continue
		}
		logger.Info("seeding cache", "from", source, "to", target)
		if err := seed(source, target); err != nil {
			return "", fmt.Errorf("copying cache %s: %w", source, err)
		}
		return target, nil
	}

	logger.Info("starting with an empty cache", "path", target)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return "", err
	}
	return target, nil
}

// seed copies source to target through a staging directory next to target,
// so that a failed copy never leaves a partial cache in place.
func seed(source, target string) error {
	staging, err := os.MkdirTemp(filepath.Dir(target), ".seed-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(staging)

	tree := filepath.Join(staging, "tree")
	if err := copyTree(source, tree); err != nil {
		return err
	}
	return os.Rename(tree, target)
}
