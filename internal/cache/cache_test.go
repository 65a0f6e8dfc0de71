package cache

import (
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfiguration(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		want    *Configuration
		wantErr bool
	}{
		{
			name: "full",
			json: `{"writeTo":"v1-{Branch}","loadFrom":["v1-{Branch}","v1-master"],"shared":{".git/lfs":"lfs","deps":"deps"}}`,
			want: &Configuration{
				WriteTo:  "v1-{Branch}",
				LoadFrom: []string{"v1-{Branch}", "v1-master"},
				Shared:   map[string]string{".git/lfs": "lfs", "deps": "deps"},
			},
		},
		{name: "invalid json", json: `{"writeTo":`, wantErr: true},
		{name: "missing writeTo", json: `{}`, wantErr: true},
		{name: "escaping shared path", json: `{"writeTo":"a","shared":{"../x":"x"}}`, wantErr: true},
		{name: "absolute shared key", json: `{"writeTo":"a","shared":{"x":"/x"}}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseConfiguration(tt.json)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve(t *testing.T) {
	vars := Variables{Branch: "feature/new\\thing", JobName: "build_linux"}

	got, err := Resolve("v2-{Branch}-{JobName}", vars)
	require.NoError(t, err)
	assert.Equal(t, "v2-feature_new_thing-build_linux", got)

	_, err = Resolve("{Branch}", Variables{Branch: ".."})
	assert.Error(t, err)

	_, err = Resolve("{Branch}", Variables{})
	assert.Error(t, err)
}

func TestSplitGitRelated(t *testing.T) {
	cfg := &Configuration{Shared: map[string]string{
		".git/lfs":     "lfs",
		".git":         "git",
		"deps":         "deps",
		".github/data": "data",
	}}
	git, other := SplitGitRelated(cfg.SharedLinks())
	assert.Equal(t, []SharedLink{{Path: ".git", Key: "git"}, {Path: ".git/lfs", Key: "lfs"}}, git)
	assert.Equal(t, []SharedLink{{Path: ".github/data", Key: "data"}, {Path: "deps", Key: "deps"}}, other)
}

func TestSetup(t *testing.T) {
	cfg := &Configuration{WriteTo: "v1-{Branch}", LoadFrom: []string{"v1-{Branch}", "v1-master"}}

	t.Run("empty", func(t *testing.T) {
		paths := NewPaths(t.TempDir(), true)
		dir, err := Setup(logr.Discard(), paths, cfg, Variables{Branch: "feature"})
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(paths.Named, "v1-feature"), dir)
		assert.DirExists(t, dir)
		assert.DirExists(t, paths.Shared)
		assert.DirExists(t, paths.Images)
	})

	t.Run("seeded from fallback", func(t *testing.T) {
		paths := NewPaths(t.TempDir(), false)
		master := filepath.Join(paths.Named, "v1-master")
		require.NoError(t, os.MkdirAll(filepath.Join(master, "sub"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(master, "sub", "run.sh"), []byte("#!/bin/sh\n"), 0o750))
		require.NoError(t, os.Symlink("sub/run.sh", filepath.Join(master, "link")))
		mtime := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
		require.NoError(t, os.Chtimes(filepath.Join(master, "sub", "run.sh"), mtime, mtime))
		require.NoError(t, os.Chtimes(filepath.Join(master, "sub"), mtime, mtime))

		dir, err := Setup(logr.Discard(), paths, cfg, Variables{Branch: "feature"})
		require.NoError(t, err)

		info, err := os.Stat(filepath.Join(dir, "sub", "run.sh"))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o750), info.Mode().Perm())
		assert.True(t, mtime.Equal(info.ModTime()))

		info, err = os.Stat(filepath.Join(dir, "sub"))
		require.NoError(t, err)
		assert.True(t, mtime.Equal(info.ModTime()))

		link, err := os.Readlink(filepath.Join(dir, "link"))
		require.NoError(t, err)
		assert.Equal(t, "sub/run.sh", link)
	})

	t.Run("failed copy leaves no partial cache", func(t *testing.T) {
		paths := NewPaths(t.TempDir(), true)
		master := filepath.Join(paths.Named, "v1-master")
		require.NoError(t, os.MkdirAll(master, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(master, "a"), []byte("copied first"), 0o644))
		require.NoError(t, syscall.Mkfifo(filepath.Join(master, "pipe"), 0o644))

		_, err := Setup(logr.Discard(), paths, cfg, Variables{Branch: "feature"})
		require.Error(t, err)

		entries, err := os.ReadDir(paths.Named)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "v1-master", entries[0].Name())

		// the next run copies again rather than trusting a half-written tree
		require.NoError(t, os.Remove(filepath.Join(master, "pipe")))
		dir, err := Setup(logr.Discard(), paths, cfg, Variables{Branch: "feature"})
		require.NoError(t, err)
		assert.FileExists(t, filepath.Join(dir, "a"))
	})

	t.Run("existing is reused", func(t *testing.T) {
		paths := NewPaths(t.TempDir(), true)
		existing := filepath.Join(paths.Named, "v1-feature")
		require.NoError(t, os.MkdirAll(existing, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(existing, "marker"), nil, 0o644))

		dir, err := Setup(logr.Discard(), paths, cfg, Variables{Branch: "feature"})
		require.NoError(t, err)
		assert.FileExists(t, filepath.Join(dir, "marker"))
	})
}

func TestLinkSharedFolder(t *testing.T) {
	root := t.TempDir()
	shared := filepath.Join(root, "shared", "deps")

	first := filepath.Join(root, "one", "deps")
	require.NoError(t, os.MkdirAll(first, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(first, "lib.a"), []byte("a"), 0o644))

	second := filepath.Join(root, "two", "deps")
	require.NoError(t, os.MkdirAll(second, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(second, "other.a"), []byte("b"), 0o644))

	// first user seeds the shared folder
	require.NoError(t, LinkSharedFolder(first, shared))
	assert.True(t, isSymlink(first))
	assert.FileExists(t, filepath.Join(shared, "lib.a"))

	// second user's copy is discarded
	require.NoError(t, LinkSharedFolder(second, shared))
	assert.True(t, isSymlink(second))
	assert.FileExists(t, filepath.Join(second, "lib.a"))
	assert.NoFileExists(t, filepath.Join(shared, "other.a"))

	// already linked is a no-op
	require.NoError(t, LinkSharedFolder(first, shared))

	// missing source is linked to an empty shared folder
	third := filepath.Join(root, "three", "nested", "deps")
	require.NoError(t, LinkSharedFolder(third, filepath.Join(root, "shared", "fresh")))
	assert.True(t, isSymlink(third))
	assert.DirExists(t, filepath.Join(root, "shared", "fresh"))
}

func TestLinkSharedFolder_Concurrent(t *testing.T) {
	root := t.TempDir()
	shared := filepath.Join(root, "shared", "deps")

	var wg sync.WaitGroup
	for i := range 8 {
		src := filepath.Join(root, "checkout", string(rune('a'+i)), "deps")
		require.NoError(t, os.MkdirAll(src, 0o755))
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, LinkSharedFolder(src, shared))
		}()
	}
	wg.Wait()

	entries, err := os.ReadDir(filepath.Join(root, "checkout"))
	require.NoError(t, err)
	for _, e := range entries {
		target, err := os.Readlink(filepath.Join(root, "checkout", e.Name(), "deps"))
		require.NoError(t, err)
		assert.Equal(t, shared, target)
	}
}

func TestLinkShared(t *testing.T) {
	root := t.TempDir()
	checkout := filepath.Join(root, "checkout")
	require.NoError(t, os.MkdirAll(filepath.Join(checkout, "deps"), 0o755))

	err := LinkShared(checkout, filepath.Join(root, "shared"), []SharedLink{{Path: "deps", Key: "v1-deps"}})
	require.NoError(t, err)

	target, err := os.Readlink(filepath.Join(checkout, "deps"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "shared", "v1-deps"), target)

	err = LinkShared(checkout, filepath.Join(root, "shared"), []SharedLink{{Path: "../escape", Key: "x"}})
	assert.Error(t, err)
}
