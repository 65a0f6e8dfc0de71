// Package cache prepares the on-disk caches a build runs against: a
// per-branch checkout directory seeded from related branches, and shared
// folders linked into the checkout from a common area.
package cache

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Template variables recognised in cache paths.
const (
	BranchVariable  = "{Branch}"
	JobNameVariable = "{JobName}"
)

// Configuration is the cache configuration of a job, supplied as JSON.
type Configuration struct {
	// WriteTo is the template of the cache directory the build uses.
	WriteTo string `json:"writeTo"`
	// LoadFrom lists templates of caches to seed a missing WriteTo
	// directory from, in order of preference.
	LoadFrom []string `json:"loadFrom,omitempty"`
	// Shared maps paths inside the checkout to keys in the shared area.
	Shared map[string]string `json:"shared,omitempty"`
}

// Variables are substituted into cache path templates.
type Variables struct {
	Branch  string
	JobName string
}

// SharedLink is one shared folder: a path relative to the checkout and the
// key of its directory in the shared area.
type SharedLink struct {
	Path string
	Key  string
}

// ParseConfiguration decodes and validates a JSON cache configuration.
func ParseConfiguration(data string) (*Configuration, error) {
	var cfg Configuration
	if err := json.Unmarshal([]byte(data), &cfg); err != nil {
		return nil, fmt.Errorf("parsing cache configuration: %w", err)
	}
	if cfg.WriteTo == "" {
		return nil, fmt.Errorf("cache configuration is missing writeTo")
	}
	for path, key := range cfg.Shared {
		if _, err := cleanRelative(path); err != nil {
			return nil, fmt.Errorf("invalid shared path %q: %w", path, err)
		}
		if _, err := cleanRelative(key); err != nil {
			return nil, fmt.Errorf("invalid shared key %q: %w", key, err)
		}
	}
	return &cfg, nil
}

// Resolve substitutes vars into tmpl and flattens the result into a single
// directory name.
func Resolve(tmpl string, vars Variables) (string, error) {
	name := strings.NewReplacer(
		BranchVariable, vars.Branch,
		JobNameVariable, vars.JobName,
	).Replace(tmpl)
	name = sanitize(name)
	switch name {
	case "", ".", "..":
		return "", fmt.Errorf("cache template %q resolves to invalid name %q", tmpl, name)
	}
	return name, nil
}

// SharedLinks returns the shared folders sorted by path.
func (c *Configuration) SharedLinks() []SharedLink {
	links := make([]SharedLink, 0, len(c.Shared))
	for path, key := range c.Shared {
		links = append(links, SharedLink{Path: path, Key: key})
	}
	sort.Slice(links, func(i, j int) bool { return links[i].Path < links[j].Path })
	return links
}

func sanitize(name string) string {
	return strings.NewReplacer("/", "_", "\\", "_").Replace(strings.TrimSpace(name))
}

// cleanRelative checks p stays within the directory it is relative to.
func cleanRelative(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("empty path")
	}
	if filepath.IsAbs(p) {
		return "", fmt.Errorf("path must be relative")
	}
	cleaned := filepath.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes its parent directory")
	}
	return cleaned, nil
}
