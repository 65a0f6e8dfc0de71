// Package script compiles a job of a build configuration into the shell
// script run inside the build container.
package script

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
)

// ConfigurationFile is the name of the build configuration file at the
// root of a repository.
const ConfigurationFile = "CIConfiguration.yml"

// RunCondition decides whether a step runs given the outcome of the steps
// before it.
type RunCondition string

const (
	OnPreviousSuccess RunCondition = "success"
	Always            RunCondition = "always"
	OnPreviousFailure RunCondition = "failure"
)

var ErrJobNotFound = errors.New("job not found in build configuration")

type (
	// BuildConfiguration is the parsed contents of the configuration file.
	BuildConfiguration struct {
		Version int            `yaml:"version"`
		Jobs    map[string]Job `yaml:"jobs"`
	}

	Job struct {
		Image string    `yaml:"image,omitempty"`
		Cache JobCache  `yaml:"cache,omitempty"`
		Steps []JobStep `yaml:"steps"`
	}

	JobCache struct {
		// System maps paths inside the container to keys in the shared
		// cache area.
		System map[string]string `yaml:"system,omitempty"`
	}

	JobStep struct {
		Run *RunStep `yaml:"run"`
	}

	RunStep struct {
		Name    string       `yaml:"name,omitempty"`
		Command string       `yaml:"command"`
		When    RunCondition `yaml:"when,omitempty"`
	}
)

// Load reads the build configuration from the root of a checkout.
func Load(checkout string) (*BuildConfiguration, error) {
	data, err := os.ReadFile(filepath.Join(checkout, ConfigurationFile))
	if err != nil {
		return nil, fmt.Errorf("reading build configuration: %w", err)
	}
	return Parse(data)
}

// Parse decodes a build configuration.
func Parse(data []byte) (*BuildConfiguration, error) {
	var cfg BuildConfiguration
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing build configuration: %w", err)
	}
	return &cfg, nil
}

// Job returns the named job after checking it can be compiled.
func (c *BuildConfiguration) Job(name string) (*Job, error) {
	job, ok := c.Jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	if len(job.Steps) == 0 {
		return nil, fmt.Errorf("job %s has no steps", name)
	}
	for i, step := range job.Steps {
		if step.Run == nil {
			return nil, fmt.Errorf("job %s: step %d has no run section", name, i+1)
		}
		if strings.TrimSpace(step.Run.Command) == "" {
			return nil, fmt.Errorf("job %s: step %d has an empty command", name, i+1)
		}
		switch step.Run.When {
		case "", OnPreviousSuccess, Always, OnPreviousFailure:
		default:
			return nil, fmt.Errorf("job %s: step %d has unknown condition %q", name, i+1, step.Run.When)
		}
	}
	return &job, nil
}

// Condition returns the step's run condition, defaulting to
// OnPreviousSuccess.
func (s RunStep) Condition() RunCondition {
	if s.When == "" {
		return OnPreviousSuccess
	}
	return s.When
}

// DisplayName is the step's name, or the first line of its command.
func (s RunStep) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	first, _, _ := strings.Cut(strings.TrimSpace(s.Command), "\n")
	return strings.TrimSpace(first)
}
