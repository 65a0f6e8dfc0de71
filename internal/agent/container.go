package agent

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/iancoleman/strcase"
)

// Paths the build container sees.
const (
	containerCheckoutPath = "/build/repo"
	containerSharedPath   = "/build/shared"
	containerScriptPath   = "/build/ci.sh"
)

// containerSpec describes one build container.
type containerSpec struct {
	Name     string
	Image    string
	Checkout string
	Shared   string
	Script   string
	Env      []string
}

// containerName derives a unique, runtime-safe container name from the
// job name.
func containerName(jobName string) string {
	name := strcase.ToKebab(jobName)
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return -1
		}
	}, name)
	name = strings.Trim(name, "-")
	if name == "" {
		name = "job"
	}
	return fmt.Sprintf("ci-%s-%s", name, uuid.NewString()[:8])
}

// args returns the arguments to the container runtime's run command. Env
// entries are passed as single arguments so values need no quoting.
func (c containerSpec) args() []string {
	args := []string{
		"run", "--rm",
		"--name", c.Name,
		"-v", c.Checkout + ":" + containerCheckoutPath,
		"-v", c.Shared + ":" + containerSharedPath,
		"-v", c.Script + ":" + containerScriptPath + ":ro",
	}
	for _, e := range c.Env {
		args = append(args, "-e", e)
	}
	return append(args, "--entrypoint", "/bin/bash", c.Image, containerScriptPath)
}
