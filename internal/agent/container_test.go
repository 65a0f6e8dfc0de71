package agent

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContainerName(t *testing.T) {
	assert.Regexp(t, regexp.MustCompile(`^ci-build-linux-[0-9a-f]{8}$`), containerName("build_linux"))
	assert.Regexp(t, regexp.MustCompile(`^ci-build-windows-x-64-[0-9a-f]{8}$`), containerName("BuildWindows x64"))
	assert.Regexp(t, regexp.MustCompile(`^ci-job-[0-9a-f]{8}$`), containerName("ÄÖ"))
	assert.NotEqual(t, containerName("a"), containerName("a"))
}

func TestContainerSpec_Args(t *testing.T) {
	spec := containerSpec{
		Name:     "ci-build-1",
		Image:    "ci/build:v1",
		Checkout: "/cache/named/v1-master",
		Shared:   "/cache/shared",
		Script:   "/cache/scripts/ci-build-1.sh",
		Env:      []string{"CI=true", "TOKEN=has spaces"},
	}
	assert.Equal(t, []string{
		"run", "--rm",
		"--name", "ci-build-1",
		"-v", "/cache/named/v1-master:/build/repo",
		"-v", "/cache/shared:/build/shared",
		"-v", "/cache/scripts/ci-build-1.sh:/build/ci.sh:ro",
		"-e", "CI=true",
		"-e", "TOKEN=has spaces",
		"--entrypoint", "/bin/bash",
		"ci/build:v1",
		"/build/ci.sh",
	}, spec.args())
}
