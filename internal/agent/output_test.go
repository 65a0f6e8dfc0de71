package agent

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSections records section calls.
type fakeSections struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeSections) record(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, s)
}

func (f *fakeSections) StartSection(name string) { f.record("start:" + name) }
func (f *fakeSections) Output(text string)       { f.record("output:" + text) }
func (f *fakeSections) EndSection(success bool) {
	if success {
		f.record("end:ok")
	} else {
		f.record("end:failed")
	}
}

func TestBuildOutput(t *testing.T) {
	t.Run("steps", func(t *testing.T) {
		sections := &fakeSections{}
		out := &buildOutput{sections: sections}

		out.stdout("@@CI_CMD@@ SectionEnd 0\n")
		out.stdout("@@CI_CMD@@ SectionStart Compile\n")
		out.stdout("compiling\n")
		out.stderr("warning: unused\n")
		out.stdout("@@CI_CMD@@ SectionEnd 2\n")

		assert.Equal(t, []string{
			"end:ok",
			"start:Compile",
			"output:compiling\n",
			"output:warning: unused\n",
			"end:failed",
		}, sections.calls)

		succeeded, err := out.result()
		require.NoError(t, err)
		assert.False(t, succeeded)
	})

	t.Run("success", func(t *testing.T) {
		out := &buildOutput{sections: &fakeSections{}}
		out.stdout("@@CI_CMD@@ SectionStart Test\n")
		out.stdout("@@CI_CMD@@ SectionEnd 0\n")

		succeeded, err := out.result()
		require.NoError(t, err)
		assert.True(t, succeeded)
	})

	t.Run("commands only on stdout", func(t *testing.T) {
		sections := &fakeSections{}
		out := &buildOutput{sections: sections}
		out.stderr("@@CI_CMD@@ SectionStart Sneaky\n")
		assert.Equal(t, []string{"output:@@CI_CMD@@ SectionStart Sneaky\n"}, sections.calls)
	})

	t.Run("unknown command", func(t *testing.T) {
		out := &buildOutput{sections: &fakeSections{}}
		out.stdout("@@CI_CMD@@ Reboot now\n")
		_, err := out.result()
		assert.ErrorContains(t, err, "unknown build script command")
	})

	t.Run("invalid exit code", func(t *testing.T) {
		out := &buildOutput{sections: &fakeSections{}}
		out.stdout("@@CI_CMD@@ SectionEnd nope\n")
		_, err := out.result()
		assert.Error(t, err)
	})
}
