package agent

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal/script"
)

// sectionWriter is the part of the sender the build output is sent to.
type sectionWriter interface {
	StartSection(name string)
	EndSection(success bool)
	Output(text string)
}

// buildOutput turns the output of the build container into sections. Lines
// carrying a command from the build script start and end sections; all
// other lines are output of the open section.
type buildOutput struct {
	sections sectionWriter

	mu          sync.Mutex
	failedSteps int
	// violation is the first malformed or unknown command.
	violation error
}

// stdout handles a line from the container's standard output.
func (b *buildOutput) stdout(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	command, arg, ok := script.ParseCommandLine(line)
	if !ok {
		b.sections.Output(line)
		return
	}
	switch command {
	case script.SectionStartCommand:
		b.sections.StartSection(arg)
	case script.SectionEndCommand:
		code, err := strconv.Atoi(strings.TrimSpace(arg))
		if err != nil {
			b.violate(fmt.Errorf("invalid exit code in section end: %q", arg))
			b.sections.EndSection(false)
			return
		}
		if code != 0 {
			b.failedSteps++
		}
		b.sections.EndSection(code == 0)
	default:
		b.violate(fmt.Errorf("unknown build script command: %q", command))
	}
}

// stderr handles a line from the container's standard error. Commands are
// only recognised on standard output.
func (b *buildOutput) stderr(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sections.Output(line)
}

func (b *buildOutput) violate(err error) {
	if b.violation == nil {
		b.violation = err
	}
}

// result reports whether every step succeeded, or the protocol violation
// that invalidates the build.
func (b *buildOutput) result() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.violation != nil {
		return false, b.violation
	}
	return b.failedSteps == 0, nil
}
