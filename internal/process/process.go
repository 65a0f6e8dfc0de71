// Package process runs external programs, capturing or streaming their
// output.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/mitchellh/iochan"
)

const waitDelay = 5 * time.Second

var (
	ascii = regexp.MustCompile("[[:^ascii:]]")
	ansi  = regexp.MustCompile("\x1b\\[[0-9;?]*[a-zA-Z]")
)

type (
	// Command describes a process to run.
	Command struct {
		Name string
		Args []string
		// Dir is the working directory; empty uses the current one.
		Dir string
		// Env is appended to the environment of the current process.
		Env []string
		// Stdin, if non-nil, is connected to the process's standard input.
		Stdin io.Reader

		// Capture retains stdout and stderr in the Result.
		Capture bool
		// OnStdout and OnStderr receive each line of output as it is
		// produced, including the trailing newline if there is one.
		OnStdout func(line string)
		OnStderr func(line string)
	}

	// Result is the outcome of a process that ran to completion.
	Result struct {
		ExitCode int
		Stdout   []byte
		Stderr   []byte
	}

	// ExitError is returned when a process exits with a nonzero code.
	ExitError struct {
		Command string
		Code    int
		Stderr  string
	}
)

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s: exit status %d", e.Command, e.Code)
	}
	return fmt.Sprintf("%s: exit status %d: %s", e.Command, e.Code, e.Stderr)
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Run runs the command and waits for it to exit. Canceling ctx kills the
// process. A nonzero exit code is reported as an *ExitError alongside the
// Result.
func Run(ctx context.Context, c Command) (*Result, error) {
	if c.Name == "" {
		return nil, fmt.Errorf("missing command name")
	}
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Stdin = c.Stdin
	// children inheriting the output pipes must not keep Wait blocked once
	// the process itself has been killed.
	cmd.WaitDelay = waitDelay

	var (
		stdout = new(bytes.Buffer)
		// stderr is always retained so that upon error its contents can be
		// relayed.
		stderr = new(bytes.Buffer)
		lines  lineReaders
	)
	cmd.Stdout = lines.writer(stdout, c.Capture, c.OnStdout)
	cmd.Stderr = lines.writer(stderr, true, c.OnStderr)

	if err := cmd.Start(); err != nil {
		lines.close()
		return nil, fmt.Errorf("starting %s: %w", c.Name, err)
	}
	err := cmd.Wait()
	// line callbacks may still be draining after the process has exited.
	lines.close()

	result := &Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if !c.Capture {
		result.Stdout = nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			result.ExitCode = exitErr.ExitCode()
			return result, &ExitError{
				Command: c.String(),
				Code:    result.ExitCode,
				Stderr:  CleanOutput(stderr.String()),
			}
		}
		if ctx.Err() != nil {
			return result, fmt.Errorf("running %s: %w", c.Name, ctx.Err())
		}
		return result, fmt.Errorf("running %s: %w", c.Name, err)
	}
	return result, nil
}

// lineReaders delivers output lines to callbacks from their own
// goroutines.
type lineReaders struct {
	pipes []*io.PipeWriter
	wg    sync.WaitGroup
}

// writer builds the writer for one of the process's output streams.
func (l *lineReaders) writer(buf *bytes.Buffer, capture bool, onLine func(string)) io.Writer {
	var writers []io.Writer
	if capture {
		writers = append(writers, buf)
	}
	if onLine != nil {
		pr, pw := io.Pipe()
		l.pipes = append(l.pipes, pw)
		writers = append(writers, pw)
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			for line := range iochan.DelimReader(pr, '\n') {
				onLine(line)
			}
		}()
	}
	switch len(writers) {
	case 0:
		return io.Discard
	case 1:
		return writers[0]
	default:
		return io.MultiWriter(writers...)
	}
}

// close signals end of output and waits for remaining lines to be
// delivered.
func (l *lineReaders) close() {
	for _, pw := range l.pipes {
		_ = pw.Close()
	}
	l.wg.Wait()
}

// Output runs the command and returns its trimmed standard output.
func Output(ctx context.Context, c Command) (string, error) {
	c.Capture = true
	res, err := Run(ctx, c)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(res.Stdout)), nil
}

// CleanOutput makes process output suitable for logging and error
// messages: ansi escape sequences and non-ascii characters are removed and
// whitespace is collapsed.
func CleanOutput(s string) string {
	s = ansi.ReplaceAllLiteralString(s, "")
	s = ascii.ReplaceAllLiteralString(s, "")
	return strings.Join(strings.Fields(s), " ")
}
