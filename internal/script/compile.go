package script

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// CommandPrefix starts every line of script output that is a command to
// the agent rather than build output.
const CommandPrefix = "@@CI_CMD@@ "

// Commands understood by the agent.
const (
	SectionStartCommand = "SectionStart"
	SectionEndCommand   = "SectionEnd"
)

const (
	DefaultCheckoutPath = "/build/repo"
	DefaultSharedPath   = "/build/shared"
	DefaultAllowedRoot  = "/root"

	failedVariable = "CI_BUILD_FAILED"
	exitVariable   = "CI_STEP_EXIT"
)

// Options locate the directories mounted into the container.
type Options struct {
	CheckoutPath string
	SharedPath   string
	// AllowedRoot is the only directory system caches may be redirected
	// under.
	AllowedRoot string
}

func (o *Options) setDefaults() {
	if o.CheckoutPath == "" {
		o.CheckoutPath = DefaultCheckoutPath
	}
	if o.SharedPath == "" {
		o.SharedPath = DefaultSharedPath
	}
	if o.AllowedRoot == "" {
		o.AllowedRoot = DefaultAllowedRoot
	}
}

// Script is a compiled job.
type Script struct {
	Statements []Statement
	// Warnings lists parts of the configuration that were ignored.
	Warnings []string
}

func (s *Script) String() string { return Render(s.Statements) }

// Compile turns the named job into a script. The script reports each step
// as a section and always exits successfully itself; the outcome of the
// build is carried by the section markers.
func Compile(cfg *BuildConfiguration, jobName string, opts Options) (*Script, error) {
	opts.setDefaults()
	job, err := cfg.Job(jobName)
	if err != nil {
		return nil, err
	}

	s := &Script{}
	s.Statements = append(s.Statements, Comment{Text: "build script for job " + EscapeName(jobName)})
	s.systemCaches(job.Cache.System, opts)
	s.Statements = append(s.Statements,
		Command{Name: "cd", Args: []Word{Lit(opts.CheckoutPath)}},
		// ends the section the agent opened while preparing the build
		Marker{Command: SectionEndCommand, Arg: Lit("0")},
		Assign{Name: failedVariable, Value: Lit("0")},
	)
	for _, step := range job.Steps {
		s.Statements = append(s.Statements, compileStep(*step.Run)...)
	}
	s.Statements = append(s.Statements, Exit{Code: 0})
	return s, nil
}

// systemCaches redirects container paths into the shared cache area.
func (s *Script) systemCaches(caches map[string]string, opts Options) {
	paths := make([]string, 0, len(caches))
	for p := range caches {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	root := path.Clean(opts.AllowedRoot)
	for _, p := range paths {
		cleaned := path.Clean(p)
		if !strings.HasPrefix(cleaned, root+"/") {
			s.Warnings = append(s.Warnings, fmt.Sprintf("system cache path %s is not under %s, skipping", p, root))
			continue
		}
		key := caches[p]
		if key == "" || strings.Contains(key, "..") || strings.HasPrefix(key, "/") {
			s.Warnings = append(s.Warnings, fmt.Sprintf("system cache path %s has invalid key %q, skipping", p, key))
			continue
		}
		target := path.Join(opts.SharedPath, key)
		s.Statements = append(s.Statements,
			Command{Name: "mkdir", Args: []Word{Lit("-p"), Lit(target), Lit(path.Dir(cleaned))}},
			Command{Name: "rm", Args: []Word{Lit("-rf"), Lit(cleaned)}},
			Command{Name: "ln", Args: []Word{Lit("-s"), Lit(target), Lit(cleaned)}},
		)
	}
}

func compileStep(step RunStep) []Statement {
	lines := strings.Split(strings.TrimRight(step.Command, "\n"), "\n")
	body := make([]Statement, len(lines))
	for i, l := range lines {
		body[i] = Raw{Line: l}
	}

	stmts := []Statement{
		Marker{Command: SectionStartCommand, Arg: Lit(EscapeName(step.DisplayName()))},
		Subshell{Body: body},
		CaptureExit{Name: exitVariable},
		If{
			Cond: NotEqualInt(Var(exitVariable), Lit("0")),
			Then: []Statement{Assign{Name: failedVariable, Value: Lit("1")}},
		},
		Marker{Command: SectionEndCommand, Arg: Var(exitVariable)},
	}

	switch step.Condition() {
	case OnPreviousFailure:
		return []Statement{If{Cond: NotEqualInt(Var(failedVariable), Lit("0")), Then: stmts}}
	case Always:
		return stmts
	default:
		return []Statement{If{Cond: Equals(Var(failedVariable), Lit("0")), Then: stmts}}
	}
}

// ParseCommandLine splits a line of script output into a command and its
// argument. ok is false for ordinary output.
func ParseCommandLine(line string) (command, arg string, ok bool) {
	rest, found := strings.CutPrefix(strings.TrimRight(line, "\r\n"), CommandPrefix)
	if !found {
		return "", "", false
	}
	command, arg, _ = strings.Cut(rest, " ")
	return command, arg, true
}
