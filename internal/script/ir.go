package script

import (
	"fmt"
	"strings"
)

// Statement is one node of a script. Statements are turned into shell
// text only by Render, which owns all quoting.
type Statement interface {
	render(r *renderer)
}

type (
	// Comment is a comment line.
	Comment struct {
		Text string
	}

	// Raw is a line of user supplied shell, emitted verbatim.
	Raw struct {
		Line string
	}

	// Marker prints a command line for the agent to parse.
	Marker struct {
		Command string
		Arg     Word
	}

	// If runs Then when Cond holds.
	If struct {
		Cond Condition
		Then []Statement
	}

	// Subshell runs Body in a child shell that exits on the first failing
	// command.
	Subshell struct {
		Body []Statement
	}

	// Assign sets a shell variable.
	Assign struct {
		Name  string
		Value Word
	}

	// CaptureExit stores the exit code of the previous statement.
	CaptureExit struct {
		Name string
	}

	// Exit ends the script.
	Exit struct {
		Code int
	}

	// Command runs a program with arguments.
	Command struct {
		Name string
		Args []Word
	}
)

// Word is a shell word: either literal text, quoted on output, or the
// expansion of a variable.
type Word struct {
	Literal  string
	Variable string
}

func Lit(s string) Word    { return Word{Literal: s} }
func Var(name string) Word { return Word{Variable: name} }
func (w Word) isVar() bool { return w.Variable != "" }

// Condition is a test between two words.
type Condition struct {
	Left  Word
	Op    string
	Right Word
}

// Equals tests for string equality.
func Equals(left, right Word) Condition { return Condition{Left: left, Op: "=", Right: right} }

// NotEqualInt tests for integer inequality.
func NotEqualInt(left, right Word) Condition { return Condition{Left: left, Op: "-ne", Right: right} }

type renderer struct {
	b      strings.Builder
	indent int
}

func (r *renderer) line(format string, args ...any) {
	r.b.WriteString(strings.Repeat("    ", r.indent))
	fmt.Fprintf(&r.b, format, args...)
	r.b.WriteByte('\n')
}

func (r *renderer) block(stmts []Statement) {
	r.indent++
	for _, s := range stmts {
		s.render(r)
	}
	r.indent--
}

func (w Word) String() string {
	if w.isVar() {
		return `"$` + w.Variable + `"`
	}
	return ShellQuote(w.Literal)
}

func (c Condition) String() string {
	return fmt.Sprintf("[ %s %s %s ]", c.Left, c.Op, c.Right)
}

func (s Comment) render(r *renderer) {
	for _, l := range strings.Split(s.Text, "\n") {
		r.line("# %s", l)
	}
}

// Raw lines are not indented so that here-documents keep working.
func (s Raw) render(r *renderer) {
	r.b.WriteString(s.Line)
	r.b.WriteByte('\n')
}

func (s Marker) render(r *renderer) {
	if s.Arg.isVar() {
		r.line("echo %s%s", ShellQuote(CommandPrefix+s.Command+" "), s.Arg)
		return
	}
	r.line("echo %s", ShellQuote(CommandPrefix+s.Command+" "+s.Arg.Literal))
}

func (s If) render(r *renderer) {
	r.line("if %s; then", s.Cond)
	r.block(s.Then)
	r.line("fi")
}

func (s Subshell) render(r *renderer) {
	r.line("(")
	r.indent++
	r.line("set -e")
	r.indent--
	r.block(s.Body)
	r.line(")")
}

func (s Assign) render(r *renderer) {
	r.line("%s=%s", s.Name, s.Value)
}

func (s CaptureExit) render(r *renderer) {
	r.line("%s=$?", s.Name)
}

func (s Exit) render(r *renderer) {
	r.line("exit %d", s.Code)
}

func (s Command) render(r *renderer) {
	words := make([]string, 0, len(s.Args)+1)
	words = append(words, s.Name)
	for _, a := range s.Args {
		words = append(words, a.String())
	}
	r.line("%s", strings.Join(words, " "))
}

// Render turns statements into a bash script.
func Render(stmts []Statement) string {
	r := &renderer{}
	r.line("#!/bin/bash")
	for _, s := range stmts {
		s.render(r)
	}
	return r.b.String()
}

// ShellQuote single-quotes s for the shell.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// EscapeName makes a step name fit on one marker line. Quoting is left to
// the renderer.
func EscapeName(name string) string {
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(name)
}
