// Package diag renders compile-time and runtime errors the way the CLI
// reports them: "error in <file> at line <n>: <reason>", the offending
// source line, and a caret under the offending column.
package diag

import (
	"fmt"
	"strings"

	"github.com/mattn/go-isatty"
)

// Kind distinguishes a compile-time failure from a runtime panic; both
// render identically.
type Kind uint8

const (
	CompileError Kind = iota
	RuntimeError
)

// Error is a diagnostic record with a source position. It implements the
// standard error interface so it composes with fmt.Errorf("%w", ...)
// wrapping. The compiler and interpreter report plain fmt errors and do
// not construct it.
type Error struct {
	Kind       Kind
	File       string
	Line       int
	Column     int
	Message    string
	SourceLine string
}

func (e *Error) Error() string {
	return fmt.Sprintf("error in %s at line %d: %s", e.File, e.Line, e.Message)
}

// useColor reports whether caret rendering should use ANSI color, mirroring
// the teacher's isatty-gated coloring for terminal output.
func useColor(w fdWriter) bool {
	return isatty.IsTerminal(w.Fd()) || isatty.IsCygwinTerminal(w.Fd())
}

type fdWriter interface {
	Fd() uintptr
}

// Render writes the full diagnostic: the one-line summary, the source
// line, and a caret positioned at Column. w must be an *os.File for the
// isatty check to mean anything; other writers get uncolored output.
func Render(e *Error, w interface {
	Write([]byte) (int, error)
}) {
	var b strings.Builder
	colored := false
	if fw, ok := w.(fdWriter); ok {
		colored = useColor(fw)
	}

	if colored {
		b.WriteString("\x1b[31m")
	}
	b.WriteString(e.Error())
	if colored {
		b.WriteString("\x1b[0m")
	}
	b.WriteString("\n")

	if e.SourceLine != "" {
		b.WriteString(e.SourceLine)
		b.WriteString("\n")
		col := e.Column
		if col < 1 {
			col = 1
		}
		b.WriteString(strings.Repeat(" ", col-1))
		if colored {
			b.WriteString("\x1b[33m")
		}
		b.WriteString("^")
		if colored {
			b.WriteString("\x1b[0m")
		}
		b.WriteString("\n")
	}

	_, _ = w.Write([]byte(b.String()))
}

// New constructs a diagnostic with the source line already sliced from src.
func New(kind Kind, file string, line, column int, msg string, src []string) *Error {
	sl := ""
	if line-1 >= 0 && line-1 < len(src) {
		sl = src[line-1]
	}
	return &Error{Kind: kind, File: file, Line: line, Column: column, Message: msg, SourceLine: sl}
}
