package diag

import (
	"bytes"
	"strings"
	"testing"
)

func TestErrorMessageFormat(t *testing.T) {
	e := &Error{File: "main.ember", Line: 7, Message: "undefined variable x"}
	want := "error in main.ember at line 7: undefined variable x"
	if e.Error() != want {
		t.Fatalf("Error() = %q, want %q", e.Error(), want)
	}
}

func TestNewSlicesSourceLine(t *testing.T) {
	src := []string{"let x = 1", "let y = x +", "print(y)"}
	e := New(CompileError, "f.ember", 2, 12, "unexpected end of expression", src)
	if e.SourceLine != "let y = x +" {
		t.Fatalf("SourceLine = %q, want %q", e.SourceLine, src[1])
	}
	if e.Line != 2 || e.Column != 12 {
		t.Fatalf("Line/Column = %d/%d, want 2/12", e.Line, e.Column)
	}
}

func TestNewOutOfRangeLineLeavesSourceLineEmpty(t *testing.T) {
	e := New(RuntimeError, "f.ember", 99, 1, "panic", []string{"only one line"})
	if e.SourceLine != "" {
		t.Fatalf("SourceLine = %q, want empty for an out-of-range line", e.SourceLine)
	}
}

func TestRenderIncludesCaretAtColumn(t *testing.T) {
	e := New(CompileError, "f.ember", 1, 5, "bad token", []string{"abcdefgh"})
	var buf bytes.Buffer
	Render(e, &buf)

	out := buf.String()
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("Render produced %d lines, want 3 (summary, source, caret)", len(lines))
	}
	if lines[1] != "abcdefgh" {
		t.Fatalf("source line = %q, want %q", lines[1], "abcdefgh")
	}
	caretLine := lines[2]
	if strings.Index(caretLine, "^") != e.Column-1 {
		t.Fatalf("caret at index %d, want %d (Column-1)", strings.Index(caretLine, "^"), e.Column-1)
	}
}

func TestRenderWithoutSourceLineOmitsCaret(t *testing.T) {
	e := &Error{File: "f.ember", Line: 1, Message: "no source available"}
	var buf bytes.Buffer
	Render(e, &buf)
	if strings.Contains(buf.String(), "^") {
		t.Fatal("Render emitted a caret line despite an empty SourceLine")
	}
}
