package compiler

import (
	"testing"

	"embervm/internal/ast"
	"embervm/internal/chunk"
	"embervm/internal/lexer"
	"embervm/internal/parser"
	"embervm/internal/strpool"
)

type compilerTestCase struct {
	input        string
	wantOp       chunk.OpCode // first opcode emitted, when set
	wantNoErrors bool
}

func parse(t *testing.T, input string) *ast.Program {
	t.Helper()
	l := lexer.New(input)
	p := parser.New(l)
	prog := p.ParseProgram()
	if errs := p.Errors(); len(errs) > 0 {
		t.Fatalf("parser errors for %q: %v", input, errs)
	}
	return prog
}

func TestCompilerSmoke(t *testing.T) {
	tests := []compilerTestCase{
		{input: "1 + 2", wantNoErrors: true},
		{input: "let x: int = 1\nx = x + 1", wantNoErrors: true},
		{input: "while true do\nbreak\nend", wantNoErrors: true},
		{input: "func add(a, b)\nreturn a + b\nend", wantNoErrors: true},
		{input: "async func work(n)\nreturn n\nend", wantNoErrors: true},
	}
	runCompilerTests(t, tests)
}

func TestSpecializesIntArithmetic(t *testing.T) {
	prog := parse(t, "1 + 2")
	ck, errs := Compile(prog, strpool.New())
	if len(errs) != 0 {
		t.Fatalf("unexpected compile errors: %v", errs)
	}
	found := false
	for _, b := range ck.Code {
		if chunk.OpCode(b) == chunk.OP_ADD_INT {
			found = true
		}
	}
	if !found {
		t.Errorf("expected OP_ADD_INT to be emitted for two integer literals")
	}
}

func TestBreakOutsideLoopIsAnError(t *testing.T) {
	prog := parse(t, "break")
	_, errs := Compile(prog, strpool.New())
	if len(errs) == 0 {
		t.Fatalf("expected an error compiling break outside a loop")
	}
}

func runCompilerTests(t *testing.T, tests []compilerTestCase) {
	for _, tt := range tests {
		prog := parse(t, tt.input)
		_, errs := Compile(prog, strpool.New())
		if tt.wantNoErrors && len(errs) != 0 {
			t.Errorf("compiling %q: unexpected errors: %v", tt.input, errs)
		}
	}
}
