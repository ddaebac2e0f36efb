// Package compiler walks the AST and emits bytecode Chunks. Unlike a
// statically typed compiler, this one never rejects a program for a type
// mismatch: every binding is dynamically typed (spec.md §2). What it does
// do at compile time is resolve each name to a stack slot, upvalue, or
// global (so the interpreter never does a name lookup for a local), and
// opportunistically specialize arithmetic on operands it can prove are Int
// literals or let bindings initialized from an Int literal (spec.md §5.3).
package compiler

import (
	"fmt"

	"embervm/internal/ast"
	"embervm/internal/chunk"
	"embervm/internal/heap"
	"embervm/internal/strpool"
	"embervm/internal/value"
)

const (
	maxLocals    = 256
	maxConstants = 65536
	maxJump      = 65535
)

// Local is one resolved stack slot.
type Local struct {
	Name       string
	Depth      int
	IsCaptured bool
	KnownInt   bool // true if the compiler proved this binding always holds an Int
}

// Upvalue records how a nested function reaches a variable captured from
// an enclosing compiler's locals.
type Upvalue struct {
	Index   byte
	IsLocal bool
}

// loopContext tracks the targets OP_LOOP/break patch against, one per
// nested loop currently being compiled.
type loopContext struct {
	start      int
	breakJumps []int
}

// Compiler compiles one function body (or the top-level script). Nested
// function literals get a child Compiler chained via Enclosing, mirroring
// the teacher's NewChild/resolveUpvalue architecture.
type Compiler struct {
	Enclosing *Compiler
	Chunk     *chunk.Chunk
	Pool      *strpool.Pool

	Locals     []Local
	ScopeDepth int
	Upvalues   []Upvalue

	loops []loopContext

	FunctionName string
	Arity        int
	IsAsync      bool

	asyncNames map[string]bool // names declared with "async function", shared across the whole compile

	errs []error
}

// New returns a Compiler for the top-level script.
func New(pool *strpool.Pool) *Compiler {
	c := &Compiler{
		Chunk:      chunk.New(),
		Pool:       pool,
		asyncNames: make(map[string]bool),
	}
	// slot 0 is reserved the way the teacher's VM reserves it for the
	// enclosing call's implicit receiver/script value.
	c.Locals = append(c.Locals, Local{Name: "", Depth: 0})
	return c
}

// NewChild starts compiling a nested function body, sharing the string
// pool and async-name table with its parent.
func (c *Compiler) NewChild(name string, arity int, isAsync bool) *Compiler {
	child := &Compiler{
		Enclosing:    c,
		Chunk:        chunk.New(),
		Pool:         c.Pool,
		FunctionName: name,
		Arity:        arity,
		IsAsync:      isAsync,
		asyncNames:   c.asyncNames,
		ScopeDepth:   1,
	}
	child.Locals = append(child.Locals, Local{Name: "", Depth: 0})
	return child
}

func (c *Compiler) errorf(format string, args ...any) {
	c.errs = append(c.errs, fmt.Errorf(format, args...))
}

func (c *Compiler) Errors() []error { return c.errs }

// Compile compiles an entire program and returns the resulting Chunk.
func Compile(prog *ast.Program, pool *strpool.Pool) (*chunk.Chunk, []error) {
	c := New(pool)
	for _, stmt := range prog.Statements {
		c.compileStatement(stmt)
	}
	c.emitOp(chunk.OP_NIL, 0)
	c.emitOp(chunk.OP_RETURN, 0)
	return c.Chunk, c.errs
}

// --- emission helpers -------------------------------------------------

func (c *Compiler) emitByte(b byte, line int)         { c.Chunk.Write(b, line) }
func (c *Compiler) emitOp(op chunk.OpCode, line int)  { c.Chunk.WriteOp(op, line) }

func (c *Compiler) emitBytes(op chunk.OpCode, operand byte, line int) {
	c.emitOp(op, line)
	c.emitByte(operand, line)
}

func (c *Compiler) emitShort(op chunk.OpCode, operand uint16, line int) {
	c.emitOp(op, line)
	c.emitByte(byte(operand>>8), line)
	c.emitByte(byte(operand), line)
}

func (c *Compiler) makeConstant(v value.Value) byte {
	idx := c.Chunk.AddConstant(v)
	if idx >= maxConstants {
		c.errorf("too many constants in one chunk (max %d)", maxConstants)
		return 0
	}
	return byte(idx)
}

func (c *Compiler) emitConstant(v value.Value, line int) {
	idx := c.Chunk.AddConstant(v)
	if idx > 0xFF {
		c.emitShort(chunk.OP_CONSTANT_LONG, uint16(idx), line)
	} else {
		c.emitBytes(chunk.OP_CONSTANT, byte(idx), line)
	}
}

func (c *Compiler) internString(s string) value.Value {
	return value.NewObj(c.Pool.Intern(s))
}

// emitJump writes a two-byte placeholder and returns its offset for a
// later patchJump call.
func (c *Compiler) emitJump(op chunk.OpCode, line int) int {
	c.emitShort(op, 0xFFFF, line)
	return len(c.Chunk.Code) - 2
}

func (c *Compiler) patchJump(offset int) {
	jump := len(c.Chunk.Code) - offset - 2
	if jump > maxJump {
		c.errorf("jump offset %d exceeds max range %d", jump, maxJump)
	}
	c.Chunk.Code[offset] = byte(jump >> 8)
	c.Chunk.Code[offset+1] = byte(jump)
}

func (c *Compiler) emitLoop(start, line int) {
	c.emitOp(chunk.OP_LOOP, line)
	offset := len(c.Chunk.Code) - start + 2
	if offset > maxJump {
		c.errorf("loop body too large (%d bytes)", offset)
	}
	c.emitByte(byte(offset>>8), line)
	c.emitByte(byte(offset), line)
}

// --- scope / locals -----------------------------------------------------

func (c *Compiler) beginScope() { c.ScopeDepth++ }

func (c *Compiler) endScope(line int) {
	c.ScopeDepth--
	for len(c.Locals) > 0 && c.Locals[len(c.Locals)-1].Depth > c.ScopeDepth {
		if c.Locals[len(c.Locals)-1].IsCaptured {
			c.emitOp(chunk.OP_CLOSE_UPVALUE, line)
		} else {
			c.emitOp(chunk.OP_POP, line)
		}
		c.Locals = c.Locals[:len(c.Locals)-1]
	}
}

func (c *Compiler) addLocal(name string) int {
	if len(c.Locals) >= maxLocals {
		c.errorf("too many local variables in one function (max %d)", maxLocals)
		return -1
	}
	c.Locals = append(c.Locals, Local{Name: name, Depth: c.ScopeDepth})
	return len(c.Locals) - 1
}

func (c *Compiler) resolveLocal(name string) int {
	for i := len(c.Locals) - 1; i >= 0; i-- {
		if c.Locals[i].Name == name {
			return i
		}
	}
	return -1
}

func (c *Compiler) addUpvalue(index byte, isLocal bool) int {
	for i, uv := range c.Upvalues {
		if uv.Index == index && uv.IsLocal == isLocal {
			return i
		}
	}
	c.Upvalues = append(c.Upvalues, Upvalue{Index: index, IsLocal: isLocal})
	return len(c.Upvalues) - 1
}

func (c *Compiler) resolveUpvalue(name string) int {
	if c.Enclosing == nil {
		return -1
	}
	if local := c.Enclosing.resolveLocal(name); local != -1 {
		c.Enclosing.Locals[local].IsCaptured = true
		return c.addUpvalue(byte(local), true)
	}
	if up := c.Enclosing.resolveUpvalue(name); up != -1 {
		return c.addUpvalue(byte(up), false)
	}
	return -1
}

// --- statements ---------------------------------------------------------

func (c *Compiler) compileStatement(stmt ast.Statement) {
	switch s := stmt.(type) {
	case *ast.LetStmt:
		c.compileLet(s)
	case *ast.AssignStmt:
		c.compileAssign(s)
	case *ast.ExpressionStmt:
		c.compileExpression(s.Expression)
		c.emitOp(chunk.OP_POP, 0)
	case *ast.ReturnStmt:
		if s.ReturnValue != nil {
			c.compileExpression(s.ReturnValue)
		} else {
			c.emitOp(chunk.OP_NIL, 0)
		}
		c.emitOp(chunk.OP_RETURN, 0)
	case *ast.BreakStmt:
		c.compileBreak()
	case *ast.IfStatement:
		c.compileIf(s)
	case *ast.WhileStatement:
		c.compileWhile(s)
	case *ast.FunctionStatement:
		c.compileFunctionDecl(s)
	case *ast.StructStatement:
		c.compileStructDecl(s)
	case *ast.UseStmt:
		c.compileUse(s)
	case *ast.BlockStatement:
		c.beginScope()
		for _, st := range s.Statements {
			c.compileStatement(st)
		}
		c.endScope(0)
	default:
		c.errorf("compiler: unhandled statement type %T", stmt)
	}
}

func (c *Compiler) compileLet(s *ast.LetStmt) {
	knownInt := false
	if s.Value != nil {
		c.compileExpression(s.Value)
		if _, ok := s.Value.(*ast.IntegerLiteral); ok {
			knownInt = true
		}
	} else {
		c.emitOp(chunk.OP_NIL, 0)
	}

	if c.ScopeDepth == 0 {
		nameConst := c.makeConstant(c.internString(s.Name.Value))
		c.emitBytes(chunk.OP_DEFINE_GLOBAL, nameConst, 0)
		return
	}
	slot := c.addLocal(s.Name.Value)
	if slot >= 0 {
		c.Locals[slot].KnownInt = knownInt
	}
}

func (c *Compiler) compileAssign(s *ast.AssignStmt) {
	// OP_SET_FIELD expects the instance below the value, so a member
	// target compiles its receiver first.
	if target, ok := s.Target.(*ast.MemberAccessExpression); ok {
		c.compileExpression(target.Left)
		c.compileExpression(s.Value)
		nameConst := c.makeConstant(c.internString(target.Member))
		c.emitBytes(chunk.OP_SET_FIELD, nameConst, 0)
		c.emitOp(chunk.OP_POP, 0)
		return
	}
	c.compileExpression(s.Value)
	switch target := s.Target.(type) {
	case *ast.Identifier:
		c.emitStoreName(target.Value)
	case *ast.IndexExpression:
		c.compileExpression(target.Left)
		c.compileExpression(target.Index)
		c.emitOp(chunk.OP_SET_INDEX, 0)
	default:
		c.errorf("compiler: invalid assignment target %T", target)
	}
	// Every OP_SET_* leaves the assigned value on the stack; an assignment
	// statement discards it.
	c.emitOp(chunk.OP_POP, 0)
}

// emitStoreName emits a plain store (OP_SET_LOCAL, OP_SET_UPVALUE or
// OP_SET_GLOBAL) for every assignment; the `x = x + 1` / `x = x - 1`
// pattern is not rewritten to OP_INC_LOCAL / OP_DEC_LOCAL.
func (c *Compiler) emitStoreName(name string) {
	if slot := c.resolveLocal(name); slot != -1 {
		c.emitBytes(chunk.OP_SET_LOCAL, byte(slot), 0)
		return
	}
	if up := c.resolveUpvalue(name); up != -1 {
		c.emitBytes(chunk.OP_SET_UPVALUE, byte(up), 0)
		return
	}
	nameConst := c.makeConstant(c.internString(name))
	c.emitBytes(chunk.OP_SET_GLOBAL, nameConst, 0)
}

func (c *Compiler) compileBreak() {
	if len(c.loops) == 0 {
		c.errorf("'break' used outside of a loop")
		return
	}
	jmp := c.emitJump(chunk.OP_JUMP, 0)
	top := len(c.loops) - 1
	c.loops[top].breakJumps = append(c.loops[top].breakJumps, jmp)
}

func (c *Compiler) compileIf(s *ast.IfStatement) {
	c.compileExpression(s.Condition)
	thenJump := c.emitJump(chunk.OP_JUMP_IF_FALSE, 0)
	c.emitOp(chunk.OP_POP, 0)
	c.compileStatement(s.Consequence)

	elseJump := c.emitJump(chunk.OP_JUMP, 0)
	c.patchJump(thenJump)
	c.emitOp(chunk.OP_POP, 0)

	if s.Alternative != nil {
		c.compileStatement(s.Alternative)
	}
	c.patchJump(elseJump)
}

func (c *Compiler) compileWhile(s *ast.WhileStatement) {
	loopStart := len(c.Chunk.Code)
	c.loops = append(c.loops, loopContext{start: loopStart})
	c.emitOp(chunk.OP_HOTSPOT_CHECK, 0)

	c.compileExpression(s.Condition)
	exitJump := c.emitJump(chunk.OP_JUMP_IF_FALSE, 0)
	c.emitOp(chunk.OP_POP, 0)
	c.compileStatement(s.Body)
	c.emitLoop(loopStart, 0)

	c.patchJump(exitJump)
	c.emitOp(chunk.OP_POP, 0)

	top := len(c.loops) - 1
	for _, j := range c.loops[top].breakJumps {
		c.patchJump(j)
	}
	c.loops = c.loops[:top]
}

func (c *Compiler) compileFunctionDecl(s *ast.FunctionStatement) {
	if s.IsAsync {
		c.asyncNames[s.Name] = true
	}

	child := c.NewChild(s.Name, len(s.Parameters), s.IsAsync)
	child.beginScope()
	for _, p := range s.Parameters {
		child.addLocal(p.Value)
	}
	child.compileStatement(s.Body)
	child.emitOp(chunk.OP_NIL, 0)
	child.emitOp(chunk.OP_RETURN, 0)

	fn := &heap.Function{
		Header:  heap.Header{Tag: heap.TagFunction},
		Name:    s.Name,
		Arity:   len(s.Parameters),
		Chunk:   child.Chunk,
		IsAsync: s.IsAsync,
	}
	constIdx := c.makeConstant(value.NewObj(fn))
	c.emitBytes(chunk.OP_CLOSURE, constIdx, 0)
	c.emitByte(byte(len(child.Upvalues)), 0)
	for _, uv := range child.Upvalues {
		if uv.IsLocal {
			c.emitByte(1, 0)
		} else {
			c.emitByte(0, 0)
		}
		c.emitByte(uv.Index, 0)
	}

	if c.ScopeDepth == 0 {
		nameConst := c.makeConstant(c.internString(s.Name))
		c.emitBytes(chunk.OP_DEFINE_GLOBAL, nameConst, 0)
	} else {
		c.addLocal(s.Name)
	}
}

func (c *Compiler) compileStructDecl(s *ast.StructStatement) {
	fields := make([]string, len(s.FieldsList))
	for i, f := range s.FieldsList {
		fields[i] = f.Name
	}
	def := &heap.StructDef{Header: heap.Header{Tag: heap.TagStructDef}, Name: s.Name, Fields: fields}
	constIdx := c.makeConstant(value.NewObj(def))
	nameConst := c.makeConstant(c.internString(s.Name))
	c.emitBytes(chunk.OP_CONSTANT, constIdx, 0)
	c.emitBytes(chunk.OP_DEFINE_GLOBAL, nameConst, 0)
}

func (c *Compiler) compileUse(s *ast.UseStmt) {
	nameConst := c.makeConstant(c.internString(s.Module))
	c.emitBytes(chunk.OP_IMPORT, nameConst, 0)
}

// --- expressions ---------------------------------------------------------

func (c *Compiler) compileExpression(expr ast.Expression) {
	switch e := expr.(type) {
	case *ast.IntegerLiteral:
		c.emitConstant(value.NewInt(e.Value), 0)
	case *ast.FloatLiteral:
		c.emitConstant(value.NewFloat(e.Value), 0)
	case *ast.StringLiteral:
		c.emitConstant(value.NewObj(c.Pool.Intern(e.Value)), 0)
	case *ast.BytesLiteral:
		c.emitConstant(value.NewRawString(e.Value), 0)
	case *ast.Boolean:
		if e.Value {
			c.emitOp(chunk.OP_TRUE, 0)
		} else {
			c.emitOp(chunk.OP_FALSE, 0)
		}
	case *ast.NullLiteral:
		c.emitOp(chunk.OP_NIL, 0)
	case *ast.ZerosLiteral:
		c.compileExpression(e.Size)
		c.emitOp(chunk.OP_ZEROS, 0)
	case *ast.Identifier:
		c.compileIdentifier(e)
	case *ast.PrefixExpression:
		c.compilePrefix(e)
	case *ast.InfixExpression:
		c.compileInfix(e)
	case *ast.CallExpression:
		c.compileCall(e)
	case *ast.AwaitExpression:
		c.compileExpression(e.Value)
		c.emitOp(chunk.OP_AWAIT, 0)
	case *ast.ArrayLiteral:
		for _, el := range e.Elements {
			c.compileExpression(el)
		}
		c.emitShort(chunk.OP_ARRAY, uint16(len(e.Elements)), 0)
	case *ast.MapLiteral:
		for i, k := range e.Keys {
			c.compileExpression(k)
			c.compileExpression(e.Values[i])
		}
		c.emitShort(chunk.OP_MAP, uint16(len(e.Keys)), 0)
	case *ast.IndexExpression:
		c.compileExpression(e.Left)
		c.compileExpression(e.Index)
		c.emitOp(chunk.OP_GET_INDEX, 0)
	case *ast.MemberAccessExpression:
		c.compileExpression(e.Left)
		nameConst := c.makeConstant(c.internString(e.Member))
		c.emitBytes(chunk.OP_GET_FIELD, nameConst, 0)
	default:
		c.errorf("compiler: unhandled expression type %T", expr)
	}
}

func (c *Compiler) compileIdentifier(e *ast.Identifier) {
	if slot := c.resolveLocal(e.Value); slot != -1 {
		switch slot {
		case 0:
			c.emitOp(chunk.OP_LOAD_LOCAL_0, 0)
		case 1:
			c.emitOp(chunk.OP_LOAD_LOCAL_1, 0)
		default:
			c.emitBytes(chunk.OP_GET_LOCAL, byte(slot), 0)
		}
		return
	}
	if up := c.resolveUpvalue(e.Value); up != -1 {
		c.emitBytes(chunk.OP_GET_UPVALUE, byte(up), 0)
		return
	}
	nameConst := c.makeConstant(c.internString(e.Value))
	c.emitBytes(chunk.OP_GET_GLOBAL, nameConst, 0)
}

func (c *Compiler) compilePrefix(e *ast.PrefixExpression) {
	c.compileExpression(e.Right)
	switch e.Operator {
	case "-":
		c.emitOp(chunk.OP_NEGATE, 0)
	case "!":
		c.emitOp(chunk.OP_NOT, 0)
	case "~":
		c.emitOp(chunk.OP_BIT_NOT, 0)
	default:
		c.errorf("compiler: unknown prefix operator %q", e.Operator)
	}
}

// identKnownInt reports whether expr is statically provable to always
// evaluate to an Int, enabling the specialized integer opcodes. It is a
// best-effort hint, never a type guarantee: a struct field, array element,
// or argument can still disagree with this analysis at runtime, in which
// case the specialized opcode traps rather than computing a wrong answer
// (spec.md §4.6/§4.7 — specialization never changes semantics, only
// performance, and a mismatch is a runtime error, not a silent fallback).
func (c *Compiler) identKnownInt(expr ast.Expression) bool {
	switch e := expr.(type) {
	case *ast.IntegerLiteral:
		return true
	case *ast.Identifier:
		if slot := c.resolveLocal(e.Value); slot != -1 {
			return c.Locals[slot].KnownInt
		}
		return false
	case *ast.InfixExpression:
		return c.identKnownInt(e.Left) && c.identKnownInt(e.Right)
	default:
		return false
	}
}

func (c *Compiler) compileInfix(e *ast.InfixExpression) {
	c.compileExpression(e.Left)
	c.compileExpression(e.Right)

	specialize := c.identKnownInt(e.Left) && c.identKnownInt(e.Right)

	switch e.Operator {
	case "+":
		c.emitArith(specialize, chunk.OP_ADD_INT, chunk.OP_ADD)
	case "-":
		c.emitArith(specialize, chunk.OP_SUB_INT, chunk.OP_SUBTRACT)
	case "*":
		c.emitArith(specialize, chunk.OP_MUL_INT, chunk.OP_MULTIPLY)
	case "/":
		c.emitArith(specialize, chunk.OP_DIV_INT, chunk.OP_DIVIDE)
	case "%":
		c.emitArith(specialize, chunk.OP_MOD_INT, chunk.OP_MODULO)
	case "<":
		c.emitArith(specialize, chunk.OP_LESS_INT, chunk.OP_LESS)
	case ">":
		c.emitArith(specialize, chunk.OP_GREATER_INT, chunk.OP_GREATER)
	case "==":
		c.emitArith(specialize, chunk.OP_EQUAL_INT, chunk.OP_EQUAL)
	case "!=":
		c.emitArith(specialize, chunk.OP_EQUAL_INT, chunk.OP_EQUAL)
		c.emitOp(chunk.OP_NOT, 0)
	case "<=":
		c.emitOp(chunk.OP_GREATER, 0)
		c.emitOp(chunk.OP_NOT, 0)
	case ">=":
		c.emitOp(chunk.OP_LESS, 0)
		c.emitOp(chunk.OP_NOT, 0)
	case "&":
		c.emitOp(chunk.OP_BIT_AND, 0)
	case "|":
		c.emitOp(chunk.OP_BIT_OR, 0)
	case "^":
		c.emitOp(chunk.OP_BIT_XOR, 0)
	case "<<":
		c.emitOp(chunk.OP_SHIFT_LEFT, 0)
	case ">>":
		c.emitOp(chunk.OP_SHIFT_RIGHT, 0)
	case "&&":
		c.emitOp(chunk.OP_AND, 0)
	case "||":
		c.emitOp(chunk.OP_OR, 0)
	default:
		c.errorf("compiler: unknown infix operator %q", e.Operator)
	}
}

func (c *Compiler) emitArith(specialize bool, intOp, genericOp chunk.OpCode) {
	if specialize {
		c.emitOp(intOp, 0)
	} else {
		c.emitOp(genericOp, 0)
	}
}

func (c *Compiler) compileCall(e *ast.CallExpression) {
	async := false
	if fnExpr, ok := e.Function.(*ast.Identifier); ok {
		async = c.asyncNames[fnExpr.Value]
	}
	c.compileExpression(e.Function)
	for _, arg := range e.Arguments {
		c.compileExpression(arg)
	}
	if async {
		c.emitBytes(chunk.OP_ASYNC_CALL, byte(len(e.Arguments)), 0)
	} else {
		c.emitBytes(chunk.OP_CALL, byte(len(e.Arguments)), 0)
	}
}
