// Package interp implements the stack-based bytecode interpreter: the
// fixed Value stack, the call-frame stack, the dense switch dispatch loop,
// upvalue capture/close, and the hooks into internal/gc and internal/async
// that give the VM its generational collector and its ASYNC_CALL/AWAIT
// primitives (spec.md §6, §7).
package interp

import (
	"fmt"
	"sync"

	"embervm/internal/async"
	"embervm/internal/chunk"
	"embervm/internal/gc"
	"embervm/internal/heap"
	"embervm/internal/natives"
	"embervm/internal/strpool"
	"embervm/internal/value"
)

const (
	StackMax  = 65536 // spec.md §5.5: 64Ki value stack
	FramesMax = 1024   // spec.md §5.5: 1024 call-frame depth
)

// openUpvalue points at a still-live stack slot shared by every closure
// that captured it; closeUpvalues copies the slot's value out and severs the link
// once the enclosing frame returns.
type openUpvalue struct {
	slot   int
	closed *value.Value
	next   *openUpvalue
}

func (u *openUpvalue) get(stack []value.Value) value.Value {
	if u.closed != nil {
		return *u.closed
	}
	return stack[u.slot]
}

func (u *openUpvalue) set(stack []value.Value, v value.Value) {
	if u.closed != nil {
		*u.closed = v
		return
	}
	stack[u.slot] = v
}

// Frame is one activation record: the running closure, its instruction
// pointer, and the base of its stack window.
type Frame struct {
	Fn       *heap.Function
	IP       int
	Base     int
	Upvalues []*openUpvalue
}

// VM is a single interpreter instance. ASYNC_CALL spawns a fresh VM that
// shares Pool, Globals, and GC with the spawning VM (spec.md §7.2); only
// the Stack and Frames are private to each VM instance.
type VM struct {
	Stack      [StackMax]value.Value
	SP         int
	Frames     [FramesMax]*Frame
	FrameCount int

	Globals *heap.Environment
	Pool    *strpool.Pool
	GC      *gc.Collector
	Async   *async.Registry

	openUpvalues *openUpvalue

	mu sync.Mutex // guards openUpvalues when shared-heap objects race across VMs
}

// New creates the root VM and wires a fresh GC/pool/async registry. Child
// VMs spawned for ASYNC_CALL use NewShared instead.
func New() *VM {
	vm := &VM{
		Globals: heap.NewEnvironment(nil),
		Pool:    strpool.New(),
		Async:   async.NewRegistry(),
	}
	vm.GC = gc.New(vm)
	vm.GC.SetPool(vm.Pool)
	natives.RegisterBuiltins(vm.Globals, vm.Pool, vm.GC.WriteBarrier)
	return vm
}

// NewShared creates a VM instance for a spawned async worker, reusing the
// parent's heap-visible state (globals, string pool, collector, async
// registry) but with its own private stack and frame list.
func NewShared(parent *VM) *VM {
	return &VM{
		Globals: parent.Globals,
		Pool:    parent.Pool,
		GC:      parent.GC,
		Async:   parent.Async,
	}
}

func (vm *VM) push(v value.Value) { vm.Stack[vm.SP] = v; vm.SP++ }
func (vm *VM) pop() value.Value   { vm.SP--; return vm.Stack[vm.SP] }
func (vm *VM) peek(distance int) value.Value { return vm.Stack[vm.SP-1-distance] }

func (vm *VM) currentFrame() *Frame { return vm.Frames[vm.FrameCount-1] }

func (vm *VM) runtimeError(format string, args ...any) error {
	frame := vm.currentFrame()
	line := 0
	file := "<script>"
	if ck, ok := frame.Fn.Chunk.(*chunk.Chunk); ok {
		file = ck.FileName
		if frame.IP > 0 && frame.IP <= len(ck.Lines) {
			line = ck.Lines[frame.IP-1]
		}
	}
	return fmt.Errorf("[%s:line %d] %s", file, line, fmt.Sprintf(format, args...))
}

// Interpret compiles nothing itself: it runs an already-compiled top-level
// Chunk wrapped as a zero-arity Function.
func (vm *VM) Interpret(ck *chunk.Chunk) (value.Value, error) {
	fn := &heap.Function{Header: heap.Header{Tag: heap.TagFunction}, Name: "<script>", Chunk: ck}
	vm.GC.Allocate(fn, 64)
	return vm.CallFunction(fn, nil)
}

// CallFunction pushes a new frame for fn and runs it to completion,
// returning its top-of-stack result. Used both for top-level scripts and
// for native->interpreted re-entrancy (a native calling back into a script function).
func (vm *VM) CallFunction(fn *heap.Function, args []value.Value) (value.Value, error) {
	if fn.IsNative {
		raw := make([]any, len(args))
		for i, a := range args {
			raw[i] = a
		}
		res, err := fn.Native(raw)
		if err != nil {
			return value.NewNil(), err
		}
		if v, ok := res.(value.Value); ok {
			return v, nil
		}
		return value.NewNil(), nil
	}

	if vm.FrameCount >= FramesMax {
		return value.NewNil(), fmt.Errorf("stack overflow: call depth exceeds %d", FramesMax)
	}

	base := vm.SP
	vm.push(value.NewObj(fn))
	for _, a := range args {
		vm.push(a)
	}

	frame := &Frame{Fn: fn, Base: base}
	vm.Frames[vm.FrameCount] = frame
	vm.FrameCount++

	result, err := vm.run()

	vm.FrameCount--
	vm.SP = base
	return result, err
}

// invokeForAsync adapts CallFunction to async.Invoke's signature so a
// Registry can spawn a worker without importing this package back.
func (vm *VM) invokeForAsync(fn *heap.Function, args []any) (any, error) {
	worker := NewShared(vm)
	vargs := make([]value.Value, len(args))
	for i, a := range args {
		vargs[i] = a.(value.Value)
	}
	result, err := worker.CallFunction(fn, vargs)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// --- GC roots -------------------------------------------------------------

// WalkRoots implements gc.Roots: every value currently on the stack across
// all live frames of every VM instance is reachable, plus every global
// binding and every Future an AWAIT is blocked on.
func (vm *VM) WalkRoots(visit func(heap.Object)) {
	for i := 0; i < vm.SP; i++ {
		if vm.Stack[i].Type == value.Obj && vm.Stack[i].AsObj != nil {
			visit(vm.Stack[i].AsObj)
		}
	}
	vm.Globals.ForEachVar(func(v any) {
		if val, ok := v.(value.Value); ok && val.Type == value.Obj && val.AsObj != nil {
			visit(val.AsObj)
		}
	})
	vm.Globals.ForEachFunction(func(f *heap.Function) { visit(f) })
	vm.Async.WalkPending(func(f *heap.Future) { visit(f) })
}

// WalkChildren implements gc.Roots: given one heap object, visits every
// heap object it directly references.
func (vm *VM) WalkChildren(obj heap.Object, visit func(heap.Object)) {
	switch o := obj.(type) {
	case *heap.Array:
		o.RLock()
		defer o.RUnlock()
		for _, e := range o.Elems {
			if v, ok := e.(value.Value); ok && v.Type == value.Obj && v.AsObj != nil {
				visit(v.AsObj)
			}
		}
	case *heap.Map:
		o.Each(func(_ int64, strKey *heap.String, isIntKey bool, v any) {
			if !isIntKey && strKey != nil {
				visit(strKey)
			}
			if val, ok := v.(value.Value); ok && val.Type == value.Obj && val.AsObj != nil {
				visit(val.AsObj)
			}
		})
	case *heap.Function:
		if o.Env != nil {
			visit(o.Env)
		}
		if upvals, ok := o.Upvalues.([]*openUpvalue); ok {
			for _, u := range upvals {
				if u.closed == nil {
					continue
				}
				if v := *u.closed; v.Type == value.Obj && v.AsObj != nil {
					visit(v.AsObj)
				}
			}
		}
	case *heap.Environment:
		o.ForEachVar(func(v any) {
			if val, ok := v.(value.Value); ok && val.Type == value.Obj && val.AsObj != nil {
				visit(val.AsObj)
			}
		})
		o.ForEachFunction(func(f *heap.Function) { visit(f) })
		if o.Enclosing != nil {
			visit(o.Enclosing)
		}
	case *heap.StructInstance:
		for _, v := range o.Values {
			if val, ok := v.(value.Value); ok && val.Type == value.Obj && val.AsObj != nil {
				visit(val.AsObj)
			}
		}
	case *heap.Module:
		visit(o.Env)
	}
}
