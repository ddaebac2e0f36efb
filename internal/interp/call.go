package interp

import (
	"fmt"

	"embervm/internal/container"
	"embervm/internal/heap"
	"embervm/internal/value"
)

// captureUpvalue returns the existing open upvalue for slot if one is
// already on the VM's open list (so two closures capturing the same local
// share one cell), or creates and links a new one.
func (vm *VM) captureUpvalue(slot int) *openUpvalue {
	var prev *openUpvalue
	cur := vm.openUpvalues
	for cur != nil && cur.slot > slot {
		prev = cur
		cur = cur.next
	}
	if cur != nil && cur.slot == slot {
		return cur
	}
	created := &openUpvalue{slot: slot, next: cur}
	if prev == nil {
		vm.openUpvalues = created
	} else {
		prev.next = created
	}
	return created
}

// closeUpvalues hoists every open upvalue at or above stackTop off the
// stack and into its own cell, then unlinks it from the VM's open list.
// Called when a scope/frame that owns those slots is about to be popped.
func (vm *VM) closeUpvalues(stackTop int) {
	for vm.openUpvalues != nil && vm.openUpvalues.slot >= stackTop {
		u := vm.openUpvalues
		v := vm.Stack[u.slot]
		u.closed = &v
		vm.openUpvalues = u.next
	}
}

// callValue dispatches a CALL/ASYNC_CALL on the callee at stack position
// peek(argc). For ASYNC_CALL it spawns a worker goroutine immediately and
// replaces the callee+args with a Future, never pushing a new Frame onto
// this VM's own frame stack.
func (vm *VM) callValue(callee value.Value, argc int, async bool) error {
	fn, ok := callee.AsFunction()
	if !ok {
		return vm.runtimeError("attempted to call a non-function value (%s)", value.TypeName(callee))
	}
	if !fn.IsVariadic && fn.Arity != argc {
		return vm.runtimeError("function %s expects %d arguments, got %d", fn.Name, fn.Arity, argc)
	}

	if fn.IsNative {
		args := make([]value.Value, argc)
		for i := argc - 1; i >= 0; i-- {
			args[i] = vm.pop()
		}
		vm.pop() // the native function value itself
		raw := make([]any, len(args))
		for i, a := range args {
			raw[i] = a
		}
		result, err := fn.Native(raw)
		if err != nil {
			return vm.runtimeError("native %s: %v", fn.Name, err)
		}
		if rv, ok := result.(value.Value); ok {
			vm.push(rv)
		} else {
			vm.push(value.NewNil())
		}
		return nil
	}

	if async {
		args := make([]value.Value, argc)
		for i := argc - 1; i >= 0; i-- {
			args[i] = vm.pop()
		}
		vm.pop()
		fut := vm.Async.Spawn(vm.invokeForAsync, fn, toAny(args))
		vm.GC.Allocate(fut, 32)
		vm.push(value.NewObj(fut))
		return nil
	}

	if vm.FrameCount >= FramesMax {
		return fmt.Errorf("stack overflow: call depth exceeds %d", FramesMax)
	}

	base := vm.SP - argc - 1
	upvals, _ := fn.Upvalues.([]*openUpvalue)
	frame := &Frame{Fn: fn, Base: base, Upvalues: upvals}
	vm.Frames[vm.FrameCount] = frame
	vm.FrameCount++

	// The nested run() loop executes until its own OP_RETURN, which does
	// not pop the frame here — the caller's dispatch loop continues with
	// the now-current (popped) frame once run() returns up the call stack.
	result, err := vm.runFrame()
	vm.FrameCount--
	vm.SP = base
	vm.push(result)
	return err
}

// runFrame is the re-entrant half of run(): it executes exactly the
// top frame (vm.FrameCount-1) to completion and returns its result,
// without tearing down any state the outer dispatch loop still needs.
func (vm *VM) runFrame() (value.Value, error) {
	return vm.run()
}

// barrier records holder->v in the remembered set when v is a heap
// reference, so a later minor cycle that doesn't rescan holder (because it
// may live in Old) still finds a Nursery referent. Every mutator store of
// an Obj into an already-allocated container/struct/closure must go
// through this (spec.md §3.3, §4.8 step 3).
func (vm *VM) barrier(holder heap.Object, v value.Value) {
	if v.Type == value.Obj && v.AsObj != nil {
		vm.GC.WriteBarrier(holder, v.AsObj)
	}
}

func toAny(args []value.Value) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = a
	}
	return out
}

func (vm *VM) binaryAdd() error {
	b, a := vm.pop(), vm.pop()
	if as, ok := a.AsString(); ok {
		if bs, ok := b.AsString(); ok {
			vm.push(value.NewObj(vm.Pool.Intern(as.String() + bs.String())))
			return nil
		}
	}
	if a.Type == value.Int && b.Type == value.Int {
		vm.push(value.NewInt(a.AsInt + b.AsInt))
		return nil
	}
	af, bf := asFloat(a), asFloat(b)
	if isNumeric(a) && isNumeric(b) {
		vm.push(value.NewFloat(af + bf))
		return nil
	}
	return vm.runtimeError("cannot add %s and %s", value.TypeName(a), value.TypeName(b))
}

func isNumeric(v value.Value) bool { return v.Type == value.Int || v.Type == value.Float }

// trapNonInt guards the specialized _INT opcodes: the compiler only emits
// them when identKnownInt's static analysis says both operands are Ints,
// but that analysis can't see through a struct field, array element, or
// function argument whose runtime type disagrees. Per spec.md §4.6/§4.7
// a specialization must never silently compute a wrong answer, so a
// mismatch here traps rather than coercing or defaulting to zero.
func (vm *VM) trapNonInt(op string, a, b value.Value) error {
	if a.Type != value.Int || b.Type != value.Int {
		return vm.runtimeError("%s requires two ints, got %s and %s", op, value.TypeName(a), value.TypeName(b))
	}
	return nil
}

func (vm *VM) binaryNumeric(floatOp func(a, b float64) float64, intOp func(a, b int64) int64) error {
	b, a := vm.pop(), vm.pop()
	if !isNumeric(a) || !isNumeric(b) {
		return vm.runtimeError("operand must be numeric, got %s and %s", value.TypeName(a), value.TypeName(b))
	}
	if a.Type == value.Int && b.Type == value.Int {
		vm.push(value.NewInt(intOp(a.AsInt, b.AsInt)))
		return nil
	}
	vm.push(value.NewFloat(floatOp(asFloat(a), asFloat(b))))
	return nil
}

func (vm *VM) binaryDivide() error {
	b, a := vm.pop(), vm.pop()
	if !isNumeric(a) || !isNumeric(b) {
		return vm.runtimeError("operand must be numeric, got %s and %s", value.TypeName(a), value.TypeName(b))
	}
	if a.Type == value.Int && b.Type == value.Int {
		if b.AsInt == 0 {
			return vm.runtimeError("integer division by zero")
		}
		vm.push(value.NewInt(a.AsInt / b.AsInt))
		return nil
	}
	vm.push(value.NewFloat(asFloat(a) / asFloat(b)))
	return nil
}

func (vm *VM) binaryModulo() error {
	b, a := vm.pop(), vm.pop()
	if a.Type != value.Int || b.Type != value.Int {
		return vm.runtimeError("'%%' requires two ints, got %s and %s", value.TypeName(a), value.TypeName(b))
	}
	if b.AsInt == 0 {
		return vm.runtimeError("integer modulo by zero")
	}
	vm.push(value.NewInt(a.AsInt % b.AsInt))
	return nil
}

func (vm *VM) getIndex(left, idx value.Value) (value.Value, error) {
	if arr, ok := left.AsArray(); ok {
		return container.ArrayGet(arr, idx.AsInt)
	}
	if m, ok := left.AsMap(); ok {
		storage := container.WrapMap(m, vm.Pool)
		v, ok := storage.Get(idx)
		if !ok {
			return value.NewNil(), fmt.Errorf("key %s not found in map", value.String(idx))
		}
		return v, nil
	}
	if s, ok := left.AsString(); ok {
		i := idx.AsInt
		if i < 0 || int(i) >= len(s.Bytes) {
			return value.NewNil(), fmt.Errorf("string index %d out of range", i)
		}
		return value.NewObj(vm.Pool.InternBytes(s.Bytes[i : i+1])), nil
	}
	return value.NewNil(), fmt.Errorf("cannot index a %s", value.TypeName(left))
}

func (vm *VM) setIndex(left, idx, v value.Value) error {
	if arr, ok := left.AsArray(); ok {
		if err := container.ArraySet(arr, idx.AsInt, v); err != nil {
			return err
		}
		vm.barrier(arr, v)
		return nil
	}
	if m, ok := left.AsMap(); ok {
		storage := container.WrapMap(m, vm.Pool)
		storage.Set(idx, v)
		vm.barrier(m, idx)
		vm.barrier(m, v)
		return nil
	}
	return fmt.Errorf("cannot assign into a %s", value.TypeName(left))
}
