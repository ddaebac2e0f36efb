package interp

import (
	"fmt"
	"math"

	"embervm/internal/chunk"
	"embervm/internal/container"
	"embervm/internal/heap"
	"embervm/internal/value"
)

// run executes the current top frame's chunk until it returns, using a
// dense switch over OpCode the way the teacher's VM does. Every opcode
// case is one pass through the loop; OP_RETURN breaks out and yields the
// frame's result value.
func (vm *VM) run() (value.Value, error) {
	frame := vm.currentFrame()
	ck := frame.Fn.Chunk.(*chunk.Chunk)

	readByte := func() byte {
		b := ck.Code[frame.IP]
		frame.IP++
		return b
	}
	readShort := func() uint16 {
		hi := ck.Code[frame.IP]
		lo := ck.Code[frame.IP+1]
		frame.IP += 2
		return uint16(hi)<<8 | uint16(lo)
	}
	readConstant := func() value.Value { return ck.Constants[readByte()] }

	for {
		op := chunk.OpCode(readByte())
		switch op {
		case chunk.OP_CONSTANT:
			vm.push(readConstant())
		case chunk.OP_CONSTANT_LONG:
			vm.push(ck.Constants[readShort()])
		case chunk.OP_NIL:
			vm.push(value.NewNil())
		case chunk.OP_TRUE:
			vm.push(value.NewBool(true))
		case chunk.OP_FALSE:
			vm.push(value.NewBool(false))
		case chunk.OP_POP:
			vm.pop()
		case chunk.OP_DUP:
			vm.push(vm.peek(0))
		case chunk.OP_COPY:
			vm.push(vm.peek(0))

		case chunk.OP_GET_LOCAL:
			slot := readByte()
			vm.push(vm.Stack[frame.Base+int(slot)])
		case chunk.OP_SET_LOCAL:
			slot := readByte()
			vm.Stack[frame.Base+int(slot)] = vm.peek(0)
		case chunk.OP_LOAD_LOCAL_0:
			vm.push(vm.Stack[frame.Base+0])
		case chunk.OP_LOAD_LOCAL_1:
			vm.push(vm.Stack[frame.Base+1])
		case chunk.OP_INC_LOCAL:
			slot := readByte()
			v := vm.Stack[frame.Base+int(slot)]
			vm.Stack[frame.Base+int(slot)] = value.NewInt(v.AsInt + 1)
		case chunk.OP_DEC_LOCAL:
			slot := readByte()
			v := vm.Stack[frame.Base+int(slot)]
			vm.Stack[frame.Base+int(slot)] = value.NewInt(v.AsInt - 1)

		case chunk.OP_GET_UPVALUE:
			idx := readByte()
			vm.push(frame.Upvalues[idx].get(vm.Stack[:]))
		case chunk.OP_SET_UPVALUE:
			idx := readByte()
			val := vm.peek(0)
			frame.Upvalues[idx].set(vm.Stack[:], val)
			// The closure owning this upvalue slot is the barrier's holder:
			// once the upvalue is closed its cell lives only behind
			// frame.Fn.Upvalues, so a promoted closure needs remembering.
			vm.barrier(frame.Fn, val)

		case chunk.OP_GET_GLOBAL:
			name, _ := readConstant().AsString()
			v, ok := vm.Globals.Get(name.String())
			if !ok {
				// Natives bound with DefineFunction (the builtins) live in
				// the Functions table rather than Vars.
				if fn, found := vm.Globals.GetFunction(name.String()); found {
					vm.push(value.NewObj(fn))
					break
				}
				return value.NewNil(), vm.runtimeError("undefined global '%s'", name.String())
			}
			vm.push(v.(value.Value))
		case chunk.OP_SET_GLOBAL:
			name, _ := readConstant().AsString()
			if !vm.Globals.Set(name.String(), vm.peek(0)) {
				return value.NewNil(), vm.runtimeError("undefined global '%s'", name.String())
			}
		case chunk.OP_DEFINE_GLOBAL:
			name, _ := readConstant().AsString()
			vm.Globals.Define(name.String(), vm.pop())

		case chunk.OP_GET_FIELD:
			name, _ := readConstant().AsString()
			recv := vm.pop()
			if mod, ok := recv.AsObj.(*heap.Module); ok {
				if fn, ok := mod.Env.GetFunction(name.String()); ok {
					vm.push(value.NewObj(fn))
					continue
				}
				if v, ok := mod.Env.Get(name.String()); ok {
					vm.push(v.(value.Value))
					continue
				}
				return value.NewNil(), vm.runtimeError("module %s has no member '%s'", mod.Name, name.String())
			}
			inst, ok := recv.AsStructInstance()
			if !ok {
				return value.NewNil(), vm.runtimeError("cannot access field '%s' of a non-struct value", name.String())
			}
			idx := fieldIndex(inst.Def, name.String())
			if idx < 0 {
				return value.NewNil(), vm.runtimeError("struct %s has no field '%s'", inst.Def.Name, name.String())
			}
			vm.push(inst.Values[idx].(value.Value))
		case chunk.OP_SET_FIELD:
			name, _ := readConstant().AsString()
			v := vm.pop()
			inst, ok := vm.pop().AsStructInstance()
			if !ok {
				return value.NewNil(), vm.runtimeError("cannot set field '%s' of a non-struct value", name.String())
			}
			idx := fieldIndex(inst.Def, name.String())
			if idx < 0 {
				return value.NewNil(), vm.runtimeError("struct %s has no field '%s'", inst.Def.Name, name.String())
			}
			inst.Values[idx] = v
			vm.barrier(inst, v)
			vm.push(v)
		case chunk.OP_NEW_STRUCT:
			defVal := readConstant()
			def, ok := defVal.AsObj.(*heap.StructDef)
			if !ok {
				return value.NewNil(), vm.runtimeError("OP_NEW_STRUCT constant is not a struct definition")
			}
			values := make([]any, len(def.Fields))
			for i := range values {
				values[i] = value.NewNil()
			}
			inst := &heap.StructInstance{Header: heap.Header{Tag: heap.TagStructInstance}, Def: def, Values: values}
			vm.GC.Allocate(inst, uint64(16*len(def.Fields)))
			vm.push(value.NewObj(inst))
		case chunk.OP_GET_INDEX:
			idx := vm.pop()
			left := vm.pop()
			res, err := vm.getIndex(left, idx)
			if err != nil {
				return value.NewNil(), vm.runtimeError("%s", err)
			}
			vm.push(res)
		case chunk.OP_SET_INDEX:
			idx := vm.pop()
			left := vm.pop()
			v := vm.peek(0)
			if err := vm.setIndex(left, idx, v); err != nil {
				return value.NewNil(), vm.runtimeError("%s", err)
			}

		case chunk.OP_ADD:
			if err := vm.binaryAdd(); err != nil {
				return value.NewNil(), err
			}
		case chunk.OP_SUBTRACT:
			if err := vm.binaryNumeric(func(a, b float64) float64 { return a - b },
				func(a, b int64) int64 { return a - b }); err != nil {
				return value.NewNil(), err
			}
		case chunk.OP_MULTIPLY:
			if err := vm.binaryNumeric(func(a, b float64) float64 { return a * b },
				func(a, b int64) int64 { return a * b }); err != nil {
				return value.NewNil(), err
			}
		case chunk.OP_DIVIDE:
			if err := vm.binaryDivide(); err != nil {
				return value.NewNil(), err
			}
		case chunk.OP_MODULO:
			if err := vm.binaryModulo(); err != nil {
				return value.NewNil(), err
			}
		case chunk.OP_ADD_INT:
			b, a := vm.pop(), vm.pop()
			if err := vm.trapNonInt("OP_ADD_INT", a, b); err != nil {
				return value.NewNil(), err
			}
			vm.push(value.NewInt(a.AsInt + b.AsInt))
		case chunk.OP_SUB_INT:
			b, a := vm.pop(), vm.pop()
			if err := vm.trapNonInt("OP_SUB_INT", a, b); err != nil {
				return value.NewNil(), err
			}
			vm.push(value.NewInt(a.AsInt - b.AsInt))
		case chunk.OP_MUL_INT:
			b, a := vm.pop(), vm.pop()
			if err := vm.trapNonInt("OP_MUL_INT", a, b); err != nil {
				return value.NewNil(), err
			}
			vm.push(value.NewInt(a.AsInt * b.AsInt))
		case chunk.OP_DIV_INT:
			b, a := vm.pop(), vm.pop()
			if err := vm.trapNonInt("OP_DIV_INT", a, b); err != nil {
				return value.NewNil(), err
			}
			if b.AsInt == 0 {
				return value.NewNil(), vm.runtimeError("integer division by zero")
			}
			vm.push(value.NewInt(a.AsInt / b.AsInt))
		case chunk.OP_MOD_INT:
			b, a := vm.pop(), vm.pop()
			if err := vm.trapNonInt("OP_MOD_INT", a, b); err != nil {
				return value.NewNil(), err
			}
			if b.AsInt == 0 {
				return value.NewNil(), vm.runtimeError("integer modulo by zero")
			}
			vm.push(value.NewInt(a.AsInt % b.AsInt))
		case chunk.OP_LESS_INT:
			b, a := vm.pop(), vm.pop()
			if err := vm.trapNonInt("OP_LESS_INT", a, b); err != nil {
				return value.NewNil(), err
			}
			vm.push(value.NewBool(a.AsInt < b.AsInt))
		case chunk.OP_GREATER_INT:
			b, a := vm.pop(), vm.pop()
			if err := vm.trapNonInt("OP_GREATER_INT", a, b); err != nil {
				return value.NewNil(), err
			}
			vm.push(value.NewBool(a.AsInt > b.AsInt))
		case chunk.OP_EQUAL_INT:
			b, a := vm.pop(), vm.pop()
			if err := vm.trapNonInt("OP_EQUAL_INT", a, b); err != nil {
				return value.NewNil(), err
			}
			vm.push(value.NewBool(a.AsInt == b.AsInt))

		case chunk.OP_NOT:
			vm.push(value.NewBool(!vm.pop().IsTruthy()))
		case chunk.OP_NEGATE:
			v := vm.pop()
			switch v.Type {
			case value.Int:
				vm.push(value.NewInt(-v.AsInt))
			case value.Float:
				vm.push(value.NewFloat(-v.AsFloat))
			default:
				return value.NewNil(), vm.runtimeError("cannot negate a %s", value.TypeName(v))
			}
		case chunk.OP_GREATER:
			b, a := vm.pop(), vm.pop()
			vm.push(value.NewBool(numericCompare(a, b) > 0))
		case chunk.OP_LESS:
			b, a := vm.pop(), vm.pop()
			vm.push(value.NewBool(numericCompare(a, b) < 0))
		case chunk.OP_EQUAL:
			b, a := vm.pop(), vm.pop()
			vm.push(value.NewBool(value.Equal(a, b)))
		case chunk.OP_AND:
			b, a := vm.pop(), vm.pop()
			vm.push(value.NewBool(a.IsTruthy() && b.IsTruthy()))
		case chunk.OP_OR:
			b, a := vm.pop(), vm.pop()
			vm.push(value.NewBool(a.IsTruthy() || b.IsTruthy()))
		case chunk.OP_BIT_AND:
			b, a := vm.pop(), vm.pop()
			vm.push(value.NewInt(a.AsInt & b.AsInt))
		case chunk.OP_BIT_OR:
			b, a := vm.pop(), vm.pop()
			vm.push(value.NewInt(a.AsInt | b.AsInt))
		case chunk.OP_BIT_XOR:
			b, a := vm.pop(), vm.pop()
			vm.push(value.NewInt(a.AsInt ^ b.AsInt))
		case chunk.OP_BIT_NOT:
			a := vm.pop()
			vm.push(value.NewInt(^a.AsInt))
		case chunk.OP_SHIFT_LEFT:
			b, a := vm.pop(), vm.pop()
			vm.push(value.NewInt(a.AsInt << uint(b.AsInt)))
		case chunk.OP_SHIFT_RIGHT:
			b, a := vm.pop(), vm.pop()
			vm.push(value.NewInt(a.AsInt >> uint(b.AsInt)))

		case chunk.OP_JUMP:
			off := readShort()
			frame.IP += int(off)
		case chunk.OP_JUMP_IF_FALSE:
			off := readShort()
			if !vm.peek(0).IsTruthy() {
				frame.IP += int(off)
			}
		case chunk.OP_JUMP_IF_TRUE:
			off := readShort()
			if vm.peek(0).IsTruthy() {
				frame.IP += int(off)
			}
		case chunk.OP_LOOP:
			off := readShort()
			frame.IP -= int(off)
		case chunk.OP_HOTSPOT_CHECK:
			ck.BumpHotspot(frame.IP)

		case chunk.OP_PRINT:
			fmt.Println(value.String(vm.pop()))

		case chunk.OP_ARRAY:
			n := int(readShort())
			elems := make([]value.Value, n)
			for i := n - 1; i >= 0; i-- {
				elems[i] = vm.pop()
			}
			arr := container.NewArray(elems)
			vm.GC.Allocate(arr, uint64(24*len(elems)))
			vm.push(value.NewObj(arr))
		case chunk.OP_MAP:
			n := int(readShort())
			m := heap.NewMap()
			vm.GC.Allocate(m, 256)
			storage := container.WrapMap(m, vm.Pool)
			pairs := make([]value.Value, 2*n)
			for i := 2*n - 1; i >= 0; i-- {
				pairs[i] = vm.pop()
			}
			for i := 0; i < n; i++ {
				storage.Set(pairs[2*i], pairs[2*i+1])
			}
			vm.push(value.NewObj(m))
		case chunk.OP_ZEROS:
			n := vm.pop()
			elems := make([]value.Value, n.AsInt)
			for i := range elems {
				elems[i] = value.NewInt(0)
			}
			arr := container.NewArray(elems)
			vm.GC.Allocate(arr, uint64(24*len(elems)))
			vm.push(value.NewObj(arr))
		case chunk.OP_LEN:
			v := vm.pop()
			vm.push(value.NewInt(int64(vm.lenOf(v))))
		case chunk.OP_SELECT:
			n := readByte()
			idx := vm.pop().AsInt
			vals := make([]value.Value, n)
			for i := int(n) - 1; i >= 0; i-- {
				vals[i] = vm.pop()
			}
			if idx < 0 || int(idx) >= len(vals) {
				return value.NewNil(), vm.runtimeError("select index %d out of range", idx)
			}
			vm.push(vals[idx])

		case chunk.OP_CLOSURE:
			fnVal := readConstant()
			fn, _ := fnVal.AsFunction()
			upvalCount := readByte()
			upvals := make([]*openUpvalue, upvalCount)
			for i := 0; i < int(upvalCount); i++ {
				isLocal := readByte()
				index := readByte()
				if isLocal != 0 {
					upvals[i] = vm.captureUpvalue(frame.Base + int(index))
				} else {
					upvals[i] = frame.Upvalues[index]
				}
			}
			closureFn := &heap.Function{
				Header:   heap.Header{Tag: heap.TagFunction},
				Name:     fn.Name,
				Arity:    fn.Arity,
				Chunk:    fn.Chunk,
				IsAsync:  fn.IsAsync,
				Upvalues: upvals,
			}
			vm.GC.Allocate(closureFn, 64)
			vm.push(value.NewObj(closureFn))
		case chunk.OP_CLOSE_UPVALUE:
			vm.closeUpvalues(vm.SP - 1)
			vm.pop()

		case chunk.OP_CALL:
			argc := int(readByte())
			if err := vm.callValue(vm.peek(argc), argc, false); err != nil {
				return value.NewNil(), err
			}
			frame = vm.currentFrame()
			ck = frame.Fn.Chunk.(*chunk.Chunk)
		case chunk.OP_ASYNC_CALL:
			argc := int(readByte())
			if err := vm.callValue(vm.peek(argc), argc, true); err != nil {
				return value.NewNil(), err
			}
		case chunk.OP_AWAIT:
			v := vm.pop()
			fut, ok := v.AsFuture()
			if !ok {
				vm.push(v) // passthrough for non-Future values (spec.md §7.3)
				continue
			}
			result, errv := fut.Await()
			if errv != nil {
				return value.NewNil(), vm.runtimeError("async call failed: %v", errv)
			}
			if rv, ok := result.(value.Value); ok {
				vm.push(rv)
			} else {
				vm.push(value.NewNil())
			}

		case chunk.OP_RETURN:
			result := vm.pop()
			vm.closeUpvalues(frame.Base)
			return result, nil

		case chunk.OP_IMPORT, chunk.OP_IMPORT_FROM_ALL:
			_ = readConstant() // module loading is handled by internal/boot before Interpret runs

		default:
			return value.NewNil(), vm.runtimeError("unknown opcode %d", op)
		}
	}
}

func fieldIndex(def *heap.StructDef, name string) int {
	for i, f := range def.Fields {
		if f == name {
			return i
		}
	}
	return -1
}

func numericCompare(a, b value.Value) int {
	af, bf := asFloat(a), asFloat(b)
	switch {
	case af < bf:
		return -1
	case af > bf:
		return 1
	default:
		return 0
	}
}

func asFloat(v value.Value) float64 {
	switch v.Type {
	case value.Int:
		return float64(v.AsInt)
	case value.Float:
		return v.AsFloat
	default:
		return math.NaN()
	}
}

func (vm *VM) lenOf(v value.Value) int {
	switch v.Type {
	case value.Obj:
		if a, ok := v.AsArray(); ok {
			return container.ArrayLen(a)
		}
		if s, ok := v.AsString(); ok {
			return len(s.Bytes)
		}
		if m, ok := v.AsMap(); ok {
			return m.Len()
		}
	}
	return 0
}
