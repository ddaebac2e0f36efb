package natives

import (
	"fmt"
	"strings"

	"embervm/internal/container"
	"embervm/internal/heap"
	"embervm/internal/strpool"
	"embervm/internal/value"
)

// Barrier matches gc.Collector.WriteBarrier's signature without pulling in
// an import of internal/gc (which would cycle back through internal/heap);
// natives that mutate an already-allocated container must call it with the
// mutated object as holder whenever the stored value is a heap reference.
type Barrier func(holder, referent heap.Object)

// RegisterBuiltins binds the handful of free-standing (not module-scoped)
// natives every script relies on directly: print, len, map
// construction, and the map/array primitives spec.md §8's scenarios call
// by name (has, delete, keys, push, pop). Grounded on the teacher's own
// `VM.New` defining `print`/`iprint`/etc straight onto the globals table
// (estevaofon-noxy/internal/vm/vm.go) rather than nesting them under a
// module namespace the way `time`/`kv` are.
func RegisterBuiltins(globals *heap.Environment, pool *strpool.Pool, barrier Barrier) {
	define := func(name string, arity int, variadic bool, fn func(args []any) (any, error)) {
		globals.DefineFunction(name, &heap.Function{
			Header:     heap.Header{Tag: heap.TagFunction, IsPermanent: true},
			Name:       name,
			Arity:      arity,
			IsVariadic: variadic,
			IsNative:   true,
			Native:     fn,
		})
	}

	// print joins its arguments with a space and a trailing newline, the
	// same as the teacher's `print` native.
	define("print", 0, true, func(args []any) (any, error) {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = value.String(a.(value.Value))
		}
		fmt.Println(strings.Join(parts, " "))
		return value.NewNil(), nil
	})

	define("len", 1, false, func(args []any) (any, error) {
		v := args[0].(value.Value)
		if arr, ok := v.AsArray(); ok {
			return value.NewInt(int64(container.ArrayLen(arr))), nil
		}
		if s, ok := v.AsString(); ok {
			return value.NewInt(int64(len(s.Bytes))), nil
		}
		if m, ok := v.AsMap(); ok {
			return value.NewInt(int64(m.Len())), nil
		}
		return nil, fmt.Errorf("len: cannot measure a %s", value.TypeName(v))
	})

	// map() returns a fresh, empty Map object (spec.md §8 scenario 3).
	define("map", 0, false, func(args []any) (any, error) {
		return value.NewObj(heap.NewMap()), nil
	})

	define("has", 2, false, func(args []any) (any, error) {
		m, ok := args[0].(value.Value).AsMap()
		if !ok {
			return nil, fmt.Errorf("has: first argument is not a map")
		}
		_, found := container.WrapMap(m, pool).Get(args[1].(value.Value))
		return value.NewBool(found), nil
	})

	define("delete", 2, false, func(args []any) (any, error) {
		m, ok := args[0].(value.Value).AsMap()
		if !ok {
			return nil, fmt.Errorf("delete: first argument is not a map")
		}
		removed := container.WrapMap(m, pool).Delete(args[1].(value.Value))
		return value.NewBool(removed), nil
	})

	define("keys", 1, false, func(args []any) (any, error) {
		m, ok := args[0].(value.Value).AsMap()
		if !ok {
			return nil, fmt.Errorf("keys: argument is not a map")
		}
		return value.NewObj(container.NewArray(container.Keys(container.WrapMap(m, pool)))), nil
	})

	define("push", 2, false, func(args []any) (any, error) {
		arr, ok := args[0].(value.Value).AsArray()
		if !ok {
			return nil, fmt.Errorf("push: first argument is not an array")
		}
		pushed := args[1].(value.Value)
		container.ArrayPush(arr, pushed)
		if pushed.Type == value.Obj && pushed.AsObj != nil {
			barrier(arr, pushed.AsObj)
		}
		return value.NewNil(), nil
	})

	define("pop", 1, false, func(args []any) (any, error) {
		arr, ok := args[0].(value.Value).AsArray()
		if !ok {
			return nil, fmt.Errorf("pop: argument is not an array")
		}
		return container.ArrayPop(arr)
	})
}
