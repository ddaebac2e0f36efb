package natives

import (
	"testing"

	"embervm/internal/heap"
	"embervm/internal/value"
)

func TestBindExposesRegisteredFunctionsUnderModuleName(t *testing.T) {
	m := NewModule("mathx")
	m.Register("double", 1, func(args []any) (any, error) {
		n := args[0].(value.Value)
		return value.NewInt(n.AsInt * 2), nil
	})

	globals := heap.NewEnvironment(nil)
	m.Bind(globals)

	v, ok := globals.Get("mathx")
	if !ok {
		t.Fatal("Bind did not define a global under the module's name")
	}
	mod, ok := v.(value.Value).AsObj.(*heap.Module)
	if !ok {
		t.Fatalf("global 'mathx' is not a *heap.Module: %T", v)
	}

	fn, ok := mod.Env.GetFunction("double")
	if !ok {
		t.Fatal("bound module does not expose the registered function")
	}
	if !fn.IsNative || fn.Arity != 1 {
		t.Fatalf("registered function: IsNative=%v Arity=%d, want true/1", fn.IsNative, fn.Arity)
	}

	result, err := fn.Native([]any{value.NewInt(21)})
	if err != nil {
		t.Fatalf("Native call error: %v", err)
	}
	rv := result.(value.Value)
	if rv.AsInt != 42 {
		t.Fatalf("double(21) = %d, want 42", rv.AsInt)
	}
}

func TestRegisteredFunctionNameIsQualified(t *testing.T) {
	m := NewModule("time")
	m.Register("now", 0, func(args []any) (any, error) { return value.NewInt(0), nil })

	globals := heap.NewEnvironment(nil)
	m.Bind(globals)

	v, _ := globals.Get("time")
	mod := v.(value.Value).AsObj.(*heap.Module)
	fn, _ := mod.Env.GetFunction("now")
	if fn.Name != "time.now" {
		t.Fatalf("Name = %q, want time.now", fn.Name)
	}
}
