// Package natives implements the (name, function, arity) registry that
// binds Go-native callables into the global environment under named
// module namespaces (spec.md §6). Bundled modules (time, kv, plugin) live
// alongside the registry itself.
package natives

import (
	"fmt"

	"embervm/internal/heap"
	"embervm/internal/value"
)

// Module is one native namespace (e.g. "time", "kv") bound as a Module
// object whose Environment holds its native Functions.
type Module struct {
	Name  string
	funcs map[string]*heap.Function
}

func NewModule(name string) *Module {
	return &Module{Name: name, funcs: make(map[string]*heap.Function)}
}

// Register binds a native Go function under name with a fixed arity;
// calling it with the wrong number of arguments is a runtime error raised
// by internal/interp's callValue, exactly as for interpreted functions.
func (m *Module) Register(name string, arity int, fn func(args []any) (any, error)) {
	m.funcs[name] = &heap.Function{
		Header:   heap.Header{Tag: heap.TagFunction, IsPermanent: true},
		Name:     fmt.Sprintf("%s.%s", m.Name, name),
		Arity:    arity,
		IsNative: true,
		Native:   fn,
	}
}

// Bind materializes the module as a heap.Module and defines it as a global
// under its own name, e.g. `use time` makes `time.now()` resolve through
// OP_GET_FIELD against this Module's Env.
func (m *Module) Bind(globals *heap.Environment) {
	env := heap.NewEnvironment(nil)
	for name, fn := range m.funcs {
		env.DefineFunction(name, fn)
	}
	mod := &heap.Module{Header: heap.Header{Tag: heap.TagModule, IsPermanent: true}, Name: m.Name, Env: env}
	globals.Define(m.Name, value.NewObj(mod))
}
