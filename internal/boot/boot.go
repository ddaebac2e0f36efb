// Package boot wires together a ready-to-run VM: raising the process file
// descriptor limit, binding the native module registry, resolving `use`
// imports against the on-disk module search path, and draining async
// workers on shutdown.
package boot

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"embervm/internal/ast"
	"embervm/internal/compiler"
	"embervm/internal/heap"
	"embervm/internal/interp"
	"embervm/internal/lexer"
	"embervm/internal/natives"
	"embervm/internal/parser"
	"embervm/internal/value"
)

// Config controls how a VM is bootstrapped.
type Config struct {
	// LibsDir is the root of the on-disk module search path, the way
	// EmberLibsDir worked for the package manager (spec.md §6's "search
	// path for importing additional source modules").
	LibsDir string
	// DisableFileLimitRaise skips the rlimit adjustment, useful in test
	// environments that already sandbox file descriptor counts.
	DisableFileLimitRaise bool
}

func DefaultConfig() Config {
	return Config{LibsDir: "ember_libs"}
}

// New builds a VM with every bundled native module bound into its globals
// and, unless disabled, the process's open-file rlimit raised to its
// hard ceiling so a long-running script doing heavy kv/plugin I/O doesn't
// hit EMFILE.
func New(cfg Config) (*VM, error) {
	if !cfg.DisableFileLimitRaise {
		raiseFileLimit()
	}

	core := interp.New()
	for _, m := range []*natives.Module{
		natives.NewTimeModule(),
		natives.NewKVModule(),
	} {
		m.Bind(core.Globals)
	}

	return &VM{
		core:   core,
		cfg:    cfg,
		plugin: natives.NewPluginHost(cfg.LibsDir, core.Pool),
	}, nil
}

// raiseFileLimit mirrors the ulimit-raising a long-lived server process
// does at startup; best-effort, errors are swallowed since a failure here
// should not prevent the VM from starting.
func raiseFileLimit() {
	var rlim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlim); err != nil {
		return
	}
	if rlim.Cur >= rlim.Max {
		return
	}
	rlim.Cur = rlim.Max
	_ = unix.Setrlimit(unix.RLIMIT_NOFILE, &rlim)
}

// VM bundles the interpreter core with the services boot.New wires around
// it: the plugin host and the module loader used for `use` statements.
type VM struct {
	core   *interp.VM
	cfg    Config
	plugin *natives.PluginHost
}

func (vm *VM) Core() *interp.VM { return vm.core }

// Plugin exposes the subprocess plugin host so host programs can bind
// extension modules with natives.PluginHost.BindPluginCall before Run.
func (vm *VM) Plugin() *natives.PluginHost { return vm.plugin }

// Run compiles and executes source text as the top-level script. `use`
// statements are resolved up front (dispatch.go's OP_IMPORT is a no-op at
// runtime; it exists purely as a disassembly marker) so every imported
// module is already a bound global by the time the chunk runs.
func (vm *VM) Run(source, fileName string) (value.Value, error) {
	prog, err := vm.parse(source, fileName)
	if err != nil {
		return value.NewNil(), err
	}
	if err := vm.ResolveImports(prog); err != nil {
		return value.NewNil(), err
	}
	ck, errs := compiler.Compile(prog, vm.core.Pool)
	if len(errs) > 0 {
		return value.NewNil(), fmt.Errorf("compile error: %v", errs[0])
	}
	ck.FileName = fileName
	return vm.core.Interpret(ck)
}

// ResolveImports walks a program's top-level `use` statements and loads
// each named module before the program itself compiles or runs, exposed
// separately so a host that builds its own compile/run pipeline (e.g. a
// REPL that recompiles incrementally) can call it explicitly.
func (vm *VM) ResolveImports(prog *ast.Program) error {
	for _, stmt := range prog.Statements {
		if use, ok := stmt.(*ast.UseStmt); ok {
			if err := vm.Import(use.Module); err != nil {
				return err
			}
		}
	}
	return nil
}

func (vm *VM) parse(source, fileName string) (*ast.Program, error) {
	l := lexer.New(source)
	p := parser.New(l)
	prog := p.ParseProgram()
	if errs := p.Errors(); len(errs) > 0 {
		return nil, fmt.Errorf("parse error in %s: %s", fileName, errs[0])
	}
	return prog, nil
}

// Import resolves a `use` statement's module name against LibsDir,
// compiles the named source file in its own Compiler/Chunk, runs it in a
// fresh Environment, and registers the result as a heap.Module global —
// the "additional source module" loading path from spec.md §6.
func (vm *VM) Import(moduleName string) error {
	if _, ok := vm.core.Globals.Get(moduleName); ok {
		return nil // already loaded, idempotent
	}

	path, err := vm.resolveModulePath(moduleName)
	if err != nil {
		return err
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("import %s: %w", moduleName, err)
	}

	prog, err := vm.parse(string(src), path)
	if err != nil {
		return err
	}
	ck, errs := compiler.Compile(prog, vm.core.Pool)
	if len(errs) > 0 {
		return fmt.Errorf("import %s: compile error: %v", moduleName, errs[0])
	}
	ck.FileName = path

	moduleVM := interp.NewShared(vm.core)
	if _, err := moduleVM.Interpret(ck); err != nil {
		return fmt.Errorf("import %s: %w", moduleName, err)
	}

	mod := &heap.Module{
		Header: heap.Header{Tag: heap.TagModule, IsPermanent: true},
		Name:   moduleName,
		Env:    moduleVM.Globals,
		Source: string(src),
	}
	vm.core.Globals.Define(moduleName, value.NewObj(mod))
	return nil
}

func (vm *VM) resolveModulePath(moduleName string) (string, error) {
	candidates := []string{
		filepath.Join(vm.cfg.LibsDir, moduleName+".ember"),
		filepath.Join(vm.cfg.LibsDir, moduleName, "main.ember"),
		moduleName + ".ember",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("module %q not found under %s", moduleName, vm.cfg.LibsDir)
}

// Shutdown drains every outstanding async worker and waits for any
// in-flight background GC sweep, so the process never exits with an
// orphaned goroutine (spec.md §7.4, §6.6).
func (vm *VM) Shutdown() {
	vm.core.Async.Drain()
	vm.core.GC.Wait()
}
