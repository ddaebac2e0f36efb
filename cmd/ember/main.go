package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"

	"embervm/internal/ast"
	"embervm/internal/boot"
	"embervm/internal/chunk"
	"embervm/internal/compiler"
	"embervm/internal/lexer"
	"embervm/internal/parser"
	"embervm/internal/pkgmanager"
	"embervm/internal/strpool"
	"embervm/internal/token"
)

const Version = "v1.0.0"

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Println("Recovered from panic:", r)
			debug.PrintStack()
		}
	}()

	// Parse flags
	showDisassembly := flag.Bool("disassembly", false, "Show bytecode disassembly")
	showVersion := flag.Bool("version", false, "Show version information")
	showHelp := flag.Bool("help", false, "Show help message")

	// Custom Usage to show double dashes
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ember [options] [file]\n\nOptions:\n")
		flag.VisitAll(func(f *flag.Flag) {
			fmt.Fprintf(os.Stderr, "  --%s\n\t%s\n", f.Name, f.Usage)
		})
	}

	flag.Parse()

	if *showHelp {
		flag.Usage()
		return
	}

	if *showVersion {
		fmt.Printf("Ember %s\n", Version)
		return
	}

	// Remaining args are positional
	args := flag.Args()

	if len(args) >= 2 && args[0] == "get" {
		if err := pkgmanager.Get(args[1]); err != nil {
			fmt.Printf("Error fetching package: %s\n", err)
			os.Exit(1)
		}
		return
	}

	if len(args) < 1 {
		startREPL(*showDisassembly)
		return
	}

	filename := args[0]
	content, err := os.ReadFile(filename)
	if err != nil {
		fmt.Printf("Error reading file: %s\n", err)
		return
	}

	runWithConfig(filename, string(content), getDir(filename), *showDisassembly)
}

func getDir(path string) string {
	return filepath.Dir(path)
}

func startREPL(showDisasm bool) {
	fmt.Printf("Ember REPL %s\n", Version)
	fmt.Println("Type 'exit' to quit.")

	// Shared VM for persistence
	cfg := boot.DefaultConfig()
	machine, err := boot.New(cfg)
	if err != nil {
		fmt.Printf("Failed to start VM: %s\n", err)
		os.Exit(1)
	}
	defer machine.Shutdown()

	scanner := bufio.NewScanner(os.Stdin)
	var inputBuffer string

	for {
		if inputBuffer == "" {
			fmt.Print(">>> ")
		} else {
			fmt.Print("... ")
		}
		os.Stdout.Sync()

		if !scanner.Scan() {
			break
		}
		line := scanner.Text()

		if strings.TrimSpace(line) == "exit" {
			break
		}

		// Handle empty lines in multiline mode
		if strings.TrimSpace(line) == "" && inputBuffer == "" {
			continue
		}

		// Append to buffer
		if inputBuffer == "" {
			inputBuffer = line
		} else {
			inputBuffer += "\n" + line
		}

		// 1. Parse
		l := lexer.New(inputBuffer)
		p := parser.New(l)
		program := p.ParseProgram()

		if len(p.Errors()) > 0 {
			// Check for incomplete input
			isIncomplete := false
			for _, msg := range p.Errors() {
				if strings.Contains(msg, "found end of file") || strings.Contains(msg, "found EOF") {
					isIncomplete = true
					break
				}
			}

			if isIncomplete {
				continue
			}

			for _, msg := range p.Errors() {
				fmt.Printf("%s\n", msg)
			}
			inputBuffer = "" // Reset
			continue
		}

		// 2. REPL magic: a single bare expression statement gets printed.
		// "1 + 1" -> "print(1 + 1)"
		if len(program.Statements) == 1 {
			if exprStmt, ok := program.Statements[0].(*ast.ExpressionStmt); ok {
				callExpr := &ast.CallExpression{
					Token: token.Token{Type: token.IDENTIFIER, Literal: "print"},
					Function: &ast.Identifier{
						Token: token.Token{Type: token.IDENTIFIER, Literal: "print"},
						Value: "print",
					},
					Arguments: []ast.Expression{exprStmt.Expression},
				}
				program.Statements[0] = &ast.ExpressionStmt{
					Token:      exprStmt.Token,
					Expression: callExpr,
				}
			}
		}

		if err := machine.ResolveImports(program); err != nil {
			fmt.Printf("Import error: %s\n", err)
			inputBuffer = ""
			continue
		}

		// 3. Compile (the shared string pool keeps interned identity across lines)
		ck, errs := compiler.Compile(program, machine.Core().Pool)
		if len(errs) > 0 {
			fmt.Printf("Compiler error: %s\n", errs[0])
			inputBuffer = ""
			continue
		}
		ck.FileName = "REPL"

		// 4. Disassembly (optional)
		if showDisasm {
			ck.DisassembleAll("REPL")
		}

		// 5. Interpret using the shared VM, so globals persist across lines.
		if _, err := machine.Core().Interpret(ck); err != nil {
			fmt.Printf("Runtime error: %s\n", err)
		}

		inputBuffer = "" // Reset buffer after execution
	}
}

func runWithConfig(filename, input, rootPath string, showDisasm bool) {
	l := lexer.New(input)
	p := parser.New(l)
	program := p.ParseProgram()

	if len(p.Errors()) > 0 {
		for _, msg := range p.Errors() {
			fmt.Printf("%s\n", msg)
		}
		os.Exit(1)
	}

	cfg := boot.DefaultConfig()
	cfg.LibsDir = filepath.Join(rootPath, "ember_libs")
	machine, err := boot.New(cfg)
	if err != nil {
		fmt.Printf("Failed to start VM: %s\n", err)
		os.Exit(1)
	}
	defer machine.Shutdown()

	if err := machine.ResolveImports(program); err != nil {
		fmt.Printf("Import error: %s\n", err)
		os.Exit(1)
	}

	ck, errs := compileForRun(program, machine.Core().Pool, filename, showDisasm)
	if errs != nil {
		for _, e := range errs {
			fmt.Printf("Compiler error: %s\n", e)
		}
		os.Exit(1)
	}

	if _, err := machine.Core().Interpret(ck); err != nil {
		fmt.Printf("Runtime error: %s\n", err)
		os.Exit(1)
	}
}

func compileForRun(program *ast.Program, pool *strpool.Pool, filename string, showDisasm bool) (*chunk.Chunk, []error) {
	ck, errs := compiler.Compile(program, pool)
	if len(errs) > 0 {
		return nil, errs
	}
	ck.FileName = filename

	if showDisasm {
		fmt.Printf("Disassembly:\n")
		ck.DisassembleAll("main")
		fmt.Printf("\nExecution:\n")
	}
	return ck, nil
}
