package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/wasm-vm/engine"
	"github.com/wippyai/wasm-vm/instance"
	"github.com/wippyai/wasm-vm/value"
	"github.com/wippyai/wasm-vm/vm"
	"github.com/wippyai/wasm-vm/wasi"
	"github.com/wippyai/wasm-vm/wasm"
)

func main() {
	var (
		wasmFile    = flag.String("wasm", "", "Path to wasm file")
		funcName    = flag.String("func", "", "Function to call")
		argsStr     = flag.String("args", "", "Arguments (i32:5,i64:9,f32:1.5,f64:2.5)")
		list        = flag.Bool("list", false, "List exported functions and exit")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
		verbose     = flag.Bool("v", false, "Verbose logging")
	)
	flag.Parse()

	if *wasmFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: wasmvm -wasm <file.wasm> -func name [-args i32:1,...]")
		fmt.Fprintln(os.Stderr, "       wasmvm -wasm <file.wasm> -list")
		fmt.Fprintln(os.Stderr, "       wasmvm -wasm <file.wasm> -i  (interactive mode)")
		os.Exit(1)
	}

	if *verbose {
		log, err := zap.NewDevelopment()
		if err == nil {
			engine.SetLogger(log)
		}
	}

	if *interactive {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			fmt.Fprintln(os.Stderr, "Error: interactive mode needs a terminal")
			os.Exit(1)
		}
		if err := runInteractive(*wasmFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(*wasmFile, *funcName, *argsStr, *list, *verbose); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(wasmFile, funcName, argsStr string, listOnly, verbose bool) error {
	ctx := context.Background()

	data, err := os.ReadFile(wasmFile)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	mod, err := wasm.ParseModuleValidate(data)
	if err != nil {
		return err
	}

	fmt.Printf("Module: %s\n", wasmFile)
	fmt.Printf("Imports: %d\n", len(mod.Imports))
	fmt.Printf("Exports: %d\n", len(mod.Exports))

	fmt.Printf("\nExported functions:\n")
	for _, f := range exportedFuncs(mod) {
		fmt.Printf("  %s %s\n", f.name, f.typ)
	}

	if listOnly {
		return nil
	}
	if funcName == "" {
		return fmt.Errorf("no function given; use -func or -list")
	}

	opts := []vm.Option{}
	if verbose {
		if log, err := zap.NewDevelopment(); err == nil {
			opts = append(opts, vm.WithLogger(log))
		}
	}
	v, err := vm.New(ctx, opts...)
	if err != nil {
		return err
	}
	defer v.Close(ctx)

	p := wasi.New(wasi.WithStdout(os.Stdout), wasi.WithStderr(os.Stderr))
	if _, err := loadWithWASI(ctx, v, p, data); err != nil {
		return err
	}

	args, err := parseArgs(argsStr)
	if err != nil {
		return err
	}

	results, err := v.RunFunction(ctx, funcName, args...)
	if err != nil {
		return err
	}

	for _, r := range results {
		fmt.Println(r)
	}
	return nil
}

type funcExport struct {
	name string
	typ  value.FuncType
}

func exportedFuncs(mod *wasm.Module) []funcExport {
	var out []funcExport
	for _, exp := range mod.Exports {
		if exp.Kind != wasm.KindFunc {
			continue
		}
		if ft, ok := mod.FuncType(exp.Idx); ok {
			out = append(out, funcExport{name: exp.Name, typ: ft})
		}
	}
	return out
}

// loadWithWASI registers the preview1 module, instantiates data as the
// active module, and binds the guest's exported memory to the
// syscalls when present.
func loadWithWASI(ctx context.Context, v *vm.VM, p *wasi.P1, data []byte) (*instance.Module, error) {
	syscalls, err := p.Module()
	if err != nil {
		return nil, err
	}
	if err := v.RegisterImports(syscalls); err != nil {
		return nil, err
	}

	loaded, err := v.LoadFromBytes(ctx, data)
	if err != nil {
		return nil, err
	}
	if mem, err := loaded.Memory("memory"); err == nil {
		p.BindMemory(mem)
	}
	return loaded, nil
}

// parseArgs turns "i32:5,f64:1.5" into call arguments.
func parseArgs(s string) ([]value.Value, error) {
	if s == "" {
		return nil, nil
	}
	var out []value.Value
	for _, part := range strings.Split(s, ",") {
		kind, lit, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			return nil, fmt.Errorf("argument %q: expected type:value", part)
		}
		v, err := parseArg(kind, lit)
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", part, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func parseArg(kind, lit string) (value.Value, error) {
	switch kind {
	case "i32":
		n, err := strconv.ParseInt(lit, 0, 32)
		if err != nil {
			return value.Value{}, err
		}
		return value.I32(int32(n)), nil
	case "i64":
		n, err := strconv.ParseInt(lit, 0, 64)
		if err != nil {
			return value.Value{}, err
		}
		return value.I64(n), nil
	case "f32":
		f, err := strconv.ParseFloat(lit, 32)
		if err != nil {
			return value.Value{}, err
		}
		return value.F32(float32(f)), nil
	case "f64":
		f, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return value.Value{}, err
		}
		return value.F64(f), nil
	}
	return value.Value{}, fmt.Errorf("unknown type %q", kind)
}
