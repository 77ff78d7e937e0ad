package executor_test

import (
	"context"
	"errors"
	"testing"

	errs "github.com/wippyai/wasm-vm/errors"
	"github.com/wippyai/wasm-vm/executor"
	"github.com/wippyai/wasm-vm/instance"
	"github.com/wippyai/wasm-vm/store"
	"github.com/wippyai/wasm-vm/value"
	"github.com/wippyai/wasm-vm/wasm"
)

// fakeEngine records what it was asked to instantiate and returns a
// canned instance.
type fakeEngine struct {
	gotImports []executor.ResolvedImport
	result     *instance.Module
	err        error
}

func (f *fakeEngine) Instantiate(_ context.Context, _ *wasm.Module, imports []executor.ResolvedImport, name string) (*instance.Module, error) {
	f.gotImports = imports
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return instance.NewModule(name), nil
}

func u64(v uint64) *uint64 { return &v }

var logType = value.NewFuncType([]value.Kind{value.KindI32}, nil)

// importingModule declares one function import env.log (i32) -> ().
func importingModule() *wasm.Module {
	return &wasm.Module{
		Types: []value.FuncType{logType},
		Imports: []wasm.Import{
			{Module: "env", Name: "log", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 0}},
		},
	}
}

func envCollection(t *testing.T) *instance.Module {
	t.Helper()
	b := instance.NewBuilder()
	err := b.AddFunction("log", logType,
		func(_ context.Context, _ any, _ []value.Value) ([]value.Value, error) {
			return nil, nil
		}, nil)
	if err != nil {
		t.Fatal(err)
	}
	mod, err := b.Finish("env")
	if err != nil {
		t.Fatal(err)
	}
	return mod
}

func TestInstantiate_ResolvesImports(t *testing.T) {
	eng := &fakeEngine{}
	exec := executor.New(eng)

	s := store.New()
	if err := s.RegisterNamed("env", envCollection(t)); err != nil {
		t.Fatal(err)
	}

	inst, err := exec.Instantiate(context.Background(), importingModule(), executor.StoreResolver(s), "main")
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	if inst.Name() != "main" {
		t.Errorf("expected name main, got %q", inst.Name())
	}
	if len(eng.gotImports) != 1 || eng.gotImports[0].Module != "env" || eng.gotImports[0].Name != "log" {
		t.Errorf("engine received imports %+v", eng.gotImports)
	}
}

func TestInstantiate_UnresolvedImport(t *testing.T) {
	exec := executor.New(&fakeEngine{})
	_, err := exec.Instantiate(context.Background(), importingModule(), executor.StoreResolver(store.New()), "main")
	if !errors.Is(err, &errs.Error{Phase: errs.PhaseInstantiate, Kind: errs.KindUnresolvedImport}) {
		t.Errorf("expected unresolved_import, got %v", err)
	}
}

func TestInstantiate_FunctionTypeMismatch(t *testing.T) {
	exec := executor.New(&fakeEngine{})

	b := instance.NewBuilder()
	wrongType := value.NewFuncType([]value.Kind{value.KindI64}, nil)
	if err := b.AddFunction("log", wrongType,
		func(_ context.Context, _ any, _ []value.Value) ([]value.Value, error) { return nil, nil },
		nil); err != nil {
		t.Fatal(err)
	}
	env, _ := b.Finish("env")

	s := store.New()
	if err := s.RegisterNamed("env", env); err != nil {
		t.Fatal(err)
	}

	_, err := exec.Instantiate(context.Background(), importingModule(), executor.StoreResolver(s), "main")
	if !errors.Is(err, &errs.Error{Phase: errs.PhaseInstantiate, Kind: errs.KindImportTypeMismatch}) {
		t.Errorf("expected import_type_mismatch, got %v", err)
	}
}

func TestInstantiate_KindMismatch(t *testing.T) {
	exec := executor.New(&fakeEngine{})

	b := instance.NewBuilder()
	if err := b.AddGlobal("log", false, value.I32(0)); err != nil {
		t.Fatal(err)
	}
	env, _ := b.Finish("env")

	s := store.New()
	if err := s.RegisterNamed("env", env); err != nil {
		t.Fatal(err)
	}

	_, err := exec.Instantiate(context.Background(), importingModule(), executor.StoreResolver(s), "main")
	if !errors.Is(err, &errs.Error{Phase: errs.PhaseInstantiate, Kind: errs.KindImportTypeMismatch}) {
		t.Errorf("expected import_type_mismatch, got %v", err)
	}
}

func TestInstantiate_MemoryLimits(t *testing.T) {
	tests := []struct {
		name     string
		provided wasm.Limits
		required wasm.Limits
		ok       bool
	}{
		{"exact", wasm.Limits{Min: 1, Max: u64(2)}, wasm.Limits{Min: 1, Max: u64(2)}, true},
		{"more permissive min", wasm.Limits{Min: 2}, wasm.Limits{Min: 1}, true},
		{"provided too small", wasm.Limits{Min: 1}, wasm.Limits{Min: 2}, false},
		{"provided unbounded, max required", wasm.Limits{Min: 1}, wasm.Limits{Min: 1, Max: u64(4)}, false},
		{"provided max too large", wasm.Limits{Min: 1, Max: u64(8)}, wasm.Limits{Min: 1, Max: u64(4)}, false},
		{"required unbounded", wasm.Limits{Min: 1, Max: u64(2)}, wasm.Limits{Min: 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mod := &wasm.Module{
				Imports: []wasm.Import{
					{Module: "env", Name: "mem", Desc: wasm.ImportDesc{
						Kind:   wasm.KindMemory,
						Memory: &wasm.MemoryType{Limits: tt.required},
					}},
				},
			}

			b := instance.NewBuilder()
			if err := b.AddMemory("mem", tt.provided); err != nil {
				t.Fatal(err)
			}
			env, _ := b.Finish("env")
			s := store.New()
			if err := s.RegisterNamed("env", env); err != nil {
				t.Fatal(err)
			}

			exec := executor.New(&fakeEngine{})
			_, err := exec.Instantiate(context.Background(), mod, executor.StoreResolver(s), "main")
			if tt.ok && err != nil {
				t.Errorf("expected success, got %v", err)
			}
			if !tt.ok && !errors.Is(err, &errs.Error{Phase: errs.PhaseInstantiate, Kind: errs.KindImportTypeMismatch}) {
				t.Errorf("expected import_type_mismatch, got %v", err)
			}
		})
	}
}

func TestInstantiate_GlobalMutabilityExact(t *testing.T) {
	mod := &wasm.Module{
		Imports: []wasm.Import{
			{Module: "env", Name: "g", Desc: wasm.ImportDesc{
				Kind:   wasm.KindGlobal,
				Global: &wasm.GlobalType{Type: value.KindI32, Mutable: false},
			}},
		},
	}

	b := instance.NewBuilder()
	if err := b.AddGlobal("g", true, value.I32(1)); err != nil {
		t.Fatal(err)
	}
	env, _ := b.Finish("env")
	s := store.New()
	if err := s.RegisterNamed("env", env); err != nil {
		t.Fatal(err)
	}

	exec := executor.New(&fakeEngine{})
	_, err := exec.Instantiate(context.Background(), mod, executor.StoreResolver(s), "main")
	if !errors.Is(err, &errs.Error{Phase: errs.PhaseInstantiate, Kind: errs.KindImportTypeMismatch}) {
		t.Errorf("expected import_type_mismatch for mutability, got %v", err)
	}
}

func TestInstantiate_EngineFailurePropagates(t *testing.T) {
	trap := errs.StartTrap(errors.New("unreachable"))
	exec := executor.New(&fakeEngine{err: trap})

	_, err := exec.Instantiate(context.Background(), &wasm.Module{}, nil, "main")
	if !errors.Is(err, &errs.Error{Phase: errs.PhaseInstantiate, Kind: errs.KindStartTrap}) {
		t.Errorf("expected start_trap, got %v", err)
	}
}

func TestGetExport(t *testing.T) {
	exec := executor.New(&fakeEngine{})
	env := envCollection(t)

	ext, err := exec.GetExport(env, "log", wasm.KindFunc)
	if err != nil || ext.Func == nil {
		t.Errorf("expected function export, got %+v (%v)", ext, err)
	}

	_, err = exec.GetExport(env, "log", wasm.KindMemory)
	if !errors.Is(err, &errs.Error{Phase: errs.PhaseStore, Kind: errs.KindKindMismatch}) {
		t.Errorf("expected kind_mismatch, got %v", err)
	}

	_, err = exec.GetExport(env, "missing", wasm.KindFunc)
	if !errors.Is(err, &errs.Error{Phase: errs.PhaseStore, Kind: errs.KindNotFound}) {
		t.Errorf("expected not_found, got %v", err)
	}
}

func TestCall_Delegates(t *testing.T) {
	exec := executor.New(&fakeEngine{})
	env := envCollection(t)
	fn, err := env.Function("log")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := exec.Call(context.Background(), fn, value.I32(1)); err != nil {
		t.Errorf("call failed: %v", err)
	}
	if _, err := exec.Call(context.Background(), nil); err == nil {
		t.Error("expected error for nil function")
	}
}
