package vm_test

import (
	"context"
	"errors"
	"testing"

	errs "github.com/wippyai/wasm-vm/errors"
	"github.com/wippyai/wasm-vm/instance"
	"github.com/wippyai/wasm-vm/store"
	"github.com/wippyai/wasm-vm/value"
	"github.com/wippyai/wasm-vm/vm"
	"github.com/wippyai/wasm-vm/wasm"
)

func newVM(t *testing.T, opts ...vm.Option) (*vm.VM, context.Context) {
	t.Helper()
	ctx := context.Background()
	v, err := vm.New(ctx, opts...)
	if err != nil {
		t.Fatalf("vm.New: %v", err)
	}
	t.Cleanup(func() { _ = v.Close(ctx) })
	return v, ctx
}

func adderBytes(t *testing.T) []byte {
	t.Helper()
	m := &wasm.Module{
		Types: []value.FuncType{
			value.NewFuncType([]value.Kind{value.KindI32, value.KindI32}, []value.Kind{value.KindI32}),
		},
		Funcs: []uint32{0},
		Code: []wasm.FuncBody{{
			Code: []byte{0x20, 0x00, 0x20, 0x01, 0x6A, 0x0B},
		}},
		Exports: []wasm.Export{{Name: "add", Kind: wasm.KindFunc, Idx: 0}},
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("test module does not validate: %v", err)
	}
	return m.Encode()
}

// doublerBytes imports env.double and exports twice(n).
func doublerBytes(t *testing.T) []byte {
	t.Helper()
	m := &wasm.Module{
		Types: []value.FuncType{
			value.NewFuncType([]value.Kind{value.KindI32}, []value.Kind{value.KindI32}),
		},
		Imports: []wasm.Import{{
			Module: "env", Name: "double",
			Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 0},
		}},
		Funcs: []uint32{0},
		Code: []wasm.FuncBody{{
			Code: []byte{0x20, 0x00, 0x10, 0x00, 0x0B},
		}},
		Exports: []wasm.Export{{Name: "twice", Kind: wasm.KindFunc, Idx: 1}},
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("test module does not validate: %v", err)
	}
	return m.Encode()
}

func TestVM_RegisterAndRun(t *testing.T) {
	v, ctx := newVM(t)

	inst, err := v.RegisterModuleFromBytes(ctx, "calc", adderBytes(t))
	if err != nil {
		t.Fatalf("RegisterModuleFromBytes: %v", err)
	}
	if inst.Name() != "calc" {
		t.Errorf("instance name %q, expected calc", inst.Name())
	}

	results, err := v.RunRegisteredFunction(ctx, "calc", "add", value.I32(2), value.I32(3))
	if err != nil {
		t.Fatalf("RunRegisteredFunction: %v", err)
	}
	if results[0].ToI32() != 5 {
		t.Errorf("expected 5, got %d", results[0].ToI32())
	}
}

func TestVM_ActiveModule(t *testing.T) {
	v, ctx := newVM(t)

	if _, err := v.LoadFromBytes(ctx, adderBytes(t)); err != nil {
		t.Fatalf("LoadFromBytes: %v", err)
	}
	results, err := v.RunFunction(ctx, "add", value.I32(20), value.I32(22))
	if err != nil {
		t.Fatalf("RunFunction: %v", err)
	}
	if results[0].ToI32() != 42 {
		t.Errorf("expected 42, got %d", results[0].ToI32())
	}

	// Handles survive eviction from the active slot.
	held, err := v.GetFunction("add")
	if err != nil {
		t.Fatalf("GetFunction: %v", err)
	}
	if _, err := v.LoadFromBytes(ctx, adderBytes(t)); err != nil {
		t.Fatalf("second LoadFromBytes: %v", err)
	}
	results, err = held.Call(ctx, value.I32(1), value.I32(1))
	if err != nil {
		t.Fatalf("held handle call: %v", err)
	}
	if results[0].ToI32() != 2 {
		t.Errorf("expected 2, got %d", results[0].ToI32())
	}
}

func TestVM_HostImports(t *testing.T) {
	v, ctx := newVM(t)

	b := instance.NewBuilder()
	err := b.AddFunction("double",
		value.NewFuncType([]value.Kind{value.KindI32}, []value.Kind{value.KindI32}),
		func(_ context.Context, _ any, args []value.Value) ([]value.Value, error) {
			return []value.Value{value.I32(args[0].ToI32() * 2)}, nil
		}, nil)
	if err != nil {
		t.Fatalf("AddFunction: %v", err)
	}
	env, err := b.Finish("env")
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if err := v.RegisterImports(env); err != nil {
		t.Fatalf("RegisterImports: %v", err)
	}

	if _, err := v.RegisterModuleFromBytes(ctx, "doubler", doublerBytes(t)); err != nil {
		t.Fatalf("RegisterModuleFromBytes: %v", err)
	}
	results, err := v.RunRegisteredFunction(ctx, "doubler", "twice", value.I32(21))
	if err != nil {
		t.Fatalf("RunRegisteredFunction: %v", err)
	}
	if results[0].ToI32() != 42 {
		t.Errorf("expected 42, got %d", results[0].ToI32())
	}
}

func TestVM_GuestExportsSatisfyImports(t *testing.T) {
	v, ctx := newVM(t)

	// A registered guest's export can back another module's import,
	// with the import names matching the registered name and export.
	m := &wasm.Module{
		Types: []value.FuncType{
			value.NewFuncType([]value.Kind{value.KindI32}, []value.Kind{value.KindI32}),
		},
		Imports: []wasm.Import{{
			Module: "calc", Name: "add1",
			Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 0},
		}},
		Funcs: []uint32{0},
		Code: []wasm.FuncBody{{
			Code: []byte{0x20, 0x00, 0x10, 0x00, 0x10, 0x00, 0x0B}, // add1(add1(n))
		}},
		Exports: []wasm.Export{{Name: "add2", Kind: wasm.KindFunc, Idx: 1}},
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("test module does not validate: %v", err)
	}

	provider := &wasm.Module{
		Types: []value.FuncType{
			value.NewFuncType([]value.Kind{value.KindI32}, []value.Kind{value.KindI32}),
		},
		Funcs: []uint32{0},
		Code: []wasm.FuncBody{{
			Code: []byte{0x20, 0x00, 0x41, 0x01, 0x6A, 0x0B}, // n + 1
		}},
		Exports: []wasm.Export{{Name: "add1", Kind: wasm.KindFunc, Idx: 0}},
	}
	if err := provider.Validate(); err != nil {
		t.Fatalf("provider does not validate: %v", err)
	}

	if _, err := v.RegisterModuleFromBytes(ctx, "calc", provider.Encode()); err != nil {
		t.Fatalf("register provider: %v", err)
	}
	if _, err := v.RegisterModuleFromBytes(ctx, "chained", m.Encode()); err != nil {
		t.Fatalf("register importer: %v", err)
	}

	results, err := v.RunRegisteredFunction(ctx, "chained", "add2", value.I32(40))
	if err != nil {
		t.Fatalf("RunRegisteredFunction: %v", err)
	}
	if results[0].ToI32() != 42 {
		t.Errorf("expected 42, got %d", results[0].ToI32())
	}
}

func TestVM_SharedStore(t *testing.T) {
	s := store.New()

	b := instance.NewBuilder()
	err := b.AddFunction("double",
		value.NewFuncType([]value.Kind{value.KindI32}, []value.Kind{value.KindI32}),
		func(_ context.Context, _ any, args []value.Value) ([]value.Value, error) {
			return []value.Value{value.I32(args[0].ToI32() * 2)}, nil
		}, nil)
	if err != nil {
		t.Fatalf("AddFunction: %v", err)
	}
	env, err := b.Finish("env")
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if err := s.RegisterNamed("env", env); err != nil {
		t.Fatalf("RegisterNamed: %v", err)
	}

	v, ctx := newVM(t, vm.WithStore(s))
	if _, err := v.RegisterModuleFromBytes(ctx, "doubler", doublerBytes(t)); err != nil {
		t.Fatalf("RegisterModuleFromBytes: %v", err)
	}
	results, err := v.RunRegisteredFunction(ctx, "doubler", "twice", value.I32(4))
	if err != nil {
		t.Fatalf("RunRegisteredFunction: %v", err)
	}
	if results[0].ToI32() != 8 {
		t.Errorf("expected 8, got %d", results[0].ToI32())
	}
}

func TestVM_RegisterCollisionSkipsInstantiation(t *testing.T) {
	v, ctx := newVM(t)

	ticks := 0
	b := instance.NewBuilder()
	err := b.AddFunction("tick",
		value.NewFuncType(nil, nil),
		func(_ context.Context, _ any, _ []value.Value) ([]value.Value, error) {
			ticks++
			return nil, nil
		}, nil)
	if err != nil {
		t.Fatalf("AddFunction: %v", err)
	}
	env, err := b.Finish("env")
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if err := v.RegisterImports(env); err != nil {
		t.Fatalf("RegisterImports: %v", err)
	}

	// The start routine calls env.tick, so any instantiation is
	// observable through the counter.
	start := uint32(1)
	m := &wasm.Module{
		Types: []value.FuncType{value.NewFuncType(nil, nil)},
		Imports: []wasm.Import{{
			Module: "env", Name: "tick",
			Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 0},
		}},
		Funcs: []uint32{0},
		Start: &start,
		Code: []wasm.FuncBody{{
			Code: []byte{wasm.OpCall, 0x00, wasm.OpEnd},
		}},
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("test module does not validate: %v", err)
	}
	bin := m.Encode()

	if _, err := v.RegisterModuleFromBytes(ctx, "app", bin); err != nil {
		t.Fatalf("RegisterModuleFromBytes: %v", err)
	}
	if ticks != 1 {
		t.Fatalf("expected 1 tick after registration, got %d", ticks)
	}

	if _, err := v.RegisterModuleFromBytes(ctx, "app", bin); !errors.Is(err, &errs.Error{Phase: errs.PhaseStore, Kind: errs.KindNameCollision}) {
		t.Errorf("expected name_collision, got %v", err)
	}
	if _, err := v.RegisterModuleFromBytes(ctx, "", bin); !errors.Is(err, &errs.Error{Phase: errs.PhaseStore, Kind: errs.KindInvalidInput}) {
		t.Errorf("expected invalid_input for empty name, got %v", err)
	}
	if ticks != 1 {
		t.Errorf("rejected registrations must not instantiate, got %d ticks", ticks)
	}
}

func TestVM_Errors(t *testing.T) {
	v, ctx := newVM(t)

	if _, err := v.RunFunction(ctx, "add"); !errors.Is(err, &errs.Error{Phase: errs.PhaseStore, Kind: errs.KindNotFound}) {
		t.Errorf("expected not_found without an active module, got %v", err)
	}

	if _, err := v.RegisterModuleFromBytes(ctx, "bad", []byte{0x00, 0x61, 0x73}); !errors.Is(err, &errs.Error{Phase: errs.PhaseLoad, Kind: errs.KindMalformedBinary}) {
		t.Errorf("expected malformed_binary, got %v", err)
	}

	if _, err := v.RegisterModuleFromBytes(ctx, "calc", adderBytes(t)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := v.RegisterModuleFromBytes(ctx, "calc", adderBytes(t)); !errors.Is(err, &errs.Error{Phase: errs.PhaseStore, Kind: errs.KindNameCollision}) {
		t.Errorf("expected name_collision, got %v", err)
	}

	// Unresolved import is reported before any engine work, and the
	// failed registration leaves no trace in the store.
	if _, err := v.RegisterModuleFromBytes(ctx, "doubler", doublerBytes(t)); !errors.Is(err, &errs.Error{Phase: errs.PhaseInstantiate, Kind: errs.KindUnresolvedImport}) {
		t.Errorf("expected unresolved_import, got %v", err)
	}
	if _, err := v.Store().LookupNamed("doubler"); err == nil {
		t.Error("failed registration must not add a store entry")
	}
}
