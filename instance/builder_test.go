package instance_test

import (
	"context"
	"errors"
	"testing"

	errs "github.com/wippyai/wasm-vm/errors"
	"github.com/wippyai/wasm-vm/instance"
	"github.com/wippyai/wasm-vm/value"
	"github.com/wippyai/wasm-vm/wasm"
)

func TestBuilder_Assemble(t *testing.T) {
	b := instance.NewBuilder()

	if err := b.AddFunction("add", addType, addFn, nil); err != nil {
		t.Fatalf("AddFunction: %v", err)
	}
	if err := b.AddMemory("memory", wasm.Limits{Min: 1}); err != nil {
		t.Fatalf("AddMemory: %v", err)
	}
	if err := b.AddGlobal("offset", false, value.I32(16)); err != nil {
		t.Fatalf("AddGlobal: %v", err)
	}
	if err := b.AddTable("table", wasm.TableType{Elem: value.KindFuncRef, Limits: wasm.Limits{Min: 1}}); err != nil {
		t.Fatalf("AddTable: %v", err)
	}

	mod, err := b.Finish("env")
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if mod.Name() != "env" {
		t.Errorf("expected name env, got %q", mod.Name())
	}
	if mod.NumExports() != 4 {
		t.Errorf("expected 4 exports, got %d", mod.NumExports())
	}

	names := mod.ExportNames()
	want := []string{"add", "memory", "offset", "table"}
	for i, n := range want {
		if names[i] != n {
			t.Errorf("export order: got %v, want %v", names, want)
			break
		}
	}

	fn, err := mod.Function("add")
	if err != nil {
		t.Fatalf("Function lookup: %v", err)
	}
	results, err := fn.Call(context.Background(), value.I32(20), value.I32(22))
	if err != nil || results[0].ToI32() != 42 {
		t.Errorf("call through assembled module: %v (%v)", results, err)
	}

	g, err := mod.Global("offset")
	if err != nil || g.Value().ToI32() != 16 {
		t.Errorf("global lookup: %v (%v)", g, err)
	}
}

func TestBuilder_DuplicateName(t *testing.T) {
	b := instance.NewBuilder()
	if err := b.AddGlobal("x", false, value.I32(1)); err != nil {
		t.Fatal(err)
	}
	err := b.AddMemory("x", wasm.Limits{Min: 1})
	if !errors.Is(err, &errs.Error{Phase: errs.PhaseHost, Kind: errs.KindDuplicateExport}) {
		t.Errorf("expected duplicate_export, got %v", err)
	}
}

func TestBuilder_FinishConsumes(t *testing.T) {
	b := instance.NewBuilder()
	if _, err := b.Finish("env"); err != nil {
		t.Fatalf("first Finish: %v", err)
	}
	if _, err := b.Finish("env"); err == nil {
		t.Error("expected second Finish to fail")
	}
	if err := b.AddGlobal("x", false, value.I32(1)); err == nil {
		t.Error("expected Add after Finish to fail")
	}
}

func TestBuilder_EmptyNames(t *testing.T) {
	b := instance.NewBuilder()
	if err := b.AddGlobal("", false, value.I32(1)); err == nil {
		t.Error("expected error for empty export name")
	}
	if _, err := b.Finish(""); err == nil {
		t.Error("expected error for empty module name")
	}
}

func TestModule_LookupErrors(t *testing.T) {
	b := instance.NewBuilder()
	if err := b.AddGlobal("g", false, value.I32(1)); err != nil {
		t.Fatal(err)
	}
	mod, err := b.Finish("env")
	if err != nil {
		t.Fatal(err)
	}

	_, err = mod.Function("missing")
	if !errors.Is(err, &errs.Error{Phase: errs.PhaseStore, Kind: errs.KindNotFound}) {
		t.Errorf("expected not_found, got %v", err)
	}

	_, err = mod.Function("g")
	if !errors.Is(err, &errs.Error{Phase: errs.PhaseStore, Kind: errs.KindKindMismatch}) {
		t.Errorf("expected kind_mismatch, got %v", err)
	}

	if _, err := mod.Global("g"); err != nil {
		t.Errorf("exact kind lookup failed: %v", err)
	}
}

func TestModule_AddExportDuplicate(t *testing.T) {
	mod := instance.NewModule("m")
	g, _ := instance.NewGlobal(value.KindI32, false, value.I32(1))
	if err := mod.AddExport("x", instance.GlobalExtern(g)); err != nil {
		t.Fatal(err)
	}
	if err := mod.AddExport("x", instance.GlobalExtern(g)); err == nil {
		t.Error("expected duplicate export error")
	}
}
