package wasm_test

import (
	"errors"
	"strings"
	"testing"

	errs "github.com/wippyai/wasm-vm/errors"
	"github.com/wippyai/wasm-vm/value"
	"github.com/wippyai/wasm-vm/wasm"
)

func TestValidate_Valid(t *testing.T) {
	if err := addModule().Validate(); err != nil {
		t.Errorf("valid module failed validation: %v", err)
	}
}

func TestValidate_InvalidTypeIndex(t *testing.T) {
	m := &wasm.Module{
		Types: []value.FuncType{{}},
		Funcs: []uint32{5},
		Code:  []wasm.FuncBody{{Code: []byte{wasm.OpEnd}}},
	}
	err := m.Validate()
	if !errors.Is(err, &errs.Error{Phase: errs.PhaseValidate, Kind: errs.KindUnknownIndex}) {
		t.Errorf("expected unknown_index, got %v", err)
	}
}

func TestValidate_InvalidFunctionExport(t *testing.T) {
	m := addModule()
	m.Exports = append(m.Exports, wasm.Export{Name: "missing", Kind: wasm.KindFunc, Idx: 10})
	err := m.Validate()
	if !errors.Is(err, &errs.Error{Phase: errs.PhaseValidate, Kind: errs.KindUnknownIndex}) {
		t.Errorf("expected unknown_index, got %v", err)
	}
}

func TestValidate_DuplicateExportName(t *testing.T) {
	m := addModule()
	m.Memories = []wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}}
	m.Exports = append(m.Exports, wasm.Export{Name: "add", Kind: wasm.KindMemory, Idx: 0})
	err := m.Validate()
	if !errors.Is(err, &errs.Error{Phase: errs.PhaseValidate, Kind: errs.KindDuplicateExport}) {
		t.Errorf("expected duplicate_export, got %v", err)
	}
}

func TestValidate_StartMustBeNullary(t *testing.T) {
	m := addModule()
	start := uint32(0) // add has type [i32 i32] -> [i32]
	m.Start = &start
	err := m.Validate()
	if !errors.Is(err, &errs.Error{Phase: errs.PhaseValidate, Kind: errs.KindTypeMismatch}) {
		t.Errorf("expected type_mismatch, got %v", err)
	}
}

func TestValidate_MemoryLimits(t *testing.T) {
	tests := []struct {
		name   string
		limits wasm.Limits
		valid  bool
	}{
		{"no max", wasm.Limits{Min: 1}, true},
		{"min equals max", wasm.Limits{Min: 2, Max: u64(2)}, true},
		{"min exceeds max", wasm.Limits{Min: 3, Max: u64(2)}, false},
		{"min exceeds page ceiling", wasm.Limits{Min: 65537}, false},
		{"max exceeds page ceiling", wasm.Limits{Min: 1, Max: u64(70000)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &wasm.Module{Memories: []wasm.MemoryType{{Limits: tt.limits}}}
			err := m.Validate()
			if tt.valid && err != nil {
				t.Errorf("expected valid, got %v", err)
			}
			if !tt.valid && !errors.Is(err, &errs.Error{Phase: errs.PhaseValidate, Kind: errs.KindInvalidLimits}) {
				t.Errorf("expected invalid_limits, got %v", err)
			}
		})
	}
}

func TestValidate_CodeCountMismatch(t *testing.T) {
	m := &wasm.Module{
		Types: []value.FuncType{{}},
		Funcs: []uint32{0, 0},
		Code:  []wasm.FuncBody{{Code: []byte{wasm.OpEnd}}},
	}
	err := m.Validate()
	if err == nil || !strings.Contains(err.Error(), "code section") {
		t.Errorf("expected code count error, got %v", err)
	}
}

func TestValidate_GlobalInitTypeMismatch(t *testing.T) {
	m := &wasm.Module{
		Globals: []wasm.Global{
			{
				Type: wasm.GlobalType{Type: value.KindI64},
				Init: []byte{wasm.OpI32Const, 0x01, wasm.OpEnd},
			},
		},
	}
	err := m.Validate()
	if !errors.Is(err, &errs.Error{Phase: errs.PhaseValidate, Kind: errs.KindTypeMismatch}) {
		t.Errorf("expected type_mismatch, got %v", err)
	}
}

func TestValidate_GlobalInitMustUseImportedGlobal(t *testing.T) {
	m := &wasm.Module{
		Globals: []wasm.Global{
			{
				Type: wasm.GlobalType{Type: value.KindI32},
				Init: []byte{wasm.OpI32Const, 0x00, wasm.OpEnd},
			},
			{
				Type: wasm.GlobalType{Type: value.KindI32},
				Init: []byte{wasm.OpGlobalGet, 0x00, wasm.OpEnd}, // names a declared global
			},
		},
	}
	err := m.Validate()
	if err == nil || !strings.Contains(err.Error(), "imported global") {
		t.Errorf("expected imported-global error, got %v", err)
	}
}

func TestValidate_DataOffsetMustBeI32(t *testing.T) {
	m := &wasm.Module{
		Memories: []wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}},
		Data: []wasm.DataSegment{
			{Flags: 0, Offset: []byte{wasm.OpI64Const, 0x00, wasm.OpEnd}, Init: []byte{0x01}},
		},
	}
	err := m.Validate()
	if !errors.Is(err, &errs.Error{Phase: errs.PhaseValidate, Kind: errs.KindTypeMismatch}) {
		t.Errorf("expected type_mismatch, got %v", err)
	}
}

func TestValidate_ElementTargetsWrongTable(t *testing.T) {
	m := &wasm.Module{
		Types:  []value.FuncType{{}},
		Funcs:  []uint32{0},
		Code:   []wasm.FuncBody{{Code: []byte{wasm.OpEnd}}},
		Tables: []wasm.TableType{{Elem: value.KindExternRef, Limits: wasm.Limits{Min: 1}}},
		Elements: []wasm.Element{
			{Flags: 0, Offset: []byte{wasm.OpI32Const, 0x00, wasm.OpEnd}, FuncIdxs: []uint32{0}, Type: value.KindFuncRef},
		},
	}
	err := m.Validate()
	if !errors.Is(err, &errs.Error{Phase: errs.PhaseValidate, Kind: errs.KindTypeMismatch}) {
		t.Errorf("expected type_mismatch, got %v", err)
	}
}

// Function body type checking

func bodyModule(ft value.FuncType, code []byte, locals ...wasm.LocalEntry) *wasm.Module {
	return &wasm.Module{
		Types: []value.FuncType{ft},
		Funcs: []uint32{0},
		Code:  []wasm.FuncBody{{Locals: locals, Code: code}},
	}
}

func TestCheckBody_Valid(t *testing.T) {
	tests := []struct {
		name string
		m    *wasm.Module
	}{
		{
			"add",
			bodyModule(
				value.FuncType{Params: []value.Kind{value.KindI32, value.KindI32}, Results: []value.Kind{value.KindI32}},
				[]byte{wasm.OpLocalGet, 0x00, wasm.OpLocalGet, 0x01, wasm.OpI32Add, wasm.OpEnd},
			),
		},
		{
			"if else",
			bodyModule(
				value.FuncType{Params: []value.Kind{value.KindI32}, Results: []value.Kind{value.KindI32}},
				[]byte{
					wasm.OpLocalGet, 0x00,
					wasm.OpIf, 0x7F, // if (result i32)
					wasm.OpI32Const, 0x01,
					wasm.OpElse,
					wasm.OpI32Const, 0x02,
					wasm.OpEnd,
					wasm.OpEnd,
				},
			),
		},
		{
			"loop with branch",
			bodyModule(
				value.FuncType{Results: []value.Kind{value.KindI32}},
				[]byte{
					wasm.OpBlock, 0x7F, // block (result i32)
					wasm.OpLoop, 0x7F, // loop (result i32)
					wasm.OpI32Const, 0x2A,
					wasm.OpI32Const, 0x01,
					wasm.OpBrIf, 0x01,
					wasm.OpBr, 0x00,
					wasm.OpEnd,
					wasm.OpEnd,
					wasm.OpEnd,
				},
			),
		},
		{
			"locals and conversions",
			bodyModule(
				value.FuncType{Params: []value.Kind{value.KindI32}, Results: []value.Kind{value.KindF64}},
				[]byte{
					wasm.OpLocalGet, 0x00,
					wasm.OpLocalTee, 0x01,
					wasm.OpLocalGet, 0x01,
					wasm.OpI32Mul,
					wasm.OpF64ConvertI32S,
					wasm.OpEnd,
				},
				wasm.LocalEntry{Count: 1, Type: value.KindI32},
			),
		},
		{
			"unreachable then anything",
			bodyModule(
				value.FuncType{Results: []value.Kind{value.KindI64}},
				[]byte{wasm.OpUnreachable, wasm.OpEnd},
			),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.m.Validate(); err != nil {
				t.Errorf("valid body rejected: %v", err)
			}
		})
	}
}

func TestCheckBody_Invalid(t *testing.T) {
	tests := []struct {
		name string
		m    *wasm.Module
	}{
		{
			"result type mismatch",
			bodyModule(
				value.FuncType{Results: []value.Kind{value.KindI32}},
				[]byte{wasm.OpI64Const, 0x01, wasm.OpEnd},
			),
		},
		{
			"stack underflow",
			bodyModule(
				value.FuncType{Results: []value.Kind{value.KindI32}},
				[]byte{wasm.OpI32Add, wasm.OpEnd},
			),
		},
		{
			"leftover operand",
			bodyModule(
				value.FuncType{},
				[]byte{wasm.OpI32Const, 0x01, wasm.OpEnd},
			),
		},
		{
			"bad local index",
			bodyModule(
				value.FuncType{Results: []value.Kind{value.KindI32}},
				[]byte{wasm.OpLocalGet, 0x03, wasm.OpEnd},
			),
		},
		{
			"if without else changing stack",
			bodyModule(
				value.FuncType{Params: []value.Kind{value.KindI32}, Results: []value.Kind{value.KindI32}},
				[]byte{
					wasm.OpLocalGet, 0x00,
					wasm.OpIf, 0x7F, // if (result i32) with no else
					wasm.OpI32Const, 0x01,
					wasm.OpEnd,
					wasm.OpEnd,
				},
			),
		},
		{
			"branch depth out of range",
			bodyModule(
				value.FuncType{},
				[]byte{wasm.OpBr, 0x05, wasm.OpEnd},
			),
		},
		{
			"memory op without memory",
			bodyModule(
				value.FuncType{Results: []value.Kind{value.KindI32}},
				[]byte{wasm.OpI32Const, 0x00, wasm.OpI32Load, 0x02, 0x00, wasm.OpEnd},
			),
		},
		{
			"global.set on immutable",
			func() *wasm.Module {
				m := bodyModule(
					value.FuncType{},
					[]byte{wasm.OpI32Const, 0x01, wasm.OpGlobalSet, 0x00, wasm.OpEnd},
				)
				m.Globals = []wasm.Global{{
					Type: wasm.GlobalType{Type: value.KindI32},
					Init: []byte{wasm.OpI32Const, 0x00, wasm.OpEnd},
				}}
				return m
			}(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.m.Validate()
			if !errors.Is(err, &errs.Error{Phase: errs.PhaseValidate, Kind: errs.KindTypeMismatch}) {
				t.Errorf("expected type_mismatch, got %v", err)
			}
		})
	}
}

func u64(v uint64) *uint64 {
	return &v
}
