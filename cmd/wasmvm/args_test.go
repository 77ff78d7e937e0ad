package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-vm/value"
	"github.com/wippyai/wasm-vm/wasm"
)

func TestParseArgs(t *testing.T) {
	args, err := parseArgs("i32:5, i64:-9,f32:1.5,f64:2.25")
	require.NoError(t, err)
	require.Len(t, args, 4)
	require.Equal(t, int32(5), args[0].ToI32())
	require.Equal(t, int64(-9), args[1].ToI64())
	require.Equal(t, float32(1.5), args[2].ToF32())
	require.Equal(t, 2.25, args[3].ToF64())
}

func TestParseArgs_Empty(t *testing.T) {
	args, err := parseArgs("")
	require.NoError(t, err)
	require.Empty(t, args)
}

func TestParseArgs_Hex(t *testing.T) {
	args, err := parseArgs("i32:0xFF")
	require.NoError(t, err)
	require.Equal(t, int32(255), args[0].ToI32())
}

func TestParseArgs_Errors(t *testing.T) {
	for _, input := range []string{
		"5",            // missing type tag
		"i32:",         // missing literal
		"i16:5",        // unknown type
		"i32:notanint", // bad literal
		"f32:x",
	} {
		_, err := parseArgs(input)
		require.Error(t, err, "input %q", input)
	}
}

func TestExportedFuncs(t *testing.T) {
	mod := &wasm.Module{
		Types: []value.FuncType{
			value.NewFuncType([]value.Kind{value.KindI32}, []value.Kind{value.KindI32}),
		},
		Funcs: []uint32{0},
		Code:  []wasm.FuncBody{{Code: []byte{0x20, 0x00, 0x0B}}},
		Exports: []wasm.Export{
			{Name: "id", Kind: wasm.KindFunc, Idx: 0},
		},
	}
	funcs := exportedFuncs(mod)
	require.Len(t, funcs, 1)
	require.Equal(t, "id", funcs[0].name)
	require.Equal(t, "[i32] -> [i32]", funcs[0].typ.String())
}
