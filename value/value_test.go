package value_test

import (
	"math"
	"testing"

	"github.com/wippyai/wasm-vm/value"
)

func TestValueRoundTrip(t *testing.T) {
	if got := value.I32(-42).ToI32(); got != -42 {
		t.Errorf("i32 round trip: got %d", got)
	}
	if got := value.I64(math.MinInt64).ToI64(); got != math.MinInt64 {
		t.Errorf("i64 round trip: got %d", got)
	}
	if got := value.F32(1.5).ToF32(); got != 1.5 {
		t.Errorf("f32 round trip: got %g", got)
	}
	if got := value.F64(-2.25).ToF64(); got != -2.25 {
		t.Errorf("f64 round trip: got %g", got)
	}
	lo, hi := value.V128(0xDEAD, 0xBEEF).ToV128()
	if lo != 0xDEAD || hi != 0xBEEF {
		t.Errorf("v128 round trip: got %x %x", lo, hi)
	}
}

func TestValueNaNBitsPreserved(t *testing.T) {
	// A signaling NaN payload must survive the round trip untouched.
	bits := uint32(0x7FA00001)
	v := value.F32(math.Float32frombits(bits))
	if got := math.Float32bits(v.ToF32()); got != bits {
		t.Errorf("NaN bits not preserved: %08x != %08x", got, bits)
	}
}

func TestValueKindGuard(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic accessing i32 as i64")
		}
	}()
	_ = value.I32(1).ToI64()
}

func TestNullRefs(t *testing.T) {
	if !value.FuncRef(nil).IsNullRef() {
		t.Error("nil funcref should be null")
	}
	if value.ExternRef("handle").IsNullRef() {
		t.Error("non-nil externref should not be null")
	}
	if got := value.ExternRef("handle").Ref(); got != "handle" {
		t.Errorf("externref handle: got %v", got)
	}
}

func TestBitsRoundTrip(t *testing.T) {
	for _, v := range []value.Value{
		value.I32(-7),
		value.I64(1 << 40),
		value.F32(3.25),
		value.F64(-0.5),
	} {
		got := value.FromBits(v.Kind(), v.Bits())
		if got != v {
			t.Errorf("FromBits(Bits) mismatch for %s: got %s", v, got)
		}
	}
}

func TestFuncTypeEqual(t *testing.T) {
	add := value.NewFuncType(
		[]value.Kind{value.KindI32, value.KindI32},
		[]value.Kind{value.KindI32},
	)

	tests := []struct {
		name  string
		other value.FuncType
		want  bool
	}{
		{"identical", value.NewFuncType([]value.Kind{value.KindI32, value.KindI32}, []value.Kind{value.KindI32}), true},
		{"fewer params", value.NewFuncType([]value.Kind{value.KindI32}, []value.Kind{value.KindI32}), false},
		{"param kind differs", value.NewFuncType([]value.Kind{value.KindI32, value.KindI64}, []value.Kind{value.KindI32}), false},
		{"result differs", value.NewFuncType([]value.Kind{value.KindI32, value.KindI32}, []value.Kind{value.KindF32}), false},
		{"no results", value.NewFuncType([]value.Kind{value.KindI32, value.KindI32}, nil), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := add.Equal(tc.other); got != tc.want {
				t.Errorf("Equal(%s) = %v, want %v", tc.other, got, tc.want)
			}
		})
	}
}

func TestFuncTypeString(t *testing.T) {
	ft := value.NewFuncType([]value.Kind{value.KindI32, value.KindF64}, []value.Kind{value.KindI64})
	if got := ft.String(); got != "[i32 f64] -> [i64]" {
		t.Errorf("String() = %q", got)
	}
}
