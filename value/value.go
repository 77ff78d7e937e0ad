package value

import (
	"fmt"
	"math"
	"strings"
)

// Kind identifies the type of a runtime value. The constants use the
// WebAssembly binary format encodings so the loader can cast bytes
// directly.
type Kind byte

const (
	KindI32       Kind = 0x7F // 32-bit integer
	KindI64       Kind = 0x7E // 64-bit integer
	KindF32       Kind = 0x7D // 32-bit float
	KindF64       Kind = 0x7C // 64-bit float
	KindV128      Kind = 0x7B // 128-bit vector (SIMD)
	KindFuncRef   Kind = 0x70 // Function reference
	KindExternRef Kind = 0x6F // External reference
)

func (k Kind) String() string {
	switch k {
	case KindI32:
		return "i32"
	case KindI64:
		return "i64"
	case KindF32:
		return "f32"
	case KindF64:
		return "f64"
	case KindV128:
		return "v128"
	case KindFuncRef:
		return "funcref"
	case KindExternRef:
		return "externref"
	default:
		return fmt.Sprintf("kind(0x%02x)", byte(k))
	}
}

// Valid reports whether k is one of the defined value kinds
func (k Kind) Valid() bool {
	switch k {
	case KindI32, KindI64, KindF32, KindF64, KindV128, KindFuncRef, KindExternRef:
		return true
	}
	return false
}

// IsRef reports whether k is a reference kind
func (k Kind) IsRef() bool {
	return k == KindFuncRef || k == KindExternRef
}

// Value is an immutable tagged runtime value. Numeric payloads live in
// the 64-bit data word (plus a high word for v128); reference kinds hold
// an opaque handle. The zero Value is not a valid wasm value.
type Value struct {
	ref  any
	data uint64
	hi   uint64
	kind Kind
}

// I32 constructs a 32-bit integer value
func I32(v int32) Value {
	return Value{kind: KindI32, data: uint64(uint32(v))}
}

// I64 constructs a 64-bit integer value
func I64(v int64) Value {
	return Value{kind: KindI64, data: uint64(v)}
}

// F32 constructs a 32-bit float value, preserving NaN bit patterns
func F32(v float32) Value {
	return Value{kind: KindF32, data: uint64(math.Float32bits(v))}
}

// F64 constructs a 64-bit float value, preserving NaN bit patterns
func F64(v float64) Value {
	return Value{kind: KindF64, data: math.Float64bits(v)}
}

// V128 constructs a 128-bit vector value from its low and high lanes
func V128(lo, hi uint64) Value {
	return Value{kind: KindV128, data: lo, hi: hi}
}

// FuncRef constructs a function reference holding an opaque handle.
// A nil handle is the null function reference.
func FuncRef(handle any) Value {
	return Value{kind: KindFuncRef, ref: handle}
}

// ExternRef constructs an external reference holding an opaque handle.
// A nil handle is the null external reference.
func ExternRef(handle any) Value {
	return Value{kind: KindExternRef, ref: handle}
}

// Kind returns the value's kind
func (v Value) Kind() Kind {
	return v.kind
}

// ToI32 returns the i32 payload; the value must be of kind i32
func (v Value) ToI32() int32 {
	v.mustBe(KindI32)
	return int32(uint32(v.data))
}

// ToI64 returns the i64 payload; the value must be of kind i64
func (v Value) ToI64() int64 {
	v.mustBe(KindI64)
	return int64(v.data)
}

// ToF32 returns the f32 payload; the value must be of kind f32
func (v Value) ToF32() float32 {
	v.mustBe(KindF32)
	return math.Float32frombits(uint32(v.data))
}

// ToF64 returns the f64 payload; the value must be of kind f64
func (v Value) ToF64() float64 {
	v.mustBe(KindF64)
	return math.Float64frombits(v.data)
}

// ToV128 returns the vector lanes; the value must be of kind v128
func (v Value) ToV128() (lo, hi uint64) {
	v.mustBe(KindV128)
	return v.data, v.hi
}

// Ref returns the opaque handle of a reference value; nil for null refs
func (v Value) Ref() any {
	if !v.kind.IsRef() {
		panic(fmt.Sprintf("value: Ref on %s value", v.kind))
	}
	return v.ref
}

// IsNullRef reports whether v is a null function or external reference
func (v Value) IsNullRef() bool {
	return v.kind.IsRef() && v.ref == nil
}

// Bits returns the raw 64-bit payload of a numeric value. Used at the
// execution-engine boundary where values travel as uint64 words.
func (v Value) Bits() uint64 {
	if v.kind.IsRef() || v.kind == KindV128 {
		panic(fmt.Sprintf("value: Bits on %s value", v.kind))
	}
	return v.data
}

// FromBits reconstructs a numeric value of the given kind from a raw
// 64-bit payload. The inverse of Bits.
func FromBits(k Kind, bits uint64) Value {
	switch k {
	case KindI32:
		return Value{kind: KindI32, data: uint64(uint32(bits))}
	case KindI64, KindF64:
		return Value{kind: k, data: bits}
	case KindF32:
		return Value{kind: KindF32, data: uint64(uint32(bits))}
	default:
		panic(fmt.Sprintf("value: FromBits with kind %s", k))
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindI32:
		return fmt.Sprintf("i32:%d", v.ToI32())
	case KindI64:
		return fmt.Sprintf("i64:%d", v.ToI64())
	case KindF32:
		return fmt.Sprintf("f32:%g", v.ToF32())
	case KindF64:
		return fmt.Sprintf("f64:%g", v.ToF64())
	case KindV128:
		return fmt.Sprintf("v128:%016x%016x", v.hi, v.data)
	case KindFuncRef, KindExternRef:
		if v.ref == nil {
			return v.kind.String() + ":null"
		}
		return v.kind.String() + ":ref"
	default:
		return "invalid"
	}
}

func (v Value) mustBe(k Kind) {
	if v.kind != k {
		panic(fmt.Sprintf("value: %s accessed as %s", v.kind, k))
	}
}

// FuncType is a function signature: ordered parameter kinds and ordered
// result kinds.
type FuncType struct {
	Params  []Kind
	Results []Kind
}

// NewFuncType constructs a FuncType from parameter and result kinds
func NewFuncType(params, results []Kind) FuncType {
	return FuncType{Params: params, Results: results}
}

// Equal reports whether two function types match kind-for-kind,
// position-for-position.
func (t FuncType) Equal(other FuncType) bool {
	if len(t.Params) != len(other.Params) || len(t.Results) != len(other.Results) {
		return false
	}
	for i := range t.Params {
		if t.Params[i] != other.Params[i] {
			return false
		}
	}
	for i := range t.Results {
		if t.Results[i] != other.Results[i] {
			return false
		}
	}
	return true
}

func (t FuncType) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, p := range t.Params {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(p.String())
	}
	b.WriteString("] -> [")
	for i, r := range t.Results {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(r.String())
	}
	b.WriteByte(']')
	return b.String()
}
