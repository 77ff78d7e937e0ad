package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	errs "github.com/wippyai/wasm-vm/errors"
	"github.com/wippyai/wasm-vm/value"
	"github.com/wippyai/wasm-vm/wasm"
)

// engineMemory backs an instance.Memory with wazero linear memory.
// module and name record where the memory is exported inside the
// runtime, so later instantiations can import it instead of copying;
// limits is the memory type it was declared with there.
type engineMemory struct {
	mem    api.Memory
	module string
	name   string
	limits wasm.Limits
}

func (b *engineMemory) SizeBytes() uint32 {
	return b.mem.Size()
}

func (b *engineMemory) GrowPages(delta uint32) (uint32, bool) {
	return b.mem.Grow(delta)
}

func (b *engineMemory) Read(offset, count uint32) ([]byte, bool) {
	view, ok := b.mem.Read(offset, count)
	if !ok {
		return nil, false
	}
	// Read returns a view into wazero's buffer, which moves on grow.
	out := make([]byte, len(view))
	copy(out, view)
	return out, true
}

func (b *engineMemory) Write(offset uint32, data []byte) bool {
	return b.mem.Write(offset, data)
}

// engineGlobal backs an instance.Global with a wazero global slot.
type engineGlobal struct {
	g      api.Global
	module string
	name   string
}

func (b *engineGlobal) Get() uint64 {
	return b.g.Get()
}

func (b *engineGlobal) Set(bits uint64) bool {
	if mg, ok := b.g.(api.MutableGlobal); ok {
		mg.Set(bits)
		return true
	}
	return false
}

// guestCode adapts a wazero exported function to instance.Code. Values
// cross the boundary as raw 64-bit words.
type guestCode struct {
	fn  api.Function
	typ value.FuncType
}

func (c *guestCode) Call(ctx context.Context, args []value.Value) ([]value.Value, error) {
	if err := numericSignature(c.typ); err != nil {
		return nil, err
	}
	raw := make([]uint64, len(args))
	for i, a := range args {
		raw[i] = a.Bits()
	}
	out, err := c.fn.Call(ctx, raw...)
	if err != nil {
		return nil, classifyCallError(err)
	}
	results := make([]value.Value, len(c.typ.Results))
	for i, k := range c.typ.Results {
		results[i] = value.FromBits(k, out[i])
	}
	return results, nil
}

// classifyCallError sorts a wazero call failure into the runtime's
// error taxonomy. Host failures surface from the bridge shim and keep
// their identity; everything else is a guest trap.
func classifyCallError(err error) error {
	var he *errs.HostError
	if errors.As(err, &he) {
		return he
	}
	var se *errs.Error
	if errors.As(err, &se) {
		return se
	}
	return errs.Trap(err)
}

// numericSignature rejects function types the word-based bridge cannot
// carry. Reference and vector values have no raw-bits representation
// at this boundary.
func numericSignature(ft value.FuncType) error {
	for _, k := range ft.Params {
		if !numericKind(k) {
			return errs.Unsupported(errs.PhaseEngine, fmt.Sprintf("%s parameter crossing the host boundary", k))
		}
	}
	for _, k := range ft.Results {
		if !numericKind(k) {
			return errs.Unsupported(errs.PhaseEngine, fmt.Sprintf("%s result crossing the host boundary", k))
		}
	}
	return nil
}

func numericKind(k value.Kind) bool {
	switch k {
	case value.KindI32, value.KindI64, value.KindF32, value.KindF64:
		return true
	}
	return false
}

// apiValueTypes maps numeric kinds to wazero's value type bytes.
func apiValueTypes(kinds []value.Kind) ([]api.ValueType, error) {
	out := make([]api.ValueType, len(kinds))
	for i, k := range kinds {
		switch k {
		case value.KindI32:
			out[i] = api.ValueTypeI32
		case value.KindI64:
			out[i] = api.ValueTypeI64
		case value.KindF32:
			out[i] = api.ValueTypeF32
		case value.KindF64:
			out[i] = api.ValueTypeF64
		default:
			return nil, errs.Unsupported(errs.PhaseEngine, fmt.Sprintf("%s in a bridged function signature", k))
		}
	}
	return out, nil
}
