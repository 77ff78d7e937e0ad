package instance

import (
	errs "github.com/wippyai/wasm-vm/errors"
	"github.com/wippyai/wasm-vm/value"
)

// GlobalBacking is the seam between a global handle and its storage,
// mirroring the memory seam. Engine backings carry numeric kinds as
// raw bits.
type GlobalBacking interface {
	Get() uint64
	// Set stores raw bits, returning false when the slot is not
	// writable on the engine side.
	Set(bits uint64) bool
}

// Global is a single mutable or immutable value slot.
type Global struct {
	kind    value.Kind
	mutable bool
	val     value.Value
	backing GlobalBacking
}

// NewGlobal creates a global holding init. The init value must match
// the declared kind.
func NewGlobal(kind value.Kind, mutable bool, init value.Value) (*Global, error) {
	if init.Kind() != kind {
		return nil, errs.New(errs.PhaseHost, errs.KindTypeMismatch,
			"global declared %s, initial value is %s", kind, init.Kind())
	}
	return &Global{kind: kind, mutable: mutable, val: init}, nil
}

// NewBoundGlobal wraps an engine-provided backing for a numeric
// global exported by a guest module.
func NewBoundGlobal(kind value.Kind, mutable bool, b GlobalBacking) *Global {
	return &Global{kind: kind, mutable: mutable, backing: b}
}

// Kind returns the declared value kind.
func (g *Global) Kind() value.Kind {
	return g.kind
}

// Mutable reports whether Set is permitted.
func (g *Global) Mutable() bool {
	return g.mutable
}

// Value returns the current value.
func (g *Global) Value() value.Value {
	if g.backing != nil {
		return value.FromBits(g.kind, g.backing.Get())
	}
	return g.val
}

// Set stores v. Setting an immutable global or a value of the wrong
// kind fails with the slot unchanged.
func (g *Global) Set(v value.Value) error {
	if !g.mutable {
		return errs.New(errs.PhaseHost, errs.KindInvalidInput, "global is immutable")
	}
	if v.Kind() != g.kind {
		return errs.New(errs.PhaseHost, errs.KindTypeMismatch,
			"global declared %s, got %s", g.kind, v.Kind())
	}
	if g.backing != nil {
		if !g.backing.Set(v.Bits()) {
			return errs.New(errs.PhaseHost, errs.KindInvalidInput, "global backing rejected write")
		}
		return nil
	}
	g.val = v
	return nil
}

// Bind re-backs the handle onto b, adopting engine storage.
func (g *Global) Bind(b GlobalBacking) {
	g.backing = b
}

// Backing returns the current backing, or nil while the global still
// lives in local storage.
func (g *Global) Backing() GlobalBacking {
	return g.backing
}
