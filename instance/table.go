package instance

import (
	errs "github.com/wippyai/wasm-vm/errors"
	"github.com/wippyai/wasm-vm/value"
	"github.com/wippyai/wasm-vm/wasm"
)

// Table is a resizable vector of reference values of one declared
// ref kind. Slots start as null references.
type Table struct {
	typ          wasm.TableType
	elems        []value.Value
	engineBacked bool
}

// NewTable allocates a table of the limits' minimum size filled with
// null references.
func NewTable(typ wasm.TableType) (*Table, error) {
	if !typ.Elem.IsRef() {
		return nil, errs.New(errs.PhaseHost, errs.KindTypeMismatch,
			"table element type must be a reference kind, got %s", typ.Elem)
	}
	l := typ.Limits
	if l.Max != nil && l.Min > *l.Max {
		return nil, errs.InvalidLimits(nil, "table min exceeds max")
	}
	elems := make([]value.Value, l.Min)
	for i := range elems {
		elems[i] = nullRef(typ.Elem)
	}
	return &Table{typ: typ, elems: elems}, nil
}

// NewEngineTable creates a table handle for an engine-exported table.
// The engine exposes no element access, so the handle carries the
// type and size but rejects element operations.
func NewEngineTable(typ wasm.TableType) *Table {
	return &Table{typ: typ, engineBacked: true}
}

// Type returns the declared table type.
func (t *Table) Type() wasm.TableType {
	return t.typ
}

// Size returns the current element count.
func (t *Table) Size() uint32 {
	if t.engineBacked {
		return uint32(t.typ.Limits.Min)
	}
	return uint32(len(t.elems))
}

// Get returns the element at index i.
func (t *Table) Get(i uint32) (value.Value, error) {
	if t.engineBacked {
		return value.Value{}, errs.Unsupported(errs.PhaseHost, "engine-exported table elements are not addressable")
	}
	if int(i) >= len(t.elems) {
		return value.Value{}, errs.New(errs.PhaseHost, errs.KindInvalidInput,
			"table index %d out of bounds (size %d)", i, len(t.elems))
	}
	return t.elems[i], nil
}

// Set stores v at index i. The value must be a reference of the
// table's element kind.
func (t *Table) Set(i uint32, v value.Value) error {
	if t.engineBacked {
		return errs.Unsupported(errs.PhaseHost, "engine-exported table elements are not addressable")
	}
	if int(i) >= len(t.elems) {
		return errs.New(errs.PhaseHost, errs.KindInvalidInput,
			"table index %d out of bounds (size %d)", i, len(t.elems))
	}
	if v.Kind() != t.typ.Elem {
		return errs.New(errs.PhaseHost, errs.KindTypeMismatch,
			"table of %s cannot hold %s", t.typ.Elem, v.Kind())
	}
	t.elems[i] = v
	return nil
}

// Grow extends the table by delta slots initialized to init,
// returning the previous size. Growth past the declared maximum
// fails with the table unchanged.
func (t *Table) Grow(delta uint32, init value.Value) (uint32, error) {
	if t.engineBacked {
		return 0, errs.Unsupported(errs.PhaseHost, "engine-exported tables cannot grow from the host")
	}
	if init.Kind() != t.typ.Elem {
		return 0, errs.New(errs.PhaseHost, errs.KindTypeMismatch,
			"table of %s cannot hold %s", t.typ.Elem, init.Kind())
	}
	prev := uint32(len(t.elems))
	newSize := uint64(prev) + uint64(delta)
	if t.typ.Limits.Max != nil && newSize > *t.typ.Limits.Max {
		return 0, errs.New(errs.PhaseHost, errs.KindInvalidLimits,
			"table grow to %d exceeds max %d", newSize, *t.typ.Limits.Max)
	}
	for i := uint32(0); i < delta; i++ {
		t.elems = append(t.elems, init)
	}
	return prev, nil
}

func nullRef(kind value.Kind) value.Value {
	if kind == value.KindExternRef {
		return value.ExternRef(nil)
	}
	return value.FuncRef(nil)
}
