package instance

import (
	errs "github.com/wippyai/wasm-vm/errors"
	"github.com/wippyai/wasm-vm/wasm"
)

// Extern is an exported entity of one of the four instance kinds.
// Kind selects which pointer is set, using the wasm descriptor kind
// constants.
type Extern struct {
	Func   *Function
	Table  *Table
	Memory *Memory
	Global *Global
	Kind   byte
}

// FuncExtern wraps a function as an export entry.
func FuncExtern(f *Function) Extern {
	return Extern{Kind: wasm.KindFunc, Func: f}
}

// TableExtern wraps a table as an export entry.
func TableExtern(t *Table) Extern {
	return Extern{Kind: wasm.KindTable, Table: t}
}

// MemoryExtern wraps a memory as an export entry.
func MemoryExtern(m *Memory) Extern {
	return Extern{Kind: wasm.KindMemory, Memory: m}
}

// GlobalExtern wraps a global as an export entry.
func GlobalExtern(g *Global) Extern {
	return Extern{Kind: wasm.KindGlobal, Global: g}
}

// Module is an instantiated module: a named export table over
// function, table, memory, and global instances. Import collections
// assembled with Builder and guest instances produced by the executor
// are the same type.
type Module struct {
	name    string
	exports map[string]Extern
	order   []string
}

// NewModule creates an empty module instance with the given name.
func NewModule(name string) *Module {
	return &Module{name: name, exports: make(map[string]Extern)}
}

// Name returns the instance name.
func (m *Module) Name() string {
	return m.name
}

// AddExport registers an export. Reusing a name fails and leaves the
// export table unchanged.
func (m *Module) AddExport(name string, ext Extern) error {
	if _, exists := m.exports[name]; exists {
		return errs.DuplicateExport(name)
	}
	m.exports[name] = ext
	m.order = append(m.order, name)
	return nil
}

// Export looks up an export by name without kind filtering.
func (m *Module) Export(name string) (Extern, bool) {
	ext, ok := m.exports[name]
	return ext, ok
}

// ExportNames returns export names in registration order.
func (m *Module) ExportNames() []string {
	names := make([]string, len(m.order))
	copy(names, m.order)
	return names
}

// NumExports returns the number of exports.
func (m *Module) NumExports() int {
	return len(m.exports)
}

// Function looks up an exported function. A name bound to another
// kind is a kind mismatch, never a coercion.
func (m *Module) Function(name string) (*Function, error) {
	ext, ok := m.exports[name]
	if !ok {
		return nil, errs.NotFound(errs.PhaseStore, "function", name)
	}
	if ext.Kind != wasm.KindFunc {
		return nil, errs.KindMismatch(name, "function", wasm.KindName(ext.Kind))
	}
	return ext.Func, nil
}

// Table looks up an exported table.
func (m *Module) Table(name string) (*Table, error) {
	ext, ok := m.exports[name]
	if !ok {
		return nil, errs.NotFound(errs.PhaseStore, "table", name)
	}
	if ext.Kind != wasm.KindTable {
		return nil, errs.KindMismatch(name, "table", wasm.KindName(ext.Kind))
	}
	return ext.Table, nil
}

// Memory looks up an exported memory.
func (m *Module) Memory(name string) (*Memory, error) {
	ext, ok := m.exports[name]
	if !ok {
		return nil, errs.NotFound(errs.PhaseStore, "memory", name)
	}
	if ext.Kind != wasm.KindMemory {
		return nil, errs.KindMismatch(name, "memory", wasm.KindName(ext.Kind))
	}
	return ext.Memory, nil
}

// Global looks up an exported global.
func (m *Module) Global(name string) (*Global, error) {
	ext, ok := m.exports[name]
	if !ok {
		return nil, errs.NotFound(errs.PhaseStore, "global", name)
	}
	if ext.Kind != wasm.KindGlobal {
		return nil, errs.KindMismatch(name, "global", wasm.KindName(ext.Kind))
	}
	return ext.Global, nil
}

