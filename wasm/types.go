package wasm

import (
	"github.com/wippyai/wasm-vm/value"
)

// Module represents a parsed WebAssembly module.
type Module struct {
	Types    []value.FuncType
	Imports  []Import
	Funcs    []uint32 // Type indices for declared functions
	Tables   []TableType
	Memories []MemoryType
	Globals  []Global
	Exports  []Export
	Start    *uint32
	Elements []Element
	Code     []FuncBody
	Data     []DataSegment

	// DataCount holds the count from the DataCount section (ID 12).
	// Required when data indices appear in code (bulk memory operations).
	DataCount *uint32

	CustomSections []CustomSection
}

// Import represents an imported function, table, memory, or global.
type Import struct {
	Desc   ImportDesc
	Module string
	Name   string
}

// ImportDesc describes an imported item.
// Kind uses the KindFunc, KindTable, KindMemory, or KindGlobal constants.
type ImportDesc struct {
	Table   *TableType
	Memory  *MemoryType
	Global  *GlobalType
	TypeIdx uint32
	Kind    byte
}

// TableType describes a table with element type and size limits.
type TableType struct {
	Elem   value.Kind // KindFuncRef or KindExternRef
	Limits Limits
}

// MemoryType describes a linear memory with size limits.
type MemoryType struct {
	Limits Limits
}

// Limits describes size constraints for tables and memories.
type Limits struct {
	Max    *uint64
	Min    uint64
	Shared bool
}

// GlobalType describes a global variable's type and mutability.
type GlobalType struct {
	Type    value.Kind
	Mutable bool
}

// Global represents a global variable with type and initialization.
type Global struct {
	Type GlobalType
	Init []byte // Raw init expression bytes including end opcode
}

// Export describes an exported item.
// Kind uses the KindFunc, KindTable, KindMemory, or KindGlobal constants.
type Export struct {
	Name string
	Kind byte
	Idx  uint32
}

// Element represents an element segment.
// Flags determine the format:
//   - 0: active, tableIdx=0, offset expr, vec(funcidx)
//   - 1: passive, elemkind, vec(funcidx)
//   - 2: active, tableIdx, offset expr, elemkind, vec(funcidx)
//   - 3: declarative, elemkind, vec(funcidx)
//   - 4: active, tableIdx=0, offset expr, vec(expr)
//   - 5: passive, reftype, vec(expr)
//   - 6: active, tableIdx, offset expr, reftype, vec(expr)
//   - 7: declarative, reftype, vec(expr)
type Element struct {
	Offset   []byte
	FuncIdxs []uint32
	Exprs    [][]byte
	Flags    uint32
	TableIdx uint32
	Type     value.Kind
}

// IsActive reports whether the element segment is applied to a table
// at instantiation time.
func (e *Element) IsActive() bool {
	return e.Flags&0x01 == 0
}

// FuncBody represents a function's local declarations and bytecode.
type FuncBody struct {
	Locals []LocalEntry
	Code   []byte // Raw code bytes including end opcode
}

// LocalEntry represents a group of local variables with the same type.
type LocalEntry struct {
	Count uint32
	Type  value.Kind
}

// DataSegment represents a data segment.
// Flags determine the format:
//   - 0: active, memIdx=0, offset expr, vec(byte)
//   - 1: passive, vec(byte)
//   - 2: active, memIdx, offset expr, vec(byte)
type DataSegment struct {
	Offset []byte
	Init   []byte
	Flags  uint32
	MemIdx uint32
}

// IsActive reports whether the data segment is copied into a memory
// at instantiation time.
func (d *DataSegment) IsActive() bool {
	return d.Flags != 1
}

// CustomSection holds a named custom section's data.
type CustomSection struct {
	Name string
	Data []byte
}

// NumImportedFuncs returns the number of imported functions.
func (m *Module) NumImportedFuncs() int {
	return m.countImports(KindFunc)
}

// NumImportedTables returns the number of imported tables.
func (m *Module) NumImportedTables() int {
	return m.countImports(KindTable)
}

// NumImportedMemories returns the number of imported memories.
func (m *Module) NumImportedMemories() int {
	return m.countImports(KindMemory)
}

// NumImportedGlobals returns the number of imported globals.
func (m *Module) NumImportedGlobals() int {
	return m.countImports(KindGlobal)
}

func (m *Module) countImports(kind byte) int {
	count := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == kind {
			count++
		}
	}
	return count
}

// NumFuncs returns the total function index space size, imported
// functions first.
func (m *Module) NumFuncs() int {
	return m.NumImportedFuncs() + len(m.Funcs)
}

// NumTables returns the total table index space size.
func (m *Module) NumTables() int {
	return m.NumImportedTables() + len(m.Tables)
}

// NumMemories returns the total memory index space size.
func (m *Module) NumMemories() int {
	return m.NumImportedMemories() + len(m.Memories)
}

// NumGlobals returns the total global index space size.
func (m *Module) NumGlobals() int {
	return m.NumImportedGlobals() + len(m.Globals)
}

// FuncTypeIdx resolves a function index to its type index, walking
// imported functions first. The second result is false when the index
// is out of range.
func (m *Module) FuncTypeIdx(funcIdx uint32) (uint32, bool) {
	i := funcIdx
	for _, imp := range m.Imports {
		if imp.Desc.Kind != KindFunc {
			continue
		}
		if i == 0 {
			return imp.Desc.TypeIdx, true
		}
		i--
	}
	if int(i) < len(m.Funcs) {
		return m.Funcs[i], true
	}
	return 0, false
}

// FuncType resolves a function index to its signature.
func (m *Module) FuncType(funcIdx uint32) (value.FuncType, bool) {
	typeIdx, ok := m.FuncTypeIdx(funcIdx)
	if !ok || int(typeIdx) >= len(m.Types) {
		return value.FuncType{}, false
	}
	return m.Types[typeIdx], true
}

// TableTypeAt resolves a table index across imported and declared
// tables.
func (m *Module) TableTypeAt(tableIdx uint32) (TableType, bool) {
	i := tableIdx
	for _, imp := range m.Imports {
		if imp.Desc.Kind != KindTable {
			continue
		}
		if i == 0 {
			return *imp.Desc.Table, true
		}
		i--
	}
	if int(i) < len(m.Tables) {
		return m.Tables[i], true
	}
	return TableType{}, false
}

// MemoryTypeAt resolves a memory index across imported and declared
// memories.
func (m *Module) MemoryTypeAt(memIdx uint32) (MemoryType, bool) {
	i := memIdx
	for _, imp := range m.Imports {
		if imp.Desc.Kind != KindMemory {
			continue
		}
		if i == 0 {
			return *imp.Desc.Memory, true
		}
		i--
	}
	if int(i) < len(m.Memories) {
		return m.Memories[i], true
	}
	return MemoryType{}, false
}

// GlobalTypeAt resolves a global index across imported and declared
// globals.
func (m *Module) GlobalTypeAt(globalIdx uint32) (GlobalType, bool) {
	i := globalIdx
	for _, imp := range m.Imports {
		if imp.Desc.Kind != KindGlobal {
			continue
		}
		if i == 0 {
			return *imp.Desc.Global, true
		}
		i--
	}
	if int(i) < len(m.Globals) {
		return m.Globals[i].Type, true
	}
	return GlobalType{}, false
}

// ExportedNames returns the export names in declaration order.
func (m *Module) ExportedNames() []string {
	names := make([]string, len(m.Exports))
	for i, exp := range m.Exports {
		names[i] = exp.Name
	}
	return names
}

// Export looks up an export by name.
func (m *Module) Export(name string) (Export, bool) {
	for _, exp := range m.Exports {
		if exp.Name == name {
			return exp, true
		}
	}
	return Export{}, false
}
