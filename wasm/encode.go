package wasm

import (
	"github.com/wippyai/wasm-vm/value"
	"github.com/wippyai/wasm-vm/wasm/internal/binary"
)

// Encode encodes the module to WebAssembly binary format.
func (m *Module) Encode() []byte {
	w := binary.NewWriter()

	// Magic number and version
	w.WriteU32LE(Magic)
	w.WriteU32LE(Version)

	// Type section
	if len(m.Types) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Types)))
		for _, ft := range m.Types {
			sec.Byte(FuncTypeTag)
			writeValTypes(sec, ft.Params)
			writeValTypes(sec, ft.Results)
		}
		writeSection(w, SectionType, sec.Bytes())
	}

	// Import section
	if len(m.Imports) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Imports)))
		for _, imp := range m.Imports {
			sec.WriteName(imp.Module)
			sec.WriteName(imp.Name)
			sec.Byte(imp.Desc.Kind)
			switch imp.Desc.Kind {
			case KindFunc:
				sec.WriteU32(imp.Desc.TypeIdx)
			case KindTable:
				if imp.Desc.Table != nil {
					writeTableType(sec, *imp.Desc.Table)
				}
			case KindMemory:
				if imp.Desc.Memory != nil {
					writeLimits(sec, imp.Desc.Memory.Limits)
				}
			case KindGlobal:
				if imp.Desc.Global != nil {
					writeGlobalType(sec, *imp.Desc.Global)
				}
			}
		}
		writeSection(w, SectionImport, sec.Bytes())
	}

	// Function section
	if len(m.Funcs) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Funcs)))
		for _, typeIdx := range m.Funcs {
			sec.WriteU32(typeIdx)
		}
		writeSection(w, SectionFunction, sec.Bytes())
	}

	// Table section
	if len(m.Tables) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Tables)))
		for _, t := range m.Tables {
			writeTableType(sec, t)
		}
		writeSection(w, SectionTable, sec.Bytes())
	}

	// Memory section
	if len(m.Memories) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Memories)))
		for _, mem := range m.Memories {
			writeLimits(sec, mem.Limits)
		}
		writeSection(w, SectionMemory, sec.Bytes())
	}

	// Global section
	if len(m.Globals) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Globals)))
		for _, g := range m.Globals {
			writeGlobalType(sec, g.Type)
			sec.WriteBytes(g.Init)
		}
		writeSection(w, SectionGlobal, sec.Bytes())
	}

	// Export section
	if len(m.Exports) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Exports)))
		for _, exp := range m.Exports {
			sec.WriteName(exp.Name)
			sec.Byte(exp.Kind)
			sec.WriteU32(exp.Idx)
		}
		writeSection(w, SectionExport, sec.Bytes())
	}

	// Start section
	if m.Start != nil {
		sec := binary.NewWriter()
		sec.WriteU32(*m.Start)
		writeSection(w, SectionStart, sec.Bytes())
	}

	// Element section
	if len(m.Elements) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Elements)))
		for _, elem := range m.Elements {
			writeElement(sec, elem)
		}
		writeSection(w, SectionElement, sec.Bytes())
	}

	// Data count section precedes code per canonical section order
	if m.DataCount != nil {
		sec := binary.NewWriter()
		sec.WriteU32(*m.DataCount)
		writeSection(w, SectionDataCount, sec.Bytes())
	}

	// Code section
	if len(m.Code) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Code)))
		for _, body := range m.Code {
			b := binary.NewWriter()
			b.WriteU32(uint32(len(body.Locals)))
			for _, local := range body.Locals {
				b.WriteU32(local.Count)
				b.Byte(byte(local.Type))
			}
			b.WriteBytes(body.Code)
			sec.WriteSized(b)
		}
		writeSection(w, SectionCode, sec.Bytes())
	}

	// Data section
	if len(m.Data) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Data)))
		for _, seg := range m.Data {
			sec.WriteU32(seg.Flags)
			if seg.Flags == 2 {
				sec.WriteU32(seg.MemIdx)
			}
			if seg.Flags != 1 {
				sec.WriteBytes(seg.Offset)
			}
			sec.WriteU32(uint32(len(seg.Init)))
			sec.WriteBytes(seg.Init)
		}
		writeSection(w, SectionData, sec.Bytes())
	}

	// Custom sections go last; their position is not significant
	for _, cs := range m.CustomSections {
		sec := binary.NewWriter()
		sec.WriteName(cs.Name)
		sec.WriteBytes(cs.Data)
		writeSection(w, SectionCustom, sec.Bytes())
	}

	return w.Bytes()
}

// ConstExpr builds a constant initializer expression producing the given
// value, including the trailing end opcode. It supports the numeric kinds
// and null references; these are the only initializers synthetic modules
// need.
func ConstExpr(kind value.Kind, bits uint64) []byte {
	w := binary.NewWriter()
	switch kind {
	case value.KindI32:
		w.Byte(OpI32Const)
		w.WriteS32(int32(bits))
	case value.KindI64:
		w.Byte(OpI64Const)
		w.WriteS64(int64(bits))
	case value.KindF32:
		w.Byte(OpF32Const)
		w.WriteU32LE(uint32(bits))
	case value.KindF64:
		w.Byte(OpF64Const)
		w.WriteU64LE(bits)
	case value.KindFuncRef, value.KindExternRef:
		w.Byte(OpRefNull)
		w.Byte(byte(kind))
	}
	w.Byte(OpEnd)
	return w.Bytes()
}

func writeSection(w *binary.Writer, id byte, data []byte) {
	w.Byte(id)
	w.WriteU32(uint32(len(data)))
	w.WriteBytes(data)
}

func writeValTypes(w *binary.Writer, types []value.Kind) {
	w.WriteU32(uint32(len(types)))
	for _, t := range types {
		w.Byte(byte(t))
	}
}

func writeLimits(w *binary.Writer, l Limits) {
	flags := LimitsNoMax
	if l.Max != nil {
		flags |= LimitsHasMax
	}
	if l.Shared {
		flags |= LimitsShared
	}
	w.Byte(flags)
	w.WriteU32(uint32(l.Min))
	if l.Max != nil {
		w.WriteU32(uint32(*l.Max))
	}
}

func writeTableType(w *binary.Writer, t TableType) {
	w.Byte(byte(t.Elem))
	writeLimits(w, t.Limits)
}

func writeGlobalType(w *binary.Writer, g GlobalType) {
	w.Byte(byte(g.Type))
	if g.Mutable {
		w.Byte(MutVar)
	} else {
		w.Byte(MutConst)
	}
}

func writeElement(w *binary.Writer, elem Element) {
	w.WriteU32(elem.Flags)

	hasTableIdx := elem.Flags&0x02 != 0 && elem.Flags&0x01 == 0
	hasOffset := elem.Flags&0x01 == 0
	usesExprs := elem.Flags&0x04 != 0

	if hasTableIdx {
		w.WriteU32(elem.TableIdx)
	}
	if hasOffset {
		w.WriteBytes(elem.Offset)
	}
	if elem.Flags&0x03 != 0 {
		if usesExprs {
			w.Byte(byte(elem.Type))
		} else {
			w.Byte(0x00) // elemkind: funcref
		}
	}
	if usesExprs {
		w.WriteU32(uint32(len(elem.Exprs)))
		for _, expr := range elem.Exprs {
			w.WriteBytes(expr)
		}
	} else {
		w.WriteU32(uint32(len(elem.FuncIdxs)))
		for _, idx := range elem.FuncIdxs {
			w.WriteU32(idx)
		}
	}
}
