package wasm

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	errs "github.com/wippyai/wasm-vm/errors"
	"github.com/wippyai/wasm-vm/value"
	"github.com/wippyai/wasm-vm/wasm/internal/binary"
)

// Parsing errors returned by ParseModule.
var (
	ErrInvalidMagic   = errors.New("invalid wasm magic number")
	ErrInvalidVersion = errors.New("invalid wasm version")
)

// ParseModule parses a WebAssembly binary module. Failures come back
// as malformed-binary errors carrying the byte offset where decoding
// stopped.
func ParseModule(data []byte) (*Module, error) {
	r := binary.NewReader(bytes.NewReader(data))

	// Check magic number
	magic, err := r.ReadU32LE()
	if err != nil {
		return nil, errs.MalformedBinary(r.Position(), "truncated header")
	}
	if magic != Magic {
		return nil, errs.Wrap(errs.PhaseLoad, errs.KindMalformedBinary, ErrInvalidMagic, "header")
	}

	// Check version
	version, err := r.ReadU32LE()
	if err != nil {
		return nil, errs.MalformedBinary(r.Position(), "truncated header")
	}
	if version != Version {
		return nil, errs.Wrap(errs.PhaseLoad, errs.KindMalformedBinary, ErrInvalidVersion,
			fmt.Sprintf("version %d", version))
	}

	m := &Module{}

	// Track section ordering using canonical order, not section IDs.
	// Spec order: Type(1), Import(2), Function(3), Table(4), Memory(5),
	// Global(6), Export(7), Start(8), Element(9), DataCount(12), Code(10), Data(11)
	var lastSectionOrder int

	for {
		sectionID, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, errs.MalformedBinary(r.Position(), "truncated section header")
		}

		// Custom sections can appear anywhere
		if sectionID != SectionCustom {
			order := sectionOrder(sectionID)
			if order < 0 {
				return nil, errs.MalformedBinary(r.Position(),
					fmt.Sprintf("unknown section ID 0x%02x", sectionID))
			}
			if order <= lastSectionOrder {
				return nil, errs.MalformedBinary(r.Position(),
					fmt.Sprintf("section %d appears out of order", sectionID))
			}
			lastSectionOrder = order
		}

		sectionStart := r.Position()
		sectionSize, err := r.ReadU32()
		if err != nil {
			return nil, errs.MalformedBinary(r.Position(), "truncated section size")
		}
		dataStart := r.Position()
		sectionData, err := r.ReadBytes(int(sectionSize))
		if err != nil {
			return nil, errs.MalformedBinary(sectionStart,
				fmt.Sprintf("section %d: size %d exceeds input", sectionID, sectionSize))
		}

		sr := binary.NewReader(bytes.NewReader(sectionData))

		switch sectionID {
		case SectionCustom:
			err = parseCustomSection(sr, m)
		case SectionType:
			err = parseTypeSection(sr, m)
		case SectionImport:
			err = parseImportSection(sr, m)
		case SectionFunction:
			err = parseFunctionSection(sr, m)
		case SectionTable:
			err = parseTableSection(sr, m)
		case SectionMemory:
			err = parseMemorySection(sr, m)
		case SectionGlobal:
			err = parseGlobalSection(sr, m)
		case SectionExport:
			err = parseExportSection(sr, m)
		case SectionStart:
			err = parseStartSection(sr, m)
		case SectionElement:
			err = parseElementSection(sr, m)
		case SectionCode:
			err = parseCodeSection(sr, m)
		case SectionData:
			err = parseDataSection(sr, m)
		case SectionDataCount:
			err = parseDataCountSection(sr, m)
		}
		if err != nil {
			return nil, errs.Wrap(errs.PhaseLoad, errs.KindMalformedBinary, err,
				fmt.Sprintf("%s section (at byte offset %d)", sectionName(sectionID), dataStart+sr.Position()))
		}
	}

	return m, nil
}

// sectionOrder maps a section ID to its canonical position, or -1 for
// an unknown ID.
func sectionOrder(id byte) int {
	switch id {
	case SectionType:
		return 1
	case SectionImport:
		return 2
	case SectionFunction:
		return 3
	case SectionTable:
		return 4
	case SectionMemory:
		return 5
	case SectionGlobal:
		return 6
	case SectionExport:
		return 7
	case SectionStart:
		return 8
	case SectionElement:
		return 9
	case SectionDataCount:
		return 10
	case SectionCode:
		return 11
	case SectionData:
		return 12
	default:
		return -1
	}
}

func sectionName(id byte) string {
	switch id {
	case SectionCustom:
		return "custom"
	case SectionType:
		return "type"
	case SectionImport:
		return "import"
	case SectionFunction:
		return "function"
	case SectionTable:
		return "table"
	case SectionMemory:
		return "memory"
	case SectionGlobal:
		return "global"
	case SectionExport:
		return "export"
	case SectionStart:
		return "start"
	case SectionElement:
		return "element"
	case SectionCode:
		return "code"
	case SectionData:
		return "data"
	case SectionDataCount:
		return "data count"
	default:
		return fmt.Sprintf("unknown(%d)", id)
	}
}

// readVecCount reads a vector length and rejects counts that cannot
// fit in the bytes left. Every vector entry occupies at least one
// byte, so the remaining size caps how many entries can follow. This
// keeps a hostile count from driving a huge allocation before any
// entry is read.
func readVecCount(r *binary.Reader) (uint32, error) {
	count, err := r.ReadU32()
	if err != nil {
		return 0, err
	}
	if rem := r.Remaining(); rem >= 0 && uint64(count) > uint64(rem) {
		return 0, fmt.Errorf("vector claims %d entries with %d bytes remaining", count, rem)
	}
	return count, nil
}

func parseCustomSection(r *binary.Reader, m *Module) error {
	name, err := r.ReadName()
	if err != nil {
		return err
	}
	data, err := r.ReadRemaining()
	if err != nil {
		return err
	}
	m.CustomSections = append(m.CustomSections, CustomSection{Name: name, Data: data})
	return nil
}

func parseTypeSection(r *binary.Reader, m *Module) error {
	count, err := readVecCount(r)
	if err != nil {
		return err
	}
	m.Types = make([]value.FuncType, count)
	for i := uint32(0); i < count; i++ {
		form, err := r.ReadByte()
		if err != nil {
			return err
		}
		if form != FuncTypeTag {
			return fmt.Errorf("type %d: expected function type (0x60), got 0x%02x", i, form)
		}
		ft, err := readFuncType(r)
		if err != nil {
			return err
		}
		m.Types[i] = ft
	}
	return nil
}

func readFuncType(r *binary.Reader) (value.FuncType, error) {
	params, err := readValTypes(r)
	if err != nil {
		return value.FuncType{}, err
	}
	results, err := readValTypes(r)
	if err != nil {
		return value.FuncType{}, err
	}
	return value.FuncType{Params: params, Results: results}, nil
}

func readValTypes(r *binary.Reader) ([]value.Kind, error) {
	count, err := readVecCount(r)
	if err != nil {
		return nil, err
	}
	types := make([]value.Kind, count)
	for i := uint32(0); i < count; i++ {
		types[i], err = readValType(r)
		if err != nil {
			return nil, err
		}
	}
	return types, nil
}

func readValType(r *binary.Reader) (value.Kind, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	k := value.Kind(b)
	if !k.Valid() {
		return 0, fmt.Errorf("invalid value type 0x%02x", b)
	}
	return k, nil
}

func readRefType(r *binary.Reader) (value.Kind, error) {
	k, err := readValType(r)
	if err != nil {
		return 0, err
	}
	if !k.IsRef() {
		return 0, fmt.Errorf("expected reference type, got %s", k)
	}
	return k, nil
}

func parseImportSection(r *binary.Reader, m *Module) error {
	count, err := readVecCount(r)
	if err != nil {
		return err
	}
	m.Imports = make([]Import, count)
	for i := uint32(0); i < count; i++ {
		module, err := r.ReadName()
		if err != nil {
			return err
		}
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}

		imp := Import{Module: module, Name: name, Desc: ImportDesc{Kind: kind}}
		switch kind {
		case KindFunc:
			imp.Desc.TypeIdx, err = r.ReadU32()
		case KindTable:
			var tt TableType
			tt, err = readTableType(r)
			imp.Desc.Table = &tt
		case KindMemory:
			var mt MemoryType
			mt, err = readMemoryType(r)
			imp.Desc.Memory = &mt
		case KindGlobal:
			var gt GlobalType
			gt, err = readGlobalType(r)
			imp.Desc.Global = &gt
		default:
			err = fmt.Errorf("import %d: unknown descriptor kind 0x%02x", i, kind)
		}
		if err != nil {
			return err
		}
		m.Imports[i] = imp
	}
	return nil
}

func parseFunctionSection(r *binary.Reader, m *Module) error {
	count, err := readVecCount(r)
	if err != nil {
		return err
	}
	m.Funcs = make([]uint32, count)
	for i := uint32(0); i < count; i++ {
		m.Funcs[i], err = r.ReadU32()
		if err != nil {
			return err
		}
	}
	return nil
}

func parseTableSection(r *binary.Reader, m *Module) error {
	count, err := readVecCount(r)
	if err != nil {
		return err
	}
	m.Tables = make([]TableType, count)
	for i := uint32(0); i < count; i++ {
		m.Tables[i], err = readTableType(r)
		if err != nil {
			return err
		}
	}
	return nil
}

func parseMemorySection(r *binary.Reader, m *Module) error {
	count, err := readVecCount(r)
	if err != nil {
		return err
	}
	m.Memories = make([]MemoryType, count)
	for i := uint32(0); i < count; i++ {
		m.Memories[i], err = readMemoryType(r)
		if err != nil {
			return err
		}
	}
	return nil
}

func parseGlobalSection(r *binary.Reader, m *Module) error {
	count, err := readVecCount(r)
	if err != nil {
		return err
	}
	m.Globals = make([]Global, count)
	for i := uint32(0); i < count; i++ {
		gt, err := readGlobalType(r)
		if err != nil {
			return err
		}
		init, err := readInitExpr(r)
		if err != nil {
			return err
		}
		m.Globals[i] = Global{Type: gt, Init: init}
	}
	return nil
}

func parseExportSection(r *binary.Reader, m *Module) error {
	count, err := readVecCount(r)
	if err != nil {
		return err
	}
	m.Exports = make([]Export, count)
	for i := uint32(0); i < count; i++ {
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		if kind > KindGlobal {
			return fmt.Errorf("export %q: unknown descriptor kind 0x%02x", name, kind)
		}
		idx, err := r.ReadU32()
		if err != nil {
			return err
		}
		m.Exports[i] = Export{Name: name, Kind: kind, Idx: idx}
	}
	return nil
}

func parseStartSection(r *binary.Reader, m *Module) error {
	idx, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Start = &idx
	return nil
}

func parseElementSection(r *binary.Reader, m *Module) error {
	count, err := readVecCount(r)
	if err != nil {
		return err
	}
	m.Elements = make([]Element, count)
	for i := uint32(0); i < count; i++ {
		flags, err := r.ReadU32()
		if err != nil {
			return err
		}
		if flags > 7 {
			return fmt.Errorf("invalid element segment flags: %d", flags)
		}

		elem := Element{Flags: flags, Type: value.KindFuncRef}

		// Bit 1: passive/declarative (no table index or offset)
		// Bit 2: explicit table index
		hasTableIdx := flags&0x02 != 0 && flags&0x01 == 0
		hasOffset := flags&0x01 == 0
		usesExprs := flags&0x04 != 0

		if hasTableIdx {
			elem.TableIdx, err = r.ReadU32()
			if err != nil {
				return err
			}
		}
		if hasOffset {
			elem.Offset, err = readInitExpr(r)
			if err != nil {
				return err
			}
		}

		// Flags 1, 2, 3: elemkind follows (must be 0x00 for funcref)
		// Flags 5, 6, 7: reftype follows
		if flags&0x03 != 0 {
			if usesExprs {
				elem.Type, err = readRefType(r)
				if err != nil {
					return err
				}
			} else {
				kind, err := r.ReadByte()
				if err != nil {
					return err
				}
				if kind != 0x00 {
					return fmt.Errorf("element %d: unsupported elemkind 0x%02x", i, kind)
				}
			}
		}

		vecCount, err := readVecCount(r)
		if err != nil {
			return err
		}
		if usesExprs {
			elem.Exprs = make([][]byte, vecCount)
			for j := uint32(0); j < vecCount; j++ {
				elem.Exprs[j], err = readInitExpr(r)
				if err != nil {
					return err
				}
			}
		} else {
			elem.FuncIdxs = make([]uint32, vecCount)
			for j := uint32(0); j < vecCount; j++ {
				elem.FuncIdxs[j], err = r.ReadU32()
				if err != nil {
					return err
				}
			}
		}

		m.Elements[i] = elem
	}
	return nil
}

func parseCodeSection(r *binary.Reader, m *Module) error {
	count, err := readVecCount(r)
	if err != nil {
		return err
	}
	m.Code = make([]FuncBody, count)
	for i := uint32(0); i < count; i++ {
		bodySize, err := r.ReadU32()
		if err != nil {
			return err
		}
		bodyData, err := r.ReadBytes(int(bodySize))
		if err != nil {
			return err
		}

		br := binary.NewBytesReader(bodyData)

		localCount, err := br.ReadU32()
		if err != nil {
			return err
		}
		var locals []LocalEntry
		var total uint64
		for j := uint32(0); j < localCount; j++ {
			n, err := br.ReadU32()
			if err != nil {
				return err
			}
			t, err := readValType(br)
			if err != nil {
				return err
			}
			total += uint64(n)
			if total > 50000 {
				return fmt.Errorf("function %d: too many locals", i)
			}
			locals = append(locals, LocalEntry{Count: n, Type: t})
		}

		code, err := br.ReadRemaining()
		if err != nil {
			return err
		}
		if len(code) == 0 || code[len(code)-1] != OpEnd {
			return fmt.Errorf("function %d: body does not end with end opcode", i)
		}

		m.Code[i] = FuncBody{Locals: locals, Code: code}
	}
	return nil
}

func parseDataSection(r *binary.Reader, m *Module) error {
	count, err := readVecCount(r)
	if err != nil {
		return err
	}
	if m.DataCount != nil && *m.DataCount != count {
		return fmt.Errorf("data count section says %d segments, data section has %d", *m.DataCount, count)
	}
	m.Data = make([]DataSegment, count)
	for i := uint32(0); i < count; i++ {
		flags, err := r.ReadU32()
		if err != nil {
			return err
		}
		if flags > 2 {
			return fmt.Errorf("invalid data segment flags: %d", flags)
		}

		seg := DataSegment{Flags: flags}

		// flags=0: active, memIdx=0, offset, data
		// flags=1: passive, data only
		// flags=2: active, memIdx, offset, data
		if flags == 2 {
			seg.MemIdx, err = r.ReadU32()
			if err != nil {
				return err
			}
		}
		if flags != 1 {
			seg.Offset, err = readInitExpr(r)
			if err != nil {
				return err
			}
		}

		initLen, err := r.ReadU32()
		if err != nil {
			return err
		}
		seg.Init, err = r.ReadBytes(int(initLen))
		if err != nil {
			return err
		}

		m.Data[i] = seg
	}
	return nil
}

func parseDataCountSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.DataCount = &count
	return nil
}

func readLimits(r *binary.Reader) (Limits, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return Limits{}, err
	}
	if flags > LimitsHasMax|LimitsShared {
		return Limits{}, fmt.Errorf("invalid limits flags 0x%02x", flags)
	}

	l := Limits{Shared: flags&LimitsShared != 0}

	minVal, err := r.ReadU32()
	if err != nil {
		return Limits{}, err
	}
	l.Min = uint64(minVal)
	if flags&LimitsHasMax != 0 {
		maxVal, err := r.ReadU32()
		if err != nil {
			return Limits{}, err
		}
		max64 := uint64(maxVal)
		l.Max = &max64
	}
	if l.Shared && l.Max == nil {
		return Limits{}, errors.New("shared limits require a maximum")
	}
	return l, nil
}

func readTableType(r *binary.Reader) (TableType, error) {
	elem, err := readRefType(r)
	if err != nil {
		return TableType{}, err
	}
	limits, err := readLimits(r)
	if err != nil {
		return TableType{}, err
	}
	return TableType{Elem: elem, Limits: limits}, nil
}

func readMemoryType(r *binary.Reader) (MemoryType, error) {
	limits, err := readLimits(r)
	if err != nil {
		return MemoryType{}, err
	}
	return MemoryType{Limits: limits}, nil
}

func readGlobalType(r *binary.Reader) (GlobalType, error) {
	t, err := readValType(r)
	if err != nil {
		return GlobalType{}, err
	}
	mut, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	if mut > MutVar {
		return GlobalType{}, fmt.Errorf("invalid mutability flag 0x%02x", mut)
	}
	return GlobalType{Type: t, Mutable: mut == MutVar}, nil
}

// readInitExpr copies a constant expression verbatim, including the
// terminating end opcode.
func readInitExpr(r *binary.Reader) ([]byte, error) {
	var buf bytes.Buffer
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		buf.WriteByte(b)
		if b == OpEnd {
			break
		}
		if err := copyInitExprImmediate(r, &buf, b); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func copyInitExprImmediate(r *binary.Reader, buf *bytes.Buffer, opcode byte) error {
	switch opcode {
	case OpI32Const, OpI64Const, OpGlobalGet, OpRefNull, OpRefFunc:
		return copyLEB128(r, buf)
	case OpF32Const:
		return copyBytes(r, buf, 4)
	case OpF64Const:
		return copyBytes(r, buf, 8)
	// Extended-const proposal: arithmetic in init expressions
	case OpI32Add, OpI32Sub, OpI32Mul, OpI64Add, OpI64Sub, OpI64Mul:
		return nil
	default:
		return fmt.Errorf("opcode 0x%02x not allowed in constant expression", opcode)
	}
}

func copyLEB128(r *binary.Reader, buf *bytes.Buffer) error {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		buf.WriteByte(b)
		if b&0x80 == 0 {
			return nil
		}
	}
}

func copyBytes(r *binary.Reader, buf *bytes.Buffer, n int) error {
	data, err := r.ReadBytes(n)
	if err != nil {
		return err
	}
	buf.Write(data)
	return nil
}
