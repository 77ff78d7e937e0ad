package wasm

import (
	"bytes"
	"fmt"

	errs "github.com/wippyai/wasm-vm/errors"
	"github.com/wippyai/wasm-vm/value"
	"github.com/wippyai/wasm-vm/wasm/internal/binary"
)

// Validate checks the module for structural validity: all index
// references in range, limits consistent, export names unique, the
// start function nullary, and every function body well typed.
func (m *Module) Validate() error {
	if err := m.validateTypeIndices(); err != nil {
		return err
	}
	if err := m.validateFunctionIndices(); err != nil {
		return err
	}
	if err := m.validateTableIndices(); err != nil {
		return err
	}
	if err := m.validateMemoryIndices(); err != nil {
		return err
	}
	if err := m.validateGlobals(); err != nil {
		return err
	}
	if err := m.validateElements(); err != nil {
		return err
	}
	if err := m.validateExports(); err != nil {
		return err
	}
	if err := m.validateStart(); err != nil {
		return err
	}
	if err := m.validateDataCount(); err != nil {
		return err
	}
	if err := m.validateCodeCount(); err != nil {
		return err
	}
	if err := m.validateLimits(); err != nil {
		return err
	}
	return m.validateFunctionBodies()
}

// ParseModuleValidate parses a WebAssembly binary and validates it.
// This is a convenience function combining ParseModule and Validate.
func ParseModuleValidate(data []byte) (*Module, error) {
	m, err := ParseModule(data)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Module) validateTypeIndices() error {
	numTypes := uint32(len(m.Types))
	for i, typeIdx := range m.Funcs {
		if typeIdx >= numTypes {
			return errs.UnknownIndex([]string{"func", fmt.Sprint(i)}, typeIdx, numTypes)
		}
	}
	for i, imp := range m.Imports {
		if imp.Desc.Kind == KindFunc && imp.Desc.TypeIdx >= numTypes {
			return errs.UnknownIndex([]string{"import", fmt.Sprint(i)}, imp.Desc.TypeIdx, numTypes)
		}
	}
	return nil
}

func (m *Module) validateFunctionIndices() error {
	numFuncs := uint32(m.NumFuncs())
	for i, elem := range m.Elements {
		for _, idx := range elem.FuncIdxs {
			if idx >= numFuncs {
				return errs.UnknownIndex([]string{"element", fmt.Sprint(i)}, idx, numFuncs)
			}
		}
		for _, expr := range elem.Exprs {
			if idx, ok := refFuncIndex(expr); ok && idx >= numFuncs {
				return errs.UnknownIndex([]string{"element", fmt.Sprint(i)}, idx, numFuncs)
			}
		}
	}
	return nil
}

func (m *Module) validateTableIndices() error {
	numTables := uint32(m.NumTables())
	for i, elem := range m.Elements {
		if !elem.IsActive() {
			continue
		}
		if elem.TableIdx >= numTables {
			return errs.UnknownIndex([]string{"element", fmt.Sprint(i)}, elem.TableIdx, numTables)
		}
		tt, _ := m.TableTypeAt(elem.TableIdx)
		if tt.Elem != elem.Type {
			return errs.TypeMismatch([]string{"element", fmt.Sprint(i)},
				fmt.Sprintf("segment of %s targets table of %s", elem.Type, tt.Elem))
		}
	}
	return nil
}

func (m *Module) validateMemoryIndices() error {
	numMems := uint32(m.NumMemories())
	for i, seg := range m.Data {
		if seg.IsActive() && seg.MemIdx >= numMems {
			return errs.UnknownIndex([]string{"data", fmt.Sprint(i)}, seg.MemIdx, numMems)
		}
	}
	return nil
}

func (m *Module) validateGlobals() error {
	for i, g := range m.Globals {
		path := []string{"global", fmt.Sprint(i)}
		got, err := m.constExprType(g.Init)
		if err != nil {
			return errs.TypeMismatch(path, err.Error())
		}
		if got != g.Type.Type {
			return errs.TypeMismatch(path,
				fmt.Sprintf("init expression yields %s, global declared %s", got, g.Type.Type))
		}
	}
	return nil
}

func (m *Module) validateElements() error {
	for i, elem := range m.Elements {
		path := []string{"element", fmt.Sprint(i)}
		if elem.IsActive() {
			got, err := m.constExprType(elem.Offset)
			if err != nil {
				return errs.TypeMismatch(path, err.Error())
			}
			if got != value.KindI32 {
				return errs.TypeMismatch(path, fmt.Sprintf("offset expression yields %s, want i32", got))
			}
		}
		for _, expr := range elem.Exprs {
			got, err := m.constExprType(expr)
			if err != nil {
				return errs.TypeMismatch(path, err.Error())
			}
			if got != elem.Type {
				return errs.TypeMismatch(path,
					fmt.Sprintf("element expression yields %s, segment declared %s", got, elem.Type))
			}
		}
	}
	for i, seg := range m.Data {
		if !seg.IsActive() {
			continue
		}
		path := []string{"data", fmt.Sprint(i)}
		got, err := m.constExprType(seg.Offset)
		if err != nil {
			return errs.TypeMismatch(path, err.Error())
		}
		if got != value.KindI32 {
			return errs.TypeMismatch(path, fmt.Sprintf("offset expression yields %s, want i32", got))
		}
	}
	return nil
}

func (m *Module) validateExports() error {
	seen := make(map[string]struct{}, len(m.Exports))
	for i, exp := range m.Exports {
		path := []string{"export", exp.Name}
		if _, dup := seen[exp.Name]; dup {
			return errs.New(errs.PhaseValidate, errs.KindDuplicateExport,
				"export name %q used more than once", exp.Name)
		}
		seen[exp.Name] = struct{}{}

		var space uint32
		switch exp.Kind {
		case KindFunc:
			space = uint32(m.NumFuncs())
		case KindTable:
			space = uint32(m.NumTables())
		case KindMemory:
			space = uint32(m.NumMemories())
		case KindGlobal:
			space = uint32(m.NumGlobals())
		default:
			return errs.TypeMismatch(path, fmt.Sprintf("export %d: unknown kind 0x%02x", i, exp.Kind))
		}
		if exp.Idx >= space {
			return errs.UnknownIndex(path, exp.Idx, space)
		}
	}
	return nil
}

func (m *Module) validateStart() error {
	if m.Start == nil {
		return nil
	}
	ft, ok := m.FuncType(*m.Start)
	if !ok {
		return errs.UnknownIndex([]string{"start"}, *m.Start, uint32(m.NumFuncs()))
	}
	if len(ft.Params) != 0 || len(ft.Results) != 0 {
		return errs.TypeMismatch([]string{"start"},
			fmt.Sprintf("start function must have type [] -> [], got %s", ft))
	}
	return nil
}

func (m *Module) validateDataCount() error {
	if m.DataCount != nil && int(*m.DataCount) != len(m.Data) {
		return errs.New(errs.PhaseValidate, errs.KindMalformedBinary,
			"data count section says %d segments, data section has %d", *m.DataCount, len(m.Data))
	}
	return nil
}

func (m *Module) validateCodeCount() error {
	if len(m.Funcs) != len(m.Code) {
		return errs.New(errs.PhaseValidate, errs.KindMalformedBinary,
			"function section declares %d functions, code section has %d bodies", len(m.Funcs), len(m.Code))
	}
	return nil
}

func (m *Module) validateLimits() error {
	check := func(path []string, l Limits, ceiling uint64, what string) error {
		if l.Max != nil && l.Min > *l.Max {
			return errs.InvalidLimits(path, fmt.Sprintf("min %d exceeds max %d", l.Min, *l.Max))
		}
		if l.Min > ceiling {
			return errs.InvalidLimits(path, fmt.Sprintf("min %d exceeds %s ceiling %d", l.Min, what, ceiling))
		}
		if l.Max != nil && *l.Max > ceiling {
			return errs.InvalidLimits(path, fmt.Sprintf("max %d exceeds %s ceiling %d", *l.Max, what, ceiling))
		}
		return nil
	}

	for i, mem := range m.Memories {
		if err := check([]string{"memory", fmt.Sprint(i)}, mem.Limits, MemoryMaxPages, "page"); err != nil {
			return err
		}
	}
	const tableCeiling = uint64(1<<32) - 1
	for i, t := range m.Tables {
		if err := check([]string{"table", fmt.Sprint(i)}, t.Limits, tableCeiling, "element"); err != nil {
			return err
		}
	}
	for i, imp := range m.Imports {
		path := []string{"import", fmt.Sprint(i)}
		switch imp.Desc.Kind {
		case KindMemory:
			if err := check(path, imp.Desc.Memory.Limits, MemoryMaxPages, "page"); err != nil {
				return err
			}
		case KindTable:
			if err := check(path, imp.Desc.Table.Limits, tableCeiling, "element"); err != nil {
				return err
			}
		}
	}
	return nil
}

// constExprType determines the result type of a constant expression.
// Only the instructions the binary format allows in constant position
// are accepted; global.get must name an imported immutable global.
func (m *Module) constExprType(expr []byte) (value.Kind, error) {
	r := binary.NewReader(bytes.NewReader(expr))
	var result value.Kind
	var have bool
	for {
		op, err := r.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("truncated constant expression")
		}
		if op == OpEnd {
			break
		}
		switch op {
		case OpI32Const:
			if _, err := r.ReadS32(); err != nil {
				return 0, err
			}
			result, have = value.KindI32, true
		case OpI64Const:
			if _, err := r.ReadS64(); err != nil {
				return 0, err
			}
			result, have = value.KindI64, true
		case OpF32Const:
			if _, err := r.ReadBytes(4); err != nil {
				return 0, err
			}
			result, have = value.KindF32, true
		case OpF64Const:
			if _, err := r.ReadBytes(8); err != nil {
				return 0, err
			}
			result, have = value.KindF64, true
		case OpGlobalGet:
			idx, err := r.ReadU32()
			if err != nil {
				return 0, err
			}
			numImported := uint32(m.NumImportedGlobals())
			if idx >= numImported {
				return 0, fmt.Errorf("global.get %d in constant expression must name an imported global", idx)
			}
			gt, _ := m.GlobalTypeAt(idx)
			if gt.Mutable {
				return 0, fmt.Errorf("global.get %d in constant expression names a mutable global", idx)
			}
			result, have = gt.Type, true
		case OpRefNull:
			t, err := r.ReadS32()
			if err != nil {
				return 0, err
			}
			switch t {
			case -16: // funcref heap type
				result = value.KindFuncRef
			case -17: // externref heap type
				result = value.KindExternRef
			default:
				return 0, fmt.Errorf("ref.null with unsupported heap type %d", t)
			}
			have = true
		case OpRefFunc:
			idx, err := r.ReadU32()
			if err != nil {
				return 0, err
			}
			if idx >= uint32(m.NumFuncs()) {
				return 0, fmt.Errorf("ref.func %d out of range", idx)
			}
			result, have = value.KindFuncRef, true
		case OpI32Add, OpI32Sub, OpI32Mul:
			if result != value.KindI32 {
				return 0, fmt.Errorf("i32 arithmetic on %s in constant expression", result)
			}
		case OpI64Add, OpI64Sub, OpI64Mul:
			if result != value.KindI64 {
				return 0, fmt.Errorf("i64 arithmetic on %s in constant expression", result)
			}
		default:
			return 0, fmt.Errorf("opcode 0x%02x not allowed in constant expression", op)
		}
	}
	if !have {
		return 0, fmt.Errorf("empty constant expression")
	}
	return result, nil
}

// refFuncIndex extracts the function index from a single-instruction
// ref.func constant expression, for index range checking.
func refFuncIndex(expr []byte) (uint32, bool) {
	if len(expr) < 2 || expr[0] != OpRefFunc {
		return 0, false
	}
	r := binary.NewBytesReader(expr[1:])
	idx, err := r.ReadU32()
	if err != nil {
		return 0, false
	}
	return idx, true
}
