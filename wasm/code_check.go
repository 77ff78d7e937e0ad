package wasm

import (
	"fmt"

	errs "github.com/wippyai/wasm-vm/errors"
	"github.com/wippyai/wasm-vm/value"
	"github.com/wippyai/wasm-vm/wasm/internal/binary"
)

// unknownKind is the bottom type pushed in unreachable code. It
// matches any expected operand type.
const unknownKind value.Kind = 0

// validateFunctionBodies type checks every function body against its
// declared signature using the standard operand stack and control
// frame algorithm.
func (m *Module) validateFunctionBodies() error {
	for i, body := range m.Code {
		typeIdx := m.Funcs[i]
		ft := m.Types[typeIdx]
		if err := m.checkBody(ft, body); err != nil {
			funcIdx := m.NumImportedFuncs() + i
			return errs.TypeMismatch([]string{"func", fmt.Sprint(funcIdx)}, err.Error())
		}
	}
	return nil
}

type ctrlFrame struct {
	opcode      byte
	startTypes  []value.Kind
	endTypes    []value.Kind
	height      int
	unreachable bool
}

type codeChecker struct {
	m      *Module
	r      *binary.Reader
	locals []value.Kind
	vals   []value.Kind
	ctrls  []ctrlFrame
}

func (m *Module) checkBody(ft value.FuncType, body FuncBody) error {
	locals := make([]value.Kind, 0, len(ft.Params))
	locals = append(locals, ft.Params...)
	for _, entry := range body.Locals {
		for n := uint32(0); n < entry.Count; n++ {
			locals = append(locals, entry.Type)
		}
	}

	c := &codeChecker{
		m:      m,
		r:      binary.NewBytesReader(body.Code),
		locals: locals,
	}
	c.pushCtrl(OpBlock, nil, ft.Results)

	for len(c.ctrls) > 0 {
		op, err := c.r.ReadByte()
		if err != nil {
			return fmt.Errorf("truncated body")
		}
		if err := c.step(op); err != nil {
			return fmt.Errorf("at body offset %d: %w", c.r.Position(), err)
		}
	}

	// Everything after the final end must be consumed
	if _, err := c.r.ReadByte(); err == nil {
		return fmt.Errorf("trailing bytes after function end")
	}
	return nil
}

// Operand stack primitives

func (c *codeChecker) pushVal(k value.Kind) {
	c.vals = append(c.vals, k)
}

func (c *codeChecker) pushVals(ks []value.Kind) {
	c.vals = append(c.vals, ks...)
}

func (c *codeChecker) popVal() (value.Kind, error) {
	frame := &c.ctrls[len(c.ctrls)-1]
	if len(c.vals) == frame.height {
		if frame.unreachable {
			return unknownKind, nil
		}
		return 0, fmt.Errorf("operand stack underflow")
	}
	k := c.vals[len(c.vals)-1]
	c.vals = c.vals[:len(c.vals)-1]
	return k, nil
}

func (c *codeChecker) popExpect(want value.Kind) (value.Kind, error) {
	got, err := c.popVal()
	if err != nil {
		return 0, err
	}
	if got != want && got != unknownKind && want != unknownKind {
		return 0, fmt.Errorf("expected %s on stack, got %s", want, got)
	}
	return got, nil
}

func (c *codeChecker) popVals(wants []value.Kind) error {
	for i := len(wants) - 1; i >= 0; i-- {
		if _, err := c.popExpect(wants[i]); err != nil {
			return err
		}
	}
	return nil
}

// Control frame primitives

func (c *codeChecker) pushCtrl(opcode byte, in, out []value.Kind) {
	c.ctrls = append(c.ctrls, ctrlFrame{
		opcode:     opcode,
		startTypes: in,
		endTypes:   out,
		height:     len(c.vals),
	})
	c.pushVals(in)
}

func (c *codeChecker) popCtrl() (ctrlFrame, error) {
	if len(c.ctrls) == 0 {
		return ctrlFrame{}, fmt.Errorf("control stack underflow")
	}
	frame := c.ctrls[len(c.ctrls)-1]
	if err := c.popVals(frame.endTypes); err != nil {
		return ctrlFrame{}, err
	}
	if len(c.vals) != frame.height {
		return ctrlFrame{}, fmt.Errorf("%d values left on stack at block end", len(c.vals)-frame.height)
	}
	c.ctrls = c.ctrls[:len(c.ctrls)-1]
	return frame, nil
}

func (c *codeChecker) setUnreachable() {
	frame := &c.ctrls[len(c.ctrls)-1]
	c.vals = c.vals[:frame.height]
	frame.unreachable = true
}

// labelTypes returns the types a branch to the given frame must
// provide: the start types for a loop, the end types otherwise.
func (f *ctrlFrame) labelTypes() []value.Kind {
	if f.opcode == OpLoop {
		return f.startTypes
	}
	return f.endTypes
}

func (c *codeChecker) frameAt(depth uint32) (*ctrlFrame, error) {
	if int(depth) >= len(c.ctrls) {
		return nil, fmt.Errorf("branch depth %d exceeds nesting %d", depth, len(c.ctrls))
	}
	return &c.ctrls[len(c.ctrls)-1-int(depth)], nil
}

// blockType resolves a block type immediate: a value type shorthand,
// void, or an index into the type section.
func (c *codeChecker) blockType() (value.FuncType, error) {
	bt, err := c.r.ReadS64()
	if err != nil {
		return value.FuncType{}, err
	}
	if bt >= 0 {
		if int(bt) >= len(c.m.Types) {
			return value.FuncType{}, fmt.Errorf("block type index %d out of range", bt)
		}
		return c.m.Types[bt], nil
	}
	switch int32(bt) {
	case BlockTypeVoid:
		return value.FuncType{}, nil
	case BlockTypeI32:
		return value.FuncType{Results: []value.Kind{value.KindI32}}, nil
	case BlockTypeI64:
		return value.FuncType{Results: []value.Kind{value.KindI64}}, nil
	case BlockTypeF32:
		return value.FuncType{Results: []value.Kind{value.KindF32}}, nil
	case BlockTypeF64:
		return value.FuncType{Results: []value.Kind{value.KindF64}}, nil
	case BlockTypeV128:
		return value.FuncType{Results: []value.Kind{value.KindV128}}, nil
	case -16:
		return value.FuncType{Results: []value.Kind{value.KindFuncRef}}, nil
	case -17:
		return value.FuncType{Results: []value.Kind{value.KindExternRef}}, nil
	}
	return value.FuncType{}, fmt.Errorf("invalid block type %d", bt)
}

func (c *codeChecker) localType(idx uint32) (value.Kind, error) {
	if int(idx) >= len(c.locals) {
		return 0, fmt.Errorf("local index %d out of range (have %d)", idx, len(c.locals))
	}
	return c.locals[idx], nil
}

// memarg reads an alignment/offset immediate pair and checks the
// alignment against the access width.
func (c *codeChecker) memarg(naturalAlign uint32) error {
	if c.m.NumMemories() == 0 {
		return fmt.Errorf("memory instruction with no memory declared")
	}
	align, err := c.r.ReadU32()
	if err != nil {
		return err
	}
	if align > naturalAlign {
		return fmt.Errorf("alignment 2^%d exceeds natural alignment 2^%d", align, naturalAlign)
	}
	_, err = c.r.ReadU32() // offset
	return err
}

func (c *codeChecker) load(naturalAlign uint32, result value.Kind) error {
	if err := c.memarg(naturalAlign); err != nil {
		return err
	}
	if _, err := c.popExpect(value.KindI32); err != nil {
		return err
	}
	c.pushVal(result)
	return nil
}

func (c *codeChecker) store(naturalAlign uint32, operand value.Kind) error {
	if err := c.memarg(naturalAlign); err != nil {
		return err
	}
	if _, err := c.popExpect(operand); err != nil {
		return err
	}
	_, err := c.popExpect(value.KindI32)
	return err
}

// popPush applies a fixed stack effect.
func (c *codeChecker) popPush(pops []value.Kind, pushes ...value.Kind) error {
	if err := c.popVals(pops); err != nil {
		return err
	}
	c.pushVals(pushes)
	return nil
}

var (
	kI32 = value.KindI32
	kI64 = value.KindI64
	kF32 = value.KindF32
	kF64 = value.KindF64
)

func (c *codeChecker) step(op byte) error {
	switch op {
	case OpUnreachable:
		c.setUnreachable()
	case OpNop:

	case OpBlock, OpLoop:
		ft, err := c.blockType()
		if err != nil {
			return err
		}
		if err := c.popVals(ft.Params); err != nil {
			return err
		}
		c.pushCtrl(op, ft.Params, ft.Results)

	case OpIf:
		ft, err := c.blockType()
		if err != nil {
			return err
		}
		if _, err := c.popExpect(kI32); err != nil {
			return err
		}
		if err := c.popVals(ft.Params); err != nil {
			return err
		}
		c.pushCtrl(op, ft.Params, ft.Results)

	case OpElse:
		frame, err := c.popCtrl()
		if err != nil {
			return err
		}
		if frame.opcode != OpIf {
			return fmt.Errorf("else outside if")
		}
		c.pushCtrl(OpElse, frame.startTypes, frame.endTypes)

	case OpEnd:
		frame, err := c.popCtrl()
		if err != nil {
			return err
		}
		// An if without else must have matching param/result types
		if frame.opcode == OpIf && !kindsEqual(frame.startTypes, frame.endTypes) {
			return fmt.Errorf("if without else must leave the stack unchanged")
		}
		c.pushVals(frame.endTypes)

	case OpBr:
		depth, err := c.r.ReadU32()
		if err != nil {
			return err
		}
		frame, err := c.frameAt(depth)
		if err != nil {
			return err
		}
		if err := c.popVals(frame.labelTypes()); err != nil {
			return err
		}
		c.setUnreachable()

	case OpBrIf:
		depth, err := c.r.ReadU32()
		if err != nil {
			return err
		}
		frame, err := c.frameAt(depth)
		if err != nil {
			return err
		}
		if _, err := c.popExpect(kI32); err != nil {
			return err
		}
		labels := frame.labelTypes()
		if err := c.popVals(labels); err != nil {
			return err
		}
		c.pushVals(labels)

	case OpBrTable:
		count, err := c.r.ReadU32()
		if err != nil {
			return err
		}
		// Each target takes at least one byte, so the body bounds the count.
		if rem := c.r.Remaining(); rem >= 0 && uint64(count) > uint64(rem) {
			return fmt.Errorf("br_table claims %d targets with %d bytes remaining", count, rem)
		}
		if _, err := c.popExpect(kI32); err != nil {
			return err
		}
		targets := make([][]value.Kind, 0, count+1)
		for i := uint32(0); i <= count; i++ {
			depth, err := c.r.ReadU32()
			if err != nil {
				return err
			}
			frame, err := c.frameAt(depth)
			if err != nil {
				return err
			}
			targets = append(targets, frame.labelTypes())
		}
		defaultLabels := targets[len(targets)-1]
		for _, labels := range targets[:len(targets)-1] {
			if !kindsEqual(labels, defaultLabels) {
				return fmt.Errorf("br_table targets have mismatched label types")
			}
		}
		if err := c.popVals(defaultLabels); err != nil {
			return err
		}
		c.setUnreachable()

	case OpReturn:
		if err := c.popVals(c.ctrls[0].endTypes); err != nil {
			return err
		}
		c.setUnreachable()

	case OpCall:
		idx, err := c.r.ReadU32()
		if err != nil {
			return err
		}
		ft, ok := c.m.FuncType(idx)
		if !ok {
			return fmt.Errorf("call to unknown function %d", idx)
		}
		return c.popPush(ft.Params, ft.Results...)

	case OpCallIndirect:
		typeIdx, err := c.r.ReadU32()
		if err != nil {
			return err
		}
		tableIdx, err := c.r.ReadU32()
		if err != nil {
			return err
		}
		if int(typeIdx) >= len(c.m.Types) {
			return fmt.Errorf("call_indirect type index %d out of range", typeIdx)
		}
		tt, ok := c.m.TableTypeAt(tableIdx)
		if !ok {
			return fmt.Errorf("call_indirect table index %d out of range", tableIdx)
		}
		if tt.Elem != value.KindFuncRef {
			return fmt.Errorf("call_indirect on table of %s", tt.Elem)
		}
		if _, err := c.popExpect(kI32); err != nil {
			return err
		}
		ft := c.m.Types[typeIdx]
		return c.popPush(ft.Params, ft.Results...)

	case OpDrop:
		_, err := c.popVal()
		return err

	case OpSelect:
		if _, err := c.popExpect(kI32); err != nil {
			return err
		}
		a, err := c.popVal()
		if err != nil {
			return err
		}
		b, err := c.popVal()
		if err != nil {
			return err
		}
		if a != b && a != unknownKind && b != unknownKind {
			return fmt.Errorf("select operands differ: %s vs %s", a, b)
		}
		if a.IsRef() || b.IsRef() {
			return fmt.Errorf("untyped select on reference values")
		}
		if a == unknownKind {
			a = b
		}
		c.pushVal(a)

	case OpSelectType:
		count, err := c.r.ReadU32()
		if err != nil {
			return err
		}
		if count != 1 {
			return fmt.Errorf("select immediate must name exactly one type")
		}
		t, err := readValType(c.r)
		if err != nil {
			return err
		}
		return c.popPush([]value.Kind{t, t, kI32}, t)

	case OpLocalGet:
		idx, err := c.r.ReadU32()
		if err != nil {
			return err
		}
		t, err := c.localType(idx)
		if err != nil {
			return err
		}
		c.pushVal(t)

	case OpLocalSet:
		idx, err := c.r.ReadU32()
		if err != nil {
			return err
		}
		t, err := c.localType(idx)
		if err != nil {
			return err
		}
		_, err = c.popExpect(t)
		return err

	case OpLocalTee:
		idx, err := c.r.ReadU32()
		if err != nil {
			return err
		}
		t, err := c.localType(idx)
		if err != nil {
			return err
		}
		return c.popPush([]value.Kind{t}, t)

	case OpGlobalGet:
		idx, err := c.r.ReadU32()
		if err != nil {
			return err
		}
		gt, ok := c.m.GlobalTypeAt(idx)
		if !ok {
			return fmt.Errorf("global index %d out of range", idx)
		}
		c.pushVal(gt.Type)

	case OpGlobalSet:
		idx, err := c.r.ReadU32()
		if err != nil {
			return err
		}
		gt, ok := c.m.GlobalTypeAt(idx)
		if !ok {
			return fmt.Errorf("global index %d out of range", idx)
		}
		if !gt.Mutable {
			return fmt.Errorf("global.set on immutable global %d", idx)
		}
		_, err = c.popExpect(gt.Type)
		return err

	case OpTableGet:
		idx, err := c.r.ReadU32()
		if err != nil {
			return err
		}
		tt, ok := c.m.TableTypeAt(idx)
		if !ok {
			return fmt.Errorf("table index %d out of range", idx)
		}
		return c.popPush([]value.Kind{kI32}, tt.Elem)

	case OpTableSet:
		idx, err := c.r.ReadU32()
		if err != nil {
			return err
		}
		tt, ok := c.m.TableTypeAt(idx)
		if !ok {
			return fmt.Errorf("table index %d out of range", idx)
		}
		return c.popVals([]value.Kind{kI32, tt.Elem})

	case OpI32Load:
		return c.load(2, kI32)
	case OpI64Load:
		return c.load(3, kI64)
	case OpF32Load:
		return c.load(2, kF32)
	case OpF64Load:
		return c.load(3, kF64)
	case OpI32Load8S, OpI32Load8U:
		return c.load(0, kI32)
	case OpI32Load16S, OpI32Load16U:
		return c.load(1, kI32)
	case OpI64Load8S, OpI64Load8U:
		return c.load(0, kI64)
	case OpI64Load16S, OpI64Load16U:
		return c.load(1, kI64)
	case OpI64Load32S, OpI64Load32U:
		return c.load(2, kI64)

	case OpI32Store:
		return c.store(2, kI32)
	case OpI64Store:
		return c.store(3, kI64)
	case OpF32Store:
		return c.store(2, kF32)
	case OpF64Store:
		return c.store(3, kF64)
	case OpI32Store8:
		return c.store(0, kI32)
	case OpI32Store16:
		return c.store(1, kI32)
	case OpI64Store8:
		return c.store(0, kI64)
	case OpI64Store16:
		return c.store(1, kI64)
	case OpI64Store32:
		return c.store(2, kI64)

	case OpMemorySize:
		if err := c.memIndexImmediate(); err != nil {
			return err
		}
		c.pushVal(kI32)
	case OpMemoryGrow:
		if err := c.memIndexImmediate(); err != nil {
			return err
		}
		return c.popPush([]value.Kind{kI32}, kI32)

	case OpI32Const:
		if _, err := c.r.ReadS32(); err != nil {
			return err
		}
		c.pushVal(kI32)
	case OpI64Const:
		if _, err := c.r.ReadS64(); err != nil {
			return err
		}
		c.pushVal(kI64)
	case OpF32Const:
		if _, err := c.r.ReadBytes(4); err != nil {
			return err
		}
		c.pushVal(kF32)
	case OpF64Const:
		if _, err := c.r.ReadBytes(8); err != nil {
			return err
		}
		c.pushVal(kF64)

	case OpI32Eqz:
		return c.popPush([]value.Kind{kI32}, kI32)
	case OpI32Eq, OpI32Ne, OpI32LtS, OpI32LtU, OpI32GtS, OpI32GtU,
		OpI32LeS, OpI32LeU, OpI32GeS, OpI32GeU:
		return c.popPush([]value.Kind{kI32, kI32}, kI32)

	case OpI64Eqz:
		return c.popPush([]value.Kind{kI64}, kI32)
	case OpI64Eq, OpI64Ne, OpI64LtS, OpI64LtU, OpI64GtS, OpI64GtU,
		OpI64LeS, OpI64LeU, OpI64GeS, OpI64GeU:
		return c.popPush([]value.Kind{kI64, kI64}, kI32)

	case OpF32Eq, OpF32Ne, OpF32Lt, OpF32Gt, OpF32Le, OpF32Ge:
		return c.popPush([]value.Kind{kF32, kF32}, kI32)
	case OpF64Eq, OpF64Ne, OpF64Lt, OpF64Gt, OpF64Le, OpF64Ge:
		return c.popPush([]value.Kind{kF64, kF64}, kI32)

	case OpI32Clz, OpI32Ctz, OpI32Popcnt, OpI32Extend8S, OpI32Extend16S:
		return c.popPush([]value.Kind{kI32}, kI32)
	case OpI32Add, OpI32Sub, OpI32Mul, OpI32DivS, OpI32DivU, OpI32RemS, OpI32RemU,
		OpI32And, OpI32Or, OpI32Xor, OpI32Shl, OpI32ShrS, OpI32ShrU, OpI32Rotl, OpI32Rotr:
		return c.popPush([]value.Kind{kI32, kI32}, kI32)

	case OpI64Clz, OpI64Ctz, OpI64Popcnt, OpI64Extend8S, OpI64Extend16S, OpI64Extend32S:
		return c.popPush([]value.Kind{kI64}, kI64)
	case OpI64Add, OpI64Sub, OpI64Mul, OpI64DivS, OpI64DivU, OpI64RemS, OpI64RemU,
		OpI64And, OpI64Or, OpI64Xor, OpI64Shl, OpI64ShrS, OpI64ShrU, OpI64Rotl, OpI64Rotr:
		return c.popPush([]value.Kind{kI64, kI64}, kI64)

	case OpF32Abs, OpF32Neg, OpF32Ceil, OpF32Floor, OpF32Trunc, OpF32Nearest, OpF32Sqrt:
		return c.popPush([]value.Kind{kF32}, kF32)
	case OpF32Add, OpF32Sub, OpF32Mul, OpF32Div, OpF32Min, OpF32Max, OpF32Copysign:
		return c.popPush([]value.Kind{kF32, kF32}, kF32)

	case OpF64Abs, OpF64Neg, OpF64Ceil, OpF64Floor, OpF64Trunc, OpF64Nearest, OpF64Sqrt:
		return c.popPush([]value.Kind{kF64}, kF64)
	case OpF64Add, OpF64Sub, OpF64Mul, OpF64Div, OpF64Min, OpF64Max, OpF64Copysign:
		return c.popPush([]value.Kind{kF64, kF64}, kF64)

	case OpI32WrapI64:
		return c.popPush([]value.Kind{kI64}, kI32)
	case OpI32TruncF32S, OpI32TruncF32U, OpI32ReinterpretF32:
		return c.popPush([]value.Kind{kF32}, kI32)
	case OpI32TruncF64S, OpI32TruncF64U:
		return c.popPush([]value.Kind{kF64}, kI32)
	case OpI64ExtendI32S, OpI64ExtendI32U:
		return c.popPush([]value.Kind{kI32}, kI64)
	case OpI64TruncF32S, OpI64TruncF32U:
		return c.popPush([]value.Kind{kF32}, kI64)
	case OpI64TruncF64S, OpI64TruncF64U, OpI64ReinterpretF64:
		return c.popPush([]value.Kind{kF64}, kI64)
	case OpF32ConvertI32S, OpF32ConvertI32U, OpF32ReinterpretI32:
		return c.popPush([]value.Kind{kI32}, kF32)
	case OpF32ConvertI64S, OpF32ConvertI64U:
		return c.popPush([]value.Kind{kI64}, kF32)
	case OpF32DemoteF64:
		return c.popPush([]value.Kind{kF64}, kF32)
	case OpF64ConvertI32S, OpF64ConvertI32U, OpF64ReinterpretI64:
		return c.popPush([]value.Kind{kI32}, kF64)
	case OpF64ConvertI64S, OpF64ConvertI64U:
		return c.popPush([]value.Kind{kI64}, kF64)
	case OpF64PromoteF32:
		return c.popPush([]value.Kind{kF32}, kF64)

	case OpRefNull:
		t, err := c.r.ReadS32()
		if err != nil {
			return err
		}
		switch t {
		case -16:
			c.pushVal(value.KindFuncRef)
		case -17:
			c.pushVal(value.KindExternRef)
		default:
			return fmt.Errorf("ref.null with unsupported heap type %d", t)
		}

	case OpRefIsNull:
		t, err := c.popVal()
		if err != nil {
			return err
		}
		if t != unknownKind && !t.IsRef() {
			return fmt.Errorf("ref.is_null on %s", t)
		}
		c.pushVal(kI32)

	case OpRefFunc:
		idx, err := c.r.ReadU32()
		if err != nil {
			return err
		}
		if idx >= uint32(c.m.NumFuncs()) {
			return fmt.Errorf("ref.func %d out of range", idx)
		}
		c.pushVal(value.KindFuncRef)

	case OpPrefixMisc:
		subOp, err := c.r.ReadU32()
		if err != nil {
			return err
		}
		return c.stepMisc(subOp)

	default:
		return fmt.Errorf("unsupported opcode 0x%02x", op)
	}
	return nil
}

// memIndexImmediate consumes the reserved memory index byte of
// memory.size and memory.grow.
func (c *codeChecker) memIndexImmediate() error {
	if c.m.NumMemories() == 0 {
		return fmt.Errorf("memory instruction with no memory declared")
	}
	b, err := c.r.ReadByte()
	if err != nil {
		return err
	}
	if b != 0 {
		return fmt.Errorf("nonzero memory index %d", b)
	}
	return nil
}

func (c *codeChecker) stepMisc(subOp uint32) error {
	switch subOp {
	case MiscI32TruncSatF32S, MiscI32TruncSatF32U:
		return c.popPush([]value.Kind{kF32}, kI32)
	case MiscI32TruncSatF64S, MiscI32TruncSatF64U:
		return c.popPush([]value.Kind{kF64}, kI32)
	case MiscI64TruncSatF32S, MiscI64TruncSatF32U:
		return c.popPush([]value.Kind{kF32}, kI64)
	case MiscI64TruncSatF64S, MiscI64TruncSatF64U:
		return c.popPush([]value.Kind{kF64}, kI64)

	case MiscMemoryInit:
		dataIdx, err := c.r.ReadU32()
		if err != nil {
			return err
		}
		if err := c.dataIndex(dataIdx); err != nil {
			return err
		}
		if err := c.memIndexImmediate(); err != nil {
			return err
		}
		return c.popVals([]value.Kind{kI32, kI32, kI32})

	case MiscDataDrop:
		dataIdx, err := c.r.ReadU32()
		if err != nil {
			return err
		}
		return c.dataIndex(dataIdx)

	case MiscMemoryCopy:
		if err := c.memIndexImmediate(); err != nil {
			return err
		}
		if err := c.memIndexImmediate(); err != nil {
			return err
		}
		return c.popVals([]value.Kind{kI32, kI32, kI32})

	case MiscMemoryFill:
		if err := c.memIndexImmediate(); err != nil {
			return err
		}
		return c.popVals([]value.Kind{kI32, kI32, kI32})

	case MiscTableInit:
		elemIdx, err := c.r.ReadU32()
		if err != nil {
			return err
		}
		if int(elemIdx) >= len(c.m.Elements) {
			return fmt.Errorf("element index %d out of range", elemIdx)
		}
		tableIdx, err := c.r.ReadU32()
		if err != nil {
			return err
		}
		if _, ok := c.m.TableTypeAt(tableIdx); !ok {
			return fmt.Errorf("table index %d out of range", tableIdx)
		}
		return c.popVals([]value.Kind{kI32, kI32, kI32})

	case MiscElemDrop:
		elemIdx, err := c.r.ReadU32()
		if err != nil {
			return err
		}
		if int(elemIdx) >= len(c.m.Elements) {
			return fmt.Errorf("element index %d out of range", elemIdx)
		}
		return nil

	case MiscTableCopy:
		dst, err := c.r.ReadU32()
		if err != nil {
			return err
		}
		src, err := c.r.ReadU32()
		if err != nil {
			return err
		}
		dt, ok := c.m.TableTypeAt(dst)
		if !ok {
			return fmt.Errorf("table index %d out of range", dst)
		}
		st, ok := c.m.TableTypeAt(src)
		if !ok {
			return fmt.Errorf("table index %d out of range", src)
		}
		if dt.Elem != st.Elem {
			return fmt.Errorf("table.copy between %s and %s tables", dt.Elem, st.Elem)
		}
		return c.popVals([]value.Kind{kI32, kI32, kI32})

	case MiscTableGrow:
		tableIdx, err := c.r.ReadU32()
		if err != nil {
			return err
		}
		tt, ok := c.m.TableTypeAt(tableIdx)
		if !ok {
			return fmt.Errorf("table index %d out of range", tableIdx)
		}
		return c.popPush([]value.Kind{tt.Elem, kI32}, kI32)

	case MiscTableSize:
		tableIdx, err := c.r.ReadU32()
		if err != nil {
			return err
		}
		if _, ok := c.m.TableTypeAt(tableIdx); !ok {
			return fmt.Errorf("table index %d out of range", tableIdx)
		}
		c.pushVal(kI32)
		return nil

	case MiscTableFill:
		tableIdx, err := c.r.ReadU32()
		if err != nil {
			return err
		}
		tt, ok := c.m.TableTypeAt(tableIdx)
		if !ok {
			return fmt.Errorf("table index %d out of range", tableIdx)
		}
		return c.popVals([]value.Kind{kI32, tt.Elem, kI32})

	default:
		return fmt.Errorf("unsupported misc opcode 0x%02x", subOp)
	}
}

func (c *codeChecker) dataIndex(idx uint32) error {
	if c.m.DataCount == nil {
		return fmt.Errorf("data index used without a data count section")
	}
	if idx >= *c.m.DataCount {
		return fmt.Errorf("data index %d out of range", idx)
	}
	return nil
}

func kindsEqual(a, b []value.Kind) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
