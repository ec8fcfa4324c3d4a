package ir

import (
	"encoding/binary"
	"math"
)

// Label is an opaque handle into a function's label table, created by
// Builder.CreateLabel and bound to a byte offset by Builder.BindLabel.
// Mirrors simplevm::ir_builder's IrLabel: unbound labels carry offset -1
// until bound.
type Label struct{ id int }

type fixup struct {
	labelID    int
	patchOffset int
}

// Builder assembles one function's bytecode, buffering emitted bytes and
// deferring every branch target to a fixup resolved at Finish. This is a
// near-direct idiomatic-Go port of original_source's
// SimpleByteCode/vm/src/ir_builder.cpp: the same two-phase
// create-label/bind-label-then-patch-at-finish discipline, the same
// `target - (patch_offset + 4)` relative-offset formula.
type Builder struct {
	code         []byte
	labelOffsets []int // -1 while unbound
	fixups       []fixup
}

// NewBuilder returns an empty function assembler.
func NewBuilder() *Builder {
	return &Builder{}
}

// CreateLabel allocates a new unbound label.
func (b *Builder) CreateLabel() Label {
	b.labelOffsets = append(b.labelOffsets, -1)
	return Label{id: len(b.labelOffsets) - 1}
}

// BindLabel fixes a label to the current end-of-buffer offset. Returns a
// *LabelErr if the label id is out of range or already bound.
func (b *Builder) BindLabel(l Label) error {
	if l.id < 0 || l.id >= len(b.labelOffsets) {
		return labelErrf("bind: label id %d out of range", l.id)
	}
	if b.labelOffsets[l.id] != -1 {
		return labelErrf("bind: label %d already bound", l.id)
	}
	b.labelOffsets[l.id] = len(b.code)
	return nil
}

// Offset reports the current end-of-buffer byte offset, useful for
// diagnostics and for the lowerer's jump-target bitmap construction.
func (b *Builder) Offset() int { return len(b.code) }

func (b *Builder) emitU8(v uint8)   { b.code = append(b.code, v) }
func (b *Builder) emitOp(op Opcode) { b.emitU8(uint8(op)) }

func (b *Builder) emitU16(v uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	b.code = append(b.code, buf[:]...)
}

func (b *Builder) emitU32(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	b.code = append(b.code, buf[:]...)
}

func (b *Builder) emitU64(v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	b.code = append(b.code, buf[:]...)
}

func (b *Builder) emitI32(v int32) { b.emitU32(uint32(v)) }

// EmitConst emits the const.<kind> opcode family for integer, float,
// bool and char kinds. v holds the literal reinterpreted as its kind's
// bit pattern (sign/zero-extended for integers, IEEE-754 bits for
// floats); OpConstBool and OpConstChar take the low byte/word of v.
// const.string and const.null have their own emitters below.
func (b *Builder) EmitConst(k TypeKind, v uint64) {
	switch k {
	case KindF32:
		b.emitOp(OpConstF32)
		b.emitU32(uint32(v))
	case KindF64:
		b.emitOp(OpConstF64)
		b.emitU64(v)
	case KindBool:
		b.emitOp(OpConstBool)
		b.emitU8(uint8(v))
	case KindChar:
		b.emitOp(OpConstChar)
		b.emitU16(uint16(v))
	default:
		b.emitOp(OpConstInt)
		b.emitU8(uint8(k))
		switch k.Width() {
		case 1:
			b.emitU8(uint8(v))
		case 2:
			b.emitU16(uint16(v))
		case 4:
			b.emitU32(uint32(v))
		case 8, 16:
			b.emitU64(v)
		}
	}
}

// EmitConstF32 / EmitConstF64 emit float constants from native Go values.
func (b *Builder) EmitConstF32(f float32) { b.EmitConst(KindF32, uint64(math.Float32bits(f))) }
func (b *Builder) EmitConstF64(f float64) { b.EmitConst(KindF64, math.Float64bits(f)) }

// EmitConstString emits `const.string const_id`.
func (b *Builder) EmitConstString(constID uint32) {
	b.emitOp(OpConstString)
	b.emitU32(constID)
}

// EmitConstNull emits `const.null`.
func (b *Builder) EmitConstNull() { b.emitOp(OpConstNull) }

// EmitSimple emits a bare opcode with no operands (nop, pop, dup, dup2,
// swap, rot, ret, callcheck, bool.not, bool.and, bool.or, typeof,
// isnull, ref.eq, ref.ne, array.len, list.len, list.clear, string.len,
// string.concat, string.get.char, string.slice, array.cap).
func (b *Builder) EmitSimple(op Opcode) { b.emitOp(op) }

// EmitEnter emits `enter locals`.
func (b *Builder) EmitEnter(locals uint16) {
	b.emitOp(OpEnter)
	b.emitU16(locals)
}

// EmitTyped emits a typed opcode (arithmetic, unary, bitwise, comparison,
// array/list accessor) followed by its Kind byte.
func (b *Builder) EmitTyped(op Opcode, k TypeKind) {
	b.emitOp(op)
	b.emitU8(uint8(k))
}

// EmitConvert emits `conv.<from>.<to>`.
func (b *Builder) EmitConvert(from, to TypeKind) {
	b.emitOp(OpConvert)
	b.emitU8(uint8(from))
	b.emitU8(uint8(to))
}

// EmitIndexed emits an opcode followed by a u32 index (ldloc, stloc,
// ldglob, stglob, ldupv, stupv, ldfld, stfld, intrinsic, syscall).
func (b *Builder) EmitIndexed(op Opcode, index uint32) {
	b.emitOp(op)
	b.emitU32(index)
}

// EmitNewObject emits `newobj type_id`.
func (b *Builder) EmitNewObject(typeID uint32) { b.EmitIndexed(OpNewObject, typeID) }

// EmitNewClosure emits `newclosure method_id upvalue_count`.
func (b *Builder) EmitNewClosure(methodID uint32, upvalueCount uint8) {
	b.emitOp(OpNewClosure)
	b.emitU32(methodID)
	b.emitU8(upvalueCount)
}

// EmitNewArray emits `newarray type_id length`.
func (b *Builder) EmitNewArray(typeID, length uint32) {
	b.emitOp(OpNewArray)
	b.emitU32(typeID)
	b.emitU32(length)
}

// EmitNewList emits `newlist type_id capacity`.
func (b *Builder) EmitNewList(typeID, capacity uint32) {
	b.emitOp(OpNewList)
	b.emitU32(typeID)
	b.emitU32(capacity)
}

// EmitCall emits `call func_id argc`.
func (b *Builder) EmitCall(funcID uint32, argc uint8) {
	b.emitOp(OpCall)
	b.emitU32(funcID)
	b.emitU8(argc)
}

// EmitCallIndirect emits `call.indirect sig_id argc`.
func (b *Builder) EmitCallIndirect(sigID uint32, argc uint8) {
	b.emitOp(OpCallIndirect)
	b.emitU32(sigID)
	b.emitU8(argc)
}

// EmitTailCall emits `tailcall func_id argc`. Per spec §9's conservative
// design choice, tail calls apply only to static func_id targets;
// closures must use call.indirect.
func (b *Builder) EmitTailCall(funcID uint32, argc uint8) {
	b.emitOp(OpTailCall)
	b.emitU32(funcID)
	b.emitU8(argc)
}

// emitRel32Fixup emits a 4-byte placeholder and registers a fixup against
// the given label, mirroring ir_builder.cpp's EmitRel32Fixup.
func (b *Builder) emitRel32Fixup(l Label) {
	b.fixups = append(b.fixups, fixup{labelID: l.id, patchOffset: len(b.code)})
	b.emitI32(0)
}

// EmitJmp emits an unconditional branch to l.
func (b *Builder) EmitJmp(l Label) {
	b.emitOp(OpJmp)
	b.emitRel32Fixup(l)
}

// EmitJmpTrue emits a branch to l taken when the popped Bool is true.
func (b *Builder) EmitJmpTrue(l Label) {
	b.emitOp(OpJmpTrue)
	b.emitRel32Fixup(l)
}

// EmitJmpFalse emits a branch to l taken when the popped Bool is false.
func (b *Builder) EmitJmpFalse(l Label) {
	b.emitOp(OpJmpFalse)
	b.emitRel32Fixup(l)
}

// EmitJmpTable emits `jmptable case_count {rel}*case_count default_rel`.
// Per spec §4.3's explicit encoding note ("cases are resolved in list
// order, default last"), the case fixups are emitted before the default
// fixup; this takes priority over §6.3's table-cell ordering, which
// lists the fields without specifying emission order.
func (b *Builder) EmitJmpTable(cases []Label, def Label) {
	b.emitOp(OpJmpTable)
	b.emitU32(uint32(len(cases)))
	for _, c := range cases {
		b.emitRel32Fixup(c)
	}
	b.emitRel32Fixup(def)
}

// Finish patches every registered fixup and returns the final code
// buffer. Per spec §4.3/§9: walks the fixup list, fails if any
// referenced label is unbound, and writes `target - (patch_offset + 4)`
// as a little-endian signed i32 into the reserved slot. No further
// mutation of the returned buffer is legal.
func (b *Builder) Finish() ([]byte, error) {
	for _, fx := range b.fixups {
		if fx.labelID < 0 || fx.labelID >= len(b.labelOffsets) {
			return nil, labelErrf("finish: fixup references unknown label %d", fx.labelID)
		}
		target := b.labelOffsets[fx.labelID]
		if target == -1 {
			return nil, labelErrf("finish: label %d never bound", fx.labelID)
		}
		rel := int32(target - (fx.patchOffset + 4))
		binary.LittleEndian.PutUint32(b.code[fx.patchOffset:fx.patchOffset+4], uint32(rel))
	}
	return b.code, nil
}
