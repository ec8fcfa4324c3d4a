package ir

import "encoding/binary"

// Instr is one decoded bytecode instruction: the generic shape both the
// verifier's abstract interpreter and the VM's concrete interpreter walk
// over. Decode is the single authoritative inverse of Builder's Emit*
// methods — verify and vm both call it rather than each re-deriving the
// operand layout from spec §6.3, so the two views the teacher's own
// backend_vm.go/backend_ir.go keep separately (decode-to-execute,
// decode-to-disassemble) never drift apart here.
type Instr struct {
	Op     Opcode
	Kind   TypeKind // typed op's Kind byte, or const op's kind
	KindTo TypeKind // conv's destination kind
	U8     uint8    // argc / upvalue_count
	U16    uint16   // enter's locals count
	U32    uint32   // index/id/type_id/func_id/sig_id/method_id
	U32b   uint32   // second u32 operand (array/list length or capacity)
	I64    int64    // sign/zero-extended integer constant payload
	Rel    int32    // branch delta (jmp/jmp.true/jmp.false)
	Cases  []int32  // jmptable case deltas, in declaration order
	Default int32   // jmptable default delta
	Len    int      // total encoded length, opcode byte included
}

// Decode parses one instruction starting at code[pos]. It returns an
// error if the opcode is unknown or the buffer is too short for the
// operand shape the opcode declares.
func Decode(code []byte, pos int) (Instr, error) {
	if pos < 0 || pos >= len(code) {
		return Instr{}, decodeErrf(pos, "offset out of range")
	}
	op := Opcode(code[pos])
	in := Instr{Op: op}
	p := pos + 1

	need := func(n int) error {
		if p+n > len(code) {
			return decodeErrf(pos, "truncated operand for opcode %d", op)
		}
		return nil
	}
	u8 := func() (uint8, error) {
		if err := need(1); err != nil {
			return 0, err
		}
		v := code[p]
		p++
		return v, nil
	}
	u16 := func() (uint16, error) {
		if err := need(2); err != nil {
			return 0, err
		}
		v := binary.LittleEndian.Uint16(code[p : p+2])
		p += 2
		return v, nil
	}
	u32 := func() (uint32, error) {
		if err := need(4); err != nil {
			return 0, err
		}
		v := binary.LittleEndian.Uint32(code[p : p+4])
		p += 4
		return v, nil
	}
	u64 := func() (uint64, error) {
		if err := need(8); err != nil {
			return 0, err
		}
		v := binary.LittleEndian.Uint64(code[p : p+8])
		p += 8
		return v, nil
	}
	i32 := func() (int32, error) {
		v, err := u32()
		return int32(v), err
	}

	switch op {
	case OpNop, OpPop, OpDup, OpDup2, OpSwap, OpRot, OpRet, OpCallCheck,
		OpBoolNot, OpBoolAnd, OpBoolOr, OpTypeOf, OpIsNull, OpRefEq, OpRefNe,
		OpConstNull, OpArrayLen, OpListLen, OpListClear,
		OpStringLen, OpStringConcat, OpStringGetChar, OpStringSlice, OpCap:
		// no operands

	case OpEnter:
		v, err := u16()
		if err != nil {
			return Instr{}, err
		}
		in.U16 = v

	case OpConstInt:
		k, err := u8()
		if err != nil {
			return Instr{}, err
		}
		in.Kind = TypeKind(k)
		switch in.Kind.Width() {
		case 1:
			v, err := u8()
			if err != nil {
				return Instr{}, err
			}
			in.I64 = signExtend(uint64(v), in.Kind)
		case 2:
			v, err := u16()
			if err != nil {
				return Instr{}, err
			}
			in.I64 = signExtend(uint64(v), in.Kind)
		case 4:
			v, err := u32()
			if err != nil {
				return Instr{}, err
			}
			in.I64 = signExtend(uint64(v), in.Kind)
		default:
			v, err := u64()
			if err != nil {
				return Instr{}, err
			}
			in.I64 = int64(v)
		}

	case OpConstF32:
		v, err := u32()
		if err != nil {
			return Instr{}, err
		}
		in.U32 = v
		in.Kind = KindF32

	case OpConstF64:
		v, err := u64()
		if err != nil {
			return Instr{}, err
		}
		in.I64 = int64(v)
		in.Kind = KindF64

	case OpConstBool:
		v, err := u8()
		if err != nil {
			return Instr{}, err
		}
		in.I64 = int64(v)
		in.Kind = KindBool

	case OpConstChar:
		v, err := u16()
		if err != nil {
			return Instr{}, err
		}
		in.I64 = int64(v)
		in.Kind = KindChar

	case OpConstString:
		v, err := u32()
		if err != nil {
			return Instr{}, err
		}
		in.U32 = v

	case OpLdLoc, OpStLoc, OpLdGlob, OpStGlob, OpLdUpv, OpStUpv,
		OpIntrinsic, OpSyscall, OpNewObject, OpLdFld, OpStFld:
		v, err := u32()
		if err != nil {
			return Instr{}, err
		}
		in.U32 = v

	case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpNeg, OpInc, OpDec,
		OpAnd, OpOr, OpXor, OpShl, OpShr,
		OpCmpEq, OpCmpNe, OpCmpLt, OpCmpLe, OpCmpGt, OpCmpGe,
		OpArrayGet, OpArraySet, OpListGet, OpListSet, OpListPush, OpListPop,
		OpListInsert, OpListRemove:
		k, err := u8()
		if err != nil {
			return Instr{}, err
		}
		in.Kind = TypeKind(k)

	case OpConvert:
		from, err := u8()
		if err != nil {
			return Instr{}, err
		}
		to, err := u8()
		if err != nil {
			return Instr{}, err
		}
		in.Kind = TypeKind(from)
		in.KindTo = TypeKind(to)

	case OpJmp, OpJmpTrue, OpJmpFalse:
		v, err := i32()
		if err != nil {
			return Instr{}, err
		}
		in.Rel = v

	case OpJmpTable:
		count, err := u32()
		if err != nil {
			return Instr{}, err
		}
		cases := make([]int32, count)
		for i := range cases {
			v, err := i32()
			if err != nil {
				return Instr{}, err
			}
			cases[i] = v
		}
		def, err := i32()
		if err != nil {
			return Instr{}, err
		}
		in.Cases = cases
		in.Default = def

	case OpCall, OpTailCall:
		fn, err := u32()
		if err != nil {
			return Instr{}, err
		}
		argc, err := u8()
		if err != nil {
			return Instr{}, err
		}
		in.U32 = fn
		in.U8 = argc

	case OpCallIndirect:
		sig, err := u32()
		if err != nil {
			return Instr{}, err
		}
		argc, err := u8()
		if err != nil {
			return Instr{}, err
		}
		in.U32 = sig
		in.U8 = argc

	case OpNewClosure:
		methodID, err := u32()
		if err != nil {
			return Instr{}, err
		}
		count, err := u8()
		if err != nil {
			return Instr{}, err
		}
		in.U32 = methodID
		in.U8 = count

	case OpNewArray, OpNewList:
		typeID, err := u32()
		if err != nil {
			return Instr{}, err
		}
		n, err := u32()
		if err != nil {
			return Instr{}, err
		}
		in.U32 = typeID
		in.U32b = n

	default:
		return Instr{}, decodeErrf(pos, "unknown opcode %d", op)
	}

	in.Len = p - pos
	return in, nil
}

// signExtend widens an unsigned payload to a signed host i64 according
// to its source kind's signedness, so interpreter arithmetic on narrow
// signed constants (const.i8 -5) carries the correct sign.
func signExtend(v uint64, k TypeKind) int64 {
	if k.IsUnsigned() {
		return int64(v)
	}
	switch k.Width() {
	case 1:
		return int64(int8(v))
	case 2:
		return int64(int16(v))
	case 4:
		return int64(int32(v))
	default:
		return int64(v)
	}
}

// InstBoundaries walks an entire function body and returns the set of
// byte offsets where a decoded instruction begins, used by the verifier
// to check that every jump target "lands on an instruction boundary"
// (spec §4.6).
func InstBoundaries(code []byte) (map[int]bool, error) {
	bounds := map[int]bool{}
	pos := 0
	for pos < len(code) {
		bounds[pos] = true
		in, err := Decode(code, pos)
		if err != nil {
			return nil, err
		}
		pos += in.Len
	}
	bounds[pos] = true // one-past-the-end is a valid "fallthrough to return" target
	return bounds, nil
}
