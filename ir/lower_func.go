package ir

import (
	"strconv"
	"strings"

	"simplevm.dev/sbc/sbcfile"
)

// lowerFunction assembles one TextFunction's body via Builder and
// appends the resulting MethodRow/FunctionRow and code bytes to the
// module under construction. Implements spec §4.2 step 8.
func (c *lowerCtx) lowerFunction(fn TextFunction) error {
	locals := map[string]uint32{}
	for i, slot := range fn.Locals {
		locals[slot.Name] = uint32(i)
	}
	upvalues := map[string]uint32{}
	for i, slot := range fn.Upvalues {
		upvalues[slot.Name] = uint32(i)
	}

	b := NewBuilder()
	labels := map[string]Label{}
	// Pre-walk: create a label for every label definition so forward
	// jumps always resolve, per spec §4.2 step 8 and §9's two-pass
	// (collect then emit) discipline.
	for _, inst := range fn.Insts {
		if inst.Kind == InstLabel {
			if _, dup := labels[inst.Name]; dup {
				return lowerErrf(inst.Line, inst.Name, "duplicate label")
			}
			labels[inst.Name] = b.CreateLabel()
		}
	}

	enterLocals := -1
	for _, inst := range fn.Insts {
		if inst.Kind == InstLabel {
			if err := b.BindLabel(labels[inst.Name]); err != nil {
				return lowerErrf(inst.Line, inst.Name, "%v", err)
			}
			continue
		}
		n, err := c.emitInst(b, fn, inst, locals, upvalues, labels)
		if err != nil {
			return err
		}
		if n >= 0 {
			enterLocals = n
		}
	}

	code, err := b.Finish()
	if err != nil {
		return lowerErrf(fn.Line, fn.Name, "%v", err)
	}

	localCount := enterLocals
	if localCount < 0 {
		localCount = len(fn.Locals)
		if int(fn.LocalsAttr) > localCount {
			localCount = int(fn.LocalsAttr)
		}
	}

	sigID := uint32(0)
	if fn.SigName != "" {
		id, err := c.resolveSig(fn.SigName, fn.Line)
		if err != nil {
			return err
		}
		sigID = id
	}

	methodID := uint32(len(c.mod.Methods))
	codeOffset := uint32(len(c.mod.Code))
	c.mod.Code = append(c.mod.Code, code...)
	c.mod.Methods = append(c.mod.Methods, sbcfile.MethodRow{
		NameStr:    c.internString(fn.Name),
		SigID:      sigID,
		CodeOffset: codeOffset,
		LocalCount: uint16(localCount),
	})
	c.mod.Functions = append(c.mod.Functions, sbcfile.FunctionRow{
		MethodID:   methodID,
		CodeOffset: codeOffset,
		CodeSize:   uint32(len(code)),
		StackMax:   fn.StackMax,
	})
	return nil
}

// emitInst dispatches one instruction line to the corresponding Builder
// call. It returns the parsed locals count when inst is `enter N`, or -1
// otherwise, so lowerFunction can track the function's effective local
// count.
func (c *lowerCtx) emitInst(b *Builder, fn TextFunction, inst TextInst, locals, upvalues map[string]uint32, labels map[string]Label) (int, error) {
	tok := inst.Op
	args := inst.Args
	line := inst.Line

	if strings.HasPrefix(tok, "conv.") {
		parts := strings.Split(tok, ".")
		if len(parts) != 3 {
			return -1, lowerErrf(line, tok, "malformed conv mnemonic")
		}
		from, ok1 := KindFromName(parts[1])
		to, ok2 := KindFromName(parts[2])
		if !ok1 || !ok2 {
			return -1, lowerErrf(line, tok, "unknown conversion kinds")
		}
		b.EmitConvert(from, to)
		return -1, nil
	}

	m, ok := LookupMnemonic(tok)
	if !ok {
		return -1, lowerErrf(line, tok, "unknown mnemonic")
	}

	switch m.Op {
	case OpNop, OpPop, OpDup, OpDup2, OpSwap, OpRot, OpRet, OpCallCheck,
		OpBoolNot, OpBoolAnd, OpBoolOr, OpTypeOf, OpIsNull, OpRefEq, OpRefNe,
		OpArrayLen, OpListLen, OpListClear, OpStringLen, OpStringConcat,
		OpStringGetChar, OpStringSlice, OpCap:
		if err := expectArgs(line, tok, args, 0); err != nil {
			return -1, err
		}
		b.EmitSimple(m.Op)
		return -1, nil

	case OpEnter:
		if err := expectArgs(line, tok, args, 1); err != nil {
			return -1, err
		}
		n, err := strconv.ParseUint(args[0], 0, 16)
		if err != nil {
			return -1, lowerErrf(line, args[0], "bad locals count")
		}
		b.EmitEnter(uint16(n))
		return int(n), nil

	case OpConstInt:
		if err := expectArgs(line, tok, args, 1); err != nil {
			return -1, err
		}
		v, neg, err := parseIntLiteral(args[0])
		if err != nil {
			return -1, lowerErrf(line, args[0], "bad integer literal")
		}
		k := m.FixedKnd
		bits := k.Width() * 8
		if k.IsUnsigned() {
			if neg {
				return -1, lowerErrf(line, args[0], "unsigned const cannot be negative")
			}
			if !fitsUnsigned(v, bits) {
				return -1, lowerErrf(line, args[0], "literal does not fit in %s", k)
			}
		} else if !fitsSigned(v, bits) {
			return -1, lowerErrf(line, args[0], "literal does not fit in %s", k)
		}
		b.EmitConst(k, uint64(v))
		return -1, nil

	case OpConstF32, OpConstF64:
		if err := expectArgs(line, tok, args, 1); err != nil {
			return -1, err
		}
		var f float64
		if lit, named := c.constFloatLit[args[0]]; named {
			f = lit
		} else {
			parsed, err := parseFloatLiteral(args[0])
			if err != nil {
				return -1, lowerErrf(line, args[0], "bad float literal")
			}
			f = parsed
		}
		if m.Op == OpConstF32 {
			b.EmitConstF32(float32(f))
		} else {
			b.EmitConstF64(f)
		}
		return -1, nil

	case OpConstBool:
		if err := expectArgs(line, tok, args, 1); err != nil {
			return -1, err
		}
		var v uint64
		switch strings.ToLower(args[0]) {
		case "true":
			v = 1
		case "false":
			v = 0
		default:
			return -1, lowerErrf(line, args[0], "expected true or false")
		}
		b.EmitConst(KindBool, v)
		return -1, nil

	case OpConstChar:
		if err := expectArgs(line, tok, args, 1); err != nil {
			return -1, err
		}
		v, err := parseCharLiteral(args[0])
		if err != nil {
			return -1, lowerErrf(line, args[0], "bad char literal")
		}
		b.EmitConst(KindChar, uint64(v))
		return -1, nil

	case OpConstString:
		if err := expectArgs(line, tok, args, 1); err != nil {
			return -1, err
		}
		id, ok := c.constIDs[args[0]]
		if !ok {
			return -1, lowerErrf(line, args[0], "unknown string const")
		}
		b.EmitConstString(id)
		return -1, nil

	case OpConstNull:
		if err := expectArgs(line, tok, args, 0); err != nil {
			return -1, err
		}
		b.EmitConstNull()
		return -1, nil

	case OpLdLoc, OpStLoc:
		if err := expectArgs(line, tok, args, 1); err != nil {
			return -1, err
		}
		idx, err := resolveIndexed(args[0], locals)
		if err != nil {
			return -1, lowerErrf(line, args[0], "unknown local")
		}
		b.EmitIndexed(m.Op, idx)
		return -1, nil

	case OpLdUpv, OpStUpv:
		if err := expectArgs(line, tok, args, 1); err != nil {
			return -1, err
		}
		idx, err := resolveIndexed(args[0], upvalues)
		if err != nil {
			return -1, lowerErrf(line, args[0], "unknown upvalue")
		}
		b.EmitIndexed(m.Op, idx)
		return -1, nil

	case OpLdGlob, OpStGlob:
		if err := expectArgs(line, tok, args, 1); err != nil {
			return -1, err
		}
		idx, err := resolveIndexed(args[0], c.globalIDs)
		if err != nil {
			return -1, lowerErrf(line, args[0], "unknown global")
		}
		b.EmitIndexed(m.Op, idx)
		return -1, nil

	case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpNeg, OpInc, OpDec,
		OpAnd, OpOr, OpXor, OpShl, OpShr,
		OpCmpEq, OpCmpNe, OpCmpLt, OpCmpLe, OpCmpGt, OpCmpGe,
		OpArrayGet, OpArraySet, OpListGet, OpListSet, OpListPush, OpListPop,
		OpListInsert, OpListRemove:
		if err := expectArgs(line, tok, args, 0); err != nil {
			return -1, err
		}
		b.EmitTyped(m.Op, m.FixedKnd)
		return -1, nil

	case OpJmp, OpJmpTrue, OpJmpFalse:
		if err := expectArgs(line, tok, args, 1); err != nil {
			return -1, err
		}
		l, ok := labels[args[0]]
		if !ok {
			return -1, lowerErrf(line, args[0], "unknown label")
		}
		switch m.Op {
		case OpJmp:
			b.EmitJmp(l)
		case OpJmpTrue:
			b.EmitJmpTrue(l)
		case OpJmpFalse:
			b.EmitJmpFalse(l)
		}
		return -1, nil

	case OpJmpTable:
		if len(args) < 1 {
			return -1, lowerErrf(line, tok, "jmptable requires at least a default label")
		}
		cases := make([]Label, 0, len(args)-1)
		for _, a := range args[:len(args)-1] {
			l, ok := labels[a]
			if !ok {
				return -1, lowerErrf(line, a, "unknown label")
			}
			cases = append(cases, l)
		}
		def, ok := labels[args[len(args)-1]]
		if !ok {
			return -1, lowerErrf(line, args[len(args)-1], "unknown default label")
		}
		b.EmitJmpTable(cases, def)
		return -1, nil

	case OpCall, OpTailCall:
		if err := expectArgs(line, tok, args, 2); err != nil {
			return -1, err
		}
		funcID, ok := c.funcIDs[args[0]]
		if !ok {
			return -1, lowerErrf(line, args[0], "unknown function")
		}
		argc, err := strconv.ParseUint(args[1], 0, 8)
		if err != nil {
			return -1, lowerErrf(line, args[1], "bad argc")
		}
		if m.Op == OpCall {
			b.EmitCall(funcID, uint8(argc))
		} else {
			b.EmitTailCall(funcID, uint8(argc))
		}
		return -1, nil

	case OpCallIndirect:
		if err := expectArgs(line, tok, args, 2); err != nil {
			return -1, err
		}
		sigID, err := c.resolveSig(args[0], line)
		if err != nil {
			return -1, err
		}
		argc, err := strconv.ParseUint(args[1], 0, 8)
		if err != nil {
			return -1, lowerErrf(line, args[1], "bad argc")
		}
		b.EmitCallIndirect(sigID, uint8(argc))
		return -1, nil

	case OpIntrinsic:
		if err := expectArgs(line, tok, args, 1); err != nil {
			return -1, err
		}
		id, err := c.resolveIntrinsicOrSyscall(args[0], c.intrinsicIDs, line)
		if err != nil {
			return -1, err
		}
		b.EmitIndexed(OpIntrinsic, id)
		return -1, nil

	case OpSyscall:
		if err := expectArgs(line, tok, args, 1); err != nil {
			return -1, err
		}
		id, err := c.resolveIntrinsicOrSyscall(args[0], c.syscallIDs, line)
		if err != nil {
			return -1, err
		}
		b.EmitIndexed(OpSyscall, id)
		return -1, nil

	case OpNewObject:
		if err := expectArgs(line, tok, args, 1); err != nil {
			return -1, err
		}
		typeID, err := c.resolveType(args[0], line)
		if err != nil {
			return -1, err
		}
		b.EmitNewObject(typeID)
		return -1, nil

	case OpLdFld, OpStFld:
		if err := expectArgs(line, tok, args, 1); err != nil {
			return -1, err
		}
		fieldID, err := c.resolveField(args[0], line)
		if err != nil {
			return -1, err
		}
		b.EmitIndexed(m.Op, fieldID)
		return -1, nil

	case OpNewClosure:
		if err := expectArgs(line, tok, args, 2); err != nil {
			return -1, err
		}
		methodID, ok := c.funcIDs[args[0]]
		if !ok {
			return -1, lowerErrf(line, args[0], "unknown function for closure")
		}
		count, err := strconv.ParseUint(args[1], 0, 8)
		if err != nil {
			return -1, lowerErrf(line, args[1], "bad upvalue count")
		}
		b.EmitNewClosure(methodID, uint8(count))
		return -1, nil

	case OpNewArray:
		if err := expectArgs(line, tok, args, 2); err != nil {
			return -1, err
		}
		typeID, err := c.resolveType(args[0], line)
		if err != nil {
			return -1, err
		}
		length, err := strconv.ParseUint(args[1], 0, 32)
		if err != nil {
			return -1, lowerErrf(line, args[1], "bad array length")
		}
		b.EmitNewArray(typeID, uint32(length))
		return -1, nil

	case OpNewList:
		if err := expectArgs(line, tok, args, 2); err != nil {
			return -1, err
		}
		typeID, err := c.resolveType(args[0], line)
		if err != nil {
			return -1, err
		}
		cap_, err := strconv.ParseUint(args[1], 0, 32)
		if err != nil {
			return -1, lowerErrf(line, args[1], "bad list capacity")
		}
		b.EmitNewList(typeID, uint32(cap_))
		return -1, nil
	}

	return -1, lowerErrf(line, tok, "unhandled mnemonic")
}

func expectArgs(line int, tok string, args []string, n int) error {
	if len(args) != n {
		return lowerErrf(line, tok, "expected %d operand(s), got %d", n, len(args))
	}
	return nil
}

func resolveIndexed(tok string, names map[string]uint32) (uint32, error) {
	if idx, ok := names[tok]; ok {
		return idx, nil
	}
	n, err := strconv.ParseUint(tok, 0, 32)
	if err != nil {
		return 0, err
	}
	return uint32(n), nil
}

// parseCharLiteral accepts either a quoted rune literal ('A') or a bare
// integer code point.
func parseCharLiteral(tok string) (uint16, error) {
	if len(tok) >= 3 && tok[0] == '\'' && tok[len(tok)-1] == '\'' {
		r, _, _, err := strconv.UnquoteChar(tok[1:len(tok)-1], '\'')
		if err != nil {
			return 0, err
		}
		return uint16(r), nil
	}
	n, err := strconv.ParseUint(tok, 0, 16)
	if err != nil {
		return 0, err
	}
	return uint16(n), nil
}
