package verify

import (
	"simplevm.dev/sbc/ir"
	"simplevm.dev/sbc/sbcfile"
)

// step applies one decoded instruction to the abstract stack. A branch
// returns the offsets the walk continues at (for jmp.true/jmp.false,
// both the target and the fall-through offset) and ends the current
// straight-line walk; ret and tailcall also end it, with no successors.
// Plain instructions return (nil, false, nil) and the caller advances to
// pos+in.Len itself.
func (st *fstate) step(stackPtr *[]AbstrType, in ir.Instr, pos int) ([]int, bool, error) {
	pop := func(want AbstrType) (AbstrType, error) {
		s := *stackPtr
		if len(s) == 0 {
			return AAny, errf(st.funcIdx, pos, CategoryStackUnderflow, "stack underflow")
		}
		top := s[len(s)-1]
		*stackPtr = s[:len(s)-1]
		if !compatible(top, want) {
			return AAny, errf(st.funcIdx, pos, CategoryTypeMismatch, "type mismatch: expected %s, got %s", want, top)
		}
		return top, nil
	}
	push := func(t AbstrType) { *stackPtr = append(*stackPtr, t) }
	peek := func(depth int) (AbstrType, error) {
		s := *stackPtr
		if len(s) <= depth {
			return AAny, errf(st.funcIdx, pos, CategoryStackUnderflow, "stack underflow")
		}
		return s[len(s)-1-depth], nil
	}

	checkLocal := func(idx uint32) error {
		if int(idx) >= len(st.locals) {
			return errf(st.funcIdx, pos, CategoryArityMismatch, "local index %d out of range", idx)
		}
		return nil
	}
	checkGlobal := func(idx uint32) error {
		if int(idx) >= len(st.mod.Globals) {
			return errf(st.funcIdx, pos, CategoryArityMismatch, "global index %d out of range", idx)
		}
		return nil
	}

	switch in.Op {
	case ir.OpNop, ir.OpEnter:
		return nil, false, nil

	case ir.OpPop:
		if _, err := pop(AAny); err != nil {
			return nil, false, err
		}
		return nil, false, nil

	case ir.OpDup:
		top, err := peek(0)
		if err != nil {
			return nil, false, err
		}
		push(top)
		return nil, false, nil

	case ir.OpDup2:
		a, err := peek(1)
		if err != nil {
			return nil, false, err
		}
		b, err := peek(0)
		if err != nil {
			return nil, false, err
		}
		push(a)
		push(b)
		return nil, false, nil

	case ir.OpSwap:
		a, err := pop(AAny)
		if err != nil {
			return nil, false, err
		}
		b, err := pop(AAny)
		if err != nil {
			return nil, false, err
		}
		push(a)
		push(b)
		return nil, false, nil

	case ir.OpRot:
		a, err := pop(AAny) // top
		if err != nil {
			return nil, false, err
		}
		b, err := pop(AAny)
		if err != nil {
			return nil, false, err
		}
		c, err := pop(AAny) // third from top
		if err != nil {
			return nil, false, err
		}
		push(b)
		push(a)
		push(c)
		return nil, false, nil

	case ir.OpConstInt, ir.OpConstF32, ir.OpConstF64, ir.OpConstBool, ir.OpConstChar:
		push(Promote(FromKind(in.Kind)))
		return nil, false, nil

	case ir.OpConstString:
		push(AString)
		return nil, false, nil

	case ir.OpConstNull:
		push(ANull)
		return nil, false, nil

	case ir.OpLdLoc:
		if err := checkLocal(in.U32); err != nil {
			return nil, false, err
		}
		push(Promote(st.locals[in.U32]))
		return nil, false, nil

	case ir.OpStLoc:
		if err := checkLocal(in.U32); err != nil {
			return nil, false, err
		}
		val, err := pop(AAny)
		if err != nil {
			return nil, false, err
		}
		st.locals[in.U32] = merge(st.locals[in.U32], val)
		return nil, false, nil

	case ir.OpLdGlob:
		if err := checkGlobal(in.U32); err != nil {
			return nil, false, err
		}
		push(typeIDToAbstr(st.mod, st.mod.Globals[in.U32].TypeID))
		return nil, false, nil

	case ir.OpStGlob:
		if err := checkGlobal(in.U32); err != nil {
			return nil, false, err
		}
		want := typeIDToAbstr(st.mod, st.mod.Globals[in.U32].TypeID)
		if _, err := pop(want); err != nil {
			return nil, false, err
		}
		return nil, false, nil

	case ir.OpLdUpv:
		// Upvalue slots carry no static table in the binary format (spec
		// §3 gives no per-function upvalue count); bounds are enforced
		// at runtime against the active closure instead (see DESIGN.md).
		push(AAny)
		return nil, false, nil

	case ir.OpStUpv:
		if _, err := pop(AAny); err != nil {
			return nil, false, err
		}
		return nil, false, nil

	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpMod,
		ir.OpAnd, ir.OpOr, ir.OpXor, ir.OpShl, ir.OpShr:
		k := Promote(FromKind(in.Kind))
		if _, err := pop(k); err != nil {
			return nil, false, err
		}
		if _, err := pop(k); err != nil {
			return nil, false, err
		}
		push(k)
		return nil, false, nil

	case ir.OpNeg, ir.OpInc, ir.OpDec:
		k := Promote(FromKind(in.Kind))
		if _, err := pop(k); err != nil {
			return nil, false, err
		}
		push(k)
		return nil, false, nil

	case ir.OpCmpEq, ir.OpCmpNe, ir.OpCmpLt, ir.OpCmpLe, ir.OpCmpGt, ir.OpCmpGe:
		k := Promote(FromKind(in.Kind))
		if _, err := pop(k); err != nil {
			return nil, false, err
		}
		if _, err := pop(k); err != nil {
			return nil, false, err
		}
		push(ABool)
		return nil, false, nil

	case ir.OpBoolNot:
		if _, err := pop(ABool); err != nil {
			return nil, false, err
		}
		push(ABool)
		return nil, false, nil

	case ir.OpBoolAnd, ir.OpBoolOr:
		if _, err := pop(ABool); err != nil {
			return nil, false, err
		}
		if _, err := pop(ABool); err != nil {
			return nil, false, err
		}
		push(ABool)
		return nil, false, nil

	case ir.OpConvert:
		if _, err := pop(Promote(FromKind(in.Kind))); err != nil {
			return nil, false, err
		}
		push(Promote(FromKind(in.KindTo)))
		return nil, false, nil

	case ir.OpJmp:
		target := pos + in.Len + int(in.Rel)
		return []int{target}, true, nil

	case ir.OpJmpTrue, ir.OpJmpFalse:
		if _, err := pop(ABool); err != nil {
			return nil, false, err
		}
		target := pos + in.Len + int(in.Rel)
		fallthroughTarget := pos + in.Len
		return []int{target, fallthroughTarget}, true, nil

	case ir.OpJmpTable:
		if _, err := pop(AI32); err != nil {
			return nil, false, err
		}
		targets := make([]int, 0, len(in.Cases)+1)
		for j, rel := range in.Cases {
			// Each case's rel32 is patched against the offset
			// immediately after its own 4-byte slot, not the end of the
			// whole instruction (ir/builder.go's EmitJmpTable emits one
			// fixup per case before the default fixup).
			caseBase := pos + 1 + 4 + 4*(j+1)
			targets = append(targets, caseBase+int(rel))
		}
		targets = append(targets, pos+in.Len+int(in.Default))
		return targets, true, nil

	case ir.OpCall:
		return nil, false, st.verifyCall(stackPtr, in, pos, false)

	case ir.OpTailCall:
		if err := st.verifyCall(stackPtr, in, pos, true); err != nil {
			return nil, false, err
		}
		return nil, true, nil

	case ir.OpCallIndirect:
		if int(in.U32) >= len(st.mod.Sigs) {
			return nil, false, errf(st.funcIdx, pos, CategoryArityMismatch, "sig_id %d out of range", in.U32)
		}
		sig := st.mod.Sigs[in.U32]
		if _, err := pop(ARef); err != nil {
			return nil, false, err
		}
		if err := st.checkArgs(stackPtr, sig, int(in.U8), pos); err != nil {
			return nil, false, err
		}
		if sig.RetTypeID != sbcfile.VoidTypeID {
			push(typeIDToAbstr(st.mod, sig.RetTypeID))
		}
		return nil, false, nil

	case ir.OpRet:
		if st.hasRet {
			if _, err := pop(st.sigRet); err != nil {
				return nil, false, err
			}
		}
		if len(*stackPtr) != 0 {
			return nil, false, errf(st.funcIdx, pos, CategoryTypeMismatch, "stack not empty at ret: %d extra slot(s)", len(*stackPtr))
		}
		return nil, true, nil

	case ir.OpCallCheck:
		if len(*stackPtr) > int(st.stackMax) {
			return nil, false, errf(st.funcIdx, pos, CategoryArityMismatch, "stack depth %d exceeds stack_max %d at callcheck", len(*stackPtr), st.stackMax)
		}
		return nil, false, nil

	case ir.OpIntrinsic:
		if !st.mod.HasIntrinsic(in.U32) {
			return nil, false, errf(st.funcIdx, pos, CategoryUndeclaredImport, "undeclared intrinsic id %d", in.U32)
		}
		return nil, false, nil

	case ir.OpSyscall:
		if !st.mod.HasSyscall(in.U32) {
			return nil, false, errf(st.funcIdx, pos, CategoryUndeclaredImport, "undeclared syscall id %d", in.U32)
		}
		return nil, false, nil

	case ir.OpNewObject:
		if int(in.U32) >= len(st.mod.Types) {
			return nil, false, errf(st.funcIdx, pos, CategoryArityMismatch, "type_id %d out of range", in.U32)
		}
		push(AObject)
		return nil, false, nil

	case ir.OpLdFld:
		field, err := st.field(in.U32, pos)
		if err != nil {
			return nil, false, err
		}
		if _, err := pop(ARef); err != nil {
			return nil, false, err
		}
		push(typeIDToAbstr(st.mod, field.TypeID))
		return nil, false, nil

	case ir.OpStFld:
		field, err := st.field(in.U32, pos)
		if err != nil {
			return nil, false, err
		}
		want := typeIDToAbstr(st.mod, field.TypeID)
		if _, err := pop(want); err != nil {
			return nil, false, err
		}
		if _, err := pop(ARef); err != nil {
			return nil, false, err
		}
		return nil, false, nil

	case ir.OpTypeOf:
		if _, err := pop(AAny); err != nil {
			return nil, false, err
		}
		push(AI32)
		return nil, false, nil

	case ir.OpIsNull:
		if _, err := pop(AAny); err != nil {
			return nil, false, err
		}
		push(ABool)
		return nil, false, nil

	case ir.OpRefEq, ir.OpRefNe:
		if _, err := pop(ARef); err != nil {
			return nil, false, err
		}
		if _, err := pop(ARef); err != nil {
			return nil, false, err
		}
		push(ABool)
		return nil, false, nil

	case ir.OpNewClosure:
		target, ok := st.mod.ResolveCall(in.U32)
		if !ok {
			return nil, false, errf(st.funcIdx, pos, CategoryArityMismatch, "unknown method_id %d for closure", in.U32)
		}
		_ = target
		for i := 0; i < int(in.U8); i++ {
			if _, err := pop(AAny); err != nil {
				return nil, false, err
			}
		}
		push(AClosure)
		return nil, false, nil

	case ir.OpNewArray:
		if int(in.U32) >= len(st.mod.Types) {
			return nil, false, errf(st.funcIdx, pos, CategoryArityMismatch, "type_id %d out of range", in.U32)
		}
		push(AArray)
		return nil, false, nil

	case ir.OpArrayLen:
		if _, err := pop(AArray); err != nil {
			return nil, false, err
		}
		push(AI32)
		return nil, false, nil

	case ir.OpArrayGet:
		if _, err := pop(AI32); err != nil {
			return nil, false, err
		}
		if _, err := pop(AArray); err != nil {
			return nil, false, err
		}
		push(Promote(FromKind(in.Kind)))
		return nil, false, nil

	case ir.OpArraySet:
		if _, err := pop(Promote(FromKind(in.Kind))); err != nil {
			return nil, false, err
		}
		if _, err := pop(AI32); err != nil {
			return nil, false, err
		}
		if _, err := pop(AArray); err != nil {
			return nil, false, err
		}
		return nil, false, nil

	case ir.OpNewList:
		if int(in.U32) >= len(st.mod.Types) {
			return nil, false, errf(st.funcIdx, pos, CategoryArityMismatch, "type_id %d out of range", in.U32)
		}
		push(AList)
		return nil, false, nil

	case ir.OpListLen:
		if _, err := pop(AList); err != nil {
			return nil, false, err
		}
		push(AI32)
		return nil, false, nil

	case ir.OpListClear:
		if _, err := pop(AList); err != nil {
			return nil, false, err
		}
		return nil, false, nil

	case ir.OpListGet:
		if _, err := pop(AI32); err != nil {
			return nil, false, err
		}
		if _, err := pop(AList); err != nil {
			return nil, false, err
		}
		push(Promote(FromKind(in.Kind)))
		return nil, false, nil

	case ir.OpListSet, ir.OpListInsert:
		if _, err := pop(Promote(FromKind(in.Kind))); err != nil {
			return nil, false, err
		}
		if _, err := pop(AI32); err != nil {
			return nil, false, err
		}
		if _, err := pop(AList); err != nil {
			return nil, false, err
		}
		return nil, false, nil

	case ir.OpListPush:
		if _, err := pop(Promote(FromKind(in.Kind))); err != nil {
			return nil, false, err
		}
		if _, err := pop(AList); err != nil {
			return nil, false, err
		}
		return nil, false, nil

	case ir.OpListPop:
		if _, err := pop(AList); err != nil {
			return nil, false, err
		}
		push(Promote(FromKind(in.Kind)))
		return nil, false, nil

	case ir.OpListRemove:
		if _, err := pop(AI32); err != nil {
			return nil, false, err
		}
		if _, err := pop(AList); err != nil {
			return nil, false, err
		}
		push(Promote(FromKind(in.Kind)))
		return nil, false, nil

	case ir.OpStringLen:
		if _, err := pop(AString); err != nil {
			return nil, false, err
		}
		push(AI32)
		return nil, false, nil

	case ir.OpStringConcat:
		if _, err := pop(AString); err != nil {
			return nil, false, err
		}
		if _, err := pop(AString); err != nil {
			return nil, false, err
		}
		push(AString)
		return nil, false, nil

	case ir.OpStringGetChar:
		if _, err := pop(AI32); err != nil {
			return nil, false, err
		}
		if _, err := pop(AString); err != nil {
			return nil, false, err
		}
		push(AChar)
		return nil, false, nil

	case ir.OpStringSlice:
		if _, err := pop(AI32); err != nil {
			return nil, false, err
		}
		if _, err := pop(AI32); err != nil {
			return nil, false, err
		}
		if _, err := pop(AString); err != nil {
			return nil, false, err
		}
		push(AString)
		return nil, false, nil

	case ir.OpCap:
		if _, err := pop(AArray); err != nil {
			return nil, false, err
		}
		push(AI32)
		return nil, false, nil
	}

	return nil, false, errf(st.funcIdx, pos, CategoryUnknownOp, "unhandled opcode %d", in.Op)
}

// field resolves a field_id operand, bounds-checked against the module's
// Fields table (field containment/alignment itself is validated at
// lower time per spec §4.2 step 3/§8 property 5, never reaching here).
func (st *fstate) field(fieldID uint32, pos int) (sbcfile.FieldRow, error) {
	if int(fieldID) >= len(st.mod.Fields) {
		return sbcfile.FieldRow{}, errf(st.funcIdx, pos, CategoryArityMismatch, "field_id %d out of range", fieldID)
	}
	return st.mod.Fields[fieldID], nil
}

// verifyCall implements the shared argument/arity/return checking for
// `call` and `tailcall` (spec §4.6). For a tailcall, the callee's
// return type must also match the caller's own signature, since a tail
// call replaces the current frame and its eventual `ret` answers on the
// caller's behalf.
func (st *fstate) verifyCall(stackPtr *[]AbstrType, in ir.Instr, pos int, tail bool) error {
	target, ok := st.mod.ResolveCall(in.U32)
	if !ok {
		return errf(st.funcIdx, pos, CategoryArityMismatch, "unknown func_id %d", in.U32)
	}
	if int(target.SigID) >= len(st.mod.Sigs) {
		return errf(st.funcIdx, pos, CategoryArityMismatch, "sig_id %d out of range", target.SigID)
	}
	sig := st.mod.Sigs[target.SigID]
	if err := st.checkArgs(stackPtr, sig, int(in.U8), pos); err != nil {
		return err
	}
	if tail {
		calleeHasRet := sig.RetTypeID != sbcfile.VoidTypeID
		if calleeHasRet != st.hasRet {
			return errf(st.funcIdx, pos, CategoryTypeMismatch, "tailcall return shape does not match caller signature")
		}
		if calleeHasRet {
			calleeRet := typeIDToAbstr(st.mod, sig.RetTypeID)
			if !compatible(calleeRet, st.sigRet) {
				return errf(st.funcIdx, pos, CategoryTypeMismatch, "tailcall return type %s does not match caller's %s", calleeRet, st.sigRet)
			}
		}
		return nil
	}
	if sig.RetTypeID != sbcfile.VoidTypeID {
		*stackPtr = append(*stackPtr, typeIDToAbstr(st.mod, sig.RetTypeID))
	}
	return nil
}

// checkArgs validates argc against the signature's declared parameter
// count and pops/type-checks each argument right-to-left (spec §4.6:
// "pop and type-check arguments right-to-left").
func (st *fstate) checkArgs(stackPtr *[]AbstrType, sig sbcfile.SigRow, argc int, pos int) error {
	if argc != int(sig.ParamCount) {
		return errf(st.funcIdx, pos, CategoryArityMismatch, "argc %d does not match signature's %d parameter(s)", argc, sig.ParamCount)
	}
	for i := int(sig.ParamCount) - 1; i >= 0; i-- {
		if int(sig.ParamTypeStart)+i >= len(st.mod.SigParamTypes) {
			return errf(st.funcIdx, pos, CategoryArityMismatch, "signature param type table out of bounds")
		}
		want := typeIDToAbstr(st.mod, st.mod.SigParamTypes[int(sig.ParamTypeStart)+i])
		s := *stackPtr
		if len(s) == 0 {
			return errf(st.funcIdx, pos, CategoryStackUnderflow, "stack underflow popping call argument %d", i)
		}
		top := s[len(s)-1]
		*stackPtr = s[:len(s)-1]
		if !compatible(top, want) {
			return errf(st.funcIdx, pos, CategoryTypeMismatch, "call argument %d: expected %s, got %s", i, want, top)
		}
	}
	return nil
}
