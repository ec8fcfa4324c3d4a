package vm

import (
	"fmt"

	"simplevm.dev/sbc/ir"
	"simplevm.dev/sbc/sbcfile"
)

// popArgs pops argc values off the shared stack, right-to-left, and
// returns them in source (left-to-right) order ready to become a new
// frame's leading locals (spec §4.7 step 4).
func (v *VM) popArgs(argc int) []Value {
	args := make([]Value, argc)
	for i := argc - 1; i >= 0; i-- {
		args[i] = v.pop()
	}
	return args
}

// doCall implements `call func_id argc`: resolve, pop args, and either
// invoke the host resolver (import) or push a fresh frame (user
// function).
func (v *VM) doCall(callerFunc, pos int, funcID uint32, argc int, _ bool) error {
	target, ok := v.mod.ResolveCall(funcID)
	if !ok {
		return trapf(callerFunc, pos, TrapTypeMismatch, "call to unknown func_id %d", funcID)
	}
	args := v.popArgs(argc)
	if target.IsImport {
		return v.callImportRow(callerFunc, pos, target.ImportRow, args)
	}
	return v.call(target.FuncIndex, args)
}

// doTailCall implements `tailcall func_id argc`: per spec §9's resolved
// Open Question, tailcall only ever targets a static func_id (never a
// closure — those must use call.indirect), so it either replaces the
// current frame in place (user function) or performs the host call and
// immediately unwinds the current frame with its result (import),
// since there is no callee frame to replace in that case.
func (v *VM) doTailCall(callerFunc, pos int, funcID uint32, argc int) error {
	target, ok := v.mod.ResolveCall(funcID)
	if !ok {
		return trapf(callerFunc, pos, TrapTypeMismatch, "tailcall to unknown func_id %d", funcID)
	}
	args := v.popArgs(argc)
	idx := len(v.frames) - 1
	if target.IsImport {
		if err := v.callImportRow(callerFunc, pos, target.ImportRow, args); err != nil {
			return err
		}
		v.frames = v.frames[:idx]
		return nil
	}
	fn := v.mod.Functions[target.FuncIndex]
	meth := v.mod.Methods[fn.MethodID]
	locals := make([]Value, meth.LocalCount)
	copy(locals, args)
	v.frames[idx] = Frame{
		FuncIndex: target.FuncIndex,
		Code:      v.mod.Code[fn.CodeOffset : fn.CodeOffset+fn.CodeSize],
		Locals:    locals,
		Closure:   nullRef,
	}
	v.callCounts[target.FuncIndex]++
	return nil
}

// doCallIndirect implements `call.indirect sig_id argc`: pops the
// callee closure off the top of the stack (above its arguments, per
// spec §4.7 step 5), validates its bound method's signature equals
// sig_id, then dispatches like doCall with the closure's upvalues bound
// as the new frame's closure.
func (v *VM) doCallIndirect(callerFunc, pos int, sigID uint32, argc int) error {
	closureVal := v.pop()
	args := v.popArgs(argc)
	if closureVal.IsNull() {
		return trapf(callerFunc, pos, TrapNullDereference, "call.indirect on null closure")
	}
	if v.heap.Kind(closureVal.Ref) != HeapClosure {
		return trapf(callerFunc, pos, TrapTypeMismatch, "call.indirect target is not a closure")
	}
	methodID := v.heap.ClosureMethodID(closureVal.Ref)
	if int(methodID) >= len(v.mod.Methods) {
		return trapf(callerFunc, pos, TrapTypeMismatch, "closure method_id %d out of range", methodID)
	}
	meth := v.mod.Methods[methodID]
	if meth.SigID != sigID {
		return trapf(callerFunc, pos, TrapTypeMismatch, "call.indirect signature mismatch: closure has sig %d, site expects %d", meth.SigID, sigID)
	}
	funcIdx := v.methodToFunc[methodID]
	if funcIdx < 0 {
		return trapf(callerFunc, pos, TrapTypeMismatch, "no function bound to method_id %d", methodID)
	}
	fn := v.mod.Functions[funcIdx]
	locals := make([]Value, meth.LocalCount)
	copy(locals, args)
	v.frames = append(v.frames, Frame{
		FuncIndex: funcIdx,
		Code:      v.mod.Code[fn.CodeOffset : fn.CodeOffset+fn.CodeSize],
		Locals:    locals,
		Closure:   closureVal.Ref,
	})
	v.callCounts[funcIdx]++
	return nil
}

// hostCall dispatches `intrinsic`/`syscall`. Neither opcode's operand
// carries an argument count (spec §6.3 lists only `u32 id`): this
// implementation takes the conservative reading that intrinsics and
// syscalls are nullary host calls that optionally produce one i64-ish
// result, keeping their stack effect well-defined for the verifier's
// stack-depth bookkeeping without a table this binary format has no
// room for (see DESIGN.md).
func (v *VM) hostCall(callerFunc, pos int, label string, id uint32, isIntrinsic bool) error {
	declared := v.mod.HasSyscall(id)
	if isIntrinsic {
		declared = v.mod.HasIntrinsic(id)
	}
	if !declared {
		return trapf(callerFunc, pos, TrapUnresolvedHost, "%s id %d not declared in imports", label, id)
	}
	if v.opts.ImportResolver == nil {
		return trapf(callerFunc, pos, TrapUnresolvedHost, "no host resolver configured for %s id %d", label, id)
	}
	symbol := fmt.Sprintf("%s:%d", label, id)
	ret, hasRet, err := v.opts.ImportResolver("", symbol, nil)
	if err != nil {
		return trapf(callerFunc, pos, TrapHostFailure, "%s %d: %v", label, id, err)
	}
	if hasRet {
		v.push(Value{Kind: ir.KindI64, Raw: ret})
	}
	return nil
}

// callImportRow dispatches `call` to an explicit host import row (spec
// §6.4): arguments are passed as raw 64-bit payloads in source order,
// and a non-void signature's return type reinterprets the callback's
// result.
func (v *VM) callImportRow(callerFunc, pos int, importRow int, args []Value) error {
	row := v.mod.Imports[importRow]
	if v.opts.ImportResolver == nil {
		return trapf(callerFunc, pos, TrapUnresolvedHost, "no host resolver configured for import %s", v.mod.NameAt(row.SymbolNameStr))
	}
	rawArgs := make([]uint64, len(args))
	for i, a := range args {
		if a.Kind == ir.KindRef || a.Kind == ir.KindString {
			rawArgs[i] = uint64(uint32(a.Ref))
		} else {
			rawArgs[i] = a.Raw
		}
	}
	moduleName := v.mod.NameAt(row.ModuleNameStr)
	symbol := v.mod.NameAt(row.SymbolNameStr)
	ret, hasRet, err := v.opts.ImportResolver(moduleName, symbol, rawArgs)
	if err != nil {
		return trapf(callerFunc, pos, TrapHostFailure, "import %s.%s: %v", moduleName, symbol, err)
	}
	sig := v.mod.Sigs[row.SigID]
	if sig.RetTypeID != sbcfile.VoidTypeID && hasRet {
		v.push(Value{Kind: typeKindOf(v.mod, sig.RetTypeID), Raw: ret})
	}
	return nil
}
