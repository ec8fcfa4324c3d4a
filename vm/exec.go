package vm

import (
	"encoding/binary"
	"math"

	"simplevm.dev/sbc/ir"
	"simplevm.dev/sbc/sbcfile"
)

// JIT tier thresholds from original_source's vm.h (kJitTier0Threshold,
// kJitTier1Threshold, kJitOpcodeThreshold). Spec §4.8: "may be checked
// between instructions to request recompilation via an external JIT
// (out of scope); the counters and tier marks are returned in ExecResult
// but have no effect on semantics" — this package only counts and
// reports them, there is no recompiler to hand off to.
const (
	Tier0CallThreshold   = 3
	Tier1CallThreshold   = 6
	HotOpcodeThreshold   = 10
)

// ExecStatus is the terminal state of one Execute call (spec §4.7's
// "Running -> (Returned|Trapped|TailCalled)" state machine, collapsed to
// the two states visible once execution has actually finished: a tail
// call is never externally observable, it is resolved internally into
// either a further call or an eventual Returned/Trapped).
type ExecStatus uint8

const (
	StatusReturned ExecStatus = iota
	StatusTrapped
)

// ImportResolver is the host callback spec §6.4 describes: invoked
// synchronously on every `call` whose func_id resolves to an explicit
// import row. Arguments are the raw bit patterns of the popped Values
// in source (push) order. A (0, false, nil) result means "no return
// value"; a non-nil error traps the VM with TrapHostFailure.
type ImportResolver func(module, symbol string, args []uint64) (ret uint64, hasRet bool, err error)

// ExecOptions configures one Execute call.
type ExecOptions struct {
	ImportResolver ImportResolver
	// StepLimit bounds total instructions executed; 0 means unlimited.
	// Grounded in the teacher's RTG_VM_STEPS env toggle (backend_vm.go's
	// stepLimit field), renamed SBC_VM_STEPS at the cmd/sbc layer.
	StepLimit int64
	// Trace, if set, asks the VM to record a Trace of executed
	// (func_index, offset) pairs in ExecResult; off by default since it
	// is for interactive debugging (cmd/sbc's SBC_VM_TRACE), not part of
	// the execution contract.
	Trace bool
}

// ExecResult is the structured outcome spec §7 requires: "a structured
// {status, error, exit_code} triple plus optional profiling counters".
type ExecResult struct {
	Status   ExecStatus
	ExitCode int64
	Err      error

	Steps      int64
	CallCounts map[int]int64
	OpCounts   map[ir.Opcode]int64
	HotFuncs   map[int]bool // function indices that crossed Tier1CallThreshold
	Trace      []TraceEntry
}

// TraceEntry records one executed instruction when ExecOptions.Trace is
// set.
type TraceEntry struct {
	FuncIndex int
	Offset    int
	Op        ir.Opcode
}

// VM is the interpreter state for one Execute call: a shared typed
// operand stack, a call-frame stack, process-wide globals, and a heap.
// Grounded in the teacher's VM struct (std/compiler/backend_vm.go),
// trimmed of the native-codegen-only fields (slab allocator, fd/dir
// tables, argv) that have no place in this bytecode interpreter.
type VM struct {
	mod     *sbcfile.Module
	heap    *Heap
	globals []Value
	frames  []Frame
	stack   []Value

	opts ExecOptions

	steps      int64
	callCounts map[int]int64
	opCounts   map[ir.Opcode]int64
	trace      []TraceEntry

	// methodToFunc maps a Methods-table index to the Functions-table
	// index that carries its code, for call.indirect (spec §4.7 step 5:
	// `newclosure` stores a method_id, not a func_id). -1 means no
	// function is bound to that method.
	methodToFunc []int
}

// Execute runs mod's entry function to completion (or to the first
// trap), per spec §4.7.
func Execute(mod *sbcfile.Module, args []Value, opts ExecOptions) *ExecResult {
	v := &VM{
		mod:        mod,
		heap:       newHeap(),
		callCounts: map[int]int64{},
		opCounts:   map[ir.Opcode]int64{},
		opts:       opts,
	}
	v.globals = make([]Value, len(mod.Globals))
	for i, g := range mod.Globals {
		v.globals[i] = v.globalInit(g)
	}

	v.methodToFunc = make([]int, len(mod.Methods))
	for i := range v.methodToFunc {
		v.methodToFunc[i] = -1
	}
	for i, fn := range mod.Functions {
		v.methodToFunc[fn.MethodID] = i
	}

	entryFunc := int(mod.EntryMethodID)
	err := v.call(entryFunc, args)
	if err == nil {
		err = v.run()
	}

	res := &ExecResult{
		Steps:      v.steps,
		CallCounts: v.callCounts,
		OpCounts:   v.opCounts,
		HotFuncs:   map[int]bool{},
		Trace:      v.trace,
	}
	for idx, n := range v.callCounts {
		if n >= Tier1CallThreshold {
			res.HotFuncs[idx] = true
		}
	}
	if err != nil {
		res.Status = StatusTrapped
		res.Err = err
		return res
	}
	res.Status = StatusReturned
	if len(v.stack) > 0 {
		res.ExitCode = v.stack[len(v.stack)-1].Int()
	}
	return res
}

func (v *VM) globalInit(g sbcfile.GlobalRow) Value {
	if g.InitConstID == sbcfile.NoInitConstID {
		return Zero(typeKindOf(v.mod, g.TypeID))
	}
	return v.loadTypedConst(g.InitConstID, typeKindOf(v.mod, g.TypeID))
}

// typeKindOf maps a type_id to the primitive ir.TypeKind it stores at
// runtime, defaulting composite/Ref rows to KindRef (spec §3: fields of
// a Ref-kind or artifact type are addressed as references).
func typeKindOf(m *sbcfile.Module, typeID uint32) ir.TypeKind {
	if typeID == sbcfile.VoidTypeID || int(typeID) >= len(m.Types) {
		return ir.KindRef
	}
	t := m.Types[typeID]
	if t.Flags&sbcfile.FlagComposite != 0 {
		return ir.KindRef
	}
	return ir.TypeKind(t.Kind)
}

// loadTypedConst reads one tagged const-pool record (spec §6.1's
// const-pool table) as a Value. It serves both `const.string` operands
// and scalar/string global initializers; an id past the pool or an
// unknown tag yields the zero value of kind.
func (v *VM) loadTypedConst(id uint32, kind ir.TypeKind) Value {
	pool := v.mod.ConstPool
	if uint64(id)+4 > uint64(len(pool)) {
		return Zero(kind)
	}
	tag := binary.LittleEndian.Uint32(pool[id : id+4])
	switch tag {
	case sbcfile.ConstTagString:
		strOff := binary.LittleEndian.Uint32(pool[id+4 : id+8])
		return v.heap.NewString(v.mod.NameAt(strOff))
	case sbcfile.ConstTagF32:
		bits := binary.LittleEndian.Uint32(pool[id+4 : id+8])
		return F32Value(math.Float32frombits(bits))
	case sbcfile.ConstTagF64:
		bits := binary.LittleEndian.Uint64(pool[id+4 : id+12])
		return F64Value(math.Float64frombits(bits))
	default:
		return Zero(kind)
	}
}

// call pushes a fresh frame for the user function at funcIndex, copying
// args into its leading locals. doCall pops those arguments off the
// operand stack first; the outermost Execute call passes its explicit
// args slice. Explicit import rows never reach here: doCall dispatches
// them to callImportRow (call.go).
func (v *VM) call(funcIndex int, args []Value) error {
	if funcIndex < 0 || funcIndex >= len(v.mod.Functions) {
		return trapf(funcIndex, 0, TrapTypeMismatch, "call to unknown function %d", funcIndex)
	}
	fn := v.mod.Functions[funcIndex]
	meth := v.mod.Methods[fn.MethodID]
	locals := make([]Value, meth.LocalCount)
	copy(locals, args)
	v.frames = append(v.frames, Frame{
		FuncIndex: funcIndex,
		Code:      v.mod.Code[fn.CodeOffset : fn.CodeOffset+fn.CodeSize],
		Locals:    locals,
		Closure:   nullRef,
	})
	v.callCounts[funcIndex]++
	return nil
}

// run drives the fetch-decode-dispatch loop until every frame has
// returned or a trap occurs (spec §4.7 steps 1-8).
func (v *VM) run() error {
	for len(v.frames) > 0 {
		idx := len(v.frames) - 1
		f := &v.frames[idx]
		if f.IP >= len(f.Code) {
			return trapf(f.FuncIndex, f.IP, TrapTypeMismatch, "function fell off the end without a ret")
		}
		if v.opts.StepLimit > 0 && v.steps >= v.opts.StepLimit {
			return trapf(f.FuncIndex, f.IP, TrapStepLimitExceeded, "step limit %d exceeded", v.opts.StepLimit)
		}
		in, derr := ir.Decode(f.Code, f.IP)
		if derr != nil {
			return trapf(f.FuncIndex, f.IP, TrapTypeMismatch, "%v", derr)
		}
		v.steps++
		v.opCounts[in.Op]++
		if v.opts.Trace {
			v.trace = append(v.trace, TraceEntry{FuncIndex: f.FuncIndex, Offset: f.IP, Op: in.Op})
		}
		nextIP := f.IP + in.Len
		pos := f.IP

		switch in.Op {
		case ir.OpNop, ir.OpEnter, ir.OpCallCheck:
			f.IP = nextIP

		case ir.OpPop:
			if err := v.pop1(f, pos); err != nil {
				return err
			}
			f.IP = nextIP

		case ir.OpDup:
			v.push(v.top())
			f.IP = nextIP

		case ir.OpDup2:
			n := len(v.stack)
			a, b := v.stack[n-2], v.stack[n-1]
			v.push(a)
			v.push(b)
			f.IP = nextIP

		case ir.OpSwap:
			n := len(v.stack)
			v.stack[n-1], v.stack[n-2] = v.stack[n-2], v.stack[n-1]
			f.IP = nextIP

		case ir.OpRot:
			n := len(v.stack)
			v.stack[n-3], v.stack[n-2], v.stack[n-1] = v.stack[n-2], v.stack[n-1], v.stack[n-3]
			f.IP = nextIP

		case ir.OpConstInt:
			v.push(Value{Kind: in.Kind, Raw: mask(in.Kind, uint64(in.I64))})
			f.IP = nextIP

		case ir.OpConstF32:
			v.push(Value{Kind: ir.KindF32, Raw: uint64(in.U32)})
			f.IP = nextIP

		case ir.OpConstF64:
			v.push(Value{Kind: ir.KindF64, Raw: uint64(in.I64)})
			f.IP = nextIP

		case ir.OpConstBool:
			v.push(BoolValue(in.I64 != 0))
			f.IP = nextIP

		case ir.OpConstChar:
			v.push(CharValue(uint16(in.I64)))
			f.IP = nextIP

		case ir.OpConstString:
			v.push(v.loadTypedConst(in.U32, ir.KindString))
			f.IP = nextIP

		case ir.OpConstNull:
			v.push(Null())
			f.IP = nextIP

		case ir.OpLdLoc:
			v.push(f.Locals[in.U32])
			f.IP = nextIP

		case ir.OpStLoc:
			f.Locals[in.U32] = v.pop()
			f.IP = nextIP

		case ir.OpLdGlob:
			v.push(v.globals[in.U32])
			f.IP = nextIP

		case ir.OpStGlob:
			v.globals[in.U32] = v.pop().WithKind(typeKindOf(v.mod, v.mod.Globals[in.U32].TypeID))
			f.IP = nextIP

		case ir.OpLdUpv:
			if !f.hasClosure() {
				return trapf(f.FuncIndex, pos, TrapNullDereference, "ldupv outside a closure frame")
			}
			val, ok := v.heap.ClosureUpvalue(f.Closure, int(in.U32))
			if !ok {
				return trapf(f.FuncIndex, pos, TrapIndexOutOfRange, "upvalue index %d out of range", in.U32)
			}
			v.push(val)
			f.IP = nextIP

		case ir.OpStUpv:
			val := v.pop()
			if !f.hasClosure() || !v.heap.ClosureSetUpvalue(f.Closure, int(in.U32), val) {
				return trapf(f.FuncIndex, pos, TrapIndexOutOfRange, "upvalue index %d out of range", in.U32)
			}
			f.IP = nextIP

		case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpMod:
			if err := v.arith(f, pos, in.Op, in.Kind); err != nil {
				return err
			}
			f.IP = nextIP

		case ir.OpNeg, ir.OpInc, ir.OpDec:
			if err := v.unary(in.Op, in.Kind); err != nil {
				return err
			}
			f.IP = nextIP

		case ir.OpAnd, ir.OpOr, ir.OpXor, ir.OpShl, ir.OpShr:
			v.bitwise(in.Op, in.Kind)
			f.IP = nextIP

		case ir.OpCmpEq, ir.OpCmpNe, ir.OpCmpLt, ir.OpCmpLe, ir.OpCmpGt, ir.OpCmpGe:
			v.compare(in.Op, in.Kind)
			f.IP = nextIP

		case ir.OpBoolNot:
			v.push(BoolValue(!v.pop().Bool()))
			f.IP = nextIP

		case ir.OpBoolAnd:
			b := v.pop().Bool()
			a := v.pop().Bool()
			v.push(BoolValue(a && b))
			f.IP = nextIP

		case ir.OpBoolOr:
			b := v.pop().Bool()
			a := v.pop().Bool()
			v.push(BoolValue(a || b))
			f.IP = nextIP

		case ir.OpConvert:
			v.push(convert(v.pop(), in.Kind, in.KindTo))
			f.IP = nextIP

		case ir.OpJmp:
			f.IP = pos + in.Len + int(in.Rel)

		case ir.OpJmpTrue:
			target := pos + in.Len + int(in.Rel)
			if v.pop().Bool() {
				f.IP = target
			} else {
				f.IP = nextIP
			}

		case ir.OpJmpFalse:
			target := pos + in.Len + int(in.Rel)
			if !v.pop().Bool() {
				f.IP = target
			} else {
				f.IP = nextIP
			}

		case ir.OpJmpTable:
			sel := int(v.pop().Int())
			if sel < 0 || sel >= len(in.Cases) {
				f.IP = pos + in.Len + int(in.Default)
			} else {
				// Each case's rel32 is patched against the offset
				// immediately after its own 4-byte slot, not the end of
				// the whole instruction (ir/builder.go's EmitJmpTable
				// emits one fixup per case before the default fixup).
				caseBase := pos + 1 + 4 + 4*(sel+1)
				f.IP = caseBase + int(in.Cases[sel])
			}

		case ir.OpCall:
			f.IP = nextIP
			if err := v.doCall(f.FuncIndex, pos, in.U32, int(in.U8), false); err != nil {
				return err
			}

		case ir.OpTailCall:
			if err := v.doTailCall(f.FuncIndex, pos, in.U32, int(in.U8)); err != nil {
				return err
			}

		case ir.OpCallIndirect:
			f.IP = nextIP
			if err := v.doCallIndirect(f.FuncIndex, pos, in.U32, int(in.U8)); err != nil {
				return err
			}

		case ir.OpRet:
			var result Value
			hasResult := v.retHasValue(idx)
			if hasResult {
				result = v.pop()
			}
			v.frames = v.frames[:idx]
			if hasResult {
				v.push(result)
			}

		case ir.OpIntrinsic:
			f.IP = nextIP
			if err := v.hostCall(f.FuncIndex, pos, "intrinsic", in.U32, true); err != nil {
				return err
			}

		case ir.OpSyscall:
			f.IP = nextIP
			if err := v.hostCall(f.FuncIndex, pos, "syscall", in.U32, false); err != nil {
				return err
			}

		case ir.OpNewObject:
			t := v.mod.Types[in.U32]
			kinds := make([]ir.TypeKind, t.FieldCount)
			for i := uint32(0); i < t.FieldCount; i++ {
				kinds[i] = typeKindOf(v.mod, v.mod.Fields[t.FieldStart+i].TypeID)
			}
			v.push(v.heap.NewObject(in.U32, kinds))
			f.IP = nextIP

		case ir.OpLdFld:
			ref := v.pop()
			if ref.IsNull() {
				return trapf(f.FuncIndex, pos, TrapNullDereference, "ldfld on null reference")
			}
			slot, _ := v.fieldSlot(ref.Ref, in.U32)
			val, ok := v.heap.FieldGet(ref.Ref, slot)
			if !ok {
				return trapf(f.FuncIndex, pos, TrapIndexOutOfRange, "field %d out of range", in.U32)
			}
			v.push(val)
			f.IP = nextIP

		case ir.OpStFld:
			field := v.mod.Fields[in.U32]
			val := v.pop()
			ref := v.pop()
			if ref.IsNull() {
				return trapf(f.FuncIndex, pos, TrapNullDereference, "stfld on null reference")
			}
			slot, _ := v.fieldSlot(ref.Ref, in.U32)
			if !v.heap.FieldSet(ref.Ref, slot, val, typeKindOf(v.mod, field.TypeID)) {
				return trapf(f.FuncIndex, pos, TrapIndexOutOfRange, "field %d out of range", in.U32)
			}
			f.IP = nextIP

		case ir.OpTypeOf:
			val := v.pop()
			v.push(Value{Kind: ir.KindI32, Raw: uint64(typeTag(v.heap, val))})
			f.IP = nextIP

		case ir.OpIsNull:
			v.push(BoolValue(v.pop().IsNull()))
			f.IP = nextIP

		case ir.OpRefEq, ir.OpRefNe:
			b := v.pop()
			a := v.pop()
			eq := refsEqual(a, b)
			if in.Op == ir.OpRefNe {
				eq = !eq
			}
			v.push(BoolValue(eq))
			f.IP = nextIP

		case ir.OpNewClosure:
			upvals := make([]Value, in.U8)
			for i := int(in.U8) - 1; i >= 0; i-- {
				upvals[i] = v.pop()
			}
			v.push(v.heap.NewClosure(in.U32, upvals))
			f.IP = nextIP

		case ir.OpNewArray:
			v.push(v.heap.NewArray(arrayListElemKind(typeKindOf(v.mod, in.U32)), in.U32b))
			f.IP = nextIP

		case ir.OpArrayLen:
			ref := v.pop()
			if ref.IsNull() {
				return trapf(f.FuncIndex, pos, TrapNullDereference, "array.len on null reference")
			}
			v.push(Value{Kind: ir.KindI32, Raw: mask(ir.KindI32, uint64(v.heap.ArrayLen(ref.Ref)))})
			f.IP = nextIP

		case ir.OpArrayGet:
			i := int(v.pop().Int())
			ref := v.pop()
			if ref.IsNull() {
				return trapf(f.FuncIndex, pos, TrapNullDereference, "array.get on null reference")
			}
			val, ok := v.heap.ArrayGet(ref.Ref, i)
			if !ok {
				return trapf(f.FuncIndex, pos, TrapIndexOutOfRange, "array index %d out of range", i)
			}
			v.push(val)
			f.IP = nextIP

		case ir.OpArraySet:
			val := v.pop()
			i := int(v.pop().Int())
			ref := v.pop()
			if ref.IsNull() {
				return trapf(f.FuncIndex, pos, TrapNullDereference, "array.set on null reference")
			}
			if !v.heap.ArraySet(ref.Ref, i, val) {
				return trapf(f.FuncIndex, pos, TrapIndexOutOfRange, "array index %d out of range", i)
			}
			f.IP = nextIP

		case ir.OpNewList:
			v.push(v.heap.NewList(arrayListElemKind(typeKindOf(v.mod, in.U32)), in.U32b))
			f.IP = nextIP

		case ir.OpListLen:
			ref := v.pop()
			if ref.IsNull() {
				return trapf(f.FuncIndex, pos, TrapNullDereference, "list.len on null reference")
			}
			v.push(Value{Kind: ir.KindI32, Raw: mask(ir.KindI32, uint64(v.heap.ListLen(ref.Ref)))})
			f.IP = nextIP

		case ir.OpListClear:
			ref := v.pop()
			if ref.IsNull() {
				return trapf(f.FuncIndex, pos, TrapNullDereference, "list.clear on null reference")
			}
			v.heap.ListClear(ref.Ref)
			f.IP = nextIP

		case ir.OpListGet:
			i := int(v.pop().Int())
			ref := v.pop()
			if ref.IsNull() {
				return trapf(f.FuncIndex, pos, TrapNullDereference, "list.get on null reference")
			}
			val, ok := v.heap.ListGet(ref.Ref, i)
			if !ok {
				return trapf(f.FuncIndex, pos, TrapIndexOutOfRange, "list index %d out of range", i)
			}
			v.push(val)
			f.IP = nextIP

		case ir.OpListSet:
			val := v.pop()
			i := int(v.pop().Int())
			ref := v.pop()
			if ref.IsNull() {
				return trapf(f.FuncIndex, pos, TrapNullDereference, "list.set on null reference")
			}
			if !v.heap.ListSet(ref.Ref, i, val) {
				return trapf(f.FuncIndex, pos, TrapIndexOutOfRange, "list index %d out of range", i)
			}
			f.IP = nextIP

		case ir.OpListPush:
			val := v.pop()
			ref := v.pop()
			if ref.IsNull() {
				return trapf(f.FuncIndex, pos, TrapNullDereference, "list.push on null reference")
			}
			v.heap.ListPush(ref.Ref, val)
			f.IP = nextIP

		case ir.OpListPop:
			ref := v.pop()
			if ref.IsNull() {
				return trapf(f.FuncIndex, pos, TrapNullDereference, "list.pop on null reference")
			}
			val, ok := v.heap.ListPop(ref.Ref)
			if !ok {
				return trapf(f.FuncIndex, pos, TrapIndexOutOfRange, "list.pop on empty list")
			}
			v.push(val)
			f.IP = nextIP

		case ir.OpListInsert:
			val := v.pop()
			i := int(v.pop().Int())
			ref := v.pop()
			if ref.IsNull() {
				return trapf(f.FuncIndex, pos, TrapNullDereference, "list.insert on null reference")
			}
			if !v.heap.ListInsert(ref.Ref, i, val) {
				return trapf(f.FuncIndex, pos, TrapIndexOutOfRange, "list index %d out of range", i)
			}
			f.IP = nextIP

		case ir.OpListRemove:
			i := int(v.pop().Int())
			ref := v.pop()
			if ref.IsNull() {
				return trapf(f.FuncIndex, pos, TrapNullDereference, "list.remove on null reference")
			}
			val, ok := v.heap.ListRemove(ref.Ref, i)
			if !ok {
				return trapf(f.FuncIndex, pos, TrapIndexOutOfRange, "list index %d out of range", i)
			}
			v.push(val)
			f.IP = nextIP

		case ir.OpStringLen:
			ref := v.pop()
			if ref.IsNull() {
				return trapf(f.FuncIndex, pos, TrapNullDereference, "string.len on null reference")
			}
			v.push(Value{Kind: ir.KindI32, Raw: mask(ir.KindI32, uint64(len(v.heap.String(ref.Ref))))})
			f.IP = nextIP

		case ir.OpStringConcat:
			b := v.pop()
			a := v.pop()
			if a.IsNull() || b.IsNull() {
				return trapf(f.FuncIndex, pos, TrapNullDereference, "string.concat on null reference")
			}
			v.push(v.heap.NewString(v.heap.String(a.Ref) + v.heap.String(b.Ref)))
			f.IP = nextIP

		case ir.OpStringGetChar:
			i := int(v.pop().Int())
			ref := v.pop()
			if ref.IsNull() {
				return trapf(f.FuncIndex, pos, TrapNullDereference, "string.get.char on null reference")
			}
			s := v.heap.String(ref.Ref)
			if i < 0 || i >= len(s) {
				return trapf(f.FuncIndex, pos, TrapIndexOutOfRange, "string index %d out of range", i)
			}
			v.push(CharValue(uint16(s[i])))
			f.IP = nextIP

		case ir.OpStringSlice:
			hi := int(v.pop().Int())
			lo := int(v.pop().Int())
			ref := v.pop()
			if ref.IsNull() {
				return trapf(f.FuncIndex, pos, TrapNullDereference, "string.slice on null reference")
			}
			s := v.heap.String(ref.Ref)
			if lo < 0 || hi < lo || hi > len(s) {
				return trapf(f.FuncIndex, pos, TrapIndexOutOfRange, "string.slice(%d,%d) out of range for length %d", lo, hi, len(s))
			}
			v.push(v.heap.NewString(s[lo:hi]))
			f.IP = nextIP

		case ir.OpCap:
			ref := v.pop()
			if ref.IsNull() {
				return trapf(f.FuncIndex, pos, TrapNullDereference, "array.cap on null reference")
			}
			v.push(Value{Kind: ir.KindI32, Raw: mask(ir.KindI32, uint64(v.heap.ArrayLen(ref.Ref)))})
			f.IP = nextIP

		default:
			return trapf(f.FuncIndex, pos, TrapTypeMismatch, "unhandled opcode %d", in.Op)
		}
	}
	return nil
}

// retHasValue reports whether the function at frame idx's signature
// declares a non-void return, so `ret` knows whether to pop a value
// before discarding the frame.
func (v *VM) retHasValue(idx int) bool {
	fn := v.mod.Functions[v.frames[idx].FuncIndex]
	meth := v.mod.Methods[fn.MethodID]
	sig := v.mod.Sigs[meth.SigID]
	return sig.RetTypeID != sbcfile.VoidTypeID
}

// fieldSlot resolves a global field_id to (slot-within-object, type_id),
// the object's own type's field table being a contiguous sub-range of
// the module's Fields table starting at FieldStart.
func (v *VM) fieldSlot(ref int32, fieldID uint32) (int, uint32) {
	typeID := v.heap.ObjectTypeID(ref)
	t := v.mod.Types[typeID]
	return int(fieldID) - int(t.FieldStart), v.mod.Fields[fieldID].TypeID
}

func (v *VM) push(val Value) { v.stack = append(v.stack, val) }
func (v *VM) top() Value     { return v.stack[len(v.stack)-1] }

func (v *VM) pop() Value {
	n := len(v.stack)
	val := v.stack[n-1]
	v.stack = v.stack[:n-1]
	return val
}

func (v *VM) pop1(f *Frame, pos int) error {
	if len(v.stack) == 0 {
		return trapf(f.FuncIndex, pos, TrapTypeMismatch, "pop on empty stack")
	}
	v.pop()
	return nil
}

func arrayListElemKind(k ir.TypeKind) ir.TypeKind { return k }

// typeTag is the numeric value `typeof` pushes: the concrete ir.TypeKind
// for a scalar, or a small fixed code for each heap category.
func typeTag(h *Heap, val Value) int32 {
	if val.Kind != ir.KindRef && val.Kind != ir.KindString {
		return int32(val.Kind)
	}
	if val.IsNull() {
		return -1
	}
	switch h.Kind(val.Ref) {
	case HeapString:
		return int32(ir.KindString)
	case HeapArray:
		return 100
	case HeapList:
		return 101
	case HeapObject:
		return 102
	case HeapClosure:
		return 103
	default:
		return int32(ir.KindRef)
	}
}

// refsEqual implements spec §8 property 7/§9's "ref.eq true iff the
// same heap object": two null references are also equal, matching
// `isnull` treating null as a single canonical identity.
func refsEqual(a, b Value) bool {
	if a.IsNull() || b.IsNull() {
		return a.IsNull() == b.IsNull()
	}
	return a.Ref == b.Ref
}
