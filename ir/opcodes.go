// Package ir implements the textual SBC intermediate representation: the
// lexer/parser that turns a human-written IR program into a symbolic
// module, the symbol resolver (Lowerer) that turns that into an IrModule
// with every name replaced by a numeric id, and the IrBuilder that
// assembles a single function's bytecode with deferred label fixups.
package ir

// TypeKind is the set of primitive value kinds known to the VM. It is used
// both for constant-pool typing and, narrowed to a single trailing byte, as
// the operand that tells a typed opcode (add, cmp, convert, ...) which
// width and signedness to operate on — one opcode per operation plus a
// Kind byte, rather than one opcode per (operation, width) pair. This
// mirrors how the teacher's VM backend parameterizes arithmetic opcodes
// with an Inst.Width field instead of emitting width-specific opcodes.
type TypeKind uint8

const (
	KindUnspecified TypeKind = iota
	KindI8
	KindI16
	KindI32
	KindI64
	KindI128
	KindU8
	KindU16
	KindU32
	KindU64
	KindU128
	KindF32
	KindF64
	KindBool
	KindChar
	KindString
	KindRef
)

var kindNames = map[TypeKind]string{
	KindUnspecified: "unspecified",
	KindI8:          "i8",
	KindI16:         "i16",
	KindI32:         "i32",
	KindI64:         "i64",
	KindI128:        "i128",
	KindU8:          "u8",
	KindU16:         "u16",
	KindU32:         "u32",
	KindU64:         "u64",
	KindU128:        "u128",
	KindF32:         "f32",
	KindF64:         "f64",
	KindBool:        "bool",
	KindChar:        "char",
	KindString:      "string",
	KindRef:         "ref",
}

var namesToKind = func() map[string]TypeKind {
	m := make(map[string]TypeKind, len(kindNames))
	for k, v := range kindNames {
		m[v] = k
	}
	return m
}()

func (k TypeKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "kind?"
}

// KindFromName resolves a lower-cased primitive type name to its TypeKind.
func KindFromName(name string) (TypeKind, bool) {
	k, ok := namesToKind[name]
	return k, ok
}

// IsInteger reports whether the kind is one of the signed/unsigned integer
// or small-integer/bool/char families.
func (k TypeKind) IsInteger() bool {
	switch k {
	case KindI8, KindI16, KindI32, KindI64, KindI128,
		KindU8, KindU16, KindU32, KindU64, KindU128, KindBool, KindChar:
		return true
	}
	return false
}

// IsUnsigned reports whether the kind is one of the unsigned integer
// kinds; Bool and Char count as unsigned.
func (k TypeKind) IsUnsigned() bool {
	switch k {
	case KindU8, KindU16, KindU32, KindU64, KindU128, KindBool, KindChar:
		return true
	}
	return false
}

// IsFloat reports whether the kind is F32 or F64.
func (k TypeKind) IsFloat() bool {
	return k == KindF32 || k == KindF64
}

// Width returns the kind's storage width in bytes, matching the SBC type
// row's `size` field for built-in primitives.
func (k TypeKind) Width() int {
	switch k {
	case KindI8, KindU8, KindBool:
		return 1
	case KindI16, KindU16, KindChar:
		return 2
	case KindI32, KindU32, KindF32:
		return 4
	case KindI64, KindU64, KindF64, KindRef, KindString:
		return 8
	case KindI128, KindU128:
		return 16
	default:
		return 0
	}
}

// Opcode is the stable numeric identity of one bytecode instruction. Each
// mnemonic in the textual grammar maps to exactly one (Opcode, operand)
// shape; opcodes that are parameterized by a TypeKind byte carry distinct
// mnemonics per kind in the textual IR (e.g. "add.i32", "add.f64") but
// share one Opcode value, since the trailing Kind byte makes the encoded
// instruction unambiguous.
type Opcode uint8

const (
	OpNop Opcode = iota
	OpPop
	OpDup
	OpDup2
	OpSwap
	OpRot
	OpEnter

	OpConstInt
	OpConstF32
	OpConstF64
	OpConstBool
	OpConstChar
	OpConstString
	OpConstNull

	OpLdLoc
	OpStLoc
	OpLdGlob
	OpStGlob
	OpLdUpv
	OpStUpv

	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpNeg
	OpInc
	OpDec

	OpCmpEq
	OpCmpNe
	OpCmpLt
	OpCmpLe
	OpCmpGt
	OpCmpGe

	OpBoolNot
	OpBoolAnd
	OpBoolOr

	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr

	OpConvert

	OpJmp
	OpJmpTrue
	OpJmpFalse
	OpJmpTable

	OpCall
	OpCallIndirect
	OpTailCall
	OpRet
	OpCallCheck
	OpIntrinsic
	OpSyscall

	OpNewObject
	OpLdFld
	OpStFld

	OpTypeOf
	OpIsNull
	OpRefEq
	OpRefNe

	OpNewClosure

	OpNewArray
	OpArrayLen
	OpArrayGet
	OpArraySet

	OpNewList
	OpListLen
	OpListGet
	OpListSet
	OpListPush
	OpListPop
	OpListInsert
	OpListRemove
	OpListClear

	OpStringLen
	OpStringConcat
	OpStringGetChar
	OpStringSlice

	OpCap

	opcodeCount
)

// Mnemonic describes one parsed textual-IR operation token after the
// leading mnemonic has been split on '.' (e.g. "add.i32" -> base "add",
// kind I32; "jmp" -> base "jmp", no kind).
type Mnemonic struct {
	Op       Opcode
	HasKind  bool
	FixedKnd TypeKind // used when the mnemonic fully determines the kind, e.g. const.i32
}

// mnemonicTable maps every lower-cased textual mnemonic to its Mnemonic
// descriptor. Built once at init from the opcode families above, the way
// the teacher's disassembler (backend_ir.go's opcodeName) and the original
// C++ project's string<->instruction maps are both hand-built dispatch
// tables.
var mnemonicTable map[string]Mnemonic

// arithmeticKinds covers every numeric TypeKind the arithmetic, unary, and
// comparison families operate on (§6.3: "add.i32 sub.i32 … mod.u64
// div.f64 …").
var arithmeticKinds = []TypeKind{
	KindI8, KindI16, KindI32, KindI64, KindI128,
	KindU8, KindU16, KindU32, KindU64, KindU128, KindF32, KindF64,
}

// bitwiseKinds is narrower than arithmeticKinds: §6.3 lists only
// "and.i32 or.i32 xor.i32 shl.i32 shr.i32 (+ .i64)" — bitwise ops exist
// for I32 and I64 only, not the full numeric width set.
var bitwiseKinds = []TypeKind{KindI32, KindI64}

// arrayListKinds is the element-kind set array/list accessors are
// specialized over: §6.3 "array.get.{i32,i64,f32,f64,ref}".
var arrayListKinds = []TypeKind{KindI32, KindI64, KindF32, KindF64, KindRef}

var arithmeticFamily = map[string]Opcode{
	"add": OpAdd, "sub": OpSub, "mul": OpMul, "div": OpDiv, "mod": OpMod,
	"neg": OpNeg, "inc": OpInc, "dec": OpDec,
}

var bitwiseFamily = map[string]Opcode{
	"and": OpAnd, "or": OpOr, "xor": OpXor, "shl": OpShl, "shr": OpShr,
}

var arrayListFamily = map[string]Opcode{
	"array.get": OpArrayGet, "array.set": OpArraySet,
	"list.get": OpListGet, "list.set": OpListSet,
	"list.push": OpListPush, "list.pop": OpListPop,
	"list.insert": OpListInsert, "list.remove": OpListRemove,
}

var cmpFamily = map[string]Opcode{
	"eq": OpCmpEq, "ne": OpCmpNe, "lt": OpCmpLt, "le": OpCmpLe, "gt": OpCmpGt, "ge": OpCmpGe,
}

var plainOps = map[string]Opcode{
	"nop": OpNop, "pop": OpPop, "dup": OpDup, "dup2": OpDup2, "swap": OpSwap, "rot": OpRot,
	"enter": OpEnter,
	"const.null": OpConstNull,
	"ldloc":      OpLdLoc, "stloc": OpStLoc,
	"ldglob": OpLdGlob, "stglob": OpStGlob,
	"ldupv": OpLdUpv, "stupv": OpStUpv,
	"bool.not": OpBoolNot, "bool.and": OpBoolAnd, "bool.or": OpBoolOr,
	"jmp": OpJmp, "jmp.true": OpJmpTrue, "jmp.false": OpJmpFalse, "jmptable": OpJmpTable,
	"call": OpCall, "call.indirect": OpCallIndirect, "tailcall": OpTailCall,
	"ret": OpRet, "callcheck": OpCallCheck,
	"intrinsic": OpIntrinsic, "syscall": OpSyscall,
	"newobj": OpNewObject, "ldfld": OpLdFld, "stfld": OpStFld,
	"typeof": OpTypeOf, "isnull": OpIsNull, "ref.eq": OpRefEq, "ref.ne": OpRefNe,
	"newclosure": OpNewClosure,
	"newarray":   OpNewArray, "array.len": OpArrayLen,
	"newlist": OpNewList, "list.len": OpListLen, "list.clear": OpListClear,
	"string.len": OpStringLen, "string.concat": OpStringConcat,
	"string.get.char": OpStringGetChar, "string.slice": OpStringSlice,
	"array.cap": OpCap,
}

func init() {
	mnemonicTable = make(map[string]Mnemonic)
	for m, op := range plainOps {
		mnemonicTable[m] = Mnemonic{Op: op}
	}
	for base, op := range arithmeticFamily {
		for _, k := range arithmeticKinds {
			mnemonicTable[base+"."+k.String()] = Mnemonic{Op: op, HasKind: true, FixedKnd: k}
		}
	}
	for base, op := range bitwiseFamily {
		for _, k := range bitwiseKinds {
			mnemonicTable[base+"."+k.String()] = Mnemonic{Op: op, HasKind: true, FixedKnd: k}
		}
	}
	for base, op := range arrayListFamily {
		for _, k := range arrayListKinds {
			mnemonicTable[base+"."+k.String()] = Mnemonic{Op: op, HasKind: true, FixedKnd: k}
		}
	}
	for cmp, op := range cmpFamily {
		for _, k := range arithmeticKinds {
			mnemonicTable["cmp."+cmp+"."+k.String()] = Mnemonic{Op: op, HasKind: true, FixedKnd: k}
		}
	}
	for _, k := range []TypeKind{
		KindI8, KindI16, KindI32, KindI64, KindI128,
		KindU8, KindU16, KindU32, KindU64, KindU128,
	} {
		mnemonicTable["const."+k.String()] = Mnemonic{Op: OpConstInt, HasKind: true, FixedKnd: k}
	}
	mnemonicTable["const.f32"] = Mnemonic{Op: OpConstF32, HasKind: true, FixedKnd: KindF32}
	mnemonicTable["const.f64"] = Mnemonic{Op: OpConstF64, HasKind: true, FixedKnd: KindF64}
	mnemonicTable["const.bool"] = Mnemonic{Op: OpConstBool, HasKind: true, FixedKnd: KindBool}
	mnemonicTable["const.char"] = Mnemonic{Op: OpConstChar, HasKind: true, FixedKnd: KindChar}
	mnemonicTable["const.string"] = Mnemonic{Op: OpConstString}

	// conv.<from>.<to>
	kinds := []TypeKind{KindI8, KindI16, KindI32, KindI64, KindU8, KindU16, KindU32, KindU64, KindF32, KindF64}
	for _, from := range kinds {
		for _, to := range kinds {
			mnemonicTable["conv."+from.String()+"."+to.String()] = Mnemonic{Op: OpConvert}
		}
	}
}

// LookupMnemonic resolves a lower-cased mnemonic token to its descriptor.
func LookupMnemonic(tok string) (Mnemonic, bool) {
	m, ok := mnemonicTable[tok]
	return m, ok
}

// OpcodeName returns the disassembler-facing base name for op, the way
// the teacher's own opcodeName(op Opcode) switch in backend_ir.go names
// each instruction for its `-dump-ir` output. Typed operations return
// their bare base mnemonic ("add", not "add.i32"); the caller appends
// the decoded Kind itself.
func OpcodeName(op Opcode) string {
	switch op {
	case OpNop:
		return "nop"
	case OpPop:
		return "pop"
	case OpDup:
		return "dup"
	case OpDup2:
		return "dup2"
	case OpSwap:
		return "swap"
	case OpRot:
		return "rot"
	case OpEnter:
		return "enter"
	case OpConstInt:
		return "const"
	case OpConstF32:
		return "const.f32"
	case OpConstF64:
		return "const.f64"
	case OpConstBool:
		return "const.bool"
	case OpConstChar:
		return "const.char"
	case OpConstString:
		return "const.string"
	case OpConstNull:
		return "const.null"
	case OpLdLoc:
		return "ldloc"
	case OpStLoc:
		return "stloc"
	case OpLdGlob:
		return "ldglob"
	case OpStGlob:
		return "stglob"
	case OpLdUpv:
		return "ldupv"
	case OpStUpv:
		return "stupv"
	case OpAdd:
		return "add"
	case OpSub:
		return "sub"
	case OpMul:
		return "mul"
	case OpDiv:
		return "div"
	case OpMod:
		return "mod"
	case OpNeg:
		return "neg"
	case OpInc:
		return "inc"
	case OpDec:
		return "dec"
	case OpCmpEq:
		return "cmp.eq"
	case OpCmpNe:
		return "cmp.ne"
	case OpCmpLt:
		return "cmp.lt"
	case OpCmpLe:
		return "cmp.le"
	case OpCmpGt:
		return "cmp.gt"
	case OpCmpGe:
		return "cmp.ge"
	case OpBoolNot:
		return "bool.not"
	case OpBoolAnd:
		return "bool.and"
	case OpBoolOr:
		return "bool.or"
	case OpAnd:
		return "and"
	case OpOr:
		return "or"
	case OpXor:
		return "xor"
	case OpShl:
		return "shl"
	case OpShr:
		return "shr"
	case OpConvert:
		return "conv"
	case OpJmp:
		return "jmp"
	case OpJmpTrue:
		return "jmp.true"
	case OpJmpFalse:
		return "jmp.false"
	case OpJmpTable:
		return "jmptable"
	case OpCall:
		return "call"
	case OpCallIndirect:
		return "call.indirect"
	case OpTailCall:
		return "tailcall"
	case OpRet:
		return "ret"
	case OpCallCheck:
		return "callcheck"
	case OpIntrinsic:
		return "intrinsic"
	case OpSyscall:
		return "syscall"
	case OpNewObject:
		return "newobj"
	case OpLdFld:
		return "ldfld"
	case OpStFld:
		return "stfld"
	case OpTypeOf:
		return "typeof"
	case OpIsNull:
		return "isnull"
	case OpRefEq:
		return "ref.eq"
	case OpRefNe:
		return "ref.ne"
	case OpNewClosure:
		return "newclosure"
	case OpNewArray:
		return "newarray"
	case OpArrayLen:
		return "array.len"
	case OpArrayGet:
		return "array.get"
	case OpArraySet:
		return "array.set"
	case OpNewList:
		return "newlist"
	case OpListLen:
		return "list.len"
	case OpListGet:
		return "list.get"
	case OpListSet:
		return "list.set"
	case OpListPush:
		return "list.push"
	case OpListPop:
		return "list.pop"
	case OpListInsert:
		return "list.insert"
	case OpListRemove:
		return "list.remove"
	case OpListClear:
		return "list.clear"
	case OpStringLen:
		return "string.len"
	case OpStringConcat:
		return "string.concat"
	case OpStringGetChar:
		return "string.get.char"
	case OpStringSlice:
		return "string.slice"
	case OpCap:
		return "array.cap"
	default:
		return "op?"
	}
}
