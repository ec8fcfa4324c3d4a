// Package verify implements the per-function structural verifier of
// spec §4.6: an abstract interpreter that type-tracks the operand stack
// for every function body in a loaded module before the interpreter is
// ever allowed to run it. It is grounded directly in the teacher's own
// separation of compile-time checking from execution (std/compiler's
// frontend type-checks an AST before backend_vm.go ever runs it), now
// applied to bytecode instead of an AST.
package verify

import "simplevm.dev/sbc/ir"

// AbstrType is the verifier's abstract value domain: one token per
// TypeKind plus the heap categories (Array, List, Object, Closure,
// Null) and the Any escape hatch spec §4.6 reserves for values whose
// concrete type cannot be refined (e.g. the result of `ldfld` on a Ref
// field, or a local before its first store).
type AbstrType uint8

const (
	AAny AbstrType = iota
	AI8
	AI16
	AI32
	AI64
	AI128
	AU8
	AU16
	AU32
	AU64
	AU128
	AF32
	AF64
	ABool
	AChar
	AString
	ARef
	AArray
	AList
	AObject
	AClosure
	ANull
)

func (t AbstrType) String() string {
	names := map[AbstrType]string{
		AAny: "any", AI8: "i8", AI16: "i16", AI32: "i32", AI64: "i64", AI128: "i128",
		AU8: "u8", AU16: "u16", AU32: "u32", AU64: "u64", AU128: "u128",
		AF32: "f32", AF64: "f64", ABool: "bool", AChar: "char", AString: "string",
		ARef: "ref", AArray: "array", AList: "list", AObject: "object",
		AClosure: "closure", ANull: "null",
	}
	if s, ok := names[t]; ok {
		return s
	}
	return "?"
}

// FromKind converts a concrete ir.TypeKind into its abstract token.
func FromKind(k ir.TypeKind) AbstrType {
	switch k {
	case ir.KindI8:
		return AI8
	case ir.KindI16:
		return AI16
	case ir.KindI32:
		return AI32
	case ir.KindI64:
		return AI64
	case ir.KindI128:
		return AI128
	case ir.KindU8:
		return AU8
	case ir.KindU16:
		return AU16
	case ir.KindU32:
		return AU32
	case ir.KindU64:
		return AU64
	case ir.KindU128:
		return AU128
	case ir.KindF32:
		return AF32
	case ir.KindF64:
		return AF64
	case ir.KindBool:
		return ABool
	case ir.KindChar:
		return AChar
	case ir.KindString:
		return AString
	case ir.KindRef:
		return ARef
	default:
		return AAny
	}
}

// Promote implements spec §9's "the abstract state promotes I8/I16/U8/
// U16/Char/Bool to I32 at stack level": the small-integer family is
// indistinguishable from I32 once it sits on the verifier's stack, so
// `ldloc`/arithmetic results of these kinds are tracked as AI32.
func Promote(t AbstrType) AbstrType {
	switch t {
	case AI8, AI16, AU8, AU16, AChar, ABool:
		return AI32
	default:
		return t
	}
}

// isReference reports whether t is one of the kinds spec §4.6 groups
// under "a reference input": Ref/String/Array/List/Object/Closure/Null.
func isReference(t AbstrType) bool {
	switch t {
	case ARef, AString, AArray, AList, AObject, AClosure, ANull:
		return true
	default:
		return false
	}
}

// compatible reports whether a value of abstract type `have` may be
// used where `want` is declared, per spec §4.6's compatibility rules.
func compatible(have, want AbstrType) bool {
	if have == AAny || want == AAny {
		return true
	}
	have, want = Promote(have), Promote(want)
	if have == want {
		return true
	}
	if isReference(want) && isReference(have) {
		return true
	}
	return false
}

// merge computes the join of two abstract types for branch-target
// dataflow merging (spec §4.6: "record the state and merge it at the
// target; re-verify only if the merge changed any slot"). Equal types
// (after Promote) merge to themselves; two reference-family types merge
// to ARef; anything else merges to Any, the conservative join that can
// never reject a program the per-branch check already accepted.
func merge(a, b AbstrType) AbstrType {
	pa, pb := Promote(a), Promote(b)
	if pa == pb {
		return pa
	}
	if isReference(pa) && isReference(pb) {
		return ARef
	}
	return AAny
}
