// Package vm implements the typed-operand-stack interpreter of spec §4.7:
// it executes a verified sbcfile.Module on a call-frame stack with heap-
// allocated strings, arrays, lists, objects, and closures. Grounded in
// the teacher's own backend_vm.go (std/compiler/backend_vm.go), which
// interprets its own IR on a flat uint64 operand stack with a parallel
// frame-stack region and a slab allocator — this package keeps that
// overall shape (VM struct, step counting, host fd-table style resource
// tables) but replaces the untyped uint64 stack with a typed Value union
// and the slab allocator with a simple grow-only heap, since spec §9
// permits "arena allocation with explicit drop at VM shutdown" in place
// of a tracing collector.
package vm

import (
	"math"

	"simplevm.dev/sbc/ir"
)

// Value is one operand-stack/local/global/upvalue slot. Scalar kinds
// (every ir.TypeKind except String and Ref) carry their bit pattern in
// Raw, narrowed and sign-extended on demand by Int/Uint/Float32/Float64.
// Strings carry Kind == ir.KindString and every other heap-allocated
// category (array, list, object, closure) carries Kind == ir.KindRef;
// both address an entry in the owning VM's Heap via Ref. A KindRef value
// with Ref == -1 is the null reference pushed by `const.null`. This mirrors spec §4.6/§9's abstract-type story, where
// Array/List/Object/Closure are not distinct TypeKinds but a runtime
// Ref specialized by the heap object it points to.
type Value struct {
	Kind ir.TypeKind
	Raw  uint64
	Ref  int32
}

const nullRef int32 = -1

// Null is the value pushed by `const.null` and the zero-initialized
// value of any reference-kind local/global/field (spec §4.7 step 3:
// "locals initialised to the zero of their declared type, or Null for
// references").
func Null() Value { return Value{Kind: ir.KindRef, Ref: nullRef} }

// IsNull reports whether v is the null reference. Scalars are never
// null (spec §8 property 7: "isnull(newobj T) is false").
func (v Value) IsNull() bool { return v.Kind == ir.KindRef && v.Ref == nullRef }

// RefValue wraps a heap index as a KindRef Value. It records no heap
// category; the vm package checks the pointee's category via
// Heap.Kind(idx) where it matters.
func RefValue(idx int32) Value { return Value{Kind: ir.KindRef, Ref: idx} }

// StringValue wraps a heap string index.
func StringValue(idx int32) Value { return Value{Kind: ir.KindString, Ref: idx} }

func boolRaw(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// BoolValue, CharValue build scalar Values for the Bool/Char kinds.
func BoolValue(b bool) Value         { return Value{Kind: ir.KindBool, Raw: boolRaw(b)} }
func CharValue(c uint16) Value       { return Value{Kind: ir.KindChar, Raw: uint64(c)} }
func F32Value(f float32) Value       { return Value{Kind: ir.KindF32, Raw: uint64(math.Float32bits(f))} }
func F64Value(f float64) Value       { return Value{Kind: ir.KindF64, Raw: math.Float64bits(f)} }

// IntValue builds a signed-kind Value from a host int64, truncated to
// the kind's width (the caller, the verifier-checked bytecode stream,
// is responsible for only using this with a signed TypeKind).
func IntValue(k ir.TypeKind, v int64) Value {
	return Value{Kind: k, Raw: mask(k, uint64(v))}
}

// UintValue builds an unsigned-kind Value, truncated to the kind's
// width.
func UintValue(k ir.TypeKind, v uint64) Value {
	return Value{Kind: k, Raw: mask(k, v)}
}

// Zero returns the zero value of kind k: 0 for every numeric kind,
// false for Bool, the NUL rune for Char, and Null for String/Ref (spec
// §4.7 step 3).
func Zero(k ir.TypeKind) Value {
	switch k {
	case ir.KindString, ir.KindRef:
		return Null()
	case ir.KindF32:
		return F32Value(0)
	case ir.KindF64:
		return F64Value(0)
	default:
		return Value{Kind: k, Raw: 0}
	}
}

func mask(k ir.TypeKind, v uint64) uint64 {
	w := k.Width()
	if w <= 0 || w >= 8 {
		return v
	}
	bits := uint(w * 8)
	return v & ((uint64(1) << bits) - 1)
}

// Int returns v's payload sign-extended to int64 per its declared kind's
// signedness (used by arithmetic, comparisons, and array/list/field
// narrowing on store).
func (v Value) Int() int64 {
	if v.Kind.IsUnsigned() {
		return int64(v.Raw)
	}
	w := v.Kind.Width()
	switch w {
	case 1:
		return int64(int8(v.Raw))
	case 2:
		return int64(int16(v.Raw))
	case 4:
		return int64(int32(v.Raw))
	default:
		return int64(v.Raw)
	}
}

// Uint returns v's payload masked to its declared width, for unsigned
// arithmetic/comparison (spec §8 property 4: "unsigned comparisons are
// unsigned").
func (v Value) Uint() uint64 { return mask(v.Kind, v.Raw) }

// Float32 / Float64 reinterpret the payload as IEEE-754 bits.
func (v Value) Float32() float32 { return math.Float32frombits(uint32(v.Raw)) }
func (v Value) Float64() float64 { return math.Float64frombits(v.Raw) }

// Bool reports the stored boolean payload.
func (v Value) Bool() bool { return v.Raw != 0 }

// WithKind returns a copy of v narrowed (or reinterpreted) to kind k,
// used when storing into a field/array/local of a declared kind that
// differs in width from the value that produced it on the stack (spec
// §9: "the concrete interpreter keeps the narrower tag and performs
// narrowing on store-field/array-set operations").
func (v Value) WithKind(k ir.TypeKind) Value {
	switch k {
	case ir.KindF32, ir.KindF64, ir.KindString, ir.KindRef:
		return Value{Kind: k, Raw: v.Raw, Ref: v.Ref}
	default:
		return Value{Kind: k, Raw: mask(k, v.Raw)}
	}
}
