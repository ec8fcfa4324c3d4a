package vm

import "simplevm.dev/sbc/ir"

// HeapKind tags what category of object a Heap slot holds.
type HeapKind uint8

const (
	HeapString HeapKind = iota
	HeapArray
	HeapList
	HeapObject
	HeapClosure
)

// object is one heap-allocated value. Only the fields relevant to Kind
// are meaningful; the rest stay zero. A single concrete struct (rather
// than one Go type per category) keeps Heap a flat grow-only slice, the
// arena allocation spec §9 permits in place of a tracing collector —
// objects are never freed mid-execution, only dropped with the whole VM.
type object struct {
	kind HeapKind

	str string // HeapString

	elemKind ir.TypeKind // HeapArray/HeapList element kind
	elems    []Value     // HeapArray (fixed length) / HeapList (len(elems) is the live length)

	typeID uint32  // HeapObject: index into Module.Types
	fields []Value // HeapObject: indexed by (field_id - type.FieldStart)

	methodID uint32  // HeapClosure
	upvalues []Value // HeapClosure
}

// Heap owns every array/list/object/closure/string allocated during one
// execution. Its lifetime is exactly one VM.Execute call (spec §5:
// "Heap objects are owned by the running VM; their lifetime ends when
// the last frame returns").
type Heap struct {
	objects []*object
}

func newHeap() *Heap { return &Heap{} }

func (h *Heap) alloc(o *object) int32 {
	h.objects = append(h.objects, o)
	return int32(len(h.objects) - 1)
}

// Kind reports the category of the object at idx.
func (h *Heap) Kind(idx int32) HeapKind { return h.objects[idx].kind }

// NewString allocates a fresh heap string (const.string materializes the
// constant-pool text into a new heap slot rather than aliasing it, so
// ref.eq between two loads of the same string constant is false unless
// the caller dedupes — the spec leaves string interning unspecified).
func (h *Heap) NewString(s string) Value {
	return StringValue(h.alloc(&object{kind: HeapString, str: s}))
}

func (h *Heap) String(idx int32) string { return h.objects[idx].str }

// NewArray allocates a fixed-length array of elemKind, zero-initialized.
func (h *Heap) NewArray(elemKind ir.TypeKind, length uint32) Value {
	elems := make([]Value, length)
	zero := Zero(elemKind)
	for i := range elems {
		elems[i] = zero
	}
	return RefValue(h.alloc(&object{kind: HeapArray, elemKind: elemKind, elems: elems}))
}

func (h *Heap) ArrayLen(idx int32) int        { return len(h.objects[idx].elems) }
func (h *Heap) ArrayElemKind(idx int32) ir.TypeKind { return h.objects[idx].elemKind }

func (h *Heap) ArrayGet(idx int32, i int) (Value, bool) {
	o := h.objects[idx]
	if i < 0 || i >= len(o.elems) {
		return Value{}, false
	}
	return o.elems[i], true
}

func (h *Heap) ArraySet(idx int32, i int, v Value) bool {
	o := h.objects[idx]
	if i < 0 || i >= len(o.elems) {
		return false
	}
	o.elems[i] = v.WithKind(o.elemKind)
	return true
}

// NewList allocates a list of elemKind with the given initial capacity
// (capacity only pre-sizes the backing slice; length starts at 0).
func (h *Heap) NewList(elemKind ir.TypeKind, capacity uint32) Value {
	return RefValue(h.alloc(&object{kind: HeapList, elemKind: elemKind, elems: make([]Value, 0, capacity)}))
}

func (h *Heap) ListLen(idx int32) int        { return len(h.objects[idx].elems) }
func (h *Heap) ListElemKind(idx int32) ir.TypeKind { return h.objects[idx].elemKind }
func (h *Heap) ListClear(idx int32)          { h.objects[idx].elems = h.objects[idx].elems[:0] }

func (h *Heap) ListGet(idx int32, i int) (Value, bool) {
	o := h.objects[idx]
	if i < 0 || i >= len(o.elems) {
		return Value{}, false
	}
	return o.elems[i], true
}

func (h *Heap) ListSet(idx int32, i int, v Value) bool {
	o := h.objects[idx]
	if i < 0 || i >= len(o.elems) {
		return false
	}
	o.elems[i] = v.WithKind(o.elemKind)
	return true
}

func (h *Heap) ListPush(idx int32, v Value) {
	o := h.objects[idx]
	o.elems = append(o.elems, v.WithKind(o.elemKind))
}

func (h *Heap) ListPop(idx int32) (Value, bool) {
	o := h.objects[idx]
	n := len(o.elems)
	if n == 0 {
		return Value{}, false
	}
	v := o.elems[n-1]
	o.elems = o.elems[:n-1]
	return v, true
}

// ListInsert allows i == len (spec §4.7 step 6).
func (h *Heap) ListInsert(idx int32, i int, v Value) bool {
	o := h.objects[idx]
	if i < 0 || i > len(o.elems) {
		return false
	}
	o.elems = append(o.elems, Value{})
	copy(o.elems[i+1:], o.elems[i:])
	o.elems[i] = v.WithKind(o.elemKind)
	return true
}

func (h *Heap) ListRemove(idx int32, i int) (Value, bool) {
	o := h.objects[idx]
	if i < 0 || i >= len(o.elems) {
		return Value{}, false
	}
	v := o.elems[i]
	o.elems = append(o.elems[:i], o.elems[i+1:]...)
	return v, true
}

// NewObject allocates an artifact with fieldCount slots, zero-initialized
// per each field's declared kind.
func (h *Heap) NewObject(typeID uint32, fieldKinds []ir.TypeKind) Value {
	fields := make([]Value, len(fieldKinds))
	for i, k := range fieldKinds {
		fields[i] = Zero(k)
	}
	return RefValue(h.alloc(&object{kind: HeapObject, typeID: typeID, fields: fields}))
}

func (h *Heap) ObjectTypeID(idx int32) uint32 { return h.objects[idx].typeID }

func (h *Heap) FieldGet(idx int32, slot int) (Value, bool) {
	o := h.objects[idx]
	if slot < 0 || slot >= len(o.fields) {
		return Value{}, false
	}
	return o.fields[slot], true
}

func (h *Heap) FieldSet(idx int32, slot int, v Value, k ir.TypeKind) bool {
	o := h.objects[idx]
	if slot < 0 || slot >= len(o.fields) {
		return false
	}
	o.fields[slot] = v.WithKind(k)
	return true
}

// NewClosure packages methodID with a copy of upvalues (spec §4.7 step
// 8 / glossary "Closure").
func (h *Heap) NewClosure(methodID uint32, upvalues []Value) Value {
	cp := append([]Value(nil), upvalues...)
	return RefValue(h.alloc(&object{kind: HeapClosure, methodID: methodID, upvalues: cp}))
}

func (h *Heap) ClosureMethodID(idx int32) uint32   { return h.objects[idx].methodID }
func (h *Heap) ClosureUpvalue(idx int32, i int) (Value, bool) {
	o := h.objects[idx]
	if i < 0 || i >= len(o.upvalues) {
		return Value{}, false
	}
	return o.upvalues[i], true
}
func (h *Heap) ClosureSetUpvalue(idx int32, i int, v Value) bool {
	o := h.objects[idx]
	if i < 0 || i >= len(o.upvalues) {
		return false
	}
	o.upvalues[i] = v
	return true
}
