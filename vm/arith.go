package vm

import (
	"math"

	"simplevm.dev/sbc/ir"
)

// arith implements the two-operand numeric family (add/sub/mul/div/mod),
// spec §4.7 step 2: "perform the computation using wrapping integer
// arithmetic and IEEE-754 floats". Division and modulo by zero trap
// rather than propagating Inf/NaN the way float division alone would,
// since the integer paths have no such value to return.
func (v *VM) arith(f *Frame, pos int, op ir.Opcode, k ir.TypeKind) error {
	b := v.pop()
	a := v.pop()

	if k.IsFloat() {
		af, bf := floatOf(a, k), floatOf(b, k)
		var r float64
		switch op {
		case ir.OpAdd:
			r = af + bf
		case ir.OpSub:
			r = af - bf
		case ir.OpMul:
			r = af * bf
		case ir.OpDiv:
			r = af / bf
		case ir.OpMod:
			r = math.Mod(af, bf)
		}
		v.push(floatValue(k, r))
		return nil
	}

	if k.IsUnsigned() {
		ua, ub := a.Uint(), b.Uint()
		var r uint64
		switch op {
		case ir.OpAdd:
			r = ua + ub
		case ir.OpSub:
			r = ua - ub
		case ir.OpMul:
			r = ua * ub
		case ir.OpDiv:
			if ub == 0 {
				return trapf(f.FuncIndex, pos, TrapDivideByZero, "division by zero")
			}
			r = ua / ub
		case ir.OpMod:
			if ub == 0 {
				return trapf(f.FuncIndex, pos, TrapDivideByZero, "modulo by zero")
			}
			r = ua % ub
		}
		v.push(UintValue(k, r))
		return nil
	}

	ia, ib := a.Int(), b.Int()
	var r int64
	switch op {
	case ir.OpAdd:
		r = ia + ib
	case ir.OpSub:
		r = ia - ib
	case ir.OpMul:
		r = ia * ib
	case ir.OpDiv:
		if ib == 0 {
			return trapf(f.FuncIndex, pos, TrapDivideByZero, "division by zero")
		}
		r = ia / ib
	case ir.OpMod:
		if ib == 0 {
			return trapf(f.FuncIndex, pos, TrapDivideByZero, "modulo by zero")
		}
		r = ia % ib
	}
	v.push(IntValue(k, r))
	return nil
}

// unary implements neg/inc/dec.
func (v *VM) unary(op ir.Opcode, k ir.TypeKind) error {
	a := v.pop()
	if k.IsFloat() {
		af := floatOf(a, k)
		switch op {
		case ir.OpNeg:
			af = -af
		case ir.OpInc:
			af = af + 1
		case ir.OpDec:
			af = af - 1
		}
		v.push(floatValue(k, af))
		return nil
	}
	if k.IsUnsigned() {
		ua := a.Uint()
		switch op {
		case ir.OpNeg:
			ua = -ua
		case ir.OpInc:
			ua = ua + 1
		case ir.OpDec:
			ua = ua - 1
		}
		v.push(UintValue(k, ua))
		return nil
	}
	ia := a.Int()
	switch op {
	case ir.OpNeg:
		ia = -ia
	case ir.OpInc:
		ia = ia + 1
	case ir.OpDec:
		ia = ia - 1
	}
	v.push(IntValue(k, ia))
	return nil
}

// bitwise implements and/or/xor/shl/shr. Shift amounts are masked to
// the operand width the way the teacher's VMConfig.ShiftMask does for
// its own word-width shifts; shr on a signed kind is arithmetic, on an
// unsigned kind logical.
func (v *VM) bitwise(op ir.Opcode, k ir.TypeKind) {
	b := v.pop()
	a := v.pop()
	shiftMask := uint64(k.Width()*8 - 1)

	var r uint64
	switch op {
	case ir.OpAnd:
		r = a.Uint() & b.Uint()
	case ir.OpOr:
		r = a.Uint() | b.Uint()
	case ir.OpXor:
		r = a.Uint() ^ b.Uint()
	case ir.OpShl:
		r = a.Uint() << (b.Uint() & shiftMask)
	case ir.OpShr:
		if k.IsUnsigned() {
			r = a.Uint() >> (b.Uint() & shiftMask)
		} else {
			r = uint64(a.Int() >> (b.Uint() & shiftMask))
		}
	}
	v.push(Value{Kind: k, Raw: mask(k, r)})
}

// compare implements the cmp.* family; unsigned comparisons compare
// Uint(), signed compare Int(), float compare Float32()/Float64() so
// `nan == nan` is false and `inf == inf` is true per spec §8 property 4.
func (v *VM) compare(op ir.Opcode, k ir.TypeKind) {
	b := v.pop()
	a := v.pop()
	var r bool
	switch {
	case k.IsFloat():
		af, bf := floatOf(a, k), floatOf(b, k)
		r = floatCompare(op, af, bf)
	case k.IsUnsigned():
		r = uintCompare(op, a.Uint(), b.Uint())
	default:
		r = intCompare(op, a.Int(), b.Int())
	}
	v.push(BoolValue(r))
}

func floatCompare(op ir.Opcode, a, b float64) bool {
	switch op {
	case ir.OpCmpEq:
		return a == b
	case ir.OpCmpNe:
		return a != b
	case ir.OpCmpLt:
		return a < b
	case ir.OpCmpLe:
		return a <= b
	case ir.OpCmpGt:
		return a > b
	default:
		return a >= b
	}
}

func uintCompare(op ir.Opcode, a, b uint64) bool {
	switch op {
	case ir.OpCmpEq:
		return a == b
	case ir.OpCmpNe:
		return a != b
	case ir.OpCmpLt:
		return a < b
	case ir.OpCmpLe:
		return a <= b
	case ir.OpCmpGt:
		return a > b
	default:
		return a >= b
	}
}

func intCompare(op ir.Opcode, a, b int64) bool {
	switch op {
	case ir.OpCmpEq:
		return a == b
	case ir.OpCmpNe:
		return a != b
	case ir.OpCmpLt:
		return a < b
	case ir.OpCmpLe:
		return a <= b
	case ir.OpCmpGt:
		return a > b
	default:
		return a >= b
	}
}

func floatOf(v Value, k ir.TypeKind) float64 {
	if k == ir.KindF32 {
		return float64(v.Float32())
	}
	return v.Float64()
}

func floatValue(k ir.TypeKind, f float64) Value {
	if k == ir.KindF32 {
		return F32Value(float32(f))
	}
	return F64Value(f)
}

// convert implements conv.<from>.<to>, truncating towards zero when
// narrowing a float to an integer kind.
func convert(val Value, from, to ir.TypeKind) Value {
	if to.IsFloat() {
		var f float64
		switch {
		case from.IsFloat():
			f = floatOf(val, from)
		case from.IsUnsigned():
			f = float64(val.Uint())
		default:
			f = float64(val.Int())
		}
		return floatValue(to, f)
	}
	if from.IsFloat() {
		f := floatOf(val, from)
		if to.IsUnsigned() {
			return UintValue(to, uint64(int64(f)))
		}
		return IntValue(to, int64(f))
	}
	if from.IsUnsigned() {
		return UintValue(to, val.Uint())
	}
	return IntValue(to, val.Int())
}
