package verify_test

import (
	"errors"
	"testing"

	"simplevm.dev/sbc/ir"
	"simplevm.dev/sbc/sbcfile"
	"simplevm.dev/sbc/verify"
)

func buildModule(t *testing.T, src string) *sbcfile.Module {
	t.Helper()
	tm, err := ir.ParseModule(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	mod, err := ir.Lower(tm)
	if err != nil {
		t.Fatalf("lower: %v", err)
	}
	return mod
}

func TestVerifyAcceptsWellFormedModule(t *testing.T) {
	mod := buildModule(t, `entry main
func main sig=s0
enter 0
const.i32 7
const.i32 5
add.i32
ret
end
sigs:
s0: i32
`)
	if err := verify.Module(mod); err != nil {
		t.Fatalf("verify: unexpected error %v", err)
	}
}

func TestVerifyRejectsStackUnderflow(t *testing.T) {
	mod := buildModule(t, `entry main
func main sig=s0
enter 0
const.i32 7
add.i32
ret
end
sigs:
s0: i32
`)
	err := verify.Module(mod)
	if err == nil {
		t.Fatalf("expected a stack underflow error")
	}
	var ve *verify.Error
	if !errors.As(err, &ve) {
		t.Fatalf("expected *verify.Error, got %T (%v)", err, err)
	}
	if ve.Category != verify.CategoryStackUnderflow {
		t.Fatalf("category = %v, want CategoryStackUnderflow", ve.Category)
	}
}

func TestVerifyRejectsReturnShapeMismatch(t *testing.T) {
	mod := buildModule(t, `entry main
func main sig=s0
enter 0
ret
end
sigs:
s0: i32
`)
	if err := verify.Module(mod); err == nil {
		t.Fatalf("expected an error for a missing return value")
	}
}

func TestVerifyRejectsUndeclaredIntrinsic(t *testing.T) {
	mod := buildModule(t, `entry main
func main sig=s0
enter 0
intrinsic 7
ret
end
sigs:
s0: void
`)
	err := verify.Module(mod)
	if err == nil {
		t.Fatalf("expected an error for an undeclared intrinsic id")
	}
	var ve *verify.Error
	if !errors.As(err, &ve) {
		t.Fatalf("expected *verify.Error, got %T (%v)", err, err)
	}
	if ve.Category != verify.CategoryUndeclaredImport {
		t.Fatalf("category = %v, want CategoryUndeclaredImport", ve.Category)
	}
}
