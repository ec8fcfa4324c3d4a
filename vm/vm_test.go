package vm_test

import (
	"testing"

	"simplevm.dev/sbc/ir"
	"simplevm.dev/sbc/sbcfile"
	"simplevm.dev/sbc/verify"
	"simplevm.dev/sbc/vm"
)

// build parses, lowers, and round-trips one textual IR program through
// the binary encoder/loader, the way cmd/sbc's `build` and `run`
// subcommands chain the pipeline stages together. It does not verify;
// each test calls verify.Module itself.
func build(t *testing.T, src string) *sbcfile.Module {
	t.Helper()
	tm, err := ir.ParseModule(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	mod, err := ir.Lower(tm)
	if err != nil {
		t.Fatalf("lower: %v", err)
	}
	data, err := sbcfile.Encode(mod)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	loaded, err := sbcfile.Load(data)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return loaded
}

// S1 (spec §8): straight-line arithmetic, 7 + 5 == 12.
func TestAddModule(t *testing.T) {
	src := `entry main
func main sig=s0
enter 0
const.i32 7
const.i32 5
add.i32
ret
end
sigs:
s0: i32
`
	mod := build(t, src)
	if err := verify.Module(mod); err != nil {
		t.Fatalf("verify: %v", err)
	}
	res := vm.Execute(mod, nil, vm.ExecOptions{})
	if res.Status != vm.StatusReturned {
		t.Fatalf("status = %v, err = %v", res.Status, res.Err)
	}
	if res.ExitCode != 12 {
		t.Fatalf("exit code = %d, want 12", res.ExitCode)
	}
}

// S2 (spec §8): a counting loop that increments a local from 0 to 3.
func TestLoopModule(t *testing.T) {
	src := `entry main
func main sig=s0
enter 1
locals: n
const.i32 0
stloc n
loop:
ldloc n
const.i32 3
cmp.lt.i32
jmp.false done
ldloc n
const.i32 1
add.i32
stloc n
jmp loop
done:
ldloc n
ret
end
sigs:
s0: i32
`
	mod := build(t, src)
	if err := verify.Module(mod); err != nil {
		t.Fatalf("verify: %v", err)
	}
	res := vm.Execute(mod, nil, vm.ExecOptions{})
	if res.Status != vm.StatusReturned {
		t.Fatalf("status = %v, err = %v", res.Status, res.Err)
	}
	if res.ExitCode != 3 {
		t.Fatalf("exit code = %d, want 3", res.ExitCode)
	}
}

// S3 (spec §8): fib(10) == 55 via the iterative pattern grounded in
// original_source's BuildFibIterModule sample.
func TestFibIterModule(t *testing.T) {
	src := `entry entry
func entry sig=s0
enter 0
const.i32 10
call fib, 1
ret
end
func fib sig=s1 locals=5
locals: n, a, b, i, tmp
const.i32 0
stloc a
const.i32 1
stloc b
const.i32 0
stloc i
loop:
ldloc i
ldloc n
cmp.lt.i32
jmp.false done
ldloc a
ldloc b
add.i32
stloc tmp
ldloc b
stloc a
ldloc tmp
stloc b
ldloc i
const.i32 1
add.i32
stloc i
jmp loop
done:
ldloc a
ret
end
sigs:
s0: i32
s1: i32 i32
`
	mod := build(t, src)
	if err := verify.Module(mod); err != nil {
		t.Fatalf("verify: %v", err)
	}
	res := vm.Execute(mod, nil, vm.ExecOptions{})
	if res.Status != vm.StatusReturned {
		t.Fatalf("status = %v, err = %v", res.Status, res.Err)
	}
	if res.ExitCode != 55 {
		t.Fatalf("exit code = %d, want 55", res.ExitCode)
	}
}

// jmptable must dispatch each case against its own fixup slot, not the
// offset past the whole instruction (only the default case shares that
// offset). Selecting the middle of three cases is the sharpest check:
// a base computed from the wrong end of the instruction lands inside a
// neighboring case's code rather than at its start.
func TestJmpTableModule(t *testing.T) {
	src := `entry main
func main sig=s0
enter 1
locals: n
const.i32 1
stloc n
ldloc n
jmptable case0, case1, case2, def
case0:
const.i32 100
ret
case1:
const.i32 200
ret
case2:
const.i32 300
ret
def:
const.i32 999
ret
end
sigs:
s0: i32
`
	mod := build(t, src)
	if err := verify.Module(mod); err != nil {
		t.Fatalf("verify: %v", err)
	}
	res := vm.Execute(mod, nil, vm.ExecOptions{})
	if res.Status != vm.StatusReturned {
		t.Fatalf("status = %v, err = %v", res.Status, res.Err)
	}
	if res.ExitCode != 200 {
		t.Fatalf("exit code = %d, want 200 (case1)", res.ExitCode)
	}
}

// S4 (spec §8): string length of a 36-character UUID-shaped literal.
func TestStringLenModule(t *testing.T) {
	src := `entry main
func main sig=s0
enter 0
const.string u
string.len
ret
end
sigs:
s0: i32
consts:
u: string "123e4567-e89b-12d3-a456-426614174000"
`
	mod := build(t, src)
	if err := verify.Module(mod); err != nil {
		t.Fatalf("verify: %v", err)
	}
	res := vm.Execute(mod, nil, vm.ExecOptions{})
	if res.Status != vm.StatusReturned {
		t.Fatalf("status = %v, err = %v", res.Status, res.Err)
	}
	if res.ExitCode != 36 {
		t.Fatalf("exit code = %d, want 36", res.ExitCode)
	}
}

// S5 (spec §8): object field store/load round-trip on a struct type.
func TestObjectFieldModule(t *testing.T) {
	src := `entry main
func main sig=s0
enter 0
newobj Color
dup
const.i32 255
stfld Color.r
ldfld Color.r
ret
end
sigs:
s0: i32
types:
Color: r:i32, g:i32, b:i32, a:i32
`
	mod := build(t, src)
	if err := verify.Module(mod); err != nil {
		t.Fatalf("verify: %v", err)
	}
	res := vm.Execute(mod, nil, vm.ExecOptions{})
	if res.Status != vm.StatusReturned {
		t.Fatalf("status = %v, err = %v", res.Status, res.Err)
	}
	if res.ExitCode != 255 {
		t.Fatalf("exit code = %d, want 255", res.ExitCode)
	}
}

// S6 (spec §8): a module with a jump to a target outside the function's
// own instruction boundaries must be rejected by the verifier and must
// never reach the interpreter.
func TestVerifyRejectsBadBranch(t *testing.T) {
	tm, err := ir.ParseModule(`entry main
func main sig=s0
enter 0
const.i32 1
jmp.false skip
const.i32 2
ret
skip:
const.i32 3
ret
end
sigs:
s0: i32
`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	mod, err := ir.Lower(tm)
	if err != nil {
		t.Fatalf("lower: %v", err)
	}
	data, err := sbcfile.Encode(mod)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	loaded, err := sbcfile.Load(data)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	// Corrupt the single jmp.false instruction's relative offset so it
	// lands outside the function's code bounds entirely.
	fn := loaded.Functions[0]
	code := loaded.Code[fn.CodeOffset : fn.CodeOffset+fn.CodeSize]
	patched := false
	for i := 0; i < len(code); {
		in, err := ir.Decode(code, i)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if in.Op == ir.OpJmpFalse {
			code[i+1] = 0x7F
			code[i+2] = 0x7F
			code[i+3] = 0x7F
			code[i+4] = 0x7F
			patched = true
			break
		}
		i += in.Len
	}
	if !patched {
		t.Fatalf("test setup: no jmp.false instruction found to corrupt")
	}

	if err := verify.Module(loaded); err == nil {
		t.Fatalf("verify: expected error for out-of-range branch target, got nil")
	}
}
