package ir_test

import (
	"testing"

	"simplevm.dev/sbc/ir"
)

func TestParseModuleRequiresEntry(t *testing.T) {
	_, err := ir.ParseModule(`func main sig=0
enter 0
ret
end
`)
	if err == nil {
		t.Fatalf("expected error for module with no entry declaration")
	}
}

func TestParseAndLowerAddModule(t *testing.T) {
	tm, err := ir.ParseModule(`entry main
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
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if tm.EntryName != "main" {
		t.Fatalf("entry name = %q, want main", tm.EntryName)
	}
	if len(tm.Functions) != 1 || len(tm.Functions[0].Insts) != 5 {
		t.Fatalf("unexpected function shape: %+v", tm.Functions)
	}

	mod, err := ir.Lower(tm)
	if err != nil {
		t.Fatalf("lower: %v", err)
	}
	if len(mod.Functions) != 1 {
		t.Fatalf("expected one lowered function, got %d", len(mod.Functions))
	}
	if mod.EntryMethodID != 0 {
		t.Fatalf("entry func id = %d, want 0", mod.EntryMethodID)
	}
	fn := mod.Functions[0]
	if fn.CodeSize == 0 {
		t.Fatalf("expected non-empty code for main")
	}
}

func TestLowerRejectsUnknownLabel(t *testing.T) {
	tm, err := ir.ParseModule(`entry main
func main sig=s0
enter 0
jmp nowhere
ret
end
sigs:
s0: i32
`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := ir.Lower(tm); err == nil {
		t.Fatalf("expected lower error for unresolved label")
	}
}

func TestLowerRejectsDuplicateFunctionName(t *testing.T) {
	tm, err := ir.ParseModule(`entry a
func a sig=s0
enter 0
ret
end
func a sig=s0
enter 0
ret
end
sigs:
s0: void
`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := ir.Lower(tm); err == nil {
		t.Fatalf("expected lower error for duplicate function name")
	}
}

func TestDecodeRoundTripsConstI32(t *testing.T) {
	b := ir.NewBuilder()
	b.EmitEnter(0)
	b.EmitConst(ir.KindI32, 42)
	b.EmitSimple(ir.OpRet)
	code, err := b.Finish()
	if err != nil {
		t.Fatalf("finish: %v", err)
	}

	bounds, err := ir.InstBoundaries(code)
	if err != nil {
		t.Fatalf("boundaries: %v", err)
	}

	pos := 0
	in, err := ir.Decode(code, pos)
	if err != nil {
		t.Fatalf("decode enter: %v", err)
	}
	if in.Op != ir.OpEnter || in.U16 != 0 {
		t.Fatalf("unexpected enter decode: %+v", in)
	}
	pos += in.Len
	if !bounds[pos] {
		t.Fatalf("const.i32 offset %d not a boundary", pos)
	}

	in, err = ir.Decode(code, pos)
	if err != nil {
		t.Fatalf("decode const: %v", err)
	}
	if in.Op != ir.OpConstInt || in.Kind != ir.KindI32 || in.I64 != 42 {
		t.Fatalf("unexpected const decode: %+v", in)
	}
}
