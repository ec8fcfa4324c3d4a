package main

import (
	"fmt"
	"math"

	"github.com/spf13/cobra"

	"simplevm.dev/sbc/ir"
	"simplevm.dev/sbc/sbcfile"
)

func newDisasmCmd(verbose *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "disasm <module.sbc>",
		Short: "Disassemble every function in a binary SBC module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(*verbose)
			defer log.Sync()

			mod, err := loadModule(args[0])
			if err != nil {
				log.Errorw("load failed", "file", args[0], "error", err)
				return err
			}
			for idx, fn := range mod.Functions {
				name := mod.NameAt(mod.Methods[fn.MethodID].NameStr)
				fmt.Printf("func %d %s (locals=%d stack_max=%d)\n", idx, name, mod.Methods[fn.MethodID].LocalCount, fn.StackMax)
				if err := disasmFunc(mod, fn); err != nil {
					return err
				}
			}
			return nil
		},
	}
	return cmd
}

func disasmFunc(mod *sbcfile.Module, fn sbcfile.FunctionRow) error {
	code := mod.Code[fn.CodeOffset : fn.CodeOffset+fn.CodeSize]
	pos := 0
	for pos < len(code) {
		in, err := ir.Decode(code, pos)
		if err != nil {
			return err
		}
		fmt.Printf("  %4d: %s\n", pos, describe(in))
		pos += in.Len
	}
	return nil
}

// describe renders one decoded instruction as a disassembly line,
// appending whichever operand the opcode actually carries.
func describe(in ir.Instr) string {
	name := ir.OpcodeName(in.Op)
	switch in.Op {
	case ir.OpConstInt, ir.OpConstBool, ir.OpConstChar:
		return fmt.Sprintf("%s.%s %d", name, in.Kind, in.I64)
	case ir.OpConstF64:
		return fmt.Sprintf("%s %g", name, math.Float64frombits(uint64(in.I64)))
	case ir.OpConstF32:
		return fmt.Sprintf("%s %g", name, math.Float32frombits(in.U32))
	case ir.OpConstString:
		return fmt.Sprintf("%s %d", name, in.U32)
	case ir.OpEnter:
		return fmt.Sprintf("%s %d", name, in.U16)
	case ir.OpLdLoc, ir.OpStLoc, ir.OpLdGlob, ir.OpStGlob, ir.OpLdUpv, ir.OpStUpv,
		ir.OpNewObject, ir.OpLdFld, ir.OpStFld, ir.OpIntrinsic, ir.OpSyscall:
		return fmt.Sprintf("%s %d", name, in.U32)
	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpMod, ir.OpNeg, ir.OpInc, ir.OpDec,
		ir.OpAnd, ir.OpOr, ir.OpXor, ir.OpShl, ir.OpShr,
		ir.OpCmpEq, ir.OpCmpNe, ir.OpCmpLt, ir.OpCmpLe, ir.OpCmpGt, ir.OpCmpGe,
		ir.OpArrayGet, ir.OpArraySet, ir.OpListGet, ir.OpListSet, ir.OpListPush, ir.OpListPop,
		ir.OpListInsert, ir.OpListRemove:
		return fmt.Sprintf("%s.%s", name, in.Kind)
	case ir.OpConvert:
		return fmt.Sprintf("%s.%s.%s", name, in.Kind, in.KindTo)
	case ir.OpJmp, ir.OpJmpTrue, ir.OpJmpFalse:
		return fmt.Sprintf("%s %+d", name, in.Rel)
	case ir.OpJmpTable:
		return fmt.Sprintf("%s (%d case(s), default %+d)", name, len(in.Cases), in.Default)
	case ir.OpCall, ir.OpTailCall:
		return fmt.Sprintf("%s func_id=%d argc=%d", name, in.U32, in.U8)
	case ir.OpCallIndirect:
		return fmt.Sprintf("%s sig_id=%d argc=%d", name, in.U32, in.U8)
	case ir.OpNewClosure:
		return fmt.Sprintf("%s method_id=%d upvalues=%d", name, in.U32, in.U8)
	case ir.OpNewArray, ir.OpNewList:
		return fmt.Sprintf("%s type_id=%d len=%d", name, in.U32, in.U32b)
	default:
		return name
	}
}
