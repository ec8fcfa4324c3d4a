package main

import (
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"simplevm.dev/sbc/verify"
	"simplevm.dev/sbc/vm"
)

// envInt64 reads an integer environment variable, falling back to def
// when unset or unparseable, the way the teacher's VM reads
// RTG_VM_STEPS/RTG_VM_MEM toggles.
func envInt64(name string, def int64) int64 {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envBool(name string, def bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func newRunCmd(verbose *bool) *cobra.Command {
	var steps int64
	var trace bool
	var skipVerify bool

	cmd := &cobra.Command{
		Use:   "run <module.sbc>",
		Short: "Verify and execute a binary SBC module on the interpreter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(*verbose)
			defer log.Sync()

			mod, err := loadModule(args[0])
			if err != nil {
				log.Errorw("load failed", "file", args[0], "error", err)
				return err
			}

			if !skipVerify {
				if err := verify.Module(mod); err != nil {
					log.Errorw("verify failed", "file", args[0], "error", err)
					return err
				}
			}

			res := vm.Execute(mod, nil, vm.ExecOptions{
				StepLimit: steps,
				Trace:     trace,
			})
			log.Infow("execution finished",
				"file", args[0],
				"module_id", mod.ModuleID,
				"status", res.Status,
				"steps", res.Steps,
				"exit_code", res.ExitCode,
			)
			if res.Status == vm.StatusTrapped {
				log.Errorw("trapped", "error", res.Err)
				return res.Err
			}
			log.Sync()
			os.Exit(int(res.ExitCode))
			return nil
		},
	}
	cmd.Flags().Int64Var(&steps, "steps", envInt64("SBC_VM_STEPS", 0), "interpreter step limit (0 = unlimited); overrides SBC_VM_STEPS")
	cmd.Flags().BoolVar(&trace, "trace", envBool("SBC_VM_TRACE", false), "record a per-instruction execution trace; overrides SBC_VM_TRACE")
	cmd.Flags().BoolVar(&skipVerify, "skip-verify", false, "run without verifying the module first")
	return cmd
}
