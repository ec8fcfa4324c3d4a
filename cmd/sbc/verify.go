package main

import (
	"os"

	"github.com/spf13/cobra"

	"simplevm.dev/sbc/sbcfile"
	"simplevm.dev/sbc/verify"
)

func newVerifyCmd(verbose *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <module.sbc>",
		Short: "Load and structurally verify a binary SBC module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(*verbose)
			defer log.Sync()

			mod, err := loadModule(args[0])
			if err != nil {
				log.Errorw("load failed", "file", args[0], "error", err)
				return err
			}
			if err := verify.Module(mod); err != nil {
				log.Errorw("verify failed", "file", args[0], "module_id", mod.ModuleID, "error", err)
				return err
			}
			log.Infow("module verified", "file", args[0], "module_id", mod.ModuleID, "functions", len(mod.Functions))
			return nil
		},
	}
	return cmd
}

func loadModule(path string) (*sbcfile.Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return sbcfile.Load(data)
}
