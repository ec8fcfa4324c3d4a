package main

import (
	"os"

	"github.com/spf13/cobra"

	"simplevm.dev/sbc/ir"
	"simplevm.dev/sbc/sbcfile"
)

func newBuildCmd(verbose *bool) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "build <source.sbcir> -o <out.sbc>",
		Short: "Assemble a textual IR program into a binary SBC module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(*verbose)
			defer log.Sync()

			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			tm, err := ir.ParseModule(string(src))
			if err != nil {
				log.Errorw("parse failed", "file", args[0], "error", err)
				return err
			}
			mod, err := ir.Lower(tm)
			if err != nil {
				log.Errorw("lower failed", "file", args[0], "error", err)
				return err
			}
			data, err := sbcfile.Encode(mod)
			if err != nil {
				log.Errorw("encode failed", "file", args[0], "error", err)
				return err
			}
			if out == "" {
				out = args[0] + ".sbc"
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return err
			}
			log.Infow("built module", "input", args[0], "output", out, "bytes", len(data))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output path (default: <input>.sbc)")
	return cmd
}
