// Command sbc is the driver for the SBC toolchain: it assembles textual
// IR into the binary module format, verifies a module's structural
// invariants, and runs a module on the interpreter. It replaces the
// teacher's hand-rolled os.Args loop with a cobra command tree and logs
// through a single zap.SugaredLogger built here and threaded down to
// each subcommand, the way the teacher's own main.go owns process-level
// concerns (flag parsing, exit codes) while the compiler packages stay
// unaware of them.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newLogger(verbose bool) *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.DisableStacktrace = true
	logger, err := cfg.Build()
	if err != nil {
		// The logger itself failed to construct; fall back to a bare
		// Nop logger rather than crash a CLI over diagnostics tooling.
		logger = zap.NewNop()
	}
	return logger.Sugar()
}

func main() {
	var verbose bool

	root := &cobra.Command{
		Use:   "sbc",
		Short: "Assemble, verify, and run SBC modules",
		Long:  "sbc is the command-line driver for the Simple Byte Code toolchain: a textual IR assembler, a structural verifier, and a typed-value interpreter.",
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable development-mode (human-readable) logging")

	root.AddCommand(
		newBuildCmd(&verbose),
		newVerifyCmd(&verbose),
		newRunCmd(&verbose),
		newDisasmCmd(&verbose),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
