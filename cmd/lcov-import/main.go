package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath     string
	verbosity      string
	logDir         string
	maxConcurrency int
	demanglerPath  string

	// Root command
	rootCmd = &cobra.Command{
		Use:   "lcov-import",
		Short: "Aggregate LCOV coverage reports into per-line coverage",
		Long: `lcov-import reads LCOV tracefiles (and Go cover profiles), resolves the
reported source paths against the workspace roots and builds a per-line model
of statement, branch and function coverage. Mangled C++ function names are
demangled through a sandboxed wasm module when one is configured.

Report patterns, workspace roots and the demangler module are read from
.lcov-import.yaml or LCOV_IMPORT_* environment variables.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (defaults to ./.lcov-import.yaml)")
	rootCmd.PersistentFlags().StringVar(&verbosity, "verbosity", "", "Log verbosity (error, info, debug, trace); overrides logging.level")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Directory for log files; overrides logging.dir")
	rootCmd.PersistentFlags().IntVar(&maxConcurrency, "max-concurrency", 0, "Maximum reports read in parallel; overrides collect.max_concurrency")
	rootCmd.PersistentFlags().StringVar(&demanglerPath, "demangler", "", "Path to the demangling wasm module; overrides demangler.module")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
