package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jupierce/lcov-import/pkg/coverage"
	"github.com/jupierce/lcov-import/pkg/demangle"
)

var demangleCmd = &cobra.Command{
	Use:   "demangle <symbol>...",
	Short: "Demangle C++ symbol names",
	Long: `Run symbol names through the configured demangling module, one result
per line. Names that are not mangled, or that the module does not recognise,
are printed unchanged. When the module cannot be loaded every name is printed
unchanged and a warning is logged.`,
	Example: `  lcov-import demangle --demangler ./demangle.wasm _ZN3foo3barEv`,
	Args:    cobra.MinimumNArgs(1),
	RunE:    runDemangle,
}

func init() {
	rootCmd.AddCommand(demangleCmd)
}

func runDemangle(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmdContext(cmd)
	out := cmd.OutOrStdout()
	for _, name := range args {
		if !coverage.IsMangled(name) {
			fmt.Fprintln(out, name)
			continue
		}
		demangled, err := a.bridge.Demangle(ctx, name)
		if err != nil && !errors.Is(err, demangle.ErrUnavailable) {
			a.logger.Warning("Demangle %s: %v", name, err)
		}
		fmt.Fprintln(out, demangled)
	}
	return nil
}
