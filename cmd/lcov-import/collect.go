package main

import (
	"context"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jupierce/lcov-import/pkg/collector"
	"github.com/jupierce/lcov-import/pkg/coverage"
)

var (
	summaryPath string

	collectCmd = &cobra.Command{
		Use:   "collect [report...]",
		Short: "Collect coverage and print per-file counts",
		Long: `Read the given reports, or every report matching lcov_files under the
first workspace root, and print line, branch and function coverage per file.

Reports that cannot be read or parsed are reported as warnings and skipped.`,
		Example: `  # Collect configured reports
  lcov-import collect

  # Collect explicit reports and save a run summary
  lcov-import collect build/lcov.info coverage.out --summary ./summaries`,
		RunE: runCollect,
	}
)

func init() {
	collectCmd.Flags().StringVar(&summaryPath, "summary", "", "Write the run summary JSON to this file or directory")
	rootCmd.AddCommand(collectCmd)
}

func runCollect(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	paths, err := a.reports(args)
	if err != nil {
		return err
	}

	result, err := a.collect(cmdContext(cmd), "collect", paths)
	if err != nil {
		return fmt.Errorf("collect coverage: %w", err)
	}

	writeFileTable(cmd.OutOrStdout(), result)

	if summaryPath != "" {
		path, err := result.Summary.Save(summaryPath)
		if err != nil {
			return err
		}
		a.logger.Success("Summary written to %s", path)
	}

	return nil
}

func countCell(c coverage.Counts) string {
	if c.Instrumented == 0 {
		return "-"
	}
	return fmt.Sprintf("%s/%s (%.1f%%)", humanize.Comma(int64(c.Hit)), humanize.Comma(int64(c.Instrumented)), c.Percent())
}

// writeFileTable prints one row per file and a totals footer
func writeFileTable(w io.Writer, result *collector.Result) {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.DrawBorder = false
	tbl.Style().Options.SeparateColumns = false

	tbl.AppendHeader(table.Row{"File", "Lines", "Branches", "Functions", "Report"})

	var lines, branches, functions coverage.Counts
	for _, f := range result.Files {
		tbl.AppendRow(table.Row{
			f.Path.Display(),
			countCell(f.Lines),
			countCell(f.Branches),
			countCell(f.Declarations),
			f.Report,
		})
		lines = addCounts(lines, f.Lines)
		branches = addCounts(branches, f.Branches)
		functions = addCounts(functions, f.Declarations)
	}

	tbl.AppendFooter(table.Row{
		fmt.Sprintf("Total: %s files", humanize.Comma(int64(len(result.Files)))),
		countCell(lines),
		countCell(branches),
		countCell(functions),
		fmt.Sprintf("%d/%d reports", result.Summary.SuccessfulReports, result.Summary.TotalReports),
	})

	tbl.Render()
}

func addCounts(a, b coverage.Counts) coverage.Counts {
	return coverage.Counts{Hit: a.Hit + b.Hit, Instrumented: a.Instrumented + b.Instrumented}
}

// cmdContext returns the command context, or Background when run outside cobra
func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
