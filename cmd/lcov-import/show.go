package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jupierce/lcov-import/pkg/collector"
	"github.com/jupierce/lcov-import/pkg/coverage"
)

var (
	showJSON bool

	showCmd = &cobra.Command{
		Use:   "show <report> [file...]",
		Short: "Show per-line coverage of files in a report",
		Long: `Print the statement, branch and declaration detail of every file in a
report. File arguments filter by substring of the displayed path.

Lines are shown 1-based, in the order the report lists them. Mangled function
names are demangled when a demangler module is configured.`,
		Example: `  # All files of a report
  lcov-import show build/lcov.info

  # One file, as JSON
  lcov-import show build/lcov.info src/parser.cc --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: runShow,
	}
)

func init() {
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Print the detail model as JSON")
	rootCmd.AddCommand(showCmd)
}

// fileDetail is the JSON shape of one shown file
type fileDetail struct {
	Path         string                `json:"path"`
	Report       string                `json:"report"`
	Lines        coverage.Counts       `json:"lines"`
	Branches     coverage.Counts       `json:"branches"`
	Declarations coverage.Counts       `json:"declarations"`
	Detail       coverage.DetailModel  `json:"detail"`
	Resolved     coverage.ResolvedPath `json:"resolved"`
}

func runShow(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmdContext(cmd)
	result, err := a.collect(ctx, "show", args[:1])
	if err != nil {
		return fmt.Errorf("collect coverage: %w", err)
	}
	if result.Summary.FailedReports > 0 {
		return fmt.Errorf("%s", result.Summary.Results[0].Error)
	}

	files := filterFiles(result.Files, args[1:])
	if len(files) == 0 {
		return fmt.Errorf("no files in %s match %v", args[0], args[1:])
	}

	out := cmd.OutOrStdout()
	if showJSON {
		var details []fileDetail
		for _, f := range files {
			details = append(details, fileDetail{
				Path:         f.Path.Display(),
				Report:       f.Report,
				Lines:        f.Lines,
				Branches:     f.Branches,
				Declarations: f.Declarations,
				Detail:       f.Detail(ctx, a.bridge),
				Resolved:     f.Path,
			})
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(details)
	}

	for _, f := range files {
		writeDetail(out, f, f.Detail(ctx, a.bridge))
	}
	return nil
}

// filterFiles keeps files whose displayed path contains any of filters
func filterFiles(files []collector.FileCoverage, filters []string) []*collector.FileCoverage {
	var out []*collector.FileCoverage
	for i := range files {
		f := &files[i]
		if len(filters) == 0 {
			out = append(out, f)
			continue
		}
		for _, filter := range filters {
			if strings.Contains(f.Path.Display(), filter) {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

func branchCell(branches []coverage.BranchCoverage) string {
	parts := make([]string, 0, len(branches))
	for _, b := range branches {
		parts = append(parts, fmt.Sprintf("%s:%s", b.Label, humanize.Comma(int64(b.Executed))))
	}
	return strings.Join(parts, " ")
}

func writeDetail(w io.Writer, f *collector.FileCoverage, detail coverage.DetailModel) {
	fmt.Fprintf(w, "%s\n", f.Path.Display())
	fmt.Fprintf(w, "  lines %s  branches %s  functions %s\n\n",
		countCell(f.Lines), countCell(f.Branches), countCell(f.Declarations))

	stmts := table.NewWriter()
	stmts.SetOutputMirror(w)
	stmts.SetStyle(table.StyleLight)
	stmts.Style().Options.DrawBorder = false
	stmts.AppendHeader(table.Row{"Line", "Hits", "Branches"})
	for _, s := range detail.Statements {
		stmts.AppendRow(table.Row{s.Position.Line + 1, humanize.Comma(int64(s.Executed)), branchCell(s.Branches)})
	}
	stmts.Render()

	if len(detail.Declarations) > 0 {
		fmt.Fprintln(w)
		decls := table.NewWriter()
		decls.SetOutputMirror(w)
		decls.SetStyle(table.StyleLight)
		decls.Style().Options.DrawBorder = false
		decls.AppendHeader(table.Row{"Line", "Hits", "Function"})
		for _, d := range detail.Declarations {
			decls.AppendRow(table.Row{d.Position.Line + 1, humanize.Comma(int64(d.Executed)), d.Name})
		}
		decls.Render()
	}
	fmt.Fprintln(w)
}
