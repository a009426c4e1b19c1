package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jupierce/lcov-import/pkg/discover"
	"github.com/jupierce/lcov-import/pkg/export"
)

var (
	exportDBPath  string
	exportForce   bool
	exportPrune   bool
	exportUpdates []string

	exportCmd = &cobra.Command{
		Use:   "export [report...]",
		Short: "Export collected coverage into a SQLite database",
		Long: `Collect coverage and write it to a SQLite database: one row per report,
file, statement, branch and declaration, with function names demangled.

Change detection uses MD5 hashes of the report contents. Reports whose hash
matches the last successful export are skipped. Use --update to force the
rewrite of matching reports, or --force to rewrite all of them.

The database is an export target only; it is never read back as coverage.`,
		Example: `  # Export configured reports (incremental)
  lcov-import export --db coverage.db

  # Rewrite one report and drop reports that no longer exist
  lcov-import export --db coverage.db --update '**/unit/lcov.info' --prune`,
		RunE: runExport,
	}
)

func init() {
	exportCmd.Flags().StringVar(&exportDBPath, "db", "coverage.db", "SQLite database file")
	exportCmd.Flags().BoolVar(&exportForce, "force", false, "Rewrite every report, even when unchanged")
	exportCmd.Flags().BoolVar(&exportPrune, "prune", false, "Remove reports that are not part of this run")
	exportCmd.Flags().StringArrayVar(&exportUpdates, "update", nil,
		"Force the rewrite of reports whose path matches this glob (repeatable)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	opts := export.SQLiteOptions{Force: exportForce, Prune: exportPrune}
	if len(exportUpdates) > 0 {
		m, err := discover.Compile(exportUpdates)
		if err != nil {
			return fmt.Errorf("compile --update patterns: %w", err)
		}
		opts.Update = func(report string) bool {
			return m.Match(report, report)
		}
	}

	paths, err := a.reports(args)
	if err != nil {
		return err
	}

	ctx := cmdContext(cmd)
	result, err := a.collect(ctx, "export", paths)
	if err != nil {
		return fmt.Errorf("collect coverage: %w", err)
	}

	db, err := export.OpenSQLite(exportDBPath, a.logger)
	if err != nil {
		return err
	}
	defer db.Close()

	a.logger.Progress("Exporting %d reports to %s", len(result.Summary.Results), exportDBPath)
	stats, err := db.WriteRun(ctx, result, a.bridge, opts)
	if err != nil {
		return fmt.Errorf("export run: %w", err)
	}

	a.logger.Success("Exported run %s: %d written, %d unchanged, %d failed, %d pruned",
		result.RunID, stats.Processed, stats.Skipped, stats.Errors, stats.Stale)
	return nil
}
