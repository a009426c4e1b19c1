package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jupierce/lcov-import/pkg/collector"
	"github.com/jupierce/lcov-import/pkg/discover"
	"github.com/jupierce/lcov-import/pkg/export"
)

// BigQuery command flags
var (
	bqProject string
	bqDataset string
	bqFiles   []string
)

var bigqueryCmd = &cobra.Command{
	Use:   "bigquery",
	Short: "BigQuery operations",
	Long:  `Export coverage data to Google BigQuery for cross-run analysis.`,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [report...]",
	Short: "Ingest coverage data into BigQuery",
	Long: `Collect coverage and ingest it into BigQuery.

Creates two tables in the specified dataset:
  - lcov_statements:   Per-line execution counts with their branches
  - lcov_declarations: Per-function execution counts, demangled

The dataset and tables are created if they don't exist.`,
	Example: `  # Ingest configured reports
  lcov-import bigquery --project my-project --dataset my_dataset ingest

  # Ingest only some source files
  lcov-import bigquery --project my-project --dataset my_dataset \
    ingest build/lcov.info --file 'src/**' --file '**/*.h'`,
	RunE: runIngest,
}

func init() {
	bigqueryCmd.PersistentFlags().StringVar(&bqProject, "project", "", "GCP project ID (required)")
	bigqueryCmd.PersistentFlags().StringVar(&bqDataset, "dataset", "", "BigQuery dataset name (required)")
	bigqueryCmd.MarkPersistentFlagRequired("project")
	bigqueryCmd.MarkPersistentFlagRequired("dataset")

	ingestCmd.Flags().StringArrayVar(&bqFiles, "file", nil, "Source file glob patterns (repeatable, OR logic); all files when unset")

	bigqueryCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(bigqueryCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	paths, err := a.reports(args)
	if err != nil {
		return err
	}

	ctx := cmdContext(cmd)
	result, err := a.collect(ctx, "bigquery", paths)
	if err != nil {
		return fmt.Errorf("collect coverage: %w", err)
	}

	if len(bqFiles) > 0 {
		m, err := discover.Compile(bqFiles)
		if err != nil {
			return fmt.Errorf("compile --file patterns: %w", err)
		}
		filtered := filterResult(result, m)
		a.logger.Info("Filtered to %d of %d files (file=%v)", len(filtered.Files), len(result.Files), bqFiles)
		result = filtered
	}

	if len(result.Files) == 0 {
		a.logger.Warning("No files match the filter criteria")
		return nil
	}

	a.logger.Progress("Ingesting %d files into %s.%s", len(result.Files), bqProject, bqDataset)
	start := time.Now()

	bq, err := export.NewBigQuery(ctx, bqProject, bqDataset, a.logger)
	if err != nil {
		return err
	}
	defer bq.Close()

	statements, declarations, err := bq.Ingest(ctx, result, a.bridge)
	if err != nil {
		return err
	}

	a.logger.Success("Ingested %d statement rows and %d declaration rows in %s",
		statements, declarations, time.Since(start).Round(time.Millisecond))
	return nil
}

// filterResult returns a copy of result keeping the files whose displayed or
// reported path matches m
func filterResult(result *collector.Result, m *discover.Matcher) *collector.Result {
	filtered := *result
	filtered.Files = nil
	for _, f := range result.Files {
		if m.Match(f.Path.Display(), f.Path.Path) {
			filtered.Files = append(filtered.Files, f)
		}
	}
	return &filtered
}
