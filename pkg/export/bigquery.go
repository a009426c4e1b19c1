package export

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/jupierce/lcov-import/pkg/collector"
	"github.com/jupierce/lcov-import/pkg/coverage"
	"github.com/jupierce/lcov-import/pkg/log"
)

const (
	statementsTable   = "lcov_statements"
	declarationsTable = "lcov_declarations"
	batchSize         = 500
)

// StatementRow is one reported line, with its branches flattened
type StatementRow struct {
	IngestionTime  time.Time   `bigquery:"ingestion_time"`
	RunID          string      `bigquery:"run_id"`
	Report         string      `bigquery:"report"`
	SourceFilename string      `bigquery:"source_filename"`
	WorkspaceRoot  string      `bigquery:"workspace_root"`
	LineNumber     int         `bigquery:"line_number"`
	LineExecutions int         `bigquery:"line_executions"`
	Branches       []BranchRow `bigquery:"branches"`
}

// BranchRow is one branch arm of a statement
type BranchRow struct {
	Label      string `bigquery:"label"`
	Executions int    `bigquery:"executions"`
}

// DeclarationRow is one function
type DeclarationRow struct {
	IngestionTime  time.Time `bigquery:"ingestion_time"`
	RunID          string    `bigquery:"run_id"`
	Report         string    `bigquery:"report"`
	SourceFilename string    `bigquery:"source_filename"`
	Name           string    `bigquery:"name"`
	LineNumber     int       `bigquery:"line_number"`
	Executions     int       `bigquery:"executions"`
}

// BuildRows flattens a collection result into BigQuery rows. Line numbers are
// 1-based, as reported.
func BuildRows(ctx context.Context, result *collector.Result, d coverage.Demangler, ingestionTime time.Time) ([]StatementRow, []DeclarationRow) {
	var statements []StatementRow
	var declarations []DeclarationRow

	for i := range result.Files {
		f := &result.Files[i]
		detail := f.Detail(ctx, d)
		filename := f.Path.Display()

		for _, stmt := range detail.Statements {
			row := StatementRow{
				IngestionTime:  ingestionTime,
				RunID:          result.RunID,
				Report:         f.Report,
				SourceFilename: filename,
				WorkspaceRoot:  f.Path.Root,
				LineNumber:     stmt.Position.Line + 1,
				LineExecutions: stmt.Executed,
				Branches:       make([]BranchRow, 0, len(stmt.Branches)),
			}
			for _, b := range stmt.Branches {
				row.Branches = append(row.Branches, BranchRow{Label: b.Label, Executions: b.Executed})
			}
			statements = append(statements, row)
		}

		for _, decl := range detail.Declarations {
			declarations = append(declarations, DeclarationRow{
				IngestionTime:  ingestionTime,
				RunID:          result.RunID,
				Report:         f.Report,
				SourceFilename: filename,
				Name:           decl.Name,
				LineNumber:     decl.Position.Line + 1,
				Executions:     decl.Executed,
			})
		}
	}

	return statements, declarations
}

// BigQuery ingests collection results into a dataset
type BigQuery struct {
	client  *bigquery.Client
	project string
	dataset string
	logger  *log.Logger
}

// NewBigQuery creates a client for project and dataset
func NewBigQuery(ctx context.Context, project, dataset string, logger *log.Logger) (*BigQuery, error) {
	if logger == nil {
		logger = log.Discard()
	}
	client, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("create BigQuery client: %w", err)
	}
	return &BigQuery{client: client, project: project, dataset: dataset, logger: logger}, nil
}

// Close closes the client
func (b *BigQuery) Close() error {
	return b.client.Close()
}

// Ingest ensures the tables exist and inserts the rows of result in batches.
// A failed batch is logged and does not stop the remaining ones.
func (b *BigQuery) Ingest(ctx context.Context, result *collector.Result, d coverage.Demangler) (statements, declarations int, err error) {
	if err := b.ensureDatasetAndTables(ctx); err != nil {
		return 0, 0, fmt.Errorf("setup BigQuery: %w", err)
	}

	stmtRows, declRows := BuildRows(ctx, result, d, time.Now().UTC())

	dataset := b.client.Dataset(b.dataset)
	statements = putBatches(ctx, dataset.Table(statementsTable).Inserter(), stmtRows, b.logger)
	declarations = putBatches(ctx, dataset.Table(declarationsTable).Inserter(), declRows, b.logger)

	return statements, declarations, nil
}

// putBatches inserts rows in batches of batchSize and returns how many rows
// were accepted
func putBatches[T any](ctx context.Context, inserter *bigquery.Inserter, rows []T, logger *log.Logger) int {
	inserted := 0
	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := make([]*T, 0, end-start)
		for j := start; j < end; j++ {
			batch = append(batch, &rows[j])
		}
		if err := inserter.Put(ctx, batch); err != nil {
			logger.Warning("Batch insert failed at offset %d: %v", start, err)
			continue
		}
		inserted += len(batch)
	}
	return inserted
}

func alreadyExists(err error) bool {
	return strings.Contains(err.Error(), "Already Exists") ||
		strings.Contains(err.Error(), "alreadyExists") ||
		strings.Contains(err.Error(), "409")
}

// ensureDatasetAndTables creates the dataset and tables if they don't exist.
func (b *BigQuery) ensureDatasetAndTables(ctx context.Context) error {
	dataset := b.client.Dataset(b.dataset)

	if err := dataset.Create(ctx, &bigquery.DatasetMetadata{}); err != nil {
		if !alreadyExists(err) {
			return fmt.Errorf("create dataset: %w", err)
		}
	} else {
		b.logger.Info("Created dataset %s.%s", b.project, b.dataset)
	}

	statementsSchema := bigquery.Schema{
		{Name: "ingestion_time", Type: bigquery.TimestampFieldType, Required: true},
		{Name: "run_id", Type: bigquery.StringFieldType, Required: true},
		{Name: "report", Type: bigquery.StringFieldType, Required: true},
		{Name: "source_filename", Type: bigquery.StringFieldType, Required: true},
		{Name: "workspace_root", Type: bigquery.StringFieldType},
		{Name: "line_number", Type: bigquery.IntegerFieldType, Required: true},
		{Name: "line_executions", Type: bigquery.IntegerFieldType, Required: true},
		{Name: "branches", Type: bigquery.RecordFieldType, Repeated: true, Schema: bigquery.Schema{
			{Name: "label", Type: bigquery.StringFieldType},
			{Name: "executions", Type: bigquery.IntegerFieldType},
		}},
	}

	declarationsSchema := bigquery.Schema{
		{Name: "ingestion_time", Type: bigquery.TimestampFieldType, Required: true},
		{Name: "run_id", Type: bigquery.StringFieldType, Required: true},
		{Name: "report", Type: bigquery.StringFieldType, Required: true},
		{Name: "source_filename", Type: bigquery.StringFieldType, Required: true},
		{Name: "name", Type: bigquery.StringFieldType, Required: true},
		{Name: "line_number", Type: bigquery.IntegerFieldType, Required: true},
		{Name: "executions", Type: bigquery.IntegerFieldType, Required: true},
	}

	for name, schema := range map[string]bigquery.Schema{
		statementsTable:   statementsSchema,
		declarationsTable: declarationsSchema,
	} {
		err := dataset.Table(name).Create(ctx, &bigquery.TableMetadata{
			Schema: schema,
			TimePartitioning: &bigquery.TimePartitioning{
				Field: "ingestion_time",
			},
			Clustering: &bigquery.Clustering{
				Fields: []string{"run_id", "source_filename"},
			},
		})
		if err != nil {
			if !alreadyExists(err) {
				return fmt.Errorf("create %s table: %w", name, err)
			}
		} else {
			b.logger.Info("Created table %s", name)
		}
	}

	return nil
}
