// Package export writes collection results to external stores. Exports are
// one-way: the importer never reads coverage back from them.
package export

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/jupierce/lcov-import/pkg/collector"
	"github.com/jupierce/lcov-import/pkg/coverage"
	"github.com/jupierce/lcov-import/pkg/log"
)

const schemaVersion = 1

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);

		CREATE TABLE IF NOT EXISTS runs (
			run_id             TEXT PRIMARY KEY,
			scope              TEXT NOT NULL DEFAULT '',
			collected_at       TEXT NOT NULL DEFAULT '',
			total_reports      INTEGER NOT NULL DEFAULT 0,
			successful_reports INTEGER NOT NULL DEFAULT 0,
			failed_reports     INTEGER NOT NULL DEFAULT 0,
			total_files        INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS report_sources (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			locator     TEXT NOT NULL UNIQUE,
			input_hash  TEXT NOT NULL DEFAULT '',
			last_run_id TEXT NOT NULL DEFAULT '',
			success     INTEGER NOT NULL DEFAULT 0,
			sections    INTEGER NOT NULL DEFAULT 0,
			error_msg   TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS files (
			id                 INTEGER PRIMARY KEY AUTOINCREMENT,
			report_id          INTEGER NOT NULL REFERENCES report_sources(id) ON DELETE CASCADE,
			path               TEXT NOT NULL,
			root               TEXT NOT NULL DEFAULT '',
			rel_path           TEXT NOT NULL DEFAULT '',
			lines_hit          INTEGER NOT NULL DEFAULT 0,
			lines_total        INTEGER NOT NULL DEFAULT 0,
			branches_hit       INTEGER NOT NULL DEFAULT 0,
			branches_total     INTEGER NOT NULL DEFAULT 0,
			declarations_hit   INTEGER NOT NULL DEFAULT 0,
			declarations_total INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS statements (
			file_id  INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
			ordinal  INTEGER NOT NULL,
			line     INTEGER NOT NULL,
			executed INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS branches (
			file_id  INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
			ordinal  INTEGER NOT NULL,
			line     INTEGER NOT NULL,
			label    TEXT NOT NULL,
			executed INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS declarations (
			file_id  INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
			ordinal  INTEGER NOT NULL,
			name     TEXT NOT NULL,
			line     INTEGER NOT NULL,
			executed INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_files_report ON files(report_id);
		CREATE INDEX IF NOT EXISTS idx_files_path ON files(path);
		CREATE INDEX IF NOT EXISTS idx_statements_file ON statements(file_id);
		CREATE INDEX IF NOT EXISTS idx_branches_file ON branches(file_id);
		CREATE INDEX IF NOT EXISTS idx_declarations_file ON declarations(file_id);
	`)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		_, err = db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion)
		return err
	}

	var currentVersion int
	if err := db.QueryRow("SELECT version FROM schema_version").Scan(&currentVersion); err != nil {
		return err
	}
	if currentVersion > schemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", currentVersion, schemaVersion)
	}
	if currentVersion < schemaVersion {
		if _, err := db.Exec("UPDATE schema_version SET version = ?", schemaVersion); err != nil {
			return err
		}
	}

	return nil
}

// SQLiteOptions contains options for the SQLite export
type SQLiteOptions struct {
	// Force rewrites reports whose input hash is unchanged
	Force bool
	// Update, when set, forces the rewrite of the reports it returns true for
	Update func(report string) bool
	// Prune removes reports that are not part of the exported run
	Prune bool
}

// SQLiteStats counts what an export did
type SQLiteStats struct {
	Processed int
	Skipped   int
	Errors    int
	Stale     int
}

// SQLite is an export sink backed by a SQLite database file
type SQLite struct {
	db     *sql.DB
	logger *log.Logger
}

// OpenSQLite opens or creates the database at path and migrates its schema
func OpenSQLite(path string, logger *log.Logger) (*SQLite, error) {
	if logger == nil {
		logger = log.Discard()
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// foreign_keys is per connection
	db.SetMaxOpenConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLite{db: db, logger: logger}, nil
}

// Close closes the database
func (s *SQLite) Close() error {
	return s.db.Close()
}

// WriteRun exports a collection result. Reports whose input hash matches the
// stored one are skipped unless opts.Force is set. Function names go through
// d when it is non-nil.
func (s *SQLite) WriteRun(ctx context.Context, result *collector.Result, d coverage.Demangler, opts SQLiteOptions) (*SQLiteStats, error) {
	summary := result.Summary
	stats := &SQLiteStats{}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, scope, collected_at, total_reports, successful_reports, failed_reports, total_files)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			scope = excluded.scope,
			collected_at = excluded.collected_at,
			total_reports = excluded.total_reports,
			successful_reports = excluded.successful_reports,
			failed_reports = excluded.failed_reports,
			total_files = excluded.total_files
	`, result.RunID, result.Scope, summary.CollectedAt, summary.TotalReports,
		summary.SuccessfulReports, summary.FailedReports, summary.TotalFiles)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}

	filesByReport := make(map[string][]*collector.FileCoverage)
	for i := range result.Files {
		f := &result.Files[i]
		filesByReport[f.Report] = append(filesByReport[f.Report], f)
	}

	inRun := make(map[string]bool)
	for _, report := range summary.Results {
		inRun[report.Report] = true

		var existingHash string
		err := s.db.QueryRowContext(ctx, "SELECT input_hash FROM report_sources WHERE locator = ? AND success = 1", report.Report).Scan(&existingHash)
		forced := opts.Force || (opts.Update != nil && opts.Update(report.Report))
		if err == nil && report.Success && existingHash == report.InputHash && !forced {
			stats.Skipped++
			continue
		}

		if err := s.writeReport(ctx, result.RunID, report, filesByReport[report.Report], d); err != nil {
			s.logger.Warning("Failed to export %s: %v", report.Report, err)
			stats.Errors++
			continue
		}
		if report.Success {
			stats.Processed++
		} else {
			stats.Errors++
		}
	}

	if opts.Prune {
		stale, err := s.pruneReports(ctx, inRun)
		if err != nil {
			return stats, err
		}
		stats.Stale = stale
	}

	s.logger.Info("Processed: %d, Skipped (unchanged): %d, Errors: %d, Removed stale: %d",
		stats.Processed, stats.Skipped, stats.Errors, stats.Stale)

	return stats, nil
}

func (s *SQLite) writeReport(ctx context.Context, runID string, report collector.ReportResult, files []*collector.FileCoverage, d coverage.Demangler) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	success := 0
	if report.Success {
		success = 1
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO report_sources (locator, input_hash, last_run_id, success, sections, error_msg)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(locator) DO UPDATE SET
			input_hash = excluded.input_hash,
			last_run_id = excluded.last_run_id,
			success = excluded.success,
			sections = excluded.sections,
			error_msg = excluded.error_msg
	`, report.Report, report.InputHash, runID, success, report.Sections, report.Error)
	if err != nil {
		return fmt.Errorf("upsert report %s: %w", report.Report, err)
	}

	var reportID int64
	if err := tx.QueryRowContext(ctx, "SELECT id FROM report_sources WHERE locator = ?", report.Report).Scan(&reportID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM files WHERE report_id = ?", reportID); err != nil {
		return fmt.Errorf("clear files: %w", err)
	}

	for _, f := range files {
		if err := insertFile(ctx, tx, reportID, f, d); err != nil {
			return fmt.Errorf("insert file %s: %w", f.Path.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit report %s: %w", report.Report, err)
	}
	return nil
}

func insertFile(ctx context.Context, tx *sql.Tx, reportID int64, f *collector.FileCoverage, d coverage.Demangler) error {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO files (report_id, path, root, rel_path,
			lines_hit, lines_total, branches_hit, branches_total, declarations_hit, declarations_total)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, reportID, f.Path.Path, f.Path.Root, f.Path.Rel,
		f.Lines.Hit, f.Lines.Instrumented, f.Branches.Hit, f.Branches.Instrumented,
		f.Declarations.Hit, f.Declarations.Instrumented)
	if err != nil {
		return err
	}
	fileID, err := res.LastInsertId()
	if err != nil {
		return err
	}

	detail := f.Detail(ctx, d)

	branchOrdinal := 0
	for i, stmt := range detail.Statements {
		if _, err := tx.ExecContext(ctx, "INSERT INTO statements (file_id, ordinal, line, executed) VALUES (?, ?, ?, ?)",
			fileID, i, stmt.Position.Line+1, stmt.Executed); err != nil {
			return err
		}
		for _, b := range stmt.Branches {
			if _, err := tx.ExecContext(ctx, "INSERT INTO branches (file_id, ordinal, line, label, executed) VALUES (?, ?, ?, ?, ?)",
				fileID, branchOrdinal, b.Position.Line+1, b.Label, b.Executed); err != nil {
				return err
			}
			branchOrdinal++
		}
	}

	for i, decl := range detail.Declarations {
		if _, err := tx.ExecContext(ctx, "INSERT INTO declarations (file_id, ordinal, name, line, executed) VALUES (?, ?, ?, ?, ?)",
			fileID, i, decl.Name, decl.Position.Line+1, decl.Executed); err != nil {
			return err
		}
	}

	return nil
}

func (s *SQLite) pruneReports(ctx context.Context, keep map[string]bool) (int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT locator FROM report_sources")
	if err != nil {
		return 0, err
	}
	var stale []string
	for rows.Next() {
		var locator string
		if err := rows.Scan(&locator); err != nil {
			rows.Close()
			return 0, err
		}
		if !keep[locator] {
			stale = append(stale, locator)
		}
	}
	rows.Close()

	for _, locator := range stale {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM report_sources WHERE locator = ?", locator); err != nil {
			return 0, fmt.Errorf("delete stale report %s: %w", locator, err)
		}
	}
	return len(stale), nil
}
