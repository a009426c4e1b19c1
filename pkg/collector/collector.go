// Package collector runs coverage collection requests: it reads a batch of
// reports in parallel, parses them into sections and resolves each section's
// path against the current workspace roots.
package collector

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jupierce/lcov-import/pkg/coverage"
	"github.com/jupierce/lcov-import/pkg/lcov"
	"github.com/jupierce/lcov-import/pkg/log"
	"github.com/jupierce/lcov-import/pkg/metrics"
)

var (
	// ErrReportRead marks a report whose bytes could not be read
	ErrReportRead = errors.New("read report")
	// ErrReportParse marks a report that could not be parsed
	ErrReportParse = errors.New("parse report")
)

const defaultMaxConcurrency = 8

// Options contains options for coverage collection
type Options struct {
	MaxConcurrency int
}

// Collector handles coverage collection from report sources
type Collector struct {
	logger *log.Logger
	opts   Options
}

// NewCollector creates a new collector
func NewCollector(logger *log.Logger, opts Options) *Collector {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = defaultMaxConcurrency
	}
	if logger == nil {
		logger = log.Discard()
	}

	return &Collector{
		logger: logger,
		opts:   opts,
	}
}

// Request is one aggregate collection over a set of reports. Roots is the
// workspace root set in effect for this request only.
type Request struct {
	Scope   string
	Reports []ReportSource
	Roots   []string
}

// FileCoverage is the coverage of one file from one report. Counts are
// available eagerly; the per-line model is built on demand by Detail.
type FileCoverage struct {
	Report       string                `json:"report"`
	Path         coverage.ResolvedPath `json:"path"`
	Lines        coverage.Counts       `json:"lines"`
	Branches     coverage.Counts       `json:"branches"`
	Declarations coverage.Counts       `json:"declarations"`

	section coverage.Section
}

// Detail builds the statement and declaration model of the file. It can be
// called any number of times and always starts from the parsed section.
func (f *FileCoverage) Detail(ctx context.Context, d coverage.Demangler) coverage.DetailModel {
	return coverage.BuildDetail(ctx, &f.section, d)
}

// Result is the output of a completed request
type Result struct {
	RunID   string
	Scope   string
	Files   []FileCoverage
	Summary *CollectionSummary
}

// Collect reads, parses and resolves every report of the request. Reports
// that fail are recorded in the summary and contribute no files. Cancellation
// is checked after reading, after parsing and before the result is returned;
// a cancelled request yields no result at all.
func (c *Collector) Collect(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	defer func() {
		metrics.CollectDuration.Observe(time.Since(start).Seconds())
	}()

	runID := uuid.NewString()
	c.logger.Progress("Collecting coverage from %d reports", len(req.Reports))

	type outcome struct {
		files []FileCoverage
		hash  string
		err   error
	}
	outcomes := make([]outcome, len(req.Reports))

	var g errgroup.Group
	g.SetLimit(c.opts.MaxConcurrency)

	for i, src := range req.Reports {
		g.Go(func() error {
			c.logger.Debug("Reading report %s", src.Locator())
			files, hash, err := c.collectOne(ctx, src, req.Roots)
			outcomes[i] = outcome{files: files, hash: hash, err: err}
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		metrics.ReportsTotal.WithLabelValues(metrics.ResultCancelled).Add(float64(len(req.Reports)))
		c.logger.Debug("Collection %s cancelled: %v", runID, err)
		return nil, err
	}

	summary := &CollectionSummary{
		RunID:        runID,
		Scope:        req.Scope,
		CollectedAt:  time.Now().Format(time.RFC3339),
		TotalReports: len(req.Reports),
		Results:      []ReportResult{},
	}

	var files []FileCoverage
	for i, o := range outcomes {
		result := ReportResult{Report: req.Reports[i].Locator(), InputHash: o.hash}
		if o.err != nil {
			result.Error = o.err.Error()
			summary.FailedReports++
			metrics.ReportsTotal.WithLabelValues(metrics.ResultError).Inc()
			c.logger.Warning("Skipping %s: %v", result.Report, o.err)
		} else {
			result.Success = true
			result.Sections = len(o.files)
			summary.SuccessfulReports++
			metrics.ReportsTotal.WithLabelValues(metrics.ResultOK).Inc()
			files = append(files, o.files...)
		}
		summary.Results = append(summary.Results, result)
	}
	summary.TotalFiles = len(files)
	metrics.SectionsTotal.Add(float64(len(files)))

	c.logger.Success("Collection complete!")
	c.logger.Info("Successful reports: %d", summary.SuccessfulReports)
	c.logger.Info("Failed reports: %d", summary.FailedReports)

	return &Result{
		RunID:   runID,
		Scope:   req.Scope,
		Files:   files,
		Summary: summary,
	}, nil
}

// collectOne processes a single report and returns the MD5 of its bytes
// alongside the files. A cancelled context is returned as is so the caller
// can tell it apart from a report failure.
func (c *Collector) collectOne(ctx context.Context, src ReportSource, roots []string) ([]FileCoverage, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	data, err := src.Read(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		return nil, "", fmt.Errorf("%w: %w", ErrReportRead, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	sum := md5.Sum(data)
	hash := hex.EncodeToString(sum[:])

	sections, err := lcov.ParseWithSkip(data, func(lineNo int, record string, err error) {
		c.logger.Debug("%s:%d: skipping %q: %v", src.Locator(), lineNo, record, err)
	})
	if err != nil {
		return nil, hash, fmt.Errorf("%w: %w", ErrReportParse, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	files := make([]FileCoverage, 0, len(sections))
	for _, section := range sections {
		files = append(files, FileCoverage{
			Report:       src.Locator(),
			Path:         coverage.ResolvePath(section.Path, roots),
			Lines:        section.Lines,
			Branches:     section.Branches,
			Declarations: section.Functions,
			section:      section,
		})
	}
	c.logger.Trace("Parsed %d sections from %s", len(files), src.Locator())

	return files, hash, nil
}
