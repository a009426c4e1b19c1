package main

import (
	"bufio"
	"context"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jupierce/lcov-import/pkg/collector"
	"github.com/jupierce/lcov-import/pkg/coverage"
)

var (
	renderOutputDir string

	renderCmd = &cobra.Command{
		Use:   "render [report...]",
		Short: "Generate HTML coverage reports",
		Long: `Generate an HTML index of all collected files and one page per file.

File pages show the source annotated with line hits and branch counts when the
file can be found under its workspace root, and the detail tables otherwise.`,
		Example: `  lcov-import render --output ./coverage-html`,
		RunE:    runRender,
	}
)

func init() {
	renderCmd.Flags().StringVarP(&renderOutputDir, "output", "o", "./coverage-html", "Output directory for HTML files")
	rootCmd.AddCommand(renderCmd)
}

func runRender(cmd *cobra.Command, args []string) error {
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
	result, err := a.collect(ctx, "render", paths)
	if err != nil {
		return fmt.Errorf("collect coverage: %w", err)
	}

	a.logger.Progress("Rendering %d files to %s", len(result.Files), renderOutputDir)
	indexPath, err := renderHTML(ctx, renderOutputDir, result, a.bridge)
	if err != nil {
		return err
	}

	a.logger.Success("Rendered coverage report")
	fmt.Fprintf(cmd.OutOrStdout(), "\n🌐 Open HTML report: file://%s\n", indexPath)
	return nil
}

// fileReport is one row of the index and the data of one file page
type fileReport struct {
	Path         string
	Report       string
	HTMLFile     string
	Lines        coverage.Counts
	Branches     coverage.Counts
	Declarations coverage.Counts
	Detail       coverage.DetailModel
	Source       []sourceLine
}

// sourceLine is one line of an annotated source file
type sourceLine struct {
	Number   int
	Text     string
	Class    string
	Hits     string
	Branches []coverage.BranchCoverage
}

// renderHTML writes index.html and one page per file into outputDir and
// returns the absolute path of the index
func renderHTML(ctx context.Context, outputDir string, result *collector.Result, d coverage.Demangler) (string, error) {
	absOutputDir, err := filepath.Abs(outputDir)
	if err != nil {
		return "", fmt.Errorf("get absolute output dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(absOutputDir, "files"), 0755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	funcs := templateFuncs()
	fileTmpl := template.Must(template.New("file").Funcs(funcs).Parse(fileTemplate))
	indexTmpl := template.Must(template.New("index").Funcs(funcs).Parse(indexTemplate))

	reports := make([]fileReport, 0, len(result.Files))
	for i := range result.Files {
		f := &result.Files[i]
		fr := fileReport{
			Path:         f.Path.Display(),
			Report:       f.Report,
			HTMLFile:     fmt.Sprintf("files/%04d-%s.html", i, sanitizeFileName(filepath.Base(f.Path.Path))),
			Lines:        f.Lines,
			Branches:     f.Branches,
			Declarations: f.Declarations,
			Detail:       f.Detail(ctx, d),
		}
		if src, err := os.ReadFile(f.Path.Location()); err == nil {
			fr.Source = annotateSource(src, fr.Detail)
		}

		if err := writeTemplate(filepath.Join(absOutputDir, fr.HTMLFile), fileTmpl, fr); err != nil {
			return "", err
		}
		fr.Detail = coverage.DetailModel{}
		fr.Source = nil
		reports = append(reports, fr)
	}

	sort.SliceStable(reports, func(i, j int) bool {
		return reports[i].Path < reports[j].Path
	})

	var lines coverage.Counts
	for _, fr := range reports {
		lines = addCounts(lines, fr.Lines)
	}

	data := struct {
		Files   []fileReport
		Lines   coverage.Counts
		Summary *collector.CollectionSummary
	}{
		Files:   reports,
		Lines:   lines,
		Summary: result.Summary,
	}

	indexPath := filepath.Join(absOutputDir, "index.html")
	if err := writeTemplate(indexPath, indexTmpl, data); err != nil {
		return "", err
	}
	return indexPath, nil
}

func writeTemplate(path string, tmpl *template.Template, data interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriterSize(f, 256*1024)
	if err := tmpl.Execute(w, data); err != nil {
		return fmt.Errorf("execute template: %w", err)
	}
	return w.Flush()
}

// annotateSource pairs each source line with the statements reported for it.
// A line reported more than once shows the highest hit count.
func annotateSource(src []byte, detail coverage.DetailModel) []sourceLine {
	type lineCov struct {
		hits     int
		branches []coverage.BranchCoverage
	}
	byLine := make(map[int]*lineCov)
	for _, s := range detail.Statements {
		lc, ok := byLine[s.Position.Line]
		if !ok {
			lc = &lineCov{hits: s.Executed, branches: s.Branches}
			byLine[s.Position.Line] = lc
			continue
		}
		if s.Executed > lc.hits {
			lc.hits = s.Executed
		}
	}

	text := strings.ReplaceAll(string(src), "\t", "    ")
	text = strings.TrimSuffix(text, "\n")
	rawLines := strings.Split(text, "\n")

	lines := make([]sourceLine, 0, len(rawLines))
	for i, raw := range rawLines {
		sl := sourceLine{Number: i + 1, Text: raw}
		if lc, ok := byLine[i]; ok {
			sl.Hits = humanize.Comma(int64(lc.hits))
			sl.Branches = lc.branches
			switch {
			case lc.hits == 0:
				sl.Class = "cov-none"
			case partialBranches(lc.branches):
				sl.Class = "cov-partial"
			default:
				sl.Class = "cov-hit"
			}
		}
		lines = append(lines, sl)
	}
	return lines
}

func partialBranches(branches []coverage.BranchCoverage) bool {
	for _, b := range branches {
		if b.Executed == 0 {
			return true
		}
	}
	return false
}

func sanitizeFileName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
}

func colorClass(c coverage.Counts) string {
	pct := c.Percent()
	switch {
	case c.Instrumented == 0:
		return "none"
	case pct >= 70:
		return "excellent"
	case pct >= 50:
		return "good"
	case pct >= 30:
		return "moderate"
	case pct >= 15:
		return "poor"
	}
	return "critical"
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"colorClass": colorClass,
		"formatPct": func(c coverage.Counts) string {
			if c.Instrumented == 0 {
				return "-"
			}
			return fmt.Sprintf("%.1f%%", c.Percent())
		},
		"formatInt": func(n int) string {
			return humanize.Comma(int64(n))
		},
		"lineNumber": func(p coverage.Position) int {
			return p.Line + 1
		},
	}
}
