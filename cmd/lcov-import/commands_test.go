package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jupierce/lcov-import/pkg/collector"
	"github.com/jupierce/lcov-import/pkg/coverage"
	"github.com/jupierce/lcov-import/pkg/discover"
)

const tracefile = `SF:/ws/src/x.cc
FN:3,_ZN3foo3barEv
FNDA:4,_ZN3foo3barEv
DA:3,2
DA:1,0
BRDA:3,0,0,1
BRDA:3,0,1,0
end_of_record
SF:/elsewhere/y.cc
DA:1,1
end_of_record
`

type upperDemangler struct{}

func (upperDemangler) Demangle(_ context.Context, name string) (string, error) {
	return strings.ToUpper(name), nil
}

func collectTracefile(t *testing.T) *collector.Result {
	t.Helper()
	result, err := collector.NewCollector(nil, collector.Options{}).Collect(context.Background(), collector.Request{
		Scope:   "test",
		Reports: []collector.ReportSource{collector.BytesSource{Name: "lcov.info", Data: []byte(tracefile)}},
		Roots:   []string{"/ws"},
	})
	require.NoError(t, err)
	require.Len(t, result.Files, 2)
	return result
}

func TestWriteFileTable(t *testing.T) {
	var buf bytes.Buffer
	writeFileTable(&buf, collectTracefile(t))

	out := buf.String()
	assert.Contains(t, out, "src/x.cc")
	assert.Contains(t, out, "/elsewhere/y.cc")
	assert.Contains(t, out, "lcov.info")
	assert.Contains(t, out, "1/1 REPORTS")
}

func TestCountCell(t *testing.T) {
	assert.Equal(t, "-", countCell(coverage.Counts{}))
	assert.Equal(t, "1,234/2,000 (61.7%)", countCell(coverage.Counts{Hit: 1234, Instrumented: 2000}))
}

func TestFilterFiles(t *testing.T) {
	result := collectTracefile(t)

	assert.Len(t, filterFiles(result.Files, nil), 2)

	files := filterFiles(result.Files, []string{"x.cc"})
	require.Len(t, files, 1)
	assert.Equal(t, "src/x.cc", files[0].Path.Display())

	assert.Empty(t, filterFiles(result.Files, []string{"nothing"}))
}

func TestFilterResult(t *testing.T) {
	result := collectTracefile(t)

	m, err := discover.Compile([]string{"src/**"})
	require.NoError(t, err)
	filtered := filterResult(result, m)
	require.Len(t, filtered.Files, 1)
	assert.Equal(t, "src/x.cc", filtered.Files[0].Path.Display())
	assert.Len(t, result.Files, 2, "original result is unchanged")

	m, err = discover.Compile([]string{"/elsewhere/*.cc"})
	require.NoError(t, err)
	filtered = filterResult(result, m)
	require.Len(t, filtered.Files, 1)
	assert.Equal(t, "/elsewhere/y.cc", filtered.Files[0].Path.Display())
}

func TestBranchCell(t *testing.T) {
	assert.Equal(t, "", branchCell(nil))
	assert.Equal(t, "a:1 b:1,500", branchCell([]coverage.BranchCoverage{
		{Label: "a", Executed: 1},
		{Label: "b", Executed: 1500},
	}))
}

func TestWriteDetail(t *testing.T) {
	result := collectTracefile(t)
	f := &result.Files[0]

	var buf bytes.Buffer
	writeDetail(&buf, f, f.Detail(context.Background(), upperDemangler{}))

	out := buf.String()
	assert.Contains(t, out, "src/x.cc")
	assert.Contains(t, out, "_ZN3FOO3BAREV")
}

func TestColorClass(t *testing.T) {
	tests := []struct {
		counts coverage.Counts
		want   string
	}{
		{coverage.Counts{}, "none"},
		{coverage.Counts{Hit: 7, Instrumented: 10}, "excellent"},
		{coverage.Counts{Hit: 5, Instrumented: 10}, "good"},
		{coverage.Counts{Hit: 3, Instrumented: 10}, "moderate"},
		{coverage.Counts{Hit: 15, Instrumented: 100}, "poor"},
		{coverage.Counts{Hit: 1, Instrumented: 10}, "critical"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, colorClass(tt.counts), "%+v", tt.counts)
	}
}

func TestAnnotateSource(t *testing.T) {
	detail := coverage.DetailModel{
		Statements: []coverage.StatementCoverage{
			{Executed: 2, Position: coverage.Position{Line: 0}, Branches: []coverage.BranchCoverage{
				{Label: "0", Executed: 1},
				{Label: "1", Executed: 0},
			}},
			{Executed: 0, Position: coverage.Position{Line: 2}},
			{Executed: 5, Position: coverage.Position{Line: 3}},
			{Executed: 9, Position: coverage.Position{Line: 3}},
		},
	}

	lines := annotateSource([]byte("if (x) {\n\ty();\n}\nz();\n"), detail)
	require.Len(t, lines, 4)

	assert.Equal(t, 1, lines[0].Number)
	assert.Equal(t, "cov-partial", lines[0].Class)
	assert.Equal(t, "2", lines[0].Hits)
	assert.Len(t, lines[0].Branches, 2)

	assert.Equal(t, "    y();", lines[1].Text)
	assert.Empty(t, lines[1].Class)
	assert.Empty(t, lines[1].Hits)

	assert.Equal(t, "cov-none", lines[2].Class)

	assert.Equal(t, "cov-hit", lines[3].Class)
	assert.Equal(t, "9", lines[3].Hits)
}

func TestSanitizeFileName(t *testing.T) {
	assert.Equal(t, "a_b.cc", sanitizeFileName("a b.cc"))
	assert.Equal(t, "x-y_z.h", sanitizeFileName("x-y_z.h"))
}

func TestRenderHTML(t *testing.T) {
	result := collectTracefile(t)
	outDir := t.TempDir()

	indexPath, err := renderHTML(context.Background(), outDir, result, upperDemangler{})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outDir, "index.html"), indexPath)

	index, err := os.ReadFile(indexPath)
	require.NoError(t, err)
	assert.Contains(t, string(index), "src/x.cc")
	assert.Contains(t, string(index), "/elsewhere/y.cc")
	assert.Contains(t, string(index), result.RunID)

	pages, err := filepath.Glob(filepath.Join(outDir, "files", "*.html"))
	require.NoError(t, err)
	require.Len(t, pages, 2)

	page, err := os.ReadFile(filepath.Join(outDir, "files", "0000-x.cc.html"))
	require.NoError(t, err)
	assert.Contains(t, string(page), "_ZN3FOO3BAREV")
	assert.Contains(t, string(page), "../index.html")
}

func TestRenderHTML_AnnotatesReadableSources(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "x.cc"), []byte("int a;\nint b;\nint c;\n"), 0644))

	report := strings.ReplaceAll(tracefile, "/ws", root)
	result, err := collector.NewCollector(nil, collector.Options{}).Collect(context.Background(), collector.Request{
		Scope:   "test",
		Reports: []collector.ReportSource{collector.BytesSource{Name: "lcov.info", Data: []byte(report)}},
		Roots:   []string{root},
	})
	require.NoError(t, err)

	outDir := t.TempDir()
	_, err = renderHTML(context.Background(), outDir, result, nil)
	require.NoError(t, err)

	page, err := os.ReadFile(filepath.Join(outDir, "files", "0000-x.cc.html"))
	require.NoError(t, err)
	assert.Contains(t, string(page), "int b;")
	assert.Contains(t, string(page), `id="L3"`)
	assert.Contains(t, string(page), "cov-partial")
}
