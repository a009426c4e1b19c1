package collector

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jupierce/lcov-import/pkg/coverage"
	"github.com/jupierce/lcov-import/pkg/log"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const reportA = `TN:
SF:/ws/a/src/x.cc
FN:3,_ZN3foo3barEv
FNDA:1,_ZN3foo3barEv
DA:3,2
DA:1,0
BRDA:3,0,0,1
BRDA:3,0,0,1
BRDA:3,0,1,0
end_of_record
SF:/elsewhere/y.cc
DA:1,1
end_of_record
`

const reportB = `SF:/ws/b/z.cc
DA:7,4
end_of_record
`

// gatedSource blocks in Read until release is closed
type gatedSource struct {
	name    string
	data    []byte
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedSource(name, data string) *gatedSource {
	return &gatedSource{
		name:    name,
		data:    []byte(data),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gatedSource) Locator() string { return g.name }

func (g *gatedSource) Read(ctx context.Context) ([]byte, error) {
	g.once.Do(func() { close(g.started) })
	<-g.release
	return g.data, nil
}

type failingSource struct{ name string }

func (f failingSource) Locator() string { return f.name }

func (f failingSource) Read(context.Context) ([]byte, error) {
	return nil, errors.New("permission denied")
}

func TestCollect_ResolvesAndKeepsReportOrder(t *testing.T) {
	c := NewCollector(nil, Options{MaxConcurrency: 2})

	result, err := c.Collect(context.Background(), Request{
		Scope: "all",
		Reports: []ReportSource{
			BytesSource{Name: "a.info", Data: []byte(reportA)},
			BytesSource{Name: "b.info", Data: []byte(reportB)},
		},
		Roots: []string{"/ws/a", "/ws/b"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.RunID)
	require.Len(t, result.Files, 3)

	assert.Equal(t, "a.info", result.Files[0].Report)
	assert.Equal(t, coverage.ResolvedPath{Root: "/ws/a", Rel: "src/x.cc", Path: "/ws/a/src/x.cc"}, result.Files[0].Path)
	assert.Equal(t, coverage.Counts{Hit: 1, Instrumented: 2}, result.Files[0].Lines)
	assert.Equal(t, coverage.Counts{Hit: 2, Instrumented: 3}, result.Files[0].Branches)
	assert.Equal(t, coverage.Counts{Hit: 1, Instrumented: 1}, result.Files[0].Declarations)

	assert.False(t, result.Files[1].Path.InWorkspace())
	assert.Equal(t, "/elsewhere/y.cc", result.Files[1].Path.Display())

	assert.Equal(t, "b.info", result.Files[2].Report)
	assert.Equal(t, "z.cc", result.Files[2].Path.Display())

	assert.Equal(t, 2, result.Summary.SuccessfulReports)
	assert.Equal(t, 0, result.Summary.FailedReports)
	assert.Len(t, result.Summary.Results[0].InputHash, 32)
	assert.NotEqual(t, result.Summary.Results[0].InputHash, result.Summary.Results[1].InputHash)
	assert.Equal(t, 3, result.Summary.TotalFiles)
}

func TestCollect_DetailIsBuiltOnDemand(t *testing.T) {
	c := NewCollector(nil, Options{})

	result, err := c.Collect(context.Background(), Request{
		Reports: []ReportSource{BytesSource{Name: "a.info", Data: []byte(reportA)}},
		Roots:   []string{"/ws/a"},
	})
	require.NoError(t, err)

	file := result.Files[0]
	first := file.Detail(context.Background(), nil)
	second := file.Detail(context.Background(), nil)
	assert.Equal(t, first, second)

	require.Len(t, first.Statements, 2)
	assert.Equal(t, 2, first.Statements[0].Position.Line)
	assert.Equal(t, []coverage.BranchCoverage{
		{Label: "0,0", Executed: 2, Position: coverage.Position{Line: 2}},
		{Label: "0,1", Executed: 0, Position: coverage.Position{Line: 2}},
	}, first.Statements[0].Branches)
	assert.Empty(t, first.Statements[1].Branches)

	require.Len(t, first.Declarations, 1)
	assert.Equal(t, "_ZN3foo3barEv", first.Declarations[0].Name)
}

func TestCollect_FailedReportsDoNotBlockOthers(t *testing.T) {
	c := NewCollector(nil, Options{})

	missing := filepath.Join(t.TempDir(), "missing.info")
	result, err := c.Collect(context.Background(), Request{
		Reports: []ReportSource{
			failingSource{name: "denied.info"},
			FileSource(missing),
			BytesSource{Name: "bad.info", Data: []byte("SF:/x.cc\nDA:zero,1\n")},
			BytesSource{Name: "b.info", Data: []byte(reportB)},
		},
	})
	require.NoError(t, err)

	require.Len(t, result.Files, 1)
	assert.Equal(t, "b.info", result.Files[0].Report)

	assert.Equal(t, 1, result.Summary.SuccessfulReports)
	assert.Equal(t, 3, result.Summary.FailedReports)
	require.Len(t, result.Summary.Results, 4)
	assert.Contains(t, result.Summary.Results[0].Error, "permission denied")
	assert.Contains(t, result.Summary.Results[1].Error, ErrReportRead.Error())
	assert.Contains(t, result.Summary.Results[2].Error, ErrReportParse.Error())
	assert.True(t, result.Summary.Results[3].Success)
}

func TestCollectOne_WrapsFailureKinds(t *testing.T) {
	c := NewCollector(nil, Options{})
	ctx := context.Background()

	_, _, err := c.collectOne(ctx, failingSource{name: "x"}, nil)
	assert.ErrorIs(t, err, ErrReportRead)

	_, hash, err := c.collectOne(ctx, BytesSource{Name: "y", Data: []byte("SF:/x\nDA:one,1\n")}, nil)
	assert.ErrorIs(t, err, ErrReportParse)
	assert.Len(t, hash, 32)
}

func TestCollect_RecordsBeforeFirstLineAreSkipped(t *testing.T) {
	var stdout, stderr bytes.Buffer
	c := NewCollector(log.NewWithWriters(log.DebugLevel, &stdout, &stderr), Options{})

	result, err := c.Collect(context.Background(), Request{
		Reports: []ReportSource{BytesSource{Name: "gcov.info", Data: []byte("SF:/ws/b/z.cc\nFN:0,_GLOBAL__sub_I_z\nDA:0,1\nDA:7,4\nend_of_record\n")}},
		Roots:   []string{"/ws/b"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Summary.SuccessfulReports)
	require.Len(t, result.Files, 1)
	assert.Equal(t, coverage.Counts{Hit: 1, Instrumented: 1}, result.Files[0].Lines)
	assert.Empty(t, result.Files[0].Detail(context.Background(), nil).Declarations)

	assert.Contains(t, stdout.String(), `gcov.info:2: skipping "FN:0,_GLOBAL__sub_I_z"`)
	assert.Contains(t, stdout.String(), `gcov.info:3: skipping "DA:0,1"`)
}

func TestCollect_FileSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lcov.info")
	require.NoError(t, os.WriteFile(path, []byte(reportB), 0o644))

	result, err := NewCollector(nil, Options{}).Collect(context.Background(), Request{
		Reports: Files([]string{path}),
		Roots:   []string{"/ws/b"},
	})
	require.NoError(t, err)
	require.Len(t, result.Files, 1)
	assert.Equal(t, path, result.Files[0].Report)
}

func TestCollect_CancelledBeforeParseEmitsNothing(t *testing.T) {
	c := NewCollector(nil, Options{})

	gated := newGatedSource("slow.info", reportA)
	ctx, cancel := context.WithCancel(context.Background())

	type out struct {
		result *Result
		err    error
	}
	done := make(chan out, 1)
	go func() {
		r, err := c.Collect(ctx, Request{
			Scope: "cancelled",
			Reports: []ReportSource{
				BytesSource{Name: "fast.info", Data: []byte(reportB)},
				gated,
			},
		})
		done <- out{r, err}
	}()

	<-gated.started

	// a request for another scope is unaffected
	other, err := c.Collect(context.Background(), Request{
		Scope:   "other",
		Reports: []ReportSource{BytesSource{Name: "b.info", Data: []byte(reportB)}},
	})
	require.NoError(t, err)
	assert.Len(t, other.Files, 1)

	cancel()
	close(gated.release)

	got := <-done
	assert.ErrorIs(t, got.err, context.Canceled)
	assert.Nil(t, got.result)
}

func TestScheduler_NewRunSupersedesSameScope(t *testing.T) {
	s := NewScheduler(NewCollector(nil, Options{}))

	gated := newGatedSource("slow.info", reportA)
	first := make(chan error, 1)
	go func() {
		_, err := s.Run(context.Background(), Request{Scope: "workspace", Reports: []ReportSource{gated}})
		first <- err
	}()
	<-gated.started
	require.True(t, s.InFlight("workspace"))

	otherGate := newGatedSource("other.info", reportB)
	otherDone := make(chan error, 1)
	go func() {
		_, err := s.Run(context.Background(), Request{Scope: "other", Reports: []ReportSource{otherGate}})
		otherDone <- err
	}()
	<-otherGate.started

	result, err := s.Run(context.Background(), Request{
		Scope:   "workspace",
		Reports: []ReportSource{BytesSource{Name: "b.info", Data: []byte(reportB)}},
	})
	require.NoError(t, err)
	assert.Len(t, result.Files, 1)

	close(gated.release)
	assert.ErrorIs(t, <-first, ErrSuperseded)

	close(otherGate.release)
	assert.NoError(t, <-otherDone)

	assert.False(t, s.InFlight("workspace"))
	assert.False(t, s.InFlight("other"))
}

func TestScheduler_Cancel(t *testing.T) {
	s := NewScheduler(NewCollector(nil, Options{}))

	gated := newGatedSource("slow.info", reportA)
	done := make(chan error, 1)
	go func() {
		_, err := s.Run(context.Background(), Request{Scope: "workspace", Reports: []ReportSource{gated}})
		done <- err
	}()
	<-gated.started

	s.Cancel("workspace")
	close(gated.release)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func TestCollectionSummary_Save(t *testing.T) {
	dir := t.TempDir()
	summary := &CollectionSummary{
		RunID:             "run-1",
		TotalReports:      1,
		SuccessfulReports: 1,
		Results:           []ReportResult{{Report: "a.info", Success: true, Sections: 2}},
	}

	path, err := summary.Save(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))

	loaded, err := LoadCollectionSummary(path)
	require.NoError(t, err)
	assert.Equal(t, summary, loaded)

	explicit := filepath.Join(dir, "summary.json")
	path, err = summary.Save(explicit)
	require.NoError(t, err)
	assert.Equal(t, explicit, path)
}
