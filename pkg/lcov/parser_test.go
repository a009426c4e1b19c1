package lcov_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jupierce/lcov-import/pkg/coverage"
	"github.com/jupierce/lcov-import/pkg/lcov"
)

const tracefile = `TN:unit
SF:/ws/a/src/x.cc
FN:3,_ZN3foo3barEv
FN:10,12,main
FNDA:4,_ZN3foo3barEv
FNDA:1,main
FNDA:9,not_declared
FNF:2
FNH:2
DA:3,2
DA:1,0
DA:3,5
BRDA:3,0,0,1
BRDA:3,0,0,1
BRDA:3,0,1,-
BRF:3
BRH:2
LF:2
LH:1
end_of_record
SF:/ws/b/y.c
DA:7,1
end_of_record
`

func TestParseLCOV(t *testing.T) {
	t.Parallel()

	sections, err := lcov.ParseLCOV(strings.NewReader(tracefile))
	require.NoError(t, err)
	require.Len(t, sections, 2)

	want := coverage.Section{
		Path:      "/ws/a/src/x.cc",
		Lines:     coverage.Counts{Hit: 1, Instrumented: 2},
		Branches:  coverage.Counts{Hit: 2, Instrumented: 3},
		Functions: coverage.Counts{Hit: 2, Instrumented: 2},
		LineDetails: []coverage.LineDetail{
			{Line: 3, Hit: 2},
			{Line: 1, Hit: 0},
			{Line: 3, Hit: 5},
		},
		BranchDetails: []coverage.BranchDetail{
			{Line: 3, Branch: "0,0", Hit: 1},
			{Line: 3, Branch: "0,0", Hit: 1},
			{Line: 3, Branch: "0,1", Hit: 0},
		},
		FunctionDetails: []coverage.FunctionDetail{
			{Name: "_ZN3foo3barEv", Line: 3, Hit: 4},
			{Name: "main", Line: 10, Hit: 1},
		},
	}
	if diff := cmp.Diff(want, sections[0]); diff != "" {
		t.Fatalf("first section mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, "/ws/b/y.c", sections[1].Path)
	assert.Equal(t, coverage.Counts{Hit: 1, Instrumented: 1}, sections[1].Lines)
	assert.Equal(t, coverage.Counts{}, sections[1].Branches)
}

func TestParseLCOV_ComputesMissingSummaries(t *testing.T) {
	t.Parallel()

	sections, err := lcov.ParseLCOV(strings.NewReader(
		"SF:f.c\nFN:1,f\nFN:5,g\nFNDA:2,f\nDA:1,1\nDA:2,0\nBRDA:2,0,0,0\nBRDA:2,0,1,3\n"))
	require.NoError(t, err)
	require.Len(t, sections, 1)

	s := sections[0]
	assert.Equal(t, coverage.Counts{Hit: 1, Instrumented: 2}, s.Lines)
	assert.Equal(t, coverage.Counts{Hit: 1, Instrumented: 2}, s.Branches)
	assert.Equal(t, coverage.Counts{Hit: 1, Instrumented: 2}, s.Functions)
}

func TestParseLCOV_SameFileTwiceStaysSeparate(t *testing.T) {
	t.Parallel()

	sections, err := lcov.ParseLCOV(strings.NewReader(
		"SF:f.c\nDA:1,1\nend_of_record\nSF:f.c\nDA:1,4\nend_of_record\n"))
	require.NoError(t, err)
	require.Len(t, sections, 2)
	assert.Equal(t, 1, sections[0].LineDetails[0].Hit)
	assert.Equal(t, 4, sections[1].LineDetails[0].Hit)
}

func TestParseLCOV_Malformed(t *testing.T) {
	t.Parallel()

	for _, input := range []string{
		"SF:f.c\nDA:x,1\n",
		"SF:f.c\nDA:1\n",
		"SF:f.c\nBRDA:1,0,0\n",
		"SF:f.c\nLF:-2\n",
		"SF:f.c\nFNDA:1\n",
	} {
		_, err := lcov.ParseLCOV(strings.NewReader(input))
		require.Error(t, err, input)
		assert.True(t, errors.Is(err, lcov.ErrMalformed), input)
	}
}

func TestParseLCOV_SkipsRecordsBeforeFirstLine(t *testing.T) {
	t.Parallel()

	input := "SF:f.c\nFN:0,__cxx_global_init\nFNDA:1,__cxx_global_init\nFN:4,main\nFNDA:2,main\n" +
		"DA:0,3\nDA:4,2\nBRDA:0,0,0,1\nBRDA:4,0,0,1\nend_of_record\n"

	type skipped struct {
		lineNo int
		record string
	}
	var got []skipped
	sections, err := lcov.ParseLCOVWithSkip(strings.NewReader(input), func(lineNo int, record string, err error) {
		assert.True(t, errors.Is(err, lcov.ErrLineOutOfRange))
		got = append(got, skipped{lineNo, record})
	})
	require.NoError(t, err)
	require.Len(t, sections, 1)

	s := sections[0]
	assert.Equal(t, []coverage.LineDetail{{Line: 4, Hit: 2}}, s.LineDetails)
	assert.Equal(t, []coverage.BranchDetail{{Line: 4, Branch: "0,0", Hit: 1}}, s.BranchDetails)
	assert.Equal(t, []coverage.FunctionDetail{{Name: "main", Line: 4, Hit: 2}}, s.FunctionDetails)
	assert.Equal(t, coverage.Counts{Hit: 1, Instrumented: 1}, s.Lines)

	assert.Equal(t, []skipped{
		{2, "FN:0,__cxx_global_init"},
		{6, "DA:0,3"},
		{8, "BRDA:0,0,0,1"},
	}, got)

	// without a callback the records are still dropped
	sections, err = lcov.Parse([]byte(input))
	require.NoError(t, err)
	assert.Len(t, sections[0].LineDetails, 1)
}

func TestParseLCOV_IgnoresUnknownRecords(t *testing.T) {
	t.Parallel()

	sections, err := lcov.ParseLCOV(strings.NewReader(
		"TN:\nVER:2\nSF:f.c\nXYZ:1,2\nnot a record\nDA:2,1,abcdef\nend_of_record\n"))
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Equal(t, []coverage.LineDetail{{Line: 2, Hit: 1}}, sections[0].LineDetails)
}

func TestDetect(t *testing.T) {
	t.Parallel()

	assert.Equal(t, lcov.FormatGoProfile, lcov.Detect([]byte("\n  mode: set\nx.go:1.1,2.2 1 1\n")))
	assert.Equal(t, lcov.FormatLCOV, lcov.Detect([]byte("TN:\nSF:x\n")))
	assert.Equal(t, lcov.FormatLCOV, lcov.Detect(nil))
}

func TestParse_GoProfile(t *testing.T) {
	t.Parallel()

	profile := `mode: count
example.com/m/a.go:3.10,5.2 2 4
example.com/m/a.go:5.2,7.3 1 0
example.com/m/a.go:9.1,9.20 1 0
`
	sections, err := lcov.Parse([]byte(profile))
	require.NoError(t, err)
	require.Len(t, sections, 1)

	s := sections[0]
	assert.Equal(t, "example.com/m/a.go", s.Path)
	assert.Equal(t, []coverage.LineDetail{
		{Line: 3, Hit: 4},
		{Line: 4, Hit: 4},
		{Line: 5, Hit: 4},
		{Line: 6, Hit: 0},
		{Line: 7, Hit: 0},
		{Line: 9, Hit: 0},
	}, s.LineDetails)
	assert.Equal(t, coverage.Counts{Hit: 3, Instrumented: 6}, s.Lines)
	assert.Empty(t, s.BranchDetails)
	assert.Empty(t, s.FunctionDetails)
}
