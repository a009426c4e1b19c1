// Package lcov parses coverage reports into per-file sections. LCOV
// tracefiles are read record by record; Go cover profiles are detected and
// converted through golang.org/x/tools/cover.
package lcov

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jupierce/lcov-import/pkg/coverage"
)

// ErrMalformed is returned for records that cannot be decoded
var ErrMalformed = errors.New("malformed coverage record")

// ErrLineOutOfRange marks a DA, BRDA or FN record whose line number is below
// 1. Such records are dropped instead of failing the report.
var ErrLineOutOfRange = errors.New("line number out of range")

// SkipFunc is called for every record dropped with ErrLineOutOfRange
type SkipFunc func(lineNo int, record string, err error)

// Format identifies the syntax of a coverage report
type Format string

const (
	FormatLCOV      Format = "lcov"
	FormatGoProfile Format = "go"
)

// Detect guesses the report format from its first non-blank line
func Detect(data []byte) Format {
	for len(data) > 0 {
		var line []byte
		line, data, _ = bytes.Cut(data, []byte("\n"))
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if bytes.HasPrefix(line, []byte("mode:")) {
			return FormatGoProfile
		}
		return FormatLCOV
	}
	return FormatLCOV
}

// Parse decodes a coverage report of any supported format
func Parse(data []byte) ([]coverage.Section, error) {
	return ParseWithSkip(data, nil)
}

// ParseWithSkip is Parse with skip called for every dropped record
func ParseWithSkip(data []byte, skip SkipFunc) ([]coverage.Section, error) {
	if Detect(data) == FormatGoProfile {
		return ParseGoProfile(bytes.NewReader(data))
	}
	return ParseLCOVWithSkip(bytes.NewReader(data), skip)
}

// sectionBuilder accumulates the records of one SF..end_of_record block
type sectionBuilder struct {
	section coverage.Section

	// FN records declare functions, FNDA records attach hits by name
	fnIndex map[string][]int

	hasLF, hasLH   bool
	hasBRF, hasBRH bool
	hasFNF, hasFNH bool
}

func newSectionBuilder(path string) *sectionBuilder {
	return &sectionBuilder{
		section: coverage.Section{Path: path},
		fnIndex: make(map[string][]int),
	}
}

// finish fills in aggregate counts the report did not state explicitly
func (b *sectionBuilder) finish() coverage.Section {
	s := b.section

	if !b.hasLF {
		s.Lines.Instrumented = len(s.LineDetails)
	}
	if !b.hasLH {
		s.Lines.Hit = 0
		for _, l := range s.LineDetails {
			if l.Hit > 0 {
				s.Lines.Hit++
			}
		}
	}
	if !b.hasBRF {
		s.Branches.Instrumented = len(s.BranchDetails)
	}
	if !b.hasBRH {
		s.Branches.Hit = 0
		for _, br := range s.BranchDetails {
			if br.Hit > 0 {
				s.Branches.Hit++
			}
		}
	}
	if !b.hasFNF {
		s.Functions.Instrumented = len(s.FunctionDetails)
	}
	if !b.hasFNH {
		s.Functions.Hit = 0
		for _, fn := range s.FunctionDetails {
			if fn.Hit > 0 {
				s.Functions.Hit++
			}
		}
	}

	return s
}

// ParseLCOV decodes an LCOV tracefile. Sections are returned in report order;
// details keep their order within each section.
func ParseLCOV(r io.Reader) ([]coverage.Section, error) {
	return ParseLCOVWithSkip(r, nil)
}

// ParseLCOVWithSkip is ParseLCOV with skip called for every record that
// names a line below 1. Those records are dropped and parsing continues.
func ParseLCOVWithSkip(r io.Reader, skip SkipFunc) ([]coverage.Section, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var sections []coverage.Section
	var cur *sectionBuilder
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if line == "end_of_record" {
			if cur != nil {
				sections = append(sections, cur.finish())
				cur = nil
			}
			continue
		}

		kind, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}

		if kind == "SF" {
			if cur != nil {
				// missing end_of_record: close the previous file
				sections = append(sections, cur.finish())
			}
			cur = newSectionBuilder(value)
			continue
		}
		if cur == nil {
			// TN and other records outside a file block
			continue
		}

		if err := cur.record(kind, value); err != nil {
			if errors.Is(err, ErrLineOutOfRange) {
				if skip != nil {
					skip(lineNo, line, err)
				}
				continue
			}
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}

	if cur != nil {
		sections = append(sections, cur.finish())
	}

	return sections, nil
}

func (b *sectionBuilder) record(kind, value string) error {
	s := &b.section

	switch kind {
	case "DA":
		fields := strings.Split(value, ",")
		if len(fields) < 2 {
			return fmt.Errorf("%w: DA:%s", ErrMalformed, value)
		}
		line, err := parseLine(fields[0])
		if err != nil {
			return err
		}
		hit, err := parseHits(fields[1])
		if err != nil {
			return err
		}
		s.LineDetails = append(s.LineDetails, coverage.LineDetail{Line: line, Hit: hit})

	case "BRDA":
		fields := strings.Split(value, ",")
		if len(fields) < 4 {
			return fmt.Errorf("%w: BRDA:%s", ErrMalformed, value)
		}
		line, err := parseLine(fields[0])
		if err != nil {
			return err
		}
		// Some tools append expression text after the taken count
		taken := fields[3]
		hit := 0
		if taken != "-" {
			if hit, err = parseHits(taken); err != nil {
				return err
			}
		}
		s.BranchDetails = append(s.BranchDetails, coverage.BranchDetail{
			Line:   line,
			Branch: fields[1] + "," + fields[2],
			Hit:    hit,
		})

	case "FN":
		fields := strings.Split(value, ",")
		if len(fields) < 2 {
			return fmt.Errorf("%w: FN:%s", ErrMalformed, value)
		}
		line, err := parseLine(fields[0])
		if err != nil {
			return err
		}
		// FN:<line>,<name> or FN:<line>,<end line>,<name>
		name := strings.Join(fields[1:], ",")
		if len(fields) >= 3 {
			if _, err := strconv.Atoi(fields[1]); err == nil {
				name = strings.Join(fields[2:], ",")
			}
		}
		b.fnIndex[name] = append(b.fnIndex[name], len(s.FunctionDetails))
		s.FunctionDetails = append(s.FunctionDetails, coverage.FunctionDetail{Name: name, Line: line})

	case "FNDA":
		hits, name, ok := strings.Cut(value, ",")
		if !ok {
			return fmt.Errorf("%w: FNDA:%s", ErrMalformed, value)
		}
		hit, err := parseHits(hits)
		if err != nil {
			return err
		}
		for _, i := range b.fnIndex[name] {
			s.FunctionDetails[i].Hit += hit
		}

	case "LF":
		n, err := parseCount(kind, value)
		if err != nil {
			return err
		}
		s.Lines.Instrumented, b.hasLF = n, true
	case "LH":
		n, err := parseCount(kind, value)
		if err != nil {
			return err
		}
		s.Lines.Hit, b.hasLH = n, true
	case "BRF":
		n, err := parseCount(kind, value)
		if err != nil {
			return err
		}
		s.Branches.Instrumented, b.hasBRF = n, true
	case "BRH":
		n, err := parseCount(kind, value)
		if err != nil {
			return err
		}
		s.Branches.Hit, b.hasBRH = n, true
	case "FNF":
		n, err := parseCount(kind, value)
		if err != nil {
			return err
		}
		s.Functions.Instrumented, b.hasFNF = n, true
	case "FNH":
		n, err := parseCount(kind, value)
		if err != nil {
			return err
		}
		s.Functions.Hit, b.hasFNH = n, true
	}

	return nil
}

func parseLine(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: line number %q", ErrMalformed, s)
	}
	if n < 1 {
		return 0, fmt.Errorf("%w: %d", ErrLineOutOfRange, n)
	}
	return n, nil
}

// parseHits accepts integer counts; gcov can emit large or fractional values
// which are truncated.
func parseHits(s string) (int, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("%w: hit count %q", ErrMalformed, s)
	}
	return int(f), nil
}

func parseCount(kind, s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s:%s", ErrMalformed, kind, s)
	}
	return n, nil
}
