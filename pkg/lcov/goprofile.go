package lcov

import (
	"fmt"
	"io"
	"sort"

	"golang.org/x/tools/cover"

	"github.com/jupierce/lcov-import/pkg/coverage"
)

// ParseGoProfile converts a Go cover profile into sections. Each source line
// touched by a block gets the highest count of the blocks covering it.
func ParseGoProfile(r io.Reader) ([]coverage.Section, error) {
	profiles, err := cover.ParseProfilesFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse profiles: %w", err)
	}

	sections := make([]coverage.Section, 0, len(profiles))
	for _, profile := range profiles {
		sections = append(sections, sectionFromProfile(profile))
	}
	return sections, nil
}

func sectionFromProfile(profile *cover.Profile) coverage.Section {
	lineCounts := make(map[int]int)
	for _, block := range profile.Blocks {
		for line := block.StartLine; line <= block.EndLine; line++ {
			if existing, ok := lineCounts[line]; !ok || block.Count > existing {
				lineCounts[line] = block.Count
			}
		}
	}

	lines := make([]int, 0, len(lineCounts))
	for line := range lineCounts {
		lines = append(lines, line)
	}
	sort.Ints(lines)

	s := coverage.Section{Path: profile.FileName}
	for _, line := range lines {
		hit := lineCounts[line]
		s.LineDetails = append(s.LineDetails, coverage.LineDetail{Line: line, Hit: hit})
		if hit > 0 {
			s.Lines.Hit++
		}
	}
	s.Lines.Instrumented = len(lines)

	return s
}
