// Package discover locates coverage reports under a workspace root by glob
// pattern and watches the tree for reports appearing or disappearing.
package discover

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

// skipDirs are never descended into
var skipDirs = []string{".git", "node_modules"}

// Matcher matches slash-separated paths against a set of glob patterns.
// "*" stays within one path segment, "**" spans segments, and a leading "**/"
// also matches at the top level.
type Matcher struct {
	patterns []string
	globs    []glob.Glob
}

// Compile builds a matcher from patterns. Absolute patterns are matched
// against absolute paths, relative ones against paths relative to the root.
func Compile(patterns []string) (*Matcher, error) {
	m := &Matcher{}
	for _, p := range patterns {
		p = filepath.ToSlash(strings.TrimSpace(p))
		if p == "" {
			continue
		}

		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("compile pattern %q: %w", p, err)
		}
		m.patterns = append(m.patterns, p)
		m.globs = append(m.globs, g)

		if rest, ok := strings.CutPrefix(p, "**/"); ok {
			g, err := glob.Compile(rest, '/')
			if err != nil {
				return nil, fmt.Errorf("compile pattern %q: %w", p, err)
			}
			m.globs = append(m.globs, g)
		}
	}
	return m, nil
}

// Patterns returns the normalized patterns the matcher was built from
func (m *Matcher) Patterns() []string {
	return m.patterns
}

// Match reports whether the file at abs (relative path rel) matches any pattern
func (m *Matcher) Match(rel, abs string) bool {
	rel = filepath.ToSlash(rel)
	abs = filepath.ToSlash(abs)
	for _, g := range m.globs {
		if g.Match(rel) || g.Match(abs) {
			return true
		}
	}
	return false
}

// Empty reports whether the matcher has no patterns
func (m *Matcher) Empty() bool {
	return len(m.globs) == 0
}

// Find walks root and returns the absolute paths of files matching any of
// patterns, de-duplicated and sorted.
func Find(root string, patterns []string) ([]string, error) {
	m, err := Compile(patterns)
	if err != nil {
		return nil, err
	}
	return m.Find(root)
}

// Find walks root and returns the sorted absolute paths of matching files
func (m *Matcher) Find(root string) ([]string, error) {
	if m.Empty() {
		return nil, nil
	}

	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}

	seen := make(map[string]bool)
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			// unreadable subtrees are skipped
			return nil
		}
		if d.IsDir() {
			if p != root && skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		if m.Match(rel, p) {
			seen[p] = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	files := make([]string, 0, len(seen))
	for p := range seen {
		files = append(files, p)
	}
	sort.Strings(files)

	return files, nil
}

func skipDir(name string) bool {
	for _, s := range skipDirs {
		if s == name {
			return true
		}
	}
	return false
}
