package coverage

import (
	"os"
	"path/filepath"
	"strings"
)

// ResolvedPath identifies the file a section belongs to. When Root is set the
// file lives in that workspace root at Rel; otherwise Path is the reported
// path, verbatim.
type ResolvedPath struct {
	Root string `json:"root,omitempty"`
	Rel  string `json:"rel,omitempty"`
	Path string `json:"path"`
}

// InWorkspace reports whether the path was matched to a workspace root
func (p ResolvedPath) InWorkspace() bool {
	return p.Root != ""
}

// Display returns the label shown for the file: the workspace-relative path
// when resolved, the reported path otherwise.
func (p ResolvedPath) Display() string {
	if p.InWorkspace() {
		return filepath.ToSlash(p.Rel)
	}
	return p.Path
}

// Location returns a filesystem location for the file. For resolved paths this
// joins the root and the relative suffix.
func (p ResolvedPath) Location() string {
	if p.InWorkspace() {
		return filepath.Join(p.Root, p.Rel)
	}
	return p.Path
}

// ResolvePath maps a reported path onto the first workspace root that contains
// it. A root only matches on a path-segment boundary: "/ws/a" matches
// "/ws/a/x.cc" but not "/ws/ab/x.cc". No cleaning of ".." or symlinks is done.
func ResolvePath(reported string, roots []string) ResolvedPath {
	for _, root := range roots {
		if root == "" {
			continue
		}

		prefix := root
		if !strings.HasSuffix(prefix, string(os.PathSeparator)) {
			prefix += string(os.PathSeparator)
		}

		if strings.HasPrefix(reported, prefix) {
			return ResolvedPath{
				Root: root,
				Rel:  reported[len(prefix):],
				Path: reported,
			}
		}
	}

	return ResolvedPath{Path: reported}
}
