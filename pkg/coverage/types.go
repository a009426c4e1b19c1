// Package coverage turns per-file coverage sections into the per-line model
// shown to users: workspace-relative file identities, branch records grouped
// per line, and statement/declaration entries with demangled names.
package coverage

// Counts is a hit/instrumented pair for one coverage kind
type Counts struct {
	Hit          int `json:"hit"`
	Instrumented int `json:"instrumented"`
}

// Percent returns the covered share in the range 0-100
func (c Counts) Percent() float64 {
	if c.Instrumented == 0 {
		return 0
	}
	return float64(c.Hit) / float64(c.Instrumented) * 100
}

// LineDetail is the execution count of one source line (1-based)
type LineDetail struct {
	Line int `json:"line"`
	Hit  int `json:"hit"`
}

// BranchDetail is the execution count of one branch arm. Branch is opaque:
// it only distinguishes arms reported on the same line.
type BranchDetail struct {
	Line   int    `json:"line"`
	Branch string `json:"branch"`
	Hit    int    `json:"hit"`
}

// FunctionDetail is the execution count of one function starting at Line
type FunctionDetail struct {
	Name string `json:"name"`
	Line int    `json:"line"`
	Hit  int    `json:"hit"`
}

// Section is the coverage record of one source file within one report.
// Details keep the order the parser produced them in; duplicates and
// out-of-order entries are allowed.
type Section struct {
	Path string `json:"path"`

	Lines     Counts `json:"lines"`
	Branches  Counts `json:"branches"`
	Functions Counts `json:"functions"`

	LineDetails     []LineDetail     `json:"line_details,omitempty"`
	BranchDetails   []BranchDetail   `json:"branch_details,omitempty"`
	FunctionDetails []FunctionDetail `json:"function_details,omitempty"`
}
