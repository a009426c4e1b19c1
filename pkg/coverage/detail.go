package coverage

import (
	"context"
	"regexp"
)

// mangledPrefix matches Itanium-style symbols: one to three underscores
// followed by 'Z' (_Z, __Z, ___Z).
var mangledPrefix = regexp.MustCompile(`^_{1,3}Z`)

// IsMangled reports whether name looks like a mangled C++ symbol
func IsMangled(name string) bool {
	return mangledPrefix.MatchString(name)
}

// Demangler resolves mangled symbol names. On error the builder keeps the
// original name for that entry.
type Demangler interface {
	Demangle(ctx context.Context, name string) (string, error)
}

// Position is a 0-based line/character location
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// BranchCoverage is one branch arm of a statement
type BranchCoverage struct {
	Label    string   `json:"label"`
	Executed int      `json:"executed"`
	Position Position `json:"position"`
}

// StatementCoverage is the execution count of one reported line together with
// the branches reported on that line.
type StatementCoverage struct {
	Executed int              `json:"executed"`
	Position Position         `json:"position"`
	Branches []BranchCoverage `json:"branches"`
}

// DeclarationCoverage is the execution count of one function
type DeclarationCoverage struct {
	Name     string   `json:"name"`
	Executed int      `json:"executed"`
	Position Position `json:"position"`
}

// DetailModel is the per-line projection of one section. It is built on
// request and never mutated afterwards.
type DetailModel struct {
	Statements   []StatementCoverage   `json:"statements"`
	Declarations []DeclarationCoverage `json:"declarations"`
}

// BuildDetail builds the detail model of a section. Statements follow the
// order of the line details and declarations the order of the function
// details; nothing is sorted. A nil demangler leaves names as reported.
func BuildDetail(ctx context.Context, section *Section, d Demangler) DetailModel {
	branches := GroupBranches(section.BranchDetails)

	model := DetailModel{
		Statements:   make([]StatementCoverage, 0, len(section.LineDetails)),
		Declarations: make([]DeclarationCoverage, 0, len(section.FunctionDetails)),
	}

	for _, line := range section.LineDetails {
		counts := branches.Line(line.Line)
		stmt := StatementCoverage{
			Executed: line.Hit,
			Position: Position{Line: line.Line - 1},
			Branches: make([]BranchCoverage, 0, len(counts)),
		}
		for _, b := range counts {
			stmt.Branches = append(stmt.Branches, BranchCoverage{
				Label:    b.Branch,
				Executed: b.Hit,
				Position: Position{Line: b.Line - 1},
			})
		}
		model.Statements = append(model.Statements, stmt)
	}

	for _, fn := range section.FunctionDetails {
		if fn.Name == "" {
			continue
		}

		model.Declarations = append(model.Declarations, DeclarationCoverage{
			Name:     displayName(ctx, fn.Name, d),
			Executed: fn.Hit,
			Position: Position{Line: fn.Line - 1},
		})
	}

	return model
}

func displayName(ctx context.Context, name string, d Demangler) string {
	if d == nil || !IsMangled(name) {
		return name
	}
	demangled, err := d.Demangle(ctx, name)
	if err != nil || demangled == "" {
		return name
	}
	return demangled
}
