package coverage

// BranchCount is the accumulated execution count of one branch arm
type BranchCount struct {
	Line   int
	Branch string
	Hit    int
}

type branchGroup struct {
	index  map[string]int
	counts []BranchCount
}

// BranchGroups maps line -> branch identifier -> accumulated count. Lines and
// identifiers within a line iterate in first-seen order.
type BranchGroups struct {
	byLine map[int]*branchGroup
	lines  []int
}

// GroupBranches sums the hit counts of entries that share (line, branch) and
// keeps the order in which distinct branches were first seen on each line.
func GroupBranches(details []BranchDetail) *BranchGroups {
	g := &BranchGroups{byLine: make(map[int]*branchGroup)}

	for _, d := range details {
		group, ok := g.byLine[d.Line]
		if !ok {
			group = &branchGroup{index: make(map[string]int)}
			g.byLine[d.Line] = group
			g.lines = append(g.lines, d.Line)
		}

		i, ok := group.index[d.Branch]
		if !ok {
			i = len(group.counts)
			group.index[d.Branch] = i
			group.counts = append(group.counts, BranchCount{Line: d.Line, Branch: d.Branch})
		}
		group.counts[i].Hit += d.Hit
	}

	return g
}

// Line returns the branches of line in first-seen order. A line without
// branches yields an empty, non-nil slice.
func (g *BranchGroups) Line(line int) []BranchCount {
	group, ok := g.byLine[line]
	if !ok {
		return []BranchCount{}
	}
	out := make([]BranchCount, len(group.counts))
	copy(out, group.counts)
	return out
}

// Lines returns the lines that carry branches, in first-seen order
func (g *BranchGroups) Lines() []int {
	out := make([]int, len(g.lines))
	copy(out, g.lines)
	return out
}

// Len returns the number of distinct (line, branch) records
func (g *BranchGroups) Len() int {
	n := 0
	for _, group := range g.byLine {
		n += len(group.counts)
	}
	return n
}
