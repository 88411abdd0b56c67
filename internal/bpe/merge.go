package bpe

import (
	"fmt"
	"strings"
)

// Merge is a learned rule Left+Right -> Result. Rank is the iteration at
// which it was learned; lower ranks apply first.
type Merge struct {
	Left   string
	Right  string
	Result string
	Rank   int
}

// String renders the rule in the "left right" line format. Byte symbols
// never contain whitespace, so the separator is unambiguous.
func (m Merge) String() string { return m.Left + " " + m.Right }

// ParseMerge parses a "left right" line.
func ParseMerge(line string, rank int) (Merge, error) {
	left, right, ok := strings.Cut(line, " ")
	if !ok || left == "" || right == "" || strings.Contains(right, " ") {
		return Merge{}, &ConfigError{Field: "merges", Reason: fmt.Sprintf("rank %d: malformed rule %q", rank, line)}
	}

	return Merge{Left: left, Right: right, Result: left + right, Rank: rank}, nil
}

type pair struct {
	left, right int
}

type mergeRef struct {
	rank   int
	result int
}
