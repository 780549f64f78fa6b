// Package align computes minimum edit distance alignments between two word
// sequences.
//
// The table is filled with unit costs for substitution, insertion and
// deletion. Backtracking walks from the bottom-right corner and, when several
// predecessors are optimal, prefers Match, then Substitute, then Delete, then
// Insert. The preference order makes alignments reproducible across runs.
package align

import (
	"errors"
	"fmt"
)

// ErrTooLarge is returned when |A|*|B| exceeds the configured cell budget.
var ErrTooLarge = errors.New("alignment exceeds cell budget")

// Kind is the edit operation of a single alignment step.
type Kind uint8

const (
	Match Kind = iota
	Substitute
	Delete
	Insert
)

func (k Kind) String() string {
	switch k {
	case Match:
		return "match"
	case Substitute:
		return "substitute"
	case Delete:
		return "delete"
	case Insert:
		return "insert"
	default:
		return "unknown"
	}
}

// Op is one alignment step. RefIndex is -1 for Insert and HypIndex is -1 for
// Delete; Ref and Hyp are empty on the side that has no token.
type Op struct {
	Kind     Kind
	Ref      string
	Hyp      string
	RefIndex int
	HypIndex int
}

// Counts tallies the operations of an alignment.
type Counts struct {
	Hits          int
	Substitutions int
	Deletions     int
	Insertions    int
}

// Errors returns S+D+I.
func (c Counts) Errors() int {
	return c.Substitutions + c.Deletions + c.Insertions
}

// Aligner aligns sequences under a cell budget. The zero value has no budget.
type Aligner struct {
	// MaxCells bounds |A|*|B|. Zero or negative disables the check.
	MaxCells int
}

// Check reports whether aligning sequences of length n and m fits the budget.
// It never allocates.
func (a Aligner) Check(n, m int) error {
	if a.MaxCells <= 0 || n == 0 || m == 0 {
		return nil
	}
	if n > a.MaxCells/m {
		return fmt.Errorf("%w: %d x %d > %d", ErrTooLarge, n, m, a.MaxCells)
	}
	return nil
}

// Align returns the operations transforming ref into hyp. Every token of both
// sequences appears in exactly one op, in order.
func (a Aligner) Align(ref, hyp []string) ([]Op, error) {
	if err := a.Check(len(ref), len(hyp)); err != nil {
		return nil, err
	}
	return Align(ref, hyp), nil
}

// Align aligns without a cell budget.
func Align(ref, hyp []string) []Op {
	n, m := len(ref), len(hyp)
	switch {
	case n == 0:
		ops := make([]Op, m)
		for j, w := range hyp {
			ops[j] = Op{Kind: Insert, Hyp: w, RefIndex: -1, HypIndex: j}
		}
		return ops
	case m == 0:
		ops := make([]Op, n)
		for i, w := range ref {
			ops[i] = Op{Kind: Delete, Ref: w, RefIndex: i, HypIndex: -1}
		}
		return ops
	}

	cost := table(ref, hyp)

	ops := make([]Op, 0, max(n, m))
	i, j := n, m
	for i > 0 || j > 0 {
		c := cost[i][j]
		switch {
		case i > 0 && j > 0 && ref[i-1] == hyp[j-1] && c == cost[i-1][j-1]:
			ops = append(ops, Op{Kind: Match, Ref: ref[i-1], Hyp: hyp[j-1], RefIndex: i - 1, HypIndex: j - 1})
			i--
			j--
		case i > 0 && j > 0 && ref[i-1] != hyp[j-1] && c == cost[i-1][j-1]+1:
			ops = append(ops, Op{Kind: Substitute, Ref: ref[i-1], Hyp: hyp[j-1], RefIndex: i - 1, HypIndex: j - 1})
			i--
			j--
		case i > 0 && c == cost[i-1][j]+1:
			ops = append(ops, Op{Kind: Delete, Ref: ref[i-1], RefIndex: i - 1, HypIndex: -1})
			i--
		default:
			ops = append(ops, Op{Kind: Insert, Hyp: hyp[j-1], RefIndex: -1, HypIndex: j - 1})
			j--
		}
	}

	for l, r := 0, len(ops)-1; l < r; l, r = l+1, r-1 {
		ops[l], ops[r] = ops[r], ops[l]
	}
	return ops
}

// Distance returns the edit distance between ref and hyp.
func Distance(ref, hyp []string) int {
	if len(ref) == 0 {
		return len(hyp)
	}
	if len(hyp) == 0 {
		return len(ref)
	}
	return table(ref, hyp)[len(ref)][len(hyp)]
}

// Count tallies ops by kind.
func Count(ops []Op) Counts {
	var c Counts
	for _, op := range ops {
		switch op.Kind {
		case Match:
			c.Hits++
		case Substitute:
			c.Substitutions++
		case Delete:
			c.Deletions++
		case Insert:
			c.Insertions++
		}
	}
	return c
}

// table fills the (n+1) x (m+1) cost matrix. Rows share one backing array.
func table(ref, hyp []string) [][]int {
	n, m := len(ref), len(hyp)
	cells := make([]int, (n+1)*(m+1))
	cost := make([][]int, n+1)
	for i := range cost {
		cost[i] = cells[i*(m+1) : (i+1)*(m+1)]
		cost[i][0] = i
	}
	for j := 0; j <= m; j++ {
		cost[0][j] = j
	}

	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			sub := cost[i-1][j-1]
			if ref[i-1] != hyp[j-1] {
				sub++
			}
			del := cost[i-1][j] + 1
			ins := cost[i][j-1] + 1
			best := sub
			if del < best {
				best = del
			}
			if ins < best {
				best = ins
			}
			cost[i][j] = best
		}
	}
	return cost
}
