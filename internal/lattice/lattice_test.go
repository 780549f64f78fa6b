package lattice

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snarg/wer-engine/internal/align"
)

func words(s string) []string { return strings.Fields(s) }

// build aligns each hypothesis against ref in the given order.
func build(ref string, hyps ...string) (*Alignment, *Lattice) {
	r := words(ref)
	traces := make([]Trace, len(hyps))
	for i, h := range hyps {
		traces[i] = Trace{Source: "m" + string(rune('1'+i)), Ops: align.Align(r, words(h))}
	}
	a := Merge(r, traces)
	return a, Build(a)
}

func slotTokens(a *Alignment) []string {
	var out []string
	for _, s := range a.Slots {
		if s.Reference.Present {
			out = append(out, s.Reference.Token)
			continue
		}
		for _, c := range s.Hypotheses {
			if c.Present {
				out = append(out, "+"+c.Token)
				break
			}
		}
	}
	return out
}

func TestMerge_IdenticalSequences(t *testing.T) {
	a, _ := build("a b c", "a b c", "a b c")
	require.Len(t, a.Slots, 3)
	for i, s := range a.Slots {
		assert.Equal(t, i, s.Index)
		assert.Equal(t, i, s.Anchor)
		assert.False(t, s.Inserted)
		for _, c := range s.Hypotheses {
			assert.Equal(t, Cell{Token: s.Reference.Token, Present: true}, c)
		}
	}
}

func TestMerge_SharedInsertionUsesOneSlot(t *testing.T) {
	a, _ := build("a b c d", "a b z c d", "a b z c d", "a b c d")
	assert.Equal(t, []string{"a", "b", "+z", "c", "d"}, slotTokens(a))

	z := a.Slots[2]
	assert.True(t, z.Inserted)
	assert.Equal(t, 2, z.Anchor)
	assert.False(t, z.Reference.Present)
	assert.Equal(t, []Cell{{"z", true}, {"z", true}, {}}, z.Hypotheses)
}

func TestMerge_DistinctInsertionsBecomeSiblingSlots(t *testing.T) {
	a, _ := build("a b", "a x b", "a y b", "a x b")
	assert.Equal(t, []string{"a", "+x", "+y", "b"}, slotTokens(a))
	assert.Equal(t, []Cell{{}, {"y", true}, {}}, a.Slots[2].Hypotheses)
}

func TestMerge_RepeatedInsertionInOneGap(t *testing.T) {
	a, _ := build("a b", "a z z b")
	assert.Equal(t, []string{"a", "+z", "+z", "b"}, slotTokens(a))
	assert.Equal(t, []string{"a", "z", "z", "b"}, a.Column(0))
}

func TestMerge_LeadingAndTrailingInsertions(t *testing.T) {
	a, _ := build("b", "a b c")
	assert.Equal(t, []string{"+a", "b", "+c"}, slotTokens(a))
	assert.Equal(t, 0, a.Slots[0].Anchor)
	assert.Equal(t, 1, a.Slots[2].Anchor)
}

func TestMerge_EmptyHypothesis(t *testing.T) {
	a, _ := build("a b c", "")
	require.Len(t, a.Slots, 3)
	for _, s := range a.Slots {
		assert.False(t, s.Hypotheses[0].Present)
	}
}

func TestMerge_EmptyReference(t *testing.T) {
	a, _ := build("", "x y", "x")
	assert.Equal(t, []string{"+x", "+y"}, slotTokens(a))
	assert.Equal(t, []string{"x", "y"}, a.Column(0))
	assert.Equal(t, []string{"x"}, a.Column(1))
}

func TestMerge_ColumnReconstructsHypothesis(t *testing.T) {
	hyps := []string{"the cat sat", "a cat sat down", "cat", "the the cat sat on"}
	a, _ := build("the cat sat on the mat", hyps...)
	for i, h := range hyps {
		assert.Equal(t, words(h), a.Column(i), "hypothesis %d", i)
	}
}

func TestBuild_NodesAndConfidence(t *testing.T) {
	// reference has x where four of five hypotheses hear c
	_, l := build("a b x d e",
		"a b c d e", "a b c d e", "a b c d e", "a b c d e", "a b x d e")

	nodes := l.NodesAt(2)
	require.Len(t, nodes, 2)

	x, c := nodes[0], nodes[1]
	assert.Equal(t, "x", x.Token)
	assert.True(t, x.Reference)
	assert.Equal(t, []string{"m5"}, x.Sources)
	assert.InDelta(t, 0.2, x.Confidence, 1e-12)
	assert.Equal(t, 2, x.Votes())

	assert.Equal(t, "c", c.Token)
	assert.False(t, c.Reference)
	assert.Equal(t, []string{"m1", "m2", "m3", "m4"}, c.Sources)
	assert.InDelta(t, 0.8, c.Confidence, 1e-12)

	for _, n := range l.Nodes {
		assert.GreaterOrEqual(t, n.Confidence, 0.0)
		assert.LessOrEqual(t, n.Confidence, 1.0)
		assert.Positive(t, n.Votes())
	}
}

func TestBuild_ReferenceOnlyNode(t *testing.T) {
	_, l := build("a b", "a", "a")
	nodes := l.NodesAt(1)
	require.Len(t, nodes, 1)
	assert.Equal(t, "b", nodes[0].Token)
	assert.True(t, nodes[0].Reference)
	assert.Empty(t, nodes[0].Sources)
	assert.Zero(t, nodes[0].Confidence)
}

func TestBuild_Edges(t *testing.T) {
	_, l := build("a b c d", "a b z c d", "a b z c d", "a b z c d", "a b c d", "a c d")

	require.Len(t, l.Slots, 5)
	require.Len(t, l.Edges, 4)

	ab := l.Edges[0]
	assert.Equal(t, l.NodesAt(0)[0].ID, ab.From)
	assert.Equal(t, l.NodesAt(1)[0].ID, ab.To)
	assert.Equal(t, []string{"m1", "m2", "m3", "m4"}, ab.Sources)
	assert.True(t, ab.Reference)
	assert.InDelta(t, 0.8, ab.Weight, 1e-12)

	bz := l.Edges[1]
	assert.Equal(t, []string{"m1", "m2", "m3"}, bz.Sources)
	assert.False(t, bz.Reference)
	assert.InDelta(t, 0.6, bz.Weight, 1e-12)

	zc := l.Edges[2]
	assert.InDelta(t, 1.0, zc.Weight, 1e-12)
	assert.Len(t, l.Outgoing(zc.From), 1)

	for _, e := range l.Edges {
		assert.Equal(t, l.Nodes[e.From].Slot+1, l.Nodes[e.To].Slot)
	}
}

func TestBuild_NoEdgeWithoutSharedSource(t *testing.T) {
	_, l := build("a b", "a x", "y b")
	// slot 0: a(ref,m1) y(m2); slot 1: b(ref,m2) x(m1)
	for _, e := range l.Edges {
		from, to := l.Nodes[e.From], l.Nodes[e.To]
		assert.False(t, from.Token == "y" && to.Token == "x")
	}
	assert.Len(t, l.Edges, 3)
}

func TestNodesAt_OutOfRange(t *testing.T) {
	_, l := build("a", "a")
	assert.Nil(t, l.NodesAt(-1))
	assert.Nil(t, l.NodesAt(1))
}
