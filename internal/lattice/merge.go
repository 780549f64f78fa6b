package lattice

import "github.com/snarg/wer-engine/internal/align"

// Cell is one source's token at a slot. Present is false when the source has
// nothing aligned there.
type Cell struct {
	Token   string `json:"token,omitempty"`
	Present bool   `json:"present"`
}

// Slot is a position in the merged alignment space.
//
// Reference slots carry the reference token at Anchor. Inserted slots hold
// tokens that one or more hypotheses placed in the gap before reference
// position Anchor (Anchor == len(reference) for trailing insertions).
type Slot struct {
	Index      int    `json:"index"`
	Anchor     int    `json:"anchor"`
	Inserted   bool   `json:"inserted"`
	Reference  Cell   `json:"reference"`
	Hypotheses []Cell `json:"hypotheses"`
}

// Trace is a hypothesis aligned against the reference.
type Trace struct {
	Source string
	Ops    []align.Op
}

// Alignment is the ordered slot list produced by Merge. Sources lists the
// hypothesis identifiers in the order used by Slot.Hypotheses.
type Alignment struct {
	Reference []string
	Sources   []string
	Slots     []Slot
}

// insertKey identifies an insertion slot. occ separates repeated tokens that a
// single hypothesis inserts into the same gap.
type insertKey struct {
	gap   int
	token string
	occ   int
}

// Merge projects every trace onto the reference position space. Each trace
// must be an alignment of ref against its hypothesis.
//
// Insertions are grouped by (gap, token) so two hypotheses inserting the same
// word before the same reference position share one slot. Within a gap,
// insertion slots keep the order in which their keys are first seen, walking
// traces in the given order.
func Merge(ref []string, traces []Trace) *Alignment {
	n := len(ref)
	gaps := make([][]insertKey, n+1)
	seen := make(map[insertKey]bool)

	aligned := make([][]Cell, len(traces))
	inserted := make([]map[insertKey]string, len(traces))

	for t, tr := range traces {
		cells := make([]Cell, n)
		ins := make(map[insertKey]string)
		occ := make(map[string]int)
		gap := 0

		for _, op := range tr.Ops {
			switch op.Kind {
			case align.Match, align.Substitute:
				cells[op.RefIndex] = Cell{Token: op.Hyp, Present: true}
				gap = op.RefIndex + 1
				clear(occ)
			case align.Delete:
				gap = op.RefIndex + 1
				clear(occ)
			case align.Insert:
				k := insertKey{gap: gap, token: op.Hyp, occ: occ[op.Hyp]}
				occ[op.Hyp]++
				ins[k] = op.Hyp
				if !seen[k] {
					seen[k] = true
					gaps[gap] = append(gaps[gap], k)
				}
			}
		}
		aligned[t] = cells
		inserted[t] = ins
	}

	out := &Alignment{
		Reference: ref,
		Sources:   make([]string, len(traces)),
	}
	for t, tr := range traces {
		out.Sources[t] = tr.Source
	}

	for g := 0; g <= n; g++ {
		for _, k := range gaps[g] {
			s := Slot{
				Index:      len(out.Slots),
				Anchor:     g,
				Inserted:   true,
				Hypotheses: make([]Cell, len(traces)),
			}
			for t := range traces {
				if tok, ok := inserted[t][k]; ok {
					s.Hypotheses[t] = Cell{Token: tok, Present: true}
				}
			}
			out.Slots = append(out.Slots, s)
		}
		if g == n {
			break
		}
		s := Slot{
			Index:      len(out.Slots),
			Anchor:     g,
			Reference:  Cell{Token: ref[g], Present: true},
			Hypotheses: make([]Cell, len(traces)),
		}
		for t := range traces {
			s.Hypotheses[t] = aligned[t][g]
		}
		out.Slots = append(out.Slots, s)
	}
	return out
}

// Column returns the tokens one hypothesis contributes, in slot order. It
// equals the hypothesis unless an earlier trace fixed a different order for
// the same inserted words within a gap.
func (a *Alignment) Column(source int) []string {
	var out []string
	for _, s := range a.Slots {
		if c := s.Hypotheses[source]; c.Present {
			out = append(out, c.Token)
		}
	}
	return out
}
