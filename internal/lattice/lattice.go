// Package lattice merges several hypotheses aligned against one reference
// into a confusion network and derives a consensus from it.
//
// The network has one column per merged slot. Every distinct token observed
// at a slot becomes a node; a node's confidence is the share of hypotheses
// that chose it. The reference takes part as a source but never adds to
// confidence, so agreement between hypotheses is measured independently of a
// reference that may itself be wrong.
//
// Paths through the network are never enumerated. Consensus and trust
// decisions are made per slot.
package lattice

// Node is a distinct token observed at a slot.
type Node struct {
	ID         int      `json:"id"`
	Slot       int      `json:"slot"`
	Token      string   `json:"token"`
	Sources    []string `json:"sources"`
	Reference  bool     `json:"reference"`
	Confidence float64  `json:"confidence"`
}

// Votes counts every source that chose the node, the reference included.
func (n Node) Votes() int {
	v := len(n.Sources)
	if n.Reference {
		v++
	}
	return v
}

// Edge joins a node at slot i to a node at slot i+1 when at least one source
// passes through both.
type Edge struct {
	From      int      `json:"from"`
	To        int      `json:"to"`
	Sources   []string `json:"sources"`
	Reference bool     `json:"reference"`
	Weight    float64  `json:"weight"`
}

// Lattice is the confusion network built from an Alignment.
type Lattice struct {
	Sources []string `json:"sources"`
	Slots   []Slot   `json:"slots"`
	Nodes   []Node   `json:"nodes"`
	Edges   []Edge   `json:"edges"`

	bySlot [][]int
	// membership[node] is indexed by hypothesis; the reference is handled
	// through Node.Reference.
	membership [][]bool
}

// Build turns the merged slots into nodes and edges.
func Build(a *Alignment) *Lattice {
	total := len(a.Sources)
	l := &Lattice{
		Sources: a.Sources,
		Slots:   a.Slots,
		bySlot:  make([][]int, len(a.Slots)),
	}

	for i, s := range a.Slots {
		index := make(map[string]int)
		node := func(tok string) int {
			if id, ok := index[tok]; ok {
				return id
			}
			id := len(l.Nodes)
			l.Nodes = append(l.Nodes, Node{ID: id, Slot: i, Token: tok, Sources: []string{}})
			l.membership = append(l.membership, make([]bool, total))
			l.bySlot[i] = append(l.bySlot[i], id)
			index[tok] = id
			return id
		}

		if s.Reference.Present {
			l.Nodes[node(s.Reference.Token)].Reference = true
		}
		for h, c := range s.Hypotheses {
			if !c.Present {
				continue
			}
			id := node(c.Token)
			l.Nodes[id].Sources = append(l.Nodes[id].Sources, a.Sources[h])
			l.membership[id][h] = true
		}
	}

	for id := range l.Nodes {
		if total > 0 {
			l.Nodes[id].Confidence = float64(len(l.Nodes[id].Sources)) / float64(total)
		}
	}

	for i := 0; i+1 < len(l.bySlot); i++ {
		for _, from := range l.bySlot[i] {
			for _, to := range l.bySlot[i+1] {
				if e, ok := l.join(from, to); ok {
					l.Edges = append(l.Edges, e)
				}
			}
		}
	}
	return l
}

func (l *Lattice) join(from, to int) (Edge, bool) {
	e := Edge{
		From:      from,
		To:        to,
		Sources:   []string{},
		Reference: l.Nodes[from].Reference && l.Nodes[to].Reference,
		Weight:    l.Nodes[to].Confidence,
	}
	for h, src := range l.Sources {
		if l.membership[from][h] && l.membership[to][h] {
			e.Sources = append(e.Sources, src)
		}
	}
	return e, e.Reference || len(e.Sources) > 0
}

// NodesAt returns the sibling nodes of a slot in first-seen order, reference
// token first.
func (l *Lattice) NodesAt(slot int) []Node {
	if slot < 0 || slot >= len(l.bySlot) {
		return nil
	}
	out := make([]Node, len(l.bySlot[slot]))
	for i, id := range l.bySlot[slot] {
		out[i] = l.Nodes[id]
	}
	return out
}

// Outgoing returns the edges leaving a node.
func (l *Lattice) Outgoing(node int) []Edge {
	var out []Edge
	for _, e := range l.Edges {
		if e.From == node {
			out = append(out, e)
		}
	}
	return out
}
