package lattice

import "fmt"

// Strategy selects how the winning node of a slot is chosen.
type Strategy string

const (
	// Voting picks the node with the most sources, reference included.
	Voting Strategy = "voting"
	// Confidence picks the node with the largest hypothesis share.
	Confidence Strategy = "confidence"
)

// ParseStrategy accepts "voting" or "confidence". Empty means Voting.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", Voting:
		return Voting, nil
	case Confidence:
		return Confidence, nil
	default:
		return "", fmt.Errorf("unknown consensus strategy %q", s)
	}
}

// Choice is the consensus outcome of one slot. Dropped slots have no
// hypothesis support at all; their Confidence is the share of hypotheses
// that agree on the absence, which is always 1.
type Choice struct {
	Slot       int     `json:"slot"`
	Node       int     `json:"node"`
	Token      string  `json:"token,omitempty"`
	Confidence float64 `json:"confidence"`
	Dropped    bool    `json:"dropped"`
}

// Consensus is the per-slot winners and the resulting transcription.
type Consensus struct {
	Strategy Strategy `json:"strategy"`
	Choices  []Choice `json:"choices"`
	Tokens   []string `json:"tokens"`
}

// Consensus picks a winner for every slot. Ties are broken by a total order,
// so the result depends only on the lattice and the strategy:
//
//	voting:     votes, then confidence, then byte-wise smaller token
//	confidence: confidence, then votes, then byte-wise smaller token
func (l *Lattice) Consensus(s Strategy) Consensus {
	c := Consensus{
		Strategy: s,
		Choices:  make([]Choice, len(l.Slots)),
		Tokens:   []string{},
	}
	for i := range l.Slots {
		best := -1
		for _, id := range l.bySlot[i] {
			n := l.Nodes[id]
			if len(n.Sources) == 0 {
				continue
			}
			if best < 0 || better(n, l.Nodes[best], s) {
				best = id
			}
		}

		if best < 0 {
			c.Choices[i] = Choice{Slot: i, Node: -1, Confidence: 1, Dropped: true}
			continue
		}
		n := l.Nodes[best]
		c.Choices[i] = Choice{Slot: i, Node: n.ID, Token: n.Token, Confidence: n.Confidence}
		c.Tokens = append(c.Tokens, n.Token)
	}
	return c
}

func better(a, b Node, s Strategy) bool {
	if s == Confidence {
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.Votes() != b.Votes() {
			return a.Votes() > b.Votes()
		}
		return a.Token < b.Token
	}
	if a.Votes() != b.Votes() {
		return a.Votes() > b.Votes()
	}
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	return a.Token < b.Token
}
