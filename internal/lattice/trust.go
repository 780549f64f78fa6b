package lattice

import "fmt"

// DefaultThreshold is the agreement a consensus token needs before it may
// replace the reference token.
const DefaultThreshold = 0.8

// confidences are ratios of small integers; this absorbs rounding in
// user-supplied thresholds such as 0.6 against 3/5.
const epsilon = 1e-9

// Decision is the per-slot outcome of the trust policy.
type Decision uint8

const (
	TrustReference Decision = iota
	TrustConsensus
)

func (d Decision) String() string {
	if d == TrustConsensus {
		return "consensus"
	}
	return "reference"
}

func (d Decision) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Decision) UnmarshalText(b []byte) error {
	switch string(b) {
	case "reference":
		*d = TrustReference
	case "consensus":
		*d = TrustConsensus
	default:
		return fmt.Errorf("unknown trust decision %q", b)
	}
	return nil
}

// Policy decides, slot by slot, whether the consensus overrides the
// reference. It keeps no state between slots.
type Policy struct {
	Threshold float64
}

// NewPolicy validates threshold, which must lie in [0,1].
func NewPolicy(threshold float64) (Policy, error) {
	if threshold < 0 || threshold > 1 || threshold != threshold {
		return Policy{}, fmt.Errorf("trust threshold %v outside [0,1]", threshold)
	}
	return Policy{Threshold: threshold}, nil
}

// Decide trusts the consensus when it is confident enough and disagrees with
// the reference at that slot.
func (p Policy) Decide(s Slot, c Choice) Decision {
	if c.Confidence+epsilon < p.Threshold {
		return TrustReference
	}
	var differs bool
	switch {
	case c.Dropped:
		differs = s.Reference.Present
	case !s.Reference.Present:
		differs = true
	default:
		differs = c.Token != s.Reference.Token
	}
	if differs {
		return TrustConsensus
	}
	return TrustReference
}

// Effective builds the reference used for lattice WER: the consensus token
// where the policy trusts the consensus, the reference token elsewhere.
// Slots with no token on the trusted side are skipped.
func (p Policy) Effective(l *Lattice, c Consensus) ([]string, []Decision) {
	ref := []string{}
	decisions := make([]Decision, len(l.Slots))
	for i, s := range l.Slots {
		ch := c.Choices[i]
		d := p.Decide(s, ch)
		decisions[i] = d

		switch {
		case d == TrustConsensus && !ch.Dropped:
			ref = append(ref, ch.Token)
		case d == TrustReference && s.Reference.Present:
			ref = append(ref, s.Reference.Token)
		}
	}
	return ref, decisions
}
