// Package wer computes word error rates from alignments.
package wer

import "github.com/snarg/wer-engine/internal/align"

// Result is the error breakdown of one hypothesis against one reference.
type Result struct {
	WER              float64 `json:"wer"`
	Distance         int     `json:"distance"`
	Hits             int     `json:"hits"`
	Substitutions    int     `json:"substitutions"`
	Deletions        int     `json:"deletions"`
	Insertions       int     `json:"insertions"`
	ReferenceLength  int     `json:"reference_length"`
	HypothesisLength int     `json:"hypothesis_length"`
}

// Comparison pairs the standard and lattice results of one hypothesis.
// Improvement is Standard.WER - Lattice.WER.
type Comparison struct {
	Standard    Result  `json:"standard_wer"`
	Lattice     Result  `json:"lattice_wer"`
	Improvement float64 `json:"improvement"`
	Improved    bool    `json:"improved"`
}

// Rate divides errors by the reference length. An empty reference scores 0
// against an empty hypothesis and 1 against anything else.
func Rate(errors, refLen, hypLen int) float64 {
	if refLen == 0 {
		if hypLen == 0 {
			return 0
		}
		return 1
	}
	return float64(errors) / float64(refLen)
}

// FromOps scores an existing alignment of ref against hyp.
func FromOps(ops []align.Op, refLen, hypLen int) Result {
	c := align.Count(ops)
	return Result{
		WER:              Rate(c.Errors(), refLen, hypLen),
		Distance:         c.Errors(),
		Hits:             c.Hits,
		Substitutions:    c.Substitutions,
		Deletions:        c.Deletions,
		Insertions:       c.Insertions,
		ReferenceLength:  refLen,
		HypothesisLength: hypLen,
	}
}

// Calculator scores hypotheses under an alignment cell budget.
type Calculator struct {
	Aligner align.Aligner
}

// Standard scores hyp against the original reference.
func (c Calculator) Standard(hyp, ref []string) (Result, error) {
	ops, err := c.Aligner.Align(ref, hyp)
	if err != nil {
		return Result{}, err
	}
	return FromOps(ops, len(ref), len(hyp)), nil
}

// Lattice scores hyp against the trust-adjusted reference. The arithmetic is
// the same as Standard; only the reference differs.
func (c Calculator) Lattice(hyp, effective []string) (Result, error) {
	return c.Standard(hyp, effective)
}

// Compute scores hyp against ref without a cell budget.
func Compute(hyp, ref []string) Result {
	return FromOps(align.Align(ref, hyp), len(ref), len(hyp))
}

// Compare derives the improvement of the lattice score over the standard one.
func Compare(standard, lattice Result) Comparison {
	d := standard.WER - lattice.WER
	return Comparison{
		Standard:    standard,
		Lattice:     lattice,
		Improvement: d,
		Improved:    d > 0,
	}
}
