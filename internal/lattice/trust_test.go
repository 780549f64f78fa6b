package lattice

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func effective(t *testing.T, threshold float64, ref string, hyps ...string) ([]string, []Decision) {
	t.Helper()
	p, err := NewPolicy(threshold)
	require.NoError(t, err)
	_, l := build(ref, hyps...)
	return p.Effective(l, l.Consensus(Voting))
}

func TestNewPolicy(t *testing.T) {
	for _, v := range []float64{0, 0.5, DefaultThreshold, 1} {
		p, err := NewPolicy(v)
		require.NoError(t, err)
		assert.Equal(t, v, p.Threshold)
	}
	for _, v := range []float64{-0.1, 1.01, math.NaN()} {
		_, err := NewPolicy(v)
		assert.Error(t, err, v)
	}
}

func TestPolicy_OverridesConfidentDisagreement(t *testing.T) {
	ref, decisions := effective(t, DefaultThreshold, "a b x d e",
		"a b c d e", "a b c d e", "a b c d e", "a b c d e", "a b x d e")
	assert.Equal(t, words("a b c d e"), ref)
	assert.Equal(t, []Decision{TrustReference, TrustReference, TrustConsensus, TrustReference, TrustReference}, decisions)
}

func TestPolicy_KeepsReferenceBelowThreshold(t *testing.T) {
	// three of five insert z: a majority, but 0.6 < 0.8
	ref, decisions := effective(t, DefaultThreshold, "a b c d",
		"a b z c d", "a b z c d", "a b z c d", "a b c d", "a c d")
	assert.Equal(t, words("a b c d"), ref)
	for _, d := range decisions {
		assert.Equal(t, TrustReference, d)
	}
}

func TestPolicy_AbsorbsInsertionAtLowerThreshold(t *testing.T) {
	ref, decisions := effective(t, 0.6, "a b c d",
		"a b z c d", "a b z c d", "a b z c d", "a b c d", "a c d")
	assert.Equal(t, words("a b z c d"), ref)
	assert.Equal(t, TrustConsensus, decisions[2])
}

func TestPolicy_AgreementWithReferenceNeverOverrides(t *testing.T) {
	ref, decisions := effective(t, 0, "a b c", "a b c", "a b c")
	assert.Equal(t, words("a b c"), ref)
	for _, d := range decisions {
		assert.Equal(t, TrustReference, d)
	}
}

func TestPolicy_UnanimousDeletionRemovesReferenceWord(t *testing.T) {
	ref, decisions := effective(t, DefaultThreshold, "a uh b", "a b", "a b", "a b")
	assert.Equal(t, words("a b"), ref)
	assert.Equal(t, TrustConsensus, decisions[1])
}

func TestPolicy_DecisionsArePerSlot(t *testing.T) {
	// slot 1 is overridden, slot 3 is not
	ref, decisions := effective(t, DefaultThreshold, "a x c y",
		"a b c q", "a b c r", "a b c y", "a b c s", "a b c y")
	assert.Equal(t, words("a b c y"), ref)
	assert.Equal(t, TrustConsensus, decisions[1])
	assert.Equal(t, TrustReference, decisions[3])
}

func TestDecision_String(t *testing.T) {
	assert.Equal(t, "reference", TrustReference.String())
	assert.Equal(t, "consensus", TrustConsensus.String())
	b, err := TrustConsensus.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "consensus", string(b))
}
