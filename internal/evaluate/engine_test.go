package evaluate

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snarg/wer-engine/internal/lattice"
)

func words(s string) []string { return strings.Fields(s) }

func newEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	opts.Log = zerolog.Nop()
	e, err := New(opts)
	require.NoError(t, err)
	return e
}

func request(ref string, hyps map[string]string) Request {
	r := Request{Reference: words(ref), Hypotheses: make(map[string][]string, len(hyps))}
	for id, h := range hyps {
		r.Hypotheses[id] = words(h)
	}
	return r
}

func TestEvaluate_ReferenceError(t *testing.T) {
	e := newEngine(t, Options{})
	ev, err := e.Evaluate(context.Background(), request("a b x d e", map[string]string{
		"m1": "a b c d e",
		"m2": "a b c d e",
		"m3": "a b c d e",
		"m4": "a b c d e",
		"m5": "a b x d e",
	}))
	require.NoError(t, err)

	assert.Equal(t, "c", ev.Meta.Consensus[2])
	assert.Equal(t, words("a b c d e"), ev.Meta.EffectiveReference)
	assert.Equal(t, lattice.TrustConsensus, ev.Meta.Decisions[2])

	for _, id := range []string{"m1", "m2", "m3", "m4"} {
		r := ev.Results[id]
		assert.Less(t, r.Lattice.WER, r.Standard.WER, id)
		assert.True(t, r.Improved, id)
		assert.InDelta(t, 0.2, r.Improvement, 1e-12, id)
	}
	m5 := ev.Results["m5"]
	assert.Zero(t, m5.Standard.WER)
	assert.Greater(t, m5.Lattice.WER, m5.Standard.WER)
	assert.False(t, m5.Improved)
	assert.Empty(t, ev.Failures)
}

func TestEvaluate_MajorityInsertionBelowThreshold(t *testing.T) {
	e := newEngine(t, Options{})
	ev, err := e.Evaluate(context.Background(), request("a b c d", map[string]string{
		"m1": "a b z c d",
		"m2": "a b z c d",
		"m3": "a b z c d",
		"m4": "a b c d",
		"m5": "a c d",
	}))
	require.NoError(t, err)

	assert.Equal(t, words("a b z c d"), ev.Meta.Consensus)
	assert.Equal(t, words("a b c d"), ev.Meta.EffectiveReference)
	for _, d := range ev.Meta.Decisions {
		assert.Equal(t, lattice.TrustReference, d)
	}
	for id, r := range ev.Results {
		assert.Equal(t, r.Standard, r.Lattice, id)
		assert.False(t, r.Improved, id)
	}
}

func TestEvaluate_AllIdentical(t *testing.T) {
	e := newEngine(t, Options{})
	hyps := map[string]string{}
	for _, id := range []string{"m1", "m2", "m3", "m4", "m5"} {
		hyps[id] = "a b c d"
	}
	ev, err := e.Evaluate(context.Background(), request("a b c d", hyps))
	require.NoError(t, err)
	require.Len(t, ev.Results, 5)
	for id, r := range ev.Results {
		assert.Zero(t, r.Standard.WER, id)
		assert.Zero(t, r.Lattice.WER, id)
		assert.Zero(t, r.Improvement, id)
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	e := newEngine(t, Options{Workers: 4})
	req := request("the cat sat on the mat", map[string]string{
		"a": "the cat sat on a mat",
		"b": "a cat sat on the mat",
		"c": "the cat sat in the hat",
		"d": "the bat sat on the mat today",
	})
	first, err := e.Evaluate(context.Background(), req)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := e.Evaluate(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestEvaluate_ConcurrentCalls(t *testing.T) {
	e := newEngine(t, Options{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ev, err := e.Evaluate(context.Background(), request("a b c", map[string]string{"x": "a b", "y": "a b c"}))
			assert.NoError(t, err)
			assert.Len(t, ev.Results, 2)
		}()
	}
	wg.Wait()
}

func TestEvaluate_EmptySequences(t *testing.T) {
	e := newEngine(t, Options{})

	ev, err := e.Evaluate(context.Background(), request("", map[string]string{"empty": "", "word": "x"}))
	require.NoError(t, err)
	assert.Equal(t, 0.0, ev.Results["empty"].Standard.WER)
	assert.Equal(t, 1.0, ev.Results["word"].Standard.WER)

	ev, err = e.Evaluate(context.Background(), request("a b", map[string]string{"empty": "", "full": "a b"}))
	require.NoError(t, err)
	assert.Equal(t, 1.0, ev.Results["empty"].Standard.WER)
	assert.Equal(t, words("a b"), ev.Meta.Consensus)
}

func TestEvaluate_InvalidInput(t *testing.T) {
	e := newEngine(t, Options{})
	threshold := 1.5

	tests := []struct {
		name string
		req  Request
	}{
		{"no_hypotheses", Request{Reference: words("a b")}},
		{"empty_reference_token", Request{Reference: []string{"a", ""}, Hypotheses: map[string][]string{"m": {"a"}}}},
		{"whitespace_in_reference", Request{Reference: []string{"a b"}, Hypotheses: map[string][]string{"m": {"a"}}}},
		{"unit", Request{Reference: words("a"), Hypotheses: map[string][]string{"m": {"a"}}, AlignmentUnit: "phrase"}},
		{"strategy", Request{Reference: words("a"), Hypotheses: map[string][]string{"m": {"a"}}, Strategy: "rover"}},
		{"threshold", Request{Reference: words("a"), Hypotheses: map[string][]string{"m": {"a"}}, TrustThreshold: &threshold}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := e.Evaluate(context.Background(), tt.req)
			assert.Nil(t, ev)
			assert.True(t, errors.Is(err, ErrInvalidInput), "got %v", err)
			assert.Equal(t, "invalid_input", KindOf(err))
		})
	}
}

func TestEvaluate_PerHypothesisIsolation(t *testing.T) {
	e := newEngine(t, Options{MaxCells: 20})
	req := Request{
		Reference: words("a b c d"),
		Hypotheses: map[string][]string{
			"good":  words("a b c d"),
			"bad":   {"a", "", "c"},
			"huge":  words("a b c d e f g h"),
			"other": words("a b x d"),
		},
	}
	ev, err := e.Evaluate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []string{"good", "other"}, ev.IDs())
	require.Len(t, ev.Failures, 2)
	assert.Equal(t, "invalid_input", ev.Failures["bad"].Kind())
	assert.Equal(t, "resource_bound", ev.Failures["huge"].Kind())
	assert.True(t, errors.Is(ev.Failures["huge"], ErrResourceBound))

	b, err := json.Marshal(ev.Failures["huge"])
	require.NoError(t, err)
	assert.Contains(t, string(b), `"kind":"resource_bound"`)
}

func TestEvaluate_AllHypothesesFail(t *testing.T) {
	e := newEngine(t, Options{MaxCells: 4})
	ev, err := e.Evaluate(context.Background(), request("a b c", map[string]string{"x": "a b c", "y": "a b c d"}))
	assert.Nil(t, ev)
	assert.True(t, errors.Is(err, ErrResourceBound))

	var he *HypothesisError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, "x", he.ID)
}

func TestEvaluate_Cancelled(t *testing.T) {
	e := newEngine(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Evaluate(ctx, request("a", map[string]string{"x": "a"}))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEvaluate_RequestOverrides(t *testing.T) {
	e := newEngine(t, Options{})
	low := 0.6
	req := request("a b c d", map[string]string{
		"m1": "a b z c d", "m2": "a b z c d", "m3": "a b z c d", "m4": "a b c d", "m5": "a c d",
	})
	req.TrustThreshold = &low
	req.Strategy = "confidence"
	req.IncludeLattice = true

	ev, err := e.Evaluate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, words("a b z c d"), ev.Meta.EffectiveReference)
	assert.Equal(t, lattice.Confidence, ev.Meta.Strategy)
	assert.Equal(t, 0.6, ev.Meta.TrustThreshold)
	require.NotNil(t, ev.Lattice)
	assert.Len(t, ev.Lattice.Slots, ev.Meta.Slots)
	assert.True(t, ev.Results["m1"].Improved)
}

func TestNew_Validates(t *testing.T) {
	_, err := New(Options{Strategy: "rover"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	bad := -1.0
	_, err = New(Options{TrustThreshold: &bad})
	assert.ErrorIs(t, err, ErrInvalidInput)

	e, err := New(Options{})
	require.NoError(t, err)
	assert.Equal(t, lattice.Voting, e.Strategy())
	assert.Equal(t, lattice.DefaultThreshold, e.Threshold())
	assert.Equal(t, DefaultMaxCells, e.MaxCells())
}

func TestEvaluation_Report(t *testing.T) {
	e := newEngine(t, Options{})
	ev, err := e.Evaluate(context.Background(), request("a b", map[string]string{"zeta": "a b", "alpha": "a c"}))
	require.NoError(t, err)
	out := ev.Report()
	assert.Contains(t, out, "Alignment Unit: word")
	assert.Less(t, strings.Index(out, "alpha"), strings.Index(out, "zeta"))
}

func TestEvaluation_JSONRoundTrip(t *testing.T) {
	e := newEngine(t, Options{MaxCells: 20})
	ev, err := e.Evaluate(context.Background(), Request{
		ID:        "rt",
		Reference: words("a b x d"),
		Hypotheses: map[string][]string{
			"m1":   words("a b c d"),
			"m2":   words("a b c d"),
			"huge": words("a b c d e f g h"),
		},
	})
	require.NoError(t, err)

	b, err := json.Marshal(ev)
	require.NoError(t, err)

	var back Evaluation
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, ev.ID, back.ID)
	assert.Equal(t, ev.Results, back.Results)
	assert.Equal(t, ev.Meta, back.Meta)
	require.Contains(t, back.Failures, "huge")
	assert.Equal(t, "resource_bound", back.Failures["huge"].Kind())
	assert.Equal(t, ev.Failures["huge"].Err.Error(), back.Failures["huge"].Err.Error())
}
