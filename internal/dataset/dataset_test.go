package dataset

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snarg/wer-engine/internal/evaluate"
)

func TestTokenize(t *testing.T) {
	plain, err := NewTokenizer("", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello", "World"}, plain.Tokenize("  Hello \t World\n"))
	assert.Empty(t, plain.Tokenize("   "))

	lower, err := NewTokenizer("nfkc", true)
	require.NoError(t, err)
	// U+FB01 (fi ligature) folds to "fi" under NFKC.
	assert.Equal(t, []string{"file", "abc"}, lower.Tokenize("\ufb01le ABC"))

	nfc, err := NewTokenizer("NFC", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"\u00e9"}, nfc.Tokenize("e\u0301"))

	assert.Equal(t, []string{"ab"}, plain.Tokenize("a\x00b"))

	_, err = NewTokenizer("NFX", false)
	assert.Error(t, err)
}

const sampleCSV = "\ufeffsegment_url_link,Human,Model H,Model i,Notes\n" +
	"https://x/1.wav,  a b x d e ,a b c d e,a b c d e,n\n" +
	",,,,\n" +
	"https://x/2.wav,one two,one two,one too,\n"

func TestReadCSV(t *testing.T) {
	samples, err := ReadCSV(strings.NewReader(sampleCSV), DefaultLayout)
	require.NoError(t, err)
	require.Len(t, samples, 2)

	s := samples[0]
	assert.Equal(t, 1, s.Index)
	assert.Equal(t, "sample_1", s.ID())
	assert.Equal(t, "https://x/1.wav", s.Source)
	assert.Equal(t, "a b x d e", s.Reference)
	assert.Equal(t, map[string]string{"Model_H": "a b c d e", "Model_i": "a b c d e"}, s.Hypotheses)

	assert.Equal(t, 2, samples[1].Index)
	assert.Equal(t, []string{"Model_H", "Model_i"}, HypothesisIDs(samples))
}

func TestReadCSV_Errors(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("id,Model A\n1,a\n"), DefaultLayout)
	assert.ErrorContains(t, err, `reference column "Human"`)

	_, err = ReadCSV(strings.NewReader("Human,Other\na,b\n"), DefaultLayout)
	assert.True(t, errors.Is(err, errNoHypotheses))

	_, err = ReadCSV(strings.NewReader(""), DefaultLayout)
	assert.Error(t, err)
}

func TestSampleRequest(t *testing.T) {
	tok, _ := NewTokenizer("", true)
	s := Sample{Index: 3, Reference: "A b", Hypotheses: map[string]string{"m": "a B c"}}
	req := s.Request(tok)
	assert.Equal(t, "sample_3", req.ID)
	assert.Equal(t, []string{"a", "b"}, req.Reference)
	assert.Equal(t, []string{"a", "b", "c"}, req.Hypotheses["m"])
}

func TestDecodeDocument(t *testing.T) {
	tok, _ := NewTokenizer("", false)

	t.Run("yaml", func(t *testing.T) {
		doc, err := DecodeDocument(strings.NewReader(`
id: demo
reference: a b x d e
hypotheses:
  m1: [a, b, c, d, e]
  m2: a b c d e
strategy: confidence
trust_threshold: 0.6
`))
		require.NoError(t, err)
		req := doc.Request(tok)
		assert.Equal(t, "demo", req.ID)
		assert.Equal(t, []string{"a", "b", "x", "d", "e"}, req.Reference)
		assert.Equal(t, req.Hypotheses["m1"], req.Hypotheses["m2"])
		assert.Equal(t, "confidence", req.Strategy)
		require.NotNil(t, req.TrustThreshold)
		assert.Equal(t, 0.6, *req.TrustThreshold)
	})

	t.Run("json", func(t *testing.T) {
		doc, err := DecodeDocument(strings.NewReader("{\n\t\"reference\": [\"a\", \"b\"],\n\t\"hypotheses\": {\"m\": \"a c\"}\n}"))
		require.NoError(t, err)
		req := doc.Request(tok)
		assert.Equal(t, []string{"a", "b"}, req.Reference)
		assert.Equal(t, []string{"a", "c"}, req.Hypotheses["m"])
		assert.Nil(t, req.TrustThreshold)
	})

	t.Run("empty_list_reference", func(t *testing.T) {
		doc, err := DecodeDocument(strings.NewReader(`{"reference": [], "hypotheses": {"m": []}}`))
		require.NoError(t, err)
		req := doc.Request(tok)
		assert.NotNil(t, req.Reference)
		assert.Empty(t, req.Reference)
	})

	t.Run("unknown_field", func(t *testing.T) {
		_, err := DecodeDocument(strings.NewReader("reference: a\nhypothesis: {}\n"))
		assert.Error(t, err)
	})

	t.Run("bad_text", func(t *testing.T) {
		_, err := DecodeDocument(strings.NewReader("reference: {a: b}\nhypotheses: {}\n"))
		assert.Error(t, err)
	})
}

func TestRunAndSummarize(t *testing.T) {
	e, err := evaluate.New(evaluate.Options{Log: zerolog.Nop()})
	require.NoError(t, err)
	tok, _ := NewTokenizer("", false)

	samples := []Sample{
		{Index: 1, Reference: "a b x d e", Hypotheses: map[string]string{
			"m1": "a b c d e", "m2": "a b c d e", "m3": "a b c d e", "m4": "a b c d e", "m5": "a b x d e",
		}},
		{Index: 2, Reference: "a b c d e", Hypotheses: map[string]string{
			"m1": "a b c d e", "m2": "a b c d e", "m3": "a b c d e", "m4": "a b c d e", "m5": "a b c d e",
		}},
		{Index: 3, Reference: "a", Hypotheses: map[string]string{}},
	}
	results, err := Run(context.Background(), e, tok, samples)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.NotEmpty(t, results[2].Error)
	assert.Nil(t, results[2].Evaluation)

	sum := Summarize(results)
	assert.Equal(t, 3, sum.Samples)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, []string{"m1", "m2", "m3", "m4", "m5"}, sum.ModelIDs())

	m1 := sum.Models["m1"]
	assert.Equal(t, 2, m1.Samples)
	assert.Equal(t, 1, m1.Improved)
	assert.InDelta(t, 0.1, m1.AvgImprovement, 1e-12)
	assert.InDelta(t, 0.1, m1.AvgStandardWER, 1e-12)
	assert.Zero(t, m1.AvgLatticeWER)

	m5 := sum.Models["m5"]
	assert.Equal(t, 0, m5.Improved)
	assert.InDelta(t, -0.1, m5.AvgImprovement, 1e-12)

	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, sum))
	out := buf.String()
	assert.Contains(t, out, "Total samples processed: 3")
	assert.Contains(t, out, "Samples failed: 1")
	assert.Contains(t, out, "1/2")
}

func TestRun_Cancelled(t *testing.T) {
	e, err := evaluate.New(evaluate.Options{Log: zerolog.Nop()})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := Run(ctx, e, Tokenizer{}, []Sample{{Index: 1, Reference: "a", Hypotheses: map[string]string{"m": "a"}}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, out)
}
