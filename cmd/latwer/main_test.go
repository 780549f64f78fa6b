package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snarg/wer-engine/internal/evaluate"
)

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Usage(t *testing.T) {
	code, _, stderr := runCLI(t)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "Usage: latwer")

	code, _, stderr = runCLI(t, "bogus")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, `unknown command "bogus"`)

	code, _, _ = runCLI(t, "eval")
	assert.Equal(t, 2, code)
}

func TestRun_Version(t *testing.T) {
	code, stdout, _ := runCLI(t, "version")
	assert.Equal(t, 0, code)
	assert.Equal(t, "latwer dev\n", stdout)
}

func TestRun_Eval(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "req.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
id: cli
reference: a b x d e
hypotheses:
  m1: a b c d e
  m2: a b c d e
  m3: a b c d e
  m4: a b c d e
  m5: a b x d e
`), 0o644))

	code, stdout, stderr := runCLI(t, "eval", "-f", path)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "LATTICE-BASED WER COMPUTATION REPORT")
	assert.Contains(t, stdout, "m5")

	code, stdout, stderr = runCLI(t, "eval", "-f", path, "-json", "-threshold", "0.9")
	require.Equal(t, 0, code, stderr)
	var ev evaluate.Evaluation
	require.NoError(t, json.Unmarshal([]byte(stdout), &ev))
	assert.Equal(t, "cli", ev.ID)
	assert.Equal(t, 0.9, ev.Meta.TrustThreshold)
	assert.Equal(t, []string{"a", "b", "x", "d", "e"}, ev.Meta.EffectiveReference)
	assert.Nil(t, ev.Lattice)
}

func TestRun_EvalErrors(t *testing.T) {
	code, _, _ := runCLI(t, "eval", "-f", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, 1, code)

	path := filepath.Join(t.TempDir(), "req.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"reference": "a", "hypotheses": {"m": "a"}}`), 0o644))
	code, _, _ = runCLI(t, "eval", "-f", path, "-strategy", "median")
	assert.Equal(t, 1, code)
}

func TestRun_Dataset(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "data.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(
		"segment_url_link,Human,Model A,Model B\n"+
			"u1,a b x,a b c,a b c\n"+
			"u2,one two,one two,one too\n"), 0o644))
	out := filepath.Join(dir, "out", "results.json")

	code, stdout, stderr := runCLI(t, "dataset", "-f", csvPath, "-out", out)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Total samples processed: 2")
	assert.Contains(t, stdout, "Model_A")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var export struct {
		Source  string `json:"source"`
		Summary struct {
			Samples int `json:"samples"`
		} `json:"summary"`
		Results []json.RawMessage `json:"results"`
	}
	require.NoError(t, json.Unmarshal(data, &export))
	assert.Equal(t, "data.csv", export.Source)
	assert.Equal(t, 2, export.Summary.Samples)
	assert.Len(t, export.Results, 2)
}

func TestRun_Demo(t *testing.T) {
	out := filepath.Join(t.TempDir(), "demo.json")
	code, stdout, stderr := runCLI(t, "demo", "-out", out)
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, 3, strings.Count(stdout, "LATTICE-BASED WER COMPUTATION REPORT"))
	assert.Contains(t, stdout, "Word-level alignment chosen because:")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var all map[string]evaluate.Evaluation
	require.NoError(t, json.Unmarshal(data, &all))
	require.Len(t, all, 3)

	// Four of five models outvote the reference on the third word.
	ex2 := all["sample_002"]
	assert.Equal(t, "अच्छा", ex2.Meta.EffectiveReference[2])
	assert.True(t, ex2.Results["model_1_whisper"].Improved)
	assert.False(t, ex2.Results["model_5_custom"].Improved)
}
