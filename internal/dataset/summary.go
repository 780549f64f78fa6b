package dataset

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/snarg/wer-engine/internal/evaluate"
)

// SampleResult pairs a sample with its evaluation. Error is set when the
// whole sample could not be evaluated.
type SampleResult struct {
	Sample     Sample               `json:"sample"`
	Evaluation *evaluate.Evaluation `json:"results,omitempty"`
	Error      string               `json:"error,omitempty"`
}

// Evaluator is the part of evaluate.Engine the dataset runner needs.
type Evaluator interface {
	Evaluate(ctx context.Context, req evaluate.Request) (*evaluate.Evaluation, error)
}

// Run evaluates samples in order. A failing sample is recorded and the run
// continues; only context cancellation stops it early.
func Run(ctx context.Context, e Evaluator, tok Tokenizer, samples []Sample) ([]SampleResult, error) {
	out := make([]SampleResult, 0, len(samples))
	for _, s := range samples {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		ev, err := e.Evaluate(ctx, s.Request(tok))
		r := SampleResult{Sample: s, Evaluation: ev}
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			r.Error = err.Error()
		}
		out = append(out, r)
	}
	return out, nil
}

// ModelSummary aggregates one hypothesis identifier across samples.
type ModelSummary struct {
	Samples        int     `json:"samples"`
	Improved       int     `json:"improved"`
	AvgStandardWER float64 `json:"avg_standard_wer"`
	AvgLatticeWER  float64 `json:"avg_lattice_wer"`
	AvgImprovement float64 `json:"avg_improvement"`
}

// Summary aggregates a dataset run.
type Summary struct {
	Samples int                     `json:"samples"`
	Failed  int                     `json:"failed"`
	Models  map[string]ModelSummary `json:"models"`
}

// Summarize averages per-model WER and improvement over the samples where
// the model was scored.
func Summarize(results []SampleResult) Summary {
	s := Summary{Samples: len(results), Models: map[string]ModelSummary{}}
	for _, r := range results {
		if r.Evaluation == nil {
			s.Failed++
			continue
		}
		for id, c := range r.Evaluation.Results {
			m := s.Models[id]
			m.Samples++
			if c.Improved {
				m.Improved++
			}
			m.AvgStandardWER += c.Standard.WER
			m.AvgLatticeWER += c.Lattice.WER
			m.AvgImprovement += c.Improvement
			s.Models[id] = m
		}
	}
	for id, m := range s.Models {
		n := float64(m.Samples)
		m.AvgStandardWER /= n
		m.AvgLatticeWER /= n
		m.AvgImprovement /= n
		s.Models[id] = m
	}
	return s
}

// ModelIDs returns the summarised identifiers in sorted order.
func (s Summary) ModelIDs() []string {
	ids := make([]string, 0, len(s.Models))
	for id := range s.Models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// WriteSummary prints the per-model improvement table.
func WriteSummary(w io.Writer, s Summary) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Total samples processed: %d\n", s.Samples)
	if s.Failed > 0 {
		fmt.Fprintf(&b, "Samples failed: %d\n", s.Failed)
	}
	b.WriteString("\nAverage WER Improvement by Model:\n")
	fmt.Fprintf(&b, "%-15s %-20s %-20s\n", "Model", "Avg Improvement", "Samples Improved")
	b.WriteString(strings.Repeat("-", 55) + "\n")
	for _, id := range s.ModelIDs() {
		m := s.Models[id]
		fmt.Fprintf(&b, "%-15s %18.4f %19d/%d\n", id, m.AvgImprovement, m.Improved, m.Samples)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
