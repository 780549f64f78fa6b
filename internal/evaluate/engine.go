// Package evaluate scores several hypotheses against a possibly wrong
// reference, once against the reference itself and once against a
// trust-adjusted reference derived from the hypotheses' consensus.
//
// An Engine holds configuration only. Every call to Evaluate builds its
// alignment, lattice and results from the request and discards them after
// returning, so one Engine may serve concurrent callers.
package evaluate

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/snarg/wer-engine/internal/align"
	"github.com/snarg/wer-engine/internal/lattice"
	"github.com/snarg/wer-engine/internal/wer"
)

// UnitWord is the only supported alignment unit.
const UnitWord = "word"

// DefaultMaxCells bounds a single |reference|*|hypothesis| table.
const DefaultMaxCells = 1_000_000

// Request is one evaluation input. Tokens are compared verbatim; callers
// normalise upstream.
type Request struct {
	ID             string              `json:"id,omitempty" yaml:"id"`
	Reference      []string            `json:"reference" yaml:"reference"`
	Hypotheses     map[string][]string `json:"hypotheses" yaml:"hypotheses"`
	Strategy       string              `json:"strategy,omitempty" yaml:"strategy"`
	TrustThreshold *float64            `json:"trust_threshold,omitempty" yaml:"trust_threshold"`
	AlignmentUnit  string              `json:"alignment_unit,omitempty" yaml:"alignment_unit"`
	IncludeLattice bool                `json:"include_lattice,omitempty" yaml:"include_lattice"`
}

// Metadata describes the shared part of an evaluation.
type Metadata struct {
	OriginalReference  []string           `json:"original_reference"`
	Consensus          []string           `json:"consensus_transcription"`
	EffectiveReference []string           `json:"effective_reference"`
	Decisions          []lattice.Decision `json:"decisions"`
	AlignmentUnit      string             `json:"alignment_unit"`
	Strategy           lattice.Strategy   `json:"strategy"`
	TrustThreshold     float64            `json:"trust_threshold"`
	ReferenceLength    int                `json:"reference_length"`
	ConsensusLength    int                `json:"consensus_length"`
	Slots              int                `json:"slots"`
}

// Evaluation is the outcome of one request. Failures lists hypotheses that
// were excluded; they take no part in the lattice.
type Evaluation struct {
	ID       string                      `json:"id,omitempty"`
	Results  map[string]wer.Comparison   `json:"results"`
	Failures map[string]*HypothesisError `json:"failures,omitempty"`
	Meta     Metadata                    `json:"meta"`
	Lattice  *lattice.Lattice            `json:"lattice,omitempty"`
}

// IDs returns the scored hypothesis identifiers in sorted order.
func (ev *Evaluation) IDs() []string {
	ids := make([]string, 0, len(ev.Results))
	for id := range ev.Results {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Report renders the evaluation as text.
func (ev *Evaluation) Report() string {
	rows := make([]wer.Row, 0, len(ev.Results))
	for _, id := range ev.IDs() {
		rows = append(rows, wer.Row{ID: id, Comparison: ev.Results[id]})
	}
	var b strings.Builder
	_ = wer.WriteReport(&b, wer.ReportMeta{
		AlignmentUnit:   ev.Meta.AlignmentUnit,
		ReferenceLength: ev.Meta.ReferenceLength,
		ConsensusLength: ev.Meta.ConsensusLength,
		Strategy:        string(ev.Meta.Strategy),
		TrustThreshold:  ev.Meta.TrustThreshold,
	}, rows)
	return b.String()
}

// Options configures an Engine. Zero values fall back to defaults.
type Options struct {
	Strategy       lattice.Strategy
	TrustThreshold *float64
	MaxCells       int
	Workers        int
	Log            zerolog.Logger
}

// Engine evaluates requests.
type Engine struct {
	strategy  lattice.Strategy
	threshold float64
	calc      wer.Calculator
	workers   int
	log       zerolog.Logger
}

// New validates opts and returns an Engine.
func New(opts Options) (*Engine, error) {
	strategy, err := lattice.ParseStrategy(string(opts.Strategy))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	threshold := lattice.DefaultThreshold
	if opts.TrustThreshold != nil {
		threshold = *opts.TrustThreshold
	}
	if _, err := lattice.NewPolicy(threshold); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	maxCells := opts.MaxCells
	if maxCells == 0 {
		maxCells = DefaultMaxCells
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Engine{
		strategy:  strategy,
		threshold: threshold,
		calc:      wer.Calculator{Aligner: align.Aligner{MaxCells: maxCells}},
		workers:   workers,
		log:       opts.Log,
	}, nil
}

// Strategy returns the default consensus strategy.
func (e *Engine) Strategy() lattice.Strategy { return e.strategy }

// Threshold returns the default trust threshold.
func (e *Engine) Threshold() float64 { return e.threshold }

// MaxCells returns the alignment cell budget.
func (e *Engine) MaxCells() int { return e.calc.Aligner.MaxCells }

// Evaluate scores every hypothesis of req. Request-level problems return an
// error wrapping ErrInvalidInput. A hypothesis that cannot be scored is
// reported in Evaluation.Failures; if none can be scored, the first failure
// is returned as the error.
func (e *Engine) Evaluate(ctx context.Context, req Request) (*Evaluation, error) {
	start := time.Now()

	strategy, policy, err := e.settings(req)
	if err != nil {
		return nil, err
	}
	if len(req.Hypotheses) == 0 {
		return nil, invalid("at least one hypothesis is required")
	}
	if err := checkTokens(req.Reference); err != nil {
		return nil, invalid("reference: %v", err)
	}

	ids := make([]string, 0, len(req.Hypotheses))
	for id := range req.Hypotheses {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	// Pass 1: align each hypothesis against the reference.
	traces := make([][]align.Op, len(ids))
	failed := make([]error, len(ids))
	err = e.fanOut(ctx, len(ids), func(i int) {
		hyp := req.Hypotheses[ids[i]]
		if ids[i] == "" {
			failed[i] = invalid("empty hypothesis identifier")
			return
		}
		if err := checkTokens(hyp); err != nil {
			failed[i] = invalid("%v", err)
			return
		}
		ops, err := e.calc.Aligner.Align(req.Reference, hyp)
		if err != nil {
			failed[i] = bound(err)
			return
		}
		traces[i] = ops
	})
	if err != nil {
		return nil, err
	}

	ev := &Evaluation{
		ID:       req.ID,
		Results:  make(map[string]wer.Comparison, len(ids)),
		Failures: make(map[string]*HypothesisError),
	}

	var kept []lattice.Trace
	var keptIdx []int
	for i, id := range ids {
		if failed[i] != nil {
			ev.Failures[id] = &HypothesisError{ID: id, Err: failed[i]}
			continue
		}
		kept = append(kept, lattice.Trace{Source: id, Ops: traces[i]})
		keptIdx = append(keptIdx, i)
	}
	if len(kept) == 0 {
		return nil, ev.Failures[ids[0]]
	}

	merged := lattice.Merge(req.Reference, kept)
	lat := lattice.Build(merged)
	consensus := lat.Consensus(strategy)
	effective, decisions := policy.Effective(lat, consensus)

	// Pass 2: score the survivors against both references.
	scores := make([]wer.Comparison, len(kept))
	lateFail := make([]error, len(kept))
	err = e.fanOut(ctx, len(kept), func(k int) {
		i := keptIdx[k]
		hyp := req.Hypotheses[ids[i]]
		standard := wer.FromOps(traces[i], len(req.Reference), len(hyp))
		latticeScore, err := e.calc.Lattice(hyp, effective)
		if err != nil {
			lateFail[k] = bound(err)
			return
		}
		scores[k] = wer.Compare(standard, latticeScore)
	})
	if err != nil {
		return nil, err
	}
	for k, tr := range kept {
		if lateFail[k] != nil {
			ev.Failures[tr.Source] = &HypothesisError{ID: tr.Source, Err: lateFail[k]}
			continue
		}
		ev.Results[tr.Source] = scores[k]
	}
	if len(ev.Results) == 0 {
		return nil, ev.Failures[kept[0].Source]
	}

	ev.Meta = Metadata{
		OriginalReference:  nonNil(req.Reference),
		Consensus:          consensus.Tokens,
		EffectiveReference: effective,
		Decisions:          decisions,
		AlignmentUnit:      UnitWord,
		Strategy:           strategy,
		TrustThreshold:     policy.Threshold,
		ReferenceLength:    len(req.Reference),
		ConsensusLength:    len(consensus.Tokens),
		Slots:              len(lat.Slots),
	}
	if req.IncludeLattice {
		ev.Lattice = lat
	}

	e.log.Debug().
		Str("evaluation", req.ID).
		Int("hypotheses", len(ids)).
		Int("failed", len(ev.Failures)).
		Int("slots", len(lat.Slots)).
		Int("nodes", len(lat.Nodes)).
		Dur("elapsed", time.Since(start)).
		Msg("evaluation complete")

	return ev, nil
}

func (e *Engine) settings(req Request) (lattice.Strategy, lattice.Policy, error) {
	if req.AlignmentUnit != "" && req.AlignmentUnit != UnitWord {
		return "", lattice.Policy{}, invalid("alignment unit %q not supported", req.AlignmentUnit)
	}
	strategy := e.strategy
	if req.Strategy != "" {
		s, err := lattice.ParseStrategy(req.Strategy)
		if err != nil {
			return "", lattice.Policy{}, invalid("%v", err)
		}
		strategy = s
	}
	threshold := e.threshold
	if req.TrustThreshold != nil {
		threshold = *req.TrustThreshold
	}
	policy, err := lattice.NewPolicy(threshold)
	if err != nil {
		return "", lattice.Policy{}, invalid("%v", err)
	}
	return strategy, policy, nil
}

// fanOut runs fn for 0..n-1 on at most e.workers goroutines and waits for
// all of them. fn records its own failures; only cancellation aborts.
func (e *Engine) fanOut(ctx context.Context, n int, fn func(i int)) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fn(i)
			return nil
		})
	}
	return g.Wait()
}

func bound(err error) error {
	if errors.Is(err, align.ErrTooLarge) {
		return fmt.Errorf("%w: %w", ErrResourceBound, err)
	}
	return err
}

// checkTokens rejects values that are not single words.
func checkTokens(seq []string) error {
	for i, tok := range seq {
		if tok == "" {
			return fmt.Errorf("token %d is empty", i)
		}
		if strings.IndexFunc(tok, unicode.IsSpace) >= 0 {
			return fmt.Errorf("token %d (%q) contains whitespace", i, tok)
		}
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
