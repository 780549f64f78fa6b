package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/snarg/wer-engine/internal/batch"
	"github.com/snarg/wer-engine/internal/database"
	"github.com/snarg/wer-engine/internal/dataset"
	"github.com/snarg/wer-engine/internal/evaluate"
	"github.com/snarg/wer-engine/internal/events"
	"github.com/snarg/wer-engine/internal/metrics"
	"github.com/snarg/wer-engine/internal/storage"
)

// Evaluate runs one request document and records the result.
func (p *Pipeline) Evaluate(ctx context.Context, source string, doc *dataset.Document) (*database.EvaluationRecord, error) {
	return p.record(ctx, source, "", doc.Request(p.tok))
}

// EvaluateSample implements batch.Recorder. Per-sample reports are not
// stored; the dataset export covers them.
func (p *Pipeline) EvaluateSample(ctx context.Context, ds string, req evaluate.Request) (*evaluate.Evaluation, error) {
	rec, err := p.record(ctx, "batch", ds, req)
	if err != nil {
		return nil, err
	}
	return rec.Evaluation, nil
}

func (p *Pipeline) record(ctx context.Context, source, ds string, req evaluate.Request) (*database.EvaluationRecord, error) {
	if req.ID == "" {
		req.ID = xid.New().String()
	}

	start := time.Now()
	ev, err := p.engine.Evaluate(ctx, req)
	metrics.EvaluationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		p.failCount.Add(1)
		metrics.EvaluationsTotal.WithLabelValues(source, evaluate.KindOf(err)).Inc()
		p.log.Debug().Err(err).Str("evaluation_id", req.ID).Str("source", source).Msg("evaluation failed")
		return nil, err
	}
	p.evalCount.Add(1)
	metrics.EvaluationsTotal.WithLabelValues(source, "ok").Inc()
	countOutcomes(ev)

	now := time.Now()
	rec := database.NewRecord(ev, source, ds, now)
	if err := p.repo.SaveEvaluation(ctx, rec); err != nil {
		return nil, fmt.Errorf("save evaluation %s: %w", ev.ID, err)
	}

	if ds == "" {
		p.saveReports(ctx, rec)
	}

	p.summaries.Add(events.NewSummary(ev, source, ds, now))
	p.eventBus.Publish(EventData{
		Type:    "evaluation",
		SubType: source,
		Source:  source,
		Dataset: ds,
		Payload: rec.EvaluationSummary,
	})

	p.log.Debug().
		Str("evaluation_id", ev.ID).
		Str("source", source).
		Int("hypotheses", rec.Hypotheses).
		Int("improved", rec.Improved).
		Msg("evaluation recorded")
	return rec, nil
}

func countOutcomes(ev *evaluate.Evaluation) {
	for _, c := range ev.Results {
		switch {
		case c.Improvement > 0:
			metrics.HypothesesTotal.WithLabelValues("improved").Inc()
		case c.Improvement < 0:
			metrics.HypothesesTotal.WithLabelValues("worse").Inc()
		default:
			metrics.HypothesesTotal.WithLabelValues("unchanged").Inc()
		}
	}
	if n := len(ev.Failures); n > 0 {
		metrics.HypothesesTotal.WithLabelValues("failed").Add(float64(n))
	}
	for _, d := range ev.Meta.Decisions {
		metrics.TrustDecisionsTotal.WithLabelValues(d.String()).Inc()
	}
}

// saveReports writes the JSON and text reports. Failures are logged; the
// record in the repository stays authoritative.
func (p *Pipeline) saveReports(ctx context.Context, rec *database.EvaluationRecord) {
	if p.store == nil {
		return
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		p.log.Warn().Err(err).Str("evaluation_id", rec.ID).Msg("failed to encode report")
		return
	}
	p.save(ctx, storage.ReportKey(rec.CreatedAt, rec.ID, "json"), data, "application/json")
	p.save(ctx, storage.ReportKey(rec.CreatedAt, rec.ID, "txt"), []byte(rec.Evaluation.Report()), "text/plain; charset=utf-8")
}

func (p *Pipeline) save(ctx context.Context, key string, data []byte, contentType string) {
	if err := p.store.Save(ctx, key, data, contentType); err != nil {
		p.log.Warn().Err(err).Str("key", key).Msg("failed to store report")
	}
}

type datasetExport struct {
	Status  batch.JobStatus        `json:"status"`
	Summary *dataset.Summary       `json:"summary,omitempty"`
	Results []dataset.SampleResult `json:"results"`
}

// DatasetComplete implements batch.Recorder: it stores the dataset export
// and summary table and announces the job on the event stream.
func (p *Pipeline) DatasetComplete(ctx context.Context, st batch.JobStatus, results []dataset.SampleResult) {
	at := time.Now()
	if st.FinishedAt != nil {
		at = *st.FinishedAt
	}
	id := "dataset-" + st.ID

	if p.store != nil {
		data, err := json.MarshalIndent(datasetExport{Status: st, Summary: st.Summary, Results: results}, "", "  ")
		if err != nil {
			p.log.Warn().Err(err).Str("job_id", st.ID).Msg("failed to encode dataset export")
		} else {
			p.save(ctx, storage.ReportKey(at, id, "json"), data, "application/json")
		}
		if st.Summary != nil {
			var buf bytes.Buffer
			if err := dataset.WriteSummary(&buf, *st.Summary); err == nil {
				p.save(ctx, storage.ReportKey(at, id, "txt"), buf.Bytes(), "text/plain; charset=utf-8")
			}
		}
	}

	p.eventBus.Publish(EventData{
		Type:    "dataset",
		SubType: string(st.State),
		Source:  st.Origin,
		Dataset: st.ID,
		Payload: st,
	})

	p.log.Info().
		Str("job_id", st.ID).
		Str("name", st.Name).
		Str("state", string(st.State)).
		Int("samples", st.Samples).
		Int("failed", st.Failed).
		Msg("dataset complete")
}

// ReportURL implements api.EvaluationService. It prefers a presigned store
// URL and falls back to the API's own report route.
func (p *Pipeline) ReportURL(ctx context.Context, s *database.EvaluationSummary) string {
	if p.store != nil && s.Dataset == "" {
		if u, err := p.store.URL(ctx, storage.ReportKey(s.CreatedAt, s.ID, "txt")); err == nil && u != "" {
			return u
		}
	}
	return "/api/v1/evaluations/" + s.ID + "/report"
}
