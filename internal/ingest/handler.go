package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/rs/xid"

	"github.com/snarg/wer-engine/internal/batch"
	"github.com/snarg/wer-engine/internal/dataset"
	"github.com/snarg/wer-engine/internal/evaluate"
	"github.com/snarg/wer-engine/internal/metrics"
)

const messageTimeout = 30 * time.Second

// HandleMessage is the MQTT message callback.
func (p *Pipeline) HandleMessage(topic string, payload []byte) {
	metrics.MQTTMessagesTotal.Inc()

	route := ParseTopic(topic)
	if route == nil {
		p.log.Warn().Str("topic", topic).Msg("unhandled MQTT topic")
		return
	}
	p.incHandler(route.Handler)

	switch route.Handler {
	case routeEvaluate:
		p.handleEvaluate(payload)
	case routeDataset:
		p.handleDataset(route.Name, payload)
	}
}

// errorReply is published when an MQTT evaluation request fails.
type errorReply struct {
	ID    string `json:"id,omitempty"`
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (p *Pipeline) handleEvaluate(payload []byte) {
	doc, err := dataset.DecodeDocument(bytes.NewReader(payload))
	if err != nil {
		p.log.Warn().Err(err).Msg("invalid evaluation request")
		return
	}
	if doc.ID == "" {
		doc.ID = xid.New().String()
	}

	ctx, cancel := context.WithTimeout(p.ctx, messageTimeout)
	defer cancel()

	rec, err := p.Evaluate(ctx, "mqtt", doc)
	if err != nil {
		p.log.Warn().Err(err).Str("evaluation_id", doc.ID).Msg("mqtt evaluation failed")
		p.reply(doc.ID, errorReply{ID: doc.ID, Error: err.Error(), Kind: evaluate.KindOf(err)})
		return
	}
	p.reply(rec.ID, rec)
}

func (p *Pipeline) reply(id string, v any) {
	p.mu.RLock()
	rp, topic := p.results, p.topic
	p.mu.RUnlock()
	if rp == nil || topic == "" {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		p.log.Warn().Err(err).Str("evaluation_id", id).Msg("failed to encode mqtt reply")
		return
	}
	if err := rp.Publish(topic+"/"+id, data); err != nil {
		p.log.Warn().Err(err).Str("evaluation_id", id).Msg("failed to publish mqtt reply")
	}
}

func (p *Pipeline) handleDataset(name string, payload []byte) {
	q := p.submitter()
	if q == nil {
		p.log.Warn().Msg("dataset received over MQTT but no batch queue is configured")
		return
	}
	samples, err := dataset.ReadCSV(bytes.NewReader(payload), p.layout)
	if err != nil {
		p.log.Warn().Err(err).Msg("invalid dataset payload")
		return
	}
	if len(samples) == 0 {
		p.log.Warn().Str("name", name).Msg("dataset payload has no rows")
		return
	}

	id := xid.New().String()
	if name == "" {
		name = id
	}
	st, err := q.Submit(batch.Job{ID: id, Name: name, Origin: "mqtt", Samples: samples})
	if err != nil {
		p.log.Warn().Err(err).Str("name", name).Msg("failed to queue dataset")
		return
	}
	metrics.DatasetFilesTotal.WithLabelValues("mqtt").Inc()
	p.log.Info().Str("job_id", st.ID).Str("name", name).Int("samples", st.Samples).Msg("dataset queued from mqtt")
}
