// Package events publishes completed evaluations to Kafka.
package events

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/snarg/wer-engine/internal/evaluate"
	"github.com/snarg/wer-engine/internal/metrics"
)

// Summary is the event payload for one completed evaluation. Full results
// stay in the database and report store.
type Summary struct {
	ID              string                   `json:"id"`
	Source          string                   `json:"source"`
	Dataset         string                   `json:"dataset,omitempty"`
	Strategy        string                   `json:"strategy"`
	TrustThreshold  float64                  `json:"trust_threshold"`
	ReferenceLength int                      `json:"reference_length"`
	ConsensusLength int                      `json:"consensus_length"`
	Hypotheses      map[string]HypothesisWER `json:"hypotheses"`
	Failed          []string                 `json:"failed,omitempty"`
	CompletedAt     time.Time                `json:"completed_at"`
}

type HypothesisWER struct {
	StandardWER float64 `json:"standard_wer"`
	LatticeWER  float64 `json:"lattice_wer"`
	Improvement float64 `json:"improvement"`
	Improved    bool    `json:"improved"`
}

// NewSummary builds the event payload for ev.
func NewSummary(ev *evaluate.Evaluation, source, dataset string, at time.Time) Summary {
	s := Summary{
		ID:              ev.ID,
		Source:          source,
		Dataset:         dataset,
		Strategy:        string(ev.Meta.Strategy),
		TrustThreshold:  ev.Meta.TrustThreshold,
		ReferenceLength: ev.Meta.ReferenceLength,
		ConsensusLength: ev.Meta.ConsensusLength,
		Hypotheses:      make(map[string]HypothesisWER, len(ev.Results)),
		CompletedAt:     at.UTC(),
	}
	for id, c := range ev.Results {
		s.Hypotheses[id] = HypothesisWER{
			StandardWER: c.Standard.WER,
			LatticeWER:  c.Lattice.WER,
			Improvement: c.Improvement,
			Improved:    c.Improved,
		}
	}
	for id := range ev.Failures {
		s.Failed = append(s.Failed, id)
	}
	sort.Strings(s.Failed)
	return s
}

// Config selects the Kafka cluster and topic. Without brokers, or with
// Enabled unset, the publisher only logs.
type Config struct {
	Brokers []string
	Topic   string
	Enabled bool
}

func (c *Config) active() bool {
	return c != nil && c.Enabled && len(c.Brokers) > 0
}

// Publisher writes evaluation summaries to Kafka, keyed by evaluation ID.
type Publisher struct {
	writer *kafka.Writer
	topic  string
	log    zerolog.Logger
}

// New returns a log-only publisher unless cfg names an enabled cluster.
func New(cfg *Config, log zerolog.Logger) *Publisher {
	p := &Publisher{log: log.With().Str("component", "events").Logger()}
	if cfg != nil {
		p.topic = cfg.Topic
	}
	if !cfg.active() {
		p.log.Info().Msg("kafka not configured, evaluation events are logged only")
		return p
	}

	dialer := &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    &kafka.Transport{Dial: dialer.DialFunc},
	}
	p.log.Info().Strs("brokers", cfg.Brokers).Str("topic", cfg.Topic).Msg("kafka publisher ready")
	return p
}

// Enabled reports whether events reach Kafka.
func (p *Publisher) Enabled() bool { return p.writer != nil }

func (p *Publisher) Publish(ctx context.Context, s Summary) error {
	return p.PublishBatch(ctx, []Summary{s})
}

// PublishBatch sends batch in one request. Summaries that fail to encode are
// counted and skipped; the rest are still sent.
func (p *Publisher) PublishBatch(ctx context.Context, batch []Summary) error {
	msgs := make([]kafka.Message, 0, len(batch))
	for _, s := range batch {
		m, err := message(s)
		if err != nil {
			p.log.Error().Err(err).Str("evaluation_id", s.ID).Msg("evaluation event not encodable")
			metrics.EventsPublishedTotal.WithLabelValues("error").Inc()
			continue
		}
		msgs = append(msgs, m)
	}
	if len(msgs) == 0 {
		return nil
	}

	outcome := "published"
	if p.writer == nil {
		outcome = "logged"
		for _, m := range msgs {
			p.log.Debug().Str("topic", p.topic).Bytes("key", m.Key).RawJSON("payload", m.Value).Msg("evaluation event")
		}
	} else if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.log.Error().Err(err).Int("messages", len(msgs)).Msg("kafka write failed")
		metrics.EventsPublishedTotal.WithLabelValues("error").Add(float64(len(msgs)))
		return err
	}
	metrics.EventsPublishedTotal.WithLabelValues(outcome).Add(float64(len(msgs)))
	return nil
}

func message(s Summary) (kafka.Message, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return kafka.Message{}, err
	}
	headers := []kafka.Header{
		{Key: "eventType", Value: []byte("evaluation.completed")},
		{Key: "source", Value: []byte(s.Source)},
	}
	if s.Dataset != "" {
		headers = append(headers, kafka.Header{Key: "dataset", Value: []byte(s.Dataset)})
	}
	return kafka.Message{Key: []byte(s.ID), Value: payload, Headers: headers, Time: s.CompletedAt}, nil
}

// Close flushes pending writes.
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
