package ingest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/wer-engine/internal/api"
	"github.com/snarg/wer-engine/internal/batch"
	"github.com/snarg/wer-engine/internal/database"
	"github.com/snarg/wer-engine/internal/dataset"
	"github.com/snarg/wer-engine/internal/evaluate"
	"github.com/snarg/wer-engine/internal/events"
	"github.com/snarg/wer-engine/internal/storage"
)

// Pipeline is the single path every evaluation takes, whatever its origin
// (HTTP, MQTT, watched directory or batch upload): run the engine, persist
// the record, store reports and fan out events.
type Pipeline struct {
	engine    *evaluate.Engine
	tok       dataset.Tokenizer
	layout    dataset.Layout
	repo      database.Repository
	store     storage.ReportStore
	publisher *events.Publisher
	retention time.Duration
	log       zerolog.Logger

	// Kafka summaries are batched; SSE events go out immediately.
	summaries *Batcher[events.Summary]
	eventBus  *EventBus

	mu      sync.RWMutex
	queue   Submitter
	results ResultPublisher
	topic   string
	watcher *FileWatcher

	ctx    context.Context
	cancel context.CancelFunc

	evalCount    atomic.Int64
	failCount    atomic.Int64
	handlerCount sync.Map // handler name → *atomic.Int64
}

// Submitter queues datasets. *batch.Pool implements it.
type Submitter interface {
	Submit(j batch.Job) (batch.JobStatus, error)
}

// ResultPublisher sends MQTT replies. *mqttclient.Client implements it.
type ResultPublisher interface {
	Publish(topic string, payload []byte) error
}

type PipelineOptions struct {
	Engine    *evaluate.Engine
	Tokenizer dataset.Tokenizer
	Layout    dataset.Layout
	Repo      database.Repository
	Store     storage.ReportStore
	Publisher *events.Publisher
	// Retention deletes evaluations older than this; zero keeps them.
	Retention time.Duration
	Log       zerolog.Logger
}

func NewPipeline(opts PipelineOptions) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		engine:    opts.Engine,
		tok:       opts.Tokenizer,
		layout:    opts.Layout,
		repo:      opts.Repo,
		store:     opts.Store,
		publisher: opts.Publisher,
		retention: opts.Retention,
		log:       opts.Log.With().Str("component", "ingest").Logger(),
		eventBus:  NewEventBus(1024),
		ctx:       ctx,
		cancel:    cancel,
	}
	if p.publisher == nil {
		p.publisher = events.New(nil, opts.Log)
	}
	p.summaries = NewBatcher[events.Summary](100, time.Second, p.flushSummaries)
	return p
}

// Start begins periodic stats logging and, when a retention is set,
// hourly purging of old evaluations.
func (p *Pipeline) Start() {
	go p.statsLoop()
	if p.retention > 0 {
		go p.maintenanceLoop()
	}
	p.log.Info().Msg("ingest pipeline started")
}

// Stop stops the watcher, flushes pending events and cancels the context.
func (p *Pipeline) Stop() {
	p.log.Info().Int64("evaluations", p.evalCount.Load()).Msg("ingest pipeline stopping")
	p.mu.RLock()
	fw := p.watcher
	p.mu.RUnlock()
	if fw != nil {
		fw.Stop()
	}
	p.summaries.Stop()
	p.cancel()
}

// SetQueue connects the batch pool used for watched and MQTT datasets.
func (p *Pipeline) SetQueue(q Submitter) {
	p.mu.Lock()
	p.queue = q
	p.mu.Unlock()
}

// SetResultPublisher enables MQTT replies on topic/{evaluation id}.
func (p *Pipeline) SetResultPublisher(rp ResultPublisher, topic string) {
	p.mu.Lock()
	p.results = rp
	p.topic = topic
	p.mu.Unlock()
}

// StartWatcher watches dir for dataset CSV files.
func (p *Pipeline) StartWatcher(dir string, debounce time.Duration) error {
	fw := newFileWatcher(p, dir, debounce)
	if err := fw.Start(); err != nil {
		return err
	}
	p.mu.Lock()
	p.watcher = fw
	p.mu.Unlock()
	return nil
}

// Subscribe implements api.LiveDataSource.
func (p *Pipeline) Subscribe(filter api.EventFilter) (<-chan api.SSEEvent, func()) {
	return p.eventBus.Subscribe(filter)
}

// ReplaySince implements api.LiveDataSource.
func (p *Pipeline) ReplaySince(lastEventID string, filter api.EventFilter) []api.SSEEvent {
	return p.eventBus.ReplaySince(lastEventID, filter)
}

// WatcherStatus implements api.LiveDataSource.
func (p *Pipeline) WatcherStatus() *api.WatcherStatusData {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.watcher == nil {
		return nil
	}
	return p.watcher.Status()
}

func (p *Pipeline) submitter() Submitter {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.queue
}

func (p *Pipeline) flushSummaries(batch []events.Summary) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := p.publisher.PublishBatch(ctx, batch); err != nil {
		p.log.Warn().Err(err).Int("events", len(batch)).Msg("failed to publish evaluation events")
	}
}

func (p *Pipeline) incHandler(name string) {
	v, _ := p.handlerCount.LoadOrStore(name, &atomic.Int64{})
	v.(*atomic.Int64).Add(1)
}

// statsLoop logs evaluation counts every 60 seconds.
func (p *Pipeline) statsLoop() {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	var lastTotal int64
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			total := p.evalCount.Load()
			delta := total - lastTotal
			lastTotal = total

			evt := p.log.Info().
				Int64("evaluations", total).
				Int64("last_60s", delta).
				Int64("failed", p.failCount.Load()).
				Int("events_pending", p.summaries.Pending()).
				Int64("sse_dropped", p.eventBus.Dropped())

			p.handlerCount.Range(func(key, value any) bool {
				evt = evt.Int64(key.(string), value.(*atomic.Int64).Load())
				return true
			})

			evt.Msg("stats")
		}
	}
}

const maintenanceInterval = time.Hour

// maintenanceLoop purges expired evaluations once on startup, then hourly.
func (p *Pipeline) maintenanceLoop() {
	p.runMaintenance()

	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.runMaintenance()
		}
	}
}

func (p *Pipeline) runMaintenance() {
	log := p.log.With().Str("task", "maintenance").Logger()
	ctx, cancel := context.WithTimeout(p.ctx, 5*time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-p.retention)
	n, err := p.repo.PurgeBefore(ctx, cutoff)
	if err != nil {
		log.Warn().Err(err).Msg("purge failed")
		return
	}
	if n > 0 {
		log.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("purged old evaluations")
	}
}
