// Package batch evaluates datasets in the background. Jobs are queued on a
// bounded channel and drained by a fixed number of workers; each sample of a
// job is one engine evaluation.
package batch

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/wer-engine/internal/dataset"
	"github.com/snarg/wer-engine/internal/evaluate"
)

// Job is one dataset queued for evaluation.
type Job struct {
	ID      string
	Name    string
	Origin  string // "watch", "upload", "cli"
	Samples []dataset.Sample
}

// State is the lifecycle stage of a job.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateDone      State = "done"
	StateCancelled State = "cancelled"
)

// JobStatus reports the progress of a job.
type JobStatus struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Origin      string           `json:"origin"`
	State       State            `json:"state"`
	Samples     int              `json:"samples"`
	Processed   int              `json:"processed"`
	Failed      int              `json:"failed"`
	Summary     *dataset.Summary `json:"summary,omitempty"`
	Error       string           `json:"error,omitempty"`
	SubmittedAt time.Time        `json:"submitted_at"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	FinishedAt  *time.Time       `json:"finished_at,omitempty"`
}

// QueueStats reports the current state of the batch queue.
type QueueStats struct {
	Pending   int   `json:"pending"`
	Active    int   `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Workers   int   `json:"workers"`
}

// Recorder evaluates and records single samples and finished datasets.
type Recorder interface {
	EvaluateSample(ctx context.Context, dataset string, req evaluate.Request) (*evaluate.Evaluation, error)
	DatasetComplete(ctx context.Context, status JobStatus, results []dataset.SampleResult)
}

// ErrQueueFull is returned by Submit when the queue has no room.
var ErrQueueFull = errors.New("batch queue full")

// ErrStopped is returned by Submit after Stop.
var ErrStopped = errors.New("batch pool stopped")

// PoolOptions configures the batch worker pool.
type PoolOptions struct {
	Recorder  Recorder
	Tokenizer dataset.Tokenizer
	Workers   int
	QueueSize int
	// History bounds how many finished jobs are kept for status queries.
	History int
	Log     zerolog.Logger
}

// Pool manages batch workers.
type Pool struct {
	jobs   chan Job
	opts   PoolOptions
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	stopped  bool
	status   map[string]*JobStatus
	finished []string

	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// NewPool creates a new batch worker pool.
func NewPool(opts PoolOptions) *Pool {
	if opts.History <= 0 {
		opts.History = 100
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		jobs:   make(chan Job, opts.QueueSize),
		opts:   opts,
		log:    opts.Log.With().Str("component", "batch").Logger(),
		ctx:    ctx,
		cancel: cancel,
		status: make(map[string]*JobStatus),
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.log.Info().Int("workers", p.opts.Workers).Int("queue_size", cap(p.jobs)).Msg("batch worker pool started")
}

// Stop rejects new jobs, cancels the running ones and waits for workers.
// Queued jobs are marked cancelled.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
	p.log.Info().
		Int64("completed", p.completed.Load()).
		Int64("failed", p.failed.Load()).
		Msg("batch worker pool stopped")
}

// Submit queues a job. It never blocks.
func (p *Pool) Submit(j Job) (JobStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return JobStatus{}, ErrStopped
	}
	st := &JobStatus{
		ID:          j.ID,
		Name:        j.Name,
		Origin:      j.Origin,
		State:       StateQueued,
		Samples:     len(j.Samples),
		SubmittedAt: time.Now().UTC(),
	}
	select {
	case p.jobs <- j:
		p.status[j.ID] = st
		return *st, nil
	default:
		return JobStatus{}, ErrQueueFull
	}
}

// Job returns the status of a queued, running or recently finished job.
func (p *Pool) Job(id string) (JobStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.status[id]
	if !ok {
		return JobStatus{}, false
	}
	return *st, true
}

// Jobs returns all known jobs, newest first.
func (p *Pool) Jobs() []JobStatus {
	p.mu.Lock()
	out := make([]JobStatus, 0, len(p.status))
	for _, st := range p.status {
		out = append(out, *st)
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.After(out[j].SubmittedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// Stats returns current queue statistics.
func (p *Pool) Stats() QueueStats {
	return QueueStats{
		Pending:   len(p.jobs),
		Active:    int(p.active.Load()),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Workers:   p.opts.Workers,
	}
}

// Pending and Active satisfy metrics.BatchStats.
func (p *Pool) Pending() int { return len(p.jobs) }
func (p *Pool) Active() int  { return int(p.active.Load()) }

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	log := p.log.With().Int("worker", id).Logger()

	for job := range p.jobs {
		if p.ctx.Err() != nil {
			p.finish(job.ID, StateCancelled, "stopped before start")
			continue
		}
		p.active.Add(1)
		p.run(log, job)
		p.active.Add(-1)
	}
}

func (p *Pool) run(log zerolog.Logger, job Job) {
	start := time.Now()
	p.update(job.ID, func(st *JobStatus) {
		st.State = StateRunning
		t := start.UTC()
		st.StartedAt = &t
	})

	results := make([]dataset.SampleResult, 0, len(job.Samples))
	for _, s := range job.Samples {
		if p.ctx.Err() != nil {
			break
		}
		req := s.Request(p.opts.Tokenizer)
		req.ID = job.ID + "-" + s.ID()
		ev, err := p.opts.Recorder.EvaluateSample(p.ctx, job.ID, req)
		r := dataset.SampleResult{Sample: s, Evaluation: ev}
		if err != nil {
			r.Error = err.Error()
			p.failed.Add(1)
			log.Debug().Err(err).Str("job", job.ID).Int("sample", s.Index).Msg("sample evaluation failed")
		} else {
			p.completed.Add(1)
		}
		results = append(results, r)
		p.update(job.ID, func(st *JobStatus) {
			st.Processed++
			if err != nil {
				st.Failed++
			}
		})
	}

	summary := dataset.Summarize(results)
	state, msg := StateDone, ""
	if len(results) < len(job.Samples) {
		state, msg = StateCancelled, "stopped while running"
	}
	p.update(job.ID, func(st *JobStatus) { st.Summary = &summary })
	st := p.finish(job.ID, state, msg)

	// The pool context may already be cancelled; give the final write its own budget.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	p.opts.Recorder.DatasetComplete(ctx, st, results)
	cancel()

	log.Info().
		Str("job", job.ID).
		Str("name", job.Name).
		Int("samples", len(job.Samples)).
		Int("failed", summary.Failed).
		Dur("elapsed", time.Since(start)).
		Msg("dataset evaluated")
}

func (p *Pool) update(id string, fn func(*JobStatus)) {
	p.mu.Lock()
	if st, ok := p.status[id]; ok {
		fn(st)
	}
	p.mu.Unlock()
}

// finish marks a job terminal and evicts the oldest finished jobs beyond
// the history bound.
func (p *Pool) finish(id string, state State, msg string) JobStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.status[id]
	if !ok {
		return JobStatus{}
	}
	now := time.Now().UTC()
	st.State = state
	st.Error = msg
	st.FinishedAt = &now

	p.finished = append(p.finished, id)
	for len(p.finished) > p.opts.History {
		delete(p.status, p.finished[0])
		p.finished = p.finished[1:]
	}
	return *st
}
