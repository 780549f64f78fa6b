package ingest

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"

	"github.com/snarg/wer-engine/internal/api"
)

const subscriberBuffer = 64

// EventBus fans evaluation and dataset events out to SSE subscribers and
// keeps the last few for Last-Event-ID replay. A subscriber that falls
// behind loses events rather than blocking publishers.
type EventBus struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	recent []api.SSEEvent
	keep   int

	dropped atomic.Int64
}

type subscriber struct {
	ch     chan api.SSEEvent
	filter api.EventFilter
}

// NewEventBus keeps up to keep events for replay.
func NewEventBus(keep int) *EventBus {
	return &EventBus{
		subs:   make(map[*subscriber]struct{}),
		recent: make([]api.SSEEvent, 0, keep),
		keep:   keep,
	}
}

func (eb *EventBus) Subscribe(filter api.EventFilter) (<-chan api.SSEEvent, func()) {
	sub := &subscriber{ch: make(chan api.SSEEvent, subscriberBuffer), filter: filter}
	eb.mu.Lock()
	eb.subs[sub] = struct{}{}
	eb.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			eb.mu.Lock()
			delete(eb.subs, sub)
			eb.mu.Unlock()
		})
	}
}

// ReplaySince returns the kept events after lastEventID that match filter.
// An unknown or empty ID replays everything kept.
func (eb *EventBus) ReplaySince(lastEventID string, filter api.EventFilter) []api.SSEEvent {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	from := 0
	for i, e := range eb.recent {
		if e.ID == lastEventID {
			from = i + 1
			break
		}
	}
	var out []api.SSEEvent
	for _, e := range eb.recent[from:] {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	return out
}

// EventData is an event before encoding. Type is "evaluation" or "dataset".
type EventData struct {
	Type    string
	SubType string
	Source  string
	Dataset string
	Payload any
}

// Publish encodes e and delivers it. Payloads that cannot be encoded are
// discarded.
func (eb *EventBus) Publish(e EventData) {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return
	}
	id := xid.New()
	event := api.SSEEvent{
		ID:        id.String(),
		Type:      e.Type,
		SubType:   e.SubType,
		Timestamp: id.Time().UTC().Format(time.RFC3339),
		Source:    e.Source,
		Dataset:   e.Dataset,
		Data:      data,
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.keep > 0 {
		if len(eb.recent) == eb.keep {
			copy(eb.recent, eb.recent[1:])
			eb.recent = eb.recent[:eb.keep-1]
		}
		eb.recent = append(eb.recent, event)
	}
	for sub := range eb.subs {
		if !sub.filter.Matches(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			eb.dropped.Add(1)
		}
	}
}

// Dropped counts deliveries skipped because a subscriber was full.
func (eb *EventBus) Dropped() int64 { return eb.dropped.Load() }
