package api

import (
	"slices"
	"strings"
)

// LiveDataSource is implemented by the ingest pipeline and feeds the SSE
// stream and the watcher block of the health check.
type LiveDataSource interface {
	Subscribe(filter EventFilter) (<-chan SSEEvent, func())
	// ReplaySince returns buffered events newer than lastEventID, or every
	// buffered event when the ID is unknown.
	ReplaySince(lastEventID string, filter EventFilter) []SSEEvent
	// WatcherStatus is nil when no dataset directory is watched.
	WatcherStatus() *WatcherStatusData
}

type WatcherStatusData struct {
	Status         string `json:"status"`
	WatchDir       string `json:"watch_dir"`
	FilesProcessed int64  `json:"files_processed"`
	FilesSkipped   int64  `json:"files_skipped"`
}

// EventFilter selects SSE events. Empty lists match everything. A type may
// be "type" or "type:subtype".
type EventFilter struct {
	Types    []string
	Sources  []string
	Datasets []string
}

// Matches reports whether e passes every non-empty list of f. Events that
// belong to no dataset pass a dataset filter.
func (f EventFilter) Matches(e SSEEvent) bool {
	if len(f.Types) > 0 && !slices.ContainsFunc(f.Types, func(t string) bool { return typeMatches(t, e) }) {
		return false
	}
	if len(f.Sources) > 0 && !slices.Contains(f.Sources, e.Source) {
		return false
	}
	return len(f.Datasets) == 0 || e.Dataset == "" || slices.Contains(f.Datasets, e.Dataset)
}

func typeMatches(want string, e SSEEvent) bool {
	base, sub, compound := strings.Cut(strings.TrimSpace(want), ":")
	if compound {
		return base == e.Type && sub == e.SubType
	}
	return base == e.Type
}

// SSEEvent is one event on the stream. Data is the JSON payload.
type SSEEvent struct {
	ID        string `json:"event_id"`
	Type      string `json:"event_type"`
	SubType   string `json:"sub_type,omitempty"`
	Timestamp string `json:"timestamp"`
	Source    string `json:"source,omitempty"`
	Dataset   string `json:"dataset,omitempty"`
	Data      []byte `json:"-"`
}
