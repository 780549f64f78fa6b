package api

import (
	"bufio"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
)

// retryMillis is the reconnect delay suggested to EventSource clients.
const retryMillis = 3000

type EventsHandler struct {
	live      LiveDataSource
	keepalive time.Duration
}

func NewEventsHandler(live LiveDataSource) *EventsHandler {
	return &EventsHandler{live: live, keepalive: 15 * time.Second}
}

// sseStream writes events and comments and flushes after each one.
type sseStream struct {
	rc  *http.ResponseController
	buf *bufio.Writer
}

func (s sseStream) event(e SSEEvent) error {
	fmt.Fprintf(s.buf, "id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Type, e.Data)
	return s.flush()
}

func (s sseStream) comment(text string) error {
	fmt.Fprintf(s.buf, ": %s\n\n", text)
	return s.flush()
}

func (s sseStream) flush() error {
	if err := s.buf.Flush(); err != nil {
		return err
	}
	return s.rc.Flush()
}

// StreamEvents serves GET /events/stream. Filters come from the types,
// sources and datasets query lists. With Last-Event-ID the buffered events
// after that ID are sent first.
func (h *EventsHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	if h.live == nil {
		WriteError(w, http.StatusServiceUnavailable, "event streaming not available")
		return
	}
	filter := EventFilter{
		Types:    QueryStringList(r, "types"),
		Sources:  QueryStringList(r, "sources"),
		Datasets: QueryStringList(r, "datasets"),
	}

	// Subscribe before replaying so nothing published in between is lost.
	ch, cancel := h.live.Subscribe(filter)
	defer cancel()

	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	out := sseStream{rc: http.NewResponseController(w), buf: bufio.NewWriter(w)}
	fmt.Fprintf(out.buf, "retry: %d\n\n", retryMillis)

	replayed := map[string]bool{}
	if last := r.Header.Get("Last-Event-ID"); last != "" {
		for _, e := range h.live.ReplaySince(last, filter) {
			replayed[e.ID] = true
			fmt.Fprintf(out.buf, "id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Type, e.Data)
		}
	}
	log := hlog.FromRequest(r)
	if err := out.flush(); err != nil {
		log.Warn().Err(err).Msg("SSE stream not flushable")
		return
	}
	log.Info().Int("replayed", len(replayed)).Msg("SSE client connected")

	tick := time.NewTicker(h.keepalive)
	defer tick.Stop()
	for {
		var err error
		select {
		case <-r.Context().Done():
			log.Info().Msg("SSE client disconnected")
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if replayed[e.ID] {
				continue
			}
			err = out.event(e)
		case <-tick.C:
			err = out.comment("keepalive")
		}
		if err != nil {
			log.Info().Err(err).Msg("SSE write failed, closing")
			return
		}
	}
}

func (h *EventsHandler) Routes(r chi.Router) {
	r.Get("/events/stream", h.StreamEvents)
}
