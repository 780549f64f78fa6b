package ingest

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/snarg/wer-engine/internal/api"
)

// ── EventBus Publish/Subscribe ────────────────────────────────────────

func TestEventBusPublishSubscribe(t *testing.T) {
	t.Run("subscriber_receives_published_event", func(t *testing.T) {
		eb := NewEventBus(64)
		ch, cancel := eb.Subscribe(api.EventFilter{})
		defer cancel()

		eb.Publish(EventData{
			Type:    "evaluation",
			SubType: "api",
			Source:  "api",
			Payload: map[string]string{"id": "e1"},
		})

		select {
		case evt := <-ch:
			if evt.Type != "evaluation" || evt.SubType != "api" || evt.Source != "api" {
				t.Errorf("event = %+v", evt)
			}
			if evt.ID == "" {
				t.Error("expected non-empty event ID")
			}
			var payload map[string]string
			if err := json.Unmarshal(evt.Data, &payload); err != nil {
				t.Fatalf("Data is not valid JSON: %v", err)
			}
			if payload["id"] != "e1" {
				t.Errorf("payload id = %q, want e1", payload["id"])
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	})

	t.Run("filtered_subscriber_misses_non_matching", func(t *testing.T) {
		eb := NewEventBus(64)
		ch, cancel := eb.Subscribe(api.EventFilter{Types: []string{"dataset"}})
		defer cancel()

		eb.Publish(EventData{Type: "evaluation", Payload: "x"})

		select {
		case evt := <-ch:
			t.Fatalf("should not receive event, got %+v", evt)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("cancel_stops_delivery", func(t *testing.T) {
		eb := NewEventBus(64)
		ch, cancel := eb.Subscribe(api.EventFilter{})
		cancel()

		eb.Publish(EventData{Type: "evaluation", Payload: "x"})

		select {
		case _, ok := <-ch:
			if ok {
				t.Fatal("should not receive event after cancel")
			}
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("unmarshalable_payload_dropped", func(t *testing.T) {
		eb := NewEventBus(4)
		eb.Publish(EventData{Type: "evaluation", Payload: make(chan int)})
		if got := eb.ReplaySince("", api.EventFilter{}); len(got) != 0 {
			t.Errorf("got %d events, want 0", len(got))
		}
	})
}

// ── EventBus ReplaySince ─────────────────────────────────────────────

func TestEventBusReplaySince(t *testing.T) {
	t.Run("replay_all_when_empty_lastID", func(t *testing.T) {
		eb := NewEventBus(64)
		eb.Publish(EventData{Type: "evaluation", Payload: "a"})
		eb.Publish(EventData{Type: "dataset", Payload: "b"})

		if events := eb.ReplaySince("", api.EventFilter{}); len(events) != 2 {
			t.Fatalf("got %d events, want 2", len(events))
		}
	})

	t.Run("replay_after_specific_id", func(t *testing.T) {
		eb := NewEventBus(64)
		eb.Publish(EventData{Type: "evaluation", Payload: "a"})
		firstID := eb.ReplaySince("", api.EventFilter{})[0].ID

		eb.Publish(EventData{Type: "dataset", Payload: "b"})

		events := eb.ReplaySince(firstID, api.EventFilter{})
		if len(events) != 1 || events[0].Type != "dataset" {
			t.Fatalf("events = %+v, want the dataset event only", events)
		}
	})

	t.Run("unknown_lastID_replays_all", func(t *testing.T) {
		eb := NewEventBus(64)
		eb.Publish(EventData{Type: "evaluation", Payload: "a"})

		if events := eb.ReplaySince("nonexistent-id", api.EventFilter{}); len(events) != 1 {
			t.Fatalf("got %d events, want 1 (fallback replay all)", len(events))
		}
	})

	t.Run("ring_wraps", func(t *testing.T) {
		eb := NewEventBus(2)
		for _, p := range []string{"a", "b", "c"} {
			eb.Publish(EventData{Type: "evaluation", Payload: p})
		}
		events := eb.ReplaySince("", api.EventFilter{})
		if len(events) != 2 || string(events[0].Data) != `"b"` || string(events[1].Data) != `"c"` {
			t.Fatalf("events = %+v, want b then c", events)
		}
	})

	t.Run("replay_with_filter", func(t *testing.T) {
		eb := NewEventBus(64)
		eb.Publish(EventData{Type: "evaluation", Dataset: "d1", Payload: "a"})
		eb.Publish(EventData{Type: "evaluation", Dataset: "d2", Payload: "b"})

		events := eb.ReplaySince("", api.EventFilter{Datasets: []string{"d2"}})
		if len(events) != 1 || events[0].Dataset != "d2" {
			t.Fatalf("events = %+v, want d2 only", events)
		}
	})
}

func TestEventBusSlowSubscriber(t *testing.T) {
	eb := NewEventBus(4)
	_, cancel := eb.Subscribe(api.EventFilter{})
	defer cancel()
	for i := 0; i < subscriberBuffer+3; i++ {
		eb.Publish(EventData{Type: "evaluation", Payload: i})
	}
	if got := eb.Dropped(); got != 3 {
		t.Errorf("Dropped() = %d, want 3", got)
	}
	if got := len(eb.ReplaySince("", api.EventFilter{})); got != 4 {
		t.Errorf("replay kept %d events, want 4", got)
	}
	cancel()
}
