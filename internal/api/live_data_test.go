package api

import "testing"

func TestEventFilterMatches(t *testing.T) {
	tests := []struct {
		name   string
		event  SSEEvent
		filter EventFilter
		want   bool
	}{
		{"empty_filter_matches_all", SSEEvent{Type: "evaluation", Source: "api"}, EventFilter{}, true},
		{"type_match", SSEEvent{Type: "evaluation"}, EventFilter{Types: []string{"evaluation"}}, true},
		{"type_no_match", SSEEvent{Type: "evaluation"}, EventFilter{Types: []string{"dataset"}}, false},
		{"compound_type_exact_match", SSEEvent{Type: "dataset", SubType: "done"}, EventFilter{Types: []string{"dataset:done"}}, true},
		{"compound_type_wrong_subtype", SSEEvent{Type: "dataset", SubType: "cancelled"}, EventFilter{Types: []string{"dataset:done"}}, false},
		{"plain_type_matches_any_subtype", SSEEvent{Type: "dataset", SubType: "done"}, EventFilter{Types: []string{"dataset"}}, true},
		{"mixed_compound_and_plain", SSEEvent{Type: "evaluation"}, EventFilter{Types: []string{"dataset:done", " evaluation"}}, true},
		{"source_match", SSEEvent{Source: "mqtt"}, EventFilter{Sources: []string{"api", "mqtt"}}, true},
		{"source_no_match", SSEEvent{Source: "batch"}, EventFilter{Sources: []string{"api"}}, false},
		{"dataset_no_match", SSEEvent{Dataset: "d1"}, EventFilter{Datasets: []string{"d2"}}, false},
		{"dataset_filter_passes_unscoped", SSEEvent{Type: "evaluation"}, EventFilter{Datasets: []string{"d2"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(tt.event); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}
