package activity

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/strandlabs/strand/pkg/models"
)

func newStores(t *testing.T) map[string]Log {
	t.Helper()
	sqlite, err := NewSQLiteLog(filepath.Join(t.TempDir(), "activity.db"), nil)
	if err != nil {
		t.Fatalf("NewSQLiteLog: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Log{
		"memory": NewMemoryLog(nil),
		"sqlite": sqlite,
	}
}

func TestLogEventOrdering(t *testing.T) {
	for name, log := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			log.LogEvent(ctx, models.EventUserInput, "s1", "", models.UserInputPayload{Content: "hi", Timestamp: time.Now()})
			log.LogEvent(ctx, models.EventModelRequest, "s1", "ms1", models.ModelRequestPayload{Provider: "mock", Model: "m"})
			log.LogEvent(ctx, models.EventModelResponse, "s1", "ms1", models.ModelResponsePayload{Content: "ok"})

			events, err := log.GetEvents(ctx, Filter{SessionID: "s1"})
			if err != nil {
				t.Fatalf("GetEvents: %v", err)
			}
			if len(events) != 3 {
				t.Fatalf("got %d events, want 3", len(events))
			}
			// Descending by id.
			for i := 1; i < len(events); i++ {
				if events[i].ID >= events[i-1].ID {
					t.Errorf("events not descending: id[%d]=%d id[%d]=%d", i-1, events[i-1].ID, i, events[i].ID)
				}
			}
			if events[0].EventType != models.EventModelResponse {
				t.Errorf("newest event = %s, want model_response", events[0].EventType)
			}
		})
	}
}

func TestGetEventsFiltering(t *testing.T) {
	for name, log := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			log.LogEvent(ctx, models.EventUserInput, "s1", "", map[string]any{"content": "a"})
			log.LogEvent(ctx, models.EventUserInput, "s2", "", map[string]any{"content": "b"})
			log.LogEvent(ctx, models.EventAgentResponse, "s1", "", map[string]any{"content": "c"})

			byType, err := log.GetEvents(ctx, Filter{EventType: models.EventUserInput})
			if err != nil {
				t.Fatalf("GetEvents: %v", err)
			}
			if len(byType) != 2 {
				t.Errorf("by type: got %d, want 2", len(byType))
			}

			bySession, err := log.GetEvents(ctx, Filter{SessionID: "s1"})
			if err != nil {
				t.Fatalf("GetEvents: %v", err)
			}
			if len(bySession) != 2 {
				t.Errorf("by session: got %d, want 2", len(bySession))
			}

			limited, err := log.GetEvents(ctx, Filter{Limit: 1})
			if err != nil {
				t.Fatalf("GetEvents: %v", err)
			}
			if len(limited) != 1 {
				t.Errorf("limited: got %d, want 1", len(limited))
			}
		})
	}
}

func TestCloseIdempotent(t *testing.T) {
	for name, log := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := log.Close(); err != nil {
				t.Fatalf("first Close: %v", err)
			}
			if err := log.Close(); err != nil {
				t.Fatalf("second Close: %v", err)
			}
			// Writes after close are no-ops, not panics.
			log.LogEvent(context.Background(), models.EventUserInput, "s1", "", map[string]any{"content": "x"})
		})
	}
}

func TestUnserializablePayloadSwallowed(t *testing.T) {
	log := NewMemoryLog(nil)
	log.LogEvent(context.Background(), models.EventUserInput, "s1", "", func() {})
	events, err := log.GetRecentEvents(context.Background(), 10)
	if err != nil {
		t.Fatalf("GetRecentEvents: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("unserializable payload should be dropped, got %d events", len(events))
	}
}
