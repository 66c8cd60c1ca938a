package activity

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/strandlabs/strand/internal/observability"
	"github.com/strandlabs/strand/pkg/models"
)

// MemoryLog is an in-memory Log used by tests and ephemeral runs. It honors
// the same ordering and close semantics as the durable store.
type MemoryLog struct {
	mu     sync.RWMutex
	events []models.ActivityEvent
	nextID int64
	closed bool
	debug  *observability.Logger
}

// NewMemoryLog creates an empty in-memory activity log.
func NewMemoryLog(debug *observability.Logger) *MemoryLog {
	if debug == nil {
		debug = observability.NopLogger()
	}
	return &MemoryLog{nextID: 1, debug: debug}
}

// LogEvent appends one event; serialization failures are dropped after a
// debug report, matching the durable implementation.
func (l *MemoryLog) LogEvent(ctx context.Context, eventType, sessionID, modelSessionID string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		l.debug.Warn(ctx, "activity event payload not serializable",
			"event_type", eventType, "error", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.events = append(l.events, models.ActivityEvent{
		ID:             l.nextID,
		EventType:      eventType,
		SessionID:      sessionID,
		ModelSessionID: modelSessionID,
		Timestamp:      time.Now().UTC(),
		Data:           payload,
	})
	l.nextID++
}

// GetEvents returns matching events, descending by id.
func (l *MemoryLog) GetEvents(_ context.Context, filter Filter) ([]models.ActivityEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	var out []models.ActivityEvent
	for i := len(l.events) - 1; i >= 0 && len(out) < limit; i-- {
		e := l.events[i]
		if filter.SessionID != "" && e.SessionID != filter.SessionID {
			continue
		}
		if filter.EventType != "" && e.EventType != filter.EventType {
			continue
		}
		if !filter.Since.IsZero() && e.Timestamp.Before(filter.Since) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// GetRecentEvents returns the n newest events.
func (l *MemoryLog) GetRecentEvents(ctx context.Context, n int) ([]models.ActivityEvent, error) {
	return l.GetEvents(ctx, Filter{Limit: n})
}

// Close marks the log closed; subsequent writes are dropped.
func (l *MemoryLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// All returns every recorded event oldest-first. Test helper.
func (l *MemoryLog) All() []models.ActivityEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.ActivityEvent, len(l.events))
	copy(out, l.events)
	return out
}
