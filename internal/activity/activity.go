// Package activity implements the append-only activity event log. Writes are
// observability, not a hard dependency: a failing backend is reported to the
// debug log and otherwise swallowed so the agent loop never stalls on it.
package activity

import (
	"context"
	"time"

	"github.com/strandlabs/strand/pkg/models"
)

// DefaultQueryLimit caps event reads when the caller does not specify one.
const DefaultQueryLimit = 1000

// Filter narrows an event query. Zero values mean "no constraint".
type Filter struct {
	SessionID string
	EventType string
	Since     time.Time
	Limit     int
}

// Log is the append-only event sink consumed by the engine.
//
// LogEvent never returns an error: persistence failures are reported to the
// debug channel and dropped. Events are totally ordered by the store-assigned
// id; reads return newest-first unless documented otherwise.
type Log interface {
	// LogEvent appends one event. data must be JSON-serializable.
	LogEvent(ctx context.Context, eventType, sessionID, modelSessionID string, data any)

	// GetEvents returns events matching the filter, descending by id.
	GetEvents(ctx context.Context, filter Filter) ([]models.ActivityEvent, error)

	// GetRecentEvents returns the n newest events across all sessions.
	GetRecentEvents(ctx context.Context, n int) ([]models.ActivityEvent, error)

	// Close releases the backing store. Idempotent; writes after Close are
	// no-ops.
	Close() error
}
