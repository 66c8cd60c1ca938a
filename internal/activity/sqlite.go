package activity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/strandlabs/strand/internal/observability"
	"github.com/strandlabs/strand/pkg/models"
)

// SQLiteLog is a durable Log backed by an embedded SQLite database. A single
// writer mutex serializes appends; reads run concurrently.
type SQLiteLog struct {
	db      *sql.DB
	debug   *observability.Logger
	writeMu sync.Mutex
	closed  atomic.Bool
}

// NewSQLiteLog opens (or creates) the activity log at path. Use ":memory:"
// for an ephemeral log.
func NewSQLiteLog(path string, debug *observability.Logger) (*SQLiteLog, error) {
	if path == "" {
		path = ":memory:"
	}
	if debug == nil {
		debug = observability.NopLogger()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open activity log: %w", err)
	}

	l := &SQLiteLog{db: db, debug: debug}
	if err := l.init(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *SQLiteLog) init() error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS activity_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT NOT NULL,
			session_id TEXT NOT NULL,
			model_session_id TEXT,
			timestamp DATETIME NOT NULL,
			data TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create activity_events table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_activity_session ON activity_events(session_id)",
		"CREATE INDEX IF NOT EXISTS idx_activity_type ON activity_events(event_type)",
		"CREATE INDEX IF NOT EXISTS idx_activity_timestamp ON activity_events(timestamp)",
	}
	for _, idx := range indexes {
		if _, err := l.db.Exec(idx); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

// LogEvent appends one event. Failures are reported to the debug log only.
func (l *SQLiteLog) LogEvent(ctx context.Context, eventType, sessionID, modelSessionID string, data any) {
	if l.closed.Load() {
		return
	}

	payload, err := json.Marshal(data)
	if err != nil {
		l.debug.Warn(ctx, "activity event payload not serializable",
			"event_type", eventType, "error", err)
		return
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if l.closed.Load() {
		return
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO activity_events (event_type, session_id, model_session_id, timestamp, data)
		VALUES (?, ?, ?, ?, ?)`,
		eventType, sessionID, nullable(modelSessionID), time.Now().UTC(), string(payload),
	)
	if err != nil {
		l.debug.Warn(ctx, "activity event write failed",
			"event_type", eventType, "error", err)
	}
}

// GetEvents returns events matching the filter, descending by id.
func (l *SQLiteLog) GetEvents(ctx context.Context, filter Filter) ([]models.ActivityEvent, error) {
	if l.closed.Load() {
		return nil, fmt.Errorf("activity log is closed")
	}

	var (
		conds []string
		args  []any
	)
	if filter.SessionID != "" {
		conds = append(conds, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if filter.EventType != "" {
		conds = append(conds, "event_type = ?")
		args = append(args, filter.EventType)
	}
	if !filter.Since.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, filter.Since.UTC())
	}

	query := "SELECT id, event_type, session_id, model_session_id, timestamp, data FROM activity_events"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query activity events: %w", err)
	}
	defer rows.Close()

	var events []models.ActivityEvent
	for rows.Next() {
		var (
			e      models.ActivityEvent
			msID   sql.NullString
			data   string
			tstamp time.Time
		)
		if err := rows.Scan(&e.ID, &e.EventType, &e.SessionID, &msID, &tstamp, &data); err != nil {
			return nil, fmt.Errorf("scan activity event: %w", err)
		}
		e.ModelSessionID = msID.String
		e.Timestamp = tstamp
		e.Data = json.RawMessage(data)
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetRecentEvents returns the n newest events across all sessions.
func (l *SQLiteLog) GetRecentEvents(ctx context.Context, n int) ([]models.ActivityEvent, error) {
	return l.GetEvents(ctx, Filter{Limit: n})
}

// Close closes the backing database. Safe to call more than once; writes
// after Close become no-ops.
func (l *SQLiteLog) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return l.db.Close()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
