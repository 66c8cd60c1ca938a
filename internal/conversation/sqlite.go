package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/strandlabs/strand/pkg/models"
)

// SQLiteStore is a durable Store backed by an embedded SQLite database.
// Writes within one session are serialized; reads run concurrently.
type SQLiteStore struct {
	db *sql.DB

	locksMu sync.Mutex
	locks   map[string]*sessionLock
	closed  bool
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// NewSQLiteStore opens (or creates) the conversation store at path. Use
// ":memory:" for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open conversation store: %w", err)
	}
	s := &SQLiteStore{db: db, locks: make(map[string]*sessionLock)}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			generation TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tool_calls TEXT,
			usage TEXT,
			timing TEXT,
			context_size INTEGER,
			reason TEXT,
			created_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create messages table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id)",
		"CREATE INDEX IF NOT EXISTS idx_messages_generation ON messages(session_id, generation)",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_session_timestamp ON messages(session_id, created_at)",
	}
	for _, idx := range indexes {
		if _, err := s.db.Exec(idx); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

// lockSession serializes writes within one session. Returns the unlock func.
func (s *SQLiteStore) lockSession(sessionID string) func() {
	s.locksMu.Lock()
	lock := s.locks[sessionID]
	if lock == nil {
		lock = &sessionLock{}
		s.locks[sessionID] = lock
	}
	lock.refs++
	s.locksMu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.locksMu.Lock()
		lock.refs--
		if lock.refs <= 0 {
			delete(s.locks, sessionID)
		}
		s.locksMu.Unlock()
	}
}

// SaveMessage persists one message and returns after the row is durable.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil {
		return fmt.Errorf("message cannot be nil")
	}
	if msg.SessionID == "" {
		return fmt.Errorf("message requires a session id")
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	var toolCalls, usage, timing any
	if len(msg.ToolCalls) > 0 {
		b, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("marshal tool calls: %w", err)
		}
		toolCalls = string(b)
	}
	if msg.Usage != nil {
		b, err := json.Marshal(msg.Usage)
		if err != nil {
			return fmt.Errorf("marshal usage: %w", err)
		}
		usage = string(b)
	}
	if msg.Timing != nil {
		b, err := json.Marshal(msg.Timing)
		if err != nil {
			return fmt.Errorf("marshal timing: %w", err)
		}
		timing = string(b)
	}

	unlock := s.lockSession(msg.SessionID)
	defer unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, generation, role, content, tool_calls, usage, timing, context_size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.Generation.String(), string(msg.Role), msg.Content,
		toolCalls, usage, timing, msg.ContextSize, msg.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

// GetConversationHistory returns up to limit most-recent messages oldest-first,
// starting at the latest handoff if one exists.
func (s *SQLiteStore) GetConversationHistory(ctx context.Context, sessionID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	var handoffSeq sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM messages WHERE session_id = ? AND role = ?`,
		sessionID, string(models.RoleHandoff),
	).Scan(&handoffSeq)
	if err != nil {
		return nil, fmt.Errorf("find handoff: %w", err)
	}

	query := `SELECT id, session_id, generation, role, content, tool_calls, usage, timing, context_size, created_at
		FROM messages WHERE session_id = ?`
	args := []any{sessionID}
	if handoffSeq.Valid {
		query += " AND seq >= ?"
		args = append(args, handoffSeq.Int64)
	}
	query += " ORDER BY seq DESC LIMIT ?"
	args = append(args, limit)

	msgs, err := s.queryMessages(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	reverse(msgs)
	return msgs, nil
}

// GetGenerationHistory returns messages produced at one generation, oldest-first.
func (s *SQLiteStore) GetGenerationHistory(ctx context.Context, sessionID string, generation models.Generation) ([]models.Message, error) {
	return s.queryMessages(ctx, `
		SELECT id, session_id, generation, role, content, tool_calls, usage, timing, context_size, created_at
		FROM messages WHERE session_id = ? AND generation = ? ORDER BY seq ASC`,
		sessionID, generation.String(),
	)
}

// SearchConversations returns messages whose content contains query.
func (s *SQLiteStore) SearchConversations(ctx context.Context, sessionID, query string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return s.queryMessages(ctx, `
		SELECT id, session_id, generation, role, content, tool_calls, usage, timing, context_size, created_at
		FROM messages WHERE session_id = ? AND content LIKE ? ESCAPE '\' ORDER BY seq ASC LIMIT ?`,
		sessionID, "%"+escapeLike(query)+"%", limit,
	)
}

// SaveHandoff records a compressed-context handoff row. The summary becomes
// the starting point for the successor agent's history.
func (s *SQLiteStore) SaveHandoff(ctx context.Context, sessionID string, generation models.Generation, compressedContext, reason string) error {
	unlock := s.lockSession(sessionID)
	defer unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, generation, role, content, reason, context_size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		uuid.New().String(), sessionID, generation.String(), string(models.RoleHandoff),
		compressedContext, reason, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save handoff: %w", err)
	}
	return nil
}

// Close closes the backing database. Idempotent.
func (s *SQLiteStore) Close() error {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var (
			m         models.Message
			genStr    string
			role      string
			toolCalls sql.NullString
			usage     sql.NullString
			timing    sql.NullString
			ctxSize   sql.NullInt64
			created   time.Time
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &genStr, &role, &m.Content,
			&toolCalls, &usage, &timing, &ctxSize, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		gen, err := models.ParseGeneration(genStr)
		if err != nil {
			return nil, fmt.Errorf("stored generation %q: %w", genStr, err)
		}
		m.Generation = gen
		m.Role = models.Role(role)
		m.ContextSize = int(ctxSize.Int64)
		m.CreatedAt = created
		if toolCalls.Valid {
			if err := json.Unmarshal([]byte(toolCalls.String), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("unmarshal tool calls: %w", err)
			}
		}
		if usage.Valid {
			m.Usage = &models.Usage{}
			if err := json.Unmarshal([]byte(usage.String), m.Usage); err != nil {
				return nil, fmt.Errorf("unmarshal usage: %w", err)
			}
		}
		if timing.Valid {
			m.Timing = &models.Timing{}
			if err := json.Unmarshal([]byte(timing.String), m.Timing); err != nil {
				return nil, fmt.Errorf("unmarshal timing: %w", err)
			}
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func reverse(msgs []models.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

func escapeLike(s string) string {
	// LIKE special characters would widen the match; this store only promises
	// substring semantics. The escape rune itself must be escaped too.
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '\\' || r == '%' || r == '_' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}
