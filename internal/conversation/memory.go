package conversation

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/strandlabs/strand/pkg/models"
)

// MemoryStore is an in-memory Store used by tests and ephemeral runs.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string][]models.Message // sessionID -> ordered messages
}

// NewMemoryStore creates an empty in-memory conversation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{messages: make(map[string][]models.Message)}
}

// SaveMessage appends one message to the session transcript.
func (s *MemoryStore) SaveMessage(_ context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], *msg)
	return nil
}

// GetConversationHistory returns up to limit most-recent messages oldest-first,
// starting at the latest handoff if one exists.
func (s *MemoryStore) GetConversationHistory(_ context.Context, sessionID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[sessionID]
	start := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == models.RoleHandoff {
			start = i
			break
		}
	}
	window := msgs[start:]
	if len(window) > limit {
		window = window[len(window)-limit:]
	}
	out := make([]models.Message, len(window))
	copy(out, window)
	return out, nil
}

// GetGenerationHistory returns messages produced at one generation, oldest-first.
func (s *MemoryStore) GetGenerationHistory(_ context.Context, sessionID string, generation models.Generation) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Message
	for _, m := range s.messages[sessionID] {
		if m.Generation.Equal(generation) {
			out = append(out, m)
		}
	}
	return out, nil
}

// SearchConversations returns messages whose content contains query.
func (s *MemoryStore) SearchConversations(_ context.Context, sessionID, query string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Message
	for _, m := range s.messages[sessionID] {
		if strings.Contains(m.Content, query) {
			out = append(out, m)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// SaveHandoff records a compressed-context handoff row.
func (s *MemoryStore) SaveHandoff(ctx context.Context, sessionID string, generation models.Generation, compressedContext, reason string) error {
	_ = reason
	return s.SaveMessage(ctx, &models.Message{
		SessionID:  sessionID,
		Generation: generation,
		Role:       models.RoleHandoff,
		Content:    compressedContext,
	})
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

// MessageCount returns the transcript length for a session. Test helper.
func (s *MemoryStore) MessageCount(sessionID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages[sessionID])
}
