package conversation

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/strandlabs/strand/pkg/models"
)

func newTestStores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "conversations.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func save(t *testing.T, s Store, sessionID string, gen models.Generation, role models.Role, content string) {
	t.Helper()
	if err := s.SaveMessage(context.Background(), &models.Message{
		SessionID:  sessionID,
		Generation: gen,
		Role:       role,
		Content:    content,
	}); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
}

func TestHistoryOldestFirstWithLimit(t *testing.T) {
	for name, store := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			gen := models.RootGeneration()
			for i := 0; i < 5; i++ {
				save(t, store, "s1", gen, models.RoleUser, fmt.Sprintf("msg-%d", i))
			}

			history, err := store.GetConversationHistory(context.Background(), "s1", 3)
			if err != nil {
				t.Fatalf("GetConversationHistory: %v", err)
			}
			if len(history) != 3 {
				t.Fatalf("got %d messages, want 3", len(history))
			}
			// Most-recent 3, oldest first.
			want := []string{"msg-2", "msg-3", "msg-4"}
			for i, m := range history {
				if m.Content != want[i] {
					t.Errorf("history[%d] = %q, want %q", i, m.Content, want[i])
				}
			}
		})
	}
}

func TestGenerationHistory(t *testing.T) {
	for name, store := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			root := models.RootGeneration()
			child := root.Child(1)
			save(t, store, "s1", root, models.RoleUser, "root message")
			save(t, store, "s1", child, models.RoleAssistant, "child message")
			save(t, store, "s1", root, models.RoleAssistant, "root reply")

			msgs, err := store.GetGenerationHistory(context.Background(), "s1", child)
			if err != nil {
				t.Fatalf("GetGenerationHistory: %v", err)
			}
			if len(msgs) != 1 || msgs[0].Content != "child message" {
				t.Errorf("generation history = %+v, want one child message", msgs)
			}
		})
	}
}

func TestSearchConversations(t *testing.T) {
	for name, store := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			gen := models.RootGeneration()
			save(t, store, "s1", gen, models.RoleUser, "the quick brown fox")
			save(t, store, "s1", gen, models.RoleAssistant, "lazy dog")
			save(t, store, "s2", gen, models.RoleUser, "quick in another session")

			hits, err := store.SearchConversations(context.Background(), "s1", "quick", 10)
			if err != nil {
				t.Fatalf("SearchConversations: %v", err)
			}
			if len(hits) != 1 || hits[0].Content != "the quick brown fox" {
				t.Errorf("search hits = %+v, want the fox message only", hits)
			}
		})
	}
}

func TestDuplicateTimestampRejected(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "conversations.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ts := time.Now().UTC()
	msg := func(session string) *models.Message {
		return &models.Message{
			SessionID:  session,
			Generation: models.RootGeneration(),
			Role:       models.RoleUser,
			Content:    "hello",
			CreatedAt:  ts,
		}
	}

	if err := store.SaveMessage(context.Background(), msg("s1")); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if err := store.SaveMessage(context.Background(), msg("s1")); err == nil {
		t.Errorf("second message with the same session and timestamp must be rejected")
	}
	// The pair is scoped per session.
	if err := store.SaveMessage(context.Background(), msg("s2")); err != nil {
		t.Errorf("same timestamp in another session: %v", err)
	}
}

func TestSearchTreatsWildcardsLiterally(t *testing.T) {
	for name, store := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			gen := models.RootGeneration()
			save(t, store, "s1", gen, models.RoleUser, "progress: 50% done")
			save(t, store, "s1", gen, models.RoleUser, "progress: 50x done")
			save(t, store, "s1", gen, models.RoleUser, `path C:\temp\out`)

			hits, err := store.SearchConversations(context.Background(), "s1", "50%", 10)
			if err != nil {
				t.Fatalf("SearchConversations: %v", err)
			}
			if len(hits) != 1 || hits[0].Content != "progress: 50% done" {
				t.Errorf("%% must match literally, got %+v", hits)
			}

			hits, err = store.SearchConversations(context.Background(), "s1", `C:\temp`, 10)
			if err != nil {
				t.Fatalf("backslash query: %v", err)
			}
			if len(hits) != 1 || hits[0].Content != `path C:\temp\out` {
				t.Errorf("backslash must match literally, got %+v", hits)
			}
		})
	}
}

func TestHandoffReplacesPriorHistory(t *testing.T) {
	for name, store := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			gen := models.RootGeneration()
			save(t, store, "s1", gen, models.RoleUser, "old-1")
			save(t, store, "s1", gen, models.RoleAssistant, "old-2")

			if err := store.SaveHandoff(context.Background(), "s1", gen, "summary of old context", "context budget exceeded"); err != nil {
				t.Fatalf("SaveHandoff: %v", err)
			}
			save(t, store, "s1", gen, models.RoleUser, "new-1")

			history, err := store.GetConversationHistory(context.Background(), "s1", 0)
			if err != nil {
				t.Fatalf("GetConversationHistory: %v", err)
			}
			if len(history) != 2 {
				t.Fatalf("got %d messages, want 2 (handoff + new)", len(history))
			}
			if history[0].Role != models.RoleHandoff || history[0].Content != "summary of old context" {
				t.Errorf("history[0] = %+v, want the handoff summary", history[0])
			}
			if history[1].Content != "new-1" {
				t.Errorf("history[1] = %q, want new-1", history[1].Content)
			}
		})
	}
}

func TestToolCallsAndUsageRoundTrip(t *testing.T) {
	for name, store := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			msg := &models.Message{
				SessionID:  "s1",
				Generation: models.RootGeneration(),
				Role:       models.RoleAssistant,
				Content:    "running tools",
				ToolCalls: []models.ToolCall{
					{ID: "c1", Name: "fs_read", Input: []byte(`{"path":"/tmp/x"}`)},
				},
				Usage:  &models.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
				Timing: &models.Timing{DurationMs: 120},
			}
			if err := store.SaveMessage(context.Background(), msg); err != nil {
				t.Fatalf("SaveMessage: %v", err)
			}

			history, err := store.GetConversationHistory(context.Background(), "s1", 0)
			if err != nil {
				t.Fatalf("GetConversationHistory: %v", err)
			}
			if len(history) != 1 {
				t.Fatalf("got %d messages, want 1", len(history))
			}
			got := history[0]
			if len(got.ToolCalls) != 1 || got.ToolCalls[0].Name != "fs_read" {
				t.Errorf("tool calls = %+v", got.ToolCalls)
			}
			if got.Usage == nil || got.Usage.TotalTokens != 15 {
				t.Errorf("usage = %+v", got.Usage)
			}
			if got.Timing == nil || got.Timing.DurationMs != 120 {
				t.Errorf("timing = %+v", got.Timing)
			}
		})
	}
}
