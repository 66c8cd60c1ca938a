package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/strandlabs/strand/pkg/models"
)

// Limits for the compressed handoff summary.
const (
	handoffMessageExcerpt = 500
	handoffMaxMessages    = 20
)

// handoff compresses the transcript into a summary row and constructs a fresh
// successor agent to continue the turn. The store treats the handoff row as
// the new start of history, so the successor's next retrieval sees only the
// summary and later messages.
func (a *Agent) handoff(ctx context.Context, history []models.Message) (*Agent, error) {
	summary := compressHistory(history)
	if err := a.deps.Store.SaveHandoff(ctx, a.sessionID, a.generation, summary, "context_threshold_exceeded"); err != nil {
		return nil, fmt.Errorf("save handoff: %w", err)
	}

	successor := a.SpawnSubagent(SpawnOptions{
		Role: a.role.Name,
		Task: a.task,
	})
	a.deps.Debug.Info(ctx, "context handoff",
		"from", a.generation.String(), "to", successor.generation.String(),
		"history_messages", len(history))
	return successor, nil
}

// compressHistory renders a bounded textual summary of the transcript: the
// most recent messages, each excerpted, newest information last.
func compressHistory(history []models.Message) string {
	start := 0
	if len(history) > handoffMaxMessages {
		start = len(history) - handoffMaxMessages
	}

	var b strings.Builder
	b.WriteString("Conversation summary (compressed after context handoff):\n")
	for _, msg := range history[start:] {
		content := msg.Content
		if len(content) > handoffMessageExcerpt {
			content = content[:handoffMessageExcerpt] + "…"
		}
		fmt.Fprintf(&b, "[%s] %s\n", msg.Role, content)
		for _, tc := range msg.ToolCalls {
			fmt.Fprintf(&b, "  called tool %s\n", tc.Name)
		}
	}
	return b.String()
}
