package orchestrator

import (
	"context"
	"testing"

	"github.com/strandlabs/strand/internal/activity"
	"github.com/strandlabs/strand/internal/agent"
	"github.com/strandlabs/strand/internal/approval"
	"github.com/strandlabs/strand/internal/conversation"
	"github.com/strandlabs/strand/internal/model"
	"github.com/strandlabs/strand/internal/tools"
	"github.com/strandlabs/strand/pkg/models"
)

type echoSession struct{}

func (echoSession) Chat(_ context.Context, messages []model.ChatMessage, _ model.ChatOptions) (*model.ChatResponse, error) {
	last := messages[len(messages)-1]
	return &model.ChatResponse{
		Content: "echo: " + last.Content,
		Usage:   &models.Usage{InputTokens: 5, OutputTokens: 5, TotalTokens: 10},
	}, nil
}

func (echoSession) CountTokens(context.Context, []model.ChatMessage, model.CountOptions) (*model.TokenCount, error) {
	return &model.TokenCount{}, nil
}

func (echoSession) ID() string { return "echo" }

func (echoSession) Definition() model.Definition {
	return model.Definition{Name: "echo-model", Provider: "test", ContextWindow: 100000}
}

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	log := activity.NewMemoryLog(nil)
	o, err := New(Config{}, Deps{
		Activity: log,
		Store:    conversation.NewMemoryStore(),
		Registry: tools.NewRegistry(log, nil),
		Approver: approval.NewPolicyEngine(approval.AllowAllPolicy()),
		Sessions: func(agent.RoleDefinition) (model.Session, error) {
			return echoSession{}, nil
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

func TestProcessMessageRoundTrip(t *testing.T) {
	o := newTestOrchestrator(t)
	defer o.Close()

	sessionID, resp, err := o.ProcessMessage(context.Background(), "", "hello there")
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if sessionID == "" {
		t.Fatalf("no session id assigned")
	}
	if resp.Content != "echo: hello there" {
		t.Errorf("content = %q", resp.Content)
	}

	history, err := o.History(context.Background(), sessionID, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Errorf("history = %d messages, want 2", len(history))
	}

	events, err := o.Events(context.Background(), sessionID, 0)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 4 {
		t.Errorf("events = %d, want user_input+model_request+model_response+agent_response", len(events))
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	o := newTestOrchestrator(t)
	defer o.Close()

	s1, _, err := o.ProcessMessage(context.Background(), "", "first session")
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	s2, _, err := o.ProcessMessage(context.Background(), "", "second session")
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if s1 == s2 {
		t.Fatalf("distinct turns with empty session ids must get distinct sessions")
	}

	h1, _ := o.History(context.Background(), s1, 0)
	for _, msg := range h1 {
		if msg.SessionID != s1 {
			t.Errorf("session %s transcript contains row for %s", s1, msg.SessionID)
		}
	}
}

func TestSecondTurnReusesAgent(t *testing.T) {
	o := newTestOrchestrator(t)
	defer o.Close()

	sessionID, _, err := o.ProcessMessage(context.Background(), "", "turn one")
	if err != nil {
		t.Fatalf("turn one: %v", err)
	}
	if _, _, err := o.ProcessMessage(context.Background(), sessionID, "turn two"); err != nil {
		t.Fatalf("turn two: %v", err)
	}

	history, _ := o.History(context.Background(), sessionID, 0)
	if len(history) != 4 {
		t.Errorf("history = %d messages, want 4 across two turns", len(history))
	}

	snap, ok := o.AgentMetrics(sessionID)
	if !ok {
		t.Fatalf("no metrics for session")
	}
	if snap.TotalMessages != 4 {
		t.Errorf("agent counted %d messages, want 4", snap.TotalMessages)
	}
}

func TestCloseIdempotent(t *testing.T) {
	o := newTestOrchestrator(t)
	if err := o.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := o.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, _, err := o.ProcessMessage(context.Background(), "", "after close"); err == nil {
		t.Errorf("ProcessMessage after Close must fail")
	}
}
