package anthropic

import (
	"encoding/json"
	"testing"

	"github.com/strandlabs/strand/internal/model"
	"github.com/strandlabs/strand/pkg/models"
)

func TestConvertMessagesRolesAndToolResults(t *testing.T) {
	messages := []model.ChatMessage{
		{Role: models.RoleUser, Content: "list the files"},
		{Role: models.RoleAssistant, Content: "on it", ToolCalls: []models.ToolCall{
			{ID: "call-1", Name: "fs_list", Input: json.RawMessage(`{"path":"/tmp"}`)},
		}},
		{Role: models.RoleToolResult, ToolResults: []models.ToolResult{
			{CallID: "call-1", Success: true, Data: "a.txt"},
			{CallID: "call-2", Success: false, Error: "denied"},
		}},
		{Role: models.RoleAssistant, Content: ""},
	}

	params, err := convertMessages(messages)
	if err != nil {
		t.Fatalf("convertMessages: %v", err)
	}
	if len(params) != 3 {
		t.Fatalf("got %d params, want 3 (empty assistant dropped)", len(params))
	}

	if params[0].Role != "user" {
		t.Errorf("params[0].Role = %q", params[0].Role)
	}
	if params[1].Role != "assistant" {
		t.Errorf("params[1].Role = %q", params[1].Role)
	}
	if len(params[1].Content) != 2 {
		t.Errorf("assistant blocks = %d, want text + tool_use", len(params[1].Content))
	}
	if params[2].Role != "user" {
		t.Errorf("tool results must travel as user role, got %q", params[2].Role)
	}
	if len(params[2].Content) != 2 {
		t.Errorf("tool result blocks = %d, want 2", len(params[2].Content))
	}
}

func TestConvertMessagesRejectsBadToolInput(t *testing.T) {
	messages := []model.ChatMessage{
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{
			{ID: "call-1", Name: "fs_read", Input: json.RawMessage(`{broken`)},
		}},
	}
	if _, err := convertMessages(messages); err == nil {
		t.Fatalf("expected error for malformed tool input")
	}
}

func TestConvertTools(t *testing.T) {
	tools := []model.ToolSchema{
		{
			Name:        "fs_read",
			Description: "Read a file",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{"type": "string"},
				},
				"required": []string{"path"},
			},
		},
	}

	params, err := convertTools(tools)
	if err != nil {
		t.Fatalf("convertTools: %v", err)
	}
	if len(params) != 1 {
		t.Fatalf("got %d tool params", len(params))
	}
	if params[0].OfTool == nil {
		t.Fatalf("expected plain tool param")
	}
	if params[0].OfTool.Name != "fs_read" {
		t.Errorf("name = %q", params[0].OfTool.Name)
	}
	if params[0].OfTool.Description.Value != "Read a file" {
		t.Errorf("description = %q", params[0].OfTool.Description.Value)
	}
	if len(params[0].OfTool.InputSchema.Required) != 1 {
		t.Errorf("required = %v", params[0].OfTool.InputSchema.Required)
	}
}

func TestLookupModelFallback(t *testing.T) {
	known := LookupModel("claude-opus-4-1")
	if known.InputPrice != 15.0 || known.ContextWindow != 200000 {
		t.Errorf("catalog entry mismatch: %+v", known)
	}

	unknown := LookupModel("claude-future-9")
	if unknown.Name != "claude-future-9" {
		t.Errorf("unknown model must keep its name, got %q", unknown.Name)
	}
	if unknown.ContextWindow == 0 {
		t.Errorf("unknown model needs a usable context window")
	}
}

func TestNewSessionRequiresKey(t *testing.T) {
	if _, err := NewSession(Config{}); err == nil {
		t.Fatalf("expected error without api key")
	}
	s, err := NewSession(Config{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if s.Definition().Name != "claude-sonnet-4-5" {
		t.Errorf("default model = %q", s.Definition().Name)
	}
	if s.maxTokens != DefaultMaxTokens {
		t.Errorf("maxTokens = %d", s.maxTokens)
	}
}
