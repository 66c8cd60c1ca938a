package models

import (
	"encoding/json"
	"time"
)

// Role indicates the conversation message author or kind.
type Role string

const (
	RoleUser          Role = "user"
	RoleAssistant     Role = "assistant"
	RoleToolCall      Role = "tool_call"
	RoleToolResult    Role = "tool_result"
	RoleStreaming     Role = "streaming"
	RoleLoading       Role = "loading"
	RoleAgentActivity Role = "agent_activity"

	// RoleHandoff marks a compressed-context handoff row. History retrieval
	// treats the most recent handoff as the start of the usable transcript.
	RoleHandoff Role = "handoff"
)

// Message is one entry in a session transcript.
type Message struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"sessionId"`
	Generation  Generation `json:"generation"`
	Role        Role       `json:"role"`
	Content     string     `json:"content"`
	ToolCalls   []ToolCall `json:"tool_calls,omitempty"`
	Usage       *Usage     `json:"usage,omitempty"`
	Timing      *Timing    `json:"timing,omitempty"`
	ContextSize int        `json:"contextSize,omitempty"`
	CreatedAt   time.Time  `json:"timestamp"`
}

// Usage holds token accounting for one model exchange.
type Usage struct {
	InputTokens    int `json:"inputTokens"`
	OutputTokens   int `json:"outputTokens"`
	TotalTokens    int `json:"totalTokens"`
	CacheReads     int `json:"cacheReads,omitempty"`
	CacheCreations int `json:"cacheCreations,omitempty"`
}

// Timing holds wall-clock measurements for one model exchange.
type Timing struct {
	DurationMs int64 `json:"durationMs"`
}

// ToolCall is the model's request to invoke a named tool. Name is the
// canonical "<tool>_<method>" form; Input is the raw JSON argument object.
type ToolCall struct {
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// DecodeInput unmarshals the raw argument object. A missing input decodes to
// an empty map.
func (c ToolCall) DecodeInput() (map[string]any, error) {
	if len(c.Input) == 0 {
		return map[string]any{}, nil
	}
	var params map[string]any
	if err := json.Unmarshal(c.Input, &params); err != nil {
		return nil, err
	}
	if params == nil {
		params = map[string]any{}
	}
	return params, nil
}

// ToolResult is the engine's response to a single ToolCall, always paired
// positionally with the call that produced it.
type ToolResult struct {
	CallID     string `json:"callId"`
	Success    bool   `json:"success"`
	Data       string `json:"data,omitempty"`
	Error      string `json:"error,omitempty"`
	Denied     bool   `json:"denied,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Recovered  bool   `json:"recovered,omitempty"`
	DurationMs int64  `json:"durationMs"`
}

// ContentForModel returns the textual payload the model sees for this result.
func (r ToolResult) ContentForModel() string {
	switch {
	case r.Denied:
		return "tool call denied: " + r.Reason
	case r.Error != "":
		return r.Error
	default:
		return r.Data
	}
}
