package models

import (
	"encoding/json"
	"time"
)

// Activity event types emitted by the engine. The set is closed; readers
// aggregate on these exact identifiers.
const (
	EventUserInput             = "user_input"
	EventAgentResponse         = "agent_response"
	EventModelRequest          = "model_request"
	EventModelResponse         = "model_response"
	EventToolExecutionStart    = "tool_execution_start"
	EventToolExecutionComplete = "tool_execution_complete"
	EventSnapshotError         = "snapshot_error"
)

// ActivityEvent is one row in the append-only activity log. ID is assigned by
// the backing store and totally orders events within a session.
type ActivityEvent struct {
	ID             int64           `json:"id"`
	EventType      string          `json:"eventType"`
	SessionID      string          `json:"sessionId"`
	ModelSessionID string          `json:"modelSessionId,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
	Data           json.RawMessage `json:"data"`
}

// DecodeData unmarshals the event payload into out.
func (e ActivityEvent) DecodeData(out any) error {
	return json.Unmarshal(e.Data, out)
}

// UserInputPayload is the data for a user_input event.
type UserInputPayload struct {
	Content   string    `json:"content"`
	InputMode string    `json:"inputMode,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AgentResponsePayload is the data for an agent_response event.
type AgentResponsePayload struct {
	Content      string    `json:"content"`
	Tokens       int       `json:"tokens,omitempty"`
	InputTokens  int       `json:"inputTokens,omitempty"`
	OutputTokens int       `json:"outputTokens,omitempty"`
	DurationMs   int64     `json:"duration_ms"`
	Model        string    `json:"model,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// ModelRequestPayload is the data for a model_request event. Prompt is the
// serialized message array sent to the provider.
type ModelRequestPayload struct {
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Prompt    string    `json:"prompt"`
	Timestamp time.Time `json:"timestamp"`
}

// ModelResponsePayload is the data for a model_response event.
type ModelResponsePayload struct {
	Content    string  `json:"content"`
	TokensIn   int     `json:"tokens_in"`
	TokensOut  int     `json:"tokens_out"`
	Cost       float64 `json:"cost"`
	DurationMs int64   `json:"duration_ms"`
}

// ToolExecutionStartPayload is the data for a tool_execution_start event.
type ToolExecutionStartPayload struct {
	Tool   string         `json:"tool"`
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
}

// ToolExecutionCompletePayload is the data for a tool_execution_complete event.
type ToolExecutionCompletePayload struct {
	Success    bool   `json:"success"`
	Result     any    `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Snapshot hook phases reported in snapshot_error events.
const (
	SnapshotPhasePreTool  = "pre-tool"
	SnapshotPhasePostTool = "post-tool"
)

// SnapshotErrorPayload is the data for a snapshot_error event.
type SnapshotErrorPayload struct {
	Error string `json:"error"`
	Type  string `json:"type"`
}
