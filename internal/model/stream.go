package model

import "encoding/json"

// StreamEventKind tags the streaming event variants.
type StreamEventKind string

const (
	StreamToken           StreamEventKind = "token"
	StreamThinkingToken   StreamEventKind = "thinking_token"
	StreamToolUseStart    StreamEventKind = "tool_use_start"
	StreamToolInputDelta  StreamEventKind = "tool_input_delta"
	StreamToolUseComplete StreamEventKind = "tool_use_complete"
)

// StreamEvent is one streaming update from a model. Exactly the fields for
// its Kind are set; consumers switch on Kind and ignore the transport.
type StreamEvent struct {
	Kind StreamEventKind

	// Text carries the delta for Token and ThinkingToken events.
	Text string

	// ToolCallID and ToolName are set on ToolUseStart and ToolUseComplete.
	ToolCallID string
	ToolName   string

	// InputDelta carries a partial tool-input JSON fragment.
	InputDelta string

	// Input is the complete tool input, set on ToolUseComplete.
	Input json.RawMessage
}

// Token builds a text-delta event.
func Token(text string) StreamEvent {
	return StreamEvent{Kind: StreamToken, Text: text}
}

// ThinkingToken builds a thinking-delta event.
func ThinkingToken(text string) StreamEvent {
	return StreamEvent{Kind: StreamThinkingToken, Text: text}
}

// ToolUseStart builds a tool-use-start event.
func ToolUseStart(callID, name string) StreamEvent {
	return StreamEvent{Kind: StreamToolUseStart, ToolCallID: callID, ToolName: name}
}

// ToolInputDelta builds a partial-input event.
func ToolInputDelta(callID, delta string) StreamEvent {
	return StreamEvent{Kind: StreamToolInputDelta, ToolCallID: callID, InputDelta: delta}
}

// ToolUseComplete builds a tool-use-complete event.
func ToolUseComplete(callID, name string, input json.RawMessage) StreamEvent {
	return StreamEvent{Kind: StreamToolUseComplete, ToolCallID: callID, ToolName: name, Input: input}
}
