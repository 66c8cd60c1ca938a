// Package model defines the capability the engine consumes from each
// language model. Concrete providers (HTTP clients, stream parsers) live
// outside the core; the engine sees only this interface.
package model

import (
	"context"

	"github.com/strandlabs/strand/pkg/models"
)

// Session is a stateful dialog with a single model.
//
// Implementations must be safe for concurrent use; cancellation flows through
// the context on every call.
type Session interface {
	// Chat sends the transcript and returns the model's reply.
	Chat(ctx context.Context, messages []ChatMessage, opts ChatOptions) (*ChatResponse, error)

	// CountTokens is a best-effort pre-flight sizing of the request.
	CountTokens(ctx context.Context, messages []ChatMessage, opts CountOptions) (*TokenCount, error)

	// ID identifies this model session in activity events.
	ID() string

	// Definition describes the model; read-only.
	Definition() Definition
}

// Definition describes a model's identity, limits, and pricing. Prices are
// cost units per million tokens.
type Definition struct {
	Name          string   `json:"name"`
	Provider      string   `json:"provider"`
	ContextWindow int      `json:"contextWindow"`
	InputPrice    float64  `json:"inputPrice"`
	OutputPrice   float64  `json:"outputPrice"`
	Capabilities  []string `json:"capabilities,omitempty"`
}

// ChatMessage is one entry of the transcript sent to a model.
type ChatMessage struct {
	Role        models.Role         `json:"role"`
	Content     string              `json:"content"`
	ToolCalls   []models.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
}

// ToolSchema is one model-facing tool definition: the combined
// "<tool>_<method>" name plus a JSON-schema input description.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// ChatOptions carries the per-call knobs the engine sets.
type ChatOptions struct {
	// Tools is the schema list offered to the model.
	Tools []ToolSchema

	// MaxTokens bounds the response length. Zero means provider default.
	MaxTokens int

	// Temperature sets sampling variance. Nil means provider default.
	Temperature *float64

	// EnableCaching requests provider-side prompt caching where supported.
	EnableCaching bool

	// OnStream, when set, receives streaming events as they arrive.
	OnStream func(StreamEvent)

	// SystemPrompt is sent out-of-band from the message transcript.
	SystemPrompt string
}

// CountOptions mirrors the sizing-relevant subset of ChatOptions.
type CountOptions struct {
	Tools         []ToolSchema
	EnableCaching bool
	SystemPrompt  string
}

// ChatResponse is the model's reply to one Chat call.
type ChatResponse struct {
	Content   string            `json:"content"`
	ToolCalls []models.ToolCall `json:"toolCalls,omitempty"`
	Usage     *models.Usage     `json:"usage,omitempty"`
	SessionID string            `json:"sessionId,omitempty"`
}

// TokenCount is the result of a pre-flight sizing call.
type TokenCount struct {
	InputTokens int `json:"inputTokens"`
	TotalTokens int `json:"totalTokens"`
}

// Cost is the price breakdown of one model exchange, in the definition's
// cost units. No rounding is applied until presentation.
type Cost struct {
	InputCost  float64 `json:"inputCost"`
	OutputCost float64 `json:"outputCost"`
	TotalCost  float64 `json:"totalCost"`
}

// CalculateCost prices one exchange using the definition's per-million-token
// rates.
func CalculateCost(def Definition, inputTokens, outputTokens int) Cost {
	in := float64(inputTokens) / 1e6 * def.InputPrice
	out := float64(outputTokens) / 1e6 * def.OutputPrice
	return Cost{InputCost: in, OutputCost: out, TotalCost: in + out}
}

// EstimateTokens approximates the token count of text when the session
// cannot count. Uses the common chars/4 heuristic; callers must treat the
// result as advisory.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// EstimateMessagesTokens approximates the token count of a transcript.
func EstimateMessagesTokens(messages []ChatMessage) int {
	total := 0
	for _, m := range messages {
		total += EstimateTokens(m.Content)
		for _, tc := range m.ToolCalls {
			total += EstimateTokens(tc.Name) + EstimateTokens(string(tc.Input))
		}
		for _, tr := range m.ToolResults {
			total += EstimateTokens(tr.ContentForModel())
		}
		// Per-message framing overhead.
		total += 4
	}
	return total
}
