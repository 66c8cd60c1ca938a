// Package anthropic implements model.Session against the Anthropic Messages
// API, with streaming, tool calling, and API-side token counting.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"

	"github.com/strandlabs/strand/internal/model"
	"github.com/strandlabs/strand/pkg/models"
)

// DefaultMaxTokens bounds the response when neither config nor call options
// set a limit.
const DefaultMaxTokens = 4096

// Config configures one Anthropic session.
type Config struct {
	// APIKey authenticates against the API. Required.
	APIKey string

	// BaseURL overrides the API endpoint, for proxies and test servers.
	BaseURL string

	// Model names the model to drive. Default claude-sonnet-4-5.
	Model string

	// MaxTokens caps response length per call. Default DefaultMaxTokens.
	MaxTokens int
}

// modelCatalog holds the known model definitions. Prices are USD per million
// tokens.
var modelCatalog = map[string]model.Definition{
	"claude-sonnet-4-5": {
		Name:          "claude-sonnet-4-5",
		Provider:      "anthropic",
		ContextWindow: 200000,
		InputPrice:    3.0,
		OutputPrice:   15.0,
		Capabilities:  []string{"chat", "tools", "streaming", "caching"},
	},
	"claude-opus-4-1": {
		Name:          "claude-opus-4-1",
		Provider:      "anthropic",
		ContextWindow: 200000,
		InputPrice:    15.0,
		OutputPrice:   75.0,
		Capabilities:  []string{"chat", "tools", "streaming", "caching"},
	},
	"claude-haiku-4-5": {
		Name:          "claude-haiku-4-5",
		Provider:      "anthropic",
		ContextWindow: 200000,
		InputPrice:    1.0,
		OutputPrice:   5.0,
		Capabilities:  []string{"chat", "tools", "streaming", "caching"},
	},
}

// LookupModel returns the catalog definition for name. Unknown names get a
// generic definition so sessions against new models still work.
func LookupModel(name string) model.Definition {
	if def, ok := modelCatalog[name]; ok {
		return def
	}
	return model.Definition{
		Name:          name,
		Provider:      "anthropic",
		ContextWindow: 200000,
		InputPrice:    3.0,
		OutputPrice:   15.0,
		Capabilities:  []string{"chat", "tools", "streaming"},
	}
}

// Session is a stateful dialog with one Anthropic model. Safe for concurrent
// use; the SDK client carries no per-call state.
type Session struct {
	client    anthropic.Client
	id        string
	def       model.Definition
	maxTokens int64
}

// NewSession builds a session from config.
func NewSession(config Config) (*Session, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: api key required")
	}
	if config.Model == "" {
		config.Model = "claude-sonnet-4-5"
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = DefaultMaxTokens
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &Session{
		client:    anthropic.NewClient(options...),
		id:        uuid.NewString(),
		def:       LookupModel(config.Model),
		maxTokens: int64(config.MaxTokens),
	}, nil
}

// ID implements model.Session.
func (s *Session) ID() string { return s.id }

// Definition implements model.Session.
func (s *Session) Definition() model.Definition { return s.def }

// Chat implements model.Session. With opts.OnStream set the exchange runs
// over SSE and forwards deltas as they arrive; the returned response is the
// same either way.
func (s *Session) Chat(ctx context.Context, messages []model.ChatMessage, opts model.ChatOptions) (*model.ChatResponse, error) {
	params, err := s.buildParams(messages, opts)
	if err != nil {
		return nil, err
	}

	if opts.OnStream != nil {
		return s.chatStreaming(ctx, params, opts.OnStream)
	}

	msg, err := s.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}
	return s.decodeMessage(msg), nil
}

// CountTokens implements model.Session. It asks the API for an exact count
// and falls back to the chars/4 estimate when the call fails.
func (s *Session) CountTokens(ctx context.Context, messages []model.ChatMessage, opts model.CountOptions) (*model.TokenCount, error) {
	anthropicMsgs, err := convertMessages(messages)
	if err == nil && len(anthropicMsgs) > 0 {
		resp, apiErr := s.client.Messages.CountTokens(ctx, anthropic.MessageCountTokensParams{
			Model:    anthropic.Model(s.def.Name),
			Messages: anthropicMsgs,
		})
		if apiErr == nil {
			n := int(resp.InputTokens)
			return &model.TokenCount{InputTokens: n, TotalTokens: n}, nil
		}
	}

	n := model.EstimateMessagesTokens(messages) + model.EstimateTokens(opts.SystemPrompt)
	return &model.TokenCount{InputTokens: n, TotalTokens: n}, nil
}

// buildParams assembles the request from the transcript and per-call options.
func (s *Session) buildParams(messages []model.ChatMessage, opts model.ChatOptions) (anthropic.MessageNewParams, error) {
	anthropicMsgs, err := convertMessages(messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	maxTokens := s.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = int64(opts.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(s.def.Name),
		MaxTokens: maxTokens,
		Messages:  anthropicMsgs,
	}
	if opts.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: opts.SystemPrompt}}
	}
	if opts.Temperature != nil {
		params.Temperature = anthropic.Float(*opts.Temperature)
	}
	if len(opts.Tools) > 0 {
		tools, err := convertTools(opts.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}
	return params, nil
}

// convertMessages maps the engine transcript onto API message params. Tool
// results travel as user-role tool_result blocks; handoff summaries travel as
// user text so the successor model reads them as context.
func convertMessages(messages []model.ChatMessage) ([]anthropic.MessageParam, error) {
	params := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		switch {
		case len(msg.ToolResults) > 0:
			content := make([]anthropic.ContentBlockParamUnion, 0, len(msg.ToolResults))
			for _, tr := range msg.ToolResults {
				content = append(content, anthropic.NewToolResultBlock(tr.CallID, tr.ContentForModel(), !tr.Success))
			}
			params = append(params, anthropic.NewUserMessage(content...))

		case msg.Role == models.RoleAssistant:
			content := make([]anthropic.ContentBlockParamUnion, 0, 1+len(msg.ToolCalls))
			if msg.Content != "" {
				content = append(content, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				input, err := tc.DecodeInput()
				if err != nil {
					return nil, fmt.Errorf("invalid tool call input for %s: %w", tc.Name, err)
				}
				content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(content) == 0 {
				continue
			}
			params = append(params, anthropic.NewAssistantMessage(content...))

		default:
			if msg.Content == "" {
				continue
			}
			params = append(params, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	return params, nil
}

// convertTools maps engine tool schemas onto API tool definitions.
func convertTools(tools []model.ToolSchema) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		raw, err := json.Marshal(tool.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("marshal tool schema for %s: %w", tool.Name, err)
		}
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}

		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name)
		}
		toolParam.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, toolParam)
	}
	return result, nil
}

// decodeMessage flattens a non-streaming response into the engine shape.
func (s *Session) decodeMessage(msg *anthropic.Message) *model.ChatResponse {
	var content strings.Builder
	var toolCalls []models.ToolCall

	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			content.WriteString(b.Text)
		case anthropic.ToolUseBlock:
			toolCalls = append(toolCalls, models.ToolCall{
				ID:    b.ID,
				Name:  b.Name,
				Input: append(json.RawMessage(nil), b.Input...),
			})
		}
	}

	return &model.ChatResponse{
		Content:   content.String(),
		ToolCalls: toolCalls,
		Usage: &models.Usage{
			InputTokens:    int(msg.Usage.InputTokens),
			OutputTokens:   int(msg.Usage.OutputTokens),
			TotalTokens:    int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
			CacheReads:     int(msg.Usage.CacheReadInputTokens),
			CacheCreations: int(msg.Usage.CacheCreationInputTokens),
		},
		SessionID: s.id,
	}
}

// chatStreaming runs the exchange over SSE, forwarding deltas to onStream and
// accumulating the full response for the caller.
func (s *Session) chatStreaming(ctx context.Context, params anthropic.MessageNewParams, onStream func(model.StreamEvent)) (*model.ChatResponse, error) {
	stream := s.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	var content strings.Builder
	var toolCalls []models.ToolCall
	var currentTool *models.ToolCall
	var currentInput strings.Builder
	usage := &models.Usage{}

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			usage.InputTokens = int(start.Message.Usage.InputTokens)
			usage.CacheReads = int(start.Message.Usage.CacheReadInputTokens)
			usage.CacheCreations = int(start.Message.Usage.CacheCreationInputTokens)

		case "content_block_start":
			blockStart := event.AsContentBlockStart()
			if blockStart.ContentBlock.Type == "tool_use" {
				toolUse := blockStart.ContentBlock.AsToolUse()
				currentTool = &models.ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				currentInput.Reset()
				onStream(model.ToolUseStart(toolUse.ID, toolUse.Name))
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					content.WriteString(delta.Text)
					onStream(model.Token(delta.Text))
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					onStream(model.ThinkingToken(delta.Thinking))
				}
			case "input_json_delta":
				if delta.PartialJSON != "" && currentTool != nil {
					currentInput.WriteString(delta.PartialJSON)
					onStream(model.ToolInputDelta(currentTool.ID, delta.PartialJSON))
				}
			}

		case "content_block_stop":
			if currentTool != nil {
				input := currentInput.String()
				if input == "" {
					input = "{}"
				}
				currentTool.Input = json.RawMessage(input)
				toolCalls = append(toolCalls, *currentTool)
				onStream(model.ToolUseComplete(currentTool.ID, currentTool.Name, currentTool.Input))
				currentTool = nil
			}

		case "message_delta":
			messageDelta := event.AsMessageDelta()
			if messageDelta.Usage.OutputTokens > 0 {
				usage.OutputTokens = int(messageDelta.Usage.OutputTokens)
			}

		case "error":
			return nil, fmt.Errorf("anthropic: stream error")
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	return &model.ChatResponse{
		Content:   content.String(),
		ToolCalls: toolCalls,
		Usage:     usage,
		SessionID: s.id,
	}, nil
}
