// Package agent implements the model-tool execution loop: one agent drives a
// model session, dispatches tool batches through approval and circuit
// breaking, spawns subagents for delegated work, and hands off to a successor
// when its context budget runs out.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/strandlabs/strand/internal/activity"
	"github.com/strandlabs/strand/internal/approval"
	"github.com/strandlabs/strand/internal/conversation"
	"github.com/strandlabs/strand/internal/infra"
	"github.com/strandlabs/strand/internal/model"
	"github.com/strandlabs/strand/internal/observability"
	"github.com/strandlabs/strand/internal/retry"
	"github.com/strandlabs/strand/internal/tools"
	"github.com/strandlabs/strand/pkg/models"
)

// DefaultMaxIterations caps tool-call loop rounds per user turn.
const DefaultMaxIterations = 25

// ModelProvider hands out model sessions for roles. The orchestrator
// implements it; a nil provider makes subagents reuse the spawner's session.
type ModelProvider interface {
	SessionFor(role RoleDefinition) (model.Session, error)
}

// Deps are the shared capabilities an agent inherits at spawn. Children hold
// the same references; none of these are owned by any single agent except the
// root's creator.
type Deps struct {
	Activity activity.Log
	Store    conversation.Store
	Registry *tools.Registry
	Approver approval.Engine
	Models   ModelProvider
	Debug    *observability.Logger
	Metrics  *observability.Metrics
	Tracer   *observability.Tracer
}

func (d *Deps) fillDefaults() {
	if d.Debug == nil {
		d.Debug = observability.NopLogger()
	}
	if d.Tracer == nil {
		d.Tracer = observability.NopTracer()
	}
}

// Config describes one agent.
type Config struct {
	Role         string
	Task         string
	SessionID    string
	Generation   models.Generation
	Capabilities []string

	// HistoryLimit bounds transcript retrieval per loop round (default 50).
	HistoryLimit int

	// MaxIterations bounds tool rounds per turn (default 25).
	MaxIterations int

	// MaxConcurrentTools overrides the role default when positive.
	MaxConcurrentTools int

	// HandoffThreshold overrides the role default when positive.
	HandoffThreshold float64

	RetryPolicy *retry.Policy
}

// Response is the outcome of one ProcessInput turn.
type Response struct {
	Content     string              `json:"content"`
	ToolCalls   []models.ToolCall   `json:"toolCalls,omitempty"`
	ToolResults []models.ToolResult `json:"toolResults,omitempty"`
	Usage       models.Usage        `json:"usage"`
	DurationMs  int64               `json:"durationMs"`
	Cancelled   bool                `json:"cancelled,omitempty"`
}

// Agent is one model-driven execution unit. Its loop is logically
// single-threaded; concurrency arises only inside a tool batch and across
// subagents.
type Agent struct {
	role         RoleDefinition
	task         string
	session      model.Session
	sessionID    string
	generation   models.Generation
	capabilities []string

	deps     Deps
	executor *ToolExecutor
	breakers *infra.BreakerSet
	metrics  *ConversationMetrics

	retryPolicy      retry.Policy
	historyLimit     int
	maxIterations    int
	handoffThreshold float64
	maxContextSize   int

	mu              sync.Mutex
	subagentCounter int

	turnActive atomic.Bool
}

// New constructs an agent. The session is the model it drives; deps are
// shared with every descendant.
func New(cfg Config, session model.Session, deps Deps) *Agent {
	deps.fillDefaults()
	role := GetRole(cfg.Role)

	maxConcurrent := role.MaxConcurrentTools
	if cfg.MaxConcurrentTools > 0 {
		maxConcurrent = cfg.MaxConcurrentTools
	}
	threshold := role.ContextPreferences.HandoffThreshold
	if cfg.HandoffThreshold > 0 {
		threshold = cfg.HandoffThreshold
	}
	if threshold <= 0 {
		threshold = DefaultHandoffThreshold
	}
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = conversation.DefaultHistoryLimit
	}
	maxIterations := cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	policy := retry.DefaultPolicy()
	if cfg.RetryPolicy != nil {
		policy = *cfg.RetryPolicy
	}
	capabilities := cfg.Capabilities
	if len(capabilities) == 0 {
		capabilities = role.Capabilities
	}
	generation := cfg.Generation
	if len(generation) == 0 {
		generation = models.RootGeneration()
	}
	maxContext := session.Definition().ContextWindow
	if role.ContextPreferences.MaxContextSize > 0 && role.ContextPreferences.MaxContextSize < maxContext {
		maxContext = role.ContextPreferences.MaxContextSize
	}

	breakers := infra.NewBreakerSet(infra.CircuitBreakerConfig{
		OnStateChange: breakerTransitionCounter(deps.Metrics),
	})

	a := &Agent{
		role:             role,
		task:             cfg.Task,
		session:          session,
		sessionID:        cfg.SessionID,
		generation:       generation,
		capabilities:     capabilities,
		deps:             deps,
		breakers:         breakers,
		metrics:          &ConversationMetrics{},
		retryPolicy:      policy,
		historyLimit:     historyLimit,
		maxIterations:    maxIterations,
		handoffThreshold: threshold,
		maxContextSize:   maxContext,
	}
	a.executor = NewToolExecutor(deps.Registry, deps.Approver, breakers, maxConcurrent, policy, deps.Debug, deps.Metrics, deps.Tracer)
	return a
}

func breakerTransitionCounter(m *observability.Metrics) func(name, from, to string) {
	if m == nil {
		return nil
	}
	return func(name, _, to string) {
		m.BreakerTransitions.WithLabelValues(name, to).Inc()
	}
}

// Generation returns the agent's lineage path.
func (a *Agent) Generation() models.Generation { return a.generation }

// Role returns the agent's role name.
func (a *Agent) Role() string { return a.role.Name }

// SessionID returns the conversation session this agent writes to.
func (a *Agent) SessionID() string { return a.sessionID }

// Metrics returns a snapshot of the agent's conversation counters.
func (a *Agent) Metrics() MetricsSnapshot { return a.metrics.Snapshot() }

// BreakerStates returns the per-tool circuit states, for diagnostics.
func (a *Agent) BreakerStates() map[string]string { return a.breakers.States() }

// ProcessInput runs one user turn through the model-tool loop and returns the
// final assistant reply. A second call before the first returns fails with
// ErrConcurrentTurn. Cancellation of ctx yields a cancelled response, not an
// error.
func (a *Agent) ProcessInput(ctx context.Context, userMessage string) (*Response, error) {
	if !a.turnActive.CompareAndSwap(false, true) {
		return nil, ErrConcurrentTurn
	}
	defer a.turnActive.Store(false)

	ctx = observability.WithSessionID(ctx, a.sessionID)
	ctx = observability.WithGeneration(ctx, a.generation.String())
	a.trackActive(1)
	defer a.trackActive(-1)

	start := time.Now()

	if err := a.saveMessage(ctx, models.RoleUser, userMessage, nil, 0); err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}
	a.deps.Activity.LogEvent(ctx, models.EventUserInput, a.sessionID, a.session.ID(), models.UserInputPayload{
		Content:   userMessage,
		Timestamp: time.Now().UTC(),
	})
	a.metrics.RecordMessage()

	resp, err := a.runLoop(ctx, start, a.maxIterations, false)
	if err != nil {
		return resp, err
	}
	resp.DurationMs = time.Since(start).Milliseconds()
	return resp, nil
}

// runLoop drives model calls and tool batches until the model answers without
// tool calls or a bound trips. handoffDone marks that this turn already
// compressed its context once; a second overflow is fatal.
func (a *Agent) runLoop(ctx context.Context, turnStart time.Time, iterationsLeft int, handoffDone bool) (*Response, error) {
	var turnUsage models.Usage
	var lastToolCalls []models.ToolCall
	var lastToolResults []models.ToolResult

	for iteration := 0; iteration < iterationsLeft; iteration++ {
		if ctx.Err() != nil {
			return a.cancelledResponse(turnStart), nil
		}

		history, err := a.deps.Store.GetConversationHistory(ctx, a.sessionID, a.historyLimit)
		if err != nil {
			return nil, fmt.Errorf("load history: %w", err)
		}
		messages := a.toChatMessages(history)
		schemas := BuildModelTools(a.deps.Registry, a.role.ToolRestrictions)
		systemPrompt := a.buildSystemPrompt(schemas)

		contextSize := a.estimateContextSize(messages, systemPrompt, schemas)
		if float64(contextSize) > float64(a.maxContextSize)*a.handoffThreshold {
			if handoffDone {
				return nil, ErrContextOverflow
			}
			successor, err := a.handoff(ctx, history)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrContextOverflow, err)
			}
			return successor.runLoop(ctx, turnStart, iterationsLeft-iteration, true)
		}

		chatResp, err := a.callModel(ctx, messages, schemas, systemPrompt)
		if err != nil {
			if ctx.Err() != nil {
				return a.cancelledResponse(turnStart), nil
			}
			def := a.session.Definition()
			return nil, &ModelCallError{Provider: def.Provider, Model: def.Name, Err: err}
		}
		if chatResp.Usage != nil {
			turnUsage.InputTokens += chatResp.Usage.InputTokens
			turnUsage.OutputTokens += chatResp.Usage.OutputTokens
			turnUsage.TotalTokens += chatResp.Usage.TotalTokens
			turnUsage.CacheReads += chatResp.Usage.CacheReads
			turnUsage.CacheCreations += chatResp.Usage.CacheCreations
		}

		if len(chatResp.ToolCalls) == 0 {
			if err := a.saveMessage(ctx, models.RoleAssistant, chatResp.Content, nil, contextSize); err != nil {
				return nil, fmt.Errorf("persist assistant message: %w", err)
			}
			a.metrics.RecordMessage()
			a.emitAgentResponse(ctx, chatResp.Content, turnUsage, time.Since(turnStart))
			return &Response{
				Content:     chatResp.Content,
				ToolCalls:   lastToolCalls,
				ToolResults: lastToolResults,
				Usage:       turnUsage,
			}, nil
		}

		if err := a.saveMessage(ctx, models.RoleAssistant, chatResp.Content, chatResp.ToolCalls, contextSize); err != nil {
			return nil, fmt.Errorf("persist assistant message: %w", err)
		}
		a.metrics.RecordMessage()

		batchCtx := withSpawner(ctx, a)
		results := a.executor.ExecuteBatch(batchCtx, chatResp.ToolCalls, a.sessionID, a.generation)
		if ctx.Err() != nil {
			return a.cancelledResponse(turnStart), nil
		}

		for _, result := range results {
			encoded, encErr := json.Marshal(result)
			if encErr != nil {
				encoded = []byte(result.ContentForModel())
			}
			if err := a.saveMessage(ctx, models.RoleToolResult, string(encoded), nil, 0); err != nil {
				return nil, fmt.Errorf("persist tool result: %w", err)
			}
			a.metrics.RecordMessage()
		}

		lastToolCalls = chatResp.ToolCalls
		lastToolResults = results
	}

	a.deps.Debug.Warn(ctx, "iteration limit reached",
		"role", a.role.Name, "limit", a.maxIterations)
	return &Response{
		Content:     ErrIterationLimit.Error(),
		ToolCalls:   lastToolCalls,
		ToolResults: lastToolResults,
		Usage:       turnUsage,
		DurationMs:  time.Since(turnStart).Milliseconds(),
	}, ErrIterationLimit
}

// callModel emits the request/response event pair around one chat call,
// retried per policy.
func (a *Agent) callModel(ctx context.Context, messages []model.ChatMessage, schemas []model.ToolSchema, systemPrompt string) (*model.ChatResponse, error) {
	def := a.session.Definition()

	prompt, err := json.Marshal(messages)
	if err != nil {
		prompt = []byte("[]")
	}
	a.deps.Activity.LogEvent(ctx, models.EventModelRequest, a.sessionID, a.session.ID(), models.ModelRequestPayload{
		Provider:  def.Provider,
		Model:     def.Name,
		Prompt:    string(prompt),
		Timestamp: time.Now().UTC(),
	})

	ctx, span := a.deps.Tracer.TraceModelRequest(ctx, def.Provider, def.Name)
	defer span.End()

	policy := a.retryPolicy
	policy.OnRetry = func(attempt int, delay time.Duration, retryErr error) {
		cls := retry.Categorize(retryErr)
		a.deps.Debug.Warn(ctx, "model call retry",
			"attempt", attempt, "delay", delay, "category", string(cls.Category), "error", retryErr)
		if a.deps.Metrics != nil {
			a.deps.Metrics.RetryCounter.WithLabelValues(string(cls.Category)).Inc()
		}
	}

	start := time.Now()
	resp, err := retry.DoWithResult(ctx, policy, func(ctx context.Context) (*model.ChatResponse, error) {
		return a.session.Chat(ctx, messages, model.ChatOptions{
			Tools:         schemas,
			SystemPrompt:  systemPrompt,
			EnableCaching: true,
		})
	})
	elapsed := time.Since(start)

	if a.deps.Metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		a.deps.Metrics.ModelRequestCounter.WithLabelValues(def.Provider, def.Name, status).Inc()
		a.deps.Metrics.ModelRequestDuration.WithLabelValues(def.Provider, def.Name).Observe(elapsed.Seconds())
	}
	if err != nil {
		a.deps.Tracer.RecordError(span, err)
		return nil, err
	}

	var tokensIn, tokensOut, cacheReads, cacheCreations int
	if resp.Usage != nil {
		tokensIn = resp.Usage.InputTokens
		tokensOut = resp.Usage.OutputTokens
		cacheReads = resp.Usage.CacheReads
		cacheCreations = resp.Usage.CacheCreations
	}
	cost := model.CalculateCost(def, tokensIn, tokensOut)
	a.metrics.RecordUsage(tokensIn+tokensOut, cacheReads, cacheCreations, cost.TotalCost)
	if a.deps.Metrics != nil {
		a.deps.Metrics.ModelTokensUsed.WithLabelValues(def.Provider, def.Name, "input").Add(float64(tokensIn))
		a.deps.Metrics.ModelTokensUsed.WithLabelValues(def.Provider, def.Name, "output").Add(float64(tokensOut))
	}

	a.deps.Activity.LogEvent(ctx, models.EventModelResponse, a.sessionID, a.session.ID(), models.ModelResponsePayload{
		Content:    resp.Content,
		TokensIn:   tokensIn,
		TokensOut:  tokensOut,
		Cost:       cost.TotalCost,
		DurationMs: elapsed.Milliseconds(),
	})
	return resp, nil
}

func (a *Agent) emitAgentResponse(ctx context.Context, content string, usage models.Usage, elapsed time.Duration) {
	a.deps.Activity.LogEvent(ctx, models.EventAgentResponse, a.sessionID, a.session.ID(), models.AgentResponsePayload{
		Content:      content,
		Tokens:       usage.TotalTokens,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		DurationMs:   elapsed.Milliseconds(),
		Model:        a.session.Definition().Name,
		Timestamp:    time.Now().UTC(),
	})
}

func (a *Agent) cancelledResponse(turnStart time.Time) *Response {
	return &Response{
		Content:    "<cancelled>",
		Cancelled:  true,
		DurationMs: time.Since(turnStart).Milliseconds(),
	}
}

func (a *Agent) saveMessage(ctx context.Context, role models.Role, content string, toolCalls []models.ToolCall, contextSize int) error {
	return a.deps.Store.SaveMessage(ctx, &models.Message{
		ID:          uuid.NewString(),
		SessionID:   a.sessionID,
		Generation:  a.generation,
		Role:        role,
		Content:     content,
		ToolCalls:   toolCalls,
		ContextSize: contextSize,
		CreatedAt:   time.Now().UTC(),
	})
}

// toChatMessages converts stored transcript rows into the model-facing shape.
// Tool-result rows are decoded back into structured results so providers can
// pair them with the tool_use ids of the preceding assistant turn.
func (a *Agent) toChatMessages(history []models.Message) []model.ChatMessage {
	out := make([]model.ChatMessage, 0, len(history))
	for _, msg := range history {
		switch msg.Role {
		case models.RoleHandoff:
			// The compressed summary reads as prior-assistant context.
			out = append(out, model.ChatMessage{Role: models.RoleAssistant, Content: msg.Content})
		case models.RoleStreaming, models.RoleLoading, models.RoleAgentActivity:
			continue
		case models.RoleToolResult:
			var result models.ToolResult
			if err := json.Unmarshal([]byte(msg.Content), &result); err == nil && result.CallID != "" {
				out = append(out, model.ChatMessage{Role: msg.Role, ToolResults: []models.ToolResult{result}})
				continue
			}
			// Rows that never carried the JSON encoding stay plain text.
			out = append(out, model.ChatMessage{Role: msg.Role, Content: msg.Content})
		default:
			out = append(out, model.ChatMessage{
				Role:      msg.Role,
				Content:   msg.Content,
				ToolCalls: msg.ToolCalls,
			})
		}
	}
	return out
}

func (a *Agent) buildSystemPrompt(schemas []model.ToolSchema) string {
	def := a.session.Definition()
	prompt := a.role.SystemPrompt
	prompt += fmt.Sprintf("\n\nRole: %s. Model: %s.", a.role.Name, def.Name)
	if len(a.capabilities) > 0 {
		prompt += "\nCapabilities: " + strings.Join(a.capabilities, ", ")
	}
	if a.task != "" {
		prompt += "\nCurrent task: " + a.task
	}
	prompt += "\nAvailable tools: " + SummarizeTools(schemas)
	return prompt
}

// estimateContextSize approximates the next request's token footprint. The
// session's own counter is authoritative when the provider exposes one, but a
// network round-trip per loop round is too expensive here, so the engine
// treats the local estimate as the advisory pre-flight check.
func (a *Agent) estimateContextSize(messages []model.ChatMessage, systemPrompt string, schemas []model.ToolSchema) int {
	total := model.EstimateMessagesTokens(messages)
	total += model.EstimateTokens(systemPrompt)
	for _, s := range schemas {
		encoded, err := json.Marshal(s.InputSchema)
		if err == nil {
			total += model.EstimateTokens(s.Name + s.Description + string(encoded))
		}
	}
	return total
}

func (a *Agent) trackActive(delta float64) {
	if a.deps.Metrics != nil {
		a.deps.Metrics.ActiveAgents.WithLabelValues(a.role.Name).Add(delta)
	}
}
