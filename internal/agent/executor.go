package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/strandlabs/strand/internal/approval"
	"github.com/strandlabs/strand/internal/infra"
	"github.com/strandlabs/strand/internal/observability"
	"github.com/strandlabs/strand/internal/retry"
	"github.com/strandlabs/strand/internal/tools"
	"github.com/strandlabs/strand/pkg/models"
)

// ToolExecutor dispatches one model turn's batch of tool calls through
// approval, circuit breaking, and the registry, with bounded parallelism.
type ToolExecutor struct {
	registry    *tools.Registry
	approver    approval.Engine
	breakers    *infra.BreakerSet
	retryPolicy retry.Policy
	debug       *observability.Logger
	metrics     *observability.Metrics
	tracer      *observability.Tracer

	// maxConcurrent bounds in-flight tool calls per batch.
	maxConcurrent int
}

// NewToolExecutor wires an executor. The retry policy is the per-call budget
// for transient tool failures. metrics and tracer may be nil.
func NewToolExecutor(registry *tools.Registry, approver approval.Engine, breakers *infra.BreakerSet, maxConcurrent int, retryPolicy retry.Policy, debug *observability.Logger, metrics *observability.Metrics, tracer *observability.Tracer) *ToolExecutor {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if debug == nil {
		debug = observability.NopLogger()
	}
	if tracer == nil {
		tracer = observability.NopTracer()
	}
	return &ToolExecutor{
		registry:      registry,
		approver:      approver,
		breakers:      breakers,
		retryPolicy:   retryPolicy,
		debug:         debug,
		metrics:       metrics,
		tracer:        tracer,
		maxConcurrent: maxConcurrent,
	}
}

// ExecuteBatch runs every call and returns results positionally: results[i]
// always answers calls[i], whatever the completion order. A failing call
// never cancels its peers; cancellation of ctx skips calls not yet started.
func (e *ToolExecutor) ExecuteBatch(ctx context.Context, calls []models.ToolCall, sessionID string, generation models.Generation) []models.ToolResult {
	if len(calls) == 0 {
		return nil
	}

	ctx, span := e.tracer.TraceToolBatch(ctx, sessionID, len(calls))
	defer span.End()

	results := make([]models.ToolResult, len(calls))
	sem := make(chan struct{}, e.maxConcurrent)
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(i int, call models.ToolCall) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[i] = cancelledResult(call)
				return
			}
			if ctx.Err() != nil {
				results[i] = cancelledResult(call)
				return
			}

			results[i] = e.executeOne(ctx, call, sessionID, generation)
		}(i, call)
	}

	wg.Wait()
	return results
}

func (e *ToolExecutor) executeOne(ctx context.Context, call models.ToolCall, sessionID string, generation models.Generation) models.ToolResult {
	decision, err := e.approver.RequestApproval(ctx, approval.Request{
		ToolCall:   call,
		SessionID:  sessionID,
		Generation: generation,
	})
	if err != nil {
		return models.ToolResult{CallID: call.ID, Success: false, Error: fmt.Sprintf("approval failed: %v", err)}
	}
	if !decision.Approved {
		e.debug.Info(ctx, "tool call denied", "tool", call.Name, "reason", decision.Reason)
		e.countExecution(call.Name, "denied")
		return models.ToolResult{CallID: call.ID, Denied: true, Reason: decision.Reason}
	}
	if decision.ModifiedCall != nil {
		call = *decision.ModifiedCall
	}

	breaker := e.breakers.Get(call.Name)
	blocked, recovered := breaker.Check()
	if blocked {
		e.debug.Warn(ctx, "tool call short-circuited", "tool", call.Name)
		e.countExecution(call.Name, "circuit_open")
		return models.ToolResult{CallID: call.ID, Success: false, Error: infra.ErrCircuitOpen.Error()}
	}
	if recovered {
		e.debug.Info(ctx, "circuit probing recovery", "tool", call.Name)
	}

	params, decodeErr := call.DecodeInput()
	if decodeErr != nil {
		breaker.RecordFailure()
		e.countExecution(call.Name, "error")
		return models.ToolResult{CallID: call.ID, Success: false, Error: fmt.Sprintf("malformed tool input: %v", decodeErr)}
	}

	start := time.Now()
	result, callErr := e.invokeWithRetry(ctx, call.Name, params, sessionID, generation)
	duration := time.Since(start)
	e.observeDuration(call.Name, duration)

	if callErr != nil {
		breaker.RecordFailure()
		e.countExecution(call.Name, "error")
		return models.ToolResult{
			CallID:     call.ID,
			Success:    false,
			Error:      callErr.Error(),
			Recovered:  recovered,
			DurationMs: duration.Milliseconds(),
		}
	}

	breaker.RecordSuccess()
	e.countExecution(call.Name, "success")
	return models.ToolResult{
		CallID:     call.ID,
		Success:    true,
		Data:       stringifyResult(result),
		Recovered:  recovered,
		DurationMs: duration.Milliseconds(),
	}
}

func stringifyResult(result any) string {
	switch v := result.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	}
}

// invokeWithRetry runs one call under the per-call retry budget. Parameter
// validation failures are permanent; the category table decides the rest.
func (e *ToolExecutor) invokeWithRetry(ctx context.Context, name string, params map[string]any, sessionID string, generation models.Generation) (any, error) {
	policy := e.retryPolicy
	policy.OnRetry = func(attempt int, delay time.Duration, retryErr error) {
		cls := retry.Categorize(retryErr)
		e.debug.Warn(ctx, "tool call retry",
			"tool", name, "attempt", attempt, "delay", delay, "category", string(cls.Category), "error", retryErr)
		if e.metrics != nil {
			e.metrics.RetryCounter.WithLabelValues(string(cls.Category)).Inc()
		}
	}
	return retry.DoWithResult(ctx, policy, func(ctx context.Context) (any, error) {
		result, err := e.invoke(ctx, name, params, sessionID, generation)
		if err != nil && tools.IsValidationError(err) {
			return nil, retry.Permanent(err)
		}
		return result, err
	})
}

// invoke isolates tool panics so a misbehaving tool cannot take down the
// whole batch.
func (e *ToolExecutor) invoke(ctx context.Context, name string, params map[string]any, sessionID string, generation models.Generation) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()
	return e.registry.CallToolWithSnapshots(ctx, name, params, sessionID, generation)
}

func (e *ToolExecutor) countExecution(tool, outcome string) {
	if e.metrics != nil {
		e.metrics.ToolExecutionCounter.WithLabelValues(tool, outcome).Inc()
	}
}

func (e *ToolExecutor) observeDuration(tool string, d time.Duration) {
	if e.metrics != nil {
		e.metrics.ToolExecutionDuration.WithLabelValues(tool).Observe(d.Seconds())
	}
}

func cancelledResult(call models.ToolCall) models.ToolResult {
	return models.ToolResult{CallID: call.ID, Success: false, Error: "cancelled"}
}
