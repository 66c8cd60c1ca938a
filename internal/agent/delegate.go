package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/strandlabs/strand/internal/retry"
	"github.com/strandlabs/strand/internal/tools"
)

// DefaultDelegateTimeout bounds a delegated subagent's run.
const DefaultDelegateTimeout = 5 * time.Minute

// SpawnOptions parameterizes a subagent.
type SpawnOptions struct {
	Role         string
	Task         string
	Capabilities []string
}

// SpawnSubagent constructs a child agent. The child inherits the shared
// capabilities and session id, gets the next child generation, and starts
// with fresh metrics and circuit breakers. It holds no reference back to the
// parent; results flow only through the delegation tool's return value.
func (a *Agent) SpawnSubagent(opts SpawnOptions) *Agent {
	a.mu.Lock()
	a.subagentCounter++
	childGen := a.generation.Child(a.subagentCounter)
	a.mu.Unlock()

	role := GetRole(opts.Role)
	session := a.session
	if a.deps.Models != nil {
		if s, err := a.deps.Models.SessionFor(role); err == nil && s != nil {
			session = s
		}
	}

	return New(Config{
		Role:         role.Name,
		Task:         opts.Task,
		SessionID:    a.sessionID,
		Generation:   childGen,
		Capabilities: opts.Capabilities,
		HistoryLimit: a.historyLimit,
		RetryPolicy:  &a.retryPolicy,
	}, session, a.deps)
}

// Delegate spawns a subagent for a task and runs it to completion within
// timeout, returning the child's final answer.
func (a *Agent) Delegate(ctx context.Context, purpose, instructions, role string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultDelegateTimeout
	}
	if role == "" {
		role = ChooseRoleForTask(purpose + " " + instructions).Name
	}

	child := a.SpawnSubagent(SpawnOptions{Role: role, Task: purpose})
	a.deps.Debug.Info(ctx, "delegating task",
		"purpose", purpose, "role", role, "child", child.generation.String())

	childCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := child.ProcessInput(childCtx, instructions)
	if err != nil {
		return "", err
	}
	if resp.Cancelled {
		if childCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			// An exhausted budget is not a transient fault; the parent model
			// decides whether to delegate again.
			return "", retry.Permanent(fmt.Errorf("timed out after %dms", timeout.Milliseconds()))
		}
		return "", context.Canceled
	}
	return resp.Content, nil
}

// spawnerKey carries the delegating agent through the tool call path, so the
// globally registered delegate tool resolves the right parent without any
// parent back-references in the tools package.
type spawnerKey struct{}

// Spawner is the capability the delegate tool needs from its caller.
type Spawner interface {
	Delegate(ctx context.Context, purpose, instructions, role string, timeout time.Duration) (string, error)
}

func withSpawner(ctx context.Context, s Spawner) context.Context {
	return context.WithValue(ctx, spawnerKey{}, s)
}

func spawnerFrom(ctx context.Context) (Spawner, bool) {
	s, ok := ctx.Value(spawnerKey{}).(Spawner)
	return s, ok
}

// DelegateTool exposes subagent delegation as a registry tool, invoked as
// "agent_delegate".
type DelegateTool struct{}

// NewDelegateTool returns the delegation tool for registry registration under
// the name "agent".
func NewDelegateTool() *DelegateTool { return &DelegateTool{} }

// Metadata implements tools.Tool.
func (t *DelegateTool) Metadata() tools.Metadata {
	return tools.Metadata{
		Description: "Delegate a subtask to a specialist subagent",
		Methods: map[string]tools.MethodSchema{
			"delegate": {
				Description: "Spawn a subagent for a task and return its final answer",
				Parameters: map[string]tools.ParamSchema{
					"purpose":      {Type: "string", Description: "short statement of what the subtask achieves", Required: true},
					"instructions": {Type: "string", Description: "full instructions for the subagent", Required: true},
					"role":         {Type: "string", Description: "agent role override; inferred from the purpose when omitted"},
					"timeout":      {Type: "integer", Description: "budget in milliseconds, default 300000"},
				},
			},
		},
	}
}

// Invoke implements tools.Tool.
func (t *DelegateTool) Invoke(ctx context.Context, method string, params map[string]any) (any, error) {
	if method != "delegate" {
		return nil, fmt.Errorf("unknown method %s", method)
	}
	spawner, ok := spawnerFrom(ctx)
	if !ok {
		return nil, fmt.Errorf("delegation unavailable outside an agent loop")
	}

	purpose, _ := params["purpose"].(string)
	instructions, _ := params["instructions"].(string)
	role, _ := params["role"].(string)

	timeout := DefaultDelegateTimeout
	if raw, ok := params["timeout"]; ok {
		if ms, ok := asInt64(raw); ok && ms > 0 {
			timeout = time.Duration(ms) * time.Millisecond
		}
	}

	return spawner.Delegate(ctx, purpose, instructions, role, timeout)
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	}
	return 0, false
}
