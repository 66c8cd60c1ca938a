// Package approval decides whether a tool call may execute. The executor
// consults it before every invocation; a denied call never reaches the tool.
package approval

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/strandlabs/strand/pkg/models"
)

// Request carries the tool call under evaluation and its origin.
type Request struct {
	ToolCall   models.ToolCall
	SessionID  string
	Generation models.Generation
}

// Decision is the approval outcome. When ModifiedCall is non-nil the executor
// runs it in place of the original call.
type Decision struct {
	Approved     bool
	Reason       string
	ModifiedCall *models.ToolCall
}

// Engine evaluates tool calls. Implementations must be safe for concurrent
// use; the executor calls RequestApproval from its worker goroutines.
type Engine interface {
	RequestApproval(ctx context.Context, req Request) (Decision, error)
}

// PromptFunc asks an interactive surface to decide a request that no policy
// rule covered. It may block until the user answers or ctx expires.
type PromptFunc func(ctx context.Context, req Request) (Decision, error)

// Policy configures rule-based approval. Patterns support exact names,
// "prefix*", "*suffix", and "*".
type Policy struct {
	// Allowlist names tools that run without asking.
	Allowlist []string `yaml:"allowlist" json:"allowlist"`

	// Denylist names tools that never run. It wins over every other rule.
	Denylist []string `yaml:"denylist" json:"denylist"`

	// RequirePrompt names tools that always go to the prompt even when a
	// broader allowlist pattern would match.
	RequirePrompt []string `yaml:"require_prompt" json:"require_prompt"`

	// DefaultAllow approves calls no rule matched when no prompt is wired.
	// With a prompt available, unmatched calls are asked instead.
	DefaultAllow bool `yaml:"default_allow" json:"default_allow"`

	// PromptTimeout bounds how long a prompt may block (default 5m).
	PromptTimeout time.Duration `yaml:"prompt_timeout" json:"prompt_timeout"`
}

// DefaultPolicy auto-approves read-style tools and prompts for the rest.
func DefaultPolicy() *Policy {
	return &Policy{
		Allowlist:     []string{"fs_read", "fs_list", "search_*", "agent_delegate"},
		Denylist:      []string{},
		RequirePrompt: []string{},
		DefaultAllow:  false,
		PromptTimeout: 5 * time.Minute,
	}
}

// AllowAllPolicy approves everything. Useful for tests and trusted sandboxes.
func AllowAllPolicy() *Policy {
	return &Policy{Allowlist: []string{"*"}, DefaultAllow: true}
}

// PolicyEngine implements Engine with denylist > require_prompt > allowlist >
// default precedence and an optional interactive prompt fallback.
type PolicyEngine struct {
	mu     sync.RWMutex
	policy *Policy
	prompt PromptFunc
}

// NewPolicyEngine creates an engine over policy. A nil policy gets
// DefaultPolicy.
func NewPolicyEngine(policy *Policy) *PolicyEngine {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &PolicyEngine{policy: policy}
}

// SetPrompt wires the interactive fallback for calls no rule covers.
func (e *PolicyEngine) SetPrompt(fn PromptFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prompt = fn
}

// SetPolicy replaces the active policy.
func (e *PolicyEngine) SetPolicy(policy *Policy) {
	if policy == nil {
		policy = DefaultPolicy()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policy = policy
}

// RequestApproval evaluates one tool call. The error return is reserved for
// prompt transport failures; policy outcomes arrive as Decision values.
func (e *PolicyEngine) RequestApproval(ctx context.Context, req Request) (Decision, error) {
	e.mu.RLock()
	policy := e.policy
	prompt := e.prompt
	e.mu.RUnlock()

	name := req.ToolCall.Name

	if matchesPattern(policy.Denylist, name) {
		return Decision{Approved: false, Reason: "tool in denylist"}, nil
	}
	if matchesPattern(policy.RequirePrompt, name) {
		return e.ask(ctx, policy, prompt, req, "tool requires approval")
	}
	if matchesPattern(policy.Allowlist, name) {
		return Decision{Approved: true, Reason: "tool in allowlist"}, nil
	}

	if prompt != nil {
		return e.ask(ctx, policy, prompt, req, "no matching rule")
	}
	if policy.DefaultAllow {
		return Decision{Approved: true, Reason: "default policy"}, nil
	}
	return Decision{Approved: false, Reason: "no approval rule matched and no prompt available"}, nil
}

func (e *PolicyEngine) ask(ctx context.Context, policy *Policy, prompt PromptFunc, req Request, why string) (Decision, error) {
	if prompt == nil {
		return Decision{Approved: false, Reason: why + "; no prompt available"}, nil
	}

	timeout := policy.PromptTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	promptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	decision, err := prompt(promptCtx, req)
	if err != nil {
		if promptCtx.Err() != nil {
			return Decision{Approved: false, Reason: "approval prompt timed out"}, nil
		}
		return Decision{}, err
	}
	return decision, nil
}

// matchesPattern reports whether name matches any pattern in the list.
func matchesPattern(patterns []string, name string) bool {
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		if pattern == "*" || pattern == name {
			return true
		}
		if len(pattern) > 1 && strings.HasSuffix(pattern, "*") &&
			strings.HasPrefix(name, pattern[:len(pattern)-1]) {
			return true
		}
		if len(pattern) > 1 && strings.HasPrefix(pattern, "*") &&
			strings.HasSuffix(name, pattern[1:]) {
			return true
		}
	}
	return false
}
