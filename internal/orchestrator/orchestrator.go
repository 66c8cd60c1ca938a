// Package orchestrator is the process-wide entry point: it owns the shared
// activity log, conversation store, tool registry, and approval engine, and
// routes each user message to a per-session root agent.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/strandlabs/strand/internal/activity"
	"github.com/strandlabs/strand/internal/agent"
	"github.com/strandlabs/strand/internal/approval"
	"github.com/strandlabs/strand/internal/conversation"
	"github.com/strandlabs/strand/internal/model"
	"github.com/strandlabs/strand/internal/observability"
	"github.com/strandlabs/strand/internal/tools"
	"github.com/strandlabs/strand/pkg/models"
)

// SessionFactory builds a model session for a role. The orchestrator calls it
// once per root agent and once per subagent role switch.
type SessionFactory func(role agent.RoleDefinition) (model.Session, error)

// Config configures the orchestrator.
type Config struct {
	// DefaultRole is the root agent's role (default general).
	DefaultRole string

	// HistoryLimit bounds transcript retrieval per loop round.
	HistoryLimit int

	// MaxIterations bounds tool rounds per user turn.
	MaxIterations int
}

// Deps are the orchestrator's owned and consumed collaborators.
type Deps struct {
	Activity activity.Log
	Store    conversation.Store
	Registry *tools.Registry
	Approver approval.Engine
	Sessions SessionFactory
	Debug    *observability.Logger
	Metrics  *observability.Metrics
	Tracer   *observability.Tracer
}

// Orchestrator routes user messages to root agents, one per session.
type Orchestrator struct {
	config Config
	deps   Deps

	mu     sync.Mutex
	agents map[string]*agent.Agent
	closed bool
}

// New validates deps and constructs an orchestrator. The delegation tool is
// registered here so every agent can spawn subagents.
func New(config Config, deps Deps) (*Orchestrator, error) {
	if deps.Activity == nil || deps.Store == nil || deps.Registry == nil {
		return nil, fmt.Errorf("orchestrator requires activity log, store, and registry")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("orchestrator requires a session factory")
	}
	if deps.Approver == nil {
		deps.Approver = approval.NewPolicyEngine(nil)
	}
	if deps.Debug == nil {
		deps.Debug = observability.NopLogger()
	}
	if config.DefaultRole == "" {
		config.DefaultRole = agent.RoleGeneral
	}

	if err := deps.Registry.Register("agent", agent.NewDelegateTool()); err != nil {
		return nil, fmt.Errorf("register delegate tool: %w", err)
	}

	return &Orchestrator{
		config: config,
		deps:   deps,
		agents: make(map[string]*agent.Agent),
	}, nil
}

// NewSession allocates a fresh session id.
func (o *Orchestrator) NewSession() string {
	return uuid.NewString()
}

// ProcessMessage routes one user message to the session's root agent and
// returns the final reply. An empty sessionID starts a new session; the
// returned session id identifies it for subsequent turns.
func (o *Orchestrator) ProcessMessage(ctx context.Context, sessionID, content string) (string, *agent.Response, error) {
	if sessionID == "" {
		sessionID = o.NewSession()
	}

	a, err := o.agentFor(sessionID)
	if err != nil {
		return sessionID, nil, err
	}

	resp, err := a.ProcessInput(ctx, content)
	return sessionID, resp, err
}

// agentFor returns the session's root agent, constructing it on first use.
func (o *Orchestrator) agentFor(sessionID string) (*agent.Agent, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, fmt.Errorf("orchestrator closed")
	}
	if a, ok := o.agents[sessionID]; ok {
		return a, nil
	}

	role := agent.GetRole(o.config.DefaultRole)
	session, err := o.deps.Sessions(role)
	if err != nil {
		return nil, fmt.Errorf("create model session: %w", err)
	}

	a := agent.New(agent.Config{
		Role:          role.Name,
		SessionID:     sessionID,
		HistoryLimit:  o.config.HistoryLimit,
		MaxIterations: o.config.MaxIterations,
	}, session, agent.Deps{
		Activity: o.deps.Activity,
		Store:    o.deps.Store,
		Registry: o.deps.Registry,
		Approver: o.deps.Approver,
		Models:   sessionProvider(o.deps.Sessions),
		Debug:    o.deps.Debug,
		Metrics:  o.deps.Metrics,
		Tracer:   o.deps.Tracer,
	})
	o.agents[sessionID] = a
	return a, nil
}

// Events returns recent activity for a session, newest first.
func (o *Orchestrator) Events(ctx context.Context, sessionID string, limit int) ([]models.ActivityEvent, error) {
	return o.deps.Activity.GetEvents(ctx, activity.Filter{SessionID: sessionID, Limit: limit})
}

// History returns the session transcript, oldest first.
func (o *Orchestrator) History(ctx context.Context, sessionID string, limit int) ([]models.Message, error) {
	return o.deps.Store.GetConversationHistory(ctx, sessionID, limit)
}

// AgentMetrics returns the conversation counters of a session's root agent.
func (o *Orchestrator) AgentMetrics(sessionID string) (agent.MetricsSnapshot, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	a, ok := o.agents[sessionID]
	if !ok {
		return agent.MetricsSnapshot{}, false
	}
	return a.Metrics(), true
}

// Close releases the owned stores. Idempotent.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	storeErr := o.deps.Store.Close()
	logErr := o.deps.Activity.Close()
	if storeErr != nil {
		return storeErr
	}
	return logErr
}

// sessionProvider adapts a SessionFactory to the agent.ModelProvider
// interface.
type sessionProvider SessionFactory

func (p sessionProvider) SessionFor(role agent.RoleDefinition) (model.Session, error) {
	return SessionFactory(p)(role)
}
