package agent

import "strings"

// ContextPreferences sizes an agent's prompt budget.
type ContextPreferences struct {
	// MaxContextSize overrides the model definition's context window when
	// non-zero.
	MaxContextSize int `yaml:"max_context_size" json:"max_context_size"`

	// HandoffThreshold is the fraction of the context window that triggers
	// handoff to a successor agent.
	HandoffThreshold float64 `yaml:"handoff_threshold" json:"handoff_threshold"`
}

// RoleDefinition is the static description of an agent role. Read-only after
// process start.
type RoleDefinition struct {
	Name               string
	DefaultModel       string
	DefaultProvider    string
	Capabilities       []string
	SystemPrompt       string
	MaxConcurrentTools int
	ContextPreferences ContextPreferences

	// ToolRestrictions limits which tools the role may see. Empty means
	// unrestricted.
	ToolRestrictions []string
}

// Role names the engine ships with.
const (
	RoleGeneral      = "general"
	RoleOrchestrator = "orchestrator"
	RolePlanning     = "planning"
	RoleReasoning    = "reasoning"
	RoleExecution    = "execution"
)

// DefaultHandoffThreshold is the context fraction that triggers handoff.
const DefaultHandoffThreshold = 0.8

// roleRegistry is the static role catalog. Package-level constant data, never
// mutated after init.
var roleRegistry = map[string]RoleDefinition{
	RoleGeneral: {
		Name:               RoleGeneral,
		DefaultModel:       "claude-sonnet-4-5",
		DefaultProvider:    "anthropic",
		Capabilities:       []string{"chat", "tools", "delegation"},
		SystemPrompt:       "You are a capable general-purpose assistant. Use the available tools when they help, and delegate subtasks to specialist agents when the work decomposes cleanly.",
		MaxConcurrentTools: 8,
		ContextPreferences: ContextPreferences{HandoffThreshold: DefaultHandoffThreshold},
	},
	RoleOrchestrator: {
		Name:               RoleOrchestrator,
		DefaultModel:       "claude-sonnet-4-5",
		DefaultProvider:    "anthropic",
		Capabilities:       []string{"chat", "tools", "delegation", "coordination"},
		SystemPrompt:       "You coordinate work across specialist agents. Break the task down, delegate each piece, and assemble the results into a coherent answer.",
		MaxConcurrentTools: 10,
		ContextPreferences: ContextPreferences{HandoffThreshold: DefaultHandoffThreshold},
	},
	RolePlanning: {
		Name:               RolePlanning,
		DefaultModel:       "claude-opus-4-1",
		DefaultProvider:    "anthropic",
		Capabilities:       []string{"chat", "planning"},
		SystemPrompt:       "You produce plans and designs. Think through constraints and tradeoffs before proposing structure. Prefer concrete, ordered steps over prose.",
		MaxConcurrentTools: 5,
		ContextPreferences: ContextPreferences{HandoffThreshold: DefaultHandoffThreshold},
	},
	RoleReasoning: {
		Name:               RoleReasoning,
		DefaultModel:       "claude-opus-4-1",
		DefaultProvider:    "anthropic",
		Capabilities:       []string{"chat", "analysis"},
		SystemPrompt:       "You analyze and explain. Work from evidence, state your reasoning explicitly, and distinguish what you know from what you infer.",
		MaxConcurrentTools: 5,
		ContextPreferences: ContextPreferences{HandoffThreshold: DefaultHandoffThreshold},
	},
	RoleExecution: {
		Name:               RoleExecution,
		DefaultModel:       "claude-haiku-4-5",
		DefaultProvider:    "anthropic",
		Capabilities:       []string{"chat", "tools"},
		SystemPrompt:       "You execute concrete tasks with tools. Run what was asked, report the outcome, and do not expand scope.",
		MaxConcurrentTools: 3,
		ContextPreferences: ContextPreferences{HandoffThreshold: DefaultHandoffThreshold},
	},
}

// GetRole returns the definition for name, falling back to general for
// unknown roles.
func GetRole(name string) RoleDefinition {
	if def, ok := roleRegistry[name]; ok {
		return def
	}
	return roleRegistry[RoleGeneral]
}

// ListRoles returns the names of all registered roles.
func ListRoles() []string {
	names := make([]string, 0, len(roleRegistry))
	for name := range roleRegistry {
		names = append(names, name)
	}
	return names
}

// Keyword groups for task classification, checked in order.
var (
	planningKeywords  = []string{"plan", "design", "architect"}
	reasoningKeywords = []string{"analyze", "debug", "reason", "why", "explain"}
	executionKeywords = []string{"run", "execute", "list", "show", "find"}
)

// ChooseRoleForTask selects a role from keyword hints in the task text.
// Unmatched tasks go to the general role.
func ChooseRoleForTask(task string) RoleDefinition {
	lower := strings.ToLower(task)
	switch {
	case containsAny(lower, planningKeywords):
		return roleRegistry[RolePlanning]
	case containsAny(lower, reasoningKeywords):
		return roleRegistry[RoleReasoning]
	case containsAny(lower, executionKeywords):
		return roleRegistry[RoleExecution]
	}
	return roleRegistry[RoleGeneral]
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
