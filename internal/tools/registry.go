package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/strandlabs/strand/internal/activity"
	"github.com/strandlabs/strand/internal/observability"
	"github.com/strandlabs/strand/pkg/models"
)

// Registry holds named tools, validates parameters against their schemas,
// and brackets invocations with activity events and optional snapshot hooks.
//
// The registry is read-mostly after initialization; Register after startup is
// allowed and becomes visible to subsequent CallTool invocations.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*registration

	log      activity.Log
	debug    *observability.Logger
	snapshot SnapshotConfig
	hook     SnapshotHook
}

type registration struct {
	tool    Tool
	meta    Metadata
	schemas map[string]*jsonschema.Schema // method -> compiled input schema
}

// NewRegistry creates an empty registry. log may be nil when activity
// bracketing is not wanted (tests).
func NewRegistry(log activity.Log, debug *observability.Logger) *Registry {
	if debug == nil {
		debug = observability.NopLogger()
	}
	return &Registry{
		tools: make(map[string]*registration),
		log:   log,
		debug: debug,
	}
}

// SetSnapshotHook wires the pre/post snapshot hook and its configuration.
func (r *Registry) SetSnapshotHook(hook SnapshotHook, cfg SnapshotConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hook = hook
	r.snapshot = cfg
}

// Register adds a tool under name, compiling one validation schema per
// method. Registering an existing name replaces it.
func (r *Registry) Register(name string, tool Tool) error {
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	meta := tool.Metadata()
	if len(meta.Methods) == 0 {
		return fmt.Errorf("tool %s declares no methods", name)
	}

	schemas := make(map[string]*jsonschema.Schema, len(meta.Methods))
	for method, ms := range meta.Methods {
		schemaJSON, err := json.Marshal(BuildInputSchema(ms))
		if err != nil {
			return fmt.Errorf("build schema for %s_%s: %w", name, method, err)
		}
		compiled, err := jsonschema.CompileString(CanonicalName(name, method)+".schema.json", string(schemaJSON))
		if err != nil {
			return fmt.Errorf("compile schema for %s_%s: %w", name, method, err)
		}
		schemas[method] = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = &registration{tool: tool, meta: meta, schemas: schemas}
	return nil
}

// ListTools returns the registered tool names, sorted.
func (r *Registry) ListTools() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetToolSchema returns the metadata for a tool, or nil when unknown.
func (r *Registry) GetToolSchema(name string) *Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	if !ok {
		return nil
	}
	meta := reg.meta
	return &meta
}

// Resolve splits an invocation name into its tool and method. It accepts the
// combined "<tool>_<method>" form; tool names may themselves contain
// underscores, so the longest registered prefix wins.
func (r *Registry) Resolve(name string) (tool, method string, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	best := ""
	for registered := range r.tools {
		if strings.HasPrefix(name, registered+"_") && len(registered) > len(best) {
			best = registered
		}
	}
	if best == "" {
		return "", "", fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return best, name[len(best)+1:], nil
}

// CallTool validates params and invokes the named "<tool>_<method>". With a
// session id it emits tool_execution_start before and
// tool_execution_complete after, regardless of outcome. Errors propagate to
// the caller and are also logged.
func (r *Registry) CallTool(ctx context.Context, name string, params map[string]any, sessionID string) (any, error) {
	toolName, method, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	return r.call(ctx, toolName, method, params, sessionID)
}

func (r *Registry) call(ctx context.Context, toolName, method string, params map[string]any, sessionID string) (any, error) {
	r.mu.RLock()
	reg, ok := r.tools[toolName]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, toolName)
	}

	ms, ok := reg.meta.Methods[method]
	if !ok {
		return nil, &ValidationError{Tool: toolName, Method: method, Reason: "unknown method"}
	}
	if err := r.validate(reg, toolName, method, ms, params); err != nil {
		return nil, err
	}

	if sessionID != "" && r.log != nil {
		r.log.LogEvent(ctx, models.EventToolExecutionStart, sessionID, "", models.ToolExecutionStartPayload{
			Tool:   toolName,
			Method: method,
			Params: params,
		})
	}

	start := time.Now()
	result, invokeErr := reg.tool.Invoke(ctx, method, params)
	durationMs := time.Since(start).Milliseconds()

	if sessionID != "" && r.log != nil {
		payload := models.ToolExecutionCompletePayload{
			Success:    invokeErr == nil,
			DurationMs: durationMs,
		}
		if invokeErr != nil {
			payload.Error = invokeErr.Error()
		} else {
			payload.Result = result
		}
		r.log.LogEvent(ctx, models.EventToolExecutionComplete, sessionID, "", payload)
	}

	if invokeErr != nil {
		r.debug.Warn(ctx, "tool invocation failed",
			"tool", toolName, "method", method, "error", invokeErr)
		return nil, invokeErr
	}
	return result, nil
}

func (r *Registry) validate(reg *registration, toolName, method string, ms MethodSchema, params map[string]any) error {
	// Fail fast on missing required and unknown parameters so the error
	// names the offending key instead of a schema pointer.
	for pname, ps := range ms.Parameters {
		if _, present := params[pname]; ps.Required && !present {
			return &ValidationError{Tool: toolName, Method: method, Reason: "missing required parameter " + pname}
		}
	}
	for pname := range params {
		if _, declared := ms.Parameters[pname]; !declared {
			return &ValidationError{Tool: toolName, Method: method, Reason: "unknown parameter " + pname}
		}
	}

	schema := reg.schemas[method]
	if schema == nil {
		return nil
	}
	// Round-trip through JSON so typed values (json.Number, structs) become
	// the shapes the validator understands.
	payload, err := json.Marshal(params)
	if err != nil {
		return &ValidationError{Tool: toolName, Method: method, Reason: err.Error()}
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return &ValidationError{Tool: toolName, Method: method, Reason: err.Error()}
	}
	if err := schema.Validate(decoded); err != nil {
		return &ValidationError{Tool: toolName, Method: method, Reason: err.Error()}
	}
	return nil
}

// BuildInputSchema converts a method's declared parameters into a
// JSON-schema object, with the required list extracted from Required
// entries. Extra keys are rejected.
func BuildInputSchema(ms MethodSchema) map[string]any {
	properties := make(map[string]any, len(ms.Parameters))
	var required []string
	for name, ps := range ms.Parameters {
		prop := map[string]any{"type": ps.Type}
		if ps.Description != "" {
			prop["description"] = ps.Description
		}
		properties[name] = prop
		if ps.Required {
			required = append(required, name)
		}
	}
	sort.Strings(required)

	schema := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
