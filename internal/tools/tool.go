// Package tools implements the tool registry: named tools with typed method
// schemas, parameter validation at the registry boundary, and optional
// snapshot hooks bracketing each invocation.
package tools

import (
	"context"
	"errors"
	"fmt"
)

// Tool is the capability a concrete tool implements. The engine never sees
// tool internals; it validates parameters against the metadata and invokes
// methods by name.
type Tool interface {
	// Metadata describes the tool and its methods. Must be stable for the
	// lifetime of the registration.
	Metadata() Metadata

	// Invoke runs one method with validated parameters.
	Invoke(ctx context.Context, method string, params map[string]any) (any, error)
}

// Metadata describes a tool and its callable methods.
type Metadata struct {
	Description string                  `json:"description"`
	Methods     map[string]MethodSchema `json:"methods"`
}

// MethodSchema describes one callable method.
type MethodSchema struct {
	Description string                 `json:"description"`
	Parameters  map[string]ParamSchema `json:"parameters"`
}

// ParamSchema declares one parameter. Type uses JSON-schema type names
// (string, number, integer, boolean, array, object).
type ParamSchema struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
}

// ValidationError reports parameters rejected before invocation.
type ValidationError struct {
	Tool   string
	Method string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid parameters for %s_%s: %s", e.Tool, e.Method, e.Reason)
}

// IsValidationError reports whether err is a parameter validation failure.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ErrToolNotFound is returned when no registered tool matches an invocation
// name.
var ErrToolNotFound = errors.New("tool not found")

// CanonicalName joins a tool and method into the model-facing invocation
// name.
func CanonicalName(tool, method string) string {
	return tool + "_" + method
}
