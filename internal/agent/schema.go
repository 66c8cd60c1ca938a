package agent

import (
	"sort"
	"strings"

	"github.com/strandlabs/strand/internal/model"
	"github.com/strandlabs/strand/internal/tools"
)

// BuildModelTools flattens the registry's metadata into the tool list a model
// expects: one entry per (tool, method) pair with the combined name, joined
// description, and a JSON-schema input shape. restrictions, when non-empty,
// keeps only the named tools.
func BuildModelTools(registry *tools.Registry, restrictions []string) []model.ToolSchema {
	allowed := map[string]bool{}
	for _, name := range restrictions {
		allowed[name] = true
	}

	var out []model.ToolSchema
	for _, toolName := range registry.ListTools() {
		if len(allowed) > 0 && !allowed[toolName] {
			continue
		}
		meta := registry.GetToolSchema(toolName)
		if meta == nil {
			continue
		}

		methods := make([]string, 0, len(meta.Methods))
		for method := range meta.Methods {
			methods = append(methods, method)
		}
		sort.Strings(methods)

		for _, method := range methods {
			ms := meta.Methods[method]
			description := meta.Description
			if ms.Description != "" {
				if description != "" {
					description += ": "
				}
				description += ms.Description
			}
			out = append(out, model.ToolSchema{
				Name:        tools.CanonicalName(toolName, method),
				Description: description,
				InputSchema: tools.BuildInputSchema(ms),
			})
		}
	}
	return out
}

// SummarizeTools renders a short available-tools line for the system prompt.
func SummarizeTools(schemas []model.ToolSchema) string {
	if len(schemas) == 0 {
		return "none"
	}
	names := make([]string, len(schemas))
	for i, s := range schemas {
		names[i] = s.Name
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
