package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Generation identifies an agent's position in the spawn tree as a path of
// child indices. The root agent is Generation{0}; its first subagent is
// Generation{0, 1}, rendered "0.1"; that subagent's first child is
// Generation{0, 1, 1}, rendered "0.11".
//
// The rendered form looks like a float but is a display convention only:
// "1.1" and "1.10" name the same lineage, and "1.11" means "first child of
// 1.1", not "eleventh child of 1". Comparisons always work on the path.
type Generation []int

// RootGeneration is the generation assigned to the orchestrator's root agent.
func RootGeneration() Generation {
	return Generation{0}
}

// Child returns the generation of the n-th spawned subagent (1-based).
func (g Generation) Child(n int) Generation {
	child := make(Generation, len(g), len(g)+1)
	copy(child, g)
	return append(child, n)
}

// Parent returns the parent lineage, or the root for a root generation.
func (g Generation) Parent() Generation {
	if len(g) <= 1 {
		return RootGeneration()
	}
	parent := make(Generation, len(g)-1)
	copy(parent, g)
	return parent
}

// Depth is the number of spawn hops from the root (root = 0).
func (g Generation) Depth() int {
	if len(g) == 0 {
		return 0
	}
	return len(g) - 1
}

// String renders the lineage in the compact dotted form: the root index,
// then a single "." followed by the concatenated child indices.
func (g Generation) String() string {
	if len(g) == 0 {
		return "0"
	}
	var sb strings.Builder
	sb.WriteString(strconv.Itoa(g[0]))
	if len(g) > 1 {
		sb.WriteByte('.')
		for _, idx := range g[1:] {
			sb.WriteString(strconv.Itoa(idx))
		}
	}
	return sb.String()
}

// ParseGeneration parses the rendered form back into a path. Each rune after
// the dot is one child index, matching the renderer for indices 0-9.
func ParseGeneration(s string) (Generation, error) {
	if s == "" {
		return nil, fmt.Errorf("empty generation")
	}
	head, tail, found := strings.Cut(s, ".")
	root, err := strconv.Atoi(head)
	if err != nil {
		return nil, fmt.Errorf("invalid generation %q: %w", s, err)
	}
	g := Generation{root}
	if !found {
		return g, nil
	}
	for _, r := range tail {
		if r < '0' || r > '9' {
			return nil, fmt.Errorf("invalid generation %q", s)
		}
		g = append(g, int(r-'0'))
	}
	return g, nil
}

// Compare orders generations lexicographically by path. A child always
// compares greater than its parent.
func (g Generation) Compare(other Generation) int {
	for i := 0; i < len(g) && i < len(other); i++ {
		if g[i] != other[i] {
			if g[i] < other[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(g) < len(other):
		return -1
	case len(g) > len(other):
		return 1
	default:
		return 0
	}
}

// IsDescendantOf reports whether g is strictly below ancestor in the tree.
func (g Generation) IsDescendantOf(ancestor Generation) bool {
	if len(g) <= len(ancestor) {
		return false
	}
	for i := range ancestor {
		if g[i] != ancestor[i] {
			return false
		}
	}
	return true
}

// Equal reports whether two generations name the same lineage.
func (g Generation) Equal(other Generation) bool {
	return g.Compare(other) == 0
}

// MarshalJSON renders the display form.
func (g Generation) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(g.String())), nil
}

// UnmarshalJSON accepts the display form.
func (g *Generation) UnmarshalJSON(data []byte) error {
	s, err := strconv.Unquote(string(data))
	if err != nil {
		return err
	}
	parsed, parseErr := ParseGeneration(s)
	if parseErr != nil {
		return parseErr
	}
	*g = parsed
	return nil
}
