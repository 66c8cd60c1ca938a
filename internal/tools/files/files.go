// Package files provides a workspace-scoped filesystem tool. Registered under
// "fs", its methods surface to models as fs_read, fs_list, and fs_write.
package files

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/strandlabs/strand/internal/tools"
)

// DefaultMaxReadBytes caps a single read when the config does not.
const DefaultMaxReadBytes = 200000

// Config scopes the tool to a workspace.
type Config struct {
	// Workspace is the root all paths resolve against. Default ".".
	Workspace string

	// MaxReadBytes caps one read. Default DefaultMaxReadBytes.
	MaxReadBytes int
}

// Tool implements safe workspace file access.
type Tool struct {
	resolver     resolver
	maxReadBytes int
}

// New builds the filesystem tool.
func New(cfg Config) *Tool {
	limit := cfg.MaxReadBytes
	if limit <= 0 {
		limit = DefaultMaxReadBytes
	}
	return &Tool{
		resolver:     resolver{root: cfg.Workspace},
		maxReadBytes: limit,
	}
}

// Metadata implements tools.Tool.
func (t *Tool) Metadata() tools.Metadata {
	return tools.Metadata{
		Description: "Workspace filesystem access",
		Methods: map[string]tools.MethodSchema{
			"read": {
				Description: "Read a file with optional offset and byte limit",
				Parameters: map[string]tools.ParamSchema{
					"path":      {Type: "string", Description: "path relative to the workspace", Required: true},
					"offset":    {Type: "integer", Description: "byte offset to start from"},
					"max_bytes": {Type: "integer", Description: "maximum bytes to return"},
				},
			},
			"list": {
				Description: "List directory entries",
				Parameters: map[string]tools.ParamSchema{
					"path": {Type: "string", Description: "directory relative to the workspace, default workspace root"},
				},
			},
			"write": {
				Description: "Write content to a file, creating parent directories",
				Parameters: map[string]tools.ParamSchema{
					"path":    {Type: "string", Description: "path relative to the workspace", Required: true},
					"content": {Type: "string", Description: "full file content", Required: true},
				},
			},
		},
	}
}

// Invoke implements tools.Tool.
func (t *Tool) Invoke(ctx context.Context, method string, params map[string]any) (any, error) {
	switch method {
	case "read":
		return t.read(params)
	case "list":
		return t.list(params)
	case "write":
		return t.write(params)
	}
	return nil, fmt.Errorf("unknown method %s", method)
}

func (t *Tool) read(params map[string]any) (any, error) {
	path, _ := params["path"].(string)
	resolved, err := t.resolver.resolve(path)
	if err != nil {
		return nil, err
	}

	offset := intParam(params, "offset")
	if offset < 0 {
		return nil, fmt.Errorf("offset must be >= 0")
	}

	file, err := os.Open(resolved)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if offset > 0 {
		if _, err := file.Seek(int64(offset), io.SeekStart); err != nil {
			return nil, fmt.Errorf("seek file: %w", err)
		}
	}

	limit := t.maxReadBytes
	if max := intParam(params, "max_bytes"); max > 0 && max < limit {
		limit = max
	}

	buf, err := io.ReadAll(io.LimitReader(file, int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	return map[string]any{
		"path":      path,
		"content":   string(buf),
		"offset":    offset,
		"bytes":     len(buf),
		"truncated": int64(offset+len(buf)) < info.Size(),
	}, nil
}

func (t *Tool) list(params map[string]any) (any, error) {
	path, _ := params["path"].(string)
	if strings.TrimSpace(path) == "" {
		path = "."
	}
	resolved, err := t.resolver.resolve(path)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, fmt.Errorf("list directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return map[string]any{"path": path, "entries": names}, nil
}

func (t *Tool) write(params map[string]any) (any, error) {
	path, _ := params["path"].(string)
	content, _ := params["content"].(string)
	resolved, err := t.resolver.resolve(path)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return nil, fmt.Errorf("create parent directories: %w", err)
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}
	return map[string]any{"path": path, "bytes": len(content)}, nil
}

func intParam(params map[string]any, key string) int {
	switch n := params[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

// resolver resolves and validates workspace-relative paths.
type resolver struct {
	root string
}

// resolve returns an absolute, cleaned path inside the workspace root.
func (r resolver) resolve(path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", fmt.Errorf("path is required")
	}
	root := strings.TrimSpace(r.root)
	if root == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	var target string
	if filepath.IsAbs(clean) {
		target = filepath.Clean(clean)
	} else {
		target = filepath.Join(rootAbs, clean)
	}
	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	rel, err := filepath.Rel(rootAbs, targetAbs)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes workspace")
	}
	return targetAbs, nil
}
