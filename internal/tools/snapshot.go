package tools

import (
	"context"

	"github.com/strandlabs/strand/pkg/models"
)

// SnapshotHook captures project state around a tool invocation. The rollback
// subsystem implements it; the registry only drives it. Hook failures never
// fail the tool call.
type SnapshotHook interface {
	// PreToolUse runs before the tool; its error is reported as a
	// snapshot_error event and otherwise ignored.
	PreToolUse(ctx context.Context, info SnapshotInfo) error

	// PostToolUse runs after the tool with the outcome attached.
	PostToolUse(ctx context.Context, info SnapshotInfo) error
}

// SnapshotInfo describes the bracketed invocation.
type SnapshotInfo struct {
	Tool       string
	Method     string
	Params     map[string]any
	SessionID  string
	Generation models.Generation

	// Result and Err are set only for post-tool snapshots.
	Result any
	Err    error
}

// SnapshotConfig enables the individual hook points.
type SnapshotConfig struct {
	// EnablePreToolSnapshots captures state before the tool runs.
	EnablePreToolSnapshots bool

	// EnablePostToolSnapshots captures state after the tool, including the
	// result and any error.
	EnablePostToolSnapshots bool

	// SnapshotOnErrors ensures a post snapshot is taken even when the tool
	// failed and EnablePostToolSnapshots is off.
	SnapshotOnErrors bool
}

// CallToolWithSnapshots is CallTool bracketed by the configured snapshot
// hooks. Snapshot failures are reported as snapshot_error events; the tool
// call proceeds (and its own error, if any, is not suppressed).
func (r *Registry) CallToolWithSnapshots(ctx context.Context, name string, params map[string]any, sessionID string, generation models.Generation) (any, error) {
	toolName, method, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	hook := r.hook
	cfg := r.snapshot
	r.mu.RUnlock()

	info := SnapshotInfo{
		Tool:       toolName,
		Method:     method,
		Params:     params,
		SessionID:  sessionID,
		Generation: generation,
	}

	if hook != nil && cfg.EnablePreToolSnapshots {
		if snapErr := hook.PreToolUse(ctx, info); snapErr != nil {
			r.reportSnapshotError(ctx, sessionID, models.SnapshotPhasePreTool, snapErr)
		}
	}

	result, callErr := r.call(ctx, toolName, method, params, sessionID)

	wantPost := cfg.EnablePostToolSnapshots || (cfg.SnapshotOnErrors && callErr != nil)
	if hook != nil && wantPost {
		info.Result = result
		info.Err = callErr
		if snapErr := hook.PostToolUse(ctx, info); snapErr != nil {
			r.reportSnapshotError(ctx, sessionID, models.SnapshotPhasePostTool, snapErr)
		}
	}

	return result, callErr
}

func (r *Registry) reportSnapshotError(ctx context.Context, sessionID, phase string, err error) {
	r.debug.Warn(ctx, "snapshot hook failed", "phase", phase, "error", err)
	if r.log != nil && sessionID != "" {
		r.log.LogEvent(ctx, models.EventSnapshotError, sessionID, "", models.SnapshotErrorPayload{
			Error: err.Error(),
			Type:  phase,
		})
	}
}
