package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/strandlabs/strand/internal/agent"
	"github.com/strandlabs/strand/internal/approval"
	"github.com/strandlabs/strand/pkg/models"
)

func TestBuildRootCmdWiresSubcommands(t *testing.T) {
	root := buildRootCmd()
	for _, name := range []string{"chat", "events", "roles"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("subcommand %q not wired: %v", name, err)
		}
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("STRAND_CONFIG", "")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Storage.ActivityDB != "strand-activity.db" {
		t.Errorf("activity db default = %q", cfg.Storage.ActivityDB)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("logging defaults = %+v", cfg.Logging)
	}
}

func TestLoadConfigFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "strand.yaml")
	content := []byte(`
model:
  api_key: from-file
  max_tokens: 2048
engine:
  default_role: planning
  max_iterations: 10
approval:
  allowlist: ["fs_*"]
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("ANTHROPIC_API_KEY", "from-env")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Model.APIKey != "from-env" {
		t.Errorf("env must override file key, got %q", cfg.Model.APIKey)
	}
	if cfg.Model.MaxTokens != 2048 {
		t.Errorf("max_tokens = %d", cfg.Model.MaxTokens)
	}
	if cfg.Engine.DefaultRole != "planning" || cfg.Engine.MaxIterations != 10 {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	if len(cfg.Approval.Allowlist) != 1 || cfg.Approval.Allowlist[0] != "fs_*" {
		t.Errorf("approval = %+v", cfg.Approval)
	}
}

func TestTurnFooter(t *testing.T) {
	resp := &agent.Response{
		Usage:      models.Usage{InputTokens: 100, OutputTokens: 20, TotalTokens: 120},
		DurationMs: 450,
	}
	got := turnFooter("sess-1", resp)
	want := "  (session sess-1, 120 tokens, 450ms)"
	if got != want {
		t.Errorf("turnFooter = %q, want %q", got, want)
	}
}

func TestEffectivePolicyFallsBackToDefault(t *testing.T) {
	got := effectivePolicy(&approval.Policy{})
	if len(got.Allowlist) == 0 {
		t.Errorf("empty config policy must fall back to the default allowlist")
	}

	custom := &approval.Policy{Denylist: []string{"fs_write"}}
	if effectivePolicy(custom) != custom {
		t.Errorf("configured policy must be kept")
	}
}
