// Package main provides the strand CLI.
//
// Strand runs an agent orchestration engine: a model-driven loop that plans,
// executes tools under approval policy, and delegates subtasks to specialist
// subagents.
//
// # Basic Usage
//
// Start an interactive chat:
//
//	strand chat --config strand.yaml
//
// Inspect a session's event timeline:
//
//	strand events <session-id>
//
// # Environment Variables
//
//   - STRAND_CONFIG: Path to configuration file (default: strand.yaml)
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "strand",
		Short: "Strand - agent orchestration engine",
		Long: `Strand runs model-driven agent loops with tool execution, approval policy,
circuit breakers, retries, and subagent delegation.

Every model request, tool call, and approval decision is recorded in the
activity log for later inspection.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildChatCmd(),
		buildEventsCmd(),
		buildRolesCmd(),
	)
	return rootCmd
}
