package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/strandlabs/strand/internal/agent"
	"github.com/strandlabs/strand/internal/approval"
)

// buildChatCmd creates the "chat" command: an interactive loop against one
// session.
func buildChatCmd() *cobra.Command {
	var configPath string
	var sessionID string
	var role string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat interactively with an agent",
		Long: `Start an interactive chat loop. Each line is one user turn; the agent may
call tools and delegate to subagents before answering.

Tool calls not covered by the approval policy are prompted on this terminal.`,
		Example: `  # Chat with the default role
  strand chat

  # Continue an existing session with the planning role
  strand chat --session 4f1c... --role planning`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(configPath, sessionID, role)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session id to continue (default: new session)")
	cmd.Flags().StringVarP(&role, "role", "r", "", "Agent role for new sessions")
	return cmd
}

func runChat(configPath, sessionID, role string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	if role != "" {
		cfg.Engine.DefaultRole = role
	}

	// One reader serves both user turns and approval prompts; the prompt only
	// fires while a turn is in flight, so the reads never interleave.
	stdin := bufio.NewReader(os.Stdin)

	o, cleanup, err := buildOrchestrator(cfg, terminalPrompt(stdin))
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := cleanup(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println("strand chat - type a message, or 'exit' to quit")
	for {
		fmt.Print("> ")
		line, err := stdin.ReadString('\n')
		if err != nil {
			fmt.Println()
			return nil
		}
		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			return nil
		}

		id, resp, err := o.ProcessMessage(ctx, sessionID, input)
		sessionID = id
		switch {
		case errors.Is(err, agent.ErrIterationLimit):
			fmt.Printf("[turn hit the iteration limit]\n%s\n", resp.Content)
		case err != nil:
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			if ctx.Err() != nil {
				return nil
			}
			continue
		case resp.Cancelled:
			fmt.Println("[cancelled]")
			if ctx.Err() != nil {
				return nil
			}
		default:
			fmt.Println(resp.Content)
			fmt.Println(turnFooter(sessionID, resp))
		}
	}
}

// turnFooter renders the per-turn accounting line printed after a reply.
func turnFooter(sessionID string, resp *agent.Response) string {
	return fmt.Sprintf("  (session %s, %d tokens, %dms)",
		sessionID, resp.Usage.TotalTokens, resp.DurationMs)
}

// terminalPrompt asks the operator to approve a tool call on stdin.
func terminalPrompt(stdin *bufio.Reader) approval.PromptFunc {
	return func(ctx context.Context, req approval.Request) (approval.Decision, error) {
		fmt.Printf("\napprove tool call %s with input %s? [y/N] ", req.ToolCall.Name, string(req.ToolCall.Input))
		line, err := stdin.ReadString('\n')
		if err != nil {
			return approval.Decision{Approved: false, Reason: "prompt unavailable"}, nil
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		if answer == "y" || answer == "yes" {
			return approval.Decision{Approved: true, Reason: "approved at terminal"}, nil
		}
		return approval.Decision{Approved: false, Reason: "denied at terminal"}, nil
	}
}
