package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/strandlabs/strand/internal/activity"
	"github.com/strandlabs/strand/internal/observability"
	"github.com/strandlabs/strand/pkg/models"
)

// buildEventsCmd creates the "events" command for inspecting a session's
// activity timeline.
func buildEventsCmd() *cobra.Command {
	var configPath string
	var format string
	var eventType string
	var limit int

	cmd := &cobra.Command{
		Use:   "events <session-id>",
		Short: "Show the activity timeline for a session",
		Long: `Display the recorded activity events for a session, newest first.

The timeline covers user input, model requests and responses, tool execution
starts and completions, snapshots, and the final agent response, each tagged
with the generation of the agent that produced it.`,
		Example: `  # Show the last 50 events of a session
  strand events 4f1c9a

  # Only tool completions, as JSON
  strand events 4f1c9a --type tool_execution_complete --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(configPath, args[0], eventType, format, limit)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format (text, json)")
	cmd.Flags().StringVarP(&eventType, "type", "t", "", "Only show events of this type")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum events to show")
	return cmd
}

func runEvents(configPath, sessionID, eventType, format string, limit int) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}

	log, err := openActivityLog(cfg, observability.NopLogger())
	if err != nil {
		return err
	}
	defer log.Close()

	events, err := log.GetEvents(context.Background(), activity.Filter{
		SessionID: sessionID,
		EventType: eventType,
		Limit:     limit,
	})
	if err != nil {
		return fmt.Errorf("get events: %w", err)
	}

	if format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(events)
	}

	if len(events) == 0 {
		fmt.Println("no events")
		return nil
	}
	for _, event := range events {
		printEvent(event)
	}
	return nil
}

func printEvent(event models.ActivityEvent) {
	fmt.Printf("%s  %-26s %s\n",
		event.Timestamp.Format("15:04:05.000"), event.EventType, compactData(event.Data))
}

// compactData renders the payload on one line, truncated for scanning.
func compactData(data json.RawMessage) string {
	var buf map[string]any
	if err := json.Unmarshal(data, &buf); err != nil {
		return string(data)
	}
	out, err := json.Marshal(buf)
	if err != nil {
		return string(data)
	}
	const max = 160
	if len(out) > max {
		return string(out[:max]) + "…"
	}
	return string(out)
}
