package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/strandlabs/strand/internal/agent"
)

// buildRolesCmd creates the "roles" command listing the available agent
// roles.
func buildRolesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "roles",
		Short: "List available agent roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			names := agent.ListRoles()
			sort.Strings(names)
			for _, name := range names {
				role := agent.GetRole(name)
				fmt.Printf("%-14s model=%s tools=%d capabilities=%s\n",
					role.Name, role.DefaultModel, role.MaxConcurrentTools,
					strings.Join(role.Capabilities, ","))
			}
			return nil
		},
	}
}
