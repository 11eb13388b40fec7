package commands

import (
	"github.com/spf13/cobra"
)

var verbose bool

// NewRootCmd creates the taskpilot root command with all subcommands attached
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "taskpilot",
		Short: "Task-routing and fallback orchestrator",
		Long: `taskpilot routes natural-language tasks across heterogeneous execution
backends (a premium reasoning API, a free local agent CLI, and a fast
inference API), executes them, and records every outcome durably.

When a preferred backend is rate-limited or over budget, routing falls
back through cheaper alternates and resumes automatically once the
cooldown elapses.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewDispatchCmd())
	cmd.AddCommand(NewRouteCmd())
	cmd.AddCommand(NewStatusCmd())
	cmd.AddCommand(NewRateLimitCmd())
	cmd.AddCommand(NewClearFallbackCmd())
	cmd.AddCommand(NewOutcomesCmd())
	cmd.AddCommand(NewTokenCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}
