package commands

import (
	"github.com/spf13/cobra"
)

var statusJSON bool

// NewStatusCmd creates the status command
func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show orchestrator health: fallback state and task counts",
		RunE:  runStatus,
	}

	cmd.Flags().BoolVar(&statusJSON, "json", false, "Print the summary as JSON")

	return cmd
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, deps, cleanup, err := bootstrap()
	if err != nil {
		return err
	}
	defer cleanup()

	summary, err := deps.Dispatcher.Status(ctx)
	if err != nil {
		return err
	}

	if statusJSON {
		return printJSON(cmd.OutOrStdout(), summary)
	}

	if summary.FallbackEnabled {
		cmd.Printf("Routing: FALLBACK (%s)\n", summary.Reason)
		if summary.CooldownRemaining != "" {
			cmd.Printf("Cooldown remaining: %s\n", summary.CooldownRemaining)
		}
	} else {
		cmd.Println("Routing: normal")
	}
	cmd.Printf("Active tasks:     %d\n", summary.ActiveTasks)
	cmd.Printf("Completed tasks:  %d\n", summary.CompletedTasks)
	cmd.Printf("Unreported tasks: %d\n", summary.UnreportedTasks)
	return nil
}
