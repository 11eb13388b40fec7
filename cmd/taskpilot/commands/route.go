package commands

import (
	"strings"

	"github.com/spf13/cobra"
)

var routeJSON bool

// NewRouteCmd creates the route command
func NewRouteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "route <description>",
		Short: "Show the routing decision for a task without executing it",
		Long: `Classify and score the task under the current fallback state and print
the decision, the per-backend match counts, and the attempt chain the
dispatcher would walk. Nothing is executed.

Examples:
  taskpilot route "generate a React dashboard component"
  taskpilot route "quick summary of yesterday's logs" --prefer-speed --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: runRoute,
	}

	cmd.Flags().StringVar(&dispatchMode, "mode", "chat", "Task mode: chat, code, or agent")
	cmd.Flags().BoolVar(&dispatchPreferCost, "prefer-cost", false, "Bias routing toward cheaper backends")
	cmd.Flags().BoolVar(&dispatchPreferSpeed, "prefer-speed", false, "Bias routing toward faster backends")
	cmd.Flags().BoolVar(&dispatchPreferQuality, "prefer-quality", false, "Bias routing toward higher-quality backends")
	cmd.Flags().StringVar(&dispatchForce, "force", "", "Bypass scoring and use this backend")
	cmd.Flags().BoolVar(&routeJSON, "json", false, "Print the full view as JSON")

	return cmd
}

func runRoute(cmd *cobra.Command, args []string) error {
	req, err := buildTaskRequest(args)
	if err != nil {
		return err
	}

	ctx, deps, cleanup, err := bootstrap()
	if err != nil {
		return err
	}
	defer cleanup()

	view, err := deps.Dispatcher.Route(ctx, req)
	if err != nil {
		return err
	}

	if routeJSON {
		return printJSON(cmd.OutOrStdout(), view)
	}

	cmd.Printf("Decision: %s (confidence %.2f)\n", view.Decision.Backend, view.Decision.Confidence)
	cmd.Printf("Reason:   %s\n", view.Decision.Justification)
	if len(view.Decision.Alternates) > 0 {
		cmd.Printf("Alternates: %s\n", strings.Join(view.Decision.Alternates, ", "))
	}
	cmd.Printf("Attempt chain: %s\n", strings.Join(view.AttemptPlan, " -> "))
	if view.FallbackActive {
		cmd.Println("Fallback routing is ACTIVE; paid backends are excluded.")
	}
	if view.WouldBlock {
		cmd.Println("This task WOULD BE BLOCKED under the current fallback state.")
	}
	return nil
}
