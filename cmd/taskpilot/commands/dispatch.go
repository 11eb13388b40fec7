package commands

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskpilot/taskpilot/models"
	"github.com/taskpilot/taskpilot/services/dispatch"
)

var (
	dispatchMode          string
	dispatchPreferCost    bool
	dispatchPreferSpeed   bool
	dispatchPreferQuality bool
	dispatchForce         string
	dispatchTimeout       time.Duration
	dispatchContextFile   string
	dispatchJSON          bool
)

// NewDispatchCmd creates the dispatch command
func NewDispatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispatch <description>",
		Short: "Route and execute one task through the fallback chain",
		Long: `Classify the task description, pick the best backend, execute it, and
record the outcome. On backend failure the next candidate in the chain
is tried automatically.

Examples:
  taskpilot dispatch "summarize the attached changelog"
  taskpilot dispatch "generate a React dashboard component" --mode code
  taskpilot dispatch "quick overview of this file" --prefer-speed --context-file notes.md
  taskpilot dispatch "security audit of the auth flow" --force reasoning`,
		Args: cobra.MinimumNArgs(1),
		RunE: runDispatch,
	}

	cmd.Flags().StringVar(&dispatchMode, "mode", "chat", "Task mode: chat, code, or agent")
	cmd.Flags().BoolVar(&dispatchPreferCost, "prefer-cost", false, "Bias routing toward cheaper backends")
	cmd.Flags().BoolVar(&dispatchPreferSpeed, "prefer-speed", false, "Bias routing toward faster backends")
	cmd.Flags().BoolVar(&dispatchPreferQuality, "prefer-quality", false, "Bias routing toward higher-quality backends")
	cmd.Flags().StringVar(&dispatchForce, "force", "", "Bypass scoring and use this backend")
	cmd.Flags().DurationVar(&dispatchTimeout, "timeout", 0, "Per-attempt timeout (default from config)")
	cmd.Flags().StringVar(&dispatchContextFile, "context-file", "", "File whose contents are passed as working context")
	cmd.Flags().BoolVar(&dispatchJSON, "json", false, "Print the full result as JSON")

	return cmd
}

func runDispatch(cmd *cobra.Command, args []string) error {
	req, err := buildTaskRequest(args)
	if err != nil {
		return err
	}

	ctx, deps, cleanup, err := bootstrap()
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := deps.Dispatcher.Dispatch(ctx, req)
	if err != nil {
		return err
	}

	if dispatchJSON {
		return printJSON(cmd.OutOrStdout(), result)
	}

	printDispatchResult(cmd, result)
	return nil
}

// buildTaskRequest assembles a dispatcher request from the shared flag set
func buildTaskRequest(args []string) (*dispatch.Request, error) {
	description := strings.TrimSpace(strings.Join(args, " "))
	if description == "" {
		return nil, fmt.Errorf("task description cannot be empty")
	}

	var workingContext string
	if dispatchContextFile != "" {
		data, err := os.ReadFile(dispatchContextFile)
		if err != nil {
			return nil, fmt.Errorf("reading context file: %w", err)
		}
		workingContext = string(data)
	}

	return &dispatch.Request{
		Description:    description,
		Mode:           models.TaskMode(dispatchMode),
		WorkingContext: workingContext,
		Timeout:        dispatchTimeout,
		Preferences: models.Preferences{
			PreferCost:    dispatchPreferCost,
			PreferSpeed:   dispatchPreferSpeed,
			PreferQuality: dispatchPreferQuality,
			ForceBackend:  dispatchForce,
		},
	}, nil
}

func printDispatchResult(cmd *cobra.Command, result *dispatch.Result) {
	if result.Blocked {
		cmd.Printf("BLOCKED: %s\n", result.BlockReason)
		cmd.Println("The task needs a capability that is unavailable during fallback; retry after the cooldown or clear fallback manually.")
		return
	}

	if !result.Success {
		cmd.Printf("FAILED after %d attempt(s): %s\n", len(result.Attempts), result.Err)
		return
	}

	cmd.Printf("Backend: %s (confidence %.2f", result.Backend, result.Decision.Confidence)
	if result.FallbackActive {
		cmd.Printf(", fallback active")
	}
	cmd.Printf(")\n")
	if len(result.Attempts) > 1 {
		cmd.Printf("Attempts: %d\n", len(result.Attempts))
	}
	if result.Output != nil {
		cmd.Printf("Cost: $%.4f, tokens: %d, latency: %dms\n\n",
			result.Output.CostUSD, result.Output.TotalTokens(), result.LatencyMs)
		cmd.Println(result.Output.Content)
	}
}
