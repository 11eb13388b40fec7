package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var rateLimitResetAt string

// NewRateLimitCmd creates the rate-limit command
func NewRateLimitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rate-limit",
		Short: "Report an upstream rate limit and enter fallback routing",
		Long: `Record an externally observed rate limit. Paid backends are excluded
from routing until the reset time passes or fallback is cleared.

Without --reset-at the configured cooldown applies (default one hour).

Examples:
  taskpilot rate-limit
  taskpilot rate-limit --reset-at 2026-08-25T22:00:00Z`,
		RunE: runRateLimit,
	}

	cmd.Flags().StringVar(&rateLimitResetAt, "reset-at", "", "Provider-reported reset time (RFC 3339)")

	return cmd
}

func runRateLimit(cmd *cobra.Command, args []string) error {
	var resetAt *time.Time
	if rateLimitResetAt != "" {
		t, err := time.Parse(time.RFC3339, rateLimitResetAt)
		if err != nil {
			return fmt.Errorf("invalid --reset-at (want RFC 3339): %w", err)
		}
		resetAt = &t
	}

	ctx, deps, cleanup, err := bootstrap()
	if err != nil {
		return err
	}
	defer cleanup()

	state, err := deps.Fallback.ReportRateLimit(ctx, resetAt)
	if err != nil {
		return err
	}

	cmd.Printf("Fallback routing engaged (%s)", state.Reason)
	if state.RateLimitUntil != nil {
		cmd.Printf(", until %s", state.RateLimitUntil.UTC().Format(time.RFC3339))
	}
	cmd.Println()
	return nil
}

// NewClearFallbackCmd creates the clear-fallback command
func NewClearFallbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-fallback",
		Short: "Clear fallback routing and resume normal backend selection",
		RunE:  runClearFallback,
	}
}

func runClearFallback(cmd *cobra.Command, args []string) error {
	ctx, deps, cleanup, err := bootstrap()
	if err != nil {
		return err
	}
	defer cleanup()

	if _, err := deps.Fallback.Clear(ctx); err != nil {
		return err
	}

	cmd.Println("Normal routing restored.")
	return nil
}
