package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/taskpilot/taskpilot/app"
	"github.com/taskpilot/taskpilot/config"
)

// bootstrap loads configuration and wires the full dependency container for a
// one-shot CLI invocation. The returned context ends on SIGINT/SIGTERM and the
// cleanup function must run before the process exits.
func bootstrap() (context.Context, *app.Dependencies, func(), error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, nil, err
	}

	logger, err := cliLogger()
	if err != nil {
		return nil, nil, nil, err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		stop()
		_ = logger.Sync()
		return nil, nil, nil, err
	}

	cleanup := func() {
		_ = deps.Close(context.Background())
		stop()
	}
	return ctx, deps, cleanup, nil
}

// cliLogger builds a console logger kept quiet unless --verbose raised the
// level, so command output stays readable.
func cliLogger() (*zap.Logger, error) {
	level := zapcore.WarnLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}

// printJSON renders a value as indented JSON on the command's stdout
func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	return nil
}

// truncate shortens a string to maxLen, adding "..." if truncated
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// formatCost renders a dollar amount, collapsing zero to a dash
func formatCost(usd float64) string {
	if usd == 0 {
		return "-"
	}
	return fmt.Sprintf("$%.4f", usd)
}
