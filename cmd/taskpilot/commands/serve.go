package commands

import (
	"context"
	"errors"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/taskpilot/taskpilot/routes"
)

// NewServeCmd creates the serve command
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator daemon (HTTP API + outcome reporter)",
		Long: `Start the HTTP API and the background outcome reporter.

The daemon serves dispatch, dry-run routing, fallback control, and the
outcome feed until interrupted. Configuration comes from the environment
and an optional .env file.

Examples:
  taskpilot serve
  PORT=9090 taskpilot serve`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, deps, cleanup, err := bootstrap()
	if err != nil {
		return err
	}
	defer cleanup()

	cfg := deps.Config
	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      routes.SetupRoutes(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// The reporter stops either with the signal context or when the server
	// fails, so it runs under its own cancelable context.
	reporterCtx, stopReporter := context.WithCancel(ctx)
	defer stopReporter()

	reporterDone := make(chan struct{})
	if cfg.Reporter.Enabled {
		go func() {
			defer close(reporterDone)
			deps.Reporter.Run(reporterCtx)
		}()
	} else {
		close(reporterDone)
	}

	serverErr := make(chan error, 1)
	go func() {
		deps.Logger.Info("taskpilot daemon listening", zap.String("addr", srv.Addr))
		cmd.Printf("Listening on %s\n", srv.Addr)

		var err error
		if cfg.Server.TLS.Enabled {
			err = srv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		stopReporter()
		<-reporterDone
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	<-reporterDone

	cmd.Println("Stopped.")
	return nil
}
