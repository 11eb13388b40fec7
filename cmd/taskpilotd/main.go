package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/taskpilot/taskpilot/app"
	"github.com/taskpilot/taskpilot/config"
	"github.com/taskpilot/taskpilot/routes"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "taskpilotd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.New()
	if err != nil {
		return err
	}

	logger, err := app.NewLogger(cfg.Observability)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      routes.SetupRoutes(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// The reporter loop runs beside the HTTP server and stops with it.
	reporterDone := make(chan struct{})
	if cfg.Reporter.Enabled {
		go func() {
			defer close(reporterDone)
			deps.Reporter.Run(ctx)
		}()
	} else {
		close(reporterDone)
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("taskpilotd listening",
			zap.String("addr", srv.Addr),
			zap.String("environment", cfg.Environment),
			zap.Bool("tls", cfg.Server.TLS.Enabled))

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
		stop()
		<-reporterDone
		_ = deps.Close(context.Background())
		return err

	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}
	<-reporterDone

	if err := deps.Close(shutdownCtx); err != nil {
		return err
	}

	logger.Info("taskpilotd stopped")
	return nil
}
