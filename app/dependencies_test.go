package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/taskpilot/taskpilot/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			Host:            "localhost",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Store: config.StoreConfig{
			Driver:     "sqlite",
			SQLitePath: filepath.Join(t.TempDir(), "taskpilot.db"),
		},
		Backends: config.BackendsConfig{
			Reasoning: config.ChatBackendConfig{
				BaseURL: "https://api.openai.com/v1",
				Model:   "gpt-4o",
			},
			Inference: config.ChatBackendConfig{
				BaseURL: "https://api.openai.com/v1",
				Model:   "gpt-4o-mini",
			},
			AgentCLI: config.AgentCLIConfig{
				Binary: "agent",
			},
		},
		Routing: config.RoutingConfig{
			ConfidenceDivisor: 50,
		},
		Fallback: config.FallbackConfig{
			Cooldown: time.Hour,
		},
		Dispatch: config.DispatchConfig{
			AttemptTimeout: 5 * time.Minute,
			BackendRPS:     1,
			BackendBurst:   2,
		},
		Reporter: config.ReporterConfig{
			Enabled:      true,
			PollInterval: 30 * time.Second,
		},
		Observability: config.ObservabilityConfig{
			LogLevel:  "debug",
			LogFormat: "json",
		},
	}
}

func TestNewDependencies(t *testing.T) {
	t.Run("successful initialization with all components", func(t *testing.T) {
		ctx := context.Background()
		cfg := testConfig(t)
		logger := zaptest.NewLogger(t)

		deps, err := NewDependencies(ctx, cfg, logger)
		require.NoError(t, err)
		require.NotNil(t, deps)

		// Infrastructure
		assert.NotNil(t, deps.Config)
		assert.NotNil(t, deps.Logger)
		assert.NotNil(t, deps.Stores)
		assert.NotNil(t, deps.Stores.State)
		assert.NotNil(t, deps.Stores.Outcomes)
		assert.NotNil(t, deps.Stores.Pinger)

		// Pipeline
		assert.NotNil(t, deps.Registry)
		assert.Equal(t, 3, deps.Registry.Count())
		assert.NotNil(t, deps.Classifier)
		assert.NotNil(t, deps.Scorer)
		assert.NotNil(t, deps.Fallback)
		assert.NotNil(t, deps.Dispatcher)

		// Delivery
		assert.NotNil(t, deps.Notifier)
		assert.NotNil(t, deps.Reporter)

		// Auth is constructed even when disabled
		assert.NotNil(t, deps.Auth)
		assert.NotNil(t, deps.AuthMiddleware)
		assert.False(t, deps.Auth.Enabled())

		require.NoError(t, deps.Stores.Pinger.Ping(ctx))

		err = deps.Close(ctx)
		assert.NoError(t, err)
	})

	t.Run("every declared backend has an executor", func(t *testing.T) {
		ctx := context.Background()
		cfg := testConfig(t)
		logger := zaptest.NewLogger(t)

		deps, err := NewDependencies(ctx, cfg, logger)
		require.NoError(t, err)
		defer deps.Close(ctx)

		for _, id := range deps.Registry.IDs() {
			executor, err := deps.Registry.Executor(id)
			require.NoError(t, err, "backend %s has no executor", id)
			assert.Equal(t, id, executor.ID())
		}
	})

	t.Run("auth enabled when a token is configured", func(t *testing.T) {
		ctx := context.Background()
		cfg := testConfig(t)
		cfg.Auth.APIToken = "sekret-token"
		logger := zaptest.NewLogger(t)

		deps, err := NewDependencies(ctx, cfg, logger)
		require.NoError(t, err)
		defer deps.Close(ctx)

		assert.True(t, deps.Auth.Enabled())
		assert.True(t, deps.Auth.VerifyAPIToken("sekret-token"))
	})

	t.Run("unknown store driver", func(t *testing.T) {
		ctx := context.Background()
		cfg := testConfig(t)
		cfg.Store.Driver = "etcd"
		logger := zaptest.NewLogger(t)

		deps, err := NewDependencies(ctx, cfg, logger)
		assert.Error(t, err)
		assert.Nil(t, deps)
		assert.Contains(t, err.Error(), "failed to initialize store")
	})

	t.Run("missing registry file", func(t *testing.T) {
		ctx := context.Background()
		cfg := testConfig(t)
		cfg.Backends.RegistryPath = filepath.Join(t.TempDir(), "missing.yaml")
		logger := zaptest.NewLogger(t)

		deps, err := NewDependencies(ctx, cfg, logger)
		assert.Error(t, err)
		assert.Nil(t, deps)
		assert.Contains(t, err.Error(), "failed to initialize backends")
	})
}

func TestDependenciesClose(t *testing.T) {
	t.Run("graceful shutdown", func(t *testing.T) {
		ctx := context.Background()
		cfg := testConfig(t)
		logger := zaptest.NewLogger(t)

		deps, err := NewDependencies(ctx, cfg, logger)
		require.NoError(t, err)
		require.NotNil(t, deps)

		err = deps.Close(ctx)
		assert.NoError(t, err)
	})
}

func TestNewLogger(t *testing.T) {
	t.Run("json format", func(t *testing.T) {
		logger, err := NewLogger(config.ObservabilityConfig{LogLevel: "info", LogFormat: "json"})
		require.NoError(t, err)
		assert.NotNil(t, logger)
	})

	t.Run("console format", func(t *testing.T) {
		logger, err := NewLogger(config.ObservabilityConfig{LogLevel: "debug", LogFormat: "console"})
		require.NoError(t, err)
		assert.NotNil(t, logger)
	})

	t.Run("invalid level", func(t *testing.T) {
		logger, err := NewLogger(config.ObservabilityConfig{LogLevel: "verbose", LogFormat: "json"})
		assert.Error(t, err)
		assert.Nil(t, logger)
	})
}
