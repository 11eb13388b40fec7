package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/taskpilot/taskpilot/auth"
	"github.com/taskpilot/taskpilot/config"
	"github.com/taskpilot/taskpilot/middleware"
	"github.com/taskpilot/taskpilot/repositories"
	"github.com/taskpilot/taskpilot/repositories/postgres"
	"github.com/taskpilot/taskpilot/repositories/sqlite"
	"github.com/taskpilot/taskpilot/services/backends"
	"github.com/taskpilot/taskpilot/services/backends/agentcli"
	"github.com/taskpilot/taskpilot/services/backends/chat"
	"github.com/taskpilot/taskpilot/services/classify"
	"github.com/taskpilot/taskpilot/services/dispatch"
	"github.com/taskpilot/taskpilot/services/fallback"
	"github.com/taskpilot/taskpilot/services/notify"
	"github.com/taskpilot/taskpilot/services/report"
	"github.com/taskpilot/taskpilot/services/routing"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	Logger *zap.Logger

	// Persistence
	Stores *repositories.Stores

	// Routing pipeline
	Registry   *backends.Registry
	Classifier *classify.RegexClassifier
	Scorer     *routing.Scorer
	Fallback   *fallback.Manager
	Dispatcher *dispatch.Dispatcher

	// Outcome delivery
	Notifier notify.Notifier
	Reporter *report.Reporter

	// Auth
	Auth           *auth.Service
	AuthMiddleware *middleware.AuthMiddleware

	closeStore func() error
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initStores(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	if err := deps.initBackends(cfg); err != nil {
		deps.closeStoreBestEffort()
		return nil, fmt.Errorf("failed to initialize backends: %w", err)
	}

	if err := deps.initPipeline(cfg); err != nil {
		deps.closeStoreBestEffort()
		return nil, fmt.Errorf("failed to initialize routing pipeline: %w", err)
	}

	deps.initDelivery(cfg)
	deps.initAuth(cfg)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initStores opens the configured persistence layer. SQLite is the local
// default; postgres serves shared deployments.
func (d *Dependencies) initStores(ctx context.Context, cfg *config.Config) error {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.SQLitePath
		if path == "" {
			var err error
			path, err = defaultSQLitePath()
			if err != nil {
				return err
			}
		}

		db, err := sqlite.Open(path, d.Logger)
		if err != nil {
			return err
		}

		d.Stores = &repositories.Stores{
			State:    sqlite.NewStateStore(db, d.Logger),
			Outcomes: sqlite.NewOutcomeStore(db, d.Logger),
			Pinger:   db,
		}
		d.closeStore = db.Close

	case "postgres":
		db, err := postgres.NewDB(cfg.Store.Postgres, d.Logger)
		if err != nil {
			return err
		}

		if err := db.InitSchema(ctx); err != nil {
			_ = db.Close()
			return err
		}

		d.Stores = &repositories.Stores{
			State:    postgres.NewStateStore(db, d.Logger),
			Outcomes: postgres.NewOutcomeStore(db, d.Logger),
			Pinger:   db,
		}
		d.closeStore = db.Close

	default:
		return fmt.Errorf("unknown store driver: %s", cfg.Store.Driver)
	}

	return nil
}

// initBackends loads the backend registry and attaches an executor to every
// declared backend it knows how to drive. Unconfigured executors register
// anyway and simply read as unavailable, which keeps the fallback chain and
// the directory surface honest about what is installed.
func (d *Dependencies) initBackends(cfg *config.Config) error {
	file := backends.DefaultFile()
	if cfg.Backends.RegistryPath != "" {
		loaded, err := backends.LoadFile(cfg.Backends.RegistryPath)
		if err != nil {
			return err
		}
		file = loaded
		d.Logger.Info("loaded backend registry",
			zap.String("path", cfg.Backends.RegistryPath),
			zap.Int("backends", len(file.Backends)))
	}

	registry, err := backends.NewRegistry(file)
	if err != nil {
		return err
	}

	if spec, err := registry.Spec("reasoning"); err == nil {
		adapter := chat.NewAdapter(spec, chat.Config{
			APIKey:      cfg.Backends.Reasoning.APIKey,
			BaseURL:     cfg.Backends.Reasoning.BaseURL,
			Model:       cfg.Backends.Reasoning.Model,
			Temperature: float32(cfg.Backends.Reasoning.Temperature),
			MaxTokens:   cfg.Backends.Reasoning.MaxTokens,
			Timeout:     cfg.Backends.Reasoning.Timeout,
		}, d.Logger)
		if err := registry.RegisterExecutor(adapter); err != nil {
			return err
		}
	}

	if spec, err := registry.Spec("inference"); err == nil {
		adapter := chat.NewAdapter(spec, chat.Config{
			APIKey:      cfg.Backends.Inference.APIKey,
			BaseURL:     cfg.Backends.Inference.BaseURL,
			Model:       cfg.Backends.Inference.Model,
			Temperature: float32(cfg.Backends.Inference.Temperature),
			MaxTokens:   cfg.Backends.Inference.MaxTokens,
			Timeout:     cfg.Backends.Inference.Timeout,
		}, d.Logger)
		if err := registry.RegisterExecutor(adapter); err != nil {
			return err
		}
	}

	if spec, err := registry.Spec("agentcli"); err == nil {
		adapter := agentcli.NewAdapter(spec, agentcli.Config{
			BinaryPath: cfg.Backends.AgentCLI.Binary,
			Model:      cfg.Backends.AgentCLI.Model,
			Timeout:    cfg.Backends.AgentCLI.Timeout,
			MaxTurns:   cfg.Backends.AgentCLI.MaxTurns,
			WorkDir:    cfg.Backends.AgentCLI.WorkDir,
		}, d.Logger)
		if err := registry.RegisterExecutor(adapter); err != nil {
			return err
		}
	}

	d.Registry = registry
	return nil
}

// initPipeline builds the classifier, scorer, fallback manager, and
// dispatcher on top of the registry and stores.
func (d *Dependencies) initPipeline(cfg *config.Config) error {
	classifier, err := classify.NewRegexClassifier(d.Registry.Specs(), d.Registry.RequiresPrimary())
	if err != nil {
		return err
	}
	d.Classifier = classifier

	d.Scorer = routing.NewScorer(routing.ScorerConfig{
		ConfidenceDivisor: cfg.Routing.ConfidenceDivisor,
	}, d.Registry, d.Logger)

	d.Fallback = fallback.NewManager(fallback.Config{
		Cooldown: cfg.Fallback.Cooldown,
	}, d.Stores.State, d.Logger)

	d.Dispatcher = dispatch.NewDispatcher(dispatch.Config{
		AttemptTimeout: cfg.Dispatch.AttemptTimeout,
		BackendRPS:     cfg.Dispatch.BackendRPS,
		BackendBurst:   cfg.Dispatch.BackendBurst,
		DailyBudgetUSD: cfg.Dispatch.DailyBudgetUSD,
	}, d.Registry, classifier, d.Scorer, d.Fallback, d.Stores.Outcomes, d.Logger)

	return nil
}

// initDelivery wires the notifier chain and the outcome reporter
func (d *Dependencies) initDelivery(cfg *config.Config) {
	logChannel := notify.NewLogNotifier(d.Logger)

	if cfg.Notify.DiscordEnabled() {
		discord := notify.NewDiscordNotifier(notify.DiscordConfig{
			WebhookURL: cfg.Notify.DiscordWebhookURL,
			Username:   cfg.Notify.DiscordUsername,
			BotToken:   cfg.Notify.DiscordBotToken,
			ChannelID:  cfg.Notify.DiscordChannelID,
		}, d.Logger)
		d.Notifier = notify.NewMultiNotifier(logChannel, discord)
		d.Logger.Info("discord notifications enabled")
	} else {
		d.Notifier = logChannel
	}

	d.Reporter = report.NewReporter(report.Config{
		PollInterval: cfg.Reporter.PollInterval,
	}, d.Stores.Outcomes, d.Fallback, d.Notifier, d.Logger)
}

// initAuth builds the token service and the request middleware
func (d *Dependencies) initAuth(cfg *config.Config) {
	d.Auth = auth.NewService(cfg.Auth)
	d.AuthMiddleware = middleware.NewAuthMiddleware(d.Auth, cfg.Auth.Enabled(), d.Logger)

	if cfg.Auth.Enabled() {
		d.Logger.Info("api authentication enabled")
	} else {
		d.Logger.Warn("api authentication disabled, all requests accepted")
	}
}

func (d *Dependencies) closeStoreBestEffort() {
	if d.closeStore != nil {
		_ = d.closeStore()
	}
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.closeStore != nil {
		if err := d.closeStore(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close store: %w", err))
		} else {
			d.Logger.Info("store closed")
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}

// defaultSQLitePath is the store location when none is configured
func defaultSQLitePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot resolve home directory for default store path: %w", err)
	}
	return filepath.Join(home, ".taskpilot", "taskpilot.db"), nil
}

// NewLogger builds the process logger from observability settings
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}

	var zapCfg zap.Config
	if cfg.LogFormat == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
