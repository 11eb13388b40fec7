package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the complete application configuration
type Config struct {
	Environment   string
	Server        ServerConfig
	Store         StoreConfig
	Auth          AuthConfig
	Backends      BackendsConfig
	Routing       RoutingConfig
	Fallback      FallbackConfig
	Dispatch      DispatchConfig
	Reporter      ReporterConfig
	Notify        NotifyConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	TLS             struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// StoreConfig selects and configures the persistence layer. SQLite is the
// process-local default; postgres serves shared server deployments.
type StoreConfig struct {
	// Driver is "sqlite" or "postgres"
	Driver string

	// SQLitePath is the database file location. Empty means the
	// platform-default data directory.
	SQLitePath string

	// Postgres holds the server-backed store settings, used only when
	// Driver is "postgres".
	Postgres DatabaseConfig
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// AuthConfig holds API authentication configuration. Requests are accepted
// with either a minted JWT or the static API token; when both are empty the
// API runs unauthenticated.
type AuthConfig struct {
	JWTSecret string
	APIToken  string
	TokenTTL  time.Duration
}

// Enabled reports whether bearer authentication is enforced
func (c *AuthConfig) Enabled() bool {
	return c.JWTSecret != "" || c.APIToken != ""
}

// BackendsConfig holds the execution backend configurations
type BackendsConfig struct {
	// RegistryPath optionally points at a YAML registry file overriding the
	// built-in backend table.
	RegistryPath string

	Reasoning ChatBackendConfig
	Inference ChatBackendConfig
	AgentCLI  AgentCLIConfig
}

// ChatBackendConfig holds the settings for an OpenAI-compatible HTTP backend
type ChatBackendConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// AgentCLIConfig holds the settings for the local agent CLI backend
type AgentCLIConfig struct {
	Binary   string
	Model    string
	MaxTurns int
	Timeout  time.Duration
	WorkDir  string
}

// RoutingConfig holds the scoring policy knobs
type RoutingConfig struct {
	// ConfidenceDivisor normalizes the winning score into a 0-1 confidence
	ConfidenceDivisor int
}

// FallbackConfig holds the fallback state machine policy
type FallbackConfig struct {
	// Cooldown applies to rate-limit signals without an explicit reset time
	Cooldown time.Duration
}

// DispatchConfig holds the dispatcher execution policy
type DispatchConfig struct {
	// AttemptTimeout bounds a single backend execution call
	AttemptTimeout time.Duration

	// BackendRPS and BackendBurst shape the client-side per-backend limiter
	BackendRPS   float64
	BackendBurst int

	// DailyBudgetUSD caps paid-backend spend per rolling day. Zero disables
	// the budget cutoff.
	DailyBudgetUSD float64
}

// ReporterConfig holds the outcome reporter settings
type ReporterConfig struct {
	Enabled      bool
	PollInterval time.Duration
}

// NotifyConfig holds notification channel settings. The webhook is the
// preferred Discord path; the bot token pair is the alternative when no
// webhook can be provisioned.
type NotifyConfig struct {
	DiscordWebhookURL string
	DiscordUsername   string
	DiscordBotToken   string
	DiscordChannelID  string
}

// DiscordEnabled reports whether any Discord delivery path is configured
func (n NotifyConfig) DiscordEnabled() bool {
	return n.DiscordWebhookURL != "" || (n.DiscordBotToken != "" && n.DiscordChannelID != "")
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json or console
}

// New creates a new Config instance by loading environment variables
func New() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			TLS: struct {
				Enabled  bool
				CertFile string
				KeyFile  string
			}{
				Enabled:  getEnvAsBool("TLS_ENABLED", false),
				CertFile: getEnv("TLS_CERT_FILE", "certs/cert.pem"),
				KeyFile:  getEnv("TLS_KEY_FILE", "certs/key.pem"),
			},
		},
		Store: StoreConfig{
			Driver:     getEnv("STORE_DRIVER", "sqlite"),
			SQLitePath: getEnv("SQLITE_PATH", ""),
			Postgres:   loadDatabaseConfig(),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", ""),
			APIToken:  getEnv("AUTH_API_TOKEN", ""),
			TokenTTL:  getEnvAsDuration("AUTH_TOKEN_TTL", 24*time.Hour),
		},
		Backends: BackendsConfig{
			RegistryPath: getEnv("TASKPILOT_REGISTRY", ""),
			Reasoning: ChatBackendConfig{
				APIKey:      getEnv("REASONING_API_KEY", ""),
				BaseURL:     getEnv("REASONING_BASE_URL", "https://api.openai.com/v1"),
				Model:       getEnv("REASONING_MODEL", "gpt-4o"),
				Temperature: getEnvAsFloat("REASONING_TEMPERATURE", 0.2),
				MaxTokens:   getEnvAsInt("REASONING_MAX_TOKENS", 4096),
				Timeout:     getEnvAsDuration("REASONING_TIMEOUT", 2*time.Minute),
			},
			Inference: ChatBackendConfig{
				APIKey:      getEnv("INFERENCE_API_KEY", ""),
				BaseURL:     getEnv("INFERENCE_BASE_URL", "https://api.openai.com/v1"),
				Model:       getEnv("INFERENCE_MODEL", "gpt-4o-mini"),
				Temperature: getEnvAsFloat("INFERENCE_TEMPERATURE", 0.2),
				MaxTokens:   getEnvAsInt("INFERENCE_MAX_TOKENS", 2048),
				Timeout:     getEnvAsDuration("INFERENCE_TIMEOUT", 30*time.Second),
			},
			AgentCLI: AgentCLIConfig{
				Binary:   getEnv("AGENT_CLI_BINARY", "agent"),
				Model:    getEnv("AGENT_CLI_MODEL", ""),
				MaxTurns: getEnvAsInt("AGENT_CLI_MAX_TURNS", 10),
				Timeout:  getEnvAsDuration("AGENT_CLI_TIMEOUT", 5*time.Minute),
				WorkDir:  getEnv("AGENT_CLI_WORKDIR", ""),
			},
		},
		Routing: RoutingConfig{
			ConfidenceDivisor: getEnvAsInt("ROUTING_CONFIDENCE_DIVISOR", 50),
		},
		Fallback: FallbackConfig{
			Cooldown: getEnvAsDuration("FALLBACK_COOLDOWN", time.Hour),
		},
		Dispatch: DispatchConfig{
			AttemptTimeout: getEnvAsDuration("DISPATCH_ATTEMPT_TIMEOUT", 5*time.Minute),
			BackendRPS:     getEnvAsFloat("DISPATCH_BACKEND_RPS", 1),
			BackendBurst:   getEnvAsInt("DISPATCH_BACKEND_BURST", 2),
			DailyBudgetUSD: getEnvAsFloat("DISPATCH_DAILY_BUDGET_USD", 0),
		},
		Reporter: ReporterConfig{
			Enabled:      getEnvAsBool("REPORTER_ENABLED", true),
			PollInterval: getEnvAsDuration("REPORTER_POLL_INTERVAL", 30*time.Second),
		},
		Notify: NotifyConfig{
			DiscordWebhookURL: getEnv("DISCORD_WEBHOOK_URL", ""),
			DiscordUsername:   getEnv("DISCORD_USERNAME", "TaskPilot"),
			DiscordBotToken:   getEnv("DISCORD_BOT_TOKEN", ""),
			DiscordChannelID:  getEnv("DISCORD_CHANNEL_ID", ""),
		},
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "json"),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535")
	}

	switch c.Store.Driver {
	case "sqlite":
		// Empty SQLitePath falls back to the default data directory
	case "postgres":
		if c.Store.Postgres.ConnectionString == "" && c.Store.Postgres.Host == "" {
			return fmt.Errorf("postgres store requires DATABASE_URL or DB_HOST")
		}
		if c.Store.Postgres.ConnectionString == "" {
			if c.Store.Postgres.User == "" {
				return fmt.Errorf("database user is required")
			}
			if c.Store.Postgres.Database == "" {
				return fmt.Errorf("database name is required")
			}
		}
	default:
		return fmt.Errorf("unknown store driver: %s", c.Store.Driver)
	}

	if c.IsProduction() && !c.Auth.Enabled() {
		return fmt.Errorf("authentication is required in production: set AUTH_JWT_SECRET or AUTH_API_TOKEN")
	}

	if c.Routing.ConfidenceDivisor <= 0 {
		return fmt.Errorf("routing confidence divisor must be positive")
	}
	if c.Fallback.Cooldown <= 0 {
		return fmt.Errorf("fallback cooldown must be positive")
	}
	if c.Dispatch.AttemptTimeout <= 0 {
		return fmt.Errorf("dispatch attempt timeout must be positive")
	}
	if c.Dispatch.DailyBudgetUSD < 0 {
		return fmt.Errorf("daily budget cannot be negative")
	}
	if c.Reporter.Enabled && c.Reporter.PollInterval <= 0 {
		return fmt.Errorf("reporter poll interval must be positive")
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars
func loadDatabaseConfig() DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	return DatabaseConfig{
		Host:            getEnv("DB_HOST", ""),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", ""),
		Password:        getEnv("DB_PASSWORD", ""),
		Database:        getEnv("DB_NAME", ""),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
