// Package config provides configuration management for the research pipeline service.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "RESEARCH"

// Config holds all configuration for the research pipeline service.
type Config struct {
	// Server contains HTTP/gRPC server settings.
	Server ServerConfig `mapstructure:"server"`
	// Database contains PostgreSQL connection settings.
	Database DatabaseConfig `mapstructure:"database"`
	// Temporal contains Temporal workflow orchestration settings.
	Temporal TemporalConfig `mapstructure:"temporal"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// LLM contains completion service settings.
	LLM LLMConfig `mapstructure:"llm"`
	// Kafka contains work queue and lifecycle event settings.
	Kafka KafkaConfig `mapstructure:"kafka"`
	// Pipeline contains stage execution settings.
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	// Chat contains session chat settings.
	Chat ChatConfig `mapstructure:"chat"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// GRPCPort is the gRPC health server port (default: 9090).
	GRPCPort int `mapstructure:"grpc_port"`
	// MetricsPort is the metrics server port (default: 9091).
	MetricsPort int `mapstructure:"metrics_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response. Streaming
	// responses are exempt.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// StreamPollInterval is how often the progress stream re-reads a job.
	StreamPollInterval time.Duration `mapstructure:"stream_poll_interval"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is the path to migration files (relative or absolute).
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun enables automatic migration on startup (default: false).
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
}

// TemporalConfig holds Temporal workflow configuration.
type TemporalConfig struct {
	// HostPort is the Temporal server address.
	HostPort string `mapstructure:"host_port"`
	// Namespace is the Temporal namespace.
	Namespace string `mapstructure:"namespace"`
	// TaskQueue is the task queue for research pipeline workflows.
	TaskQueue string `mapstructure:"task_queue"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr, file path).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LLMConfig holds completion service configuration.
type LLMConfig struct {
	// Provider is the completion provider (anthropic, openai).
	Provider string `mapstructure:"provider"`
	// Timeout bounds one completion call. Expiry fails the stage.
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxRetries is the number of retries for transient provider errors.
	MaxRetries int `mapstructure:"max_retries"`
	// RetryDelay is the base delay between retries.
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	// Temperature is the sampling temperature.
	Temperature float64 `mapstructure:"temperature"`
	// MaxTokens caps the completion length.
	MaxTokens int `mapstructure:"max_tokens"`
	// WebSearch declares the web_search tool to analysis stages.
	WebSearch bool `mapstructure:"web_search"`
	// Anthropic contains Anthropic-specific settings.
	Anthropic ProviderConfig `mapstructure:"anthropic"`
	// OpenAI contains OpenAI-specific settings.
	OpenAI ProviderConfig `mapstructure:"openai"`
	// RateLimit throttles completion calls per worker process.
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// ProviderConfig holds settings for one completion provider.
type ProviderConfig struct {
	// APIKey is loaded only from RESEARCH_LLM_<PROVIDER>_API_KEY.
	APIKey  string `mapstructure:"-"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

// RateLimitConfig holds token bucket settings.
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

// KafkaConfig holds work queue and event stream settings.
type KafkaConfig struct {
	// Enabled selects Kafka for dispatch. When false the server hands work
	// items to the orchestrator in-process.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// DispatchTopic carries {session_id, job_id} work items.
	DispatchTopic string `mapstructure:"dispatch_topic"`
	// EventsTopic carries job lifecycle events. Empty disables event publishing.
	EventsTopic string `mapstructure:"events_topic"`
	// ConsumerGroup is the dispatch consumer group ID.
	ConsumerGroup string `mapstructure:"consumer_group"`
	// BatchSize is the maximum number of messages handled per delivery batch.
	BatchSize int `mapstructure:"batch_size"`
	// BatchTimeout is the maximum time to wait for a batch to fill.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// PipelineConfig holds stage execution settings.
type PipelineConfig struct {
	// GraphFile optionally points to a YAML stage graph. Empty uses the
	// built-in linear graph.
	GraphFile string `mapstructure:"graph_file"`
	// StageTimeout bounds one analysis stage activity.
	StageTimeout time.Duration `mapstructure:"stage_timeout"`
	// SynthesisTimeout bounds the synthesis activity.
	SynthesisTimeout time.Duration `mapstructure:"synthesis_timeout"`
	// StoreRetryAttempts bounds retries of a failed job store write.
	StoreRetryAttempts int `mapstructure:"store_retry_attempts"`
	// StoreRetryInitialBackoff is the first retry delay.
	StoreRetryInitialBackoff time.Duration `mapstructure:"store_retry_initial_backoff"`
	// StoreRetryMaxBackoff caps the retry delay.
	StoreRetryMaxBackoff time.Duration `mapstructure:"store_retry_max_backoff"`
	// DispatchConcurrency bounds how many work items of one batch are handled at once.
	DispatchConcurrency int `mapstructure:"dispatch_concurrency"`
}

// ChatConfig holds session chat settings.
type ChatConfig struct {
	// Enabled registers the chat endpoint.
	Enabled bool `mapstructure:"enabled"`
	// HistoryLimit is how many earlier messages are sent with each turn.
	HistoryLimit int `mapstructure:"history_limit"`
	// MaxMessageLength bounds one user message, in characters.
	MaxMessageLength int `mapstructure:"max_message_length"`
	// MaxTokens bounds one reply.
	MaxTokens int `mapstructure:"max_tokens"`
	// Timeout bounds one chat turn including the completion call.
	Timeout time.Duration `mapstructure:"timeout"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// GRPCAddress returns the gRPC server address.
func (c *ServerConfig) GRPCAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.GRPCPort)
}

// MetricsAddress returns the metrics server address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/research-pipeline-service")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
func loadSecrets(cfg *Config) {
	cfg.LLM.Anthropic.APIKey = os.Getenv(EnvPrefix + "_LLM_ANTHROPIC_API_KEY")
	cfg.LLM.OpenAI.APIKey = os.Getenv(EnvPrefix + "_LLM_OPENAI_API_KEY")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.stream_poll_interval", "2s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "research")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "research_pipeline")
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 25)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)

	// Temporal defaults
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "research-pipeline")
	v.SetDefault("temporal.task_queue", "research-pipeline-tasks")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// LLM defaults. API keys come from the environment only (see loadSecrets).
	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.timeout", "5m")
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.retry_delay", "2s")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 8192)
	v.SetDefault("llm.web_search", true)
	v.SetDefault("llm.anthropic.model", "claude-sonnet-4-5")
	v.SetDefault("llm.anthropic.base_url", "https://api.anthropic.com")
	v.SetDefault("llm.openai.model", "gpt-4o")
	v.SetDefault("llm.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.rate_limit.enabled", true)
	v.SetDefault("llm.rate_limit.rps", 2.0)
	v.SetDefault("llm.rate_limit.burst", 4)

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.dispatch_topic", "research.jobs.dispatch")
	v.SetDefault("kafka.events_topic", "research.jobs.events")
	v.SetDefault("kafka.consumer_group", "research-pipeline-worker")
	v.SetDefault("kafka.batch_size", 10)
	v.SetDefault("kafka.batch_timeout", "1s")

	// Pipeline defaults
	v.SetDefault("pipeline.graph_file", "")
	v.SetDefault("pipeline.stage_timeout", "10m")
	v.SetDefault("pipeline.synthesis_timeout", "10m")
	v.SetDefault("pipeline.store_retry_attempts", 3)
	v.SetDefault("pipeline.store_retry_initial_backoff", "200ms")
	v.SetDefault("pipeline.store_retry_max_backoff", "5s")
	v.SetDefault("pipeline.dispatch_concurrency", 4)

	// Chat defaults
	v.SetDefault("chat.enabled", true)
	v.SetDefault("chat.history_limit", 50)
	v.SetDefault("chat.max_message_length", 8000)
	v.SetDefault("chat.max_tokens", 2048)
	v.SetDefault("chat.timeout", "2m")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.GRPCPort <= 0 || c.Server.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.Server.GRPCPort)
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("LLM timeout must be positive")
	}
	if c.LLM.RateLimit.Enabled && (c.LLM.RateLimit.RPS <= 0 || c.LLM.RateLimit.Burst <= 0) {
		return fmt.Errorf("LLM rate limit requires positive rps and burst")
	}
	switch strings.ToLower(c.LLM.Provider) {
	case "anthropic":
		if c.LLM.Anthropic.APIKey == "" {
			return fmt.Errorf("LLM provider %q requires %s_LLM_ANTHROPIC_API_KEY to be set", c.LLM.Provider, EnvPrefix)
		}
	case "openai":
		if c.LLM.OpenAI.APIKey == "" {
			return fmt.Errorf("LLM provider %q requires %s_LLM_OPENAI_API_KEY to be set", c.LLM.Provider, EnvPrefix)
		}
	default:
		return fmt.Errorf("unsupported LLM provider: %q", c.LLM.Provider)
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers are required when kafka is enabled")
		}
		if c.Kafka.DispatchTopic == "" {
			return fmt.Errorf("kafka dispatch topic is required when kafka is enabled")
		}
		if c.Kafka.ConsumerGroup == "" {
			return fmt.Errorf("kafka consumer group is required when kafka is enabled")
		}
	}

	if c.Pipeline.StageTimeout <= 0 || c.Pipeline.SynthesisTimeout <= 0 {
		return fmt.Errorf("pipeline stage and synthesis timeouts must be positive")
	}
	if c.Pipeline.StoreRetryAttempts < 0 {
		return fmt.Errorf("pipeline store_retry_attempts must be >= 0")
	}
	if c.Pipeline.DispatchConcurrency <= 0 {
		return fmt.Errorf("pipeline dispatch_concurrency must be positive")
	}

	if c.Chat.Enabled {
		if c.Chat.HistoryLimit <= 0 || c.Chat.MaxMessageLength <= 0 || c.Chat.MaxTokens <= 0 {
			return fmt.Errorf("chat history_limit, max_message_length and max_tokens must be positive")
		}
		if c.Chat.Timeout <= 0 {
			return fmt.Errorf("chat timeout must be positive")
		}
	}

	return nil
}
