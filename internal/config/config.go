// Package config loads the assistant configuration from YAML or JSON5
// files. Files may include other files with $include and reference
// environment variables as ${NAME}.
package config

import (
	"time"

	"github.com/haasonsaas/elisa/internal/ratelimit"
)

// Config is the root configuration.
type Config struct {
	Version       int                 `yaml:"version" jsonschema:"description=Configuration format version"`
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	LLM           LLMConfig           `yaml:"llm"`
	Assistant     AssistantConfig     `yaml:"assistant"`
	Context       ContextConfig       `yaml:"context"`
	Memory        MemoryConfig        `yaml:"memory"`
	State         StateConfig         `yaml:"state"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	MetricsPath     string        `yaml:"metrics_path"`
	WebSocketPath   string        `yaml:"websocket_path"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig selects the storage backend.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver" jsonschema:"enum=memory,enum=postgres,enum=sqlite"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// LLMConfig configures the language model provider.
type LLMConfig struct {
	Provider   string        `yaml:"provider" jsonschema:"enum=openai,enum=anthropic"`
	Model      string        `yaml:"model"`
	APIKey     string        `yaml:"api_key"`
	BaseURL    string        `yaml:"base_url"`
	MaxTokens  int           `yaml:"max_tokens"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// AssistantConfig shapes the conversation behaviour.
type AssistantConfig struct {
	Name          string        `yaml:"name"`
	MaxToolRounds int           `yaml:"max_tool_rounds"`
	ModelTimeout  time.Duration `yaml:"model_timeout"`
	ToolTimeout   time.Duration `yaml:"tool_timeout"`
	// RequireApproval lists extra tools that need a confirmation.
	RequireApproval []string      `yaml:"require_approval"`
	DedupeTTL       time.Duration `yaml:"dedupe_ttl"`
	DedupeSize      int           `yaml:"dedupe_size"`
	Phrases         PhrasesConfig `yaml:"phrases"`
	// RateLimit throttles inbound messages per user.
	RateLimit ratelimit.Config `yaml:"rate_limit"`
}

// PhrasesConfig overrides the matching word lists. Empty lists keep the
// built-in ones.
type PhrasesConfig struct {
	Yes       []string `yaml:"yes"`
	No        []string `yaml:"no"`
	Greetings []string `yaml:"greetings"`
	Mentions  []string `yaml:"mentions"`
	Intents   []string `yaml:"intents"`
}

// ContextConfig bounds what is sent to the model.
type ContextConfig struct {
	MaxContextMessages      int `yaml:"max_context_messages"`
	MaxTextPerMessage       int `yaml:"max_text_per_message"`
	MaxThreadContextChars   int `yaml:"max_thread_context_chars"`
	MaxGroupContextMessages int `yaml:"max_group_context_messages"`
	MaxGroupContextChars    int `yaml:"max_group_context_chars"`
}

// MemoryConfig configures group summaries and private threads.
type MemoryConfig struct {
	SummaryEvery        int    `yaml:"summary_every"`
	MaxSummaryChars     int    `yaml:"max_summary_chars"`
	Window              int    `yaml:"window"`
	LLMSummaries        bool   `yaml:"llm_summaries"`
	MaintenanceSchedule string `yaml:"maintenance_schedule"`
	ThreadMaxPerUser    int    `yaml:"thread_max_per_user"`
}

// StateConfig configures confirmation, follow-up and cooldown slots.
type StateConfig struct {
	ConfirmationTTL   time.Duration `yaml:"confirmation_ttl"`
	FollowUpTTL       time.Duration `yaml:"follow_up_ttl"`
	ProactiveCooldown time.Duration `yaml:"proactive_cooldown"`
	SweepSchedule     string        `yaml:"sweep_schedule"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level          string   `yaml:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	Format         string   `yaml:"format" jsonschema:"enum=json,enum=text"`
	AddSource      bool     `yaml:"add_source"`
	RedactPatterns []string `yaml:"redact_patterns"`
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	MetricsEnabled bool          `yaml:"metrics_enabled"`
	Tracing        TracingConfig `yaml:"tracing"`
}

// TracingConfig configures OTLP export. An empty endpoint disables it.
type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
	Environment  string  `yaml:"environment"`
}
