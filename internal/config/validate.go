package config

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/haasonsaas/elisa/internal/maintenance"
)

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Issues, "; ")
}

// Validate checks a configuration with defaults applied.
func Validate(cfg *Config) error {
	var issues []string
	add := func(format string, args ...any) {
		issues = append(issues, fmt.Sprintf(format, args...))
	}

	if err := ValidateVersion(cfg.Version); err != nil {
		return err
	}

	if !strings.HasPrefix(cfg.Server.MetricsPath, "/") {
		add("server.metrics_path must start with /")
	}
	if !strings.HasPrefix(cfg.Server.WebSocketPath, "/") {
		add("server.websocket_path must start with /")
	}

	switch cfg.Database.Driver {
	case "memory":
	case "postgres", "sqlite":
		if strings.TrimSpace(cfg.Database.DSN) == "" {
			add("database.dsn is required for driver %s", cfg.Database.Driver)
		}
	default:
		add("database.driver must be memory, postgres or sqlite")
	}
	if cfg.Database.MaxOpenConns < 0 || cfg.Database.MaxIdleConns < 0 {
		add("database pool sizes must not be negative")
	}

	switch cfg.LLM.Provider {
	case "openai", "anthropic":
	default:
		add("llm.provider must be openai or anthropic")
	}
	if cfg.LLM.MaxTokens < 0 || cfg.LLM.MaxRetries < 0 {
		add("llm.max_tokens and llm.max_retries must not be negative")
	}

	if cfg.Assistant.MaxToolRounds < 1 || cfg.Assistant.MaxToolRounds > 10 {
		add("assistant.max_tool_rounds must be between 1 and 10")
	}
	if cfg.Assistant.ModelTimeout < 0 || cfg.Assistant.ToolTimeout < 0 {
		add("assistant timeouts must not be negative")
	}
	if cfg.Assistant.RateLimit.PerMinute < 0 || cfg.Assistant.RateLimit.Burst < 0 {
		add("assistant.rate_limit values must not be negative")
	}

	c := cfg.Context
	for name, v := range map[string]int{
		"context.max_context_messages":       c.MaxContextMessages,
		"context.max_text_per_message":       c.MaxTextPerMessage,
		"context.max_thread_context_chars":   c.MaxThreadContextChars,
		"context.max_group_context_messages": c.MaxGroupContextMessages,
		"context.max_group_context_chars":    c.MaxGroupContextChars,
	} {
		if v < 1 {
			add("%s must be positive", name)
		}
	}

	if cfg.Memory.SummaryEvery < 1 {
		add("memory.summary_every must be positive")
	}
	if err := maintenance.ValidateSchedule(cfg.Memory.MaintenanceSchedule); err != nil {
		add("memory.maintenance_schedule: %v", err)
	}
	if cfg.State.ConfirmationTTL <= 0 || cfg.State.FollowUpTTL <= 0 || cfg.State.ProactiveCooldown < 0 {
		add("state TTLs must be positive")
	}
	if err := maintenance.ValidateSchedule(cfg.State.SweepSchedule); err != nil {
		add("state.sweep_schedule: %v", err)
	}

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level must be debug, info, warn or error")
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		add("logging.format must be json or text")
	}
	for _, p := range cfg.Logging.RedactPatterns {
		if _, err := regexp.Compile(p); err != nil {
			add("logging.redact_patterns: %v", err)
		}
	}
	if r := cfg.Observability.Tracing.SamplingRate; r < 0 || r > 1 {
		add("observability.tracing.sampling_rate must be between 0 and 1")
	}

	if len(issues) > 0 {
		sort.Strings(issues)
		return &ValidationError{Issues: issues}
	}
	return nil
}
