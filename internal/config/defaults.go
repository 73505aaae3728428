package config

import "time"

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}

	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.MetricsPath == "" {
		cfg.Server.MetricsPath = "/metrics"
	}
	if cfg.Server.WebSocketPath == "" {
		cfg.Server.WebSocketPath = "/ws"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "memory"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "openai"
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 1024
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 2
	}
	if cfg.LLM.RetryDelay == 0 {
		cfg.LLM.RetryDelay = time.Second
	}

	if cfg.Assistant.Name == "" {
		cfg.Assistant.Name = "ELISA"
	}
	if cfg.Assistant.MaxToolRounds == 0 {
		cfg.Assistant.MaxToolRounds = 4
	}
	if cfg.Assistant.ModelTimeout == 0 {
		cfg.Assistant.ModelTimeout = 45 * time.Second
	}
	if cfg.Assistant.ToolTimeout == 0 {
		cfg.Assistant.ToolTimeout = 15 * time.Second
	}
	if cfg.Assistant.DedupeTTL == 0 {
		cfg.Assistant.DedupeTTL = 10 * time.Minute
	}
	if cfg.Assistant.DedupeSize == 0 {
		cfg.Assistant.DedupeSize = 10000
	}
	if cfg.Assistant.RateLimit.PerMinute == 0 {
		cfg.Assistant.RateLimit.PerMinute = 30
	}
	if cfg.Assistant.RateLimit.Burst == 0 {
		cfg.Assistant.RateLimit.Burst = 10
	}

	if cfg.Context.MaxContextMessages == 0 {
		cfg.Context.MaxContextMessages = 20
	}
	if cfg.Context.MaxTextPerMessage == 0 {
		cfg.Context.MaxTextPerMessage = 600
	}
	if cfg.Context.MaxThreadContextChars == 0 {
		cfg.Context.MaxThreadContextChars = 6000
	}
	if cfg.Context.MaxGroupContextMessages == 0 {
		cfg.Context.MaxGroupContextMessages = 30
	}
	if cfg.Context.MaxGroupContextChars == 0 {
		cfg.Context.MaxGroupContextChars = 8000
	}

	if cfg.Memory.SummaryEvery == 0 {
		cfg.Memory.SummaryEvery = 25
	}
	if cfg.Memory.MaxSummaryChars == 0 {
		cfg.Memory.MaxSummaryChars = 2000
	}
	if cfg.Memory.Window == 0 {
		cfg.Memory.Window = 30
	}
	if cfg.Memory.MaintenanceSchedule == "" {
		cfg.Memory.MaintenanceSchedule = "@every 1h"
	}
	if cfg.Memory.ThreadMaxPerUser == 0 {
		cfg.Memory.ThreadMaxPerUser = 200
	}

	if cfg.State.ConfirmationTTL == 0 {
		cfg.State.ConfirmationTTL = 5 * time.Minute
	}
	if cfg.State.FollowUpTTL == 0 {
		cfg.State.FollowUpTTL = 10 * time.Minute
	}
	if cfg.State.ProactiveCooldown == 0 {
		cfg.State.ProactiveCooldown = 30 * time.Minute
	}
	if cfg.State.SweepSchedule == "" {
		cfg.State.SweepSchedule = "@every 5m"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Observability.Tracing.SamplingRate == 0 {
		cfg.Observability.Tracing.SamplingRate = 1
	}
}
