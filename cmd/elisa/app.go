package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/haasonsaas/elisa/internal/agent"
	agentctx "github.com/haasonsaas/elisa/internal/agent/context"
	"github.com/haasonsaas/elisa/internal/agent/providers"
	"github.com/haasonsaas/elisa/internal/broadcast"
	"github.com/haasonsaas/elisa/internal/config"
	"github.com/haasonsaas/elisa/internal/domain"
	"github.com/haasonsaas/elisa/internal/maintenance"
	"github.com/haasonsaas/elisa/internal/memory"
	"github.com/haasonsaas/elisa/internal/observability"
	"github.com/haasonsaas/elisa/internal/ratelimit"
	"github.com/haasonsaas/elisa/internal/router"
	"github.com/haasonsaas/elisa/internal/state"
	"github.com/haasonsaas/elisa/internal/storage"
	"github.com/haasonsaas/elisa/internal/threads"
	"github.com/haasonsaas/elisa/internal/tools"
)

// app is the wired engine shared by serve and chat.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	metrics   *observability.Metrics
	registry  *prometheus.Registry
	db        *storage.DB
	service   *domain.MemoryService
	store     state.Store
	router    *router.Router
	gateway   *broadcast.Gateway
	hub       *broadcast.Hub
	scheduler *maintenance.Scheduler
	limiter   *ratelimit.Limiter
	closers   []func(context.Context) error
}

// appOptions override parts of the wiring in tests.
type appOptions struct {
	provider agent.LLMProvider
}

func newLogger(cfg config.LoggingConfig, debug bool) *slog.Logger {
	level := cfg.Level
	if debug {
		level = "debug"
	}
	return observability.NewLogger(observability.LogConfig{
		Level:          level,
		Format:         cfg.Format,
		Output:         os.Stderr,
		AddSource:      cfg.AddSource,
		RedactPatterns: cfg.RedactPatterns,
	}).Slog()
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts appOptions) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	if cfg.Observability.MetricsEnabled {
		a.registry = prometheus.NewRegistry()
		a.metrics = observability.NewMetrics(a.registry)
	}
	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "elisa",
		ServiceVersion: version,
		Environment:    cfg.Observability.Tracing.Environment,
		Endpoint:       cfg.Observability.Tracing.Endpoint,
		SamplingRate:   cfg.Observability.Tracing.SamplingRate,
		Insecure:       cfg.Observability.Tracing.Insecure,
	})
	a.closers = append(a.closers, shutdown)

	var (
		memStore    memory.Store
		threadStore threads.Store
	)
	if cfg.Database.Driver == "memory" {
		a.store = state.NewMemoryStore()
		memStore = memory.NewMemoryStore()
		threadStore = threads.NewMemoryStore(cfg.Memory.ThreadMaxPerUser)
	} else {
		db, err := openDB(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		a.db = db
		a.closers = append(a.closers, func(context.Context) error { return db.Close() })
		if err := storage.Migrate(ctx, db); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		a.store = state.NewSQLStore(db)
		memStore = memory.NewSQLStore(db)
		threadStore = threads.NewSQLStore(db)
	}

	provider := opts.provider
	if provider == nil {
		provider, err = newProvider(cfg.LLM)
		if err != nil {
			return nil, err
		}
	}

	a.service = domain.NewMemoryService()
	uc := a.service.UseCases()

	a.hub = broadcast.NewHub(nil, logger)
	a.closers = append(a.closers, func(context.Context) error { a.hub.Close(); return nil })
	a.gateway = broadcast.NewGateway(a.hub, broadcast.WithLogger(logger), broadcast.WithMetrics(a.metrics))

	registry := tools.NewRegistry(
		tools.WithTimeout(cfg.Assistant.ToolTimeout),
		tools.WithLogger(logger),
		tools.WithMetrics(a.metrics),
		tools.WithTracer(tracer),
		tools.WithActionSink(a.gateway),
	)
	if err := tools.RegisterDefaults(registry, uc); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}

	slots := state.NewSlots(a.store, state.SlotConfig{
		ConfirmationTTL:   cfg.State.ConfirmationTTL,
		FollowUpTTL:       cfg.State.FollowUpTTL,
		ProactiveCooldown: cfg.State.ProactiveCooldown,
	}, time.Now)

	loop := agent.NewLoop(provider, registry, slots, agent.LoopConfig{
		Model:         cfg.LLM.Model,
		AssistantName: cfg.Assistant.Name,
		MaxToolRounds: cfg.Assistant.MaxToolRounds,
		ModelTimeout:  cfg.Assistant.ModelTimeout,
		MaxTokens:     cfg.LLM.MaxTokens,
	},
		agent.WithLogger(logger),
		agent.WithMetrics(a.metrics),
		agent.WithTracer(tracer),
		agent.WithRequireApproval(cfg.Assistant.RequireApproval),
	)

	var summarizer memory.Summarizer
	if cfg.Memory.LLMSummaries {
		summarizer = memory.NewLLMSummarizer(agent.TextCompleter{
			Provider:  provider,
			Model:     cfg.LLM.Model,
			MaxTokens: cfg.LLM.MaxTokens,
			Timeout:   cfg.Assistant.ModelTimeout,
		}, logger)
	}
	manager := memory.NewManager(memStore, summarizer, router.GroupHistory(uc.History), memory.Config{
		SummaryEvery:    cfg.Memory.SummaryEvery,
		MaxSummaryChars: cfg.Memory.MaxSummaryChars,
		Window:          cfg.Memory.Window,
	}, memory.WithLogger(logger), memory.WithMetrics(a.metrics))

	a.router, err = router.New(router.Deps{
		Agent:     loop,
		Slots:     slots,
		Assembler: agentctx.NewAssembler(contextLimits(cfg.Context)),
		Threads:   threadStore,
		Memory:    manager,
		UseCases:  uc,
		Announcer: a.gateway,
	}, router.Config{
		AssistantName: cfg.Assistant.Name,
		Phrases:       phrasesFromConfig(cfg.Assistant.Phrases),
		DedupeTTL:     cfg.Assistant.DedupeTTL,
		DedupeSize:    cfg.Assistant.DedupeSize,
	}, router.WithLogger(logger), router.WithMetrics(a.metrics), router.WithTracer(tracer))
	if err != nil {
		return nil, err
	}
	a.limiter = ratelimit.NewLimiter(cfg.Assistant.RateLimit)
	a.hub.SetHandler(a.handleInbound)

	a.scheduler, err = maintenance.NewScheduler(
		maintenance.DefaultJobs(a.store, a.router, a.metrics, cfg.State.SweepSchedule, cfg.Memory.MaintenanceSchedule),
		maintenance.WithLogger(logger),
		maintenance.WithMetrics(a.metrics),
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("shutdown step failed", "error", err)
		}
	}
	a.closers = nil
}

// handleInbound stores group messages in the group chat before routing
// them, so that the history the assistant reads includes them.
func (a *app) handleInbound(ctx context.Context, in broadcast.Inbound) (any, error) {
	if in.UserID != "" {
		if err := a.limiter.Allow(in.UserID); err != nil {
			a.logger.WarnContext(ctx, "message rate limited", "user_id", in.UserID, "group_id", in.GroupID)
			return nil, err
		}
	}
	if in.GroupID <= 0 {
		return a.router.ProcessMessage(ctx, in.UserID, in.Text, router.Options{
			MessageID:  in.ID,
			AuthorName: in.AuthorName,
		})
	}
	stored, err := a.service.SendGroupMessage(ctx, in.UserID, in.GroupID, in.Text)
	if err != nil {
		return nil, err
	}
	id := in.ID
	if id == "" {
		id = strconv.FormatInt(stored.ID, 10)
	}
	return a.router.HandleGroupMessage(ctx, router.Message{
		ID:         id,
		UserID:     in.UserID,
		GroupID:    in.GroupID,
		AuthorName: in.AuthorName,
		Text:       in.Text,
	})
}

func openDB(ctx context.Context, cfg config.DatabaseConfig) (*storage.DB, error) {
	return storage.Open(ctx, storage.Config{
		Driver:          cfg.Driver,
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
}

var errMissingAPIKey = errors.New("llm.api_key is required")

func newProvider(cfg config.LLMConfig) (agent.LLMProvider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "anthropic":
		key := firstNonEmpty(cfg.APIKey, os.Getenv("ANTHROPIC_API_KEY"))
		if key == "" {
			return nil, errMissingAPIKey
		}
		p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       key,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
			MaxRetries:   cfg.MaxRetries,
			RetryDelay:   cfg.RetryDelay,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	case "openai":
		key := firstNonEmpty(cfg.APIKey, os.Getenv("OPENAI_API_KEY"))
		if key == "" {
			return nil, errMissingAPIKey
		}
		p, err := providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:       key,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
			MaxRetries:   cfg.MaxRetries,
			RetryDelay:   cfg.RetryDelay,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func contextLimits(cfg config.ContextConfig) agentctx.Limits {
	return agentctx.Limits{
		MaxContextMessages:      cfg.MaxContextMessages,
		MaxTextPerMessage:       cfg.MaxTextPerMessage,
		MaxThreadContextChars:   cfg.MaxThreadContextChars,
		MaxGroupContextMessages: cfg.MaxGroupContextMessages,
		MaxGroupContextChars:    cfg.MaxGroupContextChars,
	}
}

func phrasesFromConfig(cfg config.PhrasesConfig) router.Phrases {
	return router.Phrases{
		Yes:       cfg.Yes,
		No:        cfg.No,
		Greetings: cfg.Greetings,
		Mentions:  cfg.Mentions,
		Intents:   cfg.Intents,
	}
}
