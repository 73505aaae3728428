package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/haasonsaas/elisa/internal/locks"
	"github.com/haasonsaas/elisa/internal/observability"
	"github.com/haasonsaas/elisa/pkg/models"
)

// Config controls summary regeneration.
type Config struct {
	// SummaryEvery is the number of new messages that triggers regeneration.
	SummaryEvery int `json:"summary_every" yaml:"summary_every"`
	// MaxSummaryChars bounds the stored summary.
	MaxSummaryChars int `json:"max_summary_chars" yaml:"max_summary_chars"`
	// Window is the most raw messages read per regeneration.
	Window int `json:"window" yaml:"window"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{SummaryEvery: 25, MaxSummaryChars: 2000, Window: 30}
}

// HistoryFunc loads the most recent raw messages of a group, oldest first.
type HistoryFunc func(ctx context.Context, groupID int64, limit int) ([]models.Message, error)

// Manager counts group messages and regenerates the rolling summary.
type Manager struct {
	store      Store
	summarizer Summarizer
	history    HistoryFunc
	config     Config
	locks      *locks.KeyedMutex
	logger     *slog.Logger
	metrics    *observability.Metrics
	nowFunc    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics counts regenerations.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.nowFunc = now
		}
	}
}

// NewManager creates a manager. A nil summarizer uses FactSummarizer.
func NewManager(store Store, summarizer Summarizer, history HistoryFunc, cfg Config, opts ...Option) *Manager {
	d := DefaultConfig()
	if cfg.SummaryEvery <= 0 {
		cfg.SummaryEvery = d.SummaryEvery
	}
	if cfg.MaxSummaryChars <= 0 {
		cfg.MaxSummaryChars = d.MaxSummaryChars
	}
	if cfg.Window <= 0 {
		cfg.Window = d.Window
	}
	if summarizer == nil {
		summarizer = FactSummarizer{}
	}
	m := &Manager{
		store:      store,
		summarizer: summarizer,
		history:    history,
		config:     cfg,
		locks:      locks.NewKeyedMutex(),
		logger:     slog.Default(),
		nowFunc:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Record counts one new group message and regenerates the summary when the
// counter reaches the threshold. It reports whether a regeneration happened.
func (m *Manager) Record(ctx context.Context, groupID int64) (bool, error) {
	n, err := m.store.Increment(ctx, groupID)
	if err != nil {
		return false, err
	}
	if n < m.config.SummaryEvery {
		return false, nil
	}
	// A regeneration already running for the group keeps this caller off the
	// model call; the counter stays above the threshold for the next one.
	unlock, ok := m.locks.TryLock(strconv.FormatInt(groupID, 10))
	if !ok {
		m.logger.DebugContext(ctx, "summary regeneration already running", "group_id", groupID)
		return false, nil
	}
	defer unlock()
	return m.regenerateLocked(ctx, groupID, m.config.SummaryEvery)
}

// Maintain folds any pending messages into the summary regardless of the
// threshold. Groups with nothing pending are left alone.
func (m *Manager) Maintain(ctx context.Context, groupID int64) (bool, error) {
	return m.regenerate(ctx, groupID, 1)
}

// MaintainAll runs Maintain for every group with pending messages and
// returns how many summaries were regenerated. Failures are logged and
// do not stop the pass.
func (m *Manager) MaintainAll(ctx context.Context) (int, error) {
	ids, err := m.store.Pending(ctx)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		ok, err := m.Maintain(ctx, id)
		if err != nil {
			m.logger.WarnContext(ctx, "summary maintenance failed", "group_id", id, "error", err)
			continue
		}
		if ok {
			done++
		}
	}
	return done, nil
}

// Summary returns the current summary text of a group.
func (m *Manager) Summary(ctx context.Context, groupID int64) (string, error) {
	mem, err := m.store.Load(ctx, groupID)
	if err != nil {
		return "", err
	}
	return mem.SummaryText, nil
}

// Memory returns the full memory record of a group.
func (m *Manager) Memory(ctx context.Context, groupID int64) (GroupMemory, error) {
	return m.store.Load(ctx, groupID)
}

// regenerate waits for the group lock so concurrent triggers produce a
// single regeneration; the loser sees the lowered counter and skips.
func (m *Manager) regenerate(ctx context.Context, groupID int64, threshold int) (bool, error) {
	unlock := m.locks.Lock(strconv.FormatInt(groupID, 10))
	defer unlock()
	return m.regenerateLocked(ctx, groupID, threshold)
}

// regenerateLocked folds the counted messages into the summary. Messages
// counted while the summarizer runs stay pending for the next pass.
func (m *Manager) regenerateLocked(ctx context.Context, groupID int64, threshold int) (bool, error) {
	mem, err := m.store.Load(ctx, groupID)
	if err != nil {
		return false, err
	}
	if mem.MessagesSinceSummary < threshold {
		return false, nil
	}

	limit := min(max(mem.MessagesSinceSummary, 1), m.config.Window)
	var window []models.Message
	if m.history != nil {
		window, err = m.history(ctx, groupID, limit)
		if err != nil {
			return false, fmt.Errorf("load history for group %d: %w", groupID, err)
		}
	}

	text, err := m.summarizer.Summarize(ctx, mem.SummaryText, window, m.config.MaxSummaryChars)
	if err != nil {
		return false, fmt.Errorf("summarize group %d: %w", groupID, err)
	}
	if err := m.store.SaveSummary(ctx, groupID, text, mem.MessagesSinceSummary, m.nowFunc()); err != nil {
		return false, err
	}
	m.metrics.SummaryRegenerated()
	m.logger.DebugContext(ctx, "group summary regenerated",
		"group_id", groupID,
		"messages", mem.MessagesSinceSummary,
		"summary_chars", len([]rune(text)),
	)
	return true, nil
}
