// Package maintenance runs the periodic housekeeping of the assistant:
// sweeping expired conversation slots and folding group messages into
// their rolling summaries.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/elisa/internal/observability"
)

// Task is one unit of housekeeping. It returns how many items it touched.
type Task func(ctx context.Context) (int, error)

// Job is a named task on a schedule.
type Job struct {
	Name     string
	Schedule string
	Task     Task

	sched cron.Schedule

	NextRun   time.Time
	LastRun   time.Time
	LastCount int
	LastError string
}

// Scheduler runs jobs when they are due. A job never overlaps itself.
type Scheduler struct {
	logger       *slog.Logger
	metrics      *observability.Metrics
	now          func() time.Time
	tickInterval time.Duration
	jobTimeout   time.Duration

	mu      sync.Mutex
	jobs    []*Job
	running map[string]bool
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records each run.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Scheduler) { s.metrics = metrics }
}

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTickInterval overrides how often due jobs are checked.
func WithTickInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.tickInterval = interval
		}
	}
}

// WithJobTimeout bounds a single run.
func WithJobTimeout(timeout time.Duration) Option {
	return func(s *Scheduler) {
		if timeout > 0 {
			s.jobTimeout = timeout
		}
	}
}

// NewScheduler validates jobs and computes their first run.
func NewScheduler(jobs []Job, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		logger:       slog.Default(),
		now:          time.Now,
		tickInterval: time.Second,
		jobTimeout:   5 * time.Minute,
		running:      make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "maintenance")

	now := s.now()
	seen := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		name := strings.TrimSpace(j.Name)
		if name == "" {
			return nil, errors.New("maintenance: job name is required")
		}
		if seen[name] {
			return nil, fmt.Errorf("maintenance: duplicate job %q", name)
		}
		seen[name] = true
		if j.Task == nil {
			return nil, fmt.Errorf("maintenance: job %q has no task", name)
		}
		sched, err := ParseSchedule(j.Schedule)
		if err != nil {
			return nil, fmt.Errorf("maintenance: job %q: %w", name, err)
		}
		job := j
		job.Name = name
		job.sched = sched
		job.NextRun = sched.Next(now)
		s.jobs = append(s.jobs, &job)
	}
	return s, nil
}

// Start runs due jobs in the background until Stop or ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.Info("maintenance scheduler started", "jobs", len(s.jobs))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runDue(ctx)
			}
		}
	}()
	return nil
}

// Stop cancels the loop and waits for running jobs, up to ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce runs every due job synchronously and returns how many ran.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	if s == nil {
		return 0
	}
	return s.runDue(ctx)
}

// RunJob runs a job immediately, regardless of its schedule.
func (s *Scheduler) RunJob(ctx context.Context, name string) (int, error) {
	job := s.find(name)
	if job == nil {
		return 0, fmt.Errorf("maintenance: job %q not found", name)
	}
	return s.run(ctx, job)
}

// Jobs returns a snapshot of the jobs.
func (s *Scheduler) Jobs() []Job {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	return out
}

func (s *Scheduler) find(name string) *Job {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.Name == name {
			return j
		}
	}
	return nil
}

func (s *Scheduler) runDue(ctx context.Context) int {
	now := s.now()
	s.mu.Lock()
	var due []*Job
	for _, j := range s.jobs {
		if !now.Before(j.NextRun) {
			due = append(due, j)
		}
	}
	s.mu.Unlock()

	ran := 0
	for _, j := range due {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.run(ctx, j); errors.Is(err, errBusy) {
			continue
		}
		ran++
	}
	return ran
}

var errBusy = errors.New("maintenance: job already running")

func (s *Scheduler) run(ctx context.Context, job *Job) (int, error) {
	s.mu.Lock()
	if s.running[job.Name] {
		s.mu.Unlock()
		return 0, errBusy
	}
	s.running[job.Name] = true
	start := s.now()
	job.LastRun = start
	job.NextRun = job.sched.Next(start)
	s.mu.Unlock()

	runCtx, cancel := context.WithTimeout(ctx, s.jobTimeout)
	count, err := job.Task(runCtx)
	cancel()

	status := "success"
	if err != nil {
		status = "error"
		s.logger.Warn("maintenance job failed", "job", job.Name, "error", err)
	} else if count > 0 {
		s.logger.Info("maintenance job finished", "job", job.Name, "count", count)
	}
	s.metrics.RecordMaintenance(job.Name, status)

	s.mu.Lock()
	delete(s.running, job.Name)
	job.LastCount = count
	if err != nil {
		job.LastError = err.Error()
	} else {
		job.LastError = ""
	}
	s.mu.Unlock()
	return count, err
}
