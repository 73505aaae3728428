package maintenance

import (
	"context"

	"github.com/haasonsaas/elisa/internal/observability"
	"github.com/haasonsaas/elisa/internal/state"
)

// Job names.
const (
	JobSweepSlots        = "sweep-slots"
	JobMaintainSummaries = "maintain-summaries"
)

// Default schedules.
const (
	DefaultSweepSchedule   = "@every 5m"
	DefaultSummarySchedule = "@every 1h"
)

// SweepTask removes expired confirmation, follow-up and cooldown slots.
func SweepTask(store state.Store, metrics *observability.Metrics) Task {
	return func(ctx context.Context) (int, error) {
		removed, err := store.Sweep(ctx)
		metrics.RecordSweep(removed)
		return removed, err
	}
}

// SummaryMaintainer regenerates summaries of groups with pending messages.
// *router.Router implements it.
type SummaryMaintainer interface {
	MaintainSummaries(ctx context.Context) (int, error)
}

// SummaryTask folds pending group messages into their summaries.
func SummaryTask(m SummaryMaintainer) Task {
	return m.MaintainSummaries
}

// DefaultJobs returns the sweep and summary jobs. An empty schedule uses
// the default one.
func DefaultJobs(store state.Store, summaries SummaryMaintainer, metrics *observability.Metrics, sweepSchedule, summarySchedule string) []Job {
	if sweepSchedule == "" {
		sweepSchedule = DefaultSweepSchedule
	}
	if summarySchedule == "" {
		summarySchedule = DefaultSummarySchedule
	}
	jobs := []Job{{Name: JobSweepSlots, Schedule: sweepSchedule, Task: SweepTask(store, metrics)}}
	if summaries != nil {
		jobs = append(jobs, Job{Name: JobMaintainSummaries, Schedule: summarySchedule, Task: SummaryTask(summaries)})
	}
	return jobs
}
