package cron

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/flemzord/memoir/internal/facade"
	"github.com/flemzord/memoir/internal/memory"
)

// Default schedules.
const (
	DefaultSummarySchedule    = "0 * * * *"
	DefaultRebuildSchedule    = "*/15 * * * *"
	DefaultCachePurgeSchedule = "*/5 * * * *"
)

// Summarizer is the subset of the facade used by SummaryJob.
type Summarizer interface {
	Tick(ctx context.Context) facade.TickReport
}

// Rebuilder is the subset of the facade used by IndexRebuildJob.
type Rebuilder interface {
	RebuildIndex(ctx context.Context) (memory.IngestStats, error)
}

// CachePurger is the subset of the facade used by CachePurgeJob.
type CachePurger interface {
	PurgeCache() int
}

// SummaryJob writes the hourly summary.
type SummaryJob struct {
	Memory       Summarizer
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "0 * * * *"
}

// Compile-time interface check.
var _ Job = (*SummaryJob)(nil)

// Name implements Job.
func (j *SummaryJob) Name() string { return "memory_summary" }

// Schedule implements Job.
func (j *SummaryJob) Schedule() string { return orDefault(j.ScheduleExpr, DefaultSummarySchedule) }

// Run writes one summary. Degraded stages are reported as the job error.
func (j *SummaryJob) Run(ctx context.Context) error {
	if ctx.Err() != nil {
		return fmt.Errorf("cron: summary cancelled: %w", ctx.Err())
	}
	rep := j.Memory.Tick(ctx)
	if len(rep.Failures) > 0 {
		return fmt.Errorf("cron: summary: %w", rep.Failures[0])
	}
	if rep.Path != "" {
		logger(j.Logger).Info("cron: summary written", "path", rep.Path, "sessions", rep.Sessions)
	}
	return nil
}

// IndexRebuildJob rebuilds the vector index from the memory corpus and the
// recent session logs.
type IndexRebuildJob struct {
	Memory       Rebuilder
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "*/15 * * * *"
}

// Compile-time interface check.
var _ Job = (*IndexRebuildJob)(nil)

// Name implements Job.
func (j *IndexRebuildJob) Name() string { return "index_rebuild" }

// Schedule implements Job.
func (j *IndexRebuildJob) Schedule() string { return orDefault(j.ScheduleExpr, DefaultRebuildSchedule) }

// Run rebuilds the index.
func (j *IndexRebuildJob) Run(ctx context.Context) error {
	if ctx.Err() != nil {
		return fmt.Errorf("cron: index rebuild cancelled: %w", ctx.Err())
	}
	start := time.Now()
	stats, err := j.Memory.RebuildIndex(ctx)
	if err != nil {
		return fmt.Errorf("cron: index rebuild: %w", err)
	}
	logger(j.Logger).Debug("cron: index rebuilt",
		"chunks", stats.Chunks,
		"files", stats.Files,
		"duration", time.Since(start),
	)
	return nil
}

// CachePurgeJob drops expired recall results.
type CachePurgeJob struct {
	Memory       CachePurger
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "*/5 * * * *"
}

// Compile-time interface check.
var _ Job = (*CachePurgeJob)(nil)

// Name implements Job.
func (j *CachePurgeJob) Name() string { return "recall_cache_purge" }

// Schedule implements Job.
func (j *CachePurgeJob) Schedule() string {
	return orDefault(j.ScheduleExpr, DefaultCachePurgeSchedule)
}

// Run purges the cache.
func (j *CachePurgeJob) Run(_ context.Context) error {
	if n := j.Memory.PurgeCache(); n > 0 {
		logger(j.Logger).Debug("cron: purged recall cache", "entries", n)
	}
	return nil
}

func orDefault(expr, def string) string {
	if expr != "" {
		return expr
	}
	return def
}

func logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
