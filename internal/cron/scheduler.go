package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// entry pairs a job with the lock that keeps its runs from overlapping.
type entry struct {
	job     Job
	running sync.Mutex
}

// Scheduler runs registered jobs on their cron schedules. A tick that finds
// the previous run of the same job still in progress is skipped.
type Scheduler struct {
	mu       sync.Mutex
	entries  []*entry
	byName   map[string]*entry
	cron     *cron.Cron
	cancel   context.CancelFunc
	observer Observer
	logger   *slog.Logger
}

// NewScheduler returns an empty scheduler. A nil logger uses slog.Default.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{byName: make(map[string]*entry), logger: logger}
}

// SetObserver installs a callback invoked after each run. Call it before
// Start.
func (s *Scheduler) SetObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = o
}

// RegisterJob adds j. Names must be unique.
func (s *Scheduler) RegisterJob(j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.byName[j.Name()]; dup {
		return fmt.Errorf("cron: duplicate job name %q", j.Name())
	}
	e := &entry{job: j}
	s.byName[j.Name()] = e
	s.entries = append(s.entries, e)
	return nil
}

// Start schedules every registered job. An invalid expression aborts Start
// before anything runs.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := cron.New(cron.WithParser(scheduleParser))
	ctx, cancel := context.WithCancel(context.Background())
	for _, e := range s.entries {
		if err := ValidateSchedule(e.job.Schedule()); err != nil {
			cancel()
			return fmt.Errorf("cron: job %q: %w", e.job.Name(), err)
		}
		if _, err := c.AddFunc(e.job.Schedule(), func() { s.tick(ctx, e) }); err != nil {
			cancel()
			return fmt.Errorf("cron: invalid schedule for job %q: %w", e.job.Name(), err)
		}
	}

	s.cron, s.cancel = c, cancel
	c.Start()
	s.logger.Info("cron: scheduler started", "jobs", len(s.entries))
	return nil
}

func (s *Scheduler) tick(ctx context.Context, e *entry) {
	if !e.running.TryLock() {
		s.logger.Warn("cron: job still running, skipping tick", "job", e.job.Name())
		return
	}
	defer e.running.Unlock()
	_ = s.run(ctx, e.job)
}

// RunNow runs the named job immediately under the same no-overlap rule as
// scheduled ticks. ran is false when the job is unknown or already running.
func (s *Scheduler) RunNow(ctx context.Context, name string) (ran bool, err error) {
	s.mu.Lock()
	e := s.byName[name]
	s.mu.Unlock()

	if e == nil || !e.running.TryLock() {
		return false, nil
	}
	defer e.running.Unlock()
	return true, s.run(ctx, e.job)
}

// Jobs returns the registered job names in registration order.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.entries))
	for i, e := range s.entries {
		names[i] = e.job.Name()
	}
	return names
}

func (s *Scheduler) run(ctx context.Context, job Job) error {
	logger := s.logger.With("job", job.Name())
	logger.Debug("cron: job started")
	err := job.Run(ctx)
	if err != nil {
		logger.Error("cron: job failed", "error", err)
	} else {
		logger.Debug("cron: job completed")
	}
	// Stop holds s.mu while it waits for running jobs.
	if s.observer != nil {
		s.observer(job.Name(), err)
	}
	return err
}

// Stop cancels job contexts and waits for in-flight runs.
func (s *Scheduler) Stop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if s.cron != nil {
		<-s.cron.Stop().Done()
		s.cron = nil
		s.logger.Info("cron: scheduler stopped")
	}
	return nil
}
