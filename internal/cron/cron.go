// Package cron runs the periodic memory jobs: the hourly summary, index
// rebuilds and recall cache purges.
package cron

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
)

// Job defines a periodic background task.
type Job interface {
	// Name returns a unique identifier for this job (used for logging and dedup).
	Name() string

	// Schedule returns a 5-field cron expression (e.g., "*/5 * * * *").
	Schedule() string

	// Run executes the job. Implementations should check ctx.Done() for
	// graceful cancellation.
	Run(ctx context.Context) error
}

// Observer is notified after every job run.
type Observer func(job string, err error)

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateSchedule reports whether expr is a valid 5-field cron expression.
func ValidateSchedule(expr string) (err error) {
	// The parser panics on a time zone prefix without a following space.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cron: invalid schedule %q: %v", expr, r)
		}
	}()
	if _, err := scheduleParser.Parse(expr); err != nil {
		return fmt.Errorf("cron: invalid schedule %q: %w", expr, err)
	}
	return nil
}
