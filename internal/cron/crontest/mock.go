// Package crontest provides test doubles for the cron package.
package crontest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flemzord/memoir/internal/cron"
	"github.com/flemzord/memoir/internal/facade"
	"github.com/flemzord/memoir/internal/memory"
)

// MockJob is a configurable test double for cron.Job.
type MockJob struct {
	NameVal     string
	ScheduleVal string
	RunFunc     func(ctx context.Context) error

	mu       sync.Mutex
	calls    int
	lastCall time.Time
}

// Compile-time interface check.
var _ cron.Job = (*MockJob)(nil)

// Name implements cron.Job.
func (m *MockJob) Name() string { return m.NameVal }

// Schedule implements cron.Job.
func (m *MockJob) Schedule() string { return m.ScheduleVal }

// Run implements cron.Job and increments the call counter.
func (m *MockJob) Run(ctx context.Context) error {
	m.mu.Lock()
	m.calls++
	m.lastCall = time.Now()
	m.mu.Unlock()

	if m.RunFunc != nil {
		return m.RunFunc(ctx)
	}
	return nil
}

// CallCount returns the number of times Run was called.
func (m *MockJob) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastCall returns the time of the last Run call.
func (m *MockJob) LastCall() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCall
}

// MockMemory is a test double for the facade subsets used by the jobs.
type MockMemory struct {
	TickFunc    func(ctx context.Context) facade.TickReport
	RebuildFunc func(ctx context.Context) (memory.IngestStats, error)
	Purged      int

	TickCalls    atomic.Int32
	RebuildCalls atomic.Int32
	PurgeCalls   atomic.Int32
}

var (
	_ cron.Summarizer  = (*MockMemory)(nil)
	_ cron.Rebuilder   = (*MockMemory)(nil)
	_ cron.CachePurger = (*MockMemory)(nil)
)

// Tick implements cron.Summarizer.
func (m *MockMemory) Tick(ctx context.Context) facade.TickReport {
	m.TickCalls.Add(1)
	if m.TickFunc != nil {
		return m.TickFunc(ctx)
	}
	return facade.TickReport{}
}

// RebuildIndex implements cron.Rebuilder.
func (m *MockMemory) RebuildIndex(ctx context.Context) (memory.IngestStats, error) {
	m.RebuildCalls.Add(1)
	if m.RebuildFunc != nil {
		return m.RebuildFunc(ctx)
	}
	return memory.IngestStats{}, nil
}

// PurgeCache implements cron.CachePurger.
func (m *MockMemory) PurgeCache() int {
	m.PurgeCalls.Add(1)
	return m.Purged
}
