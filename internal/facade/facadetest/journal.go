// Package facadetest provides test doubles for the facade package.
package facadetest

import (
	"context"
	"slices"
	"sync"

	"github.com/flemzord/memoir/internal/facade"
)

// Journal is an in-memory facade.Journal.
type Journal struct {
	mu         sync.Mutex
	injections []facade.Injection
	runs       []facade.SummaryRun
	err        error
}

var _ facade.Journal = (*Journal)(nil)

// NewJournal returns an empty journal.
func NewJournal() *Journal { return &Journal{} }

// FailWith makes every write return err. Nil restores normal behavior.
func (j *Journal) FailWith(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.err = err
}

// RecordInjection implements facade.Journal.
func (j *Journal) RecordInjection(_ context.Context, in facade.Injection) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	j.injections = append(j.injections, in)
	return nil
}

// RecordSummaryRun implements facade.Journal.
func (j *Journal) RecordSummaryRun(_ context.Context, run facade.SummaryRun) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	j.runs = append(j.runs, run)
	return nil
}

// Injections implements facade.Journal, newest first.
func (j *Journal) Injections(_ context.Context, limit int) ([]facade.Injection, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := slices.Clone(j.injections)
	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Runs returns the recorded summary runs in order.
func (j *Journal) Runs() []facade.SummaryRun {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Clone(j.runs)
}
