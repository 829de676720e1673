package gateway

import (
	"context"
	"sync"

	"github.com/flemzord/memoir/internal/compaction"
	ctxengine "github.com/flemzord/memoir/internal/context"
	"github.com/flemzord/memoir/internal/facade"
	"github.com/flemzord/memoir/internal/memory"
	"github.com/flemzord/memoir/internal/recall"
)

// fakeMemory is a scripted Memory.
type fakeMemory struct {
	mu         sync.Mutex
	messages   []string
	health     facade.HealthReport
	stats      facade.Stats
	preTurn    facade.PreTurnReport
	recall     recall.Result
	recallErr  error
	tick       facade.TickReport
	rebuild    memory.IngestStats
	rebuildErr error
	injections []facade.Injection
	limits     []int
}

func newFakeMemory() *fakeMemory {
	return &fakeMemory{
		health: facade.HealthReport{Healthy: true, Checks: []facade.Check{{Name: "memory_dir", OK: true}}},
		stats:  facade.Stats{IndexChunks: 3, MaxRecallTokens: 300},
	}
}

// injecting scripts a pre-turn that injected after a compaction.
func (m *fakeMemory) injecting() *fakeMemory {
	m.preTurn = facade.PreTurnReport{
		Text: "## RECENT\nhello",
		Compaction: compaction.Result{
			Compacted:   true,
			Reason:      compaction.ReasonMessageDrop,
			Observation: compaction.Observation{SessionID: "s1", MessageCount: 4, Found: true},
		},
		Assembly: &ctxengine.Assembly{Text: "## RECENT\nhello", Tokens: 4},
	}
	return m
}

func (m *fakeMemory) PreTurnReport(_ context.Context, message string) facade.PreTurnReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, message)
	return m.preTurn
}

func (m *fakeMemory) Recall(_ context.Context, message string) (recall.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, message)
	return m.recall, m.recallErr
}

func (m *fakeMemory) Tick(context.Context) facade.TickReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tick
}

func (m *fakeMemory) RebuildIndex(context.Context) (memory.IngestStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rebuild, m.rebuildErr
}

func (m *fakeMemory) Health(context.Context) facade.HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.health
}

func (m *fakeMemory) Stats(context.Context) facade.Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *fakeMemory) Injections(_ context.Context, limit int) ([]facade.Injection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits = append(m.limits, limit)
	return m.injections, nil
}

// set mutates the script while a server may be reading it.
func (m *fakeMemory) set(fn func(*fakeMemory)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m)
}

func (m *fakeMemory) lastLimit() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.limits) == 0 {
		return -1
	}
	return m.limits[len(m.limits)-1]
}

func (m *fakeMemory) seen() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.messages...)
}
