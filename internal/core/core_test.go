package core

import (
	"context"
	"errors"
	"testing"
)

// lifecycleModule records Start/Stop calls into a shared log.
type lifecycleModule struct {
	id       ModuleID
	log      *[]string
	startErr error
}

func (m *lifecycleModule) ModuleInfo() ModuleInfo {
	return ModuleInfo{ID: m.id, New: func() Module { return m }}
}

func (m *lifecycleModule) Start() error {
	if m.startErr != nil {
		return m.startErr
	}
	*m.log = append(*m.log, "start "+string(m.id))
	return nil
}

func (m *lifecycleModule) Stop(context.Context) error {
	*m.log = append(*m.log, "stop "+string(m.id))
	return nil
}

func TestApp_StartStopOrder(t *testing.T) {
	t.Parallel()

	var log []string
	app := NewApp(NewAppContext(nil, "/data", "/memory"))
	app.AppendModule(&lifecycleModule{id: "a", log: &log})
	app.AppendModule(&lifecycleModule{id: "b", log: &log})

	if err := app.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	app.Stop()

	want := []string{"start a", "start b", "stop b", "stop a"}
	if len(log) != len(want) {
		t.Fatalf("log = %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Errorf("log[%d] = %q, want %q", i, log[i], want[i])
		}
	}
}

func TestApp_StartFailureStopsStarted(t *testing.T) {
	t.Parallel()

	var log []string
	app := NewApp(NewAppContext(nil, "/data", "/memory"))
	app.AppendModule(&lifecycleModule{id: "a", log: &log})
	app.AppendModule(&lifecycleModule{id: "b", log: &log, startErr: errors.New("boom")})

	if err := app.Start(); err == nil {
		t.Fatal("expected start error")
	}
	if len(log) != 2 || log[1] != "stop a" {
		t.Errorf("log = %v, want module a stopped after failure", log)
	}
}

func TestApp_Module(t *testing.T) {
	t.Parallel()

	app := NewApp(NewAppContext(nil, "/data", "/memory"))
	var log []string
	app.AppendModule(&lifecycleModule{id: "scheduler", log: &log})

	if _, ok := app.Module("scheduler"); !ok {
		t.Error("expected scheduler module to be found")
	}
	if _, ok := app.Module("missing"); ok {
		t.Error("expected missing module lookup to fail")
	}
	if ids := app.ModuleIDs(); len(ids) != 1 || ids[0] != "scheduler" {
		t.Errorf("ModuleIDs = %v", ids)
	}
}
