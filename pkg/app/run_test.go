package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/flemzord/memoir/internal/core"
	"github.com/flemzord/memoir/internal/facade"
	"github.com/flemzord/memoir/internal/metrics"
	"github.com/flemzord/memoir/internal/security"
)

// writeConfig writes a minimal valid config pointing at temp directories.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	logs := filepath.Join(dir, "logs")
	if err := os.MkdirAll(logs, 0o755); err != nil {
		t.Fatal(err)
	}
	body := "version: \"1\"\ndata_dir: " + filepath.Join(dir, "data") + "\nmemory:\n  log_dir: " + logs + "\n" + extra
	path := filepath.Join(dir, "memoir.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func openRuntime(t *testing.T, path string) (*Runtime, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	rt, err := Open(t.Context(), Options{ConfigPath: path, LogWriter: &logs, Version: "test"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close(context.Background()) })
	return rt, &logs
}

// ---------------------------------------------------------------------------
// Paths
// ---------------------------------------------------------------------------

func TestResolveConfigPath_XDGConfigHome(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "memoir")
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	cfgPath := filepath.Join(cfgDir, "memoir.yaml")
	if err := os.WriteFile(cfgPath, []byte("version: \"1\""), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	t.Setenv("XDG_CONFIG_HOME", dir)

	got, err := ResolveConfigPath()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != cfgPath {
		t.Errorf("got %q, want %q", got, cfgPath)
	}
}

func TestResolveConfigPath_NotFound(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/nonexistent/path")
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	if _, err := ResolveConfigPath(); err == nil {
		t.Error("expected error when no config file found")
	}
}

func TestDefaultDataDir_XDGDataHome(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/custom/data")
	if got, want := DefaultDataDir(), "/custom/data/memoir"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestDefaultDataDir_Fallback(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "")
	_ = os.Unsetenv("XDG_DATA_HOME")

	got := DefaultDataDir()
	home, _ := os.UserHomeDir()
	if want := filepath.Join(home, ".local", "share", "memoir"); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestDefaultConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/cfg")
	if got := DefaultConfigPath(); got != "/cfg/memoir/memoir.yaml" {
		t.Errorf("got %q", got)
	}
}

// ---------------------------------------------------------------------------
// Open
// ---------------------------------------------------------------------------

func TestOpen_RegistersServices(t *testing.T) {
	t.Parallel()

	rt, _ := openRuntime(t, writeConfig(t, ""))

	if _, ok := core.ServiceAs[*facade.Facade](rt.AppContext, MemoryService); !ok {
		t.Error("memory.facade not registered")
	}
	if m, ok := core.ServiceAs[*metrics.Manager](rt.AppContext, MetricsService); !ok || m.Enabled() {
		t.Errorf("metrics.manager = %v, %v; want a disabled manager", m, ok)
	}
	if _, ok := core.ServiceAs[*security.Redactor](rt.AppContext, RedactorService); !ok {
		t.Error("security.redactor not registered")
	}
	if _, ok := core.ServiceAs[*security.AuditLogger](rt.AppContext, AuditService); !ok {
		t.Error("security.audit not registered")
	}
	if p, ok := core.ServiceAs[string](rt.AppContext, ConfigService); !ok || p != rt.ConfigPath {
		t.Errorf("config.path = %q", p)
	}
	if !strings.HasSuffix(rt.Config.Memory.MemoryDir, filepath.Join("data", "memory")) {
		t.Errorf("memory dir = %q", rt.Config.Memory.MemoryDir)
	}
}

func TestOpen_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"invalid yaml", "not: valid: yaml: ["},
		{"missing version", "memory:\n  log_dir: /tmp\n"},
		{"unknown module", "version: \"1\"\nmemory:\n  log_dir: /tmp\nmodules:\n  foo.bar: {}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "memoir.yaml")
			if err := os.WriteFile(path, []byte(tt.body), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := Open(t.Context(), Options{ConfigPath: path, DataDir: t.TempDir()}); err == nil {
				t.Error("expected error")
			}
		})
	}

	if _, err := Open(t.Context(), Options{ConfigPath: "/nonexistent/config.yaml"}); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestOpen_LoggerRedactsAndHonoursFormat(t *testing.T) {
	t.Parallel()

	rt, logs := openRuntime(t, writeConfig(t, "log:\n  format: json\n"))
	rt.Redactor.AddLiteral("super-secret-value")
	rt.Logger.Info("probe", "token", "super-secret-value")

	out := logs.String()
	if strings.Contains(out, "super-secret-value") {
		t.Errorf("secret leaked: %s", out)
	}
	if !strings.Contains(out, `"msg":"probe"`) {
		t.Errorf("expected JSON output, got %s", out)
	}
}

func TestOpen_AuditFile(t *testing.T) {
	t.Parallel()

	auditPath := filepath.Join(t.TempDir(), "audit", "events.jsonl")
	rt, _ := openRuntime(t, writeConfig(t, "log:\n  audit_file: "+auditPath+"\n"))
	rt.Audit.Log(security.AuditEvent{Type: security.EventConfigChange, Detail: "test"})
	if err := rt.Close(t.Context()); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(auditPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"type":"config_change"`) {
		t.Errorf("audit file = %s", data)
	}
}

func TestRuntime_OpenJournal(t *testing.T) {
	t.Parallel()

	rt, _ := openRuntime(t, writeConfig(t, "modules:\n  memory.sqlite: {}\n"))
	if err := rt.OpenJournal(); err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}
	if rt.Memory.Journal() == nil {
		t.Fatal("journal not bound to the facade")
	}
	if _, err := rt.Memory.Injections(t.Context(), 10); err != nil {
		t.Errorf("Injections: %v", err)
	}
}

func TestRuntime_OpenJournalNotConfigured(t *testing.T) {
	t.Parallel()

	rt, _ := openRuntime(t, writeConfig(t, ""))
	if err := rt.OpenJournal(); err != nil {
		t.Fatal(err)
	}
	if rt.Memory.Journal() != nil {
		t.Error("no journal expected without the sqlite module")
	}
}

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

func TestRun_InvalidConfigPath(t *testing.T) {
	if err := Run(RunParams{ConfigPath: "/nonexistent/config.yaml"}); err == nil {
		t.Error("expected error for invalid config path")
	}
}

func TestRun_StopsOnRequest(t *testing.T) {
	path := writeConfig(t, "schedule:\n  disabled: true\n")
	stop := make(chan struct{})
	done := make(chan error, 1)
	var logs bytes.Buffer

	go func() {
		done <- Run(RunParams{ConfigPath: path, Version: "test", LogWriter: &syncWriter{w: &logs}, Stop: stop})
	}()

	time.Sleep(100 * time.Millisecond)
	close(stop)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after stop")
	}
}
