package summary

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/flemzord/memoir/internal/logstore"
	"github.com/flemzord/memoir/internal/logstore/logstoretest"
)

type compactorFixture struct {
	logDir    string
	compactor *Compactor
	archive   *Archive
}

func newCompactorFixture(t *testing.T, now time.Time) compactorFixture {
	t.Helper()
	root := t.TempDir()
	clock := func() time.Time { return now }

	archive, err := NewArchive(ArchiveConfig{Dir: filepath.Join(root, "hourly"), Now: clock})
	if err != nil {
		t.Fatal(err)
	}
	logDir := filepath.Join(root, "logs")
	logs := logstore.NewStore(logDir, clock)
	return compactorFixture{
		logDir:    logDir,
		compactor: NewCompactor(Config{Now: clock}, logs, archive),
		archive:   archive,
	}
}

func TestCompactor_RunNoLogs(t *testing.T) {
	t.Parallel()

	f := newCompactorFixture(t, time.Date(2026, 10, 17, 15, 0, 0, 0, time.UTC))
	res, err := f.compactor.Run(t.Context(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Path != "" {
		t.Errorf("Path = %q, want empty", res.Path)
	}
	if files, _ := f.archive.Files(); len(files) != 0 {
		t.Errorf("expected no summary files, got %v", files)
	}
}

func TestCompactor_RunIgnoresStaleLogs(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 17, 15, 0, 0, 0, time.UTC)
	f := newCompactorFixture(t, now)
	path := logstoretest.WriteSession(t, f.logDir, "old", logstoretest.User("hello"))
	logstoretest.Touch(t, path, now.Add(-3*time.Hour))

	res, err := f.compactor.Run(t.Context(), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if res.Path != "" || res.Sessions != 0 {
		t.Errorf("result = %+v, want nothing written", res)
	}
}

func TestCompactor_RunWritesSummary(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 17, 15, 0, 0, 0, time.UTC)
	f := newCompactorFixture(t, now)

	path := logstoretest.WriteSession(t, f.logDir, "sess-1",
		logstoretest.User("Let's talk about the release checklist for the gateway."),
		logstoretest.Assistant("I decided to split the rollout into two phases. TODO: update the runbook before friday."),
		logstoretest.Tool("bash"),
		logstoretest.Tool("bash"),
		logstoretest.Line{Type: "tool_call"},
		logstoretest.Thinking("considering the order"),
		"not json at all",
		logstoretest.Line{Type: "heartbeat"},
	)
	logstoretest.Touch(t, path, now.Add(-10*time.Minute))

	res, err := f.compactor.Run(t.Context(), 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Path == "" {
		t.Fatal("expected a summary to be written")
	}
	if filepath.Base(res.Path) != "2026-10-17.md" {
		t.Errorf("path = %s", res.Path)
	}

	s := res.Summary
	if s.Stats.User != 1 || s.Stats.Assistant != 1 || s.Stats.Tools != 3 || s.Stats.Thinking != 1 {
		t.Errorf("stats = %+v", s.Stats)
	}
	if s.Stats.Skipped != 1 || s.Stats.Unknown != 1 {
		t.Errorf("skipped/unknown = %d/%d, want 1/1", s.Stats.Skipped, s.Stats.Unknown)
	}
	if s.ToolCounts["bash"] != 2 || s.ToolCounts["unknown"] != 1 {
		t.Errorf("tool counts = %v", s.ToolCounts)
	}
	if len(s.Topics) == 0 || s.Topics[0] != "the release checklist" {
		t.Errorf("topics = %v", s.Topics)
	}
	if len(s.Decisions) == 0 {
		t.Error("expected at least one decision")
	}
	if len(s.Actions) == 0 || s.Actions[0].Owner != "agent" || s.Actions[0].Deadline != "friday" {
		t.Errorf("actions = %+v", s.Actions)
	}
	if !s.Timestamp.Equal(time.Date(2026, 10, 17, 14, 0, 0, 0, time.UTC)) {
		t.Errorf("bucket = %s, want 14:00", s.Timestamp)
	}

	data, err := os.ReadFile(res.Path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "## 2026-10-17 14:00") {
		t.Errorf("file does not start with the section heading: %q", data)
	}
	if len(data) > DefaultMaxTokens*4+1 {
		t.Errorf("section is %d bytes, over the token cap", len(data))
	}
}

func TestCompactor_BuildDoesNotWrite(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 17, 15, 0, 0, 0, time.UTC)
	f := newCompactorFixture(t, now)
	path := logstoretest.WriteSession(t, f.logDir, "s", logstoretest.User("hi"))
	logstoretest.Touch(t, path, now)

	s, n, err := f.compactor.Build(t.Context(), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || s.Stats.User != 1 {
		t.Errorf("Build = %+v sessions=%d", s.Stats, n)
	}
	if files, _ := f.archive.Files(); len(files) != 0 {
		t.Error("Build must not write summary files")
	}
}
