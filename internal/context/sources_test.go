package ctxengine_test

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	ctxengine "github.com/flemzord/memoir/internal/context"
	"github.com/flemzord/memoir/internal/logstore"
	"github.com/flemzord/memoir/internal/logstore/logstoretest"
	"github.com/flemzord/memoir/internal/summary"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestSummarySource_ChronologicalWithinWindow(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	archive, err := summary.NewArchive(summary.ArchiveConfig{
		Dir: filepath.Join(t.TempDir(), "hourly"),
		Now: func() time.Time { return now },
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, h := range []int{30, 3, 1} {
		ts := now.Add(-time.Duration(h) * time.Hour)
		if _, err := archive.Append(ts, "## "+ts.Format(summary.HeadingLayout)+"\n\nT:h"); err != nil {
			t.Fatal(err)
		}
	}

	got, err := (&ctxengine.SummarySource{Archive: archive}).Fetch(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"## 2026-10-17 09:00\n\nT:h", "## 2026-10-17 11:00\n\nT:h"}
	if !slices.Equal(got, want) {
		t.Errorf("Fetch = %q, want %q", got, want)
	}
}

func TestRecentSource_PerRoleCap(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logstoretest.WriteSession(t, dir, "s",
		logstoretest.User("one"),
		logstoretest.Assistant("two"),
		logstoretest.Tool("bash"),
		logstoretest.User("three   with\nspaces"),
		logstoretest.Assistant(strings.Repeat("z", 300)),
	)

	src := &ctxengine.RecentSource{Logs: logstore.NewStore(dir, nil), PerRole: 1}
	got, err := src.Fetch(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"U: three with spaces", "A: " + strings.Repeat("z", ctxengine.DefaultRecentChars)}
	if !slices.Equal(got, want) {
		t.Errorf("Fetch = %q, want %q", got, want)
	}
}

func TestReasoningSource(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logstoretest.WriteSession(t, dir, "s",
		logstoretest.Thinking("first"),
		logstoretest.User("q"),
		logstoretest.Thinking("second"),
		logstoretest.Thinking("third"),
	)

	src := &ctxengine.ReasoningSource{Logs: logstore.NewStore(dir, nil), Count: 2}
	got, err := src.Fetch(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"- second", "- third"}; !slices.Equal(got, want) {
		t.Errorf("Fetch = %q, want %q", got, want)
	}
}

func TestStatusSource(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ctxengine.AgentRegistryFile), "# Agents\nplanner, coder\n")
	writeFile(t, filepath.Join(dir, ctxengine.TaskLogFile), "- [x] shipped\n- [ ] write docs\n- [prog] migrate db\n")
	writeFile(t, filepath.Join(dir, ctxengine.MeshStatusFile),
		`{"nodes":{"a":{"status":"online"},"b":{"status":"offline"},"c":{"status":"online"}}}`)

	got, err := (&ctxengine.StatusSource{Dir: dir}).Fetch(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"Agents: # Agents\nplanner, coder",
		"Tasks: - [ ] write docs | - [prog] migrate db",
		"Mesh: 2/3 nodes online",
	}
	if !slices.Equal(got, want) {
		t.Errorf("Fetch = %q, want %q", got, want)
	}
}

func TestStatusSource_MissingFiles(t *testing.T) {
	t.Parallel()

	got, err := (&ctxengine.StatusSource{Dir: filepath.Join(t.TempDir(), "global")}).Fetch(t.Context())
	if err != nil || len(got) != 0 {
		t.Errorf("Fetch = %q, %v; want nothing", got, err)
	}
}

func TestStatusSource_BadMesh(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ctxengine.MeshStatusFile), "{")
	if _, err := (&ctxengine.StatusSource{Dir: dir}).Fetch(t.Context()); err == nil {
		t.Error("expected error for malformed mesh status")
	}
}

func TestOpenTasks_Limit(t *testing.T) {
	t.Parallel()

	log := strings.Repeat("- [ ] task\n", 8)
	if got := ctxengine.OpenTasks(log, ctxengine.DefaultOpenTasks); len(got) != 5 {
		t.Errorf("OpenTasks = %d items, want 5", len(got))
	}
}
