package summary

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestArchive(t *testing.T, now time.Time) *Archive {
	t.Helper()
	a, err := NewArchive(ArchiveConfig{
		Dir: filepath.Join(t.TempDir(), "hourly"),
		Now: func() time.Time { return now },
	})
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func appendAt(t *testing.T, a *Archive, ts time.Time, body string) string {
	t.Helper()
	path, err := a.Append(ts, "## "+ts.Format(HeadingLayout)+"\n\n"+body)
	if err != nil {
		t.Fatalf("Append(%s): %v", ts, err)
	}
	return path
}

func TestNewArchive_Validation(t *testing.T) {
	t.Parallel()

	if _, err := NewArchive(ArchiveConfig{Dir: "x", Retention: -time.Hour}); !errors.Is(err, ErrInvalidRetention) {
		t.Errorf("negative retention: err = %v, want ErrInvalidRetention", err)
	}
	if _, err := NewArchive(ArchiveConfig{}); err == nil {
		t.Error("expected error for missing dir")
	}
}

func TestArchive_AppendCreatesDailyFile(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 17, 15, 0, 0, 0, time.UTC)
	a := newTestArchive(t, now)

	path := appendAt(t, a, now.Add(-time.Hour), "S:u1 a1 t0")
	appendAt(t, a, now, "S:u2 a2 t0")

	if filepath.Base(path) != "2026-10-17.md" {
		t.Errorf("file = %s, want 2026-10-17.md", filepath.Base(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "## 2026-10-17 14:00\n\nS:u1 a1 t0\n\n## 2026-10-17 15:00\n\nS:u2 a2 t0\n"
	if string(data) != want {
		t.Errorf("file content:\n%q\nwant:\n%q", data, want)
	}
}

func TestArchive_RetentionSweep(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		now  time.Time
	}{
		// now-49h and now-30h land in the same daily file.
		{"shared boundary file", time.Date(2026, 10, 17, 1, 0, 0, 0, time.UTC)},
		{"separate files", time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := newTestArchive(t, tt.now)

			expired := tt.now.Add(-49 * time.Hour)
			kept := []time.Time{tt.now.Add(-30 * time.Hour), tt.now.Add(-time.Hour)}
			appendAt(t, a, expired, "old")
			for _, ts := range kept {
				appendAt(t, a, ts, "fresh")
			}

			if _, err := a.Sweep(); err != nil {
				t.Fatalf("Sweep: %v", err)
			}

			sections, err := a.Sections(time.Time{})
			if err != nil {
				t.Fatal(err)
			}
			if len(sections) != len(kept) {
				t.Fatalf("sections = %d, want %d: %+v", len(sections), len(kept), sections)
			}
			for i, s := range sections {
				want := kept[i].Truncate(time.Minute)
				if !s.Timestamp.Equal(want) {
					t.Errorf("section %d timestamp = %s, want %s", i, s.Timestamp, want)
				}
				if s.Body != "fresh" {
					t.Errorf("section %d body = %q, want fresh", i, s.Body)
				}
			}
		})
	}
}

func TestArchive_SweepRemovesWholeFiles(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	a := newTestArchive(t, now)

	old := appendAt(t, a, now.Add(-80*time.Hour), "ancient")

	res, err := a.Sweep()
	if err != nil {
		t.Fatal(err)
	}
	if res.FilesRemoved != 1 {
		t.Errorf("FilesRemoved = %d, want 1", res.FilesRemoved)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Errorf("expected %s to be removed", old)
	}
}

func TestArchive_AppendSweepsFirst(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	a := newTestArchive(t, now)

	old := appendAt(t, a, now.Add(-80*time.Hour), "ancient")
	appendAt(t, a, now, "today")

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("Append should sweep expired files before writing")
	}
}

func TestArchive_RecentNewestFirst(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	a := newTestArchive(t, now)
	for h := 5; h >= 0; h-- {
		appendAt(t, a, now.Add(-time.Duration(h)*time.Hour), "h")
	}

	got, err := a.Recent(24*time.Hour, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if !got[0].Timestamp.Equal(now) {
		t.Errorf("newest = %s, want %s", got[0].Timestamp, now)
	}
	if !got[2].Timestamp.Equal(now.Add(-2 * time.Hour)) {
		t.Errorf("oldest kept = %s", got[2].Timestamp)
	}

	last, ok := a.LastWritten()
	if !ok || !last.Equal(now) {
		t.Errorf("LastWritten = %s, %v", last, ok)
	}

	files, err := a.Files()
	if err != nil || len(files) != 1 {
		t.Errorf("Files = %v, %v", files, err)
	}
}

func TestArchive_EmptyDir(t *testing.T) {
	t.Parallel()

	a := newTestArchive(t, time.Now())
	if sections, err := a.Sections(time.Time{}); err != nil || len(sections) != 0 {
		t.Errorf("Sections on missing dir = %v, %v", sections, err)
	}
	if _, ok := a.LastWritten(); ok {
		t.Error("LastWritten should report false on an empty archive")
	}
}

func TestParseSections(t *testing.T) {
	t.Parallel()

	text := strings.Join([]string{
		"preamble ignored",
		"## 2026-10-17 10:00",
		"",
		"T:a",
		"## notes",
		"free text",
	}, "\n")
	fallback := time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)

	got := ParseSections(text, fallback, "2026-10-17.md")
	if len(got) != 2 {
		t.Fatalf("sections = %d, want 2", len(got))
	}
	if got[0].Body != "T:a" || got[0].Timestamp.Hour() != 10 {
		t.Errorf("first section = %+v", got[0])
	}
	if !got[1].Timestamp.Equal(fallback) || got[1].Heading != "notes" {
		t.Errorf("second section = %+v", got[1])
	}
	if got[0].Text() != "## 2026-10-17 10:00\n\nT:a" {
		t.Errorf("Text() = %q", got[0].Text())
	}
}
