package summary

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/flemzord/memoir/internal/fsutil"
)

// DefaultRetention is how long summaries are kept.
const DefaultRetention = 48 * time.Hour

const (
	dayLayout = "2006-01-02"
	fileExt   = ".md"
)

// ErrInvalidRetention is returned for a non-positive retention window.
var ErrInvalidRetention = errors.New("summary: retention must be positive")

// Section is one "## " headed block of a daily summary file.
type Section struct {
	Timestamp time.Time
	Heading   string
	Body      string
	// File is the base name of the daily file holding the section.
	File string
}

// Text renders the section back to markdown.
func (s Section) Text() string {
	if s.Body == "" {
		return "## " + s.Heading
	}
	return "## " + s.Heading + "\n\n" + s.Body
}

// ArchiveConfig configures an Archive.
type ArchiveConfig struct {
	// Dir holds the YYYY-MM-DD.md files.
	Dir       string
	Retention time.Duration
	Logger    *slog.Logger
	Now       func() time.Time
}

func (c ArchiveConfig) withDefaults() ArchiveConfig {
	if c.Retention == 0 {
		c.Retention = DefaultRetention
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// SweepResult reports what a retention sweep removed.
type SweepResult struct {
	FilesRemoved    int
	SectionsRemoved int
}

// Archive owns the daily summary files. The retention sweep and the append
// that follows it run under one lock; readers share a read lock.
type Archive struct {
	cfg ArchiveConfig
	mu  sync.RWMutex
}

// NewArchive returns an Archive. It does not touch the filesystem.
func NewArchive(cfg ArchiveConfig) (*Archive, error) {
	cfg = cfg.withDefaults()
	if cfg.Retention < 0 {
		return nil, ErrInvalidRetention
	}
	if cfg.Dir == "" {
		return nil, errors.New("summary: archive directory is required")
	}
	return &Archive{cfg: cfg}, nil
}

// Dir returns the archive directory.
func (a *Archive) Dir() string { return a.cfg.Dir }

// Append sweeps expired summaries and appends section to the daily file for
// its timestamp. It returns the file path.
func (a *Archive) Append(ts time.Time, section string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(a.cfg.Dir, 0o755); err != nil {
		return "", fmt.Errorf("summary: creating archive dir: %w", err)
	}

	if res, err := a.sweepLocked(); err != nil {
		a.cfg.Logger.Warn("summary: retention sweep failed", "error", err)
	} else if res.FilesRemoved > 0 || res.SectionsRemoved > 0 {
		a.cfg.Logger.Info("summary: retention sweep",
			"files_removed", res.FilesRemoved,
			"sections_removed", res.SectionsRemoved,
		)
	}

	path := filepath.Join(a.cfg.Dir, ts.Format(dayLayout)+fileExt)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("summary: opening %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("summary: stat %s: %w", path, err)
	}
	text := strings.TrimSpace(section) + "\n"
	if info.Size() > 0 {
		text = "\n" + text
	}
	if _, err := f.WriteString(text); err != nil {
		return "", fmt.Errorf("summary: writing %s: %w", path, err)
	}
	return path, nil
}

// Sweep removes summaries older than the retention window.
func (a *Archive) Sweep() (SweepResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sweepLocked()
}

// sweepLocked deletes files whose whole day is past the cutoff and rewrites
// the boundary file without its expired sections.
func (a *Archive) sweepLocked() (SweepResult, error) {
	var res SweepResult
	now := a.cfg.Now()
	cutoff := now.Add(-a.cfg.Retention)

	files, err := a.filesLocked(now.Location())
	if err != nil {
		return res, err
	}

	var errs []error
	for _, df := range files {
		switch {
		case !df.date.AddDate(0, 0, 1).After(cutoff):
			if err := os.Remove(df.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
				continue
			}
			res.FilesRemoved++
		case df.date.Before(cutoff):
			removed, err := a.pruneFile(df, cutoff)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			res.SectionsRemoved += removed
		}
	}
	return res, errors.Join(errs...)
}

func (a *Archive) pruneFile(df dailyFile, cutoff time.Time) (int, error) {
	sections, err := readSections(df)
	if err != nil {
		return 0, err
	}
	kept := slices.DeleteFunc(slices.Clone(sections), func(s Section) bool {
		return s.Timestamp.Before(cutoff)
	})
	removed := len(sections) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	if len(kept) == 0 {
		return removed, os.Remove(df.path)
	}

	texts := make([]string, len(kept))
	for i, s := range kept {
		texts[i] = s.Text()
	}
	return removed, fsutil.WriteFileAtomic(df.path, []byte(strings.Join(texts, "\n\n")+"\n"), 0o644)
}

// Sections returns every section whose timestamp is at or after since, in
// chronological order.
func (a *Archive) Sections(since time.Time) ([]Section, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	loc := a.cfg.Now().Location()
	files, err := a.filesLocked(loc)
	if err != nil {
		return nil, err
	}

	var out []Section
	for _, df := range files {
		if !df.date.AddDate(0, 0, 1).After(since) {
			continue
		}
		sections, err := readSections(df)
		if err != nil {
			a.cfg.Logger.Warn("summary: reading daily file", "file", df.path, "error", err)
			continue
		}
		for _, s := range sections {
			if !s.Timestamp.Before(since) {
				out = append(out, s)
			}
		}
	}
	slices.SortStableFunc(out, func(x, y Section) int { return x.Timestamp.Compare(y.Timestamp) })
	return out, nil
}

// Recent returns up to n of the newest sections within window, newest first.
// A negative n returns all of them.
func (a *Archive) Recent(window time.Duration, n int) ([]Section, error) {
	all, err := a.Sections(a.cfg.Now().Add(-window))
	if err != nil {
		return nil, err
	}
	slices.Reverse(all)
	if n >= 0 && len(all) > n {
		all = all[:n]
	}
	return all, nil
}

// LastWritten returns the timestamp of the newest section, if any.
func (a *Archive) LastWritten() (time.Time, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	files, err := a.filesLocked(a.cfg.Now().Location())
	if err != nil || len(files) == 0 {
		return time.Time{}, false
	}
	for i := len(files) - 1; i >= 0; i-- {
		sections, err := readSections(files[i])
		if err != nil || len(sections) == 0 {
			continue
		}
		latest := sections[0].Timestamp
		for _, s := range sections[1:] {
			if s.Timestamp.After(latest) {
				latest = s.Timestamp
			}
		}
		return latest, true
	}
	return time.Time{}, false
}

// Files returns the paths of the daily files, oldest first.
func (a *Archive) Files() ([]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	files, err := a.filesLocked(a.cfg.Now().Location())
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(files))
	for i, df := range files {
		paths[i] = df.path
	}
	return paths, nil
}

type dailyFile struct {
	path string
	date time.Time
}

func (a *Archive) filesLocked(loc *time.Location) ([]dailyFile, error) {
	entries, err := os.ReadDir(a.cfg.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var files []dailyFile
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		date, err := time.ParseInLocation(dayLayout, strings.TrimSuffix(name, fileExt), loc)
		if err != nil {
			continue
		}
		files = append(files, dailyFile{path: filepath.Join(a.cfg.Dir, name), date: date})
	}
	slices.SortFunc(files, func(x, y dailyFile) int { return x.date.Compare(y.date) })
	return files, nil
}

// readSections splits a daily file on "## " headings. A heading that is not
// a timestamp inherits the file's date.
func readSections(df dailyFile) ([]Section, error) {
	data, err := os.ReadFile(df.path)
	if err != nil {
		return nil, err
	}
	return ParseSections(string(data), df.date, filepath.Base(df.path)), nil
}

// ParseSections splits markdown text into sections. Text before the first
// heading is ignored.
func ParseSections(text string, fallback time.Time, file string) []Section {
	var (
		out     []Section
		current *Section
		body    []string
	)
	flush := func() {
		if current == nil {
			return
		}
		current.Body = strings.TrimSpace(strings.Join(body, "\n"))
		out = append(out, *current)
	}

	for line := range strings.Lines(text) {
		line = strings.TrimRight(line, "\r\n")
		if heading, ok := strings.CutPrefix(line, "## "); ok {
			flush()
			heading = strings.TrimSpace(heading)
			ts, err := time.ParseInLocation(HeadingLayout, heading, fallback.Location())
			if err != nil {
				ts = fallback
			}
			current = &Section{Timestamp: ts, Heading: heading, File: file}
			body = body[:0]
			continue
		}
		if current != nil {
			body = append(body, line)
		}
	}
	flush()
	return out
}
