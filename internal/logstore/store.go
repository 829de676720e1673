package logstore

import (
	"bufio"
	"bytes"
	"cmp"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// maxLineSize bounds a single log line. Longer lines are skipped.
const maxLineSize = 10 * 1024 * 1024

const sessionExt = ".jsonl"

// Session identifies one session log file.
type Session struct {
	// ID is the file name without the .jsonl extension.
	ID      string
	Path    string
	ModTime time.Time
}

// ReadResult is the outcome of reading a whole session log.
type ReadResult struct {
	Events []Event
	// Skipped counts malformed lines.
	Skipped int
	// Unknown counts well-formed lines whose type memoir does not handle.
	Unknown int
}

// Store lists and reads session logs from a single directory.
type Store struct {
	dir string
	now func() time.Time
}

// NewStore returns a Store rooted at dir. now may be nil.
func NewStore(dir string, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{dir: dir, now: now}
}

// Dir returns the log directory.
func (s *Store) Dir() string { return s.dir }

// Sessions returns every session log, oldest modification first. A missing
// directory yields no sessions and no error.
func (s *Store) Sessions() ([]Session, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	sessions := make([]Session, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), sessionExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		sessions = append(sessions, Session{
			ID:      strings.TrimSuffix(e.Name(), sessionExt),
			Path:    filepath.Join(s.dir, e.Name()),
			ModTime: info.ModTime(),
		})
	}
	slices.SortStableFunc(sessions, func(a, b Session) int {
		if c := a.ModTime.Compare(b.ModTime); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return sessions, nil
}

// Recent returns sessions modified within window of now.
func (s *Store) Recent(window time.Duration) ([]Session, error) {
	all, err := s.Sessions()
	if err != nil {
		return nil, err
	}
	cutoff := s.now().Add(-window)
	recent := all[:0]
	for _, sess := range all {
		if !sess.ModTime.Before(cutoff) {
			recent = append(recent, sess)
		}
	}
	return recent, nil
}

// Latest returns the most recently modified session.
func (s *Store) Latest() (Session, bool, error) {
	all, err := s.Sessions()
	if err != nil || len(all) == 0 {
		return Session{}, false, err
	}
	return all[len(all)-1], true, nil
}

// TailMessages returns up to n of the most recent events of the given kinds
// from the latest session, in chronological order. With no kinds, user and
// assistant messages are returned.
func (s *Store) TailMessages(ctx context.Context, n int, kinds ...EventKind) ([]Event, error) {
	if n <= 0 {
		return nil, nil
	}
	sess, ok, err := s.Latest()
	if err != nil || !ok {
		return nil, err
	}
	res, err := ReadEvents(ctx, sess.Path)
	if err != nil {
		return nil, err
	}
	return Tail(res.Events, n, kinds...), nil
}

// Tail filters events by kind and keeps the last n, preserving order.
func Tail(events []Event, n int, kinds ...EventKind) []Event {
	match := func(k EventKind) bool {
		if len(kinds) == 0 {
			return k.IsMessage()
		}
		return slices.Contains(kinds, k)
	}
	var out []Event
	for i := len(events) - 1; i >= 0 && len(out) < n; i-- {
		if match(events[i].Kind) {
			out = append(out, events[i])
		}
	}
	slices.Reverse(out)
	return out
}

// ReadEvents parses a session log. Malformed and oversized lines are skipped
// and counted; the context is checked between lines.
func ReadEvents(ctx context.Context, path string) (ReadResult, error) {
	var res ReadResult
	err := scanLines(ctx, path, func(line []byte) {
		ev, err := ParseLine(line)
		if err != nil {
			res.Skipped++
			return
		}
		if ev.Kind == KindUnknown {
			res.Unknown++
		}
		res.Events = append(res.Events, ev)
	}, func() { res.Skipped++ })
	return res, err
}

// CountMessages returns the number of non-blank lines in a session log. It is
// the message count used by compaction detection.
func CountMessages(ctx context.Context, path string) (int, error) {
	n := 0
	count := func() { n++ }
	err := scanLines(ctx, path, func([]byte) { count() }, count)
	return n, err
}

// scanLines calls fn with every trimmed non-blank line of path and oversized
// for every line longer than maxLineSize. The line slice is reused between
// calls.
func scanLines(ctx context.Context, path string, fn func(line []byte), oversized func()) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 64*1024)
	var (
		line     []byte
		skipping bool
	)
	for {
		part, err := r.ReadSlice('\n')
		if !skipping {
			if len(line)+len(part) > maxLineSize {
				skipping = true
				line = line[:0]
			} else {
				line = append(line, part...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}

		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if skipping {
			oversized()
		} else if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			fn(trimmed)
		}
		line, skipping = line[:0], false

		if err != nil {
			return nil
		}
	}
}
