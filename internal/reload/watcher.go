// Package reload applies configuration changes to a running daemon. Changes
// are picked up by polling the config file and on SIGHUP.
package reload

import (
	"bytes"
	"context"
	"crypto/sha256"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const defaultPollInterval = 5 * time.Second

// WatcherConfig configures the file watcher.
type WatcherConfig struct {
	// ConfigPath is the path to the configuration file to watch.
	ConfigPath string

	// PollInterval is how often to check for file changes.
	// Defaults to 5 seconds if zero.
	PollInterval time.Duration
}

func (c WatcherConfig) pollIntervalOrDefault() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return defaultPollInterval
}

// EventType describes the type of file change event.
type EventType string

// EventModified indicates the config file content changed.
const EventModified EventType = "modified"

// Event represents a file change notification.
type Event struct {
	Type       EventType
	ConfigPath string
	ModTime    time.Time
}

// Watcher polls a configuration file. An event is sent only when the file
// content changes; a touch or an editor rewriting identical bytes is
// ignored.
type Watcher struct {
	cfg     WatcherConfig
	events  chan Event
	stop    chan struct{}
	stopped chan struct{}

	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewWatcher creates a new file watcher.
func NewWatcher(cfg WatcherConfig) *Watcher {
	return &Watcher{
		cfg:     cfg,
		events:  make(chan Event, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start begins polling. Only the first call starts the goroutine.
func (w *Watcher) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		w.started.Store(true)
		go w.poll(ctx)
	})
}

// Events returns the channel of change events. Pending events are coalesced.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Stop stops the watcher and waits for the polling goroutine to exit. Safe to
// call multiple times and before Start.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
	if w.started.Load() {
		<-w.stopped
	}
}

// fingerprint identifies one version of the watched file.
type fingerprint struct {
	modTime time.Time
	size    int64
	digest  []byte
}

func (w *Watcher) poll(ctx context.Context) {
	defer close(w.stopped)

	ticker := time.NewTicker(w.cfg.pollIntervalOrDefault())
	defer ticker.Stop()

	last, _ := w.fingerprint(fingerprint{})

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			current, ok := w.fingerprint(last)
			if !ok {
				continue
			}
			changed := !bytes.Equal(current.digest, last.digest)
			last = current
			if !changed {
				continue
			}
			select {
			case w.events <- Event{Type: EventModified, ConfigPath: w.cfg.ConfigPath, ModTime: current.modTime}:
			default:
			}
		}
	}
}

// fingerprint stats the file and hashes it when size or modification time
// moved since prev. ok is false when the file cannot be read.
func (w *Watcher) fingerprint(prev fingerprint) (fingerprint, bool) {
	info, err := os.Stat(w.cfg.ConfigPath)
	if err != nil {
		return prev, false
	}
	if prev.digest != nil && info.ModTime().Equal(prev.modTime) && info.Size() == prev.size {
		return prev, true
	}
	data, err := os.ReadFile(w.cfg.ConfigPath)
	if err != nil {
		return prev, false
	}
	sum := sha256.Sum256(data)
	return fingerprint{modTime: info.ModTime(), size: info.Size(), digest: sum[:]}, true
}
