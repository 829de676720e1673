// Package compaction detects host-side context compaction by comparing the
// latest session log against the last observation persisted on disk.
//
// The signal is a heuristic: a changed session id or a sharp drop in the
// message count. The host runtime owns the real compaction event, which is
// not observable from logs alone.
package compaction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/flemzord/memoir/internal/fsutil"
	"github.com/flemzord/memoir/internal/logstore"
)

// Detector defaults.
const (
	DefaultMinCount  = 20
	DefaultDropRatio = 0.5
	StateFile        = ".compaction_state"
)

// ErrInvalidConfig is returned by NewDetector for out-of-range settings.
var ErrInvalidConfig = errors.New("compaction: invalid config")

// Reason explains why a check flagged a compaction.
type Reason string

// Reasons reported by Check.
const (
	ReasonNone          Reason = ""
	ReasonSessionChange Reason = "session_change"
	ReasonMessageDrop   Reason = "message_drop"
)

// State is the record persisted after every check.
type State struct {
	LastSessionID     string    `json:"last_session_id"`
	LastMessageCount  int       `json:"last_message_count"`
	LastCheckedAt     time.Time `json:"last_checked_at,omitzero"`
	CompactionCounter int       `json:"compaction_counter"`
}

// Observation is what a check saw in the log store.
type Observation struct {
	SessionID    string `json:"session_id"`
	MessageCount int    `json:"message_count"`
	// Found is false when the log store holds no session.
	Found bool `json:"found"`
}

// Result is the outcome of one check.
type Result struct {
	Compacted   bool        `json:"compacted"`
	Reason      Reason      `json:"reason,omitempty"`
	Observation Observation `json:"observation"`
	// Previous is the state read before the check.
	Previous State `json:"previous"`
	// State is the state written by the check.
	State State `json:"state"`
}

// Config configures a Detector.
type Config struct {
	// Path of the state file.
	Path      string
	MinCount  int
	DropRatio float64
	Logger    *slog.Logger
	Now       func() time.Time
}

func (c Config) withDefaults() Config {
	if c.MinCount == 0 {
		c.MinCount = DefaultMinCount
	}
	if c.DropRatio == 0 {
		c.DropRatio = DefaultDropRatio
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Detector evaluates the STABLE/COMPACTED transition on each Check.
type Detector struct {
	cfg  Config
	logs *logstore.Store
	mu   sync.Mutex
}

// NewDetector returns a detector reading sessions from logs.
func NewDetector(cfg Config, logs *logstore.Store) (*Detector, error) {
	cfg = cfg.withDefaults()
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: state path is required", ErrInvalidConfig)
	}
	if cfg.MinCount < 0 {
		return nil, fmt.Errorf("%w: min count must not be negative", ErrInvalidConfig)
	}
	if cfg.DropRatio <= 0 || cfg.DropRatio >= 1 {
		return nil, fmt.Errorf("%w: drop ratio must be in (0, 1), got %v", ErrInvalidConfig, cfg.DropRatio)
	}
	return &Detector{cfg: cfg, logs: logs}, nil
}

// Check observes the latest session, compares it with the persisted state
// and writes the new state. The state file is rewritten on every call.
func (d *Detector) Check(ctx context.Context) (Result, error) {
	obs, err := d.observe(ctx)
	if err != nil {
		return Result{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	prev, existed, err := d.read()
	if err != nil {
		d.cfg.Logger.Warn("compaction: unreadable state, starting over", "path", d.cfg.Path, "error", err)
		prev, existed = State{}, false
	}

	res := Result{Observation: obs, Previous: prev}
	if existed {
		res.Reason = d.evaluate(prev, obs)
		res.Compacted = res.Reason != ReasonNone
	}

	next := State{
		LastSessionID:     obs.SessionID,
		LastMessageCount:  obs.MessageCount,
		LastCheckedAt:     d.cfg.Now().UTC(),
		CompactionCounter: prev.CompactionCounter,
	}
	if res.Compacted {
		next.CompactionCounter++
	}
	if err := d.write(next); err != nil {
		return res, err
	}
	res.State = next

	if res.Compacted {
		d.cfg.Logger.Info("compaction: detected",
			"reason", string(res.Reason),
			"session", obs.SessionID,
			"previous_session", prev.LastSessionID,
			"messages", obs.MessageCount,
			"previous_messages", prev.LastMessageCount,
			"counter", next.CompactionCounter,
		)
	}
	return res, nil
}

func (d *Detector) evaluate(prev State, obs Observation) Reason {
	if prev.LastSessionID != "" && prev.LastSessionID != obs.SessionID {
		return ReasonSessionChange
	}
	if prev.LastMessageCount > d.cfg.MinCount &&
		float64(obs.MessageCount) < float64(prev.LastMessageCount)*d.cfg.DropRatio {
		return ReasonMessageDrop
	}
	return ReasonNone
}

func (d *Detector) observe(ctx context.Context) (Observation, error) {
	sess, ok, err := d.logs.Latest()
	if err != nil {
		return Observation{}, fmt.Errorf("compaction: listing sessions: %w", err)
	}
	if !ok {
		return Observation{}, nil
	}
	n, err := logstore.CountMessages(ctx, sess.Path)
	if err != nil {
		return Observation{}, fmt.Errorf("compaction: counting %s: %w", sess.ID, err)
	}
	return Observation{SessionID: sess.ID, MessageCount: n, Found: true}, nil
}

// State returns the persisted state without modifying it.
func (d *Detector) State() (State, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, _, err := d.read()
	return st, err
}

func (d *Detector) read() (State, bool, error) {
	data, err := os.ReadFile(d.cfg.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, err
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, false, fmt.Errorf("compaction: decoding state: %w", err)
	}
	return st, true, nil
}

func (d *Detector) write(st State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("compaction: encoding state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(d.cfg.Path), 0o755); err != nil {
		return fmt.Errorf("compaction: creating state dir: %w", err)
	}
	if err := fsutil.WriteFileAtomic(d.cfg.Path, data, 0o644); err != nil {
		return fmt.Errorf("compaction: writing state: %w", err)
	}
	return nil
}
