package summary

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/flemzord/memoir/internal/logstore"
)

// DefaultLookback is the window a scheduled run summarizes.
const DefaultLookback = time.Hour

// Config configures a Compactor.
type Config struct {
	Lookback      time.Duration
	MaxTokens     int
	MaxTopics     int
	MaxDecisions  int
	MaxActions    int
	CharsPerToken int
	Extractor     Extractor
	// Scrub is applied to message content before extraction.
	Scrub  func(string) string
	Logger *slog.Logger
	Now    func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Lookback <= 0 {
		c.Lookback = DefaultLookback
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.MaxTopics <= 0 {
		c.MaxTopics = DefaultMaxTopics
	}
	if c.MaxDecisions <= 0 {
		c.MaxDecisions = DefaultMaxDecisions
	}
	if c.MaxActions <= 0 {
		c.MaxActions = DefaultMaxActions
	}
	if c.CharsPerToken <= 0 {
		c.CharsPerToken = 4
	}
	if c.Extractor == nil {
		c.Extractor = RuleExtractor{}
	}
	if c.Scrub == nil {
		c.Scrub = func(s string) string { return s }
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Result is the outcome of one compaction run. Path is empty when nothing
// was written.
type Result struct {
	Path     string
	Summary  HourlySummary
	Text     string
	Sessions int
}

// Compactor turns recent session logs into an hourly summary.
type Compactor struct {
	cfg     Config
	logs    *logstore.Store
	archive *Archive
}

// NewCompactor returns a Compactor reading from logs and writing to archive.
func NewCompactor(cfg Config, logs *logstore.Store, archive *Archive) *Compactor {
	return &Compactor{cfg: cfg.withDefaults(), logs: logs, archive: archive}
}

// Build summarizes the sessions active within lookback without writing
// anything. A zero lookback uses the configured default.
func (c *Compactor) Build(ctx context.Context, lookback time.Duration) (HourlySummary, int, error) {
	if lookback <= 0 {
		lookback = c.cfg.Lookback
	}
	now := c.cfg.Now()

	sessions, err := c.logs.Recent(lookback)
	if err != nil {
		return HourlySummary{}, 0, fmt.Errorf("summary: listing sessions: %w", err)
	}

	start := now.Add(-lookback)
	s := HourlySummary{
		Timestamp:  time.Date(start.Year(), start.Month(), start.Day(), start.Hour(), 0, 0, 0, start.Location()),
		ToolCounts: make(map[string]int),
	}

	type ownedText struct{ owner, text string }
	var actionText []ownedText
	for _, sess := range sessions {
		res, err := logstore.ReadEvents(ctx, sess.Path)
		if err != nil {
			if ctx.Err() != nil {
				return HourlySummary{}, 0, ctx.Err()
			}
			c.cfg.Logger.Warn("summary: reading session", "session", sess.ID, "error", err)
			continue
		}
		s.Stats.Skipped += res.Skipped
		s.Stats.Unknown += res.Unknown

		for _, ev := range res.Events {
			if ev.Kind.IsMessage() {
				ev.Content = c.cfg.Scrub(ev.Content)
			}
			switch ev.Kind {
			case logstore.KindUserMessage:
				s.Stats.User++
				s.Topics = appendUnique(s.Topics, c.cfg.MaxTopics, c.cfg.Extractor.Topics(ev.Content)...)
				actionText = append(actionText, ownedText{"user", ev.Content})
			case logstore.KindAssistantMessage:
				s.Stats.Assistant++
				for _, d := range c.cfg.Extractor.Decisions(ev.Content) {
					if len(s.Decisions) >= c.cfg.MaxDecisions {
						break
					}
					s.Decisions = append(s.Decisions, Decision{Text: d, Time: eventTime(ev, now)})
				}
				actionText = append(actionText, ownedText{"agent", ev.Content})
			case logstore.KindToolCall:
				s.Stats.Tools++
				name := ev.Tool
				if name == "" {
					name = "unknown"
				}
				s.ToolCounts[name]++
			case logstore.KindThinking:
				s.Stats.Thinking++
			default:
				c.cfg.Logger.Debug("summary: skipping unknown event", "type", ev.RawType, "session", sess.ID)
			}
		}
	}

	seen := make(map[string]bool)
	for _, entry := range actionText {
		for _, m := range c.cfg.Extractor.Actions(entry.text) {
			if len(s.Actions) >= c.cfg.MaxActions {
				break
			}
			if seen[m.Text] {
				continue
			}
			seen[m.Text] = true
			s.Actions = append(s.Actions, Action{Text: m.Text, Status: StatusTodo, Owner: entry.owner, Deadline: m.Deadline})
		}
	}

	return s.Fit(c.cfg.MaxTokens * c.cfg.CharsPerToken), len(sessions), nil
}

// Run builds a summary for the lookback window and appends it to the
// archive. When no session was active the result has an empty Path and the
// error is nil.
func (c *Compactor) Run(ctx context.Context, lookback time.Duration) (Result, error) {
	s, n, err := c.Build(ctx, lookback)
	if err != nil {
		return Result{}, err
	}
	if n == 0 || s.Empty() {
		c.cfg.Logger.Debug("summary: no recent activity", "sessions", n)
		return Result{Summary: s, Sessions: n}, nil
	}

	text := s.Format()
	path, err := c.archive.Append(s.Timestamp, text)
	if err != nil {
		return Result{}, err
	}

	c.cfg.Logger.Info("summary: written",
		"path", path,
		"sessions", n,
		"topics", len(s.Topics),
		"decisions", len(s.Decisions),
		"actions", len(s.Actions),
		"skipped_lines", s.Stats.Skipped,
	)
	return Result{Path: path, Summary: s, Text: text, Sessions: n}, nil
}

func eventTime(ev logstore.Event, fallback time.Time) time.Time {
	if ev.Timestamp.IsZero() {
		return fallback
	}
	return ev.Timestamp
}
