// Package summary distills recent session logs into compact hourly summaries
// and manages the daily files they are appended to.
package summary

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// Default extraction caps.
const (
	DefaultMaxTokens    = 512
	DefaultMaxTopics    = 4
	DefaultMaxDecisions = 5
	DefaultMaxActions   = 8
)

// HeadingLayout is the timestamp layout of a section heading.
const HeadingLayout = "2006-01-02 15:04"

// ActionStatus is the lifecycle state of an action item.
type ActionStatus string

// Action statuses.
const (
	StatusTodo    ActionStatus = "todo"
	StatusProg    ActionStatus = "prog"
	StatusDone    ActionStatus = "done"
	StatusBlocked ActionStatus = "block"
)

// Decision is a choice stated by the assistant.
type Decision struct {
	Text      string
	Rationale string
	Time      time.Time
}

// Action is a follow-up item mentioned in the conversation.
type Action struct {
	Text     string
	Status   ActionStatus
	Owner    string
	Deadline string
}

// MessageStats counts the events that went into a summary.
type MessageStats struct {
	User      int
	Assistant int
	Tools     int
	Thinking  int
	// Skipped counts malformed lines.
	Skipped int
	// Unknown counts well-formed events of a type memoir ignores.
	Unknown int
}

// HourlySummary is the distilled form of one window of session activity.
// It is immutable once written.
type HourlySummary struct {
	Timestamp  time.Time
	Topics     []string
	Decisions  []Decision
	Actions    []Action
	ToolCounts map[string]int
	Stats      MessageStats
}

// Empty reports whether the summary carries no events at all.
func (s HourlySummary) Empty() bool {
	st := s.Stats
	return st.User+st.Assistant+st.Tools+st.Thinking == 0
}

// Format renders the compact section text. Empty blocks are omitted.
func (s HourlySummary) Format() string {
	blocks := []string{"## " + s.Timestamp.Format(HeadingLayout)}

	if len(s.Topics) > 0 {
		blocks = append(blocks, "T:"+strings.Join(s.Topics, ","))
	}

	if len(s.Decisions) > 0 {
		var sb strings.Builder
		sb.WriteString("D:")
		for _, d := range s.Decisions {
			rationale := cmp.Or(d.Rationale, "see context")
			fmt.Fprintf(&sb, "\n - %s | %s [%s]", d.Text, rationale, d.Time.Format("15:04"))
		}
		blocks = append(blocks, sb.String())
	}

	if len(s.Actions) > 0 {
		var sb strings.Builder
		sb.WriteString("A:")
		for _, a := range s.Actions {
			fmt.Fprintf(&sb, "\n - [%s] %s @%s", cmp.Or(a.Status, StatusTodo), a.Text, cmp.Or(a.Owner, "agent"))
			if a.Deadline != "" {
				sb.WriteString(" | due:" + a.Deadline)
			}
		}
		blocks = append(blocks, sb.String())
	}

	var tail []string
	if len(s.ToolCounts) > 0 {
		tools := make([]string, 0, len(s.ToolCounts))
		for _, name := range slices.Sorted(maps.Keys(s.ToolCounts)) {
			tools = append(tools, fmt.Sprintf("%s:%d", name, s.ToolCounts[name]))
		}
		tail = append(tail, "X:"+strings.Join(tools, " "))
	}
	tail = append(tail, fmt.Sprintf("S:u%d a%d t%d", s.Stats.User, s.Stats.Assistant, s.Stats.Tools))
	blocks = append(blocks, strings.Join(tail, "\n"))

	return strings.Join(blocks, "\n\n")
}

// Fit drops content until the formatted summary is at most maxChars long.
// Decisions go first, then actions, then tool counts, then topics. The
// receiver is not modified.
func (s HourlySummary) Fit(maxChars int) HourlySummary {
	out := s
	out.Topics = slices.Clone(s.Topics)
	out.Decisions = slices.Clone(s.Decisions)
	out.Actions = slices.Clone(s.Actions)
	out.ToolCounts = maps.Clone(s.ToolCounts)

	for len(out.Format()) > maxChars {
		switch {
		case len(out.Decisions) > 0:
			out.Decisions = out.Decisions[:len(out.Decisions)-1]
		case len(out.Actions) > 0:
			out.Actions = out.Actions[:len(out.Actions)-1]
		case len(out.ToolCounts) > 0:
			out.ToolCounts = nil
		case len(out.Topics) > 0:
			out.Topics = out.Topics[:len(out.Topics)-1]
		default:
			return out
		}
	}
	return out
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
