package ctxengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/flemzord/memoir/internal/logstore"
	"github.com/flemzord/memoir/internal/summary"
)

// Source defaults.
const (
	DefaultSummaryWindow  = 24 * time.Hour
	DefaultRecentPerRole  = 15
	DefaultRecentChars    = 100
	DefaultReasoningCount = 15
	DefaultReasoningChars = 80
	DefaultRegistryChars  = 200
	DefaultOpenTasks      = 5
)

// Status file names, relative to the global directory.
const (
	AgentRegistryFile = "agent_registry.md"
	TaskLogFile       = "task_log.md"
	MeshStatusFile    = "mesh_status_latest.json"
)

// SummarySource yields the hourly summary sections of the last Window.
type SummarySource struct {
	Archive *summary.Archive
	Window  time.Duration
}

var _ Source = (*SummarySource)(nil)

// Category implements Source.
func (*SummarySource) Category() Category { return CategorySummaries }

// Fetch implements Source.
func (s *SummarySource) Fetch(context.Context) ([]string, error) {
	window := s.Window
	if window <= 0 {
		window = DefaultSummaryWindow
	}
	sections, err := s.Archive.Recent(window, -1)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(sections))
	for _, sec := range slices.Backward(sections) {
		out = append(out, sec.Text())
	}
	return out, nil
}

// RecentSource yields the latest user and assistant messages of the newest
// session, each role capped at PerRole messages.
type RecentSource struct {
	Logs     *logstore.Store
	PerRole  int
	MaxChars int
}

var _ Source = (*RecentSource)(nil)

// Category implements Source.
func (*RecentSource) Category() Category { return CategoryRecent }

// Fetch implements Source.
func (s *RecentSource) Fetch(ctx context.Context) ([]string, error) {
	perRole := cmpOr(s.PerRole, DefaultRecentPerRole)
	maxChars := cmpOr(s.MaxChars, DefaultRecentChars)

	events, err := s.Logs.TailMessages(ctx, 2*perRole)
	if err != nil {
		return nil, err
	}
	var users, assistants int
	var kept []string
	for _, ev := range slices.Backward(events) {
		switch ev.Kind {
		case logstore.KindUserMessage:
			if users == perRole {
				continue
			}
			users++
		case logstore.KindAssistantMessage:
			if assistants == perRole {
				continue
			}
			assistants++
		}
		kept = append(kept, MessageLine(ev, maxChars))
	}
	slices.Reverse(kept)
	return kept, nil
}

// MessageLine renders a conversation event as "U: ..." or "A: ...".
func MessageLine(ev logstore.Event, maxChars int) string {
	prefix := "A: "
	if ev.Kind == logstore.KindUserMessage {
		prefix = "U: "
	}
	text := strings.Join(strings.Fields(ev.Content), " ")
	return prefix + cutPrefix(text, maxChars)
}

// ReasoningSource yields the latest thinking blocks of the newest session.
type ReasoningSource struct {
	Logs     *logstore.Store
	Count    int
	MaxChars int
}

var _ Source = (*ReasoningSource)(nil)

// Category implements Source.
func (*ReasoningSource) Category() Category { return CategoryReasoning }

// Fetch implements Source.
func (s *ReasoningSource) Fetch(ctx context.Context) ([]string, error) {
	events, err := s.Logs.TailMessages(ctx, cmpOr(s.Count, DefaultReasoningCount), logstore.KindThinking)
	if err != nil {
		return nil, err
	}
	maxChars := cmpOr(s.MaxChars, DefaultReasoningChars)
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = "- " + cutPrefix(strings.Join(strings.Fields(ev.Content), " "), maxChars)
	}
	return out, nil
}

// StatusSource yields system status read from the global directory: the
// agent registry head, open tasks and mesh node availability. Missing files
// are skipped; a malformed mesh file is an error.
type StatusSource struct {
	Dir string
}

var _ Source = (*StatusSource)(nil)

// Category implements Source.
func (*StatusSource) Category() Category { return CategoryStatus }

// Fetch implements Source.
func (s *StatusSource) Fetch(context.Context) ([]string, error) {
	var out []string

	registry, err := readOptional(filepath.Join(s.Dir, AgentRegistryFile))
	if err != nil {
		return nil, err
	}
	if registry = strings.TrimSpace(registry); registry != "" {
		out = append(out, "Agents: "+cutPrefix(registry, DefaultRegistryChars))
	}

	tasks, err := readOptional(filepath.Join(s.Dir, TaskLogFile))
	if err != nil {
		return nil, err
	}
	if open := OpenTasks(tasks, DefaultOpenTasks); len(open) > 0 {
		out = append(out, "Tasks: "+strings.Join(open, " | "))
	}

	mesh, err := readOptional(filepath.Join(s.Dir, MeshStatusFile))
	if err != nil {
		return nil, err
	}
	if mesh != "" {
		online, total, err := MeshAvailability([]byte(mesh))
		if err != nil {
			return out, err
		}
		out = append(out, fmt.Sprintf("Mesh: %d/%d nodes online", online, total))
	}
	return out, nil
}

// OpenTasks returns up to n task lines that are pending or in progress.
func OpenTasks(taskLog string, n int) []string {
	var open []string
	for line := range strings.Lines(taskLog) {
		if len(open) == n {
			break
		}
		line = strings.TrimSpace(line)
		if strings.Contains(line, "[ ]") || strings.Contains(line, "[prog]") {
			open = append(open, line)
		}
	}
	return open
}

// MeshAvailability counts online nodes in a mesh status document of the
// form {"nodes": {"name": {"status": "online"}}}.
func MeshAvailability(data []byte) (online, total int, err error) {
	var doc struct {
		Nodes map[string]struct {
			Status string `json:"status"`
		} `json:"nodes"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0, 0, fmt.Errorf("ctxengine: decoding mesh status: %w", err)
	}
	for _, n := range doc.Nodes {
		if n.Status == "online" {
			online++
		}
	}
	return online, len(doc.Nodes), nil
}

func readOptional(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	return string(data), err
}

func cmpOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
