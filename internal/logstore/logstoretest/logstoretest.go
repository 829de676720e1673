// Package logstoretest writes session logs for tests.
package logstoretest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// Line is one event as the host runtime writes it.
type Line struct {
	Type      string    `json:"type"`
	Content   string    `json:"content,omitempty"`
	Tool      string    `json:"tool,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// User returns a user_message line.
func User(content string) Line { return Line{Type: "user_message", Content: content} }

// Assistant returns an assistant_message line.
func Assistant(content string) Line { return Line{Type: "assistant_message", Content: content} }

// Tool returns a tool_call line.
func Tool(name string) Line { return Line{Type: "tool_call", Tool: name} }

// Thinking returns a thinking line.
func Thinking(content string) Line { return Line{Type: "thinking", Content: content} }

// WriteSession writes <dir>/<id>.jsonl with the given lines and returns its
// path. Raw strings are written verbatim, which allows malformed lines.
func WriteSession(t testing.TB, dir, id string, lines ...any) string {
	t.Helper()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}

	var sb strings.Builder
	for _, l := range lines {
		switch v := l.(type) {
		case string:
			sb.WriteString(v)
		default:
			data, err := json.Marshal(v)
			if err != nil {
				t.Fatalf("marshal line: %v", err)
			}
			sb.Write(data)
		}
		sb.WriteByte('\n')
	}

	path := filepath.Join(dir, id+".jsonl")
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// Touch sets the modification time of path.
func Touch(t testing.TB, path string, mtime time.Time) {
	t.Helper()
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

// Messages returns n alternating user/assistant lines.
func Messages(n int) []any {
	lines := make([]any, n)
	for i := range lines {
		if i%2 == 0 {
			lines[i] = User("question")
		} else {
			lines[i] = Assistant("answer")
		}
	}
	return lines
}
