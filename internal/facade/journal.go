package facade

import (
	"context"
	"time"
)

// PreviewChars is the length of the injection preview kept in the journal.
const PreviewChars = 200

// Injection records one compaction-triggered injection.
type Injection struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	SessionID    string    `json:"session_id"`
	MessageCount int       `json:"message_count"`
	Reason       string    `json:"reason"`
	Size         int       `json:"size"`
	Tokens       int       `json:"tokens"`
	Preview      string    `json:"preview"`
}

// SummaryRun records one summary tick.
type SummaryRun struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Path      string    `json:"path,omitempty"`
	Sessions  int       `json:"sessions"`
	Error     string    `json:"error,omitempty"`
}

// Journal persists pipeline events. Implementations assign IDs when empty.
type Journal interface {
	RecordInjection(ctx context.Context, inj Injection) error
	RecordSummaryRun(ctx context.Context, run SummaryRun) error
	Injections(ctx context.Context, limit int) ([]Injection, error)
}

func preview(text string) string {
	if len(text) <= PreviewChars {
		return text
	}
	n := PreviewChars
	for n > 0 && text[n]&0xC0 == 0x80 {
		n--
	}
	return text[:n] + "..."
}
