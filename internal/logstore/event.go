// Package logstore reads the host runtime's append-only session logs.
//
// Each session is a JSONL file named after its session id. memoir never
// writes to these files.
package logstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedLine is returned for a log line that is not a JSON object.
var ErrMalformedLine = errors.New("logstore: malformed line")

// EventKind is the closed set of event types memoir understands.
type EventKind int

const (
	// KindUnknown covers every type string memoir does not handle. Such
	// events are counted and skipped, never interpreted.
	KindUnknown EventKind = iota
	KindUserMessage
	KindAssistantMessage
	KindToolCall
	KindThinking
)

var kindNames = map[EventKind]string{
	KindUnknown:          "unknown",
	KindUserMessage:      "user_message",
	KindAssistantMessage: "assistant_message",
	KindToolCall:         "tool_call",
	KindThinking:         "thinking",
}

// ParseKind maps a raw type string onto an EventKind.
func ParseKind(s string) EventKind {
	switch s {
	case "user_message":
		return KindUserMessage
	case "assistant_message":
		return KindAssistantMessage
	case "tool_call":
		return KindToolCall
	case "thinking":
		return KindThinking
	default:
		return KindUnknown
	}
}

func (k EventKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// IsMessage reports whether the kind is a conversational turn.
func (k EventKind) IsMessage() bool {
	return k == KindUserMessage || k == KindAssistantMessage
}

// Event is one parsed log line.
type Event struct {
	Kind EventKind
	// RawType keeps the original type string, useful when Kind is unknown.
	RawType   string
	Content   string
	Tool      string
	Timestamp time.Time
}

type rawEvent struct {
	Type      string          `json:"type"`
	Content   json.RawMessage `json:"content"`
	Tool      string          `json:"tool"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// ParseLine decodes a single JSONL line. A line that is valid JSON but carries
// an unrecognized type is not an error; it yields a KindUnknown event.
func ParseLine(line []byte) (Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(line, &raw); err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrMalformedLine, err)
	}
	return Event{
		Kind:      ParseKind(raw.Type),
		RawType:   raw.Type,
		Content:   decodeContent(raw.Content),
		Tool:      raw.Tool,
		Timestamp: decodeTimestamp(raw.Timestamp),
	}, nil
}

// decodeContent accepts a plain string or any other JSON value, which is kept
// verbatim so structured tool payloads still contribute text.
func decodeContent(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// decodeTimestamp accepts RFC 3339 strings, naive ISO timestamps (read as
// local time) and unix seconds. Anything else yields the zero time.
func decodeTimestamp(raw json.RawMessage) time.Time {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		f, ferr := strconv.ParseFloat(string(raw), 64)
		if ferr != nil {
			return time.Time{}
		}
		sec := int64(f)
		return time.Unix(sec, int64((f-float64(sec))*1e9))
	}
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t
		}
	}
	return time.Time{}
}
