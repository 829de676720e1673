package security

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

func decodeEvents(t *testing.T, r io.Reader) []AuditEvent {
	t.Helper()
	var out []AuditEvent
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		var ev AuditEvent
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("decode %q: %v", sc.Text(), err)
		}
		out = append(out, ev)
	}
	return out
}

func TestAuditLogger_WritesJSONLines(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	at := time.Date(2026, 10, 17, 14, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	logger := NewAuditLogger(AuditLoggerConfig{Writer: &buf, Now: func() time.Time { return at }})

	logger.Log(AuditEvent{Type: EventInjection, Surface: SurfaceHook, SessionID: "sess-1", Detail: "session_changed"})
	logger.Log(AuditEvent{Type: EventIndexRebuild, Surface: SurfaceGateway, Detail: "42 chunks"})

	events := decodeEvents(t, &buf)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	first := events[0]
	if first.Type != EventInjection || first.Surface != SurfaceHook || first.SessionID != "sess-1" {
		t.Errorf("first = %+v", first)
	}
	if !first.Timestamp.Equal(at) || first.Timestamp.Location() != time.UTC {
		t.Errorf("timestamp = %v, want %v in UTC", first.Timestamp, at)
	}
	if first.ID == "" || first.ID == events[1].ID {
		t.Errorf("ids = %q, %q; want distinct non-empty", first.ID, events[1].ID)
	}
}

func TestAuditLogger_Redacts(t *testing.T) {
	t.Parallel()

	r := &Redactor{}
	r.SetLiterals("hook.websocket", "hook-secret-token")

	var buf bytes.Buffer
	logger := NewAuditLogger(AuditLoggerConfig{Writer: &buf, Redactor: r})

	meta := map[string]string{"frame": `{"token":"hook-secret-token"}`}
	logger.Log(AuditEvent{Type: EventAuthFailure, Detail: "bad hook-secret-token", Metadata: meta})

	if strings.Contains(buf.String(), "hook-secret-token") {
		t.Errorf("secret in audit output: %s", buf.String())
	}
	if meta["frame"] != `{"token":"hook-secret-token"}` {
		t.Errorf("caller metadata mutated: %v", meta)
	}
}

func TestAuditLogger_OnEventWithoutWriter(t *testing.T) {
	t.Parallel()

	var got []EventType
	logger := NewAuditLogger(AuditLoggerConfig{
		OnEvent: func(e AuditEvent) { got = append(got, e.Type) },
	})

	for _, typ := range []EventType{EventHookConnect, EventInjection, EventHookDisconnect} {
		logger.Log(AuditEvent{Type: typ})
	}

	want := []EventType{EventHookConnect, EventInjection, EventHookDisconnect}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, got[i], want[i])
		}
	}
	if logger.WriteErrors() != 0 {
		t.Errorf("WriteErrors = %d", logger.WriteErrors())
	}
}

func TestAuditLogger_ConcurrentWrites(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewAuditLogger(AuditLoggerConfig{Writer: &buf})

	var wg sync.WaitGroup
	for range 50 {
		wg.Go(func() {
			logger.Log(AuditEvent{Type: EventRateLimit, Detail: KindRequest})
		})
	}
	wg.Wait()

	if n := len(decodeEvents(t, &buf)); n != 50 {
		t.Fatalf("got %d lines, want 50", n)
	}
}

type errWriter struct{}

func (errWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestAuditLogger_WriteErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		w    io.Writer
		want int64
	}{
		{"failing writer", errWriter{}, 2},
		{"discard", io.Discard, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			logger := NewAuditLogger(AuditLoggerConfig{Writer: tt.w})
			logger.Log(AuditEvent{Type: EventConfigChange})
			logger.Log(AuditEvent{Type: EventConfigChange})
			if got := logger.WriteErrors(); got != tt.want {
				t.Errorf("WriteErrors() = %d, want %d", got, tt.want)
			}
		})
	}
}
