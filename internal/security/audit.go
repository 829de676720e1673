package security

import (
	"encoding/json"
	"io"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EventType categorizes audit events.
type EventType string

// Audit event types.
const (
	EventAuthSuccess    EventType = "auth_success"
	EventAuthFailure    EventType = "auth_failure"
	EventConfigChange   EventType = "config_change"
	EventRateLimit      EventType = "rate_limit"
	EventInjection      EventType = "injection"
	EventIndexRebuild   EventType = "index_rebuild"
	EventHookConnect    EventType = "hook_connect"
	EventHookDisconnect EventType = "hook_disconnect"
)

// Surface names the entry point that produced an event.
type Surface string

// Known surfaces.
const (
	SurfaceGateway Surface = "gateway"
	SurfaceHook    Surface = "hook"
	SurfaceReload  Surface = "reload"
	SurfaceCLI     Surface = "cli"
)

// AuditEvent is one audit record, written as a JSON line.
type AuditEvent struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Type      EventType         `json:"type"`
	Surface   Surface           `json:"surface,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Remote    string            `json:"remote,omitempty"`
	Detail    string            `json:"detail,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AuditLoggerConfig configures an AuditLogger.
type AuditLoggerConfig struct {
	// Writer receives JSON lines. Nil only dispatches to OnEvent.
	Writer io.Writer
	// Redactor scrubs Detail and Metadata values.
	Redactor *Redactor
	// OnEvent observes every event after redaction.
	OnEvent func(AuditEvent)
	Now     func() time.Time
}

// AuditLogger records security-relevant events. Events are stamped with a
// time and a fresh ID, redacted, then written in call order.
type AuditLogger struct {
	mu       sync.Mutex
	enc      *json.Encoder
	redactor *Redactor
	onEvent  func(AuditEvent)
	now      func() time.Time
	failed   atomic.Int64
}

// NewAuditLogger returns a logger for cfg.
func NewAuditLogger(cfg AuditLoggerConfig) *AuditLogger {
	l := &AuditLogger{redactor: cfg.Redactor, onEvent: cfg.OnEvent, now: cfg.Now}
	if l.now == nil {
		l.now = time.Now
	}
	if cfg.Writer != nil {
		l.enc = json.NewEncoder(cfg.Writer)
	}
	return l
}

// Log records event. The caller's Metadata map is not modified.
func (l *AuditLogger) Log(event AuditEvent) {
	event.ID = uuid.NewString()
	event.Timestamp = l.now().UTC()
	event.Metadata = maps.Clone(event.Metadata)
	if l.redactor != nil {
		event.Detail = l.redactor.Redact(event.Detail)
		for k, v := range event.Metadata {
			event.Metadata[k] = l.redactor.Redact(v)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.onEvent != nil {
		l.onEvent(event)
	}
	if l.enc != nil {
		if err := l.enc.Encode(event); err != nil {
			l.failed.Add(1)
		}
	}
}

// WriteErrors returns how many events could not be written.
func (l *AuditLogger) WriteErrors() int64 {
	return l.failed.Load()
}
