package security

import (
	"context"
	"log/slog"
	"regexp"
	"unicode/utf8"
)

// DefaultMaxValueLen caps string attributes when HandlerOptions leaves
// MaxValueLen at zero. Session content easily runs to kilobytes.
const DefaultMaxValueLen = 2048

// truncatedSuffix marks a shortened value.
const truncatedSuffix = "...(truncated)"

// secretAttrKey matches attribute keys whose string values are always
// hidden. Numeric attributes such as "tokens" counts are left alone.
var secretAttrKey = regexp.MustCompile(`(?i)(^|[_.-])(secret|password|passwd|token|bearer_token|api_key|apikey|credential|authorization)$`)

// HandlerOptions tunes a RedactingHandler.
type HandlerOptions struct {
	// MaxValueLen is the rune limit for string values and the record
	// message. Negative disables truncation.
	MaxValueLen int
}

// RedactingHandler scrubs every record before it reaches the wrapped
// handler: values under secret-looking keys are replaced outright, other
// strings go through the Redactor and are capped in length.
type RedactingHandler struct {
	next     slog.Handler
	redactor *Redactor
	maxLen   int
}

var _ slog.Handler = (*RedactingHandler)(nil)

// NewRedactingHandler wraps next. opts may be nil.
func NewRedactingHandler(next slog.Handler, redactor *Redactor, opts *HandlerOptions) *RedactingHandler {
	maxLen := DefaultMaxValueLen
	if opts != nil && opts.MaxValueLen != 0 {
		maxLen = opts.MaxValueLen
	}
	return &RedactingHandler{next: next, redactor: redactor, maxLen: maxLen}
}

// Enabled implements slog.Handler.
func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *RedactingHandler) Handle(ctx context.Context, record slog.Record) error {
	out := slog.NewRecord(record.Time, record.Level, h.scrub(record.Message), record.PC)
	record.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(h.attr(a))
		return true
	})
	return h.next.Handle(ctx, out)
}

// WithAttrs implements slog.Handler.
func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		clean[i] = h.attr(a)
	}
	return h.wrap(h.next.WithAttrs(clean))
}

// WithGroup implements slog.Handler.
func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return h.wrap(h.next.WithGroup(name))
}

func (h *RedactingHandler) wrap(next slog.Handler) *RedactingHandler {
	return &RedactingHandler{next: next, redactor: h.redactor, maxLen: h.maxLen}
}

func (h *RedactingHandler) attr(a slog.Attr) slog.Attr {
	a.Value = a.Value.Resolve()
	kind := a.Value.Kind()

	if (kind == slog.KindString || kind == slog.KindAny) && secretAttrKey.MatchString(a.Key) {
		if a.Value.String() == "" {
			return a
		}
		return slog.String(a.Key, RedactPlaceholder)
	}

	switch kind {
	case slog.KindString:
		a.Value = slog.StringValue(h.scrub(a.Value.String()))
	case slog.KindGroup:
		members := a.Value.Group()
		clean := make([]slog.Attr, len(members))
		for i, m := range members {
			clean[i] = h.attr(m)
		}
		a.Value = slog.GroupValue(clean...)
	case slog.KindAny:
		// Errors and other values without a LogValuer are logged by their
		// string form.
		s := a.Value.String()
		if clean := h.scrub(s); clean != s {
			a.Value = slog.StringValue(clean)
		}
	}
	return a
}

func (h *RedactingHandler) scrub(s string) string {
	if h.redactor != nil {
		s = h.redactor.Redact(s)
	}
	return truncate(s, h.maxLen)
}

func truncate(s string, n int) string {
	if n < 0 || len(s) <= n || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos] + truncatedSuffix
		}
		i++
	}
	return s
}
