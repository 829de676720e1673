package security

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Payload limits applied when a caller leaves a field at zero.
const (
	DefaultMaxPayloadBytes = 1 << 20
	DefaultMaxPayloadDepth = 32
)

// Payload errors.
var (
	ErrPayloadTooLarge = errors.New("security: payload too large")
	ErrPayloadTooDeep  = errors.New("security: payload nested too deeply")
	ErrPayloadInvalid  = errors.New("security: invalid payload")
)

// PayloadLimits bounds a JSON document received from a client: gateway
// request bodies and hook frames.
type PayloadLimits struct {
	MaxBytes int
	MaxDepth int
}

func (l PayloadLimits) withDefaults() PayloadLimits {
	if l.MaxBytes <= 0 {
		l.MaxBytes = DefaultMaxPayloadBytes
	}
	if l.MaxDepth <= 0 {
		l.MaxDepth = DefaultMaxPayloadDepth
	}
	return l
}

// Check enforces the size and nesting limits without decoding data.
func (l PayloadLimits) Check(data []byte) error {
	l = l.withDefaults()
	if len(data) > l.MaxBytes {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(data), l.MaxBytes)
	}
	return checkNesting(data, l.MaxDepth)
}

// Decode checks data and unmarshals it into v.
func (l PayloadLimits) Decode(data []byte, v any) error {
	if err := l.Check(data); err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %w", ErrPayloadInvalid, err)
	}
	return nil
}

// checkNesting scans data once and stops at the first bracket that goes
// past limit. Brackets inside strings do not count.
func checkNesting(data []byte, limit int) error {
	depth := 0
	inString, escaped := false, false
	for i, b := range data {
		if inString {
			switch {
			case escaped:
				escaped = false
			case b == '\\':
				escaped = true
			case b == '"':
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			inString = true
		case '{', '[':
			depth++
			if depth > limit {
				return fmt.Errorf("%w: depth %d at offset %d (max %d)", ErrPayloadTooDeep, depth, i, limit)
			}
		case '}', ']':
			depth--
			if depth < 0 {
				return fmt.Errorf("%w: unbalanced %q at offset %d", ErrPayloadInvalid, b, i)
			}
		}
	}
	return nil
}
