// Package hostlink lets an agent host drive the memory pipeline over a
// WebSocket: the host authenticates once with a token, then sends pre-turn,
// tick, stats and health requests and receives typed results.
package hostlink

import "errors"

// Sentinel errors for the hostlink package.
var (
	ErrInvalidToken   = errors.New("hostlink: invalid token")
	ErrMaxConnections = errors.New("hostlink: maximum number of connections reached")
	ErrNoMemory       = errors.New("hostlink: memory.facade service not registered")
)
