// Package core provides the module system that memoir's optional surfaces
// (HTTP gateway, websocket hook, journal) plug into.
package core

import "strings"

// ModuleID is a dotted identifier such as "gateway.http" or "memory.sqlite".
// The part before the first dot is the namespace.
type ModuleID string

// Namespace returns the leading segment of the ID.
func (id ModuleID) Namespace() string {
	ns, _, _ := strings.Cut(string(id), ".")
	return ns
}

// Name returns the ID without its namespace.
func (id ModuleID) Name() string {
	_, name, ok := strings.Cut(string(id), ".")
	if !ok {
		return string(id)
	}
	return name
}

// ModuleInfo describes a registered module.
type ModuleInfo struct {
	// ID uniquely identifies the module.
	ID ModuleID

	// New returns a fresh, unconfigured instance.
	New func() Module
}

// Module is the minimal contract every module satisfies. Optional lifecycle
// behavior is expressed through the interfaces in lifecycle.go.
type Module interface {
	ModuleInfo() ModuleInfo
}
