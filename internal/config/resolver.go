package config

import (
	"cmp"
	"slices"

	"github.com/flemzord/memoir/internal/core"
)

// namespaceOrder ranks module namespaces by load order. Storage loads first
// so that it is stopped last; unlisted namespaces load after these.
var namespaceOrder = map[string]int{
	"memory":  0,
	"hook":    1,
	"gateway": 2,
}

// Resolve returns the configured module IDs in load order: by namespace
// rank, then by ID.
func Resolve(cfg *Config) []string {
	ids := make([]string, 0, len(cfg.Modules))
	for id := range cfg.Modules {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		return cmp.Or(
			cmp.Compare(rank(a), rank(b)),
			cmp.Compare(a, b),
		)
	})
	return ids
}

func rank(id string) int {
	if r, ok := namespaceOrder[core.ModuleID(id).Namespace()]; ok {
		return r
	}
	return len(namespaceOrder)
}
