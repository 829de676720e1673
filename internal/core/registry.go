package core

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
)

var (
	registryMu sync.RWMutex
	registry   = map[ModuleID]ModuleInfo{}
)

// RegisterModule adds a module to the registry. Packages call it from init.
// It panics on a malformed ID, a missing constructor or a duplicate.
func RegisterModule(m Module) {
	info := m.ModuleInfo()
	if info.ID.Namespace() == "" || info.ID.Name() == string(info.ID) || info.ID.Name() == "" {
		panic(fmt.Sprintf("core: module ID %q must have the form namespace.name", info.ID))
	}
	if info.New == nil {
		panic(fmt.Sprintf("core: module %s has no constructor", info.ID))
	}

	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[info.ID]; dup {
		panic(fmt.Sprintf("core: module %s registered twice", info.ID))
	}
	registry[info.ID] = info
}

// GetModule looks up a registered module.
func GetModule(id string) (ModuleInfo, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	info, ok := registry[ModuleID(id)]
	return info, ok
}

// GetModules lists registered modules ordered by ID.
func GetModules() []ModuleInfo {
	registryMu.RLock()
	infos := make([]ModuleInfo, 0, len(registry))
	for _, info := range registry {
		infos = append(infos, info)
	}
	registryMu.RUnlock()

	slices.SortFunc(infos, func(a, b ModuleInfo) int { return cmp.Compare(a.ID, b.ID) })
	return infos
}
