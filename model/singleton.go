package model

import "sync"

// Process-wide registry shared by every processor in the service.
var (
	globalRegistry *Registry
	globalOnce     sync.Once
)

// Global returns the shared registry, building the default one on first
// use if InitGlobal was never called.
func Global() *Registry {
	globalOnce.Do(func() {
		globalRegistry = NewDefaultRegistry()
	})
	return globalRegistry
}

// InitGlobal installs a configured registry as the shared instance.
// Call before any Global() use; later calls have no effect.
func InitGlobal(r *Registry) {
	globalOnce.Do(func() {
		globalRegistry = r
	})
}

// ResetGlobal clears the shared registry so tests can reinstall one.
// Not safe for concurrent use.
func ResetGlobal() {
	globalOnce = sync.Once{}
	globalRegistry = nil
}
