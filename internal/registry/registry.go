// Package registry tracks which session owns each execution context. Only one
// session may be active per context at a time.
package registry

import (
	"sync"
)

var registry struct {
	mu     sync.RWMutex
	owners map[string]any
}

// nolint:gochecknoinits
func init() {
	registry.owners = make(map[string]any)
}

// Acquire claims context for owner. It returns false when a different owner
// already holds it. Acquiring a context already held by owner succeeds.
func Acquire(context string, owner any) bool {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	if current, exists := registry.owners[context]; exists {
		return current == owner
	}
	registry.owners[context] = owner
	return true
}

// Release gives context up if owner holds it. Releasing a context held by
// someone else is a no-op.
func Release(context string, owner any) {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	if current, exists := registry.owners[context]; exists && current == owner {
		delete(registry.owners, context)
	}
}

// Owner returns the current owner of context, or nil if it is free.
func Owner(context string) any {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	return registry.owners[context]
}

// Clear releases every context.
func Clear() {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.owners = make(map[string]any)
}
