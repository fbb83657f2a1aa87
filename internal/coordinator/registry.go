package coordinator

import (
	"sync"

	"github.com/kalambet/quadsync/internal/txn"
)

// Registry is the in-memory table of in-flight transactions. Each
// Coordinator instance owns its own registry (injectable for tests), so
// coordinators never share state through a package-level table.
type Registry struct {
	mu     sync.Mutex
	active map[string]*txn.Transaction
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[string]*txn.Transaction)}
}

// Add registers a transaction for the duration of its outer call.
func (r *Registry) Add(t *txn.Transaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[t.ID] = t
}

// Remove deregisters a transaction. Safe to call for unknown IDs.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, id)
}

// Count returns the number of in-flight transactions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
