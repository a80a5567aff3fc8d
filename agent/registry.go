package agent

import (
	"context"
	"sync"
)

// CancelRegistry maps request ids to cancel handles so that a caller holding
// only an id can abort a run it did not start. Safe for concurrent use.
type CancelRegistry struct {
	mu      sync.Mutex
	handles map[string]context.CancelFunc
}

// NewCancelRegistry creates an empty registry.
func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{handles: make(map[string]context.CancelFunc)}
}

// Add registers a cancel handle under id, replacing any previous handle.
func (r *CancelRegistry) Add(id string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[id] = cancel
}

// Abort triggers and removes the handle for id. It returns false when the
// id is unknown or the request already completed; calling it twice for the
// same id is harmless.
func (r *CancelRegistry) Abort(id string) bool {
	r.mu.Lock()
	cancel, ok := r.handles[id]
	delete(r.handles, id)
	r.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// Remove drops the handle for id without triggering it. Called when a
// request completes normally.
func (r *CancelRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, id)
}
