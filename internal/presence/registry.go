// Package presence tracks which identities currently own at least one live
// connection. It is the single source of truth for online/offline status.
package presence

import (
	"sort"
	"sync"

	"github.com/samber/lo"
)

// Registry counts live connections per identity. An identity is online
// while its count is at least one.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]int)}
}

// Add records a new connection for userID and reports whether it is the
// identity's first live connection.
func (r *Registry) Add(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[userID]++
	return r.conns[userID] == 1
}

// Remove drops one connection for userID and reports whether that was the
// identity's last one. Removing an unknown identity is a no-op.
func (r *Registry) Remove(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.conns[userID]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(r.conns, userID)
		return true
	}
	r.conns[userID] = n - 1
	return false
}

// IsOnline reports whether userID has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[userID] > 0
}

// Snapshot returns the online identities in ascending order.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	ids := lo.Keys(r.conns)
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Count returns the number of online identities.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Connections returns the number of live connections held by userID.
func (r *Registry) Connections(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[userID]
}
