package presence

import (
	"sort"
	"sync"
)

// Registry maps a user id to its single active connection id. It is the only
// source of truth for where to deliver right now and is never persisted.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]string)}
}

// Set registers connID as the active connection of userID, superseding any previous one.
func (r *Registry) Set(userID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[userID] = connID
}

// Get returns the active connection of userID.
func (r *Registry) Get(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	connID, ok := r.conns[userID]
	return connID, ok
}

// Remove drops userID unconditionally.
func (r *Registry) Remove(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, userID)
}

// RemoveIfCurrent drops userID only while connID is still its registered
// connection.
func (r *Registry) RemoveIfCurrent(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.conns[userID]; !ok || current != connID {
		return false
	}
	delete(r.conns, userID)
	return true
}

// OwnerOf is the reverse lookup of a connection id.
func (r *Registry) OwnerOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for userID, id := range r.conns {
		if id == connID {
			return userID, true
		}
	}
	return "", false
}

// UserIDs returns the online user ids in sorted order.
func (r *Registry) UserIDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.conns))
	for userID := range r.conns {
		ids = append(ids, userID)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Len reports how many users are online.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
