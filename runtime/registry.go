// Package runtime coordinates the realtime subsystem: which users are
// connected, presence broadcasting, and message relaying. It contains
// no storage or transport logic.
package runtime

import (
	"sync"

	"dm-chat/contract"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

type connectionSet map[uuid.UUID]contract.FrameSink

// Registry is the authoritative in-memory map from user ID to that
// user's live connections. It owns the online set: a user ID is a key
// if and only if it has at least one registered connection.
//
// Registry is safe for concurrent use. It is an explicitly constructed
// component with a lifecycle (NewRegistry at server start, Shutdown at
// server stop), never ambient global state.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]connectionSet
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]connectionSet)}
}

// Register adds a connection to the user's set, creating the entry if
// absent. Registering the same connection twice is a no-op. It reports
// whether the user just came online, so the caller knows a presence
// broadcast is due.
func (r *Registry) Register(userID string, sink contract.FrameSink) (cameOnline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.sessions[userID]
	if !ok {
		set = make(connectionSet)
		r.sessions[userID] = set
	}
	set[sink.ID()] = sink
	return !ok
}

// Deregister removes a connection from the user's set and drops the
// entry once the set is empty. Deregistering a connection that is not
// present is a no-op, which absorbs double-close. It reports whether
// the user just went offline.
func (r *Registry) Deregister(userID string, sink contract.FrameSink) (wentOffline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.sessions[userID]
	if !ok {
		return false
	}
	if _, ok = set[sink.ID()]; !ok {
		return false
	}
	delete(set, sink.ID())
	if len(set) == 0 {
		delete(r.sessions, userID)
		return true
	}
	return false
}

// ConnectionsFor returns a snapshot of the user's live connections,
// empty if the user is offline.
func (r *Registry) ConnectionsFor(userID string) []contract.FrameSink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.Values(r.sessions[userID])
}

// OnlineUsers returns the current key set.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.Keys(r.sessions)
}

// Snapshot returns the online set together with every live connection,
// read under a single lock so a presence broadcast never publishes a
// torn intermediate state.
func (r *Registry) Snapshot() (online []string, sinks []contract.FrameSink) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	online = lo.Keys(r.sessions)
	for _, set := range r.sessions {
		sinks = append(sinks, lo.Values(set)...)
	}
	return online, sinks
}

// Shutdown empties the registry, then closes every connection that was
// registered. The map is cleared before closing so a close handler that
// deregisters finds a no-op instead of the registry lock.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	var sinks []contract.FrameSink
	for _, set := range r.sessions {
		sinks = append(sinks, lo.Values(set)...)
	}
	r.sessions = make(map[string]connectionSet)
	r.mu.Unlock()

	for _, sink := range sinks {
		_ = sink.Close()
	}
}
