// Package registry maps announced user ids to their single addressable
// connection. It is the most contended piece of shared state: every connect
// and disconnect touches it, from independent per-connection goroutines.
package registry

import (
	"sync"

	"github.com/collabhub/presence-relay/internal/wire"
)

// Registry is a concurrency-safe user id -> connection map.
//
// A user has at most one addressable connection: Register unconditionally
// supersedes any previous mapping. The superseded connection is not closed,
// it just stops being reachable by user id.
type Registry struct {
	mu      sync.RWMutex
	byUser  map[string]wire.Conn
	userIDs map[string]string // conn id -> user id, for the Unregister guard
}

func New() *Registry {
	return &Registry{
		byUser:  make(map[string]wire.Conn),
		userIDs: make(map[string]string),
	}
}

// Register binds userID to conn, replacing any existing binding.
func (r *Registry) Register(userID string, conn wire.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// A conn re-announcing under a new user id must stop being addressable
	// under its old one, or the forward and reverse maps drift apart.
	if oldUser, ok := r.userIDs[conn.ID()]; ok && oldUser != userID {
		if cur, ok := r.byUser[oldUser]; ok && cur.ID() == conn.ID() {
			delete(r.byUser, oldUser)
		}
	}
	if prev, ok := r.byUser[userID]; ok {
		delete(r.userIDs, prev.ID())
	}
	r.byUser[userID] = conn
	r.userIDs[conn.ID()] = userID
}

// Unregister removes conn's binding only if conn is still the authoritative
// connection for its user. A disconnect event for a connection that has
// already been superseded by a newer Register is ignored, so the newer
// connection's binding survives regardless of event ordering.
//
// It returns the user id that was unbound, and whether an unbind happened.
func (r *Registry) Unregister(conn wire.Conn) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.userIDs[conn.ID()]
	if !ok {
		return "", false
	}
	current, ok := r.byUser[userID]
	if !ok || current.ID() != conn.ID() {
		return "", false
	}
	delete(r.byUser, userID)
	delete(r.userIDs, conn.ID())
	return userID, true
}

// Lookup returns the addressable connection for userID, if any.
func (r *Registry) Lookup(userID string) (wire.Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byUser[userID]
	return conn, ok
}

// Conns returns a point-in-time copy of all registered connections.
func (r *Registry) Conns() []wire.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]wire.Conn, 0, len(r.byUser))
	for _, conn := range r.byUser {
		out = append(out, conn)
	}
	return out
}
