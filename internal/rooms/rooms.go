// Package rooms tracks transport-level group membership used to fan
// call-control events out to a set of connections without per-recipient
// addressing. Membership is keyed by connection, not user id.
package rooms

import (
	"encoding/json"
	"sync"

	"github.com/collabhub/presence-relay/internal/wire"
)

type Rooms struct {
	mu      sync.RWMutex
	members map[string]map[string]wire.Conn // room id -> conn id -> conn
	joined  map[string]map[string]struct{}  // conn id -> room ids
}

func New() *Rooms {
	return &Rooms{
		members: make(map[string]map[string]wire.Conn),
		joined:  make(map[string]map[string]struct{}),
	}
}

// Join adds conn to roomID. Joining a room twice is a no-op.
func (r *Rooms) Join(roomID string, conn wire.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.members[roomID]
	if !ok {
		room = make(map[string]wire.Conn)
		r.members[roomID] = room
	}
	room[conn.ID()] = conn

	set, ok := r.joined[conn.ID()]
	if !ok {
		set = make(map[string]struct{})
		r.joined[conn.ID()] = set
	}
	set[roomID] = struct{}{}
}

// BroadcastExcept sends an event to every member of roomID except sender.
// An unknown room or a room whose only member is the sender delivers nothing.
func (r *Rooms) BroadcastExcept(roomID string, sender wire.Conn, event string, data json.RawMessage) {
	r.mu.RLock()
	room := r.members[roomID]
	recipients := make([]wire.Conn, 0, len(room))
	for id, conn := range room {
		if id == sender.ID() {
			continue
		}
		recipients = append(recipients, conn)
	}
	r.mu.RUnlock()

	for _, conn := range recipients {
		conn.Send(event, data)
	}
}

// Remove drops conn from every room it joined. Called on disconnect; empty
// rooms are deleted so the room namespace does not grow unbounded.
func (r *Rooms) Remove(conn wire.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for roomID := range r.joined[conn.ID()] {
		delete(r.members[roomID], conn.ID())
		if len(r.members[roomID]) == 0 {
			delete(r.members, roomID)
		}
	}
	delete(r.joined, conn.ID())
}
