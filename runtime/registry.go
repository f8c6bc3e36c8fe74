package runtime

import (
	"sync"

	"session-chat/contract"
	"session-chat/domain/chat"
	"session-chat/errors"
)

type members map[string]contract.Connection

// Registry maps each room to its live connections.
// A connection belongs to at most one room at a time.
type Registry struct {
	mu          sync.RWMutex
	sessions    map[string]chat.RoomID // connection id -> room
	roomMembers map[chat.RoomID]members
}

func NewRegistry() *Registry {
	return &Registry{
		sessions:    make(map[string]chat.RoomID),
		roomMembers: make(map[chat.RoomID]members),
	}
}

// Join adds the connection to the room. Joining the same room twice is a
// no-op, joining another room moves the connection there.
// Rooms are created on the fly.
func (r *Registry) Join(room chat.RoomID, conn contract.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.sessions[conn.ID()]; ok && current != room {
		r.removeLocked(current, conn.ID())
	}
	r.sessions[conn.ID()] = room

	if _, ok := r.roomMembers[room]; !ok {
		r.roomMembers[room] = make(members)
	}
	r.roomMembers[room][conn.ID()] = conn
}

// Leave removes the connection from the room and closes it, so a
// broadcast still holding an older snapshot cannot reach it anymore.
// Leaving a room the connection is not in does nothing.
func (r *Registry) Leave(room chat.RoomID, conn contract.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.roomMembers[room][conn.ID()]
	if !ok {
		return
	}
	r.removeLocked(room, conn.ID())
	delete(r.sessions, conn.ID())
	current.Close(errors.ErrConnectionClosed)
}

func (r *Registry) removeLocked(room chat.RoomID, connID string) {
	m, ok := r.roomMembers[room]
	if !ok {
		return
	}
	delete(m, connID)
	// no empty rooms are kept around
	if len(m) == 0 {
		delete(r.roomMembers, room)
	}
}

// Snapshot returns the connections of the room at call time. Later joins
// and leaves do not affect the returned slice.
func (r *Registry) Snapshot(room chat.RoomID) []contract.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.roomMembers[room]
	if !ok {
		return nil
	}
	snapshot := make([]contract.Connection, 0, len(m))
	for _, conn := range m {
		snapshot = append(snapshot, conn)
	}
	return snapshot
}

func (r *Registry) Stats() (int, int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.roomMembers), len(r.sessions)
}
