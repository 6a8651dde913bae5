// Package relay maintains the document-id to member-set mapping through the
// Registry type. Rooms exist exactly as long as they have members.
package relay

import "sync"

// Registry maps room ids to their current member sessions. All mutation
// happens on the hub's event loop; the lock exists so the stats endpoint
// can read counts from request goroutines.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]map[string]*Session)}
}

// Join adds the session to the room, creating the room on first join.
// Re-joining is a no-op for membership. It reports whether the session is a
// new member and the resulting member count.
func (reg *Registry) Join(roomID string, s *Session) (joined bool, members int) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room, ok := reg.rooms[roomID]
	if !ok {
		room = make(map[string]*Session)
		reg.rooms[roomID] = room
	}
	if _, exists := room[s.id]; exists {
		return false, len(room)
	}
	room[s.id] = s
	return true, len(room)
}

// Leave removes the session from the room. A room the session never joined
// is a no-op, not an error. The room entry is deleted the moment its member
// set empties.
func (reg *Registry) Leave(roomID, sessionID string) (left bool, empty bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room, ok := reg.rooms[roomID]
	if !ok {
		return false, false
	}
	if _, exists := room[sessionID]; !exists {
		return false, false
	}
	delete(room, sessionID)
	if len(room) == 0 {
		delete(reg.rooms, roomID)
		return true, true
	}
	return true, false
}

// MembersExcept returns the fan-out target set for a broadcast, excluding
// the origin. An unknown room yields an empty result.
func (reg *Registry) MembersExcept(roomID, originID string) []*Session {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	room := reg.rooms[roomID]
	if len(room) == 0 {
		return nil
	}
	targets := make([]*Session, 0, len(room))
	for id, s := range room {
		if id == originID {
			continue
		}
		targets = append(targets, s)
	}
	return targets
}

// RemoveFromAll strips the session from every room it joined and returns
// the ids of rooms that became empty (and were therefore deleted).
func (reg *Registry) RemoveFromAll(sessionID string) (emptied []string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	for roomID, room := range reg.rooms {
		if _, exists := room[sessionID]; !exists {
			continue
		}
		delete(room, sessionID)
		if len(room) == 0 {
			delete(reg.rooms, roomID)
			emptied = append(emptied, roomID)
		}
	}
	return emptied
}

// RoomCount reports the number of rooms with at least one member.
func (reg *Registry) RoomCount() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}
