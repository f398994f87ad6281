package chat

import (
	"slices"
	"sync"
)

// RoomRegistry maps room names to rooms and owns their lifecycle.
//
// Lock order is registry, then room; room methods never call back into the
// registry.
type RoomRegistry struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewRoomRegistry returns an empty registry.
func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{rooms: make(map[string]*Room)}
}

// Create inserts a new room unless the name is taken. The creator is not
// joined by this call.
func (r *RoomRegistry) Create(name, creator, password string) (*Room, error) {
	room, err := NewRoom(name, creator, password)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rooms[name]; exists {
		return nil, ErrRoomExists
	}
	r.rooms[name] = room
	return room, nil
}

// Get returns the room registered under name.
func (r *RoomRegistry) Get(name string) (*Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[name]
	return room, ok
}

// RemoveIfEmpty deletes room if it is still the registered entry for its
// name and still has no members at the moment of deletion.
func (r *RoomRegistry) RemoveIfEmpty(room *Room) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.rooms[room.Name()]; !ok || current != room {
		return false
	}
	if !room.destroyIfEmpty() {
		return false
	}
	delete(r.rooms, room.Name())
	return true
}

// Names returns a sorted snapshot of the room names.
func (r *RoomRegistry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.rooms))
	for name := range r.rooms {
		names = append(names, name)
	}
	r.mu.RUnlock()

	slices.Sort(names)
	return names
}

// RoomsOf returns the rooms identity currently belongs to.
func (r *RoomRegistry) RoomsOf(identity string) []*Room {
	r.mu.RLock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	r.mu.RUnlock()

	var member []*Room
	for _, room := range rooms {
		if room.HasMember(identity) {
			member = append(member, room)
		}
	}
	return member
}

// Len returns the number of rooms.
func (r *RoomRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Clear drops every room.
func (r *RoomRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, room := range r.rooms {
		room.mu.Lock()
		room.destroyed = true
		room.mu.Unlock()
		delete(r.rooms, name)
	}
}
