// Package server keeps the registry of live rooms. Rooms are created lazily
// on first join and destroyed the moment their member list empties.
package server

// RoomStore maps room identifiers to Room state. It is not safe for
// uncoordinated concurrent use; the hub's dispatcher goroutine is its only
// caller, which serializes every mutation of every room.
type RoomStore struct {
	rooms map[string]*Room
}

// NewRoomStore creates an empty RoomStore.
func NewRoomStore() *RoomStore {
	return &RoomStore{
		rooms: make(map[string]*Room),
	}
}

// GetOrCreate returns the room with the given id, creating an empty one
// (empty history, empty typing set) if absent. Idempotent.
func (s *RoomStore) GetOrCreate(id string) *Room {
	if room, ok := s.rooms[id]; ok {
		return room
	}
	room := newRoom(id)
	s.rooms[id] = room
	return room
}

// Lookup returns the room with the given id, or nil if it does not exist.
func (s *RoomStore) Lookup(id string) *Room {
	return s.rooms[id]
}

// Remove drops the room and discards its history and typing state. Only ever
// called once a room's member list is empty.
func (s *RoomStore) Remove(id string) {
	delete(s.rooms, id)
}

// ForEachRoom calls fn for every room. fn may mutate the room it is handed
// but must not add or remove rooms; callers collect ids and Remove afterward.
func (s *RoomStore) ForEachRoom(fn func(*Room)) {
	for _, room := range s.rooms {
		fn(room)
	}
}

// Len returns the number of rooms currently in the store.
func (s *RoomStore) Len() int {
	return len(s.rooms)
}
