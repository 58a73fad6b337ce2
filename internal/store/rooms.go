package store

import (
	"sort"
	"sync"

	"github.com/roomwire/chatsync/internal/domain"
)

// RoomRegistry tracks the rooms known locally and which one is active
// (currently viewed). Rooms are only removed when the server signals it.
type RoomRegistry struct {
	mu     sync.RWMutex
	rooms  map[domain.RoomID]*domain.Room
	active domain.RoomID
}

func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{rooms: make(map[domain.RoomID]*domain.Room)}
}

// Upsert inserts or refreshes a room's metadata.
func (r *RoomRegistry) Upsert(room *domain.Room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms[room.ID] = room
}

func (r *RoomRegistry) Get(roomID domain.RoomID) (*domain.Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[roomID]
	return room, ok
}

// All returns the known rooms sorted by last-message time, newest first,
// rooms without any message last.
func (r *RoomRegistry) All() []*domain.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, room)
	}
	sort.Slice(out, func(i, j int) bool {
		li, lj := out[i].LastMessage, out[j].LastMessage
		switch {
		case li == nil && lj == nil:
			return out[i].ID < out[j].ID
		case li == nil:
			return false
		case lj == nil:
			return true
		}
		return li.Time.After(lj.Time)
	})
	return out
}

// Remove deletes a room; used only on a server removal signal.
func (r *RoomRegistry) Remove(roomID domain.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, roomID)
	if r.active == roomID {
		r.active = ""
	}
}

// SetActive marks the room currently being viewed; empty clears it.
func (r *RoomRegistry) SetActive(roomID domain.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = roomID
}

func (r *RoomRegistry) Active() domain.RoomID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// IsActive reports whether roomID is the currently viewed room.
func (r *RoomRegistry) IsActive(roomID domain.RoomID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active == roomID && roomID != ""
}

// UpdateLastMessage refreshes the room's listing summary.
func (r *RoomRegistry) UpdateLastMessage(roomID domain.RoomID, msg *domain.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return
	}
	if room.LastMessage != nil && room.LastMessage.Time.After(msg.Timestamp) {
		return
	}
	room.LastMessage = &domain.LastMessage{
		Text:     msg.Preview(),
		SenderID: msg.SenderID,
		Time:     msg.Timestamp,
	}
}

// AddParticipant and RemoveParticipant mirror the server's membership
// changes into the local registry.
func (r *RoomRegistry) AddParticipant(roomID domain.RoomID, user domain.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok || room.HasParticipant(user) {
		return
	}
	room.Participants = append(room.Participants, user)
}

func (r *RoomRegistry) RemoveParticipant(roomID domain.RoomID, user domain.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return
	}
	for i, p := range room.Participants {
		if p == user {
			room.Participants = append(room.Participants[:i], room.Participants[i+1:]...)
			return
		}
	}
}
