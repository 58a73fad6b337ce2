package store

import (
	"sync"

	"github.com/roomwire/chatsync/internal/domain"
)

// UnreadCounter tracks per-room unread counts. Counts never go negative.
// Once the server pushes an authoritative value for a room it simply
// overwrites whatever was computed locally; no merge arithmetic is done.
type UnreadCounter struct {
	mu     sync.RWMutex
	counts map[domain.RoomID]int
}

func NewUnreadCounter() *UnreadCounter {
	return &UnreadCounter{counts: make(map[domain.RoomID]int)}
}

// Increment adds one to the room's count and returns the new value. The
// caller enforces the active-room and self-author guards; the counter has no
// notion of authorship.
func (c *UnreadCounter) Increment(roomID domain.RoomID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[roomID]++
	return c.counts[roomID]
}

// Reset sets the room's count to zero, used on room selection and explicit
// mark-as-read.
func (c *UnreadCounter) Reset(roomID domain.RoomID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[roomID] = 0
}

// SetAuthoritative overwrites the room's count with a server-pushed value.
func (c *UnreadCounter) SetAuthoritative(roomID domain.RoomID, value int) {
	if value < 0 {
		value = 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[roomID] = value
}

func (c *UnreadCounter) Get(roomID domain.RoomID) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counts[roomID]
}

// Total sums the unread counts across all rooms.
func (c *UnreadCounter) Total() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	total := 0
	for _, n := range c.counts {
		total += n
	}
	return total
}

// Drop removes a room's counter entirely.
func (c *UnreadCounter) Drop(roomID domain.RoomID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counts, roomID)
}
