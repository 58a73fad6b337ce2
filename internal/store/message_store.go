// Package store holds the client-side synchronization state: per-room message
// sequences, the room registry, and unread counters. The structures are safe
// for concurrent reads; ordering of mutations is the orchestrator's job.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/roomwire/chatsync/internal/domain"
)

// DefaultDedupWindow is how far apart two timestamps may be for two
// non-temporary messages with matching sender and content to count as the
// same message arriving over two channels.
const DefaultDedupWindow = 5000 * time.Millisecond

// MessageStore maintains the ordered message sequence of every room, with
// duplicate detection and temporary-message reconciliation.
type MessageStore struct {
	mu          sync.RWMutex
	rooms       map[domain.RoomID][]*domain.Message
	dedupWindow time.Duration
}

func NewMessageStore(dedupWindow time.Duration) *MessageStore {
	if dedupWindow <= 0 {
		dedupWindow = DefaultDedupWindow
	}
	return &MessageStore{
		rooms:       make(map[domain.RoomID][]*domain.Message),
		dedupWindow: dedupWindow,
	}
}

// Append inserts msg at its chronological position unless duplicate
// detection finds it already present. Returns true when the message was
// actually inserted.
func (s *MessageStore) Append(roomID domain.RoomID, msg *domain.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.rooms[roomID] {
		if s.isDuplicate(existing, msg) {
			return false
		}
	}
	s.insertLocked(roomID, msg)
	return true
}

// ReplaceOutcome describes what ReplaceTemporary did with the confirmed
// message.
type ReplaceOutcome int

const (
	// ReplaceSwapped means the temporary was swapped in place.
	ReplaceSwapped ReplaceOutcome = iota
	// ReplaceMerged means the confirmed message was already present, so the
	// temporary was removed instead of swapped.
	ReplaceMerged
	// ReplaceAppended means no temporary was found and the confirmed message
	// was inserted.
	ReplaceAppended
	// ReplaceIgnored means no temporary was found and the confirmed message
	// was already present; nothing changed.
	ReplaceIgnored
)

// ReplaceTemporary swaps the temporary message identified by tempID for its
// server-confirmed counterpart, keeping any status upgrade the temporary
// already received. The confirmed message may already sit in the sequence
// when a history-page merge raced the echo; the temporary is then removed so
// a server id never appears twice. When the temporary is gone the confirmed
// message is appended instead so it is never dropped.
func (s *MessageStore) ReplaceTemporary(roomID domain.RoomID, tempID string, confirmed *domain.Message) ReplaceOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.rooms[roomID]
	tempIdx := -1
	var dup *domain.Message
	for i, existing := range seq {
		if existing.ID == tempID {
			tempIdx = i
			continue
		}
		if dup == nil && s.isDuplicate(existing, confirmed) {
			dup = existing
		}
	}

	if tempIdx >= 0 {
		temp := seq[tempIdx]
		if dup != nil {
			if temp.Status.Rank() > dup.Status.Rank() {
				dup.Status = temp.Status
			}
			s.rooms[roomID] = append(seq[:tempIdx], seq[tempIdx+1:]...)
			return ReplaceMerged
		}
		if temp.Status.Rank() > confirmed.Status.Rank() {
			confirmed.Status = temp.Status
		}
		seq[tempIdx] = confirmed
		s.sortLocked(roomID)
		return ReplaceSwapped
	}

	if dup != nil {
		return ReplaceIgnored
	}
	s.insertLocked(roomID, confirmed)
	return ReplaceAppended
}

// FindTemporaryMatch returns the temporary message that the given confirmed
// echo corresponds to, by sender, timestamp window and content, or nil.
func (s *MessageStore) FindTemporaryMatch(roomID domain.RoomID, echo *domain.Message) *domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, existing := range s.rooms[roomID] {
		if !existing.IsTemporary() {
			continue
		}
		if existing.SenderID != echo.SenderID {
			continue
		}
		if !s.withinWindow(existing.Timestamp, echo.Timestamp) {
			continue
		}
		if contentMatches(existing, echo) {
			return existing
		}
	}
	return nil
}

// UpdateStatus transitions a message's delivery status. Invalid backward
// transitions and unknown message ids are no-ops.
func (s *MessageStore) UpdateStatus(roomID domain.RoomID, messageID string, next domain.MessageStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, msg := range s.rooms[roomID] {
		if msg.ID != messageID {
			continue
		}
		if !msg.Status.CanTransition(next) {
			return false
		}
		msg.Status = next
		return true
	}
	return false
}

// ListForRoom returns the room's messages oldest first. The returned slice
// is a copy; the messages themselves are shared.
func (s *MessageStore) ListForRoom(roomID domain.RoomID) []*domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seq := s.rooms[roomID]
	out := make([]*domain.Message, len(seq))
	copy(out, seq)
	return out
}

// Get returns the message with the given id in the room, or nil.
func (s *MessageStore) Get(roomID domain.RoomID, messageID string) *domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, msg := range s.rooms[roomID] {
		if msg.ID == messageID {
			return msg
		}
	}
	return nil
}

// MergePage merges a fetched history page into the room's sequence with
// id-based deduplication, then restores ascending timestamp order. Returns
// the number of messages actually added.
func (s *MessageStore) MergePage(roomID domain.RoomID, page []*domain.Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	known := make(map[string]bool, len(s.rooms[roomID]))
	for _, msg := range s.rooms[roomID] {
		known[msg.ID] = true
	}

	added := 0
	for _, msg := range page {
		if known[msg.ID] {
			continue
		}
		known[msg.ID] = true
		s.rooms[roomID] = append(s.rooms[roomID], msg)
		added++
	}
	if added > 0 {
		s.sortLocked(roomID)
	}
	return added
}

// DropRoom discards all messages of a room, used when the server signals the
// room no longer exists.
func (s *MessageStore) DropRoom(roomID domain.RoomID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
}

// isDuplicate implements the two-channel duplicate rule: identical ids are
// always duplicates; otherwise both messages must be server-confirmed, share
// a sender, sit within the dedup window, and match content by kind. Two
// temporary messages never dedup against each other, so repeated optimistic
// sends of the same text coexist until each is reconciled.
func (s *MessageStore) isDuplicate(a, b *domain.Message) bool {
	if a.ID == b.ID {
		return true
	}
	if a.IsTemporary() || b.IsTemporary() {
		return false
	}
	if a.SenderID != b.SenderID {
		return false
	}
	if !s.withinWindow(a.Timestamp, b.Timestamp) {
		return false
	}
	return contentMatches(a, b)
}

func contentMatches(a, b *domain.Message) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case domain.MessageKindText:
		return a.Text == b.Text
	case domain.MessageKindAttachment:
		if a.AttachmentURL != "" && a.AttachmentURL == b.AttachmentURL {
			return true
		}
		an, bn := a.NormalizedFileName(), b.NormalizedFileName()
		return an != "" && an == bn
	}
	return false
}

func (s *MessageStore) withinWindow(a, b time.Time) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= s.dedupWindow
}

func (s *MessageStore) insertLocked(roomID domain.RoomID, msg *domain.Message) {
	seq := s.rooms[roomID]
	if n := len(seq); n == 0 || !seq[n-1].Timestamp.After(msg.Timestamp) {
		s.rooms[roomID] = append(seq, msg)
		return
	}
	i := sort.Search(len(seq), func(i int) bool {
		return seq[i].Timestamp.After(msg.Timestamp)
	})
	seq = append(seq, nil)
	copy(seq[i+1:], seq[i:])
	seq[i] = msg
	s.rooms[roomID] = seq
}

func (s *MessageStore) sortLocked(roomID domain.RoomID) {
	seq := s.rooms[roomID]
	sort.SliceStable(seq, func(i, j int) bool {
		return seq[i].Timestamp.Before(seq[j].Timestamp)
	})
}
