package domain

import "time"

type RoomKind string

const (
	RoomKindPrivate RoomKind = "private"
	RoomKindGroup   RoomKind = "group"
)

// LastMessage is the summary shown in room listings.
type LastMessage struct {
	Text     string
	SenderID UserID
	Time     time.Time
}

type Room struct {
	ID           RoomID
	Name         string
	Kind         RoomKind
	Participants []UserID
	LastMessage  *LastMessage
	UnreadCount  int
}

func NewPrivateRoom(id RoomID, name string) *Room {
	return &Room{
		ID:   id,
		Name: name,
		Kind: RoomKindPrivate,
	}
}

func NewGroupRoom(id RoomID, name string, participants []UserID) *Room {
	return &Room{
		ID:           id,
		Name:         name,
		Kind:         RoomKindGroup,
		Participants: participants,
	}
}

// HasParticipant reports whether the user is in the room's participant set.
func (r *Room) HasParticipant(u UserID) bool {
	for _, p := range r.Participants {
		if p == u {
			return true
		}
	}
	return false
}
