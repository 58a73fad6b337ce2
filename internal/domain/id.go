package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// RoomID identifies a conversation room. Room ids are server-assigned and
// stable for the lifetime of the room.
type RoomID string

func (r RoomID) String() string { return string(r) }

func (r RoomID) IsZero() bool { return r == "" }

func ParseRoomID(s string) (RoomID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", &ValidationError{Field: "roomId", Reason: "empty room identifier"}
	}
	return RoomID(s), nil
}

func MustParseRoomID(s string) RoomID {
	id, err := ParseRoomID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// UserID identifies a user account on the backend.
type UserID string

func (u UserID) String() string { return string(u) }

// TempIDPrefix marks locally-generated message identifiers that have not yet
// been confirmed by the server.
const TempIDPrefix = "tmp-"

// NewTempID returns a fresh locally-unique temporary message identifier.
func NewTempID() string {
	return fmt.Sprintf("%s%s", TempIDPrefix, uuid.NewString())
}

// IsTempID reports whether id was generated locally via NewTempID.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}
