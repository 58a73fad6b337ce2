package repository

import (
	"context"

	"github.com/roomwire/chatsync/internal/domain"
)

// MessageRepository is the offline cache for server-confirmed messages.
// Temporary messages are never persisted.
type MessageRepository interface {
	CreateOrIgnore(ctx context.Context, msg *domain.Message) error
	GetByRoom(ctx context.Context, roomID domain.RoomID, limit int) ([]*domain.Message, error)
	UpdateStatus(ctx context.Context, id string, status domain.MessageStatus) error
	DeleteByRoom(ctx context.Context, roomID domain.RoomID) error
}

type RoomRepository interface {
	Upsert(ctx context.Context, room *domain.Room) error
	GetAll(ctx context.Context) ([]*domain.Room, error)
	UpdateUnreadCount(ctx context.Context, roomID domain.RoomID, count int) error
	Delete(ctx context.Context, roomID domain.RoomID) error
}
