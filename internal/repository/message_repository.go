package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/roomwire/chatsync/internal/domain"
)

type gormMessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &gormMessageRepository{db: db}
}

func (r *gormMessageRepository) CreateOrIgnore(ctx context.Context, msg *domain.Message) error {
	model := MessageDomainToModel(msg)
	// INSERT OR IGNORE so replays from reconnect syncs are harmless (SQLite)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(model).Error
}

func (r *gormMessageRepository) GetByRoom(ctx context.Context, roomID domain.RoomID, limit int) ([]*domain.Message, error) {
	var models []MessageModel
	query := r.db.WithContext(ctx).
		Where("room_id = ?", roomID.String()).
		Order("timestamp ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}

	messages := make([]*domain.Message, len(models))
	for i := range models {
		messages[i] = MessageModelToDomain(&models[i])
	}
	return messages, nil
}

func (r *gormMessageRepository) UpdateStatus(ctx context.Context, id string, status domain.MessageStatus) error {
	return r.db.WithContext(ctx).
		Model(&MessageModel{}).
		Where("id = ?", id).
		Update("status", string(status)).Error
}

func (r *gormMessageRepository) DeleteByRoom(ctx context.Context, roomID domain.RoomID) error {
	return r.db.WithContext(ctx).
		Where("room_id = ?", roomID.String()).
		Delete(&MessageModel{}).Error
}
