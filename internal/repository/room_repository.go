package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/roomwire/chatsync/internal/domain"
)

type gormRoomRepository struct {
	db *gorm.DB
}

func NewRoomRepository(db *gorm.DB) RoomRepository {
	return &gormRoomRepository{db: db}
}

func (r *gormRoomRepository) Upsert(ctx context.Context, room *domain.Room) error {
	model := RoomDomainToModel(room)
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(model).Error
}

func (r *gormRoomRepository) GetAll(ctx context.Context) ([]*domain.Room, error) {
	var models []RoomModel
	if err := r.db.WithContext(ctx).Order("last_message_time DESC").Find(&models).Error; err != nil {
		return nil, err
	}

	rooms := make([]*domain.Room, len(models))
	for i := range models {
		rooms[i] = RoomModelToDomain(&models[i])
	}
	return rooms, nil
}

func (r *gormRoomRepository) UpdateUnreadCount(ctx context.Context, roomID domain.RoomID, count int) error {
	return r.db.WithContext(ctx).
		Model(&RoomModel{}).
		Where("id = ?", roomID.String()).
		Update("unread_count", count).Error
}

func (r *gormRoomRepository) Delete(ctx context.Context, roomID domain.RoomID) error {
	return r.db.WithContext(ctx).
		Where("id = ?", roomID.String()).
		Delete(&RoomModel{}).Error
}
