package repository

import (
	"strings"
	"time"

	"github.com/roomwire/chatsync/internal/domain"
)

type MessageModel struct {
	ID             string    `gorm:"primaryKey;column:id"`
	RoomID         string    `gorm:"column:room_id;index:idx_room_timestamp"`
	SenderID       string    `gorm:"column:sender_id"`
	Kind           string    `gorm:"column:kind"`
	Text           string    `gorm:"column:text"`
	AttachmentURL  string    `gorm:"column:attachment_url"`
	AttachmentName string    `gorm:"column:attachment_name"`
	ContentType    string    `gorm:"column:content_type"`
	Timestamp      time.Time `gorm:"column:timestamp;index:idx_room_timestamp"`
	Status         string    `gorm:"column:status"`
	IsFromMe       bool      `gorm:"column:is_from_me"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (MessageModel) TableName() string { return "messages" }

type RoomModel struct {
	ID                string    `gorm:"primaryKey;column:id"`
	Name              string    `gorm:"column:name"`
	Kind              string    `gorm:"column:kind"`
	Participants      string    `gorm:"column:participants"`
	LastMessageText   string    `gorm:"column:last_message_text"`
	LastMessageSender string    `gorm:"column:last_message_sender"`
	LastMessageTime   time.Time `gorm:"column:last_message_time;index"`
	UnreadCount       int       `gorm:"column:unread_count"`
	CreatedAt         time.Time `gorm:"column:created_at"`
	UpdatedAt         time.Time `gorm:"column:updated_at"`
}

func (RoomModel) TableName() string { return "rooms" }

// Conversion functions
func MessageModelToDomain(m *MessageModel) *domain.Message {
	if m == nil {
		return nil
	}
	return &domain.Message{
		ID:             m.ID,
		RoomID:         domain.RoomID(m.RoomID),
		SenderID:       domain.UserID(m.SenderID),
		Kind:           domain.MessageKind(m.Kind),
		Text:           m.Text,
		AttachmentURL:  m.AttachmentURL,
		AttachmentName: m.AttachmentName,
		ContentType:    m.ContentType,
		Timestamp:      m.Timestamp,
		Status:         domain.MessageStatus(m.Status),
		IsFromMe:       m.IsFromMe,
	}
}

func MessageDomainToModel(msg *domain.Message) *MessageModel {
	if msg == nil {
		return nil
	}
	return &MessageModel{
		ID:             msg.ID,
		RoomID:         msg.RoomID.String(),
		SenderID:       msg.SenderID.String(),
		Kind:           string(msg.Kind),
		Text:           msg.Text,
		AttachmentURL:  msg.AttachmentURL,
		AttachmentName: msg.AttachmentName,
		ContentType:    msg.ContentType,
		Timestamp:      msg.Timestamp,
		Status:         string(msg.Status),
		IsFromMe:       msg.IsFromMe,
	}
}

func RoomModelToDomain(m *RoomModel) *domain.Room {
	if m == nil {
		return nil
	}
	room := &domain.Room{
		ID:          domain.RoomID(m.ID),
		Name:        m.Name,
		Kind:        domain.RoomKind(m.Kind),
		UnreadCount: m.UnreadCount,
	}
	if m.Participants != "" {
		for _, p := range strings.Split(m.Participants, ",") {
			room.Participants = append(room.Participants, domain.UserID(p))
		}
	}
	if !m.LastMessageTime.IsZero() {
		room.LastMessage = &domain.LastMessage{
			Text:     m.LastMessageText,
			SenderID: domain.UserID(m.LastMessageSender),
			Time:     m.LastMessageTime,
		}
	}
	return room
}

func RoomDomainToModel(room *domain.Room) *RoomModel {
	if room == nil {
		return nil
	}
	participants := make([]string, len(room.Participants))
	for i, p := range room.Participants {
		participants[i] = p.String()
	}
	model := &RoomModel{
		ID:           room.ID.String(),
		Name:         room.Name,
		Kind:         string(room.Kind),
		Participants: strings.Join(participants, ","),
		UnreadCount:  room.UnreadCount,
	}
	if room.LastMessage != nil {
		model.LastMessageText = room.LastMessage.Text
		model.LastMessageSender = room.LastMessage.SenderID.String()
		model.LastMessageTime = room.LastMessage.Time
	}
	return model
}
