package domain

import (
	"path"
	"strings"
	"time"
)

type MessageKind string

const (
	MessageKindText       MessageKind = "text"
	MessageKindAttachment MessageKind = "attachment"
)

// MessageStatus is the delivery state of a message. The happy path is
// sending -> sent -> delivered -> read; a send that exhausts its retries
// moves to failed, and a manual retry moves failed back to sending.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

var statusRank = map[MessageStatus]int{
	StatusSending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// Rank orders the happy-path statuses; failed has no rank.
func (s MessageStatus) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// CanTransition reports whether a message may move from s to next. Statuses
// only move forward on the happy path; the two exceptions are
// sending -> failed and the manual retry failed -> sending.
func (s MessageStatus) CanTransition(next MessageStatus) bool {
	if s == next {
		return false
	}
	if s == StatusSending && next == StatusFailed {
		return true
	}
	if s == StatusFailed && next == StatusSending {
		return true
	}
	return s.Rank() >= 0 && next.Rank() > s.Rank()
}

// Message is a single chat message, either server-confirmed or a local
// temporary one awaiting its echo. Kind selects which content fields apply:
// Text for MessageKindText, AttachmentURL/AttachmentName for
// MessageKindAttachment.
type Message struct {
	ID             string
	RoomID         RoomID
	SenderID       UserID
	Kind           MessageKind
	Text           string
	AttachmentURL  string
	AttachmentName string
	ContentType    string
	Timestamp      time.Time
	Status         MessageStatus
	IsFromMe       bool

	// EchoOf carries the temporary id a server echo confirms, when the
	// server reflected one back. Empty for ordinary inbound messages.
	EchoOf string
}

// IsTemporary reports whether the message carries a locally-generated id,
// i.e. the server has not confirmed it yet.
func (m *Message) IsTemporary() bool {
	return IsTempID(m.ID)
}

// Preview returns a short text summary for room listings.
func (m *Message) Preview() string {
	if m.Kind == MessageKindText {
		return m.Text
	}
	if m.AttachmentName != "" {
		return "[" + m.AttachmentName + "]"
	}
	return "[" + string(m.Kind) + "]"
}

// NormalizedFileName returns the attachment's base file name lowercased,
// used as the secondary attachment identity for duplicate detection.
func (m *Message) NormalizedFileName() string {
	name := m.AttachmentName
	if name == "" && m.AttachmentURL != "" {
		name = path.Base(m.AttachmentURL)
	}
	return strings.ToLower(strings.TrimSpace(name))
}

func NewTextMessage(id string, roomID RoomID, senderID UserID, text string, ts time.Time, fromMe bool) *Message {
	return &Message{
		ID:          id,
		RoomID:      roomID,
		SenderID:    senderID,
		Kind:        MessageKindText,
		Text:        text,
		ContentType: ContentTypeText,
		Timestamp:   ts,
		Status:      StatusDelivered,
		IsFromMe:    fromMe,
	}
}

func NewAttachmentMessage(id string, roomID RoomID, senderID UserID, url, name, contentType string, ts time.Time, fromMe bool) *Message {
	return &Message{
		ID:             id,
		RoomID:         roomID,
		SenderID:       senderID,
		Kind:           MessageKindAttachment,
		AttachmentURL:  url,
		AttachmentName: name,
		ContentType:    contentType,
		Timestamp:      ts,
		Status:         StatusDelivered,
		IsFromMe:       fromMe,
	}
}

// NewTemporaryText builds the optimistic local message appended before the
// network send is attempted.
func NewTemporaryText(roomID RoomID, senderID UserID, text string, ts time.Time) *Message {
	m := NewTextMessage(NewTempID(), roomID, senderID, text, ts, true)
	m.Status = StatusSending
	return m
}

// NewTemporaryAttachment builds the optimistic local attachment message.
func NewTemporaryAttachment(roomID RoomID, senderID UserID, url, contentType string, ts time.Time) *Message {
	m := NewAttachmentMessage(NewTempID(), roomID, senderID, url, path.Base(url), contentType, ts, true)
	m.Status = StatusSending
	return m
}
