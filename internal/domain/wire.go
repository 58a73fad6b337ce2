package domain

import (
	"strings"
	"time"
)

// Content types on the wire follow MIME conventions, but the backend also
// accepts and emits plain label forms (TEXT, IMAGE, FILE) from older clients.
const (
	ContentTypeText = "text/plain"

	labelText  = "TEXT"
	labelImage = "IMAGE"
	labelFile  = "FILE"
)

// NormalizeContentType maps a wire content-type string, MIME or label form,
// to its canonical MIME value and the message kind it implies.
func NormalizeContentType(ct string) (string, MessageKind) {
	switch strings.ToUpper(strings.TrimSpace(ct)) {
	case "", labelText:
		return ContentTypeText, MessageKindText
	case labelImage:
		return "image/jpeg", MessageKindAttachment
	case labelFile:
		return "application/octet-stream", MessageKindAttachment
	}
	ct = strings.TrimSpace(ct)
	if strings.HasPrefix(ct, "text/") {
		return ct, MessageKindText
	}
	return ct, MessageKindAttachment
}

// WireMessage is the JSON shape shared by the STOMP message topics and the
// REST pagination endpoint. Timestamps travel as unix milliseconds.
type WireMessage struct {
	ID          string `json:"id"`
	RoomID      string `json:"roomId"`
	SenderID    string `json:"senderId"`
	Content     string `json:"content"`
	ContentType string `json:"contentType"`
	FileName    string `json:"fileName,omitempty"`
	TempID      string `json:"tempId,omitempty"`
	Timestamp   int64  `json:"timestamp"`
}

// ToDomain converts a wire message into a Message record. localUser marks
// self-authored messages.
func (w WireMessage) ToDomain(localUser UserID) *Message {
	ct, kind := NormalizeContentType(w.ContentType)
	ts := time.UnixMilli(w.Timestamp).UTC()
	sender := UserID(w.SenderID)
	fromMe := sender == localUser

	var m *Message
	if kind == MessageKindText {
		m = NewTextMessage(w.ID, RoomID(w.RoomID), sender, w.Content, ts, fromMe)
	} else {
		m = NewAttachmentMessage(w.ID, RoomID(w.RoomID), sender, w.Content, w.FileName, ct, ts, fromMe)
	}
	m.EchoOf = w.TempID
	return m
}

// ToWire converts a Message into its wire shape. Text messages put the text
// in Content; attachment messages put the resource locator there.
func (m *Message) ToWire() WireMessage {
	w := WireMessage{
		ID:          m.ID,
		RoomID:      m.RoomID.String(),
		SenderID:    m.SenderID.String(),
		ContentType: m.ContentType,
		Timestamp:   m.Timestamp.UnixMilli(),
	}
	switch m.Kind {
	case MessageKindAttachment:
		w.Content = m.AttachmentURL
		w.FileName = m.AttachmentName
	default:
		w.Content = m.Text
	}
	if m.IsTemporary() {
		// Echo correlation: the server reflects the temp id back so the
		// optimistic message can be replaced without content matching.
		w.TempID = m.ID
	}
	return w
}

// WireUnread is the per-user unread-count push from the server.
type WireUnread struct {
	Counts map[string]int `json:"counts"`
}

// WireRoom is the JSON shape of a room on the REST room-list endpoint.
type WireRoom struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Kind         string   `json:"kind"`
	Participants []string `json:"participants"`
	UnreadCount  int      `json:"unreadCount"`
	LastMessage  *struct {
		Content   string `json:"content"`
		SenderID  string `json:"senderId"`
		Timestamp int64  `json:"timestamp"`
	} `json:"lastMessage,omitempty"`
}

func (w WireRoom) ToDomain() *Room {
	room := &Room{
		ID:          RoomID(w.ID),
		Name:        w.Name,
		Kind:        RoomKind(w.Kind),
		UnreadCount: w.UnreadCount,
	}
	if room.Kind != RoomKindGroup {
		room.Kind = RoomKindPrivate
	}
	for _, p := range w.Participants {
		room.Participants = append(room.Participants, UserID(p))
	}
	if w.LastMessage != nil {
		room.LastMessage = &LastMessage{
			Text:     w.LastMessage.Content,
			SenderID: UserID(w.LastMessage.SenderID),
			Time:     time.UnixMilli(w.LastMessage.Timestamp).UTC(),
		}
	}
	return room
}
