package domain

import (
	"sync"
	"time"
)

type EventType string

const (
	EventTypeMessageAppended  EventType = "message.appended"
	EventTypeMessageReplaced  EventType = "message.replaced"
	EventTypeMessageStatus    EventType = "message.status"
	EventTypeRoomUpdated      EventType = "room.updated"
	EventTypeRoomRemoved      EventType = "room.removed"
	EventTypeUnreadChanged    EventType = "unread.changed"
	EventTypeConnectionStatus EventType = "connection.status"
)

type Event interface {
	Type() EventType
	Timestamp() time.Time
}

type MessageAppendedEvent struct {
	Message   *Message
	EventTime time.Time
}

func (e MessageAppendedEvent) Type() EventType      { return EventTypeMessageAppended }
func (e MessageAppendedEvent) Timestamp() time.Time { return e.EventTime }

// MessageReplacedEvent is published when a temporary message is swapped for
// its server-confirmed echo.
type MessageReplacedEvent struct {
	TempID    string
	Message   *Message
	EventTime time.Time
}

func (e MessageReplacedEvent) Type() EventType      { return EventTypeMessageReplaced }
func (e MessageReplacedEvent) Timestamp() time.Time { return e.EventTime }

type MessageStatusEvent struct {
	RoomID    RoomID
	MessageID string
	Status    MessageStatus
	EventTime time.Time
}

func (e MessageStatusEvent) Type() EventType      { return EventTypeMessageStatus }
func (e MessageStatusEvent) Timestamp() time.Time { return e.EventTime }

type RoomUpdatedEvent struct {
	Room      *Room
	EventTime time.Time
}

func (e RoomUpdatedEvent) Type() EventType      { return EventTypeRoomUpdated }
func (e RoomUpdatedEvent) Timestamp() time.Time { return e.EventTime }

type RoomRemovedEvent struct {
	RoomID    RoomID
	EventTime time.Time
}

func (e RoomRemovedEvent) Type() EventType      { return EventTypeRoomRemoved }
func (e RoomRemovedEvent) Timestamp() time.Time { return e.EventTime }

type UnreadChangedEvent struct {
	RoomID    RoomID
	Count     int
	Total     int
	EventTime time.Time
}

func (e UnreadChangedEvent) Type() EventType      { return EventTypeUnreadChanged }
func (e UnreadChangedEvent) Timestamp() time.Time { return e.EventTime }

type ConnectionStatusEvent struct {
	Connected bool
	Reason    string
	EventTime time.Time
}

func (e ConnectionStatusEvent) Type() EventType      { return EventTypeConnectionStatus }
func (e ConnectionStatusEvent) Timestamp() time.Time { return e.EventTime }

// EventBus provides pub/sub for state-change events. The presentation layer
// subscribes here instead of holding callbacks into the sync core.
type EventBus interface {
	Publish(event Event)
	Subscribe(eventTypes []EventType) <-chan Event
	Unsubscribe(ch <-chan Event)
}

// SimpleEventBus is a basic in-memory implementation of EventBus
type SimpleEventBus struct {
	mu          sync.RWMutex
	subscribers map[<-chan Event]subscription
}

type subscription struct {
	ch         chan Event
	eventTypes map[EventType]bool
}

func NewEventBus() *SimpleEventBus {
	return &SimpleEventBus{
		subscribers: make(map[<-chan Event]subscription),
	}
}

func (b *SimpleEventBus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if len(sub.eventTypes) == 0 || sub.eventTypes[event.Type()] {
			select {
			case sub.ch <- event:
			default:
				// Channel full, skip this subscriber
			}
		}
	}
}

func (b *SimpleEventBus) Subscribe(eventTypes []EventType) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 100)
	typeMap := make(map[EventType]bool)
	for _, t := range eventTypes {
		typeMap[t] = true
	}

	b.subscribers[ch] = subscription{
		ch:         ch,
		eventTypes: typeMap,
	}

	return ch
}

func (b *SimpleEventBus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[ch]; ok {
		close(sub.ch)
		delete(b.subscribers, ch)
	}
}
