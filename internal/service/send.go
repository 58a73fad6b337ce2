package service

import (
	"context"
	"strings"
	"time"

	"github.com/roomwire/chatsync/internal/domain"
)

// SendText appends an optimistic temporary message and publishes it in the
// background. The returned message carries the temporary id; it is replaced
// in place once the server echo arrives.
func (s *SyncService) SendText(ctx context.Context, roomID domain.RoomID, text string) (*domain.Message, error) {
	if roomID.IsZero() {
		return nil, &domain.ValidationError{Field: "roomId", Reason: "empty room identifier"}
	}
	if strings.TrimSpace(text) == "" {
		return nil, &domain.ValidationError{Field: "text", Reason: "empty message text"}
	}

	msg := domain.NewTemporaryText(roomID, s.cfg.LocalUser, text, time.Now().UTC())
	s.appendOptimistic(roomID, msg)

	go s.deliver(*msg)
	return msg, nil
}

// SendAttachment does the same for an already-uploaded attachment. The
// resource locator is validated before anything touches the network.
func (s *SyncService) SendAttachment(ctx context.Context, roomID domain.RoomID, resourceLocator, contentType string) (*domain.Message, error) {
	if roomID.IsZero() {
		return nil, &domain.ValidationError{Field: "roomId", Reason: "empty room identifier"}
	}
	if strings.TrimSpace(resourceLocator) == "" {
		return nil, &domain.ValidationError{Field: "resourceLocator", Reason: "empty attachment locator"}
	}

	msg := domain.NewTemporaryAttachment(roomID, s.cfg.LocalUser, resourceLocator, contentType, time.Now().UTC())
	s.appendOptimistic(roomID, msg)

	go s.deliver(*msg)
	return msg, nil
}

// Retry re-attempts a message that exhausted its send attempts. Only a
// failed message is eligible.
func (s *SyncService) Retry(roomID domain.RoomID, messageID string) error {
	unlock := s.lockRoom(roomID)
	msg := s.msgs.Get(roomID, messageID)
	if msg == nil {
		unlock()
		return &domain.ValidationError{Field: "messageId", Reason: "unknown message"}
	}
	if msg.Status != domain.StatusFailed {
		unlock()
		return &domain.ValidationError{Field: "messageId", Reason: "message is not in a failed state"}
	}
	s.msgs.UpdateStatus(roomID, messageID, domain.StatusSending)
	snapshot := *msg
	snapshot.Status = domain.StatusSending
	unlock()

	s.bus.Publish(domain.MessageStatusEvent{
		RoomID:    roomID,
		MessageID: messageID,
		Status:    domain.StatusSending,
		EventTime: time.Now(),
	})

	go s.deliver(snapshot)
	return nil
}

func (s *SyncService) appendOptimistic(roomID domain.RoomID, msg *domain.Message) {
	unlock := s.lockRoom(roomID)
	s.msgs.Append(roomID, msg)
	s.rooms.UpdateLastMessage(roomID, msg)
	unlock()

	s.bus.Publish(domain.MessageAppendedEvent{Message: msg, EventTime: time.Now()})
}

// deliver publishes msg over the real-time channel and waits for the echo
// to reconcile it, retrying up to the configured attempt count. Navigating
// away from the room does not cancel delivery, so the context here is
// deliberately detached from any UI operation.
func (s *SyncService) deliver(msg domain.Message) {
	ack := s.registerEcho(msg.ID)
	defer s.unregisterEcho(msg.ID)

	for attempt := 1; attempt <= s.cfg.MaxSendAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DeliveryTimeout)
		err := s.channel.SendMessage(ctx, msg)
		cancel()

		wait := s.cfg.DeliveryTimeout
		if err != nil {
			s.log.Warn().Err(err).Str("id", msg.ID).Int("attempt", attempt).Msg("publish failed")
			// An echo from a previous attempt may still land while we
			// back off, so keep listening for the ack.
			wait = s.cfg.RetryDelay
		}

		select {
		case <-ack:
			return
		case <-time.After(wait):
		}
		s.log.Debug().Str("id", msg.ID).Int("attempt", attempt).Msg("no delivery confirmation")
	}

	// The real-time channel gave up; REST is the backstop, like mark-read.
	if confirmed := s.sendViaRest(msg); confirmed != nil {
		s.handleInbound(*confirmed)
		return
	}

	unlock := s.lockRoom(msg.RoomID)
	changed := s.msgs.UpdateStatus(msg.RoomID, msg.ID, domain.StatusFailed)
	unlock()
	if !changed {
		return // reconciled between the last timeout and now
	}

	s.log.Warn().Err(domain.ErrDeliveryTimeout).Str("id", msg.ID).Int("attempts", s.cfg.MaxSendAttempts).Msg("send attempts exhausted")
	s.bus.Publish(domain.MessageStatusEvent{
		RoomID:    msg.RoomID,
		MessageID: msg.ID,
		Status:    domain.StatusFailed,
		EventTime: time.Now(),
	})
}

// sendViaRest publishes msg over the REST endpoint and returns the
// server-confirmed record, or nil when that failed too. The response carries
// the reflected temp id so the ordinary echo path reconciles it.
func (s *SyncService) sendViaRest(msg domain.Message) *domain.Message {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DeliveryTimeout)
	defer cancel()

	confirmed, err := s.api.SendMessage(ctx, &msg)
	if err != nil {
		s.log.Warn().Err(err).Str("id", msg.ID).Msg("rest send fallback failed")
		return nil
	}
	if confirmed.EchoOf == "" {
		confirmed.EchoOf = msg.ID
	}
	return confirmed
}

func (s *SyncService) registerEcho(tempID string) chan struct{} {
	ch := make(chan struct{})
	s.pendingMu.Lock()
	s.pending[tempID] = ch
	s.pendingMu.Unlock()
	return ch
}

func (s *SyncService) unregisterEcho(tempID string) {
	s.pendingMu.Lock()
	delete(s.pending, tempID)
	s.pendingMu.Unlock()
}

// ackEcho releases the delivery loop waiting on tempID, if any.
func (s *SyncService) ackEcho(tempID string) {
	s.pendingMu.Lock()
	ch, ok := s.pending[tempID]
	if ok {
		delete(s.pending, tempID)
	}
	s.pendingMu.Unlock()
	if ok {
		close(ch)
	}
}
