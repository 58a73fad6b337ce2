// Package service contains the synchronization orchestrator: the single
// owner of the message store, room registry and unread counters. UI-driven
// calls and transport callbacks both funnel through it, and it serializes
// state mutations per room.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/roomwire/chatsync/internal/domain"
	"github.com/roomwire/chatsync/internal/repository"
	"github.com/roomwire/chatsync/internal/store"
	"github.com/roomwire/chatsync/internal/transport/rest"
)

// RealtimeChannel is the duplex transport the orchestrator drives. The
// STOMP channel implements it; tests substitute fakes.
type RealtimeChannel interface {
	Connect(ctx context.Context) error
	Disconnect() error
	SubscribeRoom(roomID domain.RoomID, onMessage func(domain.Message))
	UnsubscribeRoom(roomID domain.RoomID)
	SendMessage(ctx context.Context, msg domain.Message) error
	MarkRead(ctx context.Context, roomID domain.RoomID) error
	LeaveRoom(ctx context.Context, roomID domain.RoomID) error
	RequestUnreadCounts(ctx context.Context) error
	SetUnreadHandler(fn func(map[domain.RoomID]int))
	SetStatusHandler(fn func(connected bool, reason string))
}

// RestAPI is the REST surface the orchestrator falls back to.
type RestAPI interface {
	ListRooms(ctx context.Context) ([]*domain.Room, error)
	FetchMessages(ctx context.Context, roomID domain.RoomID, page, size int) (*rest.Page, error)
	SendMessage(ctx context.Context, msg *domain.Message) (*domain.Message, error)
	MarkMessagesRead(ctx context.Context, roomID domain.RoomID) error
	AddParticipant(ctx context.Context, roomID domain.RoomID, user domain.UserID) error
	RemoveParticipant(ctx context.Context, roomID domain.RoomID, user domain.UserID) error
}

type Config struct {
	LocalUser       domain.UserID
	PageSize        int
	DedupWindow     time.Duration
	MaxSendAttempts int
	DeliveryTimeout time.Duration
	RetryDelay      time.Duration
}

func (c *Config) defaults() {
	if c.PageSize == 0 {
		c.PageSize = 50
	}
	if c.MaxSendAttempts == 0 {
		c.MaxSendAttempts = 3
	}
	if c.DeliveryTimeout == 0 {
		c.DeliveryTimeout = 10 * time.Second
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 1 * time.Second
	}
}

// pageState tracks pagination progress per room.
type pageState struct {
	loaded  bool
	page    int
	hasNext bool
}

type SyncService struct {
	cfg     Config
	channel RealtimeChannel
	api     RestAPI
	bus     domain.EventBus
	log     zerolog.Logger

	msgRepo  repository.MessageRepository
	roomRepo repository.RoomRepository

	msgs   *store.MessageStore
	unread *store.UnreadCounter
	rooms  *store.RoomRegistry

	lockMu    sync.Mutex
	roomLocks map[domain.RoomID]*sync.Mutex

	pageMu sync.Mutex
	pages  map[domain.RoomID]*pageState

	pendingMu sync.Mutex
	pending   map[string]chan struct{}
}

// NewSyncService wires the orchestrator to its transports. msgRepo and
// roomRepo may be nil to run without the offline cache.
func NewSyncService(
	cfg Config,
	channel RealtimeChannel,
	api RestAPI,
	msgRepo repository.MessageRepository,
	roomRepo repository.RoomRepository,
	bus domain.EventBus,
	log zerolog.Logger,
) *SyncService {
	cfg.defaults()

	s := &SyncService{
		cfg:       cfg,
		channel:   channel,
		api:       api,
		bus:       bus,
		log:       log,
		msgRepo:   msgRepo,
		roomRepo:  roomRepo,
		msgs:      store.NewMessageStore(cfg.DedupWindow),
		unread:    store.NewUnreadCounter(),
		rooms:     store.NewRoomRegistry(),
		roomLocks: make(map[domain.RoomID]*sync.Mutex),
		pages:     make(map[domain.RoomID]*pageState),
		pending:   make(map[string]chan struct{}),
	}

	channel.SetUnreadHandler(s.onUnreadPush)
	channel.SetStatusHandler(s.onConnectionStatus)
	return s
}

// Start hydrates local state from the offline cache, connects the real-time
// channel and refreshes the room list from the server.
func (s *SyncService) Start(ctx context.Context) error {
	s.hydrate(ctx)

	if err := s.channel.Connect(ctx); err != nil {
		return err
	}
	if err := s.LoadRooms(ctx); err != nil {
		s.log.Warn().Err(err).Msg("initial room list fetch failed")
	}
	if err := s.channel.RequestUnreadCounts(ctx); err != nil {
		s.log.Warn().Err(err).Msg("unread count request failed")
	}
	return nil
}

// Stop disconnects the channel.
func (s *SyncService) Stop() {
	if err := s.channel.Disconnect(); err != nil {
		s.log.Warn().Err(err).Msg("disconnect failed")
	}
}

func (s *SyncService) hydrate(ctx context.Context) {
	if s.roomRepo == nil {
		return
	}
	rooms, err := s.roomRepo.GetAll(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("offline cache room load failed")
		return
	}
	for _, room := range rooms {
		s.rooms.Upsert(room)
		s.unread.SetAuthoritative(room.ID, room.UnreadCount)
		if s.msgRepo != nil {
			msgs, err := s.msgRepo.GetByRoom(ctx, room.ID, s.cfg.PageSize)
			if err != nil {
				s.log.Warn().Err(err).Str("room", room.ID.String()).Msg("offline cache message load failed")
				continue
			}
			s.msgs.MergePage(room.ID, msgs)
		}
	}
	s.log.Info().Int("rooms", len(rooms)).Msg("hydrated from offline cache")
}

// LoadRooms refreshes the room list from the server. Server-provided unread
// counts are authoritative.
func (s *SyncService) LoadRooms(ctx context.Context) error {
	rooms, err := s.api.ListRooms(ctx)
	if err != nil {
		return err
	}
	for _, room := range rooms {
		s.rooms.Upsert(room)
		if !s.rooms.IsActive(room.ID) {
			s.unread.SetAuthoritative(room.ID, room.UnreadCount)
		}
		s.persistRoom(room)
		s.bus.Publish(domain.RoomUpdatedEvent{Room: room, EventTime: time.Now()})
	}
	return nil
}

// SelectRoom makes roomID the active room: the previous room's subscription
// is dropped, the unread counter resets to zero, history is loaded, the
// room topic is subscribed and a non-blocking mark-read goes out. Safe to
// call repeatedly with the same room.
func (s *SyncService) SelectRoom(ctx context.Context, roomID domain.RoomID) error {
	if roomID.IsZero() {
		return &domain.ValidationError{Field: "roomId", Reason: "empty room identifier"}
	}

	prev := s.rooms.Active()
	if prev != "" && prev != roomID {
		s.channel.UnsubscribeRoom(prev)
	}
	s.rooms.SetActive(roomID)
	s.resetUnread(roomID)

	if err := s.ensureInitialPage(ctx, roomID); err != nil {
		if rej, ok := domain.IsServerRejection(err); ok {
			s.removeRoomLocally(ctx, roomID, rej)
			return err
		}
		s.log.Warn().Err(err).Str("room", roomID.String()).Msg("history load failed")
	}

	s.channel.SubscribeRoom(roomID, s.handleInbound)

	go s.markReadRemote(roomID)
	return nil
}

// MarkRoomRead resets the unread counter immediately and tells the server,
// falling back to the REST path when the real-time command fails.
func (s *SyncService) MarkRoomRead(ctx context.Context, roomID domain.RoomID) {
	s.resetUnread(roomID)
	go s.markReadRemote(roomID)
}

func (s *SyncService) markReadRemote(roomID domain.RoomID) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.channel.MarkRead(ctx, roomID); err == nil {
		return
	}
	// The real-time command has no delivery guarantee; REST is the backstop.
	if err := s.api.MarkMessagesRead(ctx, roomID); err != nil {
		s.log.Warn().Err(err).Str("room", roomID.String()).Msg("mark-read fallback failed")
	}
}

// UnsubscribeFromRoom clears active-room state, zeroes the unread counter
// (the user saw everything while present) and sends a best-effort leave
// notice.
func (s *SyncService) UnsubscribeFromRoom(ctx context.Context, roomID domain.RoomID) {
	if s.rooms.Active() == roomID {
		s.rooms.SetActive("")
	}
	s.resetUnread(roomID)
	s.channel.UnsubscribeRoom(roomID)

	go func() {
		leaveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.channel.LeaveRoom(leaveCtx, roomID); err != nil {
			s.log.Warn().Err(err).Str("room", roomID.String()).Msg("leave notice failed")
		}
	}()
}

// LoadMoreMessages fetches the next history page and merges it in. When the
// backend already reported the final page, no request is issued at all,
// including the single-page case where page zero had no successor.
func (s *SyncService) LoadMoreMessages(ctx context.Context, roomID domain.RoomID) error {
	unlock := s.lockRoom(roomID)
	defer unlock()

	st := s.pageFor(roomID)
	if st.loaded && !st.hasNext {
		return nil
	}

	page := 0
	if st.loaded {
		page = st.page + 1
	}
	return s.fetchPage(ctx, roomID, page, st)
}

func (s *SyncService) ensureInitialPage(ctx context.Context, roomID domain.RoomID) error {
	unlock := s.lockRoom(roomID)
	defer unlock()

	st := s.pageFor(roomID)
	if st.loaded {
		return nil
	}
	return s.fetchPage(ctx, roomID, 0, st)
}

func (s *SyncService) fetchPage(ctx context.Context, roomID domain.RoomID, page int, st *pageState) error {
	result, err := s.api.FetchMessages(ctx, roomID, page, s.cfg.PageSize)
	if err != nil {
		return err
	}

	added := s.msgs.MergePage(roomID, result.Messages)
	st.loaded = true
	st.page = result.Number
	st.hasNext = result.HasNext

	for _, msg := range result.Messages {
		s.persistMessage(msg)
	}
	if last := latestOf(result.Messages); last != nil {
		s.rooms.UpdateLastMessage(roomID, last)
	}
	if added > 0 {
		if room, ok := s.rooms.Get(roomID); ok {
			s.bus.Publish(domain.RoomUpdatedEvent{Room: room, EventTime: time.Now()})
		}
	}
	s.log.Debug().Str("room", roomID.String()).Int("page", page).Int("added", added).Msg("history page merged")
	return nil
}

// Messages returns the room's message sequence, oldest first.
func (s *SyncService) Messages(roomID domain.RoomID) []*domain.Message {
	return s.msgs.ListForRoom(roomID)
}

// Rooms returns the known rooms, most recently active first.
func (s *SyncService) Rooms() []*domain.Room {
	return s.rooms.All()
}

func (s *SyncService) ActiveRoom() domain.RoomID { return s.rooms.Active() }

func (s *SyncService) UnreadCount(roomID domain.RoomID) int { return s.unread.Get(roomID) }

func (s *SyncService) UnreadTotal() int { return s.unread.Total() }

// handleInbound is the transport callback. It runs reconciliation against
// optimistic local sends, then dedup, then the unread-counter guards.
func (s *SyncService) handleInbound(msg domain.Message) {
	roomID := msg.RoomID
	unlock := s.lockRoom(roomID)
	defer unlock()

	m := &msg

	if m.IsFromMe {
		tempID := m.EchoOf
		if tempID == "" {
			if temp := s.msgs.FindTemporaryMatch(roomID, m); temp != nil {
				tempID = temp.ID
			}
		}
		if tempID != "" {
			outcome := s.msgs.ReplaceTemporary(roomID, tempID, m)
			s.ackEcho(tempID)
			if outcome == store.ReplaceIgnored {
				return
			}
			s.persistMessage(m)
			// The row may predate the echo via a history page; the
			// insert-or-ignore above would then drop the status upgrade.
			s.persistStatus(m.ID, m.Status)
			s.rooms.UpdateLastMessage(roomID, m)
			if outcome == store.ReplaceAppended {
				s.bus.Publish(domain.MessageAppendedEvent{Message: m, EventTime: time.Now()})
			} else {
				s.bus.Publish(domain.MessageReplacedEvent{TempID: tempID, Message: m, EventTime: time.Now()})
			}
			return
		}
		// Self-authored but not an echo of anything local: sent from
		// another device. Append like any other message, no counter.
		if s.msgs.Append(roomID, m) {
			s.persistMessage(m)
			s.rooms.UpdateLastMessage(roomID, m)
			s.bus.Publish(domain.MessageAppendedEvent{Message: m, EventTime: time.Now()})
		}
		return
	}

	if !s.msgs.Append(roomID, m) {
		return // already arrived over the other channel
	}
	s.persistMessage(m)
	s.rooms.UpdateLastMessage(roomID, m)
	s.bus.Publish(domain.MessageAppendedEvent{Message: m, EventTime: time.Now()})

	if !s.rooms.IsActive(roomID) {
		count := s.unread.Increment(roomID)
		s.persistUnread(roomID, count)
		s.bus.Publish(domain.UnreadChangedEvent{
			RoomID:    roomID,
			Count:     count,
			Total:     s.unread.Total(),
			EventTime: time.Now(),
		})
	}
}

// onUnreadPush applies a server-pushed authoritative unread snapshot. The
// active room stays pinned at zero; a stale push for it would otherwise
// briefly resurrect counts the user has already seen.
func (s *SyncService) onUnreadPush(counts map[domain.RoomID]int) {
	for roomID, count := range counts {
		if s.rooms.IsActive(roomID) {
			count = 0
		}
		s.unread.SetAuthoritative(roomID, count)
		s.persistUnread(roomID, count)
		s.bus.Publish(domain.UnreadChangedEvent{
			RoomID:    roomID,
			Count:     count,
			Total:     s.unread.Total(),
			EventTime: time.Now(),
		})
	}
}

func (s *SyncService) onConnectionStatus(connected bool, reason string) {
	s.bus.Publish(domain.ConnectionStatusEvent{
		Connected: connected,
		Reason:    reason,
		EventTime: time.Now(),
	})
	if connected {
		// Reconcile drift accumulated while offline.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := s.channel.RequestUnreadCounts(ctx); err != nil {
				s.log.Warn().Err(err).Msg("unread reconcile after reconnect failed")
			}
		}()
	}
}

func (s *SyncService) removeRoomLocally(ctx context.Context, roomID domain.RoomID, rej *domain.ServerRejection) {
	s.log.Info().Str("room", roomID.String()).Str("code", rej.Code).Msg("server rejected room, removing locally")
	s.rooms.Remove(roomID)
	s.msgs.DropRoom(roomID)
	s.unread.Drop(roomID)
	s.channel.UnsubscribeRoom(roomID)

	if s.msgRepo != nil {
		if err := s.msgRepo.DeleteByRoom(ctx, roomID); err != nil {
			s.log.Warn().Err(err).Msg("cache message cleanup failed")
		}
	}
	if s.roomRepo != nil {
		if err := s.roomRepo.Delete(ctx, roomID); err != nil {
			s.log.Warn().Err(err).Msg("cache room cleanup failed")
		}
	}
	s.bus.Publish(domain.RoomRemovedEvent{RoomID: roomID, EventTime: time.Now()})
}

// AddParticipant and RemoveParticipant pass membership changes through to
// the backend and mirror them locally on success.
func (s *SyncService) AddParticipant(ctx context.Context, roomID domain.RoomID, user domain.UserID) error {
	if err := s.api.AddParticipant(ctx, roomID, user); err != nil {
		return err
	}
	s.rooms.AddParticipant(roomID, user)
	if room, ok := s.rooms.Get(roomID); ok {
		s.persistRoom(room)
		s.bus.Publish(domain.RoomUpdatedEvent{Room: room, EventTime: time.Now()})
	}
	return nil
}

func (s *SyncService) RemoveParticipant(ctx context.Context, roomID domain.RoomID, user domain.UserID) error {
	if err := s.api.RemoveParticipant(ctx, roomID, user); err != nil {
		return err
	}
	s.rooms.RemoveParticipant(roomID, user)
	if room, ok := s.rooms.Get(roomID); ok {
		s.persistRoom(room)
		s.bus.Publish(domain.RoomUpdatedEvent{Room: room, EventTime: time.Now()})
	}
	return nil
}

func (s *SyncService) resetUnread(roomID domain.RoomID) {
	s.unread.Reset(roomID)
	s.persistUnread(roomID, 0)
	s.bus.Publish(domain.UnreadChangedEvent{
		RoomID:    roomID,
		Count:     0,
		Total:     s.unread.Total(),
		EventTime: time.Now(),
	})
}

func (s *SyncService) lockRoom(roomID domain.RoomID) func() {
	s.lockMu.Lock()
	mu, ok := s.roomLocks[roomID]
	if !ok {
		mu = &sync.Mutex{}
		s.roomLocks[roomID] = mu
	}
	s.lockMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

func (s *SyncService) pageFor(roomID domain.RoomID) *pageState {
	s.pageMu.Lock()
	defer s.pageMu.Unlock()
	st, ok := s.pages[roomID]
	if !ok {
		st = &pageState{}
		s.pages[roomID] = st
	}
	return st
}

func (s *SyncService) persistMessage(msg *domain.Message) {
	if s.msgRepo == nil || msg.IsTemporary() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.msgRepo.CreateOrIgnore(ctx, msg); err != nil {
		s.log.Warn().Err(err).Str("id", msg.ID).Msg("cache message write failed")
	}
}

func (s *SyncService) persistStatus(messageID string, status domain.MessageStatus) {
	if s.msgRepo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.msgRepo.UpdateStatus(ctx, messageID, status); err != nil {
		s.log.Warn().Err(err).Str("id", messageID).Msg("cache status write failed")
	}
}

func (s *SyncService) persistRoom(room *domain.Room) {
	if s.roomRepo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.roomRepo.Upsert(ctx, room); err != nil {
		s.log.Warn().Err(err).Str("room", room.ID.String()).Msg("cache room write failed")
	}
}

func (s *SyncService) persistUnread(roomID domain.RoomID, count int) {
	if s.roomRepo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.roomRepo.UpdateUnreadCount(ctx, roomID, count); err != nil {
		s.log.Warn().Err(err).Str("room", roomID.String()).Msg("cache unread write failed")
	}
}

func latestOf(msgs []*domain.Message) *domain.Message {
	var last *domain.Message
	for _, m := range msgs {
		if last == nil || m.Timestamp.After(last.Timestamp) {
			last = m
		}
	}
	return last
}
