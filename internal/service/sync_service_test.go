package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/roomwire/chatsync/internal/domain"
	"github.com/roomwire/chatsync/internal/transport/rest"
)

// ============================================================================
// Fakes
// ============================================================================

type fakeChannel struct {
	mu          sync.Mutex
	connected   bool
	handlers    map[domain.RoomID]func(domain.Message)
	unreadFn    func(map[domain.RoomID]int)
	statusFn    func(bool, string)
	sendErr     error
	sendCalls   int
	markedRead  []domain.RoomID
	left        []domain.RoomID
	unreadCalls int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{handlers: make(map[domain.RoomID]func(domain.Message))}
}

func (f *fakeChannel) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *fakeChannel) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeChannel) SubscribeRoom(roomID domain.RoomID, onMessage func(domain.Message)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[roomID] = onMessage
}

func (f *fakeChannel) UnsubscribeRoom(roomID domain.RoomID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, roomID)
}

func (f *fakeChannel) SendMessage(ctx context.Context, msg domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls++
	return f.sendErr
}

func (f *fakeChannel) MarkRead(ctx context.Context, roomID domain.RoomID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markedRead = append(f.markedRead, roomID)
	return nil
}

func (f *fakeChannel) LeaveRoom(ctx context.Context, roomID domain.RoomID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left = append(f.left, roomID)
	return nil
}

func (f *fakeChannel) RequestUnreadCounts(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unreadCalls++
	return nil
}

func (f *fakeChannel) SetUnreadHandler(fn func(map[domain.RoomID]int)) { f.unreadFn = fn }

func (f *fakeChannel) SetStatusHandler(fn func(bool, string)) { f.statusFn = fn }

// deliver pushes an inbound message through the room's subscription the way
// the real transport would.
func (f *fakeChannel) deliver(msg domain.Message) {
	f.mu.Lock()
	fn := f.handlers[msg.RoomID]
	f.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

func (f *fakeChannel) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sendCalls
}

type fakeAPI struct {
	mu         sync.Mutex
	rooms      []*domain.Room
	pages      map[domain.RoomID][]*rest.Page
	fetchErr   error
	fetchCalls int
	sendErr    error
	sendCalls  int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{pages: make(map[domain.RoomID][]*rest.Page)}
}

func (f *fakeAPI) ListRooms(ctx context.Context) ([]*domain.Room, error) {
	return f.rooms, nil
}

func (f *fakeAPI) FetchMessages(ctx context.Context, roomID domain.RoomID, page, size int) (*rest.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	pages := f.pages[roomID]
	if page >= len(pages) {
		return &rest.Page{Number: page, HasNext: false}, nil
	}
	return pages[page], nil
}

func (f *fakeAPI) SendMessage(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls++
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	confirmed := *msg
	confirmed.ID = fmt.Sprintf("srv-rest-%d", f.sendCalls)
	confirmed.EchoOf = msg.ID
	confirmed.Status = domain.StatusSent
	return &confirmed, nil
}

func (f *fakeAPI) MarkMessagesRead(ctx context.Context, roomID domain.RoomID) error { return nil }

func (f *fakeAPI) AddParticipant(ctx context.Context, roomID domain.RoomID, user domain.UserID) error {
	return nil
}

func (f *fakeAPI) RemoveParticipant(ctx context.Context, roomID domain.RoomID, user domain.UserID) error {
	return nil
}

func (f *fakeAPI) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls
}

func (f *fakeAPI) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sendCalls
}

// ============================================================================
// Harness
// ============================================================================

const (
	localUser = domain.UserID("alice")
	peerUser  = domain.UserID("bob")
	roomA     = domain.RoomID("room-a")
	roomB     = domain.RoomID("room-b")
)

func newTestService(t *testing.T) (*SyncService, *fakeChannel, *fakeAPI) {
	t.Helper()
	ch := newFakeChannel()
	api := newFakeAPI()
	svc := NewSyncService(
		Config{
			LocalUser:       localUser,
			PageSize:        10,
			MaxSendAttempts: 2,
			DeliveryTimeout: 30 * time.Millisecond,
			RetryDelay:      5 * time.Millisecond,
		},
		ch, api, nil, nil,
		domain.NewEventBus(),
		zerolog.Nop(),
	)
	return svc, ch, api
}

func serverText(id string, roomID domain.RoomID, sender domain.UserID, text string, at time.Time) domain.Message {
	m := domain.NewTextMessage(id, roomID, sender, text, at, sender == localUser)
	return *m
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// ============================================================================
// Tests
// ============================================================================

func TestSendReconciliation(t *testing.T) {
	t.Run("echo with temp id replaces the optimistic message", func(t *testing.T) {
		svc, ch, _ := newTestService(t)
		if err := svc.SelectRoom(context.Background(), roomA); err != nil {
			t.Fatal(err)
		}

		temp, err := svc.SendText(context.Background(), roomA, "hello")
		if err != nil {
			t.Fatal(err)
		}

		echo := serverText("srv-1", roomA, localUser, "hello", time.Now().UTC())
		echo.EchoOf = temp.ID
		ch.deliver(echo)

		msgs := svc.Messages(roomA)
		if len(msgs) != 1 {
			t.Fatalf("expected exactly one message, got %d", len(msgs))
		}
		if msgs[0].ID != "srv-1" {
			t.Fatalf("expected the confirmed id, got %s", msgs[0].ID)
		}
	})

	t.Run("echo without temp id falls back to content matching", func(t *testing.T) {
		svc, ch, _ := newTestService(t)
		if err := svc.SelectRoom(context.Background(), roomA); err != nil {
			t.Fatal(err)
		}

		if _, err := svc.SendText(context.Background(), roomA, "hello"); err != nil {
			t.Fatal(err)
		}

		ch.deliver(serverText("srv-1", roomA, localUser, "hello", time.Now().UTC()))

		msgs := svc.Messages(roomA)
		if len(msgs) != 1 {
			t.Fatalf("expected exactly one message, got %d", len(msgs))
		}
		if msgs[0].ID != "srv-1" {
			t.Fatalf("expected the confirmed id, got %s", msgs[0].ID)
		}
	})

	t.Run("self-authored message from another device just appends", func(t *testing.T) {
		svc, ch, _ := newTestService(t)
		if err := svc.SelectRoom(context.Background(), roomA); err != nil {
			t.Fatal(err)
		}

		ch.deliver(serverText("srv-9", roomA, localUser, "from my laptop", time.Now().UTC()))

		if len(svc.Messages(roomA)) != 1 {
			t.Fatal("expected the message to appear")
		}
		if svc.UnreadCount(roomA) != 0 {
			t.Fatal("own messages never count as unread")
		}
	})

	t.Run("echo racing a history merge leaves a single entry", func(t *testing.T) {
		svc, ch, api := newTestService(t)
		api.sendErr = domain.ErrNotConnected

		temp, err := svc.SendText(context.Background(), roomA, "hello")
		if err != nil {
			t.Fatal(err)
		}

		// Page zero already contains the confirmed row before the echo lands.
		api.pages[roomA] = []*rest.Page{{
			Messages: []*domain.Message{
				domain.NewTextMessage("srv-1", roomA, localUser, "hello", time.Now().UTC(), true),
			},
			Number: 0,
		}}
		if err := svc.SelectRoom(context.Background(), roomA); err != nil {
			t.Fatal(err)
		}

		echo := serverText("srv-1", roomA, localUser, "hello", time.Now().UTC())
		echo.EchoOf = temp.ID
		ch.deliver(echo)

		msgs := svc.Messages(roomA)
		if len(msgs) != 1 {
			t.Fatalf("expected exactly one entry, got %d", len(msgs))
		}
		if msgs[0].ID != "srv-1" {
			t.Fatalf("expected the server id, got %s", msgs[0].ID)
		}
	})

	t.Run("deduped echo publishes no append event", func(t *testing.T) {
		svc, ch, _ := newTestService(t)
		if err := svc.SelectRoom(context.Background(), roomA); err != nil {
			t.Fatal(err)
		}
		appended := svc.bus.Subscribe([]domain.EventType{domain.EventTypeMessageAppended})
		defer svc.bus.Unsubscribe(appended)

		echo := serverText("srv-1", roomA, localUser, "hi", time.Now().UTC())
		echo.EchoOf = "tmp-long-gone"
		ch.deliver(echo)
		ch.deliver(echo)

		count := 0
		for draining := true; draining; {
			select {
			case <-appended:
				count++
			default:
				draining = false
			}
		}
		if count != 1 {
			t.Fatalf("expected a single append event, got %d", count)
		}
		if got := len(svc.Messages(roomA)); got != 1 {
			t.Fatalf("expected 1 message, got %d", got)
		}
	})

	t.Run("empty text is rejected before any network traffic", func(t *testing.T) {
		svc, ch, _ := newTestService(t)
		if _, err := svc.SendText(context.Background(), roomA, "   "); err == nil {
			t.Fatal("expected a validation error")
		}
		if ch.sendCount() != 0 {
			t.Fatal("nothing should have been published")
		}
	})
}

func TestSendFailure(t *testing.T) {
	svc, ch, api := newTestService(t)
	ch.sendErr = domain.ErrNotConnected
	api.sendErr = domain.ErrNotConnected
	if err := svc.SelectRoom(context.Background(), roomA); err != nil {
		t.Fatal(err)
	}

	temp, err := svc.SendText(context.Background(), roomA, "doomed")
	if err != nil {
		t.Fatal(err)
	}

	waitFor(t, "message to fail", func() bool {
		msgs := svc.Messages(roomA)
		return len(msgs) == 1 && msgs[0].Status == domain.StatusFailed
	})

	if got := ch.sendCount(); got != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", got)
	}

	t.Run("retry moves failed back to sending", func(t *testing.T) {
		ch.mu.Lock()
		ch.sendErr = nil
		ch.mu.Unlock()

		if err := svc.Retry(roomA, temp.ID); err != nil {
			t.Fatal(err)
		}
		msgs := svc.Messages(roomA)
		if msgs[0].Status != domain.StatusSending {
			t.Fatalf("expected sending after retry, got %s", msgs[0].Status)
		}

		echo := serverText("srv-1", roomA, localUser, "doomed", time.Now().UTC())
		echo.EchoOf = temp.ID
		ch.deliver(echo)

		if got := svc.Messages(roomA); len(got) != 1 || got[0].ID != "srv-1" {
			t.Fatal("retry echo did not reconcile")
		}
	})

	t.Run("retry rejects messages that are not failed", func(t *testing.T) {
		if err := svc.Retry(roomA, "srv-1"); err == nil {
			t.Fatal("expected a validation error for a delivered message")
		}
	})
}

func TestRestSendFallback(t *testing.T) {
	svc, ch, api := newTestService(t)
	ch.sendErr = domain.ErrNotConnected
	if err := svc.SelectRoom(context.Background(), roomA); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.SendText(context.Background(), roomA, "via rest"); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "rest fallback to reconcile", func() bool {
		msgs := svc.Messages(roomA)
		return len(msgs) == 1 && msgs[0].ID == "srv-rest-1"
	})

	if got := ch.sendCount(); got != 2 {
		t.Fatalf("expected the channel attempts to be exhausted first, got %d", got)
	}
	if got := api.sendCount(); got != 1 {
		t.Fatalf("expected one rest send, got %d", got)
	}
	msgs := svc.Messages(roomA)
	if msgs[0].Status != domain.StatusSent {
		t.Fatalf("expected sent after the rest confirmation, got %s", msgs[0].Status)
	}
}

func TestInboundUnreadCounting(t *testing.T) {
	t.Run("inactive room accumulates, selection resets", func(t *testing.T) {
		svc, ch, _ := newTestService(t)
		if err := svc.SelectRoom(context.Background(), roomA); err != nil {
			t.Fatal(err)
		}
		// A background subscription for roomB, as after a server room push.
		ch.SubscribeRoom(roomB, svc.handleInbound)

		ch.deliver(serverText("b1", roomB, peerUser, "psst", time.Now().UTC()))
		ch.deliver(serverText("b2", roomB, peerUser, "hey", time.Now().UTC().Add(10*time.Second)))

		if got := svc.UnreadCount(roomB); got != 2 {
			t.Fatalf("expected 2 unread, got %d", got)
		}
		if got := svc.UnreadTotal(); got != 2 {
			t.Fatalf("expected total 2, got %d", got)
		}

		if err := svc.SelectRoom(context.Background(), roomB); err != nil {
			t.Fatal(err)
		}
		if got := svc.UnreadCount(roomB); got != 0 {
			t.Fatalf("expected 0 after selection, got %d", got)
		}
	})

	t.Run("active room never accumulates", func(t *testing.T) {
		svc, ch, _ := newTestService(t)
		if err := svc.SelectRoom(context.Background(), roomA); err != nil {
			t.Fatal(err)
		}

		ch.deliver(serverText("a1", roomA, peerUser, "hi", time.Now().UTC()))

		if got := svc.UnreadCount(roomA); got != 0 {
			t.Fatalf("expected 0 for the active room, got %d", got)
		}
		if len(svc.Messages(roomA)) != 1 {
			t.Fatal("the message itself must still appear")
		}
	})

	t.Run("duplicate delivery counts once", func(t *testing.T) {
		svc, ch, _ := newTestService(t)
		if err := svc.SelectRoom(context.Background(), roomA); err != nil {
			t.Fatal(err)
		}
		ch.SubscribeRoom(roomB, svc.handleInbound)

		msg := serverText("b1", roomB, peerUser, "once", time.Now().UTC())
		ch.deliver(msg)
		ch.deliver(msg)

		if got := svc.UnreadCount(roomB); got != 1 {
			t.Fatalf("expected 1 unread, got %d", got)
		}
		if got := len(svc.Messages(roomB)); got != 1 {
			t.Fatalf("expected 1 message, got %d", got)
		}
	})
}

func TestUnreadPush(t *testing.T) {
	svc, ch, _ := newTestService(t)
	if err := svc.SelectRoom(context.Background(), roomA); err != nil {
		t.Fatal(err)
	}

	ch.unreadFn(map[domain.RoomID]int{roomA: 5, roomB: 3})

	if got := svc.UnreadCount(roomA); got != 0 {
		t.Fatalf("active room must stay at zero, got %d", got)
	}
	if got := svc.UnreadCount(roomB); got != 3 {
		t.Fatalf("expected 3 for roomB, got %d", got)
	}
}

func TestPagination(t *testing.T) {
	history := func(id string, minutesAgo int) *domain.Message {
		return domain.NewTextMessage(id, roomA, peerUser, "old "+id,
			time.Now().UTC().Add(-time.Duration(minutesAgo)*time.Minute), false)
	}

	t.Run("single page disables further loading", func(t *testing.T) {
		svc, _, api := newTestService(t)
		api.pages[roomA] = []*rest.Page{
			{Messages: []*domain.Message{history("m1", 2), history("m2", 1)}, Number: 0, HasNext: false},
		}

		if err := svc.SelectRoom(context.Background(), roomA); err != nil {
			t.Fatal(err)
		}
		if got := api.fetchCount(); got != 1 {
			t.Fatalf("expected 1 fetch on selection, got %d", got)
		}

		if err := svc.LoadMoreMessages(context.Background(), roomA); err != nil {
			t.Fatal(err)
		}
		if got := api.fetchCount(); got != 1 {
			t.Fatalf("load-more on a single-page room must not hit the network, got %d fetches", got)
		}
	})

	t.Run("sequential pages merge in order", func(t *testing.T) {
		svc, _, api := newTestService(t)
		api.pages[roomA] = []*rest.Page{
			{Messages: []*domain.Message{history("m3", 1), history("m4", 0)}, Number: 0, HasNext: true},
			{Messages: []*domain.Message{history("m1", 3), history("m2", 2)}, Number: 1, HasNext: false},
		}

		if err := svc.SelectRoom(context.Background(), roomA); err != nil {
			t.Fatal(err)
		}
		if err := svc.LoadMoreMessages(context.Background(), roomA); err != nil {
			t.Fatal(err)
		}

		got := svc.Messages(roomA)
		if len(got) != 4 {
			t.Fatalf("expected 4 messages, got %d", len(got))
		}
		for i, want := range []string{"m1", "m2", "m3", "m4"} {
			if got[i].ID != want {
				t.Fatalf("position %d: got %s, want %s", i, got[i].ID, want)
			}
		}

		if err := svc.LoadMoreMessages(context.Background(), roomA); err != nil {
			t.Fatal(err)
		}
		if got := api.fetchCount(); got != 2 {
			t.Fatalf("exhausted history must not refetch, got %d fetches", got)
		}
	})

	t.Run("reselecting a loaded room does not refetch", func(t *testing.T) {
		svc, _, api := newTestService(t)
		if err := svc.SelectRoom(context.Background(), roomA); err != nil {
			t.Fatal(err)
		}
		if err := svc.SelectRoom(context.Background(), roomA); err != nil {
			t.Fatal(err)
		}
		if got := api.fetchCount(); got != 1 {
			t.Fatalf("expected a single fetch, got %d", got)
		}
	})
}

func TestServerRejectionRemovesRoom(t *testing.T) {
	svc, ch, api := newTestService(t)
	svc.rooms.Upsert(domain.NewPrivateRoom(roomA, "Doomed"))
	api.fetchErr = &domain.ServerRejection{Code: "ROOM_GONE", Message: "room deleted"}

	err := svc.SelectRoom(context.Background(), roomA)
	if _, ok := domain.IsServerRejection(err); !ok {
		t.Fatalf("expected the rejection to surface, got %v", err)
	}

	if _, ok := svc.rooms.Get(roomA); ok {
		t.Fatal("room should have been removed locally")
	}
	if len(svc.Messages(roomA)) != 0 {
		t.Fatal("messages should have been dropped")
	}
	ch.mu.Lock()
	_, subscribed := ch.handlers[roomA]
	ch.mu.Unlock()
	if subscribed {
		t.Fatal("subscription should have been dropped")
	}
}

func TestUnsubscribeFromRoom(t *testing.T) {
	svc, ch, _ := newTestService(t)
	if err := svc.SelectRoom(context.Background(), roomA); err != nil {
		t.Fatal(err)
	}

	svc.UnsubscribeFromRoom(context.Background(), roomA)

	if svc.ActiveRoom() != "" {
		t.Fatal("active room should be cleared")
	}
	if got := svc.UnreadCount(roomA); got != 0 {
		t.Fatalf("unread should be zero, got %d", got)
	}
	waitFor(t, "leave notice", func() bool {
		ch.mu.Lock()
		defer ch.mu.Unlock()
		return len(ch.left) == 1 && ch.left[0] == roomA
	})
}

func TestSwitchingRoomsMovesSubscription(t *testing.T) {
	svc, ch, _ := newTestService(t)
	if err := svc.SelectRoom(context.Background(), roomA); err != nil {
		t.Fatal(err)
	}
	if err := svc.SelectRoom(context.Background(), roomB); err != nil {
		t.Fatal(err)
	}

	ch.mu.Lock()
	_, hasA := ch.handlers[roomA]
	_, hasB := ch.handlers[roomB]
	ch.mu.Unlock()

	if hasA {
		t.Fatal("previous room should be unsubscribed")
	}
	if !hasB {
		t.Fatal("new room should be subscribed")
	}
	if svc.ActiveRoom() != roomB {
		t.Fatalf("expected roomB active, got %s", svc.ActiveRoom())
	}
}

func TestStartLoadsRoomsAndUnreads(t *testing.T) {
	svc, ch, api := newTestService(t)
	room := domain.NewPrivateRoom(roomA, "General")
	room.UnreadCount = 4
	api.rooms = []*domain.Room{room}

	if err := svc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got := len(svc.Rooms()); got != 1 {
		t.Fatalf("expected 1 room, got %d", got)
	}
	if got := svc.UnreadCount(roomA); got != 4 {
		t.Fatalf("server unread count is authoritative, got %d", got)
	}
	ch.mu.Lock()
	connected, unreadCalls := ch.connected, ch.unreadCalls
	ch.mu.Unlock()
	if !connected {
		t.Fatal("channel should be connected")
	}
	if unreadCalls != 1 {
		t.Fatalf("expected one unread snapshot request, got %d", unreadCalls)
	}
}
