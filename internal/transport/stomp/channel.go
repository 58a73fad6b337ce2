// Package stomp implements the real-time duplex channel to the chat backend:
// STOMP 1.2 frames over a WebSocket connection, with an explicit connection
// state machine and a desired-subscription set that is replayed on every
// transition into connected.
package stomp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/roomwire/chatsync/internal/domain"
)

// State is the connection state of the channel.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

const (
	roomTopicFmt    = "/topic/rooms.%s"
	unreadQueue     = "/user/queue/unread"
	sendDestFmt     = "/app/rooms.%s.send"
	readDestFmt     = "/app/rooms.%s.read"
	leaveDestFmt    = "/app/rooms.%s.leave"
	unreadReqDest   = "/app/unread"
	unreadSubID     = "sub-unread"
	connectTimeout  = 15 * time.Second
	stableResetSpan = 60 * time.Second
)

type ChannelConfig struct {
	URL       string
	Token     string
	LocalUser domain.UserID

	AutoReconnect      bool
	MaxReconnects      int
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
}

func (c *ChannelConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = 10
	}
}

type roomSub struct {
	id string
	fn func(domain.Message)
}

// Channel is the STOMP-over-WebSocket transport. It owns connection
// lifecycle only; it is stateless with respect to message content beyond
// in-flight delivery.
type Channel struct {
	cfg ChannelConfig
	log zerolog.Logger

	mu               sync.Mutex
	state            State
	conn             *websocket.Conn
	writer           *frame.Writer
	cancelFn         context.CancelFunc
	intentionalClose bool
	nextSubID        int

	subs     map[domain.RoomID]*roomSub
	unreadFn func(map[domain.RoomID]int)
	statusFn func(connected bool, reason string)

	writeMu sync.Mutex
	recon   *reconnector
}

func NewChannel(cfg ChannelConfig, log zerolog.Logger) *Channel {
	cfg.defaults()
	return &Channel{
		cfg:   cfg,
		log:   log,
		state: StateDisconnected,
		subs:  make(map[domain.RoomID]*roomSub),
		recon: newReconnector(cfg.ReconnectBaseDelay, cfg.ReconnectMaxDelay, cfg.MaxReconnects),
	}
}

// SetUnreadHandler registers the callback for authoritative unread-count
// pushes from the per-user queue.
func (c *Channel) SetUnreadHandler(fn func(map[domain.RoomID]int)) {
	c.mu.Lock()
	c.unreadFn = fn
	c.mu.Unlock()
}

// SetStatusHandler registers the callback for connection state changes.
func (c *Channel) SetStatusHandler(fn func(connected bool, reason string)) {
	c.mu.Lock()
	c.statusFn = fn
	c.mu.Unlock()
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect establishes the WebSocket, performs the STOMP handshake and
// replays every desired subscription. Idempotent while connected or
// connecting.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.intentionalClose = false
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, c.cfg.URL, nil)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("websocket dial: %w", err)
	}

	connCtx, cancelConn := context.WithCancel(context.Background())
	nc := websocket.NetConn(connCtx, conn, websocket.MessageText)
	reader := frame.NewReader(nc)
	writer := frame.NewWriter(nc)

	connected, err := c.handshake(reader, writer)
	if err != nil {
		cancelConn()
		conn.Close(websocket.StatusNormalClosure, "")
		c.setState(StateDisconnected)
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.writer = writer
	c.cancelFn = cancelConn
	c.state = StateConnected
	subs := make(map[domain.RoomID]*roomSub, len(c.subs))
	for id, sub := range c.subs {
		subs[id] = sub
	}
	statusFn := c.statusFn
	c.mu.Unlock()
	c.recon.markConnected()

	c.log.Info().Str("server", connected.Header.Get("server")).Msg("stomp connected")

	// Replay the desired-subscription set so room topics survive reconnects.
	c.writeFrame(frame.New(frame.SUBSCRIBE,
		frame.Id, unreadSubID,
		frame.Destination, unreadQueue,
		frame.Ack, "auto"))
	for roomID, sub := range subs {
		c.writeFrame(subscribeFrame(sub.id, roomID))
	}

	if statusFn != nil {
		statusFn(true, "")
	}

	go c.readLoop(connCtx, reader)
	return nil
}

func (c *Channel) handshake(reader *frame.Reader, writer *frame.Writer) (*frame.Frame, error) {
	connectFrame := frame.New(frame.CONNECT,
		frame.AcceptVersion, "1.2",
		frame.Host, "chat",
		frame.HeartBeat, "0,0")
	if c.cfg.Token != "" {
		connectFrame.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	if err := writer.Write(connectFrame); err != nil {
		return nil, fmt.Errorf("write CONNECT: %w", err)
	}

	for {
		f, err := reader.Read()
		if err != nil {
			return nil, fmt.Errorf("read CONNECTED: %w", err)
		}
		if f == nil {
			continue // heartbeat
		}
		switch f.Command {
		case frame.CONNECTED:
			return f, nil
		case frame.ERROR:
			return nil, fmt.Errorf("stomp handshake rejected: %s", f.Header.Get(frame.Message))
		default:
			return nil, fmt.Errorf("unexpected frame %q during handshake", f.Command)
		}
	}
}

// Disconnect tears down the connection and forgets every subscription.
func (c *Channel) Disconnect() error {
	c.mu.Lock()
	c.intentionalClose = true
	if c.cancelFn != nil {
		c.cancelFn()
		c.cancelFn = nil
	}
	conn := c.conn
	c.conn = nil
	c.writer = nil
	c.state = StateDisconnected
	c.subs = make(map[domain.RoomID]*roomSub)
	statusFn := c.statusFn
	c.mu.Unlock()

	if statusFn != nil {
		statusFn(false, "client disconnect")
	}
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	return nil
}

// SubscribeRoom registers onMessage for the room's topic. When the channel
// is not connected the registration is only recorded and a warning logged;
// it is replayed on the next transition into connected.
func (c *Channel) SubscribeRoom(roomID domain.RoomID, onMessage func(domain.Message)) {
	c.mu.Lock()
	if existing, ok := c.subs[roomID]; ok {
		existing.fn = onMessage
		c.mu.Unlock()
		return
	}
	c.nextSubID++
	sub := &roomSub{id: "sub-" + strconv.Itoa(c.nextSubID), fn: onMessage}
	c.subs[roomID] = sub
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected {
		c.log.Warn().Str("room", roomID.String()).Msg("subscribe requested while disconnected, deferred")
		return
	}
	c.writeFrame(subscribeFrame(sub.id, roomID))
}

// UnsubscribeRoom removes the registration; no-op if not subscribed.
func (c *Channel) UnsubscribeRoom(roomID domain.RoomID) {
	c.mu.Lock()
	sub, ok := c.subs[roomID]
	if ok {
		delete(c.subs, roomID)
	}
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !ok || !connected {
		return
	}
	c.writeFrame(frame.New(frame.UNSUBSCRIBE, frame.Id, sub.id))
}

// SendMessage publishes a message to its room's send destination. Fire and
// forget: delivery confirmation arrives later as an inbound echo.
func (c *Channel) SendMessage(ctx context.Context, msg domain.Message) error {
	body, err := json.Marshal(msg.ToWire())
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return c.send(fmt.Sprintf(sendDestFmt, msg.RoomID), body)
}

// MarkRead issues the real-time mark-as-read command for the room.
func (c *Channel) MarkRead(ctx context.Context, roomID domain.RoomID) error {
	return c.send(fmt.Sprintf(readDestFmt, roomID), nil)
}

// LeaveRoom notifies the server that the user left the room's view.
func (c *Channel) LeaveRoom(ctx context.Context, roomID domain.RoomID) error {
	return c.send(fmt.Sprintf(leaveDestFmt, roomID), nil)
}

// RequestUnreadCounts asks the server to push the authoritative per-room
// unread counts to the user queue.
func (c *Channel) RequestUnreadCounts(ctx context.Context) error {
	return c.send(unreadReqDest, nil)
}

func (c *Channel) send(destination string, body []byte) error {
	f := frame.New(frame.SEND, frame.Destination, destination)
	if body != nil {
		f.Header.Set(frame.ContentType, "application/json")
		f.Body = body
	}
	return c.writeFrame(f)
}

func (c *Channel) writeFrame(f *frame.Frame) error {
	c.mu.Lock()
	writer := c.writer
	c.mu.Unlock()
	if writer == nil {
		return domain.ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return writer.Write(f)
}

func (c *Channel) readLoop(ctx context.Context, reader *frame.Reader) {
	for {
		f, err := reader.Read()
		if err != nil {
			c.handleReadError(ctx, err)
			return
		}
		if f == nil {
			continue // heartbeat
		}

		switch f.Command {
		case frame.MESSAGE:
			c.dispatch(f)
		case frame.ERROR:
			c.log.Error().Str("message", f.Header.Get(frame.Message)).Msg("stomp error frame")
		}
	}
}

func (c *Channel) dispatch(f *frame.Frame) {
	subID := f.Header.Get(frame.Subscription)

	if subID == unreadSubID {
		var push domain.WireUnread
		if err := json.Unmarshal(f.Body, &push); err != nil {
			c.log.Warn().Err(err).Msg("bad unread push payload")
			return
		}
		c.mu.Lock()
		fn := c.unreadFn
		c.mu.Unlock()
		if fn != nil {
			counts := make(map[domain.RoomID]int, len(push.Counts))
			for id, n := range push.Counts {
				counts[domain.RoomID(id)] = n
			}
			fn(counts)
		}
		return
	}

	var wire domain.WireMessage
	if err := json.Unmarshal(f.Body, &wire); err != nil {
		c.log.Warn().Err(err).Msg("bad message payload")
		return
	}
	msg := wire.ToDomain(c.cfg.LocalUser)

	c.mu.Lock()
	var fn func(domain.Message)
	for roomID, sub := range c.subs {
		if sub.id == subID || roomID == msg.RoomID {
			fn = sub.fn
			break
		}
	}
	c.mu.Unlock()

	if fn == nil {
		c.log.Debug().Str("room", msg.RoomID.String()).Msg("message for unsubscribed room dropped")
		return
	}
	fn(*msg)
}

func (c *Channel) handleReadError(ctx context.Context, err error) {
	c.mu.Lock()
	intentional := c.intentionalClose
	c.conn = nil
	c.writer = nil
	c.state = StateDisconnected
	statusFn := c.statusFn
	c.mu.Unlock()

	if intentional {
		return
	}

	c.log.Warn().Err(err).Msg("stomp connection lost")
	if statusFn != nil {
		statusFn(false, err.Error())
	}

	if c.cfg.AutoReconnect && c.recon.shouldReconnect() {
		c.scheduleReconnect()
	}
}

func (c *Channel) scheduleReconnect() {
	delay := c.recon.nextDelay()
	c.log.Info().Dur("delay", delay).Int("attempt", c.recon.attempt).Msg("reconnecting")
	time.Sleep(delay)

	if err := c.Connect(context.Background()); err != nil {
		if c.cfg.AutoReconnect && c.recon.shouldReconnect() {
			c.scheduleReconnect()
			return
		}
		c.log.Error().Err(err).Msg("reconnect attempts exhausted")
	}
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func subscribeFrame(subID string, roomID domain.RoomID) *frame.Frame {
	return frame.New(frame.SUBSCRIBE,
		frame.Id, subID,
		frame.Destination, fmt.Sprintf(roomTopicFmt, roomID),
		frame.Ack, "auto")
}
