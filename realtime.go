package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	DefaultReconnectDelay = 3 * time.Second

	// DefaultMaxFrameSize caps inbound frame size. A larger frame cannot be
	// skipped on a websocket stream: the socket is closed with 1009 and the
	// usual reconnect applies.
	DefaultMaxFrameSize = 1 << 20
)

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig configures a [Connection].
type RealtimeConfig struct {
	Token string

	// ReconnectDelay is the wait before each reconnect attempt after an
	// unexpected close. With ReconnectMaxDelay set above it, the delay
	// doubles per attempt up to that cap instead.
	ReconnectDelay    time.Duration
	ReconnectMaxDelay time.Duration

	// MaxReconnectAttempts bounds consecutive failed attempts before the
	// connection goes offline. Zero retries forever.
	MaxReconnectAttempts int

	// MaxFrameSize is the largest inbound frame accepted, in bytes.
	MaxFrameSize int64

	DialTimeout  time.Duration
	WriteTimeout time.Duration
	HTTPClient   *http.Client
	Logger       *log.Logger
	Notifier     Notifier
}

func (c *RealtimeConfig) defaults() {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = DefaultMaxFrameSize
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	c.Logger = loggerOr(c.Logger)
	c.Notifier = notifierOr(c.Notifier, c.Logger)
}

// RealtimeState represents the connection state.
type RealtimeState string

const (
	StateDisconnected RealtimeState = "disconnected"
	StateConnecting   RealtimeState = "connecting"
	StateConnected    RealtimeState = "connected"
	StateReconnecting RealtimeState = "reconnecting"
	// StateOffline means reconnect attempts were exhausted. A send or a new
	// Connect starts over.
	StateOffline RealtimeState = "offline"
)

// ============================================================================
// Event Dispatcher
// ============================================================================

// FrameHandler is the generic frame callback type. raw is the whole frame.
type FrameHandler func(frameType string, raw json.RawMessage)

type eventDispatcher struct {
	mu             sync.RWMutex
	generic        map[string][]FrameHandler
	onMessage      []func(Message)
	onPresence     []func(PresenceSnapshot)
	onServerError  []func(string)
	onConnected    []func()
	onDisconnected []func(int, string)
	onReconnecting []func(int, time.Duration)
}

func newEventDispatcher() *eventDispatcher {
	return &eventDispatcher{
		generic: make(map[string][]FrameHandler),
	}
}

func (d *eventDispatcher) dispatch(frameType string, raw json.RawMessage) {
	d.mu.RLock()
	handlers := append([]FrameHandler{}, d.generic[frameType]...)
	d.mu.RUnlock()
	for _, h := range handlers {
		go h(frameType, raw)
	}
}

func (d *eventDispatcher) emitMessage(m Message) {
	d.mu.RLock()
	handlers := append([]func(Message){}, d.onMessage...)
	d.mu.RUnlock()
	for _, h := range handlers {
		go h(m)
	}
}

func (d *eventDispatcher) emitPresence(p PresenceSnapshot) {
	d.mu.RLock()
	handlers := append([]func(PresenceSnapshot){}, d.onPresence...)
	d.mu.RUnlock()
	for _, h := range handlers {
		go h(p)
	}
}

func (d *eventDispatcher) emitServerError(text string) {
	d.mu.RLock()
	handlers := append([]func(string){}, d.onServerError...)
	d.mu.RUnlock()
	for _, h := range handlers {
		go h(text)
	}
}

func (d *eventDispatcher) emitConnected() {
	d.mu.RLock()
	handlers := append([]func(){}, d.onConnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		go h()
	}
}

func (d *eventDispatcher) emitDisconnected(code int, reason string) {
	d.mu.RLock()
	handlers := append([]func(int, string){}, d.onDisconnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		go h(code, reason)
	}
}

func (d *eventDispatcher) emitReconnecting(attempt int, delay time.Duration) {
	d.mu.RLock()
	handlers := append([]func(int, time.Duration){}, d.onReconnecting...)
	d.mu.RUnlock()
	for _, h := range handlers {
		go h(attempt, delay)
	}
}

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
}

func newReconnector(config *RealtimeConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) nextDelay() time.Duration {
	r.attempt++
	if r.maxDelay <= r.baseDelay {
		return r.baseDelay
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	return time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt-1))+float64(jitter),
		float64(r.maxDelay),
	))
}

func (r *reconnector) reset() {
	r.attempt = 0
}

// ============================================================================
// Connection
// ============================================================================

// Connection owns the single live socket of a logged-in user. It feeds
// presence events into a [Presence] and confirmed messages into a [Store],
// and reconnects on its own after unexpected closes.
//
// Only a close with status 1000 (normal closure), from either side, stops
// the reconnect loop.
type Connection struct {
	baseURL    string
	config     *RealtimeConfig
	store      *Store
	presence   *Presence
	dispatcher *eventDispatcher
	logger     *log.Logger
	notifier   Notifier

	mu       sync.Mutex
	conn     *websocket.Conn
	userID   string
	state    RealtimeState
	cancelFn context.CancelFunc
	recon    *reconnector
	timer    *time.Timer
	// gen changes on every Connect and Disconnect; socket callbacks and
	// reconnect timers from an older generation are ignored.
	gen uint64
}

// NewConnection creates a disconnected connection manager for the server at
// baseURL (http or https; the socket scheme is derived from it).
func NewConnection(baseURL string, store *Store, presence *Presence, config *RealtimeConfig) *Connection {
	var cfg RealtimeConfig
	if config != nil {
		cfg = *config
	}
	cfg.defaults()
	return &Connection{
		baseURL:    strings.TrimRight(baseURL, "/"),
		config:     &cfg,
		store:      store,
		presence:   presence,
		dispatcher: newEventDispatcher(),
		logger:     cfg.Logger,
		notifier:   cfg.Notifier,
		state:      StateDisconnected,
		recon:      newReconnector(&cfg),
	}
}

// OnMessage registers a handler for confirmed messages pushed by the server.
// The store has already absorbed the message when handlers run.
func (c *Connection) OnMessage(h func(Message)) {
	c.dispatcher.mu.Lock()
	c.dispatcher.onMessage = append(c.dispatcher.onMessage, h)
	c.dispatcher.mu.Unlock()
}

// OnPresence registers a handler for presence and activity changes.
func (c *Connection) OnPresence(h func(PresenceSnapshot)) {
	c.dispatcher.mu.Lock()
	c.dispatcher.onPresence = append(c.dispatcher.onPresence, h)
	c.dispatcher.mu.Unlock()
}

// OnServerError registers a handler for error frames.
func (c *Connection) OnServerError(h func(string)) {
	c.dispatcher.mu.Lock()
	c.dispatcher.onServerError = append(c.dispatcher.onServerError, h)
	c.dispatcher.mu.Unlock()
}

// OnConnected registers a handler for the connected meta-event.
func (c *Connection) OnConnected(h func()) {
	c.dispatcher.mu.Lock()
	c.dispatcher.onConnected = append(c.dispatcher.onConnected, h)
	c.dispatcher.mu.Unlock()
}

// OnDisconnected registers a handler for the disconnected meta-event.
func (c *Connection) OnDisconnected(h func(code int, reason string)) {
	c.dispatcher.mu.Lock()
	c.dispatcher.onDisconnected = append(c.dispatcher.onDisconnected, h)
	c.dispatcher.mu.Unlock()
}

// OnReconnecting registers a handler for the reconnecting meta-event.
func (c *Connection) OnReconnecting(h func(attempt int, delay time.Duration)) {
	c.dispatcher.mu.Lock()
	c.dispatcher.onReconnecting = append(c.dispatcher.onReconnecting, h)
	c.dispatcher.mu.Unlock()
}

// On registers a generic handler for frames of frameType, including types
// the connection does not know.
func (c *Connection) On(frameType string, h FrameHandler) {
	c.dispatcher.mu.Lock()
	c.dispatcher.generic[frameType] = append(c.dispatcher.generic[frameType], h)
	c.dispatcher.mu.Unlock()
}

// State returns the current connection state.
func (c *Connection) State() RealtimeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether a socket is open.
func (c *Connection) IsConnected() bool {
	return c.State() == StateConnected
}

// Connect opens the socket for userID, closing any socket that is already
// open. When the dial fails the error is returned and a reconnect is
// scheduled as for any other unexpected close.
func (c *Connection) Connect(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrMissingUserID
	}

	c.mu.Lock()
	closeOld := c.detachLocked("reconnect")
	c.userID = userID
	c.state = StateConnecting
	c.recon.reset()
	gen := c.gen
	c.mu.Unlock()

	closeOld()

	if err := c.open(ctx, userID, gen); err != nil {
		c.logger.Warn("connect failed", "user_id", userID, "err", err)
		c.scheduleReconnect(gen, userID)
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

// Disconnect closes the socket with a normal closure and cancels any
// pending reconnect. A later send still triggers a fresh connect.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	closeConn := c.detachLocked("client disconnect")
	c.state = StateDisconnected
	c.mu.Unlock()

	err := closeConn()
	c.logger.Info("disconnected")
	c.dispatcher.emitDisconnected(int(websocket.StatusNormalClosure), "client disconnect")
	return err
}

// detachLocked invalidates the current generation and returns a func that
// closes the detached socket. Must be called with c.mu held; the returned
// func must be called without it.
func (c *Connection) detachLocked(reason string) func() error {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	conn, cancel := c.conn, c.cancelFn
	c.conn, c.cancelFn = nil, nil
	return func() error {
		var err error
		if conn != nil {
			err = conn.Close(websocket.StatusNormalClosure, reason)
		}
		if cancel != nil {
			cancel()
		}
		return err
	}
}

func (c *Connection) socketURL(userID string) string {
	u := strings.Replace(c.baseURL, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	u += "/chat/" + url.PathEscape(userID)
	if c.config.Token != "" {
		u += "?token=" + url.QueryEscape(c.config.Token)
	}
	return u
}

func (c *Connection) open(ctx context.Context, userID string, gen uint64) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.config.DialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, c.socketURL(userID), &websocket.DialOptions{
		HTTPClient: c.config.HTTPClient,
	})
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetReadLimit(c.config.MaxFrameSize)

	// The read loop outlives the caller's ctx.
	readCtx, readCancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		readCancel()
		conn.Close(websocket.StatusNormalClosure, "superseded")
		return nil
	}
	c.presence.reset()
	c.conn = conn
	c.cancelFn = readCancel
	c.state = StateConnected
	c.recon.reset()
	c.mu.Unlock()

	c.logger.Info("connected", "user_id", userID)
	c.dispatcher.emitConnected()

	go c.readLoop(readCtx, conn, gen)
	return nil
}

func (c *Connection) readLoop(ctx context.Context, conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.handleClose(gen, err)
			return
		}
		c.handleFrame(data)
	}
}

func (c *Connection) handleClose(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen {
		// Intentional close or superseded socket.
		c.mu.Unlock()
		return
	}
	if c.cancelFn != nil {
		c.cancelFn()
		c.cancelFn = nil
	}
	c.conn = nil
	c.state = StateDisconnected
	userID := c.userID
	c.mu.Unlock()

	code := websocket.CloseStatus(err)
	c.logger.Warn("connection closed", "user_id", userID, "code", int(code), "err", err)
	c.dispatcher.emitDisconnected(int(code), err.Error())

	if code == websocket.StatusNormalClosure {
		return
	}
	c.scheduleReconnect(gen, userID)
}

func (c *Connection) scheduleReconnect(gen uint64, userID string) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	if !c.recon.shouldReconnect() {
		c.state = StateOffline
		attempts := c.recon.attempt
		c.mu.Unlock()
		c.logger.Error("giving up reconnecting", "user_id", userID, "attempts", attempts)
		notifyError(c.notifier, "Chat is offline. Send a message to try again.")
		return
	}
	delay := c.recon.nextDelay()
	attempt := c.recon.attempt
	c.state = StateReconnecting
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(delay, func() { c.reconnect(gen, userID) })
	c.mu.Unlock()

	c.logger.Info("reconnecting", "user_id", userID, "attempt", attempt, "delay", delay)
	c.dispatcher.emitReconnecting(attempt, delay)
}

func (c *Connection) reconnect(gen uint64, userID string) {
	c.mu.Lock()
	if gen != c.gen || c.conn != nil || c.state == StateConnecting {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.state = StateConnecting
	c.mu.Unlock()

	if err := c.open(context.Background(), userID, gen); err != nil {
		c.logger.Warn("reconnect failed", "user_id", userID, "err", err)
		c.scheduleReconnect(gen, userID)
	}
}

// triggerReconnect starts an immediate attempt when no socket is open and
// none is being dialled.
func (c *Connection) triggerReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userID == "" || c.conn != nil || c.state == StateConnecting {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.recon.reset()
	c.state = StateReconnecting
	gen, userID := c.gen, c.userID
	c.timer = time.AfterFunc(0, func() { c.reconnect(gen, userID) })
}

// ── Inbound frames ───────────────────────────────────────

func (c *Connection) handleFrame(data []byte) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil || f.Type == "" {
		c.logger.Warn("dropping malformed frame", "err", err, "size", len(data))
		return
	}

	switch f.Type {
	case FrameUsersOnline:
		c.presence.replace(f.Users)
		c.dispatcher.emitPresence(c.presence.Snapshot())

	case FrameUserConnected, FrameUserDisconnected:
		if f.UserID == "" {
			c.logger.Warn("dropping presence frame without user id", "type", f.Type)
			return
		}
		if f.Type == FrameUserConnected {
			c.presence.add(f.UserID)
		} else {
			c.presence.remove(f.UserID)
		}
		c.dispatcher.emitPresence(c.presence.Snapshot())

	case FrameUserActivity:
		if f.UserID == "" {
			c.logger.Warn("dropping activity frame without user id")
			return
		}
		activity := ""
		if f.Activity != nil {
			activity = *f.Activity
		}
		c.presence.setActivity(f.UserID, activity)
		c.dispatcher.emitPresence(c.presence.Snapshot())

	case FrameReceiveMessage:
		var m Message
		if err := json.Unmarshal(f.Message, &m); err != nil || m.ID == "" {
			c.logger.Warn("dropping malformed message frame", "err", err)
			return
		}
		c.store.AbsorbIncoming(m)
		c.dispatcher.emitMessage(m)

	case FrameError:
		var text string
		if json.Unmarshal(f.Message, &text) != nil || text == "" {
			text = "The chat server reported an error."
		}
		c.logger.Warn("server error", "message", text)
		notifyError(c.notifier, text)
		c.dispatcher.emitServerError(text)

	default:
		c.logger.Debug("ignoring unknown frame", "type", f.Type)
	}

	c.dispatcher.dispatch(f.Type, data)
}

// ── Outbound ─────────────────────────────────────────────

// SendDirect sends content to receiverID. The message is inserted into the
// store as pending before it is transmitted. Transport failures do not
// return an error: the message is flagged failed, a notification is
// raised, and when no socket is open a reconnect is started.
func (c *Connection) SendDirect(ctx context.Context, receiverID, senderID, content string) (Message, error) {
	if receiverID == "" || senderID == "" {
		return Message{}, ErrMissingUserID
	}
	if strings.TrimSpace(content) == "" {
		return Message{}, ErrMissingContent
	}
	m := c.store.InsertOptimistic(Message{SenderID: senderID, ReceiverID: receiverID, Content: content})
	return c.transmit(ctx, m), nil
}

// SendToRoom is [Connection.SendDirect] for group rooms.
func (c *Connection) SendToRoom(ctx context.Context, roomID, senderID, content string) (Message, error) {
	if roomID == "" {
		return Message{}, ErrNoConversation
	}
	if senderID == "" {
		return Message{}, ErrMissingUserID
	}
	if strings.TrimSpace(content) == "" {
		return Message{}, ErrMissingContent
	}
	m := c.store.InsertOptimistic(Message{SenderID: senderID, RoomID: roomID, Content: content})
	return c.transmit(ctx, m), nil
}

// Resend transmits a failed local message again under its original temp id.
// Messages that are not failed are returned unchanged.
func (c *Connection) Resend(ctx context.Context, tempID string) (Message, error) {
	m, ok := c.store.FindByTempID(tempID)
	if !ok {
		return Message{}, ErrUnknownMessage
	}
	if !m.Error {
		return m, nil
	}
	if m, ok = c.store.MarkPending(tempID); !ok {
		return Message{}, ErrUnknownMessage
	}
	return c.transmit(ctx, m), nil
}

func (c *Connection) transmit(ctx context.Context, m Message) Message {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		c.logger.Warn("send while disconnected", "temp_id", m.TempID)
		notifyError(c.notifier, "Not connected. Your message was not sent.")
		failed := c.fail(m)
		c.triggerReconnect()
		return failed
	}

	frame := SendMessageFrame{
		Type:       FrameSendMessage,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		RoomID:     m.RoomID,
		Content:    m.Content,
		TempID:     m.TempID,
	}
	wctx, cancel := context.WithTimeout(ctx, c.config.WriteTimeout)
	defer cancel()
	if err := wsjson.Write(wctx, conn, frame); err != nil {
		c.logger.Error("send failed", "temp_id", m.TempID, "err", err)
		notifyError(c.notifier, "Your message could not be sent.")
		return c.fail(m)
	}
	c.logger.Debug("message sent", "temp_id", m.TempID, "target", m.target())
	return m
}

func (c *Connection) fail(m Message) Message {
	if failed, ok := c.store.MarkFailed(m.TempID); ok {
		return failed
	}
	m.Pending = false
	m.Error = true
	return m
}

// SendActivity announces the local user's current activity, such as the
// track being played. An empty activity clears it.
func (c *Connection) SendActivity(ctx context.Context, activity string) error {
	c.mu.Lock()
	conn, userID := c.conn, c.userID
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	wctx, cancel := context.WithTimeout(ctx, c.config.WriteTimeout)
	defer cancel()
	if err := wsjson.Write(wctx, conn, ActivityFrame{
		Type:     FrameUpdateActivity,
		UserID:   userID,
		Activity: activity,
	}); err != nil {
		return fmt.Errorf("send activity: %w", err)
	}
	return nil
}
