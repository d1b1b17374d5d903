package chat

import (
	"context"
	"errors"
	"sync"

	"github.com/charmbracelet/log"
)

// SessionOptions configures a [Session].
type SessionOptions struct {
	// Self is the logged-in user. Its ID is required.
	Self User

	// Client is the REST client; a default one is created when nil.
	Client *Client

	// Fetcher serves history pages. Defaults to Client.
	Fetcher HistoryFetcher

	// Realtime configures the socket. Token defaults to the client's token.
	Realtime RealtimeConfig

	PageSize int
	Logger   *log.Logger
	Notifier Notifier
}

// Session wires one store, presence tracker, connection, pager and selection
// together for a logged-in user. Nothing is shared between sessions.
type Session struct {
	self      User
	client    *Client
	store     *Store
	presence  *Presence
	conn      *Connection
	pager     *Pager
	selection *Selection
	logger    *log.Logger

	mu     sync.Mutex
	closed bool
}

// NewSession builds the chat services for opts.Self. It does not connect.
func NewSession(opts SessionOptions) (*Session, error) {
	if opts.Self.ID == "" {
		return nil, ErrMissingUserID
	}
	logger := loggerOr(opts.Logger)
	notifier := notifierOr(opts.Notifier, logger)

	client := opts.Client
	if client == nil {
		client = NewClient(WithLogger(logger))
	}
	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = client
	}

	rt := opts.Realtime
	if rt.Token == "" {
		rt.Token = client.Token()
	}
	if rt.Logger == nil {
		rt.Logger = logger
	}
	if rt.Notifier == nil {
		rt.Notifier = notifier
	}

	store := NewStore(logger)
	presence := NewPresence(logger)
	pager := NewPager(fetcher, store, opts.Self.ID, &PagerConfig{
		PageSize: opts.PageSize,
		Logger:   logger,
		Notifier: notifier,
	})

	return &Session{
		self:      opts.Self,
		client:    client,
		store:     store,
		presence:  presence,
		conn:      NewConnection(client.BaseURL(), store, presence, &rt),
		pager:     pager,
		selection: NewSelection(pager, logger),
		logger:    logger,
	}, nil
}

func (s *Session) Self() User { return s.self }
func (s *Session) Store() *Store { return s.store }
func (s *Session) Presence() *Presence { return s.presence }
func (s *Session) Connection() *Connection { return s.conn }
func (s *Session) Pager() *Pager { return s.pager }
func (s *Session) Active() Conversation { return s.selection.Active() }
func (s *Session) Peer() (User, bool) { return s.selection.Peer() }
func (s *Session) PageState() PageState { return s.pager.State() }
func (s *Session) ConnState() RealtimeState { return s.conn.State() }

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Connect opens the socket for the logged-in user.
func (s *Session) Connect(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.conn.Connect(ctx, s.self.ID)
}

// SelectPeer switches to the direct conversation with u.
func (s *Session) SelectPeer(ctx context.Context, u User) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.selection.SelectPeer(ctx, u)
}

// SelectRoom switches to a group room.
func (s *Session) SelectRoom(ctx context.Context, roomID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.selection.SelectRoom(ctx, roomID)
}

// Send sends content to the active conversation.
func (s *Session) Send(ctx context.Context, content string) (Message, error) {
	if err := s.checkOpen(); err != nil {
		return Message{}, err
	}
	conv := s.selection.Active()
	switch {
	case conv.IsZero():
		return Message{}, ErrNoConversation
	case conv.IsRoom():
		return s.conn.SendToRoom(ctx, conv.RoomID, s.self.ID, content)
	default:
		return s.conn.SendDirect(ctx, conv.PeerID, s.self.ID, content)
	}
}

// Retry re-sends a failed message.
func (s *Session) Retry(ctx context.Context, tempID string) (Message, error) {
	if err := s.checkOpen(); err != nil {
		return Message{}, err
	}
	return s.conn.Resend(ctx, tempID)
}

// LoadMore loads older history for the active conversation. See
// [Pager.LoadMore].
func (s *Session) LoadMore(ctx context.Context) bool {
	if s.checkOpen() != nil {
		return false
	}
	return s.pager.LoadMore(ctx)
}

// Visible returns the sorted messages of the active conversation.
func (s *Session) Visible() []Message {
	return FilterForConversation(s.store.Snapshot(), s.self.ID, s.selection.Active())
}

// Following lists the logged-in user's contacts.
func (s *Session) Following(ctx context.Context) ([]User, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.client.Following(ctx, s.self.ID)
}

// SetActivity announces what the user is doing, over the socket when one is
// open and over REST otherwise.
func (s *Session) SetActivity(ctx context.Context, activity string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	err := s.conn.SendActivity(ctx, activity)
	if errors.Is(err, ErrNotConnected) {
		s.logger.Debug("socket closed, publishing activity over rest")
		return s.client.NotifyActivity(ctx, s.self.ID, activity)
	}
	return err
}

// Close disconnects. Later calls return [ErrClosed].
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.conn.Disconnect()
}
