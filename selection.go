package chat

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"
)

// Selection is the single source of truth for the active conversation: a
// direct peer or a group room, never both.
type Selection struct {
	mu     sync.RWMutex
	peer   User
	roomID string

	pager  *Pager
	logger *log.Logger
}

// NewSelection creates a selection that drives pager on every switch.
func NewSelection(pager *Pager, logger *log.Logger) *Selection {
	return &Selection{pager: pager, logger: loggerOr(logger)}
}

// SelectPeer makes the direct conversation with u active and loads its
// first page. Requests still in flight for the previous conversation are
// not cancelled.
func (s *Selection) SelectPeer(ctx context.Context, u User) error {
	if u.ID == "" {
		return ErrMissingUserID
	}
	s.mu.Lock()
	s.peer = u
	s.roomID = ""
	s.mu.Unlock()

	s.logger.Info("conversation selected", "peer_id", u.ID)
	return s.pager.LoadInitial(ctx, Conversation{PeerID: u.ID})
}

// SelectRoom makes the group room active and loads its first page.
func (s *Selection) SelectRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return ErrNoConversation
	}
	s.mu.Lock()
	s.peer = User{}
	s.roomID = roomID
	s.mu.Unlock()

	s.logger.Info("conversation selected", "room_id", roomID)
	return s.pager.LoadInitial(ctx, Conversation{RoomID: roomID})
}

// Active returns the active conversation, zero if none.
func (s *Selection) Active() Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Conversation{PeerID: s.peer.ID, RoomID: s.roomID}
}

// Peer returns the selected peer when a direct conversation is active.
func (s *Selection) Peer() (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peer, s.peer.ID != ""
}
