package chat

import (
	"encoding/json"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// User is the minimal user reference the chat core needs.
type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// Name returns the display name, falling back to the username and then the id.
func (u User) Name() string {
	switch {
	case u.DisplayName != "":
		return u.DisplayName
	case u.Username != "":
		return u.Username
	}
	return u.ID
}

// ============================================================================
// Messages
// ============================================================================

// Message is a chat message, either confirmed by the server (ID set) or
// created locally and awaiting confirmation (TempID set, Pending true).
//
// Direct messages carry ReceiverID; room messages carry RoomID instead.
type Message struct {
	ID         string    `json:"id,omitempty"`
	TempID     string    `json:"tempId,omitempty"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId,omitempty"`
	RoomID     string    `json:"roomId,omitempty"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	Pending    bool      `json:"pending,omitempty"`
	Error      bool      `json:"error,omitempty"`
}

// key identifies a message for deduplication: the server id once
// confirmed, the client temp id before that.
func (m Message) key() string {
	if m.ID != "" {
		return "id:" + m.ID
	}
	return "tmp:" + m.TempID
}

// target is the receiver for direct messages, or the room.
func (m Message) target() string {
	if m.RoomID != "" {
		return "room:" + m.RoomID
	}
	return "user:" + m.ReceiverID
}

// Conversation returns the conversation this message belongs to, seen from
// selfID.
func (m Message) Conversation(selfID string) Conversation {
	if m.RoomID != "" {
		return Conversation{RoomID: m.RoomID}
	}
	if m.SenderID == selfID {
		return Conversation{PeerID: m.ReceiverID}
	}
	return Conversation{PeerID: m.SenderID}
}

// Conversation addresses either a direct peer or a group room. Exactly one
// of PeerID and RoomID is set for an active conversation.
type Conversation struct {
	PeerID string
	RoomID string
}

// IsZero reports whether no conversation is addressed.
func (c Conversation) IsZero() bool {
	return c.PeerID == "" && c.RoomID == ""
}

// IsRoom reports whether the conversation is a group room.
func (c Conversation) IsRoom() bool {
	return c.RoomID != ""
}

func (c Conversation) String() string {
	switch {
	case c.RoomID != "":
		return "room:" + c.RoomID
	case c.PeerID != "":
		return "peer:" + c.PeerID
	}
	return "none"
}

// ============================================================================
// History API Types
// ============================================================================

// Pagination is the server's paging metadata for a history page.
type Pagination struct {
	Page    int  `json:"page,omitempty"`
	Limit   int  `json:"limit,omitempty"`
	Total   int  `json:"total,omitempty"`
	HasMore bool `json:"hasMore"`
}

// HistoryPage is one page of historical messages.
type HistoryPage struct {
	Messages   []Message   `json:"messages"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

// hasMore prefers the explicit flag and falls back to a full-page check.
func (p *HistoryPage) hasMore(limit int) bool {
	if p.Pagination != nil {
		return p.Pagination.HasMore
	}
	return limit > 0 && len(p.Messages) >= limit
}

// ============================================================================
// Socket Frames
// ============================================================================

// Inbound and outbound frame types.
const (
	FrameUsersOnline      = "users_online"
	FrameUserConnected    = "user_connected"
	FrameUserDisconnected = "user_disconnected"
	FrameUserActivity     = "user_activity"
	FrameReceiveMessage   = "receive_message"
	FrameError            = "error"

	FrameSendMessage    = "send_message"
	FrameUpdateActivity = "update_activity"
)

// Frame is the wire format for inbound socket events. Fields other than Type
// are populated depending on the frame type; Message is an object for
// receive_message and a string for error.
type Frame struct {
	Type     string          `json:"type"`
	Users    []string        `json:"users,omitempty"`
	UserID   string          `json:"userId,omitempty"`
	Activity *string         `json:"activity,omitempty"`
	Message  json.RawMessage `json:"message,omitempty"`
}

// SendMessageFrame is the outbound message payload.
type SendMessageFrame struct {
	Type       string `json:"type"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId,omitempty"`
	RoomID     string `json:"roomId,omitempty"`
	Content    string `json:"content"`
	TempID     string `json:"tempId,omitempty"`
}

// ActivityFrame announces the user's current activity (e.g. now playing).
type ActivityFrame struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	Activity string `json:"activity"`
}
