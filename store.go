package chat

import (
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// ============================================================================
// Ordering
// ============================================================================

// SortMessages sorts msgs in place by CreatedAt ascending. The sort is
// stable, so messages with equal timestamps keep their relative order.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}

// ============================================================================
// Store
// ============================================================================

// Store is the client's single message collection. It merges optimistic
// sends, history pages and live pushes into one deduplicated list sorted by
// CreatedAt. It is goroutine-safe; the list is re-sorted after every
// mutation, so readers never observe an unsorted state.
//
// The store holds messages for every conversation the session has touched.
// Rendering a conversation goes through [FilterForConversation].
type Store struct {
	mu       sync.RWMutex
	messages []Message
	logger   *log.Logger
	now      func() time.Time

	// retired holds ids that have already replaced a local message, so a
	// redelivered confirmation never retires a second one.
	retired map[string]struct{}

	lmu       sync.RWMutex
	listeners []func()
}

// NewStore creates an empty store. A nil logger discards output.
func NewStore(logger *log.Logger) *Store {
	return &Store{
		logger:  loggerOr(logger),
		now:     time.Now,
		retired: make(map[string]struct{}),
	}
}

// OnChange registers fn to run after every mutation. Listeners run on the
// mutating goroutine, outside the store lock.
func (s *Store) OnChange(fn func()) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Store) changed() {
	s.lmu.RLock()
	listeners := append([]func(){}, s.listeners...)
	s.lmu.RUnlock()
	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("store listener panicked", "panic", r)
				}
			}()
			fn()
		}()
	}
}

// ── Reconciliation ───────────────────────────────────────

// InsertOptimistic adds a locally created message awaiting confirmation. A
// temp id and creation time are assigned when missing. The stored copy is
// returned.
func (s *Store) InsertOptimistic(m Message) Message {
	if m.TempID == "" {
		m.TempID = NewTempID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	m.ID = ""
	m.Pending = true
	m.Error = false

	s.mu.Lock()
	s.messages = append(s.messages, m)
	SortMessages(s.messages)
	s.mu.Unlock()

	s.changed()
	return m
}

// AbsorbIncoming merges a server-confirmed message from the live channel.
//
// One local message is retired first: the one carrying the echoed temp id
// if the server sent one (pending or failed), otherwise the oldest pending
// message with the same sender, receiver or room, and content. Matching on
// content is a heuristic; two identical messages sent back to back are
// retired one per confirmation, in send order. An id that was already
// absorbed retires nothing, so redeliveries are no-ops.
//
// The message is then appended unless a message with its id is already
// present. AbsorbIncoming reports whether it was appended.
func (s *Store) AbsorbIncoming(m Message) bool {
	if m.ID == "" {
		s.logger.Warn("dropping confirmed message without id", "sender_id", m.SenderID)
		return false
	}
	m.Pending = false
	m.Error = false

	s.mu.Lock()
	mutated := false
	_, seen := s.retired[m.ID]
	present := s.indexOfID(m.ID) >= 0
	if !seen && !present {
		if i := s.matchPending(m); i >= 0 {
			s.logger.Debug("pending message confirmed", "temp_id", s.messages[i].TempID, "id", m.ID)
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			s.retired[m.ID] = struct{}{}
			mutated = true
		}
	}
	appended := false
	if !present {
		s.messages = append(s.messages, m)
		appended = true
		mutated = true
	}
	if mutated {
		SortMessages(s.messages)
	}
	s.mu.Unlock()

	if mutated {
		s.changed()
	}
	return appended
}

// AbsorbPage merges one page of history for conv.
//
// Page 1 is a fresh load: confirmed messages of conv are replaced by the
// page, while pending and failed local messages are kept. Later pages hold
// older history and are prepended. Either way the result is deduplicated
// by id (a confirmed copy always wins over a pending one with the same key)
// and sorted.
//
// Local messages whose temp id is echoed back in the page are retired.
// Content matching is not applied to pages, since history routinely holds
// older messages with the same text.
func (s *Store) AbsorbPage(conv Conversation, msgs []Message, page int) {
	batch := make([]Message, 0, len(msgs))
	echoed := make(map[string]string)
	for _, m := range msgs {
		if m.ID == "" {
			s.logger.Warn("dropping history message without id", "conversation", conv.String())
			continue
		}
		m.Pending = false
		m.Error = false
		if m.TempID != "" {
			echoed[m.TempID] = m.ID
		}
		batch = append(batch, m)
	}

	s.mu.Lock()
	var merged []Message
	if page <= 1 {
		kept := make([]Message, 0, len(s.messages))
		for _, m := range s.messages {
			if !m.Pending && !m.Error && belongsTo(m, conv) {
				continue
			}
			kept = append(kept, m)
		}
		merged = append(batch, kept...)
	} else {
		merged = append(batch, s.messages...)
	}
	if len(echoed) > 0 {
		filtered := merged[:0]
		for _, m := range merged {
			if m.ID == "" && (m.Pending || m.Error) {
				if id, ok := echoed[m.TempID]; ok {
					s.retired[id] = struct{}{}
					continue
				}
			}
			filtered = append(filtered, m)
		}
		merged = filtered
	}
	merged = dedupe(merged)
	SortMessages(merged)
	s.messages = merged
	s.mu.Unlock()

	s.changed()
}

// MarkFailed flags the local message with tempID as failed to send.
func (s *Store) MarkFailed(tempID string) (Message, bool) {
	return s.update(tempID, func(m *Message) {
		m.Pending = false
		m.Error = true
	})
}

// MarkPending puts a failed local message back into the pending state for a
// retry.
func (s *Store) MarkPending(tempID string) (Message, bool) {
	return s.update(tempID, func(m *Message) {
		m.Pending = true
		m.Error = false
	})
}

func (s *Store) update(tempID string, fn func(*Message)) (Message, bool) {
	s.mu.Lock()
	i := s.indexOfTempID(tempID)
	if i < 0 {
		s.mu.Unlock()
		return Message{}, false
	}
	fn(&s.messages[i])
	m := s.messages[i]
	s.mu.Unlock()

	s.changed()
	return m, true
}

// ResetFor clears the list when conv becomes the active conversation.
// Unconfirmed local messages survive so that late confirmations still
// reconcile against them.
func (s *Store) ResetFor(conv Conversation) {
	s.mu.Lock()
	kept := s.messages[:0]
	for _, m := range s.messages {
		if m.ID == "" && (m.Pending || m.Error) {
			kept = append(kept, m)
		}
	}
	s.messages = kept
	s.mu.Unlock()

	s.logger.Debug("message list reset", "conversation", conv.String())
	s.changed()
}

// ── Reads ────────────────────────────────────────────────

// Snapshot returns a copy of the full sorted list.
func (s *Store) Snapshot() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Message(nil), s.messages...)
}

// Len returns the number of stored messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// FindByTempID returns the local message with tempID.
func (s *Store) FindByTempID(tempID string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOfTempID(tempID); i >= 0 {
		return s.messages[i], true
	}
	return Message{}, false
}

// FindByID returns the confirmed message with id.
func (s *Store) FindByID(id string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOfID(id); i >= 0 {
		return s.messages[i], true
	}
	return Message{}, false
}

// ── Internal ─────────────────────────────────────────────

// matchPending must be called with s.mu held.
func (s *Store) matchPending(m Message) int {
	if m.TempID != "" {
		for i, p := range s.messages {
			if p.ID == "" && (p.Pending || p.Error) && p.TempID == m.TempID {
				return i
			}
		}
		return -1
	}
	for i, p := range s.messages {
		if p.ID != "" || !p.Pending {
			continue
		}
		if p.SenderID == m.SenderID && p.target() == m.target() && p.Content == m.Content {
			return i
		}
	}
	return -1
}

func (s *Store) indexOfID(id string) int {
	for i, m := range s.messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) indexOfTempID(tempID string) int {
	if tempID == "" {
		return -1
	}
	for i, m := range s.messages {
		if m.ID == "" && m.TempID == tempID {
			return i
		}
	}
	return -1
}

// dedupe keeps one entry per key. Later entries replace earlier ones in
// place, except that a pending entry never replaces a confirmed one.
func dedupe(msgs []Message) []Message {
	index := make(map[string]int, len(msgs))
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		k := m.key()
		if i, ok := index[k]; ok {
			if m.Pending && !out[i].Pending {
				continue
			}
			out[i] = m
			continue
		}
		index[k] = len(out)
		out = append(out, m)
	}
	return out
}

// belongsTo reports whether m is part of conv, independent of which side of
// a direct conversation the local user is on.
func belongsTo(m Message, conv Conversation) bool {
	if conv.RoomID != "" {
		return m.RoomID == conv.RoomID
	}
	if m.RoomID != "" || conv.PeerID == "" {
		return false
	}
	return m.SenderID == conv.PeerID || m.ReceiverID == conv.PeerID
}

// FilterForConversation returns the messages of all that are visible in
// conv for the local user selfID: the matching room for group rooms, and
// the two directions between selfID and the peer for direct conversations.
// Order is preserved.
func FilterForConversation(all []Message, selfID string, conv Conversation) []Message {
	out := make([]Message, 0)
	for _, m := range all {
		if conv.RoomID != "" {
			if m.RoomID == conv.RoomID {
				out = append(out, m)
			}
			continue
		}
		if m.RoomID != "" || conv.PeerID == "" {
			continue
		}
		if (m.SenderID == selfID && m.ReceiverID == conv.PeerID) ||
			(m.SenderID == conv.PeerID && m.ReceiverID == selfID) {
			out = append(out, m)
		}
	}
	return out
}
