package chat

import (
	"sort"
	"sync"

	"github.com/charmbracelet/log"
)

// IDSet is a set of user identifiers.
type IDSet map[string]struct{}

// NewIDSet builds a set from ids, ignoring empty strings.
func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// UserIDs builds a set from the ids of users.
func UserIDs(users []User) IDSet {
	s := make(IDSet, len(users))
	for _, u := range users {
		s.Add(u.ID)
	}
	return s
}

func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s IDSet) Add(id string) {
	if id != "" {
		s[id] = struct{}{}
	}
}

func (s IDSet) Remove(id string) {
	delete(s, id)
}

// Sorted returns the members in ascending order.
func (s IDSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// PresenceSnapshot is a point-in-time copy of presence state.
type PresenceSnapshot struct {
	Online   []string
	Activity map[string]string
}

// Presence tracks who is online and what they are doing. It is written only
// by the [Connection] that owns it, from socket events; everything else
// reads.
type Presence struct {
	mu       sync.RWMutex
	online   IDSet
	activity map[string]string
	logger   *log.Logger
}

// NewPresence creates an empty tracker.
func NewPresence(logger *log.Logger) *Presence {
	return &Presence{
		online:   make(IDSet),
		activity: make(map[string]string),
		logger:   loggerOr(logger),
	}
}

// IsOnline reports whether userID is currently connected.
func (p *Presence) IsOnline(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.online.Has(userID)
}

// Online returns the connected user ids, sorted.
func (p *Presence) Online() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.online.Sorted()
}

// Activity returns the activity label of userID, or "".
func (p *Presence) Activity(userID string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.activity[userID]
}

// Snapshot copies the current state.
func (p *Presence) Snapshot() PresenceSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	activity := make(map[string]string, len(p.activity))
	for k, v := range p.activity {
		activity[k] = v
	}
	return PresenceSnapshot{Online: p.online.Sorted(), Activity: activity}
}

// ── Mutations (socket events only) ───────────────────────

// replace installs an authoritative snapshot of online users.
func (p *Presence) replace(ids []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online = NewIDSet(ids...)
	p.logger.Debug("presence snapshot", "online", len(p.online))
}

func (p *Presence) add(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online.Add(userID)
}

func (p *Presence) remove(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online.Remove(userID)
	delete(p.activity, userID)
}

func (p *Presence) setActivity(userID, activity string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if activity == "" {
		delete(p.activity, userID)
		return
	}
	p.activity[userID] = activity
}

// reset clears everything; presence is rebuilt on each new connection.
func (p *Presence) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online = make(IDSet)
	p.activity = make(map[string]string)
}
