package chat

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// NotificationLevel classifies a user-visible notification.
type NotificationLevel string

const (
	NotifyInfo  NotificationLevel = "info"
	NotifyError NotificationLevel = "error"
)

// Notification is a user-visible message (a toast in a graphical client).
type Notification struct {
	Level   NotificationLevel
	Message string
	At      time.Time
}

// Notifier is the sink for user-visible notifications.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to [Notifier].
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// NotificationLog records notifications in memory. Safe for concurrent use.
type NotificationLog struct {
	mu    sync.Mutex
	items []Notification
}

func (l *NotificationLog) Notify(n Notification) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, n)
}

// Notifications returns a copy of everything recorded so far.
func (l *NotificationLog) Notifications() []Notification {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Notification(nil), l.items...)
}

// Last returns the most recent notification, if any.
func (l *NotificationLog) Last() (Notification, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.items) == 0 {
		return Notification{}, false
	}
	return l.items[len(l.items)-1], true
}

type logNotifier struct{ logger *log.Logger }

func (n logNotifier) Notify(note Notification) {
	if note.Level == NotifyError {
		n.logger.Error(note.Message, "notify", true)
		return
	}
	n.logger.Info(note.Message, "notify", true)
}

func notifierOr(n Notifier, logger *log.Logger) Notifier {
	if n == nil {
		return logNotifier{logger: logger}
	}
	return n
}

func notifyError(n Notifier, msg string) {
	n.Notify(Notification{Level: NotifyError, Message: msg, At: time.Now()})
}
