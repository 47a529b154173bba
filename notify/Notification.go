package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shihaohou/vllm-model-manager/logger"
)

type Level string

const (
	LEVEL_SUCCESS Level = "success"
	LEVEL_ERROR   Level = "error"
)

// DEFAULT_BUFFER_LIMIT is the number of notifications kept for display.
const DEFAULT_BUFFER_LIMIT = 5

// Notification is a transient operator message.
type Notification struct {
	ID      string    `json:"id"`
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

func New(level Level, message string) Notification {
	return Notification{
		ID:      uuid.New().String(),
		Level:   level,
		Message: message,
		Time:    time.Now(),
	}
}

func Success(message string) Notification {
	return New(LEVEL_SUCCESS, message)
}

func Error(message string) Notification {
	return New(LEVEL_ERROR, message)
}

// Notifier receives the notifications raised by the controllers.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(n Notification)

func (f NotifierFunc) Notify(n Notification) {
	f(n)
}

// LogNotifier writes every notification to the service logs.
type LogNotifier struct{}

func (LogNotifier) Notify(n Notification) {
	if n.Level == LEVEL_ERROR {
		logger.ErrorLogger().Printf("Notification: %s", n.Message)
		return
	}
	logger.InfoLogger().Printf("Notification: %s", n.Message)
}

// Multi fans a notification out to several sinks, in order.
type Multi []Notifier

func (m Multi) Notify(n Notification) {
	for _, notifier := range m {
		if notifier != nil {
			notifier.Notify(n)
		}
	}
}

// Buffer keeps the most recent notifications until they are dismissed.
type Buffer struct {
	limit   int
	entries []Notification
	rwlock  sync.RWMutex
}

func NewBuffer(limit int) *Buffer {
	if limit <= 0 {
		limit = DEFAULT_BUFFER_LIMIT
	}
	return &Buffer{limit: limit}
}

func (b *Buffer) Notify(n Notification) {
	b.rwlock.Lock()
	defer b.rwlock.Unlock()
	b.entries = append(b.entries, n)
	if len(b.entries) > b.limit {
		b.entries = b.entries[len(b.entries)-b.limit:]
	}
}

// Recent returns the buffered notifications, oldest first.
func (b *Buffer) Recent() []Notification {
	b.rwlock.RLock()
	defer b.rwlock.RUnlock()
	out := make([]Notification, len(b.entries))
	copy(out, b.entries)
	return out
}

// Dismiss removes a notification, returning false if it is not buffered.
func (b *Buffer) Dismiss(id string) bool {
	b.rwlock.Lock()
	defer b.rwlock.Unlock()
	for i, n := range b.entries {
		if n.ID == id {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			return true
		}
	}
	return false
}

// DismissOlderThan drops notifications raised before the cutoff.
func (b *Buffer) DismissOlderThan(cutoff time.Time) {
	b.rwlock.Lock()
	defer b.rwlock.Unlock()
	kept := b.entries[:0]
	for _, n := range b.entries {
		if !n.Time.Before(cutoff) {
			kept = append(kept, n)
		}
	}
	b.entries = kept
}
