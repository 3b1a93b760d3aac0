// Package notify carries user-facing outcome messages from the map engine to
// whatever renders them.
package notify

import (
	"sync"
	"time"
)

// Level is the severity of a notification
type Level int

const (
	Info Level = iota
	Success
	Warning
	Error
)

func (l Level) String() string {
	switch l {
	case Success:
		return "success"
	case Warning:
		return "warning"
	case Error:
		return "error"
	default:
		return "info"
	}
}

// Notification is one message for the user.
type Notification struct {
	Level   Level
	Message string
	At      time.Time
}

// Notifier accepts notifications.
type Notifier interface {
	Notify(level Level, message string)
}

// Discard drops every notification.
var Discard Notifier = discard{}

type discard struct{}

func (discard) Notify(Level, string) {}

// Queue is a thread-safe FIFO of notifications, drained by the UI.
type Queue struct {
	mu    sync.Mutex
	items []Notification
	now   func() time.Time
}

// NewQueue creates a new empty queue.
func NewQueue() *Queue {
	return &Queue{
		items: make([]Notification, 0),
		now:   time.Now,
	}
}

// Notify appends a notification stamped with the current time.
func (q *Queue) Notify(level Level, message string) {
	q.Push(Notification{Level: level, Message: message, At: q.now()})
}

// Push appends notifications to the queue.
func (q *Queue) Push(items ...Notification) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, items...)
}

// Pop removes and returns the oldest notification.
func (q *Queue) Pop() (Notification, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Notification{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Len returns the number of pending notifications.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain returns all pending notifications and empties the queue.
func (q *Queue) Drain() []Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	result := q.items
	q.items = make([]Notification, 0, cap(q.items))
	return result
}
