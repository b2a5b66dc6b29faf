// internal/common/notify/notify.go
package notify

import (
	"context"
	"sync"
	"time"

	"microloan-client/internal/common/logger"
)

type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notification is a transient user-facing message.
type Notification struct {
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// Notifier raises toasts.
type Notifier interface {
	Success(ctx context.Context, message string)
	Error(ctx context.Context, message string)
}

// ==========================
// Log-backed notifier
// ==========================

type LogNotifier struct {
	logger logger.Logger
}

func NewLogNotifier(log logger.Logger) *LogNotifier {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &LogNotifier{logger: log.With(map[string]interface{}{"component": "notify"})}
}

func (n *LogNotifier) Success(ctx context.Context, message string) {
	n.logger.Info(message, map[string]interface{}{"level": LevelSuccess})
}

func (n *LogNotifier) Error(ctx context.Context, message string) {
	n.logger.Warn(message, map[string]interface{}{"level": LevelError})
}

// ==========================
// Queue
// ==========================

// Queue buffers notifications until the dashboard drains them. The oldest
// entries are dropped once capacity is reached.
type Queue struct {
	mu       sync.Mutex
	items    []Notification
	capacity int
	next     Notifier
	now      func() time.Time
}

// NewQueue returns a queue that also forwards to next when it is non-nil.
func NewQueue(capacity int, next Notifier) *Queue {
	if capacity <= 0 {
		capacity = 50
	}
	return &Queue{capacity: capacity, next: next, now: time.Now}
}

func (q *Queue) Success(ctx context.Context, message string) {
	q.push(LevelSuccess, message)
	if q.next != nil {
		q.next.Success(ctx, message)
	}
}

func (q *Queue) Error(ctx context.Context, message string) {
	q.push(LevelError, message)
	if q.next != nil {
		q.next.Error(ctx, message)
	}
}

func (q *Queue) push(level Level, message string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, Notification{Level: level, Message: message, CreatedAt: q.now()})
	if over := len(q.items) - q.capacity; over > 0 {
		q.items = append([]Notification(nil), q.items[over:]...)
	}
}

// Drain returns and removes all pending notifications, oldest first.
func (q *Queue) Drain() []Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	if out == nil {
		out = []Notification{}
	}
	return out
}

// Len returns the number of pending notifications.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// ==========================
// Recorder
// ==========================

// Recorder keeps every notification. Used by tests.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Success(ctx context.Context, message string) { r.add(LevelSuccess, message) }

func (r *Recorder) Error(ctx context.Context, message string) { r.add(LevelError, message) }

func (r *Recorder) add(level Level, message string) {
	r.mu.Lock()
	r.items = append(r.items, Notification{Level: level, Message: message, CreatedAt: time.Now()})
	r.mu.Unlock()
}

// Messages returns the recorded messages of level.
func (r *Recorder) Messages(level Level) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, n := range r.items {
		if n.Level == level {
			out = append(out, n.Message)
		}
	}
	return out
}

func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.items...)
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Success(context.Context, string) {}
func (Nop) Error(context.Context, string)   {}
