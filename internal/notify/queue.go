// Package notify holds short-lived user notifications ("toasts").
package notify

import (
	"sync"
	"time"

	"github.com/dtroode/kurasi/internal/logger"
	"github.com/dtroode/kurasi/internal/model"
)

// DefaultTTL is how long a toast stays visible unless dismissed.
const DefaultTTL = 3 * time.Second

// Queue is an ordered set of visible toasts. Each toast expires on its own
// timer; insertion order is display order.
type Queue struct {
	ttl    time.Duration
	logger *logger.Logger

	mu       sync.Mutex
	nextID   uint64
	toasts   []model.Toast
	timers   map[uint64]*time.Timer
	watchers map[chan []model.Toast]struct{}
	closed   bool
}

// New creates a Queue. A non-positive ttl selects DefaultTTL.
func New(ttl time.Duration, logger *logger.Logger) *Queue {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Queue{
		ttl:      ttl,
		logger:   logger,
		timers:   make(map[uint64]*time.Timer),
		watchers: make(map[chan []model.Toast]struct{}),
	}
}

// Push appends a toast and schedules its expiry. After Close the toast is
// returned but not shown.
func (q *Queue) Push(message string, kind model.ToastKind) model.Toast {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.nextID++
	toast := model.Toast{ID: q.nextID, Message: message, Kind: kind}
	if q.closed {
		return toast
	}

	q.toasts = append(q.toasts, toast)
	id := toast.ID
	q.timers[id] = time.AfterFunc(q.ttl, func() { q.expire(id) })
	q.publishLocked()

	return toast
}

func (q *Queue) Success(message string) model.Toast {
	return q.Push(message, model.ToastSuccess)
}

func (q *Queue) Error(message string) model.Toast {
	return q.Push(message, model.ToastError)
}

func (q *Queue) Info(message string) model.Toast {
	return q.Push(message, model.ToastInfo)
}

// Report shows err as an error toast with its user-facing message. A nil
// error shows nothing.
func (q *Queue) Report(err error) (model.Toast, bool) {
	if err == nil {
		return model.Toast{}, false
	}
	q.logger.Debug("Notify: reporting error",
		"error", err.Error())
	return q.Error(model.UserMessage(err)), true
}

// Dismiss removes the toast immediately. Unknown ids are ignored.
func (q *Queue) Dismiss(id uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if t, ok := q.timers[id]; ok {
		t.Stop()
		delete(q.timers, id)
	}
	if q.removeLocked(id) {
		q.publishLocked()
	}
}

func (q *Queue) expire(id uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.timers[id]; !ok {
		return
	}
	delete(q.timers, id)
	if q.removeLocked(id) {
		q.publishLocked()
	}
}

func (q *Queue) removeLocked(id uint64) bool {
	for i, t := range q.toasts {
		if t.ID == id {
			q.toasts = append(q.toasts[:i:i], q.toasts[i+1:]...)
			return true
		}
	}
	return false
}

// List returns the visible toasts in display order.
func (q *Queue) List() []model.Toast {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]model.Toast(nil), q.toasts...)
}

// Watch returns a channel receiving the visible list after every change.
// Only the latest list is kept for a slow reader. The channel is closed by
// cancel or Close.
func (q *Queue) Watch() (<-chan []model.Toast, func()) {
	ch := make(chan []model.Toast, 1)

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		close(ch)
		return ch, func() {}
	}
	q.watchers[ch] = struct{}{}
	ch <- append([]model.Toast(nil), q.toasts...)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			q.mu.Lock()
			defer q.mu.Unlock()
			if _, ok := q.watchers[ch]; ok {
				delete(q.watchers, ch)
				close(ch)
			}
		})
	}
}

func (q *Queue) publishLocked() {
	for ch := range q.watchers {
		snapshot := append([]model.Toast(nil), q.toasts...)
		select {
		case <-ch:
		default:
		}
		ch <- snapshot
	}
}

// Close stops every pending timer and closes all watchers.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
	for ch := range q.watchers {
		delete(q.watchers, ch)
		close(ch)
	}
}
