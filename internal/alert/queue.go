// Package alert holds the dashboard's transient notification: at most one
// message at a time, replaced by newer pushes and cleared automatically after
// a fixed TTL.
package alert

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Kind tells presentation consumers what produced an alert.
type Kind string

const (
	KindInfo        Kind = "info"
	KindLargePnL    Kind = "large_pnl"
	KindAction      Kind = "action"
	KindActionError Kind = "action_error"
)

// DefaultTTL is how long an alert stays visible when no TTL is configured.
const DefaultTTL = 4 * time.Second

// Alert is one transient notification.
type Alert struct {
	ID        string        `json:"id"`
	Message   string        `json:"message"`
	Kind      Kind          `json:"kind"`
	CreatedAt time.Time     `json:"created_at"`
	TTL       time.Duration `json:"ttl"`
}

// ExpiresAt returns when the alert clears on its own.
func (a Alert) ExpiresAt() time.Time {
	return a.CreatedAt.Add(a.TTL)
}

// Listener is told about every change of the current alert. active is false
// when the alert was dismissed or expired.
type Listener func(current Alert, active bool)

// Queue holds zero or one current alert. Push is last-write-wins: there is no
// backlog.
type Queue struct {
	ttl    time.Duration
	now    func() time.Time
	logger *logrus.Entry

	mu        sync.Mutex
	current   *Alert
	timer     *time.Timer
	token     uint64
	listeners []Listener

	// notifyMu keeps listener calls in the same order as the changes.
	notifyMu sync.Mutex
}

// NewQueue creates a queue whose alerts expire after ttl.
func NewQueue(ttl time.Duration, logger *logrus.Entry) *Queue {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Queue{
		ttl:    ttl,
		now:    time.Now,
		logger: logger.WithField("component", "alerts"),
	}
}

// Subscribe registers a listener. Listeners must not call back into the queue.
func (q *Queue) Subscribe(l Listener) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.listeners = append(q.listeners, l)
}

// Push shows message as an info alert.
func (q *Queue) Push(message string) Alert {
	return q.PushKind(KindInfo, message)
}

// PushKind replaces the current alert and restarts the expiry timer.
func (q *Queue) PushKind(kind Kind, message string) Alert {
	a := Alert{
		ID:        uuid.NewString(),
		Message:   message,
		Kind:      kind,
		CreatedAt: q.now(),
		TTL:       q.ttl,
	}

	q.mu.Lock()
	q.cancelTimerLocked()
	q.current = &a
	token := q.token
	q.timer = time.AfterFunc(q.ttl, func() { q.expire(token) })
	q.notifyLocked(a, true)

	q.logger.WithFields(logrus.Fields{
		"kind": kind,
		"id":   a.ID,
	}).Info(message)
	return a
}

// Dismiss clears the current alert immediately.
func (q *Queue) Dismiss() {
	q.mu.Lock()
	if q.current == nil {
		q.mu.Unlock()
		return
	}
	prev := *q.current
	q.cancelTimerLocked()
	q.current = nil
	q.notifyLocked(prev, false)
}

// Current returns the alert on display, if any.
func (q *Queue) Current() (Alert, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.current == nil {
		return Alert{}, false
	}
	// The timer may not have fired yet
	if q.now().Sub(q.current.CreatedAt) > q.ttl {
		return Alert{}, false
	}
	return *q.current, true
}

// Close cancels a pending expiry without notifying listeners.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelTimerLocked()
}

// expire runs on the timer goroutine. A timer that lost the race with a
// newer Push or Dismiss carries an old token and does nothing.
func (q *Queue) expire(token uint64) {
	q.mu.Lock()
	if token != q.token || q.current == nil {
		q.mu.Unlock()
		return
	}
	prev := *q.current
	q.current = nil
	q.timer = nil
	q.notifyLocked(prev, false)
}

// cancelTimerLocked invalidates the pending expiry. Caller holds q.mu.
func (q *Queue) cancelTimerLocked() {
	q.token++
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
}

// notifyLocked hands the change to listeners and releases q.mu. Taking
// notifyMu before dropping q.mu keeps notifications ordered.
func (q *Queue) notifyLocked(a Alert, active bool) {
	listeners := append([]Listener(nil), q.listeners...)
	q.notifyMu.Lock()
	q.mu.Unlock()
	defer q.notifyMu.Unlock()

	for _, l := range listeners {
		l(a, active)
	}
}
