// Package queue serializes media jobs per user. Each (platform, user) pair
// runs at most one job at a time; further submissions wait in FIFO order and
// are told their position. Different users never block each other.
package queue

import (
	"log/slog"
	"sync"
)

// Key identifies one user's lane.
type Key struct {
	Platform string
	UserID   string
}

// Runner executes one admitted job. The manager calls it on a fresh
// goroutine; the runner must call [Manager.Finish] for the same key when the
// job ends, success or not, or the lane stays blocked forever.
type Runner[T any] func(key Key, job T)

// PositionNotifier is told a waiting job's new 1-based position whenever the
// lane ahead of it shrinks. It runs synchronously under the manager's lock
// and must be fast; slow work (message edits) belongs on a goroutine inside
// the callback.
type PositionNotifier[T any] func(key Key, job T, position int)

// Manager is the per-user admission controller. Safe for concurrent use.
type Manager[T any] struct {
	run    Runner[T]
	notify PositionNotifier[T]

	mu      sync.Mutex
	active  map[Key]bool
	waiting map[Key][]T
}

// Option configures a Manager.
type Option[T any] func(*Manager[T])

// WithPositionNotifier installs the renumbering callback.
func WithPositionNotifier[T any](fn PositionNotifier[T]) Option[T] {
	return func(m *Manager[T]) { m.notify = fn }
}

// NewManager creates a manager that hands admitted jobs to run.
func NewManager[T any](run Runner[T], opts ...Option[T]) *Manager[T] {
	m := &Manager[T]{
		run:     run,
		active:  make(map[Key]bool),
		waiting: make(map[Key][]T),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Enqueue admits the job immediately when the user's lane is idle and
// returns 0. Otherwise the job joins the lane's FIFO and the returned value
// is its 1-based position.
func (m *Manager[T]) Enqueue(key Key, job T) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active[key] {
		m.active[key] = true
		go m.run(key, job)
		return 0
	}
	m.waiting[key] = append(m.waiting[key], job)
	pos := len(m.waiting[key])
	slog.Debug("job queued", "platform", key.Platform, "user", key.UserID, "position", pos)
	return pos
}

// Finish marks the key's running job as done and promotes the next waiting
// job, if any, on a fresh goroutine. Remaining jobs are renumbered.
func (m *Manager[T]) Finish(key Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lane := m.waiting[key]
	if len(lane) == 0 {
		delete(m.active, key)
		delete(m.waiting, key)
		return
	}
	next := lane[0]
	m.waiting[key] = lane[1:]
	go m.run(key, next)
	m.renumberLocked(key)
}

// Cancel removes the first waiting job matched by match and renumbers the
// rest. It reports whether anything was removed. The running job cannot be
// cancelled this way.
func (m *Manager[T]) Cancel(key Key, match func(T) bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	lane := m.waiting[key]
	for i, job := range lane {
		if match(job) {
			m.waiting[key] = append(lane[:i:i], lane[i+1:]...)
			m.renumberLocked(key)
			return true
		}
	}
	return false
}

// Waiting returns how many jobs are queued behind the key's running job.
func (m *Manager[T]) Waiting(key Key) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiting[key])
}

// Depth returns the total number of jobs held across all lanes, running and
// waiting. Used for the queue gauge.
func (m *Manager[T]) Depth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.active)
	for _, lane := range m.waiting {
		n += len(lane)
	}
	return n
}

func (m *Manager[T]) renumberLocked(key Key) {
	if m.notify == nil {
		return
	}
	for i, job := range m.waiting[key] {
		m.notify(key, job, i+1)
	}
}
