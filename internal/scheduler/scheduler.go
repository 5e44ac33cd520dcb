// Package scheduler runs named, cancellable, delayed tasks.
//
// Scheduling a task under a name that already has a pending task cancels
// the pending one, so a burst of Schedule calls runs the function once.
package scheduler

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

type task struct {
	fn    func()
	timer *clock.Timer
}

// Scheduler is an arena of pending tasks keyed by name.
// It is safe for concurrent use.
type Scheduler struct {
	clock clock.Clock

	mu      sync.Mutex
	tasks   map[string]*task
	stopped bool
}

// New creates a scheduler driven by c. A nil clock means wall time.
func New(c clock.Clock) *Scheduler {
	if c == nil {
		c = clock.New()
	}
	return &Scheduler{
		clock: c,
		tasks: make(map[string]*task),
	}
}

// Schedule runs fn after delay, replacing any pending task with the same name.
// It is a no-op after Stop.
func (s *Scheduler) Schedule(name string, delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if old, ok := s.tasks[name]; ok {
		old.timer.Stop()
	}

	t := &task{fn: fn}
	s.tasks[name] = t
	t.timer = s.clock.AfterFunc(delay, func() { s.fire(name, t) })
}

// fire runs t only if it is still the pending task for name.
// A timer that raced with Cancel, Flush or a reschedule finds a different
// entry and does nothing.
func (s *Scheduler) fire(name string, t *task) {
	s.mu.Lock()
	if s.tasks[name] != t {
		s.mu.Unlock()
		return
	}
	delete(s.tasks, name)
	s.mu.Unlock()

	t.fn()
}

// Cancel drops the pending task for name. Returns false if there was none.
func (s *Scheduler) Cancel(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[name]
	if !ok {
		return false
	}
	t.timer.Stop()
	delete(s.tasks, name)
	return true
}

// Flush runs the pending task for name now, on the calling goroutine.
// Returns false if there was nothing pending.
func (s *Scheduler) Flush(name string) bool {
	s.mu.Lock()
	t, ok := s.tasks[name]
	if ok {
		t.timer.Stop()
		delete(s.tasks, name)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	t.fn()
	return true
}

// Pending reports whether a task is waiting under name
func (s *Scheduler) Pending(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[name]
	return ok
}

// CancelAll drops every pending task
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelAll()
}

// Stop cancels every pending task and refuses new ones
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.cancelAll()
}

func (s *Scheduler) cancelAll() {
	for name, t := range s.tasks {
		t.timer.Stop()
		delete(s.tasks, name)
	}
}
