package sync

import (
	gosync "sync"
	"time"

	"github.com/amaydixit11/mealsync/internal/core"
)

// EventType represents the kind of orchestrator event
type EventType string

const (
	EventStatusChanged    EventType = "status_changed"
	EventStateChanged     EventType = "state_changed"
	EventDecryptFailed    EventType = "decrypt_failed"
	EventWeekplanConflict EventType = "weekplan_conflict"

	// EventSynced follows the relay's answer to a get, once it has been
	// merged and the local state pushed back.
	EventSynced EventType = "synced"
)

// WeekplanConflict carries both plans of a divergent-weekplan merge
type WeekplanConflict struct {
	Local  core.Weekplan
	Merged core.Weekplan
}

// Event is a notification from the Orchestrator.
// Only the field matching Type is set.
type Event struct {
	Type      EventType
	Status    Status            // EventStatusChanged
	Err       error             // EventDecryptFailed
	Conflict  *WeekplanConflict // EventWeekplanConflict
	Timestamp time.Time
}

// SubscriptionOptions configures a subscription
type SubscriptionOptions struct {
	// Events filters by event type (nil = all events)
	Events []EventType
}

// Subscription represents an active event subscription
type Subscription interface {
	// Events returns the channel to receive events on
	Events() <-chan Event
	// Close stops the subscription and closes the channel
	Close()
}

type subscription struct {
	ch     chan Event
	closed bool
	mu     gosync.Mutex
	filter SubscriptionOptions
	bus    *eventBus
}

func (s *subscription) Events() <-chan Event {
	return s.ch
}

func (s *subscription) Close() {
	s.bus.unsubscribe(s)
	s.close()
}

func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func (s *subscription) matches(event Event) bool {
	if len(s.filter.Events) == 0 {
		return true
	}
	for _, et := range s.filter.Events {
		if et == event.Type {
			return true
		}
	}
	return false
}

func (s *subscription) send(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed && s.matches(event) {
		select {
		case s.ch <- event:
		default:
			// Buffer full, drop event (non-blocking)
		}
	}
}

// eventBus fans events out to subscriptions
type eventBus struct {
	subs []*subscription
	mu   gosync.RWMutex
}

func (b *eventBus) subscribe(opts SubscriptionOptions) Subscription {
	sub := &subscription{
		ch:     make(chan Event, 100),
		filter: opts,
		bus:    b,
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return sub
}

func (b *eventBus) publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		sub.send(event)
	}
}

func (b *eventBus) unsubscribe(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

func (b *eventBus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		sub.close()
	}
	b.subs = nil
}
