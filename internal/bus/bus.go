// Package bus provides the per-session event bus fanning agent loop
// progress out to live observers.
package bus

import (
	"sync"
	"time"
)

// Event type constants.
const (
	EventAssistantPartial = "assistant_partial"
	EventToolStarted      = "tool_started"
	EventToolResult       = "tool_result"
	EventTurnComplete     = "turn_complete"
	EventError            = "error"
)

// Event is a transient notification describing agent loop progress. Events
// are never persisted; history is read through the store.
type Event struct {
	SessionID string         `json:"session_id"`
	Seq       uint64         `json:"seq"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
	// Gap is set on the first event delivered after the subscriber's
	// queue overflowed and older events were dropped.
	Gap bool `json:"gap,omitempty"`
}

// DefaultSubscriberBuffer is the per-subscriber queue capacity.
const DefaultSubscriberBuffer = 64

// Subscription is one observer's view of a session's event stream.
type Subscription struct {
	bus       *EventBus
	sessionID string
	id        int

	mu      sync.Mutex
	queue   []Event
	gap     bool
	wake    chan struct{}
	closed  bool
	closeCh chan struct{}

	outOnce sync.Once
	out     chan Event
}

// Events returns the channel delivering this subscriber's events in publish
// order. Every call returns the same channel; it is closed when the
// subscription is closed.
func (s *Subscription) Events() <-chan Event {
	s.outOnce.Do(func() {
		s.out = make(chan Event)
		go func() {
			defer close(s.out)
			for {
				ev, ok := s.next()
				if !ok {
					return
				}
				select {
				case s.out <- ev:
				case <-s.closeCh:
					return
				}
			}
		}()
	})
	return s.out
}

// next blocks until an event is queued or the subscription is closed.
func (s *Subscription) next() (Event, bool) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			if s.gap {
				ev.Gap = true
				s.gap = false
			}
			s.mu.Unlock()
			return ev, true
		}
		if s.closed {
			s.mu.Unlock()
			return Event{}, false
		}
		wake := s.wake
		s.mu.Unlock()

		select {
		case <-wake:
		case <-s.closeCh:
			s.mu.Lock()
			empty := len(s.queue) == 0
			s.mu.Unlock()
			if empty {
				return Event{}, false
			}
		}
	}
}

// push enqueues an event, dropping the oldest queued event on overflow and
// marking the gap. Never blocks the publisher.
func (s *Subscription) push(ev Event, capacity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if len(s.queue) >= capacity {
		s.queue = s.queue[1:]
		s.gap = true
	}
	s.queue = append(s.queue, ev)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Close detaches the subscription from the bus. Safe to call twice.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.closeCh)
	}
	s.mu.Unlock()
}

// EventBus multiplexes each session's event stream to any number of
// observers. Publish is non-blocking; a session with no subscribers drops
// events silently.
type EventBus struct {
	mu       sync.RWMutex
	subs     map[string]map[int]*Subscription
	seq      map[string]uint64
	nextID   int
	capacity int
	tap      func(Event)
}

// NewEventBus creates an event bus with the default subscriber buffer.
func NewEventBus() *EventBus {
	return NewEventBusWithCapacity(DefaultSubscriberBuffer)
}

// NewEventBusWithCapacity creates an event bus with an explicit
// per-subscriber queue capacity.
func NewEventBusWithCapacity(capacity int) *EventBus {
	if capacity <= 0 {
		capacity = DefaultSubscriberBuffer
	}
	return &EventBus{
		subs:     make(map[string]map[int]*Subscription),
		seq:      make(map[string]uint64),
		capacity: capacity,
	}
}

// Subscribe registers an observer for a session's events. Only events
// published after the call are delivered.
func (b *EventBus) Subscribe(sessionID string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		bus:       b,
		sessionID: sessionID,
		id:        b.nextID,
		wake:      make(chan struct{}, 1),
		closeCh:   make(chan struct{}),
	}
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[int]*Subscription)
	}
	b.subs[sessionID][sub.id] = sub
	return sub
}

func (b *EventBus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := b.subs[sub.sessionID]; ok {
		delete(m, sub.id)
		if len(m) == 0 {
			delete(b.subs, sub.sessionID)
		}
	}
}

// Publish assigns the session's next sequence number and delivers the event
// to every active subscriber. Never blocks.
func (b *EventBus) Publish(sessionID, eventType string, payload map[string]any) Event {
	b.mu.Lock()
	b.seq[sessionID]++
	ev := Event{
		SessionID: sessionID,
		Seq:       b.seq[sessionID],
		Type:      eventType,
		Timestamp: time.Now(),
		Payload:   payload,
	}
	targets := make([]*Subscription, 0, len(b.subs[sessionID]))
	for _, sub := range b.subs[sessionID] {
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	for _, sub := range targets {
		sub.push(ev, b.capacity)
	}
	if tap := b.loadTap(); tap != nil {
		tap(ev)
	}
	return ev
}

// SetTap installs a callback observing every published event across all
// sessions. The callback must not block. Used by the Kafka mirror.
func (b *EventBus) SetTap(tap func(Event)) {
	b.mu.Lock()
	b.tap = tap
	b.mu.Unlock()
}

func (b *EventBus) loadTap() func(Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tap
}

// SubscriberCount returns the number of active observers for a session.
func (b *EventBus) SubscriberCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[sessionID])
}
