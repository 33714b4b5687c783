package bus

import (
	"errors"
	"sync"
)

var (
	// ErrEvicted is reported by a subscription dropped because its buffer filled up.
	ErrEvicted = errors.New("bus: subscriber evicted, buffer full")
	// ErrClosed is reported by subscriptions still open when the bus was closed.
	ErrClosed = errors.New("bus: closed")
)

// Bus is an in-process publish/subscribe event bus keyed by topic.
//
// Publish never blocks: a subscriber whose buffer is full is evicted and its
// channel closed, so it can detect the gap instead of silently missing events.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]*Subscription
	next   int
	closed bool
}

// Subscription receives the events of one topic on C.
type Subscription struct {
	C <-chan Event

	ch    chan Event
	topic string
	id    int
	bus   *Bus
	err   error
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*Subscription),
	}
}

// Publish sends evt to every subscriber of evt.Topic.
func (b *Bus) Publish(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		if sub.topic != evt.Topic {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			b.drop(id, sub, ErrEvicted)
		}
	}
}

// Subscribe returns a subscription to topic with a buffer of bufSize events.
func (b *Bus) Subscribe(topic string, bufSize int) *Subscription {
	ch := make(chan Event, bufSize)
	sub := &Subscription{C: ch, ch: ch, topic: topic, bus: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.err = ErrClosed
		close(ch)
		return sub
	}
	sub.id = b.next
	b.next++
	b.subs[sub.id] = sub
	return sub
}

// Close closes every open subscription. Later subscriptions start closed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, sub := range b.subs {
		b.drop(id, sub, ErrClosed)
	}
}

// Len returns the number of open subscriptions.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// caller holds b.mu.
func (b *Bus) drop(id int, sub *Subscription, reason error) {
	delete(b.subs, id)
	sub.err = reason
	close(sub.ch)
}

// Unsubscribe stops delivery and closes C. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.subs[s.id]; ok && cur == s {
		b.drop(s.id, s, nil)
	}
}

// Err reports why C was closed: ErrEvicted, ErrClosed, or nil after Unsubscribe.
func (s *Subscription) Err() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	return s.err
}
