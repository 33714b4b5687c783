package feed

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

const (
	kindConversation = "conversation"
	kindList         = "list"
)

// Subscription is the cancellation handle of a live feed.
type Subscription struct {
	id     string
	kind   string
	target string
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	state State
	err   error
}

func newSubscription(kind, target string, cancel context.CancelFunc) *Subscription {
	return &Subscription{
		id:     uuid.NewString(),
		kind:   kind,
		target: target,
		cancel: cancel,
		done:   make(chan struct{}),
		state:  Idle,
	}
}

// ID returns the subscription id.
func (s *Subscription) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the terminal error of a Failed subscription.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed once delivery has stopped and resources are released.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Cancel stops delivery and blocks until an in-flight handler call returns,
// so no callback runs after Cancel returns. Repeated calls are no-ops.
// Must not be called from inside the handler; return ErrStop there instead.
func (s *Subscription) Cancel() {
	_ = s.transition(Cancelled, nil)
	s.cancel()
	<-s.done
}

func (s *Subscription) transition(to State, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := checkTransition(s.state, to); e != nil {
		return e
	}
	s.state = to
	if to == Failed {
		s.err = err
	}
	return nil
}

func (s *Subscription) conversationID() string {
	if s.kind == kindConversation {
		return s.target
	}
	return ""
}
