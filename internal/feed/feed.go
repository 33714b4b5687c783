// Package feed pushes conversation and conversation-list updates to subscribers.
//
// Every subscription starts with an initial state (snapshot, or a catch-up
// from a resume cursor) and then receives incremental updates in the order the
// engine published them. Subscriptions end by Cancel, by the handler returning
// ErrStop, by the subscribe context ending, or with a terminal error that is
// delivered exactly once.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/matheus3301/relay/internal/bus"
	"github.com/matheus3301/relay/internal/chat"
	"github.com/matheus3301/relay/internal/messages"
	"go.uber.org/zap"
)

var (
	// ErrStop may be returned by a Handler to end its subscription cleanly.
	ErrStop = errors.New("feed: stop")
	// ErrSlowConsumer terminates a subscription that fell too far behind.
	ErrSlowConsumer = errors.New("feed: subscriber too slow, events dropped")
	// ErrClosed terminates subscriptions when the dispatcher shuts down.
	ErrClosed = errors.New("feed: dispatcher closed")
	// ErrDelivery wraps an error returned by a Handler.
	ErrDelivery = errors.New("feed: delivery failed")
)

// Kind identifies the shape of an Update.
type Kind string

const (
	KindSnapshot      Kind = "snapshot"       // Conversation, Messages newest first
	KindAppended      Kind = "appended"       // Messages holds one new message
	KindRead          Kind = "read"           // Read
	KindListSnapshot  Kind = "list_snapshot"  // Summaries, most recent activity first
	KindConversation  Kind = "conversation"   // Summaries holds one upserted summary
	KindUnreadChanged Kind = "unread_changed" // Unread
	KindError         Kind = "error"          // Err, terminal
)

// Update is one delivery to a subscriber.
type Update struct {
	Kind           Kind
	ConversationID string
	Conversation   *chat.Conversation
	Messages       []chat.Message
	Read           *chat.ReadReceipt
	Summaries      []chat.Summary
	Unread         *chat.UnreadChange
	Err            error
}

// Handler receives updates sequentially on the subscription's goroutine.
// Returning ErrStop ends the subscription; any other error fails it.
type Handler func(Update) error

// Options tunes a single subscription.
type Options struct {
	// Limit bounds the initial message snapshot of a conversation feed. Zero
	// uses the dispatcher default.
	Limit int
	// After resumes a conversation feed: instead of a snapshot, every message
	// newer than the cursor is delivered oldest first as KindAppended.
	After *chat.Cursor
	// OnError receives the terminal error. When nil the error is delivered to
	// the handler as a KindError update.
	OnError func(error)
}

// Source is the permission-checked read side the dispatcher builds
// snapshots and summaries from. Identity travels on ctx.
type Source interface {
	Conversation(ctx context.Context, id string) (chat.Conversation, error)
	ListRecent(ctx context.Context, conversationID string, limit int, before *chat.Cursor) ([]chat.Message, error)
	ListAfter(ctx context.Context, conversationID string, after chat.Cursor, limit int) ([]chat.Message, error)
	Inbox(ctx context.Context, participantID string) ([]chat.Summary, error)
	Summary(ctx context.Context, conversationID, participantID string) (chat.Summary, error)
}

// Config holds dispatcher defaults.
type Config struct {
	SnapshotLimit int
	BufferSize    int
}

const (
	defaultSnapshotLimit = 50
	defaultBufferSize    = 256
)

// Dispatcher owns the live subscriptions.
type Dispatcher struct {
	src    Source
	bus    *bus.Bus
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	subs   map[string]*Subscription
	closed bool
}

// New creates a dispatcher reading from src and listening on b.
func New(src Source, b *bus.Bus, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.SnapshotLimit <= 0 {
		cfg.SnapshotLimit = defaultSnapshotLimit
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		src:    src,
		bus:    b,
		cfg:    cfg,
		logger: logger.Named("feed"),
		subs:   make(map[string]*Subscription),
	}
}

// Active returns the number of live subscriptions.
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs)
}

// Close cancels every subscription and rejects new ones.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	subs := make([]*Subscription, 0, len(d.subs))
	for _, s := range d.subs {
		subs = append(subs, s)
	}
	d.mu.Unlock()

	for _, s := range subs {
		s.Cancel()
	}
}

// limit never exceeds a store page, since catch-up stops on a short page.
func (d *Dispatcher) limit(opts Options) int {
	return messages.PageSize(opts.Limit, d.cfg.SnapshotLimit)
}

// stream produces the updates of one subscription.
type stream interface {
	initial(ctx context.Context) ([]Update, error)
	next(ctx context.Context, evt bus.Event) ([]Update, error)
}

// start subscribes to topic, builds the initial updates synchronously so that
// permission and lookup errors reach the caller, then hands delivery to a
// goroutine. The bus subscription precedes the snapshot; streams drop events
// the snapshot already covers.
func (d *Dispatcher) start(ctx context.Context, kind, target, topic string, st stream, opts Options, handler Handler) (*Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("%w: nil handler", chat.ErrInvalidArgument)
	}
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	busSub := d.bus.Subscribe(topic, d.cfg.BufferSize)
	first, err := st.initial(ctx)
	if err != nil {
		busSub.Unsubscribe()
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	s := newSubscription(kind, target, cancel)
	if err := s.transition(Subscribed, nil); err != nil {
		cancel()
		busSub.Unsubscribe()
		return nil, err
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		cancel()
		busSub.Unsubscribe()
		return nil, ErrClosed
	}
	d.subs[s.id] = s
	d.mu.Unlock()

	d.logger.Debug("subscription started", zap.String("id", s.id), zap.String("kind", kind), zap.String("target", target))
	go d.run(ctx, s, busSub, st, first, opts, handler)
	return s, nil
}

func (d *Dispatcher) run(ctx context.Context, s *Subscription, busSub *bus.Subscription, st stream, first []Update, opts Options, handler Handler) {
	defer close(s.done)
	defer func() {
		d.mu.Lock()
		delete(d.subs, s.id)
		d.mu.Unlock()
	}()
	defer busSub.Unsubscribe()

	deliver := func(u Update) bool {
		if s.State() != Subscribed {
			return false
		}
		err := handler(u)
		switch {
		case err == nil:
			return true
		case errors.Is(err, ErrStop):
			_ = s.transition(Cancelled, nil)
		default:
			d.fail(s, opts, handler, fmt.Errorf("%w: %w", ErrDelivery, err))
		}
		return false
	}

	for _, u := range first {
		if !deliver(u) {
			return
		}
	}
	for {
		select {
		case <-ctx.Done():
			_ = s.transition(Cancelled, nil)
			return
		case evt, ok := <-busSub.C:
			if !ok {
				err := ErrClosed
				if errors.Is(busSub.Err(), bus.ErrEvicted) {
					err = ErrSlowConsumer
				}
				d.fail(s, opts, handler, err)
				return
			}
			updates, err := st.next(ctx, evt)
			if err != nil {
				if ctx.Err() != nil {
					_ = s.transition(Cancelled, nil)
				} else {
					d.fail(s, opts, handler, err)
				}
				return
			}
			for _, u := range updates {
				if !deliver(u) {
					return
				}
			}
		}
	}
}

func (d *Dispatcher) fail(s *Subscription, opts Options, handler Handler, err error) {
	if s.transition(Failed, err) != nil {
		return
	}
	d.logger.Warn("subscription failed", zap.String("id", s.id), zap.String("target", s.target), zap.Error(err))
	if opts.OnError != nil {
		opts.OnError(err)
		return
	}
	_ = handler(Update{Kind: KindError, ConversationID: s.conversationID(), Err: err})
}
