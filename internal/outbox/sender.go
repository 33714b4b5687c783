// Package outbox is the client side of sending: it assigns a client message id,
// retries transient failures with backoff under that same id, and reports
// whether each message was committed or definitively failed.
package outbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/relay/internal/chat"
	"go.uber.org/zap"
)

// Transport delivers one message to the service. Repeating a call with the
// same ClientMsgID must not create a second message.
type Transport interface {
	Send(ctx context.Context, e Entry) (msg chat.Message, duplicate bool, err error)
}

// Entry is a message waiting to be sent.
type Entry struct {
	ClientMsgID    string
	ConversationID string
	Body           chat.Body
	QueuedAt       time.Time
}

// Status is the delivery state reported for an entry.
type Status string

const (
	StatusSent   Status = "sent"
	StatusFailed Status = "failed"
)

// Result reports the outcome of one entry.
type Result struct {
	Entry     Entry
	Status    Status
	Message   chat.Message // set when Status is StatusSent
	Duplicate bool
	Attempts  int
	Err       error // set when Status is StatusFailed
}

// Config controls retries. Zero values pick the defaults.
type Config struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Retryable classifies errors. Defaults to chat.IsRetryable.
	Retryable func(error) bool
}

// Sender drains queued entries in order and sends them via the transport.
type Sender struct {
	transport Transport
	cfg       Config
	logger    *zap.Logger

	queue   chan Entry
	results chan Result
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewSender creates a new outbox sender.
func NewSender(transport Transport, cfg Config, logger *zap.Logger) *Sender {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	if cfg.Retryable == nil {
		cfg.Retryable = chat.IsRetryable
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		transport: transport,
		cfg:       cfg,
		logger:    logger,
		queue:     make(chan Entry, 64),
		results:   make(chan Result, 64),
	}
}

// Start begins draining the queue.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop stops the sender loop and waits for it to exit. Entries still queued
// are dropped; the one in flight is reported failed.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Results delivers one Result per enqueued entry.
func (s *Sender) Results() <-chan Result {
	return s.results
}

// Enqueue queues body for conversationID and returns the entry with its
// client message id. Blocks while the queue is full.
func (s *Sender) Enqueue(ctx context.Context, conversationID string, body chat.Body) (Entry, error) {
	if err := body.Validate(); err != nil {
		return Entry{}, err
	}
	e := Entry{
		ClientMsgID:    uuid.NewString(),
		ConversationID: conversationID,
		Body:           body,
		QueuedAt:       time.Now(),
	}
	select {
	case s.queue <- e:
		return e, nil
	case <-ctx.Done():
		return Entry{}, ctx.Err()
	}
}

func (s *Sender) loop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case e := <-s.queue:
			res := s.Send(ctx, e)
			select {
			case s.results <- res:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// Send delivers e synchronously, retrying retryable failures with exponential
// backoff. Every attempt reuses e.ClientMsgID, so a retry after a lost ack
// returns the committed message instead of sending it twice.
func (s *Sender) Send(ctx context.Context, e Entry) Result {
	if e.ClientMsgID == "" {
		e.ClientMsgID = uuid.NewString()
	}
	backoff := s.cfg.InitialBackoff
	var (
		lastErr error
		attempt int
	)
	for attempt = 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		msg, dup, err := s.transport.Send(ctx, e)
		if err == nil {
			s.logger.Info("message sent",
				zap.String("client_msg_id", e.ClientMsgID),
				zap.Int64("id", msg.ID),
				zap.Bool("duplicate", dup),
				zap.Int("attempts", attempt),
			)
			return Result{Entry: e, Status: StatusSent, Message: msg, Duplicate: dup, Attempts: attempt}
		}
		lastErr = err
		if !s.cfg.Retryable(err) || attempt == s.cfg.MaxAttempts {
			break
		}
		s.logger.Warn("send failed, retrying",
			zap.String("client_msg_id", e.ClientMsgID),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return s.failed(e, attempt, errors.Join(err, ctx.Err()))
		}
		backoff = min(backoff*2, s.cfg.MaxBackoff)
	}
	return s.failed(e, min(attempt, s.cfg.MaxAttempts), lastErr)
}

func (s *Sender) failed(e Entry, attempts int, err error) Result {
	s.logger.Error("failed to send message", zap.String("client_msg_id", e.ClientMsgID), zap.Error(err))
	return Result{Entry: e, Status: StatusFailed, Attempts: attempts, Err: err}
}
