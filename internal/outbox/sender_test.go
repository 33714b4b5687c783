package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/relay/internal/chat"
)

// mockTransport records calls and fails the first failures attempts with err.
type mockTransport struct {
	mu        sync.Mutex
	calls     []Entry
	failures  int
	err       error
	committed map[string]chat.Message
}

func newMockTransport(failures int, err error) *mockTransport {
	return &mockTransport{failures: failures, err: err, committed: map[string]chat.Message{}}
}

func (m *mockTransport) Send(_ context.Context, e Entry) (chat.Message, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, e)
	if len(m.calls) <= m.failures {
		return chat.Message{}, false, m.err
	}
	if msg, ok := m.committed[e.ClientMsgID]; ok {
		return msg, true, nil
	}
	msg := chat.Message{ID: int64(len(m.committed) + 1), ClientMsgID: e.ClientMsgID, ConversationID: e.ConversationID, Body: e.Body}
	m.committed[e.ClientMsgID] = msg
	return msg, false, nil
}

func (m *mockTransport) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

var transient = &chat.StoreError{Op: "append", Err: errors.New("database is locked"), Temporary: true}

func fastConfig() Config {
	return Config{MaxAttempts: 4, InitialBackoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond}
}

func TestSendRetriesTransientWithSameClientID(t *testing.T) {
	mock := newMockTransport(2, transient)
	s := NewSender(mock, fastConfig(), nil)

	res := s.Send(context.Background(), Entry{ConversationID: "a_b", Body: chat.Body{Text: "hello"}})
	if res.Status != StatusSent {
		t.Fatalf("status = %s, want sent (err %v)", res.Status, res.Err)
	}
	if res.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", res.Attempts)
	}
	ids := map[string]bool{}
	for _, c := range mock.calls {
		ids[c.ClientMsgID] = true
	}
	if len(ids) != 1 {
		t.Errorf("retries used %d client ids, want 1", len(ids))
	}
}

func TestSendDoesNotRetryPermanentErrors(t *testing.T) {
	mock := newMockTransport(10, fmt.Errorf("send: %w", chat.ErrPermission))
	s := NewSender(mock, fastConfig(), nil)

	res := s.Send(context.Background(), Entry{ConversationID: "a_b", Body: chat.Body{Text: "hello"}})
	if res.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", res.Status)
	}
	if !errors.Is(res.Err, chat.ErrPermission) {
		t.Errorf("err = %v, want ErrPermission", res.Err)
	}
	if mock.callCount() != 1 || res.Attempts != 1 {
		t.Errorf("calls = %d, attempts = %d, want 1 and 1", mock.callCount(), res.Attempts)
	}
}

func TestSendGivesUpAfterMaxAttempts(t *testing.T) {
	mock := newMockTransport(100, transient)
	s := NewSender(mock, fastConfig(), nil)

	res := s.Send(context.Background(), Entry{ConversationID: "a_b", Body: chat.Body{Text: "hello"}})
	if res.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", res.Status)
	}
	if !chat.IsRetryable(res.Err) {
		t.Errorf("err = %v, want retryable", res.Err)
	}
	if mock.callCount() != 4 || res.Attempts != 4 {
		t.Errorf("calls = %d, attempts = %d, want 4 and 4", mock.callCount(), res.Attempts)
	}
}

func TestSendStopsOnContextCancel(t *testing.T) {
	mock := newMockTransport(100, transient)
	s := NewSender(mock, Config{MaxAttempts: 10, InitialBackoff: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	res := s.Send(ctx, Entry{ConversationID: "a_b", Body: chat.Body{Text: "hello"}})
	if res.Status != StatusFailed || !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("result = %s / %v, want failed with context.Canceled", res.Status, res.Err)
	}
}

func TestSenderProcessesQueueInOrder(t *testing.T) {
	mock := newMockTransport(1, transient)
	s := NewSender(mock, fastConfig(), nil)
	s.Start(context.Background())
	defer s.Stop()

	var queued []Entry
	for _, text := range []string{"one", "two", "three"} {
		e, err := s.Enqueue(context.Background(), "a_b", chat.Body{Text: text})
		if err != nil {
			t.Fatal(err)
		}
		queued = append(queued, e)
	}

	for i, want := range queued {
		select {
		case res := <-s.Results():
			if res.Entry.ClientMsgID != want.ClientMsgID {
				t.Errorf("result %d is for %s, want %s", i, res.Entry.ClientMsgID, want.ClientMsgID)
			}
			if res.Status != StatusSent {
				t.Errorf("result %d status = %s, want sent", i, res.Status)
			}
			if res.Message.ID != int64(i+1) {
				t.Errorf("result %d id = %d, want %d", i, res.Message.ID, i+1)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for result")
		}
	}
}

func TestEnqueueValidatesBody(t *testing.T) {
	s := NewSender(newMockTransport(0, nil), Config{}, nil)
	if _, err := s.Enqueue(context.Background(), "a_b", chat.Body{}); !errors.Is(err, chat.ErrInvalidArgument) {
		t.Errorf("Enqueue(empty) error = %v, want ErrInvalidArgument", err)
	}
}

func TestDuplicateAckIsSent(t *testing.T) {
	mock := newMockTransport(0, nil)
	s := NewSender(mock, fastConfig(), nil)
	e := Entry{ClientMsgID: "c1", ConversationID: "a_b", Body: chat.Body{Text: "x"}}

	first := s.Send(context.Background(), e)
	second := s.Send(context.Background(), e)
	if first.Duplicate || !second.Duplicate {
		t.Errorf("duplicate flags = %v, %v; want false, true", first.Duplicate, second.Duplicate)
	}
	if first.Message.ID != second.Message.ID {
		t.Errorf("ids = %d, %d; want equal", first.Message.ID, second.Message.ID)
	}
}
