package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/relay/internal/bus"
	"github.com/matheus3301/relay/internal/chat"
	"github.com/matheus3301/relay/internal/config"
	"github.com/matheus3301/relay/internal/identity"
	"github.com/matheus3301/relay/internal/lock"
	"github.com/matheus3301/relay/internal/rpc"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// testParams points the instance tree at a short temp dir. Unix socket paths
// are limited to 104 bytes on macOS.
func testParams(t *testing.T, driver string) Params {
	t.Helper()
	tmpDir, err := os.MkdirTemp("/tmp", "relay-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(tmpDir) })
	t.Setenv("RELAY_HOME", tmpDir)

	cfg := config.Default()
	cfg.HTTPAddr = ""
	cfg.Storage.Driver = driver
	return Params{
		InstanceName: "test",
		SocketPath:   filepath.Join(tmpDir, "d.sock"),
		Config:       cfg,
		Logger:       zap.NewNop(),
	}
}

func dialClient(t *testing.T, socketPath string) *rpc.Client {
	t.Helper()
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return rpc.NewClient(conn)
}

func as(id string) context.Context {
	return identity.OutgoingContext(context.Background(), chat.Participant{ID: id})
}

func TestDaemonLifecycle(t *testing.T) {
	for _, driver := range []string{"sqlite", "badger"} {
		t.Run(driver, func(t *testing.T) {
			p := testParams(t, driver)
			app := fxtest.New(t, Module(p))
			app.RequireStart()
			defer app.RequireStop()

			time.Sleep(50 * time.Millisecond)
			client := dialClient(t, p.SocketPath)

			res, err := client.ResolveConversation(as("alice"), &rpc.ResolveConversationRequest{ParticipantIDs: []string{"alice", "bob"}})
			if err != nil {
				t.Fatalf("ResolveConversation error = %v", err)
			}
			convID := res.Conversation.ID

			ctx, cancel := context.WithCancel(as("bob"))
			defer cancel()
			events, err := client.WatchConversation(ctx, &rpc.WatchConversationRequest{ConversationID: convID})
			if err != nil {
				t.Fatalf("WatchConversation error = %v", err)
			}
			evt, err := events.Recv()
			if err != nil {
				t.Fatalf("Recv snapshot error = %v", err)
			}
			if evt.Kind != "snapshot" {
				t.Fatalf("first event kind = %q, want snapshot", evt.Kind)
			}

			if _, err := client.SendMessage(as("alice"), &rpc.SendMessageRequest{ConversationID: convID, Text: "hello"}); err != nil {
				t.Fatalf("SendMessage error = %v", err)
			}
			evt, err = events.Recv()
			if err != nil {
				t.Fatalf("Recv appended error = %v", err)
			}
			if evt.Kind != "appended" || evt.Messages[0].Text != "hello" {
				t.Errorf("got %s %+v, want appended hello", evt.Kind, evt.Messages)
			}

			unread, err := client.GetUnread(as("bob"), &rpc.GetUnreadRequest{ConversationID: convID})
			if err != nil {
				t.Fatalf("GetUnread error = %v", err)
			}
			if !unread.HasUnread {
				t.Error("expected bob to have unread")
			}
		})
	}
}

// TestStopEndsOpenWatchStreams checks that shutdown does not hang on a
// client that is still watching.
func TestStopEndsOpenWatchStreams(t *testing.T) {
	p := testParams(t, "sqlite")
	var b *bus.Bus
	app := fxtest.New(t, Module(p), fx.Populate(&b))
	app.RequireStart()
	time.Sleep(50 * time.Millisecond)

	client := dialClient(t, p.SocketPath)
	events, err := client.WatchInbox(as("alice"), &rpc.WatchInboxRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := events.Recv(); err != nil {
		t.Fatal(err)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.Stop(stopCtx); err != nil {
		t.Fatalf("Stop error = %v", err)
	}
	if _, err := events.Recv(); err == nil {
		t.Error("expected watch stream to end after stop")
	}

	if n := b.Len(); n != 0 {
		t.Errorf("bus subscriptions after stop = %d, want 0", n)
	}
	sub := b.Subscribe(bus.ParticipantTopic("alice"), 1)
	if _, ok := <-sub.C; ok || !errors.Is(sub.Err(), bus.ErrClosed) {
		t.Errorf("subscribe after stop: open=%v err=%v, want closed with bus.ErrClosed", ok, sub.Err())
	}
}

func TestSecondDaemonIsRejectedByLock(t *testing.T) {
	p := testParams(t, "sqlite")
	first := fxtest.New(t, Module(p))
	first.RequireStart()
	defer first.RequireStop()

	second := fx.New(Module(p), fx.NopLogger)
	var held *lock.HeldError
	if !errors.As(second.Err(), &held) {
		t.Fatalf("second daemon error = %v, want lock.HeldError", second.Err())
	}
	if held.Owner.Socket != p.SocketPath {
		t.Errorf("holder socket = %q, want %q", held.Owner.Socket, p.SocketPath)
	}
	if _, err := os.Stat(p.SocketPath); err != nil {
		t.Errorf("first daemon socket removed: %v", err)
	}
}

// TestFxModuleWiring verifies the fx dependency graph resolves without errors.
func TestFxModuleWiring(t *testing.T) {
	if err := fx.ValidateApp(Module(testParams(t, "sqlite"))); err != nil {
		t.Fatalf("ValidateApp() error = %v", err)
	}
}

func TestInvalidConfigFailsStartup(t *testing.T) {
	p := testParams(t, "sqlite")
	p.Config.Unread.Policy = "sometimes"
	app := fx.New(Module(p), fx.NopLogger)
	if app.Err() == nil {
		t.Fatal("expected invalid config to fail construction")
	}
}
