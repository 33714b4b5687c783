package main

import (
	"context"
	"fmt"

	"github.com/matheus3301/relay/internal/chat"
	"github.com/matheus3301/relay/internal/outbox"
	"github.com/matheus3301/relay/internal/rpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// dial connects to the daemon's Unix domain socket.
func dial(socketPath string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return conn, nil
}

// rpcTransport sends outbox entries through SendMessage.
type rpcTransport struct {
	client *rpc.Client
}

var _ outbox.Transport = rpcTransport{}

func (t rpcTransport) Send(ctx context.Context, e outbox.Entry) (chat.Message, bool, error) {
	req := &rpc.SendMessageRequest{
		ConversationID: e.ConversationID,
		ClientMsgID:    e.ClientMsgID,
		Text:           e.Body.Text,
		Attributes:     e.Body.Attributes,
	}
	if !e.QueuedAt.IsZero() {
		req.ClientCreatedAtUnixMs = e.QueuedAt.UnixMilli()
	}
	resp, err := t.client.SendMessage(ctx, req)
	if err != nil {
		return chat.Message{}, false, err
	}
	return resp.Message.ToChat(), resp.Duplicate, nil
}
