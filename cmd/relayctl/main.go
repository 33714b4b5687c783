package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/matheus3301/relay/internal/chat"
	"github.com/matheus3301/relay/internal/identity"
	"github.com/matheus3301/relay/internal/instance"
	"github.com/matheus3301/relay/internal/lock"
	"github.com/matheus3301/relay/internal/outbox"
	"github.com/matheus3301/relay/internal/rpc"
	"go.uber.org/zap"
)

func main() {
	instanceFlag := flag.String("instance", "", "instance name (overrides config default)")
	asFlag := flag.String("as", os.Getenv("USER"), "participant id to act as")
	nameFlag := flag.String("name", "", "display name sent with messages")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	verboseFlag := flag.Bool("v", false, "log retries to stderr")
	flag.Parse()

	instanceName, err := instance.Resolve(*instanceFlag)
	if err != nil {
		fatal(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	me, err := identity.Parse(*asFlag, *nameFlag)
	if err != nil {
		fatal(fmt.Errorf("--as: %w", err))
	}

	if _, err := lock.ReadOwner(instance.Dir(instanceName)); errors.Is(err, fs.ErrNotExist) {
		fatal(fmt.Errorf("relayd is not running for instance %q (start it with: relayd --instance %s)", instanceName, instanceName))
	}

	conn, err := dial(instance.SocketPath(instanceName))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for instance %q: %v\n", instanceName, err)
		os.Exit(1)
	}
	defer func() { _ = conn.Close() }()

	c := &cli{
		client: rpc.NewClient(conn),
		me:     me,
		json:   *jsonFlag,
		logger: zap.NewNop(),
	}
	if *verboseFlag {
		if l, err := zap.NewDevelopment(); err == nil {
			c.logger = l
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = identity.OutgoingContext(ctx, me)

	switch args[0] {
	case "resolve":
		err = c.resolve(ctx, args[1:])
	case "ls":
		err = c.list(ctx)
	case "send":
		err = c.send(ctx, args[1:])
	case "read":
		err = c.history(ctx, args[1:])
	case "mark-read":
		err = c.markRead(ctx, args[1:])
	case "unread":
		err = c.unread(ctx, args[1:])
	case "watch":
		err = c.watch(ctx, args[1:])
	case "inbox":
		err = c.inbox(ctx)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fatal(err)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: relayctl [--instance <name>] [--as <id>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  resolve <id>...            Find or create the conversation with these participants")
	fmt.Fprintln(os.Stderr, "  ls                         List conversations, most recent first")
	fmt.Fprintln(os.Stderr, "  send <conv> <text>...      Send a message (retries transient failures)")
	fmt.Fprintln(os.Stderr, "  read <conv> [limit]        Show recent messages")
	fmt.Fprintln(os.Stderr, "  mark-read <conv> [id...]   Mark messages read (all when no ids)")
	fmt.Fprintln(os.Stderr, "  unread <conv>              Show unread state")
	fmt.Fprintln(os.Stderr, "  watch <conv>               Stream a conversation")
	fmt.Fprintln(os.Stderr, "  inbox                      Stream the conversation list")
}

type cli struct {
	client *rpc.Client
	me     chat.Participant
	json   bool
	logger *zap.Logger
}

func (c *cli) resolve(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: relayctl resolve <participant>...")
	}
	ids := args
	if !slices.Contains(ids, c.me.ID) {
		ids = append([]string{c.me.ID}, args...)
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	resp, err := c.client.ResolveConversation(ctx, &rpc.ResolveConversationRequest{ParticipantIDs: ids})
	if err != nil {
		return err
	}
	if c.json {
		outputJSON(resp)
		return nil
	}
	fmt.Println(resp.Conversation.ID)
	return nil
}

func (c *cli) list(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	resp, err := c.client.ListConversations(ctx, &rpc.ListConversationsRequest{})
	if err != nil {
		return err
	}
	if c.json {
		outputJSON(resp)
		return nil
	}
	if len(resp.Summaries) == 0 {
		fmt.Println("No conversations.")
		return nil
	}
	for _, s := range resp.Summaries {
		fmt.Println(formatSummary(s))
	}
	return nil
}

func (c *cli) send(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: relayctl send <conv> <text>...")
	}
	sender := outbox.NewSender(rpcTransport{client: c.client}, outbox.Config{}, c.logger)
	sender.Start(ctx)
	defer sender.Stop()

	entry, err := sender.Enqueue(ctx, args[0], chat.Body{Text: strings.Join(args[1:], " ")})
	if err != nil {
		return err
	}
	var res outbox.Result
	select {
	case res = <-sender.Results():
	case <-ctx.Done():
		return ctx.Err()
	}
	if res.Status == outbox.StatusFailed {
		return fmt.Errorf("send %s failed after %d attempt(s): %w", entry.ClientMsgID, res.Attempts, res.Err)
	}
	if c.json {
		outputJSON(rpc.FromMessage(res.Message))
		return nil
	}
	fmt.Printf("sent #%d (%s)\n", res.Message.ID, res.Entry.ClientMsgID)
	return nil
}

func (c *cli) history(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: relayctl read <conv> [limit]")
	}
	limit := 20
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("limit: %w", err)
		}
		limit = n
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	resp, err := c.client.ListMessages(ctx, &rpc.ListMessagesRequest{ConversationID: args[0], Limit: limit})
	if err != nil {
		return err
	}
	if c.json {
		outputJSON(resp)
		return nil
	}
	// Pages are newest first; print oldest first.
	for i := len(resp.Messages) - 1; i >= 0; i-- {
		fmt.Println(formatMessage(resp.Messages[i]))
	}
	return nil
}

func (c *cli) markRead(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: relayctl mark-read <conv> [id...]")
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var (
		resp *rpc.MarkReadResponse
		err  error
	)
	if len(args) == 1 {
		resp, err = c.client.MarkAllRead(ctx, &rpc.MarkAllReadRequest{ConversationID: args[0]})
	} else {
		ids := make([]int64, 0, len(args)-1)
		for _, a := range args[1:] {
			id, perr := strconv.ParseInt(a, 10, 64)
			if perr != nil {
				return fmt.Errorf("message id %q: %w", a, perr)
			}
			ids = append(ids, id)
		}
		resp, err = c.client.MarkRead(ctx, &rpc.MarkReadRequest{ConversationID: args[0], IDs: ids})
	}
	if err != nil {
		return err
	}
	if c.json {
		outputJSON(resp)
		return nil
	}
	fmt.Printf("marked %d message(s) read\n", len(resp.Changed))
	return nil
}

func (c *cli) unread(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: relayctl unread <conv>")
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	resp, err := c.client.GetUnread(ctx, &rpc.GetUnreadRequest{ConversationID: args[0]})
	if err != nil {
		return err
	}
	if c.json {
		outputJSON(resp)
		return nil
	}
	fmt.Printf("Unread: %v\n", resp.HasUnread)
	fmt.Printf("Count:  %d\n", resp.UnreadCount)
	return nil
}

func (c *cli) watch(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: relayctl watch <conv>")
	}
	events, err := c.client.WatchConversation(ctx, &rpc.WatchConversationRequest{ConversationID: args[0]})
	if err != nil {
		return err
	}
	return c.stream(ctx, events)
}

func (c *cli) inbox(ctx context.Context) error {
	events, err := c.client.WatchInbox(ctx, &rpc.WatchInboxRequest{})
	if err != nil {
		return err
	}
	return c.stream(ctx, events)
}

func (c *cli) stream(ctx context.Context, events rpc.EventReceiver) error {
	for {
		evt, err := events.Recv()
		if errors.Is(err, io.EOF) || ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
		if c.json {
			outputJSON(evt)
			continue
		}
		printEvent(evt)
	}
}

func printEvent(evt *rpc.FeedEvent) {
	switch evt.Kind {
	case "snapshot":
		for i := len(evt.Messages) - 1; i >= 0; i-- {
			fmt.Println(formatMessage(evt.Messages[i]))
		}
	case "appended":
		for _, m := range evt.Messages {
			fmt.Println(formatMessage(m))
		}
	case "read":
		fmt.Printf("-- %s read %v\n", evt.Read.ReaderID, evt.Read.IDs)
	case "list_snapshot", "conversation":
		for _, s := range evt.Summaries {
			fmt.Println(formatSummary(s))
		}
	case "unread_changed":
		fmt.Printf("-- %s unread=%v\n", evt.Unread.ConversationID, evt.Unread.Unread)
	case "error":
		fmt.Fprintf(os.Stderr, "feed error: %s\n", evt.Error)
	}
}

func formatMessage(m rpc.Message) string {
	who := m.SenderID
	if m.SenderName != "" {
		who = m.SenderName
	}
	at := time.UnixMilli(m.CreatedAtUnixMs).Format("15:04:05")
	return fmt.Sprintf("[%s] #%d %s: %s", at, m.ID, who, m.Text)
}

func formatSummary(s rpc.Summary) string {
	mark := " "
	if s.HasUnread {
		mark = "*"
	}
	return fmt.Sprintf("%s %-40s %-30s %s", mark, s.Conversation.ID, strings.Join(s.Conversation.Participants, ","), s.Preview)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
