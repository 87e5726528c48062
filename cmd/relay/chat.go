package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	relay "github.com/relay-im/relay-go"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.AddCommand(chatChannelCmd)
	chatCmd.AddCommand(chatDMCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat live in a channel or conversation",
}

var chatChannelCmd = &cobra.Command{
	Use:   "channel <channel-id>",
	Short: "Join a channel and chat interactively",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(relay.ChannelScope(args[0]))
	},
}

var chatDMCmd = &cobra.Command{
	Use:   "dm <conversation-id>",
	Short: "Join a direct conversation and chat interactively",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(relay.ConversationScope(args[0]))
	},
}

// printNotifier prints router notices to stderr so they do not interleave
// with the message stream.
type printNotifier struct{}

func (printNotifier) Notify(topic, message string) {
	fmt.Fprintf(os.Stderr, "[%s] %s\n", topic, message)
}

func runChat(scope relay.Scope) error {
	client, cfg := getClient()
	if cfg.Auth.UserID == "" {
		return fmt.Errorf("no user ID in config; run 'relay login <token>' again")
	}

	session := relay.NewSession(client, &relay.RealtimeConfig{UserID: cfg.Auth.UserID},
		relay.WithSessionNotifier(printNotifier{}))

	rt := session.Realtime
	rt.OnConnected(func() {
		fmt.Fprintln(os.Stderr, "* connected")
	})
	rt.OnDisconnected(func(reason string) {
		fmt.Fprintf(os.Stderr, "* disconnected: %s\n", reason)
	})
	rt.OnReconnecting(func(attempt int, delay time.Duration) {
		fmt.Fprintf(os.Stderr, "* reconnecting (attempt %d, in %s)\n", attempt, delay)
	})
	rt.OnReconnectFailed(func(err error) {
		fmt.Fprintf(os.Stderr, "* gave up reconnecting: %v\n", err)
	})

	// Print live messages for this scope as they arrive. State updates are
	// the router's job; this handler only renders.
	printMessage := func(payload json.RawMessage) {
		var m relay.Message
		if err := json.Unmarshal(payload, &m); err != nil {
			return
		}
		if s, ok := m.Scope(); !ok || s != scope {
			return
		}
		printLine(&m, cfg.Auth.UserID)
	}
	rt.On(scope.Event("message"), printMessage)
	rt.On(scope.Event("thread_reply"), printMessage)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := session.Start(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer session.Close()

	if err := session.Actions.JoinScope(ctx, scope); err != nil {
		return fmt.Errorf("join %s: %w", scope, err)
	}

	for _, m := range session.Timeline.Messages(scope) {
		printLine(m, cfg.Auth.UserID)
	}
	fmt.Fprintln(os.Stderr, "* type a message, /older, /who, or /quit")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return nil
		case line == "/older":
			if !session.Timeline.HasMore(scope) {
				fmt.Fprintln(os.Stderr, "* beginning of history")
				continue
			}
			if err := session.Actions.LoadOlder(ctx, scope); err != nil {
				fmt.Fprintf(os.Stderr, "* load older: %v\n", err)
				continue
			}
			for _, m := range session.Timeline.Messages(scope) {
				printLine(m, cfg.Auth.UserID)
			}
		case line == "/who":
			fmt.Fprintf(os.Stderr, "* members: %s\n", strings.Join(session.Presence.Members(scope), ", "))
			fmt.Fprintf(os.Stderr, "* online:  %s\n", strings.Join(session.Presence.Online(), ", "))
			if typing := session.Presence.Typing(scope); len(typing) > 0 {
				fmt.Fprintf(os.Stderr, "* typing:  %s\n", strings.Join(typing, ", "))
			}
		default:
			if _, err := session.Actions.SendMessage(ctx, scope, line); err != nil {
				fmt.Fprintf(os.Stderr, "* send failed (will keep locally as failed): %v\n", err)
			}
		}
	}
	return scanner.Err()
}

func printLine(m *relay.Message, selfID string) {
	sender := m.SenderID
	if sender == selfID {
		sender = "you"
	}
	marker := ""
	switch m.Status {
	case relay.StatusPending:
		marker = " …"
	case relay.StatusFailed:
		marker = " ✗"
	}
	indent := ""
	if m.ThreadID != nil {
		indent = "    ↳ "
	}
	fmt.Printf("%s[%s] %s: %s%s\n", indent, m.CreatedAt.Local().Format("15:04"), sender, m.Content, marker)
}
