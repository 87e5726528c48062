package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	relay "github.com/relay-im/relay-go"
	"github.com/spf13/cobra"
)

var (
	assistantModeChannels []string
	assistantModeDMs      []string
)

func init() {
	rootCmd.AddCommand(assistantCmd)
	assistantCmd.AddCommand(assistantChatCmd)
	assistantCmd.AddCommand(assistantModeCmd)

	assistantModeCmd.Flags().StringSliceVar(&assistantModeChannels, "channel", nil, "channel ID the assistant should listen in (repeatable)")
	assistantModeCmd.Flags().StringSliceVar(&assistantModeDMs, "dm", nil, "conversation ID the assistant should listen in (repeatable)")
}

var assistantCmd = &cobra.Command{
	Use:   "assistant",
	Short: "Talk to the workspace assistant",
}

var assistantChatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive assistant session",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg := getClient()
		if cfg.Auth.UserID == "" {
			return fmt.Errorf("no user ID in config; run 'relay login <token>' again")
		}

		session := relay.NewSession(client, &relay.RealtimeConfig{
			UserID:     cfg.Auth.UserID,
			BotEnabled: true,
		})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := session.Start(ctx); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer session.Close()

		if err := session.Actions.ConnectBot(ctx); err != nil {
			return fmt.Errorf("activate assistant: %w", err)
		}
		fmt.Fprintln(os.Stderr, "* assistant ready; type a prompt or /quit")

		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if line == "/quit" {
				session.Actions.DisconnectBot()
				return nil
			}
			if err := session.Actions.SendBotMessage(ctx, line); err != nil {
				fmt.Fprintf(os.Stderr, "* send failed: %v\n", err)
				continue
			}
			reply, ok := waitForReply(ctx, session.Bot, 30*time.Second)
			if !ok {
				fmt.Fprintln(os.Stderr, "* no reply (timed out)")
				continue
			}
			fmt.Printf("assistant: %s\n", reply)
		}
		return scanner.Err()
	},
}

var assistantModeCmd = &cobra.Command{
	Use:   "mode",
	Short: "Set the scopes the assistant listens in",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg := getClient()
		if cfg.Auth.UserID == "" {
			return fmt.Errorf("no user ID in config; run 'relay login <token>' again")
		}

		session := relay.NewSession(client, &relay.RealtimeConfig{
			UserID:     cfg.Auth.UserID,
			BotEnabled: true,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := session.Start(ctx); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer session.Close()

		if err := session.Actions.SetBotMode(ctx, assistantModeChannels, assistantModeDMs); err != nil {
			return err
		}
		fmt.Printf("Requested assistant mode: %d channel(s), %d conversation(s)\n",
			len(assistantModeChannels), len(assistantModeDMs))
		return nil
	},
}

// waitForReply polls the transcript until the assistant answers the pending
// prompt or the deadline passes.
func waitForReply(ctx context.Context, bot *relay.BotSession, timeout time.Duration) (string, bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return "", false
		case <-time.After(100 * time.Millisecond):
		}
		if bot.Waiting() {
			continue
		}
		msgs := bot.Messages()
		if len(msgs) == 0 || msgs[len(msgs)-1].Sender != relay.BotSenderBot {
			continue
		}
		return msgs[len(msgs)-1].Content, true
	}
	return "", false
}
