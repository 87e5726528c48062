package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	channelsWorkspace   string
	channelsDescription string
)

func init() {
	rootCmd.AddCommand(channelsCmd)
	channelsCmd.AddCommand(channelsListCmd)
	channelsCmd.AddCommand(channelsCreateCmd)
	channelsCmd.PersistentFlags().StringVar(&channelsWorkspace, "workspace", "", "workspace ID (defaults to default.workspace)")
	channelsCreateCmd.Flags().StringVar(&channelsDescription, "description", "", "channel description")

	rootCmd.AddCommand(conversationsCmd)
	conversationsCmd.AddCommand(conversationsListCmd)
	conversationsCmd.AddCommand(conversationsCreateCmd)
}

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "Manage workspace channels",
}

var channelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List channels in a workspace, sorted by name",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg := getClient()
		workspaceID, err := requireWorkspace(channelsWorkspace, cfg)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		channels, err := client.Channels.List(ctx, workspaceID)
		if err != nil {
			return err
		}
		if len(channels) == 0 {
			fmt.Println("No channels.")
			return nil
		}
		for _, ch := range channels {
			fmt.Printf("%-26s #%s", ch.ID, ch.Name)
			if ch.Description != "" {
				fmt.Printf("  %s", ch.Description)
			}
			fmt.Println()
		}
		return nil
	},
}

var channelsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a channel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg := getClient()
		workspaceID, err := requireWorkspace(channelsWorkspace, cfg)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		ch, err := client.Channels.Create(ctx, workspaceID, args[0], channelsDescription)
		if err != nil {
			return err
		}
		fmt.Printf("Created channel #%s (%s)\n", ch.Name, ch.ID)
		return nil
	},
}

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "Manage direct conversations",
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your direct conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		conversations, err := client.Conversations.List(ctx)
		if err != nil {
			return err
		}
		if len(conversations) == 0 {
			fmt.Println("No conversations.")
			return nil
		}
		for _, cv := range conversations {
			var names []string
			for _, p := range cv.Participants {
				if p.ID == cfg.Auth.UserID {
					continue
				}
				names = append(names, p.Username)
			}
			line := fmt.Sprintf("%-26s %s", cv.ID, strings.Join(names, ", "))
			if cv.LastMessage != nil {
				line += fmt.Sprintf("  · %s", truncate(cv.LastMessage.Content, 48))
			}
			fmt.Println(line)
		}
		return nil
	},
}

var conversationsCreateCmd = &cobra.Command{
	Use:   "create <user-id> [user-id...]",
	Short: "Start a direct conversation",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		cv, err := client.Conversations.Create(ctx, args, "")
		if err != nil {
			return err
		}
		fmt.Printf("Created conversation %s\n", cv.ID)
		return nil
	},
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
