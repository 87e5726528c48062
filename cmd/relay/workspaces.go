package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var workspacesInviteEmails []string

func init() {
	rootCmd.AddCommand(workspacesCmd)
	workspacesCmd.AddCommand(workspacesListCmd)
	workspacesCmd.AddCommand(workspacesCreateCmd)
	workspacesCmd.AddCommand(workspacesInviteCmd)

	workspacesInviteCmd.Flags().StringSliceVar(&workspacesInviteEmails, "email", nil, "email address to invite (repeatable)")
}

var workspacesCmd = &cobra.Command{
	Use:   "workspaces",
	Short: "Manage workspaces",
}

var workspacesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workspaces you belong to",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		workspaces, err := client.Workspaces.List(ctx)
		if err != nil {
			return err
		}
		if len(workspaces) == 0 {
			fmt.Println("No workspaces.")
			return nil
		}
		for _, ws := range workspaces {
			role := ""
			if ws.Role != "" {
				role = " (" + ws.Role + ")"
			}
			fmt.Printf("%-26s %s%s\n", ws.ID, ws.Name, role)
		}
		return nil
	},
}

var workspacesCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		ws, err := client.Workspaces.Create(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Created workspace %s (%s)\n", ws.Name, ws.ID)
		return nil
	},
}

var workspacesInviteCmd = &cobra.Command{
	Use:   "invite <workspace-id>",
	Short: "Invite users to a workspace by email",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(workspacesInviteEmails) == 0 {
			return fmt.Errorf("at least one --email is required")
		}
		client, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		invites, err := client.Workspaces.Invite(ctx, args[0], workspacesInviteEmails)
		if err != nil {
			return err
		}
		fmt.Printf("Sent %d invite(s): %s\n", len(invites), strings.Join(workspacesInviteEmails, ", "))
		return nil
	},
}
