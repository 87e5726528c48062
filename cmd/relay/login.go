package main

import (
	"context"
	"fmt"
	"time"

	relay "github.com/relay-im/relay-go"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <token>",
	Short: "Store an access token and verify it",
	Long:  "Log in by storing an access token in ~/.relay/config.toml and fetching the account it belongs to.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := args[0]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		var opts []relay.ClientOption
		if cfg.Default.BaseURL != "" {
			opts = append(opts, relay.WithBaseURL(cfg.Default.BaseURL))
		}
		client := relay.NewClient(token, opts...)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		me, err := client.Auth.Me(ctx)
		if err != nil {
			return fmt.Errorf("token verification failed: %w", err)
		}

		cfg.Auth.Token = token
		cfg.Auth.UserID = me.ID
		cfg.Auth.Username = me.Username
		if exp := client.Credential().ExpiresAt(); !exp.IsZero() {
			cfg.Auth.TokenExpires = exp.Format(time.RFC3339)
		} else {
			cfg.Auth.TokenExpires = ""
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Printf("Logged in as %s (%s)\n", me.Username, me.ID)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored access token",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Auth = ConfigAuth{}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Println("Logged out.")
		return nil
	},
}
