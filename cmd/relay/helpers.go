package main

import (
	"fmt"
	"os"

	relay "github.com/relay-im/relay-go"
)

// getClient creates a Relay client from the stored credential, exiting with
// a hint when the CLI has not been logged in yet.
func getClient() (*relay.Client, *Config) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.Token == "" {
		fmt.Fprintln(os.Stderr, "Not logged in. Run 'relay login <token>' first.")
		os.Exit(1)
	}

	var opts []relay.ClientOption
	if cfg.Default.BaseURL != "" {
		opts = append(opts, relay.WithBaseURL(cfg.Default.BaseURL))
	}

	return relay.NewClient(cfg.Auth.Token, opts...), cfg
}

// requireWorkspace resolves the workspace ID from the flag or the config
// default.
func requireWorkspace(flagValue string, cfg *Config) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if cfg.Default.Workspace != "" {
		return cfg.Default.Workspace, nil
	}
	return "", fmt.Errorf("no workspace given; pass --workspace or set default.workspace")
}
