package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/the-books-must-balance/internal/config"
	"github.com/Veraticus/the-books-must-balance/internal/mailbox"
)

func authCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Authenticate the Gmail record source",
		Long: `Run the interactive OAuth2 flow for the mailbox the provider receipts
arrive in. The resulting token is saved to mailbox.token_file and reused
by every later sync.`,
		RunE: runAuth,
	}
}

func runAuth(cmd *cobra.Command, _ []string) error {
	cfg := mailbox.DefaultConfig()
	cfg.ClientID = viper.GetString("mailbox.client_id")
	cfg.ClientSecret = viper.GetString("mailbox.client_secret")
	cfg.TokenFile = config.ExpandPath(viper.GetString("mailbox.token_file"))

	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return fmt.Errorf("mailbox.client_id and mailbox.client_secret must be configured")
	}
	if cfg.TokenFile == "" {
		cfg.TokenFile = config.ExpandPath("$HOME/.local/share/balance/gmail-token.json")
	}

	if _, err := mailbox.AuthenticateInteractive(cmd.Context(), cfg); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	fmt.Printf("Token saved to %s.\n", cfg.TokenFile)
	return nil
}
