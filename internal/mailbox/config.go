// Package mailbox pulls provider purchase receipts out of a Gmail mailbox.
// Providers that expose no API still land a structured receipt in email;
// the mailbox is the one place all of them can be read from.
package mailbox

import (
	"fmt"
	"os"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// Config holds the configuration for the Gmail record source.
type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	TokenFile    string
	// Queries maps each provider to the Gmail sender filter that selects
	// its receipt messages, e.g. "from:auto-confirm@amazon.com".
	Queries map[model.Provider]string
}

// DefaultConfig returns a Config covering the providers we know how to
// normalize.
func DefaultConfig() Config {
	return Config{
		Queries: map[model.Provider]string{
			model.ProviderAmazon: "from:amazon.com",
			model.ProviderPayPal: "from:paypal.com",
		},
	}
}

// LoadFromEnv loads OAuth credentials from environment variables.
func (c *Config) LoadFromEnv() error {
	c.ClientID = os.Getenv("GMAIL_CLIENT_ID")
	c.ClientSecret = os.Getenv("GMAIL_CLIENT_SECRET")
	c.RefreshToken = os.Getenv("GMAIL_REFRESH_TOKEN")

	if c.TokenFile == "" {
		c.TokenFile = os.Getenv("GMAIL_TOKEN_FILE")
	}

	return c.Validate()
}

// Validate checks that one authentication method is fully configured.
func (c *Config) Validate() error {
	hasOAuth := c.ClientID != "" && c.ClientSecret != ""
	if !hasOAuth {
		return fmt.Errorf("missing Gmail authentication: provide OAuth2 client credentials")
	}
	if c.RefreshToken == "" && c.TokenFile == "" {
		return fmt.Errorf("missing Gmail token: provide a refresh token or a saved token file")
	}
	if len(c.Queries) == 0 {
		return fmt.Errorf("no provider queries configured")
	}
	return nil
}
