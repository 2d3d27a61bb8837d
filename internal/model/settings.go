package model

import (
	"errors"
	"fmt"
	"time"
)

// TokenSet is the OAuth credential held for an account.
type TokenSet struct {
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitzero"`
}

// GraphSettings configures a Microsoft Graph mailbox.
type GraphSettings struct {
	// SharedMailbox is the address of a delegated mailbox. Empty means the
	// signed-in user's own inbox.
	SharedMailbox string `json:"shared_mailbox,omitempty"`
}

// GmailSettings configures a Gmail mailbox.
type GmailSettings struct {
	// AccountNumber is the /u/{n}/ index used to build web links.
	AccountNumber int `json:"account_number"`
}

// IMAPSettings configures an IMAP mailbox.
type IMAPSettings struct {
	Username    string `json:"username"`
	AppPassword string `json:"app_password,omitempty"`
}

// AccountConfig is the decrypted per-account configuration. Exactly one of
// the provider sections is set, selected by Kind.
type AccountConfig struct {
	Kind  ProviderKind   `json:"kind"`
	Token TokenSet       `json:"token,omitzero"`
	Graph *GraphSettings `json:"graph,omitempty"`
	Gmail *GmailSettings `json:"gmail,omitempty"`
	IMAP  *IMAPSettings  `json:"imap,omitempty"`
}

// NewAccountConfig returns an empty configuration with the section for kind
// allocated.
func NewAccountConfig(kind ProviderKind) AccountConfig {
	cfg := AccountConfig{Kind: kind}
	switch kind {
	case ProviderGraphMail, ProviderGraphMailShared:
		cfg.Graph = &GraphSettings{}
	case ProviderGmail:
		cfg.Gmail = &GmailSettings{}
	case ProviderIMAPYahoo, ProviderIMAPICloud:
		cfg.IMAP = &IMAPSettings{}
	}
	return cfg
}

// HasToken reports whether an access token is on file.
func (c AccountConfig) HasToken() bool {
	return c.Token.AccessToken != ""
}

// Validate checks that the section matching Kind is present and complete.
func (c AccountConfig) Validate() error {
	switch c.Kind {
	case ProviderGraphMail:
		if c.Graph == nil {
			return errors.New("graph settings missing")
		}
	case ProviderGraphMailShared:
		if c.Graph == nil || c.Graph.SharedMailbox == "" {
			return errors.New("shared mailbox address is required")
		}
	case ProviderGmail:
		if c.Gmail == nil {
			return errors.New("gmail settings missing")
		}
		if c.Gmail.AccountNumber < 0 {
			return errors.New("gmail account number must not be negative")
		}
	case ProviderIMAPYahoo:
		if c.IMAP == nil || c.IMAP.Username == "" {
			return errors.New("email is required for Yahoo accounts")
		}
	case ProviderIMAPICloud:
		if c.IMAP == nil || c.IMAP.Username == "" || c.IMAP.AppPassword == "" {
			return errors.New("email and app password are required for iCloud accounts")
		}
	case ProviderTaskService:
	default:
		return fmt.Errorf("unknown provider kind %q", c.Kind)
	}
	return nil
}
