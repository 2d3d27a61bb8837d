package model

import (
	"fmt"
	"time"
)

// ProviderKind identifies the remote service backing an account.
type ProviderKind string

const (
	ProviderGraphMail       ProviderKind = "graph-mail"
	ProviderGraphMailShared ProviderKind = "graph-mail-shared"
	ProviderGmail           ProviderKind = "gmail"
	ProviderIMAPYahoo       ProviderKind = "imap-yahoo"
	ProviderIMAPICloud      ProviderKind = "imap-icloud"
	ProviderTaskService     ProviderKind = "task-service"
)

// ProviderKinds lists every supported provider kind.
var ProviderKinds = []ProviderKind{
	ProviderGraphMail,
	ProviderGraphMailShared,
	ProviderGmail,
	ProviderIMAPYahoo,
	ProviderIMAPICloud,
	ProviderTaskService,
}

// ParseProviderKind validates s against the closed set of provider kinds.
func ParseProviderKind(s string) (ProviderKind, error) {
	for _, k := range ProviderKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown provider kind %q", s)
}

// ItemKind returns the kind of item the provider produces.
func (k ProviderKind) ItemKind() ItemKind {
	if k == ProviderTaskService {
		return ItemKindTask
	}
	return ItemKindEmail
}

// UsesOAuth reports whether accounts of this kind authenticate with an
// OAuth access token. iCloud uses an app password instead.
func (k ProviderKind) UsesOAuth() bool {
	return k != ProviderIMAPICloud
}

// OAuthProvider returns the authorization route name for the kind
// ("microsoft", "google", "ticktick", "yahoo"), or "" when the kind does
// not authorize through OAuth.
func (k ProviderKind) OAuthProvider() string {
	switch k {
	case ProviderGraphMail, ProviderGraphMailShared:
		return "microsoft"
	case ProviderGmail:
		return "google"
	case ProviderTaskService:
		return "ticktick"
	case ProviderIMAPYahoo:
		return "yahoo"
	default:
		return ""
	}
}

// DefaultAccountColor is applied when an account is registered without a color.
const DefaultAccountColor = "#0078d4"

// Account is a registered mailbox or task-list identity.
type Account struct {
	// ID is the opaque account identifier ("acc_" followed by hex characters).
	ID string `json:"id" db:"id"`

	// Name is the user-facing label.
	Name string `json:"name" db:"name"`

	// Provider is the remote service kind backing the account.
	Provider ProviderKind `json:"provider" db:"provider"`

	// Email is the contact address; required for IMAP providers.
	Email string `json:"email,omitempty" db:"email"`

	// Color is the display color (CSS hex).
	Color string `json:"color" db:"color"`

	// Config is the encrypted AccountConfig blob. It is never serialized.
	Config string `json:"-" db:"config"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
