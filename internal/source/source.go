// Package source defines the contract every provider adapter implements and
// the raw records adapters hand to the normalizer.
package source

import (
	"context"
	"time"

	"github.com/nhle/mailboard/internal/model"
)

// Action is a remote mutation on a single item.
type Action string

const (
	ActionArchive  Action = "archive"
	ActionStar     Action = "star"
	ActionComplete Action = "complete"
)

// FetchRequest carries everything an adapter needs for one fetch.
type FetchRequest struct {
	// AccountID is used for logging only.
	AccountID string

	// Config is the decrypted account configuration.
	Config model.AccountConfig

	// AccessToken is a currently valid OAuth access token. Empty for
	// providers that authenticate with an app password.
	AccessToken string

	// Since is the inclusive lower bound on item dates.
	Since time.Time
}

// MutateRequest describes one remote mutation.
type MutateRequest struct {
	Config      model.AccountConfig
	AccessToken string
	ItemID      string
	Action      Action

	// Value is the target state for star and complete.
	Value bool

	// ProjectID scopes task mutations.
	ProjectID string
}

// Adapter performs the remote calls for one provider.
type Adapter interface {
	// FetchItems returns raw records newer than req.Since. Pagination and
	// rate-limit retries happen inside a single call.
	FetchItems(ctx context.Context, req FetchRequest) ([]Record, error)

	// MutateItem applies an action remotely. Actions the provider does not
	// support fail with an apperr.Unsupported error.
	MutateItem(ctx context.Context, req MutateRequest) error
}
