package store

import (
	"context"
	"time"

	"github.com/nhle/mailboard/internal/apperr"
	"github.com/nhle/mailboard/internal/model"
)

// ErrNotFound is returned when an account or item does not exist.
var ErrNotFound = apperr.New(apperr.NotFound, "record not found")

// AccountStore persists registered accounts. The Config column holds the
// encrypted configuration blob and is stored as given.
type AccountStore interface {
	CreateAccount(ctx context.Context, acc model.Account) error
	GetAccount(ctx context.Context, id string) (*model.Account, error)
	ListAccounts(ctx context.Context) ([]model.Account, error)

	// ModifyAccount is a transactional read-modify-write of one account.
	// Concurrent writers of the same account see each other's changes.
	ModifyAccount(ctx context.Context, id string, fn func(acc *model.Account) error) error

	// DeleteAccount removes the account together with its items and sync
	// markers.
	DeleteAccount(ctx context.Context, id string) error
}

// ItemStore is the per-account item cache.
type ItemStore interface {
	// ReplaceItems atomically clears every item of kind for the account,
	// inserts items in order, and records syncedAt as the sync marker.
	ReplaceItems(ctx context.Context, accountID string, kind model.ItemKind, items []model.Item, syncedAt time.Time) error

	// GetItems returns cached items in the order they were written.
	GetItems(ctx context.Context, accountID string, kind model.ItemKind) ([]model.Item, error)
	GetItem(ctx context.Context, accountID string, kind model.ItemKind, itemID string) (*model.Item, error)
	UpdateItem(ctx context.Context, item model.Item) error
	DeleteItem(ctx context.Context, accountID string, kind model.ItemKind, itemID string) error

	// LastSync returns the time of the most recent successful fetch, and
	// false when the account+kind was never fetched.
	LastSync(ctx context.Context, accountID string, kind model.ItemKind) (time.Time, bool, error)
}

// Store is the full persistence interface.
type Store interface {
	AccountStore
	ItemStore
	Close() error
}
