package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/nhle/mailboard/internal/credential"
	"github.com/nhle/mailboard/internal/model"
	"github.com/nhle/mailboard/internal/store"
)

// NewTestStore creates an in-memory SQLiteStore with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// NewTestCredentials returns a credential store with a cheap key derivation.
func NewTestCredentials(t *testing.T) *credential.Store {
	t.Helper()

	c, err := credential.NewCipher("test-secret", credential.KDFParams{Salt: "test-salt", Iterations: 10})
	if err != nil {
		t.Fatalf("creating test cipher: %v", err)
	}
	return credential.NewStore(c)
}

// SeedAccount registers an account with cfg sealed by creds.
func SeedAccount(
	t *testing.T,
	s store.AccountStore,
	creds *credential.Store,
	id string,
	cfg model.AccountConfig,
) model.Account {
	t.Helper()

	blob, err := creds.Seal(cfg)
	if err != nil {
		t.Fatalf("sealing config: %v", err)
	}
	acc := model.Account{
		ID:        id,
		Name:      "Test " + id,
		Provider:  cfg.Kind,
		Color:     model.DefaultAccountColor,
		Config:    blob,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if cfg.IMAP != nil {
		acc.Email = cfg.IMAP.Username
	}
	if err := s.CreateAccount(context.Background(), acc); err != nil {
		t.Fatalf("creating account %s: %v", id, err)
	}
	return acc
}
