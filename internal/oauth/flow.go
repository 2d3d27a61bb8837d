package oauth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nhle/mailboard/internal/apperr"
	"github.com/nhle/mailboard/internal/credential"
	"github.com/nhle/mailboard/internal/model"
	"github.com/nhle/mailboard/internal/store"
)

// Flow runs the authorization code handshake for registered accounts.
type Flow struct {
	accounts  store.AccountStore
	creds     *credential.Store
	states    StateRegistry
	providers ExchangerSource
	now       func() time.Time
	logger    *slog.Logger
}

// NewFlow creates a Flow.
func NewFlow(
	accounts store.AccountStore,
	creds *credential.Store,
	states StateRegistry,
	providers ExchangerSource,
	logger *slog.Logger,
) *Flow {
	return &Flow{
		accounts:  accounts,
		creds:     creds,
		states:    states,
		providers: providers,
		now:       time.Now,
		logger:    logger.With("component", "oauth"),
	}
}

// AuthorizeURL starts a handshake for accountID through route and returns
// the provider consent URL.
func (f *Flow) AuthorizeURL(ctx context.Context, route, accountID string) (string, error) {
	ex, err := f.providers.For(route)
	if err != nil {
		return "", err
	}
	acc, err := f.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("loading account %s: %w", accountID, err)
	}
	if acc.Provider.OAuthProvider() != route {
		return "", apperr.New(apperr.Invalid, "account %s (%s) does not authorize through %s", acc.ID, acc.Provider, route)
	}

	state, err := f.states.Issue(ctx, acc.ID, acc.Provider)
	if err != nil {
		return "", err
	}
	return ex.AuthCodeURL(state), nil
}

// Complete finishes the handshake identified by state: the code is
// exchanged and the resulting tokens are stored on the bound account. It
// returns the account id. An unknown state, or one issued for a different
// route, fails with InvalidOAuthState before anything is modified.
func (f *Flow) Complete(ctx context.Context, route, state, code string) (string, error) {
	pending, err := f.states.Consume(ctx, state)
	if err != nil {
		return "", err
	}
	if pending.Provider.OAuthProvider() != route {
		return "", apperr.New(apperr.InvalidOAuthState, "state was issued for %s, not %s", pending.Provider, route)
	}
	if code == "" {
		return "", apperr.New(apperr.Invalid, "authorization code is missing")
	}

	ex, err := f.providers.For(route)
	if err != nil {
		return "", err
	}
	acc, err := f.accounts.GetAccount(ctx, pending.AccountID)
	if err != nil {
		return "", fmt.Errorf("loading account %s: %w", pending.AccountID, err)
	}
	if _, err := f.creds.Open(acc.Config); err != nil {
		return "", fmt.Errorf("opening config of account %s: %w", acc.ID, err)
	}

	grant, err := ex.Exchange(ctx, code)
	if err != nil {
		return "", err
	}
	now := f.now()
	err = f.accounts.ModifyAccount(ctx, acc.ID, func(a *model.Account) error {
		blob, err := f.creds.Reseal(a.Config, func(cfg *model.AccountConfig) error {
			cfg.Token = ApplyGrant(cfg.Token, grant, now)
			return nil
		})
		if err != nil {
			return fmt.Errorf("sealing config of account %s: %w", acc.ID, err)
		}
		a.Config = blob
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("storing tokens of account %s: %w", acc.ID, err)
	}
	f.logger.Info("account authorized", "account", acc.ID, "provider", acc.Provider)
	return acc.ID, nil
}
