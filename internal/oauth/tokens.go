package oauth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nhle/mailboard/internal/apperr"
	"github.com/nhle/mailboard/internal/credential"
	"github.com/nhle/mailboard/internal/model"
	"github.com/nhle/mailboard/internal/store"
)

var metricRefresh = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "mailboard_token_refresh_total",
		Help: "Access token refresh attempts.",
	},
	[]string{"result"},
)

// DefaultRefreshBuffer is how long before expiry a token is renewed.
const DefaultRefreshBuffer = 5 * time.Minute

// defaultLifetime is assumed when a provider omits expires_in.
const defaultLifetime = time.Hour

// ExchangerSource resolves the exchanger for an authorization route.
type ExchangerSource interface {
	For(name string) (Exchanger, error)
}

// TokenManager hands out access tokens that are valid for at least the
// refresh buffer, refreshing and persisting them when needed.
type TokenManager struct {
	accounts  store.AccountStore
	creds     *credential.Store
	providers ExchangerSource
	buffer    time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// TokenOption customizes a TokenManager.
type TokenOption func(*TokenManager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) TokenOption {
	return func(m *TokenManager) { m.now = now }
}

// WithRefreshBuffer overrides DefaultRefreshBuffer.
func WithRefreshBuffer(d time.Duration) TokenOption {
	return func(m *TokenManager) { m.buffer = d }
}

// NewTokenManager creates a TokenManager.
func NewTokenManager(
	accounts store.AccountStore,
	creds *credential.Store,
	providers ExchangerSource,
	logger *slog.Logger,
	opts ...TokenOption,
) *TokenManager {
	m := &TokenManager{
		accounts:  accounts,
		creds:     creds,
		providers: providers,
		buffer:    DefaultRefreshBuffer,
		now:       time.Now,
		logger:    logger.With("component", "tokens"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EnsureValidToken returns cfg with an access token that will not expire
// within the refresh buffer. When a refresh was needed, the new token is
// persisted before EnsureValidToken returns; on any failure nothing is
// written. Kinds that do not use OAuth are returned unchanged.
func (m *TokenManager) EnsureValidToken(ctx context.Context, acc model.Account, cfg model.AccountConfig) (model.AccountConfig, error) {
	if !acc.Provider.UsesOAuth() {
		return cfg, nil
	}
	if cfg.Token.AccessToken == "" {
		return cfg, apperr.New(apperr.NotAuthorized, "account %s is not authorized", acc.ID).WithProvider(acc.Provider)
	}

	now := m.now()
	if !now.After(cfg.Token.ExpiresAt.Add(-m.buffer)) {
		return cfg, nil
	}
	if cfg.Token.RefreshToken == "" {
		return cfg, apperr.New(apperr.ReauthorizationRequired,
			"token for account %s expired, please re-authorize", acc.ID).WithProvider(acc.Provider)
	}

	ex, err := m.providers.For(acc.Provider.OAuthProvider())
	if err != nil {
		return cfg, err
	}
	grant, err := ex.Refresh(ctx, cfg.Token.RefreshToken)
	if err != nil {
		metricRefresh.WithLabelValues("error").Inc()
		m.logger.Warn("token refresh failed", "account", acc.ID, "provider", acc.Provider, "err", err)
		if apperr.IsAuth(err) {
			return cfg, err
		}
		return cfg, apperr.Wrap(apperr.RefreshFailed, err, "refreshing token for account %s", acc.ID).WithProvider(acc.Provider)
	}

	next := cfg
	next.Token = ApplyGrant(cfg.Token, grant, now)
	if err := m.persist(ctx, acc.ID, next.Token); err != nil {
		metricRefresh.WithLabelValues("error").Inc()
		return cfg, err
	}
	metricRefresh.WithLabelValues("ok").Inc()
	m.logger.Info("token refreshed", "account", acc.ID, "provider", acc.Provider, "expires_at", next.Token.ExpiresAt)
	return next, nil
}

func (m *TokenManager) persist(ctx context.Context, accountID string, token model.TokenSet) error {
	err := m.accounts.ModifyAccount(ctx, accountID, func(acc *model.Account) error {
		blob, err := m.creds.Reseal(acc.Config, func(cfg *model.AccountConfig) error {
			cfg.Token = token
			return nil
		})
		if err != nil {
			return fmt.Errorf("sealing config for account %s: %w", accountID, err)
		}
		acc.Config = blob
		return nil
	})
	if err != nil {
		return fmt.Errorf("storing refreshed token for account %s: %w", accountID, err)
	}
	return nil
}

// ApplyGrant merges g into prev. A missing refresh token keeps the prior
// one; a missing expiry means one hour from now.
func ApplyGrant(prev model.TokenSet, g Grant, now time.Time) model.TokenSet {
	next := model.TokenSet{
		AccessToken:  g.AccessToken,
		RefreshToken: g.RefreshToken,
		ExpiresAt:    g.Expiry.UTC(),
	}
	if next.RefreshToken == "" {
		next.RefreshToken = prev.RefreshToken
	}
	if g.Expiry.IsZero() {
		next.ExpiresAt = now.Add(defaultLifetime).UTC()
	}
	return next
}
