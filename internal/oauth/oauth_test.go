package oauth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailboard/internal/apperr"
	"github.com/nhle/mailboard/internal/credential"
	"github.com/nhle/mailboard/internal/model"
	"github.com/nhle/mailboard/internal/store"
	"github.com/nhle/mailboard/internal/testutil"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeExchanger records calls and returns canned results.
type fakeExchanger struct {
	mu       sync.Mutex
	grant    Grant
	err      error
	refreshs []string
	codes    []string
}

func (f *fakeExchanger) AuthCodeURL(state string) string {
	return "https://auth.example.com/authorize?state=" + url.QueryEscape(state)
}

func (f *fakeExchanger) Exchange(_ context.Context, code string) (Grant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes = append(f.codes, code)
	return f.grant, f.err
}

func (f *fakeExchanger) Refresh(_ context.Context, refreshToken string) (Grant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshs = append(f.refreshs, refreshToken)
	return f.grant, f.err
}

func (f *fakeExchanger) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.refreshs)
}

type tokenFixture struct {
	store *store.SQLiteStore
	creds *credential.Store
	ex    *fakeExchanger
	mgr   *TokenManager
	now   time.Time
}

func newTokenFixture(t *testing.T) *tokenFixture {
	t.Helper()
	f := &tokenFixture{
		store: testutil.NewTestStore(t),
		creds: testutil.NewTestCredentials(t),
		ex:    &fakeExchanger{},
		now:   time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC),
	}
	f.mgr = NewTokenManager(f.store, f.creds, Providers{Google: f.ex}, discard,
		WithClock(func() time.Time { return f.now }))
	return f
}

func (f *tokenFixture) seed(t *testing.T, tok model.TokenSet) (model.Account, model.AccountConfig) {
	t.Helper()
	cfg := model.NewAccountConfig(model.ProviderGmail)
	cfg.Token = tok
	return testutil.SeedAccount(t, f.store, f.creds, "acc_1", cfg), cfg
}

func (f *tokenFixture) stored(t *testing.T) model.AccountConfig {
	t.Helper()
	acc, err := f.store.GetAccount(context.Background(), "acc_1")
	require.NoError(t, err)
	cfg, err := f.creds.Open(acc.Config)
	require.NoError(t, err)
	return cfg
}

func TestEnsureValidTokenRefreshBoundary(t *testing.T) {
	tests := []struct {
		name        string
		expiresIn   time.Duration
		wantRefresh bool
	}{
		{"expires in 200s", 200 * time.Second, true},
		{"expires in 400s", 400 * time.Second, false},
		{"already expired", -time.Minute, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTokenFixture(t)
			f.ex.grant = Grant{AccessToken: "fresh", Expiry: f.now.Add(time.Hour)}
			acc, cfg := f.seed(t, model.TokenSet{
				AccessToken:  "old",
				RefreshToken: "rt",
				ExpiresAt:    f.now.Add(tt.expiresIn),
			})

			got, err := f.mgr.EnsureValidToken(context.Background(), acc, cfg)
			require.NoError(t, err)
			if tt.wantRefresh {
				assert.Equal(t, 1, f.ex.refreshCount())
				assert.Equal(t, "fresh", got.Token.AccessToken)
			} else {
				assert.Equal(t, 0, f.ex.refreshCount())
				assert.Equal(t, "old", got.Token.AccessToken)
			}
		})
	}
}

func TestRefreshKeepsSettingsStoredSinceRead(t *testing.T) {
	ctx := context.Background()
	f := newTokenFixture(t)
	f.ex.grant = Grant{AccessToken: "fresh", Expiry: f.now.Add(time.Hour)}
	acc, cfg := f.seed(t, model.TokenSet{AccessToken: "old", RefreshToken: "rt", ExpiresAt: f.now})

	// The account is edited after the caller read its configuration.
	require.NoError(t, f.store.ModifyAccount(ctx, acc.ID, func(a *model.Account) error {
		blob, err := f.creds.Reseal(a.Config, func(c *model.AccountConfig) error {
			c.Gmail.AccountNumber = 2
			return nil
		})
		a.Config = blob
		return err
	}))

	_, err := f.mgr.EnsureValidToken(ctx, acc, cfg)
	require.NoError(t, err)

	stored := f.stored(t)
	assert.Equal(t, "fresh", stored.Token.AccessToken)
	assert.Equal(t, 2, stored.Gmail.AccountNumber)
}

func TestEnsureValidTokenPersistsBeforeReturning(t *testing.T) {
	f := newTokenFixture(t)
	f.ex.grant = Grant{AccessToken: "fresh"}
	acc, cfg := f.seed(t, model.TokenSet{AccessToken: "old", RefreshToken: "rt", ExpiresAt: f.now})

	got, err := f.mgr.EnsureValidToken(context.Background(), acc, cfg)
	require.NoError(t, err)
	assert.Equal(t, "rt", got.Token.RefreshToken, "omitted refresh token keeps the previous one")
	assert.True(t, got.Token.ExpiresAt.Equal(f.now.Add(time.Hour)), "missing expiry defaults to one hour")

	stored := f.stored(t)
	assert.Equal(t, "fresh", stored.Token.AccessToken)
	assert.Equal(t, "rt", stored.Token.RefreshToken)
	assert.True(t, stored.Token.ExpiresAt.Equal(got.Token.ExpiresAt))
}

func TestEnsureValidTokenRotatesRefreshToken(t *testing.T) {
	f := newTokenFixture(t)
	f.ex.grant = Grant{AccessToken: "fresh", RefreshToken: "rt2", Expiry: f.now.Add(time.Hour)}
	acc, cfg := f.seed(t, model.TokenSet{AccessToken: "old", RefreshToken: "rt"})

	got, err := f.mgr.EnsureValidToken(context.Background(), acc, cfg)
	require.NoError(t, err)
	assert.Equal(t, "rt2", got.Token.RefreshToken)
	assert.Equal(t, []string{"rt"}, f.ex.refreshs)
	assert.Equal(t, "rt2", f.stored(t).Token.RefreshToken)
}

func TestEnsureValidTokenErrors(t *testing.T) {
	t.Run("no access token", func(t *testing.T) {
		f := newTokenFixture(t)
		acc, cfg := f.seed(t, model.TokenSet{})
		_, err := f.mgr.EnsureValidToken(context.Background(), acc, cfg)
		assert.True(t, apperr.Is(err, apperr.NotAuthorized))
	})

	t.Run("no refresh token", func(t *testing.T) {
		f := newTokenFixture(t)
		acc, cfg := f.seed(t, model.TokenSet{AccessToken: "old", ExpiresAt: f.now.Add(-time.Hour)})
		_, err := f.mgr.EnsureValidToken(context.Background(), acc, cfg)
		assert.True(t, apperr.Is(err, apperr.ReauthorizationRequired))
		assert.Equal(t, 0, f.ex.refreshCount())
	})

	t.Run("refresh fails", func(t *testing.T) {
		f := newTokenFixture(t)
		f.ex.err = errors.New("connection reset")
		acc, cfg := f.seed(t, model.TokenSet{AccessToken: "old", RefreshToken: "rt", ExpiresAt: f.now})
		_, err := f.mgr.EnsureValidToken(context.Background(), acc, cfg)
		assert.True(t, apperr.Is(err, apperr.RefreshFailed))
		assert.Equal(t, "old", f.stored(t).Token.AccessToken, "nothing is persisted on failure")
	})

	t.Run("refresh token rejected", func(t *testing.T) {
		f := newTokenFixture(t)
		f.ex.err = apperr.New(apperr.ReauthorizationRequired, "invalid_grant")
		acc, cfg := f.seed(t, model.TokenSet{AccessToken: "old", RefreshToken: "rt", ExpiresAt: f.now})
		_, err := f.mgr.EnsureValidToken(context.Background(), acc, cfg)
		assert.True(t, apperr.Is(err, apperr.ReauthorizationRequired))
	})
}

func TestEnsureValidTokenSkipsAppPasswordAccounts(t *testing.T) {
	f := newTokenFixture(t)
	cfg := model.AccountConfig{
		Kind: model.ProviderIMAPICloud,
		IMAP: &model.IMAPSettings{Username: "me@icloud.com", AppPassword: "pw"},
	}
	acc := testutil.SeedAccount(t, f.store, f.creds, "acc_ic", cfg)

	got, err := f.mgr.EnsureValidToken(context.Background(), acc, cfg)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
	assert.Equal(t, 0, f.ex.refreshCount())
}

func TestApplyGrant(t *testing.T) {
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	prev := model.TokenSet{AccessToken: "a", RefreshToken: "r", ExpiresAt: now}

	got := ApplyGrant(prev, Grant{AccessToken: "b", Expiry: now.Add(30 * time.Minute)}, now)
	assert.Equal(t, model.TokenSet{AccessToken: "b", RefreshToken: "r", ExpiresAt: now.Add(30 * time.Minute)}, got)
}
