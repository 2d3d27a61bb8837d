package oauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailboard/internal/apperr"
	"github.com/nhle/mailboard/internal/model"
	"github.com/nhle/mailboard/internal/testutil"
)

func newFlowFixture(t *testing.T) (*Flow, *fakeExchanger, *tokenFixture) {
	t.Helper()
	f := newTokenFixture(t)
	ex := &fakeExchanger{grant: Grant{AccessToken: "at", RefreshToken: "rt", Expiry: f.now.Add(time.Hour)}}
	states := NewMemoryStateRegistry(time.Minute, discard)
	flow := NewFlow(f.store, f.creds, states, Providers{Google: ex, TickTick: ex}, discard)
	flow.now = func() time.Time { return f.now }
	return flow, ex, f
}

func stateFrom(t *testing.T, authURL string) string {
	t.Helper()
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	state := u.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

func TestFlowStoresTokens(t *testing.T) {
	ctx := context.Background()
	flow, ex, f := newFlowFixture(t)
	f.seed(t, model.TokenSet{})

	authURL, err := flow.AuthorizeURL(ctx, Google, "acc_1")
	require.NoError(t, err)

	id, err := flow.Complete(ctx, Google, stateFrom(t, authURL), "code-123")
	require.NoError(t, err)
	assert.Equal(t, "acc_1", id)
	assert.Equal(t, []string{"code-123"}, ex.codes)

	stored := f.stored(t)
	assert.Equal(t, "at", stored.Token.AccessToken)
	assert.Equal(t, "rt", stored.Token.RefreshToken)
	assert.True(t, stored.Token.ExpiresAt.Equal(f.now.Add(time.Hour)))
}

func TestFlowRejectsReplayedState(t *testing.T) {
	ctx := context.Background()
	flow, ex, f := newFlowFixture(t)
	f.seed(t, model.TokenSet{})

	authURL, err := flow.AuthorizeURL(ctx, Google, "acc_1")
	require.NoError(t, err)
	state := stateFrom(t, authURL)

	_, err = flow.Complete(ctx, Google, state, "code")
	require.NoError(t, err)
	_, err = flow.Complete(ctx, Google, state, "code")
	assert.True(t, apperr.Is(err, apperr.InvalidOAuthState))
	assert.Len(t, ex.codes, 1)
}

func TestFlowRejectsStateFromOtherRoute(t *testing.T) {
	ctx := context.Background()
	flow, ex, f := newFlowFixture(t)
	f.seed(t, model.TokenSet{})

	authURL, err := flow.AuthorizeURL(ctx, Google, "acc_1")
	require.NoError(t, err)

	_, err = flow.Complete(ctx, TickTick, stateFrom(t, authURL), "code")
	assert.True(t, apperr.Is(err, apperr.InvalidOAuthState))
	assert.Empty(t, ex.codes)
	assert.False(t, f.stored(t).HasToken())
}

func TestFlowAuthorizeChecksAccount(t *testing.T) {
	ctx := context.Background()
	flow, _, f := newFlowFixture(t)
	f.seed(t, model.TokenSet{})

	_, err := flow.AuthorizeURL(ctx, Google, "acc_missing")
	assert.True(t, apperr.Is(err, apperr.NotFound))

	_, err = flow.AuthorizeURL(ctx, TickTick, "acc_1")
	assert.True(t, apperr.Is(err, apperr.Invalid))

	_, err = flow.AuthorizeURL(ctx, Microsoft, "acc_1")
	assert.True(t, apperr.Is(err, apperr.UnknownProvider))
}

func TestFlowUnknownStateMutatesNothing(t *testing.T) {
	ctx := context.Background()
	flow, ex, f := newFlowFixture(t)
	testutil.SeedAccount(t, f.store, f.creds, "acc_2", model.NewAccountConfig(model.ProviderTaskService))

	_, err := flow.Complete(ctx, TickTick, "forged", "code")
	assert.True(t, apperr.Is(err, apperr.InvalidOAuthState))
	assert.Empty(t, ex.codes)
}

func TestProviderAgainstTokenEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client", r.PostForm.Get("client_id"))
		assert.Equal(t, "secret", r.PostForm.Get("client_secret"))

		w.Header().Set("Content-Type", "application/json")
		switch r.PostForm.Get("grant_type") {
		case "authorization_code":
			assert.Equal(t, "http://localhost:8000/auth/callback/google", r.PostForm.Get("redirect_uri"))
			_, _ = w.Write([]byte(`{"access_token":"at","refresh_token":"rt","token_type":"Bearer","expires_in":3600}`))
		case "refresh_token":
			if r.PostForm.Get("refresh_token") == "revoked" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
				return
			}
			_, _ = w.Write([]byte(`{"access_token":"at2","token_type":"Bearer","expires_in":3600}`))
		}
	}))
	t.Cleanup(srv.Close)

	p, err := NewProvider(Google, model.OAuthClient{ClientID: "client", ClientSecret: "secret"},
		"http://localhost:8000/", WithTokenURL(srv.URL))
	require.NoError(t, err)

	authURL, err := url.Parse(p.AuthCodeURL("st"))
	require.NoError(t, err)
	q := authURL.Query()
	assert.Equal(t, "st", q.Get("state"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))

	ctx := context.Background()
	g, err := p.Exchange(ctx, "code")
	require.NoError(t, err)
	assert.Equal(t, "at", g.AccessToken)
	assert.Equal(t, "rt", g.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), g.Expiry, time.Minute)

	g, err = p.Refresh(ctx, "rt")
	require.NoError(t, err)
	assert.Equal(t, "at2", g.AccessToken)

	_, err = p.Refresh(ctx, "revoked")
	assert.True(t, apperr.Is(err, apperr.ReauthorizationRequired))
}

func TestNewProvidersSkipsUnconfigured(t *testing.T) {
	ps, err := NewProviders(model.ProvidersSection{
		TickTick: model.OAuthClient{ClientID: "id", ClientSecret: "secret"},
		Google:   model.OAuthClient{ClientID: "id"},
	}, "http://localhost:8000")
	require.NoError(t, err)

	_, err = ps.For(TickTick)
	assert.NoError(t, err)
	_, err = ps.For(Google)
	assert.True(t, apperr.Is(err, apperr.UnknownProvider))

	_, err = NewProvider("dropbox", model.OAuthClient{}, "")
	assert.True(t, apperr.Is(err, apperr.UnknownProvider))
}
