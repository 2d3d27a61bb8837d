// Package oauth owns everything about OAuth credentials: the per-provider
// client configuration, the authorization handshake, and keeping stored
// access tokens fresh.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
	"golang.org/x/oauth2/microsoft"

	"github.com/nhle/mailboard/internal/apperr"
	"github.com/nhle/mailboard/internal/model"
)

// Route names used in /auth/authorize/{provider} and /auth/callback/{provider}.
const (
	Microsoft = "microsoft"
	Google    = "google"
	TickTick  = "ticktick"
	Yahoo     = "yahoo"
)

// Routes lists every authorization route.
var Routes = []string{Microsoft, Google, TickTick, Yahoo}

// Grant is the result of a code exchange or refresh.
type Grant struct {
	AccessToken string
	// RefreshToken is empty when the provider did not issue a new one.
	RefreshToken string
	// Expiry is zero when the provider did not report a lifetime.
	Expiry time.Time
}

// Exchanger talks to one provider's authorization server.
type Exchanger interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (Grant, error)
	Refresh(ctx context.Context, refreshToken string) (Grant, error)
}

// Provider is an Exchanger backed by an oauth2.Config.
type Provider struct {
	name       string
	conf       *oauth2.Config
	authOpts   []oauth2.AuthCodeOption
	httpClient *http.Client
}

var tickTickEndpoint = oauth2.Endpoint{
	AuthURL:   "https://ticktick.com/oauth/authorize",
	TokenURL:  "https://ticktick.com/oauth/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

// NewProvider builds the client for route name. baseURL is this service's
// external address; the redirect URI is {baseURL}/auth/callback/{name}.
func NewProvider(name string, client model.OAuthClient, baseURL string, opts ...ProviderOption) (*Provider, error) {
	p := &Provider{
		name: name,
		conf: &oauth2.Config{
			ClientID:     client.ClientID,
			ClientSecret: client.ClientSecret,
			RedirectURL:  strings.TrimRight(baseURL, "/") + "/auth/callback/" + name,
		},
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}

	switch name {
	case Microsoft:
		p.conf.Endpoint = microsoft.AzureADEndpoint("organizations")
		p.conf.Scopes = []string{
			"https://graph.microsoft.com/Mail.Read",
			"https://graph.microsoft.com/Mail.ReadWrite",
			"https://graph.microsoft.com/Mail.Read.Shared",
			"https://graph.microsoft.com/Mail.ReadWrite.Shared",
			"offline_access",
		}
	case Google:
		p.conf.Endpoint = endpoints.Google
		p.conf.Scopes = []string{"https://www.googleapis.com/auth/gmail.modify"}
		p.authOpts = []oauth2.AuthCodeOption{oauth2.AccessTypeOffline, oauth2.ApprovalForce}
	case TickTick:
		p.conf.Endpoint = tickTickEndpoint
		p.conf.Scopes = []string{"tasks:read", "tasks:write"}
	case Yahoo:
		p.conf.Endpoint = endpoints.Yahoo
		p.conf.Scopes = []string{"mail-r"}
	default:
		return nil, apperr.New(apperr.UnknownProvider, "unknown oauth provider %q", name)
	}
	p.conf.Endpoint.AuthStyle = oauth2.AuthStyleInParams
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// ProviderOption customizes a Provider.
type ProviderOption func(*Provider)

// WithTokenURL points token calls at url. Used against fake servers.
func WithTokenURL(url string) ProviderOption {
	return func(p *Provider) { p.conf.Endpoint.TokenURL = url }
}

// WithProviderHTTPClient replaces the 30s-timeout HTTP client.
func WithProviderHTTPClient(hc *http.Client) ProviderOption {
	return func(p *Provider) { p.httpClient = hc }
}

// Name returns the route name.
func (p *Provider) Name() string { return p.name }

// AuthCodeURL returns the consent page URL carrying state.
func (p *Provider) AuthCodeURL(state string) string {
	return p.conf.AuthCodeURL(state, p.authOpts...)
}

// Exchange trades an authorization code for tokens.
func (p *Provider) Exchange(ctx context.Context, code string) (Grant, error) {
	tok, err := p.conf.Exchange(p.context(ctx), code)
	if err != nil {
		return Grant{}, fmt.Errorf("exchanging %s authorization code: %w", p.name, err)
	}
	return grantFrom(tok), nil
}

// Refresh obtains a new access token. A refresh token rejected by the
// provider (invalid_grant) is reported as ReauthorizationRequired.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (Grant, error) {
	src := p.conf.TokenSource(p.context(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.ErrorCode == "invalid_grant" {
			return Grant{}, apperr.Wrap(apperr.ReauthorizationRequired, err, "%s refresh token rejected", p.name)
		}
		return Grant{}, fmt.Errorf("refreshing %s token: %w", p.name, err)
	}
	return grantFrom(tok), nil
}

func (p *Provider) context(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

func grantFrom(tok *oauth2.Token) Grant {
	return Grant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
}

// Providers indexes configured providers by route name.
type Providers map[string]Exchanger

// NewProviders builds a Provider for every route whose client credential is
// configured.
func NewProviders(cfg model.ProvidersSection, baseURL string) (Providers, error) {
	clients := map[string]model.OAuthClient{
		Microsoft: cfg.Microsoft,
		Google:    cfg.Google,
		TickTick:  cfg.TickTick,
		Yahoo:     cfg.Yahoo,
	}
	ps := make(Providers, len(clients))
	for name, client := range clients {
		if !client.Configured() {
			continue
		}
		p, err := NewProvider(name, client, baseURL)
		if err != nil {
			return nil, err
		}
		ps[name] = p
	}
	return ps, nil
}

// For returns the exchanger for route name.
func (ps Providers) For(name string) (Exchanger, error) {
	ex, ok := ps[name]
	if !ok {
		return nil, apperr.New(apperr.UnknownProvider, "oauth provider %q is not configured", name)
	}
	return ex, nil
}
