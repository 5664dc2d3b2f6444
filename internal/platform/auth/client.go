package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// HTTPClient returns a client that authenticates every request according to
// cfg. For oidc it discovers the issuer and fetches the first token up front,
// so a bad issuer or rejected client credentials fail here rather than on the
// first tracking call.
func HTTPClient(ctx context.Context, cfg Config, base *http.Client) (*http.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if base == nil {
		base = &http.Client{}
	}

	switch cfg.Mode {
	case ModeNone:
		return base, nil
	case ModeToken:
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"})
		return oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, base), src), nil
	case ModeBasic:
		return &http.Client{
			Transport: &basicAuthTransport{username: cfg.Username, password: cfg.Password, next: transportOf(base)},
			Timeout:   base.Timeout,
		}, nil
	case ModeOIDC:
		return oidcClient(ctx, cfg, base)
	default:
		return nil, fmt.Errorf("auth mode unsupported: %q", cfg.Mode)
	}
}

func oidcClient(ctx context.Context, cfg Config, base *http.Client) (*http.Client, error) {
	ctx = oidc.ClientContext(ctx, base)
	provider, err := oidc.NewProvider(ctx, cfg.OIDCIssuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}
	tokenURL := provider.Endpoint().TokenURL
	if tokenURL == "" {
		return nil, errors.New("oidc provider has no token endpoint")
	}

	cc := clientcredentials.Config{
		ClientID:     cfg.OIDCClientID,
		ClientSecret: cfg.OIDCClientSecret,
		TokenURL:     tokenURL,
		Scopes:       cfg.OIDCScopes,
	}
	tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, base)
	src := oauth2.ReuseTokenSource(nil, cc.TokenSource(tokenCtx))
	if _, err := src.Token(); err != nil {
		return nil, fmt.Errorf("oidc client credentials: %w", err)
	}
	return oauth2.NewClient(tokenCtx, src), nil
}

type basicAuthTransport struct {
	username string
	password string
	next     http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.SetBasicAuth(t.username, t.password)
	return t.next.RoundTrip(clone)
}

func transportOf(c *http.Client) http.RoundTripper {
	if c != nil && c.Transport != nil {
		return c.Transport
	}
	return http.DefaultTransport
}
