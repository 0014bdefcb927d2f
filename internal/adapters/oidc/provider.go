// Package oidc implements the login flow against an OpenID Connect issuer using
// the authorization-code grant with PKCE.
package oidc

import (
	"cmp"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	domainauth "github.com/target/mmk-pageshot/internal/domain/auth"
	"github.com/target/mmk-pageshot/internal/ports"
	"golang.org/x/oauth2"
)

const wellKnownSuffix = "/.well-known/openid-configuration"

var (
	// ErrNonceMismatch is returned when the ID token was not minted for this login attempt.
	ErrNonceMismatch = errors.New("id_token nonce mismatch")
	// ErrMissingIDToken is returned when the token response carries no id_token.
	ErrMissingIDToken = errors.New("missing id_token in token response")
)

// ProviderConfig holds configuration for the OIDC provider.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// IssuerURL may carry the /.well-known/openid-configuration suffix.
	IssuerURL string
	Scopes    []string
	// UserIDClaim defaults to "sub"; GroupsClaim defaults to "groups".
	UserIDClaim string
	GroupsClaim string
	HTTPClient  *http.Client
}

func (c ProviderConfig) validate() error {
	switch {
	case c.ClientID == "":
		return errors.New("client ID is required")
	case c.ClientSecret == "":
		return errors.New("client secret is required")
	case c.RedirectURL == "":
		return errors.New("redirect URL is required")
	case c.IssuerURL == "":
		return errors.New("issuer URL is required")
	}
	return nil
}

// Provider implements ports.AuthProvider.
type Provider struct {
	oauth       *oauth2.Config
	issuer      *gooidc.Provider
	verifier    *gooidc.IDTokenVerifier
	httpClient  *http.Client
	userIDClaim string
	groupsClaim string
}

var _ ports.AuthProvider = (*Provider)(nil)

// NewProvider fetches the issuer's discovery document and builds the client.
func NewProvider(ctx context.Context, cfg ProviderConfig) (*Provider, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	issuerURL := strings.TrimSuffix(strings.TrimSuffix(cfg.IssuerURL, "/"), wellKnownSuffix)
	issuer, err := gooidc.NewProvider(gooidc.ClientContext(ctx, client), issuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery %s: %w", issuerURL, err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{gooidc.ScopeOpenID, "profile", "email"}
	}

	return &Provider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     issuer.Endpoint(),
		},
		issuer:      issuer,
		verifier:    issuer.Verifier(&gooidc.Config{ClientID: cfg.ClientID}),
		httpClient:  client,
		userIDClaim: cmp.Or(cfg.UserIDClaim, "sub"),
		groupsClaim: cmp.Or(cfg.GroupsClaim, "groups"),
	}, nil
}

// Begin builds the authorization URL for a fresh state, nonce and PKCE verifier.
func (p *Provider) Begin(_ context.Context, in ports.BeginInput) (ports.LoginChallenge, error) {
	if in.RedirectURL == "" {
		return ports.LoginChallenge{}, errors.New("redirect URL is required")
	}
	ch := ports.LoginChallenge{
		State:    rand.Text(),
		Nonce:    rand.Text(),
		Verifier: oauth2.GenerateVerifier(),
	}
	ch.AuthURL = p.oauth.AuthCodeURL(ch.State,
		gooidc.Nonce(ch.Nonce),
		oauth2.S256ChallengeOption(ch.Verifier),
		oauth2.SetAuthURLParam("prompt", "select_account"),
	)
	return ch, nil
}

// Exchange redeems the code, verifies the ID token and maps its claims.
// Claims missing from the ID token are looked up on the userinfo endpoint.
func (p *Provider) Exchange(ctx context.Context, in ports.ExchangeInput) (domainauth.Identity, error) {
	switch {
	case in.Code == "":
		return domainauth.Identity{}, errors.New("authorization code is required")
	case in.Nonce == "":
		return domainauth.Identity{}, errors.New("nonce is required")
	case in.Verifier == "":
		return domainauth.Identity{}, errors.New("code verifier is required")
	}
	ctx = gooidc.ClientContext(ctx, p.httpClient)

	tok, err := p.oauth.Exchange(ctx, in.Code, oauth2.VerifierOption(in.Verifier))
	if err != nil {
		return domainauth.Identity{}, fmt.Errorf("exchange code: %w", err)
	}
	rawID, ok := tok.Extra("id_token").(string)
	if !ok || rawID == "" {
		return domainauth.Identity{}, ErrMissingIDToken
	}
	idTok, err := p.verifier.Verify(ctx, rawID)
	if err != nil {
		return domainauth.Identity{}, fmt.Errorf("verify id_token: %w", err)
	}
	if idTok.Nonce != in.Nonce {
		return domainauth.Identity{}, ErrNonceMismatch
	}

	c := claims{}
	if err := idTok.Claims(&c); err != nil {
		return domainauth.Identity{}, fmt.Errorf("decode id_token claims: %w", err)
	}
	if p.needsUserInfo(c) {
		if err := p.mergeUserInfo(ctx, tok, c); err != nil {
			return domainauth.Identity{}, err
		}
	}

	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = idTok.Expiry
	}
	id := p.identity(c, expiry)
	if id.UserID == "" {
		return domainauth.Identity{}, fmt.Errorf("claim %q is empty", p.userIDClaim)
	}
	return id, nil
}

func (p *Provider) needsUserInfo(c claims) bool {
	if p.issuer.UserInfoEndpoint() == "" {
		return false
	}
	return c.str(p.userIDClaim) == "" || c.email() == "" || len(c.list(p.groupsClaim)) == 0
}

func (p *Provider) mergeUserInfo(ctx context.Context, tok *oauth2.Token, c claims) error {
	ui, err := p.issuer.UserInfo(ctx, oauth2.StaticTokenSource(tok))
	if err != nil {
		return fmt.Errorf("fetch userinfo: %w", err)
	}
	extra := claims{}
	if err := ui.Claims(&extra); err != nil {
		return fmt.Errorf("decode userinfo: %w", err)
	}
	for k, v := range extra {
		if _, ok := c[k]; !ok {
			c[k] = v
		}
	}
	return nil
}

func (p *Provider) identity(c claims, expiry time.Time) domainauth.Identity {
	return domainauth.Identity{
		UserID:    c.str(p.userIDClaim),
		Name:      c.name(),
		Email:     c.email(),
		Groups:    c.list(p.groupsClaim),
		ExpiresAt: expiry,
	}
}

// claims is a decoded ID token or userinfo payload.
type claims map[string]any

func (c claims) str(name string) string {
	switch v := c[name].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}

// list accepts a JSON array of strings or a single string.
func (c claims) list(name string) []string {
	var out []string
	switch v := c[name].(type) {
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	case string:
		if s := strings.TrimSpace(v); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c claims) email() string {
	return cmp.Or(c.str("email"), c.str("mail"))
}

func (c claims) name() string {
	if n := c.str("name"); n != "" {
		return n
	}
	given := cmp.Or(c.str("given_name"), c.str("firstname"))
	family := cmp.Or(c.str("family_name"), c.str("lastname"))
	return strings.TrimSpace(given + " " + family)
}
