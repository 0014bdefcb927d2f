// Package devauth signs every login in as one configured identity. It exists
// for local development with AUTH_MODE=mock.
package devauth

import (
	"context"
	"crypto/rand"
	"errors"
	"net/url"
	"time"

	domainauth "github.com/target/mmk-pageshot/internal/domain/auth"
	"github.com/target/mmk-pageshot/internal/ports"
)

const defaultSessionDuration = 8 * time.Hour

// Config is the identity handed out by Exchange.
type Config struct {
	UserID          string
	Name            string
	Email           string
	Groups          []string
	CallbackPath    string        // defaults to /auth/callback
	SessionDuration time.Duration // defaults to 8h
	Now             func() time.Time
}

// Provider implements ports.AuthProvider without an identity provider: Begin
// points the browser straight at our own callback.
type Provider struct {
	cfg Config
}

var _ ports.AuthProvider = (*Provider)(nil)

// NewProvider validates cfg and fills defaults.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.UserID == "" {
		return nil, errors.New("dev auth: UserID is required")
	}
	if cfg.Email == "" {
		return nil, errors.New("dev auth: Email is required")
	}
	if cfg.CallbackPath == "" {
		cfg.CallbackPath = "/auth/callback"
	}
	if cfg.SessionDuration <= 0 {
		cfg.SessionDuration = defaultSessionDuration
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.Groups = append([]string(nil), cfg.Groups...)
	return &Provider{cfg: cfg}, nil
}

func (p *Provider) Begin(_ context.Context, _ ports.BeginInput) (ports.LoginChallenge, error) {
	ch := ports.LoginChallenge{State: rand.Text(), Nonce: rand.Text(), Verifier: rand.Text()}
	q := url.Values{"code": {"dev"}, "state": {ch.State}}
	ch.AuthURL = p.cfg.CallbackPath + "?" + q.Encode()
	return ch, nil
}

// Exchange returns the configured identity with a fresh expiry.
func (p *Provider) Exchange(_ context.Context, in ports.ExchangeInput) (domainauth.Identity, error) {
	if in.Code == "" {
		return domainauth.Identity{}, errors.New("authorization code is required")
	}
	return domainauth.Identity{
		UserID:    p.cfg.UserID,
		Name:      p.cfg.Name,
		Email:     p.cfg.Email,
		Groups:    append([]string(nil), p.cfg.Groups...),
		ExpiresAt: p.cfg.Now().Add(p.cfg.SessionDuration),
	}, nil
}
