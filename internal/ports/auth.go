// Package ports declares the interfaces the auth service depends on; adapters
// under internal/adapters implement them.
package ports

import (
	"context"
	"errors"

	domainauth "github.com/target/mmk-pageshot/internal/domain/auth"
)

// ErrSessionNotFound is returned by a SessionStore for unknown or lapsed sessions.
var ErrSessionNotFound = errors.New("session not found")

// BeginInput carries inputs for initiating an auth flow.
type BeginInput struct {
	RedirectURL string
}

// LoginChallenge is the per-attempt material of an authorization-code flow.
// State, Nonce and Verifier stay with the browser until the callback.
type LoginChallenge struct {
	AuthURL  string
	State    string
	Nonce    string
	Verifier string
}

// ExchangeInput carries the callback parameters and the stored challenge.
type ExchangeInput struct {
	Code     string
	Nonce    string
	Verifier string
}

// AuthProvider runs the login flow against an identity provider.
type AuthProvider interface {
	Begin(ctx context.Context, in BeginInput) (LoginChallenge, error)
	Exchange(ctx context.Context, in ExchangeInput) (domainauth.Identity, error)
}

// SessionStore persists sessions until they expire.
type SessionStore interface {
	Save(ctx context.Context, sess domainauth.Session) error
	Get(ctx context.Context, id string) (domainauth.Session, error)
	Delete(ctx context.Context, id string) error
}

// RoleMapper maps provider groups to a role.
type RoleMapper interface {
	Map(groups []string) domainauth.Role
}
