package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	domainauth "github.com/target/mmk-pageshot/internal/domain/auth"
	"github.com/target/mmk-pageshot/internal/ports"
)

// ErrSessionExpired is returned by GetSession for sessions past their expiry.
var ErrSessionExpired = errors.New("session expired")

// AuthServiceOptions groups dependencies for AuthService.
type AuthServiceOptions struct {
	Provider ports.AuthProvider
	Sessions ports.SessionStore
	Roles    ports.RoleMapper
	// SessionTTL caps session lifetime below the IdP expiry. Zero keeps the IdP expiry.
	SessionTTL time.Duration
	Now        func() time.Time
}

// AuthService turns a completed login into a server-side session. The
// session's UserID is the owner every job is scoped to.
type AuthService struct {
	opts AuthServiceOptions
}

// NewAuthService constructs a new AuthService.
func NewAuthService(opts AuthServiceOptions) *AuthService {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	opts.SessionTTL = max(opts.SessionTTL, 0)
	return &AuthService{opts: opts}
}

// BeginLogin asks the provider for an authorization URL plus the state, nonce
// and PKCE verifier the browser must bring back to the callback.
func (s *AuthService) BeginLogin(ctx context.Context, redirectURL string) (ports.LoginChallenge, error) {
	if redirectURL == "" {
		return ports.LoginChallenge{}, errors.New("redirect URL is required")
	}
	ch, err := s.opts.Provider.Begin(ctx, ports.BeginInput{RedirectURL: redirectURL})
	if err != nil {
		return ports.LoginChallenge{}, fmt.Errorf("begin auth flow: %w", err)
	}
	return ch, nil
}

// LoginCallback is what the callback request carries: the authorization
// code plus the nonce and verifier stored when the login began.
type LoginCallback struct {
	Code     string
	Nonce    string
	Verifier string
}

func (cb LoginCallback) validate() error {
	switch {
	case cb.Code == "":
		return errors.New("authorization code is required")
	case cb.Nonce == "":
		return errors.New("nonce parameter is required")
	case cb.Verifier == "":
		return errors.New("code verifier is required")
	}
	return nil
}

// CompleteLogin exchanges the code for an identity and persists a session
// carrying the role mapped from the identity's groups.
func (s *AuthService) CompleteLogin(ctx context.Context, cb LoginCallback) (domainauth.Session, error) {
	if err := cb.validate(); err != nil {
		return domainauth.Session{}, err
	}
	identity, err := s.opts.Provider.Exchange(ctx, ports.ExchangeInput(cb))
	if err != nil {
		return domainauth.Session{}, fmt.Errorf("exchange authorization code: %w", err)
	}

	session := s.newSession(identity)
	if err := s.opts.Sessions.Save(ctx, session); err != nil {
		return domainauth.Session{}, fmt.Errorf("save session: %w", err)
	}
	return session, nil
}

func (s *AuthService) newSession(id domainauth.Identity) domainauth.Session {
	now := s.opts.Now()
	expires := id.ExpiresAt
	if ttl := s.opts.SessionTTL; ttl > 0 {
		if capped := now.Add(ttl); expires.IsZero() || capped.Before(expires) {
			expires = capped
		}
	}
	return domainauth.Session{
		ID:        uuid.NewString(),
		UserID:    id.UserID,
		Name:      id.Name,
		Email:     id.Email,
		Role:      s.opts.Roles.Map(id.Groups),
		CreatedAt: now,
		ExpiresAt: expires,
	}
}

// GetSession retrieves a live session by ID. Expired sessions are deleted
// and reported as ErrSessionExpired.
func (s *AuthService) GetSession(ctx context.Context, sessionID string) (*domainauth.Session, error) {
	if sessionID == "" {
		return nil, ports.ErrSessionNotFound
	}
	session, err := s.opts.Sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if !session.Expired(s.opts.Now()) {
		return &session, nil
	}
	if err := s.opts.Sessions.Delete(ctx, sessionID); err != nil {
		return nil, errors.Join(ErrSessionExpired, fmt.Errorf("delete session: %w", err))
	}
	return nil, ErrSessionExpired
}

// Logout removes a session. An empty id is a no-op.
func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := s.opts.Sessions.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
