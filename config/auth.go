package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// AuthMode selects the login provider.
type AuthMode string

const (
	// AuthModeOAuth logs users in against an OIDC issuer.
	AuthModeOAuth AuthMode = "oauth"
	// AuthModeMock signs every login in as the DEV_AUTH_* identity.
	AuthModeMock AuthMode = "mock"
)

func (a *AuthMode) UnmarshalText(text []byte) error {
	switch m := AuthMode(strings.ToLower(strings.TrimSpace(string(text)))); m {
	case AuthModeOAuth, AuthModeMock:
		*a = m
		return nil
	default:
		return fmt.Errorf("invalid AUTH_MODE %q (valid options: oauth, mock)", m)
	}
}

// AuthConfig is the login and session configuration. Group lists are
// semicolon separated since LDAP DNs contain commas.
type AuthConfig struct {
	Mode       AuthMode      `env:"AUTH_MODE"   envDefault:"oauth"`
	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"8h"`

	OAuth   OAuthConfig   `envPrefix:"OAUTH_"`
	DevAuth DevAuthConfig `envPrefix:"DEV_AUTH_"`

	// Matched case-insensitively against a group's full name or its CN.
	AdminGroups []string `env:"ADMIN_GROUPS" envDefault:"admins" envSeparator:";"`
	UserGroups  []string `env:"USER_GROUPS"  envDefault:"users"  envSeparator:";"`
}

// OAuthConfig is the OIDC client registration.
type OAuthConfig struct {
	// IssuerURL may be the issuer or its .well-known/openid-configuration URL.
	IssuerURL    string   `env:"ISSUER_URL"`
	ClientID     string   `env:"CLIENT_ID"`
	ClientSecret string   `env:"CLIENT_SECRET"`
	RedirectURL  string   `env:"REDIRECT_URL"  envDefault:"http://localhost:8080/auth/callback"`
	Scopes       []string `env:"SCOPES"        envDefault:"openid profile email" envSeparator:" "`
	// UserIDClaim becomes the session user id and therefore the job owner.
	UserIDClaim string `env:"USER_ID_CLAIM" envDefault:"sub"`
	GroupsClaim string `env:"GROUPS_CLAIM"  envDefault:"groups"`
}

// Configured reports whether issuer and client credentials are all set.
func (c OAuthConfig) Configured() bool {
	return c.IssuerURL != "" && c.ClientID != "" && c.ClientSecret != ""
}

// DevAuthConfig is the fixed mock-mode identity.
type DevAuthConfig struct {
	UserID string   `env:"USER_ID" envDefault:"dev-user"`
	Name   string   `env:"NAME"    envDefault:"Dev User"`
	Email  string   `env:"EMAIL"   envDefault:"dev@example.com"`
	Groups []string `env:"GROUPS"  envDefault:"admins"          envSeparator:";"`
}

// Validate rejects a non-positive session TTL and a half-filled OAuth client.
// A fully empty OAuth client is allowed; auth routes are then not mounted.
func (c AuthConfig) Validate() error {
	if c.SessionTTL <= 0 {
		return errors.New("SESSION_TTL must be positive")
	}
	if c.Mode != AuthModeOAuth || c.OAuth.Configured() {
		return nil
	}
	var missing []string
	for name, v := range map[string]string{
		"OAUTH_ISSUER_URL":    c.OAuth.IssuerURL,
		"OAUTH_CLIENT_ID":     c.OAuth.ClientID,
		"OAUTH_CLIENT_SECRET": c.OAuth.ClientSecret,
	} {
		if v == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 3 {
		return nil
	}
	slices.Sort(missing)
	return fmt.Errorf("incomplete OAuth client: missing %s", strings.Join(missing, ", "))
}
