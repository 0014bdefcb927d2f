package bootstrap

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/target/mmk-pageshot/config"
	"github.com/target/mmk-pageshot/internal/adapters/authroles"
	"github.com/target/mmk-pageshot/internal/adapters/devauth"
	"github.com/target/mmk-pageshot/internal/adapters/oidc"
	redisadapter "github.com/target/mmk-pageshot/internal/adapters/redis"
	"github.com/target/mmk-pageshot/internal/ports"
	"github.com/target/mmk-pageshot/internal/service"
)

// AuthConfig contains what BuildAuthService needs.
type AuthConfig struct {
	Ctx         context.Context
	Auth        config.AuthConfig
	RedisClient redis.UniversalClient
	// KeyPrefix is the deployment-wide Redis prefix; sessions live under KeyPrefix+"session:".
	KeyPrefix string
	Logger    *slog.Logger
}

// BuildAuthService wires the login provider selected by AUTH_MODE to a Redis
// session store. It returns nil, leaving only anonymous routes, when Redis is
// missing or the provider cannot be built.
func BuildAuthService(cfg AuthConfig) *service.AuthService {
	logger := cmp.Or(cfg.Logger, slog.Default()).With("auth_mode", string(cfg.Auth.Mode))
	if cfg.RedisClient == nil {
		logger.Warn("auth disabled", "reason", "sessions need redis")
		return nil
	}
	provider, err := newAuthProvider(cmp.Or(cfg.Ctx, context.Background()), cfg.Auth)
	if err != nil {
		logger.Warn("auth disabled", "reason", err.Error())
		return nil
	}

	sessions := redisadapter.NewSessionStore(redisadapter.SessionStoreOptions{
		Client: cfg.RedisClient,
		Prefix: cfg.KeyPrefix + "session:",
	})
	roles := authroles.StaticRoleMapper{AdminGroups: cfg.Auth.AdminGroups, UserGroups: cfg.Auth.UserGroups}
	return service.NewAuthService(service.AuthServiceOptions{
		Provider:   provider,
		Sessions:   sessions,
		Roles:      roles,
		SessionTTL: cfg.Auth.SessionTTL,
	})
}

// newAuthProvider builds the provider for auth.Mode. OAuth mode runs issuer
// discovery and needs the issuer and client credentials.
//
//nolint:ireturn // callers hold the provider behind ports.AuthProvider.
func newAuthProvider(ctx context.Context, auth config.AuthConfig) (ports.AuthProvider, error) {
	switch auth.Mode {
	case config.AuthModeMock:
		dev := auth.DevAuth
		return devauth.NewProvider(devauth.Config{
			UserID:          dev.UserID,
			Name:            dev.Name,
			Email:           dev.Email,
			Groups:          dev.Groups,
			SessionDuration: auth.SessionTTL,
		})
	case config.AuthModeOAuth:
		o := auth.OAuth
		if !o.Configured() {
			return nil, errors.New("oauth mode needs issuer and client credentials")
		}
		p, err := oidc.NewProvider(ctx, oidc.ProviderConfig{
			ClientID:     o.ClientID,
			ClientSecret: o.ClientSecret,
			RedirectURL:  o.RedirectURL,
			IssuerURL:    o.IssuerURL,
			Scopes:       o.Scopes,
			UserIDClaim:  o.UserIDClaim,
			GroupsClaim:  o.GroupsClaim,
		})
		if err != nil {
			return nil, fmt.Errorf("oidc provider: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown mode %q", auth.Mode)
	}
}
