package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/mmk-pageshot/config"
	domainauth "github.com/target/mmk-pageshot/internal/domain/auth"
	"github.com/target/mmk-pageshot/internal/service"
	"github.com/target/mmk-pageshot/internal/testutil"
)

func quietAuthLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func devAuthConfig() config.AuthConfig {
	return config.AuthConfig{
		Mode:        config.AuthModeMock,
		AdminGroups: []string{"admins"},
		UserGroups:  []string{"users"},
		SessionTTL:  time.Hour,
		DevAuth: config.DevAuthConfig{
			UserID: "dev",
			Name:   "Dev User",
			Email:  "dev@example.com",
			Groups: []string{"admins"},
		},
	}
}

func TestBuildAuthServiceNeedsRedis(t *testing.T) {
	oauth := devAuthConfig()
	oauth.Mode = config.AuthModeOAuth
	oauth.OAuth = config.OAuthConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		IssuerURL:    "https://issuer.example.com",
		RedirectURL:  "https://app.example.com/auth/callback",
		Scopes:       []string{"openid"},
	}

	for name, auth := range map[string]config.AuthConfig{"mock": devAuthConfig(), "oauth": oauth} {
		t.Run(name, func(t *testing.T) {
			assert.Nil(t, BuildAuthService(AuthConfig{Auth: auth, Logger: quietAuthLogger()}))
		})
	}
}

func TestBuildAuthServiceOAuthWithoutCredentials(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	auth := devAuthConfig()
	auth.Mode = config.AuthModeOAuth

	assert.Nil(t, BuildAuthService(AuthConfig{Auth: auth, RedisClient: client, Logger: quietAuthLogger()}))
}

func TestBuildAuthServiceDevLogin(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	ctx := context.Background()

	svc := BuildAuthService(AuthConfig{
		Ctx:         ctx,
		Auth:        devAuthConfig(),
		RedisClient: client,
		KeyPrefix:   "test:",
		Logger:      quietAuthLogger(),
	})
	require.NotNil(t, svc)

	ch, err := svc.BeginLogin(ctx, "/")
	require.NoError(t, err)
	res, err := svc.CompleteLogin(ctx, service.LoginCallback{Code: "dev", Nonce: ch.Nonce, Verifier: ch.Verifier})
	require.NoError(t, err)
	assert.Equal(t, domainauth.RoleAdmin, res.Role)
	assert.Equal(t, "dev", res.Owner())

	n, err := client.Exists(ctx, "test:session:"+res.ID).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := svc.GetSession(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "Dev User", got.Name)
}
