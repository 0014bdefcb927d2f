package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	domainauth "github.com/target/mmk-pageshot/internal/domain/auth"
)

func sessionWithRole(role domainauth.Role) *mockAuthService {
	return &mockAuthService{getSessionFunc: func(_ context.Context, id string) (*domainauth.Session, error) {
		if id != "valid" {
			return nil, errors.New("session not found")
		}
		return &domainauth.Session{ID: id, UserID: "u-" + string(role), Role: role, ExpiresAt: time.Now().Add(time.Hour)}, nil
	}}
}

func serveWithCookie(mw func(http.Handler) http.Handler, cookie string) (int, *domainauth.Session) {
	var seen *domainauth.Session
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = SessionFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: cookie})
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code, seen
}

func TestRequireAuth(t *testing.T) {
	mw := RequireAuth(sessionWithRole(domainauth.RoleGuest))

	code, seen := serveWithCookie(mw, "valid")
	assert.Equal(t, http.StatusNoContent, code)
	if assert.NotNil(t, seen) {
		assert.Equal(t, "u-guest", seen.UserID)
	}

	code, _ = serveWithCookie(mw, "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = serveWithCookie(mw, "expired")
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		have, need domainauth.Role
		want       int
	}{
		{domainauth.RoleGuest, domainauth.RoleGuest, http.StatusNoContent},
		{domainauth.RoleGuest, domainauth.RoleUser, http.StatusForbidden},
		{domainauth.RoleUser, domainauth.RoleUser, http.StatusNoContent},
		{domainauth.RoleUser, domainauth.RoleAdmin, http.StatusForbidden},
		{domainauth.RoleAdmin, domainauth.RoleUser, http.StatusNoContent},
		{domainauth.RoleAdmin, domainauth.RoleAdmin, http.StatusNoContent},
		{domainauth.Role("root"), domainauth.RoleGuest, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(string(tt.have)+"->"+string(tt.need), func(t *testing.T) {
			code, seen := serveWithCookie(RequireRole(sessionWithRole(tt.have), tt.need), "valid")
			assert.Equal(t, tt.want, code)
			if tt.want == http.StatusNoContent {
				assert.NotNil(t, seen)
			}
		})
	}

	code, _ := serveWithCookie(RequireRole(sessionWithRole(domainauth.RoleAdmin), domainauth.RoleAdmin), "")
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestOptionalAuth(t *testing.T) {
	mw := OptionalAuth(sessionWithRole(domainauth.RoleUser))

	code, seen := serveWithCookie(mw, "valid")
	assert.Equal(t, http.StatusNoContent, code)
	assert.NotNil(t, seen)

	code, seen = serveWithCookie(mw, "stale")
	assert.Equal(t, http.StatusNoContent, code)
	assert.Nil(t, seen)
}
