package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	domainauth "github.com/target/mmk-pageshot/internal/domain/auth"
	"github.com/target/mmk-pageshot/internal/ports"
	"github.com/target/mmk-pageshot/internal/service"
)

const (
	sessionCookieName  = "session_id"
	stateCookieName    = "oauth_state"
	nonceCookieName    = "oauth_nonce"
	verifierCookieName = "oauth_verifier"
	redirectCookieName = "post_login_redirect"

	// loginCookieTTL bounds how long a user may spend at the identity provider.
	loginCookieTTL = 10 * time.Minute
)

// AuthServiceInterface defines the interface for auth service operations.
type AuthServiceInterface interface {
	BeginLogin(ctx context.Context, redirectURL string) (ports.LoginChallenge, error)
	CompleteLogin(ctx context.Context, cb service.LoginCallback) (domainauth.Session, error)
	GetSession(ctx context.Context, sessionID string) (*domainauth.Session, error)
	Logout(ctx context.Context, sessionID string) error
}

// AuthHandlers serves the browser login flow and /api/me.
type AuthHandlers struct {
	Svc          AuthServiceInterface
	CookieDomain string
	Logger       *slog.Logger
}

func (h *AuthHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// Login starts the authorization code flow.
// GET /auth/login?redirect_uri=<relative path>.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	redirectURI := safeRedirectPath(r.URL.Query().Get("redirect_uri"))

	ch, err := h.Svc.BeginLogin(r.Context(), redirectURI)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "login_failed", Err: err})
		return
	}

	jar := h.cookies(w, r)
	jar.set(stateCookieName, ch.State, loginCookieTTL)
	jar.set(nonceCookieName, ch.Nonce, loginCookieTTL)
	jar.set(verifierCookieName, ch.Verifier, loginCookieTTL)
	jar.set(redirectCookieName, redirectURI, loginCookieTTL)

	http.Redirect(w, r, ch.AuthURL, http.StatusFound)
}

// Callback finishes the flow started by Login.
// GET /auth/callback?code=<code>&state=<state>.
func (h *AuthHandlers) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	code, state := q.Get("code"), q.Get("state")
	if code == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "missing_code", Err: errors.New("authorization code is required")})
		return
	}
	if state == "" || cookieValue(r, stateCookieName) != state {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_state", Err: errors.New("invalid or missing state parameter")})
		return
	}
	nonce, verifier := cookieValue(r, nonceCookieName), cookieValue(r, verifierCookieName)
	if nonce == "" || verifier == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "login_expired", Err: errors.New("login attempt expired; start again")})
		return
	}

	session, err := h.Svc.CompleteLogin(r.Context(), service.LoginCallback{
		Code:     code,
		Nonce:    nonce,
		Verifier: verifier,
	})
	if err != nil {
		h.logger().WarnContext(r.Context(), "login completion failed", "error", err)
		WriteError(w, ErrorParams{Code: http.StatusUnauthorized, ErrCode: "login_completion_failed", Err: err})
		return
	}

	jar := h.cookies(w, r)
	jar.set(sessionCookieName, session.ID, session.TTL(time.Now()))
	jar.clear(stateCookieName, nonceCookieName, verifierCookieName, redirectCookieName)

	http.Redirect(w, r, safeRedirectPath(cookieValue(r, redirectCookieName)), http.StatusFound)
}

// Logout drops the server-side session and the cookie.
// POST /auth/logout.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	if id := cookieValue(r, sessionCookieName); id != "" {
		if err := h.Svc.Logout(r.Context(), id); err != nil {
			h.logger().WarnContext(r.Context(), "logout failed", "error", err)
		}
	}
	h.cookies(w, r).clear(sessionCookieName)

	redirectURI := safeRedirectPath(r.FormValue("redirect_uri"))
	if wantsJSON(r) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "success", "redirect_to": redirectURI})
		return
	}
	http.Redirect(w, r, redirectURI, http.StatusFound)
}

type meResponse struct {
	Authenticated bool    `json:"authenticated"`
	User          *meUser `json:"user,omitempty"`
}

type meUser struct {
	ID        string          `json:"id"`
	Name      string          `json:"name,omitempty"`
	Email     string          `json:"email,omitempty"`
	Role      domainauth.Role `json:"role"`
	Owner     string          `json:"owner"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Me reports who owns jobs created from this browser session.
// GET /api/me.
func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	id := cookieValue(r, sessionCookieName)
	if id == "" {
		WriteJSON(w, http.StatusOK, meResponse{})
		return
	}
	s, err := h.Svc.GetSession(r.Context(), id)
	if err != nil {
		h.cookies(w, r).clear(sessionCookieName)
		WriteJSON(w, http.StatusOK, meResponse{})
		return
	}
	WriteJSON(w, http.StatusOK, meResponse{
		Authenticated: true,
		User: &meUser{
			ID:        s.UserID,
			Name:      s.Name,
			Email:     s.Email,
			Role:      s.Role,
			Owner:     s.Owner(),
			ExpiresAt: s.ExpiresAt,
		},
	})
}

// cookieJar writes HttpOnly Lax cookies scoped to the configured domain.
type cookieJar struct {
	w      http.ResponseWriter
	domain string
	secure bool
}

func (h *AuthHandlers) cookies(w http.ResponseWriter, r *http.Request) cookieJar {
	return cookieJar{
		w:      w,
		domain: h.CookieDomain,
		secure: r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https"),
	}
}

func (j cookieJar) set(name, value string, ttl time.Duration) {
	http.SetCookie(j.w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   j.domain,
		HttpOnly: true,
		Secure:   j.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   max(int(ttl.Seconds()), 1),
	})
}

func (j cookieJar) clear(names ...string) {
	for _, name := range names {
		http.SetCookie(j.w, &http.Cookie{
			Name:     name,
			Path:     "/",
			Domain:   j.domain,
			HttpOnly: true,
			Secure:   j.secure,
			SameSite: http.SameSiteLaxMode,
			MaxAge:   -1,
			Expires:  time.Unix(0, 0).UTC(),
		})
	}
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json") ||
		strings.EqualFold(r.Header.Get("X-Requested-With"), "XMLHttpRequest")
}

// safeRedirectPath returns candidate when it is a same-origin path, "/" otherwise.
func safeRedirectPath(candidate string) string {
	if candidate == "" || strings.HasPrefix(candidate, "//") {
		return "/"
	}
	u, err := url.Parse(candidate)
	if err != nil || u.IsAbs() || u.Host != "" || !strings.HasPrefix(u.Path, "/") {
		return "/"
	}
	return candidate
}
