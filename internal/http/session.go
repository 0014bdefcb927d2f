package httpx

import (
	"context"

	domainauth "github.com/target/mmk-pageshot/internal/domain/auth"
)

type sessionKey struct{}

// WithSession returns ctx carrying session. A nil session leaves ctx unchanged.
func WithSession(ctx context.Context, session *domainauth.Session) context.Context {
	if session == nil {
		return ctx
	}
	return context.WithValue(ctx, sessionKey{}, session)
}

// SessionFrom returns the session the auth middleware attached, or nil.
func SessionFrom(ctx context.Context) *domainauth.Session {
	s, _ := ctx.Value(sessionKey{}).(*domainauth.Session)
	return s
}

// OwnerFrom returns the owner that jobs touched by this request are scoped to.
func OwnerFrom(ctx context.Context) (owner string, ok bool) {
	if s := SessionFrom(ctx); s != nil {
		owner = s.Owner()
	}
	return owner, owner != ""
}
