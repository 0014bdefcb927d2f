package httpx

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	domainauth "github.com/target/mmk-pageshot/internal/domain/auth"
)

const requestIDHeader = "X-Request-ID"

// Logging writes one access log line per request. Server errors log at
// error level and client errors at warn.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(requestIDHeader)
			if id == "" || len(id) > 64 {
				id = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, id)

			sw := &statusWriter{ResponseWriter: w}
			began := time.Now()
			next.ServeHTTP(sw, r)

			level := slog.LevelInfo
			switch {
			case sw.code() >= http.StatusInternalServerError:
				level = slog.LevelError
			case sw.code() >= http.StatusBadRequest:
				level = slog.LevelWarn
			}
			logger.LogAttrs(r.Context(), level, "http",
				slog.String("request_id", id),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", sw.code()),
				slog.Int64("bytes", sw.written),
				slog.Duration("duration", time.Since(began)),
			)
		})
	}
}

// statusWriter remembers the status code and body size sent downstream.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written int64
}

func (w *statusWriter) code() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

func (w *statusWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.written += int64(n)
	return n, err
}

// Flush lets the SSE handler push frames through the access log.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Recover turns a handler panic into a logged 500 JSON error.
// http.ErrAbortHandler is re-raised so net/http can drop the connection quietly.
func Recover(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if err, ok := v.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(v)
				}
				logger.LogAttrs(r.Context(), slog.LevelError, "panic",
					slog.Any("error", v),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("stack", string(debug.Stack())),
				)
				WriteError(w, ErrorParams{
					Code:    http.StatusInternalServerError,
					ErrCode: "internal_error",
					Err:     errors.New("internal server error"),
				})
			}()
			next.ServeHTTP(w, r)
		})
	}
}

var (
	errUnauthenticated = ErrorParams{
		Code:    http.StatusUnauthorized,
		ErrCode: "authentication_required",
		Err:     errors.New("authentication required"),
	}
	errForbidden = ErrorParams{
		Code:    http.StatusForbidden,
		ErrCode: "insufficient_permissions",
		Err:     errors.New("insufficient permissions"),
	}
)

// sessionGate resolves the session cookie and asks check whether the request
// may continue. A nil check lets anonymous requests through.
func sessionGate(authSvc AuthServiceInterface, check func(*domainauth.Session) *ErrorParams) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := lookupSession(r, authSvc)
			if check != nil {
				if denied := check(session); denied != nil {
					WriteError(w, *denied)
					return
				}
			}
			if session != nil {
				r = r.WithContext(WithSession(r.Context(), session))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuth rejects requests without a live session with 401.
func RequireAuth(authSvc AuthServiceInterface) func(http.Handler) http.Handler {
	return sessionGate(authSvc, func(s *domainauth.Session) *ErrorParams {
		if s == nil {
			return &errUnauthenticated
		}
		return nil
	})
}

// RequireRole is RequireAuth plus a 403 when the session's role is below need.
func RequireRole(authSvc AuthServiceInterface, need domainauth.Role) func(http.Handler) http.Handler {
	return sessionGate(authSvc, func(s *domainauth.Session) *ErrorParams {
		switch {
		case s == nil:
			return &errUnauthenticated
		case !s.Role.Allows(need):
			return &errForbidden
		}
		return nil
	})
}

// OptionalAuth attaches the session when there is one and never rejects.
func OptionalAuth(authSvc AuthServiceInterface) func(http.Handler) http.Handler {
	return sessionGate(authSvc, nil)
}

func lookupSession(r *http.Request, authSvc AuthServiceInterface) *domainauth.Session {
	id := cookieValue(r, sessionCookieName)
	if id == "" {
		return nil
	}
	session, err := authSvc.GetSession(r.Context(), id)
	if err != nil {
		return nil
	}
	return session
}

// RequireWorkerToken guards the render worker API with a static bearer token.
// An empty token rejects every request.
func RequireWorkerToken(token string) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || len(want) == 0 || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), want) != 1 {
				WriteError(w, ErrorParams{
					Code:    http.StatusUnauthorized,
					ErrCode: "invalid_worker_token",
					Err:     errors.New("valid worker bearer token required"),
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
