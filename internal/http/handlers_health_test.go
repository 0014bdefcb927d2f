package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHealthHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	healthHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	healthHandler(rec, httptest.NewRequest(http.MethodHead, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, rec.Body.Len())
}

func TestReadyHandler(t *testing.T) {
	ok := func(context.Context) error { return nil }

	rec := httptest.NewRecorder()
	readyHandler(map[string]ReadinessCheck{"postgres": ok, "redis": ok})(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","checks":{"postgres":"ok","redis":"ok"}}`, rec.Body.String())

	rec = httptest.NewRecorder()
	readyHandler(map[string]ReadinessCheck{
		"postgres": ok,
		"redis":    func(context.Context) error { return errors.New("dial tcp: connection refused") },
	})(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"unavailable","checks":{"postgres":"ok","redis":"dial tcp: connection refused"}}`, rec.Body.String())

	rec = httptest.NewRecorder()
	readyHandler(nil)(rec, httptest.NewRequest(http.MethodHead, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, rec.Body.Len())
}

func TestReadyHandlerHonoursDeadline(t *testing.T) {
	slow := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	ctx, cancel := context.WithCancel(req.Context())
	cancel()

	rec := httptest.NewRecorder()
	readyHandler(map[string]ReadinessCheck{"redis": slow})(rec, req.WithContext(ctx))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "context canceled")
}
