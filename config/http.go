package config

import (
	"strings"
	"time"
)

// HTTPConfig is the API listener plus the render worker API it hosts.
type HTTPConfig struct {
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`
	// BaseURL is the public origin, used for the OAuth callback.
	BaseURL string `env:"APP_BASE_URL" envDefault:"http://localhost:8080"`
	// CookieDomain scopes session cookies; empty means the request host.
	CookieDomain    string        `env:"APP_COOKIE_DOMAIN"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"15s"`

	// WorkerAPIToken is the bearer token for /api/worker; empty unmounts it.
	WorkerAPIToken string        `env:"WORKER_API_TOKEN"`
	ReserveMaxWait time.Duration `env:"WORKER_RESERVE_MAX_WAIT" envDefault:"60s"`
	MaxUploadBytes int64         `env:"WORKER_MAX_UPLOAD_BYTES" envDefault:"26214400"`
}

const defaultMaxUpload = 25 << 20

func (h *HTTPConfig) Sanitize() {
	h.BaseURL = strings.TrimRight(strings.TrimSpace(h.BaseURL), "/")
	h.WorkerAPIToken = strings.TrimSpace(h.WorkerAPIToken)
	h.ReserveMaxWait = clamp(h.ReserveMaxWait, time.Second, 5*time.Minute)
	if h.MaxUploadBytes <= 0 {
		h.MaxUploadBytes = defaultMaxUpload
	}
	if h.ShutdownTimeout <= 0 {
		h.ShutdownTimeout = 15 * time.Second
	}
}

// WorkerAPIEnabled reports whether a worker token is configured.
func (h *HTTPConfig) WorkerAPIEnabled() bool {
	return h.WorkerAPIToken != ""
}
