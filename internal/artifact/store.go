// Package artifact stores rendered screenshots and returns the public URL recorded on the job.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/target/mmk-pageshot/config"
	"github.com/target/mmk-pageshot/internal/observability/metrics"
)

// ErrEmpty is returned for a zero-length upload.
var ErrEmpty = errors.New("artifact is empty")

// Store persists one object and returns its public URL.
type Store interface {
	Put(ctx context.Context, data []byte, contentType string) (string, error)
}

// ObjectKey builds screenshots/{yyyy}/{mm}/{dd}/{uuid}.{ext}.
func ObjectKey(now time.Time, contentType string) string {
	return path.Join("screenshots", now.UTC().Format("2006/01/02"), uuid.NewString()+"."+extension(contentType))
}

func extension(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch ct {
	case "image/png":
		return "png"
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/webp":
		return "webp"
	default:
		return "bin"
	}
}

func publicURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + key
}

// Options configure New.
type Options struct {
	Config config.ArtifactConfig
	// AppBaseURL is used for the local backend's default public base.
	AppBaseURL string
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

// New builds the configured backend.
func New(ctx context.Context, opts Options) (Store, error) {
	switch opts.Config.Backend {
	case config.ArtifactBackendMinio:
		return NewMinioStore(ctx, MinioStoreOptions{
			Config:        opts.Config.Minio,
			PublicBaseURL: opts.Config.PublicBaseURL,
			Logger:        opts.Logger,
			Metrics:       opts.Metrics,
		})
	case config.ArtifactBackendLocal, "":
		base := opts.Config.PublicBaseURL
		if base == "" {
			base = strings.TrimRight(opts.AppBaseURL, "/") + LocalRoutePrefix
		}
		return NewLocalStore(LocalStoreOptions{
			Dir:           opts.Config.LocalDir,
			PublicBaseURL: base,
			Metrics:       opts.Metrics,
		})
	default:
		return nil, fmt.Errorf("unknown artifact backend %q", opts.Config.Backend)
	}
}
