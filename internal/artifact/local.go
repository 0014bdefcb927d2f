package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/target/mmk-pageshot/internal/observability/metrics"
)

// LocalRoutePrefix is where the HTTP server exposes the local backend's directory.
const LocalRoutePrefix = "/artifacts"

const backendLocal = "local"

// LocalStoreOptions configure a LocalStore.
type LocalStoreOptions struct {
	Dir           string
	PublicBaseURL string
	Metrics       *metrics.Metrics
	Now           func() time.Time
}

// LocalStore writes objects below a directory.
type LocalStore struct {
	dir     string
	base    string
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewLocalStore creates dir when needed.
func NewLocalStore(opts LocalStoreOptions) (*LocalStore, error) {
	if opts.Dir == "" {
		return nil, errors.New("artifact directory is required")
	}
	if opts.PublicBaseURL == "" {
		return nil, errors.New("artifact public base url is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &LocalStore{dir: opts.Dir, base: opts.PublicBaseURL, metrics: opts.Metrics, now: now}, nil
}

// Dir is the root served under LocalRoutePrefix.
func (s *LocalStore) Dir() string { return s.dir }

// Put writes data atomically and returns its public URL.
func (s *LocalStore) Put(ctx context.Context, data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", ErrEmpty
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key := ObjectKey(s.now(), contentType)
	if err := s.write(key, data); err != nil {
		s.metrics.ObserveArtifact(backendLocal, metrics.ResultError)
		return "", err
	}
	s.metrics.ObserveArtifact(backendLocal, metrics.ResultSuccess)
	return publicURL(s.base, key), nil
}

func (s *LocalStore) write(key string, data []byte) error {
	dst := filepath.Join(s.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("create artifact folder: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return fmt.Errorf("create artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("store artifact: %w", err)
	}
	return nil
}
