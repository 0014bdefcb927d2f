package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/target/mmk-pageshot/config"
	"github.com/target/mmk-pageshot/internal/observability/metrics"
)

const backendMinio = "minio"

// MinioStoreOptions configure a MinioStore.
type MinioStoreOptions struct {
	Config config.MinioConfig
	// PublicBaseURL defaults to {scheme}://{endpoint}/{bucket}.
	PublicBaseURL string
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
	Now           func() time.Time
}

// MinioStore uploads objects to an S3-compatible bucket.
type MinioStore struct {
	client  *miniogo.Client
	bucket  string
	base    string
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewMinioStore connects to the endpoint and, when configured, creates the bucket.
func NewMinioStore(ctx context.Context, opts MinioStoreOptions) (*MinioStore, error) {
	cfg := opts.Config
	if cfg.Endpoint == "" {
		return nil, errors.New("minio endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("minio bucket is required")
	}

	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base := opts.PublicBaseURL
	if base == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		base = fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	s := &MinioStore{
		client:  client,
		bucket:  cfg.Bucket,
		base:    base,
		logger:  logger.With("component", "artifact_store", "backend", backendMinio),
		metrics: opts.Metrics,
		now:     now,
	}
	if cfg.CreateBucket {
		if err := s.ensureBucket(ctx, cfg.Region); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *MinioStore) ensureBucket(ctx context.Context, region string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, miniogo.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	s.logger.InfoContext(ctx, "created artifact bucket", "bucket", s.bucket)
	return nil
}

// Put uploads data under a fresh key.
func (s *MinioStore) Put(ctx context.Context, data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", ErrEmpty
	}
	key := ObjectKey(s.now(), contentType)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		miniogo.PutObjectOptions{ContentType: contentType})
	if err != nil {
		s.metrics.ObserveArtifact(backendMinio, metrics.ResultError)
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	s.metrics.ObserveArtifact(backendMinio, metrics.ResultSuccess)
	s.logger.DebugContext(ctx, "uploaded artifact", "key", key, "size", len(data))
	return publicURL(s.base, key), nil
}

// HealthCheck verifies the bucket is reachable.
func (s *MinioStore) HealthCheck(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", s.bucket)
	}
	return nil
}
