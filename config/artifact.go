package config

import (
	"fmt"
	"strings"
)

// ArtifactBackend selects where screenshot images are stored.
type ArtifactBackend string

const (
	// ArtifactBackendMinio stores images in an S3-compatible bucket.
	ArtifactBackendMinio ArtifactBackend = "minio"
	// ArtifactBackendLocal stores images on the local filesystem.
	ArtifactBackendLocal ArtifactBackend = "local"
)

// UnmarshalText implements encoding.TextUnmarshaler for ArtifactBackend.
func (b *ArtifactBackend) UnmarshalText(text []byte) error {
	v := ArtifactBackend(strings.ToLower(strings.TrimSpace(string(text))))
	switch v {
	case ArtifactBackendMinio, ArtifactBackendLocal:
		*b = v
		return nil
	default:
		return fmt.Errorf("invalid ArtifactBackend: %q (valid options: minio, local)", string(text))
	}
}

// MinioConfig contains S3-compatible object storage settings.
type MinioConfig struct {
	Endpoint  string `env:"ENDPOINT"   envDefault:"localhost:9000"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	Bucket    string `env:"BUCKET"     envDefault:"pageshot"`
	Region    string `env:"REGION"     envDefault:""`
	UseSSL    bool   `env:"USE_SSL"    envDefault:"false"`
	// CreateBucket creates the bucket at startup when it does not exist.
	CreateBucket bool `env:"CREATE_BUCKET" envDefault:"true"`
}

// ArtifactConfig groups artifact storage configuration.
type ArtifactConfig struct {
	Backend ArtifactBackend `env:"ARTIFACT_BACKEND" envDefault:"local"`

	Minio MinioConfig `envPrefix:"MINIO_"`

	// LocalDir is the root directory for the local backend.
	LocalDir string `env:"ARTIFACT_LOCAL_DIR" envDefault:"./data/artifacts"`

	// PublicBaseURL prefixes object keys to build the URL recorded on a job.
	// Defaults to the bucket URL for minio and APP_BASE_URL + /artifacts for local.
	PublicBaseURL string `env:"ARTIFACT_PUBLIC_BASE_URL"`
}

// Sanitize applies guardrails to artifact configuration values.
func (a *ArtifactConfig) Sanitize() {
	if a.Backend == "" {
		a.Backend = ArtifactBackendLocal
	}
	a.PublicBaseURL = strings.TrimRight(strings.TrimSpace(a.PublicBaseURL), "/")
	a.LocalDir = strings.TrimSpace(a.LocalDir)
	if a.LocalDir == "" {
		a.LocalDir = "./data/artifacts"
	}
	a.Minio.Endpoint = strings.TrimSpace(a.Minio.Endpoint)
	a.Minio.Bucket = strings.TrimSpace(a.Minio.Bucket)
}
