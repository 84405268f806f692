package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"
)

var (
	ErrObjectNotFound      = errors.New("object not found")
	ErrUnsupportedProvider = errors.New("unsupported storage provider")
)

// Provider names accepted by New
const (
	ProviderS3    = "s3"
	ProviderGCS   = "gcs"
	ProviderLocal = "local"
)

// ObjectStorage is the capability the pipeline needs from a blob store.
// Keys follow the "<courseId>/<filename>" convention.
type ObjectStorage interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
	SignedUploadURL(ctx context.Context, key, contentType string, expiry time.Duration) (string, error)
	Provider() string
}

// Config selects and configures one backend
type Config struct {
	Provider  string
	Bucket    string
	Region    string
	Endpoint  string // S3-compatible endpoint (Spaces, R2, MinIO)
	AccessKey string
	SecretKey string
	LocalDir  string
	// GCSCredentials is a service account JSON blob or a path to one
	GCSCredentials string
}

// New constructs the configured backend. Selection happens once at startup.
func New(ctx context.Context, cfg Config) (ObjectStorage, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderS3, "spaces", "r2":
		return NewS3Storage(cfg)
	case ProviderGCS:
		return NewGCSStorage(ctx, cfg)
	case ProviderLocal, "":
		return NewLocalStorage(cfg.LocalDir)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, cfg.Provider)
	}
}

// ContentType returns the content type for a filename
func ContentType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".txt":
		return "text/plain"
	case ".md", ".markdown":
		return "text/markdown"
	case ".csv":
		return "text/csv"
	case ".html", ".htm":
		return "text/html"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
