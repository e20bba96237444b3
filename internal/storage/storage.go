// Package storage provides the object store used to cache rendered badge
// images, with MinIO and Google Cloud Storage backends.
package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/campusreg/apiserver/config"
)

// ObjectStore defines the object operations shared by both backends.
type ObjectStore interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Bucket() string
}

// NewFromConfig selects and constructs the configured backend. An empty
// backend name disables the badge cache and returns a nil store.
func NewFromConfig(ctx context.Context, cfg config.StorageConfig) (ObjectStore, error) {
	switch cfg.Backend {
	case "":
		return nil, nil
	case "minio":
		return NewMinioStore(cfg.Minio)
	case "gcs":
		return NewGCSStore(ctx, cfg.GCS)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
