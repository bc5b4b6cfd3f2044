// Package objectstore provides the tenant-namespaced blob storage used for
// evidence binaries and pack outputs.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/davidleathers/evidence-vault/internal/infrastructure/config"
)

// MaxPresignTTL caps every presigned URL
const MaxPresignTTL = time.Hour

var (
	ErrObjectNotFound = errors.New("objectstore: object not found")
	ErrObjectExists   = errors.New("objectstore: object already exists")
)

// ObjectInfo is the metadata returned by HeadObject
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	ETag         string
	LastModified time.Time
}

// Store is the object-store boundary
type Store interface {
	PutObject(ctx context.Context, key string, body []byte, contentType string) error

	// PutObjectIfAbsent writes key only when nothing is stored there yet
	PutObjectIfAbsent(ctx context.Context, key string, body []byte, contentType string) error

	// UploadStream uploads r without buffering it fully in memory
	UploadStream(ctx context.Context, key string, r io.Reader, contentType string) error

	GetObject(ctx context.Context, key string) (io.ReadCloser, error)

	HeadObject(ctx context.Context, key string) (*ObjectInfo, error)

	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)

	PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)
}

// NewFromConfig builds the configured store
func NewFromConfig(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Provider {
	case "s3":
		return NewS3Store(ctx, cfg, logger)
	case "memory":
		return NewMemoryStore("memory.local"), nil
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Provider)
	}
}

func clampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 || ttl > MaxPresignTTL {
		return MaxPresignTTL
	}
	return ttl
}
