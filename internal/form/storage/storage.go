// Package storage keeps submission artifacts. The minio store is used in
// production; the local store backs development setups and tests.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bitfantasy/formflow/internal/config"
)

var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo metadata of a stored object
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// ObjectStore the artifact store used by the submission flow.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (ObjectInfo, error)
	// Stat returns ErrObjectNotFound when key is absent.
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Remove(ctx context.Context, key string) error
}

// New builds the store selected by cfg.Storage.Driver.
func New(ctx context.Context, cfg *config.Config) (ObjectStore, error) {
	switch cfg.Storage.Driver {
	case "minio":
		return NewMinioStore(ctx, cfg.MinIO)
	case "", "local":
		return NewLocalStore(cfg.Storage.LocalRoot)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
