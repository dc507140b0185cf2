// Package storage defines the Backend interface for item content and opens
// the configured implementation.
package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/fruitsalade/librarian/internal/storage/local"
	s3backend "github.com/fruitsalade/librarian/internal/storage/s3"
)

// Backend stores item content by key. Catalog metadata lives elsewhere.
type Backend interface {
	// GetObject retrieves an object by key with optional range support.
	// If offset=0 and length=0, the entire object is returned. A missing key
	// yields an error wrapping fs.ErrNotExist.
	GetObject(ctx context.Context, key string, offset, length int64) (io.ReadCloser, int64, error)

	// PutObject uploads content to the given key.
	PutObject(ctx context.Context, key string, body io.Reader, size int64) error

	// DeleteObject removes an object. Deleting a missing key is not an error.
	DeleteObject(ctx context.Context, key string) error

	// ObjectExists checks if an object exists at the given key.
	ObjectExists(ctx context.Context, key string) (bool, error)

	// Type returns the backend type identifier ("s3", "local").
	Type() string

	// Close releases any resources held by the backend.
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend string // "local" or "s3"
	Local   local.Config
	S3      s3backend.Config
}

// Open creates the backend named by cfg.Backend.
func Open(ctx context.Context, cfg Config) (Backend, error) {
	switch cfg.Backend {
	case "", "local":
		return local.New(cfg.Local)
	case "s3":
		return s3backend.New(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

// KeyFor returns the object key for an item's content.
func KeyFor(itemID string) string {
	return "items/" + itemID
}
