// Package blob defines the interface for a blob storage provider. The
// abstraction keeps the application independent of a specific backend
// (Google Cloud Storage, the local filesystem, or memory for tests).
package blob

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when no object exists under the requested key.
var ErrNotFound = errors.New("object not found")

// Store is the common interface for a blob storage provider.
type Store interface {
	// Put uploads data under the given key and returns a provider URI
	// (gs://, file://, or memory://).
	Put(ctx context.Context, key string, contentType string, data io.Reader) (string, error)

	// Get returns the content stored under the key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Exists reports whether content is stored under the key.
	Exists(ctx context.Context, key string) (bool, error)
}
