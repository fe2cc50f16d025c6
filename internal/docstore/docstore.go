// Package docstore defines a small document store: opaque JSON values
// addressed by ID and key, filterable by tags. The RSS feed, uploaded-file
// metadata, and stored OAuth tokens all live here.
package docstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no document matches the requested ID or key.
var ErrNotFound = errors.New("docstore: document not found")

// Document is one stored record. Value is opaque JSON owned by the caller;
// Tags drive List filtering. Key groups documents of one kind and does not
// have to be unique.
type Document struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Value     []byte    `json:"value"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Query filters List calls. All listed tags must be present on a match.
// Limit <= 0 means DefaultListLimit; Offset skips newest-first results.
type Query struct {
	Tags   []string
	Limit  int
	Offset int
}

// DefaultListLimit bounds List when the caller does not.
const DefaultListLimit = 100

// Store is implemented by every document store provider.
type Store interface {
	// Put inserts the document, setting its ID and timestamps in place.
	Put(ctx context.Context, doc *Document) error
	// Get returns the document with the given ID or ErrNotFound.
	Get(ctx context.Context, id string) (Document, error)
	// GetByKey returns the newest document stored under key or ErrNotFound.
	GetByKey(ctx context.Context, key string) (Document, error)
	// Update replaces Value and Tags of the document with doc.ID and bumps
	// UpdatedAt. Returns ErrNotFound when the ID is unknown.
	Update(ctx context.Context, doc *Document) error
	// Delete removes the document or returns ErrNotFound.
	Delete(ctx context.Context, id string) error
	// List returns matching documents newest-first.
	List(ctx context.Context, q Query) ([]Document, error)
	// Ping reports whether the underlying storage is reachable.
	Ping(ctx context.Context) error
	// Close releases held resources.
	Close() error
}

// NormalizeLimit clamps q.Limit into a usable window.
func (q Query) NormalizeLimit() int {
	if q.Limit <= 0 {
		return DefaultListLimit
	}
	return q.Limit
}
