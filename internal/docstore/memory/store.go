// Package memory provides an in-memory document store for development and
// tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensyndicate/syndicate/internal/docstore"
)

// Store keeps documents in a mutex-guarded map. Reads return copies so
// callers can mutate results without racing the store.
type Store struct {
	mu   sync.RWMutex
	docs map[string]docstore.Document
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{docs: make(map[string]docstore.Document)}
}

// Put stores a new document, assigning its ID and timestamps.
func (s *Store) Put(ctx context.Context, doc *docstore.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generating document id: %w", err)
	}
	now := time.Now().UTC()
	doc.ID = id.String()
	doc.CreatedAt = now
	doc.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = copyDoc(*doc)
	return nil
}

// Get returns the document with the given ID.
func (s *Store) Get(ctx context.Context, id string) (docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return docstore.Document{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return docstore.Document{}, docstore.ErrNotFound
	}
	return copyDoc(doc), nil
}

// GetByKey returns the newest document stored under the given key.
func (s *Store) GetByKey(ctx context.Context, key string) (docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return docstore.Document{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		found bool
		best  docstore.Document
	)
	for _, doc := range s.docs {
		if doc.Key != key {
			continue
		}
		if !found || newer(doc, best) {
			best = doc
			found = true
		}
	}
	if !found {
		return docstore.Document{}, docstore.ErrNotFound
	}
	return copyDoc(best), nil
}

// Update replaces the value and tags of an existing document and bumps its
// UpdatedAt timestamp.
func (s *Store) Update(ctx context.Context, doc *docstore.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.docs[doc.ID]
	if !ok {
		return docstore.ErrNotFound
	}
	stored.Key = doc.Key
	stored.Value = append([]byte(nil), doc.Value...)
	stored.Tags = append([]string(nil), doc.Tags...)
	stored.UpdatedAt = time.Now().UTC()
	s.docs[doc.ID] = stored

	doc.CreatedAt = stored.CreatedAt
	doc.UpdatedAt = stored.UpdatedAt
	return nil
}

// Delete removes the document with the given ID.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return docstore.ErrNotFound
	}
	delete(s.docs, id)
	return nil
}

// List returns documents matching the query, newest first. When the query
// names tags, only documents carrying every tag are returned.
func (s *Store) List(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	matched := make([]docstore.Document, 0, len(s.docs))
	for _, doc := range s.docs {
		if hasAllTags(doc.Tags, q.Tags) {
			matched = append(matched, copyDoc(doc))
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return newer(matched[i], matched[j])
	})

	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			return []docstore.Document{}, nil
		}
		matched = matched[q.Offset:]
	}
	limit := q.NormalizeLimit()
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Ping reports the store as healthy.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close releases the store's documents.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = make(map[string]docstore.Document)
	return nil
}

func copyDoc(doc docstore.Document) docstore.Document {
	doc.Value = append([]byte(nil), doc.Value...)
	doc.Tags = append([]string(nil), doc.Tags...)
	return doc
}

// newer orders documents by creation time, breaking ties on ID so the order
// is stable. Version 7 UUIDs sort by generation time, which keeps documents
// created in the same instant in insertion order.
func newer(a, b docstore.Document) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func hasAllTags(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, t := range want {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}
