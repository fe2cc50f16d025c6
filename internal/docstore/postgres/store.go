// Package postgres provides a Postgres-backed document store for deployments
// that already run a shared database.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opensyndicate/syndicate/internal/docstore"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Store persists documents in a Postgres table.
type Store struct {
	pool  pgxPool
	table string
}

// New connects to Postgres using the provided config and ensures the
// documents table exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("docstore.postgres.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "documents"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store := &Store{pool: pool, table: table}
	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for
// testing). The schema is assumed to exist.
func NewWithPool(pool pgxPool, table string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "documents"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: pool, table: table}, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id         TEXT PRIMARY KEY,
			key        TEXT NOT NULL,
			value      BYTEA NOT NULL,
			tags       TEXT[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_key_idx ON %[1]s (key, created_at DESC)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_tags_idx ON %[1]s USING GIN (tags)`, s.table),
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Put stores a new document, assigning its ID and timestamps.
func (s *Store) Put(ctx context.Context, doc *docstore.Document) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generating document id: %w", err)
	}
	// TIMESTAMPTZ keeps microseconds; truncate so the document handed back
	// matches what a later Get will read.
	now := time.Now().UTC().Truncate(time.Microsecond)

	query := fmt.Sprintf(`INSERT INTO %s (id, key, value, tags, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`, s.table)
	_, err = s.pool.Exec(ctx, query, id.String(), doc.Key, doc.Value, tagsValue(doc.Tags), now, now)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}

	doc.ID = id.String()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	return nil
}

// Get returns the document with the given ID.
func (s *Store) Get(ctx context.Context, id string) (docstore.Document, error) {
	query := fmt.Sprintf(`SELECT id, key, value, tags, created_at, updated_at
		FROM %s WHERE id = $1`, s.table)
	return s.getOne(ctx, query, id)
}

// GetByKey returns the newest document stored under the given key.
func (s *Store) GetByKey(ctx context.Context, key string) (docstore.Document, error) {
	query := fmt.Sprintf(`SELECT id, key, value, tags, created_at, updated_at
		FROM %s WHERE key = $1 ORDER BY created_at DESC, id DESC LIMIT 1`, s.table)
	return s.getOne(ctx, query, key)
}

func (s *Store) getOne(ctx context.Context, query string, arg any) (docstore.Document, error) {
	var doc docstore.Document
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&doc.ID, &doc.Key, &doc.Value, &doc.Tags, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return docstore.Document{}, docstore.ErrNotFound
	}
	if err != nil {
		return docstore.Document{}, fmt.Errorf("query document: %w", err)
	}
	doc.CreatedAt = doc.CreatedAt.UTC()
	doc.UpdatedAt = doc.UpdatedAt.UTC()
	return doc, nil
}

// Update replaces the value and tags of an existing document and bumps its
// UpdatedAt timestamp.
func (s *Store) Update(ctx context.Context, doc *docstore.Document) error {
	now := time.Now().UTC().Truncate(time.Microsecond)
	query := fmt.Sprintf(`UPDATE %s SET key = $1, value = $2, tags = $3, updated_at = $4
		WHERE id = $5 RETURNING created_at`, s.table)

	var createdAt time.Time
	err := s.pool.QueryRow(ctx, query, doc.Key, doc.Value, tagsValue(doc.Tags), now, doc.ID).
		Scan(&createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return docstore.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	doc.CreatedAt = createdAt.UTC()
	doc.UpdatedAt = now
	return nil
}

// Delete removes the document with the given ID.
func (s *Store) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return docstore.ErrNotFound
	}
	return nil
}

// List returns documents matching the query, newest first. Tag filtering
// uses array containment, so only documents carrying every requested tag
// match.
func (s *Store) List(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	query := fmt.Sprintf(`SELECT id, key, value, tags, created_at, updated_at FROM %s`, s.table)
	args := []any{}
	if len(q.Tags) > 0 {
		query += " WHERE tags @> $1"
		args = append(args, q.Tags)
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d",
		len(args)+1, len(args)+2)
	args = append(args, q.NormalizeLimit(), q.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	docs := []docstore.Document{}
	for rows.Next() {
		var doc docstore.Document
		err := rows.Scan(&doc.ID, &doc.Key, &doc.Value, &doc.Tags, &doc.CreatedAt, &doc.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		doc.CreatedAt = doc.CreatedAt.UTC()
		doc.UpdatedAt = doc.UpdatedAt.UTC()
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// tagsValue never inserts NULL into the NOT NULL tags column.
func tagsValue(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
