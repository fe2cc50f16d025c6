// Package sqlite provides a SQLite-backed document store. It is the default
// provider: a single file on disk, no external services.
package sqlite

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/opensyndicate/syndicate/internal/docstore"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	key        TEXT NOT NULL,
	value      BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_key ON documents(key, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_documents_created ON documents(created_at DESC);

CREATE TABLE IF NOT EXISTS document_tags (
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	tag         TEXT NOT NULL,
	PRIMARY KEY (document_id, tag)
) WITHOUT ROWID;
CREATE INDEX IF NOT EXISTS idx_document_tags_tag ON document_tags(tag);
`

// Config controls the SQLite connection pool.
type Config struct {
	// Path is the database file. The parent directory must exist; the file
	// is created on first open.
	Path string

	// PoolSize is the number of pooled connections. Zero or negative
	// selects a small default. SQLite serializes writes, so extra
	// connections only help concurrent readers.
	PoolSize int
}

// Store persists documents in a SQLite database.
type Store struct {
	pool   *sqlitex.Pool
	path   string
	logger *zap.Logger
}

// Open opens (creating if necessary) the database at cfg.Path, applies the
// schema, and returns a ready store.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database %s: %w", cfg.Path, err)
	}

	conn, err := pool.Take(ctx)
	if err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("taking connection for schema: %w", err)
	}
	err = sqlitex.ExecuteScript(conn, schema, nil)
	pool.Put(conn)
	if err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	logger.Info("sqlite document store opened",
		zap.String("path", cfg.Path),
		zap.Int("pool_size", poolSize),
	)
	return &Store{pool: pool, path: cfg.Path, logger: logger}, nil
}

// prepareConn runs once per pooled connection before first use.
func prepareConn(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return nil
}

// Put stores a new document, assigning its ID and timestamps.
func (s *Store) Put(ctx context.Context, doc *docstore.Document) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("taking connection: %w", err)
	}
	defer s.pool.Put(conn)
	defer sqlitex.Save(conn)(&err)

	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generating document id: %w", err)
	}
	// Timestamps are persisted at microsecond precision; truncate so the
	// document handed back matches what a later Get will read.
	now := time.Now().UTC().Truncate(time.Microsecond)

	err = sqlitex.Execute(conn,
		`INSERT INTO documents (id, key, value, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{id.String(), doc.Key, blobValue(doc.Value), now.UnixMicro(), now.UnixMicro()},
		})
	if err != nil {
		return fmt.Errorf("inserting document: %w", err)
	}
	if err := insertTags(conn, id.String(), doc.Tags); err != nil {
		return err
	}

	doc.ID = id.String()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	return nil
}

// Get returns the document with the given ID.
func (s *Store) Get(ctx context.Context, id string) (docstore.Document, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return docstore.Document{}, fmt.Errorf("taking connection: %w", err)
	}
	defer s.pool.Put(conn)

	return s.getOne(conn,
		`SELECT id, key, value, created_at, updated_at FROM documents WHERE id = ?`,
		[]any{id})
}

// GetByKey returns the newest document stored under the given key.
func (s *Store) GetByKey(ctx context.Context, key string) (docstore.Document, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return docstore.Document{}, fmt.Errorf("taking connection: %w", err)
	}
	defer s.pool.Put(conn)

	return s.getOne(conn,
		`SELECT id, key, value, created_at, updated_at FROM documents
		 WHERE key = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		[]any{key})
}

func (s *Store) getOne(conn *sqlite.Conn, query string, args []any) (docstore.Document, error) {
	var (
		doc   docstore.Document
		found bool
	)
	err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			doc = scanDocument(stmt)
			found = true
			return nil
		},
	})
	if err != nil {
		return docstore.Document{}, fmt.Errorf("querying document: %w", err)
	}
	if !found {
		return docstore.Document{}, docstore.ErrNotFound
	}
	tags, err := loadTags(conn, doc.ID)
	if err != nil {
		return docstore.Document{}, err
	}
	doc.Tags = tags
	return doc, nil
}

// Update replaces the value and tags of an existing document and bumps its
// UpdatedAt timestamp.
func (s *Store) Update(ctx context.Context, doc *docstore.Document) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("taking connection: %w", err)
	}
	defer s.pool.Put(conn)
	defer sqlitex.Save(conn)(&err)

	now := time.Now().UTC().Truncate(time.Microsecond)
	err = sqlitex.Execute(conn,
		`UPDATE documents SET key = ?, value = ?, updated_at = ? WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{doc.Key, blobValue(doc.Value), now.UnixMicro(), doc.ID},
		})
	if err != nil {
		return fmt.Errorf("updating document: %w", err)
	}
	if conn.Changes() == 0 {
		return docstore.ErrNotFound
	}

	err = sqlitex.Execute(conn,
		`DELETE FROM document_tags WHERE document_id = ?`,
		&sqlitex.ExecOptions{Args: []any{doc.ID}})
	if err != nil {
		return fmt.Errorf("clearing document tags: %w", err)
	}
	if err := insertTags(conn, doc.ID, doc.Tags); err != nil {
		return err
	}

	err = sqlitex.Execute(conn,
		`SELECT created_at FROM documents WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{doc.ID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				doc.CreatedAt = time.UnixMicro(stmt.ColumnInt64(0)).UTC()
				return nil
			},
		})
	if err != nil {
		return fmt.Errorf("reading document timestamps: %w", err)
	}
	doc.UpdatedAt = now
	return nil
}

// Delete removes the document with the given ID. Tags cascade.
func (s *Store) Delete(ctx context.Context, id string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("taking connection: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`DELETE FROM documents WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{id}})
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	if conn.Changes() == 0 {
		return docstore.ErrNotFound
	}
	return nil
}

// List returns documents matching the query, newest first. When the query
// names tags, only documents carrying every tag are returned.
func (s *Store) List(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("taking connection: %w", err)
	}
	defer s.pool.Put(conn)

	limit := q.NormalizeLimit()
	tags := dedupeTags(q.Tags)

	var (
		query string
		args  []any
	)
	if len(tags) == 0 {
		query = `SELECT id, key, value, created_at, updated_at FROM documents
			ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
		args = []any{limit, q.Offset}
	} else {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(tags)), ",")
		query = fmt.Sprintf(`SELECT d.id, d.key, d.value, d.created_at, d.updated_at
			FROM documents d
			JOIN document_tags t ON t.document_id = d.id
			WHERE t.tag IN (%s)
			GROUP BY d.id
			HAVING COUNT(DISTINCT t.tag) = ?
			ORDER BY d.created_at DESC, d.id DESC
			LIMIT ? OFFSET ?`, placeholders)
		for _, tag := range tags {
			args = append(args, tag)
		}
		args = append(args, len(tags), limit, q.Offset)
	}

	docs := []docstore.Document{}
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			docs = append(docs, scanDocument(stmt))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	for i := range docs {
		tags, err := loadTags(conn, docs[i].ID)
		if err != nil {
			return nil, err
		}
		docs[i].Tags = tags
	}
	return docs, nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("taking connection: %w", err)
	}
	defer s.pool.Put(conn)

	return sqlitex.Execute(conn, `SELECT 1`, &sqlitex.ExecOptions{
		ResultFunc: func(*sqlite.Stmt) error { return nil },
	})
}

// Close closes all pooled connections. Blocks until borrowed connections
// are returned.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("closing sqlite pool: %w", err)
	}
	s.logger.Info("sqlite document store closed", zap.String("path", s.path))
	return nil
}

func scanDocument(stmt *sqlite.Stmt) docstore.Document {
	value := make([]byte, stmt.ColumnLen(2))
	stmt.ColumnBytes(2, value)
	return docstore.Document{
		ID:        stmt.ColumnText(0),
		Key:       stmt.ColumnText(1),
		Value:     value,
		CreatedAt: time.UnixMicro(stmt.ColumnInt64(3)).UTC(),
		UpdatedAt: time.UnixMicro(stmt.ColumnInt64(4)).UTC(),
	}
}

func insertTags(conn *sqlite.Conn, id string, tags []string) error {
	for _, tag := range dedupeTags(tags) {
		err := sqlitex.Execute(conn,
			`INSERT INTO document_tags (document_id, tag) VALUES (?, ?)`,
			&sqlitex.ExecOptions{Args: []any{id, tag}})
		if err != nil {
			return fmt.Errorf("inserting tag %q: %w", tag, err)
		}
	}
	return nil
}

func loadTags(conn *sqlite.Conn, id string) ([]string, error) {
	var tags []string
	err := sqlitex.Execute(conn,
		`SELECT tag FROM document_tags WHERE document_id = ? ORDER BY tag`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				tags = append(tags, stmt.ColumnText(0))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("loading tags: %w", err)
	}
	return tags, nil
}

// blobValue never binds NULL into the NOT NULL value column.
func blobValue(v []byte) []byte {
	if v == nil {
		return []byte{}
	}
	return v
}

func dedupeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}
