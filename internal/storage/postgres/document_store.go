// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/ingest-crawler/internal/storage"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "documents"

// DocumentStoreConfig controls the Postgres connection pool used for documents.
type DocumentStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type queryCloser interface {
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// DocumentStore upserts crawled documents into Postgres.
type DocumentStore struct {
	pool  queryCloser
	table string
}

var _ storage.DocumentStore = (*DocumentStore)(nil)

// NewDocumentStore creates a Postgres-backed DocumentStore using the provided config.
func NewDocumentStore(ctx context.Context, cfg DocumentStoreConfig) (*DocumentStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
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
	return &DocumentStore{pool: pool, table: table}, nil
}

// NewDocumentStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewDocumentStoreWithPool(pool queryCloser, table string) (*DocumentStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &DocumentStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		return defaultTable, nil
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *DocumentStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// UpsertDocument inserts doc, or refreshes the existing row with the same
// URL, and returns the row ID.
func (s *DocumentStore) UpsertDocument(ctx context.Context, doc storage.Document) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, fmt.Errorf("document store is not configured")
	}
	if doc.URL == "" {
		return 0, fmt.Errorf("document url is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	url,
	title,
	raw_html,
	content,
	content_hash,
	blob_uri,
	depth,
	fetched_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)
ON CONFLICT (url) DO UPDATE SET
	title = EXCLUDED.title,
	raw_html = EXCLUDED.raw_html,
	content = EXCLUDED.content,
	content_hash = EXCLUDED.content_hash,
	blob_uri = EXCLUDED.blob_uri,
	depth = EXCLUDED.depth,
	fetched_at = EXCLUDED.fetched_at
RETURNING id`, s.table)

	var title *string
	if doc.Title != "" {
		title = &doc.Title
	}
	var id int64
	err := s.pool.QueryRow(ctx, query,
		doc.URL,
		title,
		doc.RawHTML,
		doc.Content,
		doc.ContentHash,
		doc.BlobURI,
		doc.Depth,
		doc.FetchedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert document: %w", err)
	}
	return id, nil
}
