// Package storage defines how crawled pages are persisted: raw bodies go to a
// BlobStore and extracted documents to a DocumentStore.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/JakeFAU/ingest-crawler/internal/hash/sha256"
)

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Document is one ingested page.
type Document struct {
	URL         string
	Title       string
	RawHTML     string
	Content     string
	ContentHash string
	BlobURI     string
	Depth       int
	FetchedAt   time.Time
}

// DocumentStore upserts documents keyed by URL and returns their row ID.
type DocumentStore interface {
	UpsertDocument(ctx context.Context, doc Document) (int64, error)
}

// ObjectName builds a date-partitioned object path for a page snapshot.
func ObjectName(prefix, pageURL string, fetchedAt time.Time) string {
	if prefix == "" {
		prefix = "pages"
	}
	return path.Join(
		prefix,
		fetchedAt.UTC().Format("2006-01-02"),
		fmt.Sprintf("%s.html", sha256.New().HashString(pageURL)),
	)
}
