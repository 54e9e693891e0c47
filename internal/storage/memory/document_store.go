package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/ingest-crawler/internal/storage"
)

// DocumentStore upserts documents by URL, assigning stable sequential IDs.
type DocumentStore struct {
	mu     sync.RWMutex
	nextID int64
	ids    map[string]int64
	docs   map[string]storage.Document
}

// NewDocumentStore returns an empty DocumentStore.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		ids:  make(map[string]int64),
		docs: make(map[string]storage.Document),
	}
}

// UpsertDocument inserts doc or replaces the stored row with the same URL.
func (s *DocumentStore) UpsertDocument(ctx context.Context, doc storage.Document) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("upsert document: %w", err)
	}
	if doc.URL == "" {
		return 0, fmt.Errorf("document url is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.ids[doc.URL]
	if !ok {
		s.nextID++
		id = s.nextID
		s.ids[doc.URL] = id
	}
	s.docs[doc.URL] = doc
	return id, nil
}

// Document returns the stored document for url.
func (s *DocumentStore) Document(url string) (storage.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[url]
	return doc, ok
}

// Len reports how many distinct URLs are stored.
func (s *DocumentStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}
