// Package ingest turns crawled pages into stored documents.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/ingest-crawler/internal/clock/system"
	"github.com/JakeFAU/ingest-crawler/internal/crawler"
	"github.com/JakeFAU/ingest-crawler/internal/extract"
	"github.com/JakeFAU/ingest-crawler/internal/hash/sha256"
	"github.com/JakeFAU/ingest-crawler/internal/storage"
)

const (
	// DefaultMinTextLength is the shortest extracted text worth storing.
	DefaultMinTextLength = 500
	defaultContentType   = "text/html; charset=utf-8"
)

// ErrNoDocumentStore is returned by New when no DocumentStore is supplied.
var ErrNoDocumentStore = errors.New("ingest: document store is required")

// Publisher sends page notifications.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Config controls Handler behavior.
type Config struct {
	// MinTextLength is measured in runes. Zero selects DefaultMinTextLength;
	// a negative value stores every page.
	MinTextLength int
	BlobPrefix    string
	ContentType   string
	Topic         string
	RunID         string
}

// Notification is the payload published for each stored page.
type Notification struct {
	RunID       string `json:"run_id,omitempty"`
	DocumentID  int64  `json:"document_id"`
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	BlobURI     string `json:"blob_uri,omitempty"`
	ContentHash string `json:"content_hash"`
	Depth       int    `json:"depth"`
	FetchedAt   string `json:"fetched_at"`
}

// Stats counts handler outcomes.
type Stats struct {
	Stored  int64
	TooThin int64
	Failed  int64
}

// Handler extracts, stores and announces crawled pages.
type Handler struct {
	blobs     storage.BlobStore
	docs      storage.DocumentStore
	publisher Publisher
	hasher    *sha256.Hasher
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger

	stored  atomic.Int64
	tooThin atomic.Int64
	failed  atomic.Int64
}

// New constructs a Handler. blobs and publisher may be nil; clock defaults to
// the system clock.
func New(
	blobs storage.BlobStore,
	docs storage.DocumentStore,
	publisher Publisher,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) (*Handler, error) {
	if docs == nil {
		return nil, ErrNoDocumentStore
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MinTextLength == 0 {
		cfg.MinTextLength = DefaultMinTextLength
	}
	if cfg.ContentType == "" {
		cfg.ContentType = defaultContentType
	}
	return &Handler{
		blobs:     blobs,
		docs:      docs,
		publisher: publisher,
		hasher:    sha256.New(),
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// PageHandler adapts h for crawler.Crawl.
func (h *Handler) PageHandler() crawler.PageHandler {
	return h.Handle
}

// Stats returns a snapshot of the outcome counters.
func (h *Handler) Stats() Stats {
	return Stats{
		Stored:  h.stored.Load(),
		TooThin: h.tooThin.Load(),
		Failed:  h.failed.Load(),
	}
}

// Handle ingests one page. Pages whose text is shorter than the configured
// minimum are skipped without error.
func (h *Handler) Handle(ctx context.Context, page crawler.Page) error {
	if err := h.handle(ctx, page); err != nil {
		h.failed.Add(1)
		h.logger.Warn("ingest failed", zap.String("url", page.URL), zap.Error(err))
		return err
	}
	return nil
}

func (h *Handler) handle(ctx context.Context, page crawler.Page) error {
	content, err := extract.FromHTML(page.Body)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	if n := utf8.RuneCountInString(content.Text); n < h.cfg.MinTextLength {
		h.tooThin.Add(1)
		h.logger.Debug("skipping thin page",
			zap.String("url", page.URL),
			zap.Int("chars", n),
			zap.Int("min", h.cfg.MinTextLength),
		)
		return nil
	}

	fetchedAt := h.clock.Now()
	doc := storage.Document{
		URL:         page.URL,
		Title:       content.Title,
		RawHTML:     string(page.Body),
		Content:     content.Text,
		ContentHash: h.hasher.HashString(content.Text),
		Depth:       page.Depth,
		FetchedAt:   fetchedAt,
	}

	if h.blobs != nil {
		name := storage.ObjectName(h.cfg.BlobPrefix, page.URL, fetchedAt)
		uri, err := h.blobs.PutObject(ctx, name, h.cfg.ContentType, bytes.NewReader(page.Body))
		if err != nil {
			return fmt.Errorf("put object: %w", err)
		}
		doc.BlobURI = uri
	}

	id, err := h.docs.UpsertDocument(ctx, doc)
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	h.stored.Add(1)
	h.logger.Debug("document stored",
		zap.String("url", doc.URL),
		zap.Int64("document_id", id),
		zap.String("blob_uri", doc.BlobURI),
		zap.String("hash", doc.ContentHash),
	)

	return h.publish(ctx, id, doc)
}

func (h *Handler) publish(ctx context.Context, id int64, doc storage.Document) error {
	if h.cfg.Topic == "" || h.publisher == nil {
		return nil
	}
	msgID, err := h.publisher.Publish(ctx, h.cfg.Topic, Notification{
		RunID:       h.cfg.RunID,
		DocumentID:  id,
		URL:         doc.URL,
		Title:       doc.Title,
		BlobURI:     doc.BlobURI,
		ContentHash: doc.ContentHash,
		Depth:       doc.Depth,
		FetchedAt:   doc.FetchedAt.Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	h.logger.Info("page published",
		zap.String("url", doc.URL),
		zap.String("message_id", msgID),
		zap.String("topic", h.cfg.Topic),
	)
	return nil
}
