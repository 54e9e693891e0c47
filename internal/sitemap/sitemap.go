// Package sitemap discovers crawl seeds from XML sitemaps and HTML sitemap pages.
package sitemap

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"
	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/ingest-crawler/internal/crawler"
)

const (
	maxSitemapBytes = 50 << 20
	defaultParallel = 4
)

// fallbackPaths are tried on every origin in addition to robots.txt entries.
var fallbackPaths = []string{"/sitemap.xml", "/sitemap_index.xml"}

var assetExtension = regexp.MustCompile(`(?i)\.(png|jpe?g|gif|svg|webp|ico|css|js|pdf|zip)(\?|$)`)

// LooksLikeHTML rejects URLs that point at common static assets.
func LooksLikeHTML(rawURL string) bool {
	return !assetExtension.MatchString(rawURL)
}

// Discoverer finds page URLs advertised by an origin's sitemaps.
type Discoverer struct {
	client    *http.Client
	userAgent string
	logger    *zap.Logger
	parallel  int
}

// Option customizes a Discoverer.
type Option func(*Discoverer)

// WithParallelism bounds concurrent sitemap fetches.
func WithParallelism(n int) Option {
	return func(d *Discoverer) {
		if n > 0 {
			d.parallel = n
		}
	}
}

// NewDiscoverer builds a Discoverer.
func NewDiscoverer(client *http.Client, userAgent string, logger *zap.Logger, opts ...Option) *Discoverer {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Discoverer{client: client, userAgent: userAgent, logger: logger, parallel: defaultParallel}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Discover returns the <loc> URLs of every sitemap listed in robots.txt plus
// the conventional fallbacks, deduplicated in first-seen order. A sitemap
// index is followed one level deep. Unreachable or malformed sitemaps
// contribute nothing; only an invalid origin or a done context is an error.
func (d *Discoverer) Discover(ctx context.Context, origin string) ([]string, error) {
	origin, err := crawler.OriginOf(origin)
	if err != nil {
		return nil, fmt.Errorf("discover sitemaps: %w", err)
	}
	candidates := dedupe(append(d.robotsSitemaps(ctx, origin), fallbackURLs(origin)...))
	d.logger.Debug("Sitemap candidates", zap.String("origin", origin), zap.Strings("candidates", candidates))

	urls, err := d.fetchAll(ctx, candidates, 0)
	if err != nil {
		return nil, err
	}
	return dedupe(urls), nil
}

// HTMLSitemap scrapes an HTML sitemap page and keeps HTML-looking links under
// prefix. Fetch failures yield no URLs.
func (d *Discoverer) HTMLSitemap(ctx context.Context, pageURL, prefix string) ([]string, error) {
	body, err := d.get(ctx, pageURL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		d.logger.Info("HTML sitemap unavailable", zap.String("url", pageURL), zap.Error(err))
		return nil, nil
	}
	var out []string
	for _, link := range crawler.ExtractLinks(string(body), pageURL) {
		if strings.HasPrefix(link, prefix) && LooksLikeHTML(link) {
			out = append(out, link)
		}
	}
	return dedupe(out), nil
}

func (d *Discoverer) robotsSitemaps(ctx context.Context, origin string) []string {
	body, err := d.get(ctx, origin+"/robots.txt")
	if err != nil {
		d.logger.Debug("robots.txt unavailable for sitemap discovery", zap.String("origin", origin), zap.Error(err))
		return nil
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(data.Sitemaps))
	for _, s := range data.Sitemaps {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// fetchAll fetches sitemaps concurrently and concatenates their URLs in
// candidate order.
func (d *Discoverer) fetchAll(ctx context.Context, sitemaps []string, depth int) ([]string, error) {
	results := make([][]string, len(sitemaps))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.parallel)
	for i, sm := range sitemaps {
		g.Go(func() error {
			urls, err := d.fromSitemap(gctx, sm, depth)
			results[i] = urls
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var out []string
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

// fromSitemap returns an error only when the context is done.
func (d *Discoverer) fromSitemap(ctx context.Context, sitemapURL string, depth int) ([]string, error) {
	body, err := d.get(ctx, sitemapURL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		d.logger.Debug("Sitemap unavailable", zap.String("url", sitemapURL), zap.Error(err))
		return nil, nil
	}
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		d.logger.Info("Sitemap is not valid XML", zap.String("url", sitemapURL), zap.Error(err))
		return nil, nil
	}
	locs := locValues(doc)
	if xmlquery.FindOne(doc, "//*[local-name()='sitemapindex']") == nil {
		return locs, nil
	}
	if depth >= 1 {
		return nil, nil
	}
	return d.fetchAll(ctx, locs, depth+1)
}

func locValues(doc *xmlquery.Node) []string {
	var out []string
	for _, n := range xmlquery.Find(doc, "//*[local-name()='loc']") {
		if v := strings.TrimSpace(n.InnerText()); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (d *Discoverer) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			d.logger.Debug("Failed to close response body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: HTTP %d", rawURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSitemapBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}
	return body, nil
}

func fallbackURLs(origin string) []string {
	out := make([]string, 0, len(fallbackPaths))
	for _, p := range fallbackPaths {
		out = append(out, origin+p)
	}
	return out
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
