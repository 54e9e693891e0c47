package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// errSkipped marks a job that ended without a page and without an error.
var errSkipped = errors.New("skipped")

// Crawl traverses the web breadth-first from seeds, handing every fetched page
// to onPage. It stops when the frontier is empty, MaxPages pages were
// visited, or ctx is done. On cancellation the partial result is returned
// together with the context error. Per-job failures are collected in
// Result.Errors and never abort the run.
func (c *Crawler) Crawl(ctx context.Context, seeds []string, onPage PageHandler) (Result, error) {
	var result Result
	visited := newConcurrentVisitTracker()
	queue := make([]CrawlJob, 0, len(seeds))

	for _, seed := range seeds {
		normalized, err := NormalizeURL(seed)
		if err != nil {
			return result, fmt.Errorf("%w: %w", ErrInvalidSeed, err)
		}
		u, err := url.Parse(normalized)
		if err != nil || !isHTTPScheme(u.Scheme) {
			return result, fmt.Errorf("%w: %w: %q is not http(s)", ErrInvalidSeed, ErrInvalidURL, seed)
		}
		if !visited.MarkIfNew(normalized) {
			continue
		}
		queue = append(queue, CrawlJob{URL: normalized, Depth: 0, SeedOrigin: originOf(u)})
	}
	result.Discovered = len(queue)

	c.logger.Info("Starting crawl",
		zap.Int("seeds", len(queue)),
		zap.Int("max_pages", c.opts.MaxPages),
		zap.Int("max_depth", c.opts.MaxDepth),
	)

	for len(queue) > 0 && result.Visited < c.opts.MaxPages {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		job := queue[0]
		queue = queue[1:]

		links, err := c.process(ctx, job, onPage, &result)
		if err != nil && ctx.Err() != nil {
			return result, ctx.Err()
		}
		for _, link := range links {
			if !visited.MarkIfNew(link) {
				continue
			}
			queue = append(queue, CrawlJob{URL: link, Depth: job.Depth + 1, SeedOrigin: job.SeedOrigin})
			result.Discovered++
		}
	}

	c.logger.Info("Crawl finished",
		zap.Int("visited", result.Visited),
		zap.Int("discovered", result.Discovered),
		zap.Int("errors", len(result.Errors)),
		zap.Int("pending", len(queue)),
	)
	return result, nil
}

// process runs one job and returns the candidate links it produced.
func (c *Crawler) process(ctx context.Context, job CrawlJob, onPage PageHandler, result *Result) ([]string, error) {
	ctx, span := c.tracer.Start(ctx, "crawler.job")
	defer span.End()
	span.SetAttributes(
		attribute.String("crawler.url", job.URL),
		attribute.Int("crawler.depth", job.Depth),
	)

	page, err := c.fetchPage(ctx, job)
	switch {
	case errors.Is(err, errSkipped):
		span.SetAttributes(attribute.Bool("crawler.skipped", true))
		return nil, nil
	case err != nil:
		if ctx.Err() != nil {
			return nil, err
		}
		desc := describeError(err)
		var statusErr *HTTPStatusError
		if errors.As(err, &statusErr) {
			desc = statusErr.Error()
		}
		result.addError(job.URL, desc)
		c.observer.JobFailed(job.SeedOrigin)
		c.logger.Warn("Crawl job failed", zap.String("url", job.URL), zap.String("error", desc))
		span.SetStatus(codes.Error, desc)
		return nil, err
	}

	result.Visited++
	if herr := c.runHandler(ctx, onPage, page); herr != nil {
		result.addError(job.URL, "handler: "+herr.Error())
		c.logger.Warn("Page handler failed", zap.String("url", job.URL), zap.Error(herr))
		span.RecordError(herr)
	}

	if job.Depth >= c.opts.MaxDepth {
		return nil, nil
	}
	return c.discover(job, page, result), nil
}

// fetchPage applies robots, politeness, retrying fetch and response filters.
// It returns errSkipped for robots denials and disallowed content types.
func (c *Crawler) fetchPage(ctx context.Context, job CrawlJob) (Page, error) {
	origin, err := OriginOf(job.URL)
	if err != nil {
		return Page{}, err
	}

	var robotsDelay time.Duration
	if c.opts.RespectRobots {
		if !c.robots.IsAllowed(ctx, job.URL) {
			c.logger.Info("Skipping URL disallowed by robots.txt", zap.String("url", job.URL))
			c.observer.PageSkipped(origin, SkipRobots)
			return Page{}, errSkipped
		}
		if d, ok := c.robots.CrawlDelay(ctx, job.URL); ok {
			robotsDelay = d
		}
	}

	waited, err := c.scheduler.WaitFor(ctx, origin, robotsDelay)
	if err != nil {
		return Page{}, err
	}
	if waited > 0 {
		c.observer.PolitenessWaited(origin, waited)
		c.logger.Debug("Politeness wait", zap.String("origin", origin), zap.Duration("wait", waited))
	}

	resp, err := c.retrier.FetchWithRetry(ctx, job.URL, c.headers)
	if err != nil {
		return Page{}, err
	}
	c.scheduler.Record(origin)
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("Failed to close response body", zap.Error(cerr))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.observer.PageFetched(origin, resp.StatusCode, 0)
		return Page{}, &HTTPStatusError{StatusCode: resp.StatusCode}
	}

	contentType := resp.Header.Get("Content-Type")
	if !c.opts.AllowedContentTypes.MatchString(contentType) {
		c.logger.Info("Skipping disallowed content type",
			zap.String("url", job.URL),
			zap.String("content_type", contentType),
		)
		c.observer.PageFetched(origin, resp.StatusCode, 0)
		c.observer.PageSkipped(origin, SkipContentType)
		return Page{}, errSkipped
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.opts.MaxBodyBytes))
	if err != nil {
		return Page{}, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) == c.opts.MaxBodyBytes {
		c.logger.Warn("Response body truncated",
			zap.String("url", job.URL),
			zap.Int64("limit_bytes", c.opts.MaxBodyBytes),
		)
	}
	c.observer.PageFetched(origin, resp.StatusCode, len(body))

	finalURL := job.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	resp.Body = http.NoBody
	return Page{
		URL:      job.URL,
		FinalURL: finalURL,
		Body:     body,
		Response: resp,
		Depth:    job.Depth,
	}, nil
}

// HTTPStatusError reports a non-2xx response after retries were exhausted.
type HTTPStatusError struct {
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

func (c *Crawler) runHandler(ctx context.Context, onPage PageHandler, page Page) (err error) {
	if onPage == nil {
		return nil
	}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		c.observer.HandlerFinished(time.Since(start), err)
	}()
	return onPage(ctx, page)
}

// discover extracts the page's links and returns those that pass the scope
// filters, normalized. Deduplication against the visited set is left to the
// caller.
func (c *Crawler) discover(job CrawlJob, page Page, result *Result) []string {
	base := page.FinalURL
	if base == "" {
		base = job.URL
	}

	var out []string
	for _, next := range ExtractLinks(string(page.Body), base) {
		u, err := url.Parse(next)
		if err != nil || !isHTTPScheme(u.Scheme) || u.Host == "" {
			continue
		}
		if c.opts.SameOriginOnly && literalOrigin(u) != job.SeedOrigin {
			continue
		}
		normalized, err := NormalizeURL(next)
		if err != nil {
			result.addError(next, describeError(err))
			continue
		}
		nu, err := url.Parse(normalized)
		if err != nil {
			continue
		}
		if c.opts.SameOriginOnly && originOf(nu) != job.SeedOrigin {
			continue
		}
		if c.opts.URLFilter != nil && !c.opts.URLFilter(normalized) {
			continue
		}
		if c.excluded(normalized) || c.blocklist.Blocked(nu.Hostname()) {
			continue
		}
		out = append(out, normalized)
	}
	return out
}

func (c *Crawler) excluded(rawURL string) bool {
	for _, re := range c.opts.ExcludePatterns {
		if re != nil && re.MatchString(rawURL) {
			return true
		}
	}
	return false
}
