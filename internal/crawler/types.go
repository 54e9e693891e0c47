package crawler

import (
	"context"
	"net/http"
	"time"
)

// CrawlJob is a single frontier entry. It is created when a seed is enqueued or
// a link is discovered and is consumed exactly once.
type CrawlJob struct {
	URL        string
	Depth      int
	SeedOrigin string
}

// Page is handed to the PageHandler for every successfully fetched document.
type Page struct {
	// URL is the normalized URL that was requested.
	URL string
	// FinalURL is the URL after redirects; it equals URL when none occurred.
	FinalURL string
	// Body holds the (size-capped) response body.
	Body []byte
	// Response carries status and headers. Its body has already been drained.
	Response *http.Response
	// Depth is the link distance from the seed.
	Depth int
}

// PageHandler consumes fetched pages. The crawler waits for it to return
// before dequeuing the next job.
type PageHandler func(ctx context.Context, page Page) error

// CrawlError is one recoverable per-job failure.
type CrawlError struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// Result summarizes a crawl run.
type Result struct {
	Visited    int          `json:"visited"`
	Discovered int          `json:"discovered"`
	Errors     []CrawlError `json:"errors"`
}

func (r *Result) addError(url, description string) {
	r.Errors = append(r.Errors, CrawlError{URL: url, Error: description})
}

// Skip reasons reported to the Observer.
const (
	SkipRobots      = "robots"
	SkipContentType = "content_type"
)

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Observer receives crawl telemetry. Implementations must be safe for
// concurrent use.
type Observer interface {
	PageFetched(origin string, status int, bytes int)
	PageSkipped(origin string, reason string)
	JobFailed(origin string)
	RetryScheduled(origin string, wait time.Duration)
	RobotsResolved(origin string, outcome string)
	PolitenessWaited(origin string, wait time.Duration)
	HandlerFinished(duration time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) PageFetched(string, int, int)           {}
func (nopObserver) PageSkipped(string, string)             {}
func (nopObserver) JobFailed(string)                       {}
func (nopObserver) RetryScheduled(string, time.Duration)   {}
func (nopObserver) RobotsResolved(string, string)          {}
func (nopObserver) PolitenessWaited(string, time.Duration) {}
func (nopObserver) HandlerFinished(time.Duration, error)   {}
