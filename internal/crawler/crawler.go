package crawler

import (
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/JakeFAU/ingest-crawler/internal/crawler"

// Crawler runs breadth-first traversals. A Crawler may run several crawls in
// sequence; each Crawl call owns its own frontier and visited set while the
// robots cache and pace state live as long as the Crawler.
type Crawler struct {
	opts      Options
	logger    *zap.Logger
	observer  Observer
	robots    *RobotsGovernor
	scheduler *Scheduler
	retrier   *Retrier
	blocklist *hostBlocklist
	headers   http.Header
	tracer    trace.Tracer
}

// New validates opts and assembles a Crawler.
func New(opts Options) (*Crawler, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid crawler options: %w", err)
	}
	opts = opts.withFallbacks()

	robots := opts.Robots
	if robots == nil {
		robots = NewRobotsGovernor(opts.HTTPClient, opts.UserAgent, opts.Logger).WithObserver(opts.Observer)
	}

	schedOpts := []SchedulerOption{WithGlobalRate(opts.GlobalRPS)}
	if opts.Clock != nil {
		schedOpts = append(schedOpts, WithClock(opts.Clock))
	}

	retrier := NewRetrier(opts.HTTPClient, opts.Retry, opts.Logger)
	retrier.observer = opts.Observer

	return &Crawler{
		opts:      opts,
		logger:    opts.Logger,
		observer:  opts.Observer,
		robots:    robots,
		scheduler: NewScheduler(opts.MinDelay, schedOpts...),
		retrier:   retrier,
		blocklist: newHostBlocklist(opts.DenyHosts),
		headers:   opts.requestHeaders(),
		tracer:    otel.Tracer(tracerName),
	}, nil
}

// Options returns the effective options, fallbacks applied.
func (c *Crawler) Options() Options {
	return c.opts
}
