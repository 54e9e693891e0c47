package crawler

import (
	"fmt"
	"net/http"
	"regexp"
	"time"

	"go.uber.org/zap"
)

// Defaults applied by DefaultOptions.
const (
	DefaultUserAgent    = "DentistryGPTCrawler"
	DefaultMaxPages     = 200
	DefaultMaxDepth     = 3
	DefaultMaxBodyBytes = 10 << 20

	acceptHeader         = "text/html,application/xhtml+xml;q=0.9,*/*;q=0.1"
	acceptLanguageHeader = "en-CA,en;q=0.9"
)

// DefaultAllowedContentTypes admits HTML documents only.
var DefaultAllowedContentTypes = regexp.MustCompile(`(?i)^text/html\b`)

// Options captures every knob that influences a crawl run. Start from
// DefaultOptions: the zero value of the boolean fields disables them.
type Options struct {
	UserAgent string
	// MaxPages caps the number of pages handed to the PageHandler.
	MaxPages int
	// MaxDepth is the link-following ceiling; 0 fetches only the seeds.
	MaxDepth int
	// SameOriginOnly restricts link-following to each job's seed origin.
	SameOriginOnly bool
	RespectRobots  bool
	MinDelay       time.Duration
	// URLFilter, when set, must accept a normalized URL for it to be enqueued.
	URLFilter       func(url string) bool
	ExcludePatterns []*regexp.Regexp
	// DenyHosts lists exact hosts or "*.suffix" patterns that are never enqueued.
	DenyHosts           []string
	AllowedContentTypes *regexp.Regexp
	MaxBodyBytes        int64
	Retry               RetryPolicy
	// GlobalRPS caps requests per second across all origins; 0 disables it.
	GlobalRPS float64

	Logger     *zap.Logger
	HTTPClient *http.Client
	Observer   Observer
	// Robots lets several runs share one governor; nil creates one per Crawler.
	Robots *RobotsGovernor
	Clock  Clock
}

// DefaultOptions returns the crawl defaults.
func DefaultOptions() Options {
	return Options{
		UserAgent:           DefaultUserAgent,
		MaxPages:            DefaultMaxPages,
		MaxDepth:            DefaultMaxDepth,
		SameOriginOnly:      true,
		RespectRobots:       true,
		AllowedContentTypes: DefaultAllowedContentTypes,
		MaxBodyBytes:        DefaultMaxBodyBytes,
		Retry:               DefaultRetryPolicy(),
	}
}

// Validate checks for obviously bad configuration combinations.
func (o Options) Validate() error {
	if o.MaxDepth < 0 {
		return fmt.Errorf("max depth must be >= 0")
	}
	if o.MinDelay < 0 {
		return fmt.Errorf("min delay must be >= 0")
	}
	if o.Retry.MaxRetries < 0 {
		return fmt.Errorf("max retries must be >= 0")
	}
	if o.GlobalRPS < 0 {
		return fmt.Errorf("global rps must be >= 0")
	}
	return nil
}

func (o Options) withFallbacks() Options {
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.MaxPages <= 0 {
		o.MaxPages = DefaultMaxPages
	}
	if o.AllowedContentTypes == nil {
		o.AllowedContentTypes = DefaultAllowedContentTypes
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	return o
}

func (o Options) requestHeaders() http.Header {
	h := make(http.Header)
	h.Set("User-Agent", o.UserAgent)
	h.Set("Accept", acceptHeader)
	h.Set("Accept-Language", acceptLanguageHeader)
	return h
}
