package crawler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const maxRobotsBytes = 1 << 20

// Robots outcomes reported to the Observer.
const (
	RobotsOutcomeRules = "rules"
	RobotsOutcomeNone  = "none"
	RobotsOutcomeError = "error"
)

// RobotsGovernor fetches, parses, and caches robots.txt per origin. The first
// caller for an origin triggers the fetch; concurrent callers share it and
// later callers read the cached result. Failures resolve to "no rules".
type RobotsGovernor struct {
	client    *http.Client
	userAgent string
	logger    *zap.Logger
	observer  Observer

	flight singleflight.Group
	mu     sync.RWMutex
	// cache maps origin to its parsed rules; a nil value means "no rules".
	cache map[string]*robotstxt.RobotsData
}

// NewRobotsGovernor builds a governor that identifies itself with userAgent.
func NewRobotsGovernor(client *http.Client, userAgent string, logger *zap.Logger) *RobotsGovernor {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RobotsGovernor{
		client:    client,
		userAgent: userAgent,
		logger:    logger,
		observer:  nopObserver{},
		cache:     make(map[string]*robotstxt.RobotsData),
	}
}

// WithObserver sets the telemetry observer and returns the governor.
func (r *RobotsGovernor) WithObserver(o Observer) *RobotsGovernor {
	if o != nil {
		r.observer = o
	}
	return r
}

// IsAllowed reports whether the governor's user agent may fetch rawURL.
// Like an unreachable robots.txt, an unparsable URL allows access; the fetch
// itself then reports the bad URL.
func (r *RobotsGovernor) IsAllowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		r.logger.Debug("robots check on unparsable url; allowing access", zap.String("url", rawURL), zap.Error(err))
		return true
	}
	data := r.rules(ctx, u)
	if data == nil {
		return true
	}
	return data.TestAgent(robotsPath(u), r.userAgent)
}

// CrawlDelay returns the crawl-delay directive that applies to rawURL, rounded
// to the nearest millisecond. The boolean is false when no rules or no
// directive apply.
func (r *RobotsGovernor) CrawlDelay(ctx context.Context, rawURL string) (time.Duration, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, false
	}
	data := r.rules(ctx, u)
	if data == nil {
		return 0, false
	}
	group := data.FindGroup(r.userAgent)
	if group == nil || group.CrawlDelay <= 0 {
		return 0, false
	}
	return group.CrawlDelay.Round(time.Millisecond), true
}

func (r *RobotsGovernor) rules(ctx context.Context, u *url.URL) *robotstxt.RobotsData {
	origin := originOf(u)
	if data, ok := r.cached(origin); ok {
		return data
	}
	v, _, _ := r.flight.Do(origin, func() (any, error) {
		if data, ok := r.cached(origin); ok {
			return data, nil
		}
		data, err := r.fetch(ctx, origin)
		if err != nil {
			r.logger.Debug("robots fetch failed; allowing access", zap.String("origin", origin), zap.Error(err))
			r.observer.RobotsResolved(origin, RobotsOutcomeError)
			if ctx.Err() != nil {
				// Leave the origin unresolved so a live context can retry it.
				return (*robotstxt.RobotsData)(nil), nil
			}
		} else if data == nil {
			r.observer.RobotsResolved(origin, RobotsOutcomeNone)
		} else {
			r.observer.RobotsResolved(origin, RobotsOutcomeRules)
		}
		r.mu.Lock()
		r.cache[origin] = data
		r.mu.Unlock()
		return data, nil
	})
	data, _ := v.(*robotstxt.RobotsData)
	return data
}

func (r *RobotsGovernor) cached(origin string) (*robotstxt.RobotsData, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	data, ok := r.cache[origin]
	return data, ok
}

// fetch returns nil rules (and nil error) when the origin publishes nothing
// enforceable.
func (r *RobotsGovernor) fetch(ctx context.Context, origin string) (*robotstxt.RobotsData, error) {
	robotsURL := origin + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			r.logger.Debug("Failed to close robots response body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		r.logger.Info("robots.txt unavailable; no rules",
			zap.String("origin", origin),
			zap.Int("status", resp.StatusCode),
		)
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	return data, nil
}

func robotsPath(u *url.URL) string {
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return p
}
