package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingPauser struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (p *recordingPauser) Pause(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waits = append(p.waits, d)
	return nil
}

func (p *recordingPauser) Waits() []time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Duration(nil), p.waits...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type hitCounter struct {
	mu   sync.Mutex
	hits map[string]int
}

func (h *hitCounter) inc(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hits[path]++
}

func (h *hitCounter) Get(path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hits[path]
}

// newSite serves robots (404 when empty), HTML pages by exact path, and any
// custom handlers in extra.
func newSite(t *testing.T, robots string, pages map[string]string, extra map[string]http.HandlerFunc) (*httptest.Server, *hitCounter) {
	t.Helper()
	counter := &hitCounter{hits: make(map[string]int)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		counter.inc(r.URL.Path)
		if r.URL.Path == "/robots.txt" {
			if robots == "" {
				http.NotFound(w, r)
				return
			}
			w.Header().Set("Content-Type", "text/plain")
			fmt.Fprint(w, robots)
			return
		}
		if h, ok := extra[r.URL.Path]; ok {
			h(w, r)
			return
		}
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, counter
}

func newTestCrawler(t *testing.T, srv *httptest.Server, mutate func(*Options)) (*Crawler, *recordingPauser) {
	t.Helper()
	opts := DefaultOptions()
	opts.UserAgent = "TestBot"
	opts.HTTPClient = srv.Client()
	if mutate != nil {
		mutate(&opts)
	}
	c, err := New(opts)
	require.NoError(t, err)
	pauser := &recordingPauser{}
	c.scheduler.pause = pauser
	c.retrier.pause = pauser
	return c, pauser
}

type recordingObserver struct {
	nopObserver
	mu      sync.Mutex
	skips   map[string]int
	retries []time.Duration
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{skips: make(map[string]int)}
}

func (o *recordingObserver) PageSkipped(_ string, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.skips[reason]++
}

func (o *recordingObserver) RetryScheduled(_ string, wait time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retries = append(o.retries, wait)
}

func (o *recordingObserver) Skips(reason string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.skips[reason]
}
