package crawler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/ingest-crawler/internal/clock/system"
)

// visitTracker provides thread-safe visited URL tracking to prevent revisits.
type visitTracker interface {
	MarkIfNew(url string) bool
}

type concurrentVisitTracker struct {
	seen sync.Map
}

func newConcurrentVisitTracker() *concurrentVisitTracker {
	return &concurrentVisitTracker{}
}

// MarkIfNew stores the URL if it has not been seen before and returns true.
func (t *concurrentVisitTracker) MarkIfNew(url string) bool {
	if url == "" {
		return false
	}
	_, loaded := t.seen.LoadOrStore(url, struct{}{})
	return !loaded
}

// pauseController abstracts how the crawler sleeps between requests.
type pauseController interface {
	Pause(ctx context.Context, delay time.Duration) error
}

type timerPauseController struct{}

func (p *timerPauseController) Pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("pause interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// Scheduler enforces a minimum spacing between requests to the same origin.
// Origins are paced independently. The pace state only moves forward when
// Record is called, i.e. after a request actually produced a response; a
// Crawler drives WaitFor and Record sequentially, one job at a time.
type Scheduler struct {
	mu       sync.Mutex
	last     map[string]time.Time
	minDelay time.Duration
	clock    Clock
	pause    pauseController
	global   *rate.Limiter
}

// SchedulerOption customizes a Scheduler.
type SchedulerOption func(*Scheduler)

// WithClock overrides the time source.
func WithClock(c Clock) SchedulerOption {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithGlobalRate caps the request rate across all origins. rps <= 0 disables it.
func WithGlobalRate(rps float64) SchedulerOption {
	return func(s *Scheduler) {
		if rps > 0 {
			s.global = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// NewScheduler returns a scheduler that spaces requests by at least minDelay.
func NewScheduler(minDelay time.Duration, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		last:     make(map[string]time.Time),
		minDelay: max(minDelay, 0),
		clock:    system.New(),
		pause:    &timerPauseController{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EffectiveDelay combines the configured minimum with a robots crawl-delay.
func (s *Scheduler) EffectiveDelay(robotsDelay time.Duration) time.Duration {
	return max(s.minDelay, robotsDelay, 0)
}

// WaitFor blocks until origin may be requested again and returns how long it
// waited. robotsDelay is the origin's crawl-delay, or zero.
func (s *Scheduler) WaitFor(ctx context.Context, origin string, robotsDelay time.Duration) (time.Duration, error) {
	wait := s.waitTime(origin, s.EffectiveDelay(robotsDelay))
	if err := s.pause.Pause(ctx, wait); err != nil {
		return wait, err
	}
	if s.global != nil {
		if err := s.global.Wait(ctx); err != nil {
			return wait, fmt.Errorf("global rate wait: %w", err)
		}
	}
	return wait, nil
}

// Record stores now as the time of the latest request to origin.
func (s *Scheduler) Record(origin string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[origin] = s.clock.Now()
}

func (s *Scheduler) waitTime(origin string, delay time.Duration) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, seen := s.last[origin]
	if !seen || delay <= 0 {
		return 0
	}
	return max(last.Add(delay).Sub(s.clock.Now()), 0)
}
