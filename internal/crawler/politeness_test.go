package crawler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentVisitTracker(t *testing.T) {
	tracker := newConcurrentVisitTracker()
	require.True(t, tracker.MarkIfNew("https://example.org/first"))
	require.False(t, tracker.MarkIfNew("https://example.org/first"))
	require.True(t, tracker.MarkIfNew("https://example.org/second"))
	require.False(t, tracker.MarkIfNew(""))
}

func TestTimerPauseControllerHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pauser := &timerPauseController{}
	start := time.Now()
	err := pauser.Pause(ctx, 5*time.Second)
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), time.Second, "pause should exit immediately when context is done")
}

func newTestScheduler(minDelay time.Duration) (*Scheduler, *fakeClock, *recordingPauser) {
	clk := newFakeClock()
	pauser := &recordingPauser{}
	s := NewScheduler(minDelay, WithClock(clk))
	s.pause = pauser
	return s, clk, pauser
}

func TestSchedulerSpacesSameOrigin(t *testing.T) {
	ctx := context.Background()
	s, clk, pauser := newTestScheduler(100 * time.Millisecond)

	wait, err := s.WaitFor(ctx, "https://a.test", 0)
	require.NoError(t, err)
	assert.Zero(t, wait, "first request to an origin never waits")
	s.Record("https://a.test")

	clk.Advance(30 * time.Millisecond)
	wait, err = s.WaitFor(ctx, "https://a.test", 0)
	require.NoError(t, err)
	assert.Equal(t, 70*time.Millisecond, wait)

	wait, err = s.WaitFor(ctx, "https://b.test", 0)
	require.NoError(t, err)
	assert.Zero(t, wait, "origins are paced independently")

	assert.Equal(t, []time.Duration{70 * time.Millisecond}, pauser.Waits())
}

func TestSchedulerUsesLargerRobotsDelay(t *testing.T) {
	ctx := context.Background()
	s, clk, _ := newTestScheduler(100 * time.Millisecond)
	s.Record("https://a.test")
	clk.Advance(30 * time.Millisecond)

	wait, err := s.WaitFor(ctx, "https://a.test", 500*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 470*time.Millisecond, wait)
}

func TestSchedulerStateOnlyMovesOnRecord(t *testing.T) {
	ctx := context.Background()
	s, clk, _ := newTestScheduler(time.Second)
	s.Record("https://a.test")
	clk.Advance(400 * time.Millisecond)

	first, err := s.WaitFor(ctx, "https://a.test", 0)
	require.NoError(t, err)
	second, err := s.WaitFor(ctx, "https://a.test", 0)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	clk.Advance(2 * time.Second)
	wait, err := s.WaitFor(ctx, "https://a.test", 0)
	require.NoError(t, err)
	assert.Zero(t, wait)
}

func TestSchedulerZeroDelayNeverWaits(t *testing.T) {
	s, _, pauser := newTestScheduler(0)
	s.Record("https://a.test")
	wait, err := s.WaitFor(context.Background(), "https://a.test", 0)
	require.NoError(t, err)
	assert.Zero(t, wait)
	assert.Empty(t, pauser.Waits())
}

func TestSchedulerEffectiveDelay(t *testing.T) {
	s := NewScheduler(200 * time.Millisecond)
	assert.Equal(t, 200*time.Millisecond, s.EffectiveDelay(0))
	assert.Equal(t, time.Second, s.EffectiveDelay(time.Second))
	assert.Equal(t, 200*time.Millisecond, s.EffectiveDelay(-time.Second))
	assert.Zero(t, NewScheduler(-time.Second).EffectiveDelay(0))
}

func TestSchedulerWaitHonorsContext(t *testing.T) {
	s, _, _ := newTestScheduler(time.Second)
	s.Record("https://a.test")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.WaitFor(ctx, "https://a.test", 0)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSchedulerGlobalRate(t *testing.T) {
	s := NewScheduler(0, WithGlobalRate(1000))
	require.NotNil(t, s.global)
	_, err := s.WaitFor(context.Background(), "https://a.test", 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.WaitFor(ctx, "https://b.test", 0)
	require.Error(t, err)

	assert.Nil(t, NewScheduler(0, WithGlobalRate(0)).global)
}
