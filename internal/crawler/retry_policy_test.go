package crawler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newTestRetrier(client *http.Client, policy RetryPolicy, logger *zap.Logger) (*Retrier, *recordingPauser) {
	r := NewRetrier(client, policy, logger)
	pauser := &recordingPauser{}
	r.pause = pauser
	return r, pauser
}

func TestRetrierHonorsRetryAfter(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	core, logs := observer.New(zapcore.InfoLevel)
	r, pauser := newTestRetrier(srv.Client(), DefaultRetryPolicy(), zap.New(core))

	resp, err := r.FetchWithRetry(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), attempts.Load())
	assert.Equal(t, []time.Duration{time.Second}, pauser.Waits())

	entries := logs.FilterMessage("retrying fetch").All()
	require.Len(t, entries, 1)
	assert.Equal(t, time.Second, entries[0].ContextMap()["wait"])
	assert.Equal(t, int64(http.StatusServiceUnavailable), entries[0].ContextMap()["status"])
}

func TestRetrierReturnsExhaustedHTTPError(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	r, pauser := newTestRetrier(srv.Client(), RetryPolicy{MaxRetries: 2, BaseBackoff: 100 * time.Millisecond}, nil)
	resp, err := r.FetchWithRetry(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, int32(3), attempts.Load(), "at most MaxRetries+1 attempts")
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, pauser.Waits())
}

func TestRetrierDoesNotRetryClientErrors(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	r, pauser := newTestRetrier(srv.Client(), DefaultRetryPolicy(), nil)
	resp, err := r.FetchWithRetry(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, int32(1), attempts.Load())
	assert.Empty(t, pauser.Waits())
}

func TestRetrierTransportErrorExhausts(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	target := srv.URL
	srv.Close()

	obs := newRecordingObserver()
	r, pauser := newTestRetrier(&http.Client{Timeout: time.Second}, RetryPolicy{MaxRetries: 2, BaseBackoff: 50 * time.Millisecond}, nil)
	r.observer = obs

	resp, err := r.FetchWithRetry(context.Background(), target, nil)
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, []time.Duration{50 * time.Millisecond, 100 * time.Millisecond}, pauser.Waits())
	assert.Len(t, obs.retries, 2)
}

func TestRetrierStopsOnCanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r, pauser := newTestRetrier(srv.Client(), DefaultRetryPolicy(), nil)
	_, err := r.FetchWithRetry(ctx, srv.URL, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, pauser.Waits())
}

func TestRetrierSendsHeaders(t *testing.T) {
	var gotUA, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	opts := DefaultOptions()
	r, _ := newTestRetrier(srv.Client(), DefaultRetryPolicy(), nil)
	resp, err := r.FetchWithRetry(context.Background(), srv.URL, opts.requestHeaders())
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, DefaultUserAgent, gotUA)
	assert.Equal(t, acceptHeader, gotAccept)
}

func TestRetryAfter(t *testing.T) {
	cases := map[string]time.Duration{
		"":                              0,
		"1":                             time.Second,
		" 3 ":                           3 * time.Second,
		"2abc":                          2 * time.Second,
		"0":                             0,
		"-1":                            0,
		"Wed, 21 Oct 2015 07:28:00 GMT": 0,
		"3600":                          time.Hour,
		"3601":                          maxRetryAfter,
		"9300000000":                    maxRetryAfter,
		"99999999999999999999":          maxRetryAfter,
	}
	for header, want := range cases {
		assert.Equal(t, want, retryAfter(header), header)
	}
}

func TestRetryPolicyBackoff(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 2, p.MaxRetries)
	assert.Equal(t, 600*time.Millisecond, p.Backoff(0))
	assert.Equal(t, 1200*time.Millisecond, p.Backoff(1))
	assert.True(t, RetryableStatus(http.StatusTooManyRequests))
	assert.True(t, RetryableStatus(http.StatusInternalServerError))
	assert.False(t, RetryableStatus(http.StatusForbidden))
}
