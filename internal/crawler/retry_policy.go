package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy bounds retries of transient fetch failures.
type RetryPolicy struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int
	// BaseBackoff is multiplied by the attempt number for linear backoff.
	BaseBackoff time.Duration
}

// DefaultRetryPolicy retries twice with a 600ms linear backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:  2,
		BaseBackoff: 600 * time.Millisecond,
	}
}

// Backoff returns the wait before retrying after the zero-based attempt.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	return p.BaseBackoff * time.Duration(attempt+1)
}

// RetryableStatus reports whether an HTTP status warrants another attempt.
func RetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// Retrier performs HTTP GETs with bounded retry and linear backoff.
//
// An exhausted retryable HTTP status is returned as a normal response; an
// exhausted transport failure is returned as an error.
type Retrier struct {
	client   *http.Client
	policy   RetryPolicy
	pause    pauseController
	logger   *zap.Logger
	observer Observer
}

// NewRetrier builds a Retrier around client.
func NewRetrier(client *http.Client, policy RetryPolicy, logger *zap.Logger) *Retrier {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	policy.MaxRetries = max(policy.MaxRetries, 0)
	return &Retrier{
		client:   client,
		policy:   policy,
		pause:    &timerPauseController{},
		logger:   logger,
		observer: nopObserver{},
	}
}

// FetchWithRetry issues GET rawURL with headers, retrying 429/5xx responses
// and transport errors up to the policy's retry budget. The caller owns the
// returned response body.
func (r *Retrier) FetchWithRetry(ctx context.Context, rawURL string, headers http.Header) (*http.Response, error) {
	origin, _ := OriginOf(rawURL)
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("new request: %w", err)
		}
		if headers != nil {
			req.Header = headers.Clone()
		}
		last := attempt >= r.policy.MaxRetries

		resp, err := r.client.Do(req)
		if err != nil {
			if last || ctx.Err() != nil {
				return nil, err
			}
			wait := r.policy.Backoff(attempt)
			r.logRetry(rawURL, attempt, wait, zap.Error(err))
			if perr := r.wait(ctx, origin, wait); perr != nil {
				return nil, perr
			}
			continue
		}

		if !RetryableStatus(resp.StatusCode) || last {
			return resp, nil
		}
		wait := retryAfter(resp.Header.Get("Retry-After"))
		if wait <= 0 {
			wait = r.policy.Backoff(attempt)
		}
		discardBody(resp)
		r.logRetry(rawURL, attempt, wait, zap.Int("status", resp.StatusCode))
		if perr := r.wait(ctx, origin, wait); perr != nil {
			return nil, perr
		}
	}
}

func (r *Retrier) wait(ctx context.Context, origin string, wait time.Duration) error {
	r.observer.RetryScheduled(origin, wait)
	return r.pause.Pause(ctx, wait)
}

func (r *Retrier) logRetry(rawURL string, attempt int, wait time.Duration, reason zap.Field) {
	r.logger.Info("retrying fetch",
		zap.String("url", rawURL),
		zap.Int("attempt", attempt+1),
		zap.Duration("wait", wait),
		reason,
	)
}

// maxRetryAfter caps server-requested waits.
const maxRetryAfter = time.Hour

// retryAfter interprets the leading integer of a Retry-After header as
// seconds, capped at maxRetryAfter. HTTP-date values and non-positive numbers
// yield zero.
func retryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	end := 0
	for end < len(header) && header[end] >= '0' && header[end] <= '9' {
		end++
	}
	seconds, err := strconv.ParseInt(header[:end], 10, 64)
	if errors.Is(err, strconv.ErrRange) {
		return maxRetryAfter
	}
	if err != nil || seconds <= 0 {
		return 0
	}
	if seconds > int64(maxRetryAfter/time.Second) {
		return maxRetryAfter
	}
	return time.Duration(seconds) * time.Second
}

func discardBody(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
