// Package httpretry wraps source API requests with bounded exponential
// backoff. Transient failures (connection errors, HTTP 429 and 5xx) are
// retried; credential rejections and other client errors are not.
package httpretry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/domain"
)

// Policy bounds the retry loop.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Doer abstracts *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Retrier issues requests under a Policy. OnRetry, when set, is called once
// per retry so callers can count them.
type Retrier struct {
	Client  Doer
	Policy  Policy
	Logger  *slog.Logger
	OnRetry func()
}

// Do builds and issues the request until it succeeds, fails permanently, or
// the attempt budget is spent. The response body is open only on success.
func (r *Retrier) Do(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	attempts := r.Policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	delay := r.Policy.BaseDelay

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if r.OnRetry != nil {
				r.OnRetry()
			}
			r.Logger.Warn("retrying source request",
				"attempt", attempt,
				"delay", delay,
				"error", lastErr,
			)
			if !sleepWithContext(ctx, delay) {
				return nil, fmt.Errorf("retry interrupted: %w", ctx.Err())
			}
			delay = nextDelay(delay, r.Policy.MaxDelay)
		}

		req, err := build(ctx)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := r.Client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("source request: %w", ctx.Err())
			}
			lastErr = err
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return resp, nil

		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			drain(resp)
			return nil, fmt.Errorf("status %d: %w", resp.StatusCode, domain.ErrUnauthorized)

		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			lastErr = fmt.Errorf("status %d: %s", resp.StatusCode, snippet(resp))
			drain(resp)
			continue

		default:
			err := fmt.Errorf("status %d: %s", resp.StatusCode, snippet(resp))
			drain(resp)
			return nil, err
		}
	}

	return nil, fmt.Errorf("giving up after %d attempts: %w", attempts, lastErr)
}

func nextDelay(current, maxDelay time.Duration) time.Duration {
	next := current * 2
	if next > maxDelay {
		return maxDelay
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// snippet reads a short error-body prefix for diagnostics.
func snippet(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	return string(body)
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body) //nolint:errcheck // discarding remainder before close
	resp.Body.Close()
}
