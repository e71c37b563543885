package github

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/go-github/v66/github"

	"github.com/joescharf/prguard/internal/observability"
)

// TransientError is returned when a call kept failing with retryable errors
// until the retry budget ran out.
type TransientError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: giving up after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying: rate limits, 5xx
// responses and network failures.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var rle *github.RateLimitError
	if errors.As(err, &rle) {
		return true
	}
	var abuse *github.AbuseRateLimitError
	if errors.As(err, &abuse) {
		return true
	}
	var er *github.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		code := er.Response.StatusCode
		return code == http.StatusTooManyRequests || code >= 500
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return false
}

// retryAfter returns how long the server asked us to wait, if it did.
func retryAfter(err error) time.Duration {
	var abuse *github.AbuseRateLimitError
	if errors.As(err, &abuse) && abuse.RetryAfter != nil {
		return *abuse.RetryAfter
	}
	var rle *github.RateLimitError
	if errors.As(err, &rle) {
		return time.Until(rle.Rate.Reset.Time)
	}
	return 0
}

// do runs fn with pacing, a per-attempt timeout and bounded exponential
// backoff. Non-transient errors are returned immediately.
func (c *Client) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var err error
	attempts := c.maxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if c.limiter != nil {
			if werr := c.limiter.Wait(ctx); werr != nil {
				return fmt.Errorf("%s: %w", op, werr)
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err = fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
		if !IsTransient(err) && !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w", op, err)
		}
		if attempt == attempts {
			break
		}

		wait := c.backoff << (attempt - 1)
		if ra := retryAfter(err); ra > wait {
			wait = min(ra, time.Minute)
		}
		observability.APIRetries.WithLabelValues(op).Inc()
		c.logger.Warn("retrying GitHub call", "op", op, "attempt", attempt, "wait", wait, "err", err)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-t.C:
		}
	}
	return &TransientError{Op: op, Attempts: attempts, Err: err}
}
