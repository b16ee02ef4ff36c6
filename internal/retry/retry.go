// Package retry implements the shared backoff/retry primitives that govern
// all outbound I/O.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/chainclaw/chainclaw/pkg/errs"
	"github.com/chainclaw/chainclaw/pkg/logger"
)

// Backoff is an exponential backoff policy with multiplicative jitter.
type Backoff struct {
	InitialMs int64
	MaxMs     int64
	Factor    float64
	Jitter    float64
}

// DefaultBackoff is the policy applied when callers pass a zero value.
var DefaultBackoff = Backoff{
	InitialMs: 500,
	MaxMs:     30_000,
	Factor:    2.0,
	Jitter:    0.2,
}

func (b Backoff) orDefault() Backoff {
	if b.InitialMs <= 0 {
		return DefaultBackoff
	}
	return b
}

// Delay computes the wait before the given 1-based attempt:
// min(initial * factor^(attempt-1) * (1 + jitter*U[0,1]), max).
func (b Backoff) Delay(attempt int) time.Duration {
	b = b.orDefault()
	if attempt < 1 {
		attempt = 1
	}
	base := float64(b.InitialMs) * math.Pow(b.Factor, float64(attempt-1))
	if b.Jitter > 0 {
		base *= 1 + b.Jitter*rand.Float64()
	}
	ms := int64(base)
	if ms > b.MaxMs {
		ms = b.MaxMs
	}
	return time.Duration(ms) * time.Millisecond
}

// Options controls a Do loop.
type Options struct {
	MaxAttempts int
	Backoff     Backoff
	// ShouldRetry short-circuits the loop when it returns false.
	ShouldRetry func(err error, attempt int) bool
	// OnRetry fires before each wait.
	OnRetry func(err error, attempt int, delay time.Duration)
	// RetryAfter, when it returns a positive duration, overrides the
	// computed backoff delay for this error (server-provided Retry-After).
	RetryAfter func(err error) time.Duration
}

// Do runs fn up to MaxAttempts times, sleeping the backoff delay between
// attempts. Cancellation is honoured at every wait point and fails the call
// with an abort-classed error. fn receives the 1-based attempt number.
func Do[T any](ctx context.Context, opts Options, fn func(attempt int) (T, error)) (T, error) {
	var zero T
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, errs.Wrap(errs.ClassAbort, "retry cancelled", err)
		}

		result, err := fn(attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == opts.MaxAttempts {
			break
		}
		if opts.ShouldRetry != nil && !opts.ShouldRetry(err, attempt) {
			break
		}
		if errs.IsAbort(err) {
			return zero, err
		}

		delay := opts.Backoff.Delay(attempt)
		if opts.RetryAfter != nil {
			if after := opts.RetryAfter(err); after > 0 {
				delay = after
			}
		}
		if opts.OnRetry != nil {
			opts.OnRetry(err, attempt, delay)
		}

		logger.Debug("retrying after failure",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, errs.Wrap(errs.ClassAbort, "retry cancelled mid-wait", ctx.Err())
		case <-timer.C:
		}
	}

	return zero, lastErr
}
