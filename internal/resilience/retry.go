package resilience

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/metaminds/metabrief/internal/apperr"
)

const (
	// DefaultAttempts is the retry budget for flaky upstream calls.
	DefaultAttempts = 5
	// DefaultBase is the delay before the second attempt; it doubles after
	// every further failure.
	DefaultBase = time.Second
)

// Retry invokes fn up to attempts times. The delay before attempt k is
// base × 2^(k-1). Once the budget is exhausted the last observed error is
// returned, classified as a timeout so callers can tell budget exhaustion
// from a single hard failure.
func Retry(ctx context.Context, attempts int, base time.Duration, fn func(context.Context) error) error {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	if base <= 0 {
		base = DefaultBase
	}

	var lastErr error
	delay := base
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return apperr.Wrap(apperr.KindTimeout, ctx.Err(), "retry abandoned")
			}
			delay *= 2
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		log.Warn().Err(lastErr).Int("attempt", attempt).Int("budget", attempts).Msg("retryable call failed")
	}
	return apperr.Wrap(apperr.KindTimeout, lastErr, "retry budget exhausted")
}
