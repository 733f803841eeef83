package repository

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Read retry delays. Reads are safe to repeat; writes are never retried
// automatically to avoid duplicate side effects.
var readRetryDelays = []time.Duration{
	25 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
}

const (
	// maxReadAttempts is the total number of attempts for a read query.
	maxReadAttempts = 1 + 3

	// retryJitterFactor is the ±percentage of jitter applied to delays.
	retryJitterFactor = 0.2 // ±20%
)

// nextReadRetryDelay calculates the backoff before the given retry with
// jitter applied. attemptCount is 0-indexed (after the first failed attempt,
// attemptCount = 0).
func nextReadRetryDelay(attemptCount int) time.Duration {
	if attemptCount < 0 {
		attemptCount = 0
	}
	if attemptCount >= len(readRetryDelays) {
		attemptCount = len(readRetryDelays) - 1
	}

	base := readRetryDelays[attemptCount]

	// Add ±20% jitter to prevent thundering herd
	jitterRange := float64(base) * retryJitterFactor
	jitter := (rand.Float64()*2 - 1) * jitterRange // -20% to +20%

	return time.Duration(float64(base) + jitter)
}

// isTransient reports whether an error is worth repeating a read for.
// Row-absence and context cancellation never are.
func isTransient(err error) bool {
	if err == nil || errors.Is(err, pgx.ErrNoRows) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return pgconn.SafeToRetry(err) || pgconn.Timeout(err)
}

// readWithRetry runs fn, repeating it a bounded number of times when the
// failure looks transient. The last error is returned unchanged so callers
// can still match sentinel errors.
func readWithRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxReadAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(nextReadRetryDelay(attempt - 1)):
			}
		}

		err = fn()
		if err == nil || !isTransient(err) {
			return err
		}
	}
	return err
}
