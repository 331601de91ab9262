package thedyrt

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"
)

// transientError marks a fetch attempt failure that is worth retrying:
// network errors and retriable HTTP statuses. Malformed payloads are never
// wrapped in it.
type transientError struct {
	StatusCode int
	Err        error
}

func (e *transientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient upstream error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient upstream error: %v", e.Err)
}

func (e *transientError) Unwrap() error { return e.Err }

// retryPolicy implements jittered exponential backoff with a floor and a
// ceiling on the wait.
type retryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	minDelay    time.Duration
	maxDelay    time.Duration
}

// shouldRetry decides whether the error is retryable after the given attempt
// count. Context cancellation and non-transient failures are never retried.
func (p *retryPolicy) shouldRetry(err error, attempts int) bool {
	if err == nil {
		return false
	}
	if attempts >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var te *transientError
	return errors.As(err, &te)
}

// backoff returns the wait duration before the next attempt. attempt is
// zero-based.
func (p *retryPolicy) backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay < float64(p.minDelay) {
		delay = float64(p.minDelay)
	}
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
