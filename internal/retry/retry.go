// Package retry provides exponential backoff for transient remote failures.
//
// Two shapes are exposed: Do, which re-runs a function with exponential
// backoff until it succeeds or the attempt budget is spent, and Backoff, a
// reusable wait helper for loops that are not error-driven (such as a query
// status poll loop) but still want capped, monotonically non-decreasing
// delays between iterations.
//
// All waits respect context cancellation.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Config defines the retry behavior for Do.
type Config struct {
	// MaxAttempts is the maximum number of times fn is invoked.
	// Must be greater than 0.
	MaxAttempts int

	// InitialBackoff is the delay before the second attempt. Each
	// subsequent attempt doubles it.
	InitialBackoff time.Duration

	// MaxBackoff caps the per-attempt delay. Zero means no cap.
	MaxBackoff time.Duration

	// Jitter adds up to Jitter*backoff of randomness to each delay
	// (0.0 to 1.0). Zero means no jitter.
	Jitter float64
}

// ShouldRetryFunc reports whether an error is worth another attempt.
// A nil ShouldRetryFunc retries every error.
type ShouldRetryFunc func(error) bool

// Do executes fn up to cfg.MaxAttempts times with exponential backoff
// between attempts. It returns nil as soon as fn succeeds, the error
// unchanged when shouldRetry rejects it, and a wrapped last error once the
// attempt budget is exhausted.
func Do(ctx context.Context, cfg Config, fn func() error, shouldRetry ShouldRetryFunc) error {
	var lastErr error

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoffFor(cfg, attempt)):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// backoffFor computes the delay preceding the given attempt (1-based).
func backoffFor(cfg Config, attempt int) time.Duration {
	backoff := time.Duration(math.Pow(2, float64(attempt-1)) * float64(cfg.InitialBackoff))
	if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
		backoff = cfg.MaxBackoff
	}
	if cfg.Jitter > 0 {
		backoff += time.Duration(rand.Float64() * cfg.Jitter * float64(backoff))
	}
	return backoff
}

// Backoff produces a capped, monotonically non-decreasing sequence of waits.
// The zero value is not usable; construct with NewBackoff.
type Backoff struct {
	initial time.Duration
	max     time.Duration
	next    time.Duration
}

// NewBackoff returns a Backoff starting at initial and doubling up to max.
func NewBackoff(initial, max time.Duration) *Backoff {
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	if max < initial {
		max = initial
	}
	return &Backoff{initial: initial, max: max, next: initial}
}

// Wait blocks for the current interval, then doubles it up to the cap.
// It returns early with the context error if ctx is canceled.
func (b *Backoff) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(b.next):
	}

	b.next *= 2
	if b.next > b.max {
		b.next = b.max
	}
	return nil
}

// Next returns the interval the following Wait call would sleep for.
func (b *Backoff) Next() time.Duration {
	return b.next
}

// Reset restores the initial interval.
func (b *Backoff) Reset() {
	b.next = b.initial
}
