// Package retry provides bounded retries with exponential backoff and jitter.
// It is used around per-user storage units, where serialization conflicts
// are expected under concurrent facts and every write is idempotent, around
// event handlers in the dispatcher, and around publishes to Redis.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// ExhaustedError is returned when every attempt failed with a retryable
// error. The cause stays reachable through errors.Is/As, so the caller can
// still classify it as transient.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// IsExhausted checks if an error came from running out of attempts.
func IsExhausted(err error) bool {
	var ex *ExhaustedError
	return errors.As(err, &ex)
}

// Policy bounds one retry loop. Zero fields take the defaults noted.
type Policy struct {
	// MaxAttempts counts the first try (3).
	MaxAttempts int

	// InitialDelay is the wait before the first retry (100ms); it doubles
	// after every attempt up to MaxDelay (30s).
	InitialDelay time.Duration
	MaxDelay     time.Duration

	// Jitter spreads each delay by ±Jitter of itself (0 to 1).
	Jitter float64

	// RetryIf selects the errors worth another attempt. Nil retries all.
	RetryIf func(error) bool

	// OnRetry runs before each wait.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Storage is the policy for per-user storage units, where lock and
// serialization conflicts clear within milliseconds.
func Storage(retryIf func(error) bool) Policy {
	return Policy{
		MaxAttempts:  5,
		InitialDelay: 20 * time.Millisecond,
		MaxDelay:     time.Second,
		Jitter:       0.2,
		RetryIf:      retryIf,
	}
}

// Publish is the policy for pushing to a remote broker.
func Publish(retryIf func(error) bool) Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Jitter:       0.1,
		RetryIf:      retryIf,
	}
}

// Do runs op until it succeeds, fails with an error RetryIf rejects, or
// the attempts run out. A rejected error is returned as is; running out
// returns an *ExhaustedError wrapping the last error.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	p = p.withDefaults()

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return &ExhaustedError{Attempts: attempt - 1, Err: lastErr}
			}
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if p.RetryIf != nil && !p.RetryIf(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return &ExhaustedError{Attempts: attempt, Err: lastErr}
		case <-timer.C:
		}
	}
	return &ExhaustedError{Attempts: p.MaxAttempts, Err: lastErr}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 100 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	p.Jitter = math.Max(0, math.Min(p.Jitter, 1))
	return p
}

// delay is InitialDelay·2^(attempt-1), capped, then jittered.
func (p Policy) delay(attempt int) time.Duration {
	d := math.Min(float64(p.InitialDelay)*math.Pow(2, float64(attempt-1)), float64(p.MaxDelay))
	if p.Jitter > 0 {
		d += d * p.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(math.Max(d, 0))
}
