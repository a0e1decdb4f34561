// Package retry runs operations again after transient failures, with
// exponential backoff between attempts.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts int           // Maximum number of attempts (0 = infinite)
	InitialWait time.Duration // Wait before the second attempt
	MaxWait     time.Duration // Upper bound for any single wait
	Multiplier  float64       // Backoff multiplier
	Jitter      float64       // Jitter factor (0-1)
}

// DefaultConfig returns sensible defaults for network reads.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		InitialWait: 100 * time.Millisecond,
		MaxWait:     10 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
	}
}

// Once allows exactly one retry after a short pause. Used when the caller
// repairs state (for example refreshing a signer) before trying again.
func Once() Config {
	return Config{
		MaxAttempts: 2,
		InitialWait: 50 * time.Millisecond,
		MaxWait:     50 * time.Millisecond,
		Multiplier:  1,
	}
}

// RetryableError wraps an error that should be retried.
type RetryableError struct {
	Err error
}

func (e RetryableError) Error() string {
	return e.Err.Error()
}

func (e RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error should be retried.
func IsRetryable(err error) bool {
	var retryable RetryableError
	return errors.As(err, &retryable)
}

// Retryable wraps an error to mark it as retryable.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return RetryableError{Err: err}
}

// Backoff returns the wait before attempt+1.
func Backoff(cfg Config, attempt int) time.Duration {
	wait := float64(cfg.InitialWait) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxWait > 0 && wait > float64(cfg.MaxWait) {
		wait = float64(cfg.MaxWait)
	}
	if cfg.Jitter > 0 {
		wait += wait * cfg.Jitter * (rand.Float64()*2 - 1)
	}
	if wait < 0 {
		return 0
	}
	return time.Duration(wait)
}

// Do executes fn with retries. fn receives the 1-based attempt number.
// The last error is returned unwrapped from its retry marker.
func Do(ctx context.Context, cfg Config, fn func(attempt int) error) error {
	_, err := DoWithResult(ctx, cfg, func(attempt int) (struct{}, error) {
		return struct{}{}, fn(attempt)
	})
	return err
}

// DoWithResult executes fn with retries and returns its result.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func(attempt int) (T, error)) (T, error) {
	var result T
	var lastErr error

	for attempt := 1; cfg.MaxAttempts == 0 || attempt <= cfg.MaxAttempts; attempt++ {
		r, err := fn(attempt)
		if err == nil {
			return r, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return result, err
		}
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if cfg.MaxAttempts != 0 && attempt == cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(Backoff(cfg, attempt)):
		}
	}

	var retryable RetryableError
	if errors.As(lastErr, &retryable) {
		return result, retryable.Err
	}
	return result, lastErr
}
