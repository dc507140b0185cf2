// Package retry runs operations again with exponential backoff when they fail
// with an error marked Retryable.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// Config controls how often and how patiently an operation is retried.
type Config struct {
	MaxAttempts int           // 0 retries until ctx is done
	InitialWait time.Duration // wait after the first failure
	MaxWait     time.Duration // cap on any single wait; 0 means no cap
	Multiplier  float64       // growth per attempt; <= 0 means constant
	Jitter      float64       // +/- fraction applied to each wait, 0-1

	// OnRetry is called before each wait with the attempt that just failed.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultConfig makes three attempts, starting at 100ms.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		InitialWait: 100 * time.Millisecond,
		MaxWait:     10 * time.Second,
		Multiplier:  2,
		Jitter:      0.1,
	}
}

// Once makes a single attempt. Non-idempotent calls use it.
func Once() Config {
	return Config{MaxAttempts: 1}
}

type retryable struct{ err error }

func (r retryable) Error() string { return r.err.Error() }
func (r retryable) Unwrap() error { return r.err }

// Retryable marks err as worth another attempt. It returns nil for nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return retryable{err}
}

// IsRetryable reports whether err, or anything it wraps, was marked Retryable.
func IsRetryable(err error) bool {
	var r retryable
	return errors.As(err, &r)
}

// Backoff is the wait after the given failed attempt (1-based).
func (cfg Config) Backoff(attempt int) time.Duration {
	growth := cfg.Multiplier
	if growth <= 0 {
		growth = 1
	}
	wait := float64(cfg.InitialWait) * math.Pow(growth, float64(attempt-1))
	if limit := float64(cfg.MaxWait); limit > 0 {
		wait = math.Min(wait, limit)
	}
	if cfg.Jitter > 0 {
		wait *= 1 + cfg.Jitter*(2*rand.Float64()-1)
	}
	return time.Duration(wait)
}

func (cfg Config) exhausted(attempt int) bool {
	return cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts
}

// Do runs fn until it succeeds, returns an error that is not retryable, runs
// out of attempts, or ctx is done.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	_, err := DoWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResult is Do for operations that produce a value.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var zero T
	for attempt := 1; ; attempt++ {
		v, err := fn()
		switch {
		case err == nil:
			return v, nil
		case !IsRetryable(err):
			return zero, err
		case ctx.Err() != nil:
			return zero, ctx.Err()
		case cfg.exhausted(attempt):
			return zero, err
		}

		wait := cfg.Backoff(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, wait)
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, ctx.Err()
		case <-t.C:
		}
	}
}
