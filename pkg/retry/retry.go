package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Config holds retry configuration
type Config struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffFactor   float64
	AttemptTimeout  time.Duration
	MaxTotalTimeout time.Duration
}

// DefaultConfig returns a default retry configuration with 1 minute max timeout
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     10,
		InitialDelay:    100 * time.Millisecond,
		MaxDelay:        10 * time.Second,
		BackoffFactor:   2.0,
		MaxTotalTimeout: 60 * time.Second, // 1 minute max
	}
}

// Stats describes what a retry loop did
type Stats struct {
	Attempts      int
	Failures      int
	LastFailureAt time.Time
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error unchanged.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Func is one attempt. ctx carries the attempt deadline when AttemptTimeout is set.
type Func func(ctx context.Context) error

// Do executes the given function with exponential backoff retry logic
func Do(ctx context.Context, cfg Config, fn Func) (Stats, error) {
	return DoWithLog(ctx, cfg, "", fn, nil)
}

// DoWithLog executes the function with retry and logs each failed attempt that will be retried
func DoWithLog(ctx context.Context, cfg Config, serviceName string, fn Func, logFn func(attempt int, err error, nextDelay time.Duration)) (Stats, error) {
	if cfg.MaxTotalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.MaxTotalTimeout)
		defer cancel()
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var (
		stats   Stats
		lastErr error
	)
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return stats, wrap(serviceName, fmt.Errorf("retry aborted after %d attempts: %w (last error: %v)", attempt-1, err, lastErr))
			}
			return stats, wrap(serviceName, fmt.Errorf("retry aborted: %w", err))
		}

		stats.Attempts++
		err := runAttempt(ctx, cfg.AttemptTimeout, fn)
		if err == nil {
			return stats, nil
		}

		stats.Failures++
		stats.LastFailureAt = time.Now()
		lastErr = err

		var perm *permanentError
		if errors.As(err, &perm) {
			return stats, perm.err
		}

		if attempt == maxAttempts {
			return stats, wrap(serviceName, fmt.Errorf("max retry attempts (%d) exceeded: %w", maxAttempts, lastErr))
		}

		if logFn != nil {
			logFn(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return stats, wrap(serviceName, fmt.Errorf("retry aborted after %d attempts: %w (last error: %v)", attempt, ctx.Err(), lastErr))
		case <-timer.C:
		}

		// Calculate next delay with exponential backoff
		delay = time.Duration(float64(delay) * cfg.BackoffFactor)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return stats, wrap(serviceName, fmt.Errorf("max retry attempts exceeded: %w", lastErr))
}

func runAttempt(ctx context.Context, timeout time.Duration, fn Func) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}

func wrap(serviceName string, err error) error {
	if serviceName == "" {
		return err
	}
	return fmt.Errorf("%s: %w", serviceName, err)
}
