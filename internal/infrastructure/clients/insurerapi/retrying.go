package insurerapi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/zatekoja/insurance-eligibility/backend/internal/infrastructure/observability"
	"github.com/zatekoja/insurance-eligibility/backend/pkg/config"
	"github.com/zatekoja/insurance-eligibility/backend/pkg/retry"
)

// RetryResult is the final outcome plus what the retry loop did to get it
type RetryResult struct {
	Outcome  *Outcome
	Attempts int
	// RetryCount is the number of failed attempts
	RetryCount  int
	LastRetryAt *time.Time
}

// RetryingClient retries APIFailure outcomes. NotEligible is terminal.
type RetryingClient struct {
	inner   Client
	policy  retry.Config
	breaker *gobreaker.CircuitBreaker
}

// RetryOption configures a RetryingClient
type RetryOption func(*RetryingClient)

// WithBreaker trips after the given number of consecutive failed attempts and
// stays open for cooldown.
func WithBreaker(name string, failures int, cooldown time.Duration) RetryOption {
	return func(c *RetryingClient) {
		if failures < 1 {
			failures = 1
		}
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(failures)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				observability.GetLogger().Warn().
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("insurer circuit breaker state changed")
			},
		})
	}
}

// RetryPolicy derives the retry configuration from insurer settings
func RetryPolicy(cfg *config.InsurerConfig) retry.Config {
	return retry.Config{
		MaxAttempts:    cfg.MaxAttempts,
		InitialDelay:   cfg.InitialBackoff,
		MaxDelay:       cfg.MaxBackoff,
		BackoffFactor:  2.0,
		AttemptTimeout: cfg.Timeout,
	}
}

// NewRetryingClient wraps inner with the given policy
func NewRetryingClient(inner Client, policy retry.Config, opts ...RetryOption) *RetryingClient {
	c := &RetryingClient{inner: inner, policy: policy}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RetryingClient) CheckEligibilityByCard(ctx context.Context, cardNumber string, asOfDate time.Time) (*RetryResult, error) {
	return c.run(ctx, func(ctx context.Context) (*Outcome, error) {
		return c.inner.CheckEligibilityByCard(ctx, cardNumber, asOfDate)
	})
}

func (c *RetryingClient) CheckEligibilityByNationalID(ctx context.Context, nationalID string, asOfDate time.Time) (*RetryResult, error) {
	return c.run(ctx, func(ctx context.Context) (*Outcome, error) {
		return c.inner.CheckEligibilityByNationalID(ctx, nationalID, asOfDate)
	})
}

// failedAttempt carries an APIFailure outcome through the retry loop
type failedAttempt struct {
	outcome *Outcome
}

func (e *failedAttempt) Error() string {
	return fmt.Sprintf("%s: %s", e.outcome.ErrorCode, e.outcome.Message)
}

type call func(ctx context.Context) (*Outcome, error)

func (c *RetryingClient) run(ctx context.Context, fn call) (*RetryResult, error) {
	var last *Outcome
	logger := observability.LoggerFromContext(ctx)

	stats, err := retry.DoWithLog(ctx, c.policy, "insurer", func(ctx context.Context) error {
		outcome, err := c.attempt(ctx, fn)
		if err != nil {
			return retry.Permanent(err)
		}
		last = outcome
		if outcome.IsSuccess() {
			return nil
		}
		if outcome.ErrorCode == ErrCodeCircuitOpen || outcome.ErrorCode == ErrCodeCanceled {
			return retry.Permanent(&failedAttempt{outcome: outcome})
		}
		return &failedAttempt{outcome: outcome}
	}, func(attempt int, err error, nextDelay time.Duration) {
		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("next_delay", nextDelay).
			Msg("insurer attempt failed, retrying")
	})

	result := &RetryResult{
		Outcome:    last,
		Attempts:   stats.Attempts,
		RetryCount: stats.Failures,
	}
	if stats.Failures > 0 {
		at := stats.LastFailureAt
		result.LastRetryAt = &at
	}

	if err == nil {
		return result, nil
	}

	var failed *failedAttempt
	if errors.As(err, &failed) {
		result.Outcome = last
		return result, nil
	}
	if last == nil && ctx.Err() == nil {
		// Validation or another local error before any call was made.
		return nil, err
	}
	if last == nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			result.Outcome = Failure(ErrCodeCanceled, "verification was canceled by the caller")
		} else {
			result.Outcome = Failure(ErrCodeTimeout, "verification deadline exceeded")
		}
	}
	return result, nil
}

// attempt runs one call, through the breaker when configured
func (c *RetryingClient) attempt(ctx context.Context, fn call) (*Outcome, error) {
	if c.breaker == nil {
		return fn(ctx)
	}

	var localErr error
	res, err := c.breaker.Execute(func() (interface{}, error) {
		outcome, err := fn(ctx)
		if err != nil {
			localErr = err
			return nil, nil
		}
		if !outcome.IsSuccess() && outcome.ErrorCode != ErrCodeCanceled {
			return outcome, &failedAttempt{outcome: outcome}
		}
		return outcome, nil
	})
	if localErr != nil {
		return nil, localErr
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Failure(ErrCodeCircuitOpen, "insurer circuit breaker is open"), nil
	}
	outcome, _ := res.(*Outcome)
	if outcome == nil {
		return Failure(ErrCodeNetwork, "insurer call returned no outcome"), nil
	}
	return outcome, nil
}
