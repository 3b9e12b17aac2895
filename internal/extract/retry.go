package extract

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 15 * time.Second
	DefaultMultiplier  = 2.0
)

// RetryPolicy retries ErrRateLimited with exponential backoff and no jitter.
// Every other error is returned after the first attempt.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64

	// Timer drives the waits; nil uses real time.
	Timer backoff.Timer
	// Notify is called before each wait.
	Notify func(err error, wait time.Duration)
}

// DefaultRetryPolicy returns 3 attempts starting at 15s and doubling
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		Multiplier:  DefaultMultiplier,
	}
}

// Delay returns the wait before retry n (1-based): BaseDelay * Multiplier^(n-1)
func (p RetryPolicy) Delay(n int) time.Duration {
	if n < 1 {
		return 0
	}
	return time.Duration(float64(p.BaseDelay) * math.Pow(p.multiplier(), float64(n-1)))
}

func (p RetryPolicy) multiplier() float64 {
	if p.Multiplier <= 0 {
		return DefaultMultiplier
	}
	return p.Multiplier
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.BaseDelay
	exp.RandomizationFactor = 0
	exp.Multiplier = p.multiplier()
	exp.MaxInterval = 24 * time.Hour
	exp.MaxElapsedTime = 0
	exp.Reset()

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)
}

// Do calls fn until it succeeds, fails with a non-retryable error, or the
// attempts run out. The last error is returned in the latter two cases.
func (p RetryPolicy) Do(ctx context.Context, fn func(context.Context) (string, error)) (string, error) {
	var out string
	op := func() error {
		var err error
		out, err = fn(ctx)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrRateLimited):
			return err
		default:
			return backoff.Permanent(err)
		}
	}

	var notify backoff.Notify
	if p.Notify != nil {
		notify = backoff.Notify(p.Notify)
	}

	if err := backoff.RetryNotifyWithTimer(op, p.backOff(ctx), notify, p.Timer); err != nil {
		return "", err
	}
	return out, nil
}
