package fetcher

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// MaxRetries is the default number of attempts per download
	MaxRetries = 4
	// InitialBackoffMs is the delay before the second attempt
	InitialBackoffMs = 500
	// MaxBackoffMs caps the delay between attempts
	MaxBackoffMs = 30000
	// BackoffMultiplier grows the delay between attempts
	BackoffMultiplier = 2.0
)

// RetryConfig configures exponential backoff retry behavior
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"` // Maximum number of attempts, the first one included
	BaseDelay  time.Duration `yaml:"base_delay"`  // Initial delay between retries
	MaxDelay   time.Duration `yaml:"max_delay"`   // Maximum delay between retries
	Multiplier float64       `yaml:"multiplier"`  // Exponential backoff multiplier
}

// DefaultRetryConfig returns sensible defaults for package downloads
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: MaxRetries,
		BaseDelay:  time.Duration(InitialBackoffMs) * time.Millisecond,
		MaxDelay:   time.Duration(MaxBackoffMs) * time.Millisecond,
		Multiplier: BackoffMultiplier,
	}
}

func (c RetryConfig) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.BaseDelay
	b.MaxInterval = c.MaxDelay
	if c.Multiplier >= 1 {
		b.Multiplier = c.Multiplier
	}
	b.MaxElapsedTime = 0
	b.Reset()

	retries := c.MaxRetries - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// retryWithBackoff runs fn until it succeeds, returns a permanent error, or
// the attempts are used up. Errors wrapped with backoff.Permanent are
// returned unwrapped without further attempts.
func retryWithBackoff(ctx context.Context, config RetryConfig, fn func() error, notify func(error, time.Duration)) error {
	return backoff.RetryNotify(func() error {
		err := fn()
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}, config.backOff(ctx), notify)
}
