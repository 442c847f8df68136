package model

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// withRetry runs call until it succeeds, fails permanently or the attempts
// are used up. Only classified retryable errors are retried.
func withRetry(ctx context.Context, cfg RetryConfig, call func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff(cfg, attempt)):
			}
		}

		err = call(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !IsRetryable(err) {
			return err
		}
	}
	return err
}

func backoff(cfg RetryConfig, attempt int) time.Duration {
	d := float64(cfg.InitialBackoff) * math.Pow(cfg.BackoffFactor, float64(attempt-1))
	if cfg.MaxBackoff > 0 && d > float64(cfg.MaxBackoff) {
		d = float64(cfg.MaxBackoff)
	}
	d += d * cfg.JitterFraction * rand.Float64()
	return time.Duration(d)
}
