// Copyright (C) 2025 ArchSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package knowledge

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// RetryConfig controls the retry policy applied to Weaviate and
// embedding calls.
type RetryConfig struct {
	// Attempts is the number of retries after the initial call.
	Attempts int

	// Backoff is the initial delay; it doubles per attempt.
	Backoff time.Duration

	// MaxBackoff caps the exponential growth.
	MaxBackoff time.Duration

	// Jitter randomizes each delay by the given fraction (0.0-1.0).
	Jitter float64

	// CallTimeout bounds each individual attempt. A retried operation
	// never inherits an unbounded context.
	CallTimeout time.Duration
}

// DefaultRetryConfig matches the policy used for other vector-store
// clients in this codebase.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts:    3,
		Backoff:     100 * time.Millisecond,
		MaxBackoff:  5 * time.Second,
		Jitter:      0.25,
		CallTimeout: 30 * time.Second,
	}
}

func (c RetryConfig) backoffFor(attempt int) time.Duration {
	backoff := c.Backoff * time.Duration(1<<attempt)
	if backoff > c.MaxBackoff {
		backoff = c.MaxBackoff
	}
	jitterRange := float64(backoff) * c.Jitter
	jitter := (rand.Float64()*2 - 1) * jitterRange
	backoff += time.Duration(jitter)
	if backoff < 0 {
		backoff = 0
	}
	return backoff
}

// withRetry runs op up to 1+Attempts times with exponential backoff and
// jitter. It returns the last error when all attempts fail, and stops
// early when the context is canceled.
func withRetry(ctx context.Context, cfg RetryConfig, name string, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.Attempts; attempt++ {
		if attempt > 0 {
			backoff := cfg.backoffFor(attempt - 1)
			slog.Debug("Retrying after backoff",
				"operation", name, "attempt", attempt, "backoff_ms", backoff.Milliseconds())
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		lastErr = runAttempt(ctx, cfg, op)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
		slog.Warn("Operation failed, will retry if attempts remain",
			"operation", name, "attempt", attempt, "error", lastErr)
	}
	return lastErr
}

// runAttempt runs op once under the per-call timeout, when one is
// configured.
func runAttempt(ctx context.Context, cfg RetryConfig, op func(ctx context.Context) error) error {
	if cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.CallTimeout)
		defer cancel()
	}
	return op(ctx)
}
