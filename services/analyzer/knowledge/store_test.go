// Copyright (C) 2025 ArchSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package knowledge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archsentry/archsentry/services/analyzer/datatypes"
)

func TestSortMatches(t *testing.T) {
	match := func(id string, sim float64) datatypes.RetrievedMatch {
		return datatypes.RetrievedMatch{
			Rule:       datatypes.ComplianceRule{ID: id},
			Similarity: sim,
		}
	}

	t.Run("orders by similarity descending", func(t *testing.T) {
		matches := []datatypes.RetrievedMatch{
			match("a", 0.72),
			match("b", 0.95),
			match("c", 0.81),
		}
		sortMatches(matches)
		for i := 1; i < len(matches); i++ {
			assert.GreaterOrEqual(t, matches[i-1].Similarity, matches[i].Similarity)
		}
		assert.Equal(t, "b", matches[0].Rule.ID)
	})

	t.Run("breaks similarity ties by rule id", func(t *testing.T) {
		matches := []datatypes.RetrievedMatch{
			match("z", 0.8),
			match("a", 0.8),
			match("m", 0.8),
		}
		sortMatches(matches)
		assert.Equal(t, "a", matches[0].Rule.ID)
		assert.Equal(t, "m", matches[1].Rule.ID)
		assert.Equal(t, "z", matches[2].Rule.ID)
	})
}

func TestMatchesAbove(t *testing.T) {
	hit := func(id string, certainty float64) datatypes.ComplianceRuleHit {
		return datatypes.ComplianceRuleHit{
			Title:    id,
			Severity: "high",
			Additional: datatypes.GraphQLAdditional{
				ID:        id,
				Certainty: certainty,
			},
		}
	}
	hits := []datatypes.ComplianceRuleHit{
		hit("a", 0.65), hit("b", 0.7), hit("c", 0.75), hit("d", 0.9), hit("e", 0.9),
	}

	t.Run("the threshold is strict", func(t *testing.T) {
		matches := matchesAbove(hits, 0.7)
		var ids []string
		for _, m := range matches {
			ids = append(ids, m.Rule.ID)
		}
		// "b" sits exactly on the threshold and is excluded.
		assert.Equal(t, []string{"d", "e", "c"}, ids)
	})

	t.Run("raising the threshold never grows the result", func(t *testing.T) {
		prev := len(hits) + 1
		for _, threshold := range []float64{0.0, 0.5, 0.65, 0.7, 0.75, 0.9, 1.0} {
			n := len(matchesAbove(hits, threshold))
			assert.LessOrEqual(t, n, prev, "threshold %v", threshold)
			prev = n
		}
		assert.Empty(t, matchesAbove(hits, 0.9))
	})
}

func TestWithRetry(t *testing.T) {
	fastRetry := RetryConfig{Attempts: 3, Backoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, Jitter: 0}

	t.Run("returns immediately on success", func(t *testing.T) {
		calls := 0
		err := withRetry(context.Background(), fastRetry, "op", func(ctx context.Context) error {
			calls++
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("retries until success", func(t *testing.T) {
		calls := 0
		err := withRetry(context.Background(), fastRetry, "op", func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("returns the last error when exhausted", func(t *testing.T) {
		calls := 0
		err := withRetry(context.Background(), fastRetry, "op", func(ctx context.Context) error {
			calls++
			return errors.New("still down")
		})
		require.Error(t, err)
		assert.Equal(t, 4, calls)
		assert.Contains(t, err.Error(), "still down")
	})

	t.Run("each attempt runs under a deadline", func(t *testing.T) {
		cfg := fastRetry
		cfg.CallTimeout = 30 * time.Second

		err := withRetry(context.Background(), cfg, "op", func(ctx context.Context) error {
			deadline, ok := ctx.Deadline()
			require.True(t, ok, "attempt context has no deadline")
			assert.LessOrEqual(t, time.Until(deadline), cfg.CallTimeout)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("a timed-out attempt is retried", func(t *testing.T) {
		cfg := fastRetry
		cfg.CallTimeout = time.Millisecond

		calls := 0
		err := withRetry(context.Background(), cfg, "op", func(ctx context.Context) error {
			calls++
			if calls == 1 {
				<-ctx.Done()
				return ctx.Err()
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("stops when the context is canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := withRetry(ctx, fastRetry, "op", func(ctx context.Context) error {
			calls++
			cancel()
			return errors.New("transient")
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})
}

func TestRetryBackoff(t *testing.T) {
	cfg := RetryConfig{Attempts: 5, Backoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond, Jitter: 0}

	assert.Equal(t, 100*time.Millisecond, cfg.backoffFor(0))
	assert.Equal(t, 200*time.Millisecond, cfg.backoffFor(1))

	t.Run("caps at MaxBackoff", func(t *testing.T) {
		assert.Equal(t, 300*time.Millisecond, cfg.backoffFor(2))
		assert.Equal(t, 300*time.Millisecond, cfg.backoffFor(4))
	})

	t.Run("jitter stays within bounds", func(t *testing.T) {
		jittered := RetryConfig{Backoff: 100 * time.Millisecond, MaxBackoff: time.Second, Jitter: 0.25}
		for i := 0; i < 50; i++ {
			got := jittered.backoffFor(0)
			assert.GreaterOrEqual(t, got, 75*time.Millisecond)
			assert.LessOrEqual(t, got, 125*time.Millisecond)
		}
	})
}
