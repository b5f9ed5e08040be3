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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archsentry/archsentry/services/analyzer/datatypes"
	"github.com/archsentry/archsentry/services/analyzer/diagram"
)

// fakeSearcher is a deterministic in-memory RuleSearcher.
type fakeSearcher struct {
	mu          sync.Mutex
	byService   map[string][]datatypes.ComplianceRule
	semantic    []datatypes.RetrievedMatch
	failFor     map[string]error
	semanticErr error
	calls       []string
}

func (f *fakeSearcher) Search(ctx context.Context, query string, threshold float64, limit int) ([]datatypes.RetrievedMatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "search")
	if f.semanticErr != nil {
		return nil, f.semanticErr
	}
	out := make([]datatypes.RetrievedMatch, 0, len(f.semantic))
	for _, m := range f.semantic {
		if m.Similarity > threshold {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeSearcher) RulesForService(ctx context.Context, serviceID string, limit int) ([]datatypes.ComplianceRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, serviceID)
	if err := f.failFor[serviceID]; err != nil {
		return nil, err
	}
	return f.byService[serviceID], nil
}

func rule(id, serviceID string) datatypes.ComplianceRule {
	return datatypes.ComplianceRule{ID: id, Title: id, ServiceID: serviceID, Severity: datatypes.SeverityHigh}
}

func mustParse(t *testing.T, text string) *diagram.Graph {
	t.Helper()
	g, err := diagram.Parse(text)
	require.NoError(t, err)
	return g
}

func TestGatherRules(t *testing.T) {
	g := mustParse(t, "@startdiagram\naws-ec2 web -> aws-rds db\naws-s3 assets -> aws-ec2 web\n@enddiagram")

	t.Run("merges in sorted service order with semantic results last", func(t *testing.T) {
		fake := &fakeSearcher{
			byService: map[string][]datatypes.ComplianceRule{
				"aws-ec2": {rule("r-ec2", "aws-ec2")},
				"aws-rds": {rule("r-rds", "aws-rds")},
				"aws-s3":  {rule("r-s3", "aws-s3")},
			},
			semantic: []datatypes.RetrievedMatch{
				{Rule: rule("r-general", ""), Similarity: 0.9},
			},
		}

		result, err := NewRetriever(fake).GatherRules(context.Background(), g)
		require.NoError(t, err)
		assert.False(t, result.Partial)

		var ids []string
		for _, r := range result.Rules {
			ids = append(ids, r.ID)
		}
		assert.Equal(t, []string{"r-ec2", "r-rds", "r-s3", "r-general"}, ids)
	})

	t.Run("is deterministic across repeated calls", func(t *testing.T) {
		fake := &fakeSearcher{
			byService: map[string][]datatypes.ComplianceRule{
				"aws-ec2": {rule("a", "aws-ec2"), rule("b", "aws-ec2")},
				"aws-rds": {rule("c", "aws-rds")},
				"aws-s3":  {rule("d", "aws-s3")},
			},
		}
		first, err := NewRetriever(fake).GatherRules(context.Background(), g)
		require.NoError(t, err)
		for i := 0; i < 10; i++ {
			again, err := NewRetriever(fake).GatherRules(context.Background(), g)
			require.NoError(t, err)
			assert.Equal(t, first.Rules, again.Rules)
		}
	})

	t.Run("deduplicates by rule id", func(t *testing.T) {
		shared := rule("shared", "aws-ec2")
		fake := &fakeSearcher{
			byService: map[string][]datatypes.ComplianceRule{
				"aws-ec2": {shared},
				"aws-rds": {shared},
			},
			semantic: []datatypes.RetrievedMatch{{Rule: shared, Similarity: 0.8}},
		}
		result, err := NewRetriever(fake).GatherRules(context.Background(), g)
		require.NoError(t, err)
		assert.Len(t, result.Rules, 1)
	})

	t.Run("a failed per-service lookup degrades to partial", func(t *testing.T) {
		fake := &fakeSearcher{
			byService: map[string][]datatypes.ComplianceRule{
				"aws-ec2": {rule("r-ec2", "aws-ec2")},
			},
			failFor: map[string]error{"aws-rds": errors.New("store down")},
		}
		result, err := NewRetriever(fake).GatherRules(context.Background(), g)
		require.NoError(t, err)
		assert.True(t, result.Partial)
		assert.Equal(t, []string{"aws-rds"}, result.FailedServices)
		assert.Len(t, result.Rules, 1)
	})

	t.Run("a failed semantic search degrades to partial", func(t *testing.T) {
		fake := &fakeSearcher{
			byService: map[string][]datatypes.ComplianceRule{
				"aws-ec2": {rule("r-ec2", "aws-ec2")},
				"aws-rds": {rule("r-rds", "aws-rds")},
			},
			semanticErr: errors.New("store down"),
		}
		result, err := NewRetriever(fake).GatherRules(context.Background(), g)
		require.NoError(t, err)
		assert.True(t, result.Partial)
		assert.Len(t, result.Rules, 2)
		require.Len(t, result.Notes, 1)
		assert.Contains(t, result.Notes[0], "semantic rule search failed")
	})
}
