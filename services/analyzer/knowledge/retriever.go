// Copyright (C) 2025 ArchSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/archsentry/archsentry/services/analyzer/datatypes"
	"github.com/archsentry/archsentry/services/analyzer/diagram"
)

const (
	// SimilarityThreshold is the minimum certainty for a semantic match
	// to count as relevant.
	SimilarityThreshold = 0.7

	// semanticLimit bounds the diagram-wide semantic search.
	semanticLimit = 10

	// perServiceLimit bounds each exact per-service lookup.
	perServiceLimit = 25

	// maxConcurrentLookups caps the parallel per-service lookups.
	maxConcurrentLookups = 8
)

// RetrievalResult is the merged rule set for one diagram.
type RetrievalResult struct {
	Rules []datatypes.ComplianceRule

	// Partial is true when at least one lookup failed and the rule set
	// is incomplete. Analysis still proceeds on what was retrieved.
	Partial bool

	// FailedServices lists the catalog ids whose lookups failed.
	FailedServices []string

	// Notes describes non-fatal degradations, such as the semantic
	// search failing.
	Notes []string
}

// Retriever gathers the compliance rules relevant to a diagram: one
// exact lookup per distinct service type plus one semantic search over
// the whole diagram.
type Retriever struct {
	store         RuleSearcher
	maxConcurrent int
}

func NewRetriever(store RuleSearcher) *Retriever {
	return &Retriever{store: store, maxConcurrent: maxConcurrentLookups}
}

// GatherRules runs the per-service lookups concurrently, bounded by a
// semaphore, and merges results in service-id order so the output is
// deterministic regardless of completion order. Duplicate rules are
// kept once, first occurrence wins.
func (r *Retriever) GatherRules(ctx context.Context, g *diagram.Graph) (*RetrievalResult, error) {
	ctx, span := tracer.Start(ctx, "Retriever.GatherRules")
	defer span.End()

	if r.store == nil {
		return nil, fmt.Errorf("vector store not configured")
	}

	types := g.ServiceTypes()
	span.SetAttributes(attribute.Int("retrieval.service_types", len(types)))

	perService := make([][]datatypes.ComplianceRule, len(types))
	perServiceErr := make([]error, len(types))

	sem := make(chan struct{}, r.maxConcurrent)
	var wg sync.WaitGroup
	for i, st := range types {
		wg.Add(1)
		go func(i int, serviceID string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			rules, err := r.store.RulesForService(ctx, serviceID, perServiceLimit)
			if err != nil {
				perServiceErr[i] = err
				return
			}
			perService[i] = rules
		}(i, st.ID)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &RetrievalResult{}
	seen := make(map[string]bool)
	appendUnique := func(rules []datatypes.ComplianceRule) {
		for _, rule := range rules {
			if rule.ID != "" && seen[rule.ID] {
				continue
			}
			seen[rule.ID] = true
			result.Rules = append(result.Rules, rule)
		}
	}

	// Merge in the sorted type order, not completion order.
	for i, st := range types {
		if err := perServiceErr[i]; err != nil {
			slog.Warn("Per-service rule lookup failed, continuing without it",
				"service_id", st.ID, "error", err)
			result.Partial = true
			result.FailedServices = append(result.FailedServices, st.ID)
			continue
		}
		appendUnique(perService[i])
	}

	query := fmt.Sprintf("architecture security best practices %s", diagram.Serialize(g))
	matches, err := r.store.Search(ctx, query, SimilarityThreshold, semanticLimit)
	if err != nil {
		slog.Warn("Semantic rule search failed, continuing with per-service rules", "error", err)
		result.Partial = true
		result.Notes = append(result.Notes,
			"diagram-wide semantic rule search failed; analysis ran on per-service rules only")
	}
	for _, m := range matches {
		appendUnique([]datatypes.ComplianceRule{m.Rule})
	}

	slog.Debug("Gathered compliance rules",
		"rules", len(result.Rules), "partial", result.Partial)
	return result, nil
}
