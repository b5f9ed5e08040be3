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
	"sort"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/archsentry/archsentry/services/analyzer/datatypes"
)

var tracer = otel.Tracer("archsentry.analyzer.knowledge")

// RuleSearcher is the read-side interface the analysis pipeline depends
// on. It is narrow so stages can be tested against fakes.
type RuleSearcher interface {
	// Search returns rules semantically similar to query, best match
	// first. Only matches strictly above threshold are returned.
	Search(ctx context.Context, query string, threshold float64, limit int) ([]datatypes.RetrievedMatch, error)

	// RulesForService returns rules tagged with the given catalog
	// service id, in a deterministic order.
	RulesForService(ctx context.Context, serviceID string, limit int) ([]datatypes.ComplianceRule, error)
}

// RuleStore adds the write and admin operations used by the seeder and
// the rules endpoints.
type RuleStore interface {
	RuleSearcher

	AddRule(ctx context.Context, rule datatypes.ComplianceRule) (string, error)
	ListRules(ctx context.Context, limit int) ([]datatypes.ComplianceRule, error)

	// Reset drops and recreates the ComplianceRule class.
	Reset(ctx context.Context) error

	// Ready reports whether the vector store answers requests.
	Ready(ctx context.Context) error
}

// WeaviateRuleStore implements RuleStore on a Weaviate instance. Safe
// for concurrent use; the underlying client pools connections.
type WeaviateRuleStore struct {
	client   *weaviate.Client
	embedder EmbeddingProvider
	retry    RetryConfig
}

func NewWeaviateRuleStore(client *weaviate.Client, embedder EmbeddingProvider) *WeaviateRuleStore {
	return &WeaviateRuleStore{
		client:   client,
		embedder: embedder,
		retry:    DefaultRetryConfig(),
	}
}

// opContext bounds one direct Weaviate call with the per-call timeout.
func (s *WeaviateRuleStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.retry.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.retry.CallTimeout)
}

// ruleFields is the GraphQL field set shared by every rule query.
var ruleFields = []graphql.Field{
	{Name: "title"},
	{Name: "description"},
	{Name: "details"},
	{Name: "service_id"},
	{Name: "category"},
	{Name: "severity"},
	{Name: "provider"},
	{Name: "metadata"},
	{Name: "_additional", Fields: []graphql.Field{
		{Name: "id"},
		{Name: "certainty"},
	}},
}

// Search implements the RuleSearcher interface.
func (s *WeaviateRuleStore) Search(ctx context.Context, query string, threshold float64, limit int) ([]datatypes.RetrievedMatch, error) {
	ctx, span := tracer.Start(ctx, "WeaviateRuleStore.Search")
	defer span.End()
	span.SetAttributes(
		attribute.Float64("retrieval.threshold", threshold),
		attribute.Int("retrieval.limit", limit),
	)

	var vector []float32
	err := withRetry(ctx, s.retry, "embed_query", func(ctx context.Context) error {
		var err error
		vector, err = s.embedder.Embed(ctx, query)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	nearVector := s.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector).
		WithCertainty(float32(threshold))

	var resp *datatypes.ComplianceRuleGetResponse
	err = withRetry(ctx, s.retry, "rule_search", func(ctx context.Context) error {
		result, err := s.client.GraphQL().Get().
			WithClassName(datatypes.ComplianceRuleClass).
			WithFields(ruleFields...).
			WithNearVector(nearVector).
			WithLimit(limit).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("weaviate search failed: %w", err)
		}
		resp, err = datatypes.ParseGraphQLResponse[datatypes.ComplianceRuleGetResponse](result)
		return err
	})
	if err != nil {
		slog.Error("Rule search failed", "error", err)
		return nil, err
	}

	matches := matchesAbove(resp.Get.ComplianceRule, threshold)

	slog.Debug("Rule search complete", "hits", len(matches), "threshold", threshold)
	return matches, nil
}

// matchesAbove keeps hits strictly above threshold, ranked best first.
// WithCertainty is inclusive; the contract here is strict.
func matchesAbove(hits []datatypes.ComplianceRuleHit, threshold float64) []datatypes.RetrievedMatch {
	matches := make([]datatypes.RetrievedMatch, 0, len(hits))
	for _, hit := range hits {
		if hit.Additional.Certainty <= threshold {
			continue
		}
		matches = append(matches, datatypes.RetrievedMatch{
			Rule:       hit.ToRule(),
			Similarity: hit.Additional.Certainty,
		})
	}
	sortMatches(matches)
	return matches
}

// sortMatches orders by similarity descending, breaking ties by rule id
// so equal-scoring result sets are stable across calls.
func sortMatches(matches []datatypes.RetrievedMatch) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Rule.ID < matches[j].Rule.ID
	})
}

// RulesForService implements the RuleSearcher interface.
func (s *WeaviateRuleStore) RulesForService(ctx context.Context, serviceID string, limit int) ([]datatypes.ComplianceRule, error) {
	ctx, span := tracer.Start(ctx, "WeaviateRuleStore.RulesForService")
	defer span.End()
	span.SetAttributes(attribute.String("retrieval.service_id", serviceID))

	where := filters.Where().
		WithPath([]string{"service_id"}).
		WithOperator(filters.Equal).
		WithValueString(serviceID)

	var resp *datatypes.ComplianceRuleGetResponse
	err := withRetry(ctx, s.retry, "rules_for_service", func(ctx context.Context) error {
		result, err := s.client.GraphQL().Get().
			WithClassName(datatypes.ComplianceRuleClass).
			WithFields(ruleFields...).
			WithWhere(where).
			WithLimit(limit).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("weaviate query failed: %w", err)
		}
		resp, err = datatypes.ParseGraphQLResponse[datatypes.ComplianceRuleGetResponse](result)
		return err
	})
	if err != nil {
		slog.Error("Per-service rule lookup failed", "service_id", serviceID, "error", err)
		return nil, err
	}

	rules := make([]datatypes.ComplianceRule, 0, len(resp.Get.ComplianceRule))
	for _, hit := range resp.Get.ComplianceRule {
		rules = append(rules, hit.ToRule())
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules, nil
}

// AddRule embeds and stores one rule, returning the id Weaviate
// assigned.
func (s *WeaviateRuleStore) AddRule(ctx context.Context, rule datatypes.ComplianceRule) (string, error) {
	ctx, span := tracer.Start(ctx, "WeaviateRuleStore.AddRule")
	defer span.End()

	if !rule.Severity.Valid() {
		return "", fmt.Errorf("invalid severity %q", rule.Severity)
	}

	var vector []float32
	err := withRetry(ctx, s.retry, "embed_rule", func(ctx context.Context) error {
		var err error
		vector, err = s.embedder.Embed(ctx, rule.EmbeddingText())
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to embed rule %q: %w", rule.Title, err)
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	result, err := s.client.Data().Creator().
		WithClassName(datatypes.ComplianceRuleClass).
		WithProperties(rule.ToProperties()).
		WithVector(vector).
		Do(opCtx)
	if err != nil {
		slog.Error("Failed to store rule", "title", rule.Title, "error", err)
		return "", fmt.Errorf("failed to store rule: %w", err)
	}

	id := string(result.Object.ID)
	slog.Info("Stored compliance rule", "id", id, "title", rule.Title)
	return id, nil
}

// ListRules returns up to limit rules, ordered by id.
func (s *WeaviateRuleStore) ListRules(ctx context.Context, limit int) ([]datatypes.ComplianceRule, error) {
	ctx, span := tracer.Start(ctx, "WeaviateRuleStore.ListRules")
	defer span.End()

	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	result, err := s.client.GraphQL().Get().
		WithClassName(datatypes.ComplianceRuleClass).
		WithFields(ruleFields...).
		WithLimit(limit).
		Do(opCtx)
	if err != nil {
		return nil, fmt.Errorf("weaviate query failed: %w", err)
	}
	resp, err := datatypes.ParseGraphQLResponse[datatypes.ComplianceRuleGetResponse](result)
	if err != nil {
		return nil, err
	}

	rules := make([]datatypes.ComplianceRule, 0, len(resp.Get.ComplianceRule))
	for _, hit := range resp.Get.ComplianceRule {
		rules = append(rules, hit.ToRule())
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules, nil
}

// Reset drops the ComplianceRule class and recreates an empty one.
func (s *WeaviateRuleStore) Reset(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "WeaviateRuleStore.Reset")
	defer span.End()

	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	exists, err := s.client.Schema().ClassExistenceChecker().
		WithClassName(datatypes.ComplianceRuleClass).
		Do(opCtx)
	if err != nil {
		return fmt.Errorf("failed to check for the %s class: %w", datatypes.ComplianceRuleClass, err)
	}
	if exists {
		if err := s.client.Schema().ClassDeleter().
			WithClassName(datatypes.ComplianceRuleClass).
			Do(opCtx); err != nil {
			return fmt.Errorf("failed to drop the %s class: %w", datatypes.ComplianceRuleClass, err)
		}
		slog.Warn("Dropped the compliance rule class", "class", datatypes.ComplianceRuleClass)
	}
	return datatypes.EnsureComplianceRuleSchema(opCtx, s.client)
}

// Ready implements the RuleStore interface.
func (s *WeaviateRuleStore) Ready(ctx context.Context) error {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	isReady, err := s.client.Misc().ReadyChecker().Do(opCtx)
	if err != nil {
		return fmt.Errorf("weaviate readiness check failed: %w", err)
	}
	if !isReady {
		return fmt.Errorf("weaviate reports not ready")
	}
	return nil
}
