// Copyright (C) 2025 ArchSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// ComplianceRuleClass is the Weaviate class holding the compliance
// knowledge base. Vectors are supplied by the embedding service, so the
// class runs with vectorizer "none".
const ComplianceRuleClass = "ComplianceRule"

// ComplianceRule is one stored best-practice guideline. Reference data:
// the core only reads it via similarity search; writes happen through
// the seeding CLI and the admin endpoints.
type ComplianceRule struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Details     string   `json:"details,omitempty"`
	ServiceID   string   `json:"serviceId,omitempty"`
	Category    string   `json:"category,omitempty"`
	Severity    Severity `json:"severity"`
	Provider    string   `json:"provider,omitempty"`
	Metadata    string   `json:"metadata,omitempty"`
}

// EmbeddingText is the content string embedded for similarity search,
// matching what the seeder stores.
func (r *ComplianceRule) EmbeddingText() string {
	return fmt.Sprintf("%s %s %s", r.Title, r.Description, r.Details)
}

// ToProperties converts the rule to the property map the Weaviate data
// creator expects.
func (r *ComplianceRule) ToProperties() map[string]interface{} {
	return map[string]interface{}{
		"title":       r.Title,
		"description": r.Description,
		"details":     r.Details,
		"service_id":  r.ServiceID,
		"category":    r.Category,
		"severity":    string(r.Severity),
		"provider":    r.Provider,
		"metadata":    r.Metadata,
	}
}

// RetrievedMatch pairs a rule with its similarity to a query. Similarity
// is Weaviate certainty, always in [0,1].
type RetrievedMatch struct {
	Rule       ComplianceRule `json:"rule"`
	Similarity float64        `json:"similarity"`
}

// complianceRuleSchema declares the ComplianceRule class.
var complianceRuleSchema = &models.Class{
	Class:       ComplianceRuleClass,
	Description: "Cloud security compliance rules retrievable by semantic similarity",
	Vectorizer:  "none",
	Properties: []*models.Property{
		{Name: "title", DataType: []string{"text"}, Description: "Rule title"},
		{Name: "description", DataType: []string{"text"}, Description: "Short description of the rule"},
		{Name: "details", DataType: []string{"text"}, Description: "Full guidance text"},
		{Name: "service_id", DataType: []string{"text"}, Description: "Catalog service id the rule applies to"},
		{Name: "category", DataType: []string{"text"}, Description: "Security category"},
		{Name: "severity", DataType: []string{"text"}, Description: "low, medium, high or critical"},
		{Name: "provider", DataType: []string{"text"}, Description: "Cloud provider tag"},
		{Name: "metadata", DataType: []string{"text"}, Description: "JSON-encoded control mappings"},
	},
}

// EnsureComplianceRuleSchema creates the ComplianceRule class if it does
// not exist yet. Safe to call on every startup.
func EnsureComplianceRuleSchema(ctx context.Context, client *weaviate.Client) error {
	exists, err := client.Schema().ClassExistenceChecker().
		WithClassName(ComplianceRuleClass).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to check for the %s class: %w", ComplianceRuleClass, err)
	}
	if exists {
		slog.Debug("Weaviate schema already present", "class", ComplianceRuleClass)
		return nil
	}

	if err := client.Schema().ClassCreator().WithClass(complianceRuleSchema).Do(ctx); err != nil {
		return fmt.Errorf("failed to create the %s class: %w", ComplianceRuleClass, err)
	}
	slog.Info("Created Weaviate schema", "class", ComplianceRuleClass)
	return nil
}
