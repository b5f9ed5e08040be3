// Copyright (C) 2025 ArchSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// GraphQLAdditional carries the _additional block requested on every
// similarity query.
type GraphQLAdditional struct {
	ID        string  `json:"id"`
	Certainty float64 `json:"certainty"`
}

// ComplianceRuleHit is one ComplianceRule object as returned by a
// GraphQL Get query.
type ComplianceRuleHit struct {
	Additional  GraphQLAdditional `json:"_additional"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Details     string            `json:"details"`
	ServiceID   string            `json:"service_id"`
	Category    string            `json:"category"`
	Severity    string            `json:"severity"`
	Provider    string            `json:"provider"`
	Metadata    string            `json:"metadata"`
}

// ToRule converts a GraphQL hit back into the rule shape the rest of
// the service works with. Severity strings stored before validation was
// enforced are normalized here.
func (h *ComplianceRuleHit) ToRule() ComplianceRule {
	sev, _ := NormalizeSeverity(h.Severity)
	return ComplianceRule{
		ID:          h.Additional.ID,
		Title:       h.Title,
		Description: h.Description,
		Details:     h.Details,
		ServiceID:   h.ServiceID,
		Category:    h.Category,
		Severity:    sev,
		Provider:    h.Provider,
		Metadata:    h.Metadata,
	}
}

// ComplianceRuleGetResponse is the shape of resp.Data["Get"] for
// ComplianceRule queries.
type ComplianceRuleGetResponse struct {
	Get struct {
		ComplianceRule []ComplianceRuleHit `json:"ComplianceRule"`
	} `json:"Get"`
}

// ParseGraphQLResponse unmarshals a Weaviate GraphQL response into a
// typed result. The client returns Data as map[string]models.JSONObject,
// so we round-trip through JSON to get typed structs.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			if e != nil {
				msgs = append(msgs, e.Message)
			}
		}
		return nil, fmt.Errorf("GraphQL query failed: %v", msgs)
	}

	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to re-marshal GraphQL data: %w", err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal GraphQL data: %w", err)
	}
	return &out, nil
}
