// Copyright (C) 2025 ArchSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// AnalyzeRequest is the body of POST /v1/analyze and the first half of
// POST /v1/analyze-and-verify.
type AnalyzeRequest struct {
	Diagram string `json:"diagram" binding:"required"`
}

// AnalysisMetadata records how the analysis was produced.
type AnalysisMetadata struct {
	// PartialRetrieval is true when one or more per-service rule
	// lookups failed and the analysis ran on an incomplete rule set.
	PartialRetrieval bool `json:"partialRetrieval"`

	// Notes collects non-fatal adjustments, for example severity
	// values the model emitted outside the allowed set.
	Notes []string `json:"notes,omitempty"`

	RulesConsidered int `json:"rulesConsidered"`
}

// AnalyzeResponse is the analysis stage result.
type AnalyzeResponse struct {
	Risks            []Risk           `json:"risks"`
	Summary          string           `json:"summary"`
	OverallRiskScore int              `json:"overallRiskScore"`
	Metadata         AnalysisMetadata `json:"metadata"`
}

// VerifyRequest is the body of POST /v1/verify. Risks may be empty, in
// which case the diagram comes back unchanged.
type VerifyRequest struct {
	OriginalDiagram string `json:"originalDiagram" binding:"required"`
	Risks           []Risk `json:"risks"`
}

// DiagramChange describes one structural difference between the
// original and corrected diagrams.
type DiagramChange struct {
	// Kind is one of "node-added", "node-removed", "edge-added",
	// "edge-removed".
	Kind        string `json:"kind"`
	Description string `json:"description"`
}

// VerifyResponse is the verification stage result. CorrectedDiagram is
// always valid DSL text: it has been re-parsed before being returned.
type VerifyResponse struct {
	CorrectedDiagram  string          `json:"correctedDiagram"`
	ChangesSummary    []DiagramChange `json:"changesSummary"`
	UnresolvedRiskIDs []string        `json:"unresolvedRiskIds"`
	Explanation       string          `json:"explanation"`
}

// AnalyzeAndVerifyResponse is the combined pipeline result.
type AnalyzeAndVerifyResponse struct {
	Analysis     AnalyzeResponse `json:"analysis"`
	Verification VerifyResponse  `json:"verification"`
}

// ErrorResponse is the uniform error body for all endpoints. Stage
// names which pipeline stage failed, when known.
type ErrorResponse struct {
	Error  string `json:"error"`
	Stage  string `json:"stage,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// HealthResponse reports per-dependency health for GET /health.
type HealthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

// AddRuleRequest is the body of POST /v1/rules.
type AddRuleRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description" binding:"required"`
	Details     string `json:"details"`
	ServiceID   string `json:"serviceId"`
	Category    string `json:"category"`
	Severity    string `json:"severity" binding:"required"`
	Provider    string `json:"provider"`
	Metadata    string `json:"metadata"`
}

// AddRuleResponse returns the id Weaviate assigned to a new rule.
type AddRuleResponse struct {
	ID string `json:"id"`
}

// ListRulesResponse is the body of GET /v1/rules.
type ListRulesResponse struct {
	Rules []ComplianceRule `json:"rules"`
	Count int              `json:"count"`
}
