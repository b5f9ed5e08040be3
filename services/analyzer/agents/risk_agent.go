// Copyright (C) 2025 ArchSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agents

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/archsentry/archsentry/services/analyzer/datatypes"
	"github.com/archsentry/archsentry/services/analyzer/diagram"
	"github.com/archsentry/archsentry/services/llm"
)

var tracer = otel.Tracer("archsentry.analyzer.agents")

const riskSystemPrompt = "You are a cloud security expert with deep knowledge of AWS, Azure, and GCP security best practices."

// riskTemperature keeps analysis output stable across runs.
var riskTemperature = float32(0.1)

var riskMaxTokens = 4000

// RiskAgent runs the risk analysis stage: one reasoning call over the
// diagram and its retrieved compliance rules, followed by strict
// validation of the structured output.
type RiskAgent struct {
	llm llm.LLMClient
}

func NewRiskAgent(client llm.LLMClient) *RiskAgent {
	return &RiskAgent{llm: client}
}

// AnalysisResult is the validated output of one analysis call.
type AnalysisResult struct {
	Risks   []datatypes.Risk
	Summary string

	// Notes records non-fatal repairs applied to the model output.
	Notes []string
}

// riskPayload is the JSON shape the model is asked to produce.
type riskPayload struct {
	Risks []struct {
		ID                string   `json:"id"`
		Severity          string   `json:"severity"`
		Title             string   `json:"title"`
		Description       string   `json:"description"`
		AffectedNodeIDs   []string `json:"affectedNodeIds"`
		SupportingRuleIDs []string `json:"supportingRuleIds"`
		Recommendation    string   `json:"recommendation"`
	} `json:"risks"`
	Summary string `json:"summary"`
}

// Analyze produces validated risks for a diagram. The reasoning call is
// made at most twice: once normally, and once more with the validation
// failure fed back when the first response does not conform.
func (a *RiskAgent) Analyze(ctx context.Context, g *diagram.Graph, rules []datatypes.ComplianceRule) (*AnalysisResult, error) {
	ctx, span := tracer.Start(ctx, "RiskAgent.Analyze")
	defer span.End()
	span.SetAttributes(
		attribute.Int("analysis.edges", len(g.Edges)),
		attribute.Int("analysis.rules", len(rules)),
	)

	prompt := buildRiskPrompt(g, rules)
	params := llm.GenerationParams{
		System:      riskSystemPrompt,
		Temperature: &riskTemperature,
		MaxTokens:   &riskMaxTokens,
		JSONOnly:    true,
	}

	var lastInvalid error
	for attempt := 0; attempt < 2; attempt++ {
		callPrompt := prompt
		if attempt > 0 {
			callPrompt = fmt.Sprintf(
				"%s\n\nYour previous response was invalid: %v\nReturn only the JSON object in the required format.",
				prompt, lastInvalid)
			slog.Warn("Retrying risk analysis with corrective feedback", "error", lastInvalid)
		}

		raw, err := a.llm.Generate(ctx, callPrompt, params)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("risk analysis call failed: %w", err)
		}

		result, invalid := validateRiskPayload(raw, g)
		if invalid != nil {
			lastInvalid = invalid
			continue
		}

		slog.Info("Risk analysis complete",
			"risks", len(result.Risks), "notes", len(result.Notes))
		return result, nil
	}

	err := &SchemaViolation{Agent: "risk analysis", Reason: lastInvalid.Error()}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return nil, err
}

// validateRiskPayload decodes and validates one model response. The
// second return value is non-nil when the response should be retried
// with corrective feedback.
func validateRiskPayload(raw string, g *diagram.Graph) (*AnalysisResult, error) {
	var payload riskPayload
	if err := decodeResponse(raw, &payload, "risks", "summary"); err != nil {
		return nil, err
	}

	nodeIDs := g.NodeIDs()
	result := &AnalysisResult{
		Risks:   make([]datatypes.Risk, 0, len(payload.Risks)),
		Summary: payload.Summary,
	}
	seenIDs := make(map[string]bool)

	for i, pr := range payload.Risks {
		if pr.Title == "" {
			return nil, fmt.Errorf("risk %d has no title", i)
		}

		// A risk naming nodes that are not in the diagram is repaired by
		// dropping it, not by failing the stage.
		unknown := unknownNodes(pr.AffectedNodeIDs, nodeIDs)
		if len(unknown) > 0 {
			result.Notes = append(result.Notes, fmt.Sprintf(
				"dropped risk %q: it references nodes not in the diagram (%s)",
				pr.Title, strings.Join(unknown, ", ")))
			continue
		}

		severity, known := datatypes.NormalizeSeverity(pr.Severity)
		if !known {
			result.Notes = append(result.Notes, fmt.Sprintf(
				"severity %q on risk %q normalized to %s", pr.Severity, pr.Title, severity))
		}

		id := pr.ID
		if id == "" || seenIDs[id] {
			id = uuid.NewString()
		}
		seenIDs[id] = true

		result.Risks = append(result.Risks, datatypes.Risk{
			ID:                id,
			Title:             pr.Title,
			Description:       pr.Description,
			Severity:          severity,
			AffectedNodeIDs:   pr.AffectedNodeIDs,
			SupportingRuleIDs: pr.SupportingRuleIDs,
			Recommendation:    pr.Recommendation,
		})
	}
	return result, nil
}

func unknownNodes(ids []string, nodeIDs map[string]bool) []string {
	var unknown []string
	for _, id := range ids {
		if !nodeIDs[id] {
			unknown = append(unknown, id)
		}
	}
	return unknown
}

func buildRiskPrompt(g *diagram.Graph, rules []datatypes.ComplianceRule) string {
	var serviceIDs []string
	for _, st := range g.ServiceTypes() {
		serviceIDs = append(serviceIDs, st.ID)
	}
	sort.Strings(serviceIDs)

	var b strings.Builder
	b.WriteString("You are a cloud security expert analyzing architecture diagrams for security risks.\n\n")
	b.WriteString(datatypes.CatalogContext())
	b.WriteString("\nCOMPLIANCE RULES AND BEST PRACTICES:\n")
	b.WriteString(formatRules(rules))
	b.WriteString("\n\nARCHITECTURE DIAGRAM TO ANALYZE:\n")
	b.WriteString(diagram.Serialize(g))
	b.WriteString("\n\nSERVICES DETECTED: ")
	b.WriteString(strings.Join(serviceIDs, ", "))
	b.WriteString(`

Analyze this architecture diagram for security risks and compliance issues. Focus ONLY on the supported services listed above.

Return your analysis in the following JSON format:
{
    "risks": [
        {
            "id": "unique_id",
            "severity": "critical|high|medium|low",
            "title": "Risk Title",
            "description": "Detailed description of the risk",
            "affectedNodeIds": ["node ids from the diagram, if applicable"],
            "supportingRuleIds": ["ids of compliance rules that support this finding"],
            "recommendation": "Specific recommendation to fix the risk"
        }
    ],
    "summary": "Overall summary of the security posture and main concerns"
}

Focus on these key security areas:
1. Network security and segmentation
2. Data encryption (at rest and in transit)
3. Access controls and IAM
4. Logging and monitoring
5. Backup and disaster recovery
6. Service-specific security configurations
7. Data flow security
8. Compliance with cloud security best practices

Be specific about which nodes are affected and provide actionable recommendations. Only reference node ids that appear in the diagram.`)
	return b.String()
}

func formatRules(rules []datatypes.ComplianceRule) string {
	if len(rules) == 0 {
		return "No specific compliance rules found."
	}
	var lines []string
	for _, r := range rules {
		line := fmt.Sprintf("- [%s] %s: %s", r.ID, r.Title, r.Description)
		if r.ServiceID != "" {
			line += fmt.Sprintf(" (Service: %s)", r.ServiceID)
		}
		if r.Severity != "" {
			line += fmt.Sprintf(" (Severity: %s)", r.Severity)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
