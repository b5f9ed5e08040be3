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

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/archsentry/archsentry/services/analyzer/datatypes"
	"github.com/archsentry/archsentry/services/analyzer/diagram"
	"github.com/archsentry/archsentry/services/llm"
)

const verifySystemPrompt = "You are a cloud security architect with expertise in AWS, Azure, and GCP security best practices."

var verifyTemperature = float32(0.2)

var verifyMaxTokens = 4000

// VerifyAgent runs the verification stage: it asks the reasoning
// backend for a hardened version of the diagram, re-parses the output
// through the codec, and derives the structural change summary itself
// rather than trusting the model to report its own edits.
type VerifyAgent struct {
	llm llm.LLMClient
}

func NewVerifyAgent(client llm.LLMClient) *VerifyAgent {
	return &VerifyAgent{llm: client}
}

type verifyPayload struct {
	CorrectedDiagram string `json:"correctedDiagram"`
	Explanation      string `json:"explanation"`
}

// Verify produces a corrected diagram for the given risks. The
// corrected text is guaranteed to parse; an unparseable response is
// retried once with the parse error fed back, after which the stage
// fails with a SchemaViolation.
func (a *VerifyAgent) Verify(ctx context.Context, g *diagram.Graph, risks []datatypes.Risk) (*datatypes.VerifyResponse, error) {
	ctx, span := tracer.Start(ctx, "VerifyAgent.Verify")
	defer span.End()
	span.SetAttributes(attribute.Int("verification.risks", len(risks)))

	prompt := buildVerifyPrompt(g, risks)
	params := llm.GenerationParams{
		System:      verifySystemPrompt,
		Temperature: &verifyTemperature,
		MaxTokens:   &verifyMaxTokens,
		JSONOnly:    true,
	}

	var lastInvalid error
	for attempt := 0; attempt < 2; attempt++ {
		callPrompt := prompt
		if attempt > 0 {
			callPrompt = fmt.Sprintf(
				"%s\n\nYour previous response was invalid: %v\nReturn only the JSON object, and make sure the corrected diagram parses.",
				prompt, lastInvalid)
			slog.Warn("Retrying verification with corrective feedback", "error", lastInvalid)
		}

		raw, err := a.llm.Generate(ctx, callPrompt, params)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("verification call failed: %w", err)
		}

		var payload verifyPayload
		if err := decodeResponse(raw, &payload, "correctedDiagram", "explanation"); err != nil {
			lastInvalid = err
			continue
		}

		corrected, err := diagram.Parse(payload.CorrectedDiagram)
		if err != nil {
			lastInvalid = fmt.Errorf("corrected diagram does not parse: %w", err)
			continue
		}

		resp := &datatypes.VerifyResponse{
			CorrectedDiagram:  diagram.Serialize(corrected),
			ChangesSummary:    diffGraphs(g, corrected),
			UnresolvedRiskIDs: unresolvedRisks(g, corrected, risks),
			Explanation:       payload.Explanation,
		}
		slog.Info("Verification complete",
			"changes", len(resp.ChangesSummary), "unresolved", len(resp.UnresolvedRiskIDs))
		return resp, nil
	}

	err := &SchemaViolation{Agent: "verification", Reason: lastInvalid.Error()}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return nil, err
}

func buildVerifyPrompt(g *diagram.Graph, risks []datatypes.Risk) string {
	var b strings.Builder
	b.WriteString("You are a cloud security architect tasked with fixing security issues in architecture diagrams.\n\n")
	b.WriteString(datatypes.CatalogContext())
	b.WriteString("\nORIGINAL ARCHITECTURE DIAGRAM:\n")
	b.WriteString(diagram.Serialize(g))
	b.WriteString("\n\nSECURITY RISKS IDENTIFIED:\n")
	b.WriteString(formatRisks(risks))
	b.WriteString(`

Your task is to generate a corrected version of the architecture diagram that addresses the identified security risks.

IMPORTANT CONSTRAINTS:
1. You MUST only use the supported services listed above
2. The output MUST be in the exact same serialized format as the input
3. You can add new services, remove services, or modify connections
4. Focus on security hardening while maintaining functionality
5. Add security services like WAF, bastion hosts, VPN gateways or monitoring if needed
6. Ensure proper network segmentation and access controls

Return your response in the following JSON format:
{
    "correctedDiagram": "The corrected diagram in the same serialized format",
    "explanation": "Detailed explanation of the changes made and why they improve security"
}

The corrected diagram should:
- Address all critical and high severity risks
- Implement defense in depth
- Follow cloud security best practices
- Maintain the original functionality where possible
- Use only the supported services listed above

Format the corrected diagram exactly like this:
@startdiagram
[service_type] [id] [connector] [service_type] [id]
@enddiagram`)
	return b.String()
}

func formatRisks(risks []datatypes.Risk) string {
	if len(risks) == 0 {
		return "No specific risks identified."
	}
	var lines []string
	for _, r := range risks {
		line := fmt.Sprintf("- [%s] %s: %s", strings.ToUpper(string(r.Severity)), r.Title, r.Description)
		if len(r.AffectedNodeIDs) > 0 {
			line += fmt.Sprintf(" (Affects: %s)", strings.Join(r.AffectedNodeIDs, ", "))
		}
		if r.Recommendation != "" {
			line += fmt.Sprintf(" (Fix: %s)", r.Recommendation)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// diffGraphs describes the structural differences between the original
// and corrected diagrams: node additions and removals first, then edge
// additions and removals, each in a deterministic order.
func diffGraphs(original, corrected *diagram.Graph) []datatypes.DiagramChange {
	var changes []datatypes.DiagramChange

	origNodes := nodeSet(original)
	corrNodes := nodeSet(corrected)
	for _, key := range sortedDiff(corrNodes, origNodes) {
		changes = append(changes, datatypes.DiagramChange{
			Kind:        "node-added",
			Description: fmt.Sprintf("Added node: %s", key),
		})
	}
	for _, key := range sortedDiff(origNodes, corrNodes) {
		changes = append(changes, datatypes.DiagramChange{
			Kind:        "node-removed",
			Description: fmt.Sprintf("Removed node: %s", key),
		})
	}

	origEdges := edgeSet(original)
	corrEdges := edgeSet(corrected)
	for _, key := range sortedDiff(corrEdges, origEdges) {
		changes = append(changes, datatypes.DiagramChange{
			Kind:        "edge-added",
			Description: fmt.Sprintf("Added connection: %s", key),
		})
	}
	for _, key := range sortedDiff(origEdges, corrEdges) {
		changes = append(changes, datatypes.DiagramChange{
			Kind:        "edge-removed",
			Description: fmt.Sprintf("Removed connection: %s", key),
		})
	}
	return changes
}

func nodeSet(g *diagram.Graph) map[string]bool {
	set := make(map[string]bool)
	for _, n := range g.Nodes() {
		set[fmt.Sprintf("%s %s", n.Type.ID, n.ID)] = true
	}
	return set
}

func edgeSet(g *diagram.Graph) map[string]bool {
	set := make(map[string]bool)
	for _, e := range g.Edges {
		set[fmt.Sprintf("%s %s %s %s %s",
			e.From.Type.ID, e.From.ID, e.Connector.Symbol(), e.To.Type.ID, e.To.ID)] = true
	}
	return set
}

// sortedDiff returns the keys present in a but not in b, sorted.
func sortedDiff(a, b map[string]bool) []string {
	var out []string
	for key := range a {
		if !b[key] {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}

// unresolvedRisks flags risks the corrected diagram visibly did not
// address. A risk with affected nodes counts as unresolved when every
// one of those nodes survives unchanged and every original edge
// touching them is still present. A risk with no affected nodes counts
// as unresolved only when the diagram did not change at all.
func unresolvedRisks(original, corrected *diagram.Graph, risks []datatypes.Risk) []string {
	origEdges := edgeSet(original)
	corrEdges := edgeSet(corrected)
	corrNodes := corrected.NodeIDs()

	diagramUnchanged := len(diffGraphs(original, corrected)) == 0

	var unresolved []string
	for _, r := range risks {
		if len(r.AffectedNodeIDs) == 0 {
			if diagramUnchanged {
				unresolved = append(unresolved, r.ID)
			}
			continue
		}

		touched := false
		for _, nodeID := range r.AffectedNodeIDs {
			if !corrNodes[nodeID] {
				touched = true
				break
			}
			for key := range edgesTouchingKeys(original, nodeID, origEdges) {
				if !corrEdges[key] {
					touched = true
					break
				}
			}
			if touched {
				break
			}
		}
		// New edges attached to an affected node also count as a fix,
		// for example routing it through a WAF.
		if !touched {
			for _, nodeID := range r.AffectedNodeIDs {
				for key := range edgesTouchingKeys(corrected, nodeID, corrEdges) {
					if !origEdges[key] {
						touched = true
						break
					}
				}
				if touched {
					break
				}
			}
		}
		if !touched {
			unresolved = append(unresolved, r.ID)
		}
	}
	return unresolved
}

// edgesTouchingKeys returns the canonical keys of the edges in g that
// touch nodeID, restricted to the given key set.
func edgesTouchingKeys(g *diagram.Graph, nodeID string, keys map[string]bool) map[string]bool {
	out := make(map[string]bool)
	for _, e := range g.EdgesTouching(nodeID) {
		key := fmt.Sprintf("%s %s %s %s %s",
			e.From.Type.ID, e.From.ID, e.Connector.Symbol(), e.To.Type.ID, e.To.ID)
		if keys[key] {
			out[key] = true
		}
	}
	return out
}
