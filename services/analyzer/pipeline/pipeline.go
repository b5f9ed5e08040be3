// Copyright (C) 2025 ArchSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pipeline orchestrates the analysis stages: parse, rule
// retrieval, risk analysis, and optional verification. Reasoning calls
// run strictly sequentially; only rule retrieval fans out.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/archsentry/archsentry/services/analyzer/agents"
	"github.com/archsentry/archsentry/services/analyzer/datatypes"
	"github.com/archsentry/archsentry/services/analyzer/diagram"
	"github.com/archsentry/archsentry/services/analyzer/knowledge"
)

var tracer = otel.Tracer("archsentry.analyzer.pipeline")

// RuleGatherer retrieves the compliance rules relevant to a diagram.
type RuleGatherer interface {
	GatherRules(ctx context.Context, g *diagram.Graph) (*knowledge.RetrievalResult, error)
}

// RiskAnalyzer produces risks for a diagram and its rules.
type RiskAnalyzer interface {
	Analyze(ctx context.Context, g *diagram.Graph, rules []datatypes.ComplianceRule) (*agents.AnalysisResult, error)
}

// Verifier produces a corrected diagram addressing the given risks.
type Verifier interface {
	Verify(ctx context.Context, g *diagram.Graph, risks []datatypes.Risk) (*datatypes.VerifyResponse, error)
}

// Pipeline wires the stages together behind the three public
// operations the HTTP surface exposes.
type Pipeline struct {
	gatherer RuleGatherer
	analyzer RiskAnalyzer
	verifier Verifier
}

func New(gatherer RuleGatherer, analyzer RiskAnalyzer, verifier Verifier) *Pipeline {
	return &Pipeline{
		gatherer: gatherer,
		analyzer: analyzer,
		verifier: verifier,
	}
}

// Analyze parses the diagram, retrieves rules, and runs risk analysis.
func (p *Pipeline) Analyze(ctx context.Context, diagramText string) (*datatypes.AnalyzeResponse, error) {
	ctx, span := tracer.Start(ctx, "Pipeline.Analyze")
	defer span.End()

	g, err := diagram.Parse(diagramText)
	if err != nil {
		return nil, stageErr(StageParse, err)
	}
	span.SetAttributes(attribute.Int("diagram.edges", len(g.Edges)))

	resp, err := p.analyze(ctx, g)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (p *Pipeline) analyze(ctx context.Context, g *diagram.Graph) (*datatypes.AnalyzeResponse, error) {
	retrieval, err := p.gatherer.GatherRules(ctx, g)
	if err != nil {
		return nil, stageErr(StageRetrieve, err)
	}

	result, err := p.analyzer.Analyze(ctx, g, retrieval.Rules)
	if err != nil {
		return nil, stageErr(StageAnalyze, err)
	}

	notes := append([]string(nil), result.Notes...)
	notes = append(notes, retrieval.Notes...)
	for _, serviceID := range retrieval.FailedServices {
		notes = append(notes, fmt.Sprintf("rule lookup for %s failed; analysis ran without its rules", serviceID))
	}

	resp := &datatypes.AnalyzeResponse{
		Risks:            result.Risks,
		Summary:          result.Summary,
		OverallRiskScore: datatypes.OverallRiskScore(result.Risks),
		Metadata: datatypes.AnalysisMetadata{
			PartialRetrieval: retrieval.Partial,
			Notes:            notes,
			RulesConsidered:  len(retrieval.Rules),
		},
	}
	if resp.Risks == nil {
		resp.Risks = []datatypes.Risk{}
	}

	slog.Info("Analysis pipeline complete",
		"risks", len(resp.Risks),
		"score", resp.OverallRiskScore,
		"partial_retrieval", retrieval.Partial)
	return resp, nil
}

// Verify parses the original diagram and runs the verification stage.
// With no risks there is nothing to correct: the original diagram text
// is returned byte for byte, without a reasoning call.
func (p *Pipeline) Verify(ctx context.Context, originalDiagram string, risks []datatypes.Risk) (*datatypes.VerifyResponse, error) {
	ctx, span := tracer.Start(ctx, "Pipeline.Verify")
	defer span.End()
	span.SetAttributes(attribute.Int("verification.risks", len(risks)))

	g, err := diagram.Parse(originalDiagram)
	if err != nil {
		return nil, stageErr(StageParse, err)
	}
	return p.verify(ctx, originalDiagram, g, risks)
}

func (p *Pipeline) verify(ctx context.Context, originalDiagram string, g *diagram.Graph, risks []datatypes.Risk) (*datatypes.VerifyResponse, error) {
	if len(risks) == 0 {
		slog.Info("No risks to verify, returning the diagram unchanged")
		return &datatypes.VerifyResponse{
			CorrectedDiagram:  originalDiagram,
			ChangesSummary:    []datatypes.DiagramChange{},
			UnresolvedRiskIDs: []string{},
			Explanation:       "No security risks were identified, so the architecture is unchanged.",
		}, nil
	}

	resp, err := p.verifier.Verify(ctx, g, risks)
	if err != nil {
		return nil, stageErr(StageVerify, err)
	}
	if resp.ChangesSummary == nil {
		resp.ChangesSummary = []datatypes.DiagramChange{}
	}
	if resp.UnresolvedRiskIDs == nil {
		resp.UnresolvedRiskIDs = []string{}
	}
	return resp, nil
}

// AnalyzeAndVerify runs the full pipeline. The diagram is parsed once
// and shared by both stages.
func (p *Pipeline) AnalyzeAndVerify(ctx context.Context, diagramText string) (*datatypes.AnalyzeAndVerifyResponse, error) {
	ctx, span := tracer.Start(ctx, "Pipeline.AnalyzeAndVerify")
	defer span.End()

	g, err := diagram.Parse(diagramText)
	if err != nil {
		return nil, stageErr(StageParse, err)
	}

	analysis, err := p.analyze(ctx, g)
	if err != nil {
		return nil, err
	}
	verification, err := p.verify(ctx, diagramText, g, analysis.Risks)
	if err != nil {
		return nil, err
	}
	return &datatypes.AnalyzeAndVerifyResponse{
		Analysis:     *analysis,
		Verification: *verification,
	}, nil
}
