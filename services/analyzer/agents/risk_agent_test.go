// Copyright (C) 2025 ArchSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agents

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archsentry/archsentry/services/analyzer/datatypes"
	"github.com/archsentry/archsentry/services/analyzer/diagram"
	"github.com/archsentry/archsentry/services/llm"
)

// fakeLLM replays canned responses in order.
type fakeLLM struct {
	responses []string
	err       error
	prompts   []string
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	i := len(f.prompts) - 1
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	return f.responses[i], nil
}

func parseGraph(t *testing.T, text string) *diagram.Graph {
	t.Helper()
	g, err := diagram.Parse(text)
	require.NoError(t, err)
	return g
}

const twoNodeDiagram = "@startdiagram\naws-ec2 web -> aws-rds db\n@enddiagram"

func TestRiskAgentAnalyze(t *testing.T) {
	g := parseGraph(t, twoNodeDiagram)

	valid := `{
		"risks": [{
			"id": "r1",
			"severity": "high",
			"title": "Unencrypted database connection",
			"description": "Traffic between web and db is not encrypted",
			"affectedNodeIds": ["web", "db"],
			"supportingRuleIds": ["rule-1"],
			"recommendation": "Enable TLS"
		}],
		"summary": "One high severity finding"
	}`

	t.Run("parses a valid response", func(t *testing.T) {
		fake := &fakeLLM{responses: []string{valid}}
		result, err := NewRiskAgent(fake).Analyze(context.Background(), g, nil)
		require.NoError(t, err)
		require.Len(t, result.Risks, 1)

		r := result.Risks[0]
		assert.Equal(t, "r1", r.ID)
		assert.Equal(t, datatypes.SeverityHigh, r.Severity)
		assert.Equal(t, []string{"web", "db"}, r.AffectedNodeIDs)
		assert.Equal(t, "One high severity finding", result.Summary)
		assert.Empty(t, result.Notes)
		assert.Len(t, fake.prompts, 1)
	})

	t.Run("tolerates a markdown fenced response", func(t *testing.T) {
		fake := &fakeLLM{responses: []string{"Here is the analysis:\n```json\n" + valid + "\n```"}}
		result, err := NewRiskAgent(fake).Analyze(context.Background(), g, nil)
		require.NoError(t, err)
		assert.Len(t, result.Risks, 1)
	})

	t.Run("normalizes an unknown severity and records a note", func(t *testing.T) {
		fake := &fakeLLM{responses: []string{`{
			"risks": [{"id": "r1", "severity": "urgent", "title": "T", "description": "D", "affectedNodeIds": ["web"]}],
			"summary": "s"
		}`}}
		result, err := NewRiskAgent(fake).Analyze(context.Background(), g, nil)
		require.NoError(t, err)
		assert.Equal(t, datatypes.SeverityMedium, result.Risks[0].Severity)
		require.Len(t, result.Notes, 1)
		assert.Contains(t, result.Notes[0], "urgent")
	})

	t.Run("assigns ids when missing or duplicated", func(t *testing.T) {
		fake := &fakeLLM{responses: []string{`{
			"risks": [
				{"id": "dup", "severity": "low", "title": "A", "description": "d"},
				{"id": "dup", "severity": "low", "title": "B", "description": "d"},
				{"severity": "low", "title": "C", "description": "d"}
			],
			"summary": "s"
		}`}}
		result, err := NewRiskAgent(fake).Analyze(context.Background(), g, nil)
		require.NoError(t, err)
		require.Len(t, result.Risks, 3)

		seen := make(map[string]bool)
		for _, r := range result.Risks {
			require.NotEmpty(t, r.ID)
			assert.False(t, seen[r.ID], "duplicate id %s", r.ID)
			seen[r.ID] = true
		}
		assert.Equal(t, "dup", result.Risks[0].ID)
	})

	t.Run("drops a risk referencing an unknown node and records a note", func(t *testing.T) {
		fake := &fakeLLM{responses: []string{`{
			"risks": [
				{"id": "r1", "severity": "high", "title": "Phantom", "description": "D", "affectedNodeIds": ["ghost"]},
				{"id": "r2", "severity": "low", "title": "Real", "description": "D", "affectedNodeIds": ["web"]}
			],
			"summary": "s"
		}`}}
		result, err := NewRiskAgent(fake).Analyze(context.Background(), g, nil)
		require.NoError(t, err)
		require.Len(t, result.Risks, 1)
		assert.Equal(t, "Real", result.Risks[0].Title)

		require.Len(t, result.Notes, 1)
		assert.Contains(t, result.Notes[0], "ghost")
		assert.Contains(t, result.Notes[0], "Phantom")
		assert.Len(t, fake.prompts, 1)
	})

	t.Run("retries once with corrective feedback on a missing title", func(t *testing.T) {
		bad := `{
			"risks": [{"id": "r1", "severity": "high", "description": "D", "affectedNodeIds": ["web"]}],
			"summary": "s"
		}`
		fake := &fakeLLM{responses: []string{bad, valid}}
		result, err := NewRiskAgent(fake).Analyze(context.Background(), g, nil)
		require.NoError(t, err)
		assert.Len(t, result.Risks, 1)

		require.Len(t, fake.prompts, 2)
		assert.Contains(t, fake.prompts[1], "previous response was invalid")
	})

	t.Run("fails with a schema violation after two bad responses", func(t *testing.T) {
		fake := &fakeLLM{responses: []string{"not json at all"}}
		_, err := NewRiskAgent(fake).Analyze(context.Background(), g, nil)
		require.Error(t, err)

		var sv *SchemaViolation
		require.True(t, errors.As(err, &sv))
		assert.Equal(t, "risk analysis", sv.Agent)
		assert.Len(t, fake.prompts, 2)
	})

	t.Run("propagates backend errors without retrying", func(t *testing.T) {
		fake := &fakeLLM{err: errors.New("backend down")}
		_, err := NewRiskAgent(fake).Analyze(context.Background(), g, nil)
		require.Error(t, err)
		assert.Len(t, fake.prompts, 1)

		var sv *SchemaViolation
		assert.False(t, errors.As(err, &sv))
	})

	t.Run("prompt carries the rules and the diagram", func(t *testing.T) {
		rules := []datatypes.ComplianceRule{{
			ID:          "rule-1",
			Title:       "Encrypt in transit",
			Description: "All database connections must use TLS",
			ServiceID:   "aws-rds",
			Severity:    datatypes.SeverityHigh,
		}}
		fake := &fakeLLM{responses: []string{valid}}
		_, err := NewRiskAgent(fake).Analyze(context.Background(), g, rules)
		require.NoError(t, err)

		prompt := fake.prompts[0]
		assert.Contains(t, prompt, "Encrypt in transit")
		assert.Contains(t, prompt, "aws-ec2 web -> aws-rds db")
		assert.Contains(t, prompt, "SERVICES DETECTED: aws-ec2, aws-rds")
		assert.Contains(t, prompt, "SUPPORTED CLOUD SERVICES:")
	})
}

func TestExtractJSON(t *testing.T) {
	t.Run("plain object", func(t *testing.T) {
		out, err := extractJSON(`{"a": 1}`)
		require.NoError(t, err)
		assert.Equal(t, `{"a": 1}`, out)
	})

	t.Run("json fence", func(t *testing.T) {
		out, err := extractJSON("```json\n{\"a\": 1}\n```")
		require.NoError(t, err)
		assert.Equal(t, `{"a": 1}`, out)
	})

	t.Run("bare fence", func(t *testing.T) {
		out, err := extractJSON("```\n{\"a\": 1}\n```")
		require.NoError(t, err)
		assert.Equal(t, `{"a": 1}`, out)
	})

	t.Run("object embedded in prose", func(t *testing.T) {
		out, err := extractJSON(`Sure, here you go: {"a": 1} hope that helps`)
		require.NoError(t, err)
		assert.Equal(t, `{"a": 1}`, out)
	})

	t.Run("empty input fails", func(t *testing.T) {
		_, err := extractJSON("   ")
		require.Error(t, err)
	})
}
