// Copyright (C) 2025 ArchSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "strings"

// Severity is the fixed ordered risk scale. The zero value is not valid;
// unrecognized strings from the reasoning service normalize to medium.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRank orders severities for comparison. Higher is worse.
var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Valid reports whether s is one of the four catalog severities.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// AtLeast reports whether s is as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

// NormalizeSeverity maps a raw severity string onto the fixed scale.
// Unknown values default to medium; the second return value reports
// whether the input was recognized so callers can flag the repair.
func NormalizeSeverity(raw string) (Severity, bool) {
	s := Severity(strings.ToLower(strings.TrimSpace(raw)))
	if s.Valid() {
		return s, true
	}
	return SeverityMedium, false
}

// Risk is a finding produced by the risk analysis stage and consumed by
// the verification stage. It is never persisted.
type Risk struct {
	ID                string   `json:"id"`
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	Severity          Severity `json:"severity"`
	AffectedNodeIDs   []string `json:"affectedNodeIds"`
	SupportingRuleIDs []string `json:"supportingRuleIds,omitempty"`
	Recommendation    string   `json:"recommendation,omitempty"`
}

// riskScoreWeights are the per-severity contributions to the overall
// 0-100 risk score.
var riskScoreWeights = map[Severity]int{
	SeverityCritical: 25,
	SeverityHigh:     15,
	SeverityMedium:   8,
	SeverityLow:      3,
}

// OverallRiskScore sums per-risk severity weights, capped at 100.
func OverallRiskScore(risks []Risk) int {
	total := 0
	for _, r := range risks {
		total += riskScoreWeights[r.Severity]
	}
	if total > 100 {
		return 100
	}
	return total
}
