// Copyright (C) 2025 ArchSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package diagram

import (
	"fmt"
	"strings"

	"github.com/archsentry/archsentry/services/analyzer/datatypes"
)

const (
	// StartMarker and EndMarker delimit a diagram. Each must appear on
	// its own line.
	StartMarker = "@startdiagram"
	EndMarker   = "@enddiagram"
)

// ParseError describes a structural failure in diagram text. Line is
// 1-based and counts interior lines relative to the full input.
type ParseError struct {
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("diagram parse error on line %d: %s", e.Line, e.Reason)
	}
	return fmt.Sprintf("diagram parse error: %s", e.Reason)
}

// Parse converts serialized diagram text into a Graph.
//
// Grammar: a start marker line, zero or more edge lines of the form
// `<serviceType> <nodeId> <connector> <serviceType> <nodeId>`, and an
// end marker line. Blank lines are ignored. Unknown connector symbols
// parse leniently as solid; unknown service types, bad token counts,
// missing or out-of-order markers, and node ids outside [a-zA-Z0-9_-]
// fail with a *ParseError carrying the offending line number.
func Parse(text string) (*Graph, error) {
	lines := strings.Split(strings.TrimSpace(text), "\n")

	startLine, endLine := -1, -1
	for i, line := range lines {
		switch strings.TrimSpace(line) {
		case StartMarker:
			if startLine == -1 {
				startLine = i
			}
		case EndMarker:
			if endLine == -1 {
				endLine = i
			}
		}
	}
	if startLine == -1 {
		return nil, &ParseError{Reason: fmt.Sprintf("missing %s marker", StartMarker)}
	}
	if endLine == -1 {
		return nil, &ParseError{Reason: fmt.Sprintf("missing %s marker", EndMarker)}
	}
	if endLine < startLine {
		return nil, &ParseError{Line: endLine + 1, Reason: "end marker appears before start marker"}
	}

	g := &Graph{}
	for i := startLine + 1; i < endLine; i++ {
		raw := strings.TrimSpace(lines[i])
		if raw == "" {
			continue
		}
		// Interior lines are numbered relative to the start marker so
		// the count matches what the caller sees between the markers.
		lineNo := i - startLine
		edge, err := parseEdgeLine(raw, lineNo)
		if err != nil {
			return nil, err
		}
		g.Edges = append(g.Edges, *edge)
	}
	return g, nil
}

func parseEdgeLine(line string, lineNo int) (*Edge, error) {
	tokens := strings.Fields(line)
	if len(tokens) != 5 {
		return nil, &ParseError{Line: lineNo,
			Reason: fmt.Sprintf("expected 5 tokens (<type> <id> <connector> <type> <id>), got %d", len(tokens))}
	}

	from, err := parseNode(tokens[0], tokens[1], lineNo)
	if err != nil {
		return nil, err
	}
	to, err := parseNode(tokens[3], tokens[4], lineNo)
	if err != nil {
		return nil, err
	}

	// Lenient on the connector only: an unrecognized symbol becomes a
	// solid edge and round-trips to the canonical "->" on serialize.
	connector, ok := connectorForSymbol[tokens[2]]
	if !ok {
		connector = ConnectorSolid
	}

	return &Edge{From: *from, To: *to, Connector: connector}, nil
}

func parseNode(typeToken, idToken string, lineNo int) (*Node, error) {
	st, ok := datatypes.LookupServiceType(typeToken)
	if !ok {
		return nil, &ParseError{Line: lineNo,
			Reason: fmt.Sprintf("unknown service type %q", typeToken)}
	}
	if !validNodeID(idToken) {
		return nil, &ParseError{Line: lineNo,
			Reason: fmt.Sprintf("node id %q contains characters outside [a-zA-Z0-9_-]", idToken)}
	}
	return &Node{Type: st, ID: idToken}, nil
}

func validNodeID(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		if !isIDRune(r) {
			return false
		}
	}
	return true
}

func isIDRune(r rune) bool {
	return r >= 'a' && r <= 'z' ||
		r >= 'A' && r <= 'Z' ||
		r >= '0' && r <= '9' ||
		r == '_' || r == '-'
}

// SanitizeNodeID replaces characters outside [a-zA-Z0-9_-] with '_'.
// Used before serializing graphs whose ids were built programmatically.
func SanitizeNodeID(id string) string {
	var b strings.Builder
	for _, r := range id {
		if isIDRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

// Serialize renders a graph in canonical diagram text: one edge per
// line between the markers, canonical connector symbols, node ids
// sanitized. serialize(parse(serialize(g))) is byte-identical to
// serialize(g).
func Serialize(g *Graph) string {
	var b strings.Builder
	b.WriteString(StartMarker)
	b.WriteString("\n")
	for _, e := range g.Edges {
		fmt.Fprintf(&b, "%s %s %s %s %s\n",
			e.From.Type.ID, SanitizeNodeID(e.From.ID),
			e.Connector.Symbol(),
			e.To.Type.ID, SanitizeNodeID(e.To.ID))
	}
	b.WriteString(EndMarker)
	return b.String()
}
