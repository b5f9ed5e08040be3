// Copyright (C) 2025 ArchSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package diagram implements the textual diagram language codec: parsing
// serialized architecture diagrams into a typed edge list and rendering
// graphs back into canonical text.
package diagram

import (
	"sort"

	"github.com/archsentry/archsentry/services/analyzer/datatypes"
)

// ConnectorKind distinguishes the three edge styles of the diagram
// language.
type ConnectorKind int

const (
	ConnectorSolid ConnectorKind = iota
	ConnectorDashed
	ConnectorDotted
)

// Symbol returns the canonical textual symbol for the connector. Parsing
// is lenient about unknown symbols but serialization always emits these.
func (c ConnectorKind) Symbol() string {
	switch c {
	case ConnectorDashed:
		return "-->"
	case ConnectorDotted:
		return "..>"
	default:
		return "->"
	}
}

// connectorForSymbol maps the fixed symbols back to their kind.
var connectorForSymbol = map[string]ConnectorKind{
	"->":  ConnectorSolid,
	"-->": ConnectorDashed,
	"..>": ConnectorDotted,
}

// Node is a typed diagram node. Identity is the (service type, id) pair
// as written in the source text.
type Node struct {
	Type datatypes.ServiceType
	ID   string
}

// Edge is a directed connection between two nodes. Multiple edges
// between the same pair are permitted and distinct.
type Edge struct {
	From      Node
	To        Node
	Connector ConnectorKind
}

// Graph is an ordered sequence of edges. The node set is derived, not
// stored: edge order carries no meaning but is preserved so that
// re-serialization stays diff-stable.
type Graph struct {
	Edges []Edge
}

// Nodes returns the distinct nodes in first-appearance order.
func (g *Graph) Nodes() []Node {
	seen := make(map[string]bool)
	var nodes []Node
	for _, e := range g.Edges {
		for _, n := range []Node{e.From, e.To} {
			key := n.Type.ID + " " + n.ID
			if !seen[key] {
				seen[key] = true
				nodes = append(nodes, n)
			}
		}
	}
	return nodes
}

// NodeIDs returns the set of node ids present in the graph.
func (g *Graph) NodeIDs() map[string]bool {
	ids := make(map[string]bool)
	for _, e := range g.Edges {
		ids[e.From.ID] = true
		ids[e.To.ID] = true
	}
	return ids
}

// HasNodeID reports whether any node in the graph carries the given id.
func (g *Graph) HasNodeID(id string) bool {
	for _, e := range g.Edges {
		if e.From.ID == id || e.To.ID == id {
			return true
		}
	}
	return false
}

// ServiceTypes returns the distinct service types present in the graph,
// sorted by id for deterministic iteration.
func (g *Graph) ServiceTypes() []datatypes.ServiceType {
	seen := make(map[string]datatypes.ServiceType)
	for _, e := range g.Edges {
		seen[e.From.Type.ID] = e.From.Type
		seen[e.To.Type.ID] = e.To.Type
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]datatypes.ServiceType, 0, len(ids))
	for _, id := range ids {
		out = append(out, seen[id])
	}
	return out
}

// EdgesTouching returns the edges with either endpoint carrying the id.
func (g *Graph) EdgesTouching(id string) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.From.ID == id || e.To.ID == id {
			out = append(out, e)
		}
	}
	return out
}
