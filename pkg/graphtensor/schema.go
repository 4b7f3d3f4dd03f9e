// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graphtensor

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Well known feature names.
const (
	// HiddenState is the conventional name of the feature holding the state of a node set.
	HiddenState = "hidden_state"

	// ContextName is the key used for inputs coming from the graph context.
	ContextName = "context"
)

// IncidentNodeTag selects one of the two endpoints of an edge.
type IncidentNodeTag int

const (
	// Source endpoint of the edges.
	Source IncidentNodeTag = 0

	// Target endpoint of the edges.
	Target IncidentNodeTag = 1
)

// Reverse returns the other endpoint: Source for Target and vice versa.
func (t IncidentNodeTag) Reverse() IncidentNodeTag {
	switch t {
	case Source:
		return Target
	case Target:
		return Source
	}
	Panicf(ErrConfiguration, "invalid incident node tag %d", int(t))
	return t
}

// IsValid returns whether t is Source or Target.
func (t IncidentNodeTag) IsValid() bool {
	return t == Source || t == Target
}

func (t IncidentNodeTag) String() string {
	switch t {
	case Source:
		return "source"
	case Target:
		return "target"
	}
	return fmt.Sprintf("IncidentNodeTag(%d)", int(t))
}

// ParseIncidentNodeTag parses "source" or "target" (case insensitive).
func ParseIncidentNodeTag(s string) (IncidentNodeTag, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "source":
		return Source, nil
	case "target":
		return Target, nil
	}
	return Source, Errorf(ErrConfiguration, "invalid incident node tag %q, valid values are \"source\" or \"target\"", s)
}

// MarshalText implements encoding.TextMarshaler.
func (t IncidentNodeTag) MarshalText() ([]byte, error) {
	if !t.IsValid() {
		return nil, Errorf(ErrConfiguration, "invalid incident node tag %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *IncidentNodeTag) UnmarshalText(text []byte) error {
	tag, err := ParseIncidentNodeTag(string(text))
	if err != nil {
		return err
	}
	*t = tag
	return nil
}

// NodeSetSchema describes one node set: the width of each of its features.
type NodeSetSchema struct {
	Features map[string]int `json:"features,omitempty"`
}

// EdgeSetSchema describes one edge set: the node sets at each endpoint and the width of each of its features.
type EdgeSetSchema struct {
	Source   string         `json:"source"`
	Target   string         `json:"target"`
	Features map[string]int `json:"features,omitempty"`
}

// NodeSetName returns the name of the node set at the given endpoint.
func (e *EdgeSetSchema) NodeSetName(tag IncidentNodeTag) string {
	switch tag {
	case Source:
		return e.Source
	case Target:
		return e.Target
	}
	Panicf(ErrConfiguration, "invalid incident node tag %d", int(tag))
	return ""
}

// Schema describes the pieces of a heterogeneous graph: its node sets and edge sets.
//
// It is the static information used to assemble layers, before any graph data is seen.
type Schema struct {
	NodeSets map[string]*NodeSetSchema `json:"node_sets"`
	EdgeSets map[string]*EdgeSetSchema `json:"edge_sets"`
}

// NewSchema returns an empty schema, to be populated with AddNodeSet and AddEdgeSet.
func NewSchema() *Schema {
	return &Schema{
		NodeSets: make(map[string]*NodeSetSchema),
		EdgeSets: make(map[string]*EdgeSetSchema),
	}
}

// AddNodeSet adds a node set with the given feature widths (it can be nil). It returns the schema itself,
// so calls can be chained.
func (s *Schema) AddNodeSet(name string, features map[string]int) *Schema {
	if name == "" {
		Panicf(ErrConfiguration, "node set name cannot be empty")
	}
	if _, found := s.NodeSets[name]; found {
		Panicf(ErrConfiguration, "node set %q defined more than once", name)
	}
	s.NodeSets[name] = &NodeSetSchema{Features: maps.Clone(features)}
	return s
}

// AddEdgeSet adds an edge set connecting the source node set to the target node set.
// Both node sets must already have been added.
func (s *Schema) AddEdgeSet(name, source, target string, features map[string]int) *Schema {
	if name == "" {
		Panicf(ErrConfiguration, "edge set name cannot be empty")
	}
	if _, found := s.EdgeSets[name]; found {
		Panicf(ErrConfiguration, "edge set %q defined more than once", name)
	}
	for _, nodeSetName := range []string{source, target} {
		if _, found := s.NodeSets[nodeSetName]; !found {
			Panicf(ErrLookup, "edge set %q refers to unknown node set %q", name, nodeSetName)
		}
	}
	s.EdgeSets[name] = &EdgeSetSchema{Source: source, Target: target, Features: maps.Clone(features)}
	return s
}

// Validate checks that every edge set refers to existing node sets.
func (s *Schema) Validate() error {
	if s == nil {
		return Errorf(ErrConfiguration, "nil schema")
	}
	for _, name := range s.EdgeSetNames() {
		edgeSet := s.EdgeSets[name]
		if edgeSet == nil {
			return Errorf(ErrConfiguration, "edge set %q has no definition", name)
		}
		for _, tag := range []IncidentNodeTag{Source, Target} {
			nodeSetName := edgeSet.NodeSetName(tag)
			if _, found := s.NodeSets[nodeSetName]; !found {
				return Errorf(ErrLookup, "edge set %q %s refers to unknown node set %q", name, tag, nodeSetName)
			}
		}
	}
	return nil
}

// NodeSetNames returns the names of the node sets, sorted.
func (s *Schema) NodeSetNames() []string {
	return slices.Sorted(maps.Keys(s.NodeSets))
}

// EdgeSetNames returns the names of the edge sets, sorted.
func (s *Schema) EdgeSetNames() []string {
	return slices.Sorted(maps.Keys(s.EdgeSets))
}

// EdgeSet returns the schema of the named edge set.
func (s *Schema) EdgeSet(name string) (*EdgeSetSchema, error) {
	edgeSet, found := s.EdgeSets[name]
	if !found {
		return nil, Errorf(ErrLookup, "edge set %q not in schema (edge sets: %v)", name, s.EdgeSetNames())
	}
	return edgeSet, nil
}

// EdgeSetsInto returns the sorted names of the edge sets whose endpoint tag lands in nodeSetName.
func (s *Schema) EdgeSetsInto(nodeSetName string, tag IncidentNodeTag) []string {
	var names []string
	for _, name := range s.EdgeSetNames() {
		if s.EdgeSets[name].NodeSetName(tag) == nodeSetName {
			names = append(names, name)
		}
	}
	return names
}
