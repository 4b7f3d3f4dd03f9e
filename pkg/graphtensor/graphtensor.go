// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graphtensor holds the data of a heterogeneous graph inside a GoMLX computation graph,
// and the broadcast and pool operations that move features between nodes and edges.
//
// The static description of the graph is a Schema. A GraphTensor binds a Schema to actual
// tensors (*graph.Node) for one batch: the size and features of each node set, the adjacency
// (source and target indices) of each edge set and the context features.
//
// Example:
//
//	schema := graphtensor.NewSchema().
//		AddNodeSet("paper", nil).
//		AddEdgeSet("cites", "paper", "paper", nil)
//	gt := graphtensor.New(schema).
//		SetNodeSet("paper", 3, map[string]*Node{graphtensor.HiddenState: x}).
//		SetEdgeSet("cites", source, target, nil)
//	pooled := graphtensor.Pool(gt, "cites", graphtensor.Target, graphtensor.ReduceTypeMean,
//		graphtensor.Broadcast(gt, "cites", graphtensor.Source, x))
package graphtensor

import (
	"maps"

	. "github.com/gomlx/gomlx/pkg/core/graph"
)

// NodeSet holds the data of one node set.
type NodeSet struct {
	// Size is the number of nodes in the batch.
	Size int

	// Features are tensors shaped [Size, ...].
	Features map[string]*Node
}

// EdgeSet holds the data of one edge set.
type EdgeSet struct {
	// Size is the number of edges in the batch.
	Size int

	// Source and Target are integer indices shaped [Size], pointing to the nodes of
	// the source and target node sets.
	Source, Target *Node

	// Features are tensors shaped [Size, ...].
	Features map[string]*Node
}

// Adjacency returns the indices of the nodes at the given endpoint.
func (e *EdgeSet) Adjacency(tag IncidentNodeTag) *Node {
	switch tag {
	case Source:
		return e.Source
	case Target:
		return e.Target
	}
	Panicf(ErrConfiguration, "invalid incident node tag %d", int(tag))
	return nil
}

// GraphTensor binds a Schema to the tensors of one batch.
//
// It is treated as immutable once built: updates return a new GraphTensor sharing the unchanged parts.
type GraphTensor struct {
	Schema   *Schema
	NodeSets map[string]*NodeSet
	EdgeSets map[string]*EdgeSet

	// Context features, shaped [1, ...] for a single graph.
	Context map[string]*Node
}

// New creates an empty GraphTensor for the schema. Use SetNodeSet and SetEdgeSet to populate it.
func New(schema *Schema) *GraphTensor {
	if err := schema.Validate(); err != nil {
		panic(err)
	}
	return &GraphTensor{
		Schema:   schema,
		NodeSets: make(map[string]*NodeSet),
		EdgeSets: make(map[string]*EdgeSet),
		Context:  make(map[string]*Node),
	}
}

// SetNodeSet sets the size and features of the named node set. Features must be shaped [size, ...].
// It returns the GraphTensor itself, so calls can be chained.
func (gt *GraphTensor) SetNodeSet(name string, size int, features map[string]*Node) *GraphTensor {
	if _, found := gt.Schema.NodeSets[name]; !found {
		Panicf(ErrLookup, "node set %q not in schema (node sets: %v)", name, gt.Schema.NodeSetNames())
	}
	if size < 0 {
		Panicf(ErrShape, "node set %q size must be >= 0, got %d", name, size)
	}
	for featureName, x := range features {
		checkLeadingDim(x, size, "node set", name, featureName)
	}
	gt.NodeSets[name] = &NodeSet{Size: size, Features: maps.Clone(features)}
	return gt
}

// SetEdgeSet sets the adjacency and features of the named edge set.
// The source and target indices must be integer tensors with the same shape [numEdges].
// It returns the GraphTensor itself, so calls can be chained.
func (gt *GraphTensor) SetEdgeSet(name string, source, target *Node, features map[string]*Node) *GraphTensor {
	if _, found := gt.Schema.EdgeSets[name]; !found {
		Panicf(ErrLookup, "edge set %q not in schema (edge sets: %v)", name, gt.Schema.EdgeSetNames())
	}
	for _, indices := range []*Node{source, target} {
		if indices.Rank() != 1 || !indices.DType().IsInt() {
			Panicf(ErrShape, "edge set %q adjacency must be integer indices shaped [num_edges], got %s",
				name, indices.Shape())
		}
	}
	if !source.Shape().Equal(target.Shape()) {
		Panicf(ErrShape, "edge set %q source (%s) and target (%s) indices must have the same shape",
			name, source.Shape(), target.Shape())
	}
	size := source.Shape().Dimensions[0]
	for featureName, x := range features {
		checkLeadingDim(x, size, "edge set", name, featureName)
	}
	gt.EdgeSets[name] = &EdgeSet{Size: size, Source: source, Target: target, Features: maps.Clone(features)}
	return gt
}

// SetContext sets a context feature.
func (gt *GraphTensor) SetContext(featureName string, x *Node) *GraphTensor {
	gt.Context[featureName] = x
	return gt
}

func checkLeadingDim(x *Node, size int, kind, name, featureName string) {
	if x.Rank() < 1 || x.Shape().Dimensions[0] != size {
		Panicf(ErrShape, "%s %q feature %q must be shaped [%d, ...], got %s", kind, name, featureName, size, x.Shape())
	}
}

// NodeSet returns the named node set. It panics with ErrLookup if it was not set.
func (gt *GraphTensor) NodeSet(name string) *NodeSet {
	nodeSet, found := gt.NodeSets[name]
	if !found {
		Panicf(ErrLookup, "node set %q has no data in the graph tensor", name)
	}
	return nodeSet
}

// EdgeSet returns the named edge set. It panics with ErrLookup if it was not set.
func (gt *GraphTensor) EdgeSet(name string) *EdgeSet {
	edgeSet, found := gt.EdgeSets[name]
	if !found {
		Panicf(ErrLookup, "edge set %q has no data in the graph tensor", name)
	}
	return edgeSet
}

// NodeFeature returns the named feature of a node set. It panics with ErrLookup if it is missing.
func (gt *GraphTensor) NodeFeature(nodeSetName, featureName string) *Node {
	nodeSet := gt.NodeSet(nodeSetName)
	x, found := nodeSet.Features[featureName]
	if !found {
		Panicf(ErrLookup, "node set %q has no feature %q", nodeSetName, featureName)
	}
	return x
}

// Graph returns the computation graph the tensors belong to, or nil if the GraphTensor has no tensors.
func (gt *GraphTensor) Graph() *Graph {
	for _, nodeSet := range gt.NodeSets {
		for _, x := range nodeSet.Features {
			return x.Graph()
		}
	}
	for _, edgeSet := range gt.EdgeSets {
		return edgeSet.Source.Graph()
	}
	return nil
}

// ReplaceNodeFeatures returns a new GraphTensor where the features of the given node sets are replaced.
// Node sets not listed, edge sets and context are shared with gt, which is left unchanged.
func (gt *GraphTensor) ReplaceNodeFeatures(features map[string]map[string]*Node) *GraphTensor {
	newGT := &GraphTensor{
		Schema:   gt.Schema,
		NodeSets: maps.Clone(gt.NodeSets),
		EdgeSets: gt.EdgeSets,
		Context:  gt.Context,
	}
	for name, nodeFeatures := range features {
		size := gt.NodeSet(name).Size
		for featureName, x := range nodeFeatures {
			checkLeadingDim(x, size, "node set", name, featureName)
		}
		newGT.NodeSets[name] = &NodeSet{Size: size, Features: maps.Clone(nodeFeatures)}
	}
	return newGT
}
