// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/gomlx/gnn/pkg/graphtensor"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"k8s.io/klog/v2"
)

// randomGraph creates a graph tensor for schema with numNodes in every node set and numEdges in every
// edge set, connecting uniformly sampled nodes. Node features are sampled from a normal distribution,
// with the widths given by the schema. Edge features are not generated.
func randomGraph(ctx *context.Context, g *Graph, schema *graphtensor.Schema, numNodes, numEdges int) *graphtensor.GraphTensor {
	gt := graphtensor.New(schema)
	for _, name := range schema.NodeSetNames() {
		features := make(map[string]*Node, len(schema.NodeSets[name].Features))
		for featureName, width := range schema.NodeSets[name].Features {
			features[featureName] = ctx.RandomNormal(g, shapes.Make(dtypes.Float32, numNodes, width))
		}
		gt.SetNodeSet(name, numNodes, features)
	}
	for _, name := range schema.EdgeSetNames() {
		if len(schema.EdgeSets[name].Features) > 0 {
			klog.Warningf("edge set %q: edge features are not generated", name)
		}
		indicesShape := shapes.Make(dtypes.Int32, numEdges)
		gt.SetEdgeSet(name, ctx.RandomIntN(g, numNodes, indicesShape), ctx.RandomIntN(g, numNodes, indicesShape), nil)
	}
	return gt
}
