// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graphtensor

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"k8s.io/klog/v2"
)

// Broadcast replicates the per-node value of the node set at the tag endpoint of the edge set
// to each of its edges.
//
// value must be shaped [numNodes, ...], and the result is shaped [numEdges, ...].
func Broadcast(gt *GraphTensor, edgeSetName string, tag IncidentNodeTag, value *Node) *Node {
	edgeSchema, err := gt.Schema.EdgeSet(edgeSetName)
	if err != nil {
		panic(err)
	}
	nodeSetName := edgeSchema.NodeSetName(tag)
	numNodes := gt.NodeSet(nodeSetName).Size
	if value.Rank() < 1 || value.Shape().Dimensions[0] != numNodes {
		Panicf(ErrShape, "Broadcast(edge set %q, %s): value must be shaped [%d, ...] for node set %q, got %s",
			edgeSetName, tag, numNodes, nodeSetName, value.Shape())
	}
	edgeSet := gt.EdgeSet(edgeSetName)
	indices := ExpandAxes(edgeSet.Adjacency(tag), -1)
	klog.V(2).Infof("Broadcast(edge set %q, %s): %s -> %d edges", edgeSetName, tag, value.Shape(), edgeSet.Size)
	return Gather(value, indices)
}

// Pool reduces the per-edge value of the edge set to the nodes at the tag endpoint, using the
// reduction registered under reduceType (see RegisterReduceOp).
//
// value must be shaped [numEdges, ...], and the result is shaped [numNodes, ...].
// It panics with ErrConfiguration if reduceType is not registered.
func Pool(gt *GraphTensor, edgeSetName string, tag IncidentNodeTag, reduceType string, value *Node) *Node {
	op, err := GetReduceOp(reduceType)
	if err != nil {
		panic(err)
	}
	edgeSchema, err := gt.Schema.EdgeSet(edgeSetName)
	if err != nil {
		panic(err)
	}
	nodeSetName := edgeSchema.NodeSetName(tag)
	numNodes := gt.NodeSet(nodeSetName).Size
	edgeSet := gt.EdgeSet(edgeSetName)
	if value.Rank() < 1 || value.Shape().Dimensions[0] != edgeSet.Size {
		Panicf(ErrShape, "Pool(edge set %q, %s): value must be shaped [%d, ...], got %s",
			edgeSetName, tag, edgeSet.Size, value.Shape())
	}
	klog.V(2).Infof("Pool(edge set %q, %s, %q): %s -> %d nodes of %q",
		edgeSetName, tag, reduceType, value.Shape(), numNodes, nodeSetName)
	return op(value, edgeSet.Adjacency(tag), numNodes)
}
