// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graphtensor

import (
	"maps"
	"slices"
	"sync"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"k8s.io/klog/v2"
)

// ReduceOp reduces per-edge values to the receiving nodes.
//
//   - values: shaped [numEdges, ...], one entry per edge.
//   - receivers: integer indices shaped [numEdges], the receiving node of each edge.
//   - numReceivers: number of receiving nodes.
//
// It returns a tensor shaped [numReceivers, ...]. Receivers with no edges get the identity of the
// reduction, or zero for the reductions that define one for empty sets.
type ReduceOp func(values, receivers *Node, numReceivers int) *Node

// Names of the reductions registered by default.
const (
	ReduceTypeSum      = "sum"
	ReduceTypeMean     = "mean"
	ReduceTypeMax      = "max"
	ReduceTypeMaxNoInf = "max_no_inf"
	ReduceTypeMin      = "min"
	ReduceTypeMinNoInf = "min_no_inf"
)

var (
	reduceOpsMu sync.RWMutex
	reduceOps   = map[string]ReduceOp{
		ReduceTypeSum:      reduceSum,
		ReduceTypeMean:     reduceMean,
		ReduceTypeMax:      reduceMax,
		ReduceTypeMaxNoInf: reduceMaxNoInf,
		ReduceTypeMin:      reduceMin,
		ReduceTypeMinNoInf: reduceMinNoInf,
	}
)

// RegisterReduceOp registers a new reduction under the given name, to be used by Pool.
//
// It is meant to be called during initialization (e.g. from an init function), and it panics if the
// name is already registered.
func RegisterReduceOp(name string, op ReduceOp) {
	reduceOpsMu.Lock()
	defer reduceOpsMu.Unlock()
	if _, found := reduceOps[name]; found {
		Panicf(ErrConfiguration, "reduce operation %q already registered", name)
	}
	reduceOps[name] = op
	klog.V(1).Infof("graphtensor: registered reduce operation %q", name)
}

// GetReduceOp returns the reduction registered under name.
func GetReduceOp(name string) (ReduceOp, error) {
	reduceOpsMu.RLock()
	defer reduceOpsMu.RUnlock()
	op, found := reduceOps[name]
	if !found {
		return nil, Errorf(ErrConfiguration, "unknown reduce type %q, registered reduce types are %v",
			name, slices.Sorted(maps.Keys(reduceOps)))
	}
	return op, nil
}

// IsReduceOpRegistered returns whether there is a reduction registered under name.
func IsReduceOpRegistered(name string) bool {
	_, err := GetReduceOp(name)
	return err == nil
}

// ReduceOpNames returns the sorted names of the registered reductions.
func ReduceOpNames() []string {
	reduceOpsMu.RLock()
	defer reduceOpsMu.RUnlock()
	return slices.Sorted(maps.Keys(reduceOps))
}

// receiverIndices converts receivers to the [numEdges, 1] shape used by the scatter operations.
func receiverIndices(values, receivers *Node) *Node {
	if receivers.Rank() != 1 {
		Panicf(ErrShape, "receiver indices must be shaped [num_edges], got %s", receivers.Shape())
	}
	if values.Rank() < 1 || values.Shape().Dimensions[0] != receivers.Shape().Dimensions[0] {
		Panicf(ErrShape, "values to pool must be shaped [num_edges=%d, ...], got %s",
			receivers.Shape().Dimensions[0], values.Shape())
	}
	return ExpandAxes(receivers, -1)
}

// pooledShape is the output shape: values with the edge axis replaced by numReceivers.
func pooledShape(values *Node, numReceivers int) shapes.Shape {
	shape := values.Shape().Clone()
	shape.Dimensions[0] = numReceivers
	return shape
}

func reduceSum(values, receivers *Node, numReceivers int) *Node {
	indices := receiverIndices(values, receivers)
	return ScatterSum(Zeros(values.Graph(), pooledShape(values, numReceivers)), indices, values, false, false)
}

// edgeCounts returns the number of edges per receiver, shaped [numReceivers], with the dtype of values.
func edgeCounts(values, receivers *Node, numReceivers int) *Node {
	g := values.Graph()
	indices := receiverIndices(values, receivers)
	numEdges := receivers.Shape().Dimensions[0]
	ones := Ones(g, shapes.Make(values.DType(), numEdges))
	return ScatterSum(Zeros(g, shapes.Make(values.DType(), numReceivers)), indices, ones, false, false)
}

// broadcastCounts reshapes counts [numReceivers] so it broadcasts with a pooled tensor.
func broadcastCounts(counts, pooled *Node) *Node {
	dims := make([]int, pooled.Rank())
	for ii := range dims {
		dims[ii] = 1
	}
	dims[0] = pooled.Shape().Dimensions[0]
	return Reshape(counts, dims...)
}

// reduceMean divides the sum by the number of edges; receivers with no edges get 0.
func reduceMean(values, receivers *Node, numReceivers int) *Node {
	sum := reduceSum(values, receivers, numReceivers)
	counts := edgeCounts(values, receivers, numReceivers)
	counts = MaxScalar(counts, 1)
	return Div(sum, broadcastCounts(counts, sum))
}

func reduceExtreme(values, receivers *Node, numReceivers int, isMax bool) *Node {
	g := values.Graph()
	indices := receiverIndices(values, receivers)
	shape := pooledShape(values, numReceivers)
	if isMax {
		init := BroadcastToShape(Infinity(g, values.DType(), -1), shape)
		return ScatterMax(init, indices, values, false, false)
	}
	init := BroadcastToShape(Infinity(g, values.DType(), 1), shape)
	return ScatterMin(init, indices, values, false, false)
}

// noInf replaces the result for receivers with no edges by 0.
func noInf(pooled, values, receivers *Node, numReceivers int) *Node {
	counts := edgeCounts(values, receivers, numReceivers)
	hasEdges := GreaterThan(counts, ScalarZero(values.Graph(), counts.DType()))
	return Where(hasEdges, pooled, ZerosLike(pooled))
}

// reduceMax has -inf as the result for receivers with no edges.
func reduceMax(values, receivers *Node, numReceivers int) *Node {
	return reduceExtreme(values, receivers, numReceivers, true)
}

func reduceMaxNoInf(values, receivers *Node, numReceivers int) *Node {
	return noInf(reduceExtreme(values, receivers, numReceivers, true), values, receivers, numReceivers)
}

// reduceMin has +inf as the result for receivers with no edges.
func reduceMin(values, receivers *Node, numReceivers int) *Node {
	return reduceExtreme(values, receivers, numReceivers, false)
}

func reduceMinNoInf(values, receivers *Node, numReceivers int) *Node {
	return noInf(reduceExtreme(values, receivers, numReceivers, false), values, receivers, numReceivers)
}
