// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package nextstate defines the contract of the layers that compute the new state of a graph piece
// (an edge set, a node set or the context) in a GNN graph update, and two generic implementations:
// FromConcat and Residual.
//
// Every UpdateRule takes the same Inputs triple:
//
//   - Self: the features of the piece being updated (e.g. the old node state).
//   - Related: features already broadcast or pooled to the updated piece, keyed by the name of the
//     piece they came from. For a node set these are the results of the convolutions, keyed by edge set name.
//   - Context: same as Related for the remaining kind of input, usually keyed by graphtensor.ContextName.
package nextstate

import (
	"github.com/gomlx/gnn/internal/polymorphicjson"
	"github.com/gomlx/gnn/pkg/graphtensor"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// InterfaceName is the name UpdateRule implementations are registered under in polymorphicjson.
const InterfaceName = "UpdateRule"

// Inputs is the triple of inputs given to an UpdateRule.
type Inputs struct {
	Self    graphtensor.Fields
	Related map[string]graphtensor.Fields
	Context map[string]graphtensor.Fields
}

// Flatten returns all the input tensors in a deterministic order: Self first, then Related and Context
// in sorted key order. Features of named bags are taken in sorted name order.
func (in Inputs) Flatten() []*Node {
	nodes := in.Self.Flatten()
	nodes = append(nodes, graphtensor.FlattenMap(in.Related)...)
	nodes = append(nodes, graphtensor.FlattenMap(in.Context)...)
	return nodes
}

// UpdateRule computes the new features of a graph piece from its Inputs.
//
// Trainable parameters are created in the scope of ctx when first called, and reused afterwards.
// If training is true, dropout (if configured) is applied.
type UpdateRule interface {
	polymorphicjson.JSONIdentifiable

	// Validate the configuration, returning an error wrapping one of the graphtensor error kinds.
	Validate() error

	// Apply the update rule, returning the new features.
	Apply(ctx *context.Context, inputs Inputs, training bool) graphtensor.Fields
}

// Transformation is a trainable transformation of a tensor shaped [batch, features], used by FromConcat
// and Residual.
type Transformation interface {
	polymorphicjson.JSONIdentifiable

	// Validate the configuration.
	Validate() error

	// Transform x.
	Transform(ctx *context.Context, x *Node, training bool) *Node
}

// TransformationInterfaceName is the name Transformation implementations are registered under in polymorphicjson.
const TransformationInterfaceName = "Transformation"

// concatInputs concatenates all inputs on the feature axis.
func concatInputs(inputs Inputs) *Node {
	nodes := inputs.Flatten()
	if len(nodes) == 0 {
		graphtensor.Panicf(graphtensor.ErrLookup, "no inputs given to the next state")
	}
	batchSize := nodes[0].Shape().Dimensions[0]
	for _, x := range nodes {
		if x.Rank() != 2 || x.Shape().Dimensions[0] != batchSize {
			graphtensor.Panicf(graphtensor.ErrShape,
				"next state inputs must all be shaped [%d, features], got %s", batchSize, x.Shape())
		}
	}
	if len(nodes) == 1 {
		return nodes[0]
	}
	return Concatenate(nodes, -1)
}
